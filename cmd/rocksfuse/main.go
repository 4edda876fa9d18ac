// Command rocksfuse mounts a rocksfuse filesystem at a directory, serving
// it until interrupted. It mirrors entry.cpp's option table (--dbpath,
// --help) and init/destroy lifecycle (connect, mount, serve, close).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aln0/rocksfuse/internal/bridge"
	"github.com/aln0/rocksfuse/rfs"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		dbpath = flag.String("dbpath", "./db", `Path to save the key-value store's persistent files`)
		direct = flag.Bool("direct-io", false, "Bypass the inode cache, re-resolving and persisting every call")
		help   = flag.Bool("help", false, "Print the options and exit")
	)
	flag.CommandLine.Init(os.Args[0], flag.ContinueOnError)
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}

	if *help {
		flag.Usage()
		return 0
	}
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: rocksfuse [flags] <mountpoint>")
		return 1
	}
	mountpoint := flag.Arg(0)

	log := logrus.StandardLogger()

	core, err := rfs.Connect(*dbpath, timeutil.RealClock(), log)
	if err != nil {
		log.WithError(err).Error("rocksfuse: connect failed")
		return 1
	}
	if err := core.Mount(); err != nil {
		log.WithError(err).Error("rocksfuse: mount failed")
		return 1
	}

	fs := bridge.New(core, *direct, log)
	mfs, err := fuse.Mount(mountpoint, fuseutil.NewFileSystemServer(fs), &fuse.MountConfig{})
	if err != nil {
		log.WithError(err).Error("rocksfuse: fuse.Mount failed")
		core.Close()
		return 1
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Info("rocksfuse: signal received, unmounting")
		fuse.Unmount(mountpoint)
	}()

	if err := mfs.Join(context.Background()); err != nil {
		log.WithError(err).Error("rocksfuse: serve loop exited with error")
	}

	if err := core.Close(); err != nil {
		log.WithError(err).Error("rocksfuse: close failed")
		return 1
	}
	return 0
}
