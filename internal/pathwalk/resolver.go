// Package pathwalk resolves slash-separated paths against the directory
// tree, one component at a time, starting from the root inode.
package pathwalk

import (
	"strings"

	"github.com/aln0/rocksfuse/internal/codec"
	"github.com/aln0/rocksfuse/internal/inode"
	"github.com/pkg/errors"
)

// InodeSource is the narrow read interface the resolver needs. Callers
// typically implement it by checking the inode cache first and falling
// back to the KV store, so that resolution sees in-flight mutations.
type InodeSource interface {
	ReadInode(ino uint64) (*inode.Buffer, error)
}

// Handle is a resolved path position: a synthetic dentry describing the
// last component that was (or failed to be) consumed, plus the inode
// buffer loaded for it.
type Handle struct {
	Ino   uint64
	FType codec.FileType
	Name  string
	Buf   *inode.Buffer
}

// Lookup walks path from the root inode, one "/"-separated component at a
// time. It returns found=false (with no error) as soon as a component is
// missing or a non-directory is encountered mid-path; the returned Handle
// still describes the last inode successfully reached. A non-nil error
// indicates an inode read failed partway through the walk — a distinct,
// EIO-class condition that callers must not confuse with "not found".
func Lookup(src InodeSource, path string) (*Handle, bool, error) {
	rootBuf, err := src.ReadInode(codec.RootIno)
	if err != nil {
		return nil, false, errors.Wrapf(err, "pathwalk: read root inode")
	}

	h := &Handle{
		Ino:   codec.RootIno,
		FType: codec.Dir,
		Name:  "/",
		Buf:   rootBuf,
	}

	if path == "/" {
		return h, true, nil
	}

	for _, component := range strings.Split(path, "/") {
		if component == "" {
			continue
		}

		if h.FType != codec.Dir {
			return h, false, nil
		}

		d, _, found := FindDentryIndex(h.Buf, component)
		if !found {
			return h, false, nil
		}

		childBuf, err := src.ReadInode(d.Ino)
		if err != nil {
			return nil, false, errors.Wrapf(err, "pathwalk: read inode %d for %q", d.Ino, component)
		}

		h = &Handle{
			Ino:   d.Ino,
			FType: d.FType,
			Name:  d.Name,
			Buf:   childBuf,
		}
	}

	return h, true, nil
}

// FindDentryIndex scans buf's entries linearly for an exact, case-sensitive
// name match, returning its index so callers (mknod, unlink, rename, ...)
// can drop/overwrite it in-place without a second scan.
func FindDentryIndex(buf *inode.Buffer, name string) (codec.Dentry, int, bool) {
	n := buf.DentryCount()
	for i := 0; i < n; i++ {
		d, err := buf.DentryAt(i)
		if err != nil {
			// DentryCount and DentryAt agree on bounds; this cannot happen
			// outside of a corrupt buffer, which the caller cannot repair.
			break
		}
		if d.Name == name {
			return d, i, true
		}
	}
	return codec.Dentry{}, -1, false
}

// ParentPath splits path into the directory containing its final
// component and the index at which the final component's name starts.
// Matches the original implementation: for a single-level path such as
// "/foo" the parent is "/" and the name starts at index 1; otherwise the
// parent is the substring up to (not including) the last "/" and the name
// starts just after it.
func ParentPath(path string) (parent string, nameStart int) {
	li := strings.LastIndex(path, "/")
	if li <= 0 {
		return "/", li + 1
	}
	return path[:li], li + 1
}
