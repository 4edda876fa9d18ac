// Package bridge adapts the inode-ID, kernel-protocol-shaped
// fuseutil.FileSystem interface onto rfs.Core's path-shaped operation
// layer. It is the one place in the module allowed to think in terms of
// fuseops.InodeID, fuse.HandleID and negative-errno-to-syscall.Errno
// translation; everything else talks to rfs.Core directly.
package bridge

import (
	"context"
	"os"
	"path"
	"syscall"

	"github.com/aln0/rocksfuse/internal/codec"
	"github.com/aln0/rocksfuse/internal/errno"
	"github.com/aln0/rocksfuse/rfs"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/sirupsen/logrus"
)

// FS implements fuseutil.FileSystem over an rfs.Core. Unimplemented
// operations (symlinks, hard links, xattrs, Fallocate — all Non-goals per
// spec.md §1) fall through to the embedded NotImplementedFileSystem, which
// answers ENOSYS.
type FS struct {
	fuseutil.NotImplementedFileSystem

	core   *rfs.Core
	inodes *inodeMap
	log    logrus.FieldLogger
	direct bool
}

// New wraps core for serving over FUSE. direct forces every open/create to
// bypass the inode cache, per spec.md §4.4's direct-I/O bypass.
func New(core *rfs.Core, direct bool, log logrus.FieldLogger) *FS {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FS{core: core, inodes: newInodeMap(), log: log, direct: direct}
}

// StatFS answers the one call every mount needs regardless of whether the
// file system otherwise cares about space accounting (cf. mount_test.go's
// minimalFS in the jacobsa/fuse corpus: a file system that implements
// nothing else must still answer this to mount successfully).
func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return nil
}

// toErrno converts one of rfs.Core's negative-POSIX-errno ints into the
// syscall.Errno the fuseops machinery expects back from a FileSystem
// method. A zero return becomes a nil error.
func toErrno(rc int) error {
	if rc == errno.OK {
		return nil
	}
	return syscall.Errno(-rc)
}

func (fs *FS) pathOf(id fuseops.InodeID) (string, error) {
	p, ok := fs.inodes.ToPath(id)
	if !ok {
		return "", syscall.ENOENT
	}
	return p, nil
}

func childPath(parent string, name string) string {
	return path.Join(parent, name)
}

func toAttrs(a rfs.Attr) fuseops.InodeAttributes {
	mode := os.FileMode(0777)
	if a.FType == codec.Dir {
		mode |= os.ModeDir
	}
	return fuseops.InodeAttributes{
		Size:   a.Size,
		Nlink:  1,
		Mode:   mode,
		Atime:  a.Mtime,
		Mtime:  a.Mtime,
		Ctime:  a.Ctime,
		Crtime: a.Ctime,
		Uid:    uint32(os.Getuid()),
		Gid:    uint32(os.Getgid()),
	}
}

func (fs *FS) entryFor(path string, id fuseops.InodeID, attr rfs.Attr) fuseops.ChildInodeEntry {
	fs.inodes.Associate(id, path)
	return fuseops.ChildInodeEntry{
		Child:      id,
		Generation: 1,
		Attributes: toAttrs(attr),
	}
}

// LookUpInode resolves a (parent inode, child name) pair, the FUSE
// equivalent of the core's path-based lookups composed with Getattr.
func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parentPath, err := fs.pathOf(op.Parent)
	if err != nil {
		return err
	}
	attr, rc := fs.core.Getattr(childPath(parentPath, op.Name))
	if rc != errno.OK {
		return toErrno(rc)
	}
	op.Entry = fs.entryFor(childPath(parentPath, op.Name), fuseops.InodeID(attr.Ino), attr)
	return nil
}

// GetInodeAttributes refreshes attributes for a previously looked-up inode.
func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	p, err := fs.pathOf(op.Inode)
	if err != nil {
		return err
	}
	attr, rc := fs.core.Getattr(p)
	if rc != errno.OK {
		return toErrno(rc)
	}
	op.Attributes = toAttrs(attr)
	return nil
}

// SetInodeAttributes is the chmod/truncate/utimens path. Only Size is
// meaningful to this core (SetTimes is a silent success per spec.md §4.5;
// mode bits are fixed at 0777).
func (fs *FS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	p, err := fs.pathOf(op.Inode)
	if err != nil {
		return err
	}
	if op.Size != nil {
		if rc := fs.core.TruncatePath(p, int64(*op.Size)); rc != errno.OK {
			return toErrno(rc)
		}
	}
	if op.Atime != nil || op.Mtime != nil {
		if rc := fs.core.SetTimes(p); rc != errno.OK {
			return toErrno(rc)
		}
	}
	attr, rc := fs.core.Getattr(p)
	if rc != errno.OK {
		return toErrno(rc)
	}
	op.Attributes = toAttrs(attr)
	return nil
}

// ForgetInode balances one or more prior LookUpInode/MkDir/CreateFile
// replies, dropping the path association once the kernel's reference count
// for the inode reaches zero.
func (fs *FS) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.inodes.Forget(op.ID, op.N)
	return nil
}

// MkDir creates a directory entry under the resolved parent.
func (fs *FS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	parentPath, err := fs.pathOf(op.Parent)
	if err != nil {
		return err
	}
	p := childPath(parentPath, op.Name)
	ino, rc := fs.core.Mkdir(p)
	if rc != errno.OK {
		return toErrno(rc)
	}
	attr, rc := fs.core.Getattr(p)
	if rc != errno.OK {
		return toErrno(rc)
	}
	op.Entry = fs.entryFor(p, fuseops.InodeID(ino), attr)
	return nil
}

// CreateFile creates and opens a regular file in one step.
func (fs *FS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	parentPath, err := fs.pathOf(op.Parent)
	if err != nil {
		return err
	}
	p := childPath(parentPath, op.Name)
	ino, rc := fs.core.Create(p, fs.direct)
	if rc != errno.OK {
		return toErrno(rc)
	}
	attr, rc := fs.core.Getattr(p)
	if rc != errno.OK {
		return toErrno(rc)
	}
	op.Entry = fs.entryFor(p, fuseops.InodeID(ino), attr)
	op.Handle = fuseops.HandleID(ino)
	return nil
}

// RmDir removes a directory entry together with its whole subtree.
func (fs *FS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	parentPath, err := fs.pathOf(op.Parent)
	if err != nil {
		return err
	}
	return toErrno(fs.core.Rmdir(childPath(parentPath, op.Name)))
}

// Unlink removes a regular-file directory entry.
func (fs *FS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	parentPath, err := fs.pathOf(op.Parent)
	if err != nil {
		return err
	}
	return toErrno(fs.core.Unlink(childPath(parentPath, op.Name)))
}

// Rename moves oldParent/OldName to newParent/NewName. Unlike the rest of
// this bridge, this method is not part of the upstream fuseutil.FileSystem
// interface in every jacobsa/fuse release; it is wired here against
// fuseops.RenameOp so the mount binary exercises rfs.Core.Rename whenever
// the linked jacobsa/fuse build supports it.
func (fs *FS) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	oldParentPath, err := fs.pathOf(op.OldParent)
	if err != nil {
		return err
	}
	newParentPath, err := fs.pathOf(op.NewParent)
	if err != nil {
		return err
	}
	oldPath := childPath(oldParentPath, op.OldName)
	newPath := childPath(newParentPath, op.NewName)
	rc := fs.core.Rename(oldPath, newPath)
	if rc != errno.OK {
		return toErrno(rc)
	}
	for id, p := range fs.inodes.snapshot() {
		if p == oldPath {
			fs.inodes.Rename(id, newPath)
		}
	}
	return nil
}

// OpenDir admits a directory to the inode cache under its canonical path.
func (fs *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	p, err := fs.pathOf(op.Inode)
	if err != nil {
		return err
	}
	fh, rc := fs.core.Opendir(p)
	if rc != errno.OK {
		return toErrno(rc)
	}
	op.Handle = fuseops.HandleID(fh)
	return nil
}

// ReadDir serializes one page of directory entries starting at op.Offset,
// writing into op.Dst and advancing op.BytesRead as each entry fits.
func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	rc := fs.core.Readdir(uint64(op.Handle), int(op.Offset), func(e rfs.DirEntry) bool {
		entryType := fuseutil.DT_File
		if e.Attr.FType == codec.Dir {
			entryType = fuseutil.DT_Directory
		}
		de := fuseutil.Dirent{
			Offset: fuseops.DirOffset(e.Index),
			Inode:  fuseops.InodeID(e.Attr.Ino),
			Name:   e.Name,
			Type:   entryType,
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], de)
		if n == 0 {
			return true
		}
		op.BytesRead += n
		return op.BytesRead >= len(op.Dst)
	})
	if rc != errno.OK {
		return toErrno(rc)
	}
	return nil
}

// ReleaseDirHandle releases a directory handle opened by OpenDir.
func (fs *FS) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return toErrno(fs.core.Releasedir(uint64(op.Handle)))
}

// OpenFile admits a regular file to the inode cache (or, in direct mode,
// records a direct handle instead).
func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	p, err := fs.pathOf(op.Inode)
	if err != nil {
		return err
	}
	fh, rc := fs.core.Open(p, fs.direct)
	if rc != errno.OK {
		return toErrno(rc)
	}
	op.Handle = fuseops.HandleID(fh)
	return nil
}

// ReadFile copies up to op.Size bytes at op.Offset into op.Data.
func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	buf := make([]byte, op.Size)
	n, rc := fs.core.Read(uint64(op.Handle), buf, op.Offset)
	if rc != errno.OK {
		return toErrno(rc)
	}
	op.Data = buf[:n]
	return nil
}

// WriteFile splices op.Data into the open file at op.Offset.
func (fs *FS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	_, rc := fs.core.Write(uint64(op.Handle), op.Data, op.Offset)
	return toErrno(rc)
}

// SyncFile is the fsync(2) path.
func (fs *FS) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return toErrno(fs.core.Fsync(uint64(op.Handle)))
}

// FlushFile mirrors SyncFile for the close(2)-time flush; this core has no
// separate flush-vs-sync distinction since every mutating call already
// applies directly to the shared buffer.
func (fs *FS) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return toErrno(fs.core.Fsync(uint64(op.Handle)))
}

// ReleaseFileHandle releases a file handle opened by OpenFile or CreateFile.
func (fs *FS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return toErrno(fs.core.Release(uint64(op.Handle)))
}

// snapshot is test/rename support: a point-in-time copy of the path map.
func (m *inodeMap) snapshot() map[fuseops.InodeID]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[fuseops.InodeID]string, len(m.paths))
	for k, v := range m.paths {
		out[k] = v
	}
	return out
}
