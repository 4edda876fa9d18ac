package rfs

import (
	"github.com/aln0/rocksfuse/internal/codec"
	"github.com/aln0/rocksfuse/internal/errno"
	"github.com/aln0/rocksfuse/internal/inode"
	"github.com/aln0/rocksfuse/internal/pathwalk"
)

// Getattr resolves path and returns its attributes, or -ENOENT if missing.
func (c *Core) Getattr(path string) (Attr, int) {
	h, found, err := c.resolve(path)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Error("getattr: resolve failed")
		return Attr{}, errno.EIO
	}
	if !found {
		return Attr{}, errno.ENOENT
	}
	return attrOf(h.Ino, h.FType, h.Buf), errno.OK
}

// Mknod creates a new directory entry of the given type under path's
// parent, allocating and persisting an empty inode for it.
func (c *Core) Mknod(path string, ftype codec.FileType) (uint64, int) {
	parentPath, nameStart := pathwalk.ParentPath(path)
	name := codec.TruncateName(path[nameStart:])

	ph, found, err := c.resolve(parentPath)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Error("mknod: resolve parent failed")
		return 0, errno.EIO
	}
	if !found {
		return 0, errno.ENOENT
	}
	if ph.FType != codec.Dir {
		return 0, errno.ENOTDIR
	}
	if _, _, exists := pathwalk.FindDentryIndex(ph.Buf, name); exists {
		return 0, errno.EEXIST
	}

	ino, err := c.allocIno()
	if err != nil {
		c.log.WithError(err).Error("mknod: ino allocation failed")
		return 0, errno.EIO
	}

	empty := inode.New(c.clock)
	if err := c.persistInode(ino, empty); err != nil {
		c.log.WithError(err).WithField("ino", ino).Error("mknod: persist new inode failed")
		return 0, errno.ENOSPC
	}

	ph.Buf.AppendDentry(codec.Dentry{Ino: ino, FType: ftype, Name: name})
	ph.Buf.Touch(c.clock)
	if err := c.persistParentOrDefer(ph.Ino, ph.Buf); err != nil {
		c.log.WithError(err).WithField("parent_ino", ph.Ino).Error("mknod: persist parent failed")
		return 0, errno.ENOSPC
	}

	return ino, errno.OK
}

// Mkdir is Mknod forced to the directory file type.
func (c *Core) Mkdir(path string) (uint64, int) {
	return c.Mknod(path, codec.Dir)
}

// Unlink removes path's directory entry and recursively drops its inode
// subtree. Unlike POSIX unlink(2) it accepts directory targets too,
// matching the design's recursive drop_inode description.
func (c *Core) Unlink(path string) int {
	return c.removeEntry(path, false)
}

// Rmdir is Unlink with the additional requirement that the target be a
// directory.
func (c *Core) Rmdir(path string) int {
	return c.removeEntry(path, true)
}

func (c *Core) removeEntry(path string, wantDir bool) int {
	parentPath, nameStart := pathwalk.ParentPath(path)
	name := path[nameStart:]

	ph, found, err := c.resolve(parentPath)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Error("remove: resolve parent failed")
		return errno.EIO
	}
	if !found {
		return errno.ENOENT
	}
	if ph.FType != codec.Dir {
		return errno.ENOTDIR
	}

	d, idx, exists := pathwalk.FindDentryIndex(ph.Buf, name)
	if !exists {
		return errno.ENOENT
	}
	if wantDir && d.FType != codec.Dir {
		return errno.ENOTDIR
	}

	if err := c.dropInodeTree(d.Ino, d.FType); err != nil {
		c.log.WithError(err).WithField("ino", d.Ino).Error("remove: drop inode tree failed")
		return errno.EIO
	}

	if err := ph.Buf.DropDentry(idx); err != nil {
		c.log.WithError(err).Error("remove: drop dentry failed")
		return errno.EIO
	}
	ph.Buf.Touch(c.clock)
	if err := c.persistParentOrDefer(ph.Ino, ph.Buf); err != nil {
		c.log.WithError(err).WithField("parent_ino", ph.Ino).Error("remove: persist parent failed")
		return errno.ENOSPC
	}
	return errno.OK
}

// pendingDrop is one item of the explicit work queue dropInodeTree falls
// back to once it exceeds maxRecursionDepth.
type pendingDrop struct {
	Ino   uint64
	FType codec.FileType
}

// dropInodeTree recursively removes ino (and, for directories, every
// descendant) from the cache and the store. It bypasses the ordinary
// eviction write-back: a file being deleted must never be persisted again.
func (c *Core) dropInodeTree(ino uint64, ftype codec.FileType) error {
	return c.dropInodeRecursive(ino, ftype, 0)
}

func (c *Core) dropInodeRecursive(ino uint64, ftype codec.FileType, depth int) error {
	if ftype == codec.Dir {
		buf, err := c.readInode(ino)
		if err != nil {
			return err
		}
		n := buf.DentryCount()
		var queued []pendingDrop
		for i := 0; i < n; i++ {
			d, err := buf.DentryAt(i)
			if err != nil {
				return err
			}
			if depth+1 >= maxRecursionDepth {
				queued = append(queued, pendingDrop{Ino: d.Ino, FType: d.FType})
				continue
			}
			if err := c.dropInodeRecursive(d.Ino, d.FType, depth+1); err != nil {
				return err
			}
		}
		if len(queued) > 0 {
			if err := c.dropInodeQueue(queued); err != nil {
				return err
			}
		}
	}
	return c.dropLeaf(ino)
}

// dropInodeQueue is the explicit work-queue fallback for subtrees deeper
// than maxRecursionDepth: a plain BFS over a slice instead of native
// recursion, so depth no longer bounds the call stack.
func (c *Core) dropInodeQueue(seed []pendingDrop) error {
	queue := append([]pendingDrop(nil), seed...)
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if item.FType == codec.Dir {
			buf, err := c.readInode(item.Ino)
			if err != nil {
				return err
			}
			n := buf.DentryCount()
			for i := 0; i < n; i++ {
				d, err := buf.DentryAt(i)
				if err != nil {
					return err
				}
				queue = append(queue, pendingDrop{Ino: d.Ino, FType: d.FType})
			}
		}
		if err := c.dropLeaf(item.Ino); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) dropLeaf(ino uint64) error {
	c.cache.Forget(ino)
	return c.store.Delete(inoKey(ino))
}

// Rename moves src's directory entry to dst. If dst already names an
// entry, that entry (and its subtree) is dropped first so it is not
// orphaned by the overwrite.
func (c *Core) Rename(src, dst string) int {
	if src == dst {
		return errno.OK
	}

	srcParentPath, srcStart := pathwalk.ParentPath(src)
	dstParentPath, dstStart := pathwalk.ParentPath(dst)
	srcName := src[srcStart:]
	dstName := codec.TruncateName(dst[dstStart:])

	sph, found, err := c.resolve(srcParentPath)
	if err != nil {
		c.log.WithError(err).WithField("path", src).Error("rename: resolve src parent failed")
		return errno.EIO
	}
	if !found {
		return errno.ENOENT
	}
	if sph.FType != codec.Dir {
		return errno.ENOTDIR
	}

	srcDentry, srcIdx, exists := pathwalk.FindDentryIndex(sph.Buf, srcName)
	if !exists {
		return errno.ENOENT
	}

	if srcParentPath == dstParentPath {
		if oldDst, dstIdx, dstExists := pathwalk.FindDentryIndex(sph.Buf, dstName); dstExists && dstIdx != srcIdx {
			if err := c.dropInodeTree(oldDst.Ino, oldDst.FType); err != nil {
				c.log.WithError(err).WithField("ino", oldDst.Ino).Error("rename: drop replaced dst failed")
				return errno.EIO
			}
			if err := sph.Buf.DropDentry(dstIdx); err != nil {
				c.log.WithError(err).Error("rename: drop replaced dst dentry failed")
				return errno.EIO
			}
			if dstIdx < srcIdx {
				srcIdx--
			}
		}
		renamed := srcDentry
		renamed.Name = dstName
		if err := sph.Buf.SetDentryAt(srcIdx, renamed); err != nil {
			c.log.WithError(err).Error("rename: set dentry failed")
			return errno.EIO
		}
		sph.Buf.Touch(c.clock)
		if err := c.persistParentOrDefer(sph.Ino, sph.Buf); err != nil {
			c.log.WithError(err).WithField("parent_ino", sph.Ino).Error("rename: persist parent failed")
			return errno.ENOSPC
		}
		if srcDentry.FType == codec.Dir {
			c.cache.UpdatePath(srcDentry.Ino, dst)
		}
		return errno.OK
	}

	dph, found, err := c.resolve(dstParentPath)
	if err != nil {
		c.log.WithError(err).WithField("path", dst).Error("rename: resolve dst parent failed")
		return errno.EIO
	}
	if !found {
		return errno.ENOENT
	}
	if dph.FType != codec.Dir {
		return errno.ENOTDIR
	}

	newDentry := codec.Dentry{Ino: srcDentry.Ino, FType: srcDentry.FType, Name: dstName}
	if oldDst, dstIdx, dstExists := pathwalk.FindDentryIndex(dph.Buf, dstName); dstExists {
		if err := dph.Buf.SetDentryAt(dstIdx, newDentry); err != nil {
			c.log.WithError(err).Error("rename: overwrite dst dentry failed")
			return errno.EIO
		}
		if err := c.dropInodeTree(oldDst.Ino, oldDst.FType); err != nil {
			c.log.WithError(err).WithField("ino", oldDst.Ino).Error("rename: drop replaced dst failed")
			return errno.EIO
		}
	} else {
		dph.Buf.AppendDentry(newDentry)
	}

	if err := sph.Buf.DropDentry(srcIdx); err != nil {
		c.log.WithError(err).Error("rename: drop src dentry failed")
		return errno.EIO
	}

	sph.Buf.Touch(c.clock)
	dph.Buf.Touch(c.clock)
	if err := c.persistParentOrDefer(sph.Ino, sph.Buf); err != nil {
		return errno.ENOSPC
	}
	if err := c.persistParentOrDefer(dph.Ino, dph.Buf); err != nil {
		return errno.ENOSPC
	}

	if srcDentry.FType == codec.Dir {
		c.cache.UpdatePath(srcDentry.Ino, dst)
	}
	return errno.OK
}

// Open resolves path and admits it to the cache (or, in direct mode,
// records it in the direct-handle table instead), returning its inode
// number as the file handle.
func (c *Core) Open(path string, direct bool) (uint64, int) {
	h, found, err := c.resolve(path)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Error("open: resolve failed")
		return 0, errno.EIO
	}
	if !found {
		return 0, errno.ENOENT
	}
	if h.FType == codec.Dir {
		return 0, errno.EISDIR
	}

	if direct {
		c.registerDirect(h.Ino, path, h.FType)
		return h.Ino, errno.OK
	}

	buf := h.Buf
	if _, err := c.cache.Admit(h.Ino, h.FType, "", func() (*inode.Buffer, error) { return buf, nil }); err != nil {
		return 0, errno.EIO
	}
	return h.Ino, errno.OK
}

// Create makes a new regular file and opens it in one step.
func (c *Core) Create(path string, direct bool) (uint64, int) {
	ino, rc := c.Mknod(path, codec.Reg)
	if rc != errno.OK {
		return 0, rc
	}

	if direct {
		c.registerDirect(ino, path, codec.Reg)
		return ino, errno.OK
	}

	if _, err := c.cache.Admit(ino, codec.Reg, "", func() (*inode.Buffer, error) {
		return c.readInode(ino)
	}); err != nil {
		c.log.WithError(err).WithField("ino", ino).Error("create: admit to cache failed")
		return 0, errno.EIO
	}
	return ino, errno.OK
}

func (c *Core) registerDirect(ino uint64, path string, ftype codec.FileType) {
	c.directMu.Lock()
	defer c.directMu.Unlock()
	if dh, ok := c.directHandles[ino]; ok {
		dh.Count++
		return
	}
	c.directHandles[ino] = &directHandle{Path: path, FType: ftype, Count: 1}
}

// bufferFor resolves fh to its current buffer: a direct re-resolve for
// direct-I/O handles, or the shared cached buffer otherwise.
func (c *Core) bufferFor(fh uint64) (buf *inode.Buffer, direct bool, err error) {
	c.directMu.Lock()
	dh, isDirect := c.directHandles[fh]
	c.directMu.Unlock()

	if isDirect {
		h, found, err := c.resolve(dh.Path)
		if err != nil {
			return nil, true, err
		}
		if !found {
			return nil, true, pathVanished(dh.Path)
		}
		return h.Buf, true, nil
	}

	e, ok := c.cache.Lookup(fh)
	if !ok {
		return nil, false, handleNotOpen(fh)
	}
	return e.Buf, false, nil
}

// Read copies up to len(p) bytes starting at offset into p, returning the
// number of bytes copied.
func (c *Core) Read(fh uint64, p []byte, offset int64) (int, int) {
	buf, _, err := c.bufferFor(fh)
	if err != nil {
		c.log.WithError(err).WithField("fh", fh).Error("read: resolve handle failed")
		return 0, errno.EIO
	}

	used := buf.UsedSize()
	if int(offset) >= used {
		return 0, errno.OK
	}
	n := used - int(offset)
	if n > len(p) {
		n = len(p)
	}
	copy(p[:n], buf.Data()[int(offset):int(offset)+n])
	return n, errno.OK
}

// Write splices p into the buffer at offset, rejecting writes that would
// exceed codec.MaxFileSize.
func (c *Core) Write(fh uint64, p []byte, offset int64) (int, int) {
	buf, direct, err := c.bufferFor(fh)
	if err != nil {
		c.log.WithError(err).WithField("fh", fh).Error("write: resolve handle failed")
		return 0, errno.EIO
	}

	if int(offset) > buf.UsedSize() {
		return 0, errno.OK
	}
	if int(offset)+len(p) > codec.MaxFileSize {
		return 0, errno.EFBIG
	}

	buf.WriteAt(p, int(offset))
	buf.Touch(c.clock)

	if direct {
		if err := c.persistInode(fh, buf); err != nil {
			c.log.WithError(err).WithField("fh", fh).Error("write: direct persist failed")
			return 0, errno.ENOSPC
		}
	}
	return len(p), errno.OK
}

// Truncate resizes fh's buffer to size.
func (c *Core) Truncate(fh uint64, size int64) int {
	buf, direct, err := c.bufferFor(fh)
	if err != nil {
		c.log.WithError(err).WithField("fh", fh).Error("truncate: resolve handle failed")
		return errno.EIO
	}
	buf.Truncate(int(size))
	buf.Touch(c.clock)
	if direct {
		if err := c.persistInode(fh, buf); err != nil {
			return errno.ENOSPC
		}
	}
	return errno.OK
}

// TruncatePath resizes the file at path without an open handle (the
// handle-less POSIX truncate(2) path). It resolves path through the cache
// and persists immediately, unless the inode is cached, in which case the
// cached buffer is resized and written back by Release/Fsync/Close.
func (c *Core) TruncatePath(path string, size int64) int {
	h, found, err := c.resolve(path)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Error("truncate: resolve failed")
		return errno.EIO
	}
	if !found {
		return errno.ENOENT
	}
	if h.FType == codec.Dir {
		return errno.EISDIR
	}
	h.Buf.Truncate(int(size))
	h.Buf.Touch(c.clock)
	if err := c.persistParentOrDefer(h.Ino, h.Buf); err != nil {
		return errno.ENOSPC
	}
	return errno.OK
}

// Fsync writes fh's cached buffer back to the store without changing its
// ref count. A no-op for handles that aren't cached (direct handles are
// already persisted on every write).
func (c *Core) Fsync(fh uint64) int {
	e, ok := c.cache.Lookup(fh)
	if !ok {
		return errno.OK
	}
	if err := c.persistInode(fh, e.Buf); err != nil {
		c.log.WithError(err).WithField("fh", fh).Error("fsync: persist failed")
		return errno.ENOSPC
	}
	return errno.OK
}

// Release decrements fh's ref count, persisting and evicting it from the
// cache once the count reaches zero.
func (c *Core) Release(fh uint64) int {
	c.directMu.Lock()
	if dh, ok := c.directHandles[fh]; ok {
		dh.Count--
		if dh.Count <= 0 {
			delete(c.directHandles, fh)
		}
		c.directMu.Unlock()
		return errno.OK
	}
	c.directMu.Unlock()

	e, evicted := c.cache.Release(fh)
	if e == nil {
		return errno.OK
	}
	if evicted {
		if err := c.persistInode(fh, e.Buf); err != nil {
			c.log.WithError(err).WithField("fh", fh).Error("release: persist on evict failed")
			return errno.ENOSPC
		}
	}
	return errno.OK
}

// Opendir resolves path (which must be a directory) and admits it to the
// cache, publishing its canonical path.
func (c *Core) Opendir(path string) (uint64, int) {
	h, found, err := c.resolve(path)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Error("opendir: resolve failed")
		return 0, errno.EIO
	}
	if !found {
		return 0, errno.ENOENT
	}
	if h.FType != codec.Dir {
		return 0, errno.ENOTDIR
	}

	buf := h.Buf
	if _, err := c.cache.Admit(h.Ino, codec.Dir, path, func() (*inode.Buffer, error) { return buf, nil }); err != nil {
		return 0, errno.EIO
	}
	return h.Ino, errno.OK
}

// DirEntry is one row of a readdir reply.
type DirEntry struct {
	Name  string
	Attr  Attr
	Index int // index of the next entry to resume from
}

// Filler receives each directory entry in turn; returning true stops the
// iteration early, mirroring the design's "filler signals a full buffer".
type Filler func(DirEntry) (stop bool)

// Readdir walks fh's directory buffer starting at offset, invoking fill
// for each entry. Each entry's attribute requires an extra per-child inode
// read to recover its size, per spec.md §4.5.
func (c *Core) Readdir(fh uint64, offset int, fill Filler) int {
	e, ok := c.cache.Lookup(fh)
	if !ok {
		return errno.EBADF
	}
	buf := e.Buf

	n := buf.DentryCount()
	for i := offset; i < n; i++ {
		d, err := buf.DentryAt(i)
		if err != nil {
			c.log.WithError(err).WithField("fh", fh).Error("readdir: dentry decode failed")
			return errno.EIO
		}
		childBuf, err := c.readInode(d.Ino)
		if err != nil {
			c.log.WithError(err).WithField("ino", d.Ino).Error("readdir: child read failed")
			return errno.EIO
		}
		entry := DirEntry{Name: d.Name, Attr: attrOf(d.Ino, d.FType, childBuf), Index: i + 1}
		if fill(entry) {
			break
		}
	}
	return errno.OK
}

// Releasedir mirrors Release; the inode cache already removes the
// directory's path-map entry as part of eviction.
func (c *Core) Releasedir(fh uint64) int {
	return c.Release(fh)
}

// SetTimes is the original's utimens: for any path that resolves it is a
// silent success that changes nothing; a missing path yields -ENOENT and a
// resolve failure -EIO. Attribute timestamps are maintained internally
// (create/write) and are never externally settable.
func (c *Core) SetTimes(path string) int {
	if _, found, err := c.resolve(path); err != nil {
		return errno.EIO
	} else if !found {
		return errno.ENOENT
	}
	return errno.OK
}
