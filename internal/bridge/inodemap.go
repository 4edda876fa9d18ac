package bridge

import (
	"sync"

	"github.com/jacobsa/fuse/fuseops"
)

// inodeMap associates the fuseops.InodeID space the kernel speaks with the
// path-shaped API rfs.Core exposes. Grounded on the asjoyner-shade fusefs
// bridge's InodeMap (ToPath/FromPath): unlike that map, this one never mints
// its own IDs — rfs.Core already hands out globally unique ino numbers
// (including RootIno == fuseops.RootInodeID == 1), so an inode ID here is
// always exactly the rfs ino number it names. What this type adds is the
// path-cache half: recording which path an ID currently resolves to, so a
// LookUpInode/MkDir/CreateFile reply's ID can be turned back into a path on
// a later GetInodeAttributes/OpenDir/Unlink/etc. call, and forgetting that
// association when the kernel sends ForgetInodeOp.
type inodeMap struct {
	mu    sync.RWMutex
	ref   map[fuseops.InodeID]uint32 // kernel lookup-count per inode
	paths map[fuseops.InodeID]string
}

func newInodeMap() *inodeMap {
	return &inodeMap{
		ref:   map[fuseops.InodeID]uint32{fuseops.RootInodeID: 1},
		paths: map[fuseops.InodeID]string{fuseops.RootInodeID: "/"},
	}
}

// Associate records that id currently resolves to path, bumping its kernel
// lookup count by one (mirroring the count of LookUpInode/MkDir/CreateFile
// replies the kernel has not yet balanced with a ForgetInode).
func (m *inodeMap) Associate(id fuseops.InodeID, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths[id] = path
	m.ref[id]++
}

// ToPath returns the path id was last associated with, if any.
func (m *inodeMap) ToPath(id fuseops.InodeID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.paths[id]
	return p, ok
}

// Rename updates the cached path for id after a successful rename, the
// fix the design notes call for: the source's path cache and inode cache
// are not kept consistent on rename, and this map must not repeat that.
func (m *inodeMap) Rename(id fuseops.InodeID, newPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.paths[id]; ok {
		m.paths[id] = newPath
	}
}

// Forget drops n references to id, removing its path entry once the count
// reaches zero, per ForgetInodeOp's contract.
func (m *inodeMap) Forget(id fuseops.InodeID, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ref[id] <= uint32(n) {
		delete(m.ref, id)
		delete(m.paths, id)
		return
	}
	m.ref[id] -= uint32(n)
}
