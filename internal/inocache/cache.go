// Package inocache implements the reference-counted cache of hot inode
// buffers: one map keyed by inode number, and a second map (directories
// only) keyed by canonical path, both guarded by a single reader/writer
// lock with runtime-checked invariants.
package inocache

import (
	"fmt"
	"sync"

	"github.com/aln0/rocksfuse/internal/codec"
	"github.com/aln0/rocksfuse/internal/inode"
)

// Entry is a reference-counted handle over a shared inode buffer.
type Entry struct {
	Ino    uint64
	Path   string // canonical path; empty for non-directory entries
	RefCnt uint32
	Buf    *inode.Buffer
	FType  codec.FileType
}

// Cache is the ino-keyed and path-keyed map pair described by the design's
// inode cache component.
//
// The jacobsa/gcloud/syncutil.InvariantMutex idiom used throughout the
// corpus (memfs, gcsfuse) only ever calls Lock/Unlock on it, never
// RLock/RUnlock — it is an invariant-checked mutex, not a reader/writer
// lock. Since the design requires concurrent directory traversals to run
// alongside each other, this cache uses a stdlib sync.RWMutex instead and
// checks the same invariants explicitly at the end of Admit, UpdatePath and
// a Release that does not evict; an evicting Release, Forget and
// InvalidatePath do not run the check.
type Cache struct {
	mu sync.RWMutex

	// byIno holds every admitted entry, keyed by inode number.
	//
	// INVARIANT: for all k, byIno[k].Ino == k
	// INVARIANT: for all k, byIno[k].RefCnt > 0
	byIno map[uint64]*Entry // GUARDED_BY(mu)

	// byPath mirrors the directory subset of byIno, keyed by canonical path.
	//
	// INVARIANT: for all p, byPath[p].FType == codec.Dir
	// INVARIANT: for all p, byPath[p] == byIno[byPath[p].Ino]
	byPath map[string]*Entry // GUARDED_BY(mu)
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		byIno:  map[uint64]*Entry{},
		byPath: map[string]*Entry{},
	}
}

func (c *Cache) checkInvariants() {
	for ino, e := range c.byIno {
		if e.Ino != ino {
			panic(fmt.Sprintf("inocache: entry for ino %d has Ino field %d", ino, e.Ino))
		}
		if e.RefCnt == 0 {
			panic(fmt.Sprintf("inocache: zero-refcount entry %d still present in byIno", ino))
		}
	}
	for path, e := range c.byPath {
		if e.FType != codec.Dir {
			panic(fmt.Sprintf("inocache: byPath[%q] is not a directory entry", path))
		}
		if got := c.byIno[e.Ino]; got != e {
			panic(fmt.Sprintf("inocache: byPath[%q] not mirrored in byIno[%d]", path, e.Ino))
		}
	}
}

// Loader loads the buffer for an inode that is not yet cached, typically
// by reading it from the KV store.
type Loader func() (*inode.Buffer, error)

// Admit inserts a new entry with ref count 1, or increments the ref count
// of an existing one. path is recorded (and published to the path map)
// only when ftype is a directory; pass "" for files.
func (c *Cache) Admit(ino uint64, ftype codec.FileType, path string, load Loader) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.byIno[ino]; ok {
		e.RefCnt++
		if ftype == codec.Dir && path != "" {
			e.Path = path
			c.byPath[path] = e
		}
		c.checkInvariants()
		return e, nil
	}

	buf, err := load()
	if err != nil {
		return nil, err
	}

	e := &Entry{Ino: ino, FType: ftype, RefCnt: 1, Buf: buf}
	if ftype == codec.Dir {
		e.Path = path
		if path != "" {
			c.byPath[path] = e
		}
	}
	c.byIno[ino] = e
	c.checkInvariants()
	return e, nil
}

// Lookup returns the cached entry for ino, if any, without changing its
// ref count.
func (c *Cache) Lookup(ino uint64) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byIno[ino]
	return e, ok
}

// LookupPath returns the cached directory entry for path, if any.
func (c *Cache) LookupPath(path string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byPath[path]
	return e, ok
}

// Release decrements ino's ref count. When it reaches zero the entry is
// evicted from both maps and returned as evicted=true so the caller can
// write it back to the store; the caller must do so without holding any
// lock of this cache.
func (c *Cache) Release(ino uint64) (entry *Entry, evicted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byIno[ino]
	if !ok {
		return nil, false
	}
	e.RefCnt--
	if e.RefCnt > 0 {
		c.checkInvariants()
		return e, false
	}

	delete(c.byIno, ino)
	if e.Path != "" {
		delete(c.byPath, e.Path)
	}
	return e, true
}

// Forget drops ino from the cache unconditionally, without returning its
// buffer for write-back. Used by unlink/rmdir, which delete the target
// from the store outright and must not resurrect it via a later eviction
// write-back (design's "bypassing the cache for the just-removed file").
func (c *Cache) Forget(ino uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byIno[ino]
	if !ok {
		return
	}
	delete(c.byIno, ino)
	if e.Path != "" {
		delete(c.byPath, e.Path)
	}
}

// UpdatePath changes the canonical path recorded for a cached directory,
// used by rename so the path cache never goes stale (design note §9).
func (c *Cache) UpdatePath(ino uint64, newPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byIno[ino]
	if !ok || e.FType != codec.Dir {
		return
	}
	if e.Path != "" {
		delete(c.byPath, e.Path)
	}
	e.Path = newPath
	if newPath != "" {
		c.byPath[newPath] = e
	}
	c.checkInvariants()
}

// InvalidatePath drops path from the path map without touching the
// underlying ino-keyed entry or its ref count. Used when a directory is
// moved out from under a stale path entry that didn't belong to it.
func (c *Cache) InvalidatePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byPath, path)
}

// Snapshot returns every currently-cached entry, for Close's flush pass.
func (c *Cache) Snapshot() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entry, 0, len(c.byIno))
	for _, e := range c.byIno {
		out = append(out, e)
	}
	return out
}
