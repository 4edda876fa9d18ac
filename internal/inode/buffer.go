// Package inode implements the self-sizing byte buffer that backs a single
// inode's persisted form: a used-data prefix, a free reserve, and a
// trailing attribute footer.
//
//	|------------------ size -------------------|
//	|------------- dataCap -------------||-attr-|
//	|--usedSize--||------reserve--------||-attr-|
//
// Attributes are kept at the tail of the allocation and are only copied
// into their on-store position (immediately following the used data) by
// BeforeWriteBack, just before the buffer is serialized to the KV store.
package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/aln0/rocksfuse/internal/codec"
	"github.com/jacobsa/timeutil"
)

// attrSize is the size of the footer carried at the tail of every buffer:
// two Unix-nanosecond timestamps, mtime then ctime.
const attrSize = 16

// Attrs holds the non-data attributes carried in a buffer's footer.
type Attrs struct {
	MtimeUnixNano int64
	CtimeUnixNano int64
}

func decodeAttrs(b []byte) Attrs {
	return Attrs{
		MtimeUnixNano: int64(binary.LittleEndian.Uint64(b[0:8])),
		CtimeUnixNano: int64(binary.LittleEndian.Uint64(b[8:16])),
	}
}

func (a Attrs) encode() []byte {
	buf := make([]byte, attrSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(a.MtimeUnixNano))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(a.CtimeUnixNano))
	return buf
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Buffer is the in-memory form of one inode. It is shared (by reference)
// between a cache entry and any live operation holding it; every mutating
// method may reallocate the underlying slice but the Buffer value's
// identity (its pointer) is stable.
type Buffer struct {
	data     []byte // len(data) == usedSize + reserve + attrSize
	usedSize int
	attrs    Attrs
}

// New returns an empty buffer: zero used data, one dentry of reserve, and a
// footer stamped with now.
func New(now timeutil.Clock) *Buffer {
	reserve := codec.DentrySize
	b := &Buffer{
		data:     make([]byte, reserve+attrSize),
		usedSize: 0,
	}
	ts := now.Now().UnixNano()
	b.attrs = Attrs{MtimeUnixNano: ts, CtimeUnixNano: ts}
	return b
}

// Decode reconstructs a Buffer from the exact bytes stored for this inode
// in the KV store: used data followed by the attribute footer, with no
// reserve. The buffer starts with zero reserve; the next mutation that
// needs to grow will allocate it.
func Decode(raw []byte) (*Buffer, error) {
	if len(raw) < attrSize {
		return nil, fmt.Errorf("inode: payload has %d bytes, shorter than the %d-byte footer", len(raw), attrSize)
	}
	used := len(raw) - attrSize
	b := &Buffer{
		data:     make([]byte, len(raw)),
		usedSize: used,
	}
	copy(b.data, raw)
	b.attrs = decodeAttrs(raw[used:])
	return b, nil
}

// dataCap is the capacity of the used-data region (used + reserve), i.e.
// everything before the footer.
func (b *Buffer) dataCap() int {
	return len(b.data) - attrSize
}

// UsedSize returns the number of used data bytes (used_dat_sz).
func (b *Buffer) UsedSize() int {
	return b.usedSize
}

// Attrs returns the buffer's current attribute footer.
func (b *Buffer) Attrs() Attrs {
	return b.attrs
}

// Touch stamps the buffer's mtime (content modification).
func (b *Buffer) Touch(now timeutil.Clock) {
	b.attrs.MtimeUnixNano = now.Now().UnixNano()
}

// Data returns the used data region. The returned slice aliases the
// buffer's storage and is only valid until the next mutating call.
func (b *Buffer) Data() []byte {
	return b.data[:b.usedSize]
}

// DentryCount returns the number of dentry records the used data holds.
// Only meaningful for directory inodes.
func (b *Buffer) DentryCount() int {
	return b.usedSize / codec.DentrySize
}

// DentryAt decodes the dentry at the given index within the used data.
func (b *Buffer) DentryAt(i int) (codec.Dentry, error) {
	if i < 0 || i >= b.DentryCount() {
		return codec.Dentry{}, fmt.Errorf("inode: dentry index %d out of range [0,%d)", i, b.DentryCount())
	}
	off := i * codec.DentrySize
	return codec.DecodeDentry(b.data[off : off+codec.DentrySize])
}

// WriteAt overwrites [offset, offset+len(p)) with p, growing the used
// region as described in the design: if it fits within the current data
// capacity it is written in place; otherwise the buffer is reallocated to
// exactly offset+len(p)+attrSize, preserving the existing used prefix.
// Bytes in [usedSize, offset) that did not previously exist read as zero,
// per the design's deterministic-zero-fill contract.
func (b *Buffer) WriteAt(p []byte, offset int) {
	size := len(p)
	newUsed := offset + size
	if newUsed <= b.dataCap() {
		if offset > b.usedSize {
			zero(b.data[b.usedSize:offset])
		}
		copy(b.data[offset:offset+size], p)
		if newUsed > b.usedSize {
			b.usedSize = newUsed
		}
		return
	}

	next := make([]byte, newUsed+attrSize)
	copy(next, b.data[:b.usedSize])
	copy(next[offset:offset+size], p)
	copy(next[newUsed:], b.attrs.encode())
	b.data = next
	b.usedSize = newUsed
}

// Truncate implements the design's truncate primitive: grow the reserve if
// new_size exceeds it, otherwise just shrink used_dat_sz without freeing
// reserve.
func (b *Buffer) Truncate(newSize int) {
	if newSize > b.dataCap() {
		next := make([]byte, newSize+attrSize)
		copy(next, b.data[:b.usedSize])
		copy(next[newSize:], b.attrs.encode())
		b.data = next
		return
	}
	if newSize < b.usedSize {
		b.usedSize = newSize
	}
}

// AppendDentry appends d to the end of the used data, growing the reserve
// by exactly one dentry if needed.
func (b *Buffer) AppendDentry(d codec.Dentry) {
	enc := d.Encode()
	if b.usedSize+codec.DentrySize > b.dataCap() {
		next := make([]byte, b.usedSize+codec.DentrySize+attrSize)
		copy(next, b.data[:b.usedSize])
		copy(next[b.usedSize:], enc)
		b.data = next
	} else {
		copy(b.data[b.usedSize:b.usedSize+codec.DentrySize], enc)
	}
	b.usedSize += codec.DentrySize
}

// DropDentry removes the dentry at index i, shifting all trailing dentries
// left by one slot. The reserve is retained.
func (b *Buffer) DropDentry(i int) error {
	n := b.DentryCount()
	if i < 0 || i >= n {
		return fmt.Errorf("inode: dentry index %d out of range [0,%d)", i, n)
	}
	start := i * codec.DentrySize
	tailStart := start + codec.DentrySize
	copy(b.data[start:b.usedSize], b.data[tailStart:b.usedSize])
	b.usedSize -= codec.DentrySize
	return nil
}

// OverwriteDentry copies the dentry at src over the dentry at dst.
func (b *Buffer) OverwriteDentry(src, dst int) error {
	n := b.DentryCount()
	if src < 0 || src >= n || dst < 0 || dst >= n {
		return fmt.Errorf("inode: dentry index out of range [0,%d): src=%d dst=%d", n, src, dst)
	}
	srcOff := src * codec.DentrySize
	dstOff := dst * codec.DentrySize
	copy(b.data[dstOff:dstOff+codec.DentrySize], b.data[srcOff:srcOff+codec.DentrySize])
	return nil
}

// SetDentryAt overwrites the dentry at index i with d in place, used by
// rename to splice in an arbitrary (possibly cross-buffer) dentry record
// rather than one already present in this buffer.
func (b *Buffer) SetDentryAt(i int, d codec.Dentry) error {
	n := b.DentryCount()
	if i < 0 || i >= n {
		return fmt.Errorf("inode: dentry index %d out of range [0,%d)", i, n)
	}
	off := i * codec.DentrySize
	copy(b.data[off:off+codec.DentrySize], d.Encode())
	return nil
}

// SetDentryName rewrites the name field of the dentry at index i in place,
// used by rename-in-place.
func (b *Buffer) SetDentryName(i int, name string) error {
	d, err := b.DentryAt(i)
	if err != nil {
		return err
	}
	d.Name = name
	return b.SetDentryAt(i, d)
}

// BeforeWriteBack copies the footer into its canonical on-store position
// (immediately following the used data) so that [0, usedSize+attrSize) is
// the exact slice that must be persisted.
func (b *Buffer) BeforeWriteBack() {
	if b.usedSize+attrSize > len(b.data) {
		next := make([]byte, b.usedSize+attrSize)
		copy(next, b.data[:b.usedSize])
		b.data = next
	}
	copy(b.data[b.usedSize:b.usedSize+attrSize], b.attrs.encode())
}

// Encode returns the canonical on-store payload: used data followed by the
// attribute footer. It calls BeforeWriteBack first.
func (b *Buffer) Encode() []byte {
	b.BeforeWriteBack()
	out := make([]byte, b.usedSize+attrSize)
	copy(out, b.data[:b.usedSize+attrSize])
	return out
}
