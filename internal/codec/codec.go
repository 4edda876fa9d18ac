// Package codec implements the fixed binary layouts that make up the
// on-store representation of the filesystem: the super block and
// directory-entry records. Both are little-endian and packed, matching the
// layout tabulated in the design's "Binary layouts" section.
package codec

import (
	"encoding/binary"
	"fmt"
)

const (
	// NameMax is the longest name a dentry can carry, not counting the
	// trailing NUL.
	NameMax = 54

	// DentrySize is the on-store size of one directory entry: 8 bytes of
	// ino, 1 byte of ftype, and NameMax+1 bytes of NUL-padded name.
	DentrySize = 8 + 1 + (NameMax + 1)

	// MaxFileSize bounds how large a regular file's data region may grow.
	MaxFileSize = 4096

	// RootIno is the inode number of the filesystem root. It is allocated
	// once, on first mount, and never reused.
	RootIno uint64 = 1

	// SuperKey is the KV key under which the super block is stored.
	SuperKey = "0"

	// SuperBlockSize is the on-store size of the super block payload.
	SuperBlockSize = 8
)

// FileType distinguishes regular files from directories. The zero value is
// Reg so that a zeroed dentryD decodes as a regular file, matching the
// on-store encoding in the original source (file_type::reg == 0).
type FileType uint8

const (
	Reg FileType = 0
	Dir FileType = 1
)

func (t FileType) String() string {
	if t == Dir {
		return "dir"
	}
	return "reg"
}

// SuperBlock mirrors super_block_d: a single persisted counter tracking the
// highest inode number ever allocated.
type SuperBlock struct {
	CurIno uint64
}

// Encode returns the little-endian on-store representation of sb.
func (sb SuperBlock) Encode() []byte {
	buf := make([]byte, SuperBlockSize)
	binary.LittleEndian.PutUint64(buf, sb.CurIno)
	return buf
}

// DecodeSuperBlock parses the bytes previously returned by Encode.
func DecodeSuperBlock(data []byte) (SuperBlock, error) {
	if len(data) != SuperBlockSize {
		return SuperBlock{}, fmt.Errorf("codec: super block payload has %d bytes, want %d", len(data), SuperBlockSize)
	}
	return SuperBlock{CurIno: binary.LittleEndian.Uint64(data)}, nil
}

// Dentry is the decoded, in-memory form of a 64-byte directory entry
// record.
type Dentry struct {
	Ino   uint64
	FType FileType
	Name  string
}

// Encode writes d into a fresh DentrySize-byte record.
func (d Dentry) Encode() []byte {
	buf := make([]byte, DentrySize)
	binary.LittleEndian.PutUint64(buf[0:8], d.Ino)
	buf[8] = byte(d.FType)
	name := TruncateName(d.Name)
	copy(buf[9:9+len(name)], name)
	// buf[9+len(name):] is already zero, which serves as the NUL padding
	// and guarantees the final byte is always NUL.
	return buf
}

// DecodeDentry parses a DentrySize-byte record previously written by
// Encode. buf must be exactly DentrySize bytes.
func DecodeDentry(buf []byte) (Dentry, error) {
	if len(buf) != DentrySize {
		return Dentry{}, fmt.Errorf("codec: dentry record has %d bytes, want %d", len(buf), DentrySize)
	}
	ino := binary.LittleEndian.Uint64(buf[0:8])
	ftype := FileType(buf[8])
	name := buf[9:]
	if nul := indexByte(name, 0); nul >= 0 {
		name = name[:nul]
	}
	return Dentry{Ino: ino, FType: ftype, Name: string(name)}, nil
}

// TruncateName applies the name-length policy from the design: names
// longer than NameMax are silently truncated at creation time.
func TruncateName(name string) string {
	if len(name) > NameMax {
		return name[:NameMax]
	}
	return name
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
