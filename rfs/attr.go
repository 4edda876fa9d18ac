package rfs

import (
	"time"

	"github.com/aln0/rocksfuse/internal/codec"
	"github.com/aln0/rocksfuse/internal/inode"
)

// Attr is the subset of inode metadata getattr/readdir need to fill in a
// stat-shaped reply. The bridge maps this onto whatever attribute struct
// its kernel protocol expects.
type Attr struct {
	Ino   uint64
	FType codec.FileType
	Size  uint64
	Mtime time.Time
	Ctime time.Time
}

func attrOf(ino uint64, ftype codec.FileType, buf *inode.Buffer) Attr {
	a := buf.Attrs()
	return Attr{
		Ino:   ino,
		FType: ftype,
		Size:  uint64(buf.UsedSize()),
		Mtime: time.Unix(0, a.MtimeUnixNano),
		Ctime: time.Unix(0, a.CtimeUnixNano),
	}
}
