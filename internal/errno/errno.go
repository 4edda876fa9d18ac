// Package errno names the negative-POSIX-errno return values the
// filesystem operation layer hands back to its caller, per the design's
// flat error contract: zero on success, a negative errno otherwise.
package errno

import "syscall"

const (
	OK = 0

	ENOENT  = -int(syscall.ENOENT)
	ENOTDIR = -int(syscall.ENOTDIR)
	EISDIR  = -int(syscall.EISDIR)
	EEXIST  = -int(syscall.EEXIST)
	EFBIG   = -int(syscall.EFBIG)
	ENOSPC  = -int(syscall.ENOSPC)
	EIO     = -int(syscall.EIO)
	EBADF   = -int(syscall.EBADF)
)
