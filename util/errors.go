package util

import (
	"context"
	"errors"
	"io/fs"
	"syscall"

	"github.com/dendrascience/shallfs/journal"
)

// Sentinel errors for package util.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// Path errors
	ErrExpectedDirectory = errors.New("expected directory but got file")
	ErrPathsOverlap      = errors.New("mountpoint and mirrored directory overlap")

	// Control socket errors
	ErrNoSocket = errors.New("no control socket for device")
)

// errnoOf maps engine sentinels to the errno a system call would report.
var errnoOf = []struct {
	err   error
	errno syscall.Errno
}{
	{journal.ErrTooBig, syscall.E2BIG},
	{journal.ErrWouldBlock, syscall.EAGAIN},
	{journal.ErrBusy, syscall.EBUSY},
	{journal.ErrUpdating, syscall.EBUSY},
	{journal.ErrClosed, syscall.EIO},
	{journal.ErrInvalidOption, syscall.EINVAL},
	{journal.ErrFSChanged, syscall.EINVAL},
	{journal.ErrRange, syscall.EINVAL},
	{journal.ErrUnknownCommand, syscall.EINVAL},
	{journal.ErrLineTooLong, syscall.EINVAL},
	{journal.ErrHashUnsupported, syscall.EOPNOTSUPP},
	{context.Canceled, syscall.EINTR},
	{context.DeadlineExceeded, syscall.EINTR},
	{fs.ErrNotExist, syscall.ENOENT},
	{fs.ErrExist, syscall.EEXIST},
	{fs.ErrPermission, syscall.EACCES},
}

// Errno returns the errno describing err, EIO when nothing more specific
// is known, or 0 for a nil error.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	for _, e := range errnoOf {
		if errors.Is(err, e.err) {
			return e.errno
		}
	}
	return syscall.EIO
}

// Result returns the record result code for err: 0 on success, otherwise
// the negated errno.
func Result(err error) int32 {
	return -int32(Errno(err))
}
