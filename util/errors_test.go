package util

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"testing"

	"github.com/pkg/errors"

	"github.com/dendrascience/shallfs/journal"
)

func TestErrno(t *testing.T) {
	_, statErr := os.Stat("/nonexistent/path/for/errno")

	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{name: "nil", err: nil, want: 0},
		{name: "plain errno", err: syscall.ENOSPC, want: syscall.ENOSPC},
		{name: "path error", err: statErr, want: syscall.ENOENT},
		{name: "too big", err: journal.ErrTooBig, want: syscall.E2BIG},
		{name: "wrapped with pkg/errors", err: errors.Wrap(journal.ErrWouldBlock, "read"), want: syscall.EAGAIN},
		{name: "wrapped with fmt", err: fmt.Errorf("%w: commit=x", journal.ErrInvalidOption), want: syscall.EINVAL},
		{name: "busy", err: journal.ErrBusy, want: syscall.EBUSY},
		{name: "canceled", err: context.Canceled, want: syscall.EINTR},
		{name: "unknown", err: errors.New("disk on fire"), want: syscall.EIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Errno(tt.err); got != tt.want {
				t.Errorf("Errno(%v) = %v, expected %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestResult(t *testing.T) {
	if got := Result(nil); got != 0 {
		t.Errorf("Result(nil) = %d, expected 0", got)
	}
	if got := Result(syscall.ENOENT); got != -int32(syscall.ENOENT) {
		t.Errorf("Result(ENOENT) = %d, expected %d", got, -int32(syscall.ENOENT))
	}
}
