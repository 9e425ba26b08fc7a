//go:build linux

package blockdev

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// File is a Device backed by a block device node or a regular image file.
type File struct {
	f        *os.File
	size     int64
	readOnly bool
}

// Open opens path for block access and takes an exclusive lock on it.
// The lock fails immediately if another process holds the device.
func Open(path string, readOnly bool) (*File, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}

	lock := unix.LOCK_EX
	if readOnly {
		lock = unix.LOCK_SH
	}
	if err := unix.Flock(int(f.Fd()), lock|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to lock %s", path)
	}

	size, err := deviceSize(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to get size of %s", path)
	}
	return &File{f: f, size: size, readOnly: readOnly}, nil
}

func deviceSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return fi.Size(), nil
	}
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return int64(size), nil
}

// ReadBlock implements Device.
func (d *File) ReadBlock(n int64, p []byte) error {
	if err := checkTransfer(d, n, p); err != nil {
		return err
	}
	if _, err := d.f.ReadAt(p, n*BlockSize); err != nil {
		return errors.Wrapf(err, "failed to read block %d", n)
	}
	return nil
}

// WriteBlock implements Device.
func (d *File) WriteBlock(n int64, p []byte) error {
	if d.readOnly {
		return errors.Wrapf(os.ErrPermission, "write block %d on read-only device", n)
	}
	if err := checkTransfer(d, n, p); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(p, n*BlockSize); err != nil {
		return errors.Wrapf(err, "failed to write block %d", n)
	}
	return nil
}

// Flush implements Device with fdatasync.
func (d *File) Flush() error {
	if d.readOnly {
		return nil
	}
	if err := unix.Fdatasync(int(d.f.Fd())); err != nil {
		return errors.Wrap(err, "failed to flush device")
	}
	return nil
}

// Size implements Device.
func (d *File) Size() int64 { return d.size }

// Name returns the path the device was opened with.
func (d *File) Name() string { return d.f.Name() }

// Close releases the lock and the file.
func (d *File) Close() error {
	unix.Flock(int(d.f.Fd()), unix.LOCK_UN)
	return d.f.Close()
}

// Create makes a zero-filled image file of the given size, for use with
// Open. It fails if path already exists.
func Create(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return errors.Wrapf(err, "failed to size %s", path)
	}
	return nil
}
