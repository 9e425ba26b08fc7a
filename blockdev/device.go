package blockdev

import "errors"

// BlockSize is the unit of every device transfer.
const BlockSize = 4096

var (
	// ErrShortBuffer is returned when a transfer buffer is not exactly one block.
	ErrShortBuffer = errors.New("buffer is not one block long")
	// ErrOutOfRange is returned for block numbers beyond the end of the device.
	ErrOutOfRange = errors.New("block number out of range")
	// ErrInjected is the error returned by Memory when a fault is injected.
	ErrInjected = errors.New("injected device failure")
)

// Device provides access to a block-addressed disk.
type Device interface {
	// ReadBlock reads block n into p, which must be BlockSize bytes long.
	ReadBlock(n int64, p []byte) error

	// WriteBlock writes p to block n.
	WriteBlock(n int64, p []byte) error

	// Flush ensures that every write issued before it is durable.
	Flush() error

	// Size reports the device size in bytes.
	Size() int64

	// Close releases the device.
	Close() error
}

func checkTransfer(d Device, n int64, p []byte) error {
	if len(p) != BlockSize {
		return ErrShortBuffer
	}
	if n < 0 || (n+1)*BlockSize > d.Size() {
		return ErrOutOfRange
	}
	return nil
}
