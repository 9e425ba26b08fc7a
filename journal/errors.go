package journal

import "errors"

var (
	// Format errors
	ErrNoSuperblock      = errors.New("no valid superblock found, run fsck")
	ErrInvalidSuperblock = errors.New("invalid superblock")
	ErrBadChecksum       = errors.New("bad record checksum")
	ErrTruncated         = errors.New("truncated record")
	ErrUnknownType       = errors.New("unknown record data type")
	ErrInvalidRecord     = errors.New("invalid record")

	// Capacity errors
	ErrTooBig         = errors.New("record does not fit in the commit buffer")
	ErrShortBuffer    = errors.New("buffer too small for the next record")
	ErrDeviceTooSmall = errors.New("device too small for a journal")

	// State errors
	ErrClosed     = errors.New("journal closed")
	ErrBusy       = errors.New("journal busy")
	ErrWouldBlock = errors.New("no journal data available")
	ErrUpdating   = errors.New("journal resize was interrupted, complete it first")

	// Control errors
	ErrUnknownCommand = errors.New("unknown control command")
	ErrRange          = errors.New("value out of range")
	ErrLineTooLong    = errors.New("control line too long")

	// Configuration errors
	ErrInvalidOption     = errors.New("invalid option")
	ErrHashUnsupported   = errors.New("content hash logging is not supported")
	ErrResizeUnsupported = errors.New("journal resize is not supported")
	ErrFSChanged         = errors.New("underlying filesystem cannot change on remount")
)
