package journal

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/dendrascience/shallfs/blockdev"
)

// FormatOptions control the layout written by Format. Zero values select
// the defaults.
type FormatOptions struct {
	Alignment   int
	Superblocks int
}

// Format writes an empty journal over the whole device and returns the
// superblock written to every copy.
func Format(dev blockdev.Device, opts FormatOptions) (*Superblock, error) {
	size := dev.Size() / BlockSize * BlockSize
	if size < MinDeviceSize {
		return nil, errors.Wrapf(ErrDeviceTooSmall, "%d bytes", size)
	}
	align := opts.Alignment
	if align == 0 {
		align = DefaultAlignment
	}
	if align < 8 || align%8 != 0 || align > BlockSize {
		return nil, fmt.Errorf("%w: alignment %d must be a multiple of 8 up to %d", ErrInvalidOption, align, BlockSize)
	}
	fit := SuperblocksFitting(size)
	nsb := opts.Superblocks
	switch {
	case nsb == 0:
		nsb = fit
		if nsb < MinSuperblocks {
			return nil, errors.Wrapf(ErrDeviceTooSmall, "room for %d superblocks", nsb)
		}
	case nsb < MinSuperblocks:
		return nil, fmt.Errorf("%w: %d superblocks, need at least %d", ErrInvalidOption, nsb, MinSuperblocks)
	case nsb > fit:
		return nil, errors.Wrapf(ErrDeviceTooSmall, "superblock %d past end of device", nsb-1)
	}

	sb := &Superblock{
		DeviceSize:     size,
		DataSpace:      size - BlockSize*int64(nsb),
		Flags:          FlagValid,
		Alignment:      align,
		NumSuperblocks: nsb,
	}
	for n := 0; n < nsb; n++ {
		if err := WriteSuperblock(dev, sb, n, false); err != nil {
			return nil, err
		}
	}
	if err := dev.Flush(); err != nil {
		return nil, errors.Wrap(err, "failed to flush device")
	}
	return sb, nil
}

// Clear drops every record of an unmounted journal.
func Clear(dev blockdev.Device) (*Superblock, error) {
	sb, err := loadSuperblock(dev)
	if err != nil {
		return nil, err
	}
	sb.DataStart = (sb.DataStart + sb.DataLength) % sb.DataSpace
	sb.DataLength = 0
	sb.Version++
	sb.Flags &^= FlagDirty
	for _, n := range []int{0, 1} {
		if err := WriteSuperblock(dev, sb, n, false); err != nil {
			return nil, err
		}
	}
	if err := dev.Flush(); err != nil {
		return nil, errors.Wrap(err, "failed to flush device")
	}
	return sb, nil
}

// TuneOptions describe a requested change of journal geometry.
type TuneOptions struct {
	Size        int64
	Alignment   int
	Superblocks int
}

// Tune would change the geometry of an unmounted journal. Resizing is not
// supported, so after checking that the device holds a journal it always
// fails with ErrResizeUnsupported.
func Tune(dev blockdev.Device, opts TuneOptions) (*Superblock, error) {
	sb, err := loadSuperblock(dev)
	if err != nil {
		return nil, err
	}
	return sb, errors.Wrapf(ErrResizeUnsupported, "size %d alignment %d superblocks %d",
		opts.Size, opts.Alignment, opts.Superblocks)
}
