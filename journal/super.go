package journal

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"

	"github.com/dendrascience/shallfs/blockdev"
)

// Rule names one superblock consistency check.
type Rule int

const (
	RuleChecksum Rule = iota + 1
	RuleIndex
	RuleMagic
	RuleMagic2
	RuleNotValid
	RuleFlags
	RuleDeviceSize
	RuleSuperblocks
	RuleDataSpace
	RuleDataStart
	RuleDataLength
	RuleMaxLength
	RuleAlignment
	RuleLastSuperblock
)

var ruleNames = map[Rule]string{
	RuleChecksum:       "checksum",
	RuleIndex:          "index",
	RuleMagic:          "magic",
	RuleMagic2:         "magic2",
	RuleNotValid:       "novalid",
	RuleFlags:          "flags",
	RuleDeviceSize:     "devsize",
	RuleSuperblocks:    "nsuper",
	RuleDataSpace:      "dataspace",
	RuleDataStart:      "datastart",
	RuleDataLength:     "datalength",
	RuleMaxLength:      "maxlength",
	RuleAlignment:      "alignment",
	RuleLastSuperblock: "lastsb",
}

var ruleDescriptions = map[Rule]string{
	RuleChecksum:       "checksum mismatch",
	RuleIndex:          "stored index does not match location",
	RuleMagic:          "bad leading magic",
	RuleMagic2:         "bad trailing magic",
	RuleNotValid:       "valid flag not set",
	RuleFlags:          "unknown flags set",
	RuleDeviceSize:     "device size inconsistent with the device",
	RuleSuperblocks:    "too few superblocks",
	RuleDataSpace:      "data space inconsistent with device size",
	RuleDataStart:      "data start outside data space",
	RuleDataLength:     "data length exceeds data space",
	RuleMaxLength:      "max length outside [data length, data space]",
	RuleAlignment:      "alignment not a positive multiple of 8",
	RuleLastSuperblock: "last superblock beyond end of device",
}

func (r Rule) String() string {
	if s, ok := ruleNames[r]; ok {
		return s
	}
	return fmt.Sprintf("rule(%d)", int(r))
}

// Fixable reports whether fsck can repair a copy failing only this rule.
func (r Rule) Fixable() bool {
	switch r {
	case RuleNotValid, RuleFlags, RuleDataSpace, RuleMaxLength, RuleAlignment, RuleLastSuperblock:
		return true
	}
	return false
}

// SuperblockError reports which rule a superblock copy failed.
type SuperblockError struct {
	Index int
	Rule  Rule
}

func (e *SuperblockError) Error() string {
	return fmt.Sprintf("superblock %d: %s", e.Index, ruleDescriptions[e.Rule])
}

func (e *SuperblockError) Unwrap() error { return ErrInvalidSuperblock }

// Problems returns every rule that copy n violates on a device of devSize
// bytes. A checksum failure is reported alone since no field can be trusted.
func (sb *Superblock) Problems(n int, devSize int64) []Rule {
	if !sb.checksumOK {
		return []Rule{RuleChecksum}
	}
	var p []Rule
	if sb.Index != n {
		p = append(p, RuleIndex)
	}
	if !bytes.Equal(sb.magic1[:], Magic[:]) {
		p = append(p, RuleMagic)
	}
	if !bytes.Equal(sb.magic2[:], Magic[:]) {
		p = append(p, RuleMagic2)
	}
	if sb.Flags&FlagValid == 0 {
		p = append(p, RuleNotValid)
	}
	if sb.Flags&^knownSuperFlags != 0 {
		p = append(p, RuleFlags)
	}
	if sb.DeviceSize > devSize || sb.DeviceSize%BlockSize != 0 || sb.DeviceSize < MinDeviceSize {
		p = append(p, RuleDeviceSize)
	}
	if sb.NumSuperblocks < MinSuperblocks {
		p = append(p, RuleSuperblocks)
	}
	if sb.DataSpace < 0 || sb.DataSpace+BlockSize*int64(sb.NumSuperblocks) != sb.DeviceSize {
		p = append(p, RuleDataSpace)
	}
	if sb.DataStart < 0 || sb.DataStart >= sb.DataSpace {
		p = append(p, RuleDataStart)
	}
	if sb.DataLength < 0 || sb.DataLength > sb.DataSpace {
		p = append(p, RuleDataLength)
	}
	if sb.MaxLength < sb.DataLength || sb.MaxLength > sb.DataSpace {
		p = append(p, RuleMaxLength)
	}
	if sb.Alignment < 8 || sb.Alignment%8 != 0 || sb.Alignment > BlockSize {
		p = append(p, RuleAlignment)
	}
	if sb.NumSuperblocks > 0 && SuperblockBlock(sb.NumSuperblocks-1)*BlockSize+BlockSize > sb.DeviceSize {
		p = append(p, RuleLastSuperblock)
	}
	return p
}

// Validate returns the first rule violated by copy n, or nil.
func (sb *Superblock) Validate(n int, devSize int64) error {
	if p := sb.Problems(n, devSize); len(p) > 0 {
		return &SuperblockError{Index: n, Rule: p[0]}
	}
	return nil
}

// Fix repairs the given fixable rules in place.
func (sb *Superblock) Fix(rules []Rule) {
	has := make(map[Rule]bool, len(rules))
	for _, r := range rules {
		has[r] = true
	}
	if has[RuleFlags] {
		sb.Flags &= knownSuperFlags
	}
	if has[RuleNotValid] {
		sb.Flags |= FlagValid
	}
	if has[RuleLastSuperblock] {
		sb.NumSuperblocks = 1
		for SuperblockBlock(sb.NumSuperblocks)*BlockSize < sb.DeviceSize {
			sb.NumSuperblocks++
		}
	}
	if has[RuleDataSpace] || has[RuleLastSuperblock] {
		sb.DataSpace = sb.DeviceSize - BlockSize*int64(sb.NumSuperblocks)
	}
	if has[RuleMaxLength] {
		sb.MaxLength = sb.DataLength
	}
	if has[RuleAlignment] {
		a := sb.Alignment / 8 * 8
		if a < 8 {
			a = 8
		}
		if a > BlockSize {
			a = BlockSize
		}
		sb.Alignment = a
	}
}

// allFixable reports whether every rule in p can be repaired.
func allFixable(p []Rule) bool {
	for _, r := range p {
		if !r.Fixable() {
			return false
		}
	}
	return true
}

// readSuperblockRaw loads copy n without validating it.
func readSuperblockRaw(dev blockdev.Device, n int) (*Superblock, error) {
	buf := make([]byte, BlockSize)
	if err := dev.ReadBlock(SuperblockBlock(n), buf); err != nil {
		return nil, errors.Wrapf(err, "failed to read superblock %d", n)
	}
	return DecodeSuperblock(buf[superblockInset:]), nil
}

// ReadSuperblock loads and validates copy n.
func ReadSuperblock(dev blockdev.Device, n int) (*Superblock, error) {
	sb, err := readSuperblockRaw(dev, n)
	if err != nil {
		return nil, err
	}
	if err := sb.Validate(n, dev.Size()); err != nil {
		return nil, err
	}
	return sb, nil
}

// encodeSuperblockBlock returns the full block image for copy n.
func encodeSuperblockBlock(sb *Superblock, n int) []byte {
	buf := make([]byte, BlockSize)
	copy(buf[superblockInset:], sb.Encode(n))
	return buf
}

// WriteSuperblock stores sb as copy n. With sync set the device is flushed
// before returning.
func WriteSuperblock(dev blockdev.Device, sb *Superblock, n int, sync bool) error {
	return writeSuperblockBlock(dev, encodeSuperblockBlock(sb, n), n, sync)
}

func writeSuperblockBlock(dev blockdev.Device, buf []byte, n int, sync bool) error {
	if err := dev.WriteBlock(SuperblockBlock(n), buf); err != nil {
		return errors.Wrapf(err, "failed to write superblock %d", n)
	}
	if sync {
		if err := dev.Flush(); err != nil {
			return errors.Wrapf(err, "failed to flush superblock %d", n)
		}
	}
	return nil
}

// searchSuperblock looks for any valid copy after the primary.
func searchSuperblock(dev blockdev.Device) (*Superblock, error) {
	for n := 1; SuperblockOffset(n) < dev.Size(); n++ {
		if sb, err := ReadSuperblock(dev, n); err == nil {
			return sb, nil
		}
	}
	return nil, ErrNoSuperblock
}

// selectBest scans every copy and returns the valid one with the highest
// version, starting from cur. At equal versions a clean copy wins over a
// dirty one.
func selectBest(dev blockdev.Device, cur *Superblock) *Superblock {
	best := cur
	for n := 0; n < cur.NumSuperblocks; n++ {
		if n == cur.Index {
			continue
		}
		sb, err := ReadSuperblock(dev, n)
		if err != nil {
			continue
		}
		switch {
		case sb.Version > best.Version:
			best = sb
		case sb.Version == best.Version && best.Flags&FlagDirty != 0 && sb.Flags&FlagDirty == 0:
			best = sb
		}
	}
	return best
}

// loadSuperblock finds the superblock a mount or offline reader should use:
// the primary if valid, else the first valid alternate; then the freshest
// copy if the journal was not cleanly unmounted.
func loadSuperblock(dev blockdev.Device) (*Superblock, error) {
	sb, err := ReadSuperblock(dev, 0)
	if err != nil {
		if errors.Is(err, ErrInvalidSuperblock) {
			sb, err = searchSuperblock(dev)
		}
		if err != nil {
			return nil, err
		}
	}
	if sb.Flags&FlagUpdate != 0 {
		return nil, ErrUpdating
	}
	if sb.Flags&FlagDirty != 0 {
		sb = selectBest(dev, sb)
	}
	return sb, nil
}
