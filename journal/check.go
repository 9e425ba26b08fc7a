package journal

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dendrascience/shallfs/blockdev"
)

// Exit codes of a consistency check. They combine as a bitmask.
const (
	ExitOK          = 0
	ExitCorrected   = 1
	ExitUncorrected = 4
	ExitOperational = 8
	ExitUsage       = 16
)

// CheckOptions control Check.
type CheckOptions struct {
	// ReadOnly reports problems without writing anything.
	ReadOnly bool
	// Force checks a journal that looks cleanly unmounted.
	Force bool
	// Auto skips the record scan and the rescue of damaged copies.
	Auto bool
	// Superblock is a copy to try when the primary is invalid.
	Superblock int
	Log        *logrus.Entry
}

// CheckReport describes what Check found and did.
type CheckReport struct {
	Superblock  *Superblock
	Rescued     bool
	Fixed       []Rule
	Corrected   []int
	Uncorrected []int
	Records     int64
	Scanned     bool
	BadRecord   error
	Err         error
}

// CheckStatus summarises an exit code.
func CheckStatus(code int) string {
	switch {
	case code == ExitOK:
		return "clean"
	case code&ExitUncorrected != 0:
		return "has errors"
	}
	return "cleaned"
}

func (r *CheckReport) String() string {
	sb := r.Superblock
	if sb == nil {
		return "no usable superblock"
	}
	return fmt.Sprintf("%d/%d (%.1f%%) bytes used", sb.DataLength, sb.DataSpace,
		100*float64(sb.DataLength)/float64(sb.DataSpace))
}

// Check verifies an unmounted journal and repairs what it can. It returns
// the report and an exit code built from the Exit constants.
func Check(dev blockdev.Device, opts CheckOptions) (*CheckReport, int) {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	rep := &CheckReport{}

	sb, err := ReadSuperblock(dev, 0)
	if err != nil {
		sb, err = searchSuperblock(dev)
	}
	if err != nil && opts.Superblock > 0 {
		sb, err = ReadSuperblock(dev, opts.Superblock)
	}
	if err != nil && !opts.Auto {
		if sb, rep.Fixed = rescueSuperblock(dev); sb != nil {
			err = nil
			rep.Rescued = true
			log.WithFields(logrus.Fields{
				"superblock": sb.Index,
				"fixed":      rep.Fixed,
			}).Warn("rescued partially valid superblock")
		}
	}
	if err != nil {
		rep.Err = err
		return rep, ExitUncorrected
	}
	rep.Superblock = sb

	if sb.Flags&FlagUpdate != 0 {
		rep.Err = ErrUpdating
		code := ExitOperational
		if sb.Index != 0 || sb.Flags&FlagDirty != 0 {
			code |= ExitUncorrected
		}
		return rep, code
	}
	if sb.Flags&FlagDirty != 0 {
		sb = selectBest(dev, sb)
		rep.Superblock = sb
	}
	if sb.Index == 0 && sb.Flags&FlagDirty == 0 && !opts.Force && !rep.Rescued {
		return rep, ExitOK
	}

	if rep.Rescued {
		log.Info("pass 0: extra superblock scan")
		if best, fixed := freshestFixable(dev, sb); best != sb {
			sb, rep.Superblock = best, best
			rep.Fixed = fixed
		}
	}

	log.Info("pass 1: scan superblocks")
	code := rep.compareSuperblocks(dev, sb, opts.ReadOnly)
	if opts.Auto || code&ExitUncorrected != 0 {
		log.Info("skipping pass 2")
		return rep, code
	}

	log.Info("pass 2: scan data for validity")
	rep.Scanned = true
	s := NewScanner(dev, sb)
	for s.Next() {
		rep.Records++
	}
	if err := s.Err(); err != nil {
		rep.BadRecord = err
		code |= ExitUncorrected
	}
	return rep, code
}

// rescueSuperblock returns the first copy whose only problems are
// fixable, repaired, with the rules it failed.
func rescueSuperblock(dev blockdev.Device) (*Superblock, []Rule) {
	for n := 0; SuperblockOffset(n) < dev.Size(); n++ {
		sb, err := readSuperblockRaw(dev, n)
		if err != nil {
			continue
		}
		p := sb.Problems(n, dev.Size())
		if len(p) > 0 && allFixable(p) {
			sb.Fix(p)
			return sb, p
		}
	}
	return nil, nil
}

// freshestFixable looks for a copy newer than cur whose only problems are
// fixable and returns it repaired, or cur.
func freshestFixable(dev blockdev.Device, cur *Superblock) (*Superblock, []Rule) {
	best := cur
	var fixed []Rule
	for n := 0; n < cur.NumSuperblocks; n++ {
		if n == cur.Index {
			continue
		}
		sb, err := readSuperblockRaw(dev, n)
		if err != nil {
			continue
		}
		p := sb.Problems(n, dev.Size())
		if allFixable(p) && sb.Version > best.Version {
			best, fixed = sb, p
		}
	}
	if best != cur {
		best.Fix(fixed)
	}
	return best, fixed
}

// compareSuperblocks rewrites every copy that is unreadable, differs from
// sb, or when sb itself is dirty or was repaired.
func (r *CheckReport) compareSuperblocks(dev blockdev.Device, sb *Superblock, readOnly bool) int {
	clean := *sb
	clean.Flags = clean.Flags&^FlagDirty | FlagValid
	rewriteAll := sb.Flags&FlagDirty != 0 || sb.Flags&FlagValid == 0
	for n := 0; n < sb.NumSuperblocks; n++ {
		ok := !rewriteAll
		if ok && (n != sb.Index || len(r.Fixed) > 0) {
			cp, err := ReadSuperblock(dev, n)
			ok = err == nil && cp.Same(&clean)
		}
		if ok {
			continue
		}
		if !readOnly && WriteSuperblock(dev, &clean, n, false) == nil {
			r.Corrected = append(r.Corrected, n)
		} else {
			r.Uncorrected = append(r.Uncorrected, n)
		}
	}
	if len(r.Corrected) > 0 && !readOnly {
		if err := dev.Flush(); err != nil {
			r.Err = err
			return ExitUncorrected
		}
	}
	switch {
	case len(r.Uncorrected) > 0:
		return ExitUncorrected
	case len(r.Corrected) > 0:
		return ExitCorrected
	}
	return ExitOK
}
