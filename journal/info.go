package journal

import (
	"fmt"
	"strings"
	"time"
)

// Info is a snapshot of journal state and statistics.
type Info struct {
	Mounted      time.Time
	Logged       int64
	MaxSize      int64
	Size         int64
	Space        int64
	DeviceSize   int64
	Start        int64
	CommitSize   int64
	CommitTime   int64
	CommitForced int64
	Version      uint64
	Flags        SuperFlags
	Superblocks  int
	Alignment    int
	Dropped      int64
	Lost         int64
	FS           string
}

// Info returns the current state of the journal.
func (j *Journal) Info() Info {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ov.mu.Lock()
	dropped, lost := j.ov.dropped, j.ov.lost
	j.ov.mu.Unlock()
	return Info{
		Mounted:      j.mounted,
		Logged:       j.logged,
		MaxSize:      j.sb.MaxLength,
		Size:         j.sb.DataLength,
		Space:        j.sb.DataSpace,
		DeviceSize:   j.sb.DeviceSize,
		Start:        j.start.Logical,
		CommitSize:   j.commits[reasonSize],
		CommitTime:   j.commits[reasonTimer],
		CommitForced: j.commits[reasonForced],
		Version:      j.sb.Version,
		Flags:        j.sb.Flags,
		Superblocks:  j.sb.NumSuperblocks,
		Alignment:    j.sb.Alignment,
		Dropped:      dropped,
		Lost:         lost,
		FS:           j.opts.FS,
	}
}

// String renders the info as "key: value" lines.
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mounted: %s\n", Now(i.Mounted))
	fmt.Fprintf(&b, "logged: %d\n", i.Logged)
	fmt.Fprintf(&b, "maxsize: %d\n", i.MaxSize)
	fmt.Fprintf(&b, "size: %d\n", i.Size)
	fmt.Fprintf(&b, "space: %d\n", i.Space)
	fmt.Fprintf(&b, "devsize: %d\n", i.DeviceSize)
	fmt.Fprintf(&b, "start: %d\n", i.Start)
	fmt.Fprintf(&b, "commit_size: %d\n", i.CommitSize)
	fmt.Fprintf(&b, "commit_time: %d\n", i.CommitTime)
	fmt.Fprintf(&b, "commit_forced: %d\n", i.CommitForced)
	fmt.Fprintf(&b, "version: %d\n", i.Version)
	fmt.Fprintf(&b, "flags: %d\n", uint32(i.Flags))
	fmt.Fprintf(&b, "nsuper: %d\n", i.Superblocks)
	fmt.Fprintf(&b, "align: %d\n", i.Alignment)
	fmt.Fprintf(&b, "dropped: %d\n", i.Dropped)
	fmt.Fprintf(&b, "fs: %s\n", i.FS)
	return b.String()
}
