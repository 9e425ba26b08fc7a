package journal

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// overflowState tracks one burst of ring exhaustion. Its lock is taken
// after j.mu, never before.
type overflowState struct {
	mu      sync.Mutex
	active  bool
	dropped int64
	lost    int64
	freed   *notifier
}

// markerLen returns the size of the overflow marker the next overflow
// would store, or 0 when a burst is already in progress. Called with
// j.mu held.
func (j *Journal) markerLen() int {
	j.ov.mu.Lock()
	defer j.ov.mu.Unlock()
	if j.ov.active {
		return 0
	}
	return roundUp(HeaderSize, j.sb.Alignment)
}

// overflow accounts for a record of size bytes that found the ring full.
// Only the first overflow of a burst stores a marker; dropped records are
// counted for the recovery record. Called with j.mu held and buffer room
// for the marker.
func (j *Journal) overflow(size int) {
	j.ov.mu.Lock()
	first := !j.ov.active
	j.ov.active = true
	if j.opts.Overflow == OverflowDrop {
		j.ov.dropped++
		j.ov.lost += int64(size)
	}
	j.ov.mu.Unlock()
	if !first {
		return
	}

	j.log.WithFields(logrus.Fields{
		"size":   j.sb.DataLength,
		"space":  j.geo.DataSpace,
		"policy": nameOf(overflowNames, j.opts.Overflow, ""),
	}).Warn("journal full")
	marker := &Record{Op: OpOverflow, Time: Now(j.now())}
	m := marker.EncodedLen(j.sb.Alignment)
	if j.sb.DataLength+int64(m) <= j.geo.DataSpace && j.bufWritten+m <= len(j.buf) {
		j.stage(marker, m)
	}
}

// recoverSpace ends an overflow burst once a reader has made room, storing
// a RECOVER record with the number of dropped records as its result and
// the bytes lost as its size. Called with j.mu held.
func (j *Journal) recoverSpace() {
	j.ov.mu.Lock()
	defer j.ov.mu.Unlock()
	if !j.ov.active {
		return
	}
	rec := &Record{
		Op:      OpRecover,
		Time:    Now(j.now()),
		Result:  int32(j.ov.dropped),
		Creds:   ProcessCreds(),
		Payload: Size(j.ov.lost),
	}
	size := rec.EncodedLen(j.sb.Alignment)
	if !j.hasRoom(size) || j.bufWritten+size > len(j.buf) {
		return
	}
	j.log.WithFields(logrus.Fields{
		"dropped": j.ov.dropped,
		"lost":    j.ov.lost,
	}).Info("journal recovered from overflow")
	j.ov.active = false
	j.ov.dropped = 0
	j.ov.lost = 0
	j.stage(rec, size)
}

// Dropped returns the records and bytes dropped in the current overflow
// burst.
func (j *Journal) Dropped() (records, bytes int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ov.mu.Lock()
	defer j.ov.mu.Unlock()
	return j.ov.dropped, j.ov.lost
}
