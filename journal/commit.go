package journal

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// reason says what triggered a flush.
type reason int

const (
	reasonSize reason = iota
	reasonTimer
	reasonForced
	numReasons
)

var reasonNames = [numReasons]string{"size", "time", "forced"}

func (r reason) String() string { return reasonNames[r] }

// chunk is a piece of the commit buffer staged for one block write.
type chunk struct {
	ptr  Pointer
	data []byte
}

// stageChunk moves the next uncommitted bytes, up to the end of the
// commit pointer's block, out of the buffer. Called with j.mu held.
func (j *Journal) stageChunk() *chunk {
	todo := min(int64(j.commitPtr.Room()), j.sb.DataLength-j.committed)
	c := &chunk{
		ptr:  j.commitPtr,
		data: append([]byte(nil), j.buf[j.bufRead:j.bufRead+int(todo)]...),
	}
	j.bufRead += int(todo)
	j.commitPtr = j.geo.Advance(j.commitPtr, todo)
	j.committed += todo
	return c
}

// writeChunk writes c into its block, preserving the rest of the block.
// Called with flushMu held and j.mu released.
func (j *Journal) writeChunk(c *chunk) error {
	if len(c.data) < BlockSize {
		if err := j.dev.ReadBlock(c.ptr.Block, j.scratch); err != nil {
			return err
		}
	}
	copy(j.scratch[c.ptr.Offset:], c.data)
	return j.dev.WriteBlock(c.ptr.Block, j.scratch)
}

// overlayPending copies a staged but unwritten chunk over a block just
// read from the device. Called with j.mu held.
func (j *Journal) overlayPending(block int64, buf []byte) {
	if p := j.pending; p != nil && p.ptr.Block == block {
		copy(buf[p.ptr.Offset:], p.data)
	}
}

// flush mirrors every buffered byte to the ring, then writes the next
// superblock copy. With sync the device is flushed between the two and
// after the superblock. A chunk whose write fails stays staged and is written
// first by the next flush. Called with flushMu held and j.mu released.
func (j *Journal) flush(why reason, sync bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	chunks := 0
	for {
		if j.pending == nil {
			if j.committed >= j.sb.DataLength {
				break
			}
			j.pending = j.stageChunk()
		}
		c := j.pending
		j.mu.Unlock()
		err := j.writeChunk(c)
		j.mu.Lock()
		if err != nil {
			j.lastCommit = j.now()
			return err
		}
		j.pending = nil
		chunks++
	}
	j.lastCommit = j.now()
	j.bufRead, j.bufWritten = 0, 0
	if chunks == 0 && !j.stale {
		return nil
	}
	j.stale = true

	if sync {
		// The ring blocks must be durable before a superblock points at them.
		j.mu.Unlock()
		err := j.dev.Flush()
		j.mu.Lock()
		if err != nil {
			return errors.Wrap(err, "failed to flush ring data")
		}
	}

	j.commits[why]++
	j.sb.Version++
	n := j.nextSlot()
	img := encodeSuperblockBlock(j.snapshot(), n)
	j.log.WithFields(logrus.Fields{
		"reason":     why.String(),
		"blocks":     chunks,
		"superblock": n,
		"version":    j.sb.Version,
	}).Debug("journal committed")

	j.mu.Unlock()
	err := writeSuperblockBlock(j.dev, img, n, sync)
	j.mu.Lock()
	if err == nil {
		j.stale = false
	}
	return err
}

// flushUnlocked runs a flush from a producer. Called with j.mu held; the
// lock is released for the duration.
func (j *Journal) flushUnlocked(why reason) error {
	j.mu.Unlock()
	j.flushMu.Lock()
	err := j.flush(why, false)
	j.flushMu.Unlock()
	j.mu.Lock()
	return err
}

// forceCommit stops producers, waits for any running flush, flushes, and
// runs fn under the metadata lock if the flush succeeded.
func (j *Journal) forceCommit(why reason, sync bool, fn func()) error {
	j.mu.Lock()
	j.paused++
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.paused--
		j.mu.Unlock()
		j.resumed.broadcast()
	}()

	j.flushMu.Lock()
	defer j.flushMu.Unlock()
	err := j.flush(why, sync)
	if err == nil && fn != nil {
		j.mu.Lock()
		fn()
		j.mu.Unlock()
	}
	return err
}

// runTimer flushes the buffer once per commit interval, skipping a turn
// when a forced commit is pausing producers or another flush is running.
func (j *Journal) runTimer() {
	defer close(j.done)
	backoff := false
	for {
		j.mu.Lock()
		interval := j.opts.CommitInterval
		wait := interval
		if !backoff {
			wait = j.lastCommit.Add(interval).Sub(j.now())
		}
		j.mu.Unlock()

		t := time.NewTimer(max(wait, 0))
		select {
		case <-j.stop:
			t.Stop()
			return
		case <-j.kick:
			t.Stop()
			backoff = false
			continue
		case <-t.C:
		}

		j.mu.Lock()
		paused := j.paused > 0
		due := !j.now().Before(j.lastCommit.Add(j.opts.CommitInterval))
		j.mu.Unlock()
		if !due {
			backoff = false
			continue
		}
		if paused || !j.flushMu.TryLock() {
			backoff = true
			continue
		}
		backoff = false
		if err := j.flush(reasonTimer, true); err != nil {
			j.log.WithError(err).Warn("background commit failed, retrying next interval")
		}
		j.flushMu.Unlock()
	}
}
