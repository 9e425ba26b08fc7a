package journal

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Append adds a record to the journal. A zero Time is set to the current
// time. Depending on the options, a record the ring has no room for is
// dropped (Append succeeds) or waited on until a reader frees space or
// ctx is done.
func (j *Journal) Append(ctx context.Context, r *Record) error {
	if err := r.check(); err != nil {
		return err
	}
	rec := *r
	if rec.Time == (Timespec{}) {
		rec.Time = Now(j.now())
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	for {
		if !j.valid.Load() {
			return ErrClosed
		}
		if j.paused > 0 {
			if err := j.waitLocked(ctx, j.resumed.wait()); err != nil {
				return err
			}
			continue
		}

		size := rec.EncodedLen(j.sb.Alignment)
		if size > len(j.buf) {
			if rec.Op == OpTooBig || j.opts.TooBig == TooBigError {
				j.log.WithFields(logrus.Fields{
					"op":       rec.Op.String(),
					"required": size,
					"buffer":   len(j.buf),
				}).Error("record does not fit in commit buffer")
				return ErrTooBig
			}
			rec = Record{
				Op:      OpTooBig,
				Time:    rec.Time,
				Result:  int32(size),
				Creds:   rec.Creds,
				Payload: Size(size),
			}
			continue
		}

		if !j.hasRoom(size) {
			if m := j.markerLen(); m > 0 && j.bufWritten+m > len(j.buf) {
				if err := j.flushUnlocked(reasonSize); err != nil {
					return err
				}
				continue
			}
			j.overflow(size)
			if j.opts.Overflow == OverflowDrop {
				return nil
			}
			if err := j.waitLocked(ctx, j.ov.freed.wait()); err != nil {
				return err
			}
			continue
		}

		if j.bufWritten+size > len(j.buf) {
			if err := j.flushUnlocked(reasonSize); err != nil {
				return err
			}
			continue
		}
		j.stage(&rec, size)
		return nil
	}
}

// hasRoom reports whether a record of size bytes fits in the ring while
// leaving room for an overflow marker. Called with j.mu held.
func (j *Journal) hasRoom(size int) bool {
	need := int64(roundUp(HeaderSize, j.sb.Alignment) + size)
	return j.sb.DataLength+need <= j.geo.DataSpace
}

// stage encodes r into the commit buffer. Called with j.mu held after
// checking room in both the buffer and the ring.
func (j *Journal) stage(r *Record, size int) {
	r.encodeTo(j.buf[j.bufWritten : j.bufWritten+size])
	j.bufWritten += size
	j.sb.DataLength += int64(size)
	if j.sb.DataLength > j.sb.MaxLength {
		j.sb.MaxLength = j.sb.DataLength
	}
	j.logged++
	j.someData.Store(true)
	j.data.broadcast()
}

// waitLocked releases j.mu until ch is closed or ctx is done.
func (j *Journal) waitLocked(ctx context.Context, ch <-chan struct{}) error {
	j.mu.Unlock()
	defer j.mu.Lock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DataRecords splits written bytes into DATA records of at most
// DataChunk bytes each, with regions advancing through the write.
func DataRecords(before bool, id FileID, offset uint64, p []byte, result int32, creds *Creds) []*Record {
	var recs []*Record
	for len(p) > 0 || len(recs) == 0 {
		n := min(len(p), DataChunk)
		recs = append(recs, &Record{
			Op:     OpWrite,
			Before: before,
			Result: result,
			Creds:  creds,
			Payload: &Data{
				Region: Region{Start: offset, Length: uint64(n), FileID: id},
				Bytes:  p[:n],
			},
		})
		offset += uint64(n)
		p = p[n:]
	}
	return recs
}

// DataChunk is the largest amount of file data stored in one record.
const DataChunk = 1024
