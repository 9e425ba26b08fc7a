package journal

import (
	"context"
	"io"
)

// Stream names one of the exclusive journal readers.
type Stream int

const (
	StreamBinary Stream = iota
	StreamText
	numStreams
)

// Acquire claims an exclusive stream. The returned function releases it.
func (j *Journal) Acquire(s Stream) (release func(), err error) {
	if !j.valid.Load() {
		return nil, ErrClosed
	}
	if !j.streams[s].CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	return func() { j.streams[s].Store(false) }, nil
}

// copyOut passes n journal bytes, starting rel bytes after the head, to
// dst in pieces: first from the device, then from the commit buffer.
// Called with j.mu held and rel+n <= data length.
func (j *Journal) copyOut(rel, n int64, dst func([]byte) error) error {
	if rel < j.committed {
		ptr := j.geo.Advance(j.start, rel)
		disk := min(n, j.committed-rel)
		for disk > 0 {
			k := min(disk, int64(ptr.Room()))
			if err := j.dev.ReadBlock(ptr.Block, j.rbuf); err != nil {
				return err
			}
			j.overlayPending(ptr.Block, j.rbuf)
			if err := dst(j.rbuf[ptr.Offset : ptr.Offset+int(k)]); err != nil {
				return err
			}
			ptr = j.geo.Advance(ptr, k)
			disk -= k
			rel += k
			n -= k
		}
	}
	if n > 0 {
		off := j.bufRead + int(rel-j.committed)
		return dst(j.buf[off : off+int(n)])
	}
	return nil
}

// copyTo reads n bytes at rel into p.
func (j *Journal) copyTo(p []byte, rel int64) error {
	return j.copyOut(rel, int64(len(p)), func(b []byte) error {
		p = p[copy(p, b):]
		return nil
	})
}

// headerAt decodes the header of the record at rel. Called with j.mu held.
func (j *Journal) headerAt(rel int64, hdr []byte) (Header, error) {
	if err := j.copyTo(hdr[:HeaderSize], rel); err != nil {
		return Header{}, err
	}
	h, err := DecodeHeader(hdr)
	if err != nil {
		err.(*DecodeError).Offset = rel
		return Header{}, err
	}
	if int64(h.Length) > j.sb.DataLength-rel || h.Length%j.sb.Alignment != 0 {
		return Header{}, &DecodeError{Offset: rel, Err: ErrTruncated}
	}
	return h, nil
}

// consume drops n bytes from the head of the journal. Called with j.mu
// held; n covers whole records.
func (j *Journal) consume(n int64) {
	if n == 0 {
		return
	}
	j.sb.DataLength -= n
	j.consumed += n
	j.start = j.geo.Advance(j.start, n)
	if n <= j.committed {
		j.committed -= n
	} else {
		j.bufRead += int(n - j.committed)
		j.committed = 0
		j.commitPtr = j.start
		if j.bufRead >= j.bufWritten {
			j.bufRead, j.bufWritten = 0, 0
		}
	}
	j.someData.Store(j.sb.DataLength >= HeaderSize)
	j.recoverSpace()
	j.ov.freed.broadcast()
}

// readRecords copies as many whole records as fit in p and consumes them.
// When nothing is available it returns the channel to wait on.
func (j *Journal) readRecords(p []byte) (int, <-chan struct{}, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.valid.Load() {
		return 0, nil, io.EOF
	}
	done := 0
	var err error
	for j.sb.DataLength-int64(done) >= HeaderSize {
		if len(p)-done < HeaderSize {
			err = ErrShortBuffer
			break
		}
		var h Header
		if h, err = j.headerAt(int64(done), p[done:]); err != nil {
			break
		}
		if h.Length > len(p)-done {
			err = ErrShortBuffer
			break
		}
		if err = j.copyTo(p[done+HeaderSize:done+h.Length], int64(done+HeaderSize)); err != nil {
			break
		}
		done += h.Length
	}
	j.consume(int64(done))
	if done > 0 {
		return done, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return 0, j.data.wait(), nil
}

// Read consumes whole records into p and returns the bytes read. With
// wait set it blocks until a record arrives, the journal closes (io.EOF)
// or ctx is done; otherwise it returns ErrWouldBlock when empty. A failed
// read leaves the journal position unchanged.
func (j *Journal) Read(ctx context.Context, p []byte, wait bool) (int, error) {
	for {
		n, ch, err := j.readRecords(p)
		if n > 0 || err != nil {
			return n, err
		}
		if !wait {
			return 0, ErrWouldBlock
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Skip discards whole records totalling at most n bytes without reading
// them and returns the bytes discarded.
func (j *Journal) Skip(n int64) (int64, error) {
	if n < 0 {
		return 0, ErrRange
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.valid.Load() {
		return 0, ErrClosed
	}
	var (
		done int64
		err  error
		hdr  [HeaderSize]byte
	)
	for j.sb.DataLength-done >= HeaderSize {
		var h Header
		if h, err = j.headerAt(done, hdr[:]); err != nil {
			break
		}
		if int64(h.Length) > n-done {
			break
		}
		done += int64(h.Length)
	}
	j.consume(done)
	if done == 0 && err != nil {
		return 0, err
	}
	return done, nil
}

// Preview decodes up to limit records starting at cursor without consuming
// them. Cursors count bytes since mount; one older than the head starts at
// the head. It returns the records and the cursor after the last one.
func (j *Journal) Preview(ctx context.Context, cursor int64, limit int, wait bool) ([]*Record, int64, error) {
	for {
		recs, next, ch, err := j.previewRecords(cursor, limit)
		if len(recs) > 0 || err != nil {
			return recs, next, err
		}
		if !wait {
			return nil, next, ErrWouldBlock
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, next, ctx.Err()
		}
		cursor = next
	}
}

func (j *Journal) previewRecords(cursor int64, limit int) ([]*Record, int64, <-chan struct{}, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.valid.Load() {
		return nil, cursor, nil, io.EOF
	}
	if cursor < j.consumed {
		cursor = j.consumed
	}
	var (
		recs []*Record
		hdr  [HeaderSize]byte
	)
	for len(recs) < limit {
		rel := cursor - j.consumed
		if j.sb.DataLength-rel < HeaderSize {
			break
		}
		h, err := j.headerAt(rel, hdr[:])
		if err != nil {
			if len(recs) == 0 {
				return nil, cursor, nil, err
			}
			break
		}
		b := make([]byte, h.Length)
		if err := j.copyTo(b, rel); err != nil {
			if len(recs) == 0 {
				return nil, cursor, nil, err
			}
			break
		}
		r, _, err := Decode(b)
		if err != nil {
			if len(recs) == 0 {
				return nil, cursor, nil, &DecodeError{Offset: rel, Err: err}
			}
			break
		}
		recs = append(recs, r)
		cursor += int64(h.Length)
	}
	if len(recs) > 0 {
		return recs, cursor, nil, nil
	}
	return nil, cursor, j.data.wait(), nil
}
