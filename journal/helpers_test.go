package journal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dendrascience/shallfs/blockdev"
)

// testDevSize holds exactly eight superblocks.
const testDevSize = 1024 * BlockSize

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newDevice(t *testing.T) *blockdev.Memory {
	t.Helper()
	dev := blockdev.NewMemory(testDevSize)
	_, err := Format(dev, FormatOptions{})
	require.NoError(t, err)
	return dev
}

func testOptions() Options {
	o := DefaultOptions()
	o.CommitInterval = time.Hour
	return o
}

func mount(t *testing.T, dev blockdev.Device, opts Options, options ...Option) *Journal {
	t.Helper()
	j, err := Open(dev, opts, append([]Option{WithLogger(quietLog())}, options...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

// drain reads every available record without waiting.
func drain(t *testing.T, j *Journal) []*Record {
	t.Helper()
	var out bytes.Buffer
	p := make([]byte, 1<<20)
	for {
		n, err := j.Read(context.Background(), p, false)
		if errors.Is(err, ErrWouldBlock) {
			break
		}
		require.NoError(t, err)
		out.Write(p[:n])
	}
	return decodeAll(t, out.Bytes())
}

func decodeAll(t *testing.T, b []byte) []*Record {
	t.Helper()
	var recs []*Record
	s := NewStreamScanner(bytes.NewReader(b))
	for s.Next() {
		recs = append(recs, s.Record())
	}
	require.NoError(t, s.Err())
	return recs
}

func ops(recs []*Record) []Op {
	out := make([]Op, len(recs))
	for i, r := range recs {
		out[i] = r.Op
	}
	return out
}

// userlog returns a record of exactly size bytes with no credentials.
func userlog(size int) *Record {
	return &Record{Op: OpUserlog, Files: []string{string(bytes.Repeat([]byte{'x'}, size-HeaderSize-4))}}
}
