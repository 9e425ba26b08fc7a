package journal

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dendrascience/shallfs/blockdev"
)

func TestOpenLogsMount(t *testing.T) {
	dev := newDevice(t)
	opts := testOptions()
	opts.FS = "/srv/data"
	j := mount(t, dev, opts)

	sb, err := ReadSuperblock(dev, 0)
	require.NoError(t, err)
	assert.NotZero(t, sb.Flags&FlagDirty, "mounted journal is dirty on disk")
	assert.Equal(t, uint64(1), sb.Version)

	recs := drain(t, j)
	require.Len(t, recs, 1)
	assert.Equal(t, OpMount, recs[0].Op)
	assert.Equal(t, []string{opts.String()}, recs[0].Files)
	assert.NotNil(t, recs[0].Creds)
	assert.Equal(t, int64(1), j.Info().Logged)
}

func TestOpenRejects(t *testing.T) {
	_, err := Open(blockdev.NewMemory(testDevSize), testOptions(), WithLogger(quietLog()))
	assert.ErrorIs(t, err, ErrNoSuperblock)

	dev := newDevice(t)
	bad := testOptions()
	bad.CommitSize = 10
	_, err = Open(dev, bad)
	assert.ErrorIs(t, err, ErrInvalidOption)

	sb, err := ReadSuperblock(dev, 0)
	require.NoError(t, err)
	sb.Flags |= FlagUpdate
	require.NoError(t, WriteSuperblock(dev, sb, 0, true))
	_, err = Open(dev, testOptions(), WithLogger(quietLog()))
	assert.ErrorIs(t, err, ErrUpdating)
}

func TestCommitOnBufferFull(t *testing.T) {
	j := mount(t, newDevice(t), testOptions())
	ctx := context.Background()
	require.NoError(t, j.Commit())
	base := j.Info()
	assert.Equal(t, int64(1), base.CommitForced)

	require.NoError(t, j.Append(ctx, userlog(40)))
	require.NoError(t, j.Append(ctx, userlog(64)))
	assert.Zero(t, j.Info().CommitSize)

	require.NoError(t, j.Append(ctx, userlog(4016)))
	info := j.Info()
	assert.Equal(t, int64(1), info.CommitSize, "the third record does not fit next to the first two")
	assert.Equal(t, base.Size+40+64+4016, info.Size)

	recs := drain(t, j)
	require.Equal(t, []Op{OpMount, OpUserlog, OpUserlog, OpUserlog}, ops(recs))
	for i, size := range []int{40, 64, 4016} {
		assert.Equal(t, size, recs[i+1].EncodedLen(8))
	}
	assert.Zero(t, j.Info().Size)
}

func TestConcurrentProducersKeepOrder(t *testing.T) {
	const producers, each = 8, 200
	j := mount(t, newDevice(t), testOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	got := make(chan *Record, producers*each+1)
	readErr := make(chan error, 1)
	go func() {
		p := make([]byte, 64*1024)
		n := 0
		for n < producers*each+1 {
			k, err := j.Read(ctx, p, true)
			if err != nil {
				readErr <- err
				return
			}
			s := NewStreamScanner(strings.NewReader(string(p[:k])))
			for s.Next() {
				got <- s.Record()
				n++
			}
			if s.Err() != nil {
				readErr <- s.Err()
				return
			}
		}
		readErr <- nil
	}()

	var wg sync.WaitGroup
	for g := 0; g < producers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				rec := &Record{Op: OpUserlog, Files: []string{fmt.Sprintf("%d/%d", g, i)}}
				if err := j.Append(ctx, rec); err != nil {
					t.Errorf("append %d/%d: %v", g, i, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, <-readErr)
	close(got)

	next := make([]int, producers)
	for r := range got {
		if r.Op == OpMount {
			continue
		}
		var g, i int
		_, err := fmt.Sscanf(r.Files[0], "%d/%d", &g, &i)
		require.NoError(t, err)
		require.Equal(t, next[g], i, "producer %d out of order", g)
		next[g]++
	}
	for g := range next {
		assert.Equal(t, each, next[g])
	}
}

func TestCapacityAcrossWraparound(t *testing.T) {
	j := mount(t, newDevice(t), testOptions())
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(1))
	space := j.Info().Space

	drain(t, j)
	var want []string
	length := int64(0)
	written := int64(0)
	for written < 3*space {
		if length < space/2 {
			size := 8 * (8 + rnd.Intn(400))
			rec := userlog(size)
			rec.Files[0] = strconv.Itoa(len(want)) + rec.Files[0][len(strconv.Itoa(len(want))):]
			require.NoError(t, j.Append(ctx, rec))
			want = append(want, rec.Files[0])
			length += int64(size)
			written += int64(size)
		} else {
			recs := drain(t, j)
			for _, r := range recs {
				require.Equal(t, want[0], r.Files[0])
				want = want[1:]
			}
			length = 0
		}
		info := j.Info()
		require.Equal(t, length, info.Size)
		require.LessOrEqual(t, info.Size, info.Space)
	}
	assert.Greater(t, j.Info().Start, int64(0))
}

func TestOverflowDropStoresOneMarker(t *testing.T) {
	opts := testOptions()
	opts.Overflow = OverflowDrop
	opts.CommitSize = 1 << 20
	j := mount(t, newDevice(t), opts)
	ctx := context.Background()
	drain(t, j)

	const size = 200 * 1024
	for i := 0; i < 30; i++ {
		require.NoError(t, j.Append(ctx, userlog(size)))
	}
	dropped, lost := j.Dropped()
	require.Greater(t, dropped, int64(0))
	assert.Equal(t, dropped*size, lost)
	info := j.Info()
	assert.Equal(t, dropped, info.Dropped)
	assert.LessOrEqual(t, info.Size, info.Space)

	recs := drain(t, j)
	counts := map[Op]int{}
	for _, r := range recs {
		counts[r.Op]++
	}
	assert.Equal(t, 1, counts[OpOverflow])
	assert.Equal(t, 30-int(dropped), counts[OpUserlog])
	require.Equal(t, 1, counts[OpRecover])

	last := recs[len(recs)-1]
	assert.Equal(t, OpRecover, last.Op)
	assert.Equal(t, int32(dropped), last.Result)
	assert.Equal(t, Size(lost), last.Payload)
	assert.Equal(t, OpOverflow, recs[len(recs)-2].Op)

	dropped, lost = j.Dropped()
	assert.Zero(t, dropped)
	assert.Zero(t, lost)
}

// fill appends records of size bytes until the next one would overflow.
func fill(t *testing.T, j *Journal, size int) {
	t.Helper()
	for {
		info := j.Info()
		if info.Size+int64(size)+HeaderSize > info.Space {
			return
		}
		require.NoError(t, j.Append(context.Background(), userlog(size)))
	}
}

func TestOverflowWaitBlocksUntilRead(t *testing.T) {
	opts := testOptions()
	opts.CommitSize = 1 << 20
	j := mount(t, newDevice(t), opts)
	const size = 256 * 1024
	fill(t, j, size)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, j.Append(ctx, userlog(size)), context.DeadlineExceeded)
	dropped, _ := j.Dropped()
	assert.Zero(t, dropped, "waiting producers are not counted as dropped")

	done := make(chan error, 1)
	go func() { done <- j.Append(context.Background(), userlog(size)) }()
	select {
	case err := <-done:
		t.Fatalf("append returned %v on a full journal", err)
	case <-time.After(50 * time.Millisecond):
	}

	p := make([]byte, 2*size)
	_, err := j.Read(context.Background(), p, false)
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("append still blocked after a read")
	}

	counts := map[Op]int{}
	for _, r := range drain(t, j) {
		counts[r.Op]++
	}
	assert.Equal(t, 1, counts[OpOverflow])
	assert.Equal(t, 1, counts[OpRecover])
}

func TestSwitchToDropReleasesWaiters(t *testing.T) {
	opts := testOptions()
	opts.CommitSize = 1 << 20
	j := mount(t, newDevice(t), opts)
	const size = 256 * 1024
	fill(t, j, size)

	done := make(chan error, 1)
	go func() { done <- j.Append(context.Background(), userlog(size)) }()
	time.Sleep(20 * time.Millisecond)

	drop := j.Options()
	drop.Overflow = OverflowDrop
	require.NoError(t, j.Remount(context.Background(), drop))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiting append not released by the switch to drop")
	}
}

func TestTooBig(t *testing.T) {
	j := mount(t, newDevice(t), testOptions())
	ctx := context.Background()
	drain(t, j)

	big := userlog(5000)
	require.NoError(t, j.Append(ctx, big))
	recs := drain(t, j)
	require.Len(t, recs, 1)
	assert.Equal(t, OpTooBig, recs[0].Op)
	assert.Equal(t, int32(5000), recs[0].Result)
	assert.Equal(t, Size(5000), recs[0].Payload)

	opts := j.Options()
	opts.TooBig = TooBigError
	require.NoError(t, j.Remount(ctx, opts))
	assert.ErrorIs(t, j.Append(ctx, big), ErrTooBig)
}

func TestReadWholeRecords(t *testing.T) {
	j := mount(t, newDevice(t), testOptions())
	ctx := context.Background()
	drain(t, j)
	require.NoError(t, j.Append(ctx, userlog(64)))
	require.NoError(t, j.Append(ctx, userlog(64)))

	_, err := j.Read(ctx, make([]byte, 63), false)
	assert.ErrorIs(t, err, ErrShortBuffer)

	n, err := j.Read(ctx, make([]byte, 100), false)
	require.NoError(t, err)
	assert.Equal(t, 64, n, "only whole records are returned")
	assert.Equal(t, int64(64), j.Info().Size)
}

func TestSkip(t *testing.T) {
	j := mount(t, newDevice(t), testOptions())
	ctx := context.Background()
	drain(t, j)
	for i := 0; i < 3; i++ {
		require.NoError(t, j.Append(ctx, userlog(64)))
	}
	n, err := j.Skip(63)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = j.Skip(150)
	require.NoError(t, err)
	assert.Equal(t, int64(128), n)
	assert.Len(t, drain(t, j), 1)

	_, err = j.Skip(-1)
	assert.ErrorIs(t, err, ErrRange)
}

func TestPreviewDoesNotConsume(t *testing.T) {
	j := mount(t, newDevice(t), testOptions())
	ctx := context.Background()
	require.NoError(t, j.Append(ctx, userlog(64)))

	recs, next, err := j.Preview(ctx, 0, 10, false)
	require.NoError(t, err)
	assert.Equal(t, []Op{OpMount, OpUserlog}, ops(recs))
	assert.Equal(t, j.Info().Size, next)

	_, _, err = j.Preview(ctx, next, 10, false)
	assert.ErrorIs(t, err, ErrWouldBlock)

	recs, _, err = j.Preview(ctx, 0, 1, false)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	// A consuming read moves the head past old cursors.
	drain(t, j)
	require.NoError(t, j.Append(ctx, userlog(40)))
	recs, _, err = j.Preview(ctx, 0, 10, false)
	require.NoError(t, err)
	assert.Equal(t, []Op{OpUserlog}, ops(recs))
}

func TestAcquireIsExclusive(t *testing.T) {
	j := mount(t, newDevice(t), testOptions())
	release, err := j.Acquire(StreamBinary)
	require.NoError(t, err)
	_, err = j.Acquire(StreamBinary)
	assert.ErrorIs(t, err, ErrBusy)

	other, err := j.Acquire(StreamText)
	require.NoError(t, err)
	other()

	release()
	release, err = j.Acquire(StreamBinary)
	require.NoError(t, err)
	release()
}

func TestCloseEndsReaders(t *testing.T) {
	j, err := Open(newDevice(t), testOptions(), WithLogger(quietLog()))
	require.NoError(t, err)
	drain(t, j)

	done := make(chan error, 1)
	go func() {
		p := make([]byte, BlockSize)
		for {
			if _, err := j.Read(context.Background(), p, true); err != nil {
				done <- err
				return
			}
		}
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, j.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(5 * time.Second):
		t.Fatal("reader not woken by close")
	}

	assert.ErrorIs(t, j.Append(context.Background(), userlog(40)), ErrClosed)
	assert.ErrorIs(t, j.Close(), ErrClosed)
	assert.False(t, j.Valid())
}

func TestCleanUnmountAndRemount(t *testing.T) {
	dev := newDevice(t)
	j, err := Open(dev, testOptions(), WithLogger(quietLog()))
	require.NoError(t, err)
	require.NoError(t, j.Append(context.Background(), &Record{Op: OpUserlog, Files: []string{"hello"}}))
	require.NoError(t, j.Close())

	for n := 0; n < 8; n++ {
		sb, err := ReadSuperblock(dev, n)
		require.NoError(t, err)
		if n == 0 {
			assert.Zero(t, sb.Flags&FlagDirty)
		}
	}

	j = mount(t, dev, testOptions())
	recs := drain(t, j)
	assert.Equal(t, []Op{OpMount, OpUserlog, OpUmount, OpMount}, ops(recs))
	assert.True(t, recs[2].Before)
}

func TestCrashRecoversCommittedRecords(t *testing.T) {
	dev := newDevice(t)
	j := mount(t, dev, testOptions())
	require.NoError(t, j.Append(context.Background(), &Record{Op: OpUserlog, Files: []string{"kept"}}))
	require.NoError(t, j.Commit())
	require.NoError(t, j.Append(context.Background(), &Record{Op: OpUserlog, Files: []string{"lost"}}))

	crashed := dev.Snapshot()
	sb, err := ReadSuperblock(crashed, 0)
	require.NoError(t, err)
	require.NotZero(t, sb.Flags&FlagDirty)

	// Losing the primary copy too must not matter.
	require.NoError(t, crashed.WriteBlock(0, make([]byte, BlockSize)))

	again := mount(t, crashed, testOptions())
	recs := drain(t, again)
	require.Equal(t, []Op{OpMount, OpUserlog, OpMount}, ops(recs))
	assert.Equal(t, []string{"kept"}, recs[1].Files)
}

func TestFailedCommitIsRetried(t *testing.T) {
	dev := newDevice(t)
	j := mount(t, dev, testOptions())
	require.NoError(t, j.Append(context.Background(), &Record{Op: OpUserlog, Files: []string{"retry"}}))

	dev.FailWrites(true)
	assert.ErrorIs(t, j.Commit(), blockdev.ErrInjected)

	recs, _, err := j.Preview(context.Background(), 0, 10, false)
	require.NoError(t, err)
	assert.Equal(t, []Op{OpMount, OpUserlog}, ops(recs), "records stay readable while the write is pending")

	dev.FailWrites(false)
	require.NoError(t, j.Commit())

	again := mount(t, dev.Snapshot(), testOptions())
	recs = drain(t, again)
	require.Equal(t, []Op{OpMount, OpUserlog, OpMount}, ops(recs))
	assert.Equal(t, []string{"retry"}, recs[1].Files)
}

func TestSyncAndFreeze(t *testing.T) {
	dev := newDevice(t)
	j := mount(t, dev, testOptions())
	v := j.Info().Version
	require.NoError(t, j.Sync())
	assert.Greater(t, j.Info().Version, v)

	require.NoError(t, j.Freeze())
	frozen := dev.Snapshot()
	sb, err := ReadSuperblock(frozen, 0)
	require.NoError(t, err)
	assert.Zero(t, sb.Flags&FlagDirty, "a frozen journal looks clean")
	assert.Equal(t, j.Info().Size, sb.DataLength)

	require.NoError(t, j.Unfreeze())
	sb, err = ReadSuperblock(dev, 0)
	require.NoError(t, err)
	assert.NotZero(t, sb.Flags&FlagDirty)
}

func TestRemount(t *testing.T) {
	opts := testOptions()
	opts.FS = "/data"
	opts.Log = LogTwice
	j := mount(t, newDevice(t), opts)
	ctx := context.Background()
	drain(t, j)

	next := opts
	next.CommitSize = 8192
	next.Log = LogAfter
	require.NoError(t, j.Remount(ctx, next))
	assert.Equal(t, next, j.Options())

	recs := drain(t, j)
	require.Equal(t, []Op{OpRemount, OpRemount}, ops(recs))
	assert.True(t, recs[0].Before)
	assert.False(t, recs[1].Before)
	assert.Equal(t, []string{next.String()}, recs[1].Files)

	moved := next
	moved.FS = "/elsewhere"
	assert.ErrorIs(t, j.Remount(ctx, moved), ErrFSChanged)
	assert.Equal(t, next, j.Options())
	recs = drain(t, j)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Before)
	assert.Negative(t, recs[0].Result)
}

func TestRemountFollowsLogMode(t *testing.T) {
	for _, tc := range []struct {
		from, to LogMode
		want     []bool
	}{
		{from: LogBefore, to: LogBefore, want: []bool{true}},
		{from: LogAfter, to: LogAfter, want: []bool{false}},
		{from: LogBefore, to: LogAfter, want: []bool{true, false}},
		{from: LogAfter, to: LogBefore, want: nil},
	} {
		t.Run(fmt.Sprintf("%v-%v", tc.from, tc.to), func(t *testing.T) {
			opts := testOptions()
			opts.Log = tc.from
			j := mount(t, newDevice(t), opts)
			drain(t, j)

			next := opts
			next.Log = tc.to
			require.NoError(t, j.Remount(context.Background(), next))
			var before []bool
			for _, r := range drain(t, j) {
				require.Equal(t, OpRemount, r.Op)
				before = append(before, r.Before)
			}
			assert.Equal(t, tc.want, before)
		})
	}
}

func TestTimerCommits(t *testing.T) {
	dev := newDevice(t)
	opts := testOptions()
	opts.CommitInterval = 20 * time.Millisecond
	j := mount(t, dev, opts)

	require.Eventually(t, func() bool {
		sb, _, err := Inspect(dev.Snapshot())
		return err == nil && sb.DataLength > 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Positive(t, j.Info().CommitTime)

	_, s, err := Inspect(dev.Snapshot())
	require.NoError(t, err)
	require.True(t, s.Next())
	assert.Equal(t, OpMount, s.Record().Op)
}

func TestDebugTrace(t *testing.T) {
	var (
		mu     sync.Mutex
		events []TraceEvent
	)
	tracer := TracerFunc(func(ev TraceEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	opts := testOptions()
	opts.Debug = true
	j, err := Open(newDevice(t), opts, WithLogger(quietLog()), WithTracer(tracer))
	require.NoError(t, err)

	recs := drain(t, j)
	require.Equal(t, []Op{OpDebug, OpMount}, ops(recs))
	assert.Equal(t, []string{"alloc(commit buffer, 4096)", "journal.go"}, recs[0].Files)
	assert.Positive(t, recs[0].Result)

	require.NoError(t, j.Close())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.True(t, events[0].Alloc)
	assert.False(t, events[1].Alloc)
	assert.Equal(t, opts.CommitSize, events[1].Size)
}

func TestDebugRemountResizesBuffer(t *testing.T) {
	dev := newDevice(t)
	opts := testOptions()
	opts.Debug = true
	j, err := Open(dev, opts, WithLogger(quietLog()), WithTracer(TracerFunc(func(TraceEvent) {})))
	require.NoError(t, err)

	next := opts
	next.CommitSize = 8192
	require.NoError(t, j.Remount(context.Background(), next))
	require.NoError(t, j.Append(context.Background(), &Record{Op: OpUserlog, Files: []string{"after"}}))
	require.NoError(t, j.Commit())
	require.NoError(t, j.Close())

	again := mount(t, dev, testOptions())
	recs := drain(t, again)
	require.Equal(t, []Op{
		OpDebug, OpMount,
		OpDebug, OpDebug, OpRemount,
		OpUserlog,
		OpUmount, OpDebug,
		OpMount,
	}, ops(recs))
	assert.Equal(t, "free(commit buffer, 4096)", recs[2].Files[0])
	assert.Equal(t, "alloc(commit buffer, 8192)", recs[3].Files[0])
	assert.Equal(t, []string{"after"}, recs[5].Files)
	assert.Equal(t, "free(commit buffer, 8192)", recs[7].Files[0])
}

// recordingDevice notes the kind of every write and flush it sees.
type recordingDevice struct {
	*blockdev.Memory

	mu        sync.Mutex
	log       []string
	failFlush bool
}

func (d *recordingDevice) note(what string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := len(d.log); n > 0 && d.log[n-1] == what && what == "data" {
		return
	}
	d.log = append(d.log, what)
}

func (d *recordingDevice) WriteBlock(n int64, p []byte) error {
	what := "data"
	for k := 0; k < MinSuperblocks; k++ {
		if SuperblockBlock(k) == n {
			what = "sb"
		}
	}
	d.note(what)
	return d.Memory.WriteBlock(n, p)
}

func (d *recordingDevice) Flush() error {
	d.note("flush")
	d.mu.Lock()
	fail := d.failFlush
	d.mu.Unlock()
	if fail {
		return blockdev.ErrInjected
	}
	return d.Memory.Flush()
}

// sinceData returns the operations from the first ring write on.
func (d *recordingDevice) sinceData() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, what := range d.log {
		if what == "data" {
			return append([]string(nil), d.log[i:]...)
		}
	}
	return nil
}

func TestCommitFlushesRingBeforeSuperblock(t *testing.T) {
	dev := &recordingDevice{Memory: newDevice(t)}
	j := mount(t, dev, testOptions())
	require.NoError(t, j.Append(context.Background(), &Record{Op: OpUserlog, Files: []string{"ordered"}}))
	require.NoError(t, j.Commit())
	assert.Equal(t, []string{"data", "flush", "sb", "flush"}, dev.sinceData())
}

func TestFailedFlushHoldsBackSuperblock(t *testing.T) {
	dev := &recordingDevice{Memory: newDevice(t)}
	j := mount(t, dev, testOptions())
	require.NoError(t, j.Append(context.Background(), &Record{Op: OpUserlog, Files: []string{"held"}}))

	dev.mu.Lock()
	dev.failFlush = true
	dev.mu.Unlock()
	assert.ErrorIs(t, j.Commit(), blockdev.ErrInjected)
	assert.Equal(t, []string{"data", "flush"}, dev.sinceData())

	dev.mu.Lock()
	dev.failFlush = false
	dev.mu.Unlock()
	require.NoError(t, j.Commit())
	assert.Equal(t, []string{"data", "flush", "flush", "sb", "flush"}, dev.sinceData())

	again := mount(t, dev.Snapshot(), testOptions())
	recs := drain(t, again)
	require.Equal(t, []Op{OpMount, OpUserlog, OpMount}, ops(recs))
	assert.Equal(t, []string{"held"}, recs[1].Files)
}

func TestTimerCommitFlushesRingBeforeSuperblock(t *testing.T) {
	dev := &recordingDevice{Memory: newDevice(t)}
	opts := testOptions()
	opts.CommitInterval = 20 * time.Millisecond
	mount(t, dev, opts)

	require.Eventually(t, func() bool {
		return len(dev.sinceData()) >= 4
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"data", "flush", "sb", "flush"}, dev.sinceData()[:4])
}

func TestCrashPicksNewestCopy(t *testing.T) {
	dev := newDevice(t)
	j := mount(t, dev, testOptions())
	ctx := context.Background()
	require.NoError(t, j.Append(ctx, &Record{Op: OpUserlog, Files: []string{"read"}}))
	require.NoError(t, j.Commit())
	drain(t, j)
	require.NoError(t, j.Append(ctx, &Record{Op: OpUserlog, Files: []string{"unread"}}))
	require.NoError(t, j.Commit())

	crashed := dev.Snapshot()
	var newest *Superblock
	for n := 0; n < MinSuperblocks; n++ {
		sb, err := ReadSuperblock(crashed, n)
		require.NoError(t, err)
		if newest == nil || sb.Version > newest.Version {
			newest = sb
		}
	}
	require.NotZero(t, newest.Flags&FlagDirty)
	require.NotZero(t, newest.Index, "the newest copy is not the primary")
	require.NotZero(t, newest.DataStart)

	sb, _, err := Inspect(crashed)
	require.NoError(t, err)
	assert.Equal(t, newest.Index, sb.Index)
	assert.Equal(t, newest.DataStart, sb.DataStart)
	assert.Equal(t, newest.DataLength, sb.DataLength)

	again := mount(t, crashed, testOptions())
	assert.Equal(t, newest.DataStart, again.Info().Start)
	recs := drain(t, again)
	require.Equal(t, []Op{OpUserlog, OpMount}, ops(recs))
	assert.Equal(t, []string{"unread"}, recs[0].Files)
}

func TestCloseDoesNotWaitForSpace(t *testing.T) {
	dev := newDevice(t)
	opts := testOptions()
	opts.CommitSize = 1 << 20
	j, err := Open(dev, opts, WithLogger(quietLog()))
	require.NoError(t, err)
	fill(t, j, 256*1024)
	fill(t, j, 64)

	waiting := make(chan error, 1)
	go func() { waiting <- j.Append(context.Background(), userlog(64)) }()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- j.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("close blocked on a full journal")
	}
	select {
	case err := <-waiting:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("waiting append not released by close")
	}

	sb, err := ReadSuperblock(dev, 0)
	require.NoError(t, err)
	assert.Zero(t, sb.Flags&FlagDirty)
}

func TestConcurrentClose(t *testing.T) {
	j, err := Open(newDevice(t), testOptions(), WithLogger(quietLog()))
	require.NoError(t, err)

	errs := make([]error, 4)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = j.Close()
		}()
	}
	wg.Wait()

	closed := 0
	for _, err := range errs {
		if err == nil {
			closed++
			continue
		}
		assert.ErrorIs(t, err, ErrClosed)
	}
	assert.Equal(t, 1, closed)
}
