package journal

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dendrascience/shallfs/blockdev"
)

// mountCopies is how many superblock copies mount and unmount rewrite.
const mountCopies = 7

// Journal is a mounted journal. All methods are safe for concurrent use.
type Journal struct {
	id      uuid.UUID
	dev     blockdev.Device
	geo     Geometry
	log     *logrus.Entry
	tracer  Tracer
	now     func() time.Time
	mounted time.Time

	// flushMu is held by whoever writes the ring or the superblocks. It
	// is always taken before mu.
	flushMu sync.Mutex
	scratch []byte

	mu         sync.Mutex
	rbuf       []byte
	opts       Options
	sb         Superblock
	start      Pointer
	commitPtr  Pointer
	committed  int64
	buf        []byte
	bufWritten int
	bufRead    int
	pending    *chunk
	stale      bool // ring bytes no superblock covers yet
	lastSB     int
	lastCommit time.Time
	logged     int64
	commits    [numReasons]int64
	consumed   int64
	paused     int
	resumed    *notifier
	data       *notifier

	ov overflowState

	valid    atomic.Bool
	someData atomic.Bool
	streams  [numStreams]atomic.Bool

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

// Option configures a Journal at Open.
type Option func(*Journal)

// WithLogger sets the logger used by the journal.
func WithLogger(log *logrus.Entry) Option {
	return func(j *Journal) { j.log = log }
}

// WithTracer sets the hook that receives allocation events in debug mode.
func WithTracer(t Tracer) Option {
	return func(j *Journal) { j.tracer = t }
}

// WithClock replaces time.Now for record timestamps and commit scheduling.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// WithID sets the registry id of the journal.
func WithID(id uuid.UUID) Option {
	return func(j *Journal) { j.id = id }
}

// ProcessCreds returns the credentials of the running process.
func ProcessCreds() *Creds {
	uid, euid := uint64(os.Getuid()), uint64(os.Geteuid())
	gid, egid := uint64(os.Getgid()), uint64(os.Getegid())
	return &Creds{UID: uid, EUID: euid, FSUID: euid, GID: gid, EGID: egid, FSGID: egid}
}

// Open mounts the journal on dev. The superblock to use is chosen as for a
// crash recovery: the primary if valid, else any valid copy, and the
// highest version if the journal was not unmounted cleanly.
func Open(dev blockdev.Device, opts Options, options ...Option) (*Journal, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	sb, err := loadSuperblock(dev)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		id:      uuid.New(),
		dev:     dev,
		scratch: make([]byte, BlockSize),
		rbuf:    make([]byte, BlockSize),
		now:     time.Now,
		opts:    opts,
		sb:      *sb,
		resumed: newNotifier(),
		data:    newNotifier(),
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	j.ov.freed = newNotifier()
	for _, o := range options {
		o(j)
	}
	if j.log == nil {
		j.log = logrus.NewEntry(logrus.StandardLogger())
	}
	j.log = j.log.WithField("journal", j.id.String())
	if j.opts.Debug && j.tracer == nil {
		j.tracer = LogTracer(j.log)
	}

	j.geo = Geometry{DataSpace: sb.DataSpace, NumSuperblocks: sb.NumSuperblocks}
	j.start = j.geo.PointerAt(sb.DataStart)
	j.commitPtr = j.geo.Advance(j.start, sb.DataLength)
	j.committed = sb.DataLength
	j.someData.Store(sb.DataLength > 0)
	j.mounted = j.now()
	j.lastCommit = j.mounted

	j.mu.Lock()
	j.allocBuffer(opts.CommitSize)
	j.sb.Flags |= FlagDirty
	j.mu.Unlock()
	if err := j.updateSuperblocks(); err != nil {
		return nil, err
	}
	j.valid.Store(true)

	if err := j.appendNoWait(&Record{
		Op:    OpMount,
		Time:  Now(j.now()),
		Creds: ProcessCreds(),
		Files: []string{opts.String()},
	}, nil); err != nil {
		j.log.WithError(err).Warn("failed to log mount")
	}
	j.log.WithFields(logrus.Fields{
		"version": j.sb.Version,
		"size":    j.sb.DataLength,
		"space":   j.sb.DataSpace,
	}).Info("journal mounted")

	go j.runTimer()
	return j, nil
}

// ID returns the registry id of the journal.
func (j *Journal) ID() uuid.UUID { return j.id }

// Options returns the current mount options.
func (j *Journal) Options() Options {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.opts
}

// allocBuffer replaces the commit buffer. Called with j.mu held and the
// buffer empty.
func (j *Journal) allocBuffer(size int) {
	old := len(j.buf)
	j.buf = make([]byte, size)
	j.bufRead, j.bufWritten = 0, 0
	// Both trace records go into the new buffer.
	if old > 0 {
		j.trace(false, "commit buffer", old)
	}
	j.trace(true, "commit buffer", size)
}

// snapshot returns the superblock image of what is on the ring: buffered
// records and a chunk whose write failed are not counted. Called with j.mu
// held.
func (j *Journal) snapshot() *Superblock {
	sb := j.sb
	sb.DataStart = j.start.Logical
	sb.DataLength = j.committed
	if j.pending != nil {
		sb.DataLength = max(0, sb.DataLength-int64(len(j.pending.data)))
	}
	return &sb
}

// updateSuperblocks bumps the version and rewrites a spread of copies
// starting at 0. Used at mount and unmount only.
func (j *Journal) updateSuperblocks() error {
	j.mu.Lock()
	j.sb.Version++
	sb := j.snapshot()
	j.mu.Unlock()

	n := min(mountCopies, sb.NumSuperblocks)
	step := sb.NumSuperblocks / n
	which := 0
	for i := 0; i < n; i++ {
		if err := WriteSuperblock(j.dev, sb, which, true); err != nil {
			return err
		}
		which += step
		if which >= sb.NumSuperblocks {
			which -= sb.NumSuperblocks
		}
	}

	j.mu.Lock()
	j.lastSB = which
	j.mu.Unlock()
	return nil
}

// nextSlot advances the rotating superblock slot. Slot 0 is only written
// at mount, unmount and freeze. Called with j.mu held.
func (j *Journal) nextSlot() int {
	j.lastSB++
	if j.lastSB >= j.sb.NumSuperblocks {
		j.lastSB = 1
	}
	return j.lastSB
}

// Close ends all readers and producers, logs the unmount, commits
// everything and marks the superblocks clean. It never waits for ring
// space: an unmount record that does not fit is dropped.
func (j *Journal) Close() error {
	if !j.invalidate() {
		return ErrClosed
	}
	close(j.stop)
	<-j.done
	commitErr := j.finalCommit()

	j.mu.Lock()
	j.sb.Flags &^= FlagDirty
	j.mu.Unlock()
	sbErr := j.updateSuperblocks()

	j.log.Info("journal unmounted")
	if commitErr != nil {
		return errors.Wrap(commitErr, "failed final commit")
	}
	return sbErr
}

// invalidate marks the journal as going away and wakes every reader and
// waiting producer. It reports false if the journal was already invalid.
func (j *Journal) invalidate() bool {
	j.mu.Lock()
	if !j.valid.Load() {
		j.mu.Unlock()
		return false
	}
	j.valid.Store(false)
	j.mu.Unlock()
	j.data.broadcast()
	j.resumed.broadcast()
	j.ov.freed.broadcast()
	return true
}

// finalCommit stores the unmount record if the ring has room and writes
// out the buffer. Called once the journal is invalid and the timer has
// stopped.
func (j *Journal) finalCommit() error {
	rec := &Record{Op: OpUmount, Before: true, Time: Now(j.now()), Creds: ProcessCreds()}
	return j.appendNoWait(rec, func() error {
		j.mu.Lock()
		j.trace(false, "commit buffer", len(j.buf))
		j.mu.Unlock()
		return j.flush(reasonForced, true)
	})
}

// appendNoWait stores an internal record without ever waiting for ring
// space: a record the ring cannot hold is dropped. A full buffer is
// flushed first. If then is set it runs afterwards with flushMu held.
func (j *Journal) appendNoWait(rec *Record, then func() error) error {
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	j.mu.Lock()
	size := rec.EncodedLen(j.sb.Alignment)
	full := j.bufWritten+size > len(j.buf)
	j.mu.Unlock()
	if full {
		if err := j.flush(reasonSize, false); err != nil {
			return err
		}
	}

	j.mu.Lock()
	if j.hasRoom(size) && j.bufWritten+size <= len(j.buf) {
		j.stage(rec, size)
	} else {
		j.log.WithField("op", rec.Op.String()).Warn("journal full, record not logged")
	}
	j.mu.Unlock()
	if then == nil {
		return nil
	}
	return then()
}

// Valid reports whether the journal is still mounted.
func (j *Journal) Valid() bool { return j.valid.Load() }

// Commit writes all buffered records to the device.
func (j *Journal) Commit() error {
	if !j.valid.Load() {
		return ErrClosed
	}
	return j.forceCommit(reasonForced, true, nil)
}

// Sync commits everything, writes the next superblock copy and flushes
// the device.
func (j *Journal) Sync() error {
	if !j.valid.Load() {
		return ErrClosed
	}
	j.flushMu.Lock()
	defer j.flushMu.Unlock()
	err := j.flush(reasonForced, true)

	j.mu.Lock()
	j.sb.Version++
	n := j.nextSlot()
	j.lastCommit = j.now()
	img := encodeSuperblockBlock(j.snapshot(), n)
	j.mu.Unlock()

	if werr := writeSuperblockBlock(j.dev, img, n, true); err == nil {
		err = werr
	}
	return err
}

// Freeze commits everything and leaves the device looking cleanly
// unmounted, for snapshotting. The caller stops producers until Unfreeze.
func (j *Journal) Freeze() error {
	if !j.valid.Load() {
		return ErrClosed
	}
	j.flushMu.Lock()
	defer j.flushMu.Unlock()
	err := j.flush(reasonForced, true)

	j.mu.Lock()
	n := j.lastSB
	j.lastSB = 0
	j.lastCommit = j.now()
	j.sb.Version++
	j.sb.Flags &^= FlagDirty
	sb := j.snapshot()
	j.mu.Unlock()

	for _, slot := range []int{n, 0} {
		if werr := WriteSuperblock(j.dev, sb, slot, false); err == nil {
			err = werr
		}
	}
	if ferr := j.dev.Flush(); err == nil && ferr != nil {
		err = errors.Wrap(ferr, "failed to flush device")
	}
	return err
}

// Unfreeze marks the journal dirty again after Freeze.
func (j *Journal) Unfreeze() error {
	if !j.valid.Load() {
		return ErrClosed
	}
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	j.mu.Lock()
	j.lastSB = 1
	j.lastCommit = j.now()
	j.sb.Version++
	j.sb.Flags |= FlagDirty
	sb := j.snapshot()
	j.mu.Unlock()

	for _, slot := range []int{0, 1} {
		if err := WriteSuperblock(j.dev, sb, slot, false); err != nil {
			return err
		}
	}
	return errors.Wrap(j.dev.Flush(), "failed to flush device")
}

// Remount logs the change and applies new options inside a forced commit.
// The underlying filesystem cannot change.
func (j *Journal) Remount(ctx context.Context, opts Options) error {
	if !j.valid.Load() {
		return ErrClosed
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	old := j.Options()
	result := int32(0)
	if opts.FS != old.FS {
		result = -int32(syscall.EINVAL)
	}
	if old.LogsBefore() {
		if err := j.Append(ctx, &Record{
			Op:     OpRemount,
			Before: true,
			Creds:  ProcessCreds(),
			Files:  []string{opts.String()},
		}); err != nil {
			return err
		}
	}
	if result != 0 {
		if old.LogsAfter() {
			j.appendAfter(ctx, OpRemount, result, old.String())
		}
		return ErrFSChanged
	}

	err := j.forceCommit(reasonForced, true, func() {
		if opts.CommitSize != j.opts.CommitSize {
			j.allocBuffer(opts.CommitSize)
		}
		wasWait := j.opts.Overflow == OverflowWait
		j.opts = opts
		if wasWait && opts.Overflow == OverflowDrop {
			j.ov.freed.broadcast()
		}
	})
	select {
	case j.kick <- struct{}{}:
	default:
	}
	if err != nil {
		return err
	}
	if opts.LogsAfter() {
		j.appendAfter(ctx, OpRemount, 0, opts.String())
	}
	return nil
}

func (j *Journal) appendAfter(ctx context.Context, op Op, result int32, name string) {
	if err := j.Append(ctx, &Record{Op: op, Result: result, Creds: ProcessCreds(), Files: []string{name}}); err != nil {
		j.log.WithError(err).Warnf("failed to log %s", op)
	}
}
