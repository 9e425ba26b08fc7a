package auditfs

import (
	"context"
	"os"
	"path/filepath"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/sirupsen/logrus"

	"github.com/dendrascience/shallfs/journal"
	"github.com/dendrascience/shallfs/util"
)

// Journal is where the filesystem records its operations.
type Journal interface {
	Append(ctx context.Context, r *journal.Record) error
	Options() journal.Options
}

// FS implements the auditing pass-through filesystem
type FS struct {
	root  string // Mirrored directory
	j     Journal
	log   *logrus.Entry
	ids   util.IDAllocator // File ids of written handles
	owner bool             // New nodes are given to the caller
}

// NewFS creates a filesystem mirroring root and logging to j.
func NewFS(root string, j Journal, log *logrus.Entry) *FS {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FS{
		root:  filepath.Clean(root),
		j:     j,
		log:   log.WithField("fs", root),
		owner: os.Geteuid() == 0,
	}
}

// Root returns the root directory node
func (f *FS) Root() (fs.Node, error) {
	return &Dir{node{fs: f}}, nil
}

// credsOf returns the credentials of the process behind a request. FUSE
// only reports one user and group.
func credsOf(h *fuse.Header) *journal.Creds {
	uid, gid := uint64(h.Uid), uint64(h.Gid)
	return &journal.Creds{UID: uid, EUID: uid, FSUID: uid, GID: gid, EGID: gid, FSGID: gid}
}

// event is one logged operation.
type event struct {
	op      journal.Op
	files   []string
	payload journal.Payload
	// after supplies the payload of the after-record when it differs.
	after func() journal.Payload
}

// logged runs fn between the records the log mode asks for. A failing
// before-record prevents fn from running; a failing after-record is only
// reported. fn may be nil for events with no underlying operation.
func (f *FS) logged(ctx context.Context, creds *journal.Creds, ev event, fn func() error) error {
	mode := f.j.Options().Log
	if mode&journal.LogBefore != 0 {
		err := f.j.Append(ctx, &journal.Record{
			Op:      ev.op,
			Before:  true,
			Creds:   creds,
			Files:   ev.files,
			Payload: ev.payload,
		})
		if err != nil {
			f.log.WithError(err).WithField("op", ev.op.String()).Debug("operation refused")
			return errno(err)
		}
	}

	var err error
	if fn != nil {
		err = fn()
	}

	if mode&journal.LogAfter != 0 {
		p := ev.payload
		if ev.after != nil && err == nil {
			p = ev.after()
		}
		f.appendAfter(ctx, &journal.Record{
			Op:      ev.op,
			Result:  util.Result(err),
			Creds:   creds,
			Files:   ev.files,
			Payload: p,
		})
	}
	return errno(err)
}

func (f *FS) appendAfter(ctx context.Context, r *journal.Record) {
	if err := f.j.Append(ctx, r); err != nil {
		f.log.WithError(err).WithField("op", r.Op.String()).Warn("failed to log operation")
	}
}

// chown gives a new node to the caller when running as root.
func (f *FS) chown(path string, h *fuse.Header) error {
	if !f.owner {
		return nil
	}
	return os.Lchown(path, int(h.Uid), int(h.Gid))
}

// errno converts err to the error returned to the kernel.
func errno(err error) error {
	if err == nil {
		return nil
	}
	return fuse.Errno(util.Errno(err))
}
