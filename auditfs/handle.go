package auditfs

import (
	"context"
	"io"
	"os"
	"sync"

	"bazil.org/fuse"

	"github.com/dendrascience/shallfs/journal"
	"github.com/dendrascience/shallfs/util"
)

// Handle is an open mirrored file. The first write gives it a file id that
// ties its WRITE, COMMIT and CLOSE records to the OPEN record.
type Handle struct {
	node
	file *os.File

	mu     sync.Mutex
	id     journal.FileID
	region *journal.Region // Written but not yet logged
	creds  *journal.Creds  // Of the writes in region
}

func newHandle(n node, file *os.File) *Handle {
	return &Handle{node: n, file: file}
}

// Read reads from the mirrored file
func (h *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	n, err := h.file.ReadAt(buf, req.Offset)
	if err == io.EOF {
		err = nil
	}
	resp.Data = buf[:n]
	return errno(err)
}

// Write writes to the mirrored file
func (h *Handle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	creds := credsOf(&req.Header)
	opts := h.fs.j.Options()
	if h.id == 0 {
		id := journal.FileID(h.fs.ids.Next())
		if err := h.fs.logged(ctx, creds, event{
			op:      journal.OpOpen,
			files:   []string{h.name()},
			payload: id,
		}, nil); err != nil {
			return err
		}
		h.id = id
	}

	data := opts.Data == journal.DataLogData
	start := uint64(req.Offset)
	if opts.Log&journal.LogBefore != 0 {
		recs := []*journal.Record{{
			Op:      journal.OpWrite,
			Before:  true,
			Creds:   creds,
			Payload: &journal.Region{Start: start, Length: uint64(len(req.Data)), FileID: h.id},
		}}
		if data {
			recs = journal.DataRecords(true, h.id, start, req.Data, 0, creds)
		}
		for _, r := range recs {
			if err := h.fs.j.Append(ctx, r); err != nil {
				return errno(err)
			}
		}
	}

	n, err := h.file.WriteAt(req.Data, req.Offset)
	resp.Size = n
	if opts.Log&journal.LogAfter != 0 {
		h.written(ctx, creds, start, req.Data[:n], err, data)
	}
	return errno(err)
}

// written logs a completed write. Successful writes without data logging
// extend the pending region when they continue it.
func (h *Handle) written(ctx context.Context, creds *journal.Creds, start uint64, p []byte, err error, data bool) {
	if data {
		h.flushRegion(ctx)
		for _, r := range journal.DataRecords(false, h.id, start, p, util.Result(err), creds) {
			h.fs.appendAfter(ctx, r)
		}
		return
	}
	if err == nil && h.region != nil && h.region.End() == start && *h.creds == *creds {
		h.region.Length += uint64(len(p))
		return
	}
	h.flushRegion(ctx)
	region := &journal.Region{Start: start, Length: uint64(len(p)), FileID: h.id}
	if err != nil {
		h.fs.appendAfter(ctx, &journal.Record{Op: journal.OpWrite, Result: util.Result(err), Creds: creds, Payload: region})
		return
	}
	h.region, h.creds = region, creds
}

// flushRegion logs the pending coalesced region. Called with h.mu held.
func (h *Handle) flushRegion(ctx context.Context) {
	if h.region == nil {
		return
	}
	h.fs.appendAfter(ctx, &journal.Record{Op: journal.OpWrite, Creds: h.creds, Payload: h.region})
	h.region, h.creds = nil, nil
}

// Flush logs a COMMIT for handles that were written to
func (h *Handle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flushRegion(ctx)
	if h.id == 0 {
		return nil
	}
	return h.fs.logged(ctx, credsOf(&req.Header), event{op: journal.OpCommit, payload: h.id}, nil)
}

// Release closes the mirrored file and logs a CLOSE for written handles
func (h *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flushRegion(ctx)
	err := h.file.Close()
	if h.id != 0 {
		h.fs.appendClose(ctx, credsOf(&req.Header), h.id, err)
	}
	return errno(err)
}

// appendClose logs CLOSE for the modes that want it. The file is already
// closed, so a refused before-record changes nothing.
func (f *FS) appendClose(ctx context.Context, creds *journal.Creds, id journal.FileID, err error) {
	mode := f.j.Options().Log
	if mode&journal.LogBefore != 0 {
		f.appendAfter(ctx, &journal.Record{Op: journal.OpClose, Before: true, Creds: creds, Payload: id})
	}
	if mode&journal.LogAfter != 0 {
		f.appendAfter(ctx, &journal.Record{Op: journal.OpClose, Result: util.Result(err), Creds: creds, Payload: id})
	}
}
