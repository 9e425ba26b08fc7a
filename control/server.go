package control

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dendrascience/shallfs/journal"
)

// Service is the journal surface served over a socket.
type Service interface {
	Info() journal.Info
	Control(ctx context.Context, line string) error
	Acquire(s journal.Stream) (release func(), err error)
	Read(ctx context.Context, p []byte, wait bool) (int, error)
	Preview(ctx context.Context, cursor int64, limit int, wait bool) ([]*journal.Record, int64, error)
}

const (
	modeInfo = "info"
	modeBlog = "blog"
	modeHlog = "hlog"
	modeWait = "wait"

	replyOK    = "ok"
	replyError = "error: "

	// maxLine bounds what is buffered of one client line. Longer lines end
	// the session; lines that fit but exceed MaxControlLine are refused by
	// the journal.
	maxLine = 4096

	streamChunk  = 64 * 1024
	previewBatch = 64
)

// Server answers control connections for one journal.
type Server struct {
	svc  Service
	path string
	log  *logrus.Entry
	l    net.Listener

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// Listen creates the socket at path with the given permissions, replacing
// a stale socket left by an earlier run.
func Listen(path string, mode os.FileMode, svc Service, log *logrus.Entry) (*Server, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create socket directory")
	}
	if info, err := os.Lstat(path); err == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return nil, errors.Errorf("%s exists and is not a socket", path)
		}
		if conn, err := net.Dial("unix", path); err == nil {
			conn.Close()
			return nil, errors.Wrapf(journal.ErrBusy, "%s is in use", path)
		}
		os.Remove(path)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", path)
	}
	if mode != 0 {
		if err := os.Chmod(path, mode); err != nil {
			l.Close()
			return nil, errors.Wrapf(err, "failed to set mode of %s", path)
		}
	}
	return &Server{
		svc:  svc,
		path: path,
		log:  log.WithField("socket", path),
		l:    l,
	}, nil
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// Serve accepts connections until ctx is done or Close is called, then
// waits for every session to end.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	stop := context.AfterFunc(ctx, func() { s.l.Close() })
	defer stop()

	s.log.Info("control socket listening")
	for {
		conn, err := s.l.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "failed to accept control connection")
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// Close stops the server, ends every session and removes the socket.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := s.l.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	s.wg.Wait()
	if rerr := os.Remove(s.path); rerr != nil && !os.IsNotExist(rerr) && err == nil {
		err = rerr
	}
	return err
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 256), maxLine)
	if !sc.Scan() {
		return
	}
	first := sc.Text()
	mode, arg, _ := strings.Cut(strings.TrimSpace(first), " ")
	wait := strings.TrimSpace(arg) == modeWait

	var err error
	switch mode {
	case modeInfo:
		_, err = io.WriteString(conn, s.svc.Info().String())
	case modeBlog:
		err = s.stream(ctx, conn, journal.StreamBinary, func(ctx context.Context) error { return s.blog(ctx, conn, wait) })
	case modeHlog:
		err = s.stream(ctx, conn, journal.StreamText, func(ctx context.Context) error { return s.hlog(ctx, conn, wait) })
	default:
		err = s.session(ctx, conn, sc, first)
	}
	if err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		s.log.WithError(err).WithField("mode", mode).Debug("control connection ended")
	}
}

// stream answers "ok" and runs fn while holding the stream, or answers
// "error: MSG" when the stream cannot be acquired. The context given to fn
// ends when the client hangs up.
func (s *Server) stream(ctx context.Context, conn net.Conn, which journal.Stream, fn func(ctx context.Context) error) error {
	release, err := s.svc.Acquire(which)
	if err != nil {
		fmt.Fprintln(conn, replyError+err.Error())
		return err
	}
	defer release()
	if _, err := fmt.Fprintln(conn, replyOK); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		io.Copy(io.Discard, conn)
		cancel()
	}()
	return fn(ctx)
}

func (s *Server) blog(ctx context.Context, w io.Writer, wait bool) error {
	p := make([]byte, streamChunk)
	for {
		n, err := s.svc.Read(ctx, p, wait)
		if n > 0 {
			if _, werr := w.Write(p[:n]); werr != nil {
				return werr
			}
		}
		switch {
		case errors.Is(err, journal.ErrWouldBlock):
			return nil
		case errors.Is(err, journal.ErrShortBuffer):
			p = make([]byte, 2*len(p))
		case err != nil:
			return err
		}
	}
}

func (s *Server) hlog(ctx context.Context, w io.Writer, wait bool) error {
	bw := bufio.NewWriter(w)
	var cursor int64
	for {
		recs, next, err := s.svc.Preview(ctx, cursor, previewBatch, wait)
		for _, r := range recs {
			bw.WriteString(journal.FormatRecord(r))
			bw.WriteByte('\n')
		}
		if ferr := bw.Flush(); ferr != nil {
			return ferr
		}
		cursor = next
		switch {
		case errors.Is(err, journal.ErrWouldBlock):
			return nil
		case err != nil:
			return err
		}
	}
}

// session answers control lines until the client hangs up.
func (s *Server) session(ctx context.Context, w io.Writer, sc *bufio.Scanner, line string) error {
	for {
		reply := replyOK
		if err := s.svc.Control(ctx, line); err != nil {
			reply = replyError + err.Error()
		}
		if _, err := fmt.Fprintln(w, reply); err != nil {
			return err
		}
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				fmt.Fprintln(w, replyError+journal.ErrLineTooLong.Error())
				return err
			}
			return nil
		}
		line = sc.Text()
	}
}
