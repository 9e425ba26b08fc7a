package control

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// RemoteError is a refusal sent by the server.
type RemoteError struct {
	Line string
	Msg  string
}

func (e *RemoteError) Error() string {
	if e.Line == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Line, e.Msg)
}

// Client talks to the control socket at Path. Every call uses its own
// connection.
type Client struct {
	Path string
}

// NewClient returns a client for the socket at path.
func NewClient(path string) *Client {
	return &Client{Path: path}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", c.Path)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	return conn, nil
}

// parseReply turns a reply line into nil or a RemoteError.
func parseReply(line, reply string) error {
	reply = strings.TrimSuffix(reply, "\n")
	switch {
	case reply == replyOK:
		return nil
	case strings.HasPrefix(reply, replyError):
		return &RemoteError{Line: line, Msg: strings.TrimPrefix(reply, replyError)}
	}
	return errors.Errorf("unexpected reply %q", reply)
}

// Info returns the journal state as "key: value" lines.
func (c *Client) Info(ctx context.Context) (string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := io.WriteString(conn, modeInfo+"\n"); err != nil {
		return "", errors.Wrap(err, "failed to send info request")
	}
	b, err := io.ReadAll(conn)
	if err != nil {
		return "", errors.Wrap(err, "failed to read info")
	}
	return string(b), nil
}

// Blog opens the binary record stream. Records read from it are removed
// from the journal.
func (c *Client) Blog(ctx context.Context, wait bool) (io.ReadCloser, error) {
	return c.open(ctx, modeBlog, wait)
}

// Hlog opens the text record stream.
func (c *Client) Hlog(ctx context.Context, wait bool) (io.ReadCloser, error) {
	return c.open(ctx, modeHlog, wait)
}

type streamConn struct {
	io.Reader
	conn net.Conn
	stop func() bool
}

func (s *streamConn) Close() error {
	s.stop()
	return s.conn.Close()
}

func (c *Client) open(ctx context.Context, mode string, wait bool) (io.ReadCloser, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	line := mode
	if wait {
		line += " " + modeWait
	}
	if _, err := io.WriteString(conn, line+"\n"); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "failed to request %s", mode)
	}
	br := bufio.NewReader(conn)
	reply, err := br.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "failed to open %s", mode)
	}
	if err := parseReply(line, reply); err != nil {
		conn.Close()
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	return &streamConn{Reader: br, conn: conn, stop: stop}, nil
}

// Command sends control lines in one session and returns the first
// refusal, after every line has been answered.
func (c *Client) Command(ctx context.Context, lines ...string) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	br := bufio.NewReader(conn)
	var first error
	for _, line := range lines {
		if _, err := io.WriteString(conn, line+"\n"); err != nil {
			return errors.Wrap(err, "failed to send control line")
		}
		reply, err := br.ReadString('\n')
		if err != nil {
			return errors.Wrap(err, "failed to read control reply")
		}
		if err := parseReply(line, reply); err != nil && first == nil {
			first = err
		}
	}
	return first
}
