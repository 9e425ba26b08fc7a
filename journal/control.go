package journal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// MaxControlLine is the longest control line accepted, newline excluded.
const MaxControlLine = 143

// Control runs one line of the control language:
//
//	commit        force a commit of the buffer
//	clear N       discard whole records totalling at most N bytes
//	userlog TEXT  store TEXT as a USER_LOG record
//
// Empty lines are accepted and ignored.
func (j *Journal) Control(ctx context.Context, line string) error {
	line = strings.TrimSuffix(line, "\n")
	if len(line) > MaxControlLine {
		return ErrLineTooLong
	}
	if line == "" {
		return nil
	}
	if !j.valid.Load() {
		return ErrClosed
	}
	switch {
	case strings.HasPrefix(line, "commit"):
		return j.Commit()
	case strings.HasPrefix(line, "clear"):
		fields := strings.Fields(line[len("clear"):])
		if len(fields) == 0 {
			return fmt.Errorf("%w: clear needs a byte count", ErrUnknownCommand)
		}
		n, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: clear %q", ErrUnknownCommand, fields[0])
		}
		if n < 0 {
			return ErrRange
		}
		_, err = j.Skip(n)
		return err
	case strings.HasPrefix(line, "userlog"):
		text := line[len("userlog"):]
		if text != "" && (text[0] == ' ' || text[0] == '\t') {
			text = text[1:]
		}
		return j.Append(ctx, &Record{Op: OpUserlog, Creds: ProcessCreds(), Files: []string{text}})
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, line)
}
