package journal

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OverflowPolicy selects what happens to a record when the ring is full.
type OverflowPolicy int

const (
	OverflowWait OverflowPolicy = iota
	OverflowDrop
)

// TooBigPolicy selects what happens to a record larger than the commit buffer.
type TooBigPolicy int

const (
	TooBigLog TooBigPolicy = iota
	TooBigError
)

// LogMode says whether operations are logged before they run, after, or both.
type LogMode int

const (
	LogBefore LogMode = 1 << iota
	LogAfter
	LogTwice = LogBefore | LogAfter
)

// DataLogging selects how written file contents are recorded.
type DataLogging int

const (
	DataLogNone DataLogging = iota
	DataLogHash
	DataLogData
)

// MinCommitSize is the smallest commit buffer accepted.
const MinCommitSize = 4096

// Options are the mount options of a journal.
type Options struct {
	FS             string
	CommitInterval time.Duration
	CommitSize     int
	Overflow       OverflowPolicy
	TooBig         TooBigPolicy
	Log            LogMode
	Data           DataLogging
	Debug          bool
}

// DefaultOptions returns the options used for keys left unset.
func DefaultOptions() Options {
	return Options{
		CommitInterval: 5 * time.Second,
		CommitSize:     MinCommitSize,
		Overflow:       OverflowWait,
		TooBig:         TooBigLog,
		Log:            LogAfter,
		Data:           DataLogNone,
	}
}

var (
	overflowNames = map[string]OverflowPolicy{"wait": OverflowWait, "drop": OverflowDrop}
	tooBigNames   = map[string]TooBigPolicy{"log": TooBigLog, "error": TooBigError}
	logNames      = map[string]LogMode{"before": LogBefore, "after": LogAfter, "twice": LogTwice, "both": LogTwice}
	dataNames     = map[string]DataLogging{"none": DataLogNone, "hash": DataLogHash, "data": DataLogData}
	boolNames     = map[string]bool{"on": true, "true": true, "yes": true, "off": false, "false": false, "no": false}
)

func lookup[T any](m map[string]T, key, value string) (T, error) {
	v, ok := m[value]
	if !ok {
		return v, fmt.Errorf("%w: %s=%s", ErrInvalidOption, key, value)
	}
	return v, nil
}

// splitOptions splits on unescaped commas and removes backslash escapes.
func splitOptions(s string) []string {
	var (
		out []string
		cur strings.Builder
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
		case c == ',':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(out, cur.String())
}

// ParseOptions applies a comma-separated key=value list on top of base.
// Keys: fs, commit=SECONDS:SIZE, overflow, too_big, log, data, debug.
func ParseOptions(s string, base Options) (Options, error) {
	o := base
	for _, item := range splitOptions(s) {
		if item == "" {
			continue
		}
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			return base, fmt.Errorf("%w: %s", ErrInvalidOption, item)
		}
		var err error
		switch key {
		case "fs":
			o.FS = value
		case "commit":
			o.CommitInterval, o.CommitSize, err = parseCommit(value)
		case "overflow":
			o.Overflow, err = lookup(overflowNames, key, value)
		case "too_big":
			o.TooBig, err = lookup(tooBigNames, key, value)
		case "log":
			o.Log, err = lookup(logNames, key, value)
		case "data":
			o.Data, err = lookup(dataNames, key, value)
		case "debug":
			o.Debug, err = lookup(boolNames, key, value)
		default:
			err = fmt.Errorf("%w: %s", ErrInvalidOption, key)
		}
		if err != nil {
			return base, err
		}
	}
	if err := o.Validate(); err != nil {
		return base, err
	}
	return o, nil
}

func parseCommit(v string) (time.Duration, int, error) {
	secs, size, ok := strings.Cut(v, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: commit=%s, want SECONDS:SIZE", ErrInvalidOption, v)
	}
	s, err := strconv.Atoi(secs)
	if err != nil || s < 1 {
		return 0, 0, fmt.Errorf("%w: commit interval %q", ErrInvalidOption, secs)
	}
	n, err := strconv.Atoi(size)
	if err != nil || n < MinCommitSize {
		return 0, 0, fmt.Errorf("%w: commit size %q", ErrInvalidOption, size)
	}
	return time.Duration(s) * time.Second, n, nil
}

// Validate checks values that may have been set without ParseOptions.
func (o Options) Validate() error {
	if o.CommitInterval <= 0 {
		return fmt.Errorf("%w: commit interval %v", ErrInvalidOption, o.CommitInterval)
	}
	if o.CommitSize < MinCommitSize {
		return fmt.Errorf("%w: commit size %d below %d", ErrInvalidOption, o.CommitSize, MinCommitSize)
	}
	if o.Log&LogTwice == 0 {
		return fmt.Errorf("%w: log mode %d", ErrInvalidOption, o.Log)
	}
	if o.Data == DataLogHash {
		return ErrHashUnsupported
	}
	return nil
}

func nameOf[T comparable](m map[string]T, v T, prefer string) string {
	if x, ok := m[prefer]; ok && x == v {
		return prefer
	}
	for k, x := range m {
		if x == v {
			return k
		}
	}
	return "?"
}

var optionEscaper = strings.NewReplacer(`\`, `\\`, `,`, `\,`)

// String renders o in the form accepted by ParseOptions.
func (o Options) String() string {
	var parts []string
	debug := "off"
	if o.Debug {
		debug = "on"
	}
	if o.FS != "" {
		parts = append(parts, "fs="+optionEscaper.Replace(o.FS))
	}
	parts = append(parts,
		"overflow="+nameOf(overflowNames, o.Overflow, ""),
		"too_big="+nameOf(tooBigNames, o.TooBig, ""),
		fmt.Sprintf("commit=%d:%d", int(o.CommitInterval/time.Second), o.CommitSize),
		"log="+nameOf(logNames, o.Log, "twice"),
		"data="+nameOf(dataNames, o.Data, ""),
		"debug="+debug,
	)
	return strings.Join(parts, ",")
}

// LogsBefore reports whether operations are logged before they run.
func (o Options) LogsBefore() bool { return o.Log&LogBefore != 0 }

// LogsAfter reports whether operations are logged once they complete.
func (o Options) LogsAfter() bool { return o.Log&LogAfter != 0 }
