package journal

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
)

// TraceEvent describes one allocation or release of journal memory.
type TraceEvent struct {
	Alloc  bool
	What   string
	Size   int
	Source string
	Line   int
}

func (ev TraceEvent) String() string {
	verb := "free"
	if ev.Alloc {
		verb = "alloc"
	}
	return fmt.Sprintf("%s(%s, %d)", verb, ev.What, ev.Size)
}

// Tracer receives allocation events while the debug option is set.
type Tracer interface {
	Trace(TraceEvent)
}

// TracerFunc adapts a function to Tracer.
type TracerFunc func(TraceEvent)

func (f TracerFunc) Trace(ev TraceEvent) { f(ev) }

// LogTracer logs events at debug level.
func LogTracer(log *logrus.Entry) Tracer {
	return TracerFunc(func(ev TraceEvent) {
		log.WithFields(logrus.Fields{
			"source": fmt.Sprintf("%s:%d", ev.Source, ev.Line),
		}).Debug(ev.String())
	})
}

// trace reports an event when debugging is on, and also stores it in the
// journal as a DEBUG record if the commit buffer has room. Called with
// j.mu held.
func (j *Journal) trace(alloc bool, what string, size int) {
	if !j.opts.Debug {
		return
	}
	ev := TraceEvent{Alloc: alloc, What: what, Size: size}
	if _, file, line, ok := runtime.Caller(1); ok {
		ev.Source, ev.Line = filepath.Base(file), line
	}
	if j.tracer != nil {
		j.tracer.Trace(ev)
	}
	if j.buf == nil {
		return
	}
	rec := DebugRecord(ev.String(), ev.Source, ev.Line)
	rec.Time = Now(j.now())
	size = rec.EncodedLen(j.sb.Alignment)
	if j.bufWritten+size <= len(j.buf) && j.hasRoom(size) {
		j.stage(rec, size)
	}
}

// DebugRecord builds an internal trace record: the message and source file
// are its two names and the line number is its result.
func DebugRecord(msg, source string, line int) *Record {
	return &Record{Op: OpDebug, Result: int32(line), Files: []string{msg, source}}
}
