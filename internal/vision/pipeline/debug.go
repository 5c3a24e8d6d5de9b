package pipeline

import (
	"io"
	"log"
	"sync/atomic"
)

// logStream is one of the package's log outputs; it is silent until a
// writer is set.
type logStream struct {
	l atomic.Pointer[log.Logger]
}

func (s *logStream) set(w io.Writer) {
	if w == nil {
		s.l.Store(nil)
		return
	}
	s.l.Store(log.New(w, "[pipeline] ", log.LstdFlags|log.Lmicroseconds))
}

func (s *logStream) printf(format string, args ...any) {
	if l := s.l.Load(); l != nil {
		l.Printf(format, args...)
	}
}

var opsLog, diagLog, traceLog logStream

// SetLogWriters routes the pipeline's ops, diag and trace logs. A nil
// writer silences that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLog.set(ops)
	diagLog.set(diag)
	traceLog.set(trace)
}

// opsf: sink failures, dropped frames, resets.
func opsf(format string, args ...any) { opsLog.printf(format, args...) }

// diagf: per-frame summaries and detector errors.
func diagf(format string, args ...any) { diagLog.printf(format, args...) }

// tracef: association and estimate detail.
func tracef(format string, args ...any) { traceLog.printf(format, args...) }
