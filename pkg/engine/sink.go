package engine

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Severity ranks a diagnostic reported during cache operations.
type Severity int

const (
	// SeverityNotice is informational; the operation proceeded.
	SeverityNotice Severity = iota

	// SeverityWarning flags suspicious state that was worked around.
	SeverityWarning

	// SeverityError flags an operation that failed.
	SeverityError
)

// String returns the lower-case name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityNotice:
		return "notice"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Diagnostic is a single reported condition.
type Diagnostic struct {
	Severity Severity

	Message string

	// Err carries the structured error for SeverityError entries.
	Err *EngineError
}

// ErrorSink accumulates diagnostics raised while loading state files or
// mutating selections, mirroring each entry to the log as it arrives.
// State loading and batch mutations report problems here and keep going;
// callers drain the sink afterwards to present everything in order.
type ErrorSink struct {
	log     zerolog.Logger
	entries []Diagnostic
}

// NewErrorSink returns an empty sink that mirrors entries to log.
func NewErrorSink(log zerolog.Logger) *ErrorSink {
	return &ErrorSink{log: log}
}

// Notice records an informational diagnostic.
func (s *ErrorSink) Notice(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.log.Info().Msg(msg)
	s.entries = append(s.entries, Diagnostic{Severity: SeverityNotice, Message: msg})
}

// Warning records a suspicious condition that was worked around.
func (s *ErrorSink) Warning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.log.Warn().Msg(msg)
	s.entries = append(s.entries, Diagnostic{Severity: SeverityWarning, Message: msg})
}

// Error records a failed operation.
func (s *ErrorSink) Error(err *EngineError) {
	s.log.Error().Err(err).Str("code", err.Code).Msg(err.Message)
	s.entries = append(s.entries, Diagnostic{Severity: SeverityError, Message: err.Message, Err: err})
}

// Empty reports whether the sink holds no diagnostics.
func (s *ErrorSink) Empty() bool { return len(s.entries) == 0 }

// Len returns the number of pending diagnostics.
func (s *ErrorSink) Len() int { return len(s.entries) }

// Drain returns the pending diagnostics and clears the sink.
func (s *ErrorSink) Drain() []Diagnostic {
	out := s.entries
	s.entries = nil
	return out
}
