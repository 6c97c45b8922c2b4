package voicemode

import (
	"log"
	"os"
)

// StdLogger is the default Logger, backed by the standard library's log
// package. The teacher never reaches for a structured logging library
// (zerolog/zap/slog), so neither do we — see DESIGN.md.
type StdLogger struct {
	debug bool
	l     *log.Logger
}

func NewStdLogger(debug bool) *StdLogger {
	return &StdLogger{debug: debug, l: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)}
}

func (s *StdLogger) Debug(msg string, args ...interface{}) {
	if s.debug {
		s.l.Printf("DEBUG "+msg, args...)
	}
}

func (s *StdLogger) Info(msg string, args ...interface{}) {
	s.l.Printf("INFO "+msg, args...)
}

func (s *StdLogger) Warn(msg string, args ...interface{}) {
	s.l.Printf("WARN "+msg, args...)
}

func (s *StdLogger) Error(msg string, args ...interface{}) {
	s.l.Printf("ERROR "+msg, args...)
}
