// Package logging is a minimal console logger tagging every line with a
// per-session correlation id.
package logging

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Logger writes timestamped, session-tagged lines to stdout.
type Logger struct {
	sessionID string
}

// NewLogger creates a Logger stamped with a fresh correlation id.
func NewLogger() *Logger {
	return &Logger{sessionID: uuid.New().String()}
}

// SessionID returns the correlation id this logger stamps every line
// with, so callers can thread it into frame/session identifiers of
// their own.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// WriteToLog writes a single log line to the console.
func (l *Logger) WriteToLog(message string) {
	fmt.Printf("%s [%s] %s\n", time.Now().Format(time.RFC3339Nano), l.sessionID, message)
}

// WriteToLogf is WriteToLog with fmt.Sprintf-style formatting.
func (l *Logger) WriteToLogf(format string, args ...any) {
	l.WriteToLog(fmt.Sprintf(format, args...))
}
