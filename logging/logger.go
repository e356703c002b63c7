// Package logging provides the structured JSON logging shared by the awf
// commands and the run orchestrator.
package logging

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Logger defines the structured logging interface used across the firewall.
type Logger interface {
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
}

// JSONLogger emits one JSON object per line. Safe for concurrent use.
type JSONLogger struct {
	mu      sync.Mutex
	enc     *json.Encoder
	verbose bool
}

// NewJSONLogger creates a JSONLogger writing to w. Debug entries are only
// emitted when verbose is true.
func NewJSONLogger(w io.Writer, verbose bool) *JSONLogger {
	return &JSONLogger{enc: json.NewEncoder(w), verbose: verbose}
}

func (l *JSONLogger) Info(msg string, fields map[string]any)  { l.emit("info", msg, fields) }
func (l *JSONLogger) Warn(msg string, fields map[string]any)  { l.emit("warn", msg, fields) }
func (l *JSONLogger) Error(msg string, fields map[string]any) { l.emit("error", msg, fields) }

func (l *JSONLogger) Debug(msg string, fields map[string]any) {
	if l.verbose {
		l.emit("debug", msg, fields)
	}
}

func (l *JSONLogger) emit(level, msg string, fields map[string]any) {
	entry := map[string]any{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": level,
		"msg":   msg,
	}
	for k, v := range fields {
		entry[k] = v
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.enc.Encode(entry) //nolint:errcheck
}

// Nop returns a logger that discards everything. Commands that own the
// terminal, like the live follow view, run with it to keep output clean.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Info(string, map[string]any)  {}
func (nopLogger) Warn(string, map[string]any)  {}
func (nopLogger) Error(string, map[string]any) {}
func (nopLogger) Debug(string, map[string]any) {}

// Scoped wraps a logger so fields appear on every entry. The orchestrator
// scopes its logger with the run ID so one run's lines can be picked out of
// interleaved output.
func Scoped(l Logger, fields map[string]any) Logger {
	if len(fields) == 0 {
		return l
	}
	return &scopedLogger{base: l, fields: fields}
}

type scopedLogger struct {
	base   Logger
	fields map[string]any
}

func (s *scopedLogger) Info(msg string, fields map[string]any)  { s.base.Info(msg, s.merge(fields)) }
func (s *scopedLogger) Warn(msg string, fields map[string]any)  { s.base.Warn(msg, s.merge(fields)) }
func (s *scopedLogger) Error(msg string, fields map[string]any) { s.base.Error(msg, s.merge(fields)) }
func (s *scopedLogger) Debug(msg string, fields map[string]any) { s.base.Debug(msg, s.merge(fields)) }

func (s *scopedLogger) merge(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return s.fields
	}
	merged := make(map[string]any, len(s.fields)+len(fields))
	for k, v := range s.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}
