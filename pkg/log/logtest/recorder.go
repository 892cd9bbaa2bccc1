// Package logtest provides a Logger that records messages for tests.
package logtest

import (
	"sync"

	"github.com/bft-labs/listycity/pkg/log"
)

// Entry is one message captured by a Recorder.
type Entry struct {
	Level  string
	Msg    string
	Fields []log.Field
}

// Recorder implements log.Logger by keeping every message in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(level, msg string, fields []log.Field) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Msg: msg, Fields: append([]log.Field(nil), fields...)})
}

// Debug records a debug-level message.
func (r *Recorder) Debug(msg string, fields ...log.Field) { r.add("debug", msg, fields) }

// Info records an info-level message.
func (r *Recorder) Info(msg string, fields ...log.Field) { r.add("info", msg, fields) }

// Warn records a warning-level message.
func (r *Recorder) Warn(msg string, fields ...log.Field) { r.add("warn", msg, fields) }

// Error records an error-level message.
func (r *Recorder) Error(msg string, fields ...log.Field) { r.add("error", msg, fields) }

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Count returns how many entries were recorded at level with message msg.
func (r *Recorder) Count(level, msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Level == level && e.Msg == msg {
			n++
		}
	}
	return n
}

var _ log.Logger = (*Recorder)(nil)
