package testutil

import (
	"context"
	"sync"

	"github.com/epireve/uk-gateway/pkg/progress"
)

// LogEntry is a job log line captured by RecordingSink.
type LogEntry struct {
	JobID   string
	Level   progress.Level
	Message string
}

// RecordingSink captures every progress update and log line.
type RecordingSink struct {
	mu      sync.Mutex
	updates []progress.Update
	logs    []LogEntry

	// Err is returned from every call when set.
	Err error
}

// UpdateJob records u.
func (s *RecordingSink) UpdateJob(_ context.Context, u progress.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return s.Err
}

// AppendLog records the line.
func (s *RecordingSink) AppendLog(_ context.Context, jobID string, level progress.Level, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, LogEntry{JobID: jobID, Level: level, Message: message})
	return s.Err
}

// Updates returns a copy of the recorded updates.
func (s *RecordingSink) Updates() []progress.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.Update(nil), s.updates...)
}

// Last returns the most recent update.
func (s *RecordingSink) Last() (progress.Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return progress.Update{}, false
	}
	return s.updates[len(s.updates)-1], true
}

// Logs returns a copy of the recorded log lines.
func (s *RecordingSink) Logs() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LogEntry(nil), s.logs...)
}
