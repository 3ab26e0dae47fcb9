// Package progress reports enrichment job progress to one or more sinks:
// the jobs/job_logs tables, a Redis hash with a pub/sub feed, or nothing.
//
// Reporting is best effort. Sink errors are logged by the Reporter and never
// abort a run.
package progress

import (
	"context"
	"errors"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Level is the severity of a job log line.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warning"
	LevelError Level = "error"
)

// Update is a snapshot of job progress.
type Update struct {
	JobID          string `json:"job_id"`
	Status         Status `json:"status"`
	ItemsProcessed int    `json:"items_processed"`
	ItemsFailed    int    `json:"items_failed"`
	TotalItems     int    `json:"total_items"`
	ResultMessage  string `json:"result_message,omitempty"`
}

// Sink receives job progress and log lines.
type Sink interface {
	UpdateJob(ctx context.Context, u Update) error
	AppendLog(ctx context.Context, jobID string, level Level, message string) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) UpdateJob(context.Context, Update) error                { return nil }
func (Nop) AppendLog(context.Context, string, Level, string) error { return nil }

// Multi fans out to several sinks. Every sink is called even when an
// earlier one fails; the errors are joined.
type Multi []Sink

// NewMulti builds a fan-out sink, dropping nil entries.
func NewMulti(sinks ...Sink) Multi {
	out := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m Multi) UpdateJob(ctx context.Context, u Update) error {
	var errs []error
	for _, s := range m {
		if err := s.UpdateJob(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) AppendLog(ctx context.Context, jobID string, level Level, message string) error {
	var errs []error
	for _, s := range m {
		if err := s.AppendLog(ctx, jobID, level, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
