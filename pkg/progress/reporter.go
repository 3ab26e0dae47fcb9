package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/epireve/uk-gateway/pkg/logging"
)

// Default throttling for Reporter.Progress.
const (
	DefaultEvery    = 10
	DefaultInterval = 30 * time.Second
)

// Reporter carries the job id and forwards throttled progress to a sink.
// Counts passed to the sink never decrease.
type Reporter struct {
	sink     Sink
	jobID    string
	every    int
	interval time.Duration
	logger   zerolog.Logger

	mu            sync.Mutex
	lastAt        time.Time
	lastProcessed int
	processed     int
	failed        int
	total         int

	now func() time.Time
}

// NewReporter creates a reporter for jobID. An empty jobID gets a fresh
// UUID; a nil sink discards updates. every and interval fall back to the
// defaults when not positive.
func NewReporter(sink Sink, jobID string, every int, interval time.Duration) *Reporter {
	if sink == nil {
		sink = Nop{}
	}
	if jobID == "" {
		jobID = uuid.NewString()
	}
	if every <= 0 {
		every = DefaultEvery
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{
		sink:     sink,
		jobID:    jobID,
		every:    every,
		interval: interval,
		logger:   logging.WithJob(logging.NewLogger(logging.ComponentProgress), jobID),
		now:      time.Now,
	}
}

// JobID returns the job identifier.
func (r *Reporter) JobID() string {
	return r.jobID
}

// Start marks the job running.
func (r *Reporter) Start(ctx context.Context, total int) {
	r.mu.Lock()
	r.total = total
	r.lastAt = r.now()
	u := r.snapshotLocked(StatusRunning, "")
	r.mu.Unlock()

	r.send(ctx, u)
}

// Progress reports the counts if enough successes or time have passed since
// the last report, or when force is set. It returns whether a report was sent.
func (r *Reporter) Progress(ctx context.Context, processed, failed, total int, force bool) bool {
	r.mu.Lock()
	r.raiseLocked(processed, failed, total)
	now := r.now()
	due := force ||
		r.processed-r.lastProcessed >= r.every ||
		now.Sub(r.lastAt) >= r.interval
	if !due {
		r.mu.Unlock()
		return false
	}
	r.lastAt = now
	r.lastProcessed = r.processed
	u := r.snapshotLocked(StatusRunning, "")
	r.mu.Unlock()

	r.send(ctx, u)
	return true
}

// Finish reports the terminal status with a human-readable summary. A
// completed job reports total == processed + failed.
func (r *Reporter) Finish(ctx context.Context, status Status, processed, failed, total int, message string) {
	r.mu.Lock()
	r.raiseLocked(processed, failed, total)
	if status == StatusCompleted {
		r.total = r.processed + r.failed
	}
	u := r.snapshotLocked(status, message)
	r.mu.Unlock()

	r.send(ctx, u)
	level := LevelInfo
	if status == StatusFailed {
		level = LevelError
	}
	r.Log(ctx, level, message)
}

// Log appends a line to the job log.
func (r *Reporter) Log(ctx context.Context, level Level, message string) {
	if message == "" {
		return
	}
	if err := r.sink.AppendLog(ctx, r.jobID, level, message); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to append job log")
	}
}

func (r *Reporter) raiseLocked(processed, failed, total int) {
	r.processed = max(r.processed, processed)
	r.failed = max(r.failed, failed)
	r.total = max(r.total, total, r.processed+r.failed)
}

func (r *Reporter) snapshotLocked(status Status, message string) Update {
	return Update{
		JobID:          r.jobID,
		Status:         status,
		ItemsProcessed: r.processed,
		ItemsFailed:    r.failed,
		TotalItems:     r.total,
		ResultMessage:  message,
	}
}

func (r *Reporter) send(ctx context.Context, u Update) {
	if err := r.sink.UpdateJob(ctx, u); err != nil {
		r.logger.Warn().Err(err).Str("status", string(u.Status)).Msg("Failed to update job progress")
	}
}
