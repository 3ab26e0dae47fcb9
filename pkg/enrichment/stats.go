package enrichment

import (
	"fmt"
	"time"
)

// BatchStats are the counters for one page of records.
type BatchStats struct {
	Total          int
	Successful     int
	Failed         int
	APICalls       int
	LastStatUpdate time.Time
}

// RunStats aggregate every page of a run.
type RunStats struct {
	Total      int
	Successful int
	Failed     int
	APICalls   int
	Pages      int
	Batches    int
	Retried    int
	Cooldowns  int
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

func (b *BatchStats) merge(o BatchStats) {
	b.Total += o.Total
	b.Successful += o.Successful
	b.Failed += o.Failed
	b.APICalls += o.APICalls
}

func (s *RunStats) add(b BatchStats) {
	s.Total += b.Total
	s.Successful += b.Successful
	s.Failed += b.Failed
	s.APICalls += b.APICalls
}

func (s *RunStats) finish(at time.Time) {
	s.FinishedAt = at
	s.Duration = at.Sub(s.StartedAt)
}

// Summary is the human-readable result line reported to the job log.
func (s RunStats) Summary() string {
	return fmt.Sprintf("Enriched %d of %d companies (%d failed, %d API calls, %d cooldowns) in %s",
		s.Successful, s.Total, s.Failed, s.APICalls, s.Cooldowns, s.Duration.Round(time.Second))
}
