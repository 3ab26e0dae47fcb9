package store

import (
	"context"
	"fmt"

	"github.com/epireve/uk-gateway/pkg/progress"
)

// UpdateJob upserts the job's progress row.
func (s *Postgres) UpdateJob(ctx context.Context, u progress.Update) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, items_processed, items_failed, total_items, result_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			items_processed = EXCLUDED.items_processed,
			items_failed = EXCLUDED.items_failed,
			total_items = EXCLUDED.total_items,
			result_message = EXCLUDED.result_message,
			updated_at = now()`,
		u.JobID, string(u.Status), u.ItemsProcessed, u.ItemsFailed, u.TotalItems, u.ResultMessage)
	if err != nil {
		return fmt.Errorf("update job %s: %w", u.JobID, err)
	}
	return nil
}

// AppendLog adds a line to the job log.
func (s *Postgres) AppendLog(ctx context.Context, jobID string, level progress.Level, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_logs (job_id, level, message) VALUES ($1, $2, $3)`,
		jobID, string(level), message)
	if err != nil {
		return fmt.Errorf("append log for job %s: %w", jobID, err)
	}
	return nil
}
