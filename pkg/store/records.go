package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const pendingFilter = `company_number IS NULL AND id > $1`

const openFailureFilter = ` AND EXISTS (
	SELECT 1 FROM enrichment_failures f
	WHERE f.company_id = companies.id AND f.resolved_at IS NULL)`

// FetchPending returns up to limit pending records with id > afterID,
// ordered by id.
func (s *Postgres) FetchPending(ctx context.Context, afterID int64, limit int) ([]Record, error) {
	return s.fetchPending(ctx, pendingFilter, afterID, limit)
}

// CountPendingAfter counts pending records with id > afterID.
func (s *Postgres) CountPendingAfter(ctx context.Context, afterID int64) (int, error) {
	return s.countPending(ctx, pendingFilter, afterID)
}

func (s *Postgres) fetchPending(ctx context.Context, filter string, afterID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive (got %d)", limit)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name FROM companies WHERE `+filter+` ORDER BY id LIMIT $2`,
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch pending rows: %w", err)
	}
	return records, nil
}

func (s *Postgres) countPending(ctx context.Context, filter string, afterID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM companies WHERE `+filter,
		afterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// PersistEnriched writes the enriched fields and resolves the record's open
// ledger rows in one transaction.
func (s *Postgres) PersistEnriched(ctx context.Context, id int64, f EnrichedFields) error {
	if f.CompanyNumber == "" {
		return fmt.Errorf("persist record %d: company number is required", id)
	}
	enrichedAt := f.EnrichedAt
	if enrichedAt.IsZero() {
		enrichedAt = time.Now().UTC()
	}

	var incorporated sql.NullTime
	if f.IncorporationDate != nil {
		incorporated = sql.NullTime{Time: *f.IncorporationDate, Valid: true}
	}
	var raw sql.NullString
	if len(f.RawProfile) > 0 {
		raw = sql.NullString{String: string(f.RawProfile), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin persist: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE companies SET
			company_number = $2,
			registered_name = $3,
			company_status = $4,
			company_type = $5,
			registered_address = $6,
			postcode = $7,
			sic_codes = $8,
			sic_section = $9,
			incorporation_date = $10,
			raw_profile = $11,
			etag = $12,
			has_charges = $13,
			has_insolvency_history = $14,
			has_been_liquidated = $15,
			registered_office_is_in_dispute = $16,
			undeliverable_registered_office_address = $17,
			enriched_at = $18
		WHERE id = $1`,
		id,
		f.CompanyNumber,
		f.RegisteredName,
		f.Status,
		f.Type,
		f.Address,
		f.Postcode,
		pq.Array(f.SICCodes),
		f.SICSection,
		incorporated,
		raw,
		f.ETag,
		f.HasCharges,
		f.HasInsolvencyHistory,
		f.HasBeenLiquidated,
		f.RegisteredOfficeIsInDispute,
		f.UndeliverableRegisteredOfficeAddress,
		enrichedAt,
	)
	if err != nil {
		return fmt.Errorf("persist record %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("persist record %d: %w", id, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE enrichment_failures SET resolved_at = $2 WHERE company_id = $1 AND resolved_at IS NULL`,
		id, enrichedAt); err != nil {
		return fmt.Errorf("resolve failures for record %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record %d: %w", id, err)
	}
	return nil
}

// RecordFailure appends a row to the failure ledger.
func (s *Postgres) RecordFailure(ctx context.Context, f Failure) error {
	var status sql.NullInt64
	if f.HTTPStatus != 0 {
		status = sql.NullInt64{Int64: int64(f.HTTPStatus), Valid: true}
	}
	var jobID sql.NullString
	if f.JobID != "" {
		jobID = sql.NullString{String: f.JobID, Valid: true}
	}
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrichment_failures
			(company_id, company_name, error_kind, error_message, http_status, retry_count, job_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.RecordID, f.Name, f.ErrorKind, f.ErrorMessage, status, f.RetryCount, jobID, createdAt)
	if err != nil {
		return fmt.Errorf("record failure for %d: %w", f.RecordID, err)
	}
	return nil
}

// OpenFailures returns the unresolved ledger rows for a record, oldest first.
func (s *Postgres) OpenFailures(ctx context.Context, recordID int64) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT company_id, COALESCE(company_name, ''), error_kind, COALESCE(error_message, ''),
		       COALESCE(http_status, 0), retry_count, COALESCE(job_id, ''), created_at
		FROM enrichment_failures
		WHERE company_id = $1 AND resolved_at IS NULL
		ORDER BY id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("open failures for %d: %w", recordID, err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.RecordID, &f.Name, &f.ErrorKind, &f.ErrorMessage,
			&f.HTTPStatus, &f.RetryCount, &f.JobID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Reprocessable returns a view of the store whose pending set is limited to
// records with unresolved ledger rows. Writes go to the same tables.
func (s *Postgres) Reprocessable() *ReprocessView {
	return &ReprocessView{Postgres: s}
}

// ReprocessView selects pending records that previously failed.
type ReprocessView struct {
	*Postgres
}

// FetchPending returns failed, still pending records with id > afterID.
func (v *ReprocessView) FetchPending(ctx context.Context, afterID int64, limit int) ([]Record, error) {
	return v.fetchPending(ctx, pendingFilter+openFailureFilter, afterID, limit)
}

// CountPendingAfter counts failed, still pending records with id > afterID.
func (v *ReprocessView) CountPendingAfter(ctx context.Context, afterID int64) (int, error) {
	return v.countPending(ctx, pendingFilter+openFailureFilter, afterID)
}
