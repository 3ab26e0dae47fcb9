package store

import (
	"context"
	"fmt"

	"github.com/epireve/uk-gateway/pkg/sic"
)

// UpsertSICCodes inserts or refreshes reference SIC codes in one transaction.
func (s *Postgres) UpsertSICCodes(ctx context.Context, codes []sic.Code) error {
	if len(codes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sic upsert: %w", err)
	}
	defer tx.Rollback()

	for _, c := range codes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sic_codes (sic_code, description, section, section_title)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (sic_code) DO UPDATE SET
				description = EXCLUDED.description,
				section = EXCLUDED.section,
				section_title = EXCLUDED.section_title,
				updated_at = now()`,
			c.Code, c.Description, c.Section.Label(), c.Section.Title); err != nil {
			return fmt.Errorf("upsert sic code %s: %w", c.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sic upsert: %w", err)
	}
	return nil
}
