package pagination

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/epireve/uk-gateway/pkg/store"
)

// ErrInvalidPageSize is returned for a non-positive page size.
var ErrInvalidPageSize = errors.New("page size must be positive")

// Source is the paginated read side of the record store.
type Source interface {
	FetchPending(ctx context.Context, afterID int64, limit int) ([]store.Record, error)
	CountPendingAfter(ctx context.Context, afterID int64) (int, error)
}

// Pager yields successive pages of pending records. It is not safe for
// concurrent use.
type Pager struct {
	source   Source
	pageSize int
	cursor   int64
	pages    int
	done     bool
}

// NewPager creates a pager starting before the first record.
func NewPager(source Source, pageSize int) (*Pager, error) {
	if source == nil {
		return nil, fmt.Errorf("record source is required")
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidPageSize, pageSize)
	}
	return &Pager{source: source, pageSize: pageSize}, nil
}

// Next returns the next page, or nil once no pending records remain.
func (p *Pager) Next(ctx context.Context) ([]store.Record, error) {
	if p.done {
		return nil, nil
	}

	page, err := p.source.FetchPending(ctx, p.cursor, p.pageSize)
	if err != nil {
		return nil, fmt.Errorf("fetch page after id %d: %w", p.cursor, err)
	}
	if len(page) == 0 {
		p.done = true
		log.Debug().Int64("cursor", p.cursor).Int("pages", p.pages).Msg("No pending records left")
		return nil, nil
	}

	for _, r := range page {
		if r.ID > p.cursor {
			p.cursor = r.ID
		}
	}
	p.pages++

	if len(page) < p.pageSize {
		remaining, err := p.source.CountPendingAfter(ctx, p.cursor)
		if err != nil {
			return nil, fmt.Errorf("count pending after id %d: %w", p.cursor, err)
		}
		if remaining == 0 {
			p.done = true
		}
		log.Debug().
			Int64("cursor", p.cursor).
			Int("page_len", len(page)).
			Int("remaining", remaining).
			Msg("Short page")
	}

	return page, nil
}

// Cursor returns the highest id handed out so far.
func (p *Pager) Cursor() int64 {
	return p.cursor
}

// Pages returns the number of non-empty pages returned.
func (p *Pager) Pages() int {
	return p.pages
}

// Done reports whether the walk has finished.
func (p *Pager) Done() bool {
	return p.done
}
