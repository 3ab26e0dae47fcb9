// Package store is the Postgres record store for the enrichment pipeline:
// paginated reads of pending companies, enrichment writes, the append-only
// failure ledger, job progress tables and the SIC reference table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/epireve/uk-gateway/pkg/logging"
)

// ErrNotFound is returned when a record to update does not exist.
var ErrNotFound = errors.New("record not found")

// Record is a company awaiting enrichment.
type Record struct {
	ID   int64
	Name string
}

// EnrichedFields are the registry fields written on successful enrichment.
type EnrichedFields struct {
	CompanyNumber     string
	RegisteredName    string
	Status            string
	Type              string
	Address           string
	Postcode          string
	SICCodes          []string
	SICSection        string
	IncorporationDate *time.Time
	RawProfile        []byte
	ETag              string

	HasCharges                           bool
	HasInsolvencyHistory                 bool
	HasBeenLiquidated                    bool
	RegisteredOfficeIsInDispute          bool
	UndeliverableRegisteredOfficeAddress bool

	EnrichedAt time.Time
}

// Failure is one row of the failure ledger.
type Failure struct {
	RecordID     int64
	Name         string
	ErrorKind    string
	ErrorMessage string
	HTTPStatus   int
	RetryCount   int
	JobID        string
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// Postgres is the Postgres-backed store.
type Postgres struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) (*Postgres, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &Postgres{
		db:     db,
		logger: logging.NewLogger(logging.ComponentStore),
	}, nil
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPostgres(db)
}

// DB returns the underlying handle.
func (s *Postgres) DB() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *Postgres) Close() error {
	return s.db.Close()
}
