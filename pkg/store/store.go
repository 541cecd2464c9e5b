// Package store implements transactional SQL persistence for Tessera.
// It supports both Postgres and SQLite via standard drivers; every
// mutation runs inside a single transaction and unique-constraint
// violations surface as contracts.ErrConflict.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/tesserahq/tessera/pkg/contracts"
)

// Store wraps a SQL database handle.
type Store struct {
	db *sql.DB
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to the configured database. driver is "postgres" or
// "sqlite"; the pool settings follow the service defaults (20 + 10
// overflow, 30s acquire, hourly recycling).
func Open(driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(30)
	db.SetMaxIdleConns(20)
	db.SetConnMaxLifetime(time.Hour)
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Init creates the schema if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is one transaction. All entity accessors hang off it so a mutation
// handler cannot accidentally split its reads and writes across
// transactions.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction, committing on nil error and
// rolling back otherwise (including panics).
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	done := false
	defer func() {
		if !done {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return mapError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit: %w", err))
	}
	done = true
	return nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		// SQLite rejects the read-only option; retry as a plain tx.
		sqlTx, err = s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
	}
	defer func() { _ = sqlTx.Rollback() }()
	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError converts driver-specific failures into domain sentinels.
// Postgres unique violations are SQLSTATE 23505; modernc sqlite reports
// extended code 2067 whose message contains "UNIQUE constraint failed".
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", contracts.ErrConflict, pqErr.Constraint)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", contracts.ErrConflict, err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.ErrNotFound
	}
	return err
}

// marshalMap serializes a metadata map for a TEXT column.
func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
