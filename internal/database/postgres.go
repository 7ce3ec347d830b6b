package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/FairForge/roomd/internal/ledger"
	"github.com/lib/pq" // PostgreSQL driver
)

const reservationsTable = "reservations"

// requiredColumns is the layout a ledger depends on
var requiredColumns = []string{
	"sequence_id",
	"request_id",
	"requester",
	"rooms_allocated",
	"labs_allocated",
	"created_at",
}

// Postgres is a ledger.Store backed by PostgreSQL
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL connection
func NewPostgres(cfg Config) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an existing handle
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping verifies the database connection
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// CreateTables creates the reservations table
func (p *Postgres) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS reservations (
			sequence_id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL UNIQUE,
			requester TEXT NOT NULL,
			rooms_allocated INTEGER NOT NULL CHECK (rooms_allocated >= 0),
			labs_allocated INTEGER NOT NULL CHECK (labs_allocated >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, query := range queries {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	return nil
}

// VerifySchema creates the table on a fresh database and refuses a table that
// lacks any required column
func (p *Postgres) VerifySchema(ctx context.Context) error {
	rows, err := p.db.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_name = $1`,
		reservationsTable)
	if err != nil {
		return fmt.Errorf("query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read columns: %w", err)
	}

	if len(present) == 0 {
		return p.CreateTables(ctx)
	}

	for _, col := range requiredColumns {
		if !present[col] {
			return fmt.Errorf("%w: table %s has no column %s",
				ledger.ErrIncompatibleSchema, reservationsTable, col)
		}
	}
	return nil
}

// Append inserts a record. Records replicated from a primary keep their
// sequence id and the serial is moved past it.
func (p *Postgres) Append(ctx context.Context, rec ledger.Record) (ledger.Record, error) {
	if rec.SequenceID == 0 {
		query := `INSERT INTO reservations (request_id, requester, rooms_allocated, labs_allocated, created_at)
			VALUES ($1, $2, $3, $4, $5) RETURNING sequence_id`
		err := p.db.QueryRowContext(ctx, query,
			rec.RequestID, rec.Requester, rec.RoomsAllocated, rec.LabsAllocated, rec.CreatedAt,
		).Scan(&rec.SequenceID)
		if err != nil {
			return ledger.Record{}, insertError(rec, err)
		}
		return rec, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reservations (sequence_id, request_id, requester, rooms_allocated, labs_allocated, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.SequenceID, rec.RequestID, rec.Requester, rec.RoomsAllocated, rec.LabsAllocated, rec.CreatedAt)
	if err != nil {
		return ledger.Record{}, insertError(rec, err)
	}
	_, err = tx.ExecContext(ctx,
		`SELECT setval(pg_get_serial_sequence('reservations', 'sequence_id'),
			GREATEST((SELECT MAX(sequence_id) FROM reservations), 1))`)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("advance sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func insertError(rec ledger.Record, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("insert reservation %s: duplicate key %s: %w", rec.RequestID, pqErr.Constraint, err)
	}
	return fmt.Errorf("insert reservation %s: %w", rec.RequestID, err)
}

// List returns every record ordered by sequence id
func (p *Postgres) List(ctx context.Context) ([]ledger.Record, error) {
	query := `SELECT sequence_id, request_id, requester, rooms_allocated, labs_allocated, created_at
		FROM reservations ORDER BY sequence_id`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []ledger.Record
	for rows.Next() {
		var r ledger.Record
		if err := rows.Scan(&r.SequenceID, &r.RequestID, &r.Requester,
			&r.RoomsAllocated, &r.LabsAllocated, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Get retrieves a record by sequence id
func (p *Postgres) Get(ctx context.Context, seq int64) (ledger.Record, error) {
	query := `SELECT sequence_id, request_id, requester, rooms_allocated, labs_allocated, created_at
		FROM reservations WHERE sequence_id = $1`

	var r ledger.Record
	err := p.db.QueryRowContext(ctx, query, seq).Scan(
		&r.SequenceID,
		&r.RequestID,
		&r.Requester,
		&r.RoomsAllocated,
		&r.LabsAllocated,
		&r.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{}, fmt.Errorf("sequence %d: %w", seq, ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.Record{}, fmt.Errorf("query reservation: %w", err)
	}
	return r, nil
}

// Delete removes one record
func (p *Postgres) Delete(ctx context.Context, seq int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM reservations WHERE sequence_id = $1`, seq)
	if err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sequence %d: %w", seq, ledger.ErrNotFound)
	}
	return nil
}

// DeleteAll removes every record
func (p *Postgres) DeleteAll(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM reservations`); err != nil {
		return fmt.Errorf("delete reservations: %w", err)
	}
	return nil
}
