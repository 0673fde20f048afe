package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS dispatch_failures (
	id            TEXT PRIMARY KEY,
	invocation_id TEXT NOT NULL DEFAULT '',
	function_id   TEXT NOT NULL,
	detail        TEXT NOT NULL,
	occurred_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dispatch_failures_function ON dispatch_failures (function_id);
`

// SQLiteStore persists failure records to a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the audit database at
// path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating audit database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring audit database: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WriteFailure persists one record.
func (s *SQLiteStore) WriteFailure(ctx context.Context, rec *FailureRecord) error {
	occurredAt := rec.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_failures (id, invocation_id, function_id, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		uuid.New().String(),
		rec.InvocationID,
		rec.FunctionID,
		rec.Detail,
		occurredAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting failure record: %w", err)
	}
	return nil
}

// Failures returns the recorded failures for a function id, newest
// first.
func (s *SQLiteStore) Failures(ctx context.Context, functionID string) ([]*FailureRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT invocation_id, function_id, detail, occurred_at
		FROM dispatch_failures
		WHERE function_id = ?
		ORDER BY occurred_at DESC
	`, functionID)
	if err != nil {
		return nil, fmt.Errorf("querying failure records: %w", err)
	}
	defer rows.Close()

	var recs []*FailureRecord
	for rows.Next() {
		var (
			rec        FailureRecord
			occurredAt string
		)
		if err := rows.Scan(&rec.InvocationID, &rec.FunctionID, &rec.Detail, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning failure record: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, occurredAt); perr == nil {
			rec.OccurredAt = t
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating failure records: %w", err)
	}
	return recs, nil
}
