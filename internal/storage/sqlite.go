package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteQueueConfig holds settings for the SQLite-backed queue client.
type SQLiteQueueConfig struct {
	// Path to the SQLite database file.
	Path string
	// BusyTimeout for concurrent access (default: 5s).
	BusyTimeout time.Duration
	// MaxOpenConns limits the connection pool (default: 10).
	MaxOpenConns int
}

// SQLiteQueue is a QueueClient backed by a single SQLite file. Message
// visibility is tracked per row; a retrieved message stays invisible
// until its visibility deadline passes or it is deleted.
type SQLiteQueue struct {
	db  *sql.DB
	now func() time.Time
}

const queueSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	queue         TEXT NOT NULL,
	body          BLOB NOT NULL,
	compressed    INTEGER NOT NULL DEFAULT 0,
	metadata      TEXT NOT NULL DEFAULT '{}',
	dequeue_count INTEGER NOT NULL DEFAULT 0,
	inserted_at   TEXT NOT NULL,
	visible_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_queue_visible ON messages (queue, visible_at);
`

// OpenSQLiteQueue opens (creating if needed) the queue database at
// cfg.Path.
func OpenSQLiteQueue(cfg SQLiteQueueConfig) (*SQLiteQueue, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: queue database path is required", ErrInvalidConfig)
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating queue database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening queue database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring queue database: %w", err)
		}
	}

	if _, err := db.Exec(queueSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating queue schema: %w", err)
	}

	return &SQLiteQueue{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

// AddMessage enqueues a message, immediately visible. Large bodies are
// stored gzipped.
func (q *SQLiteQueue) AddMessage(ctx context.Context, queue string, body []byte, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling message metadata: %w", err)
	}

	stored, compressed, err := deflateBody(body)
	if err != nil {
		return err
	}

	now := q.now().UTC()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO messages (id, queue, body, compressed, metadata, dequeue_count, inserted_at, visible_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`,
		uuid.New().String(),
		queue,
		stored,
		compressed,
		string(metaJSON),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetMessages retrieves up to count visible messages from queue,
// marking each invisible for the given duration and incrementing its
// dequeue count.
func (q *SQLiteQueue) GetMessages(ctx context.Context, queue string, count int, visibility time.Duration) ([]*Message, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning dequeue transaction: %w", err)
	}
	defer tx.Rollback()

	now := q.now().UTC()
	rows, err := tx.QueryContext(ctx, `
		SELECT id, body, compressed, metadata, dequeue_count, inserted_at
		FROM messages
		WHERE queue = ? AND visible_at <= ?
		ORDER BY inserted_at ASC
		LIMIT ?
	`, queue, now.Format(time.RFC3339Nano), count)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	var msgs []*Message
	var compressed []bool
	for rows.Next() {
		var (
			msg        Message
			zipped     bool
			metaJSON   string
			insertedAt string
		)
		if err := rows.Scan(&msg.ID, &msg.Body, &zipped, &metaJSON, &msg.DequeueCount, &insertedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &msg.Metadata); err != nil {
			rows.Close()
			return nil, fmt.Errorf("unmarshaling message metadata: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, insertedAt); perr == nil {
			msg.InsertedAt = t
		}
		msg.Queue = queue
		msgs = append(msgs, &msg)
		compressed = append(compressed, zipped)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	rows.Close()

	visibleAt := now.Add(visibility).Format(time.RFC3339Nano)
	for _, msg := range msgs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET visible_at = ?, dequeue_count = dequeue_count + 1 WHERE id = ?
		`, visibleAt, msg.ID); err != nil {
			return nil, fmt.Errorf("claiming message %s: %w", msg.ID, err)
		}
		msg.DequeueCount++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing dequeue transaction: %w", err)
	}

	for i, msg := range msgs {
		body, err := inflateBody(msg.Body, compressed[i])
		if err != nil {
			return nil, err
		}
		msg.Body = body
	}

	return msgs, nil
}

// DeleteMessage removes a message permanently.
func (q *SQLiteQueue) DeleteMessage(ctx context.Context, queue, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM messages WHERE queue = ? AND id = ?`, queue, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrMessageNotFound, queue, id)
	}
	return nil
}

// UpdateVisibility reschedules when a message becomes retrievable
// again. A zero duration makes it immediately retriable.
func (q *SQLiteQueue) UpdateVisibility(ctx context.Context, queue, id string, visibility time.Duration) error {
	visibleAt := q.now().UTC().Add(visibility).Format(time.RFC3339Nano)
	res, err := q.db.ExecContext(ctx, `
		UPDATE messages SET visible_at = ? WHERE queue = ? AND id = ?
	`, visibleAt, queue, id)
	if err != nil {
		return fmt.Errorf("updating message visibility: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating message visibility: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrMessageNotFound, queue, id)
	}
	return nil
}
