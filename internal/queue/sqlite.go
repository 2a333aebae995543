package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

const (
	defaultBusyTimeoutMS = 5000
	defaultCacheSizeKB   = 2000
)

// sqliteStore implements Store on a local SQLite database. WAL journaling
// keeps appends durable without blocking readers; the busy timeout covers
// a second process (the background trigger context) touching the same file.
type sqliteStore struct {
	db *sql.DB

	mu     sync.Mutex
	lastID int64

	insertStmt *sql.Stmt
	listStmt   *sql.Stmt
	updateStmt *sql.Stmt
	deleteStmt *sql.Stmt
	countStmt  *sql.Stmt
}

// OpenSQLite opens (creating if necessary) the queue database at path.
// Pragmas use the _pragma=name(value) form, the only one the modernc
// driver honors.
func OpenSQLite(path string) (Store, error) {
	dsn := fmt.Sprintf(
		"%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)&_pragma=cache_size(-%d)",
		path, defaultBusyTimeoutMS, defaultCacheSizeKB)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	s := &sqliteStore{db: db}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare queue statements: %w", err)
	}

	return s, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sync_queue (
			id TEXT PRIMARY KEY,
			target_path TEXT NOT NULL,
			action TEXT NOT NULL,
			payload BLOB,
			enqueued_at INTEGER NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_sync_queue_enqueued_at
			ON sync_queue(enqueued_at, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteStore) prepareStatements() error {
	var err error

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO sync_queue (id, target_path, action, payload, enqueued_at, retry_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	s.listStmt, err = s.db.Prepare(`
		SELECT id, target_path, action, payload, enqueued_at, retry_count, last_error
		FROM sync_queue ORDER BY enqueued_at, id`)
	if err != nil {
		return err
	}

	s.updateStmt, err = s.db.Prepare(`
		UPDATE sync_queue SET retry_count = ?, last_error = ? WHERE id = ?`)
	if err != nil {
		return err
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM sync_queue WHERE id = ?`)
	if err != nil {
		return err
	}

	s.countStmt, err = s.db.Prepare(`SELECT COUNT(*) FROM sync_queue`)
	return err
}

// nextID returns a strictly increasing capture-time identifier. Two
// captures in the same nanosecond get consecutive IDs so enumeration
// order stays deterministic.
func (s *sqliteStore) nextID() (int64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	id := now.UnixNano()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id, now
}

// Append persists a new record and returns its assigned ID.
func (s *sqliteStore) Append(ctx context.Context, rec MutationRecord) (string, error) {
	id, now := s.nextID()
	rec.ID = strconv.FormatInt(id, 10)
	rec.EnqueuedAt = now

	_, err := s.insertStmt.ExecContext(ctx,
		rec.ID, rec.TargetPath, string(rec.Action), []byte(rec.Payload),
		rec.EnqueuedAt.UnixNano(), rec.RetryCount, rec.LastError)
	if err != nil {
		return "", fmt.Errorf("failed to append queue record: %w", err)
	}

	return rec.ID, nil
}

// List returns all pending records in enqueue order.
func (s *sqliteStore) List(ctx context.Context) ([]MutationRecord, error) {
	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue records: %w", err)
	}
	defer rows.Close()

	var recs []MutationRecord
	for rows.Next() {
		var (
			rec        MutationRecord
			action     string
			payload    []byte
			enqueuedNS int64
		)
		if err := rows.Scan(&rec.ID, &rec.TargetPath, &action, &payload,
			&enqueuedNS, &rec.RetryCount, &rec.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan queue record: %w", err)
		}
		rec.Action = Action(action)
		rec.Payload = payload
		rec.EnqueuedAt = time.Unix(0, enqueuedNS)
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue records: %w", err)
	}

	return recs, nil
}

// Update persists a record's mutable fields (retry count and last error).
// Updating a record that was already deleted is a no-op.
func (s *sqliteStore) Update(ctx context.Context, rec MutationRecord) error {
	if _, err := s.updateStmt.ExecContext(ctx, rec.RetryCount, rec.LastError, rec.ID); err != nil {
		return fmt.Errorf("failed to update queue record %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes a record if it exists. Delete-if-exists keeps the losing
// racer of a concurrent flush harmless.
func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.deleteStmt.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("failed to delete queue record %s: %w", id, err)
	}
	return nil
}

// Count returns the number of pending records.
func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.countStmt.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue records: %w", err)
	}
	return n, nil
}

// Close releases prepared statements and the database handle.
func (s *sqliteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.insertStmt, s.listStmt, s.updateStmt, s.deleteStmt, s.countStmt} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}
