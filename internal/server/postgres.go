package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const observationsSchema = `
CREATE TABLE IF NOT EXISTS observations (
	id UUID PRIMARY KEY,
	student_id TEXT NOT NULL,
	teacher_id TEXT NOT NULL,
	date TIMESTAMPTZ NOT NULL,
	time TEXT NOT NULL DEFAULT '',
	activity_type TEXT NOT NULL DEFAULT '',
	observed_skills TEXT[] NOT NULL DEFAULT '{}',
	initiator TEXT NOT NULL DEFAULT '',
	student_response TEXT NOT NULL DEFAULT '',
	is_goal_aligned BOOLEAN NOT NULL DEFAULT FALSE,
	notes TEXT NOT NULL DEFAULT '',
	tags TEXT[] NOT NULL DEFAULT '{}',
	environment TEXT NOT NULL DEFAULT 'CLASSROOM',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS sync_ledger (
	sync_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	status TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	synced_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_sync_ledger_user_status
	ON sync_ledger (user_id, status, created_at)`

// postgresObservationStore is the Postgres-backed ObservationStore.
type postgresObservationStore struct {
	pool *pgxpool.Pool
}

// NewPostgresObservationStore creates the observation store and ensures
// its schema exists.
func NewPostgresObservationStore(ctx context.Context, pool *pgxpool.Pool) (ObservationStore, error) {
	if _, err := pool.Exec(ctx, observationsSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize observations schema: %w", err)
	}
	return &postgresObservationStore{pool: pool}, nil
}

func (s *postgresObservationStore) Create(ctx context.Context, obs Observation) (Observation, error) {
	now := time.Now()
	obs.ID = uuid.NewString()
	obs.CreatedAt = now
	obs.UpdatedAt = now
	if obs.Environment == "" {
		obs.Environment = DefaultEnvironment
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO observations (
			id, student_id, teacher_id, date, time, activity_type,
			observed_skills, initiator, student_response, is_goal_aligned,
			notes, tags, environment, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		obs.ID, obs.StudentID, obs.TeacherID, obs.Date, obs.Time, obs.ActivityType,
		obs.ObservedSkills, obs.Initiator, obs.StudentResponse, obs.IsGoalAligned,
		obs.Notes, obs.Tags, obs.Environment, obs.CreatedAt, obs.UpdatedAt,
	)
	if err != nil {
		return Observation{}, fmt.Errorf("insert observation: %w", err)
	}
	return obs, nil
}

func (s *postgresObservationStore) Update(ctx context.Context, obs Observation) (Observation, error) {
	obs.UpdatedAt = time.Now()

	row := s.pool.QueryRow(ctx, `
		UPDATE observations SET
			date = $2, time = $3, activity_type = $4, observed_skills = $5,
			initiator = $6, student_response = $7, is_goal_aligned = $8,
			notes = $9, tags = $10,
			environment = COALESCE(NULLIF($11, ''), environment),
			updated_at = $12
		WHERE id = $1
		RETURNING student_id, teacher_id, environment, created_at`,
		obs.ID, obs.Date, obs.Time, obs.ActivityType, obs.ObservedSkills,
		obs.Initiator, obs.StudentResponse, obs.IsGoalAligned,
		obs.Notes, obs.Tags, obs.Environment, obs.UpdatedAt,
	)

	err := row.Scan(&obs.StudentID, &obs.TeacherID, &obs.Environment, &obs.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Observation{}, ErrNotFound
	}
	if err != nil {
		return Observation{}, fmt.Errorf("update observation: %w", err)
	}
	return obs, nil
}

func (s *postgresObservationStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM observations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete observation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresObservationStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// postgresLedgerStore is the Postgres-backed LedgerStore.
type postgresLedgerStore struct {
	pool *pgxpool.Pool
}

// NewPostgresLedgerStore creates the ledger store and ensures its schema
// exists.
func NewPostgresLedgerStore(ctx context.Context, pool *pgxpool.Pool) (LedgerStore, error) {
	if _, err := pool.Exec(ctx, ledgerSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return &postgresLedgerStore{pool: pool}, nil
}

func (s *postgresLedgerStore) Record(ctx context.Context, entry LedgerEntry) error {
	// A resubmitted item reuses its row and keeps the retry history
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_ledger (sync_id, user_id, action, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sync_id) DO UPDATE
		SET status = EXCLUDED.status, action = EXCLUDED.action, synced_at = NULL`,
		entry.SyncID, entry.UserID, entry.Action, StatusPending, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("record ledger entry: %w", err)
	}
	return nil
}

func (s *postgresLedgerStore) Complete(ctx context.Context, syncID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_ledger
		SET status = $2, synced_at = $3, last_error = ''
		WHERE sync_id = $1`,
		syncID, StatusCompleted, at,
	)
	if err != nil {
		return fmt.Errorf("complete ledger entry: %w", err)
	}
	return nil
}

func (s *postgresLedgerStore) Fail(ctx context.Context, syncID string, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_ledger
		SET status = $2, retry_count = retry_count + 1, last_error = $3
		WHERE sync_id = $1`,
		syncID, StatusFailed, message,
	)
	if err != nil {
		return fmt.Errorf("fail ledger entry: %w", err)
	}
	return nil
}

func (s *postgresLedgerStore) ListPending(ctx context.Context, userID string) ([]LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sync_id, user_id, action, status, retry_count, last_error, created_at, synced_at
		FROM sync_ledger
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at, sync_id`,
		userID, StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var entry LedgerEntry
		if err := rows.Scan(
			&entry.SyncID, &entry.UserID, &entry.Action, &entry.Status,
			&entry.RetryCount, &entry.LastError, &entry.CreatedAt, &entry.SyncedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *postgresLedgerStore) Clear(ctx context.Context, userID, syncID string) error {
	var err error
	if syncID != "" {
		_, err = s.pool.Exec(ctx,
			`DELETE FROM sync_ledger WHERE sync_id = $1 AND user_id = $2`, syncID, userID)
	} else {
		_, err = s.pool.Exec(ctx,
			`DELETE FROM sync_ledger WHERE user_id = $1`, userID)
	}
	if err != nil {
		return fmt.Errorf("clear ledger entries: %w", err)
	}
	return nil
}
