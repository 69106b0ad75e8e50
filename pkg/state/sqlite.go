package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/cloudplan/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteConfig holds SQLite backend configuration.
type SQLiteConfig struct {
	Path string

	// MaxOpenConns defaults to 1. SQLite allows a single writer.
	MaxOpenConns int

	// BusyTimeout is how long a statement waits on a locked database.
	BusyTimeout time.Duration
}

// SQLiteBackend stores snapshots, locks, runs and events in one SQLite file.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens the database at cfg.Path and applies the embedded migrations.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLiteBackend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 1
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := &SQLiteBackend{db: db, path: cfg.Path}
	if err := b.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(b.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// Lock implements engine.StateBackend. The lock is a row keyed by environment.
func (b *SQLiteBackend) Lock(ctx context.Context, env string, info engine.LockInfo) (engine.StateLock, error) {
	if info.ID == "" {
		info.ID = uuid.New().String()
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}

	res, err := b.db.ExecContext(ctx, `
		INSERT INTO locks (environment, lock_id, run_id, holder, operation, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (environment) DO NOTHING
	`, env, info.ID, info.RunID, info.Holder, info.Operation, info.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire state lock: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		held, err := b.lockInfo(ctx, env)
		if err != nil {
			return nil, err
		}
		if held == nil {
			// Released between the insert and the read.
			return b.Lock(ctx, env, info)
		}
		return nil, lockHeld(env, *held)
	}
	return &sqliteLock{backend: b, env: env, info: info}, nil
}

func (b *SQLiteBackend) lockInfo(ctx context.Context, env string) (*engine.LockInfo, error) {
	info := &engine.LockInfo{}
	err := b.db.QueryRowContext(ctx, `
		SELECT lock_id, run_id, holder, operation, created_at
		FROM locks
		WHERE environment = ?
	`, env).Scan(&info.ID, &info.RunID, &info.Holder, &info.Operation, &info.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state lock: %w", err)
	}
	return info, nil
}

// ForceUnlock implements Backend.
func (b *SQLiteBackend) ForceUnlock(ctx context.Context, env string) (*engine.LockInfo, error) {
	held, err := b.lockInfo(ctx, env)
	if err != nil || held == nil {
		return nil, err
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM locks WHERE environment = ?`, env); err != nil {
		return nil, fmt.Errorf("failed to remove state lock: %w", err)
	}
	return held, nil
}

// Load implements engine.StateBackend.
func (b *SQLiteBackend) Load(ctx context.Context, env string) (*engine.StateSnapshot, engine.Version, error) {
	var (
		version string
		body    []byte
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT version, body FROM snapshots WHERE environment = ?
	`, env).Scan(&version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.NewStateSnapshot(env), "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load state: %w", err)
	}
	snap, err := decodeSnapshot(env, body)
	if err != nil {
		return nil, "", err
	}
	return snap, engine.Version(version), nil
}

// Save implements engine.StateBackend with a conditional insert or update.
func (b *SQLiteBackend) Save(ctx context.Context, env string, snap *engine.StateSnapshot, expected engine.Version) (engine.Version, error) {
	body, err := encodeSnapshot(snap)
	if err != nil {
		return "", err
	}
	next := uuid.New().String()

	var res sql.Result
	if expected == "" {
		res, err = b.db.ExecContext(ctx, `
			INSERT INTO snapshots (environment, version, lineage, serial, body, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (environment) DO NOTHING
		`, env, next, snap.Lineage, snap.Serial, body, snap.UpdatedAt)
	} else {
		res, err = b.db.ExecContext(ctx, `
			UPDATE snapshots
			SET version = ?, lineage = ?, serial = ?, body = ?, updated_at = ?
			WHERE environment = ? AND version = ?
		`, next, snap.Lineage, snap.Serial, body, snap.UpdatedAt, env, string(expected))
	}
	if err != nil {
		return "", fmt.Errorf("failed to save state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return "", staleVersion(env, expected, nil)
	}
	return engine.Version(next), nil
}

// RecordRun implements engine.RunRecorder. Recording a run again replaces it.
func (b *SQLiteBackend) RecordRun(ctx context.Context, run *engine.Run) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	results, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("failed to encode run results: %w", err)
	}

	var completedAt sql.NullTime
	if run.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO runs (id, environment, plan_id, mode, status, summary, results, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			plan_id = excluded.plan_id,
			status = excluded.status,
			summary = excluded.summary,
			results = excluded.results,
			completed_at = excluded.completed_at
	`, run.ID, run.Environment, run.PlanID, string(run.Mode), string(run.Status),
		string(summary), string(results), run.StartedAt, completedAt)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for env, newest first.
func (b *SQLiteBackend) ListRuns(ctx context.Context, env string, limit int) ([]*engine.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, environment, plan_id, mode, status, summary, results, started_at, completed_at
		FROM runs
		WHERE environment = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, env, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.Run{}
	for rows.Next() {
		var (
			run              engine.Run
			mode, status     string
			summary, results string
			completedAt      sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.Environment, &run.PlanID, &mode, &status,
			&summary, &results, &run.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Mode = engine.PlanMode(mode)
		run.Status = engine.RunStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			run.CompletedAt = &t
		}
		if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode run summary: %w", err)
		}
		if err := json.Unmarshal([]byte(results), &run.Results); err != nil {
			return nil, fmt.Errorf("failed to decode run results: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Publish implements engine.EventPublisher by appending the event to the log.
func (b *SQLiteBackend) Publish(ctx context.Context, event *engine.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data := []byte("{}")
	if len(event.Data) > 0 {
		var err error
		if data, err = json.Marshal(event.Data); err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO events (id, run_id, resource_id, type, level, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.RunID, event.ResourceID, string(event.Type), event.Level, event.Message, string(data), event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Events returns the events of a run in the order they happened.
func (b *SQLiteBackend) Events(ctx context.Context, runID string) ([]*engine.Event, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, run_id, resource_id, type, level, message, data, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*engine.Event{}
	for rows.Next() {
		var (
			event     engine.Event
			eventType string
			data      string
		)
		if err := rows.Scan(&event.ID, &event.RunID, &event.ResourceID, &eventType,
			&event.Level, &event.Message, &data, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Type = engine.EventType(eventType)
		if data != "{}" {
			if err := json.Unmarshal([]byte(data), &event.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// HealthCheck verifies the database is reachable.
func (b *SQLiteBackend) HealthCheck(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

var _ HealthChecker = (*SQLiteBackend)(nil)

type sqliteLock struct {
	backend *SQLiteBackend
	env     string
	info    engine.LockInfo
}

func (l *sqliteLock) Info() engine.LockInfo { return l.info }

// Unlock deletes the lock row if this handle still owns it.
func (l *sqliteLock) Unlock(ctx context.Context) error {
	if _, err := l.backend.db.ExecContext(ctx, `
		DELETE FROM locks WHERE environment = ? AND lock_id = ?
	`, l.env, l.info.ID); err != nil {
		return fmt.Errorf("failed to release state lock: %w", err)
	}
	return nil
}

var (
	_ Backend               = (*SQLiteBackend)(nil)
	_ engine.RunRecorder    = (*SQLiteBackend)(nil)
	_ engine.EventPublisher = (*SQLiteBackend)(nil)
)
