package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/model"
)

// RolloutStorage defines the interface for rollout history storage
type RolloutStorage interface {
	// Save stores a completed rollout with its per-host records
	Save(ctx context.Context, result *model.RolloutResult) error

	// Get retrieves a rollout by ID, including per-host records
	Get(ctx context.Context, id string) (*model.RolloutResult, error)

	// List retrieves rollout summaries, newest first, without per-host
	// records; use Get for the full record
	List(ctx context.Context, offset, limit int) ([]*model.RolloutResult, error)

	// Count returns the total number of stored rollouts
	Count(ctx context.Context) (int, error)

	// DeleteBefore deletes rollouts started before the specified time
	DeleteBefore(ctx context.Context, before time.Time) error
}

// SQLiteRolloutStore implements RolloutStorage using SQLite
type SQLiteRolloutStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteRolloutStore creates a new SQLite-based rollout store. The
// database file is created when missing and reused otherwise, so history
// survives restarts.
func NewSQLiteRolloutStore(logger *zap.Logger, dbPath string) (*SQLiteRolloutStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteRolloutStore{
		logger: logger,
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteRolloutStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS rollouts (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			completed_at DATETIME NOT NULL,
			duration INTEGER NOT NULL,
			healthy INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			rolled_back INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			aborted BOOLEAN NOT NULL,
			abort_reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_rollouts_started_at ON rollouts(started_at);
		CREATE INDEX IF NOT EXISTS idx_rollouts_aborted ON rollouts(aborted);
		CREATE TABLE IF NOT EXISTS host_results (
			rollout_id TEXT NOT NULL,
			host_id TEXT NOT NULL,
			host_group TEXT NOT NULL,
			stage TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			skipped BOOLEAN NOT NULL,
			error TEXT,
			transitions TEXT,
			PRIMARY KEY (rollout_id, host_id)
		);
		CREATE INDEX IF NOT EXISTS idx_host_results_rollout_id ON host_results(rollout_id);
		CREATE INDEX IF NOT EXISTS idx_host_results_stage ON host_results(stage);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Save implements RolloutStorage.Save
func (s *SQLiteRolloutStore) Save(ctx context.Context, result *model.RolloutResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rollouts (
			id, started_at, completed_at, duration,
			healthy, failed, rolled_back, skipped, aborted, abort_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID,
		result.StartedAt,
		result.CompletedAt,
		int64(result.Duration),
		result.Healthy,
		result.Failed,
		result.RolledBack,
		result.Skipped,
		result.Aborted,
		sql.NullString{String: result.AbortReason, Valid: result.AbortReason != ""},
	)
	if err != nil {
		return fmt.Errorf("failed to store rollout: %w", err)
	}

	for _, host := range result.Hosts {
		var transitionsStr string
		if len(host.Transitions) > 0 {
			data, err := json.Marshal(host.Transitions)
			if err != nil {
				return fmt.Errorf("failed to marshal transitions for host %s: %w", host.HostID, err)
			}
			transitionsStr = string(data)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO host_results (
				rollout_id, host_id, host_group, stage, attempts, skipped, error, transitions
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			result.ID,
			host.HostID,
			host.Group,
			string(host.Stage),
			host.Attempts,
			host.Skipped,
			sql.NullString{String: host.Error, Valid: host.Error != ""},
			sql.NullString{String: transitionsStr, Valid: transitionsStr != ""},
		)
		if err != nil {
			return fmt.Errorf("failed to store host result for %s: %w", host.HostID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollout: %w", err)
	}
	return nil
}

// Get implements RolloutStorage.Get
func (s *SQLiteRolloutStore) Get(ctx context.Context, id string) (*model.RolloutResult, error) {
	var result model.RolloutResult
	var durationNanos int64
	var abortReason sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT
			id, started_at, completed_at, duration,
			healthy, failed, rolled_back, skipped, aborted, abort_reason
		FROM rollouts
		WHERE id = ?`, id).Scan(
		&result.ID,
		&result.StartedAt,
		&result.CompletedAt,
		&durationNanos,
		&result.Healthy,
		&result.Failed,
		&result.RolledBack,
		&result.Skipped,
		&result.Aborted,
		&abortReason,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan rollout: %w", err)
	}

	result.Duration = time.Duration(durationNanos)
	if abortReason.Valid {
		result.AbortReason = abortReason.String
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT host_id, host_group, stage, attempts, skipped, error, transitions
		FROM host_results
		WHERE rollout_id = ?
		ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list host results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var host model.HostResult
		var stage string
		var errorStr, transitionsStr sql.NullString

		err := rows.Scan(
			&host.HostID,
			&host.Group,
			&stage,
			&host.Attempts,
			&host.Skipped,
			&errorStr,
			&transitionsStr,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host result: %w", err)
		}

		host.Stage = model.Stage(stage)
		if errorStr.Valid {
			host.Error = errorStr.String
		}
		if transitionsStr.Valid && transitionsStr.String != "" {
			if err := json.Unmarshal([]byte(transitionsStr.String), &host.Transitions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal transitions for host %s: %w", host.HostID, err)
			}
		}

		result.Hosts = append(result.Hosts, host)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return &result, nil
}

// List implements RolloutStorage.List
func (s *SQLiteRolloutStore) List(ctx context.Context, offset, limit int) ([]*model.RolloutResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, started_at, completed_at, duration,
			healthy, failed, rolled_back, skipped, aborted, abort_reason
		FROM rollouts
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list rollouts: %w", err)
	}
	defer rows.Close()

	var results []*model.RolloutResult
	for rows.Next() {
		result := &model.RolloutResult{}
		var durationNanos int64
		var abortReason sql.NullString

		err := rows.Scan(
			&result.ID,
			&result.StartedAt,
			&result.CompletedAt,
			&durationNanos,
			&result.Healthy,
			&result.Failed,
			&result.RolledBack,
			&result.Skipped,
			&result.Aborted,
			&abortReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rollout: %w", err)
		}

		result.Duration = time.Duration(durationNanos)
		if abortReason.Valid {
			result.AbortReason = abortReason.String
		}

		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return results, nil
}

// Count implements RolloutStorage.Count
func (s *SQLiteRolloutStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rollouts").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rollouts: %w", err)
	}
	return count, nil
}

// DeleteBefore implements RolloutStorage.DeleteBefore
func (s *SQLiteRolloutStore) DeleteBefore(ctx context.Context, before time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM host_results
		WHERE rollout_id IN (SELECT id FROM rollouts WHERE started_at < ?)`, before)
	if err != nil {
		return fmt.Errorf("failed to delete host results: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM rollouts WHERE started_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete rollouts: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deletion: %w", err)
	}

	s.logger.Info("Deleted old rollout records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return nil
}

// Close closes the database connection
func (s *SQLiteRolloutStore) Close() error {
	return s.db.Close()
}
