// Package sqlstore persists execution checkpoints in SQLite or Postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/swflow"
	"github.com/deepnoodle-ai/swflow/retry"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS swflow_checkpoints (
	execution_id  TEXT PRIMARY KEY,
	checkpoint_id TEXT NOT NULL,
	workflow_name TEXT NOT NULL,
	status        TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	start_time    BIGINT NOT NULL DEFAULT 0,
	checkpoint_at BIGINT NOT NULL DEFAULT 0,
	data          TEXT NOT NULL
)`

var (
	_ swflow.Checkpointer    = (*Store)(nil)
	_ swflow.ExecutionLister = (*Store)(nil)
)

// Store is a Checkpointer keeping the latest checkpoint of every execution
// in one table.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database named by dsn and creates the checkpoint
// table when missing. See ParseDSN for the accepted forms.
func Open(ctx context.Context, dsn string) (*Store, error) {
	dialect, source, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(string(dialect), source)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	err = retry.Do(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}, retry.WithMaxRetries(3), retry.WithBaseWait(250*time.Millisecond), retry.WithRetryIf(isTransient))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s store: %w", dialect, err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// Dialect returns the database dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// SaveCheckpoint replaces the stored checkpoint of the execution.
func (s *Store) SaveCheckpoint(ctx context.Context, checkpoint *swflow.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	query := rebind(s.dialect, `INSERT INTO swflow_checkpoints
		(execution_id, checkpoint_id, workflow_name, status, error, start_time, checkpoint_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id) DO UPDATE SET
			checkpoint_id = excluded.checkpoint_id,
			workflow_name = excluded.workflow_name,
			status = excluded.status,
			error = excluded.error,
			start_time = excluded.start_time,
			checkpoint_at = excluded.checkpoint_at,
			data = excluded.data`)
	err = retry.Do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			checkpoint.ExecutionID,
			checkpoint.ID,
			checkpoint.WorkflowName,
			checkpoint.Status,
			checkpoint.Error,
			unixNano(checkpoint.StartTime),
			unixNano(checkpoint.CheckpointAt),
			string(data))
		return err
	}, retry.WithMaxRetries(3), retry.WithBaseWait(50*time.Millisecond), retry.WithRetryIf(isTransient))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the latest checkpoint of an execution, or nil
// when there is none.
func (s *Store) LoadCheckpoint(ctx context.Context, executionID string) (*swflow.Checkpoint, error) {
	query := rebind(s.dialect, `SELECT data FROM swflow_checkpoints WHERE execution_id = ?`)
	var data string
	err := s.db.QueryRowContext(ctx, query, executionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	var checkpoint swflow.Checkpoint
	if err := json.Unmarshal([]byte(data), &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// DeleteCheckpoint removes the checkpoint of an execution.
func (s *Store) DeleteCheckpoint(ctx context.Context, executionID string) error {
	query := rebind(s.dialect, `DELETE FROM swflow_checkpoints WHERE execution_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, executionID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// ListExecutions returns a summary of every stored execution, newest
// first.
func (s *Store) ListExecutions(ctx context.Context) ([]*swflow.ExecutionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM swflow_checkpoints ORDER BY start_time DESC, execution_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	summaries := []*swflow.ExecutionSummary{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		var checkpoint swflow.Checkpoint
		if err := json.Unmarshal([]byte(data), &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		summaries = append(summaries, checkpoint.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return summaries, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
