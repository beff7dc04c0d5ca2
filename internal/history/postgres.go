package history

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists run records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	var pool *pgxpool.Pool

	// The database often comes up after the service in compose setups, so
	// retry the initial connect for a short while.
	err := backoff.Retry(func() error {
		var err error
		if pool, err = pgxpool.New(ctx, databaseURL); err != nil {
			log.Printf("[history] connect postgres failed, retrying: %v", err)
			return err
		}
		if err = pool.Ping(ctx); err != nil {
			pool.Close()
			log.Printf("[history] ping postgres failed, retrying: %v", err)
			return err
		}
		return nil
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 5))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_runs (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			prompt TEXT NOT NULL,
			outcome TEXT NOT NULL,
			output TEXT NOT NULL,
			session_id TEXT,
			channel_id BIGINT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_runs_project_finished ON task_runs (project, finished_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.FinishedAt.IsZero() {
		record.FinishedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_runs (id, project, prompt, outcome, output, session_id, channel_id, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID,
		record.Project,
		record.Prompt,
		record.Outcome,
		record.Output,
		record.SessionID,
		record.ChannelID,
		record.StartedAt,
		record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// ListRuns returns newest-first; empty project means all projects.
func (s *PostgresStore) ListRuns(ctx context.Context, project string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, project, prompt, outcome, output, session_id, channel_id, started_at, finished_at
		 FROM task_runs`
	args := []any{}
	if project != "" {
		query += ` WHERE project=$1 ORDER BY finished_at DESC LIMIT $2`
		args = append(args, project, limit)
	} else {
		query += ` ORDER BY finished_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Project, &r.Prompt, &r.Outcome, &r.Output, &r.SessionID, &r.ChannelID, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
