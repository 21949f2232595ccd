// Package tracestore persists rollouts and training reports in Postgres so
// collection and training can run in separate processes or sessions.
package tracestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracepilot/api/schemas"
)

// DBPool abstracts the pgxpool.Pool so the store can be mocked in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store provides a PostgreSQL implementation of rollout and report persistence.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("tracestore"),
	}, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS rollouts (
            id           TEXT PRIMARY KEY,
            task         TEXT NOT NULL,
            reward       DOUBLE PRECISION NOT NULL,
            trajectory   JSONB NOT NULL,
            collected_at TIMESTAMPTZ NOT NULL
        );
        CREATE TABLE IF NOT EXISTS training_reports (
            id         BIGSERIAL PRIMARY KEY,
            kind       TEXT NOT NULL,
            task       TEXT NOT NULL,
            report     JSONB NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// SaveRollout upserts one rollout, trajectory and all.
func (s *Store) SaveRollout(ctx context.Context, rollout schemas.Rollout) error {
	trajectory, err := json.Marshal(rollout.Trajectory)
	if err != nil {
		return fmt.Errorf("failed to marshal trajectory: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
        INSERT INTO rollouts (id, task, reward, trajectory, collected_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET
            task = EXCLUDED.task,
            reward = EXCLUDED.reward,
            trajectory = EXCLUDED.trajectory,
            collected_at = EXCLUDED.collected_at;
    `, rollout.ID, rollout.Task, rollout.Reward, trajectory, rollout.CollectedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save rollout %s: %w", rollout.ID, err)
	}
	return nil
}

// ListRollouts returns every stored rollout for a task, oldest first.
func (s *Store) ListRollouts(ctx context.Context, task string) ([]schemas.Rollout, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, task, reward, trajectory, collected_at
        FROM rollouts
        WHERE task = $1
        ORDER BY collected_at ASC;
    `, task)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollouts: %w", err)
	}
	defer rows.Close()

	var rollouts []schemas.Rollout
	for rows.Next() {
		var r schemas.Rollout
		var trajectory []byte
		if err := rows.Scan(&r.ID, &r.Task, &r.Reward, &trajectory, &r.CollectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rollout row: %w", err)
		}
		if err := json.Unmarshal(trajectory, &r.Trajectory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trajectory for rollout %s: %w", r.ID, err)
		}
		rollouts = append(rollouts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating rollout rows: %w", err)
	}
	return rollouts, nil
}

// SaveTrajectoryReport records the diagnostics of one single-trajectory call.
func (s *Store) SaveTrajectoryReport(ctx context.Context, task string, report schemas.TrajectoryReport) error {
	return s.saveReport(ctx, "trajectory", task, report)
}

// SaveGroupReport records the diagnostics of one group step.
func (s *Store) SaveGroupReport(ctx context.Context, task string, report schemas.GroupReport) error {
	return s.saveReport(ctx, "group", task, report)
}

func (s *Store) saveReport(ctx context.Context, kind, task string, report any) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal %s report: %w", kind, err)
	}
	if _, err := s.pool.Exec(ctx, `
        INSERT INTO training_reports (kind, task, report) VALUES ($1, $2, $3);
    `, kind, task, payload); err != nil {
		return fmt.Errorf("failed to save %s report: %w", kind, err)
	}
	s.log.Debug("report saved", zap.String("kind", kind), zap.String("task", task))
	return nil
}
