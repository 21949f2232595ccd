package tracestore

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracepilot/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

const (
	sqlInsertRollout = `
        INSERT INTO rollouts (id, task, reward, trajectory, collected_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET
            task = EXCLUDED.task,
            reward = EXCLUDED.reward,
            trajectory = EXCLUDED.trajectory,
            collected_at = EXCLUDED.collected_at;
    `
	sqlListRollouts = `
        SELECT id, task, reward, trajectory, collected_at
        FROM rollouts
        WHERE task = $1
        ORDER BY collected_at ASC;
    `
	sqlInsertReport = `
        INSERT INTO training_reports (kind, task, report) VALUES ($1, $2, $3);
    `
)

func TestNew(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return store, mockPool
}

func TestSaveRollout(t *testing.T) {
	ctx := context.Background()

	t.Run("should upsert the rollout with its serialized trajectory", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		collectedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		rollout := schemas.Rollout{
			ID:   uuid.NewString(),
			Task: "login",
			Trajectory: schemas.Trajectory{
				ID: uuid.NewString(),
				Entries: []schemas.Entry{
					schemas.Decision(collectedAt, "ACTION: CLICK 500 500"),
				},
			},
			Reward:      1,
			CollectedAt: collectedAt,
		}
		trajectoryJSON, err := json.Marshal(rollout.Trajectory)
		require.NoError(t, err)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRollout)).
			WithArgs(rollout.ID, rollout.Task, rollout.Reward, trajectoryJSON, collectedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.SaveRollout(ctx, rollout))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should propagate exec failures", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		execErr := errors.New("connection reset")
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRollout)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(execErr)

		err := store.SaveRollout(ctx, schemas.Rollout{ID: "r-1"})
		require.Error(t, err)
		assert.ErrorIs(t, err, execErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestListRollouts(t *testing.T) {
	ctx := context.Background()

	t.Run("should retrieve rollouts with decoded trajectories", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		collectedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		trajectory := schemas.Trajectory{
			ID: "traj-1",
			Entries: []schemas.Entry{
				schemas.Decision(collectedAt, "ACTION: DONE"),
			},
		}
		trajectoryJSON, err := json.Marshal(trajectory)
		require.NoError(t, err)

		rows := pgxmock.NewRows([]string{"id", "task", "reward", "trajectory", "collected_at"}).
			AddRow("rollout-1", "login", 1.0, trajectoryJSON, collectedAt)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlListRollouts)).
			WithArgs("login").
			WillReturnRows(rows)

		rollouts, err := store.ListRollouts(ctx, "login")
		require.NoError(t, err)
		require.Len(t, rollouts, 1)

		assert.Equal(t, "rollout-1", rollouts[0].ID)
		assert.Equal(t, 1.0, rollouts[0].Reward)
		require.Len(t, rollouts[0].Trajectory.Entries, 1)
		assert.Equal(t, schemas.EntryDecision, rollouts[0].Trajectory.Entries[0].Kind)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail on malformed trajectory payloads", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		rows := pgxmock.NewRows([]string{"id", "task", "reward", "trajectory", "collected_at"}).
			AddRow("rollout-bad", "login", 0.0, []byte("not json"), time.Now())

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlListRollouts)).
			WithArgs("login").
			WillReturnRows(rows)

		_, err := store.ListRollouts(ctx, "login")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rollout-bad")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestSaveReports(t *testing.T) {
	ctx := context.Background()

	t.Run("should record group reports under the group kind", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		report := schemas.GroupReport{
			Trained:     true,
			NumRollouts: 5,
			RewardMean:  0.6,
		}
		payload, err := json.Marshal(report)
		require.NoError(t, err)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertReport)).
			WithArgs("group", "login", payload).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.SaveGroupReport(ctx, "login", report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should record trajectory reports under the trajectory kind", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		report := schemas.TrajectoryReport{
			Trained:     true,
			NumExamples: 3,
		}
		payload, err := json.Marshal(report)
		require.NoError(t, err)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertReport)).
			WithArgs("trajectory", "login", payload).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.SaveTrajectoryReport(ctx, "login", report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
