package trainer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracepilot/api/schemas"
	"github.com/xkilldash9x/tracepilot/internal/config"
	"github.com/xkilldash9x/tracepilot/internal/policy"
)

// Shared fixtures for the trainer tests. The model is deliberately tiny so the
// scalar autograd passes stay fast.

func testTrainerConfig() config.TrainerConfig {
	return config.TrainerConfig{
		WindowSize:         2,
		GradClip:           1.0,
		AdvantageThreshold: 0.01,
		MinAdvantageStd:    1e-8,
		ValFraction:        0.2,
		LearningRate:       2e-4,
		Beta1:              0.9,
		Beta2:              0.999,
		Eps:                1e-8,
		WeightDecay:        0.01,
	}
}

func testPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	p, err := policy.New(policy.Config{NLayer: 1, NEmbd: 8, NHead: 2, BlockSize: 64}, 7)
	require.NoError(t, err)
	return p
}

// testTrajectory builds n observation/decision pairs with short decisions.
func testTrajectory(n int) schemas.Trajectory {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	var entries []schemas.Entry
	for i := 0; i < n; i++ {
		entries = append(entries,
			schemas.Observation(base.Add(time.Duration(2*i)*time.Second), nil),
			schemas.Decision(base.Add(time.Duration(2*i+1)*time.Second), fmt.Sprintf("A%d", i)),
		)
	}
	return schemas.Trajectory{ID: fmt.Sprintf("traj-%d", n), Entries: entries}
}

// testRollout wraps a short trajectory with a reward.
func testRollout(id string, reward float64) schemas.Rollout {
	return schemas.Rollout{
		ID:         id,
		Task:       "t",
		Trajectory: testTrajectory(1),
		Reward:     reward,
	}
}

func testLogger() *zap.Logger { return zap.NewNop() }
