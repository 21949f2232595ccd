package schemas

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrajectory(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	t.Run("constructors set the kind", func(t *testing.T) {
		obs := Observation(base, &Frame{Width: 10, Height: 10})
		assert.Equal(t, EntryObservation, obs.Kind)
		assert.NotNil(t, obs.Frame)

		dec := Decision(base, "ACTION: DONE")
		assert.Equal(t, EntryDecision, dec.Kind)
		assert.Equal(t, "ACTION: DONE", dec.Text)
	})

	t.Run("empty and decisions", func(t *testing.T) {
		assert.True(t, Trajectory{}.Empty())

		traj := Trajectory{Entries: []Entry{
			Observation(base, nil),
			Decision(base, "a"),
			Observation(base, nil),
			Decision(base, "b"),
		}}
		assert.False(t, traj.Empty())

		decisions := traj.Decisions()
		require.Len(t, decisions, 2)
		assert.Equal(t, "a", decisions[0].Text)
		assert.Equal(t, "b", decisions[1].Text)
	})

	t.Run("rollout JSON round trip preserves the trajectory", func(t *testing.T) {
		rollout := Rollout{
			ID:   "r-1",
			Task: "login",
			Trajectory: Trajectory{ID: "t-1", Entries: []Entry{
				Observation(base, &Frame{Data: []byte{1, 2, 3}, Width: 2, Height: 2}),
				Decision(base.Add(time.Second), "ACTION: CLICK 1 2"),
			}},
			Reward:      1,
			CollectedAt: base,
		}

		data, err := json.Marshal(rollout)
		require.NoError(t, err)

		var decoded Rollout
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, rollout.ID, decoded.ID)
		require.Len(t, decoded.Trajectory.Entries, 2)
		assert.Equal(t, []byte{1, 2, 3}, decoded.Trajectory.Entries[0].Frame.Data)
		assert.Equal(t, "ACTION: CLICK 1 2", decoded.Trajectory.Entries[1].Text)
	})
}
