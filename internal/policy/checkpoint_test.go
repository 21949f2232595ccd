package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	t.Run("export and restore reproduce the exact weights", func(t *testing.T) {
		p := newTestPolicy(t)
		snap := p.Export()

		restored, err := FromSnapshot(snap, 99)
		require.NoError(t, err)
		assert.Equal(t, p.ParameterChecksum(), restored.ParameterChecksum())
	})

	t.Run("survives JSON round trip", func(t *testing.T) {
		p := newTestPolicy(t)
		data, err := json.Marshal(p.Export())
		require.NoError(t, err)

		var snap Snapshot
		require.NoError(t, json.Unmarshal(data, &snap))
		restored, err := FromSnapshot(snap, 0)
		require.NoError(t, err)
		assert.Equal(t, p.ParameterChecksum(), restored.ParameterChecksum())
	})

	t.Run("export is detached from the live weights", func(t *testing.T) {
		p := newTestPolicy(t)
		snap := p.Export()
		before := p.ParameterChecksum()

		for _, rows := range snap.State {
			rows[0][0] += 1
			break
		}
		assert.Equal(t, before, p.ParameterChecksum())
	})

	t.Run("rejects a snapshot missing a matrix", func(t *testing.T) {
		p := newTestPolicy(t)
		snap := p.Export()
		for name := range snap.State {
			delete(snap.State, name)
			break
		}
		_, err := FromSnapshot(snap, 0)
		require.Error(t, err)
	})

	t.Run("rejects shape drift", func(t *testing.T) {
		p := newTestPolicy(t)
		snap := p.Export()
		for name, rows := range snap.State {
			snap.State[name] = rows[:len(rows)-1]
			break
		}
		_, err := FromSnapshot(snap, 0)
		require.Error(t, err)
	})

	t.Run("rejects an invalid config", func(t *testing.T) {
		snap := Snapshot{Version: 1, Config: Config{NLayer: 0}}
		_, err := FromSnapshot(snap, 0)
		require.Error(t, err)
	})
}
