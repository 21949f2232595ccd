package policy

import (
	"fmt"
	"math/rand"
)

// Snapshot is the serializable form of the policy weights. The core exposes
// this for an external checkpoint layer; where and how it lands on disk is
// that layer's business.
type Snapshot struct {
	Version int                    `json:"version"`
	Config  Config                 `json:"config"`
	State   map[string][][]float64 `json:"state"`
}

// Export copies the current weights into a snapshot.
func (p *Policy) Export() Snapshot {
	state := make(map[string][][]float64, len(p.model.state))
	for name, mat := range p.model.state {
		rows := make([][]float64, len(mat))
		for i, row := range mat {
			r := make([]float64, len(row))
			for j, v := range row {
				r[j] = v.Data
			}
			rows[i] = r
		}
		state[name] = rows
	}
	return Snapshot{Version: 1, Config: p.model.cfg, State: state}
}

// FromSnapshot reconstructs a policy from exported weights. The snapshot's
// matrix shapes must agree with its config.
func FromSnapshot(snap Snapshot, seed int64) (*Policy, error) {
	if err := snap.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	rng := rand.New(rand.NewSource(seed))
	model, err := NewModel(snap.Config, rng)
	if err != nil {
		return nil, err
	}
	for name, mat := range model.state {
		src, ok := snap.State[name]
		if !ok {
			return nil, fmt.Errorf("invalid snapshot: missing matrix %q", name)
		}
		if len(src) != len(mat) {
			return nil, fmt.Errorf("invalid snapshot: matrix %q has %d rows, want %d", name, len(src), len(mat))
		}
		for i, row := range mat {
			if len(src[i]) != len(row) {
				return nil, fmt.Errorf("invalid snapshot: matrix %q row %d has %d cols, want %d", name, i, len(src[i]), len(row))
			}
			for j := range row {
				row[j].Data = src[i][j]
			}
		}
	}
	return &Policy{model: model, rng: rng}, nil
}
