package trainer

import (
	"github.com/xkilldash9x/tracepilot/internal/policy"
)

// State is the serializable trainer-side snapshot: step counters plus the
// optimizer moments. The core exposes it for an external checkpoint layer;
// the policy weights themselves travel separately via policy.Snapshot.
type State struct {
	TrainSteps int                    `json:"train_steps"`
	TotalLoss  float64                `json:"total_loss"`
	Optimizer  *policy.OptimizerState `json:"optimizer,omitempty"`
}

// ExportState snapshots the trajectory trainer's counters and optimizer.
func (t *TrajectoryTrainer) ExportState() State {
	st := t.opt.ExportState()
	return State{
		TrainSteps: t.trainSteps,
		TotalLoss:  t.totalLoss,
		Optimizer:  &st,
	}
}

// RestoreState restores a snapshot taken by ExportState. The step counter and
// loss accumulator are always restored; the optimizer moments are restored
// only when the snapshot carries them and they match the current parameter
// count — a snapshot without them resumes with fresh moments. The restore is
// atomic: on a shape mismatch nothing is changed.
func (t *TrajectoryTrainer) RestoreState(st State) error {
	if st.Optimizer != nil {
		if err := t.opt.ImportState(*st.Optimizer); err != nil {
			return err
		}
	}
	t.trainSteps = st.TrainSteps
	t.totalLoss = st.TotalLoss
	return nil
}

// ExportState snapshots the group trainer's step counter and optimizer.
func (g *GroupTrainer) ExportState() State {
	st := g.opt.ExportState()
	return State{
		TrainSteps: g.trainSteps,
		Optimizer:  &st,
	}
}

// RestoreState restores a group trainer snapshot, with the same contract as
// the trajectory trainer's RestoreState.
func (g *GroupTrainer) RestoreState(st State) error {
	if st.Optimizer != nil {
		if err := g.opt.ImportState(*st.Optimizer); err != nil {
			return err
		}
	}
	g.trainSteps = st.TrainSteps
	return nil
}
