// Package trainer implements the trajectory credit-assignment and
// policy-update engine: a single-trajectory trainer for supervised unrolling
// of one successful episode, and a group-relative trainer that gates updates
// on within-group reward variance.
//
// Neither trainer is safe for concurrent use; both mutate the shared policy
// parameters and must be serialized externally, one in-flight training call
// per policy instance. Every call either applies exactly one optimizer step
// or leaves the parameters untouched.
package trainer

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracepilot/api/schemas"
	"github.com/xkilldash9x/tracepilot/internal/config"
	"github.com/xkilldash9x/tracepilot/internal/dialogue"
	"github.com/xkilldash9x/tracepilot/internal/masking"
	"github.com/xkilldash9x/tracepilot/internal/policy"
	"github.com/xkilldash9x/tracepilot/internal/windowing"
)

// TrajectoryTrainer trains on one trajectory at a time by unrolling it into
// windowed examples, each predicting its final decision. Gradients accumulate
// across all examples into a single optimizer step.
//
// The running-average counters are fields of the trainer itself; resetting
// them means constructing a new trainer.
type TrajectoryTrainer struct {
	policy *policy.Policy
	opt    *policy.AdamW
	cfg    config.TrainerConfig
	logger *zap.Logger

	trainSteps int
	totalLoss  float64
}

// NewTrajectoryTrainer wires a trainer to the shared policy. The optimizer is
// owned by the trainer but its moments act on the policy's parameters.
func NewTrajectoryTrainer(p *policy.Policy, cfg config.TrainerConfig, logger *zap.Logger) *TrajectoryTrainer {
	return &TrajectoryTrainer{
		policy: p,
		opt:    policy.NewAdamW(optimizerConfig(cfg), p.Parameters()),
		cfg:    cfg,
		logger: logger.Named("trajectory-trainer"),
	}
}

func optimizerConfig(cfg config.TrainerConfig) policy.OptimizerConfig {
	return policy.OptimizerConfig{
		LearningRate: cfg.LearningRate,
		Beta1:        cfg.Beta1,
		Beta2:        cfg.Beta2,
		Eps:          cfg.Eps,
		WeightDecay:  cfg.WeightDecay,
	}
}

// TrainOnTrajectory unrolls the trajectory into windowed examples, restricts
// each example's loss to the final occurrence of its target decision, scales
// by 1/numExamples, accumulates gradients, and applies one optimizer step.
// Per-example failures are logged and skipped; only a call where every
// example fails comes back with Trained=false.
func (t *TrajectoryTrainer) TrainOnTrajectory(trajectory schemas.Trajectory, task string) schemas.TrajectoryReport {
	report := schemas.TrajectoryReport{
		TrajectoryLen: len(trajectory.Entries),
		WindowSize:    t.cfg.WindowSize,
		GradClip:      t.cfg.GradClip,
		TrainSteps:    t.trainSteps,
		AvgLoss:       t.runningAvg(),
	}

	examples := windowing.Windows(trajectory.Entries, t.cfg.WindowSize)
	if len(examples) == 0 {
		report.Reason = schemas.ReasonNoDecisions
		return report
	}
	report.NumExamples = len(examples)

	tok := t.policy.Tokenizer()
	t.opt.ZeroGrad()

	scale := 1 / float64(len(examples))
	totalLoss := 0.0
	totalTokens := 0
	used := 0

	for i, ex := range examples {
		turns := dialogue.Assemble(ex.Entries, task)
		seq := dialogue.Encode(turns, tok)
		target := tok.Encode(ex.Target)

		mask, matched := masking.FinalOccurrence(seq, target)
		if matched == 0 {
			t.logger.Warn("target decision not found in window, skipping example",
				zap.Int("example", i), zap.Int("window_tokens", seq.Len()))
			report.SkippedExamples++
			continue
		}

		loss, maskedTokens, err := t.policy.SequenceLoss(seq.Tokens, mask)
		if err != nil {
			t.logger.Warn("example loss failed, skipping", zap.Int("example", i), zap.Error(err))
			report.SkippedExamples++
			continue
		}
		if maskedTokens == 0 {
			// The masked span fell outside the model's block after
			// truncation; the example carries no trainable signal.
			report.SkippedExamples++
			continue
		}

		policy.Backward(policy.Scale(loss, scale))
		totalLoss += loss.Data
		totalTokens += maskedTokens
		used++
	}

	if used == 0 {
		t.opt.ZeroGrad()
		report.Reason = schemas.ReasonNoUsableTokens
		return report
	}

	gradNorm := t.opt.ClipGradNorm(t.cfg.GradClip)
	t.opt.Step()

	avgLoss := totalLoss / float64(len(examples))
	t.trainSteps++
	t.totalLoss += avgLoss

	report.Trained = true
	report.Loss = avgLoss
	report.GradNorm = gradNorm
	report.DecisionTokens = totalTokens
	report.TrainSteps = t.trainSteps
	report.AvgLoss = t.runningAvg()

	t.logger.Info("trajectory step applied",
		zap.Float64("loss", report.Loss),
		zap.Float64("grad_norm", report.GradNorm),
		zap.Int("examples", report.NumExamples),
		zap.Int("skipped", report.SkippedExamples),
		zap.Int("decision_tokens", report.DecisionTokens),
		zap.Int("train_steps", report.TrainSteps))

	return report
}

func (t *TrajectoryTrainer) runningAvg() float64 {
	if t.trainSteps == 0 {
		return 0
	}
	return t.totalLoss / float64(t.trainSteps)
}
