package trainer

import (
	"math"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tracepilot/api/schemas"
	"github.com/xkilldash9x/tracepilot/internal/config"
	"github.com/xkilldash9x/tracepilot/internal/dialogue"
	"github.com/xkilldash9x/tracepilot/internal/masking"
	"github.com/xkilldash9x/tracepilot/internal/policy"
)

// GroupTrainer applies one advantage-weighted optimizer step over a group of
// rollouts that share a task. Advantages are recomputed fresh from each
// group's rewards; a group with (near-)flat rewards produces no update at
// all, which is the central stability gate.
type GroupTrainer struct {
	policy *policy.Policy
	opt    *policy.AdamW
	cfg    config.TrainerConfig
	logger *zap.Logger

	trainSteps int
}

// NewGroupTrainer wires a group trainer to the shared policy.
func NewGroupTrainer(p *policy.Policy, cfg config.TrainerConfig, logger *zap.Logger) *GroupTrainer {
	return &GroupTrainer{
		policy: p,
		opt:    policy.NewAdamW(optimizerConfig(cfg), p.Parameters()),
		cfg:    cfg,
		logger: logger.Named("group-trainer"),
	}
}

// TrainStep runs one group-relative step. Rollouts with empty trajectories
// are discarded before any statistics are computed; a validation tail is held
// out and never receives gradients; advantages below the significance
// threshold skip their rollout, and if every advantage is insignificant the
// whole step aborts with the group's reward statistics and untouched
// parameters.
func (g *GroupTrainer) TrainStep(rollouts []schemas.Rollout, task string) schemas.GroupReport {
	report := schemas.GroupReport{
		AdvantageThreshold: g.cfg.AdvantageThreshold,
		ValFraction:        g.cfg.ValFraction,
		TrainSteps:         g.trainSteps,
	}

	if len(rollouts) == 0 {
		report.Reason = schemas.ReasonNoRollouts
		return report
	}

	surviving := rollouts[:0:0]
	for _, r := range rollouts {
		if r.Trajectory.Empty() {
			continue
		}
		surviving = append(surviving, r)
	}
	report.NumRollouts = len(surviving)
	if len(surviving) == 0 {
		report.Reason = schemas.ReasonNoValidRollouts
		return report
	}

	rewards := make([]float64, len(surviving))
	for i, r := range surviving {
		rewards[i] = r.Reward
	}
	report.Rewards = rewards
	report.RewardMean, report.RewardStd = meanAndPopStd(rewards)
	report.RewardVariance = report.RewardStd * report.RewardStd

	train, val := g.splitRollouts(surviving)
	report.TrainRollouts = len(train)

	trainRewards := make([]float64, len(train))
	for i, r := range train {
		trainRewards[i] = r.Reward
	}
	advantages := computeAdvantages(trainRewards, g.cfg.MinAdvantageStd)

	if allInsignificant(advantages, g.cfg.AdvantageThreshold) {
		report.Reason = schemas.ReasonNoVariance
		return report
	}

	tok := g.policy.Tokenizer()
	g.opt.ZeroGrad()

	n := float64(len(train))
	totalLoss := 0.0
	totalTokens := 0
	used := 0

	for i, r := range train {
		adv := advantages[i]
		if math.Abs(adv) < g.cfg.AdvantageThreshold {
			report.SkippedRollouts++
			continue
		}

		turns := dialogue.Assemble(r.Trajectory.Entries, task)
		seq := dialogue.Encode(turns, tok)
		mask, matched := masking.AllDecisions(seq)
		if matched == 0 {
			g.logger.Warn("rollout has no decision tokens, skipping",
				zap.String("rollout_id", r.ID), zap.Int("index", i))
			report.SkippedRollouts++
			continue
		}

		loss, maskedTokens, err := g.policy.SequenceLoss(seq.Tokens, mask)
		if err != nil {
			g.logger.Warn("rollout loss failed, skipping",
				zap.String("rollout_id", r.ID), zap.Error(err))
			report.SkippedRollouts++
			continue
		}
		if maskedTokens == 0 {
			report.SkippedRollouts++
			continue
		}

		policy.Backward(policy.Scale(loss, adv/n))
		totalLoss += adv * loss.Data
		totalTokens += maskedTokens
		used++
	}

	if used == 0 {
		g.opt.ZeroGrad()
		g.logger.Warn("every training rollout was skipped, aborting step",
			zap.Int("rollouts", report.NumRollouts),
			zap.Int("skipped", report.SkippedRollouts))
		report.Reason = schemas.ReasonNoValidRollouts
		return report
	}

	gradNorm := g.opt.ClipGradNorm(g.cfg.GradClip)
	g.opt.Step()
	g.trainSteps++

	report.Trained = true
	report.Loss = totalLoss / float64(used)
	report.GradNorm = gradNorm
	report.DecisionTokens = totalTokens
	report.AdvantagesUsed = used
	report.TrainSteps = g.trainSteps
	report.Validation = g.evaluate(val, task)

	fields := []zap.Field{
		zap.Float64("loss", report.Loss),
		zap.Float64("grad_norm", report.GradNorm),
		zap.Float64("reward_mean", report.RewardMean),
		zap.Float64("reward_std", report.RewardStd),
		zap.Int("rollouts", report.NumRollouts),
		zap.Int("used", report.AdvantagesUsed),
		zap.Int("skipped", report.SkippedRollouts),
		zap.Int("train_steps", report.TrainSteps),
	}
	if report.Validation != nil {
		fields = append(fields,
			zap.Float64("val_loss", report.Validation.Loss),
			zap.Float64("val_perplexity", report.Validation.Perplexity))
	}
	g.logger.Info("group step applied", fields...)

	return report
}

// splitRollouts holds out the tail of the group for validation. No split
// happens when the fraction is zero or fewer than two rollouts remain.
func (g *GroupTrainer) splitRollouts(rollouts []schemas.Rollout) (train, val []schemas.Rollout) {
	if g.cfg.ValFraction <= 0 || len(rollouts) < 2 {
		return rollouts, nil
	}
	valCount := int(float64(len(rollouts)) * g.cfg.ValFraction)
	if valCount < 1 {
		valCount = 1
	}
	if valCount >= len(rollouts) {
		return rollouts, nil
	}
	return rollouts[:len(rollouts)-valCount], rollouts[len(rollouts)-valCount:]
}

// evaluate runs a no-gradient pass over the held-out rollouts with
// all-decisions masking, reporting mean loss and perplexity. Returns nil when
// nothing was evaluable.
func (g *GroupTrainer) evaluate(rollouts []schemas.Rollout, task string) *schemas.ValidationMetrics {
	if len(rollouts) == 0 {
		return nil
	}
	tok := g.policy.Tokenizer()
	var losses []float64
	totalTokens := 0
	for _, r := range rollouts {
		turns := dialogue.Assemble(r.Trajectory.Entries, task)
		seq := dialogue.Encode(turns, tok)
		mask, matched := masking.AllDecisions(seq)
		if matched == 0 {
			continue
		}
		loss, maskedTokens, err := g.policy.EvalLoss(seq.Tokens, mask)
		if err != nil {
			g.logger.Warn("validation loss failed, skipping",
				zap.String("rollout_id", r.ID), zap.Error(err))
			continue
		}
		if maskedTokens == 0 {
			continue
		}
		losses = append(losses, loss)
		totalTokens += maskedTokens
	}
	if len(losses) == 0 || totalTokens == 0 {
		return nil
	}
	sum := 0.0
	for _, l := range losses {
		sum += l
	}
	avg := sum / float64(len(losses))
	return &schemas.ValidationMetrics{
		Loss:       avg,
		Perplexity: math.Exp(avg),
		Batches:    len(losses),
		Tokens:     totalTokens,
	}
}

// computeAdvantages z-scores rewards against their own mean and sample
// standard deviation. Below minStd every advantage is forced to zero, which
// downstream reads as "nothing significant here".
func computeAdvantages(rewards []float64, minStd float64) []float64 {
	if len(rewards) == 0 {
		return nil
	}
	out := make([]float64, len(rewards))
	if len(rewards) < 2 {
		return out
	}
	mean := 0.0
	for _, r := range rewards {
		mean += r
	}
	mean /= float64(len(rewards))
	var sq float64
	for _, r := range rewards {
		d := r - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(rewards)-1))
	if std < minStd {
		return out
	}
	for i, r := range rewards {
		out[i] = (r - mean) / (std + 1e-8)
	}
	return out
}

func allInsignificant(advantages []float64, threshold float64) bool {
	for _, a := range advantages {
		if math.Abs(a) >= threshold {
			return false
		}
	}
	return true
}

// meanAndPopStd returns the mean and population standard deviation. Used for
// reporting only; advantage computation has its own statistics.
func meanAndPopStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
