package schemas

// Reason codes for calls that complete without an optimizer step. These are
// expected outcomes, not errors; the caller decides whether to collect more
// data or move on.
const (
	ReasonNoRollouts      = "no rollouts provided"
	ReasonNoDecisions     = "no decisions"
	ReasonNoVariance      = "no variance in rewards"
	ReasonNoValidRollouts = "no valid rollouts after filtering"
	ReasonNoUsableTokens  = "no decision tokens found in any example"
)

// TrajectoryReport is the structured result of one single-trajectory
// training call. When Trained is false, Reason explains why and no parameter
// was touched.
type TrajectoryReport struct {
	Trained bool   `json:"trained"`
	Reason  string `json:"reason,omitempty"`

	Loss           float64 `json:"loss"`
	GradNorm       float64 `json:"grad_norm"`
	DecisionTokens int     `json:"decision_tokens"`

	NumExamples     int `json:"num_examples"`
	SkippedExamples int `json:"skipped_examples"`
	TrajectoryLen   int `json:"trajectory_len"`

	TrainSteps int     `json:"train_steps"`
	AvgLoss    float64 `json:"avg_loss"`

	WindowSize int     `json:"window_size"`
	GradClip   float64 `json:"grad_clip"`
}

// ValidationMetrics summarizes the no-gradient evaluation of the held-out
// rollouts in a group step. Purely a generalization signal; it never feeds
// back into the update.
type ValidationMetrics struct {
	Loss       float64 `json:"val_loss"`
	Perplexity float64 `json:"val_perplexity"`
	Batches    int     `json:"val_batches"`
	Tokens     int     `json:"val_tokens"`
}

// GroupReport is the structured result of one group-relative training step.
type GroupReport struct {
	Trained bool   `json:"trained"`
	Reason  string `json:"reason,omitempty"`

	Rewards        []float64 `json:"rewards"`
	RewardMean     float64   `json:"reward_mean"`
	RewardStd      float64   `json:"reward_std"`
	RewardVariance float64   `json:"reward_variance"`

	Loss           float64 `json:"loss"`
	GradNorm       float64 `json:"grad_norm"`
	DecisionTokens int     `json:"decision_tokens"`

	NumRollouts     int `json:"num_rollouts"`
	TrainRollouts   int `json:"train_rollouts"`
	SkippedRollouts int `json:"skipped_rollouts"`
	AdvantagesUsed  int `json:"advantages_used"`

	AdvantageThreshold float64 `json:"advantage_threshold"`
	ValFraction        float64 `json:"val_fraction"`
	TrainSteps         int     `json:"train_steps"`

	Validation *ValidationMetrics `json:"validation,omitempty"`
}
