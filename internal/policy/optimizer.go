package policy

import (
	"fmt"
	"math"
)

// OptimizerConfig carries AdamW hyperparameters.
type OptimizerConfig struct {
	LearningRate float64 `json:"learning_rate"`
	Beta1        float64 `json:"beta1"`
	Beta2        float64 `json:"beta2"`
	Eps          float64 `json:"eps"`
	WeightDecay  float64 `json:"weight_decay"`
}

// DefaultOptimizerConfig mirrors the hyperparameters the trainers were tuned
// with.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		LearningRate: 2e-4,
		Beta1:        0.9,
		Beta2:        0.999,
		Eps:          1e-8,
		WeightDecay:  0.01,
	}
}

// AdamW updates a fixed parameter slice with decoupled weight decay. Moments
// are indexed positionally, so the parameter order must be stable across the
// optimizer's lifetime (Model.Parameters guarantees sorted-key order).
type AdamW struct {
	cfg    OptimizerConfig
	params []*Value
	m      []float64
	v      []float64
	step   int
}

// NewAdamW builds an optimizer over params with zeroed moments.
func NewAdamW(cfg OptimizerConfig, params []*Value) *AdamW {
	return &AdamW{
		cfg:    cfg,
		params: params,
		m:      make([]float64, len(params)),
		v:      make([]float64, len(params)),
	}
}

// ZeroGrad clears accumulated gradients on every parameter.
func (o *AdamW) ZeroGrad() {
	for _, p := range o.params {
		p.Grad = 0
	}
}

// ClipGradNorm rescales gradients so their global L2 norm does not exceed
// maxNorm, and returns the post-clip norm: the raw norm when it was already
// within bounds, otherwise maxNorm.
func (o *AdamW) ClipGradNorm(maxNorm float64) float64 {
	var sq float64
	for _, p := range o.params {
		sq += p.Grad * p.Grad
	}
	norm := math.Sqrt(sq)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}
	scale := maxNorm / (norm + 1e-12)
	for _, p := range o.params {
		p.Grad *= scale
	}
	return maxNorm
}

// Step applies one AdamW update using the accumulated gradients, then zeroes
// them. Exactly one call per training call keeps the all-or-nothing update
// contract.
func (o *AdamW) Step() {
	o.step++
	t := float64(o.step)
	for i, p := range o.params {
		g := p.Grad
		o.m[i] = o.cfg.Beta1*o.m[i] + (1-o.cfg.Beta1)*g
		o.v[i] = o.cfg.Beta2*o.v[i] + (1-o.cfg.Beta2)*g*g
		mHat := o.m[i] / (1 - math.Pow(o.cfg.Beta1, t))
		vHat := o.v[i] / (1 - math.Pow(o.cfg.Beta2, t))
		p.Data -= o.cfg.LearningRate * (mHat/(math.Sqrt(vHat)+o.cfg.Eps) + o.cfg.WeightDecay*p.Data)
		p.Grad = 0
	}
}

// Steps returns how many optimizer steps have been applied.
func (o *AdamW) Steps() int { return o.step }

// OptimizerState is the serializable snapshot of the moment vectors.
type OptimizerState struct {
	Step int       `json:"step"`
	M    []float64 `json:"m"`
	V    []float64 `json:"v"`
}

// ExportState copies the moments out for external persistence.
func (o *AdamW) ExportState() OptimizerState {
	return OptimizerState{
		Step: o.step,
		M:    append([]float64(nil), o.m...),
		V:    append([]float64(nil), o.v...),
	}
}

// ImportState restores moments saved by ExportState. The snapshot must match
// the current parameter count.
func (o *AdamW) ImportState(st OptimizerState) error {
	if len(st.M) != len(o.params) || len(st.V) != len(o.params) {
		return fmt.Errorf("optimizer state shape mismatch: got m=%d v=%d, want %d", len(st.M), len(st.V), len(o.params))
	}
	o.step = st.Step
	copy(o.m, st.M)
	copy(o.v, st.V)
	return nil
}
