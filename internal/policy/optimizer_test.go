package policy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(grads ...float64) []*Value {
	params := make([]*Value, len(grads))
	for i, g := range grads {
		params[i] = &Value{Data: 1, Grad: g}
	}
	return params
}

func TestClipGradNorm(t *testing.T) {
	t.Run("returns raw norm when within bounds", func(t *testing.T) {
		opt := NewAdamW(DefaultOptimizerConfig(), testParams(0.3, 0.4))
		norm := opt.ClipGradNorm(1.0)
		assert.InDelta(t, 0.5, norm, 1e-9)
		assert.InDelta(t, 0.3, opt.params[0].Grad, 1e-9, "grads untouched when under the cap")
	})

	t.Run("returns the cap and rescales when exceeded", func(t *testing.T) {
		opt := NewAdamW(DefaultOptimizerConfig(), testParams(3, 4))
		norm := opt.ClipGradNorm(1.0)
		assert.InDelta(t, 1.0, norm, 1e-9, "reported norm is min(raw, max)")

		var sq float64
		for _, p := range opt.params {
			sq += p.Grad * p.Grad
		}
		assert.InDelta(t, 1.0, math.Sqrt(sq), 1e-6, "post-clip global norm equals the cap")
	})

	t.Run("never reports above the cap", func(t *testing.T) {
		for _, g := range []float64{0.001, 0.9, 1.0, 1.1, 100} {
			opt := NewAdamW(DefaultOptimizerConfig(), testParams(g))
			norm := opt.ClipGradNorm(1.0)
			assert.LessOrEqual(t, norm, 1.0+1e-9, "grad %v", g)
		}
	})
}

func TestStep(t *testing.T) {
	t.Run("moves against the gradient and zeroes grads", func(t *testing.T) {
		cfg := DefaultOptimizerConfig()
		cfg.WeightDecay = 0
		opt := NewAdamW(cfg, testParams(1))

		before := opt.params[0].Data
		opt.Step()
		assert.Less(t, opt.params[0].Data, before)
		assert.Zero(t, opt.params[0].Grad)
		assert.Equal(t, 1, opt.Steps())
	})

	t.Run("weight decay shrinks parameters even with zero gradient", func(t *testing.T) {
		cfg := DefaultOptimizerConfig()
		cfg.WeightDecay = 0.1
		opt := NewAdamW(cfg, testParams(0))

		before := opt.params[0].Data
		opt.Step()
		assert.Less(t, opt.params[0].Data, before, "decoupled decay applies regardless of gradient")
	})
}

func TestOptimizerState(t *testing.T) {
	t.Run("round trips moments and step count", func(t *testing.T) {
		opt := NewAdamW(DefaultOptimizerConfig(), testParams(1, 2, 3))
		opt.Step()
		opt.params[0].Grad, opt.params[1].Grad, opt.params[2].Grad = 4, 5, 6
		opt.Step()

		st := opt.ExportState()

		restored := NewAdamW(DefaultOptimizerConfig(), testParams(0, 0, 0))
		require.NoError(t, restored.ImportState(st))
		assert.Equal(t, opt.step, restored.step)
		assert.Equal(t, opt.m, restored.m)
		assert.Equal(t, opt.v, restored.v)
	})

	t.Run("rejects mismatched shapes", func(t *testing.T) {
		opt := NewAdamW(DefaultOptimizerConfig(), testParams(1, 2))
		err := opt.ImportState(OptimizerState{Step: 1, M: []float64{0}, V: []float64{0}})
		require.Error(t, err)
	})

	t.Run("export is a copy, not a view", func(t *testing.T) {
		opt := NewAdamW(DefaultOptimizerConfig(), testParams(1))
		opt.Step()
		st := opt.ExportState()
		st.M[0] = 999
		assert.NotEqual(t, 999.0, opt.m[0])
	})
}
