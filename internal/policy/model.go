package policy

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Config fixes the transformer's shape. BlockSize bounds the longest token
// sequence a single forward pass will attend over.
type Config struct {
	NLayer    int `json:"n_layer"`
	NEmbd     int `json:"n_embd"`
	NHead     int `json:"n_head"`
	BlockSize int `json:"block_size"`
}

// Validate rejects shapes the attention arithmetic cannot support.
func (c Config) Validate() error {
	if c.NLayer < 1 || c.NEmbd < 1 || c.NHead < 1 || c.BlockSize < 2 {
		return fmt.Errorf("invalid model config: n_layer=%d n_embd=%d n_head=%d block_size=%d", c.NLayer, c.NEmbd, c.NHead, c.BlockSize)
	}
	if c.NEmbd%c.NHead != 0 {
		return fmt.Errorf("invalid model config: n_embd %d not divisible by n_head %d", c.NEmbd, c.NHead)
	}
	return nil
}

// Model is a small decoder-only transformer over the byte+special vocabulary.
// All weights live in state as matrices of graph leaves; params is the same
// set flattened in deterministic (sorted key) order so optimizer moments line
// up across save/restore.
type Model struct {
	cfg    Config
	state  map[string][][]*Value
	params []*Value
}

// kvCache holds per-layer key/value vectors for incremental decoding.
type kvCache struct {
	keys   [][][]*Value
	values [][][]*Value
}

func newKVCache(nLayer int) *kvCache {
	return &kvCache{
		keys:   make([][][]*Value, nLayer),
		values: make([][][]*Value, nLayer),
	}
}

// NewModel initializes a model with gaussian weights drawn from rng.
func NewModel(cfg Config, rng *rand.Rand) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	const initStd = 0.08
	state := map[string][][]*Value{
		"wte":     randMatrix(rng, VocabSize, cfg.NEmbd, initStd),
		"wpe":     randMatrix(rng, cfg.BlockSize, cfg.NEmbd, initStd),
		"lm_head": randMatrix(rng, VocabSize, cfg.NEmbd, initStd),
	}
	for i := 0; i < cfg.NLayer; i++ {
		state[layerKey(i, "attn_wq")] = randMatrix(rng, cfg.NEmbd, cfg.NEmbd, initStd)
		state[layerKey(i, "attn_wk")] = randMatrix(rng, cfg.NEmbd, cfg.NEmbd, initStd)
		state[layerKey(i, "attn_wv")] = randMatrix(rng, cfg.NEmbd, cfg.NEmbd, initStd)
		state[layerKey(i, "attn_wo")] = randMatrix(rng, cfg.NEmbd, cfg.NEmbd, initStd)
		state[layerKey(i, "mlp_fc1")] = randMatrix(rng, 4*cfg.NEmbd, cfg.NEmbd, initStd)
		state[layerKey(i, "mlp_fc2")] = randMatrix(rng, cfg.NEmbd, 4*cfg.NEmbd, initStd)
	}
	m := &Model{cfg: cfg, state: state}
	m.params = flattenState(state)
	return m, nil
}

func layerKey(layer int, name string) string { return fmt.Sprintf("layer%d.%s", layer, name) }

func randMatrix(rng *rand.Rand, nout, nin int, std float64) [][]*Value {
	m := make([][]*Value, nout)
	for o := range m {
		row := make([]*Value, nin)
		for i := range row {
			row[i] = Leaf(rng.NormFloat64() * std)
		}
		m[o] = row
	}
	return m
}

// flattenState collects every weight leaf in sorted-key order.
func flattenState(state map[string][][]*Value) []*Value {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var params []*Value
	for _, k := range keys {
		for _, row := range state[k] {
			params = append(params, row...)
		}
	}
	return params
}

// Config returns the model shape.
func (m *Model) Config() Config { return m.cfg }

// Parameters returns the flattened weight leaves. The slice is shared, not
// copied; the optimizer mutates these in place.
func (m *Model) Parameters() []*Value { return m.params }

// forward runs one token at position posID through the network, extending the
// cache, and returns the next-token logits.
func (m *Model) forward(tokenID, posID int, cache *kvCache) []*Value {
	headDim := m.cfg.NEmbd / m.cfg.NHead

	tokEmb := m.state["wte"][tokenID]
	posEmb := m.state["wpe"][posID]
	x := make([]*Value, len(tokEmb))
	for i := range tokEmb {
		x[i] = Add(tokEmb[i], posEmb[i])
	}
	x = rmsnorm(x)

	for li := 0; li < m.cfg.NLayer; li++ {
		residual := x
		x = rmsnorm(x)
		q := linear(x, m.state[layerKey(li, "attn_wq")])
		k := linear(x, m.state[layerKey(li, "attn_wk")])
		v := linear(x, m.state[layerKey(li, "attn_wv")])
		cache.keys[li] = append(cache.keys[li], k)
		cache.values[li] = append(cache.values[li], v)

		attnOut := make([]*Value, 0, m.cfg.NEmbd)
		for h := 0; h < m.cfg.NHead; h++ {
			hs := h * headDim
			qH := q[hs : hs+headDim]

			steps := len(cache.keys[li])
			logits := make([]*Value, steps)
			for t := 0; t < steps; t++ {
				kH := cache.keys[li][t][hs : hs+headDim]
				score := Leaf(0)
				for j := 0; j < headDim; j++ {
					score = Add(score, Mul(qH[j], kH[j]))
				}
				logits[t] = Scale(score, 1/math.Sqrt(float64(headDim)))
			}
			weights := softmax(logits)

			headOut := make([]*Value, headDim)
			for j := 0; j < headDim; j++ {
				s := Leaf(0)
				for t := 0; t < steps; t++ {
					s = Add(s, Mul(weights[t], cache.values[li][t][hs+j]))
				}
				headOut[j] = s
			}
			attnOut = append(attnOut, headOut...)
		}

		x = linear(attnOut, m.state[layerKey(li, "attn_wo")])
		for i := range x {
			x[i] = Add(x[i], residual[i])
		}

		residual = x
		x = rmsnorm(x)
		x = linear(x, m.state[layerKey(li, "mlp_fc1")])
		for i := range x {
			x[i] = ReLU(x[i])
		}
		x = linear(x, m.state[layerKey(li, "mlp_fc2")])
		for i := range x {
			x[i] = Add(x[i], residual[i])
		}
	}

	return linear(x, m.state["lm_head"])
}

func linear(x []*Value, w [][]*Value) []*Value {
	out := make([]*Value, len(w))
	for o, row := range w {
		s := Leaf(0)
		for i := range x {
			s = Add(s, Mul(row[i], x[i]))
		}
		out[o] = s
	}
	return out
}

func rmsnorm(x []*Value) []*Value {
	ms := Leaf(0)
	for _, xi := range x {
		ms = Add(ms, Mul(xi, xi))
	}
	ms = Scale(ms, 1/float64(len(x)))
	scale := Pow(Add(ms, Leaf(1e-5)), -0.5)
	out := make([]*Value, len(x))
	for i, xi := range x {
		out[i] = Mul(xi, scale)
	}
	return out
}
