package policy

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
)

// Policy wraps the model and tokenizer behind the operations the trainers and
// the episode collector need. The parameter set is the single shared mutable
// resource in the system: trainers hold references to it, never copies, and
// callers must serialize training calls externally.
type Policy struct {
	model *Model
	tok   Tokenizer
	rng   *rand.Rand
}

// New builds a freshly initialized policy. The seed fixes weight init and
// sampling, which keeps tests and re-runs reproducible.
func New(cfg Config, seed int64) (*Policy, error) {
	rng := rand.New(rand.NewSource(seed))
	model, err := NewModel(cfg, rng)
	if err != nil {
		return nil, err
	}
	return &Policy{model: model, rng: rng}, nil
}

// Tokenizer returns the policy's tokenizer.
func (p *Policy) Tokenizer() Tokenizer { return p.tok }

// Config returns the model shape.
func (p *Policy) Config() Config { return p.model.cfg }

// Parameters exposes the shared weight leaves for optimizer construction.
func (p *Policy) Parameters() []*Value { return p.model.Parameters() }

// fitWindow truncates tokens and mask to the model's block size, keeping the
// tail so the final decision of a window survives truncation. Returns the
// (possibly shortened) pair.
func (p *Policy) fitWindow(tokens []int, mask []bool) ([]int, []bool, error) {
	if len(tokens) != len(mask) {
		return nil, nil, fmt.Errorf("token/mask length mismatch: %d vs %d", len(tokens), len(mask))
	}
	if bs := p.model.cfg.BlockSize; len(tokens) > bs {
		tokens = tokens[len(tokens)-bs:]
		mask = mask[len(mask)-bs:]
	}
	return tokens, mask, nil
}

// SequenceLoss computes next-token cross-entropy over the positions mask
// marks eligible, averaged over those positions, as a graph node ready for
// Backward. The returned count is the number of masked target tokens; a zero
// count comes back with a nil loss and the caller must skip the example.
func (p *Policy) SequenceLoss(tokens []int, mask []bool) (*Value, int, error) {
	tokens, mask, err := p.fitWindow(tokens, mask)
	if err != nil {
		return nil, 0, err
	}
	if len(tokens) < 2 {
		return nil, 0, nil
	}

	cache := newKVCache(p.model.cfg.NLayer)
	var total *Value
	masked := 0
	for pos := 0; pos < len(tokens)-1; pos++ {
		logits := p.model.forward(tokens[pos], pos, cache)
		if !mask[pos+1] {
			continue
		}
		probs := softmax(logits)
		term := Neg(Log(probs[tokens[pos+1]]))
		if total == nil {
			total = term
		} else {
			total = Add(total, term)
		}
		masked++
	}
	if masked == 0 {
		return nil, 0, nil
	}
	return Scale(total, 1/float64(masked)), masked, nil
}

// EvalLoss is the no-gradient counterpart of SequenceLoss: same arithmetic,
// but only the scalar comes back and nothing is retained for an update.
func (p *Policy) EvalLoss(tokens []int, mask []bool) (float64, int, error) {
	loss, masked, err := p.SequenceLoss(tokens, mask)
	if err != nil || masked == 0 {
		return 0, masked, err
	}
	return loss.Data, masked, nil
}

// Sample generates up to maxNew tokens after prefix, stopping at the turn-end
// token. The prefix is the full context including its leading
// beginning-of-sequence token: prefix[0] is consumed at position 0, the same
// position it holds during training. Temperature must be positive.
func (p *Policy) Sample(prefix []int, maxNew int, temperature float64) ([]int, error) {
	if temperature <= 0 {
		return nil, fmt.Errorf("temperature must be positive, got %v", temperature)
	}
	if len(prefix) == 0 {
		prefix = []int{TokBOS}
	}
	bs := p.model.cfg.BlockSize
	if len(prefix) > bs-1 {
		prefix = prefix[len(prefix)-(bs-1):]
	}

	cache := newKVCache(p.model.cfg.NLayer)
	pos := 0
	for _, id := range prefix[:len(prefix)-1] {
		_ = p.model.forward(id, pos, cache)
		pos++
	}
	tokenID := prefix[len(prefix)-1]

	out := make([]int, 0, maxNew)
	for pos < bs && len(out) < maxNew {
		logits := p.model.forward(tokenID, pos, cache)
		scaled := make([]*Value, len(logits))
		for i, l := range logits {
			scaled[i] = Scale(l, 1/temperature)
		}
		probs := softmax(scaled)
		weights := make([]float64, len(probs))
		for i, pr := range probs {
			weights[i] = pr.Data
		}
		tokenID = sampleWeighted(p.rng, weights)
		if tokenID == TokTurnEnd || tokenID == TokBOS {
			break
		}
		out = append(out, tokenID)
		pos++
	}
	return out, nil
}

func sampleWeighted(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	r := rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}

// ParameterChecksum hashes the current weights. Two calls with no optimizer
// step in between must return the same value; tests use this to prove aborted
// calls left the parameters untouched.
func (p *Policy) ParameterChecksum() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, param := range p.model.Parameters() {
		bits := math.Float64bits(param.Data)
		for i := 0; i < 8; i++ {
			buf[i] = byte(bits >> (8 * i))
		}
		h.Write(buf[:])
	}
	return h.Sum64()
}
