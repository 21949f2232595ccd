// Package windowing decomposes a trajectory into bounded training examples,
// one per decision, each with a sliding window of preceding context.
package windowing

import (
	"github.com/xkilldash9x/tracepilot/api/schemas"
)

// Pair is one observation and the decision that immediately followed it.
type Pair struct {
	Observation schemas.Entry
	Decision    schemas.Entry
}

// Example is one training example: a window of alternating entries ending at
// the pair under prediction, and that pair's decision text as the target.
type Example struct {
	Entries []schemas.Entry
	Target  string
}

// Pairs walks the trajectory and couples every observation with its
// immediately following decision. Unpaired entries, including a trailing
// observation at episode end, are dropped; they contribute no example.
func Pairs(entries []schemas.Entry) []Pair {
	var pairs []Pair
	i := 0
	for i < len(entries) {
		if entries[i].Kind != schemas.EntryObservation {
			i++
			continue
		}
		if i+1 < len(entries) && entries[i+1].Kind == schemas.EntryDecision {
			pairs = append(pairs, Pair{Observation: entries[i], Decision: entries[i+1]})
			i += 2
			continue
		}
		i++
	}
	return pairs
}

// Windows produces exactly one example per complete pair. For pair k the
// window is pairs[max(0, k+1-windowSize) .. k] flattened back into
// alternating observation/decision entries; the target is pair k's decision
// text. Memory per example is bounded by windowSize regardless of trajectory
// length. An empty trajectory, or one with no complete pairs, yields nil:
// nothing to train on, not an error.
func Windows(entries []schemas.Entry, windowSize int) []Example {
	pairs := Pairs(entries)
	if len(pairs) == 0 {
		return nil
	}
	if windowSize < 1 {
		windowSize = 1
	}
	examples := make([]Example, 0, len(pairs))
	for k := range pairs {
		start := k + 1 - windowSize
		if start < 0 {
			start = 0
		}
		window := pairs[start : k+1]
		flat := make([]schemas.Entry, 0, 2*len(window))
		for _, p := range window {
			flat = append(flat, p.Observation, p.Decision)
		}
		examples = append(examples, Example{Entries: flat, Target: pairs[k].Decision.Text})
	}
	return examples
}
