// Package masking builds the per-token loss-eligibility masks for encoded
// dialogues. Both maskers are pure functions of their inputs: same sequence
// in, same mask out, no hidden state.
package masking

import (
	"github.com/xkilldash9x/tracepilot/internal/dialogue"
)

// AllDecisions marks the content tokens of every decision turn. Used when an
// entire trajectory shares one reward, so every decision the policy made is a
// target. Returns the mask and the number of marked tokens.
//
// Each decision turn's content is marked exactly once via its structural
// span, so the total count always equals the sum of the decisions' own token
// lengths: no double counting, no omissions.
func AllDecisions(seq *dialogue.EncodedSequence) ([]bool, int) {
	mask := make([]bool, seq.Len())
	count := 0
	for _, span := range seq.Spans {
		if span.Role != dialogue.RoleDecision {
			continue
		}
		for i := span.Start; i < span.End; i++ {
			mask[i] = true
			count++
		}
	}
	return mask, count
}

// FinalOccurrence marks only the last occurrence of target in the sequence.
// Identical action text may recur earlier in the window as context; masking
// every occurrence would hand repeated text duplicate credit, so only the
// final match (the decision actually under prediction) is eligible.
//
// A zero count means the target tokens do not appear verbatim; the caller
// must treat the example as unusable rather than training on an empty label.
func FinalOccurrence(seq *dialogue.EncodedSequence, target []int) ([]bool, int) {
	mask := make([]bool, seq.Len())
	if len(target) == 0 {
		return mask, 0
	}
	last := -1
	for i := 0; i+len(target) <= seq.Len(); i++ {
		if matchAt(seq.Tokens, target, i) {
			last = i
		}
	}
	if last < 0 {
		return mask, 0
	}
	for i := last; i < last+len(target); i++ {
		mask[i] = true
	}
	return mask, len(target)
}

func matchAt(tokens, target []int, at int) bool {
	for j, t := range target {
		if tokens[at+j] != t {
			return false
		}
	}
	return true
}
