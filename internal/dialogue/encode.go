package dialogue

import (
	"github.com/xkilldash9x/tracepilot/internal/policy"
)

// Span records where one turn's content tokens sit in the encoded stream.
// Start is inclusive, End exclusive; the structural marker tokens around the
// content are deliberately outside the span so loss only ever lands on text
// a turn actually said. Carrying spans through encoding is what lets the
// all-decisions masker work structurally instead of re-discovering turn
// boundaries by scanning for marker tokens.
type Span struct {
	Role  Role
	Start int
	End   int
}

// EncodedSequence is a tokenized dialogue plus its turn structure.
type EncodedSequence struct {
	Tokens []int
	Spans  []Span
}

// Len returns the token count.
func (s *EncodedSequence) Len() int { return len(s.Tokens) }

var roleStart = map[Role]int{
	RoleSystem:      policy.TokSystemStart,
	RoleObservation: policy.TokObservationStart,
	RoleDecision:    policy.TokDecisionStart,
}

// Encode tokenizes an assembled turn sequence. Layout per turn:
// role-start marker, content bytes, turn-end marker; the whole sequence is
// prefixed with BOS. Encoding is total: any byte content round-trips.
func Encode(turns []Turn, tok policy.Tokenizer) *EncodedSequence {
	seq := &EncodedSequence{Tokens: []int{policy.TokBOS}}
	for _, turn := range turns {
		seq.Tokens = append(seq.Tokens, roleStart[turn.Role])
		start := len(seq.Tokens)
		seq.Tokens = append(seq.Tokens, tok.Encode(turn.Text)...)
		seq.Spans = append(seq.Spans, Span{Role: turn.Role, Start: start, End: len(seq.Tokens)})
		seq.Tokens = append(seq.Tokens, policy.TokTurnEnd)
	}
	return seq
}
