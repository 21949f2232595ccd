package policy

// The tokenizer is byte level: every byte value is its own token, followed by
// a small block of special tokens that delimit dialogue structure. Byte level
// keeps encoding total and deterministic, which the final-occurrence masking
// contract depends on: the driver records decision text, and re-encoding that
// text must reproduce exactly the token run that appears in the sequence.

const byteVocab = 256

// Special token IDs, laid out directly after the byte range.
const (
	TokBOS = byteVocab + iota
	TokSystemStart
	TokObservationStart
	TokDecisionStart
	TokTurnEnd

	// VocabSize is the total token space the model's embedding covers.
	VocabSize
)

// specialNames maps special IDs to display names for checkpoints and debug.
var specialNames = map[int]string{
	TokBOS:              "<|bos|>",
	TokSystemStart:      "<|system|>",
	TokObservationStart: "<|observation|>",
	TokDecisionStart:    "<|decision|>",
	TokTurnEnd:          "<|end|>",
}

// Tokenizer converts between text and token IDs. It is stateless; the type
// exists so the policy can hand an explicit tokenizer to the dialogue layer.
type Tokenizer struct{}

// Encode maps text to its byte-token sequence.
func (Tokenizer) Encode(text string) []int {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids
}

// Decode maps byte tokens back to text. Special tokens render as their names.
func (Tokenizer) Decode(ids []int) string {
	buf := make([]byte, 0, len(ids))
	for _, id := range ids {
		if id < byteVocab {
			buf = append(buf, byte(id))
			continue
		}
		if name, ok := specialNames[id]; ok {
			buf = append(buf, name...)
		}
	}
	return string(buf)
}

// IsSpecial reports whether id is a structural token rather than content.
func (Tokenizer) IsSpecial(id int) bool { return id >= byteVocab && id < VocabSize }
