package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizer(t *testing.T) {
	var tok Tokenizer

	t.Run("round trips arbitrary byte content", func(t *testing.T) {
		for _, text := range []string{"", "ACTION: CLICK 500 500", "naïve\n\ttext", string([]byte{0, 255, 128})} {
			ids := tok.Encode(text)
			assert.Equal(t, text, tok.Decode(ids))
		}
	})

	t.Run("encoding is total: one token per byte", func(t *testing.T) {
		text := "héllo"
		ids := tok.Encode(text)
		require.Len(t, ids, len(text))
		for _, id := range ids {
			assert.Less(t, id, byteVocab)
		}
	})

	t.Run("specials sit above the byte range", func(t *testing.T) {
		for _, id := range []int{TokBOS, TokSystemStart, TokObservationStart, TokDecisionStart, TokTurnEnd} {
			assert.True(t, tok.IsSpecial(id))
		}
		assert.False(t, tok.IsSpecial('a'))
		assert.False(t, tok.IsSpecial(VocabSize))
	})

	t.Run("specials decode to their display names", func(t *testing.T) {
		assert.Equal(t, "<|decision|>", tok.Decode([]int{TokDecisionStart}))
	})
}
