package textproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizer_Tokens(t *testing.T) {
	tests := []struct {
		name string
		tok  Tokenizer
		text string
		want []string
	}{
		{
			name: "word mode drops punctuation and single letters",
			tok:  Tokenizer{Mode: ModeWord, Lowercase: true},
			text: "I think, therefore I am.",
			want: []string{"think", "therefore", "am"},
		},
		{
			name: "whitespace mode keeps punctuation",
			tok:  Tokenizer{Mode: ModeWhitespace},
			text: "I think,  therefore I am.",
			want: []string{"I", "think,", "therefore", "I", "am."},
		},
		{
			name: "case folding",
			tok:  Tokenizer{Mode: ModeWord, Lowercase: true},
			text: "HeLLo hello",
			want: []string{"hello", "hello"},
		},
		{
			name: "NFKC normalizes full-width letters",
			tok:  Tokenizer{Mode: ModeWord, Lowercase: true},
			text: "Ｈｅｌｌｏ world",
			want: []string{"hello", "world"},
		},
		{
			name: "explicit minimum length",
			tok:  Tokenizer{Mode: ModeWhitespace, MinLength: 3},
			text: "an old cat",
			want: []string{"old", "cat"},
		},
		{
			name: "empty text",
			tok:  Tokenizer{},
			text: "   ",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.tok.Tokens(tt.text)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNGrams(t *testing.T) {
	tokens := []string{"the", "quick", "fox"}

	assert.Equal(t, tokens, NGrams(tokens, 1, 1))
	assert.Equal(t,
		[]string{"the", "quick", "fox", "the quick", "quick fox"},
		NGrams(tokens, 1, 2))
	assert.Equal(t, []string{"the quick fox"}, NGrams(tokens, 3, 3))
	assert.Empty(t, NGrams(tokens, 4, 4))
}

func TestCounts(t *testing.T) {
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, Counts([]string{"a", "b", "a"}))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeWord, m)

	m, err = ParseMode("whitespace")
	require.NoError(t, err)
	assert.Equal(t, ModeWhitespace, m)

	_, err = ParseMode("bpe")
	assert.Error(t, err)
}
