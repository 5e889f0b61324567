// Package textproc turns raw learner text into the token streams the
// statistical models were trained on.
package textproc

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Mode selects how text is split into tokens.
type Mode string

const (
	// ModeWord keeps runs of two or more letters or digits and drops
	// punctuation, matching the default pattern of the bag-of-words
	// vectorizer the naive Bayes model was trained with.
	ModeWord Mode = "word"

	// ModeWhitespace splits on whitespace only and keeps punctuation
	// attached, which is how the document embedding model was trained.
	ModeWhitespace Mode = "whitespace"
)

// Tokenizer normalizes and splits text. The zero value splits on words
// without lowercasing. A Tokenizer is immutable and safe for concurrent use.
type Tokenizer struct {
	Mode      Mode
	Lowercase bool
	MinLength int
}

// ParseMode validates a mode name from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeWord:
		return ModeWord, nil
	case ModeWhitespace:
		return ModeWhitespace, nil
	default:
		return "", fmt.Errorf("unknown tokenizer mode %q", s)
	}
}

// Normalize applies NFKC normalization and, if configured, Unicode case
// folding. Full-width letters and ligatures therefore match their plain
// vocabulary entries.
func (t Tokenizer) Normalize(text string) string {
	text = norm.NFKC.String(text)
	if t.Lowercase {
		// Casers carry state and must not be shared between goroutines.
		text = cases.Fold().String(text)
	}
	return text
}

// Tokens returns the tokens of text in order.
func (t Tokenizer) Tokens(text string) []string {
	text = t.Normalize(text)

	var raw []string
	if t.Mode == ModeWhitespace {
		raw = strings.Fields(text)
	} else {
		raw = strings.FieldsFunc(text, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
	}

	minLen := t.MinLength
	if minLen == 0 && t.Mode != ModeWhitespace {
		minLen = 2
	}
	if minLen <= 1 {
		return raw
	}

	out := raw[:0]
	for _, tok := range raw {
		if len([]rune(tok)) >= minLen {
			out = append(out, tok)
		}
	}
	return out
}

// NGrams returns every contiguous n-gram of tokens for n in [minN, maxN],
// joined by single spaces. Unigrams come first, then bigrams, and so on.
func NGrams(tokens []string, minN, maxN int) []string {
	if minN < 1 {
		minN = 1
	}
	if maxN < minN {
		maxN = minN
	}

	var out []string
	for n := minN; n <= maxN; n++ {
		if n == 1 {
			out = append(out, tokens...)
			continue
		}
		for i := 0; i+n <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}

// Counts tallies term occurrences.
func Counts(terms []string) map[string]int {
	c := make(map[string]int, len(terms))
	for _, t := range terms {
		c[t]++
	}
	return c
}
