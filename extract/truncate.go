package extract

import (
	"github.com/pkoukk/tiktoken-go"
)

// DefaultMaxChars caps document text when no tokenizer is available.
const DefaultMaxChars = 65536

// Truncator caps text to a token budget so a single long paper cannot blow
// the model context.
type Truncator struct {
	enc       *tiktoken.Tiktoken
	maxTokens int
	maxChars  int
}

// NewTruncator loads the encoding for model (or an encoding name such as
// "cl100k_base"). When the encoding cannot be loaded, for example offline,
// the truncator falls back to a character cap of maxTokens*4.
func NewTruncator(model string, maxTokens int) *Truncator {
	t := &Truncator{maxTokens: maxTokens, maxChars: DefaultMaxChars}
	if maxTokens > 0 {
		t.maxChars = maxTokens * 4
	}
	if model == "" || maxTokens <= 0 {
		return t
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
	}
	if err == nil {
		t.enc = enc
	}
	return t
}

// CountTokens returns the token count, or an estimate without an encoding.
func (t *Truncator) CountTokens(text string) int {
	if t == nil || t.enc == nil {
		return len([]rune(text)) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate returns text cut to the budget and whether it was cut.
func (t *Truncator) Truncate(text string) (string, bool) {
	if t == nil {
		return capRunes(text, DefaultMaxChars)
	}
	if t.enc == nil {
		return capRunes(text, t.maxChars)
	}
	ids := t.enc.Encode(text, nil, nil)
	if len(ids) <= t.maxTokens {
		return text, false
	}
	return t.enc.Decode(ids[:t.maxTokens]), true
}

func capRunes(text string, limit int) (string, bool) {
	if limit <= 0 || len(text) <= limit {
		return text, false
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text, false
	}
	return string(runes[:limit]), true
}
