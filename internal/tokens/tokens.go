// Package tokens counts and trims text by BPE tokens so prompts fit a model's context window.
package tokens

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// ContextReserve is subtracted from a model's context length when trimming system prompts.
const ContextReserve = 500

// DefaultMaxLen is used for models missing from the table.
const DefaultMaxLen = 8192

var modelMaxLen = map[string]int{
	"gpt-4":                  8192,
	"gpt-4-0314":             8192,
	"gpt-4-0613":             8192,
	"gpt-4-32k":              32768,
	"gpt-4-32k-0314":         32768,
	"gpt-4-turbo":            128000,
	"gpt-4o":                 128000,
	"gpt-4o-mini":            128000,
	"gpt-3.5-turbo":          4096,
	"gpt-3.5-turbo-0301":     4096,
	"gpt-3.5-turbo-16k":      16384,
	"gpt-35-turbo":           4096,
	"gpt-35-turbo-0301":      4096,
	"gpt-35-turbo-16k":       16384,
	"text-embedding-ada-002": 8191,
	"text-embedding-3-small": 8191,
	"text-embedding-3-large": 8191,
}

var codecCache sync.Map

// MaxLen returns the context window of model in tokens.
func MaxLen(model string) int {
	if n, ok := modelMaxLen[strings.ToLower(strings.TrimSpace(model))]; ok {
		return n
	}
	return DefaultMaxLen
}

// PromptBudget returns the token budget for a system prompt sent to model.
func PromptBudget(model string) int {
	n := MaxLen(model) - ContextReserve
	if n < 0 {
		return 0
	}
	return n
}

func codecFor(model string) (tokenizer.Codec, error) {
	key := strings.ToLower(strings.TrimSpace(model))
	if cached, ok := codecCache.Load(key); ok {
		return cached.(tokenizer.Codec), nil
	}

	var enc tokenizer.Codec
	var err error
	switch {
	case strings.HasPrefix(key, "gpt-4o"), strings.HasPrefix(key, "gpt-4.1"):
		enc, err = tokenizer.ForModel(tokenizer.GPT4o)
	case strings.HasPrefix(key, "gpt-4"):
		enc, err = tokenizer.ForModel(tokenizer.GPT4)
	case strings.HasPrefix(key, "gpt-3.5"), strings.HasPrefix(key, "gpt-35"):
		enc, err = tokenizer.ForModel(tokenizer.GPT35Turbo)
	case strings.HasPrefix(key, "text-embedding"):
		enc, err = tokenizer.Get(tokenizer.Cl100kBase)
	default:
		enc, err = tokenizer.Get(tokenizer.O200kBase)
	}
	if err != nil {
		return nil, fmt.Errorf("tokens: load encoding for %q: %w", model, err)
	}

	actual, _ := codecCache.LoadOrStore(key, enc)
	return actual.(tokenizer.Codec), nil
}

// Count returns the number of tokens text encodes to under model's encoding.
func Count(model, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	enc, err := codecFor(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Trim truncates text to at most limit tokens. Text already within the limit is returned
// unchanged. A limit <= 0 yields the empty string.
func Trim(model, text string, limit int) (string, error) {
	if limit <= 0 {
		return "", nil
	}
	if text == "" {
		return text, nil
	}
	enc, err := codecFor(model)
	if err != nil {
		return "", err
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return "", err
	}
	if len(ids) <= limit {
		return text, nil
	}
	out, err := enc.Decode(ids[:limit])
	if err != nil {
		return "", err
	}
	return dropPartialRune(out), nil
}

// dropPartialRune removes a trailing incomplete UTF-8 sequence left by cutting
// between the byte-level tokens of one character.
func dropPartialRune(s string) string {
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}
