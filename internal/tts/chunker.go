// Package tts turns long text into speech by splitting it into chunks the hosted
// synthesis service accepts and joining the resulting audio.
package tts

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxChars is the per-request character budget of the synthesis service.
	DefaultMaxChars = 4000
	// DefaultDelimiter separates paragraphs.
	DefaultDelimiter = "\n"
)

// Chunk splits text on delim and packs consecutive paragraphs into chunks.
//
// Before a paragraph is added, the current chunk is closed when the paragraph would bring
// its rune count to maxChars or beyond; the paragraph then starts the next chunk.
// Paragraphs are never split, so an oversized paragraph becomes its own chunk, and when
// the first paragraph alone reaches the budget an empty chunk is emitted ahead of it.
// Joining the result with delim restores text, apart from that leading empty chunk.
func Chunk(text string, maxChars int, delim string) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if delim == "" {
		delim = DefaultDelimiter
	}

	paragraphs := strings.Split(text, delim)
	chunks := make([]string, 0, 1)
	current := make([]string, 0, len(paragraphs))
	count := 0
	for _, p := range paragraphs {
		n := utf8.RuneCountInString(p)
		if count+n >= maxChars {
			chunks = append(chunks, strings.Join(current, delim))
			current = current[:0]
			count = 0
		}
		current = append(current, p)
		count += n
	}
	return append(chunks, strings.Join(current, delim))
}
