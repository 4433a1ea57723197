package embedder

import (
	"fmt"
	"unicode"

	"github.com/clipperhouse/uax29/words"
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens of a text
type TokenCounter interface {
	Count(text string) int
}

// WordsTokenCounter counts unicode words, ignoring whitespace and punctuation segments
type WordsTokenCounter struct{}

// Count implements TokenCounter
func (WordsTokenCounter) Count(text string) int {
	var n int
	for _, seg := range words.SegmentAll([]byte(text)) {
		for _, r := range string(seg) {
			if unicode.IsLetter(r) || unicode.IsNumber(r) {
				n++
				break
			}
		}
	}
	return n
}

// TikTokenCounter counts tokens with a tiktoken encoding
type TikTokenCounter struct {
	tke *tiktoken.Tiktoken
}

// NewTikTokenCounter creates a counter for encoding, e.g. cl100k_base
func NewTikTokenCounter(encoding string) (*TikTokenCounter, error) {
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding: %w", err)
	}
	return &TikTokenCounter{tke: tke}, nil
}

// Count implements TokenCounter
func (c *TikTokenCounter) Count(text string) int {
	return len(c.tke.Encode(text, nil, nil))
}

// Truncate cuts text to at most limit tokens
func (c *TikTokenCounter) Truncate(text string, limit int) string {
	tokens := c.tke.Encode(text, nil, nil)
	if len(tokens) <= limit {
		return text
	}
	return c.tke.Decode(tokens[:limit])
}
