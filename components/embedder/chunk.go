package embedder

import (
	"strings"

	"github.com/clipperhouse/uax29/sentences"
)

// EmbeddedChunk a chunk together with its vector
type EmbeddedChunk struct {
	Embedding
	// Chunk is the original chunk content that was embedded
	Chunk *Chunk `json:"text"`
}

// Chunk a piece of text with its position in the source document
type Chunk struct {
	// Text contains the actual content of the chunk
	Text string
	// TokenSize represents the number of tokens in this chunk
	TokenSize int
	// StartSentence is the index of the first sentence in this chunk
	StartSentence int
	// EndSentence is the index of the last sentence in this chunk (exclusive)
	EndSentence int
}

// Chunker splits text into chunks
type Chunker interface {
	Chunk(text string) []Chunk
}

// SentenceSplitter splits text into trimmed, non empty sentences using unicode sentence boundaries
func SentenceSplitter(text string) []string {
	segs := sentences.SegmentAll([]byte(text))
	ret := make([]string, 0, len(segs))
	for _, seg := range segs {
		if s := strings.TrimSpace(string(seg)); s != "" {
			ret = append(ret, s)
		}
	}
	return ret
}

// TextChunker packs whole sentences into chunks of about ChunkSize tokens,
// repeating trailing sentences of the previous chunk to reach ChunkOverlap tokens.
type TextChunker struct {
	// ChunkSize is the target size of each chunk in tokens
	ChunkSize int
	// ChunkOverlap is the number of tokens that should overlap between adjacent chunks
	ChunkOverlap int
	// TokenCounter is used to count tokens in text segments
	TokenCounter TokenCounter
	// SentenceSplitter is a function that splits text into sentences
	SentenceSplitter func(string) []string
}

var _ Chunker = (*TextChunker)(nil)

// TextChunkerOption configures a TextChunker
type TextChunkerOption func(*TextChunker)

// WithChunkSize set target chunk size in tokens
func WithChunkSize(n int) TextChunkerOption {
	return func(tc *TextChunker) {
		tc.ChunkSize = n
	}
}

// WithChunkOverlap set overlap in tokens
func WithChunkOverlap(n int) TextChunkerOption {
	return func(tc *TextChunker) {
		tc.ChunkOverlap = n
	}
}

// WithTokenCounter set token counter
func WithTokenCounter(c TokenCounter) TextChunkerOption {
	return func(tc *TextChunker) {
		tc.TokenCounter = c
	}
}

// NewTextChunker returns a chunker, 200 tokens with 50 tokens overlap counted in words by default
func NewTextChunker(opts ...TextChunkerOption) *TextChunker {
	tc := &TextChunker{
		ChunkSize:        200,
		ChunkOverlap:     50,
		TokenCounter:     WordsTokenCounter{},
		SentenceSplitter: SentenceSplitter,
	}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.ChunkOverlap >= tc.ChunkSize {
		tc.ChunkOverlap = tc.ChunkSize / 4
	}
	return tc
}

// Chunk implements Chunker
func (tc *TextChunker) Chunk(text string) []Chunk {
	sentences := tc.SentenceSplitter(text)
	counts := make([]int, len(sentences))
	for i, s := range sentences {
		counts[i] = tc.TokenCounter.Count(s)
	}
	var (
		chunks []Chunk
		start  int
		tokens int
	)
	flush := func(end int) {
		chunks = append(chunks, Chunk{
			Text:          strings.Join(sentences[start:end], " "),
			TokenSize:     tokens,
			StartSentence: start,
			EndSentence:   end,
		})
	}
	for i := range sentences {
		if tokens > 0 && tokens+counts[i] > tc.ChunkSize {
			flush(i)
			next := max(start+1, i-tc.overlapSentences(counts, i))
			start = next
			tokens = 0
			for j := start; j < i; j++ {
				tokens += counts[j]
			}
		}
		tokens += counts[i]
	}
	if start < len(sentences) && tokens > 0 {
		flush(len(sentences))
	}
	return chunks
}

// overlapSentences how many sentences before end add up to the desired overlap
func (tc *TextChunker) overlapSentences(counts []int, end int) int {
	var tokens, n int
	for i := end - 1; i >= 0 && tokens < tc.ChunkOverlap; i-- {
		tokens += counts[i]
		n++
	}
	return n
}
