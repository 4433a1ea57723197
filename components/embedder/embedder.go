// Package embedder turns text into vectors through the gateway embedding role
// and splits long text into overlapping chunks before indexing.
package embedder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/components/provider"
)

// ErrVectorLengthMismatch vectors of different dimensions were compared
var ErrVectorLengthMismatch = errors.New("vector length mismatch")

// DefaultBatchSize texts sent per embedding request
const DefaultBatchSize = 64

// Embedder converts texts to vectors
type Embedder interface {
	Embed(ctx context.Context, texts []string, usage *components.LLMUsage) ([][]float32, error)
}

// Embedding is a vector representation of Object
type Embedding struct {
	Object    string            `json:"object"`
	Embedding []float32         `json:"embedding"`
	Index     int               `json:"index"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// UUID returns a stable id derived from the text and metadata
func (e Embedding) UUID() string {
	return ContentID(e.Object, e.Meta)
}

// ContentID returns a SHA1 based uuid of text plus sorted metadata
func ContentID(text string, meta map[string]string) string {
	sb := new(bytes.Buffer)
	sb.WriteString(text)
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteByte('\n')
		sb.WriteString(k + ":" + meta[k])
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, sb.Bytes()).String()
}

// Gateway embeds through the provider gateway
type Gateway struct {
	gw        provider.Invoker
	cfg       provider.ModelConfig
	batchSize int
}

var _ Embedder = (*Gateway)(nil)

// GatewayOption configures a Gateway embedder
type GatewayOption func(*Gateway)

// WithBatchSize set texts per request
func WithBatchSize(n int) GatewayOption {
	return func(g *Gateway) {
		g.batchSize = n
	}
}

// NewGateway returns an embedder using the embedding model of cfg
func NewGateway(gw provider.Invoker, cfg provider.ModelConfig, opts ...GatewayOption) *Gateway {
	ret := &Gateway{
		gw:        gw,
		cfg:       cfg,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.batchSize <= 0 {
		ret.batchSize = DefaultBatchSize
	}
	ret.cfg.Role = provider.RoleEmbedding
	return ret
}

// Model returns the embedding model name
func (g *Gateway) Model() string {
	return g.cfg.Model
}

// Embed implements Embedder
func (g *Gateway) Embed(ctx context.Context, texts []string, usage *components.LLMUsage) ([][]float32, error) {
	ret := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))
		resp, err := g.gw.Invoke(ctx, g.cfg, &provider.Request{Texts: texts[start:end]})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("embedder: got %d vectors for %d texts", len(resp.Embeddings), end-start)
		}
		if usage != nil {
			usage.Merge(resp.Usage)
		}
		ret = append(ret, resp.Embeddings...)
	}
	return ret, nil
}

// EmbedOne embeds a single text
func EmbedOne(ctx context.Context, e Embedder, text string, usage *components.LLMUsage) ([]float32, error) {
	ret, err := e.Embed(ctx, []string{text}, usage)
	if err != nil {
		return nil, err
	}
	if len(ret) == 0 {
		return nil, errors.New("embedder: empty result")
	}
	return ret[0], nil
}

// EmbedChunks embeds chunks in one pass, keeping their order
func EmbedChunks(ctx context.Context, e Embedder, chunks []Chunk, usage *components.LLMUsage) ([]EmbeddedChunk, error) {
	parts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		parts = append(parts, chunk.Text)
	}
	vectors, err := e.Embed(ctx, parts, usage)
	if err != nil {
		return nil, err
	}
	ret := make([]EmbeddedChunk, 0, len(vectors))
	for idx, v := range vectors {
		ret = append(ret, EmbeddedChunk{
			Embedding: Embedding{
				Object:    chunks[idx].Text,
				Embedding: v,
				Index:     idx,
			},
			Chunk: &chunks[idx],
		})
	}
	return ret, nil
}

// DotProduct of two vectors of the same length
func DotProduct(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrVectorLengthMismatch
	}
	var ret float64
	for i := range a {
		ret += float64(a[i]) * float64(b[i])
	}
	return ret, nil
}

// Cosine similarity of two vectors, 0 when either is a zero vector
func Cosine(a, b []float32) (float64, error) {
	dot, err := DotProduct(a, b)
	if err != nil {
		return 0, err
	}
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (na * nb), nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}
