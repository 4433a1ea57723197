package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/components/provider"
)

func TestTextChunker(t *testing.T) {
	const input = "Basic chunking one. Chunking two? Chunking three!"
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
		want      []string
	}{
		{
			name:      "one sentence per chunk",
			chunkSize: 3,
			want:      []string{"Basic chunking one.", "Chunking two?", "Chunking three!"},
		},
		{
			name:      "two sentences fit",
			chunkSize: 5,
			want:      []string{"Basic chunking one. Chunking two?", "Chunking three!"},
		},
		{
			name:      "with overlap",
			chunkSize: 5,
			overlap:   2,
			want:      []string{"Basic chunking one. Chunking two?", "Chunking two? Chunking three!"},
		},
		{
			name:      "everything fits",
			chunkSize: 100,
			want:      []string{input},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := NewTextChunker(WithChunkSize(tt.chunkSize), WithChunkOverlap(tt.overlap))
			chunks := tc.Chunk(input)
			got := make([]string, 0, len(chunks))
			for _, c := range chunks {
				got = append(got, c.Text)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextChunkerEmpty(t *testing.T) {
	assert.Empty(t, NewTextChunker().Chunk("   "))
}

func TestWordsTokenCounter(t *testing.T) {
	assert.Equal(t, 4, WordsTokenCounter{}.Count("Grilled chicken, 150 g!"))
}

func TestCosine(t *testing.T) {
	sim, err := Cosine([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = Cosine([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	sim, err = Cosine([]float32{0, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.Zero(t, sim)

	_, err = Cosine([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrVectorLengthMismatch)
}

func TestContentIDStable(t *testing.T) {
	a := ContentID("oats", map[string]string{"category": "nutrition_fact", "source": "usda"})
	b := ContentID("oats", map[string]string{"source": "usda", "category": "nutrition_fact"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ContentID("oats", nil))
}

type invokerFunc func(ctx context.Context, cfg provider.ModelConfig, req *provider.Request) (*provider.Response, error)

func (f invokerFunc) Invoke(ctx context.Context, cfg provider.ModelConfig, req *provider.Request) (*provider.Response, error) {
	return f(ctx, cfg, req)
}

func TestGatewayEmbedderBatches(t *testing.T) {
	var batches [][]string
	gw := invokerFunc(func(_ context.Context, cfg provider.ModelConfig, req *provider.Request) (*provider.Response, error) {
		assert.Equal(t, provider.RoleEmbedding, cfg.Role)
		batches = append(batches, req.Texts)
		ret := &provider.Response{Usage: &components.LLMUsage{InputTokens: int64(len(req.Texts))}}
		for i := range req.Texts {
			ret.Embeddings = append(ret.Embeddings, []float32{float32(len(batches)), float32(i)})
		}
		return ret, nil
	})
	e := NewGateway(gw, provider.ModelConfig{Provider: provider.ProviderOpenAI, Model: "text-embedding-3-small"}, WithBatchSize(2))
	usage := new(components.LLMUsage)
	vectors, err := e.Embed(context.Background(), []string{"a", "b", "c"}, usage)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, batches)
	assert.Equal(t, [][]float32{{1, 0}, {1, 1}, {2, 0}}, vectors)
	assert.EqualValues(t, 3, usage.InputTokens)
}
