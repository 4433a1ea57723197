// Package vectordb stores embedded knowledge documents and runs nearest neighbour searches.
package vectordb

import (
	"context"
	"sort"

	"github.com/bububa/nutrition-agents/components/embedder"
)

// EngineType storage backend
type EngineType string

const (
	Memory  EngineType = "memory"
	Chromem EngineType = "chromem"
	Milvus  EngineType = "milvus"
)

// DefaultCollection collection used when none is given
const DefaultCollection = "nutrition_knowledge"

// Engine vector index backend. Scores are similarities, higher is closer.
type Engine interface {
	Insert(ctx context.Context, collection string, records ...Record) error
	Search(ctx context.Context, vector []float32, opts ...SearchOption) ([]Record, error)
	Count(ctx context.Context, collection string) (int, error)
}

// Record represents a single stored document or search result
type Record struct {
	// ID is the identifier for the result
	ID string
	// Score is the similarity score for the result
	Score float64
	// Embedding embeddings for doc
	Embedding embedder.Embedding
}

// SortRecords orders by score descending, ties by id ascending
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return records[i].ID < records[j].ID
	})
}

// CollectionName returns name or the default collection
func CollectionName(name string) string {
	if name == "" {
		return DefaultCollection
	}
	return name
}
