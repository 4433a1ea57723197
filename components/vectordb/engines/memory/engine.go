package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/bububa/nutrition-agents/components/embedder"
	"github.com/bububa/nutrition-agents/components/vectordb"
)

// Engine implements vectordb.Engine in process memory.
// Collections are safe for concurrent readers; writers publish a new record slice.
type Engine struct {
	// collections stores all vector collections in memory
	collections *sync.Map
	vectordb.Options
}

var _ vectordb.Engine = (*Engine)(nil)

// Collection a named set of records
type Collection struct {
	mu      sync.RWMutex
	records []vectordb.Record
	index   map[string]int
}

// Upsert adds records, replacing those with the same id
func (c *Collection) Upsert(records ...vectordb.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make([]vectordb.Record, len(c.records), len(c.records)+len(records))
	copy(next, c.records)
	index := make(map[string]int, len(next)+len(records))
	for k, v := range c.index {
		index[k] = v
	}
	for _, record := range records {
		if idx, ok := index[record.ID]; ok {
			next[idx] = record
			continue
		}
		index[record.ID] = len(next)
		next = append(next, record)
	}
	c.records = next
	c.index = index
}

// Records returns the current snapshot, callers must not modify it
func (c *Collection) Records() []vectordb.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records
}

// New creates an in-memory engine
func New(opts ...vectordb.Option) *Engine {
	return &Engine{
		collections: new(sync.Map),
		Options:     vectordb.NewOptions(append([]vectordb.Option{vectordb.WithEngine(vectordb.Memory)}, opts...)...),
	}
}

// HasCollection checks if a collection with the given name exists
func (e *Engine) HasCollection(name string) bool {
	_, exists := e.collections.Load(vectordb.CollectionName(name))
	return exists
}

// DropCollection removes a collection and all its data
func (e *Engine) DropCollection(name string) {
	e.collections.Delete(vectordb.CollectionName(name))
}

// Collection returns the named collection, creating it on first use
func (e *Engine) Collection(name string) *Collection {
	col, _ := e.collections.LoadOrStore(vectordb.CollectionName(name), new(Collection))
	return col.(*Collection)
}

// Insert implements vectordb.Engine
func (e *Engine) Insert(_ context.Context, collection string, records ...vectordb.Record) error {
	docs := make([]vectordb.Record, 0, len(records))
	for _, record := range records {
		if record.ID == "" {
			record.ID = record.Embedding.UUID()
		}
		record.Score = 0
		docs = append(docs, record)
	}
	e.Collection(collection).Upsert(docs...)
	return nil
}

// Count implements vectordb.Engine
func (e *Engine) Count(_ context.Context, collection string) (int, error) {
	if !e.HasCollection(collection) {
		return 0, nil
	}
	return len(e.Collection(collection).Records()), nil
}

// Search implements vectordb.Engine with cosine similarity
func (e *Engine) Search(_ context.Context, vector []float32, opts ...vectordb.SearchOption) ([]vectordb.Record, error) {
	option := vectordb.NewSearchOptions(e.Options, opts...)
	if !e.HasCollection(option.Collection) {
		return []vectordb.Record{}, nil
	}
	records := e.Collection(option.Collection).Records()
	ret := make([]vectordb.Record, 0, len(records))
	for _, record := range records {
		if !recordMatchesFilters(&record, &option) {
			continue
		}
		score, err := embedder.Cosine(vector, record.Embedding.Embedding)
		if err != nil {
			return nil, err
		}
		if score < option.MinScore {
			continue
		}
		record.Score = score
		ret = append(ret, record)
	}
	vectordb.SortRecords(ret)
	if option.TopK > 0 && len(ret) > option.TopK {
		ret = ret[:option.TopK]
	}
	return ret, nil
}

// recordMatchesFilters checks if a record matches the metadata and content filters
func recordMatchesFilters(record *vectordb.Record, opts *vectordb.SearchOptions) bool {
	for k, v := range opts.Meta {
		if record.Embedding.Meta[k] != v {
			return false
		}
	}
	if opts.Include != "" && !strings.Contains(record.Embedding.Object, opts.Include) {
		return false
	}
	if opts.Exclude != "" && strings.Contains(record.Embedding.Object, opts.Exclude) {
		return false
	}
	return true
}
