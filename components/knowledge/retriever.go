// Package knowledge embeds, indexes and searches nutrition knowledge passages.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/components/embedder"
	"github.com/bububa/nutrition-agents/components/observability"
	"github.com/bububa/nutrition-agents/components/vectordb"
	"github.com/bububa/nutrition-agents/schema"
)

// DefaultTopK passages returned when k is not positive
const DefaultTopK = 5

// Filter narrows a search by passage metadata and text
type Filter struct {
	Category string
	Source   string
	// Include passage text must contain it
	Include string
	// Exclude passage text must not contain it
	Exclude string
}

func (f *Filter) searchOptions() []vectordb.SearchOption {
	if f == nil {
		return nil
	}
	ret := make([]vectordb.SearchOption, 0, 3)
	meta := schema.KnowledgeMeta{Category: f.Category, Source: f.Source}.Map()
	if len(meta) > 0 {
		ret = append(ret, vectordb.SearchWithMeta(meta))
	}
	if f.Include != "" {
		ret = append(ret, vectordb.SearchWithInclude(f.Include))
	}
	if f.Exclude != "" {
		ret = append(ret, vectordb.SearchWithExclude(f.Exclude))
	}
	return ret
}

// Searcher is the retrieval surface used by pipeline nodes
type Searcher interface {
	Search(ctx context.Context, query string, k int, filter *Filter) ([]schema.KnowledgeDocument, error)
}

// Retriever answers similarity queries over an Engine.
// Index and embedding failures degrade to an empty result unless strict embedding is set.
type Retriever struct {
	embedder   embedder.Embedder
	engine     vectordb.Engine
	collection string
	minScore   float64
	strict     bool
	logger     *slog.Logger
	metrics    *observability.Metrics
}

var _ Searcher = (*Retriever)(nil)

// Option configures a Retriever
type Option func(*Retriever)

// WithCollection set collection name
func WithCollection(name string) Option {
	return func(r *Retriever) {
		r.collection = name
	}
}

// WithMinScore drops passages below score
func WithMinScore(score float64) Option {
	return func(r *Retriever) {
		r.minScore = score
	}
}

// WithStrictEmbedding surfaces embedding failures as RetrievalError
func WithStrictEmbedding(strict bool) Option {
	return func(r *Retriever) {
		r.strict = strict
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) {
		r.logger = l
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(r *Retriever) {
		r.metrics = m
	}
}

// NewRetriever returns a retriever over engine, embedding queries with e
func NewRetriever(e embedder.Embedder, engine vectordb.Engine, opts ...Option) *Retriever {
	ret := &Retriever{
		embedder: e,
		engine:   engine,
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.collection = vectordb.CollectionName(ret.collection)
	if ret.logger == nil {
		ret.logger = slog.Default()
	}
	return ret
}

// Collection returns the collection searched
func (r *Retriever) Collection() string {
	return r.collection
}

// Count returns the number of indexed passages
func (r *Retriever) Count(ctx context.Context) (int, error) {
	n, err := r.engine.Count(ctx, r.collection)
	if err != nil {
		return 0, &components.RetrievalError{Operation: "count", Err: err}
	}
	return n, nil
}

// Search returns up to k passages most similar to query, highest score first, ties by id.
func (r *Retriever) Search(ctx context.Context, query string, k int, filter *Filter) ([]schema.KnowledgeDocument, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []schema.KnowledgeDocument{}, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}
	if err := ctx.Err(); err != nil {
		return nil, &components.CancellationError{Err: err}
	}
	count, err := r.engine.Count(ctx, r.collection)
	if err != nil {
		return r.degrade(ctx, "count", query, err)
	}
	if count == 0 {
		r.metrics.RecordRetrieval(ctx, "empty")
		return []schema.KnowledgeDocument{}, nil
	}
	vector, err := embedder.EmbedOne(ctx, r.embedder, query, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &components.CancellationError{Err: ctxErr}
		}
		if r.strict {
			r.metrics.RecordRetrieval(ctx, "error")
			return nil, &components.RetrievalError{Operation: "embed", Query: query, Err: err}
		}
		return r.degrade(ctx, "embed", query, err)
	}
	opts := []vectordb.SearchOption{
		vectordb.SearchWithCollection(r.collection),
		vectordb.SearchWithTopK(k),
		vectordb.SearchWithMinScore(r.minScore),
	}
	opts = append(opts, filter.searchOptions()...)
	records, err := r.engine.Search(ctx, vector, opts...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &components.CancellationError{Err: ctxErr}
		}
		return r.degrade(ctx, "search", query, err)
	}
	vectordb.SortRecords(records)
	if len(records) > k {
		records = records[:k]
	}
	ret := make([]schema.KnowledgeDocument, 0, len(records))
	for _, rec := range records {
		ret = append(ret, FromRecord(rec))
	}
	outcome := "hit"
	if len(ret) == 0 {
		outcome = "miss"
	}
	r.metrics.RecordRetrieval(ctx, outcome)
	r.logger.DebugContext(ctx, "knowledge search", slog.String("query", query), slog.Int("results", len(ret)))
	return ret, nil
}

func (r *Retriever) degrade(ctx context.Context, op string, query string, err error) ([]schema.KnowledgeDocument, error) {
	r.metrics.RecordRetrieval(ctx, "degraded")
	r.logger.WarnContext(ctx, "knowledge retrieval degraded to empty result",
		slog.String("operation", op),
		slog.String("query", query),
		slog.String("error", err.Error()))
	return []schema.KnowledgeDocument{}, nil
}

// Index embeds documents lacking a vector and stores them.
// Documents without an id get a content derived one so re-indexing replaces instead of duplicating.
func (r *Retriever) Index(ctx context.Context, docs ...schema.KnowledgeDocument) (*components.LLMUsage, error) {
	usage := new(components.LLMUsage)
	if len(docs) == 0 {
		return usage, nil
	}
	var (
		texts   []string
		missing []int
	)
	for idx, doc := range docs {
		if strings.TrimSpace(doc.Text) == "" {
			return usage, &components.InputError{Field: "text", Reason: fmt.Sprintf("document %d is empty", idx)}
		}
		if len(doc.Embedding) == 0 {
			texts = append(texts, doc.Text)
			missing = append(missing, idx)
		}
	}
	vectors := make([][]float32, len(docs))
	if len(texts) > 0 {
		embedded, err := r.embedder.Embed(ctx, texts, usage)
		if err != nil {
			return usage, &components.RetrievalError{Operation: "embed", Err: err}
		}
		for i, idx := range missing {
			vectors[idx] = embedded[i]
		}
	}
	records := make([]vectordb.Record, 0, len(docs))
	for idx, doc := range docs {
		if vectors[idx] != nil {
			doc.Embedding = vectors[idx]
		}
		records = append(records, ToRecord(doc))
	}
	if err := r.engine.Insert(ctx, r.collection, records...); err != nil {
		return usage, &components.RetrievalError{Operation: "index", Err: err}
	}
	r.logger.InfoContext(ctx, "knowledge indexed", slog.String("collection", r.collection), slog.Int("documents", len(records)))
	return usage, nil
}

// ToRecord converts a document to an engine record
func ToRecord(doc schema.KnowledgeDocument) vectordb.Record {
	meta := doc.Metadata.Map()
	id := doc.ID
	if id == "" {
		id = embedder.ContentID(doc.Text, meta)
	}
	return vectordb.Record{
		ID: id,
		Embedding: embedder.Embedding{
			Object:    doc.Text,
			Embedding: doc.Embedding,
			Meta:      meta,
		},
	}
}

// FromRecord converts a search result to a document
func FromRecord(rec vectordb.Record) schema.KnowledgeDocument {
	return schema.KnowledgeDocument{
		ID:        rec.ID,
		Text:      rec.Embedding.Object,
		Embedding: rec.Embedding.Embedding,
		Metadata:  schema.KnowledgeMetaFromMap(rec.Embedding.Meta),
		Score:     float32(rec.Score),
	}
}

// Sources returns the distinct sources of docs in order of first appearance
func Sources(docs []schema.KnowledgeDocument) []string {
	ret := make([]string, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		src := doc.Metadata.Source
		if src == "" {
			src = doc.ID
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		ret = append(ret, src)
	}
	return ret
}

// Render formats passages as a numbered prompt section
func Render(docs []schema.KnowledgeDocument) string {
	if len(docs) == 0 {
		return ""
	}
	sb := new(strings.Builder)
	for i, doc := range docs {
		fmt.Fprintf(sb, "%d. %s\n", i+1, doc.Text)
		if doc.Metadata.Category != "" {
			fmt.Fprintf(sb, "  - category: %s\n", doc.Metadata.Category)
		}
		if doc.Metadata.Source != "" {
			fmt.Fprintf(sb, "  - source: %s\n", doc.Metadata.Source)
		}
		fmt.Fprintf(sb, "  - score: %.3f\n", doc.Score)
	}
	return strings.TrimRight(sb.String(), "\n")
}
