package chromem

import (
	"context"
	"runtime"

	"github.com/philippgille/chromem-go"

	"github.com/bububa/nutrition-agents/components/vectordb"
)

// Engine implements vectordb.Engine on a chromem database
type Engine struct {
	db *chromem.DB
	vectordb.Options
}

var _ vectordb.Engine = (*Engine)(nil)

// New wraps db
func New(db *chromem.DB, opts ...vectordb.Option) *Engine {
	return &Engine{
		db:      db,
		Options: vectordb.NewOptions(append([]vectordb.Option{vectordb.WithEngine(vectordb.Chromem)}, opts...)...),
	}
}

// NewPersistent opens or creates a gob persisted database under path
func NewPersistent(path string, compress bool, opts ...vectordb.Option) (*Engine, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, err
	}
	return New(db, opts...), nil
}

// Collection returns the named collection, creating it on first use.
// Documents always carry their embedding so no embedding function is registered.
func (e *Engine) Collection(name string) (*chromem.Collection, error) {
	return e.db.GetOrCreateCollection(vectordb.CollectionName(name), nil, nil)
}

// Insert implements vectordb.Engine
func (e *Engine) Insert(ctx context.Context, collection string, records ...vectordb.Record) error {
	if len(records) == 0 {
		return nil
	}
	col, err := e.Collection(collection)
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, 0, len(records))
	for _, record := range records {
		var doc chromem.Document
		recordToDocument(&record, &doc)
		docs = append(docs, doc)
	}
	return col.AddDocuments(ctx, docs, runtime.NumCPU())
}

// Count implements vectordb.Engine
func (e *Engine) Count(_ context.Context, collection string) (int, error) {
	col := e.db.GetCollection(vectordb.CollectionName(collection), nil)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// Search implements vectordb.Engine
func (e *Engine) Search(ctx context.Context, vector []float32, opts ...vectordb.SearchOption) ([]vectordb.Record, error) {
	option := vectordb.NewSearchOptions(e.Options, opts...)
	col := e.db.GetCollection(option.Collection, nil)
	if col == nil || col.Count() == 0 {
		return []vectordb.Record{}, nil
	}
	whereDocument := make(map[string]string, 2)
	if option.Include != "" {
		whereDocument["$contains"] = option.Include
	}
	if option.Exclude != "" {
		whereDocument["$not_contains"] = option.Exclude
	}
	// chromem rejects nResults above the collection size
	topK := min(option.TopK, col.Count())
	if topK <= 0 {
		topK = col.Count()
	}
	results, err := col.QueryEmbedding(ctx, vector, topK, option.Meta, whereDocument)
	if err != nil {
		return nil, err
	}
	ret := make([]vectordb.Record, 0, len(results))
	for _, result := range results {
		if float64(result.Similarity) < option.MinScore {
			continue
		}
		var rec vectordb.Record
		resultToRecord(&result, &rec)
		ret = append(ret, rec)
	}
	vectordb.SortRecords(ret)
	return ret, nil
}

func resultToRecord(res *chromem.Result, record *vectordb.Record) {
	record.ID = res.ID
	record.Score = float64(res.Similarity)
	record.Embedding.Object = res.Content
	record.Embedding.Meta = res.Metadata
	record.Embedding.Embedding = res.Embedding
}

func recordToDocument(record *vectordb.Record, doc *chromem.Document) {
	if record.ID == "" {
		record.ID = record.Embedding.UUID()
	}
	doc.ID = record.ID
	doc.Content = record.Embedding.Object
	doc.Metadata = record.Embedding.Meta
	doc.Embedding = record.Embedding.Embedding
}
