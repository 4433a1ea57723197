package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	milvusClient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/bububa/nutrition-agents/components/vectordb"
)

const (
	fieldID        = "id"
	fieldEmbedding = "embedding"
	fieldContent   = "content"
	fieldMeta      = "meta"
	maxContentLen  = 65535
)

// Engine implements vectordb.Engine on a milvus server
type Engine struct {
	db milvusClient.Client
	vectordb.Options
}

var _ vectordb.Engine = (*Engine)(nil)

// New wraps db
func New(db milvusClient.Client, opts ...vectordb.Option) *Engine {
	return &Engine{
		db:      db,
		Options: vectordb.NewOptions(append([]vectordb.Option{vectordb.WithEngine(vectordb.Milvus)}, opts...)...),
	}
}

// Dial connects to the milvus server at addr
func Dial(ctx context.Context, addr string, opts ...vectordb.Option) (*Engine, error) {
	db, err := milvusClient.NewClient(ctx, milvusClient.Config{Address: addr})
	if err != nil {
		return nil, err
	}
	return New(db, opts...), nil
}

// Close closes the client connection
func (e *Engine) Close() error {
	return e.db.Close()
}

// CreateCollection creates the collection schema and its HNSW cosine index
func (e *Engine) CreateCollection(ctx context.Context, name string, dim int64) error {
	idField := entity.NewField().WithName(fieldID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(36).WithIsPrimaryKey(true).WithIsAutoID(false)
	vectorField := entity.NewField().WithName(fieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(dim)
	contentField := entity.NewField().WithName(fieldContent).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxContentLen)
	metaField := entity.NewField().WithName(fieldMeta).WithDataType(entity.FieldTypeJSON)
	schema := entity.NewSchema().WithName(name).WithAutoID(false).WithField(idField).WithField(vectorField).WithField(contentField).WithField(metaField)
	if err := e.db.CreateCollection(ctx, schema, 2); err != nil {
		return err
	}
	idxHnsw, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return err
	}
	return e.db.CreateIndex(ctx, name, fieldEmbedding, idxHnsw, false, milvusClient.WithIndexName("embedding_idx"))
}

// Insert implements vectordb.Engine, replacing records with the same id
func (e *Engine) Insert(ctx context.Context, collection string, records ...vectordb.Record) error {
	if len(records) == 0 {
		return nil
	}
	collection = vectordb.CollectionName(collection)
	dim := len(records[0].Embedding.Embedding)
	if exists, err := e.db.HasCollection(ctx, collection); err != nil {
		return err
	} else if !exists {
		if err := e.CreateCollection(ctx, collection, int64(dim)); err != nil {
			return err
		}
	}
	var (
		ids      = make([]string, 0, len(records))
		vectors  = make([][]float32, 0, len(records))
		contents = make([]string, 0, len(records))
		metas    = make([][]byte, 0, len(records))
	)
	for _, record := range records {
		if record.ID == "" {
			record.ID = record.Embedding.UUID()
		}
		if len(record.Embedding.Embedding) != dim {
			return fmt.Errorf("milvus: record %s has dimension %d, want %d", record.ID, len(record.Embedding.Embedding), dim)
		}
		meta := record.Embedding.Meta
		if meta == nil {
			meta = map[string]string{}
		}
		bs, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		ids = append(ids, record.ID)
		vectors = append(vectors, record.Embedding.Embedding)
		contents = append(contents, record.Embedding.Object)
		metas = append(metas, bs)
	}
	_, err := e.db.Upsert(ctx, collection, "",
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, dim, vectors),
		entity.NewColumnVarChar(fieldContent, contents),
		entity.NewColumnJSONBytes(fieldMeta, metas),
	)
	if err != nil {
		return err
	}
	return e.db.Flush(ctx, collection, false)
}

// Count implements vectordb.Engine
func (e *Engine) Count(ctx context.Context, collection string) (int, error) {
	collection = vectordb.CollectionName(collection)
	exists, err := e.db.HasCollection(ctx, collection)
	if err != nil || !exists {
		return 0, err
	}
	stats, err := e.db.GetCollectionStatistics(ctx, collection)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(stats["row_count"])
}

// Search implements vectordb.Engine
func (e *Engine) Search(ctx context.Context, vector []float32, opts ...vectordb.SearchOption) ([]vectordb.Record, error) {
	option := vectordb.NewSearchOptions(e.Options, opts...)
	if exists, err := e.db.HasCollection(ctx, option.Collection); err != nil {
		return nil, err
	} else if !exists {
		return []vectordb.Record{}, nil
	}
	if err := e.db.LoadCollection(ctx, option.Collection, false); err != nil {
		return nil, err
	}
	topK := option.TopK
	if topK <= 0 {
		topK = 5
	}
	searchParams, err := entity.NewIndexHNSWSearchParam(max(topK, 16))
	if err != nil {
		return nil, err
	}
	results, err := e.db.Search(ctx, option.Collection, nil, filterExpr(&option),
		[]string{fieldID, fieldContent, fieldMeta}, []entity.Vector{entity.FloatVector(vector)},
		fieldEmbedding, entity.COSINE, topK, searchParams)
	if err != nil {
		return nil, err
	}
	var ret []vectordb.Record
	for _, result := range results {
		if result.Err != nil {
			return nil, result.Err
		}
		for i := 0; i < result.ResultCount; i++ {
			var record vectordb.Record
			searchResultToRecord(&result, i, &record)
			if record.Score < option.MinScore {
				continue
			}
			ret = append(ret, record)
		}
	}
	if ret == nil {
		ret = []vectordb.Record{}
	}
	vectordb.SortRecords(ret)
	return ret, nil
}

// filterExpr builds a boolean expression over the meta JSON field and the content
func filterExpr(opts *vectordb.SearchOptions) string {
	keys := make([]string, 0, len(opts.Meta))
	for k := range opts.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	conds := make([]string, 0, len(keys)+2)
	for _, k := range keys {
		conds = append(conds, fmt.Sprintf(`%s[%s] == %s`, fieldMeta, strconv.Quote(k), strconv.Quote(opts.Meta[k])))
	}
	if opts.Include != "" {
		conds = append(conds, fmt.Sprintf(`%s like %s`, fieldContent, strconv.Quote("%"+opts.Include+"%")))
	}
	if opts.Exclude != "" {
		conds = append(conds, fmt.Sprintf(`not (%s like %s)`, fieldContent, strconv.Quote("%"+opts.Exclude+"%")))
	}
	return strings.Join(conds, " && ")
}

func searchResultToRecord(result *milvusClient.SearchResult, idx int, record *vectordb.Record) {
	if idx < len(result.Scores) {
		record.Score = float64(result.Scores[idx])
	}
	if col := result.Fields.GetColumn(fieldID); col != nil {
		record.ID, _ = col.GetAsString(idx)
	}
	if col := result.Fields.GetColumn(fieldContent); col != nil {
		record.Embedding.Object, _ = col.GetAsString(idx)
	}
	if col := result.Fields.GetColumn(fieldMeta); col != nil {
		if v, err := col.Get(idx); err == nil {
			if bs, ok := v.([]byte); ok {
				_ = json.Unmarshal(bs, &record.Embedding.Meta)
			}
		}
	}
}
