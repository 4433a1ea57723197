package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/components/document"
	"github.com/bububa/nutrition-agents/components/document/parsers/docx"
	"github.com/bububa/nutrition-agents/components/document/parsers/html"
	"github.com/bububa/nutrition-agents/components/document/parsers/pdf"
	"github.com/bububa/nutrition-agents/components/document/parsers/xlsx"
	"github.com/bububa/nutrition-agents/components/embedder"
	"github.com/bububa/nutrition-agents/schema"
)

const (
	mimeHTML = "text/html"
	mimePDF  = "application/pdf"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Indexer stores knowledge documents
type Indexer interface {
	Index(ctx context.Context, docs ...schema.KnowledgeDocument) (*components.LLMUsage, error)
}

// Loader ingests files and urls into the knowledge index: fetch, convert to text, chunk, index.
type Loader struct {
	indexer  Indexer
	resolver *document.Resolver
	parsers  map[string]document.Parser
	chunker  embedder.Chunker
	logger   *slog.Logger
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithResolver set the source resolver
func WithResolver(r *document.Resolver) LoaderOption {
	return func(l *Loader) {
		l.resolver = r
	}
}

// WithParser registers p for a MIME type
func WithParser(mime string, p document.Parser) LoaderOption {
	return func(l *Loader) {
		l.parsers[mime] = p
	}
}

// WithChunker set the text chunker
func WithChunker(c embedder.Chunker) LoaderOption {
	return func(l *Loader) {
		l.chunker = c
	}
}

func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader returns a loader feeding indexer. html, pdf, xlsx, docx and text/* are understood by default.
func NewLoader(indexer Indexer, opts ...LoaderOption) *Loader {
	ret := &Loader{
		indexer: indexer,
		parsers: map[string]document.Parser{
			mimeHTML: html.NewParser(),
			mimePDF:  pdf.NewParser(),
			mimeXLSX: xlsx.NewParser(),
			mimeDOCX: new(docx.Parser),
		},
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.resolver == nil {
		ret.resolver = document.NewResolver()
	}
	if ret.chunker == nil {
		ret.chunker = embedder.NewTextChunker()
	}
	if ret.logger == nil {
		ret.logger = slog.Default()
	}
	return ret
}

// Load ingests the document at uri and returns the number of indexed passages.
// An empty meta.Source is filled from the uri.
func (l *Loader) Load(ctx context.Context, uri string, meta schema.KnowledgeMeta) (int, *components.LLMUsage, error) {
	blob, err := l.resolver.Fetch(ctx, uri)
	if err != nil {
		return 0, nil, err
	}
	text, err := l.Text(ctx, blob)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to convert %s: %w", uri, err)
	}
	if meta.Source == "" {
		meta.Source = sourceName(uri, blob)
	}
	n, usage, err := l.LoadText(ctx, text, meta)
	if err != nil {
		return n, usage, err
	}
	l.logger.InfoContext(ctx, "knowledge source loaded",
		slog.String("uri", uri),
		slog.String("mime", blob.MIME),
		slog.Int("passages", n))
	return n, usage, nil
}

// LoadText chunks text and indexes every chunk with meta
func (l *Loader) LoadText(ctx context.Context, text string, meta schema.KnowledgeMeta) (int, *components.LLMUsage, error) {
	chunks := l.chunker.Chunk(text)
	if len(chunks) == 0 {
		return 0, new(components.LLMUsage), nil
	}
	docs := make([]schema.KnowledgeDocument, 0, len(chunks))
	for _, chunk := range chunks {
		docs = append(docs, schema.KnowledgeDocument{
			ID:       embedder.ContentID(chunk.Text, meta.Map()),
			Text:     chunk.Text,
			Metadata: meta,
		})
	}
	usage, err := l.indexer.Index(ctx, docs...)
	if err != nil {
		return 0, usage, err
	}
	return len(docs), usage, nil
}

// Text converts a fetched blob to plain text using the parser registered for its MIME type
func (l *Loader) Text(ctx context.Context, blob *document.Blob) (string, error) {
	if p, ok := l.parsers[blob.MIME]; ok {
		var buf bytes.Buffer
		if err := p.Parse(ctx, blob.Reader(), &buf); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
	if strings.HasPrefix(blob.MIME, "text/") {
		return string(blob.Data), nil
	}
	return "", &components.InputError{Field: "uri", Reason: fmt.Sprintf("unsupported document type %s", blob.MIME)}
}

func sourceName(uri string, blob *document.Blob) string {
	if name := blob.Meta["filename"]; name != "" {
		return name
	}
	if key := blob.Meta["key"]; key != "" {
		return path.Base(key)
	}
	if strings.HasPrefix(uri, "data:") {
		return "inline"
	}
	return uri
}
