// Package document resolves image and knowledge sources from file paths, http(s) urls,
// s3 objects and data URIs, and converts documents to plain text.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/components/provider"
)

// DefaultMaxSize upper bound of a fetched document
const DefaultMaxSize = 20 << 20

// ErrTooLarge the source exceeds the size limit
var ErrTooLarge = errors.New("document too large")

// Blob fetched content with its detected MIME type
type Blob struct {
	Data []byte
	MIME string
	Meta map[string]string
}

// Reader returns a reader over the content
func (b *Blob) Reader() *bytes.Reader {
	return bytes.NewReader(b.Data)
}

// Fetcher loads the content behind a URI of the schemes it serves
type Fetcher interface {
	Schemes() []string
	Fetch(ctx context.Context, u *url.URL, limit int64) (*Blob, error)
}

// ImageSource resolves image references into inline images
type ImageSource interface {
	Image(ctx context.Context, uri string) (provider.Image, error)
}

// Parser converts a document into text
type Parser interface {
	Parse(ctx context.Context, reader *bytes.Reader, writer io.Writer) error
}

// Resolver dispatches URIs to fetchers by scheme. A URI without scheme is a local path.
type Resolver struct {
	fetchers map[string]Fetcher
	maxSize  int64
}

var _ ImageSource = (*Resolver)(nil)

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithFetcher registers f for its schemes
func WithFetcher(f Fetcher) ResolverOption {
	return func(r *Resolver) {
		for _, s := range f.Schemes() {
			r.fetchers[s] = f
		}
	}
}

// WithMaxSize set the size limit in bytes
func WithMaxSize(n int64) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.maxSize = n
		}
	}
}

// NewResolver returns a resolver serving file, http(s) and data URIs.
// S3 needs WithFetcher(NewS3(...)).
func NewResolver(opts ...ResolverOption) *Resolver {
	ret := &Resolver{
		fetchers: make(map[string]Fetcher),
		maxSize:  DefaultMaxSize,
	}
	for _, f := range []Fetcher{new(File), NewHTTP(nil), new(Data)} {
		WithFetcher(f)(ret)
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Fetch loads uri
func (r *Resolver) Fetch(ctx context.Context, uri string) (*Blob, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, &components.InputError{Field: "uri", Reason: "empty"}
	}
	u, err := parseURI(uri)
	if err != nil {
		return nil, &components.InputError{Field: "uri", Reason: "malformed", Err: err}
	}
	f, ok := r.fetchers[u.Scheme]
	if !ok {
		return nil, &components.InputError{Field: "uri", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	blob, err := f.Fetch(ctx, u, r.maxSize)
	if err != nil {
		return nil, err
	}
	if len(blob.Data) == 0 {
		return nil, &components.InputError{Field: "uri", Reason: "empty content"}
	}
	if blob.MIME == "" || blob.MIME == "application/octet-stream" {
		blob.MIME = mimetype.Detect(blob.Data).String()
	}
	if idx := strings.IndexByte(blob.MIME, ';'); idx >= 0 {
		blob.MIME = strings.TrimSpace(blob.MIME[:idx])
	}
	return blob, nil
}

// Image implements ImageSource
func (r *Resolver) Image(ctx context.Context, uri string) (provider.Image, error) {
	blob, err := r.Fetch(ctx, uri)
	if err != nil {
		return provider.Image{}, err
	}
	mime := mimetype.Detect(blob.Data).String()
	if !strings.HasPrefix(mime, "image/") {
		return provider.Image{}, &components.InputError{Field: "image", Reason: fmt.Sprintf("not an image: %s", mime)}
	}
	return provider.Image{Data: blob.Data, MIME: mime}, nil
}

func parseURI(uri string) (*url.URL, error) {
	if strings.HasPrefix(uri, "data:") {
		return &url.URL{Scheme: "data", Opaque: strings.TrimPrefix(uri, "data:")}, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	// windows drive letters and bare paths
	if len(u.Scheme) <= 1 {
		return &url.URL{Scheme: "file", Path: uri}, nil
	}
	return u, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	bs, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(bs)) > limit {
		return nil, ErrTooLarge
	}
	return bs, nil
}
