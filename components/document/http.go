package document

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bububa/nutrition-agents/components"
)

// HTTP downloads http(s) resources
type HTTP struct {
	client *http.Client
}

var _ Fetcher = (*HTTP)(nil)

// NewHTTP returns an http fetcher, http.DefaultClient when client is nil
func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{client: client}
}

// Schemes implements Fetcher
func (h *HTTP) Schemes() []string {
	return []string{"http", "https"}
}

// Fetch implements Fetcher
func (h *HTTP) Fetch(ctx context.Context, u *url.URL, limit int64) (*Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("GET %s: %s", u.Redacted(), resp.Status)
		if resp.StatusCode < http.StatusInternalServerError {
			return nil, &components.InputError{Field: "uri", Reason: "unreachable", Err: err}
		}
		return nil, err
	}
	if resp.ContentLength > limit {
		return nil, ErrTooLarge
	}
	bs, err := readLimited(resp.Body, limit)
	if err != nil {
		return nil, err
	}
	return &Blob{
		Data: bs,
		MIME: resp.Header.Get("Content-Type"),
		Meta: map[string]string{
			"source": "http",
			"url":    u.String(),
		},
	}, nil
}
