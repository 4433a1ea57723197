package document

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/bububa/nutrition-agents/components"
)

// Data decodes RFC 2397 data URIs
type Data struct{}

var _ Fetcher = (*Data)(nil)

// Schemes implements Fetcher
func (Data) Schemes() []string {
	return []string{"data"}
}

// Fetch implements Fetcher
func (Data) Fetch(_ context.Context, u *url.URL, limit int64) (*Blob, error) {
	header, payload, ok := strings.Cut(u.Opaque, ",")
	if !ok {
		return nil, &components.InputError{Field: "uri", Reason: "malformed data uri"}
	}
	var (
		mime     = "text/plain"
		isBase64 bool
	)
	for idx, part := range strings.Split(header, ";") {
		switch {
		case idx == 0 && part != "":
			mime = part
		case part == "base64":
			isBase64 = true
		}
	}
	var (
		bs  []byte
		err error
	)
	if isBase64 {
		bs, err = decodeBase64(payload)
	} else {
		var s string
		s, err = url.PathUnescape(payload)
		bs = []byte(s)
	}
	if err != nil {
		return nil, &components.InputError{Field: "uri", Reason: "undecodable data uri", Err: err}
	}
	if int64(len(bs)) > limit {
		return nil, ErrTooLarge
	}
	return &Blob{
		Data: bs,
		MIME: mime,
		Meta: map[string]string{"source": "data"},
	}, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if bs, err := base64.StdEncoding.DecodeString(s); err == nil {
		return bs, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
