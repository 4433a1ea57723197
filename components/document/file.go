package document

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bububa/nutrition-agents/components"
)

// File reads local files
type File struct{}

var _ Fetcher = (*File)(nil)

// Schemes implements Fetcher
func (File) Schemes() []string {
	return []string{"file"}
}

// Fetch implements Fetcher
func (File) Fetch(_ context.Context, u *url.URL, limit int64) (*Blob, error) {
	path := u.Path
	if u.Host != "" {
		path = filepath.Join(u.Host, u.Path)
	}
	fp, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &components.InputError{Field: "uri", Reason: "file not found", Err: err}
		}
		return nil, err
	}
	defer fp.Close()
	info, err := fp.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &components.InputError{Field: "uri", Reason: "is a directory"}
	}
	if info.Size() > limit {
		return nil, ErrTooLarge
	}
	bs, err := readLimited(fp, limit)
	if err != nil {
		return nil, err
	}
	return &Blob{
		Data: bs,
		Meta: map[string]string{
			"source":   "file",
			"filename": info.Name(),
			"modtime":  strconv.FormatInt(info.ModTime().Unix(), 10),
		},
	}, nil
}
