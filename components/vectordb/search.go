package vectordb

// SearchOptions per query settings
type SearchOptions struct {
	Collection string
	TopK       int
	MinScore   float64
	// Meta every key must match the record metadata
	Meta map[string]string
	// Include record text must contain it
	Include string
	// Exclude record text must not contain it
	Exclude string
}

type SearchOption func(*SearchOptions)

func SearchWithCollection(name string) SearchOption {
	return func(r *SearchOptions) {
		r.Collection = name
	}
}

func SearchWithTopK(topK int) SearchOption {
	return func(r *SearchOptions) {
		r.TopK = topK
	}
}

func SearchWithMinScore(score float64) SearchOption {
	return func(r *SearchOptions) {
		r.MinScore = score
	}
}

func SearchWithMeta(meta map[string]string) SearchOption {
	return func(r *SearchOptions) {
		r.Meta = meta
	}
}

func SearchWithInclude(v string) SearchOption {
	return func(r *SearchOptions) {
		r.Include = v
	}
}

func SearchWithExclude(v string) SearchOption {
	return func(r *SearchOptions) {
		r.Exclude = v
	}
}

// NewSearchOptions applies opts over the engine defaults
func NewSearchOptions(defaults Options, opts ...SearchOption) SearchOptions {
	ret := SearchOptions{
		TopK:     defaults.TopK,
		MinScore: defaults.MinScore,
	}
	for _, opt := range opts {
		opt(&ret)
	}
	ret.Collection = CollectionName(ret.Collection)
	return ret
}
