package knowledge

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/schema"
)

//go:embed seed.yaml
var seedYAML []byte

type seedPassage struct {
	Category string `yaml:"category"`
	Source   string `yaml:"source"`
	Text     string `yaml:"text"`
}

// SeedDocuments returns the built-in baseline passages
func SeedDocuments() ([]schema.KnowledgeDocument, error) {
	var passages []seedPassage
	if err := yaml.Unmarshal(seedYAML, &passages); err != nil {
		return nil, fmt.Errorf("failed to decode seed knowledge: %w", err)
	}
	ret := make([]schema.KnowledgeDocument, 0, len(passages))
	for _, p := range passages {
		ret = append(ret, schema.KnowledgeDocument{
			Text: p.Text,
			Metadata: schema.KnowledgeMeta{
				Category: p.Category,
				Source:   p.Source,
			},
		})
	}
	return ret, nil
}

// Seed indexes the baseline passages
func Seed(ctx context.Context, indexer Indexer) (int, *components.LLMUsage, error) {
	docs, err := SeedDocuments()
	if err != nil {
		return 0, nil, err
	}
	usage, err := indexer.Index(ctx, docs...)
	if err != nil {
		return 0, usage, err
	}
	return len(docs), usage, nil
}
