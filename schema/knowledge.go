package schema

// Knowledge categories used to bucket passages into AdviceDependencies
const (
	CategoryNutritionFact   = "nutrition_fact"
	CategoryHealthGuideline = "health_guideline"
	CategoryFoodInteraction = "food_interaction"
)

// KnowledgeMeta metadata of a knowledge passage
type KnowledgeMeta struct {
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Source   string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Map returns the metadata as flat string pairs
func (m KnowledgeMeta) Map() map[string]string {
	ret := make(map[string]string, 2)
	if m.Category != "" {
		ret["category"] = m.Category
	}
	if m.Source != "" {
		ret["source"] = m.Source
	}
	return ret
}

// KnowledgeMetaFromMap is the inverse of KnowledgeMeta.Map
func KnowledgeMetaFromMap(m map[string]string) KnowledgeMeta {
	return KnowledgeMeta{
		Category: m["category"],
		Source:   m["source"],
	}
}

// KnowledgeDocument an indexed nutrition knowledge passage
type KnowledgeDocument struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Embedding []float32     `json:"embedding,omitempty"`
	Metadata  KnowledgeMeta `json:"metadata"`
	// Score similarity to the query, set on search results only
	Score float32 `json:"score,omitempty"`
}
