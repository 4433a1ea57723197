package milvus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bububa/nutrition-agents/components/vectordb"
)

func TestFilterExpr(t *testing.T) {
	opts := vectordb.SearchOptions{
		Meta:    map[string]string{"source": "usda", "category": "nutrition_fact"},
		Exclude: "draft",
	}
	assert.Equal(t, `meta["category"] == "nutrition_fact" && meta["source"] == "usda" && not (content like "%draft%")`, filterExpr(&opts))
	assert.Empty(t, filterExpr(&vectordb.SearchOptions{}))
}
