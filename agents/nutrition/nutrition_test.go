package nutrition

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/components/document"
	"github.com/bububa/nutrition-agents/components/knowledge"
	"github.com/bububa/nutrition-agents/components/provider"
	"github.com/bububa/nutrition-agents/components/vectordb/engines/memory"
	"github.com/bububa/nutrition-agents/schema"
	"github.com/bububa/nutrition-agents/workflow"
)

// 1x1 transparent PNG
var pixel, _ = base64.StdEncoding.DecodeString("iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")

var photo = "data:image/png;base64," + base64.StdEncoding.EncodeToString(pixel)

const (
	chickenDescription = `{"recognized":true,"description":"Grilled chicken breast with steamed broccoli","items":["chicken breast","broccoli"],"quantity_estimate":"250g","confidence":0.92}`
	chickenAnalysis    = "```json\n" + `{"food_items":["grilled chicken breast","steamed broccoli"],"total_calories":294,"macronutrients":{"protein":52,"fat":6,"carbohydrates":8,"dietary_fiber":3,"sugar":2},"vitamins_minerals":{"sodium":180,"vitamin_c":60},"health_level":5}` + "\n```"
	chickenAdvice      = `{"recommendations":["Keep grilling instead of frying.","Add a portion of whole grains after training.","Drink water with the meal."],"dietary_tips":["Spread protein over the day."],"warnings":[],"alternative_foods":["turkey breast","grilled fish","tofu"]}`
)

var models = Models{
	Vision: provider.ModelConfig{Provider: provider.ProviderOpenAI, Model: "gpt-4o", Role: provider.RoleVision},
	Text:   provider.ModelConfig{Provider: provider.ProviderOpenAI, Model: "gpt-4o-mini", Role: provider.RoleTextGeneration},
}

// scriptedGateway answers by schema name, popping queued replies before falling back to the default
type scriptedGateway struct {
	mu       sync.Mutex
	replies  map[string][]string
	defaults map[string]string
	requests map[string][]*provider.Request
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{
		replies: make(map[string][]string),
		defaults: map[string]string{
			schema.FoodDescriptionSchema.Name():   chickenDescription,
			schema.NutritionAnalysisSchema.Name(): chickenAnalysis,
			schema.NutritionAdviceSchema.Name():   chickenAdvice,
		},
		requests: make(map[string][]*provider.Request),
	}
}

func (g *scriptedGateway) queue(name string, replies ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies[name] = append(g.replies[name], replies...)
}

func (g *scriptedGateway) calls(name string) []*provider.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[name]
}

func (g *scriptedGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	var n int
	for _, v := range g.requests {
		n += len(v)
	}
	return n
}

func (g *scriptedGateway) Invoke(ctx context.Context, cfg provider.ModelConfig, req *provider.Request) (*provider.Response, error) {
	if req.Schema == nil {
		return nil, errors.New("unexpected free text call")
	}
	name := req.Schema.Name()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests[name] = append(g.requests[name], req)
	text := g.defaults[name]
	if queued := g.replies[name]; len(queued) > 0 {
		text = queued[0]
		g.replies[name] = queued[1:]
	}
	return &provider.Response{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		Text:     text,
		Usage:    &components.LLMUsage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

type staticSearcher struct {
	docs    []schema.KnowledgeDocument
	queries []string
}

func (s *staticSearcher) Search(_ context.Context, query string, k int, _ *knowledge.Filter) ([]schema.KnowledgeDocument, error) {
	s.queries = append(s.queries, query)
	if len(s.docs) > k {
		return s.docs[:k], nil
	}
	return s.docs, nil
}

var passages = []schema.KnowledgeDocument{
	{ID: "k1", Text: "Chicken breast provides about 31 g of protein per 100 g.", Metadata: schema.KnowledgeMeta{Category: schema.CategoryNutritionFact, Source: "usda"}, Score: 0.91},
	{ID: "k2", Text: "Adults building muscle benefit from 1.6 g of protein per kg of body weight.", Metadata: schema.KnowledgeMeta{Category: schema.CategoryHealthGuideline, Source: "issn"}, Score: 0.82},
	{ID: "k3", Text: "Vitamin C in broccoli improves iron absorption.", Metadata: schema.KnowledgeMeta{Category: schema.CategoryFoodInteraction, Source: "usda"}, Score: 0.7},
}

var athlete = schema.UserContext{
	UserID: "u-42",
	Profile: schema.Profile{
		Gender:        schema.GenderMale,
		Age:           30,
		HeightCM:      180,
		WeightKG:      80,
		ActivityLevel: 3,
	},
	Goal: schema.GoalBuildMuscle,
}

var runStart = time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)

func newExecutor() *workflow.Executor {
	return workflow.NewExecutor(
		workflow.WithNow(func() time.Time { return runStart }),
		workflow.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
}

func newPipeline(t *testing.T, gw provider.Invoker, searcher knowledge.Searcher, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(gw, models, document.NewResolver(), searcher, opts...)
	require.NoError(t, err)
	return p
}

func TestTableShape(t *testing.T) {
	p := newPipeline(t, newScriptedGateway(), nil)
	table := p.Table()
	assert.Equal(t, StepInit, table.Entry())
	assert.Equal(t, StepFormatResponse, table.Terminal())
	assert.Equal(t, []string{
		StepInit,
		StepAnalyzeImage,
		StepExtractNutrition,
		StepRetrieveKnowledge,
		StepGenerateDependencies,
		StepGenerateAdvice,
		StepFormatResponse,
	}, table.Nodes())
}

func TestChickenBreastForMuscleGain(t *testing.T) {
	gw := newScriptedGateway()
	searcher := &staticSearcher{docs: passages}
	p := newPipeline(t, gw, searcher)

	state, err := newExecutor().Run(context.Background(), p.Table(), Input(photo, "about 250 g"), athlete)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, state.Status)
	assert.Equal(t, p.Table().Nodes(), state.StepTrace)

	res, ok := state.Result.(schema.NutritionResult)
	require.True(t, ok)
	assert.Equal(t, "A", res.HealthGrade)
	assert.Equal(t, schema.HealthLevelA, res.Analysis.HealthLevel)
	assert.NotNil(t, res.Advice.Warnings)
	assert.Empty(t, res.Advice.Warnings)
	assert.Len(t, res.Advice.Recommendations, 3)
	assert.Equal(t, []string{"grilled chicken breast", "steamed broccoli"}, res.Analysis.FoodItems)
	require.NotNil(t, res.Analysis.CalorieCheck)
	assert.False(t, res.Analysis.CalorieCheck.Flagged)
	assert.Equal(t, []string{"usda", "issn"}, res.Sources)
	assert.Equal(t, []string{passages[1].Text}, res.Dependencies.HealthGuidelines)
	assert.Equal(t, []string{passages[2].Text}, res.Dependencies.FoodInteractions)

	// 1780 * 1.55 = 2759, +200 for muscle gain
	require.NotNil(t, res.GoalImpact)
	assert.InDelta(t, 2959, res.GoalImpact.Targets.Calories, 0.5)
	assert.True(t, res.GoalImpact.FitsBudget)

	assert.Equal(t, []string{"grilled chicken breast steamed broccoli"}, searcher.queries)
	require.Len(t, gw.calls(schema.FoodDescriptionSchema.Name()), 1)
	vision := gw.calls(schema.FoodDescriptionSchema.Name())[0]
	require.Len(t, vision.Images, 1)
	assert.Equal(t, "image/png", vision.Images[0].MIME)
	assert.Contains(t, vision.Prompt, "about 250 g")

	extraction := gw.calls(schema.NutritionAnalysisSchema.Name())[0]
	assert.Contains(t, extraction.Prompt, "Grilled chicken breast with steamed broccoli")
	assert.Contains(t, extraction.Prompt, "User stated portion: about 250 g")

	advice := gw.calls(schema.NutritionAdviceSchema.Name())[0]
	assert.Contains(t, advice.System, "## USER PROFILE")
	assert.Contains(t, advice.System, "- Goal: build muscle")
	assert.Contains(t, advice.System, "## NUTRITION KNOWLEDGE")
	assert.NotContains(t, advice.System, "## RECENT MEALS")
}

func TestDeterministicResult(t *testing.T) {
	run := func() schema.NutritionResult {
		p := newPipeline(t, newScriptedGateway(), &staticSearcher{docs: passages})
		state, err := newExecutor().Run(context.Background(), p.Table(), Input(photo, ""), athlete)
		require.NoError(t, err)
		return state.Result.(schema.NutritionResult)
	}
	first, second := run(), run()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("results differ (-first +second):\n%s", diff)
	}
}

func TestBuildResultIsPure(t *testing.T) {
	var analysis schema.NutritionAnalysis
	parsed, err := schema.NutritionAnalysisSchema.Parse([]byte(chickenAnalysis))
	require.NoError(t, err)
	analysis = *parsed
	food := schema.FoodDescription{Recognized: true, Description: "chicken", Confidence: 0.9}
	advice := schema.NutritionAdvice{Recommendations: []string{"a", "b", "c"}, Warnings: []string{}}
	deps := Dependencies(passages)
	first := BuildResult(athlete, food, analysis, passages, deps, advice, runStart)
	second := BuildResult(athlete, food, analysis, passages, deps, advice, runStart)
	assert.Empty(t, cmp.Diff(first, second))
}

func TestExtractionRepromptsOnce(t *testing.T) {
	gw := newScriptedGateway()
	gw.queue(schema.NutritionAnalysisSchema.Name(), `{"food_items":[],"total_calories":294}`)
	p := newPipeline(t, gw, &staticSearcher{})

	state, err := newExecutor().Run(context.Background(), p.Table(), Input(photo, ""), athlete)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, state.Status)

	calls := gw.calls(schema.NutritionAnalysisSchema.Name())
	require.Len(t, calls, 2)
	require.Len(t, calls[1].History, 2)
	assert.Equal(t, components.AssistantRole, calls[1].History[1].Role())
	assert.Contains(t, calls[1].Prompt, "rejected")
	assert.Contains(t, calls[1].Prompt, "FoodItems")
}

func TestExtractionEscalatesAfterSecondFailure(t *testing.T) {
	gw := newScriptedGateway()
	gw.queue(schema.NutritionAnalysisSchema.Name(), "I am not sure.", `{"food_items":["rice"],"health_level":9}`)
	p := newPipeline(t, gw, &staticSearcher{})

	state, err := newExecutor().Run(context.Background(), p.Table(), Input(photo, ""), athlete)
	require.Error(t, err)
	assert.Equal(t, workflow.StatusFailed, state.Status)

	var verr *components.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Escalated)
	assert.Equal(t, schema.NutritionAnalysisSchema.Name(), verr.Schema)

	rerr, ok := workflow.IsRunError(err)
	require.True(t, ok)
	assert.Equal(t, StepExtractNutrition, rerr.Step)
	assert.Equal(t, []string{StepInit, StepAnalyzeImage}, rerr.Trace)
	// exactly one re-prompt and no node retry
	assert.Len(t, gw.calls(schema.NutritionAnalysisSchema.Name()), 2)
	assert.Empty(t, gw.calls(schema.NutritionAdviceSchema.Name()))
}

const adviceWithoutRecommendations = `{"dietary_tips":["Eat slowly."],"warnings":[],"alternative_foods":["tofu"]}`

func TestAdviceRepromptsOnce(t *testing.T) {
	gw := newScriptedGateway()
	gw.queue(schema.NutritionAdviceSchema.Name(), adviceWithoutRecommendations)
	p := newPipeline(t, gw, &staticSearcher{docs: passages})

	state, err := newExecutor().Run(context.Background(), p.Table(), Input(photo, ""), athlete)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, state.Status)

	calls := gw.calls(schema.NutritionAdviceSchema.Name())
	require.Len(t, calls, 2)
	require.Len(t, calls[1].History, 2)
	assert.Equal(t, adviceWithoutRecommendations, calls[1].History[1].Content())
	assert.Contains(t, calls[1].Prompt, "Recommendations")
	res := state.Result.(schema.NutritionResult)
	assert.Len(t, res.Advice.Recommendations, 3)
}

func TestAdviceEscalatesAfterSecondFailure(t *testing.T) {
	gw := newScriptedGateway()
	gw.queue(schema.NutritionAdviceSchema.Name(), adviceWithoutRecommendations, adviceWithoutRecommendations)
	p := newPipeline(t, gw, &staticSearcher{docs: passages})

	state, err := newExecutor().Run(context.Background(), p.Table(), Input(photo, ""), athlete)
	require.Error(t, err)
	assert.Equal(t, workflow.StatusFailed, state.Status)
	assert.Nil(t, state.Result)

	var verr *components.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Escalated)
	assert.Equal(t, schema.NutritionAdviceSchema.Name(), verr.Schema)

	rerr, ok := workflow.IsRunError(err)
	require.True(t, ok)
	assert.Equal(t, StepGenerateAdvice, rerr.Step)
	assert.Equal(t, []string{StepInit, StepAnalyzeImage, StepExtractNutrition, StepRetrieveKnowledge, StepGenerateDependencies}, rerr.Trace)
	assert.Len(t, gw.calls(schema.NutritionAdviceSchema.Name()), 2)
}

func TestEmptyIndexStillCompletes(t *testing.T) {
	emb := embedderFunc(func(context.Context, []string, *components.LLMUsage) ([][]float32, error) {
		return nil, errors.New("embedding must not be called on an empty index")
	})
	retriever := knowledge.NewRetriever(emb, memory.New())
	p := newPipeline(t, newScriptedGateway(), retriever)

	state, err := newExecutor().Run(context.Background(), p.Table(), Input(photo, ""), athlete)
	require.NoError(t, err)
	res := state.Result.(schema.NutritionResult)
	assert.NotNil(t, res.Sources)
	assert.Empty(t, res.Sources)
	assert.True(t, res.Dependencies.Empty())
	docs, ok := workflow.Lookup[[]schema.KnowledgeDocument](state, StepRetrieveKnowledge)
	require.True(t, ok)
	assert.Empty(t, docs)
}

type embedderFunc func(ctx context.Context, texts []string, usage *components.LLMUsage) ([][]float32, error)

func (f embedderFunc) Embed(ctx context.Context, texts []string, usage *components.LLMUsage) ([][]float32, error) {
	return f(ctx, texts, usage)
}

func TestAllergensRemovedFromAlternatives(t *testing.T) {
	uc := athlete.Clone()
	uc.Allergies = []string{"Fish", "soy"}
	p := newPipeline(t, newScriptedGateway(), &staticSearcher{})

	state, err := newExecutor().Run(context.Background(), p.Table(), Input(photo, ""), uc)
	require.NoError(t, err)
	res := state.Result.(schema.NutritionResult)
	assert.Equal(t, []string{"turkey breast", "tofu", "steamed vegetables"}, res.Advice.AlternativeFoods)
}

func TestFilterAllergens(t *testing.T) {
	uc := schema.UserContext{Allergies: []string{"peanut", "shellfish"}}
	tests := []struct {
		name string
		in   []string
		safe []string
		want []string
	}{
		{
			name: "nothing to strip",
			in:   []string{"oatmeal", "yogurt"},
			safe: DefaultSafeAlternatives,
			want: []string{"oatmeal", "yogurt"},
		},
		{
			name: "either direction containment",
			in:   []string{"Peanut butter toast", "shrimp", "shellfish"},
			safe: []string{"quinoa"},
			want: []string{"shrimp", "quinoa"},
		},
		{
			name: "backfill skips allergens and duplicates",
			in:   []string{"peanuts", "quinoa"},
			safe: []string{"Quinoa", "peanut noodles", "lentils"},
			want: []string{"quinoa", "lentils"},
		},
		{
			name: "omitted when nothing safe is left",
			in:   []string{"peanut"},
			safe: []string{"shellfish soup"},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advice := schema.NutritionAdvice{AlternativeFoods: tt.in}
			got := FilterAllergens(advice, uc, tt.safe)
			assert.Equal(t, tt.want, got.AlternativeFoods)
			assert.Equal(t, tt.in, advice.AlternativeFoods)
		})
	}
}

func TestFilterAllergensPlurals(t *testing.T) {
	uc := schema.UserContext{Allergies: []string{"peanuts", "eggs"}}
	advice := schema.NutritionAdvice{AlternativeFoods: []string{"peanut butter toast", "egg white omelette", "tofu"}}
	got := FilterAllergens(advice, uc, []string{"Eggs Benedict", "lentil soup"})
	assert.Equal(t, []string{"tofu", "lentil soup"}, got.AlternativeFoods)
}

func TestUnrecognizedFoodUsesPlaceholder(t *testing.T) {
	gw := newScriptedGateway()
	gw.queue(schema.FoodDescriptionSchema.Name(), `{"recognized":false,"description":"a wooden table","confidence":0.3}`)
	p := newPipeline(t, gw, &staticSearcher{})

	state, err := newExecutor().Run(context.Background(), p.Table(), Input(photo, ""), athlete)
	require.NoError(t, err)
	food, ok := workflow.Lookup[schema.FoodDescription](state, StepAnalyzeImage)
	require.True(t, ok)
	assert.Equal(t, schema.LowConfidence, food.Confidence)
	assert.Equal(t, schema.UnrecognizedFood, food.Description)
	extraction := gw.calls(schema.NutritionAnalysisSchema.Name())[0]
	assert.Contains(t, extraction.Prompt, schema.UnrecognizedFood)
}

func TestMissingImageFailsWithoutModelCalls(t *testing.T) {
	for _, ref := range []string{"", "   ", "ftp://meals/lunch.png", "data:,just%20text"} {
		t.Run(ref, func(t *testing.T) {
			gw := newScriptedGateway()
			p := newPipeline(t, gw, &staticSearcher{})
			state, err := newExecutor().Run(context.Background(), p.Table(), Input(ref, ""), athlete)
			require.Error(t, err)
			var ierr *components.InputError
			assert.ErrorAs(t, err, &ierr)
			assert.Equal(t, workflow.StatusFailed, state.Status)
			assert.Empty(t, state.StepTrace)
			assert.Zero(t, gw.total())
		})
	}
}

func TestDiabeticHighSugarMealGetsGuidelineWarnings(t *testing.T) {
	gw := newScriptedGateway()
	gw.queue(schema.NutritionAnalysisSchema.Name(), `{"food_items":["chocolate cake"],"total_calories":480,"macronutrients":{"protein":6,"fat":24,"carbohydrates":60,"dietary_fiber":2,"sugar":42},"health_level":1}`)
	p := newPipeline(t, gw, &staticSearcher{})
	uc := athlete.Clone()
	uc.Diseases = []string{"Type 2 diabetes"}

	state, err := newExecutor().Run(context.Background(), p.Table(), Input(photo, ""), uc)
	require.NoError(t, err)
	res := state.Result.(schema.NutritionResult)
	assert.Equal(t, "E", res.HealthGrade)
	require.Len(t, res.Advice.Warnings, 2)
	assert.True(t, strings.HasPrefix(res.Advice.Warnings[0], "Sugar (42 g)"))
	assert.Contains(t, res.Advice.Warnings[1], "With diabetes")
}

func TestCancelledAfterVision(t *testing.T) {
	gw := newScriptedGateway()
	p := newPipeline(t, gw, &staticSearcher{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := workflow.ObserverFunc(func(_ context.Context, _ *workflow.RunState, ev workflow.StepEvent, _ time.Duration) {
		if ev.Step == StepAnalyzeImage && ev.Status == workflow.EventCompleted {
			cancel()
		}
	})
	state, err := newExecutor().Run(ctx, p.Table(), Input(photo, ""), athlete, obs)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, state.Status)
	assert.Equal(t, []string{StepInit, StepAnalyzeImage}, state.StepTrace)
	assert.Empty(t, gw.calls(schema.NutritionAnalysisSchema.Name()))
	assert.Nil(t, state.Result)
}
