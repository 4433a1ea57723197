// Package nutrition builds the photo to nutrition assessment pipeline.
package nutrition

import (
	"log/slog"

	"github.com/bububa/nutrition-agents/agents"
	"github.com/bububa/nutrition-agents/components/document"
	"github.com/bububa/nutrition-agents/components/guideline"
	"github.com/bububa/nutrition-agents/components/knowledge"
	"github.com/bububa/nutrition-agents/components/provider"
	"github.com/bububa/nutrition-agents/components/systemprompt"
	"github.com/bububa/nutrition-agents/schema"
	"github.com/bububa/nutrition-agents/workflow"
)

// Pipeline name and step names
const (
	Name = "nutrition"

	StepInit                 = "init"
	StepAnalyzeImage         = "analyze_image"
	StepExtractNutrition     = "extract_nutrition"
	StepRetrieveKnowledge    = "retrieve_knowledge"
	StepGenerateDependencies = "generate_dependencies"
	StepGenerateAdvice       = "generate_advice"
	StepFormatResponse       = "format_response"
)

// DefaultTopK passages retrieved for advice
const DefaultTopK = 5

// DefaultSafeAlternatives backfill alternative foods removed by the allergen filter
var DefaultSafeAlternatives = []string{
	"steamed vegetables",
	"leafy green salad",
	"quinoa",
	"brown rice",
	"lentils",
	"fresh fruit",
	"grilled fish",
}

// Pipeline holds the node dependencies. It is immutable and shared by concurrent runs.
type Pipeline struct {
	images           document.ImageSource
	searcher         knowledge.Searcher
	rules            *guideline.Engine
	vision           *agents.Agent[schema.FoodDescription]
	extractor        *agents.Agent[schema.NutritionAnalysis]
	advisor          *agents.Agent[schema.NutritionAdvice]
	topK             int
	safeAlternatives []string
	retry            workflow.RetryPolicy
	logger           *slog.Logger
	table            *workflow.Table
}

// Option configures a Pipeline
type Option func(*options)

type options struct {
	topK             int
	rules            *guideline.Engine
	safeAlternatives []string
	retry            *workflow.RetryPolicy
	logger           *slog.Logger
}

// WithTopK passages retrieved per run
func WithTopK(k int) Option {
	return func(o *options) {
		o.topK = k
	}
}

// WithGuidelines replaces the default guideline rules
func WithGuidelines(e *guideline.Engine) Option {
	return func(o *options) {
		o.rules = e
	}
}

// WithSafeAlternatives replaces DefaultSafeAlternatives
func WithSafeAlternatives(foods ...string) Option {
	return func(o *options) {
		o.safeAlternatives = foods
	}
}

// WithRetry sets the retry policy of the model calling nodes
func WithRetry(p workflow.RetryPolicy) Option {
	return func(o *options) {
		o.retry = &p
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Models selects the vision and text models
type Models struct {
	Vision provider.ModelConfig
	Text   provider.ModelConfig
}

// New returns the nutrition pipeline
func New(gw provider.Invoker, models Models, images document.ImageSource, searcher knowledge.Searcher, opts ...Option) (*Pipeline, error) {
	o := options{
		topK:             DefaultTopK,
		safeAlternatives: DefaultSafeAlternatives,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rules == nil {
		rules, err := guideline.New()
		if err != nil {
			return nil, err
		}
		o.rules = rules
	}
	if o.topK <= 0 {
		o.topK = DefaultTopK
	}
	p := &Pipeline{
		images:           images,
		searcher:         searcher,
		rules:            o.rules,
		topK:             o.topK,
		safeAlternatives: o.safeAlternatives,
		retry:            workflow.DefaultRetry,
		logger:           o.logger,
	}
	if o.retry != nil {
		p.retry = *o.retry
	}
	common := func(cfg provider.ModelConfig, name string, prompt func() systemprompt.Generator) []agents.Option {
		return []agents.Option{
			agents.WithGateway(gw),
			agents.WithModel(cfg),
			agents.WithName(name),
			agents.WithLogger(o.logger),
			agents.WithSystemPromptGenerator(prompt),
		}
	}
	p.vision = agents.NewAgent(schema.FoodDescriptionSchema, common(models.Vision, StepAnalyzeImage, visionPrompt)...)
	p.extractor = agents.NewAgent(schema.NutritionAnalysisSchema, common(models.Text, StepExtractNutrition, extractionPrompt)...)
	p.advisor = agents.NewAgent(schema.NutritionAdviceSchema, common(models.Text, StepGenerateAdvice, advicePrompt)...)

	table, err := workflow.NewTable(Name,
		workflow.Node(StepInit, p.initialize, workflow.NoRetry),
		workflow.Node(StepAnalyzeImage, p.analyzeImage, p.retry),
		workflow.Node(StepExtractNutrition, p.extractNutrition, p.retry),
		workflow.Node(StepRetrieveKnowledge, p.retrieveKnowledge, workflow.NoRetry),
		workflow.Node(StepGenerateDependencies, p.generateDependencies, workflow.NoRetry),
		workflow.Node(StepGenerateAdvice, p.generateAdvice, p.retry),
		workflow.Node(StepFormatResponse, p.formatResponse, workflow.NoRetry),
		workflow.Entry(StepInit),
		workflow.Edge(StepInit, StepAnalyzeImage),
		workflow.Edge(StepAnalyzeImage, StepExtractNutrition),
		workflow.Edge(StepExtractNutrition, StepRetrieveKnowledge),
		workflow.Edge(StepRetrieveKnowledge, StepGenerateDependencies),
		workflow.Edge(StepGenerateDependencies, StepGenerateAdvice),
		workflow.Edge(StepGenerateAdvice, StepFormatResponse),
	)
	if err != nil {
		return nil, err
	}
	p.table = table
	return p, nil
}

// Table returns the validated transition table
func (p *Pipeline) Table() *workflow.Table {
	return p.table
}

// Input builds the run input for an image reference and optional portion
func Input(imageRef string, portion string) workflow.Input {
	return workflow.Input{ImageRef: imageRef, Portion: portion}
}
