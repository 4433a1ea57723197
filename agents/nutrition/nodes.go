package nutrition

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bububa/nutrition-agents/agents"
	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/components/guideline"
	"github.com/bububa/nutrition-agents/components/knowledge"
	"github.com/bububa/nutrition-agents/components/provider"
	"github.com/bububa/nutrition-agents/components/systemprompt"
	"github.com/bububa/nutrition-agents/schema"
	"github.com/bububa/nutrition-agents/workflow"
)

// ImagePayload output of the init step. The image bytes are kept out of the event payload.
type ImagePayload struct {
	Ref     string `json:"ref"`
	MIME    string `json:"mime"`
	Size    int    `json:"size"`
	Portion string `json:"portion,omitempty"`
	image   provider.Image
}

// Image returns the fetched image
func (p ImagePayload) Image() provider.Image {
	return p.image
}

func (p *Pipeline) initialize(ctx context.Context, s *workflow.Scope) error {
	in := s.Input()
	ref := strings.TrimSpace(in.ImageRef)
	if ref == "" {
		return &components.InputError{Field: "image_ref", Reason: "required"}
	}
	uc := s.UserContext()
	if err := schema.Validate(uc.Profile); err != nil {
		return &components.InputError{Field: "user_context.profile", Reason: "invalid", Err: err}
	}
	img, err := p.images.Image(ctx, ref)
	if err != nil {
		return err
	}
	return s.Set(ImagePayload{
		Ref:     ref,
		MIME:    img.MIME,
		Size:    len(img.Data),
		Portion: strings.TrimSpace(in.Portion),
		image:   img,
	})
}

func (p *Pipeline) analyzeImage(ctx context.Context, s *workflow.Scope) error {
	payload, ok := workflow.Get[ImagePayload](s, StepInit)
	if !ok {
		return missing(StepInit)
	}
	prompt := "Identify the food in this photo."
	if payload.Portion != "" {
		prompt += fmt.Sprintf(" The user says the portion is %s.", payload.Portion)
	}
	desc, usage, err := p.vision.Run(ctx, &agents.Input{
		Prompt: prompt,
		Images: []provider.Image{payload.Image()},
	})
	logUsage(ctx, s, usage)
	if err != nil {
		return err
	}
	food := *desc
	if food.Unrecognized() {
		s.Logger().InfoContext(ctx, "food not recognized, continuing with a placeholder")
		food = schema.Placeholder(strings.Join(desc.Items, ", "))
	}
	return s.Set(food)
}

func (p *Pipeline) extractNutrition(ctx context.Context, s *workflow.Scope) error {
	food, ok := workflow.Get[schema.FoodDescription](s, StepAnalyzeImage)
	if !ok {
		return missing(StepAnalyzeImage)
	}
	analysis, usage, err := p.extractor.Run(ctx, &agents.Input{
		Prompt: "Estimate the nutrition of this meal.\n\n" + food.Prompt(s.Input().Portion),
	})
	logUsage(ctx, s, usage)
	if err != nil {
		return err
	}
	if check := analysis.CalorieCheck; check != nil && check.Flagged {
		s.Logger().WarnContext(ctx, "calorie total inconsistent with macronutrients",
			slog.Float64("total_calories", analysis.TotalCalories),
			slog.Float64("derived_calories", check.DerivedCalories),
			slog.Float64("deviation", check.Deviation),
		)
	}
	return s.Set(*analysis)
}

func (p *Pipeline) retrieveKnowledge(ctx context.Context, s *workflow.Scope) error {
	analysis, ok := workflow.Get[schema.NutritionAnalysis](s, StepExtractNutrition)
	if !ok {
		return missing(StepExtractNutrition)
	}
	docs := []schema.KnowledgeDocument{}
	if p.searcher != nil {
		found, err := p.searcher.Search(ctx, strings.Join(analysis.FoodItems, " "), p.topK, nil)
		if err != nil {
			return err
		}
		docs = append(docs, found...)
	}
	return s.Set(docs)
}

func (p *Pipeline) generateDependencies(ctx context.Context, s *workflow.Scope) error {
	docs, ok := workflow.Get[[]schema.KnowledgeDocument](s, StepRetrieveKnowledge)
	if !ok {
		return missing(StepRetrieveKnowledge)
	}
	return s.Set(Dependencies(docs))
}

func (p *Pipeline) generateAdvice(ctx context.Context, s *workflow.Scope) error {
	analysis, ok := workflow.Get[schema.NutritionAnalysis](s, StepExtractNutrition)
	if !ok {
		return missing(StepExtractNutrition)
	}
	docs, _ := workflow.Get[[]schema.KnowledgeDocument](s, StepRetrieveKnowledge)
	deps, _ := workflow.Get[schema.AdviceDependencies](s, StepGenerateDependencies)
	uc := s.UserContext()
	bs, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return err
	}
	advice, usage, err := p.advisor.Run(ctx, &agents.Input{
		Prompt: "Give personalized advice about this meal.",
		Context: []systemprompt.ContextProvider{
			systemprompt.NewStatic("MEAL ANALYSIS", string(bs)),
			profileProvider(uc),
			systemprompt.NewStatic("RECENT MEALS", uc.RecentMealSummary(5)),
			systemprompt.NewStatic("NUTRITION KNOWLEDGE", knowledge.Render(docs)),
			systemprompt.NewStatic("ADVICE DEPENDENCIES", renderDependencies(deps)),
		},
	})
	logUsage(ctx, s, usage)
	if err != nil {
		return err
	}
	ret := FilterAllergens(*advice, uc, p.safeAlternatives)
	extra, err := p.rules.Evaluate(analysis, uc)
	if err != nil {
		return fmt.Errorf("guidelines: %w", err)
	}
	ret.Warnings = guideline.Apply(ret.Warnings, extra)
	return s.Set(ret)
}

func (p *Pipeline) formatResponse(ctx context.Context, s *workflow.Scope) error {
	food, _ := workflow.Get[schema.FoodDescription](s, StepAnalyzeImage)
	analysis, _ := workflow.Get[schema.NutritionAnalysis](s, StepExtractNutrition)
	docs, _ := workflow.Get[[]schema.KnowledgeDocument](s, StepRetrieveKnowledge)
	deps, _ := workflow.Get[schema.AdviceDependencies](s, StepGenerateDependencies)
	advice, ok := workflow.Get[schema.NutritionAdvice](s, StepGenerateAdvice)
	if !ok {
		return missing(StepGenerateAdvice)
	}
	res := BuildResult(s.UserContext(), food, analysis, docs, deps, advice, s.StartedAt())
	if err := s.Set(res); err != nil {
		return err
	}
	return s.Finalize(res)
}

func missing(step string) error {
	return fmt.Errorf("payload of %s missing", step)
}

func logUsage(ctx context.Context, s *workflow.Scope, usage *components.LLMUsage) {
	if usage == nil {
		return
	}
	s.Logger().DebugContext(ctx, "model usage",
		slog.Int64("input_tokens", usage.InputTokens),
		slog.Int64("output_tokens", usage.OutputTokens),
	)
}
