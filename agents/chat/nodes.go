package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bububa/nutrition-agents/agents"
	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/components/knowledge"
	"github.com/bububa/nutrition-agents/components/systemprompt"
	"github.com/bububa/nutrition-agents/schema"
	"github.com/bububa/nutrition-agents/workflow"
)

// Session output of initialize_chat
type Session struct {
	ID      string               `json:"session_id"`
	Message string               `json:"message"`
	History []components.Message `json:"history"`
	// New marks a session created by this run
	New bool `json:"new,omitempty"`
}

// Context output of analyze_context
type Context struct {
	Intent     schema.Intent       `json:"intent"`
	Confidence float64             `json:"confidence"`
	Method     string              `json:"method"`
	Keywords   []string            `json:"keywords"`
	Meals      []schema.MealRecord `json:"meals"`
}

// Reply output of a generate_response step
type Reply struct {
	Intent  schema.Intent `json:"intent"`
	Text    string        `json:"text"`
	Sources []string      `json:"sources"`
	TurnID  string        `json:"turn_id"`
	// Messages the user and assistant messages of this turn
	Messages []components.Message `json:"-"`
}

func (p *Pipeline) initialize(ctx context.Context, s *workflow.Scope) error {
	in := s.Input()
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return &components.InputError{Field: "message", Reason: "required"}
	}
	if in.SessionType != 0 {
		if _, ok := schema.IntentFromSessionType(in.SessionType); !ok {
			return &components.InputError{Field: "session_type", Reason: fmt.Sprintf("%d out of range 1..%d", in.SessionType, len(schema.Intents))}
		}
	}
	ret := Session{ID: strings.TrimSpace(in.SessionID), Message: msg, History: []components.Message{}}
	if ret.ID == "" {
		ret.ID = components.NewTurnID()
		ret.New = true
		return s.Set(ret)
	}
	history, err := p.store.Load(ctx, ret.ID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", ret.ID, err)
	}
	mem := components.NewMemory(p.historyWindow)
	mem.Append(history...)
	ret.History = mem.History()
	return s.Set(ret)
}

func (p *Pipeline) analyzeContext(ctx context.Context, s *workflow.Scope) error {
	session, ok := workflow.Get[Session](s, StepInitialize)
	if !ok {
		return missing(StepInitialize)
	}
	ret := Context{Keywords: Keywords(session.Message)}
	if intent, ok := schema.IntentFromSessionType(s.Input().SessionType); ok {
		ret.Intent = intent
		ret.Confidence = 1
		ret.Method = MethodSessionType
	} else if c, err := p.classify(ctx, s, session.Message); err == nil {
		ret.Intent = c.Intent
		ret.Confidence = c.Confidence
		ret.Method = MethodModel
		for _, kw := range c.Keywords {
			ret.Keywords = appendKeyword(ret.Keywords, kw)
		}
	} else if components.IsCancellation(err) {
		return err
	} else {
		s.Logger().WarnContext(ctx, "intent classification failed, using keywords", slog.String("error", err.Error()))
		ret.Intent = ClassifyHeuristic(session.Message)
		ret.Confidence = 0.5
		ret.Method = MethodHeuristic
	}
	ret.Meals = RelevantMeals(s.UserContext().RecentMeals, ret.Keywords, ret.Intent, s.StartedAt(), p.lookback)
	return s.Set(ret)
}

func (p *Pipeline) classify(ctx context.Context, s *workflow.Scope, message string) (*schema.IntentClassification, error) {
	c, usage, err := p.classifier.Run(ctx, &agents.Input{Prompt: message})
	if usage != nil {
		s.Logger().DebugContext(ctx, "model usage",
			slog.Int64("input_tokens", usage.InputTokens),
			slog.Int64("output_tokens", usage.OutputTokens),
		)
	}
	return c, err
}

func (p *Pipeline) generate(intent schema.Intent) workflow.NodeFunc {
	prompt := promptFor(intent)
	return func(ctx context.Context, s *workflow.Scope) error {
		session, ok := workflow.Get[Session](s, StepInitialize)
		if !ok {
			return missing(StepInitialize)
		}
		c, _ := workflow.Get[Context](s, StepAnalyzeContext)
		uc := s.UserContext()
		docs := []schema.KnowledgeDocument{}
		if p.searcher != nil {
			found, err := p.searcher.Search(ctx, session.Message, p.topK, nil)
			if err != nil {
				return err
			}
			docs = append(docs, found...)
		}
		mem := components.NewMemory(0)
		mem.Append(session.History...)
		agent := agents.NewTextAgent(
			agents.WithGateway(p.gateway),
			agents.WithModel(p.text),
			agents.WithName(s.Step()),
			agents.WithLogger(s.Logger()),
			agents.WithMemory(mem),
			agents.WithSystemPromptGenerator(prompt),
		)
		text, usage, err := agent.Run(ctx, &agents.Input{
			Prompt: session.Message,
			Context: []systemprompt.ContextProvider{
				systemprompt.NewFunc("USER PROFILE", func() string { return agents.RenderProfile(uc) }),
				systemprompt.NewStatic("RELEVANT MEALS", renderMeals(c.Meals)),
				systemprompt.NewStatic("NUTRITION KNOWLEDGE", knowledge.Render(docs)),
			},
		})
		if err != nil {
			return err
		}
		if usage != nil {
			s.Logger().DebugContext(ctx, "model usage",
				slog.Int64("input_tokens", usage.InputTokens),
				slog.Int64("output_tokens", usage.OutputTokens),
			)
		}
		return s.Set(Reply{
			Intent:   intent,
			Text:     strings.TrimSpace(text),
			Sources:  knowledge.Sources(docs),
			TurnID:   mem.TurnID(),
			Messages: mem.Last(2),
		})
	}
}

func (p *Pipeline) format(ctx context.Context, s *workflow.Scope) error {
	session, ok := workflow.Get[Session](s, StepInitialize)
	if !ok {
		return missing(StepInitialize)
	}
	c, ok := workflow.Get[Context](s, StepAnalyzeContext)
	if !ok {
		return missing(StepAnalyzeContext)
	}
	reply, ok := workflow.Get[Reply](s, GenerateStep(c.Intent))
	if !ok {
		return missing(GenerateStep(c.Intent))
	}
	if err := p.store.Append(ctx, session.ID, reply.Messages...); err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	res := schema.ChatResult{
		SessionID:       session.ID,
		TurnID:          reply.TurnID,
		Intent:          reply.Intent,
		Reply:           reply.Text,
		ReferencedMeals: c.Meals,
		Sources:         reply.Sources,
	}
	if err := s.Set(res); err != nil {
		return err
	}
	return s.Finalize(res)
}

func renderMeals(meals []schema.MealRecord) string {
	return schema.UserContext{RecentMeals: meals}.RecentMealSummary(0)
}

func appendKeyword(list []string, kw string) []string {
	kw = strings.ToLower(strings.TrimSpace(kw))
	if kw == "" {
		return list
	}
	for _, v := range list {
		if v == kw {
			return list
		}
	}
	return append(list, kw)
}

func missing(step string) error {
	return fmt.Errorf("payload of %s missing", step)
}
