// Package agents wraps gateway calls with prompt assembly, schema validation
// and the single corrective re-prompt shared by pipeline nodes.
package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/components/provider"
	"github.com/bububa/nutrition-agents/components/systemprompt"
	"github.com/bububa/nutrition-agents/components/systemprompt/cot"
	"github.com/bububa/nutrition-agents/schema"
)

// Input of one agent call
type Input struct {
	// Prompt is the user turn
	Prompt string
	// Images attached to the user turn
	Images []provider.Image
	// Context per call context providers appended to the system prompt
	Context []systemprompt.ContextProvider
}

// Config represents general agents configuration
type Config struct {
	// gateway issues model calls
	gateway provider.Invoker
	// model role and model used for calls
	model provider.ModelConfig
	// systemPrompt returns a fresh generator for every call
	systemPrompt func() systemprompt.Generator
	// memory optional chat history sent before the prompt
	memory *components.Memory
	// name is Agent name presentation
	name   string
	logger *slog.Logger
}

// Name returns agent name
func (c Config) Name() string {
	return c.name
}

// Model returns the model config
func (c Config) Model() provider.ModelConfig {
	return c.model
}

// SystemPrompt renders the system prompt with extra context providers
func (c Config) SystemPrompt(extra ...systemprompt.ContextProvider) string {
	if c.systemPrompt == nil {
		return ""
	}
	g := c.systemPrompt()
	g.AddContextProviders(extra...)
	return g.Generate()
}

func (c Config) request(in *Input) *provider.Request {
	req := &provider.Request{
		System: c.SystemPrompt(in.Context...),
		Prompt: in.Prompt,
		Images: in.Images,
	}
	if c.memory != nil {
		req.History = c.memory.History()
	}
	return req
}

func (c Config) remember(prompt string, reply string) {
	if c.memory == nil {
		return
	}
	c.memory.NewTurn()
	c.memory.NewMessage(components.UserRole, prompt)
	c.memory.NewMessage(components.AssistantRole, reply)
}

// Agent issues structured calls whose output must parse into T.
// An invalid output is re-prompted once with the validation error appended; a second
// invalid output is returned as an escalated *components.ValidationError.
type Agent[T any] struct {
	Config
	object    *schema.Object[T]
	startHook func(context.Context, *Agent[T], *Input)
	endHook   func(context.Context, *Agent[T], *Input, *T, *components.LLMUsage)
	errorHook func(context.Context, *Agent[T], *Input, error)
}

// NewAgent initializes an Agent for object
func NewAgent[T any](object *schema.Object[T], options ...Option) *Agent[T] {
	ret := &Agent[T]{object: object}
	for _, opt := range options {
		opt(&ret.Config)
	}
	if ret.systemPrompt == nil {
		ret.systemPrompt = func() systemprompt.Generator { return cot.New() }
	}
	if ret.logger == nil {
		ret.logger = slog.Default()
	}
	if ret.name == "" {
		ret.name = object.Name()
	}
	return ret
}

func (a *Agent[T]) SetStartHook(fn func(context.Context, *Agent[T], *Input)) {
	a.startHook = fn
}

func (a *Agent[T]) SetEndHook(fn func(context.Context, *Agent[T], *Input, *T, *components.LLMUsage)) {
	a.endHook = fn
}

func (a *Agent[T]) SetErrorHook(fn func(context.Context, *Agent[T], *Input, error)) {
	a.errorHook = fn
}

// Run calls the model and returns the validated output with the usage of every call made
func (a *Agent[T]) Run(ctx context.Context, in *Input) (*T, *components.LLMUsage, error) {
	if fn := a.startHook; fn != nil {
		fn(ctx, a, in)
	}
	out, usage, err := a.run(ctx, in)
	if err != nil {
		if fn := a.errorHook; fn != nil {
			fn(ctx, a, in, err)
		}
		return nil, usage, err
	}
	if fn := a.endHook; fn != nil {
		fn(ctx, a, in, out, usage)
	}
	return out, usage, nil
}

func (a *Agent[T]) run(ctx context.Context, in *Input) (*T, *components.LLMUsage, error) {
	if a.gateway == nil {
		return nil, nil, errors.New("agent has no gateway")
	}
	usage := new(components.LLMUsage)
	req := a.request(in)
	out, resp, err := provider.Structured(ctx, a.gateway, a.model, req, a.object)
	if resp != nil {
		usage.Merge(resp.Usage)
	}
	if err == nil {
		a.remember(in.Prompt, resp.Text)
		return out, usage, nil
	}
	var verr *components.ValidationError
	if !errors.As(err, &verr) {
		return nil, usage, err
	}
	if err := ctx.Err(); err != nil {
		return nil, usage, &components.CancellationError{Err: err}
	}
	a.logger.WarnContext(ctx, "invalid model output, re-prompting",
		slog.String("agent", a.name),
		slog.String("schema", verr.Schema),
		slog.String("field", verr.Field),
	)
	retry := Correction(req, verr)
	out, resp, err = provider.Structured(ctx, a.gateway, a.model, retry, a.object)
	if resp != nil {
		usage.Merge(resp.Usage)
	}
	if err != nil {
		if errors.As(err, &verr) {
			verr.Escalated = true
		}
		return nil, usage, err
	}
	a.remember(in.Prompt, resp.Text)
	return out, usage, nil
}

// Correction builds the corrective follow up of req after its output failed validation.
// The original prompt and the rejected output are replayed as history; the schema instructions
// travel once, with the corrective prompt.
func Correction(req *provider.Request, verr *components.ValidationError) *provider.Request {
	ret := *req
	ret.History = make([]components.Message, 0, len(req.History)+2)
	ret.History = append(ret.History, req.History...)
	ret.History = append(ret.History,
		*components.NewMessage(components.UserRole, req.Prompt),
		*components.NewMessage(components.AssistantRole, verr.Raw),
	)
	ret.Prompt = fmt.Sprintf("Your previous response was rejected: %s.\nReturn the corrected JSON object only.", verr.Error())
	return &ret
}

// TextAgent issues free text calls
type TextAgent struct {
	Config
}

// NewTextAgent initializes a TextAgent
func NewTextAgent(options ...Option) *TextAgent {
	ret := new(TextAgent)
	for _, opt := range options {
		opt(&ret.Config)
	}
	if ret.logger == nil {
		ret.logger = slog.Default()
	}
	return ret
}

// Run returns the model reply to in
func (a *TextAgent) Run(ctx context.Context, in *Input) (string, *components.LLMUsage, error) {
	if a.gateway == nil {
		return "", nil, errors.New("agent has no gateway")
	}
	resp, err := a.gateway.Invoke(ctx, a.model, a.request(in))
	if err != nil {
		return "", nil, err
	}
	a.remember(in.Prompt, resp.Text)
	return resp.Text, resp.Usage, nil
}
