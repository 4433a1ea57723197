// Package chat builds the conversational pipeline that answers free form health questions.
package chat

import (
	"log/slog"
	"time"

	"github.com/bububa/nutrition-agents/agents"
	"github.com/bububa/nutrition-agents/components/knowledge"
	"github.com/bububa/nutrition-agents/components/provider"
	"github.com/bububa/nutrition-agents/schema"
	"github.com/bububa/nutrition-agents/workflow"
)

// Pipeline name and step names
const (
	Name = "chat"

	StepInitialize     = "initialize_chat"
	StepAnalyzeContext = "analyze_context"
	StepFormat         = "format_chat_response"
)

// GenerateStep returns the response step of intent
func GenerateStep(intent schema.Intent) string {
	return "generate_response_" + string(intent)
}

const (
	// DefaultHistoryWindow messages of session history sent to the model
	DefaultHistoryWindow = 20
	// DefaultTopK passages grounding a reply
	DefaultTopK = 3
)

// Pipeline holds the node dependencies. It is immutable and shared by concurrent runs.
type Pipeline struct {
	gateway       provider.Invoker
	text          provider.ModelConfig
	store         SessionStore
	searcher      knowledge.Searcher
	classifier    *agents.Agent[schema.IntentClassification]
	historyWindow int
	topK          int
	lookback      time.Duration
	retry         workflow.RetryPolicy
	logger        *slog.Logger
	table         *workflow.Table
}

type options struct {
	store         SessionStore
	historyWindow int
	topK          int
	lookback      time.Duration
	retry         *workflow.RetryPolicy
	logger        *slog.Logger
}

// Option configures a Pipeline
type Option func(*options)

// WithStore replaces the in process session store
func WithStore(s SessionStore) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithHistoryWindow caps the session messages sent to the model
func WithHistoryWindow(n int) Option {
	return func(o *options) {
		o.historyWindow = n
	}
}

func WithTopK(k int) Option {
	return func(o *options) {
		o.topK = k
	}
}

// WithLookback sets how far back meals are considered
func WithLookback(d time.Duration) Option {
	return func(o *options) {
		o.lookback = d
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

// New returns the chat pipeline answering with the text model
func New(gw provider.Invoker, text provider.ModelConfig, searcher knowledge.Searcher, opts ...Option) (*Pipeline, error) {
	o := options{
		historyWindow: DefaultHistoryWindow,
		topK:          DefaultTopK,
		lookback:      DefaultLookback,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = NewMemoryStore(0)
	}
	p := &Pipeline{
		gateway:       gw,
		text:          text,
		store:         o.store,
		searcher:      searcher,
		historyWindow: o.historyWindow,
		topK:          o.topK,
		lookback:      o.lookback,
		retry:         workflow.DefaultRetry,
		logger:        o.logger,
	}
	if o.retry != nil {
		p.retry = *o.retry
	}
	p.classifier = agents.NewAgent(schema.IntentSchema,
		agents.WithGateway(gw),
		agents.WithModel(text),
		agents.WithName("intent_classifier"),
		agents.WithLogger(o.logger),
		agents.WithSystemPromptGenerator(classifierPrompt),
	)

	defs := []workflow.Def{
		workflow.Node(StepInitialize, p.initialize, workflow.NoRetry),
		workflow.Node(StepAnalyzeContext, p.analyzeContext, workflow.NoRetry),
		workflow.Node(StepFormat, p.format, workflow.NoRetry),
		workflow.Entry(StepInitialize),
		workflow.Edge(StepInitialize, StepAnalyzeContext),
	}
	targets := make([]string, 0, len(schema.Intents))
	for _, intent := range schema.Intents {
		step := GenerateStep(intent)
		targets = append(targets, step)
		defs = append(defs,
			workflow.Node(step, p.generate(intent), p.retry),
			workflow.Edge(step, StepFormat),
		)
	}
	defs = append(defs, workflow.Branch(StepAnalyzeContext, route, targets...))
	table, err := workflow.NewTable(Name, defs...)
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

// Store returns the session store
func (p *Pipeline) Store() SessionStore {
	return p.store
}

// Input builds the run input of a chat message. sessionType 1..4 forces the intent.
func Input(message string, sessionID string, sessionType int) workflow.Input {
	return workflow.Input{Message: message, SessionID: sessionID, SessionType: sessionType}
}

func route(state *workflow.RunState) (string, error) {
	c, ok := workflow.Lookup[Context](state, StepAnalyzeContext)
	if !ok {
		return "", missing(StepAnalyzeContext)
	}
	return GenerateStep(c.Intent), nil
}
