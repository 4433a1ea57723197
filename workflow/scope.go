package workflow

import (
	"log/slog"
	"time"

	"github.com/bububa/nutrition-agents/schema"
)

// Scope is a node's view of the run. Writes are staged and committed only when the node succeeds,
// so a retried attempt starts clean.
type Scope struct {
	state    *RunState
	step     string
	attempt  int
	terminal bool
	logger   *slog.Logger

	written   bool
	payload   any
	finalized bool
	result    any
}

func newScope(state *RunState, step string, attempt int, terminal bool, logger *slog.Logger) *Scope {
	return &Scope{
		state:    state,
		step:     step,
		attempt:  attempt,
		terminal: terminal,
		logger:   logger.With(slog.String("step", step)),
	}
}

// RunID of the current run
func (s *Scope) RunID() string {
	return s.state.RunID
}

// Step name of the running node
func (s *Scope) Step() string {
	return s.step
}

// Attempt number of this invocation, starting at 1
func (s *Scope) Attempt() int {
	return s.attempt
}

// Input caller input
func (s *Scope) Input() Input {
	return s.state.Input
}

// StartedAt is the run start time, the clock every node of a run shares
func (s *Scope) StartedAt() time.Time {
	return s.state.StartedAt
}

// UserContext returns a copy of the user snapshot
func (s *Scope) UserContext() schema.UserContext {
	return s.state.UserContext.Clone()
}

// Trace steps completed before this one
func (s *Scope) Trace() []string {
	return s.state.Trace()
}

// Get returns the payload written by step
func (s *Scope) Get(step string) (any, bool) {
	return s.state.Value(step)
}

// Logger carries run_id and step
func (s *Scope) Logger() *slog.Logger {
	return s.logger
}

// Set writes this node's payload, once
func (s *Scope) Set(payload any) error {
	if s.written {
		return ErrAlreadyWritten
	}
	if _, ok := s.state.Intermediate[s.step]; ok {
		return ErrAlreadyWritten
	}
	s.written = true
	s.payload = payload
	return nil
}

// Finalize writes the run result. Only the terminal node may call it, once.
func (s *Scope) Finalize(result any) error {
	if !s.terminal {
		return ErrNotTerminal
	}
	if s.finalized || s.state.Result != nil {
		return ErrFinalized
	}
	s.finalized = true
	s.result = result
	return nil
}

// Get returns the payload of step as T
func Get[T any](s *Scope, step string) (T, bool) {
	return Lookup[T](s.state, step)
}

func (s *Scope) commit() {
	if s.written {
		s.state.Intermediate[s.step] = s.payload
	}
	if s.finalized {
		s.state.Result = s.result
	}
	s.state.StepTrace = append(s.state.StepTrace, s.step)
}
