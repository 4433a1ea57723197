// Package workflow runs typed pipelines of nodes over a per-run state,
// following a validated transition table and streaming step events.
package workflow

import (
	"slices"
	"time"

	"github.com/bububa/nutrition-agents/schema"
)

// Status lifecycle of a run
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Finished reports whether s is terminal
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Input caller supplied input of a run
type Input struct {
	// ImageRef meal photo reference: file path, http(s), s3:// or data: URI
	ImageRef string `json:"image_ref,omitempty"`
	// Portion optional user stated portion, e.g. "about 200 g"
	Portion string `json:"portion,omitempty"`
	// Message chat message
	Message     string `json:"message,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	SessionType int    `json:"session_type,omitempty"`
}

// RunState is the record of one execution. Nodes never touch it directly; they go through a Scope.
type RunState struct {
	RunID       string             `json:"run_id"`
	Pipeline    string             `json:"pipeline"`
	Input       Input              `json:"input"`
	UserContext schema.UserContext `json:"user_context"`
	// StepTrace completed steps in order
	StepTrace []string `json:"step_trace"`
	// Intermediate step name to payload, each key written once
	Intermediate map[string]any `json:"intermediate"`
	Result       any            `json:"result,omitempty"`
	Error        error          `json:"-"`
	Status       Status         `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at,omitzero"`
}

func newRunState(id string, pipeline string, input Input, uc schema.UserContext, now time.Time) *RunState {
	return &RunState{
		RunID:        id,
		Pipeline:     pipeline,
		Input:        input,
		UserContext:  uc.Clone(),
		StepTrace:    []string{},
		Intermediate: make(map[string]any),
		Status:       StatusPending,
		StartedAt:    now,
	}
}

// Value returns the payload a step wrote
func (s *RunState) Value(step string) (any, bool) {
	v, ok := s.Intermediate[step]
	return v, ok
}

// Trace returns a copy of the completed steps
func (s *RunState) Trace() []string {
	return slices.Clone(s.StepTrace)
}

// Lookup returns the payload of step as T
func Lookup[T any](s *RunState, step string) (T, bool) {
	var zero T
	v, ok := s.Intermediate[step]
	if !ok {
		return zero, false
	}
	ret, ok := v.(T)
	return ret, ok
}
