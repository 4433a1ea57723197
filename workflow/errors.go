package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadySubscribed a run's event stream has a single subscriber
	ErrAlreadySubscribed = errors.New("workflow: events already subscribed")
	// ErrAlreadyWritten a node wrote its intermediate key twice
	ErrAlreadyWritten = errors.New("workflow: step payload already written")
	// ErrNotTerminal only the terminal node may finalize the run
	ErrNotTerminal = errors.New("workflow: only the terminal node may finalize")
	// ErrFinalized the run result was already written
	ErrFinalized = errors.New("workflow: result already written")
	// ErrInvalidTable the transition table failed validation
	ErrInvalidTable = errors.New("workflow: invalid transition table")
)

// RunError terminal failure of a run with the steps completed before it
type RunError struct {
	RunID string
	Step  string
	Trace []string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed at %s after [%s]: %v", e.RunID, e.Step, strings.Join(e.Trace, " -> "), e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// TableError describes why a transition table is invalid
type TableError struct {
	Table  string
	Reason string
}

func (e *TableError) Error() string {
	return fmt.Sprintf("workflow table %s: %s", e.Table, e.Reason)
}

func (e *TableError) Unwrap() error {
	return ErrInvalidTable
}
