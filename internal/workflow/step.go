// Package workflow defines the serializable blueprint of a pipeline: an
// ordered sequence of steps, the wiring session that builds it from
// function calls, and validation for blueprints arriving from outside
// the wiring layer.
//
// The user-facing contract is strictly linear: a step at position k may
// only reference outputs of steps at positions before k, or pre-supplied
// initial cells. The engine executes strictly in list order.
package workflow

import (
	"fmt"

	"github.com/fancyfn/fancy/internal/types"
)

// StepStatus represents the execution status of a workflow step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// String returns the string representation of the step status.
func (s StepStatus) String() string {
	return string(s)
}

// IsValid checks if the step status is a valid value.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepStatusPending, StepStatusRunning, StepStatusCompleted, StepStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the status represents a terminal state.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}

// StepError records why a step failed: the error code, a message, and,
// when the failure happened mid-broadcast, the iteration index.
type StepError struct {
	Code      types.ErrorCode `json:"code"`
	Message   string          `json:"message"`
	Iteration *int            `json:"iteration,omitempty"`
	Cause     error           `json:"-"`
}

// Error implements the error interface for StepError.
func (e *StepError) Error() string {
	if e.Iteration != nil {
		return fmt.Sprintf("%s: %s (iteration %d)", e.Code, e.Message, *e.Iteration)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *StepError) Unwrap() error {
	return e.Cause
}

// Step is a configured, wired invocation of a registered function.
// Inputs map parameter names to cell IDs; Config maps parameter names to
// static JSON-representable literals; Outputs map declared output names
// to the cell IDs allocated as PENDING placeholders at wiring time.
type Step struct {
	ID           types.ID            `json:"step_id"`
	FunctionSlug string              `json:"function_slug"`
	Inputs       map[string]types.ID `json:"inputs"`
	Config       map[string]any      `json:"config"`
	Outputs      map[string]types.ID `json:"outputs"`
	Status       StepStatus          `json:"status"`
	Error        *StepError          `json:"error,omitempty"`
}

// NewStep creates a pending step for slug with empty wiring maps.
func NewStep(slug string) *Step {
	return &Step{
		ID:           types.NewID(),
		FunctionSlug: slug,
		Inputs:       make(map[string]types.ID),
		Config:       make(map[string]any),
		Outputs:      make(map[string]types.ID),
		Status:       StepStatusPending,
	}
}

// OutputID returns the cell ID wired to the named output, or false.
func (s *Step) OutputID(name string) (types.ID, bool) {
	id, ok := s.Outputs[name]
	return id, ok
}
