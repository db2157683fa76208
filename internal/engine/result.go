package engine

import (
	"fmt"
	"time"

	"github.com/fancyfn/fancy/internal/cell"
	"github.com/fancyfn/fancy/internal/types"
)

// RunStatus represents the outcome of a workflow run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// String returns the string representation of the run status.
func (s RunStatus) String() string {
	return string(s)
}

// IsValid checks if the run status is a valid value.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// RunError records why a run stopped early: the error code, the step it
// stopped at, and, for broadcast failures, the iteration index.
type RunError struct {
	Code      types.ErrorCode `json:"code"`
	Message   string          `json:"message"`
	StepID    types.ID        `json:"step_id"`
	Iteration *int            `json:"iteration,omitempty"`
	Cause     error           `json:"-"`
}

// Error implements the error interface for RunError.
func (e *RunError) Error() string {
	if e.Iteration != nil {
		return fmt.Sprintf("%s: %s (step %s, iteration %d)", e.Code, e.Message, e.StepID, *e.Iteration)
	}
	return fmt.Sprintf("%s: %s (step %s)", e.Code, e.Message, e.StepID)
}

// Unwrap returns the underlying cause error.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// RunResult is the outcome of one engine run: per-step bookkeeping plus
// every cell the run touched. Output cells of completed steps are
// finalized in place, so handles captured at wiring time observe the
// same objects found in Cells.
type RunResult struct {
	WorkflowID    types.ID                `json:"workflow_id"`
	Status        RunStatus               `json:"status"`
	StepsExecuted int                     `json:"steps_executed"`
	StepsFailed   int                     `json:"steps_failed"`
	Duration      time.Duration           `json:"duration"`
	Cells         map[types.ID]*cell.Cell `json:"-"`

	// Outputs holds the last completed step's output cells by name.
	Outputs map[string]*cell.Cell `json:"-"`

	Error *RunError `json:"error,omitempty"`
}

// Cell returns a cell the run touched, or nil.
func (r *RunResult) Cell(id types.ID) *cell.Cell {
	return r.Cells[id]
}
