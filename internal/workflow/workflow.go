package workflow

import (
	"encoding/json"

	"github.com/fancyfn/fancy/internal/types"
)

// Workflow is an ordered, append-only container of steps: the
// serializable blueprint handed to the engine.
type Workflow struct {
	ID    types.ID `json:"id"`
	Name  string   `json:"name"`
	Steps []*Step  `json:"steps"`
}

// New creates an empty workflow with a fresh ID.
func New(name string) *Workflow {
	return &Workflow{
		ID:    types.NewID(),
		Name:  name,
		Steps: []*Step{},
	}
}

// Append adds a step to the end of the workflow.
func (w *Workflow) Append(s *Step) {
	w.Steps = append(w.Steps, s)
}

// Step returns the step with the given ID, or nil if not found.
func (w *Workflow) Step(id types.ID) *Step {
	for _, s := range w.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// StepAt returns the step at position i, or nil if out of range.
func (w *Workflow) StepAt(i int) *Step {
	if i < 0 || i >= len(w.Steps) {
		return nil
	}
	return w.Steps[i]
}

// Len returns the number of steps.
func (w *Workflow) Len() int {
	return len(w.Steps)
}

// Producer returns the step whose outputs include the given cell ID,
// or nil if no step produces it.
func (w *Workflow) Producer(cellID types.ID) *Step {
	for _, s := range w.Steps {
		for _, id := range s.Outputs {
			if id == cellID {
				return s
			}
		}
	}
	return nil
}

// ToJSON serializes the workflow blueprint to indented JSON.
func (w *Workflow) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, types.WrapError(types.WORKFLOW_INVALID, "failed to serialize workflow", err)
	}
	return data, nil
}

// FromJSON reconstructs a workflow from its JSON representation. The
// result is structurally equal to the workflow that produced the JSON;
// run Validator.Validate before executing blueprints from untrusted
// sources.
func FromJSON(data []byte) (*Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, types.WrapError(types.WORKFLOW_INVALID, "failed to parse workflow JSON", err)
	}
	if w.Steps == nil {
		w.Steps = []*Step{}
	}
	for _, s := range w.Steps {
		if s.Inputs == nil {
			s.Inputs = make(map[string]types.ID)
		}
		if s.Config == nil {
			s.Config = make(map[string]any)
		}
		if s.Outputs == nil {
			s.Outputs = make(map[string]types.ID)
		}
		if s.Status == "" {
			s.Status = StepStatusPending
		}
	}
	return &w, nil
}
