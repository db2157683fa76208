package workflow

import (
	"fmt"

	"github.com/fancyfn/fancy/internal/function"
	"github.com/fancyfn/fancy/internal/types"
)

// Validator checks blueprints that did not come out of a wiring session
// (hand-built or deserialized ones). The wiring layer enforces these
// invariants by construction, so running the validator after a Builder
// is redundant but harmless.
type Validator struct {
	registry *function.Registry
}

// NewValidator creates a validator resolving slugs against registry.
func NewValidator(registry *function.Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate checks every structural invariant of a blueprint and returns
// all violations as one WORKFLOW_INVALID error:
//   - every step references a registered function
//   - step outputs are a subset of the function's output contract
//   - every required parameter is covered by inputs, config, or defaults
//   - no argument name is bound as both input and config
//   - input cells are either pre-supplied (unknown to the blueprint) or
//     outputs of an earlier step, never of the same or a later step
//   - no two steps claim the same output cell ID
func (v *Validator) Validate(w *Workflow) error {
	if w == nil {
		return types.NewError(types.WORKFLOW_INVALID, "workflow is nil")
	}

	var problems []string

	// Position of the step that produces each output cell ID; used for
	// forward-reference detection and duplicate-output detection.
	producedAt := make(map[types.ID]int)
	for i, step := range w.Steps {
		for _, id := range step.Outputs {
			if _, dup := producedAt[id]; !dup {
				producedAt[id] = i
			}
		}
	}
	claimed := make(map[types.ID]string)

	for i, step := range w.Steps {
		label := fmt.Sprintf("step %d (%s)", i, step.FunctionSlug)

		if err := step.ID.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("%s: invalid step id: %v", label, err))
		}
		if !step.Status.IsValid() {
			problems = append(problems, fmt.Sprintf("%s: invalid status %q", label, step.Status))
		}

		def, err := v.registry.Get(step.FunctionSlug)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", label, err))
			// Without a contract the remaining checks are meaningless.
			continue
		}

		// Outputs must be declared in the contract.
		for name, id := range step.Outputs {
			if _, ok := def.Output(name); !ok {
				problems = append(problems, fmt.Sprintf(
					"%s: output %q is not declared by function %q", label, name, step.FunctionSlug))
			}
			if prev, dup := claimed[id]; dup {
				problems = append(problems, fmt.Sprintf(
					"%s: output cell %s is already produced by %s", label, id, prev))
			}
			claimed[id] = label
		}

		// Every input/config key must be a declared parameter, and no
		// key may be bound both ways.
		for name := range step.Inputs {
			if _, ok := def.Input(name); !ok {
				problems = append(problems, fmt.Sprintf(
					"%s: input %q is not a parameter of %q", label, name, step.FunctionSlug))
			}
			if _, both := step.Config[name]; both {
				problems = append(problems, fmt.Sprintf(
					"%s: parameter %q is bound as both input and config", label, name))
			}
		}
		for name := range step.Config {
			if _, ok := def.Input(name); !ok {
				problems = append(problems, fmt.Sprintf(
					"%s: config %q is not a parameter of %q", label, name, step.FunctionSlug))
			}
		}

		// Required parameters must be covered.
		for _, param := range def.Inputs {
			if !param.Required {
				continue
			}
			_, wired := step.Inputs[param.Name]
			_, configured := step.Config[param.Name]
			if !wired && !configured {
				problems = append(problems, fmt.Sprintf(
					"%s: required parameter %q is unbound", label, param.Name))
			}
		}

		// Inputs referencing another step's output must point strictly
		// backwards. IDs unknown to the blueprint are treated as
		// pre-supplied initial cells.
		for name, id := range step.Inputs {
			if pos, ok := producedAt[id]; ok && pos >= i {
				problems = append(problems, fmt.Sprintf(
					"%s: input %q references output of step %d (forward reference)", label, name, pos))
			}
		}
	}

	if len(problems) > 0 {
		return types.NewErrorf(types.WORKFLOW_INVALID,
			"workflow %q failed validation with %d problem(s): %v", w.Name, len(problems), problems)
	}
	return nil
}
