package workflow

import (
	"github.com/fancyfn/fancy/internal/cell"
	"github.com/fancyfn/fancy/internal/function"
	"github.com/fancyfn/fancy/internal/types"
)

// Args carries the arguments of one wiring call. Values may be:
//   - *cell.Cell: wired as a data input
//   - *Handle: wired to the handle's single output cell (chaining)
//   - anything else: recorded as static config, passed as a literal
type Args map[string]any

// Handle is the wiring result of one Call: it exposes the PENDING
// output cell(s) of the appended step so they can be passed to later
// calls or resolved after a run.
type Handle struct {
	step    *Step
	outputs map[string]*cell.Cell
	order   []string
}

// Step returns the step this handle was wired from.
func (h *Handle) Step() *Step {
	return h.step
}

// Out returns the single output cell of a one-output step. For steps
// with multiple declared outputs it returns nil; use Output instead.
func (h *Handle) Out() *cell.Cell {
	if len(h.order) != 1 {
		return nil
	}
	return h.outputs[h.order[0]]
}

// Output returns the output cell with the declared name, or nil.
func (h *Handle) Output(name string) *cell.Cell {
	return h.outputs[name]
}

// Outputs returns the output cells in declared order.
func (h *Handle) Outputs() []*cell.Cell {
	out := make([]*cell.Cell, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, h.outputs[name])
	}
	return out
}

// Builder is the wiring session: an explicit build context that function
// calls register steps into. Calling a function through the builder
// never executes it; execution is deferred entirely to the engine.
type Builder struct {
	registry     *function.Registry
	workflow     *Workflow
	placeholders []*cell.Cell
}

// NewBuilder starts a wiring session for a new workflow.
func NewBuilder(name string, registry *function.Registry) *Builder {
	return &Builder{
		registry: registry,
		workflow: New(name),
	}
}

// Call wires an invocation of the registered function slug into the
// workflow: it binds args against the function's contract, partitions
// them into cell inputs and static config, allocates one PENDING output
// cell per declared output, and appends the step. The wrapped function
// is NOT executed.
//
// Binding failures (unknown argument names, missing required
// parameters, ambiguous handle wiring) are returned immediately and
// leave the workflow unmodified.
func (b *Builder) Call(slug string, args Args) (*Handle, error) {
	def, err := b.registry.Get(slug)
	if err != nil {
		return nil, err
	}

	step := NewStep(slug)

	// Bind provided arguments against the contract.
	for name, value := range args {
		if _, ok := def.Input(name); !ok {
			return nil, types.NewErrorf(types.ARGUMENT_BINDING_FAILED,
				"function %q has no parameter %q", slug, name)
		}

		switch v := value.(type) {
		case *cell.Cell:
			if v == nil {
				return nil, types.NewErrorf(types.ARGUMENT_BINDING_FAILED,
					"parameter %q of %q is a nil cell", name, slug)
			}
			step.Inputs[name] = v.ID

		case *Handle:
			out := v.Out()
			if out == nil {
				return nil, types.NewErrorf(types.ARGUMENT_BINDING_FAILED,
					"parameter %q of %q received a multi-output handle for %q; pass handle.Output(name) instead",
					name, slug, v.step.FunctionSlug)
			}
			step.Inputs[name] = out.ID

		default:
			step.Config[name] = value
		}
	}

	// Apply declared defaults for omitted parameters and check that
	// every required parameter is bound.
	for _, param := range def.Inputs {
		_, wired := step.Inputs[param.Name]
		_, configured := step.Config[param.Name]
		if wired || configured {
			continue
		}
		if param.Required {
			return nil, types.NewErrorf(types.ARGUMENT_BINDING_FAILED,
				"function %q requires parameter %q", slug, param.Name)
		}
		if param.Default != nil {
			step.Config[param.Name] = param.Default
		}
	}

	// Allocate PENDING placeholder cells carrying provenance, one per
	// declared output.
	handle := &Handle{
		step:    step,
		outputs: make(map[string]*cell.Cell, len(def.Outputs)),
	}
	for _, out := range def.Outputs {
		placeholder := cell.NewPending(
			slug+"::"+out.Name,
			out.Type,
			cell.Provenance{StepID: step.ID, Output: out.Name},
		)
		step.Outputs[out.Name] = placeholder.ID
		handle.outputs[out.Name] = placeholder
		handle.order = append(handle.order, out.Name)
	}

	b.workflow.Append(step)
	b.placeholders = append(b.placeholders, handle.Outputs()...)

	return handle, nil
}

// Placeholders returns every PENDING output cell allocated by this
// session, in wiring order. Pass them to the engine alongside the seed
// cells so finalization mutates the same objects the handles expose.
func (b *Builder) Placeholders() []*cell.Cell {
	return append([]*cell.Cell(nil), b.placeholders...)
}

// Build returns the constructed workflow blueprint.
func (b *Builder) Build() *Workflow {
	return b.workflow
}
