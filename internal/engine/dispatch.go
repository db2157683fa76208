package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/fancyfn/fancy/internal/cell"
	"github.com/fancyfn/fancy/internal/function"
	"github.com/fancyfn/fancy/internal/types"
	"github.com/fancyfn/fancy/internal/workflow"
)

// dispatchMode names how a step's invocation maps onto its inputs.
type dispatchMode string

const (
	// modeSingle invokes the callable exactly once.
	modeSingle dispatchMode = "single"

	// modeBroadcast invokes the callable once per composite child,
	// lock-step across every composite bound to a scalar parameter.
	modeBroadcast dispatchMode = "broadcast"
)

// binding pairs a declared parameter with what the step bound to it:
// either a cell or a static literal.
type binding struct {
	param  function.Param
	c      *cell.Cell
	static any
	isCell bool
}

// dispatchPlan is the resolved invocation strategy for one step: the
// arguments shared by every invocation, plus, for broadcasts, the
// lock-step participants and their alignment.
type dispatchPlan struct {
	mode         dispatchMode
	static       map[string]any
	participants []participant

	// arity is the invocation count of a broadcast; keys is non-nil
	// when the participants are keyed composites, in sorted order.
	arity int
	keys  []string
}

// participant is one composite cell broadcast over a scalar parameter.
type participant struct {
	name     string
	children []types.ID
}

// resolveBindings pairs every declared parameter with its bound cell or
// config literal. Parameters bound to a cell that is still PENDING fail
// with UNRESOLVED_DEPENDENCY; a failure marker on the cell names the
// upstream step error.
func (e *Engine) resolveBindings(ctx context.Context, rc *runContext, step *workflow.Step, def function.Definition) ([]binding, *workflow.StepError) {
	bindings := make([]binding, 0, len(def.Inputs))
	for _, param := range def.Inputs {
		if v, ok := step.Config[param.Name]; ok {
			bindings = append(bindings, binding{param: param, static: v})
			continue
		}
		id, ok := step.Inputs[param.Name]
		if !ok {
			if param.Required {
				return nil, stepErrorf(types.ARGUMENT_BINDING_FAILED,
					"required parameter %q is unbound", param.Name)
			}
			continue
		}

		c, err := rc.cellByID(ctx, id)
		if err != nil {
			return nil, stepError(err, fmt.Sprintf("input %q", param.Name))
		}
		if c.IsPending() {
			if c.FailedWith != nil {
				return nil, stepErrorf(types.UNRESOLVED_DEPENDENCY,
					"input %q depends on cell %s whose producer failed: %s",
					param.Name, c.ID, c.FailedWith.Message)
			}
			return nil, stepErrorf(types.UNRESOLVED_DEPENDENCY,
				"input %q depends on unresolved cell %s", param.Name, c.ID)
		}
		bindings = append(bindings, binding{param: param, c: c, isCell: true})
	}
	return bindings, nil
}

// classify turns the bindings into a dispatch plan. A composite cell
// bound to a scalar parameter makes the step a broadcast; every such
// composite iterates lock-step and must agree on arity and, for keyed
// composites, on the exact key set.
func (e *Engine) classify(ctx context.Context, rc *runContext, def function.Definition, bindings []binding) (*dispatchPlan, *workflow.StepError) {
	plan := &dispatchPlan{
		mode:   modeSingle,
		static: make(map[string]any, len(bindings)),
	}

	for _, b := range bindings {
		if !b.isCell {
			plan.static[b.param.Name] = b.static
			continue
		}

		if b.param.Shape == function.ShapeScalar && b.c.IsComposite() {
			plan.participants = append(plan.participants, participant{
				name:     b.param.Name,
				children: compositeChildIDs(b.c),
			})
			if serr := plan.align(b.c); serr != nil {
				return nil, serr
			}
			continue
		}

		value, serr := e.resolveArg(ctx, rc, b)
		if serr != nil {
			return nil, serr
		}
		plan.static[b.param.Name] = value
	}

	if len(plan.participants) > 0 {
		plan.mode = modeBroadcast
	}
	return plan, nil
}

// align folds one broadcast composite into the plan's arity and key
// alignment.
func (p *dispatchPlan) align(c *cell.Cell) *workflow.StepError {
	if len(p.participants) == 1 {
		p.arity = c.Len()
		if c.IsKeyed() {
			p.keys = sortedKeys(c.KeyedChildren)
		}
		return nil
	}

	if c.Len() != p.arity {
		return stepErrorf(types.BROADCAST_ARITY_MISMATCH,
			"broadcast composites disagree on length: %d vs %d", p.arity, c.Len())
	}
	if c.IsKeyed() != (p.keys != nil) {
		return stepErrorf(types.SHAPE_MISMATCH,
			"cannot broadcast keyed and ordered composites together")
	}
	if c.IsKeyed() {
		for _, k := range p.keys {
			if _, ok := c.KeyedChildren[k]; !ok {
				return stepErrorf(types.BROADCAST_ARITY_MISMATCH,
					"broadcast composites disagree on keys: missing %q", k)
			}
		}
	}
	return nil
}

// resolveArg materializes one non-broadcast cell argument, coercing
// between shapes where the contract and strictness allow.
func (e *Engine) resolveArg(ctx context.Context, rc *runContext, b binding) (any, *workflow.StepError) {
	value, err := rc.store.Resolve(ctx, b.c, true)
	if err != nil {
		return nil, stepError(err, fmt.Sprintf("input %q", b.param.Name))
	}

	if b.param.Shape != function.ShapeCollection {
		return value, nil
	}

	switch value.(type) {
	case []any, map[string]any:
		return value, nil
	}
	if e.strict {
		return nil, stepErrorf(types.SHAPE_MISMATCH,
			"parameter %q expects a collection, got a scalar", b.param.Name)
	}
	// Implicit scalar-to-collection coercion.
	return []any{value}, nil
}

// sortedKeys returns the map's keys in sorted order.
func sortedKeys(m map[string]types.ID) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// compositeChildIDs returns a composite's child IDs in resolution
// order: list order for ordered composites, sorted key order for keyed.
func compositeChildIDs(c *cell.Cell) []types.ID {
	if !c.IsKeyed() {
		return c.Children
	}
	keys := sortedKeys(c.KeyedChildren)
	ids := make([]types.ID, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, c.KeyedChildren[k])
	}
	return ids
}
