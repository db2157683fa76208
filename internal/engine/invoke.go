package engine

import (
	"context"
	"fmt"

	"github.com/fancyfn/fancy/internal/cell"
	"github.com/fancyfn/fancy/internal/function"
	"github.com/fancyfn/fancy/internal/types"
	"github.com/fancyfn/fancy/internal/workflow"
)

// runSingle performs the one-invocation paths: direct calls, aggregates
// over materialized collections, and generator fan-out.
func (e *Engine) runSingle(ctx context.Context, rc *runContext, step *workflow.Step, def function.Definition, callable function.Callable, plan *dispatchPlan, outputs map[string]*cell.Cell) *workflow.StepError {
	result, serr := e.invoke(ctx, step, callable, plan.static, nil)
	if serr != nil {
		return serr
	}

	values, serr := splitOutputs(def, result)
	if serr != nil {
		return serr
	}

	for name, out := range outputs {
		value := values[name]
		if def.Cardinality == function.CardinalityGenerator {
			if serr := e.fanOut(ctx, rc, out, value); serr != nil {
				return serr
			}
			continue
		}
		if serr := e.finalizeValue(ctx, rc, out, value, out.Label); serr != nil {
			return serr
		}
	}
	return nil
}

// runBroadcast invokes the callable once per composite child, lock-step
// across every participant, and finalizes each output as a composite of
// the per-iteration results. Results are buffered until every iteration
// succeeds; a mid-broadcast failure persists nothing.
//
// An empty broadcast performs zero invocations and finalizes each
// output as an empty composite. A generator inside a broadcast stores
// each iteration's item slice as one list value, not a nested fan-out.
func (e *Engine) runBroadcast(ctx context.Context, rc *runContext, step *workflow.Step, def function.Definition, callable function.Callable, plan *dispatchPlan, outputs map[string]*cell.Cell) *workflow.StepError {
	buffers := make(map[string][]any, len(outputs))

	for i := 0; i < plan.arity; i++ {
		if err := ctx.Err(); err != nil {
			serr := stepErrorf(types.RUN_CANCELLED, "run cancelled mid-broadcast")
			serr.Iteration = intPtr(i)
			serr.Cause = err
			return serr
		}

		args := make(map[string]any, len(plan.static)+len(plan.participants))
		for k, v := range plan.static {
			args[k] = v
		}
		for _, p := range plan.participants {
			child, err := rc.cellByID(ctx, p.children[i])
			if err != nil {
				serr := stepError(err, fmt.Sprintf("broadcast input %q", p.name))
				serr.Iteration = intPtr(i)
				return serr
			}
			value, err := rc.store.Resolve(ctx, child, true)
			if err != nil {
				serr := stepError(err, fmt.Sprintf("broadcast input %q", p.name))
				serr.Iteration = intPtr(i)
				return serr
			}
			args[p.name] = value
		}

		result, serr := e.invoke(ctx, step, callable, args, intPtr(i))
		if serr != nil {
			return serr
		}
		values, serr := splitOutputs(def, result)
		if serr != nil {
			serr.Iteration = intPtr(i)
			return serr
		}
		for name := range outputs {
			buffers[name] = append(buffers[name], values[name])
		}
	}

	// Every iteration succeeded; persist now.
	for name, out := range outputs {
		ids := make([]types.ID, 0, plan.arity)
		for i, value := range buffers[name] {
			donor, err := rc.store.Put(ctx, value, fmt.Sprintf("%s[%d]", out.Label, i))
			if err != nil {
				return stepError(err, "failed to store broadcast result")
			}
			ids = append(ids, donor.ID)
		}
		if plan.keys != nil {
			keyed := make(map[string]types.ID, len(ids))
			for i, id := range ids {
				keyed[plan.keys[i]] = id
			}
			if err := out.FinalizeKeyedComposite(keyed); err != nil {
				return stepError(err, "failed to finalize output")
			}
			continue
		}
		if err := out.FinalizeComposite(ids); err != nil {
			return stepError(err, "failed to finalize output")
		}
	}
	return nil
}

// fanOut splits a generator's item list into one cell per item and
// finalizes the output as an ordered composite over them.
func (e *Engine) fanOut(ctx context.Context, rc *runContext, out *cell.Cell, value any) *workflow.StepError {
	items, ok := value.([]any)
	if !ok {
		return stepErrorf(types.SHAPE_MISMATCH,
			"generator output %q must be a list, got %T", out.Label, value)
	}
	ids := make([]types.ID, 0, len(items))
	for i, item := range items {
		donor, err := rc.store.Put(ctx, item, fmt.Sprintf("%s[%d]", out.Label, i))
		if err != nil {
			return stepError(err, "failed to store generated item")
		}
		ids = append(ids, donor.ID)
	}
	if err := out.FinalizeComposite(ids); err != nil {
		return stepError(err, "failed to finalize output")
	}
	return nil
}

// finalizeValue writes value through the store and adopts the returned
// payload into the placeholder, keeping its ID.
func (e *Engine) finalizeValue(ctx context.Context, rc *runContext, out *cell.Cell, value any, label string) *workflow.StepError {
	donor, err := rc.store.Put(ctx, value, label)
	if err != nil {
		return stepError(err, "failed to store result")
	}
	if err := out.AdoptPayload(donor); err != nil {
		return stepError(err, "failed to finalize output")
	}
	return nil
}

// invoke calls the wrapped function, converting panics and plain errors
// into FUNCTION_FAILED step errors.
func (e *Engine) invoke(ctx context.Context, step *workflow.Step, callable function.Callable, args map[string]any, iteration *int) (result any, serr *workflow.StepError) {
	defer func() {
		if r := recover(); r != nil {
			serr = stepErrorf(types.FUNCTION_FAILED,
				"function %q panicked: %v", step.FunctionSlug, r)
			serr.Iteration = iteration
		}
	}()

	result, err := callable(ctx, args)
	if err != nil {
		code := types.CodeOf(err)
		if code == "" {
			code = types.FUNCTION_FAILED
		}
		serr = &workflow.StepError{
			Code:      code,
			Message:   fmt.Sprintf("function %q failed: %v", step.FunctionSlug, err),
			Iteration: iteration,
			Cause:     err,
		}
		return nil, serr
	}
	return result, nil
}

// splitOutputs maps an invocation result onto the declared outputs. A
// single-output function's result is the value itself; a multi-output
// function must return a map keyed by output name.
func splitOutputs(def function.Definition, result any) (map[string]any, *workflow.StepError) {
	if len(def.Outputs) == 1 {
		return map[string]any{def.Outputs[0].Name: result}, nil
	}

	m, ok := result.(map[string]any)
	if !ok {
		return nil, stepErrorf(types.FUNCTION_FAILED,
			"function %q declares %d outputs but returned %T, want map[string]any",
			def.Slug, len(def.Outputs), result)
	}
	values := make(map[string]any, len(def.Outputs))
	for _, out := range def.Outputs {
		v, ok := m[out.Name]
		if !ok {
			return nil, stepErrorf(types.FUNCTION_FAILED,
				"function %q returned no value for output %q", def.Slug, out.Name)
		}
		values[out.Name] = v
	}
	return values, nil
}

func intPtr(i int) *int {
	return &i
}
