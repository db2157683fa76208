// Package engine executes workflow blueprints.
//
// Execution is strictly sequential: steps run one at a time in list
// order, with no parallelism and no reordering. For each step the engine
// resolves input cells through the store, dispatches on the shape of the
// bound cells against the function's contract (direct call, scalar to
// collection coercion, aggregate, lock-step broadcast, or generator
// fan-out), invokes the callable, and finalizes the step's PENDING
// output cells in place so handles captured at wiring time observe the
// results.
//
// A step failure fails the run: the failing step records its error,
// its output cells stay PENDING with a failure marker, later steps are
// never looked at.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fancyfn/fancy/internal/cell"
	"github.com/fancyfn/fancy/internal/function"
	"github.com/fancyfn/fancy/internal/store"
	"github.com/fancyfn/fancy/internal/types"
	"github.com/fancyfn/fancy/internal/workflow"
)

// Engine runs workflows against a store and a function registry.
type Engine struct {
	registry *function.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	strict   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer used to span runs and steps.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithStrictShapes disables implicit scalar-to-collection coercion:
// binding a scalar value to a collection parameter becomes a
// SHAPE_MISMATCH instead of a single-item list.
func WithStrictShapes() Option {
	return func(e *Engine) {
		e.strict = true
	}
}

// New creates an engine resolving function slugs against registry.
func New(registry *function.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer("fancy/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// runContext is the per-run working set: the store plus an identity map
// of the cell objects this run mutates. Caller-supplied cells (seeds and
// wiring placeholders) take precedence over index copies so finalization
// hits the objects the caller still holds.
type runContext struct {
	store store.Store
	cells map[types.ID]*cell.Cell
}

// cellByID returns the run's object for id, falling back to the store
// index and caching the fetched copy.
func (rc *runContext) cellByID(ctx context.Context, id types.ID) (*cell.Cell, error) {
	if c, ok := rc.cells[id]; ok {
		return c, nil
	}
	c, err := rc.store.Cell(ctx, id)
	if err != nil {
		return nil, err
	}
	rc.cells[id] = c
	return c, nil
}

// Run executes the workflow against st. The initial cells are the seeds
// and wiring placeholders the run starts from; they are registered in
// the store before the first step.
//
// Run always returns a non-nil result. On failure or cancellation the
// returned error matches result.Error.
func (e *Engine) Run(ctx context.Context, wf *workflow.Workflow, st store.Store, initial []*cell.Cell) (*RunResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String("workflow.id", wf.ID.String()),
		attribute.String("workflow.name", wf.Name),
		attribute.Int("workflow.steps", wf.Len()),
	))
	defer span.End()

	start := time.Now()
	rc := &runContext{
		store: st,
		cells: make(map[types.ID]*cell.Cell, len(initial)+wf.Len()),
	}
	result := &RunResult{
		WorkflowID: wf.ID,
		Status:     RunStatusCompleted,
		Cells:      rc.cells,
	}

	for _, c := range initial {
		rc.cells[c.ID] = c
		if err := st.Register(ctx, c); err != nil {
			return e.fail(span, result, start, wf.ID, err)
		}
	}

	e.logger.Info("starting workflow run",
		"workflow_id", wf.ID,
		"workflow_name", wf.Name,
		"steps", wf.Len(),
	)

	for i, step := range wf.Steps {
		if err := ctx.Err(); err != nil {
			result.Status = RunStatusCancelled
			result.Duration = time.Since(start)
			result.Error = &RunError{
				Code:    types.RUN_CANCELLED,
				Message: "run cancelled before step " + step.FunctionSlug,
				StepID:  step.ID,
				Cause:   err,
			}
			span.SetStatus(codes.Error, "cancelled")
			e.logger.Warn("workflow run cancelled",
				"workflow_id", wf.ID,
				"step_index", i,
			)
			return result, result.Error
		}

		step.Status = workflow.StepStatusRunning
		e.logger.Debug("executing step",
			"workflow_id", wf.ID,
			"step_id", step.ID,
			"function", step.FunctionSlug,
			"position", i,
		)

		outputs, stepErr := e.executeStep(ctx, rc, step)
		if stepErr != nil {
			step.Status = workflow.StepStatusFailed
			step.Error = stepErr
			e.markOutputsFailed(ctx, rc, step, stepErr)

			result.Status = RunStatusFailed
			result.StepsFailed = 1
			result.Duration = time.Since(start)
			result.Error = &RunError{
				Code:      stepErr.Code,
				Message:   stepErr.Message,
				StepID:    step.ID,
				Iteration: stepErr.Iteration,
				Cause:     stepErr,
			}
			span.SetStatus(codes.Error, stepErr.Message)
			e.logger.Error("step failed, halting run",
				"workflow_id", wf.ID,
				"step_id", step.ID,
				"function", step.FunctionSlug,
				"code", stepErr.Code,
				"error", stepErr.Message,
			)
			return result, result.Error
		}

		step.Status = workflow.StepStatusCompleted
		result.StepsExecuted++
		result.Outputs = outputs
	}

	result.Duration = time.Since(start)
	e.logger.Info("workflow run completed",
		"workflow_id", wf.ID,
		"steps_executed", result.StepsExecuted,
		"duration", result.Duration,
	)
	return result, nil
}

// executeStep resolves, dispatches, invokes, and finalizes one step,
// returning the finalized output cells by name.
func (e *Engine) executeStep(ctx context.Context, rc *runContext, step *workflow.Step) (map[string]*cell.Cell, *workflow.StepError) {
	ctx, span := e.tracer.Start(ctx, "engine.step", trace.WithAttributes(
		attribute.String("step.id", step.ID.String()),
		attribute.String("step.function", step.FunctionSlug),
	))
	defer span.End()

	def, err := e.registry.Get(step.FunctionSlug)
	if err != nil {
		return nil, stepError(err, "")
	}
	callable, err := e.registry.Callable(step.FunctionSlug)
	if err != nil {
		return nil, stepError(err, "")
	}

	bindings, serr := e.resolveBindings(ctx, rc, step, def)
	if serr != nil {
		return nil, serr
	}

	outputs, serr := e.outputCells(ctx, rc, step, def)
	if serr != nil {
		return nil, serr
	}

	plan, serr := e.classify(ctx, rc, def, bindings)
	if serr != nil {
		return nil, serr
	}
	span.SetAttributes(attribute.String("step.mode", string(plan.mode)))

	switch plan.mode {
	case modeBroadcast:
		serr = e.runBroadcast(ctx, rc, step, def, callable, plan, outputs)
	default:
		serr = e.runSingle(ctx, rc, step, def, callable, plan, outputs)
	}
	if serr != nil {
		return nil, serr
	}

	for _, c := range outputs {
		if err := rc.store.Register(ctx, c); err != nil {
			return nil, stepError(err, "failed to persist output cell")
		}
	}
	return outputs, nil
}

// outputCells returns the step's output placeholder objects, creating
// PENDING cells for outputs the caller did not supply (deserialized
// blueprints run without their wiring session).
func (e *Engine) outputCells(ctx context.Context, rc *runContext, step *workflow.Step, def function.Definition) (map[string]*cell.Cell, *workflow.StepError) {
	outputs := make(map[string]*cell.Cell, len(def.Outputs))
	for _, out := range def.Outputs {
		id, ok := step.OutputID(out.Name)
		if !ok {
			return nil, stepErrorf(types.WORKFLOW_INVALID,
				"step has no cell wired for output %q", out.Name)
		}
		c, err := rc.cellByID(ctx, id)
		if err != nil {
			if types.CodeOf(err) != types.CELL_NOT_FOUND {
				return nil, stepError(err, "failed to fetch output cell")
			}
			origin := cell.Provenance{StepID: step.ID, Output: out.Name}
			c = &cell.Cell{
				ID:       id,
				Label:    step.FunctionSlug + "::" + out.Name,
				TypeHint: out.Type,
				Kind:     cell.KindPending,
				Origin:   &origin,
			}
			rc.cells[id] = c
		}
		if !c.IsPending() {
			return nil, stepErrorf(types.CELL_NOT_READY,
				"output cell %s is already finalized", c.ID)
		}
		outputs[out.Name] = c
	}
	return outputs, nil
}

// markOutputsFailed attaches the step error to every still-pending
// output cell so downstream resolution explains the gap.
func (e *Engine) markOutputsFailed(ctx context.Context, rc *runContext, step *workflow.Step, serr *workflow.StepError) {
	ferr := types.NewErrorf(serr.Code, "producing step failed: %s", serr.Message)
	for _, id := range step.Outputs {
		if c, ok := rc.cells[id]; ok && c.IsPending() {
			c.MarkFailed(ferr)
		}
	}
}

// fail finalizes the result for a pre-step infrastructure failure.
func (e *Engine) fail(span trace.Span, result *RunResult, start time.Time, wfID types.ID, err error) (*RunResult, error) {
	result.Status = RunStatusFailed
	result.Duration = time.Since(start)
	result.Error = &RunError{
		Code:    types.CodeOf(err),
		Message: err.Error(),
		Cause:   err,
	}
	span.SetStatus(codes.Error, err.Error())
	e.logger.Error("workflow run failed before execution",
		"workflow_id", wfID,
		"error", err,
	)
	return result, result.Error
}

// stepError converts an engine-internal error into a StepError,
// preserving its code when it is a FancyError.
func stepError(err error, context string) *workflow.StepError {
	msg := err.Error()
	if context != "" {
		msg = context + ": " + msg
	}
	var ferr *types.FancyError
	code := types.FUNCTION_FAILED
	if errors.As(err, &ferr) {
		code = ferr.Code
	}
	return &workflow.StepError{Code: code, Message: msg, Cause: err}
}

func stepErrorf(code types.ErrorCode, format string, args ...any) *workflow.StepError {
	err := types.NewErrorf(code, format, args...)
	return &workflow.StepError{Code: code, Message: err.Message, Cause: err}
}
