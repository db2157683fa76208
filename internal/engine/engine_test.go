package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fancyfn/fancy/internal/cell"
	"github.com/fancyfn/fancy/internal/function"
	"github.com/fancyfn/fancy/internal/store"
	"github.com/fancyfn/fancy/internal/types"
	"github.com/fancyfn/fancy/internal/workflow"
)

func testRegistry(t *testing.T) *function.Registry {
	t.Helper()
	r := function.NewRegistry()
	require.NoError(t, function.RegisterBuiltins(r))
	return r
}

// session bundles the pieces of one wiring-plus-run round.
type session struct {
	registry *function.Registry
	store    *store.MemoryStore
	builder  *workflow.Builder
	engine   *Engine
	initial  []*cell.Cell
}

func newSession(t *testing.T, opts ...Option) *session {
	t.Helper()
	r := testRegistry(t)
	return &session{
		registry: r,
		store:    store.NewMemoryStore(),
		builder:  workflow.NewBuilder("test", r),
		engine:   New(r, opts...),
	}
}

func (s *session) seed(value any, label string) *cell.Cell {
	c := cell.NewValue(value, label, "")
	s.initial = append(s.initial, c)
	return c
}

func (s *session) seedList(label string, values ...any) *cell.Cell {
	ids := make([]types.ID, 0, len(values))
	for _, v := range values {
		child := cell.NewValue(v, "", "")
		s.initial = append(s.initial, child)
		ids = append(ids, child.ID)
	}
	comp := cell.NewComposite(ids, label)
	s.initial = append(s.initial, comp)
	return comp
}

func (s *session) run(t *testing.T) *RunResult {
	t.Helper()
	result, err := s.engine.Run(context.Background(),
		s.builder.Build(), s.store, append(s.initial, s.builder.Placeholders()...))
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, result.Status)
	return result
}

func (s *session) runExpectingFailure(t *testing.T) *RunResult {
	t.Helper()
	result, err := s.engine.Run(context.Background(),
		s.builder.Build(), s.store, append(s.initial, s.builder.Placeholders()...))
	require.Error(t, err)
	require.Equal(t, RunStatusFailed, result.Status)
	return result
}

func (s *session) valueOf(t *testing.T, c *cell.Cell) any {
	t.Helper()
	v, err := s.store.Resolve(context.Background(), c, true)
	require.NoError(t, err)
	return v
}

func TestRunTwoStepChain(t *testing.T) {
	s := newSession(t)

	seed := s.seed(10, "start")
	h1, err := s.builder.Call("add_five", workflow.Args{"x": seed})
	require.NoError(t, err)
	h2, err := s.builder.Call("multiply", workflow.Args{"x": h1, "factor": 2})
	require.NoError(t, err)

	result := s.run(t)
	assert.Equal(t, 2, result.StepsExecuted)

	assert.Equal(t, 15.0, s.valueOf(t, h1.Out()))
	assert.Equal(t, 30.0, s.valueOf(t, h2.Out()))
}

func TestRunFinalizesHandleObjectsInPlace(t *testing.T) {
	s := newSession(t)

	seed := s.seed(10, "start")
	h, err := s.builder.Call("add_five", workflow.Args{"x": seed})
	require.NoError(t, err)

	out := h.Out()
	idBefore := out.ID
	require.True(t, out.IsPending())

	result := s.run(t)

	assert.False(t, out.IsPending())
	assert.Equal(t, idBefore, out.ID)
	assert.Equal(t, 15.0, out.Value)
	assert.Same(t, out, result.Cell(idBefore))
}

func TestRunBroadcastsOverComposite(t *testing.T) {
	s := newSession(t)

	nums := s.seedList("nums", 1, 2, 3)
	h, err := s.builder.Call("double", workflow.Args{"x": nums})
	require.NoError(t, err)

	s.run(t)

	out := h.Out()
	require.True(t, out.IsComposite())
	require.Equal(t, 3, out.Len())
	assert.Equal(t, []any{2.0, 4.0, 6.0}, s.valueOf(t, out))
}

func TestRunBroadcastPreservesOrder(t *testing.T) {
	s := newSession(t)

	nums := s.seedList("nums", 5, 1, 3)
	h, err := s.builder.Call("add_five", workflow.Args{"x": nums})
	require.NoError(t, err)

	s.run(t)
	assert.Equal(t, []any{10.0, 6.0, 8.0}, s.valueOf(t, h.Out()))
}

func TestRunBroadcastLockStep(t *testing.T) {
	s := newSession(t)

	r := s.registry
	def, err := function.NewDefinition("pair_sum").
		WithInput("a", "number", function.ShapeScalar).
		WithInput("b", "number", function.ShapeScalar).
		Build()
	require.NoError(t, err)
	require.NoError(t, r.Register(def, func(ctx context.Context, args map[string]any) (any, error) {
		return args["a"].(int) + args["b"].(int), nil
	}))

	left := s.seedList("left", 1, 2, 3)
	right := s.seedList("right", 10, 20, 30)
	h, err := s.builder.Call("pair_sum", workflow.Args{"a": left, "b": right})
	require.NoError(t, err)

	s.run(t)
	assert.Equal(t, []any{11, 22, 33}, s.valueOf(t, h.Out()))
}

func TestRunBroadcastArityMismatch(t *testing.T) {
	s := newSession(t)

	def, err := function.NewDefinition("pair").
		WithInput("a", "number", function.ShapeScalar).
		WithInput("b", "number", function.ShapeScalar).
		Build()
	require.NoError(t, err)
	require.NoError(t, s.registry.Register(def, func(ctx context.Context, args map[string]any) (any, error) {
		return nil, nil
	}))

	left := s.seedList("left", 1, 2, 3)
	right := s.seedList("right", 10, 20)
	_, err = s.builder.Call("pair", workflow.Args{"a": left, "b": right})
	require.NoError(t, err)

	result := s.runExpectingFailure(t)
	assert.Equal(t, types.BROADCAST_ARITY_MISMATCH, result.Error.Code)
}

func TestRunEmptyBroadcast(t *testing.T) {
	s := newSession(t)

	empty := cell.NewComposite(nil, "empty")
	s.initial = append(s.initial, empty)

	h, err := s.builder.Call("double", workflow.Args{"x": empty})
	require.NoError(t, err)

	s.run(t)

	out := h.Out()
	require.True(t, out.IsComposite())
	assert.Equal(t, 0, out.Len())
}

func TestRunKeyedBroadcast(t *testing.T) {
	s := newSession(t)

	a := cell.NewValue(1, "", "")
	b := cell.NewValue(2, "", "")
	keyed := cell.NewKeyedComposite(map[string]types.ID{"a": a.ID, "b": b.ID}, "keyed")
	s.initial = append(s.initial, a, b, keyed)

	h, err := s.builder.Call("double", workflow.Args{"x": keyed})
	require.NoError(t, err)

	s.run(t)

	out := h.Out()
	require.True(t, out.IsKeyed())
	resolved := s.valueOf(t, out).(map[string]any)
	assert.Equal(t, 2.0, resolved["a"])
	assert.Equal(t, 4.0, resolved["b"])
}

func TestRunAggregateConsumesFullList(t *testing.T) {
	s := newSession(t)

	nums := s.seedList("nums", 2, 4, 6)
	h, err := s.builder.Call("sum", workflow.Args{"values": nums})
	require.NoError(t, err)

	s.run(t)
	assert.Equal(t, 12.0, s.valueOf(t, h.Out()))
}

func TestRunScalarCoercedToCollection(t *testing.T) {
	s := newSession(t)

	single := s.seed(7, "single")
	h, err := s.builder.Call("sum", workflow.Args{"values": single})
	require.NoError(t, err)

	s.run(t)
	assert.Equal(t, 7.0, s.valueOf(t, h.Out()))
}

func TestRunStrictShapesRejectsCoercion(t *testing.T) {
	s := newSession(t, WithStrictShapes())

	single := s.seed(7, "single")
	_, err := s.builder.Call("sum", workflow.Args{"values": single})
	require.NoError(t, err)

	result := s.runExpectingFailure(t)
	assert.Equal(t, types.SHAPE_MISMATCH, result.Error.Code)
}

func TestRunGeneratorFansOut(t *testing.T) {
	s := newSession(t)

	text := s.seed("a,b,c", "text")
	h, err := s.builder.Call("split", workflow.Args{"text": text})
	require.NoError(t, err)

	s.run(t)

	out := h.Out()
	require.True(t, out.IsComposite())
	require.Equal(t, 3, out.Len())
	assert.Equal(t, []any{"a", "b", "c"}, s.valueOf(t, out))
}

func TestRunGeneratorOutputFeedsBroadcast(t *testing.T) {
	s := newSession(t)

	text := s.seed("1,2,3", "text")
	split, err := s.builder.Call("split", workflow.Args{"text": text})
	require.NoError(t, err)

	def, err := function.NewDefinition("strlen").
		WithInput("s", "string", function.ShapeScalar).
		Build()
	require.NoError(t, err)
	require.NoError(t, s.registry.Register(def, func(ctx context.Context, args map[string]any) (any, error) {
		return len(args["s"].(string)), nil
	}))

	lens, err := s.builder.Call("strlen", workflow.Args{"s": split})
	require.NoError(t, err)

	s.run(t)
	assert.Equal(t, []any{1, 1, 1}, s.valueOf(t, lens.Out()))
}

func TestRunMultiOutputFunction(t *testing.T) {
	s := newSession(t)

	nums := s.seedList("nums", 1, 2, 3)
	h, err := s.builder.Call("stats", workflow.Args{"values": nums})
	require.NoError(t, err)

	result := s.run(t)

	assert.Equal(t, 6.0, s.valueOf(t, h.Output("total")))
	assert.Equal(t, 2.0, s.valueOf(t, h.Output("mean")))
	assert.Same(t, h.Output("total"), result.Outputs["total"])
}

func TestRunFailureHaltsAndRecords(t *testing.T) {
	s := newSession(t)

	boom := errors.New("boom")
	def, err := function.NewDefinition("explode").
		WithInput("x", "number", function.ShapeScalar).
		Build()
	require.NoError(t, err)
	require.NoError(t, s.registry.Register(def, func(ctx context.Context, args map[string]any) (any, error) {
		return nil, boom
	}))

	seed := s.seed(10, "start")
	h1, err := s.builder.Call("add_five", workflow.Args{"x": seed})
	require.NoError(t, err)
	h2, err := s.builder.Call("explode", workflow.Args{"x": h1})
	require.NoError(t, err)
	h3, err := s.builder.Call("double", workflow.Args{"x": h2})
	require.NoError(t, err)

	result := s.runExpectingFailure(t)
	wf := s.builder.Build()

	assert.Equal(t, workflow.StepStatusCompleted, wf.StepAt(0).Status)
	assert.Equal(t, workflow.StepStatusFailed, wf.StepAt(1).Status)
	assert.Equal(t, workflow.StepStatusPending, wf.StepAt(2).Status)

	require.NotNil(t, wf.StepAt(1).Error)
	assert.Equal(t, types.FUNCTION_FAILED, wf.StepAt(1).Error.Code)
	assert.ErrorIs(t, wf.StepAt(1).Error, boom)

	assert.Equal(t, 1, result.StepsExecuted)
	assert.Equal(t, 1, result.StepsFailed)
	assert.Equal(t, wf.StepAt(1).ID, result.Error.StepID)

	// Completed work survives; failed and downstream outputs stay pending.
	assert.Equal(t, 15.0, s.valueOf(t, h1.Out()))
	assert.True(t, h2.Out().IsPending())
	assert.NotNil(t, h2.Out().FailedWith)
	assert.True(t, h3.Out().IsPending())
}

func TestRunBroadcastFailurePersistsNothing(t *testing.T) {
	s := newSession(t)

	def, err := function.NewDefinition("odd_only").
		WithInput("x", "number", function.ShapeScalar).
		Build()
	require.NoError(t, err)
	require.NoError(t, s.registry.Register(def, func(ctx context.Context, args map[string]any) (any, error) {
		n := args["x"].(int)
		if n%2 == 0 {
			return nil, errors.New("even input")
		}
		return n, nil
	}))

	nums := s.seedList("nums", 1, 3, 4)
	h, err := s.builder.Call("odd_only", workflow.Args{"x": nums})
	require.NoError(t, err)

	result := s.runExpectingFailure(t)

	assert.True(t, h.Out().IsPending())
	require.NotNil(t, result.Error.Iteration)
	assert.Equal(t, 2, *result.Error.Iteration)
}

func TestRunFunctionPanicBecomesFailure(t *testing.T) {
	s := newSession(t)

	def, err := function.NewDefinition("panics").
		WithInput("x", "number", function.ShapeScalar).
		Build()
	require.NoError(t, err)
	require.NoError(t, s.registry.Register(def, func(ctx context.Context, args map[string]any) (any, error) {
		panic("unexpected")
	}))

	_, err = s.builder.Call("panics", workflow.Args{"x": s.seed(1, "")})
	require.NoError(t, err)

	result := s.runExpectingFailure(t)
	assert.Equal(t, types.FUNCTION_FAILED, result.Error.Code)
	assert.Contains(t, result.Error.Message, "panicked")
}

func TestRunCancelledContext(t *testing.T) {
	s := newSession(t)

	_, err := s.builder.Call("add_five", workflow.Args{"x": s.seed(1, "")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := s.engine.Run(ctx, s.builder.Build(), s.store,
		append(s.initial, s.builder.Placeholders()...))
	require.Error(t, err)
	assert.Equal(t, RunStatusCancelled, result.Status)
	assert.Equal(t, types.RUN_CANCELLED, result.Error.Code)
}

func TestRunDeserializedBlueprint(t *testing.T) {
	s := newSession(t)

	seed := s.seed(10, "start")
	h1, err := s.builder.Call("add_five", workflow.Args{"x": seed})
	require.NoError(t, err)
	_, err = s.builder.Call("multiply", workflow.Args{"x": h1, "factor": 3})
	require.NoError(t, err)

	data, err := s.builder.Build().ToJSON()
	require.NoError(t, err)
	restored, err := workflow.FromJSON(data)
	require.NoError(t, err)

	// Run the restored blueprint without the wiring placeholders; the
	// engine recreates output cells from the step records.
	st := store.NewMemoryStore()
	result, err := s.engine.Run(context.Background(), restored, st, []*cell.Cell{seed})
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, result.Status)

	finalID := restored.StepAt(1).Outputs["return"]
	final, err := st.Cell(context.Background(), finalID)
	require.NoError(t, err)
	v, err := st.Resolve(context.Background(), final, true)
	require.NoError(t, err)
	assert.Equal(t, 45.0, v)
}

func TestRunConfigOnlyStaticArgs(t *testing.T) {
	s := newSession(t)

	def, err := function.NewDefinition("constant").
		WithOptionalInput("value", "any", function.ShapeScalar, 42).
		Build()
	require.NoError(t, err)
	require.NoError(t, s.registry.Register(def, func(ctx context.Context, args map[string]any) (any, error) {
		return args["value"], nil
	}))

	h, err := s.builder.Call("constant", workflow.Args{})
	require.NoError(t, err)

	s.run(t)
	assert.Equal(t, 42, s.valueOf(t, h.Out()))
}

func TestRunResultBookkeeping(t *testing.T) {
	s := newSession(t)

	h, err := s.builder.Call("add_five", workflow.Args{"x": s.seed(1, "")})
	require.NoError(t, err)

	result := s.run(t)
	assert.Equal(t, 1, result.StepsExecuted)
	assert.Equal(t, 0, result.StepsFailed)
	assert.Greater(t, result.Duration.Nanoseconds(), int64(0))
	assert.Same(t, h.Out(), result.Outputs["return"])
	assert.Nil(t, result.Error)
}
