package function

import (
	"context"
	"fmt"
	"strings"

	"github.com/fancyfn/fancy/internal/types"
)

// RegisterBuiltins registers the standard function set used by the CLI
// runner and the examples: simple numeric, string, and collection
// operations covering every cardinality trait.
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		def func() (Definition, error)
		fn  Callable
	}{
		{
			def: func() (Definition, error) {
				return NewDefinition("add_five").
					WithDescription("Add five to a number.").
					WithInput("x", "number", ShapeScalar).
					WithOutput(DefaultOutputName, "number", ShapeScalar).
					Build()
			},
			fn: func(ctx context.Context, args map[string]any) (any, error) {
				x, err := asNumber(args["x"])
				if err != nil {
					return nil, err
				}
				return x + 5, nil
			},
		},
		{
			def: func() (Definition, error) {
				return NewDefinition("multiply").
					WithDescription("Multiply a number by a factor.").
					WithInput("x", "number", ShapeScalar).
					WithOptionalInput("factor", "number", ShapeScalar, 2).
					WithOutput(DefaultOutputName, "number", ShapeScalar).
					Build()
			},
			fn: func(ctx context.Context, args map[string]any) (any, error) {
				v, err := asNumber(args["x"])
				if err != nil {
					return nil, err
				}
				f, err := asNumber(args["factor"])
				if err != nil {
					return nil, err
				}
				return v * f, nil
			},
		},
		{
			def: func() (Definition, error) {
				return NewDefinition("double").
					WithDescription("Double a number.").
					WithInput("x", "number", ShapeScalar).
					WithOutput(DefaultOutputName, "number", ShapeScalar).
					Build()
			},
			fn: func(ctx context.Context, args map[string]any) (any, error) {
				x, err := asNumber(args["x"])
				if err != nil {
					return nil, err
				}
				return x * 2, nil
			},
		},
		{
			def: func() (Definition, error) {
				return NewDefinition("sum").
					WithDescription("Sum a collection of numbers.").
					WithInput("values", "list", ShapeCollection).
					WithOutput(DefaultOutputName, "number", ShapeScalar).
					WithCardinality(CardinalityAggregate).
					Build()
			},
			fn: func(ctx context.Context, args map[string]any) (any, error) {
				items, err := asList(args["values"])
				if err != nil {
					return nil, err
				}
				total := 0.0
				for _, item := range items {
					n, err := asNumber(item)
					if err != nil {
						return nil, err
					}
					total += n
				}
				return total, nil
			},
		},
		{
			def: func() (Definition, error) {
				return NewDefinition("split").
					WithDescription("Split a string into its delimited parts.").
					WithInput("text", "string", ShapeScalar).
					WithOptionalInput("sep", "string", ShapeScalar, ",").
					WithOutput(DefaultOutputName, "list", ShapeCollection).
					WithCardinality(CardinalityGenerator).
					Build()
			},
			fn: func(ctx context.Context, args map[string]any) (any, error) {
				text, ok := args["text"].(string)
				if !ok {
					return nil, types.NewErrorf(types.FUNCTION_FAILED, "split expects a string, got %T", args["text"])
				}
				sep, _ := args["sep"].(string)
				parts := strings.Split(text, sep)
				out := make([]any, len(parts))
				for i, p := range parts {
					out[i] = p
				}
				return out, nil
			},
		},
		{
			def: func() (Definition, error) {
				return NewDefinition("concat").
					WithDescription("Join a collection of values into one string.").
					WithInput("values", "list", ShapeCollection).
					WithOptionalInput("sep", "string", ShapeScalar, "").
					WithOutput(DefaultOutputName, "string", ShapeScalar).
					WithCardinality(CardinalityAggregate).
					Build()
			},
			fn: func(ctx context.Context, args map[string]any) (any, error) {
				items, err := asList(args["values"])
				if err != nil {
					return nil, err
				}
				sep, _ := args["sep"].(string)
				parts := make([]string, len(items))
				for i, item := range items {
					parts[i] = fmt.Sprint(item)
				}
				return strings.Join(parts, sep), nil
			},
		},
		{
			def: func() (Definition, error) {
				return NewDefinition("stats").
					WithDescription("Compute total and mean of a collection of numbers.").
					WithInput("values", "list", ShapeCollection).
					WithOutput("total", "number", ShapeScalar).
					WithOutput("mean", "number", ShapeScalar).
					WithCardinality(CardinalityAggregate).
					Build()
			},
			fn: func(ctx context.Context, args map[string]any) (any, error) {
				items, err := asList(args["values"])
				if err != nil {
					return nil, err
				}
				total := 0.0
				for _, item := range items {
					n, err := asNumber(item)
					if err != nil {
						return nil, err
					}
					total += n
				}
				mean := 0.0
				if len(items) > 0 {
					mean = total / float64(len(items))
				}
				return map[string]any{"total": total, "mean": mean}, nil
			},
		},
	}

	for _, b := range builtins {
		def, err := b.def()
		if err != nil {
			return err
		}
		if err := r.Register(def, b.fn); err != nil {
			return err
		}
	}
	return nil
}

// asNumber coerces the numeric types a value can arrive as: native ints
// from in-process wiring, float64 from JSON or YAML decoding.
func asNumber(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, types.NewErrorf(types.FUNCTION_FAILED, "expected a number, got %T", v)
	}
}

// asList coerces a collection argument to a slice of values.
func asList(v any) ([]any, error) {
	if items, ok := v.([]any); ok {
		return items, nil
	}
	return nil, types.NewErrorf(types.FUNCTION_FAILED, "expected a list, got %T", v)
}
