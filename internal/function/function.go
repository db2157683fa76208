// Package function defines registered callables and their contracts.
//
// A function is declared once, at startup, as plain data: parameter
// names with scalar/collection shape tags, named outputs, and a
// cardinality trait describing how input item-count relates to output
// item-count. The contract is immutable after registration; the wiring
// layer and the engine only ever read it.
package function

import (
	"context"
	"fmt"

	"github.com/fancyfn/fancy/internal/types"
)

// Shape tags a parameter or output as expecting a single item or a
// collection of items.
type Shape string

const (
	// ShapeScalar expects a single value.
	ShapeScalar Shape = "scalar"

	// ShapeCollection expects a list or map of values.
	ShapeCollection Shape = "collection"
)

// String returns the string representation of the shape.
func (s Shape) String() string {
	return string(s)
}

// IsValid checks if the shape is a valid value.
func (s Shape) IsValid() bool {
	switch s {
	case ShapeScalar, ShapeCollection:
		return true
	default:
		return false
	}
}

// Cardinality describes how a function relates input item-count to
// output item-count. It is independent of parameter shapes: a SCALAR
// function may still declare a collection parameter (it is then called
// once with the whole collection).
type Cardinality string

const (
	// CardinalityScalar maps one invocation to one result (1:1).
	CardinalityScalar Cardinality = "scalar"

	// CardinalityAggregate reduces a collection to one result (N:1).
	CardinalityAggregate Cardinality = "aggregate"

	// CardinalityGenerator produces many results per invocation (1:N).
	CardinalityGenerator Cardinality = "generator"
)

// String returns the string representation of the cardinality trait.
func (c Cardinality) String() string {
	return string(c)
}

// IsValid checks if the cardinality is a valid value.
func (c Cardinality) IsValid() bool {
	switch c {
	case CardinalityScalar, CardinalityAggregate, CardinalityGenerator:
		return true
	default:
		return false
	}
}

// Param describes one input parameter of a function contract.
type Param struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Shape    Shape  `json:"shape"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// Output describes one named output of a function contract.
type Output struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Shape Shape  `json:"shape"`
}

// DefaultOutputName is the conventional name of a single unnamed result.
const DefaultOutputName = "return"

// Callable is the executable body of a registered function. Arguments
// arrive as a name-to-value map with wired inputs already resolved and
// static config merged in. A function with multiple declared outputs
// must return a map[string]any keyed by output name.
type Callable func(ctx context.Context, args map[string]any) (any, error)

// Definition is the immutable metadata record of a registered function.
type Definition struct {
	Slug        string      `json:"slug"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Inputs      []Param     `json:"inputs"`
	Outputs     []Output    `json:"outputs"`
	Cardinality Cardinality `json:"cardinality"`
}

// Input returns the declared parameter with the given name, or false.
func (d *Definition) Input(name string) (Param, bool) {
	for _, p := range d.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Output returns the declared output with the given name, or false.
func (d *Definition) Output(name string) (Output, bool) {
	for _, o := range d.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return Output{}, false
}

// Validate checks the structural invariants of a definition: non-empty
// slug, unique parameter and output names, valid shape and cardinality
// tags, and at least one output.
func (d *Definition) Validate() error {
	if d.Slug == "" {
		return types.NewError(types.WORKFLOW_INVALID, "function definition has no slug")
	}
	if !d.Cardinality.IsValid() {
		return types.NewErrorf(types.WORKFLOW_INVALID,
			"function %q has invalid cardinality %q", d.Slug, d.Cardinality)
	}
	if len(d.Outputs) == 0 {
		return types.NewErrorf(types.WORKFLOW_INVALID, "function %q declares no outputs", d.Slug)
	}

	seen := make(map[string]bool, len(d.Inputs))
	for _, p := range d.Inputs {
		if p.Name == "" {
			return types.NewErrorf(types.WORKFLOW_INVALID, "function %q has an unnamed parameter", d.Slug)
		}
		if seen[p.Name] {
			return types.NewErrorf(types.WORKFLOW_INVALID,
				"function %q declares parameter %q twice", d.Slug, p.Name)
		}
		if !p.Shape.IsValid() {
			return types.NewErrorf(types.WORKFLOW_INVALID,
				"function %q parameter %q has invalid shape %q", d.Slug, p.Name, p.Shape)
		}
		seen[p.Name] = true
	}

	seenOut := make(map[string]bool, len(d.Outputs))
	for _, o := range d.Outputs {
		if o.Name == "" {
			return types.NewErrorf(types.WORKFLOW_INVALID, "function %q has an unnamed output", d.Slug)
		}
		if seenOut[o.Name] {
			return types.NewErrorf(types.WORKFLOW_INVALID,
				"function %q declares output %q twice", d.Slug, o.Name)
		}
		if !o.Shape.IsValid() {
			return types.NewErrorf(types.WORKFLOW_INVALID,
				"function %q output %q has invalid shape %q", d.Slug, o.Name, o.Shape)
		}
		seenOut[o.Name] = true
	}

	return nil
}

// DefinitionBuilder provides a fluent API for declaring function
// contracts. It accumulates errors during building and reports them all
// at Build() time.
type DefinitionBuilder struct {
	def    Definition
	errors []error
}

// NewDefinition starts a contract declaration for slug. Cardinality
// defaults to scalar; a single output named "return" is assumed unless
// outputs are declared explicitly.
func NewDefinition(slug string) *DefinitionBuilder {
	return &DefinitionBuilder{
		def: Definition{
			Slug:        slug,
			Name:        slug,
			Cardinality: CardinalityScalar,
		},
	}
}

// WithName sets the human-readable name.
func (b *DefinitionBuilder) WithName(name string) *DefinitionBuilder {
	b.def.Name = name
	return b
}

// WithDescription sets the description.
func (b *DefinitionBuilder) WithDescription(desc string) *DefinitionBuilder {
	b.def.Description = desc
	return b
}

// WithInput declares a required parameter.
func (b *DefinitionBuilder) WithInput(name, typeHint string, shape Shape) *DefinitionBuilder {
	return b.addInput(Param{Name: name, Type: typeHint, Shape: shape, Required: true})
}

// WithOptionalInput declares an optional parameter with a default value
// applied when the caller omits it.
func (b *DefinitionBuilder) WithOptionalInput(name, typeHint string, shape Shape, def any) *DefinitionBuilder {
	return b.addInput(Param{Name: name, Type: typeHint, Shape: shape, Required: false, Default: def})
}

// WithOutput declares a named output. The first call replaces the
// implicit "return" output.
func (b *DefinitionBuilder) WithOutput(name, typeHint string, shape Shape) *DefinitionBuilder {
	if name == "" {
		b.errors = append(b.errors, fmt.Errorf("output must have a name"))
		return b
	}
	b.def.Outputs = append(b.def.Outputs, Output{Name: name, Type: typeHint, Shape: shape})
	return b
}

// WithCardinality overrides the default scalar trait. AGGREGATE marks
// N-to-1 reducers, GENERATOR marks 1-to-N producers.
func (b *DefinitionBuilder) WithCardinality(c Cardinality) *DefinitionBuilder {
	b.def.Cardinality = c
	return b
}

// Build validates the accumulated declaration and returns the immutable
// definition, or every accumulated error.
func (b *DefinitionBuilder) Build() (Definition, error) {
	if len(b.def.Outputs) == 0 {
		b.def.Outputs = []Output{{Name: DefaultOutputName, Type: "any", Shape: ShapeScalar}}
	}

	if len(b.errors) > 0 {
		return Definition{}, types.NewErrorf(types.WORKFLOW_INVALID,
			"definition of %q failed with %d error(s): %v", b.def.Slug, len(b.errors), b.errors)
	}

	if err := b.def.Validate(); err != nil {
		return Definition{}, err
	}

	return b.def, nil
}

func (b *DefinitionBuilder) addInput(p Param) *DefinitionBuilder {
	if p.Name == "" {
		b.errors = append(b.errors, fmt.Errorf("parameter must have a name"))
		return b
	}
	b.def.Inputs = append(b.def.Inputs, p)
	return b
}
