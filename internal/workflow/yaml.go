// YAML workflow definitions.
//
// Blueprints can be written as human-readable YAML and parsed into a
// Workflow plus the seed cells it starts from. Cells are referenced by
// $alias rather than raw UUIDs: seeds declare aliases, and each step can
// alias its outputs for later steps.
//
//	name: demo
//	seeds:
//	  numbers: [1, 2, 3]
//	steps:
//	  - function: double
//	    as: doubled
//	    inputs:
//	      x: $numbers
//	  - function: sum
//	    as: total
//	    inputs:
//	      values: $doubled
//
// Seed lists become COMPOSITE cells over per-item VALUE cells, so a
// scalar function wired against one broadcasts. Step entries may carry a
// config section of static literals, and multi-output functions alias
// each output by name:
//
//	  - function: stats
//	    inputs:
//	      values: $doubled
//	    outputs:
//	      total: grand_total
//	      mean: average
package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fancyfn/fancy/internal/cell"
	"github.com/fancyfn/fancy/internal/function"
	"github.com/fancyfn/fancy/internal/types"
)

// YAMLWorkflow represents the top-level structure of a workflow YAML file.
type YAMLWorkflow struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Seeds       map[string]any `yaml:"seeds"`
	Steps       []YAMLStep     `yaml:"steps"`
}

// YAMLStep represents a single step entry in a workflow YAML file.
type YAMLStep struct {
	Function string            `yaml:"function"`
	As       string            `yaml:"as"`
	Inputs   map[string]string `yaml:"inputs"`
	Config   map[string]any    `yaml:"config"`
	Outputs  map[string]string `yaml:"outputs"`
}

// ParseResult is the outcome of parsing a YAML definition: the blueprint,
// every cell the run needs (seeds, composite children, placeholders), and
// the alias table for looking up cells by name afterwards.
type ParseResult struct {
	Workflow *Workflow
	Cells    []*cell.Cell
	Aliases  map[string]*cell.Cell
}

// ParseYAML parses a YAML workflow definition, wiring each step through a
// Builder session against the given registry. Binding and alias errors
// surface immediately with the offending step named.
func ParseYAML(data []byte, registry *function.Registry) (*ParseResult, error) {
	var doc YAMLWorkflow
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, types.WrapError(types.WORKFLOW_INVALID, "failed to parse workflow YAML", err)
	}
	if doc.Name == "" {
		return nil, types.NewError(types.WORKFLOW_INVALID, "workflow YAML has no name")
	}
	if len(doc.Steps) == 0 {
		return nil, types.NewError(types.WORKFLOW_INVALID, "workflow YAML has no steps")
	}

	result := &ParseResult{
		Aliases: make(map[string]*cell.Cell),
	}

	// Materialize seeds. Lists become composites of per-item VALUE
	// cells so scalar functions broadcast over them.
	for alias, value := range doc.Seeds {
		seed := materializeSeed(alias, value, result)
		result.Aliases[alias] = seed
	}

	builder := NewBuilder(doc.Name, registry)

	for i, ys := range doc.Steps {
		if ys.Function == "" {
			return nil, types.NewErrorf(types.WORKFLOW_INVALID, "step %d has no function", i)
		}

		args := Args{}
		for name, ref := range ys.Inputs {
			target, err := resolveAlias(ref, result.Aliases)
			if err != nil {
				return nil, types.WrapError(types.WORKFLOW_INVALID,
					fmt.Sprintf("step %d (%s), input %q", i, ys.Function, name), err)
			}
			args[name] = target
		}
		for name, value := range ys.Config {
			args[name] = value
		}

		handle, err := builder.Call(ys.Function, args)
		if err != nil {
			return nil, types.WrapError(types.WORKFLOW_INVALID,
				fmt.Sprintf("step %d (%s)", i, ys.Function), err)
		}

		if ys.As != "" {
			out := handle.Out()
			if out == nil {
				return nil, types.NewErrorf(types.WORKFLOW_INVALID,
					"step %d (%s): 'as' is ambiguous for a multi-output function; use 'outputs'", i, ys.Function)
			}
			result.Aliases[ys.As] = out
		}
		for outName, alias := range ys.Outputs {
			out := handle.Output(outName)
			if out == nil {
				return nil, types.NewErrorf(types.WORKFLOW_INVALID,
					"step %d (%s): function declares no output %q", i, ys.Function, outName)
			}
			result.Aliases[alias] = out
		}
	}

	result.Workflow = builder.Build()
	result.Cells = append(result.Cells, builder.Placeholders()...)
	return result, nil
}

// LoadYAMLFile reads and parses a YAML workflow definition from disk.
func LoadYAMLFile(path string, registry *function.Registry) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.WORKFLOW_INVALID, "failed to read workflow file", err)
	}
	return ParseYAML(data, registry)
}

// materializeSeed turns a seed literal into its cell(s), appending every
// created cell to result.Cells.
func materializeSeed(alias string, value any, result *ParseResult) *cell.Cell {
	if list, ok := value.([]any); ok {
		children := make([]types.ID, 0, len(list))
		for j, item := range list {
			child := cell.NewValue(item, fmt.Sprintf("%s[%d]", alias, j), "")
			result.Cells = append(result.Cells, child)
			children = append(children, child.ID)
		}
		comp := cell.NewComposite(children, alias)
		result.Cells = append(result.Cells, comp)
		return comp
	}

	seed := cell.NewValue(value, alias, "")
	result.Cells = append(result.Cells, seed)
	return seed
}

// resolveAlias maps a $alias reference to its cell.
func resolveAlias(ref string, aliases map[string]*cell.Cell) (*cell.Cell, error) {
	if len(ref) < 2 || ref[0] != '$' {
		return nil, types.NewErrorf(types.WORKFLOW_INVALID,
			"input references must use the $alias form, got %q", ref)
	}
	name := ref[1:]
	target, ok := aliases[name]
	if !ok {
		return nil, types.NewErrorf(types.WORKFLOW_INVALID, "alias %q is not defined", name)
	}
	return target, nil
}
