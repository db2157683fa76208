// Package store provides key-addressed value storage backing cells, and
// the cell index the engine resolves and finalizes through.
//
// A store does two things: it maps opaque location keys to concrete
// values (written once, then immutable), and it indexes cells by ID so
// composite children and step inputs can be looked up at resolution
// time. The in-memory implementation is the reference default; the
// sqlite implementation is the durable backend.
package store

import (
	"context"
	"sort"

	"github.com/fancyfn/fancy/internal/cell"
	"github.com/fancyfn/fancy/internal/types"
)

// Store is the storage contract consumed by the engine and the wiring
// layer. Put is the only value mutator; values are append-only (a new
// value requires a new cell/location), preserving immutability for
// lineage tracking. Implementations must be safe for concurrent
// distinct-key writes.
type Store interface {
	// Put allocates a new location, writes value, and returns a cell
	// bound to it: VALUE for in-process backends, REFERENCE for
	// out-of-process ones. The returned cell is registered in the
	// cell index. Fails with STORAGE_UNAVAILABLE if the backend is
	// unreachable.
	Put(ctx context.Context, value any, label string) (*cell.Cell, error)

	// Resolve returns the concrete value behind a cell:
	//   - VALUE: the inline payload
	//   - REFERENCE: the value at the pointed location
	//     (REFERENCE_NOT_FOUND if the location is gone)
	//   - COMPOSITE, recursive=false: the raw list/map of child IDs
	//   - COMPOSITE, recursive=true: the list/map of recursively
	//     resolved child values (COMPOSITE_CHILD_MISSING if a child
	//     is absent from the index)
	//   - PENDING: CELL_NOT_READY
	Resolve(ctx context.Context, c *cell.Cell, recursive bool) (any, error)

	// Children returns the resolved child cell objects of a composite
	// in order. Keyed composites return children in sorted key order.
	Children(ctx context.Context, c *cell.Cell) ([]*cell.Cell, error)

	// Register adds or updates a cell in the index. Registering an
	// already-known ID overwrites the indexed record; the engine uses
	// this to persist finalized placeholders.
	Register(ctx context.Context, c *cell.Cell) error

	// Cell fetches a cell from the index by ID, failing with
	// CELL_NOT_FOUND if absent.
	Cell(ctx context.Context, id types.ID) (*cell.Cell, error)
}

// childIDs returns a composite's child IDs in resolution order: list
// order for ordered composites, sorted key order for keyed ones.
func childIDs(c *cell.Cell) []types.ID {
	if !c.IsKeyed() {
		return c.Children
	}
	keys := make([]string, 0, len(c.KeyedChildren))
	for k := range c.KeyedChildren {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ids := make([]types.ID, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, c.KeyedChildren[k])
	}
	return ids
}

// resolveComposite implements COMPOSITE resolution on top of a store's
// Cell lookup, shared by all backends.
func resolveComposite(ctx context.Context, s Store, c *cell.Cell, recursive bool) (any, error) {
	if !recursive {
		if c.IsKeyed() {
			raw := make(map[string]types.ID, len(c.KeyedChildren))
			for k, v := range c.KeyedChildren {
				raw[k] = v
			}
			return raw, nil
		}
		return append([]types.ID(nil), c.Children...), nil
	}

	if c.IsKeyed() {
		out := make(map[string]any, len(c.KeyedChildren))
		for key, id := range c.KeyedChildren {
			val, err := resolveChild(ctx, s, c, id)
			if err != nil {
				return nil, err
			}
			out[key] = val
		}
		return out, nil
	}

	out := make([]any, 0, len(c.Children))
	for _, id := range c.Children {
		val, err := resolveChild(ctx, s, c, id)
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

func resolveChild(ctx context.Context, s Store, parent *cell.Cell, id types.ID) (any, error) {
	child, err := s.Cell(ctx, id)
	if err != nil {
		return nil, types.WrapError(types.COMPOSITE_CHILD_MISSING,
			"composite "+parent.ID.String()+" references missing child "+id.String(), err)
	}
	return s.Resolve(ctx, child, true)
}

// childCells fetches a composite's child cell objects in resolution
// order, shared by all backends.
func childCells(ctx context.Context, s Store, c *cell.Cell) ([]*cell.Cell, error) {
	if c.Kind != cell.KindComposite {
		return nil, types.NewErrorf(types.SHAPE_MISMATCH,
			"cell %s is %s, not COMPOSITE", c.ID, c.Kind)
	}

	ids := childIDs(c)
	children := make([]*cell.Cell, 0, len(ids))
	for _, id := range ids {
		child, err := s.Cell(ctx, id)
		if err != nil {
			return nil, types.WrapError(types.COMPOSITE_CHILD_MISSING,
				"composite "+c.ID.String()+" references missing child "+id.String(), err)
		}
		children = append(children, child)
	}
	return children, nil
}

// typeHintOf derives a coarse type hint for a stored value, used as the
// cell's TypeHint when the caller has nothing better.
func typeHintOf(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case int, int32, int64, float32, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "map"
	default:
		return "any"
	}
}
