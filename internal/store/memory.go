package store

import (
	"context"
	"sync"

	"github.com/fancyfn/fancy/internal/cell"
	"github.com/fancyfn/fancy/internal/types"
)

// MemoryStore is the reference Store implementation. Values live inline
// in VALUE cells; the cell index is a map guarded by a RWMutex so that
// distinct-key writes from future concurrent broadcast iterations stay
// safe.
type MemoryStore struct {
	mu    sync.RWMutex
	cells map[types.ID]*cell.Cell
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cells: make(map[types.ID]*cell.Cell),
	}
}

// Put wraps value in a new VALUE cell and registers it.
func (s *MemoryStore) Put(ctx context.Context, value any, label string) (*cell.Cell, error) {
	c := cell.NewValue(value, label, typeHintOf(value))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[c.ID] = c

	return c, nil
}

// Resolve returns the concrete value behind a cell. See Store.Resolve.
func (s *MemoryStore) Resolve(ctx context.Context, c *cell.Cell, recursive bool) (any, error) {
	switch c.Kind {
	case cell.KindValue:
		return c.Value, nil

	case cell.KindReference:
		// Memory cells are written inline; a REFERENCE here points at
		// another backend's location and cannot be loaded.
		return nil, types.NewErrorf(types.REFERENCE_NOT_FOUND,
			"cell %s references %q which is not stored in this backend", c.ID, c.RefURI)

	case cell.KindComposite:
		return resolveComposite(ctx, s, c, recursive)

	case cell.KindPending:
		return nil, types.NewErrorf(types.CELL_NOT_READY,
			"cell %s (%s) has not been produced yet", c.ID, c.Label)

	default:
		return nil, types.NewErrorf(types.CELL_NOT_READY,
			"cell %s has unknown storage kind %q", c.ID, c.Kind)
	}
}

// Children returns the child cell objects of a composite in order.
func (s *MemoryStore) Children(ctx context.Context, c *cell.Cell) ([]*cell.Cell, error) {
	return childCells(ctx, s, c)
}

// Register adds or updates a cell in the index.
func (s *MemoryStore) Register(ctx context.Context, c *cell.Cell) error {
	if err := c.ID.Validate(); err != nil {
		return types.WrapError(types.WORKFLOW_INVALID, "cannot register cell without valid id", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[c.ID] = c

	return nil
}

// Cell fetches a cell from the index by ID.
func (s *MemoryStore) Cell(ctx context.Context, id types.ID) (*cell.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cells[id]
	if !ok {
		return nil, types.NewErrorf(types.CELL_NOT_FOUND, "no cell with id %s", id)
	}
	return c, nil
}

// Len returns the number of indexed cells. Used by tests and the CLI
// result summary.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cells)
}
