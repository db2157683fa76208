package function

import (
	"sort"
	"sync"

	"github.com/fancyfn/fancy/internal/types"
)

// Registry maps slugs to function definitions and their callables.
// Definitions are immutable once registered; the registry is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	defs      map[string]Definition
	callables map[string]Callable
}

// RegisterOption configures a Register call.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	overwrite bool
}

// WithOverwrite allows re-registration under an existing slug. Without
// it, a duplicate slug fails with DUPLICATE_SLUG.
func WithOverwrite() RegisterOption {
	return func(o *registerOptions) {
		o.overwrite = true
	}
}

// NewRegistry creates an empty function registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:      make(map[string]Definition),
		callables: make(map[string]Callable),
	}
}

// Register stores a definition and its callable under the definition's
// slug. Fails with DUPLICATE_SLUG if the slug exists and overwrite was
// not requested.
func (r *Registry) Register(def Definition, fn Callable, opts ...RegisterOption) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if fn == nil {
		return types.NewErrorf(types.WORKFLOW_INVALID, "function %q has no callable", def.Slug)
	}

	var options registerOptions
	for _, opt := range opts {
		opt(&options)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Slug]; exists && !options.overwrite {
		return types.NewErrorf(types.DUPLICATE_SLUG, "function %q is already registered", def.Slug)
	}

	r.defs[def.Slug] = def
	r.callables[def.Slug] = fn
	return nil
}

// Get returns the definition registered under slug, failing with
// UNKNOWN_FUNCTION if absent.
func (r *Registry) Get(slug string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[slug]
	if !ok {
		return Definition{}, types.NewErrorf(types.UNKNOWN_FUNCTION, "no function registered as %q", slug)
	}
	return def, nil
}

// Callable returns the executable registered under slug.
func (r *Registry) Callable(slug string) (Callable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.callables[slug]
	if !ok {
		return nil, types.NewErrorf(types.UNKNOWN_FUNCTION, "no function registered as %q", slug)
	}
	return fn, nil
}

// List returns all registered definitions sorted by slug. The returned
// slice is a copy; mutating it does not affect the registry.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
