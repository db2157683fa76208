// Package cell defines the atomic data unit of the fancy core: an
// identity-bearing, typed placeholder for a value that may not yet exist.
//
// A cell is a tagged variant keyed by its StorageKind. Exactly one payload
// family is populated for each kind:
//
//   - VALUE: an inline JSON-representable value
//   - REFERENCE: an opaque location URI plus lightweight metadata
//   - COMPOSITE: an ordered list, or string-keyed map, of child cell IDs
//   - PENDING: no payload; provenance naming the step and output that
//     will eventually populate it
//
// Cells are created either directly (wrapping a concrete value or
// reference) or by the wiring layer as PENDING placeholders. The engine
// finalizes a PENDING cell exactly once, in place, preserving its ID so
// that handles captured before execution observe the final value.
package cell

import (
	"github.com/fancyfn/fancy/internal/types"
)

// StorageKind describes how a cell's payload is stored.
type StorageKind string

const (
	// KindValue holds an inline JSON-representable value.
	KindValue StorageKind = "VALUE"

	// KindReference points at an out-of-cell location via URI.
	KindReference StorageKind = "REFERENCE"

	// KindComposite holds an ordered list or keyed map of child cell IDs.
	KindComposite StorageKind = "COMPOSITE"

	// KindPending marks a cell whose value has not been computed yet.
	KindPending StorageKind = "PENDING"
)

// String returns the string representation of the storage kind.
func (k StorageKind) String() string {
	return string(k)
}

// IsValid checks if the storage kind is a valid value.
func (k StorageKind) IsValid() bool {
	switch k {
	case KindValue, KindReference, KindComposite, KindPending:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for kinds a finalized cell may hold.
// PENDING is the only non-terminal kind.
func (k StorageKind) IsTerminal() bool {
	return k.IsValid() && k != KindPending
}

// Provenance records which step output will populate a PENDING cell.
type Provenance struct {
	// StepID is the producing step's identifier.
	StepID types.ID `json:"step_id"`

	// Output is the name of the producing step's output.
	Output string `json:"output"`
}

// Cell is the identity-bearing data record. The ID never changes; Label
// is mutable for display only. Payload fields are mutually exclusive per
// the StorageKind (see package doc).
type Cell struct {
	ID       types.ID    `json:"id"`
	Label    string      `json:"label"`
	TypeHint string      `json:"type_hint"`
	Kind     StorageKind `json:"storage_kind"`

	// VALUE payload.
	Value any `json:"value,omitempty"`

	// REFERENCE payload.
	RefURI  string         `json:"reference_uri,omitempty"`
	RefMeta map[string]any `json:"reference_meta,omitempty"`

	// COMPOSITE payload: exactly one of Children (ordered) or
	// KeyedChildren (string-keyed) is set.
	Children      []types.ID          `json:"children,omitempty"`
	KeyedChildren map[string]types.ID `json:"keyed_children,omitempty"`

	// PENDING payload.
	Origin *Provenance `json:"origin,omitempty"`

	// Failure marker attached when the producing step fails. The cell
	// stays PENDING; the marker explains why it never finalized.
	FailedWith *types.FancyError `json:"-"`
}

// NewValue creates a VALUE cell wrapping an inline value.
func NewValue(value any, label, typeHint string) *Cell {
	if typeHint == "" {
		typeHint = "any"
	}
	return &Cell{
		ID:       types.NewID(),
		Label:    label,
		TypeHint: typeHint,
		Kind:     KindValue,
		Value:    value,
	}
}

// NewReference creates a REFERENCE cell pointing at uri. The meta map is
// a lightweight preview (row counts, shapes) and must never require
// loading the full payload.
func NewReference(uri, label, typeHint string, meta map[string]any) *Cell {
	if typeHint == "" {
		typeHint = "any"
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return &Cell{
		ID:       types.NewID(),
		Label:    label,
		TypeHint: typeHint,
		Kind:     KindReference,
		RefURI:   uri,
		RefMeta:  meta,
	}
}

// NewComposite creates a COMPOSITE cell over an ordered list of child IDs.
func NewComposite(children []types.ID, label string) *Cell {
	if children == nil {
		children = []types.ID{}
	}
	return &Cell{
		ID:       types.NewID(),
		Label:    label,
		TypeHint: "composite",
		Kind:     KindComposite,
		Children: children,
	}
}

// NewKeyedComposite creates a COMPOSITE cell over a string-keyed map of
// child IDs.
func NewKeyedComposite(children map[string]types.ID, label string) *Cell {
	if children == nil {
		children = map[string]types.ID{}
	}
	return &Cell{
		ID:            types.NewID(),
		Label:         label,
		TypeHint:      "composite",
		Kind:          KindComposite,
		KeyedChildren: children,
	}
}

// NewPending creates a PENDING placeholder cell carrying provenance.
func NewPending(label, typeHint string, origin Provenance) *Cell {
	if typeHint == "" {
		typeHint = "any"
	}
	return &Cell{
		ID:       types.NewID(),
		Label:    label,
		TypeHint: typeHint,
		Kind:     KindPending,
		Origin:   &origin,
	}
}

// IsPending reports whether the cell has not been finalized yet.
func (c *Cell) IsPending() bool {
	return c.Kind == KindPending
}

// IsComposite reports whether the cell is a composite of child cells.
func (c *Cell) IsComposite() bool {
	return c.Kind == KindComposite
}

// IsKeyed reports whether a composite cell's children are string-keyed.
func (c *Cell) IsKeyed() bool {
	return c.Kind == KindComposite && c.KeyedChildren != nil
}

// Len returns the number of children of a composite cell, or zero for
// any other kind.
func (c *Cell) Len() int {
	switch {
	case c.Kind != KindComposite:
		return 0
	case c.KeyedChildren != nil:
		return len(c.KeyedChildren)
	default:
		return len(c.Children)
	}
}

// FinalizeValue transitions a PENDING cell to VALUE in place.
// The transition is one-way; finalizing a non-pending cell is an error.
func (c *Cell) FinalizeValue(value any, typeHint string) error {
	if err := c.checkFinalizable(); err != nil {
		return err
	}
	c.Kind = KindValue
	c.Value = value
	if typeHint != "" {
		c.TypeHint = typeHint
	}
	c.clearPending()
	return nil
}

// FinalizeReference transitions a PENDING cell to REFERENCE in place.
func (c *Cell) FinalizeReference(uri string, meta map[string]any, typeHint string) error {
	if err := c.checkFinalizable(); err != nil {
		return err
	}
	c.Kind = KindReference
	c.RefURI = uri
	if meta == nil {
		meta = map[string]any{}
	}
	c.RefMeta = meta
	if typeHint != "" {
		c.TypeHint = typeHint
	}
	c.clearPending()
	return nil
}

// FinalizeComposite transitions a PENDING cell to an ordered COMPOSITE
// in place. Iteration order of children is significant and preserved.
func (c *Cell) FinalizeComposite(children []types.ID) error {
	if err := c.checkFinalizable(); err != nil {
		return err
	}
	if children == nil {
		children = []types.ID{}
	}
	c.Kind = KindComposite
	c.Children = children
	c.TypeHint = "composite"
	c.clearPending()
	return nil
}

// FinalizeKeyedComposite transitions a PENDING cell to a keyed COMPOSITE
// in place.
func (c *Cell) FinalizeKeyedComposite(children map[string]types.ID) error {
	if err := c.checkFinalizable(); err != nil {
		return err
	}
	if children == nil {
		children = map[string]types.ID{}
	}
	c.Kind = KindComposite
	c.KeyedChildren = children
	c.TypeHint = "composite"
	c.clearPending()
	return nil
}

// AdoptPayload finalizes a PENDING cell with the payload of another cell,
// keeping this cell's ID and label. The donor is typically the cell a
// store's Put returned for a freshly written value.
func (c *Cell) AdoptPayload(donor *Cell) error {
	if err := c.checkFinalizable(); err != nil {
		return err
	}
	switch donor.Kind {
	case KindValue:
		return c.FinalizeValue(donor.Value, donor.TypeHint)
	case KindReference:
		return c.FinalizeReference(donor.RefURI, donor.RefMeta, donor.TypeHint)
	case KindComposite:
		if donor.KeyedChildren != nil {
			return c.FinalizeKeyedComposite(donor.KeyedChildren)
		}
		return c.FinalizeComposite(donor.Children)
	default:
		return types.NewErrorf(types.CELL_NOT_READY,
			"cannot adopt payload from non-terminal cell %s", donor.ID)
	}
}

// MarkFailed attaches a failure marker to a PENDING cell. The cell stays
// PENDING; it records why it was never populated.
func (c *Cell) MarkFailed(err *types.FancyError) {
	if c.Kind == KindPending {
		c.FailedWith = err
	}
}

// Validate checks the storage-kind payload invariants: exactly one
// payload family populated, PENDING cells carry provenance, composite
// cells hold exactly one of list or keyed children.
func (c *Cell) Validate() error {
	if err := c.ID.Validate(); err != nil {
		return types.WrapError(types.WORKFLOW_INVALID, "cell has invalid id", err)
	}
	if !c.Kind.IsValid() {
		return types.NewErrorf(types.WORKFLOW_INVALID, "cell %s has invalid storage kind %q", c.ID, c.Kind)
	}

	hasRef := c.RefURI != ""
	hasChildren := c.Children != nil || c.KeyedChildren != nil
	hasOrigin := c.Origin != nil

	switch c.Kind {
	case KindValue:
		if hasRef || hasChildren || hasOrigin {
			return c.payloadError("VALUE")
		}
	case KindReference:
		if !hasRef {
			return types.NewErrorf(types.WORKFLOW_INVALID, "REFERENCE cell %s has no reference_uri", c.ID)
		}
		if c.Value != nil || hasChildren || hasOrigin {
			return c.payloadError("REFERENCE")
		}
	case KindComposite:
		if c.Children != nil && c.KeyedChildren != nil {
			return types.NewErrorf(types.WORKFLOW_INVALID,
				"COMPOSITE cell %s has both ordered and keyed children", c.ID)
		}
		if !hasChildren {
			return types.NewErrorf(types.WORKFLOW_INVALID, "COMPOSITE cell %s has no children payload", c.ID)
		}
		if c.Value != nil || hasRef || hasOrigin {
			return c.payloadError("COMPOSITE")
		}
	case KindPending:
		if !hasOrigin {
			return types.NewErrorf(types.WORKFLOW_INVALID, "PENDING cell %s has no provenance", c.ID)
		}
		if c.Value != nil || hasRef || hasChildren {
			return c.payloadError("PENDING")
		}
	}

	return nil
}

func (c *Cell) payloadError(kind string) error {
	return types.NewErrorf(types.WORKFLOW_INVALID,
		"%s cell %s carries payload fields of another storage kind", kind, c.ID)
}

func (c *Cell) checkFinalizable() error {
	if c.Kind != KindPending {
		return types.NewErrorf(types.CELL_NOT_READY,
			"cell %s is already finalized as %s", c.ID, c.Kind)
	}
	return nil
}

func (c *Cell) clearPending() {
	c.Origin = nil
	c.FailedWith = nil
}
