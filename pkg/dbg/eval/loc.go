// Package eval implements the variable evaluator described in spec.md
// §4.9: resolving a dotted/prefixed path to a typed memory location by
// evaluating DWARF location expressions and walking the type graph, then
// reading or writing the resolved location.
//
// Grounded on _examples/original_source/src/var.rs and
// _examples/original_source/src/location.rs for the TypedValueLoc
// variants and path-walking rules, and on
// _examples/Manu343726-cucaracha/pkg/hw/cpu/debugger/eval.go for the
// general shape of a path-resolving evaluator sitting on top of a
// register/memory-backed execution context.
package eval

import (
	"github.com/dbg-project/dbg/pkg/dbg/dbgerr"
	"github.com/dbg-project/dbg/pkg/dbg/types"
)

// LocKind discriminates TypedValueLoc's location variant, per spec.md §3.
type LocKind int

const (
	LocRegister LocKind = iota
	LocAddress
	LocValue
)

// Loc is the location half of a TypedValueLoc.
type Loc struct {
	Kind LocKind

	Register   uint8 // LocRegister
	ByteOffset int64 // LocRegister

	Address uint64 // LocAddress

	Value uint64 // LocValue (DWARF "implicit literal")
}

// WithOffset adds a byte offset, legal for Register and Address, illegal
// for Value (an implicit literal has no addressable sub-parts).
func (l Loc) WithOffset(k int64) (Loc, error) {
	switch l.Kind {
	case LocRegister:
		l.ByteOffset += k
		return l, nil
	case LocAddress:
		l.Address = uint64(int64(l.Address) + k)
		return l, nil
	default:
		return Loc{}, dbgerr.ErrInvalidLocation
	}
}

// TypedValueLoc pairs a location with the type id describing how to
// interpret the bytes found there.
type TypedValueLoc struct {
	Loc  Loc
	Type types.ID
}
