// Package types implements the append-only type store described in
// spec.md §3/§4.2: an integer-keyed vector of type nodes with cycle
// breaking via slot reservation, used by the DWARF parser to build the
// program's type graph once and have it stay stable for the life of the
// session.
//
// Grounded on _examples/original_source/src/types.rs (TypeStorage), with
// the Array variant's Static/Dynamic/Flexible count generalized per
// spec.md §3, and field/variant slices kept as plain Go slices rather than
// Rc<Vec<..>> since the store is single-owner for the session's lifetime.
package types

import "fmt"

// ID is an opaque handle into a Store. Zero is reserved for Void.
type ID int

// Void is the reserved id for the void/no-type placeholder.
const Void ID = 0

// WordSize is the pointer width on x86-64.
const WordSize = 8

// Encoding mirrors the DWARF base-type encodings spec.md references
// (DW_ATE_*): boolean, signed, unsigned, float, signed-char, and so on.
type Encoding uint8

const (
	EncodingUnknown Encoding = iota
	EncodingAddress
	EncodingBoolean
	EncodingFloat
	EncodingSigned
	EncodingSignedChar
	EncodingUnsigned
	EncodingUnsignedChar
)

// Kind discriminates the Type variants in spec.md §3.
type Kind int

const (
	KindVoid Kind = iota
	KindBase
	KindConst
	KindVolatile
	KindAtomic
	KindTypedef
	KindPointer
	KindString
	KindArray
	KindStruct
	KindUnion
	KindEnum
	KindFuncDef
	KindFunc
)

// ArrayCountKind discriminates how an Array's element count is known.
type ArrayCountKind int

const (
	// CountStatic means Count holds the element count directly.
	CountStatic ArrayCountKind = iota
	// CountDynamic means the count comes from evaluating the location
	// expression named by CountRef at print time (DW_AT_count as an
	// exprloc rather than a constant).
	CountDynamic
	// CountFlexible means this is a C99 flexible array member with no
	// statically known length ("char data[];").
	CountFlexible
)

// ArrayCount describes an array's element count, per spec.md §3.
type ArrayCount struct {
	Kind     ArrayCountKind
	Static   uint64
	CountRef EntryRef // valid only when Kind == CountDynamic
}

// EntryRef points back into DWARF: the (unit, entry) pair needed to recover
// a DIE's attributes lazily, used for dynamic array bounds and for
// Variable/Function entries (spec.md §3). As dwarfinfo fills it in,
// UnitOffset holds the entry's own offset (the same value as EntryOffset),
// not the offset of its compile unit.
type EntryRef struct {
	UnitOffset  int64
	EntryOffset int64
}

// Field is one member of a Struct.
type Field struct {
	Name   string
	Type   ID
	Offset uint64
}

// UnionField is one member of a Union; unions have no declared offset,
// all fields live at offset 0.
type UnionField struct {
	Name string
	Type ID
}

// EnumVariant is one named value of an Enum.
type EnumVariant struct {
	Name  string
	Value int64
}

// Type is one node of the type graph. Exactly one of the variant-specific
// groups of fields is meaningful, selected by Kind.
type Type struct {
	Kind Kind

	// Base
	Name     string
	Encoding Encoding
	Size     uint16

	// Const/Volatile/Atomic/Typedef/Pointer/String/Func: wrapped/pointee type
	Elem ID

	// Array
	ArrayElem  ID
	ArrayCount ArrayCount

	// Struct/Union
	Fields      []Field
	UnionFields []UnionField

	// Enum
	Variants []EnumVariant

	// FuncDef
	ReturnType ID
	Args       []ID
}

// Error is returned for invalid type ids or type-graph operations that
// cannot be satisfied (e.g. size-of void).
type Error struct {
	ID  ID
	Msg string
}

func (e *Error) Error() string { return fmt.Sprintf("type %d: %s", e.ID, e.Msg) }

// Store is the append-only vector of Type nodes. The zero value is not
// usable; use NewStore.
type Store struct {
	types []Type

	// ptrOf memoizes Pointer(t) -> id so get_type_ref doesn't create
	// duplicate pointer types for the same pointee, mirroring
	// TypeStorage::get_type_ref in the original source.
	ptrOf map[ID]ID
}

// NewStore returns a Store with slot 0 reserved for Void.
func NewStore() *Store {
	return &Store{
		types: []Type{{Kind: KindVoid}},
		ptrOf: make(map[ID]ID),
	}
}

// Add appends a new type and returns its id.
func (s *Store) Add(t Type) ID {
	s.types = append(s.types, t)
	return ID(len(s.types) - 1)
}

// Reserve appends a Void placeholder and returns its id, for the
// cycle-breaking protocol: the parser must call Reserve before recursing
// into a type DIE's children, record the DIE offset -> id mapping, and
// later call Replace once the node is fully built. Recursive references
// that resolve to the same DIE before Replace runs will see the
// placeholder id and not recurse infinitely.
func (s *Store) Reserve() ID {
	return s.Add(Type{Kind: KindVoid})
}

// Replace fills in a previously reserved slot.
func (s *Store) Replace(id ID, t Type) error {
	if int(id) < 0 || int(id) >= len(s.types) {
		return &Error{ID: id, Msg: "invalid type id"}
	}
	s.types[id] = t
	return nil
}

// Get returns the type at id.
func (s *Store) Get(id ID) (Type, error) {
	if int(id) < 0 || int(id) >= len(s.types) {
		return Type{}, &Error{ID: id, Msg: "invalid type id"}
	}
	return s.types[id], nil
}

// Unwind strips Const/Volatile/Atomic/Typedef wrappers, returning the
// first non-qualifier, non-alias type reached.
func (s *Store) Unwind(id ID) (Type, error) {
	for i := 0; i < 64; i++ { // bounded: the parser never creates qualifier cycles
		t, err := s.Get(id)
		if err != nil {
			return Type{}, err
		}
		switch t.Kind {
		case KindConst, KindVolatile, KindAtomic, KindTypedef:
			id = t.Elem
			continue
		default:
			return t, nil
		}
	}
	return Type{}, &Error{ID: id, Msg: "qualifier chain too deep"}
}

// SizeOf computes a type's size in bytes. Array sizes with a Dynamic or
// Flexible count cannot be computed statically and return an error, as do
// Void and FuncDef, per spec.md §4.2.
func (s *Store) SizeOf(id ID) (uint64, error) {
	t, err := s.Get(id)
	if err != nil {
		return 0, err
	}
	switch t.Kind {
	case KindVoid, KindFuncDef:
		return 0, &Error{ID: id, Msg: "has no size"}
	case KindBase, KindEnum:
		return uint64(t.Size), nil
	case KindStruct:
		return uint64(t.Size), nil
	case KindUnion:
		return uint64(t.Size), nil
	case KindConst, KindVolatile, KindAtomic, KindTypedef:
		return s.SizeOf(t.Elem)
	case KindPointer, KindString, KindFunc:
		return WordSize, nil
	case KindArray:
		if t.ArrayCount.Kind != CountStatic {
			return 0, &Error{ID: id, Msg: "array has no statically known length"}
		}
		elemSize, err := s.SizeOf(t.ArrayElem)
		if err != nil {
			return 0, err
		}
		return elemSize * t.ArrayCount.Static, nil
	default:
		return 0, &Error{ID: id, Msg: "has no size"}
	}
}

// GetTypeRef returns the id of Pointer(id), creating and memoizing it if
// this is the first time it has been requested. Used by the evaluator's
// `&` operator (spec.md §4.9).
func (s *Store) GetTypeRef(id ID) ID {
	if ptr, ok := s.ptrOf[id]; ok {
		return ptr
	}
	ptr := s.Add(Type{Kind: KindPointer, Elem: id})
	s.ptrOf[id] = ptr
	return ptr
}

// Len returns the number of types ever added, including Void.
func (s *Store) Len() int { return len(s.types) }
