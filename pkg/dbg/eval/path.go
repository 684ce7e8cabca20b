package eval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dbg-project/dbg/pkg/dbg/dbgerr"
	"github.com/dbg-project/dbg/pkg/dbg/types"
)

// pathOpKind discriminates the two postfix operators spec.md §4.9's
// grammar allows: `.name` field access and `[n]` array indexing.
type pathOpKind int

const (
	opField pathOpKind = iota
	opIndex
)

type pathOp struct {
	kind  pathOpKind
	field string
	index uint64
}

// parsePath splits a variable path of the form
// ('*'|'&')* IDENT ('.' IDENT | '[' DECIMAL ']')* into its prefix
// operators (in scan order, left to right), the base identifier, and the
// postfix operator chain, per spec.md §4.9.
func parsePath(path string) (prefixes []byte, ident string, ops []pathOp, err error) {
	i := 0
	for i < len(path) && (path[i] == '*' || path[i] == '&') {
		prefixes = append(prefixes, path[i])
		i++
	}

	start := i
	for i < len(path) && isIdentByte(path[i]) {
		i++
	}
	if i == start {
		return nil, "", nil, fmt.Errorf("%w: %q: expected an identifier", dbgerr.ErrInvalidPath, path)
	}
	ident = path[start:i]

	for i < len(path) {
		switch path[i] {
		case '.':
			i++
			s := i
			for i < len(path) && isIdentByte(path[i]) {
				i++
			}
			if i == s {
				return nil, "", nil, fmt.Errorf("%w: %q: expected a field name after '.'", dbgerr.ErrInvalidPath, path)
			}
			ops = append(ops, pathOp{kind: opField, field: path[s:i]})
		case '[':
			i++
			s := i
			for i < len(path) && path[i] >= '0' && path[i] <= '9' {
				i++
			}
			if i == s || i >= len(path) || path[i] != ']' {
				return nil, "", nil, fmt.Errorf("%w: %q: malformed array index", dbgerr.ErrInvalidPath, path)
			}
			n, convErr := strconv.ParseUint(path[s:i], 10, 64)
			if convErr != nil {
				return nil, "", nil, fmt.Errorf("%w: %q: %v", dbgerr.ErrInvalidPath, path, convErr)
			}
			i++ // consume ']'
			ops = append(ops, pathOp{kind: opIndex, index: n})
		default:
			return nil, "", nil, fmt.Errorf("%w: %q: unexpected character %q", dbgerr.ErrInvalidPath, path, path[i])
		}
	}
	return prefixes, ident, ops, nil
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// Resolve walks path against the tracee's current scope and returns the
// resolved location plus its type, per spec.md §4.9's three-step
// algorithm: find the base variable, walk the postfix chain, then apply
// the prefix operators innermost-first.
func (ev *Evaluator) Resolve(path string) (TypedValueLoc, error) {
	prefixes, ident, ops, err := parsePath(strings.TrimSpace(path))
	if err != nil {
		return TypedValueLoc{}, err
	}

	fn, err := ev.currentFunction()
	if err != nil {
		return TypedValueLoc{}, err
	}

	v, ok := ev.lf.GetVar(ident, fn)
	if !ok {
		return TypedValueLoc{}, dbgerr.VarNotFound(ident)
	}

	tv, err := ev.locate(v, fn)
	if err != nil {
		return TypedValueLoc{}, err
	}

	for _, op := range ops {
		tv, err = ev.applyPathOp(tv, op)
		if err != nil {
			return TypedValueLoc{}, err
		}
	}

	// Prefix operators are scanned left to right but apply innermost
	// (closest to the identifier) first, so walk the slice in reverse.
	for i := len(prefixes) - 1; i >= 0; i-- {
		tv, err = ev.applyPrefixOp(tv, prefixes[i])
		if err != nil {
			return TypedValueLoc{}, err
		}
	}

	return tv, nil
}

// applyPathOp resolves one `.field` or `[index]` step, auto-dereferencing
// through a pointer first when the current type is one, per spec.md
// §4.9's "pointer auto-deref" rule (`p.field` behaves like `p->field`).
func (ev *Evaluator) applyPathOp(tv TypedValueLoc, op pathOp) (TypedValueLoc, error) {
	store := ev.info.Types
	t, err := store.Unwind(tv.Type)
	if err != nil {
		return TypedValueLoc{}, err
	}

	if t.Kind == types.KindPointer || t.Kind == types.KindString {
		addr, err := ev.readPointerValue(tv.Loc)
		if err != nil {
			return TypedValueLoc{}, err
		}
		tv = TypedValueLoc{Loc: Loc{Kind: LocAddress, Address: addr}, Type: t.Elem}
		t, err = store.Unwind(tv.Type)
		if err != nil {
			return TypedValueLoc{}, err
		}
	}

	switch op.kind {
	case opField:
		switch t.Kind {
		case types.KindStruct:
			for _, f := range t.Fields {
				if f.Name == op.field {
					loc, err := tv.Loc.WithOffset(int64(f.Offset))
					if err != nil {
						return TypedValueLoc{}, err
					}
					return TypedValueLoc{Loc: loc, Type: f.Type}, nil
				}
			}
			return TypedValueLoc{}, fmt.Errorf("%w: no field %q", dbgerr.ErrInvalidPath, op.field)
		case types.KindUnion:
			for _, f := range t.UnionFields {
				if f.Name == op.field {
					return TypedValueLoc{Loc: tv.Loc, Type: f.Type}, nil
				}
			}
			return TypedValueLoc{}, fmt.Errorf("%w: no field %q", dbgerr.ErrInvalidPath, op.field)
		default:
			return TypedValueLoc{}, fmt.Errorf("%w: %q is not a struct or union", dbgerr.ErrInvalidPath, op.field)
		}

	case opIndex:
		if t.Kind != types.KindArray {
			return TypedValueLoc{}, fmt.Errorf("%w: cannot index a non-array type", dbgerr.ErrInvalidPath)
		}
		elemSize, err := store.SizeOf(t.ArrayElem)
		if err != nil {
			return TypedValueLoc{}, err
		}
		loc, err := tv.Loc.WithOffset(int64(op.index * elemSize))
		if err != nil {
			return TypedValueLoc{}, err
		}
		return TypedValueLoc{Loc: loc, Type: t.ArrayElem}, nil

	default:
		return TypedValueLoc{}, dbgerr.ErrInvalidPath
	}
}

// applyPrefixOp applies one leading '*' (dereference) or '&' (address-of)
// operator, per spec.md §4.9 step 4.
func (ev *Evaluator) applyPrefixOp(tv TypedValueLoc, op byte) (TypedValueLoc, error) {
	store := ev.info.Types

	switch op {
	case '*':
		t, err := store.Unwind(tv.Type)
		if err != nil {
			return TypedValueLoc{}, err
		}
		if t.Kind != types.KindPointer && t.Kind != types.KindString && t.Kind != types.KindFunc {
			return TypedValueLoc{}, fmt.Errorf("%w: cannot dereference a non-pointer type", dbgerr.ErrInvalidPath)
		}
		addr, err := ev.readPointerValue(tv.Loc)
		if err != nil {
			return TypedValueLoc{}, err
		}
		return TypedValueLoc{Loc: Loc{Kind: LocAddress, Address: addr}, Type: t.Elem}, nil

	case '&':
		if tv.Loc.Kind != LocAddress {
			return TypedValueLoc{}, fmt.Errorf("%w: cannot take the address of a non-addressable location", dbgerr.ErrInvalidPath)
		}
		ptrType := store.GetTypeRef(tv.Type)
		return TypedValueLoc{Loc: Loc{Kind: LocValue, Value: tv.Loc.Address}, Type: ptrType}, nil

	default:
		return TypedValueLoc{}, dbgerr.ErrInvalidPath
	}
}
