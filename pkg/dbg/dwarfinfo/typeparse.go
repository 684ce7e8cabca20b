package dwarfinfo

import (
	"debug/dwarf"
	"fmt"

	"github.com/dbg-project/dbg/pkg/dbg/types"
)

// typeIDForOffset resolves a DWARF type DIE offset to a types.ID, applying
// the slot-reservation cycle-break protocol spec.md §3/§9 describes: the
// offset is cached before recursing into the DIE's own children, so a
// self-referential struct (one with a pointer to itself) resolves the
// inner reference to the reserved placeholder instead of looping forever.
//
// Grounded on _examples/original_source/src/dwarf_parser.rs's
// process_type, which keeps exactly this visited_types map.
func (info *Info) typeIDForOffset(off dwarf.Offset) (types.ID, error) {
	if id, ok := info.typeByOffset[off]; ok {
		return id, nil
	}

	id := info.Types.Reserve()
	info.typeByOffset[off] = id

	built, err := info.buildType(off)
	if err != nil {
		return 0, err
	}
	if err := info.Types.Replace(id, built); err != nil {
		return 0, err
	}
	return id, nil
}

// optionalTypeRef resolves AttrType when present, defaulting to Void
// (e.g. a pointer with no DW_AT_type is "void *").
func (info *Info) optionalTypeRef(e *dwarf.Entry) (types.ID, error) {
	off, ok := e.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return types.Void, nil
	}
	return info.typeIDForOffset(off)
}

func (info *Info) buildType(off dwarf.Offset) (types.Type, error) {
	r := info.Image.DWARF().Reader()
	r.Seek(off)
	e, err := r.Next()
	if err != nil {
		return types.Type{}, fmt.Errorf("dwarf: seek type %#x: %w", off, err)
	}
	if e == nil {
		return types.Type{}, fmt.Errorf("dwarf: no entry at offset %#x", off)
	}

	switch e.Tag {
	case dwarf.TagBaseType:
		return info.buildBaseType(e)
	case dwarf.TagConstType:
		elem, err := info.optionalTypeRef(e)
		if err != nil {
			return types.Type{}, err
		}
		return types.Type{Kind: types.KindConst, Elem: elem}, nil
	case dwarf.TagVolatileType:
		elem, err := info.optionalTypeRef(e)
		if err != nil {
			return types.Type{}, err
		}
		return types.Type{Kind: types.KindVolatile, Elem: elem}, nil
	case dwarf.TagAtomicType:
		elem, err := info.optionalTypeRef(e)
		if err != nil {
			return types.Type{}, err
		}
		return types.Type{Kind: types.KindAtomic, Elem: elem}, nil
	case dwarf.TagTypedef:
		elem, err := info.optionalTypeRef(e)
		if err != nil {
			return types.Type{}, err
		}
		return types.Type{Kind: types.KindTypedef, Name: attrString(e, dwarf.AttrName), Elem: elem}, nil
	case dwarf.TagPointerType:
		return info.buildPointerType(e)
	case dwarf.TagArrayType:
		return info.buildArrayType(r, e)
	case dwarf.TagStructType, dwarf.TagClassType:
		return info.buildStructType(r, e)
	case dwarf.TagUnionType:
		return info.buildUnionType(r, e)
	case dwarf.TagEnumerationType:
		return info.buildEnumType(r, e)
	case dwarf.TagSubroutineType:
		return info.buildFuncDef(r, e)
	default:
		// Unhandled DIE kinds (e.g. restrict_type, rvalue_reference_type)
		// fall back to Void rather than failing the whole parse.
		return types.Type{Kind: types.KindVoid}, nil
	}
}

func (info *Info) buildBaseType(e *dwarf.Entry) (types.Type, error) {
	size, _ := e.Val(dwarf.AttrByteSize).(int64)
	enc, _ := e.Val(dwarf.AttrEncoding).(int64)
	return types.Type{
		Kind:     types.KindBase,
		Name:     attrString(e, dwarf.AttrName),
		Encoding: dwarfEncoding(enc),
		Size:     uint16(size),
	}, nil
}

// dwarfEncoding maps DW_ATE_* constants to our Encoding enum.
func dwarfEncoding(v int64) types.Encoding {
	switch v {
	case 0x01: // DW_ATE_address
		return types.EncodingAddress
	case 0x02: // DW_ATE_boolean
		return types.EncodingBoolean
	case 0x04: // DW_ATE_float
		return types.EncodingFloat
	case 0x05: // DW_ATE_signed
		return types.EncodingSigned
	case 0x06: // DW_ATE_signed_char
		return types.EncodingSignedChar
	case 0x07: // DW_ATE_unsigned
		return types.EncodingUnsigned
	case 0x08: // DW_ATE_unsigned_char
		return types.EncodingUnsignedChar
	default:
		return types.EncodingUnknown
	}
}

func (info *Info) buildPointerType(e *dwarf.Entry) (types.Type, error) {
	elem, err := info.optionalTypeRef(e)
	if err != nil {
		return types.Type{}, err
	}
	unwound, err := info.Types.Unwind(elem)
	if err != nil {
		return types.Type{}, err
	}
	switch {
	case unwound.Kind == types.KindFuncDef:
		return types.Type{Kind: types.KindFunc, Elem: elem}, nil
	case unwound.Kind == types.KindBase && unwound.Encoding == types.EncodingSignedChar:
		return types.Type{Kind: types.KindString, Elem: elem}, nil
	default:
		return types.Type{Kind: types.KindPointer, Elem: elem}, nil
	}
}

func (info *Info) buildArrayType(r *dwarf.Reader, e *dwarf.Entry) (types.Type, error) {
	elem, err := info.optionalTypeRef(e)
	if err != nil {
		return types.Type{}, err
	}

	var counts []types.ArrayCount
	if e.Children {
		for {
			child, err := r.Next()
			if err != nil {
				return types.Type{}, fmt.Errorf("dwarf: %w", err)
			}
			if child == nil || child.Tag == 0 {
				break
			}
			if child.Tag != dwarf.TagSubrangeType {
				continue
			}
			counts = append(counts, subrangeCount(child))
		}
	}
	if len(counts) == 0 {
		counts = []types.ArrayCount{{Kind: types.CountFlexible}}
	}

	// Multi-dimensional arrays are arrays of arrays: build from the
	// innermost (last) dimension outward so the outermost dimension ends
	// up as the type returned for this DIE's own offset.
	current := elem
	for i := len(counts) - 1; i >= 0; i-- {
		t := types.Type{Kind: types.KindArray, ArrayElem: current, ArrayCount: counts[i]}
		if i == 0 {
			return t, nil
		}
		current = info.Types.Add(t)
	}
	return types.Type{Kind: types.KindArray, ArrayElem: elem, ArrayCount: counts[0]}, nil
}

// subrangeCount does not evaluate exprloc-form DW_AT_count/DW_AT_upper_bound
// (VLA bounds given by a location expression rather than a constant); such
// subranges fall through to CountFlexible. types.CountDynamic is reserved for
// this case but is never produced. See DESIGN.md.
func subrangeCount(e *dwarf.Entry) types.ArrayCount {
	if n, ok := e.Val(dwarf.AttrCount).(int64); ok {
		return types.ArrayCount{Kind: types.CountStatic, Static: uint64(n)}
	}
	upper, hasUpper := e.Val(dwarf.AttrUpperBound).(int64)
	if !hasUpper {
		return types.ArrayCount{Kind: types.CountFlexible}
	}
	lower, hasLower := e.Val(dwarf.AttrLowerBound).(int64)
	if !hasLower {
		lower = 0
	}
	return types.ArrayCount{Kind: types.CountStatic, Static: uint64(upper-lower) + 1}
}

func (info *Info) buildStructType(r *dwarf.Reader, e *dwarf.Entry) (types.Type, error) {
	size, _ := e.Val(dwarf.AttrByteSize).(int64)
	t := types.Type{Kind: types.KindStruct, Name: attrString(e, dwarf.AttrName), Size: uint16(size)}

	if e.Children {
		for {
			child, err := r.Next()
			if err != nil {
				return types.Type{}, fmt.Errorf("dwarf: %w", err)
			}
			if child == nil || child.Tag == 0 {
				break
			}
			if child.Tag != dwarf.TagMember {
				continue
			}
			fieldType, err := info.optionalTypeRef(child)
			if err != nil {
				return types.Type{}, err
			}
			offset, _ := child.Val(dwarf.AttrDataMemberLoc).(int64)
			t.Fields = append(t.Fields, types.Field{
				Name:   attrString(child, dwarf.AttrName),
				Type:   fieldType,
				Offset: uint64(offset),
			})
		}
	}
	return t, nil
}

func (info *Info) buildUnionType(r *dwarf.Reader, e *dwarf.Entry) (types.Type, error) {
	size, _ := e.Val(dwarf.AttrByteSize).(int64)
	t := types.Type{Kind: types.KindUnion, Name: attrString(e, dwarf.AttrName), Size: uint16(size)}

	if e.Children {
		for {
			child, err := r.Next()
			if err != nil {
				return types.Type{}, fmt.Errorf("dwarf: %w", err)
			}
			if child == nil || child.Tag == 0 {
				break
			}
			if child.Tag != dwarf.TagMember {
				continue
			}
			fieldType, err := info.optionalTypeRef(child)
			if err != nil {
				return types.Type{}, err
			}
			t.UnionFields = append(t.UnionFields, types.UnionField{
				Name: attrString(child, dwarf.AttrName),
				Type: fieldType,
			})
		}
	}
	return t, nil
}

func (info *Info) buildEnumType(r *dwarf.Reader, e *dwarf.Entry) (types.Type, error) {
	size, _ := e.Val(dwarf.AttrByteSize).(int64)
	enc := types.EncodingSigned
	if u, err := info.optionalTypeRef(e); err == nil && u != types.Void {
		if base, err := info.Types.Get(u); err == nil && base.Kind == types.KindBase {
			enc = base.Encoding
			if size == 0 {
				size = int64(base.Size)
			}
		}
	}
	t := types.Type{Kind: types.KindEnum, Name: attrString(e, dwarf.AttrName), Encoding: enc, Size: uint16(size)}

	if e.Children {
		for {
			child, err := r.Next()
			if err != nil {
				return types.Type{}, fmt.Errorf("dwarf: %w", err)
			}
			if child == nil || child.Tag == 0 {
				break
			}
			if child.Tag != dwarf.TagEnumerator {
				continue
			}
			value, _ := child.Val(dwarf.AttrConstValue).(int64)
			t.Variants = append(t.Variants, types.EnumVariant{
				Name:  attrString(child, dwarf.AttrName),
				Value: value,
			})
		}
	}
	return t, nil
}

func (info *Info) buildFuncDef(r *dwarf.Reader, e *dwarf.Entry) (types.Type, error) {
	ret, err := info.optionalTypeRef(e)
	if err != nil {
		return types.Type{}, err
	}
	t := types.Type{Kind: types.KindFuncDef, Name: attrString(e, dwarf.AttrName), ReturnType: ret}

	if e.Children {
		for {
			child, err := r.Next()
			if err != nil {
				return types.Type{}, fmt.Errorf("dwarf: %w", err)
			}
			if child == nil || child.Tag == 0 {
				break
			}
			if child.Tag != dwarf.TagFormalParameter {
				continue
			}
			argType, err := info.optionalTypeRef(child)
			if err != nil {
				return types.Type{}, err
			}
			t.Args = append(t.Args, argType)
		}
	}
	return t, nil
}
