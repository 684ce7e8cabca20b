package eval

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/dbg-project/dbg/pkg/dbg/dbgerr"
	"github.com/dbg-project/dbg/pkg/dbg/types"
)

// TypeName renders a type the way a C declaration would name it, used as
// the left-hand side of print's "<type> <path> = <value>" output.
func (ev *Evaluator) TypeName(id types.ID) string {
	store := ev.info.Types
	t, err := store.Get(id)
	if err != nil {
		return "?"
	}
	switch t.Kind {
	case types.KindVoid:
		return "void"
	case types.KindBase:
		return t.Name
	case types.KindConst:
		return "const " + ev.TypeName(t.Elem)
	case types.KindVolatile:
		return "volatile " + ev.TypeName(t.Elem)
	case types.KindAtomic:
		return "_Atomic " + ev.TypeName(t.Elem)
	case types.KindTypedef:
		return t.Name
	case types.KindPointer:
		return ev.TypeName(t.Elem) + "*"
	case types.KindString:
		return "char*"
	case types.KindArray:
		n := "?"
		if t.ArrayCount.Kind == types.CountStatic {
			n = strconv.FormatUint(t.ArrayCount.Static, 10)
		} else if t.ArrayCount.Kind == types.CountFlexible {
			n = ""
		}
		return fmt.Sprintf("%s[%s]", ev.TypeName(t.ArrayElem), n)
	case types.KindStruct:
		if t.Name == "" {
			return "struct"
		}
		return t.Name
	case types.KindUnion:
		if t.Name == "" {
			return "union"
		}
		return t.Name
	case types.KindEnum:
		if t.Name == "" {
			return "enum"
		}
		return "enum " + t.Name
	case types.KindFuncDef:
		return t.Name
	case types.KindFunc:
		return ev.TypeName(t.Elem) + "*"
	default:
		return "?"
	}
}

// Format resolves path and renders "<type> <path> = <value>", per the
// print-format examples in spec.md §6/§8.
func (ev *Evaluator) Format(path string) (string, error) {
	tv, err := ev.Resolve(path)
	if err != nil {
		return "", err
	}
	val, err := ev.formatValue(tv)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s = %s", ev.TypeName(tv.Type), path, val), nil
}

// FormatAll renders every variable in scope (the current function's
// locals plus globals), sorted by name, for a bare `print` with no path.
func (ev *Evaluator) FormatAll() ([]string, error) {
	fn, err := ev.currentFunction()
	if err != nil {
		return nil, err
	}
	vars := ev.lf.GetVars(fn)
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		line, err := ev.Format(name)
		if err != nil {
			out = append(out, fmt.Sprintf("%s = <error: %v>", name, err))
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

// formatValue renders just the value half, recursing into struct/array
// members without repeating their type name, matching the "{ a = 5, s =
// "hello" }" nested style spec.md §8 shows.
func (ev *Evaluator) formatValue(tv TypedValueLoc) (string, error) {
	store := ev.info.Types
	t, err := store.Unwind(tv.Type)
	if err != nil {
		return "", err
	}

	switch t.Kind {
	case types.KindBase:
		size, err := store.SizeOf(tv.Type)
		if err != nil {
			return "", err
		}
		buf, err := ev.readBytes(tv.Loc, int(size))
		if err != nil {
			return "", err
		}
		return formatBase(t, buf), nil

	case types.KindEnum:
		size, err := store.SizeOf(tv.Type)
		if err != nil {
			return "", err
		}
		buf, err := ev.readBytes(tv.Loc, int(size))
		if err != nil {
			return "", err
		}
		v := decodeInt(buf, t.Encoding)
		for _, variant := range t.Variants {
			if variant.Value == v {
				return variant.Name, nil
			}
		}
		return strconv.FormatInt(v, 10), nil

	case types.KindPointer:
		addr, err := ev.readPointerValue(tv.Loc)
		if err != nil {
			return "", err
		}
		if addr == 0 {
			return "null", nil
		}
		return fmt.Sprintf("0x%x", addr), nil

	case types.KindString:
		addr, err := ev.readPointerValue(tv.Loc)
		if err != nil {
			return "", err
		}
		if addr == 0 {
			return "null", nil
		}
		s, err := ev.ctrl.ReadCString(addr)
		if err != nil {
			return "", err
		}
		return strconv.Quote(s), nil

	case types.KindFunc:
		addr, err := ev.readPointerValue(tv.Loc)
		if err != nil {
			return "", err
		}
		if fn, ok := ev.lf.FindFuncByAddress(addr); ok {
			return fn.Name, nil
		}
		return fmt.Sprintf("0x%x", addr), nil

	case types.KindStruct:
		if tv.Loc.Kind != LocAddress {
			return "", fmt.Errorf("%w: struct values must live in memory", dbgerr.ErrInvalidLocation)
		}
		parts := make([]string, 0, len(t.Fields))
		for _, f := range t.Fields {
			loc, err := tv.Loc.WithOffset(int64(f.Offset))
			if err != nil {
				return "", err
			}
			v, err := ev.formatValue(TypedValueLoc{Loc: loc, Type: f.Type})
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%s = %s", f.Name, v))
		}
		return "{ " + strings.Join(parts, ", ") + " }", nil

	case types.KindUnion:
		if tv.Loc.Kind != LocAddress {
			return "", fmt.Errorf("%w: union values must live in memory", dbgerr.ErrInvalidLocation)
		}
		parts := make([]string, 0, len(t.UnionFields))
		for _, f := range t.UnionFields {
			v, err := ev.formatValue(TypedValueLoc{Loc: tv.Loc, Type: f.Type})
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%s = %s", f.Name, v))
		}
		return "{ " + strings.Join(parts, ", ") + " }", nil

	case types.KindArray:
		if t.ArrayCount.Kind != types.CountStatic {
			return "", fmt.Errorf("%w: array has no statically known length", dbgerr.ErrInvalidValue)
		}
		if tv.Loc.Kind != LocAddress {
			return "", fmt.Errorf("%w: array values must live in memory", dbgerr.ErrInvalidLocation)
		}
		elemSize, err := store.SizeOf(t.ArrayElem)
		if err != nil {
			return "", err
		}
		parts := make([]string, 0, t.ArrayCount.Static)
		for i := uint64(0); i < t.ArrayCount.Static; i++ {
			loc, err := tv.Loc.WithOffset(int64(i * elemSize))
			if err != nil {
				return "", err
			}
			v, err := ev.formatValue(TypedValueLoc{Loc: loc, Type: t.ArrayElem})
			if err != nil {
				return "", err
			}
			parts = append(parts, v)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil

	default:
		return "", fmt.Errorf("%w: no printable representation for this type", dbgerr.ErrInvalidValue)
	}
}

func formatBase(t types.Type, buf []byte) string {
	switch t.Encoding {
	case types.EncodingBoolean:
		for _, b := range buf {
			if b != 0 {
				return "true"
			}
		}
		return "false"
	case types.EncodingFloat:
		switch len(buf) {
		case 4:
			return strconv.FormatFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))), 'g', -1, 32)
		case 8:
			return strconv.FormatFloat(math.Float64frombits(binary.LittleEndian.Uint64(buf)), 'g', -1, 64)
		default:
			return "0"
		}
	case types.EncodingSigned, types.EncodingSignedChar:
		return strconv.FormatInt(decodeInt(buf, t.Encoding), 10)
	default: // Unsigned, UnsignedChar, Address, Unknown
		return strconv.FormatUint(decodeUint(buf), 10)
	}
}

// decodeInt sign-extends buf (1/2/4/8 little-endian bytes) per the base
// type's size.
func decodeInt(buf []byte, enc types.Encoding) int64 {
	u := decodeUint(buf)
	switch len(buf) {
	case 1:
		return int64(int8(u))
	case 2:
		return int64(int16(u))
	case 4:
		return int64(int32(u))
	default:
		return int64(u)
	}
}

func decodeUint(buf []byte) uint64 {
	var padded [8]byte
	copy(padded[:], buf)
	return binary.LittleEndian.Uint64(padded[:])
}

// Set parses valueStr against the type at path and writes the result, per
// spec.md §6's value-format rules and §4.9's enum/function-pointer/string
// write rules.
func (ev *Evaluator) Set(path string, valueStr string) error {
	tv, err := ev.Resolve(path)
	if err != nil {
		return err
	}
	store := ev.info.Types
	t, err := store.Unwind(tv.Type)
	if err != nil {
		return err
	}

	switch t.Kind {
	case types.KindString:
		addr, err := ev.allocString(valueStr)
		if err != nil {
			return err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], addr)
		return ev.writeBytes(tv.Loc, buf[:])

	case types.KindFunc:
		fn, ok := ev.lf.FunctionByName(valueStr)
		if !ok {
			return fmt.Errorf("%w: no function named %q", dbgerr.ErrInvalidValue, valueStr)
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], fn.Low)
		return ev.writeBytes(tv.Loc, buf[:])

	case types.KindEnum:
		for _, variant := range t.Variants {
			if variant.Name == valueStr {
				size, err := store.SizeOf(tv.Type)
				if err != nil {
					return err
				}
				buf := encodeInt(variant.Value, int(size))
				return ev.writeBytes(tv.Loc, buf)
			}
		}
		return fmt.Errorf("%w: %q is not a variant of %s", dbgerr.ErrInvalidValue, valueStr, ev.TypeName(tv.Type))

	case types.KindPointer:
		if valueStr == "null" {
			var buf [8]byte
			return ev.writeBytes(tv.Loc, buf[:])
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(valueStr, "0x"), 16, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not a valid pointer literal", dbgerr.ErrInvalidValue, valueStr)
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], addr)
		return ev.writeBytes(tv.Loc, buf[:])

	case types.KindBase:
		size, err := store.SizeOf(tv.Type)
		if err != nil {
			return err
		}
		buf, err := encodeBase(t, valueStr, int(size))
		if err != nil {
			return err
		}
		return ev.writeBytes(tv.Loc, buf)

	default:
		return fmt.Errorf("%w: %s is not settable", dbgerr.ErrInvalidValue, ev.TypeName(tv.Type))
	}
}

func encodeBase(t types.Type, valueStr string, size int) ([]byte, error) {
	switch t.Encoding {
	case types.EncodingBoolean:
		switch valueStr {
		case "true":
			return encodeUint(1, size), nil
		case "false":
			return encodeUint(0, size), nil
		default:
			return nil, fmt.Errorf("%w: %q is not true/false", dbgerr.ErrInvalidValue, valueStr)
		}
	case types.EncodingFloat:
		f, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", dbgerr.ErrInvalidValue, valueStr)
		}
		buf := make([]byte, size)
		if size == 4 {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
		} else {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		}
		return buf, nil
	case types.EncodingSigned, types.EncodingSignedChar:
		v, err := strconv.ParseInt(valueStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", dbgerr.ErrInvalidValue, valueStr)
		}
		return encodeInt(v, size), nil
	default:
		v, err := strconv.ParseUint(valueStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", dbgerr.ErrInvalidValue, valueStr)
		}
		return encodeUint(v, size), nil
	}
}

func encodeInt(v int64, size int) []byte {
	return encodeUint(uint64(v), size)
}

func encodeUint(v uint64, size int) []byte {
	var full [8]byte
	binary.LittleEndian.PutUint64(full[:], v)
	if size > 8 {
		size = 8
	}
	return full[:size]
}

// allocString writes a JSON-quoted string literal's decoded bytes plus a
// trailing NUL into freshly allocated tracee memory, per spec.md §4.9's
// string-write rule.
func (ev *Evaluator) allocString(literal string) (uint64, error) {
	s, err := strconv.Unquote(literal)
	if err != nil {
		// Accept a bare unquoted value too, for convenience at the prompt.
		s = literal
	}
	data := append([]byte(s), 0)
	addr, err := ev.ctrl.AllocInTracee(uint64(len(data)))
	if err != nil {
		return 0, err
	}
	if err := ev.ctrl.WriteMemory(addr, data); err != nil {
		return 0, err
	}
	return addr, nil
}
