package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbg-project/dbg/pkg/dbg/dbgerr"
	"github.com/dbg-project/dbg/pkg/dbg/dwarfinfo"
	"github.com/dbg-project/dbg/pkg/dbg/types"
)

func TestParsePath(t *testing.T) {
	t.Run("bare identifier", func(t *testing.T) {
		prefixes, ident, ops, err := parsePath("x")
		require.NoError(t, err)
		assert.Empty(t, prefixes)
		assert.Equal(t, "x", ident)
		assert.Empty(t, ops)
	})

	t.Run("prefix operators", func(t *testing.T) {
		prefixes, ident, ops, err := parsePath("*&p")
		require.NoError(t, err)
		assert.Equal(t, []byte{'*', '&'}, prefixes)
		assert.Equal(t, "p", ident)
		assert.Empty(t, ops)
	})

	t.Run("postfix field chain", func(t *testing.T) {
		_, ident, ops, err := parsePath("s.a.b")
		require.NoError(t, err)
		assert.Equal(t, "s", ident)
		require.Len(t, ops, 2)
		assert.Equal(t, opField, ops[0].kind)
		assert.Equal(t, "a", ops[0].field)
		assert.Equal(t, opField, ops[1].kind)
		assert.Equal(t, "b", ops[1].field)
	})

	t.Run("postfix index chain", func(t *testing.T) {
		_, ident, ops, err := parsePath("arr[2][10]")
		require.NoError(t, err)
		assert.Equal(t, "arr", ident)
		require.Len(t, ops, 2)
		assert.Equal(t, opIndex, ops[0].kind)
		assert.Equal(t, uint64(2), ops[0].index)
		assert.Equal(t, opIndex, ops[1].kind)
		assert.Equal(t, uint64(10), ops[1].index)
	})

	t.Run("mixed prefix and postfix", func(t *testing.T) {
		prefixes, ident, ops, err := parsePath("*p.items[0]")
		require.NoError(t, err)
		assert.Equal(t, []byte{'*'}, prefixes)
		assert.Equal(t, "p", ident)
		require.Len(t, ops, 2)
		assert.Equal(t, opField, ops[0].kind)
		assert.Equal(t, "items", ops[0].field)
		assert.Equal(t, opIndex, ops[1].kind)
		assert.Equal(t, uint64(0), ops[1].index)
	})

	t.Run("missing identifier", func(t *testing.T) {
		_, _, _, err := parsePath("*")
		assert.ErrorIs(t, err, dbgerr.ErrInvalidPath)
	})

	t.Run("empty path", func(t *testing.T) {
		_, _, _, err := parsePath("")
		assert.Error(t, err)
	})

	t.Run("missing field name after dot", func(t *testing.T) {
		_, _, _, err := parsePath("p.")
		assert.Error(t, err)
	})

	t.Run("malformed array index: no digits", func(t *testing.T) {
		_, _, _, err := parsePath("arr[]")
		assert.Error(t, err)
	})

	t.Run("malformed array index: unterminated", func(t *testing.T) {
		_, _, _, err := parsePath("arr[3")
		assert.Error(t, err)
	})

	t.Run("unexpected trailing character", func(t *testing.T) {
		_, _, _, err := parsePath("p#")
		assert.Error(t, err)
	})
}

func TestIsIdentByte(t *testing.T) {
	assert.True(t, isIdentByte('a'))
	assert.True(t, isIdentByte('Z'))
	assert.True(t, isIdentByte('9'))
	assert.True(t, isIdentByte('_'))
	assert.False(t, isIdentByte('.'))
	assert.False(t, isIdentByte('['))
	assert.False(t, isIdentByte(' '))
}

func TestLocWithOffset(t *testing.T) {
	t.Run("register offset accumulates", func(t *testing.T) {
		l := Loc{Kind: LocRegister, Register: 6, ByteOffset: 4}
		l2, err := l.WithOffset(8)
		require.NoError(t, err)
		assert.Equal(t, int64(12), l2.ByteOffset)
		assert.Equal(t, uint8(6), l2.Register)
	})

	t.Run("address offset adds", func(t *testing.T) {
		l := Loc{Kind: LocAddress, Address: 0x1000}
		l2, err := l.WithOffset(0x10)
		require.NoError(t, err)
		assert.Equal(t, uint64(0x1010), l2.Address)
	})

	t.Run("address offset can go negative relative", func(t *testing.T) {
		l := Loc{Kind: LocAddress, Address: 0x1000}
		l2, err := l.WithOffset(-0x10)
		require.NoError(t, err)
		assert.Equal(t, uint64(0xff0), l2.Address)
	})

	t.Run("value location rejects offsets", func(t *testing.T) {
		l := Loc{Kind: LocValue, Value: 42}
		_, err := l.WithOffset(1)
		assert.Error(t, err)
	})
}

// structFieldEvaluator builds an Evaluator backed only by a types.Store,
// enough to exercise applyPathOp/applyPrefixOp's type-graph walking
// without a live tracee (those paths that don't read through a pointer
// never touch ev.ctrl).
func structFieldEvaluator(t *testing.T) (*Evaluator, *types.Store, types.ID, types.ID) {
	t.Helper()
	store := types.NewStore()

	intType := store.Add(types.Type{Kind: types.KindBase, Name: "int", Encoding: types.EncodingSigned, Size: 4})
	structType := store.Add(types.Type{
		Kind: types.KindStruct,
		Fields: []types.Field{
			{Name: "a", Type: intType, Offset: 0},
			{Name: "b", Type: intType, Offset: 4},
		},
	})

	ev := &Evaluator{info: &dwarfinfo.Info{Types: store}}
	return ev, store, structType, intType
}

func TestApplyPathOp_StructField(t *testing.T) {
	ev, _, structType, intType := structFieldEvaluator(t)
	base := TypedValueLoc{Loc: Loc{Kind: LocAddress, Address: 0x2000}, Type: structType}

	tv, err := ev.applyPathOp(base, pathOp{kind: opField, field: "b"})
	require.NoError(t, err)
	assert.Equal(t, intType, tv.Type)
	assert.Equal(t, uint64(0x2004), tv.Loc.Address)
}

func TestApplyPathOp_StructField_NotFound(t *testing.T) {
	ev, _, structType, _ := structFieldEvaluator(t)
	base := TypedValueLoc{Loc: Loc{Kind: LocAddress, Address: 0x2000}, Type: structType}

	_, err := ev.applyPathOp(base, pathOp{kind: opField, field: "nope"})
	assert.Error(t, err)
}

func TestApplyPathOp_UnionField(t *testing.T) {
	store := types.NewStore()
	intType := store.Add(types.Type{Kind: types.KindBase, Name: "int", Encoding: types.EncodingSigned, Size: 4})
	unionType := store.Add(types.Type{
		Kind:        types.KindUnion,
		UnionFields: []types.UnionField{{Name: "i", Type: intType}},
	})
	ev := &Evaluator{info: &dwarfinfo.Info{Types: store}}

	base := TypedValueLoc{Loc: Loc{Kind: LocAddress, Address: 0x3000}, Type: unionType}
	tv, err := ev.applyPathOp(base, pathOp{kind: opField, field: "i"})
	require.NoError(t, err)
	assert.Equal(t, intType, tv.Type)
	assert.Equal(t, uint64(0x3000), tv.Loc.Address) // union members share the base address
}

func TestApplyPathOp_ArrayIndex(t *testing.T) {
	store := types.NewStore()
	intType := store.Add(types.Type{Kind: types.KindBase, Name: "int", Encoding: types.EncodingSigned, Size: 4})
	arrType := store.Add(types.Type{
		Kind:       types.KindArray,
		ArrayElem:  intType,
		ArrayCount: types.ArrayCount{Kind: types.CountStatic, Static: 10},
	})
	ev := &Evaluator{info: &dwarfinfo.Info{Types: store}}

	base := TypedValueLoc{Loc: Loc{Kind: LocAddress, Address: 0x4000}, Type: arrType}
	tv, err := ev.applyPathOp(base, pathOp{kind: opIndex, index: 3})
	require.NoError(t, err)
	assert.Equal(t, intType, tv.Type)
	assert.Equal(t, uint64(0x400c), tv.Loc.Address) // 0x4000 + 3*4
}

func TestApplyPathOp_IndexOnNonArray(t *testing.T) {
	ev, _, _, intType := structFieldEvaluator(t)
	base := TypedValueLoc{Loc: Loc{Kind: LocAddress, Address: 0x5000}, Type: intType}

	_, err := ev.applyPathOp(base, pathOp{kind: opIndex, index: 0})
	assert.Error(t, err)
}

func TestApplyPrefixOp_AddressOf(t *testing.T) {
	ev, store, _, intType := structFieldEvaluator(t)
	tv := TypedValueLoc{Loc: Loc{Kind: LocAddress, Address: 0x6000}, Type: intType}

	out, err := ev.applyPrefixOp(tv, '&')
	require.NoError(t, err)
	assert.Equal(t, LocValue, out.Loc.Kind)
	assert.Equal(t, uint64(0x6000), out.Loc.Value)

	ptrType, err := store.Get(out.Type)
	require.NoError(t, err)
	assert.Equal(t, types.KindPointer, ptrType.Kind)
	assert.Equal(t, intType, ptrType.Elem)
}

func TestApplyPrefixOp_AddressOf_NotAddressable(t *testing.T) {
	ev, _, _, intType := structFieldEvaluator(t)
	tv := TypedValueLoc{Loc: Loc{Kind: LocValue, Value: 7}, Type: intType}

	_, err := ev.applyPrefixOp(tv, '&')
	assert.Error(t, err)
}
