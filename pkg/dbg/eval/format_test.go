package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbg-project/dbg/pkg/dbg/dwarfinfo"
	"github.com/dbg-project/dbg/pkg/dbg/types"
)

func newTypeNameEvaluator(t *testing.T) (*Evaluator, *types.Store) {
	t.Helper()
	store := types.NewStore()
	return &Evaluator{info: &dwarfinfo.Info{Types: store}}, store
}

func TestTypeName(t *testing.T) {
	ev, store := newTypeNameEvaluator(t)

	intType := store.Add(types.Type{Kind: types.KindBase, Name: "int"})
	assert.Equal(t, "int", ev.TypeName(intType))
	assert.Equal(t, "void", ev.TypeName(types.Void))

	constInt := store.Add(types.Type{Kind: types.KindConst, Elem: intType})
	assert.Equal(t, "const int", ev.TypeName(constInt))

	ptrInt := store.Add(types.Type{Kind: types.KindPointer, Elem: intType})
	assert.Equal(t, "int*", ev.TypeName(ptrInt))

	str := store.Add(types.Type{Kind: types.KindString, Elem: intType})
	assert.Equal(t, "char*", ev.TypeName(str))

	fixedArr := store.Add(types.Type{
		Kind: types.KindArray, ArrayElem: intType,
		ArrayCount: types.ArrayCount{Kind: types.CountStatic, Static: 4},
	})
	assert.Equal(t, "int[4]", ev.TypeName(fixedArr))

	flexArr := store.Add(types.Type{
		Kind: types.KindArray, ArrayElem: intType,
		ArrayCount: types.ArrayCount{Kind: types.CountFlexible},
	})
	assert.Equal(t, "int[]", ev.TypeName(flexArr))

	namedStruct := store.Add(types.Type{Kind: types.KindStruct, Name: "point"})
	assert.Equal(t, "point", ev.TypeName(namedStruct))

	anonStruct := store.Add(types.Type{Kind: types.KindStruct})
	assert.Equal(t, "struct", ev.TypeName(anonStruct))

	namedEnum := store.Add(types.Type{Kind: types.KindEnum, Name: "color"})
	assert.Equal(t, "enum color", ev.TypeName(namedEnum))

	fn := store.Add(types.Type{Kind: types.KindFunc, Elem: intType})
	assert.Equal(t, "int*", ev.TypeName(fn))
}

func TestTypeName_InvalidID(t *testing.T) {
	ev, _ := newTypeNameEvaluator(t)
	assert.Equal(t, "?", ev.TypeName(types.ID(999)))
}

func TestFormatBase(t *testing.T) {
	t.Run("boolean true", func(t *testing.T) {
		assert.Equal(t, "true", formatBase(types.Type{Encoding: types.EncodingBoolean}, []byte{1}))
	})
	t.Run("boolean false", func(t *testing.T) {
		assert.Equal(t, "false", formatBase(types.Type{Encoding: types.EncodingBoolean}, []byte{0}))
	})
	t.Run("signed negative", func(t *testing.T) {
		// -1 as a 4-byte little-endian two's complement value.
		assert.Equal(t, "-1", formatBase(types.Type{Encoding: types.EncodingSigned}, []byte{0xff, 0xff, 0xff, 0xff}))
	})
	t.Run("unsigned", func(t *testing.T) {
		assert.Equal(t, "255", formatBase(types.Type{Encoding: types.EncodingUnsigned}, []byte{0xff}))
	})
	t.Run("float32", func(t *testing.T) {
		// 1.5f little-endian bytes.
		assert.Equal(t, "1.5", formatBase(types.Type{Encoding: types.EncodingFloat}, []byte{0x00, 0x00, 0xc0, 0x3f}))
	})
}

func TestDecodeIntSignExtension(t *testing.T) {
	assert.Equal(t, int64(-1), decodeInt([]byte{0xff}, types.EncodingSignedChar))
	assert.Equal(t, int64(-1), decodeInt([]byte{0xff, 0xff}, types.EncodingSigned))
	assert.Equal(t, int64(-1), decodeInt([]byte{0xff, 0xff, 0xff, 0xff}, types.EncodingSigned))
	assert.Equal(t, int64(127), decodeInt([]byte{0x7f}, types.EncodingSignedChar))
}

func TestDecodeUint(t *testing.T) {
	assert.Equal(t, uint64(0x0201), decodeUint([]byte{0x01, 0x02}))
	assert.Equal(t, uint64(255), decodeUint([]byte{0xff}))
}

func TestEncodeUintAndEncodeInt(t *testing.T) {
	assert.Equal(t, []byte{0xff}, encodeUint(255, 1))
	assert.Equal(t, []byte{0x01, 0x02}, encodeUint(0x0201, 2))
	assert.Equal(t, []byte{0xff}, encodeInt(-1, 1))
}

func TestEncodeBase(t *testing.T) {
	t.Run("boolean true/false", func(t *testing.T) {
		buf, err := encodeBase(types.Type{Encoding: types.EncodingBoolean}, "true", 1)
		require.NoError(t, err)
		assert.Equal(t, []byte{1}, buf)

		buf, err = encodeBase(types.Type{Encoding: types.EncodingBoolean}, "false", 1)
		require.NoError(t, err)
		assert.Equal(t, []byte{0}, buf)
	})

	t.Run("boolean invalid", func(t *testing.T) {
		_, err := encodeBase(types.Type{Encoding: types.EncodingBoolean}, "maybe", 1)
		assert.Error(t, err)
	})

	t.Run("signed", func(t *testing.T) {
		buf, err := encodeBase(types.Type{Encoding: types.EncodingSigned}, "-1", 4)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, buf)
	})

	t.Run("signed invalid", func(t *testing.T) {
		_, err := encodeBase(types.Type{Encoding: types.EncodingSigned}, "abc", 4)
		assert.Error(t, err)
	})

	t.Run("unsigned", func(t *testing.T) {
		buf, err := encodeBase(types.Type{Encoding: types.EncodingUnsigned}, "255", 1)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xff}, buf)
	})

	t.Run("float", func(t *testing.T) {
		buf, err := encodeBase(types.Type{Encoding: types.EncodingFloat}, "1.5", 4)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x00, 0x00, 0xc0, 0x3f}, buf)
	})

	t.Run("float invalid", func(t *testing.T) {
		_, err := encodeBase(types.Type{Encoding: types.EncodingFloat}, "abc", 4)
		assert.Error(t, err)
	})
}
