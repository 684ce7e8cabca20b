package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	s := NewStore()
	assert.Equal(t, 1, s.Len())

	voidType, err := s.Get(Void)
	require.NoError(t, err)
	assert.Equal(t, KindVoid, voidType.Kind)
}

func TestStore_Add(t *testing.T) {
	s := NewStore()
	id := s.Add(Type{Kind: KindBase, Name: "int", Encoding: EncodingSigned, Size: 4})

	assert.NotEqual(t, Void, id)
	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "int", got.Name)
	assert.Equal(t, uint16(4), got.Size)
}

func TestStore_ReserveAndReplace(t *testing.T) {
	s := NewStore()
	id := s.Reserve()

	placeholder, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, KindVoid, placeholder.Kind)

	err = s.Replace(id, Type{Kind: KindBase, Name: "long", Size: 8})
	require.NoError(t, err)

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "long", got.Name)

	t.Run("replace invalid id", func(t *testing.T) {
		err := s.Replace(ID(999), Type{Kind: KindBase})
		assert.Error(t, err)
	})
}

func TestStore_Get(t *testing.T) {
	s := NewStore()

	t.Run("valid id", func(t *testing.T) {
		_, err := s.Get(Void)
		assert.NoError(t, err)
	})

	t.Run("negative id", func(t *testing.T) {
		_, err := s.Get(ID(-1))
		assert.Error(t, err)
	})

	t.Run("out of range id", func(t *testing.T) {
		_, err := s.Get(ID(1000))
		assert.Error(t, err)
	})
}

func TestStore_Unwind(t *testing.T) {
	s := NewStore()
	base := s.Add(Type{Kind: KindBase, Name: "int", Size: 4})
	c := s.Add(Type{Kind: KindConst, Elem: base})
	v := s.Add(Type{Kind: KindVolatile, Elem: c})
	td := s.Add(Type{Kind: KindTypedef, Name: "myint", Elem: v})

	got, err := s.Unwind(td)
	require.NoError(t, err)
	assert.Equal(t, KindBase, got.Kind)
	assert.Equal(t, "int", got.Name)

	t.Run("non-qualifier returns itself", func(t *testing.T) {
		got, err := s.Unwind(base)
		require.NoError(t, err)
		assert.Equal(t, KindBase, got.Kind)
	})
}

func TestStore_SizeOf(t *testing.T) {
	s := NewStore()
	intType := s.Add(Type{Kind: KindBase, Size: 4})
	ptrType := s.Add(Type{Kind: KindPointer, Elem: intType})
	arrType := s.Add(Type{
		Kind:       KindArray,
		ArrayElem:  intType,
		ArrayCount: ArrayCount{Kind: CountStatic, Static: 10},
	})
	flexArrType := s.Add(Type{
		Kind:       KindArray,
		ArrayElem:  intType,
		ArrayCount: ArrayCount{Kind: CountFlexible},
	})
	typedefType := s.Add(Type{Kind: KindTypedef, Elem: intType})

	t.Run("base type", func(t *testing.T) {
		sz, err := s.SizeOf(intType)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), sz)
	})

	t.Run("pointer is word size", func(t *testing.T) {
		sz, err := s.SizeOf(ptrType)
		require.NoError(t, err)
		assert.Equal(t, uint64(WordSize), sz)
	})

	t.Run("static array", func(t *testing.T) {
		sz, err := s.SizeOf(arrType)
		require.NoError(t, err)
		assert.Equal(t, uint64(40), sz)
	})

	t.Run("flexible array has no size", func(t *testing.T) {
		_, err := s.SizeOf(flexArrType)
		assert.Error(t, err)
	})

	t.Run("typedef forwards to element", func(t *testing.T) {
		sz, err := s.SizeOf(typedefType)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), sz)
	})

	t.Run("void has no size", func(t *testing.T) {
		_, err := s.SizeOf(Void)
		assert.Error(t, err)
	})
}

func TestStore_GetTypeRef(t *testing.T) {
	s := NewStore()
	intType := s.Add(Type{Kind: KindBase, Size: 4})

	ptr1 := s.GetTypeRef(intType)
	ptr2 := s.GetTypeRef(intType)

	assert.Equal(t, ptr1, ptr2, "repeated calls must memoize the same pointer type")

	got, err := s.Get(ptr1)
	require.NoError(t, err)
	assert.Equal(t, KindPointer, got.Kind)
	assert.Equal(t, intType, got.Elem)
}

func TestStore_Len(t *testing.T) {
	s := NewStore()
	assert.Equal(t, 1, s.Len())
	s.Add(Type{Kind: KindBase})
	assert.Equal(t, 2, s.Len())
}

func TestError_Error(t *testing.T) {
	err := &Error{ID: 42, Msg: "boom"}
	assert.Contains(t, err.Error(), "42")
	assert.Contains(t, err.Error(), "boom")
}
