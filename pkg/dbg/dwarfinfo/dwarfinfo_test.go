package dwarfinfo

import (
	"debug/dwarf"
	"testing"

	"github.com/stretchr/testify/assert"
)

func entryWith(fields ...dwarf.Field) *dwarf.Entry {
	return &dwarf.Entry{Field: fields}
}

func TestAttrString(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		e := entryWith(dwarf.Field{Attr: dwarf.AttrName, Val: "main"})
		assert.Equal(t, "main", attrString(e, dwarf.AttrName))
	})

	t.Run("absent", func(t *testing.T) {
		e := entryWith()
		assert.Equal(t, "", attrString(e, dwarf.AttrName))
	})

	t.Run("wrong type", func(t *testing.T) {
		e := entryWith(dwarf.Field{Attr: dwarf.AttrName, Val: uint64(42)})
		assert.Equal(t, "", attrString(e, dwarf.AttrName))
	})
}

func TestEntryPCRange(t *testing.T) {
	t.Run("no low pc", func(t *testing.T) {
		e := entryWith()
		_, _, ok := entryPCRange(e)
		assert.False(t, ok)
	})

	t.Run("low pc only", func(t *testing.T) {
		e := entryWith(dwarf.Field{Attr: dwarf.AttrLowpc, Val: uint64(0x1000)})
		low, high, ok := entryPCRange(e)
		assert.True(t, ok)
		assert.Equal(t, uint64(0x1000), low)
		assert.Equal(t, uint64(0x1000), high)
	})

	t.Run("high pc as absolute address", func(t *testing.T) {
		e := entryWith(
			dwarf.Field{Attr: dwarf.AttrLowpc, Val: uint64(0x1000)},
			dwarf.Field{Attr: dwarf.AttrHighpc, Val: uint64(0x1100), Class: dwarf.ClassAddress},
		)
		low, high, ok := entryPCRange(e)
		assert.True(t, ok)
		assert.Equal(t, uint64(0x1000), low)
		assert.Equal(t, uint64(0x1100), high)
	})

	t.Run("high pc as udata offset from low pc", func(t *testing.T) {
		e := entryWith(
			dwarf.Field{Attr: dwarf.AttrLowpc, Val: uint64(0x1000)},
			dwarf.Field{Attr: dwarf.AttrHighpc, Val: uint64(0x100), Class: dwarf.ClassConstant},
		)
		low, high, ok := entryPCRange(e)
		assert.True(t, ok)
		assert.Equal(t, uint64(0x1000), low)
		assert.Equal(t, uint64(0x1100), high)
	})

	t.Run("high pc as signed offset from low pc", func(t *testing.T) {
		e := entryWith(
			dwarf.Field{Attr: dwarf.AttrLowpc, Val: uint64(0x1000)},
			dwarf.Field{Attr: dwarf.AttrHighpc, Val: int64(0x100)},
		)
		low, high, ok := entryPCRange(e)
		assert.True(t, ok)
		assert.Equal(t, uint64(0x1000), low)
		assert.Equal(t, uint64(0x1100), high)
	})
}

func TestDwarfEncoding(t *testing.T) {
	assertEnc := func(code int64, want uint8) {
		t.Helper()
		assert.Equal(t, want, uint8(dwarfEncoding(code)))
	}

	assertEnc(0x01, 1) // DW_ATE_address
	assertEnc(0x02, 2) // DW_ATE_boolean
	assertEnc(0x04, 3) // DW_ATE_float
	assertEnc(0x05, 4) // DW_ATE_signed
	assertEnc(0x06, 5) // DW_ATE_signed_char
	assertEnc(0x07, 6) // DW_ATE_unsigned
	assertEnc(0x08, 7) // DW_ATE_unsigned_char
	assertEnc(0x99, 0) // unknown -> EncodingUnknown
}

func TestBytesEqual(t *testing.T) {
	assert.True(t, bytesEqual([]byte{1, 2, 3}, []byte{1, 2, 3}))
	assert.False(t, bytesEqual([]byte{1, 2, 3}, []byte{1, 2, 4}))
	assert.False(t, bytesEqual([]byte{1, 2}, []byte{1, 2, 3}))
	assert.True(t, bytesEqual(nil, nil))
}

