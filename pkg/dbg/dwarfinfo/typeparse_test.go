package dwarfinfo

import (
	"debug/dwarf"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbg-project/dbg/pkg/dbg/types"
)

func TestSubrangeCount(t *testing.T) {
	t.Run("explicit count", func(t *testing.T) {
		e := entryWith(dwarf.Field{Attr: dwarf.AttrCount, Val: int64(10)})
		c := subrangeCount(e)
		assert.Equal(t, types.CountStatic, c.Kind)
		assert.Equal(t, uint64(10), c.Static)
	})

	t.Run("upper bound only", func(t *testing.T) {
		e := entryWith(dwarf.Field{Attr: dwarf.AttrUpperBound, Val: int64(9)})
		c := subrangeCount(e)
		assert.Equal(t, types.CountStatic, c.Kind)
		assert.Equal(t, uint64(10), c.Static) // upper(9) - lower(0) + 1
	})

	t.Run("upper and lower bound", func(t *testing.T) {
		e := entryWith(
			dwarf.Field{Attr: dwarf.AttrUpperBound, Val: int64(9)},
			dwarf.Field{Attr: dwarf.AttrLowerBound, Val: int64(2)},
		)
		c := subrangeCount(e)
		assert.Equal(t, types.CountStatic, c.Kind)
		assert.Equal(t, uint64(8), c.Static) // 9 - 2 + 1
	})

	t.Run("no bounds is flexible", func(t *testing.T) {
		e := entryWith()
		c := subrangeCount(e)
		assert.Equal(t, types.CountFlexible, c.Kind)
	})
}
