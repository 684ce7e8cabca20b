package dwarfinfo

import (
	"debug/dwarf"
	"fmt"

	"github.com/dbg-project/dbg/pkg/dbg/types"
)

// LocationExprloc re-seeks the DWARF reader to a Variable's own DIE and
// returns its DW_AT_location attribute as raw exprloc bytes, per spec.md
// §3's note that Variable only records where to find the DIE again rather
// than eagerly resolving its location. Loclist-form locations (DWARF5) are
// out of scope, per the open question recorded in DESIGN.md.
func (info *Info) LocationExprloc(ref types.EntryRef) ([]byte, error) {
	r := info.Image.DWARF().Reader()
	r.Seek(dwarf.Offset(ref.EntryOffset))
	e, err := r.Next()
	if err != nil {
		return nil, fmt.Errorf("dwarf: seek variable %#x: %w", ref.EntryOffset, err)
	}
	if e == nil {
		return nil, fmt.Errorf("dwarf: no entry at offset %#x", ref.EntryOffset)
	}
	loc := e.AttrField(dwarf.AttrLocation)
	if loc == nil {
		return nil, fmt.Errorf("dwarf: variable at %#x has no DW_AT_location", ref.EntryOffset)
	}
	b, ok := loc.Val.([]byte)
	if !ok {
		return nil, fmt.Errorf("dwarf: variable at %#x has a non-exprloc location (loclist unsupported)", ref.EntryOffset)
	}
	return b, nil
}
