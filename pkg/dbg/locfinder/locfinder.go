// Package locfinder implements the location index described in spec.md
// §4.4: it owns nothing of its own, just answers resolution queries
// against the tables pkg/dbg/dwarfinfo built, the way
// _examples/original_source/src/dwarf_parser.rs's lookup helpers and
// _examples/Manu343726-cucaracha/pkg/hw/cpu/mc/debuginfo.go's
// address/line table accessors do.
package locfinder

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dbg-project/dbg/pkg/dbg/dwarfinfo"
)

// LocFinder answers address/line/function/variable resolution queries.
type LocFinder struct {
	info *dwarfinfo.Info
}

// New wraps a parsed Info.
func New(info *dwarfinfo.Info) *LocFinder {
	return &LocFinder{info: info}
}

// FindLoc resolves a function name or "file:line" key to an absolute
// address. Bare-decimal disambiguation happens at the session level
// (spec.md §4.7), not here.
func (lf *LocFinder) FindLoc(s string) (uint64, bool) {
	addr, ok := lf.info.Locations[s]
	return addr, ok
}

// FindLine returns the "file:line" string nearest to (and not after) addr
// in the whole addr2line table; the search is not limited to the function
// containing addr.
func (lf *LocFinder) FindLine(addr uint64) (string, bool) {
	entries := lf.info.Addr2Line()
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Addr > addr })
	if i == 0 {
		return "", false
	}
	e := entries[i-1]
	return fmt.Sprintf("%s:%d", e.File, e.Line), true
}

// FindNextLineAddress returns the address of the next line strictly after
// "file:line", in the same file, or false if there is none.
func (lf *LocFinder) FindNextLineAddress(fileline string) (uint64, bool) {
	file, line, err := splitFileLine(fileline)
	if err != nil {
		return 0, false
	}
	vec, ok := lf.info.Lines[file]
	if !ok {
		return 0, false
	}
	for l := line + 1; l < len(vec); l++ {
		if vec[l] != 0 {
			return vec[l], true
		}
	}
	return 0, false
}

// FindFuncByAddress returns the function containing addr.
func (lf *LocFinder) FindFuncByAddress(addr uint64) (*dwarfinfo.Function, bool) {
	return lf.info.FuncRanges.FindValue(addr)
}

// FindFuncStart returns the containing function's entry address.
func (lf *LocFinder) FindFuncStart(addr uint64) (uint64, bool) {
	fn, ok := lf.FindFuncByAddress(addr)
	if !ok {
		return 0, false
	}
	return fn.Low, true
}

// FindFuncEnd returns the containing function's exclusive end address.
func (lf *LocFinder) FindFuncEnd(addr uint64) (uint64, bool) {
	fn, ok := lf.FindFuncByAddress(addr)
	if !ok {
		return 0, false
	}
	return fn.High, true
}

// IsInsideMain reports whether addr lies inside the function named main.
func (lf *LocFinder) IsInsideMain(addr uint64) bool {
	fn, ok := lf.FindFuncByAddress(addr)
	return ok && fn.Name == "main"
}

// FindUnit returns the compile unit containing addr.
func (lf *LocFinder) FindUnit(addr uint64) (*dwarfinfo.Unit, bool) {
	return lf.info.UnitRanges.FindValue(addr)
}

// MainUnit returns the compile unit containing main, used when no IP is
// known yet (session in Started state).
func (lf *LocFinder) MainUnit() (*dwarfinfo.Unit, bool) {
	if lf.info.MainUnit == nil {
		return nil, false
	}
	return lf.info.MainUnit, true
}

// GetVars merges globals with fn's locals, locals overriding on name
// collision. fn may be nil to get only globals.
func (lf *LocFinder) GetVars(fn *dwarfinfo.Function) map[string]dwarfinfo.Variable {
	out := make(map[string]dwarfinfo.Variable, len(lf.info.Globals))
	for name, v := range lf.info.Globals {
		out[name] = v
	}
	if fn != nil {
		for _, v := range lf.info.Locals[fn.Ref] {
			out[v.Name] = v
		}
	}
	return out
}

// GetVar looks up name as a local of fn first, then as a global.
func (lf *LocFinder) GetVar(name string, fn *dwarfinfo.Function) (dwarfinfo.Variable, bool) {
	if fn != nil {
		for _, v := range lf.info.Locals[fn.Ref] {
			if v.Name == name {
				return v, true
			}
		}
	}
	v, ok := lf.info.Globals[name]
	return v, ok
}

// FunctionByName looks a function up by its declared name, used by the
// evaluator to resolve function-pointer set targets.
func (lf *LocFinder) FunctionByName(name string) (*dwarfinfo.Function, bool) {
	for _, fn := range lf.info.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return nil, false
}

func splitFileLine(s string) (string, int, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return "", 0, fmt.Errorf("not a file:line string: %q", s)
	}
	line, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("bad line number in %q: %w", s, err)
	}
	return s[:i], line, nil
}
