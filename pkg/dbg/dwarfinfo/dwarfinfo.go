package dwarfinfo

import (
	"debug/dwarf"
	"fmt"
	"io"
	"sort"

	"github.com/dbg-project/dbg/pkg/dbg/ranges"
	"github.com/dbg-project/dbg/pkg/dbg/types"
)

// Variable is one entry in the variable tables, per spec.md §3: it only
// records where to find the DIE again, resolving DW_AT_location lazily at
// evaluation time rather than eagerly.
type Variable struct {
	Name string
	Ref  types.EntryRef
	Type types.ID
}

// Function is one entry in the function table, per spec.md §3.
type Function struct {
	Name string
	Ref  types.EntryRef
	Low  uint64
	High uint64 // exclusive

	// FrameBase is the raw DW_AT_frame_base exprloc, needed by the
	// evaluator whenever a variable's location requires RequiresFrameBase.
	FrameBase []byte
}

// Unit is one compile unit, per spec.md §3.
type Unit struct {
	Name string
	Off  dwarf.Offset
	Low  uint64
	High uint64
}

// Addr2LineEntry is one row kept in the addr2line index.
type Addr2LineEntry struct {
	Addr uint64
	File string
	Line int
}

// Info is the product of the one-shot DWARF parse: every table spec.md
// §4.3/§4.4 names. Load always runs before the tracee exists, so every
// address recorded during parsing assumes a load base of 0; for a PIE
// binary this is wrong until Relocate is called once the tracee's real
// base address is known (see Relocate's doc comment). Until then nothing
// downstream may read these tables against a live tracee's IP or
// registers.
type Info struct {
	Image *Image
	Types *types.Store

	Locations map[string]uint64 // function name or "file:line" -> address
	addr2line []Addr2LineEntry  // sorted by Addr
	Lines     map[string][]uint64 // filepath -> sparse vector indexed by line (0 = unknown)

	Functions  []*Function
	FuncRanges *ranges.Ranges[*Function]
	UnitRanges *ranges.Ranges[*Unit]
	Units      []*Unit
	MainUnit   *Unit

	// Locals is keyed by the owning function's Ref so name lookup can be
	// scoped to "the function IP is currently inside".
	Locals  map[types.EntryRef][]Variable
	Globals map[string]Variable

	typeByOffset map[dwarf.Offset]types.ID
}

// prologueMagic is the endbr64; push rbp; mov rsp,rbp sequence spec.md
// §4.8 names for locating step_out's return address and for excluding
// prologue addresses from addr2line.
var prologueMagic = []byte{0xF3, 0x0F, 0x1E, 0xFA, 0x55, 0x48, 0x89, 0xE5}

const prologueLen = len(prologueMagic)

// Load parses path's ELF and DWARF into an Info. The tracee does not exist
// yet at this point, so every address recorded is file-relative (as if
// the load base were 0); callers must call Relocate once the tracee's
// true base address is known, per spec.md §4.4 and §6's PIE base-address
// rule, before trusting any table against a live IP or register value.
func Load(path_ string) (*Info, error) {
	img, err := LoadImage(path_)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Image:        img,
		Types:        types.NewStore(),
		Locations:    make(map[string]uint64),
		Lines:        make(map[string][]uint64),
		FuncRanges:   ranges.New[*Function](),
		UnitRanges:   ranges.New[*Unit](),
		Locals:       make(map[types.EntryRef][]Variable),
		Globals:      make(map[string]Variable),
		typeByOffset: make(map[dwarf.Offset]types.ID),
	}

	if err := info.parseUnits(); err != nil {
		img.Close()
		return nil, err
	}
	return info, nil
}

func (info *Info) base() uint64 { return info.Image.BaseAddress() }

// Relocate shifts every address-bearing table by delta, once the
// tracee's true load base becomes known. Load always parses with base 0
// (the tracee doesn't exist yet), so the very first real base address a
// PIE binary is given must be applied here exactly once; calling this
// more than once, or with anything but the tracee's actual base, would
// double-shift and reintroduce the relative/absolute mixing spec.md
// §4.4 forbids. A no-op for non-PIE objects, whose delta is always 0.
//
// Grounded on _examples/original_source/src/debugger.rs:75-81, which
// reads the base address right after spawning the child and only then
// builds the LocFinder from it; this implementation instead parses
// eagerly (so breakpoints can be resolved before Run, per spec.md §4.7)
// and relocates in place once Run learns the same base address.
func (info *Info) Relocate(delta uint64) {
	if delta == 0 {
		return
	}

	for k, v := range info.Locations {
		info.Locations[k] = v + delta
	}

	for i := range info.addr2line {
		info.addr2line[i].Addr += delta
	}

	for _, vec := range info.Lines {
		for i, a := range vec {
			if a != 0 {
				vec[i] = a + delta
			}
		}
	}

	for _, fn := range info.Functions {
		fn.Low += delta
		fn.High += delta
	}
	info.FuncRanges.Shift(delta)

	for _, u := range info.Units {
		u.Low += delta
		u.High += delta
	}
	info.UnitRanges.Shift(delta)
}

// Addr2Line returns the addr2line rows sorted by address, for binary
// search by callers such as pkg/dbg/locfinder.
func (info *Info) Addr2Line() []Addr2LineEntry { return info.addr2line }

func (info *Info) parseUnits() error {
	d := info.Image.DWARF()
	r := d.Reader()

	for {
		entry, err := r.Next()
		if err != nil {
			return fmt.Errorf("dwarf: %w", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		if err := info.parseUnit(d, r, entry); err != nil {
			return err
		}
	}

	sort.Slice(info.addr2line, func(i, j int) bool { return info.addr2line[i].Addr < info.addr2line[j].Addr })
	return nil
}

func (info *Info) parseUnit(d *dwarf.Data, r *dwarf.Reader, cu *dwarf.Entry) error {
	low, high, _ := entryPCRange(cu)
	unit := &Unit{
		Name: attrString(cu, dwarf.AttrName),
		Off:  cu.Offset,
		Low:  low + info.base(),
		High: high + info.base(),
	}
	info.Units = append(info.Units, unit)
	if high > low {
		info.UnitRanges.Add(unit.Low, unit.High-1, unit)
	}

	if err := info.parseLineTable(d, cu, unit); err != nil {
		return err
	}

	for {
		child, err := r.Next()
		if err != nil {
			return fmt.Errorf("dwarf: %w", err)
		}
		if child == nil || child.Tag == 0 {
			break
		}
		if isUnitTerminator(child, cu) {
			break
		}
		switch child.Tag {
		case dwarf.TagSubprogram:
			fn, err := info.parseSubprogram(r, child)
			if err != nil {
				return err
			}
			if fn != nil && fn.Name == "main" {
				info.MainUnit = unit
			}
		case dwarf.TagVariable:
			v, ok, err := info.parseVariable(child)
			if err != nil {
				return err
			}
			if ok {
				info.Globals[v.Name] = v
			}
			r.SkipChildren()
		default:
			r.SkipChildren()
		}
	}
	return nil
}

// isUnitTerminator is a defensive guard: debug/dwarf's Reader already
// stops returning top-level siblings once the CU's children are
// exhausted by returning an Entry with an empty Tag, but callers that
// walk multiple CUs back to back rely on that contract explicitly.
func isUnitTerminator(e *dwarf.Entry, cu *dwarf.Entry) bool {
	return e.Tag == dwarf.TagCompileUnit
}

func (info *Info) parseSubprogram(r *dwarf.Reader, e *dwarf.Entry) (*Function, error) {
	name := attrString(e, dwarf.AttrName)
	low, high, hasRange := entryPCRange(e)

	var frameBase []byte
	if fb := e.AttrField(dwarf.AttrFrameBase); fb != nil {
		if b, ok := fb.Val.([]byte); ok {
			frameBase = b
		}
	}

	fn := &Function{
		Name:      name,
		Ref:       types.EntryRef{UnitOffset: int64(e.Offset), EntryOffset: int64(e.Offset)},
		Low:       low + info.base(),
		High:      high + info.base(),
		FrameBase: frameBase,
	}
	if name != "" {
		info.Functions = append(info.Functions, fn)
		if hasRange {
			info.FuncRanges.Add(fn.Low, fn.High-1, fn)
		}
		if hasRange {
			info.Locations[name] = fn.Low
		}
	}

	if !e.Children {
		return fn, nil
	}
	for {
		child, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("dwarf: %w", err)
		}
		if child == nil || child.Tag == 0 {
			break
		}
		switch child.Tag {
		case dwarf.TagFormalParameter, dwarf.TagVariable:
			v, ok, err := info.parseVariable(child)
			if err != nil {
				return nil, err
			}
			if ok {
				info.Locals[fn.Ref] = append(info.Locals[fn.Ref], v)
			}
			r.SkipChildren()
		case dwarf.TagLexDwarfBlock:
			// Nested lexical blocks: recurse by treating them as part of
			// the same function scope, walking their children inline.
			if err := info.parseLexBlock(r, fn); err != nil {
				return nil, err
			}
		default:
			r.SkipChildren()
		}
	}
	return fn, nil
}

func (info *Info) parseLexBlock(r *dwarf.Reader, fn *Function) error {
	for {
		child, err := r.Next()
		if err != nil {
			return fmt.Errorf("dwarf: %w", err)
		}
		if child == nil || child.Tag == 0 {
			break
		}
		switch child.Tag {
		case dwarf.TagFormalParameter, dwarf.TagVariable:
			v, ok, err := info.parseVariable(child)
			if err != nil {
				return err
			}
			if ok {
				info.Locals[fn.Ref] = append(info.Locals[fn.Ref], v)
			}
			r.SkipChildren()
		case dwarf.TagLexDwarfBlock:
			if err := info.parseLexBlock(r, fn); err != nil {
				return err
			}
		default:
			r.SkipChildren()
		}
	}
	return nil
}

func (info *Info) parseVariable(e *dwarf.Entry) (Variable, bool, error) {
	name := attrString(e, dwarf.AttrName)
	if name == "" {
		return Variable{}, false, nil
	}
	typeOff, ok := e.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return Variable{}, false, nil
	}
	tid, err := info.typeIDForOffset(typeOff)
	if err != nil {
		return Variable{}, false, err
	}
	return Variable{
		Name: name,
		Ref:  types.EntryRef{UnitOffset: int64(e.Offset), EntryOffset: int64(e.Offset)},
		Type: tid,
	}, true, nil
}

func (info *Info) parseLineTable(d *dwarf.Data, cu *dwarf.Entry, unit *Unit) error {
	lr, err := d.LineReader(cu)
	if err != nil {
		return fmt.Errorf("line table for %s: %w", unit.Name, err)
	}
	if lr == nil {
		return nil
	}

	var le dwarf.LineEntry
	for {
		err := lr.Next(&le)
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("line table for %s: %w", unit.Name, err)
		}
		if le.EndSequence {
			continue
		}
		filepath := le.File.Name
		addr := le.Address + info.base()

		key := fmt.Sprintf("%s:%d", filepath, le.Line)
		if _, exists := info.Locations[key]; !exists {
			info.Locations[key] = addr
		}

		vec := info.Lines[filepath]
		if le.Line >= len(vec) {
			grown := make([]uint64, le.Line+1)
			copy(grown, vec)
			vec = grown
		}
		if vec[le.Line] == 0 {
			vec[le.Line] = addr
		}
		info.Lines[filepath] = vec

		if !info.inPrologueOrEpilogue(le.Address) {
			info.addr2line = append(info.addr2line, Addr2LineEntry{Addr: addr, File: filepath, Line: le.Line})
		}
	}
	return nil
}

// inPrologueOrEpilogue checks the static file bytes at a file-relative
// (non-relocated) address against the function containing it. It only
// excludes the fixed 8-byte prologue recognized by the stepping engine;
// epilogue exclusion is limited to the final return-instruction byte,
// since no fixed-width epilogue pattern is guaranteed across compilers
// (see the inlined-subroutine open question in spec.md §9, which this
// mirrors: best-effort, not exhaustive).
func (info *Info) inPrologueOrEpilogue(fileRelAddr uint64) bool {
	for _, fn := range info.Functions {
		low := fn.Low - info.base()
		high := fn.High - info.base()
		if fileRelAddr < low || fileRelAddr >= high {
			continue
		}
		if fileRelAddr < low+uint64(prologueLen) {
			buf, err := info.Image.ReadAtVaddr(low, prologueLen)
			if err == nil && bytesEqual(buf, prologueMagic) {
				return true
			}
		}
		if high > 0 && fileRelAddr == high-1 {
			return true
		}
		return false
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func attrString(e *dwarf.Entry, a dwarf.Attr) string {
	s, _ := e.Val(a).(string)
	return s
}

// entryPCRange returns [low, high) for an entry carrying AttrLowpc and
// AttrHighpc, normalizing the Udata-relative-to-low-pc encoding spec.md
// §4.3 describes into an absolute high.
func entryPCRange(e *dwarf.Entry) (low, high uint64, ok bool) {
	lowVal, hasLow := e.Val(dwarf.AttrLowpc).(uint64)
	if !hasLow {
		return 0, 0, false
	}
	highField := e.AttrField(dwarf.AttrHighpc)
	if highField == nil {
		return lowVal, lowVal, true
	}
	switch v := highField.Val.(type) {
	case uint64:
		if highField.Class == dwarf.ClassAddress {
			return lowVal, v, true
		}
		return lowVal, lowVal + v, true
	case int64:
		return lowVal, lowVal + uint64(v), true
	default:
		return lowVal, lowVal, true
	}
}
