// Package unwind implements the call-frame unwinder spec.md §4.5
// describes: given a relative PC, compute the canonical frame address
// (CFA) by replaying the frame-description-entry's call-frame
// instructions from the matching common-information-entry's initial
// state up to that PC.
//
// There is no DWARF call-frame unwinder anywhere in the example pack —
// debug/dwarf parses .debug_info/.debug_line but has no .eh_frame/CFI
// support, and _examples/original_source/src/debugger.rs delegates this
// to the gimli crate rather than hand-rolling it. This is accordingly a
// from-scratch implementation of the subset of the DWARF CFI bytecode
// that matters for the rule forms spec.md §4.9 actually consumes
// (register+offset CFA rules); composite/expression CFA rules are out of
// scope the same way composite locations are in the evaluator.
package unwind

import (
	"encoding/binary"
	"fmt"
)

// CFARule is a register+offset rule: CFA = value(Register) + Offset.
type CFARule struct {
	Register uint8
	Offset   int64
}

// Unwinder wraps one of .eh_frame or .debug_frame plus the section's load
// address (needed because eh_frame pointers are commonly PC-relative).
type Unwinder struct {
	data     []byte
	sectionVaddr uint64
	isEhFrame    bool
}

// New builds an Unwinder over raw section bytes. sectionVaddr is the
// section's own virtual address (file-relative, not relocated), needed to
// resolve DW_EH_PE_pcrel encoded pointers in .eh_frame.
func New(sectionData []byte, sectionVaddr uint64, isEhFrame bool) *Unwinder {
	return &Unwinder{data: sectionData, sectionVaddr: sectionVaddr, isEhFrame: isEhFrame}
}

// UnwindCFA returns the CFA rule in effect at relativePC (i.e. absolute
// PC minus the image's base address), per spec.md §4.5.
func (u *Unwinder) UnwindCFA(relativePC uint64) (CFARule, error) {
	fde, cie, err := u.findFDE(relativePC)
	if err != nil {
		return CFARule{}, err
	}

	st := newCFAState()
	if err := runCFIProgram(cie.initialInstructions, cie, &st, ^uint64(0)); err != nil {
		return CFARule{}, fmt.Errorf("cie initial instructions: %w", err)
	}
	if err := runCFIProgram(fde.instructions, cie, &st, relativePC-fde.pcBegin); err != nil {
		return CFARule{}, fmt.Errorf("fde instructions: %w", err)
	}
	if !st.cfaValid {
		return CFARule{}, fmt.Errorf("unwind: no CFA rule established at pc %#x", relativePC)
	}
	return st.cfa, nil
}

type cie struct {
	codeAlignment       uint64
	dataAlignment       int64
	returnAddrRegister  uint8
	initialInstructions []byte
	fdePtrEncoding      byte
}

type fde struct {
	pcBegin      uint64
	pcRange      uint64
	instructions []byte
}

type cfaState struct {
	cfa      CFARule
	cfaValid bool
}

func newCFAState() cfaState { return cfaState{} }

// findFDE linearly scans the section for the FDE covering relativePC.
// .eh_frame_hdr's binary-search table would make this O(log n); a linear
// scan is the documented minimum spec.md §4.5 allows ("optionally with a
// parsed .eh_frame_hdr").
func (u *Unwinder) findFDE(relativePC uint64) (*fde, *cie, error) {
	cies := make(map[int]*cie)
	off := 0
	for off < len(u.data) {
		recordStart := off
		length, n := readU32(u.data[off:])
		off += n
		if length == 0 {
			break
		}
		recordEnd := off + int(length)
		if recordEnd > len(u.data) {
			return nil, nil, fmt.Errorf("unwind: truncated record at %#x", recordStart)
		}
		idField, n := readU32(u.data[off:])
		body := u.data[off+n : recordEnd]
		idOff := off
		off = recordEnd

		if idField == 0 {
			c, err := parseCIE(body)
			if err != nil {
				return nil, nil, err
			}
			cies[idOff] = c
			continue
		}

		// FDE: idField is the (eh_frame-style) backward offset to its CIE.
		cieOff := idOff - int(idField)
		c, ok := cies[cieOff]
		if !ok {
			parsed, err := parseCIE(u.data[cieOff+4:])
			if err != nil {
				continue
			}
			c = parsed
			cies[cieOff] = c
		}
		f, err := parseFDE(body, c, u.sectionVaddr+uint64(idOff))
		if err != nil {
			continue
		}
		if relativePC >= f.pcBegin && relativePC < f.pcBegin+f.pcRange {
			return f, c, nil
		}
	}
	return nil, nil, fmt.Errorf("unwind: no FDE covers pc %#x", relativePC)
}

func parseCIE(b []byte) (*cie, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("unwind: empty CIE")
	}
	version := b[0]
	b = b[1:]
	aug, n := readCString(b)
	b = b[n:]

	c := &cie{}
	if version >= 4 {
		if len(b) < 2 {
			return nil, fmt.Errorf("unwind: truncated CIE header")
		}
		b = b[2:] // address_size, segment_selector_size
	}

	codeAlign, n := readULEB128(b)
	b = b[n:]
	dataAlign, n := readSLEB128(b)
	b = b[n:]
	c.codeAlignment = codeAlign
	c.dataAlignment = dataAlign

	if version == 1 {
		if len(b) < 1 {
			return nil, fmt.Errorf("unwind: truncated CIE return register")
		}
		c.returnAddrRegister = b[0]
		b = b[1:]
	} else {
		ra, n := readULEB128(b)
		b = b[n:]
		c.returnAddrRegister = uint8(ra)
	}

	for _, ch := range aug {
		if ch == 'z' {
			augLen, n := readULEB128(b)
			b = b[n:]
			augData := b[:augLen]
			b = b[augLen:]
			for i, c2 := range aug {
				if c2 == 'R' && i < len(augData) {
					c.fdePtrEncoding = augData[0]
				}
			}
			break
		}
	}

	c.initialInstructions = b
	return c, nil
}

func parseFDE(b []byte, c *cie, selfVaddr uint64) (*fde, error) {
	pcBegin, n, err := readEncodedPointer(b, c.fdePtrEncoding, selfVaddr+4)
	if err != nil {
		return nil, err
	}
	b = b[n:]
	pcRange, n2 := readAbsByEncoding(b, c.fdePtrEncoding)
	b = b[n2:]

	return &fde{pcBegin: pcBegin, pcRange: pcRange, instructions: b}, nil
}

// runCFIProgram executes CFI opcodes, stopping once the running location
// counter has advanced past limit (relative to the FDE/CIE start). limit
// of ^uint64(0) means "run to completion" (used for CIE initial
// instructions, which always run in full before the FDE's own begin).
func runCFIProgram(prog []byte, c *cie, st *cfaState, limit uint64) error {
	var loc uint64
	i := 0
	for i < len(prog) {
		if limit != ^uint64(0) && loc > limit {
			return nil
		}
		op := prog[i]
		i++
		high := op & 0xc0
		low := op & 0x3f

		switch {
		case high == 0x40: // DW_CFA_advance_loc
			loc += uint64(low) * c.codeAlignment
		case high == 0x80: // DW_CFA_offset
			_, n := readULEB128(prog[i:])
			i += n
		case high == 0xc0: // DW_CFA_restore
			// no register state tracked beyond CFA; nothing to do
		default:
			switch op {
			case 0x00: // DW_CFA_nop
			case 0x0c: // DW_CFA_def_cfa
				reg, n := readULEB128(prog[i:])
				i += n
				ofs, n := readULEB128(prog[i:])
				i += n
				st.cfa = CFARule{Register: uint8(reg), Offset: int64(ofs)}
				st.cfaValid = true
			case 0x0d: // DW_CFA_def_cfa_register
				reg, n := readULEB128(prog[i:])
				i += n
				st.cfa.Register = uint8(reg)
				st.cfaValid = true
			case 0x0e: // DW_CFA_def_cfa_offset
				ofs, n := readULEB128(prog[i:])
				i += n
				st.cfa.Offset = int64(ofs)
				st.cfaValid = true
			case 0x02: // DW_CFA_advance_loc1
				loc += uint64(prog[i]) * c.codeAlignment
				i++
			case 0x03: // DW_CFA_advance_loc2
				v, _ := readU16(prog[i:])
				loc += uint64(v) * c.codeAlignment
				i += 2
			case 0x04: // DW_CFA_advance_loc4
				v, _ := readU32(prog[i:])
				loc += uint64(v) * c.codeAlignment
				i += 4
			case 0x05: // DW_CFA_offset_extended
				_, n := readULEB128(prog[i:])
				i += n
				_, n = readULEB128(prog[i:])
				i += n
			case 0x09: // DW_CFA_register
				_, n := readULEB128(prog[i:])
				i += n
				_, n = readULEB128(prog[i:])
				i += n
			case 0x0a, 0x0b: // remember/restore state: state stack not modeled
			default:
				// Unknown/unsupported opcode (e.g. def_cfa_expression,
				// expression rules): composite/expression CFA rules are
				// out of scope, same as composite locations in the
				// evaluator. Stop rather than misparse the rest of the
				// byte stream.
				return nil
			}
		}
	}
	return nil
}

func readU16(b []byte) (uint16, int)  { return binary.LittleEndian.Uint16(b), 2 }
func readU32(b []byte) (uint32, int)  { return binary.LittleEndian.Uint32(b), 4 }
func readU64(b []byte) (uint64, int)  { return binary.LittleEndian.Uint64(b), 8 }

func readCString(b []byte) (string, int) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), i + 1
		}
	}
	return string(b), len(b)
}

func readULEB128(b []byte) (uint64, int) {
	var result uint64
	var shift uint
	var i int
	for {
		if i >= len(b) {
			return result, i
		}
		byt := b[i]
		i++
		result |= uint64(byt&0x7f) << shift
		if byt&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, i
}

func readSLEB128(b []byte) (int64, int) {
	var result int64
	var shift uint
	var i int
	var byt byte
	for {
		if i >= len(b) {
			return result, i
		}
		byt = b[i]
		i++
		result |= int64(byt&0x7f) << shift
		shift += 7
		if byt&0x80 == 0 {
			break
		}
	}
	if shift < 64 && byt&0x40 != 0 {
		result |= -1 << shift
	}
	return result, i
}

// DWARF exception-header pointer encoding bits (DW_EH_PE_*).
const (
	ehPEAbsptr  = 0x00
	ehPEUdata4  = 0x03
	ehPESdata4  = 0x0b
	ehPEPcrel   = 0x10
)

func readEncodedPointer(b []byte, enc byte, pcrelBase uint64) (uint64, int, error) {
	val, n := readAbsByEncoding(b, enc)
	if enc&ehPEPcrel != 0 {
		val += pcrelBase
	}
	return val, n, nil
}

func readAbsByEncoding(b []byte, enc byte) (uint64, int) {
	switch enc & 0x0f {
	case ehPEUdata4, ehPESdata4:
		v, n := readU32(b)
		if enc&0x0f == ehPESdata4 {
			return uint64(int64(int32(v))), n
		}
		return uint64(v), n
	case 0x04, 0x0c: // data8/sdata8
		v, n := readU64(b)
		return v, n
	default: // absptr and anything unrecognized: treat as native 8-byte
		v, n := readU64(b)
		return v, n
	}
}
