package eval

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/dbg-project/dbg/pkg/dbg/dbgerr"
	"github.com/dbg-project/dbg/pkg/dbg/unwind"
)

// CFASource resolves the call-frame-address rule in effect at a relative
// PC, satisfied by pkg/dbg/unwind.Unwinder. Kept as a narrow interface so
// eval doesn't need the concrete unwinder type for anything but this call.
type CFASource interface {
	UnwindCFA(relativePC uint64) (unwind.CFARule, error)
}

// evalContext carries everything a DWARF location expression might need:
// the live registers, the CFA source, and the relocation base, per
// spec.md §4.9's RequiresFrameBase/RequiresCallFrameCfa/
// RequiresRelocatedAddress cases.
type evalContext struct {
	regs        unix.PtraceRegs
	cfa         CFASource
	baseAddress uint64
	frameBase   []byte // the current function's DW_AT_frame_base exprloc
}

// evalExprLoc runs the gimli-style location-expression machine over expr
// and returns the resulting Loc. Only the opcode subset needed for
// exprloc-based locations (no loclists, per the open question recorded
// in DESIGN.md) is implemented; anything else is reported as ErrStepFailed.
func evalExprLoc(expr []byte, ctx evalContext) (Loc, error) {
	var stack []int64
	isStackValue := false

	i := 0
	for i < len(expr) {
		op := expr[i]
		i++

		switch {
		case op >= 0x50 && op <= 0x6f: // DW_OP_reg0..31
			return Loc{Kind: LocRegister, Register: op - 0x50}, nil

		case op >= 0x70 && op <= 0x8f: // DW_OP_breg0..31
			off, n := readSLEB(expr[i:])
			i += n
			regVal, err := registerValue(ctx.regs, op-0x70)
			if err != nil {
				return Loc{}, err
			}
			stack = append(stack, int64(regVal)+off)

		default:
			switch op {
			case 0x03: // DW_OP_addr
				if i+8 > len(expr) {
					return Loc{}, fmt.Errorf("%w: truncated DW_OP_addr", dbgerr.ErrStepFailed)
				}
				addr := binary.LittleEndian.Uint64(expr[i : i+8])
				i += 8
				stack = append(stack, int64(addr+ctx.baseAddress))

			case 0x91: // DW_OP_fbreg
				off, n := readSLEB(expr[i:])
				i += n
				base, err := evalFrameBase(ctx)
				if err != nil {
					return Loc{}, err
				}
				stack = append(stack, int64(base)+off)

			case 0x9c: // DW_OP_call_frame_cfa
				if ctx.cfa == nil {
					return Loc{}, fmt.Errorf("%w: no unwinder available for DW_OP_call_frame_cfa", dbgerr.ErrStepFailed)
				}
				rule, err := ctx.cfa.UnwindCFA(ctx.regs.Rip - ctx.baseAddress)
				if err != nil {
					return Loc{}, fmt.Errorf("%w: %v", dbgerr.ErrStepFailed, err)
				}
				regVal, err := registerValue(ctx.regs, rule.Register)
				if err != nil {
					return Loc{}, err
				}
				stack = append(stack, int64(regVal)+rule.Offset)

			case 0x9f: // DW_OP_stack_value
				isStackValue = true

			case 0x23: // DW_OP_plus_uconst
				val, n := readULEB(expr[i:])
				i += n
				if len(stack) == 0 {
					return Loc{}, fmt.Errorf("%w: plus_uconst on empty stack", dbgerr.ErrStepFailed)
				}
				stack[len(stack)-1] += int64(val)

			default:
				return Loc{}, fmt.Errorf("%w: unsupported DWARF opcode %#x (composite/extended locations are out of scope)", dbgerr.ErrStepFailed, op)
			}
		}
	}

	if len(stack) == 0 {
		return Loc{}, fmt.Errorf("%w: empty location expression", dbgerr.ErrStepFailed)
	}
	top := stack[len(stack)-1]
	if isStackValue {
		return Loc{Kind: LocValue, Value: uint64(top)}, nil
	}
	return Loc{Kind: LocAddress, Address: uint64(top)}, nil
}

// evalFrameBase evaluates the enclosing function's DW_AT_frame_base
// expression down to a plain numeric base, per spec.md §4.9's
// RequiresFrameBase case. Only a single exprloc frame base is supported.
func evalFrameBase(ctx evalContext) (uint64, error) {
	if len(ctx.frameBase) == 0 {
		return 0, fmt.Errorf("%w: function has no DW_AT_frame_base", dbgerr.ErrStepFailed)
	}
	inner := ctx
	inner.frameBase = nil // frame_base expressions never recursively need fbreg
	loc, err := evalExprLoc(ctx.frameBase, inner)
	if err != nil {
		return 0, err
	}
	switch loc.Kind {
	case LocAddress:
		return loc.Address, nil
	case LocValue:
		return loc.Value, nil
	default:
		return 0, fmt.Errorf("%w: frame base resolved to a register, not a value", dbgerr.ErrStepFailed)
	}
}

// dwarfRegOrder is the x86-64 System V DWARF register numbering (0-16
// used here; xmm/higher are out of scope for this debugger).
var dwarfRegOrder = [...]string{
	"rax", "rdx", "rcx", "rbx", "rsi", "rdi", "rbp", "rsp",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15", "rip",
}

func registerValue(regs unix.PtraceRegs, dwarfReg uint8) (uint64, error) {
	if int(dwarfReg) >= len(dwarfRegOrder) {
		return 0, fmt.Errorf("%w: unknown DWARF register %d", dbgerr.ErrStepFailed, dwarfReg)
	}
	switch dwarfRegOrder[dwarfReg] {
	case "rax":
		return regs.Rax, nil
	case "rdx":
		return regs.Rdx, nil
	case "rcx":
		return regs.Rcx, nil
	case "rbx":
		return regs.Rbx, nil
	case "rsi":
		return regs.Rsi, nil
	case "rdi":
		return regs.Rdi, nil
	case "rbp":
		return regs.Rbp, nil
	case "rsp":
		return regs.Rsp, nil
	case "r8":
		return regs.R8, nil
	case "r9":
		return regs.R9, nil
	case "r10":
		return regs.R10, nil
	case "r11":
		return regs.R11, nil
	case "r12":
		return regs.R12, nil
	case "r13":
		return regs.R13, nil
	case "r14":
		return regs.R14, nil
	case "r15":
		return regs.R15, nil
	case "rip":
		return regs.Rip, nil
	default:
		return 0, fmt.Errorf("%w: unknown DWARF register %d", dbgerr.ErrStepFailed, dwarfReg)
	}
}

func readULEB(b []byte) (uint64, int) {
	var result uint64
	var shift uint
	var i int
	for i < len(b) {
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

func readSLEB(b []byte) (int64, int) {
	var result int64
	var shift uint
	var i int
	var byt byte
	for i < len(b) {
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
