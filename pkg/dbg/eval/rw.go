package eval

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/dbg-project/dbg/pkg/dbg/dbgerr"
)

// readBytes reads size bytes from a resolved Loc, per spec.md §3's three
// location variants: a register read is always taken from the live
// register (ByteOffset only matters for Register locations describing a
// value split across register pieces, which this debugger does not
// encounter in practice and treats as offset 0), an address read goes
// through the tracee's memory, and a value read returns the implicit
// literal itself.
func (ev *Evaluator) readBytes(loc Loc, size int) ([]byte, error) {
	if size > 8 {
		return nil, fmt.Errorf("%w: reads wider than 8 bytes are not supported", dbgerr.ErrInvalidLocation)
	}
	switch loc.Kind {
	case LocValue:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], loc.Value)
		return buf[:size], nil
	case LocRegister:
		regs, err := ev.ctrl.GetRegs()
		if err != nil {
			return nil, err
		}
		v, err := registerValue(regs, loc.Register)
		if err != nil {
			return nil, err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v)
		return buf[:size], nil
	case LocAddress:
		buf := make([]byte, size)
		if err := ev.ctrl.ReadMemory(loc.Address, buf); err != nil {
			return nil, err
		}
		return buf, nil
	default:
		return nil, dbgerr.ErrInvalidLocation
	}
}

// readPointerValue reads a Loc as a scalar address, used for automatic
// pointer dereferencing on `.`/`[]`/`*`, per spec.md §4.9.
func (ev *Evaluator) readPointerValue(loc Loc) (uint64, error) {
	buf, err := ev.readBytes(loc, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// writeBytes writes data into a resolved Loc. Writing to a Value location
// is rejected: an implicit literal has no backing storage.
func (ev *Evaluator) writeBytes(loc Loc, data []byte) error {
	switch loc.Kind {
	case LocAddress:
		return ev.ctrl.WriteMemory(loc.Address, data)
	case LocRegister:
		regs, err := ev.ctrl.GetRegs()
		if err != nil {
			return err
		}
		var buf [8]byte
		copy(buf[:], data)
		v := binary.LittleEndian.Uint64(buf[:])
		if err := setRegisterValue(&regs, loc.Register, v); err != nil {
			return err
		}
		return ev.ctrl.SetRegs(regs)
	default:
		return fmt.Errorf("%w: cannot write to a literal location", dbgerr.ErrInvalidLocation)
	}
}

func setRegisterValue(regs *unix.PtraceRegs, dwarfReg uint8, v uint64) error {
	if int(dwarfReg) >= len(dwarfRegOrder) {
		return fmt.Errorf("%w: unknown DWARF register %d", dbgerr.ErrStepFailed, dwarfReg)
	}
	switch dwarfRegOrder[dwarfReg] {
	case "rax":
		regs.Rax = v
	case "rdx":
		regs.Rdx = v
	case "rcx":
		regs.Rcx = v
	case "rbx":
		regs.Rbx = v
	case "rsi":
		regs.Rsi = v
	case "rdi":
		regs.Rdi = v
	case "rbp":
		regs.Rbp = v
	case "rsp":
		regs.Rsp = v
	case "r8":
		regs.R8 = v
	case "r9":
		regs.R9 = v
	case "r10":
		regs.R10 = v
	case "r11":
		regs.R11 = v
	case "r12":
		regs.R12 = v
	case "r13":
		regs.R13 = v
	case "r14":
		regs.R14 = v
	case "r15":
		regs.R15 = v
	case "rip":
		regs.Rip = v
	default:
		return fmt.Errorf("%w: unknown DWARF register %d", dbgerr.ErrStepFailed, dwarfReg)
	}
	return nil
}

// Read resolves path and returns its raw bytes plus the type describing
// them, for pkg/dbg/present to format.
func (ev *Evaluator) Read(path string) ([]byte, TypedValueLoc, error) {
	tv, err := ev.Resolve(path)
	if err != nil {
		return nil, TypedValueLoc{}, err
	}
	size, err := ev.info.Types.SizeOf(tv.Type)
	if err != nil {
		return nil, tv, err
	}
	buf, err := ev.readBytes(tv.Loc, int(size))
	return buf, tv, err
}

// Write resolves path and stores data, truncated/padded to the target
// type's size, at the resolved location.
func (ev *Evaluator) Write(path string, data []byte) error {
	tv, err := ev.Resolve(path)
	if err != nil {
		return err
	}
	size, err := ev.info.Types.SizeOf(tv.Type)
	if err != nil {
		return err
	}
	buf := make([]byte, size)
	copy(buf, data)
	return ev.writeBytes(tv.Loc, buf)
}
