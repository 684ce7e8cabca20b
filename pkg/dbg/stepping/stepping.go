// Package stepping implements the stepping engine described in spec.md
// §4.8: step (over), step-in, step-out, and continue, coordinating the
// breakpoint/trap manager and the tracee controller.
//
// Grounded on _examples/original_source/src/debugger.rs's step/step_in/
// step_out methods for the control flow, and on
// _examples/Manu343726-cucaracha/pkg/hw/cpu/debugger/controller.go for
// the general shape of a stepping loop driving a lower-level executor.
package stepping

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/dbg-project/dbg/pkg/dbg/breakpoint"
	"github.com/dbg-project/dbg/pkg/dbg/dbgerr"
	"github.com/dbg-project/dbg/pkg/dbg/locfinder"
	"github.com/dbg-project/dbg/pkg/dbg/tracee"
)

// prologueMagic mirrors dwarfinfo's prologue pattern; duplicated here
// (rather than imported) since stepping checks it against live tracee
// memory, not static file bytes.
var prologueMagic = [8]byte{0xF3, 0x0F, 0x1E, 0xFA, 0x55, 0x48, 0x89, 0xE5}

// Engine drives the tracee through the four stepping operations.
type Engine struct {
	ctrl *tracee.Controller
	bp   *breakpoint.Manager
	lf   *locfinder.LocFinder
}

// New builds a stepping engine over the given collaborators.
func New(ctrl *tracee.Controller, bp *breakpoint.Manager, lf *locfinder.LocFinder) *Engine {
	return &Engine{ctrl: ctrl, bp: bp, lf: lf}
}

// Cont resumes the tracee, re-arming any breakpoint it was resting on.
func (e *Engine) Cont() (tracee.Stop, error) {
	if err := e.ctrl.Cont(e.bp); err != nil {
		return tracee.Stop{}, err
	}
	return e.ctrl.Wait(e.bp)
}

// Step advances to the next source line in the current function,
// stepping out if the next line falls outside it, per spec.md §4.8.
func (e *Engine) Step() (tracee.Stop, error) {
	regs, err := e.ctrl.GetRegs()
	if err != nil {
		return tracee.Stop{}, err
	}
	fileline, ok := e.lf.FindLine(regs.Rip)
	if !ok {
		return tracee.Stop{}, fmt.Errorf("%w: no line information at %#x", dbgerr.ErrStepFailed, regs.Rip)
	}
	funcEnd, hasFunc := e.lf.FindFuncEnd(regs.Rip)
	nextAddr, hasNext := e.lf.FindNextLineAddress(fileline)

	if !hasNext || (hasFunc && nextAddr >= funcEnd) {
		return e.StepOut()
	}

	if err := e.bp.AddTrap(nextAddr); err != nil {
		return tracee.Stop{}, err
	}
	if err := e.ctrl.Cont(e.bp); err != nil {
		return tracee.Stop{}, err
	}
	return e.ctrl.Wait(e.bp)
}

// StepIn single-steps until the current file:line changes or the tracee
// exits, per spec.md §4.8.
func (e *Engine) StepIn() (tracee.Stop, error) {
	regs, err := e.ctrl.GetRegs()
	if err != nil {
		return tracee.Stop{}, err
	}
	start, _ := e.lf.FindLine(regs.Rip)

	for {
		stop, err := e.ctrl.SingleStep()
		if err != nil {
			return tracee.Stop{}, err
		}
		if stop.Cause == tracee.CauseExited {
			return stop, nil
		}
		cur, ok := e.lf.FindLine(stop.IP)
		if !ok || cur != start {
			return stop, nil
		}
	}
}

// StepOut runs to the caller's return address, per spec.md §4.8. Inside
// main there is no caller to return to, so it behaves like Cont.
func (e *Engine) StepOut() (tracee.Stop, error) {
	regs, err := e.ctrl.GetRegs()
	if err != nil {
		return tracee.Stop{}, err
	}
	if e.lf.IsInsideMain(regs.Rip) {
		return e.Cont()
	}

	fnStart, ok := e.lf.FindFuncStart(regs.Rip)
	if !ok {
		return tracee.Stop{}, fmt.Errorf("%w: no function at %#x", dbgerr.ErrStepFailed, regs.Rip)
	}

	var prologue [8]byte
	if err := e.ctrl.ReadMemory(fnStart, prologue[:]); err != nil {
		return tracee.Stop{}, err
	}
	if prologue != prologueMagic {
		return tracee.Stop{}, fmt.Errorf("%w: function at %#x lacks the expected prologue", dbgerr.ErrStepFailed, fnStart)
	}

	retAddr, err := e.returnAddress(regs, fnStart)
	if err != nil {
		return tracee.Stop{}, err
	}

	if err := e.bp.AddTrap(retAddr); err != nil {
		return tracee.Stop{}, err
	}
	if err := e.ctrl.Cont(e.bp); err != nil {
		return tracee.Stop{}, err
	}
	return e.ctrl.Wait(e.bp)
}

// returnAddress implements spec.md §4.8's three-region prologue rule:
// before `push rbp` the return address sits at *RSP; after it but before
// the frame pointer is established it sits at *(RSP+8); once the frame is
// fully established it sits at *(RBP+8).
func (e *Engine) returnAddress(regs unix.PtraceRegs, fnStart uint64) (uint64, error) {
	var buf [8]byte
	offset := regs.Rip - fnStart

	var ptr uint64
	switch {
	case offset < 4:
		ptr = regs.Rsp
	case offset < 8:
		ptr = regs.Rsp + 8
	default:
		ptr = regs.Rbp + 8
	}

	if err := e.ctrl.ReadMemory(ptr, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: read return address: %v", dbgerr.ErrStepFailed, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
