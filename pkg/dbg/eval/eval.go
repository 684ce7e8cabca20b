package eval

import (
	"fmt"

	"github.com/dbg-project/dbg/pkg/dbg/dbgerr"
	"github.com/dbg-project/dbg/pkg/dbg/dwarfinfo"
	"github.com/dbg-project/dbg/pkg/dbg/locfinder"
	"github.com/dbg-project/dbg/pkg/dbg/tracee"
	"github.com/dbg-project/dbg/pkg/dbg/types"
	"github.com/dbg-project/dbg/pkg/dbg/unwind"
)

// Evaluator resolves variable paths against the live tracee and reads or
// writes the values found there, per spec.md §4.9. It is the one place
// that ties the DWARF tables, the type graph, the call-frame unwinder and
// the live register/memory state together.
type Evaluator struct {
	ctrl *tracee.Controller
	info *dwarfinfo.Info
	lf   *locfinder.LocFinder
	unw  *unwind.Unwinder
}

// New builds an Evaluator. unw may be nil if the image carries no
// .eh_frame/.debug_frame section, in which case any location requiring
// DW_OP_call_frame_cfa fails with ErrStepFailed instead of resolving.
func New(ctrl *tracee.Controller, info *dwarfinfo.Info, lf *locfinder.LocFinder, unw *unwind.Unwinder) *Evaluator {
	return &Evaluator{ctrl: ctrl, info: info, lf: lf, unw: unw}
}

// currentFunction returns the function containing the tracee's current IP,
// or nil if the IP falls outside any known function (e.g. in libc).
func (ev *Evaluator) currentFunction() (*dwarfinfo.Function, error) {
	regs, err := ev.ctrl.GetRegs()
	if err != nil {
		return nil, err
	}
	fn, _ := ev.lf.FindFuncByAddress(regs.Rip)
	return fn, nil
}

// locate resolves a Variable's DW_AT_location exprloc into a TypedValueLoc
// against the tracee's current register state, per spec.md §4.9's
// RequiresFrameBase/RequiresCallFrameCfa/RequiresRelocatedAddress cases.
func (ev *Evaluator) locate(v dwarfinfo.Variable, fn *dwarfinfo.Function) (TypedValueLoc, error) {
	expr, err := ev.info.LocationExprloc(v.Ref)
	if err != nil {
		return TypedValueLoc{}, fmt.Errorf("%w: %v", dbgerr.ErrVarNotFound, err)
	}

	regs, err := ev.ctrl.GetRegs()
	if err != nil {
		return TypedValueLoc{}, err
	}

	ctx := evalContext{regs: regs, baseAddress: ev.baseAddress()}
	if fn != nil {
		ctx.frameBase = fn.FrameBase
	}
	if ev.unw != nil {
		ctx.cfa = ev.unw
	}

	loc, err := evalExprLoc(expr, ctx)
	if err != nil {
		return TypedValueLoc{}, err
	}
	return TypedValueLoc{Loc: loc, Type: v.Type}, nil
}

func (ev *Evaluator) baseAddress() uint64 {
	return ev.info.Image.BaseAddress()
}

// Types exposes the shared type store, needed by callers formatting a
// resolved value (pkg/dbg/session, pkg/dbg/present).
func (ev *Evaluator) Types() *types.Store { return ev.info.Types }
