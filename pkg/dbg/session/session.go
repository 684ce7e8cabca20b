// Package session implements the top-level state machine described in
// spec.md §3/§9: Started -> Running -> Exited, gating which commands are
// legal in each state and wiring together every lower layer (dwarfinfo,
// locfinder, the tracee controller, the breakpoint manager, the stepping
// engine and the variable evaluator) behind one command-dispatch surface.
//
// Grounded on _examples/original_source/src/fsm.rs's per-state Rule match
// (the exact Started/Running/Exited gating reproduced below) and on
// _examples/Manu343726-cucaracha/pkg/hw/cpu/debugger/controller.go's
// Controller-with-CmdX-methods shape for how a single struct should own
// the backend and report results back to its caller.
package session

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dbg-project/dbg/pkg/dbg/breakpoint"
	"github.com/dbg-project/dbg/pkg/dbg/dbgerr"
	"github.com/dbg-project/dbg/pkg/dbg/dbglog"
	"github.com/dbg-project/dbg/pkg/dbg/dwarfinfo"
	"github.com/dbg-project/dbg/pkg/dbg/eval"
	"github.com/dbg-project/dbg/pkg/dbg/locfinder"
	"github.com/dbg-project/dbg/pkg/dbg/stepping"
	"github.com/dbg-project/dbg/pkg/dbg/tracee"
	"github.com/dbg-project/dbg/pkg/dbg/unwind"
)

// State is the coarse session lifecycle, per spec.md §3.
type State int

const (
	Started State = iota
	Running
	Exited
)

func (s State) String() string {
	switch s {
	case Started:
		return "started"
	case Running:
		return "running"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// StopEvent reports the outcome of a run/continue/step command to the
// caller, enough for pkg/dbg/present to render a line describing it.
type StopEvent struct {
	Cause      tracee.StopCause
	IP         uint64
	ExitStatus int
	FileLine   string
}

// Session owns one debugged program end to end: the parsed DWARF image,
// the breakpoint table, and (once Run is called) the live tracee and its
// stepping/evaluation collaborators.
type Session struct {
	path string
	args []string

	state State

	info *dwarfinfo.Info
	lf   *locfinder.LocFinder

	ctrl    *tracee.Controller
	bp      *breakpoint.Manager
	stepper *stepping.Engine
	ev      *eval.Evaluator

	// pendingBreakpoints holds breakpoints requested in the Started state,
	// before the tracee's text exists to patch; Run installs them once
	// the process is up.
	pendingBreakpoints []pendingBP

	log *slog.Logger
}

// pendingBP holds only the location string, not a resolved address: until
// Run learns the tracee's real PIE base address and calls info.Relocate,
// any address resolveBreakpointLoc would return is file-relative, not
// tracee-absolute. The address is (re-)resolved once Run has relocated
// the tables, so a breakpoint queued before Run ends up at the same
// address it would have if added after Run.
type pendingBP struct {
	loc string
}

// New loads path's ELF/DWARF image and builds a session in the Started
// state. No tracee exists yet; the breakpoint manager is created here so
// breakpoints can be registered before Run (the same sequencing
// _examples/original_source/src/fsm.rs's Started-state rules allow).
func New(path string, args []string) (*Session, error) {
	info, err := dwarfinfo.Load(path)
	if err != nil {
		return nil, err
	}
	ctrl := tracee.New(path, args)
	return &Session{
		path:  path,
		args:  args,
		state: Started,
		info:  info,
		lf:    locfinder.New(info),
		ctrl:  ctrl,
		bp:    breakpoint.NewManager(ctrl),
		log:   dbglog.Discard(),
	}, nil
}

// SetLogger replaces the session's logger, used by cmd/dbg to wire in the
// console/file fanout logger once flags are parsed.
func (s *Session) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// require rejects a command that spec.md §3's per-state rule set doesn't
// allow, mirroring fsm.rs's InvalidCommand fallthrough.
func (s *Session) require(allowed ...State) error {
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return fmt.Errorf("%w: not valid in %s state", dbgerr.ErrInvalidCommand, s.state)
}

// Run starts the tracee, resolves its PIE base address if needed, and
// builds the stepping engine and variable evaluator, which can only exist
// once a live process backs them. Legal only from Started, per fsm.rs.
func (s *Session) Run() (StopEvent, error) {
	if err := s.require(Started); err != nil {
		return StopEvent{}, err
	}
	s.log.Info("starting tracee", "path", s.path, "args", s.args)
	if err := s.ctrl.Start(); err != nil {
		return StopEvent{}, err
	}
	s.log.Debug("tracee started", "pid", s.ctrl.Pid())
	if s.info.Image.IsPIE() {
		if err := s.info.Image.SetBaseAddressFromMaps(s.ctrl.Pid()); err != nil {
			return StopEvent{}, err
		}
		// Load parsed every table assuming base 0, since the tracee didn't
		// exist yet; now that the real base is known, shift them into
		// tracee-absolute addresses exactly once, per spec.md §4.4.
		s.info.Relocate(s.info.Image.BaseAddress())
	}

	s.stepper = stepping.New(s.ctrl, s.bp, s.lf)
	s.ev = eval.New(s.ctrl, s.info, s.lf, s.buildUnwinder())
	s.state = Running

	for _, p := range s.pendingBreakpoints {
		addr, key, err := s.resolveBreakpointLoc(p.loc)
		if err != nil {
			return StopEvent{}, err
		}
		if err := s.bp.Add(key, addr); err != nil {
			return StopEvent{}, err
		}
	}
	s.pendingBreakpoints = nil

	stop, err := s.stepper.Cont()
	if err != nil {
		return StopEvent{}, err
	}
	return s.handleStop(stop)
}

// buildUnwinder constructs an unwind.Unwinder over .eh_frame if the image
// carries one, or nil otherwise (DW_OP_call_frame_cfa locations then fail
// with ErrStepFailed instead of resolving, per pkg/dbg/eval's contract).
func (s *Session) buildUnwinder() *unwind.Unwinder {
	data, err := s.info.Image.SectionBytes(".eh_frame")
	if err != nil {
		return nil
	}
	sec := s.info.Image.ELF().Section(".eh_frame")
	if sec == nil {
		return nil
	}
	return unwind.New(data, sec.Addr, true)
}

// handleStop updates state on a tracee exit and attaches the current
// file:line when the tracee is still alive.
func (s *Session) handleStop(stop tracee.Stop) (StopEvent, error) {
	ev := StopEvent{Cause: stop.Cause, IP: stop.IP, ExitStatus: stop.ExitStatus}
	if stop.Cause == tracee.CauseExited {
		s.state = Exited
		s.log.Info("tracee exited", "status", stop.ExitStatus)
		return ev, nil
	}
	if fl, ok := s.lf.FindLine(stop.IP); ok {
		ev.FileLine = fl
	}
	s.log.Debug("tracee stopped", "cause", stop.Cause, "ip", fmt.Sprintf("%#x", stop.IP), "fileline", ev.FileLine)
	return ev, nil
}

// Stop kills the tracee unconditionally, per spec.md §4.6. Legal while
// Running, and in Started, where there is no tracee yet and it does nothing.
func (s *Session) Stop() error {
	if err := s.require(Started, Running); err != nil {
		return err
	}
	if s.state == Started {
		return nil
	}
	if err := s.ctrl.Stop(); err != nil {
		return err
	}
	s.state = Exited
	return nil
}

// Continue resumes a stopped tracee. Legal only while Running.
func (s *Session) Continue() (StopEvent, error) {
	if err := s.require(Running); err != nil {
		return StopEvent{}, err
	}
	stop, err := s.stepper.Cont()
	if err != nil {
		return StopEvent{}, err
	}
	return s.handleStop(stop)
}

// Step advances to the next source line. Legal only while Running.
func (s *Session) Step() (StopEvent, error) {
	if err := s.require(Running); err != nil {
		return StopEvent{}, err
	}
	stop, err := s.stepper.Step()
	if err != nil {
		return StopEvent{}, err
	}
	return s.handleStop(stop)
}

// StepIn single-steps into the next line, descending into calls. Legal
// only while Running.
func (s *Session) StepIn() (StopEvent, error) {
	if err := s.require(Running); err != nil {
		return StopEvent{}, err
	}
	stop, err := s.stepper.StepIn()
	if err != nil {
		return StopEvent{}, err
	}
	return s.handleStop(stop)
}

// StepOut runs to the current function's return address. Legal only
// while Running.
func (s *Session) StepOut() (StopEvent, error) {
	if err := s.require(Running); err != nil {
		return StopEvent{}, err
	}
	stop, err := s.stepper.StepOut()
	if err != nil {
		return StopEvent{}, err
	}
	return s.handleStop(stop)
}

// resolveBreakpointLoc implements spec.md §4.7's breakpoint-location
// grammar: a bare decimal names a line in the unit containing the current
// (or, before Run, the main) compile unit; anything else is looked up
// directly as a function name or "file:line" string.
func (s *Session) resolveBreakpointLoc(loc string) (uint64, string, error) {
	if n, err := strconv.Atoi(loc); err == nil {
		unit, ok := s.currentUnit()
		if !ok {
			return 0, "", dbgerr.LocNotFound(loc)
		}
		fileline := fmt.Sprintf("%s:%d", unit.Name, n)
		addr, ok := s.lf.FindLoc(fileline)
		if !ok {
			return 0, "", dbgerr.LocNotFound(fileline)
		}
		return addr, fileline, nil
	}

	addr, ok := s.lf.FindLoc(loc)
	if !ok {
		return 0, "", dbgerr.LocNotFound(loc)
	}
	return addr, loc, nil
}

func (s *Session) currentUnit() (*dwarfinfo.Unit, bool) {
	if s.state == Running {
		regs, err := s.ctrl.GetRegs()
		if err == nil {
			if u, ok := s.lf.FindUnit(regs.Rip); ok {
				return u, true
			}
		}
	}
	return s.lf.MainUnit()
}

// AddBreakpoint installs a breakpoint at loc (a function name, "file:line"
// string, or bare decimal line number in the current unit). Legal in
// Started or Running, per fsm.rs.
func (s *Session) AddBreakpoint(loc string) (*breakpoint.Breakpoint, error) {
	if err := s.require(Started, Running); err != nil {
		return nil, err
	}
	addr, key, err := s.resolveBreakpointLoc(loc)
	if err != nil {
		return nil, err
	}
	if s.state == Started {
		// No tracee text to patch yet, and for a PIE binary no true base
		// address either: addr here is only file-relative. Queue the
		// resolved key (not this address) so Run can re-resolve it against
		// the relocated tables once the process exists.
		return &breakpoint.Breakpoint{Addr: addr, Loc: key, Enabled: false}, s.queueBreakpoint(key)
	}
	if err := s.bp.Add(key, addr); err != nil {
		return nil, err
	}
	s.log.Debug("breakpoint added", "loc", key, "addr", fmt.Sprintf("%#x", addr))
	return &breakpoint.Breakpoint{Addr: addr, Loc: key, Enabled: true}, nil
}

func (s *Session) queueBreakpoint(loc string) error {
	s.pendingBreakpoints = append(s.pendingBreakpoints, pendingBP{loc: loc})
	return nil
}

// RemoveBreakpoint removes the breakpoint at loc. Legal in Started or
// Running.
func (s *Session) RemoveBreakpoint(loc string) error {
	if err := s.require(Started, Running); err != nil {
		return err
	}
	if s.state == Started {
		for i, p := range s.pendingBreakpoints {
			if p.loc == loc {
				s.pendingBreakpoints = append(s.pendingBreakpoints[:i], s.pendingBreakpoints[i+1:]...)
				return nil
			}
		}
		return dbgerr.BreakpointNotFound(loc)
	}
	return s.bp.Remove(loc)
}

// ListBreakpoints returns every breakpoint currently registered. Legal in
// Started or Running.
func (s *Session) ListBreakpoints() ([]*breakpoint.Breakpoint, error) {
	if err := s.require(Started, Running); err != nil {
		return nil, err
	}
	if s.state == Started {
		out := make([]*breakpoint.Breakpoint, 0, len(s.pendingBreakpoints))
		for _, p := range s.pendingBreakpoints {
			// Still file-relative until Run relocates the tables; shown for
			// informational purposes only.
			addr, _ := s.lf.FindLoc(p.loc)
			out = append(out, &breakpoint.Breakpoint{Addr: addr, Loc: p.loc})
		}
		return out, nil
	}
	return s.bp.List(), nil
}

// EnableBreakpoint re-arms a disabled breakpoint. Legal in Started or
// Running.
func (s *Session) EnableBreakpoint(loc string) error {
	if err := s.require(Started, Running); err != nil {
		return err
	}
	if s.state == Started {
		return nil
	}
	return s.bp.Enable(loc)
}

// DisableBreakpoint disarms a breakpoint without forgetting it. Legal in
// Started or Running.
func (s *Session) DisableBreakpoint(loc string) error {
	if err := s.require(Started, Running); err != nil {
		return err
	}
	if s.state == Started {
		return nil
	}
	return s.bp.Disable(loc)
}

// ClearBreakpoints removes every breakpoint. Legal in Started or Running.
func (s *Session) ClearBreakpoints() error {
	if err := s.require(Started, Running); err != nil {
		return err
	}
	s.pendingBreakpoints = nil
	if s.state == Started {
		return nil
	}
	return s.bp.Clear()
}

// Print formats path (or every variable in scope, when path is empty)
// against the tracee's current state. Legal only while Running.
func (s *Session) Print(path string) (string, error) {
	if err := s.require(Running); err != nil {
		return "", err
	}
	if strings.TrimSpace(path) == "" {
		lines, err := s.ev.FormatAll()
		if err != nil {
			return "", err
		}
		return strings.Join(lines, "\n"), nil
	}
	return s.ev.Format(path)
}

// Set assigns valueStr (parsed per spec.md §6) to path. Legal only while
// Running.
func (s *Session) Set(path, valueStr string) error {
	if err := s.require(Running); err != nil {
		return err
	}
	return s.ev.Set(path, valueStr)
}

// Location reports the current file:line and containing function, or the
// main unit's name before the tracee has started. Always legal.
func (s *Session) Location() (string, error) {
	if s.state == Running {
		regs, err := s.ctrl.GetRegs()
		if err != nil {
			return "", err
		}
		fl, ok := s.lf.FindLine(regs.Rip)
		if !ok {
			return fmt.Sprintf("%#x", regs.Rip), nil
		}
		if fn, ok := s.lf.FindFuncByAddress(regs.Rip); ok {
			return fmt.Sprintf("%s in %s", fl, fn.Name), nil
		}
		return fl, nil
	}
	unit, ok := s.lf.MainUnit()
	if !ok {
		return "", fmt.Errorf("%w: no main compile unit", dbgerr.ErrLocNotFound)
	}
	return fmt.Sprintf("%s (not started)", unit.Name), nil
}

// Close releases the underlying image and, if still alive, kills the
// tracee. Safe to call in any state.
func (s *Session) Close() error {
	if s.state == Running {
		_ = s.ctrl.Stop()
	}
	return s.info.Image.Close()
}
