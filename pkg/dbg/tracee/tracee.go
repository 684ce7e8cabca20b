// Package tracee implements the ptrace-based process controller spec.md
// §4.6 describes: process lifecycle, register access, single-stepping,
// and stop-cause identification.
//
// Grounded on _examples/original_source/src/debugger.rs for the
// operations this needs to expose, and on the ptrace usage patterns in
// _examples/JetSetIlly-Gopher2600/go.mod (an independent direct consumer
// of golang.org/x/sys in the pack) and the teacher's indirect dependency
// on the same module, now promoted to direct. golang.org/x/sys/unix is
// the only ecosystem-idiomatic way to issue PTRACE_* requests from Go;
// there is no higher-level ptrace library in the pack or the wider
// ecosystem worth adopting instead.
package tracee

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Status is the coarse state of the tracee, mirroring spec.md §3's
// Session state machine at the process-control layer.
type Status int

const (
	StatusNotStarted Status = iota
	StatusRunning
	StatusStopped
	StatusExited
)

// StopCause classifies why Wait/SingleStep returned control.
type StopCause int

const (
	CauseExited StopCause = iota
	CauseTrap
	CauseBreakpoint
	CauseSignal
	CauseStep
)

// Stop describes one wait() result.
type Stop struct {
	Cause      StopCause
	IP         uint64
	ExitStatus int
	Signal     syscall.Signal
}

// BreakpointHooks is the minimal surface Wait/Cont need from
// pkg/dbg/breakpoint.Manager to disambiguate and rewind stops, kept as an
// interface here so tracee never imports breakpoint (which itself
// imports tracee to read/write trap bytes).
type BreakpointHooks interface {
	TrapAt(addr uint64) bool
	RemoveTrap(addr uint64)
	BreakpointAt(addr uint64) bool
	DisableBreakpoint(addr uint64) error
	EnableBreakpoint(addr uint64) error
	DisabledBreakpointAt(addr uint64) bool
}

// Controller owns one tracee process.
type Controller struct {
	path string
	args []string

	cmd    *exec.Cmd
	pid    int
	status Status
	memFile *os.File
}

// New prepares a controller for program path with argv args (args[0]
// excluded; path is argv[0]).
func New(path string, args []string) *Controller {
	return &Controller{path: path, args: args, status: StatusNotStarted}
}

// Start forks+execs the tracee with PTRACE_TRACEME set, then waits for
// the initial exec-trap stop so the debugger gains control before any
// tracee instruction runs.
func (c *Controller) Start() error {
	c.cmd = exec.Command(c.path, c.args...)
	c.cmd.Stdin = os.Stdin
	c.cmd.Stdout = os.Stdout
	c.cmd.Stderr = os.Stderr
	c.cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("tracee: start %s: %w", c.path, err)
	}
	c.pid = c.cmd.Process.Pid

	var ws unix.WaitStatus
	if _, err := unix.Wait4(c.pid, &ws, 0, nil); err != nil {
		return fmt.Errorf("tracee: initial wait: %w", err)
	}

	// Stop tracing at exec (the default) rather than following forks, in
	// keeping with the single-process, non-multithreaded scope of
	// spec.md §1's Non-goals.
	_ = unix.PtraceSetOptions(c.pid, unix.PTRACE_O_EXITKILL)

	mem, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", c.pid), os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("tracee: open /proc/%d/mem: %w", c.pid, err)
	}
	c.memFile = mem
	c.status = StatusStopped
	return nil
}

// Pid returns the tracee's process id. Zero before Start.
func (c *Controller) Pid() int { return c.pid }

// Status returns the coarse lifecycle state.
func (c *Controller) Status() Status { return c.status }

// Cont implements spec.md §4.6's cont: if IP currently sits on a
// disabled breakpoint, single-step past it and re-enable it before
// resuming, so the tracee doesn't immediately re-trap on its own
// breakpoint.
func (c *Controller) Cont(hooks BreakpointHooks) error {
	regs, err := c.GetRegs()
	if err != nil {
		return err
	}
	if hooks != nil && hooks.DisabledBreakpointAt(regs.Rip) {
		if _, err := c.stepOnce(); err != nil {
			return err
		}
		if err := hooks.EnableBreakpoint(regs.Rip); err != nil {
			return err
		}
	}
	if err := unix.PtraceCont(c.pid, 0); err != nil {
		return fmt.Errorf("tracee: PTRACE_CONT: %w", err)
	}
	c.status = StatusRunning
	return nil
}

// Wait blocks for the next stop and classifies it per spec.md §4.6's
// three-branch rule, rewinding IP by one byte for trap/breakpoint hits.
func (c *Controller) Wait(hooks BreakpointHooks) (Stop, error) {
	var ws unix.WaitStatus
	if _, err := unix.Wait4(c.pid, &ws, 0, nil); err != nil {
		return Stop{}, fmt.Errorf("tracee: wait: %w", err)
	}
	if ws.Exited() {
		c.status = StatusExited
		return Stop{Cause: CauseExited, ExitStatus: ws.ExitStatus()}, nil
	}
	if ws.Signaled() {
		c.status = StatusExited
		return Stop{Cause: CauseExited, ExitStatus: 128 + int(ws.Signal())}, nil
	}

	c.status = StatusStopped
	regs, err := c.GetRegs()
	if err != nil {
		return Stop{}, err
	}
	ip := regs.Rip
	sig := ws.StopSignal()
	if sig != unix.SIGTRAP {
		return Stop{Cause: CauseSignal, IP: ip, Signal: sig}, nil
	}

	if hooks != nil && hooks.TrapAt(ip-1) {
		hooks.RemoveTrap(ip - 1)
		c.rewindIP(regs, ip-1)
		return Stop{Cause: CauseTrap, IP: ip - 1}, nil
	}
	if hooks != nil && hooks.BreakpointAt(ip-1) {
		if err := hooks.DisableBreakpoint(ip - 1); err != nil {
			return Stop{}, err
		}
		c.rewindIP(regs, ip-1)
		return Stop{Cause: CauseBreakpoint, IP: ip - 1}, nil
	}
	return Stop{Cause: CauseStep, IP: ip}, nil
}

func (c *Controller) rewindIP(regs unix.PtraceRegs, newIP uint64) {
	regs.Rip = newIP
	_ = c.setRegs(regs)
}

// SingleStep executes exactly one instruction and waits for the
// resulting stop, without trap/breakpoint disambiguation (a single step
// lands exactly at the new IP, not one byte past it).
func (c *Controller) SingleStep() (Stop, error) {
	regs, err := c.stepOnce()
	if err != nil {
		return Stop{}, err
	}
	if c.status == StatusExited {
		return Stop{Cause: CauseExited}, nil
	}
	return Stop{Cause: CauseStep, IP: regs.Rip}, nil
}

func (c *Controller) stepOnce() (unix.PtraceRegs, error) {
	if err := unix.PtraceSingleStep(c.pid); err != nil {
		return unix.PtraceRegs{}, fmt.Errorf("tracee: PTRACE_SINGLESTEP: %w", err)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(c.pid, &ws, 0, nil); err != nil {
		return unix.PtraceRegs{}, fmt.Errorf("tracee: wait after step: %w", err)
	}
	if ws.Exited() || ws.Signaled() {
		c.status = StatusExited
		return unix.PtraceRegs{}, nil
	}
	return c.GetRegs()
}

// Stop kills the tracee unconditionally, per spec.md §4.6.
func (c *Controller) Stop() error {
	if c.status == StatusExited || c.status == StatusNotStarted {
		return nil
	}
	if err := unix.Kill(c.pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("tracee: kill: %w", err)
	}
	var ws unix.WaitStatus
	unix.Wait4(c.pid, &ws, 0, nil)
	c.status = StatusExited
	if c.memFile != nil {
		c.memFile.Close()
	}
	return nil
}

// GetRegs fetches the tracee's general-purpose registers.
func (c *Controller) GetRegs() (unix.PtraceRegs, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(c.pid, &regs); err != nil {
		return regs, fmt.Errorf("tracee: PTRACE_GETREGS: %w", err)
	}
	return regs, nil
}

// SetRegs writes the tracee's general-purpose registers back.
func (c *Controller) SetRegs(regs unix.PtraceRegs) error { return c.setRegs(regs) }

func (c *Controller) setRegs(regs unix.PtraceRegs) error {
	if err := unix.PtraceSetRegs(c.pid, &regs); err != nil {
		return fmt.Errorf("tracee: PTRACE_SETREGS: %w", err)
	}
	return nil
}
