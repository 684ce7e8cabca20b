package present

import (
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/dbg-project/dbg/pkg/dbg/breakpoint"
	"github.com/dbg-project/dbg/pkg/dbg/session"
	"github.com/dbg-project/dbg/pkg/dbg/tracee"
)

func init() {
	// Deterministic, ANSI-free output for assertions.
	color.NoColor = true
}

func TestPrompt(t *testing.T) {
	assert.Equal(t, "(dbg:running) ", Prompt(session.Running))
	assert.Equal(t, "(dbg:started) ", Prompt(session.Started))
	assert.Equal(t, "(dbg:exited) ", Prompt(session.Exited))
}

func TestError(t *testing.T) {
	assert.Equal(t, "error: boom", Error(errors.New("boom")))
}

func TestSuccess(t *testing.T) {
	assert.Equal(t, "done", Success("done"))
}

func TestStopEvent_ExitedNormally(t *testing.T) {
	out := StopEvent(session.StopEvent{Cause: tracee.CauseExited, ExitStatus: 0})
	assert.Equal(t, "program exited normally (status 0)", out)
}

func TestStopEvent_ExitedWithError(t *testing.T) {
	out := StopEvent(session.StopEvent{Cause: tracee.CauseExited, ExitStatus: 2})
	assert.Equal(t, "program exited with status 2", out)
}

func TestStopEvent_Breakpoint(t *testing.T) {
	out := StopEvent(session.StopEvent{Cause: tracee.CauseBreakpoint, IP: 0x401000, FileLine: "main.c:10"})
	assert.Equal(t, "* breakpoint hit at 0x401000 (main.c:10)", out)
}

func TestStopEvent_Breakpoint_NoFileLine(t *testing.T) {
	out := StopEvent(session.StopEvent{Cause: tracee.CauseBreakpoint, IP: 0x401000})
	assert.Equal(t, "* breakpoint hit at 0x401000", out)
}

func TestStopEvent_Trap(t *testing.T) {
	out := StopEvent(session.StopEvent{Cause: tracee.CauseTrap, IP: 0x401010, FileLine: "main.c:11"})
	assert.Equal(t, "=> stopped at 0x401010 (main.c:11)", out)
}

func TestStopEvent_Signal(t *testing.T) {
	out := StopEvent(session.StopEvent{Cause: tracee.CauseSignal, IP: 0x401020})
	assert.Equal(t, "stopped by signal at 0x401020", out)
}

func TestBreakpointList_Empty(t *testing.T) {
	assert.Equal(t, "no breakpoints set", BreakpointList(nil))
}

func TestBreakpointList_EnabledAndDisabled(t *testing.T) {
	bps := []*breakpoint.Breakpoint{
		{Loc: "main.c:5", Addr: 0x400500, Enabled: true},
		{Loc: "main.c:9", Addr: 0x400900, Enabled: false},
	}
	out := BreakpointList(bps)
	assert.Contains(t, out, "Breakpoints:")
	assert.Contains(t, out, "main.c:5 at 0x400500 (enabled)")
	assert.Contains(t, out, "main.c:9 at 0x400900 (disabled)")
}

func TestLocation(t *testing.T) {
	assert.Equal(t, "main.c:5", Location("main.c:5"))
}

func TestHelp(t *testing.T) {
	out := Help()
	assert.Contains(t, out, "Commands:")
	assert.Contains(t, out, "run, r")
	assert.Contains(t, out, "quit, q")
}
