// Package present renders session output for the REPL: colorized stop
// reports, breakpoint listings, and print/location results.
//
// Grounded on _examples/Manu343726-cucaracha/cmd/cpu/debug.go's
// colorAddr/colorReg/colorError/... palette, carried over with the same
// role each color plays there (addresses cyan, values bold white, errors
// bold red, successes green) rather than invented fresh.
package present

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/dbg-project/dbg/pkg/dbg/breakpoint"
	"github.com/dbg-project/dbg/pkg/dbg/session"
	"github.com/dbg-project/dbg/pkg/dbg/tracee"
)

var (
	colorAddr       = color.New(color.FgCyan)
	colorValue      = color.New(color.FgWhite, color.Bold)
	colorPrompt     = color.New(color.FgBlue, color.Bold)
	colorError      = color.New(color.FgRed, color.Bold)
	colorSuccess    = color.New(color.FgGreen)
	colorWarning    = color.New(color.FgYellow)
	colorHeader     = color.New(color.FgWhite, color.Bold, color.Underline)
	colorBreakpoint = color.New(color.FgRed, color.Bold)
	colorPC         = color.New(color.FgGreen, color.Bold)
	colorSourceFile = color.New(color.FgHiBlue)
	colorSourceLine = color.New(color.FgHiCyan)
)

// Prompt returns the colorized REPL prompt string for the given state.
func Prompt(st session.State) string {
	return colorPrompt.Sprintf("(dbg:%s) ", st)
}

// Error formats err for stderr.
func Error(err error) string {
	return colorError.Sprintf("error: %v", err)
}

// Success formats a plain confirmation message.
func Success(msg string) string {
	return colorSuccess.Sprint(msg)
}

// StopEvent renders a session.StopEvent the way a breakpoint hit,
// single-step landing, or program exit should read in the REPL.
func StopEvent(ev session.StopEvent) string {
	switch ev.Cause {
	case tracee.CauseExited:
		if ev.ExitStatus == 0 {
			return colorSuccess.Sprintf("program exited normally (status %d)", ev.ExitStatus)
		}
		return colorWarning.Sprintf("program exited with status %d", ev.ExitStatus)
	case tracee.CauseBreakpoint:
		return fmt.Sprintf("%s breakpoint hit at %s%s",
			colorBreakpoint.Sprint("*"),
			colorAddr.Sprintf("%#x", ev.IP),
			fileLineSuffix(ev.FileLine))
	case tracee.CauseTrap:
		return fmt.Sprintf("%s stopped at %s%s",
			colorPC.Sprint("=>"),
			colorAddr.Sprintf("%#x", ev.IP),
			fileLineSuffix(ev.FileLine))
	case tracee.CauseSignal:
		return colorWarning.Sprintf("stopped by signal at %#x", ev.IP)
	default:
		return fmt.Sprintf("%s stopped at %s%s",
			colorPC.Sprint("=>"),
			colorAddr.Sprintf("%#x", ev.IP),
			fileLineSuffix(ev.FileLine))
	}
}

func fileLineSuffix(fl string) string {
	if fl == "" {
		return ""
	}
	return fmt.Sprintf(" (%s)", colorSourceLine.Sprint(fl))
}

// BreakpointList renders a sorted breakpoint table for the `list` command.
func BreakpointList(bps []*breakpoint.Breakpoint) string {
	if len(bps) == 0 {
		return colorWarning.Sprint("no breakpoints set")
	}
	var b strings.Builder
	colorHeader.Fprintln(&b, "Breakpoints:")
	for _, bp := range bps {
		status := colorSuccess.Sprint("enabled")
		if !bp.Enabled {
			status = colorWarning.Sprint("disabled")
		}
		fmt.Fprintf(&b, "  %s at %s (%s)\n",
			colorValue.Sprint(bp.Loc),
			colorAddr.Sprintf("%#x", bp.Addr),
			status)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Location renders the current-location string from session.Location.
func Location(loc string) string {
	return colorSourceFile.Sprint(loc)
}

// helpEntry is one row of the help table, matching the teacher's
// CommandHelp{Name, Aliases, Description, Usage} shape.
type helpEntry struct {
	name        string
	aliases     string
	description string
}

var helpTable = []helpEntry{
	{"run", "r", "start the tracee and run to the first stop"},
	{"stop", "", "kill the tracee"},
	{"continue", "cont, c", "resume a stopped tracee"},
	{"step", "", "advance to the next source line"},
	{"step-in", "", "step into the next call"},
	{"step-out", "", "run to the current function's return"},
	{"breakpoint LOC", "break, b LOC", "set a breakpoint (function, file:line, or line number)"},
	{"remove LOC", "rm LOC", "remove a breakpoint"},
	{"enable LOC", "", "re-arm a disabled breakpoint"},
	{"disable LOC", "", "disarm a breakpoint without forgetting it"},
	{"list", "l", "list breakpoints"},
	{"clear", "", "remove every breakpoint"},
	{"print [PATH]", "p [PATH]", "print a variable, or every variable in scope"},
	{"set PATH VALUE", "", "assign VALUE to PATH"},
	{"location", "loc", "show the current file:line"},
	{"help", "h", "show this help"},
	{"quit", "q", "exit the debugger"},
}

// Help renders the command table shown by the `help` command, in the same
// fixed-column style as the teacher's cmdHelp.
func Help() string {
	var b strings.Builder
	colorHeader.Fprintln(&b, "Commands:")
	for _, e := range helpTable {
		name := e.name
		if e.aliases != "" {
			name = fmt.Sprintf("%s, %s", e.name, e.aliases)
		}
		fmt.Fprintf(&b, "  %-20s %s\n", name, e.description)
	}
	return strings.TrimRight(b.String(), "\n")
}
