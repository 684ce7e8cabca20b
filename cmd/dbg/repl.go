package dbg

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dbg-project/dbg/pkg/dbg/dbgerr"
	"github.com/dbg-project/dbg/pkg/dbg/dbglog"
	"github.com/dbg-project/dbg/pkg/dbg/present"
	"github.com/dbg-project/dbg/pkg/dbg/session"
)

// runDebug loads args[0] and drives an interactive REPL over it,
// tokenizing each line on whitespace the way
// _examples/Manu343726-cucaracha/cmd/cpu/debug.go's executeCommand does,
// but reading lines with chzyer/readline instead of a bare bufio.Scanner
// for history and line editing.
func runDebug(cmd *cobra.Command, args []string) {
	color.NoColor = noColor

	programPath := args[0]
	programArgs := args[1:]

	logger, err := dbglog.New(dbglog.Options{Verbose: verbose, FilePath: logFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, present.Error(err))
		os.Exit(1)
	}

	sess, err := session.New(programPath, programArgs)
	if err != nil {
		fmt.Fprintln(os.Stderr, present.Error(err))
		os.Exit(1)
	}
	sess.SetLogger(logger)
	defer sess.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      present.Prompt(sess.State()),
		HistoryFile: historyFilePath(),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, present.Error(err))
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Println(present.Success(fmt.Sprintf("Loaded %s. Type 'help' for available commands.", programPath)))

	var lastLine string
	for {
		rl.SetPrompt(present.Prompt(sess.State()))
		line, err := rl.Readline()
		if err != nil { // io.EOF or readline.ErrInterrupt
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			line = lastLine
		}
		if line == "" {
			continue
		}
		lastLine = line

		if quit := dispatch(sess, line, os.Stdout, os.Stderr); quit {
			break
		}
	}
}

func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.dbg_history"
}

// dispatch tokenizes one REPL line and runs it against sess, writing
// results to out and errors to errOut. Returns true when the session
// should end. Kept independent of any particular io.Writer so cmd/dbg/
// tui.go's live view can drive the same command logic into a text pane.
func dispatch(sess *session.Session, line string, out, errOut io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmdName := strings.ToLower(fields[0])
	rest := fields[1:]

	switch cmdName {
	case "run", "r":
		ev, err := sess.Run()
		report(ev, err, out, errOut)
	case "stop":
		if err := sess.Stop(); err != nil {
			fmt.Fprintln(errOut, present.Error(err))
		}
	case "continue", "cont", "c":
		ev, err := sess.Continue()
		report(ev, err, out, errOut)
	case "step":
		ev, err := sess.Step()
		report(ev, err, out, errOut)
	case "step-in":
		ev, err := sess.StepIn()
		report(ev, err, out, errOut)
	case "step-out":
		ev, err := sess.StepOut()
		report(ev, err, out, errOut)
	case "breakpoint", "break", "b":
		if len(rest) != 1 {
			fmt.Fprintln(errOut, present.Error(dbgerr.ErrInvalidCommand))
			return false
		}
		bp, err := sess.AddBreakpoint(rest[0])
		if err != nil {
			fmt.Fprintln(errOut, present.Error(err))
			return false
		}
		fmt.Fprintln(out, present.Success(fmt.Sprintf("breakpoint set at %s (%#x)", bp.Loc, bp.Addr)))
	case "remove", "rm":
		if len(rest) != 1 {
			fmt.Fprintln(errOut, present.Error(dbgerr.ErrInvalidCommand))
			return false
		}
		if err := sess.RemoveBreakpoint(rest[0]); err != nil {
			fmt.Fprintln(errOut, present.Error(err))
		}
	case "enable":
		if len(rest) != 1 {
			fmt.Fprintln(errOut, present.Error(dbgerr.ErrInvalidCommand))
			return false
		}
		if err := sess.EnableBreakpoint(rest[0]); err != nil {
			fmt.Fprintln(errOut, present.Error(err))
		}
	case "disable":
		if len(rest) != 1 {
			fmt.Fprintln(errOut, present.Error(dbgerr.ErrInvalidCommand))
			return false
		}
		if err := sess.DisableBreakpoint(rest[0]); err != nil {
			fmt.Fprintln(errOut, present.Error(err))
		}
	case "list", "l":
		bps, err := sess.ListBreakpoints()
		if err != nil {
			fmt.Fprintln(errOut, present.Error(err))
			return false
		}
		fmt.Fprintln(out, present.BreakpointList(bps))
	case "clear":
		if err := sess.ClearBreakpoints(); err != nil {
			fmt.Fprintln(errOut, present.Error(err))
		}
	case "print", "p":
		path := strings.Join(rest, "")
		result, err := sess.Print(path)
		if err != nil {
			fmt.Fprintln(errOut, present.Error(err))
			return false
		}
		fmt.Fprintln(out, result)
	case "set":
		if len(rest) < 2 {
			fmt.Fprintln(errOut, present.Error(dbgerr.ErrInvalidCommand))
			return false
		}
		if err := sess.Set(rest[0], strings.Join(rest[1:], " ")); err != nil {
			fmt.Fprintln(errOut, present.Error(err))
			return false
		}
		fmt.Fprintln(out, present.Success("ok"))
	case "location", "loc":
		loc, err := sess.Location()
		if err != nil {
			fmt.Fprintln(errOut, present.Error(err))
			return false
		}
		fmt.Fprintln(out, present.Location(loc))
	case "help", "h", "?":
		fmt.Fprintln(out, present.Help())
	case "quit", "q", "exit":
		return true
	default:
		fmt.Fprintln(errOut, present.Error(fmt.Errorf("%w: %s", dbgerr.ErrInvalidCommand, cmdName)))
	}
	return false
}

func report(ev session.StopEvent, err error, out, errOut io.Writer) {
	if err != nil {
		fmt.Fprintln(errOut, present.Error(err))
		return
	}
	fmt.Fprintln(out, present.StopEvent(ev))
}
