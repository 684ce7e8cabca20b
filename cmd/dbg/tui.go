package dbg

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"github.com/dbg-project/dbg/pkg/dbg/dbglog"
	"github.com/dbg-project/dbg/pkg/dbg/session"
)

// tuiCmd is the optional live-status viewer, grounded on
// _examples/Manu343726-cucaracha/pkg/hw/cpu/debugger/interfaces.go's
// DebugEvent/EventData decoupling: the debugger core (pkg/dbg/session)
// knows nothing about tview, it just answers queries this view polls
// after each command.
var tuiCmd = &cobra.Command{
	Use:   "tui <program> [-- args...]",
	Short: "Run the debugger behind a live-status terminal view",
	Args:  cobra.MinimumNArgs(1),
	Run:   runTUI,
}

func runTUI(cmd *cobra.Command, args []string) {
	logger, err := dbglog.New(dbglog.Options{Verbose: verbose, FilePath: logFile})
	if err != nil {
		fmt.Println(err)
		return
	}
	sess, err := session.New(args[0], args[1:])
	if err != nil {
		fmt.Println(err)
		return
	}
	sess.SetLogger(logger)
	defer sess.Close()

	app := tview.NewApplication()

	status := tview.NewTextView().SetDynamicColors(true).SetChangedFunc(func() { app.Draw() })
	status.SetBorder(true).SetTitle("location")

	breakpoints := tview.NewTextView().SetDynamicColors(true)
	breakpoints.SetBorder(true).SetTitle("breakpoints")

	output := tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	output.SetBorder(true).SetTitle("output")

	input := tview.NewInputField().SetLabel("(dbg) ")
	input.SetBorder(true)

	refresh := func() {
		if loc, err := sess.Location(); err == nil {
			status.SetText(loc)
		} else {
			status.SetText(fmt.Sprintf("[red]%v[-]", err))
		}

		bps, err := sess.ListBreakpoints()
		if err == nil {
			var b strings.Builder
			for _, bp := range bps {
				state := "enabled"
				if !bp.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(&b, "%s @ %#x (%s)\n", bp.Loc, bp.Addr, state)
			}
			breakpoints.SetText(b.String())
		}
	}
	refresh()

	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		line := strings.TrimSpace(input.GetText())
		input.SetText("")
		if line == "" {
			return
		}
		fmt.Fprintf(output, "(dbg) %s\n", line)
		if quit := dispatchTUI(sess, line, output); quit {
			app.Stop()
			return
		}
		refresh()
	})

	top := tview.NewFlex().
		AddItem(status, 0, 1, false).
		AddItem(breakpoints, 0, 1, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(top, 0, 1, false).
		AddItem(output, 0, 3, false).
		AddItem(input, 3, 0, true)

	if err := app.SetRoot(root, true).SetFocus(input).Run(); err != nil {
		fmt.Println(err)
	}
}

// dispatchTUI reuses the REPL's command dispatch but writes into the
// output pane instead of stdout/stderr, so the TUI and the command-line
// REPL stay byte-for-byte consistent in behavior.
func dispatchTUI(sess *session.Session, line string, w *tview.TextView) bool {
	return dispatch(sess, line, w, w)
}
