// Package dbg is the command-line entry point: a single cobra command
// that loads a program, starts a REPL session, and tears it down on exit.
//
// Grounded on _examples/Manu343726-cucaracha/cmd/root.go's
// RootCmd/Execute/initConfig shape and _examples/Manu343726-cucaracha/
// cmd/cpu/debug.go's debugCmd (flags, Args: cobra.ExactArgs, Run
// launching an interactive loop over a freshly loaded program).
package dbg

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	logFile  string
	verbose  bool
	noColor  bool
)

// RootCmd is the "dbg" command: dbg <program> [-- program-args...].
var RootCmd = &cobra.Command{
	Use:   "dbg <program> [-- args...]",
	Short: "A source-level debugger for compiled native programs",
	Long: `dbg attaches to a freshly started ELF/DWARF program on x86-64 Linux and
drives it under ptrace, resolving breakpoints, source lines and variables
directly from the binary's debug information.

Available REPL commands:
  run, r                  - start the tracee
  stop                    - kill the tracee
  continue, cont, c       - resume a stopped tracee
  step                    - advance to the next source line
  step-in                 - step into the next call
  step-out                - run to the current function's return
  breakpoint, break, b LOC - set a breakpoint (function, file:line, or line number)
  remove, rm LOC          - remove a breakpoint
  enable LOC              - re-arm a disabled breakpoint
  disable LOC             - disarm a breakpoint without forgetting it
  list, l                 - list breakpoints
  clear                   - remove every breakpoint
  print, p [PATH]         - print a variable, or every variable in scope
  set PATH VALUE          - assign VALUE to PATH
  location, loc           - show the current file:line
  help, h                 - show this help
  quit, q                 - exit the debugger`,
	Args: cobra.MinimumNArgs(1),
	Run:  runDebug,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called by main.main() exactly once.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.AddCommand(tuiCmd)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dbg.yaml)")
	RootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON session logs to this file")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level console logging")
	RootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colorized output")

	cobra.OnInitialize(initConfig)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".dbg")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
