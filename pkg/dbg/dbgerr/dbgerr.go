// Package dbgerr collects the user-facing error kinds the debugger core can
// return. Everything here is an ordinary wrapped error value, checked with
// errors.Is/errors.As at the command-dispatch boundary (see pkg/dbg/session),
// the same pattern pkg/utils.MakeError uses in the teacher repo, generalized
// into named sentinels instead of one-off format strings.
package dbgerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the kinds enumerated in the specification. Wrap them
// with fmt.Errorf("...: %w", ErrX) to attach detail while keeping errors.Is
// working.
var (
	ErrBreakpointNotFound      = fmt.Errorf("breakpoint not found")
	ErrBreakpointAlreadyExists = fmt.Errorf("breakpoint already exists")
	ErrLocNotFound             = fmt.Errorf("location not found")
	ErrVarNotFound             = fmt.Errorf("variable not found")
	ErrInvalidPath             = fmt.Errorf("invalid variable path")
	ErrInvalidValue            = fmt.Errorf("invalid value")
	ErrInvalidLocation         = fmt.Errorf("invalid location")
	ErrInvalidCommand          = fmt.Errorf("invalid command")
	// ErrStepFailed covers DWARF structural assumptions the stepping
	// engine or evaluator relies on that didn't hold at runtime (a
	// missing prologue pattern, a composite/unsupported location
	// expression) -- non-fatal per spec.md §7, unlike underlying OS
	// errors.
	ErrStepFailed = fmt.Errorf("step failed")
)

// VarNotFound builds an ErrVarNotFound wrapping the missing variable's name.
func VarNotFound(name string) error {
	return fmt.Errorf("%w: %s", ErrVarNotFound, name)
}

// LocNotFound builds an ErrLocNotFound wrapping the location string the user typed.
func LocNotFound(loc string) error {
	return fmt.Errorf("%w: %s", ErrLocNotFound, loc)
}

// BreakpointNotFound builds an ErrBreakpointNotFound wrapping the location string.
func BreakpointNotFound(loc string) error {
	return fmt.Errorf("%w: %s", ErrBreakpointNotFound, loc)
}

// BreakpointAlreadyExists builds an ErrBreakpointAlreadyExists wrapping the location string.
func BreakpointAlreadyExists(loc string) error {
	return fmt.Errorf("%w: %s", ErrBreakpointAlreadyExists, loc)
}

// IsDomain reports whether err is one of the user-facing domain errors above
// (as opposed to an underlying OS/ptrace error, which is fatal per spec.md
// §7). DWARF structural failures are reported as ErrStepFailed and so count
// as domain errors.
func IsDomain(err error) bool {
	for _, sentinel := range []error{
		ErrBreakpointNotFound,
		ErrBreakpointAlreadyExists,
		ErrLocNotFound,
		ErrVarNotFound,
		ErrInvalidPath,
		ErrInvalidValue,
		ErrInvalidLocation,
		ErrInvalidCommand,
		ErrStepFailed,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
