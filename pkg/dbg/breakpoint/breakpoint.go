// Package breakpoint implements the breakpoint and transient-trap manager
// described in spec.md §4.7: two disjoint maps keyed by absolute address,
// sharing one enable/disable primitive that patches the INT3 trap byte
// into tracee text.
//
// Grounded on _examples/original_source/src/breakpoint.rs and
// _examples/original_source/src/trap.rs, which keep exactly this
// breakpoints/traps split; the word-sized original-byte storage (§4.6's
// supplemented feature #4) and the user-facing location-string key
// (supplemented feature #1) both carry over from there.
package breakpoint

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/dbg-project/dbg/pkg/dbg/dbgerr"
	"github.com/dbg-project/dbg/pkg/dbg/tracee"
)

// Breakpoint is a persistent, user-visible breakpoint.
type Breakpoint struct {
	Addr    uint64
	Orig    int64 // the original machine word, signed per the original's i64 storage
	Loc     string
	Enabled bool
}

type trapEntry struct {
	Addr uint64
	Orig int64
}

// Manager owns both the breakpoints map and the transient traps map, and
// implements tracee.BreakpointHooks so Controller.Wait/Cont can query and
// mutate it without tracee importing this package back.
type Manager struct {
	ctrl *tracee.Controller

	breakpoints map[uint64]*Breakpoint
	locToAddr   map[string]uint64
	traps       map[uint64]*trapEntry
}

// NewManager builds an empty manager bound to ctrl.
func NewManager(ctrl *tracee.Controller) *Manager {
	return &Manager{
		ctrl:        ctrl,
		breakpoints: make(map[uint64]*Breakpoint),
		locToAddr:   make(map[string]uint64),
		traps:       make(map[uint64]*trapEntry),
	}
}

func trapByte(word uint64) uint64 {
	return (word &^ 0xff) | 0xcc
}

// Add installs a breakpoint at addr, keyed by the user-typed loc string.
// Adding a duplicate location or a duplicate address is an error, per
// spec.md §4.7.
func (m *Manager) Add(loc string, addr uint64) error {
	if _, exists := m.locToAddr[loc]; exists {
		return dbgerr.BreakpointAlreadyExists(loc)
	}
	if _, exists := m.breakpoints[addr]; exists {
		return dbgerr.BreakpointAlreadyExists(loc)
	}

	orig, err := m.ctrl.PeekWord(addr)
	if err != nil {
		return fmt.Errorf("breakpoint: add %s: %w", loc, err)
	}
	if err := m.ctrl.PokeWord(addr, trapByte(orig)); err != nil {
		return fmt.Errorf("breakpoint: add %s: %w", loc, err)
	}

	m.breakpoints[addr] = &Breakpoint{Addr: addr, Orig: int64(orig), Loc: loc, Enabled: true}
	m.locToAddr[loc] = addr
	return nil
}

// Remove restores the original byte and forgets the breakpoint at loc.
func (m *Manager) Remove(loc string) error {
	addr, ok := m.locToAddr[loc]
	if !ok {
		return dbgerr.BreakpointNotFound(loc)
	}
	bp := m.breakpoints[addr]
	if bp.Enabled {
		if err := m.ctrl.PokeWord(addr, uint64(bp.Orig)); err != nil {
			return fmt.Errorf("breakpoint: remove %s: %w", loc, err)
		}
	}
	delete(m.breakpoints, addr)
	delete(m.locToAddr, loc)
	return nil
}

// List returns every breakpoint sorted by address.
func (m *Manager) List() []*Breakpoint {
	out := make([]*Breakpoint, 0, len(m.breakpoints))
	for _, bp := range m.breakpoints {
		out = append(out, bp)
	}
	slices.SortFunc(out, func(a, b *Breakpoint) bool { return a.Addr < b.Addr })
	return out
}

// Enable re-arms a previously disabled breakpoint.
func (m *Manager) Enable(loc string) error {
	addr, ok := m.locToAddr[loc]
	if !ok {
		return dbgerr.BreakpointNotFound(loc)
	}
	return m.EnableBreakpoint(addr)
}

// Disable removes the trap byte but keeps the breakpoint listed.
func (m *Manager) Disable(loc string) error {
	addr, ok := m.locToAddr[loc]
	if !ok {
		return dbgerr.BreakpointNotFound(loc)
	}
	return m.DisableBreakpoint(addr)
}

// Clear disables every breakpoint then empties the map, per spec.md §4.7.
func (m *Manager) Clear() error {
	for addr, bp := range m.breakpoints {
		if bp.Enabled {
			if err := m.ctrl.PokeWord(addr, uint64(bp.Orig)); err != nil {
				return fmt.Errorf("breakpoint: clear: %w", err)
			}
		}
	}
	m.breakpoints = make(map[uint64]*Breakpoint)
	m.locToAddr = make(map[string]uint64)
	return nil
}

// AddTrap installs a one-shot transient trap at addr, for the stepping
// engine's next-line/return-address stops.
func (m *Manager) AddTrap(addr uint64) error {
	if _, exists := m.traps[addr]; exists {
		return nil
	}
	orig, err := m.ctrl.PeekWord(addr)
	if err != nil {
		return fmt.Errorf("breakpoint: add trap at %#x: %w", addr, err)
	}
	if err := m.ctrl.PokeWord(addr, trapByte(orig)); err != nil {
		return fmt.Errorf("breakpoint: add trap at %#x: %w", addr, err)
	}
	m.traps[addr] = &trapEntry{Addr: addr, Orig: int64(orig)}
	return nil
}

// --- tracee.BreakpointHooks ---

// TrapAt reports whether addr holds a transient trap.
func (m *Manager) TrapAt(addr uint64) bool {
	_, ok := m.traps[addr]
	return ok
}

// RemoveTrap restores the original byte and forgets the trap at addr,
// fired once by Controller.Wait when it identifies a trap as the stop
// cause. Best-effort: a restore failure here would already mean the
// tracee's memory is unreachable, which is fatal elsewhere too.
func (m *Manager) RemoveTrap(addr uint64) {
	t, ok := m.traps[addr]
	if !ok {
		return
	}
	_ = m.ctrl.PokeWord(addr, uint64(t.Orig))
	delete(m.traps, addr)
}

// BreakpointAt reports whether addr holds an armed (enabled) breakpoint.
func (m *Manager) BreakpointAt(addr uint64) bool {
	bp, ok := m.breakpoints[addr]
	return ok && bp.Enabled
}

// DisabledBreakpointAt reports whether addr holds a breakpoint that is
// currently disarmed (IP resting on it after a stop, per spec.md §9's
// "breakpoint at current IP on cont" note).
func (m *Manager) DisabledBreakpointAt(addr uint64) bool {
	bp, ok := m.breakpoints[addr]
	return ok && !bp.Enabled
}

// DisableBreakpoint restores the original byte at addr without forgetting
// the breakpoint, per spec.md §4.6 step 2 of Wait.
func (m *Manager) DisableBreakpoint(addr uint64) error {
	bp, ok := m.breakpoints[addr]
	if !ok {
		return fmt.Errorf("breakpoint: no breakpoint at %#x", addr)
	}
	if !bp.Enabled {
		return nil
	}
	if err := m.ctrl.PokeWord(addr, uint64(bp.Orig)); err != nil {
		return err
	}
	bp.Enabled = false
	return nil
}

// EnableBreakpoint re-writes the trap byte at addr, used both by the user
// `enable` command and by Controller.Cont's re-arm-after-step protocol.
func (m *Manager) EnableBreakpoint(addr uint64) error {
	bp, ok := m.breakpoints[addr]
	if !ok {
		return fmt.Errorf("breakpoint: no breakpoint at %#x", addr)
	}
	if bp.Enabled {
		return nil
	}
	if err := m.ctrl.PokeWord(addr, trapByte(uint64(bp.Orig))); err != nil {
		return err
	}
	bp.Enabled = true
	return nil
}
