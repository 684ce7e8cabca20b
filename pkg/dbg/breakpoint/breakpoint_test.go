package breakpoint

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbg-project/dbg/pkg/dbg/tracee"
)

// newTracedManager starts a real traceable sleep process and returns a
// Manager bound to it, since installing a trap byte means poking real
// tracee memory. addr is the tracee's current instruction pointer, always
// valid, executable memory to plant a breakpoint on.
func newTracedManager(t *testing.T) (*Manager, uint64, func()) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("ptrace is Linux-only")
	}

	ctrl := tracee.New("/bin/sleep", []string{"5"})
	require.NoError(t, ctrl.Start())

	regs, err := ctrl.GetRegs()
	require.NoError(t, err)

	m := NewManager(ctrl)
	return m, regs.Rip, func() { ctrl.Stop() }
}

func TestManager_AddAndRemove(t *testing.T) {
	m, addr, cleanup := newTracedManager(t)
	defer cleanup()

	require.NoError(t, m.Add("main.c:10", addr))
	assert.True(t, m.BreakpointAt(addr))
	assert.Len(t, m.List(), 1)

	require.NoError(t, m.Remove("main.c:10"))
	assert.False(t, m.BreakpointAt(addr))
	assert.Len(t, m.List(), 0)
}

func TestManager_Add_DuplicateLocation(t *testing.T) {
	m, addr, cleanup := newTracedManager(t)
	defer cleanup()

	require.NoError(t, m.Add("main.c:10", addr))
	err := m.Add("main.c:10", addr+16)
	assert.Error(t, err)
}

func TestManager_Add_DuplicateAddress(t *testing.T) {
	m, addr, cleanup := newTracedManager(t)
	defer cleanup()

	require.NoError(t, m.Add("loc1", addr))
	err := m.Add("loc2", addr)
	assert.Error(t, err)
}

func TestManager_Remove_NotFound(t *testing.T) {
	m, _, cleanup := newTracedManager(t)
	defer cleanup()

	err := m.Remove("nope")
	assert.Error(t, err)
}

func TestManager_EnableDisable(t *testing.T) {
	m, addr, cleanup := newTracedManager(t)
	defer cleanup()

	require.NoError(t, m.Add("loc", addr))
	assert.True(t, m.BreakpointAt(addr))
	assert.False(t, m.DisabledBreakpointAt(addr))

	require.NoError(t, m.Disable("loc"))
	assert.False(t, m.BreakpointAt(addr))
	assert.True(t, m.DisabledBreakpointAt(addr))

	require.NoError(t, m.Enable("loc"))
	assert.True(t, m.BreakpointAt(addr))
	assert.False(t, m.DisabledBreakpointAt(addr))
}

func TestManager_EnableDisable_NotFound(t *testing.T) {
	m, _, cleanup := newTracedManager(t)
	defer cleanup()

	assert.Error(t, m.Enable("nope"))
	assert.Error(t, m.Disable("nope"))
}

func TestManager_Clear(t *testing.T) {
	m, addr, cleanup := newTracedManager(t)
	defer cleanup()

	require.NoError(t, m.Add("a", addr))
	require.NoError(t, m.Clear())
	assert.Len(t, m.List(), 0)
	assert.False(t, m.BreakpointAt(addr))
}

func TestManager_List_SortedByAddress(t *testing.T) {
	m, addr, cleanup := newTracedManager(t)
	defer cleanup()

	require.NoError(t, m.Add("high", addr+32))
	require.NoError(t, m.Add("low", addr))
	require.NoError(t, m.Add("mid", addr+16))

	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, addr, list[0].Addr)
	assert.Equal(t, addr+16, list[1].Addr)
	assert.Equal(t, addr+32, list[2].Addr)
}

func TestManager_Trap(t *testing.T) {
	m, addr, cleanup := newTracedManager(t)
	defer cleanup()

	require.NoError(t, m.AddTrap(addr))
	assert.True(t, m.TrapAt(addr))

	m.RemoveTrap(addr)
	assert.False(t, m.TrapAt(addr))
}

func TestManager_Trap_Idempotent(t *testing.T) {
	m, addr, cleanup := newTracedManager(t)
	defer cleanup()

	require.NoError(t, m.AddTrap(addr))
	require.NoError(t, m.AddTrap(addr)) // second install at same addr is a no-op
	assert.True(t, m.TrapAt(addr))
}

func TestManager_RemoveTrap_NotPresentIsNoop(t *testing.T) {
	m, addr, cleanup := newTracedManager(t)
	defer cleanup()

	assert.NotPanics(t, func() { m.RemoveTrap(addr) })
}
