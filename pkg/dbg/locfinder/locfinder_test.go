package locfinder

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbg-project/dbg/pkg/dbg/dwarfinfo"
)

func TestSplitFileLine(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		file, line, err := splitFileLine("main.c:42")
		require.NoError(t, err)
		assert.Equal(t, "main.c", file)
		assert.Equal(t, 42, line)
	})

	t.Run("path with colons in directory is fine, line is the last segment", func(t *testing.T) {
		file, line, err := splitFileLine("/src/project/main.c:7")
		require.NoError(t, err)
		assert.Equal(t, "/src/project/main.c", file)
		assert.Equal(t, 7, line)
	})

	t.Run("no colon", func(t *testing.T) {
		_, _, err := splitFileLine("main.c")
		assert.Error(t, err)
	})

	t.Run("non-numeric line", func(t *testing.T) {
		_, _, err := splitFileLine("main.c:abc")
		assert.Error(t, err)
	})
}

// selfInfo loads the running test binary's own DWARF so the rest of these
// tests can exercise LocFinder against real tables without a compiled
// fixture.
func selfInfo(t *testing.T) *dwarfinfo.Info {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	info, err := dwarfinfo.Load(exe)
	require.NoError(t, err)
	t.Cleanup(func() { info.Image.Close() })
	return info
}

func TestLocFinder_FindLoc(t *testing.T) {
	lf := New(selfInfo(t))

	addr, ok := lf.FindLoc("main.main")
	require.True(t, ok)
	assert.NotZero(t, addr)

	_, ok = lf.FindLoc("definitely.not.a.real.symbol")
	assert.False(t, ok)
}

func TestLocFinder_FindLine(t *testing.T) {
	lf := New(selfInfo(t))

	addr, ok := lf.FindLoc("main.main")
	require.True(t, ok)

	fileLine, ok := lf.FindLine(addr)
	require.True(t, ok)
	assert.Contains(t, fileLine, ":")
}

func TestLocFinder_FindLine_NotFound(t *testing.T) {
	lf := New(selfInfo(t))

	_, ok := lf.FindLine(0)
	assert.False(t, ok)
}

func TestLocFinder_FindFuncByAddress(t *testing.T) {
	lf := New(selfInfo(t))

	addr, ok := lf.FindLoc("main.main")
	require.True(t, ok)

	fn, ok := lf.FindFuncByAddress(addr)
	require.True(t, ok)
	assert.Equal(t, "main.main", fn.Name)
}

func TestLocFinder_FindFuncStartAndEnd(t *testing.T) {
	lf := New(selfInfo(t))

	addr, ok := lf.FindLoc("main.main")
	require.True(t, ok)

	start, ok := lf.FindFuncStart(addr)
	require.True(t, ok)
	assert.Equal(t, addr, start)

	end, ok := lf.FindFuncEnd(addr)
	require.True(t, ok)
	assert.Greater(t, end, start)
}

func TestLocFinder_FindUnit(t *testing.T) {
	lf := New(selfInfo(t))

	addr, ok := lf.FindLoc("main.main")
	require.True(t, ok)

	unit, ok := lf.FindUnit(addr)
	require.True(t, ok)
	assert.NotEmpty(t, unit.Name)
}

func TestLocFinder_FunctionByName(t *testing.T) {
	lf := New(selfInfo(t))

	fn, ok := lf.FunctionByName("main.main")
	require.True(t, ok)
	assert.Equal(t, "main.main", fn.Name)

	_, ok = lf.FunctionByName("not.a.real.function")
	assert.False(t, ok)
}

func TestLocFinder_GetVarsAndGetVar(t *testing.T) {
	info := selfInfo(t)
	lf := New(info)

	// Globals-only query must never panic on a nil function.
	vars := lf.GetVars(nil)
	assert.NotNil(t, vars)

	_, ok := lf.GetVar("definitely-not-a-variable", nil)
	assert.False(t, ok)
}

func TestLocFinder_IsInsideMain(t *testing.T) {
	lf := New(selfInfo(t))

	addr, ok := lf.FindLoc("main.main")
	require.True(t, ok)

	// The DWARF name here is the Go-qualified "main.main", not the bare
	// "main" IsInsideMain checks for (that convention is C/C++-specific,
	// see dwarfinfo.Info.MainUnit), so this function's own pc range does
	// not count as "inside main" by this package's rule.
	assert.False(t, lf.IsInsideMain(addr))
}
