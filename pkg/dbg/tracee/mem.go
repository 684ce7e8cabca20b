package tracee

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

// PeekWord reads one machine word (8 bytes) at addr via PTRACE_PEEKTEXT,
// used by the breakpoint manager to save the original instruction bytes
// before writing the trap byte.
func (c *Controller) PeekWord(addr uint64) (uint64, error) {
	var word [8]byte
	n, err := unix.PtracePeekText(c.pid, uintptr(addr), word[:])
	if err != nil {
		return 0, fmt.Errorf("tracee: PTRACE_PEEKTEXT at %#x: %w", addr, err)
	}
	if n != len(word) {
		return 0, fmt.Errorf("tracee: short PEEKTEXT at %#x: got %d bytes", addr, n)
	}
	return binary.LittleEndian.Uint64(word[:]), nil
}

// PokeWord writes one machine word at addr via PTRACE_POKETEXT.
func (c *Controller) PokeWord(addr uint64, word uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], word)
	if _, err := unix.PtracePokeText(c.pid, uintptr(addr), buf[:]); err != nil {
		return fmt.Errorf("tracee: PTRACE_POKETEXT at %#x: %w", addr, err)
	}
	return nil
}

// ReadMemory reads len(buf) bytes from the tracee's address space via
// /proc/<pid>/mem, per spec.md §4.6.
func (c *Controller) ReadMemory(addr uint64, buf []byte) error {
	n, err := c.memFile.ReadAt(buf, int64(addr))
	if err != nil && n != len(buf) {
		return fmt.Errorf("tracee: read_memory at %#x: %w", addr, err)
	}
	return nil
}

// WriteMemory writes buf into the tracee's address space via
// /proc/<pid>/mem.
func (c *Controller) WriteMemory(addr uint64, buf []byte) error {
	n, err := c.memFile.WriteAt(buf, int64(addr))
	if err != nil && n != len(buf) {
		return fmt.Errorf("tracee: write_memory at %#x: %w", addr, err)
	}
	return nil
}

// ReadCString streams 512-byte chunks from addr until a NUL byte,
// returning the decoded UTF-8 string. Address 0 is the literal "null",
// per spec.md §4.6.
func (c *Controller) ReadCString(addr uint64) (string, error) {
	if addr == 0 {
		return "null", nil
	}
	const chunkSize = 512
	var out []byte
	chunk := make([]byte, chunkSize)
	for {
		if err := c.ReadMemory(addr+uint64(len(out)), chunk); err != nil {
			return "", fmt.Errorf("tracee: read_c_string at %#x: %w", addr, err)
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			out = append(out, chunk[:i]...)
			break
		}
		out = append(out, chunk...)
	}
	if !utf8.Valid(out) {
		return "", fmt.Errorf("tracee: read_c_string at %#x: invalid UTF-8", addr)
	}
	return string(out), nil
}

// mmap syscall number and PROT/MAP flag values for x86-64 Linux, used by
// AllocInTracee's injected syscall.
const (
	sysMmap            = 9
	protReadWrite       = unix.PROT_READ | unix.PROT_WRITE
	mapPrivateAnonymous = unix.MAP_PRIVATE | unix.MAP_ANONYMOUS
)

// AllocInTracee injects an mmap(NULL, size, PROT_READ|PROT_WRITE,
// MAP_PRIVATE|MAP_ANONYMOUS, -1, 0) syscall into the tracee and returns
// the allocated address, per spec.md §4.6. This is the only mechanism by
// which the debugger writes new strings into the tracee's address space.
func (c *Controller) AllocInTracee(size uint64) (uint64, error) {
	savedRegs, err := c.GetRegs()
	if err != nil {
		return 0, err
	}
	ip := savedRegs.Rip

	savedWord, err := c.PeekWord(ip)
	if err != nil {
		return 0, err
	}

	// Overwrite the first two bytes at IP with the `syscall` opcode
	// (0F 05), preserving the remaining six bytes of the saved word.
	var patched [8]byte
	binary.LittleEndian.PutUint64(patched[:], savedWord)
	patched[0] = 0x0f
	patched[1] = 0x05
	if err := c.PokeWord(ip, binary.LittleEndian.Uint64(patched[:])); err != nil {
		return 0, err
	}

	mmapRegs := savedRegs
	mmapRegs.Rax = sysMmap
	mmapRegs.Rdi = 0
	mmapRegs.Rsi = size
	mmapRegs.Rdx = uint64(protReadWrite)
	mmapRegs.R10 = uint64(mapPrivateAnonymous)
	mmapRegs.R8 = ^uint64(0) // -1, no backing fd
	mmapRegs.R9 = 0
	if err := c.SetRegs(mmapRegs); err != nil {
		return 0, err
	}

	if _, err := c.stepOnce(); err != nil {
		return 0, err
	}
	if c.status == StatusExited {
		return 0, fmt.Errorf("tracee: alloc_in_tracee: tracee exited during injected syscall")
	}

	resultRegs, err := c.GetRegs()
	if err != nil {
		return 0, err
	}
	result := int64(resultRegs.Rax)

	if err := c.PokeWord(ip, savedWord); err != nil {
		return 0, err
	}
	if err := c.SetRegs(savedRegs); err != nil {
		return 0, err
	}

	if result < 0 {
		return 0, fmt.Errorf("tracee: alloc_in_tracee: mmap errno %d", -result)
	}
	return uint64(result), nil
}
