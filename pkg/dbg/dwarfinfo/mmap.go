package dwarfinfo

import (
	"bytes"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// mmapReadOnly maps f's full contents read-only, giving every downstream
// DWARF/ELF structure a stable, zero-copy backing slice for the life of
// the Image, instead of re-reading the file per query.
func mmapReadOnly(f *os.File) ([]byte, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return []byte{}, nil
	}
	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
}

func munmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}

// newByteReaderAt adapts a mmap'd slice to the io.ReaderAt debug/elf needs.
func newByteReaderAt(data []byte) io.ReaderAt {
	return bytes.NewReader(data)
}
