package dma

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Region is a slice of the arena handed out by Alloc. It never moves.
type Region struct {
	Offset int
	Len    int
}

// Arena is a fixed, page-locked block of memory carved once into
// descriptor tables and frame buffers. Allocation is bump-only; nothing is
// returned until Close.
type Arena struct {
	mem     []byte
	busBase uint32
	next    int
}

// NewArena maps size bytes. busBase is the address the device sees for
// offset 0 of the arena.
func NewArena(size int, busBase uint32) (*Arena, error) {
	if size <= 0 {
		return nil, errors.Errorf("invalid arena size %d", size)
	}

	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_POPULATE)
	if err != nil {
		return nil, errors.Wrap(err, "unix.Mmap failed")
	}

	// keep descriptor memory resident, failure only costs latency
	_ = unix.Mlock(mem)

	return &Arena{mem: mem, busBase: busBase}, nil
}

// Alloc reserves n bytes aligned to align (a power of two).
func (a *Arena) Alloc(n int, align int) (Region, error) {
	if a.mem == nil {
		return Region{}, errors.New("arena closed")
	}
	if align <= 0 || align&(align-1) != 0 {
		return Region{}, errors.Errorf("invalid alignment %d", align)
	}

	off := (a.next + align - 1) &^ (align - 1)
	if off+n > len(a.mem) {
		return Region{}, errors.Errorf("arena exhausted: need %d bytes at %d, have %d", n, off, len(a.mem))
	}
	a.next = off + n

	return Region{Offset: off, Len: n}, nil
}

// Bytes returns the memory backing r.
func (a *Arena) Bytes(r Region) []byte {
	return a.mem[r.Offset : r.Offset+r.Len : r.Offset+r.Len]
}

// BusAddr returns the device-visible address of r.
func (a *Arena) BusAddr(r Region) uint32 {
	return a.busBase + uint32(r.Offset)
}

// Used returns the number of bytes handed out so far.
func (a *Arena) Used() int {
	return a.next
}

func (a *Arena) Size() int {
	return len(a.mem)
}

func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}

	_ = unix.Munlock(a.mem)
	err := unix.Munmap(a.mem)
	a.mem = nil
	if err != nil {
		return errors.Wrap(err, "unix.Munmap failed")
	}
	return nil
}
