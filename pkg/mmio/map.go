package mmio

import (
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Map is a register window mapped from a physical memory device such as /dev/mem.
type Map struct {
	mem  []byte
	base int64
}

// Open maps size bytes of path starting at the physical address base.
// base must be page aligned.
func Open(path string, base int64, size int) (*Map, error) {
	if base%int64(os.Getpagesize()) != 0 {
		return nil, errors.Errorf("register base 0x%x is not page aligned", base)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s failed", path)
	}
	defer unix.Close(fd)

	mem, err := unix.Mmap(fd, base, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "unix.Mmap failed")
	}

	return &Map{mem: mem, base: base}, nil
}

// Base returns the physical address the window starts at.
func (m *Map) Base() int64 {
	return m.base
}

func (m *Map) word(offset uint32) *uint32 {
	if int(offset)+4 > len(m.mem) || offset&3 != 0 {
		panic(errors.Errorf("register offset 0x%x outside window", offset))
	}
	return (*uint32)(unsafe.Pointer(&m.mem[offset]))
}

func (m *Map) Read32(offset uint32) uint32 {
	return atomic.LoadUint32(m.word(offset))
}

func (m *Map) Write32(offset uint32, value uint32) {
	atomic.StoreUint32(m.word(offset), value)
}

func (m *Map) Close() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	if err != nil {
		return errors.Wrap(err, "unix.Munmap failed")
	}
	return nil
}
