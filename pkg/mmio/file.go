package mmio

import (
	"sync"
)

// Registers is the raw 32-bit register access used by the MAC and the MDIO bus.
type Registers interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, value uint32)
}

// File is an in-memory register block. It models write-one-to-clear
// registers and lets a hardware model react to register writes.
type File struct {
	mu    sync.Mutex
	regs  map[uint32]uint32
	w1c   map[uint32]bool
	hooks map[uint32]func(value uint32)
}

func NewFile() *File {
	return &File{
		regs:  make(map[uint32]uint32),
		w1c:   make(map[uint32]bool),
		hooks: make(map[uint32]func(value uint32)),
	}
}

// SetWriteOneToClear marks offset as a write-one-to-clear register.
func (f *File) SetWriteOneToClear(offset uint32) {
	f.mu.Lock()
	f.w1c[offset] = true
	f.mu.Unlock()
}

// OnWrite installs fn to be called after every Write32 to offset.
// fn runs without the file lock held and may access the file.
func (f *File) OnWrite(offset uint32, fn func(value uint32)) {
	f.mu.Lock()
	f.hooks[offset] = fn
	f.mu.Unlock()
}

func (f *File) Read32(offset uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[offset]
}

func (f *File) Write32(offset uint32, value uint32) {
	f.mu.Lock()
	if f.w1c[offset] {
		f.regs[offset] &^= value
	} else {
		f.regs[offset] = value
	}
	hook := f.hooks[offset]
	f.mu.Unlock()

	if hook != nil {
		hook(value)
	}
}

// Set stores value without write-one-to-clear semantics or hooks.
// It is the hardware side of the register.
func (f *File) Set(offset uint32, value uint32) {
	f.mu.Lock()
	f.regs[offset] = value
	f.mu.Unlock()
}

// SetBits ORs bits into the register from the hardware side.
func (f *File) SetBits(offset uint32, bits uint32) {
	f.mu.Lock()
	f.regs[offset] |= bits
	f.mu.Unlock()
}
