package enet

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Legacy ENET buffer descriptor, 8 bytes:
// [0:2] data length, [2:4] control/status, [4:8] buffer bus address.
// The first word is accessed as one 32-bit value so the device never sees
// a length without its status.
const bdSize = 8

// Rx BD control/status bits.
const (
	rxBDE  = 0x8000
	rxBDW  = 0x2000
	rxBDL  = 0x0800
	rxBDM  = 0x0100
	rxBDBC = 0x0080
	rxBDMC = 0x0040
	rxBDLG = 0x0020
	rxBDNO = 0x0010
	rxBDCR = 0x0004
	rxBDOV = 0x0002
	rxBDTR = 0x0001

	rxBDErr = rxBDLG | rxBDNO | rxBDCR | rxBDOV | rxBDTR
)

// Tx BD control/status bits.
const (
	txBDR   = 0x8000
	txBDTO1 = 0x4000
	txBDW   = 0x2000
	txBDTO2 = 0x1000
	txBDL   = 0x0800
	txBDTC  = 0x0400
)

// bdTable is a descriptor ring laid over arena memory.
type bdTable struct {
	mem []byte
	n   int
}

func newBDTable(mem []byte, n int) bdTable {
	return bdTable{mem: mem[:n*bdSize], n: n}
}

func (t bdTable) word(i int) *uint32 {
	return (*uint32)(unsafe.Pointer(&t.mem[i*bdSize]))
}

func (t bdTable) status(i int) uint16 {
	return uint16(atomic.LoadUint32(t.word(i)) >> 16)
}

func (t bdTable) length(i int) uint16 {
	return uint16(atomic.LoadUint32(t.word(i)))
}

// set publishes length and status in one store.
func (t bdTable) set(i int, length uint16, status uint16) {
	atomic.StoreUint32(t.word(i), uint32(length)|uint32(status)<<16)
}

func (t bdTable) setAddr(i int, addr uint32) {
	binary.LittleEndian.PutUint32(t.mem[i*bdSize+4:], addr)
}

func (t bdTable) addr(i int) uint32 {
	return binary.LittleEndian.Uint32(t.mem[i*bdSize+4:])
}

func (t bdTable) reset() {
	for i := range t.mem {
		t.mem[i] = 0
	}
}
