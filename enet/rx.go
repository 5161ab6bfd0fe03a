package enet

import (
	"sync"

	"github.com/pkg/errors"

	"enetCore/layers"
	"enetCore/pkg/mmio"
)

// RxStats counts received frames per classification.
type RxStats struct {
	Good      uint64
	Errors    uint64
	Truncated uint64
	Overrun   uint64
	Alignment uint64
	CRC       uint64
	TooLong   uint64
}

type rxOwner uint8

const (
	ownerDMA rxOwner = iota
	ownerHost
	// ownerReturned: given back by the host, waiting for replenish
	ownerReturned
)

// rxShift is the pad the MAC writes in front of every frame (RACC.SHIFT16).
const rxShift = 2

// LowWaterPercent of the ring is kept armed before frames are delivered
// synchronously and returned buffers are re-armed.
const LowWaterPercent = 20

func lowWaterMark(n int) int {
	return (n*LowWaterPercent + 99) / 100
}

// rxRing tracks who owns each receive slot. A slot is bound to its buffer
// for the life of the adapter.
type rxRing struct {
	mu   sync.Mutex
	regs mmio.Registers
	bds  bdTable

	bufs  [][]byte
	bus   []uint32
	owner []rxOwner

	pendingIdx int
	dmaOwned   int
	hostOwned  int
	returned   int
	lowWater   int

	started       bool
	deliverErrors bool

	stats RxStats
}

type rxResult struct {
	frame   Frame
	deliver bool
	// pause: ask the link partner to back off
	pause bool
}

func newRxRing(regs mmio.Registers, bds bdTable, bufs [][]byte, bus []uint32, deliverErrors bool) *rxRing {
	r := &rxRing{
		regs:          regs,
		bds:           bds,
		bufs:          bufs,
		bus:           bus,
		owner:         make([]rxOwner, len(bufs)),
		lowWater:      lowWaterMark(len(bufs)),
		deliverErrors: deliverErrors,
	}
	for i := range r.owner {
		r.owner[i] = ownerReturned
	}
	r.returned = len(bufs)
	return r
}

func classify(status uint16) FrameClass {
	switch {
	case status&rxBDTR != 0:
		return FrameTruncated
	case status&rxBDOV != 0:
		return FrameOverrun
	case status&rxBDNO != 0:
		return FrameAlignment
	case status&rxBDCR != 0:
		return FrameCRC
	case status&rxBDErr != 0:
		return FrameTooLong
	}
	return FrameGood
}

func (r *rxRing) count(c FrameClass) {
	switch c {
	case FrameGood:
		r.stats.Good++
		return
	case FrameTruncated:
		r.stats.Truncated++
	case FrameOverrun:
		r.stats.Overrun++
	case FrameAlignment:
		r.stats.Alignment++
	case FrameCRC:
		r.stats.CRC++
	case FrameTooLong:
		r.stats.TooLong++
	}
	r.stats.Errors++
}

// next takes the oldest filled descriptor off the ring. ok is false when
// nothing is ready.
func (r *rxRing) next() (res rxResult, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.pendingIdx
	if !r.started || r.dmaOwned == 0 || r.owner[i] != ownerDMA {
		return res, false
	}
	status := r.bds.status(i)
	if status&rxBDE != 0 {
		return res, false
	}

	if r.pendingIdx++; r.pendingIdx == len(r.bufs) {
		r.pendingIdx = 0
	}
	r.dmaOwned--
	if r.needReplenishLocked() {
		r.replenishLocked()
	}

	n := int(r.bds.length(i)) - layers.LengthCRC - rxShift
	if n < 0 {
		n = 0
	}
	if n > len(r.bufs[i])-rxShift {
		n = len(r.bufs[i]) - rxShift
	}

	class := classify(status)
	r.count(class)
	res.frame = Frame{
		Handle: i,
		Data:   r.bufs[i][rxShift : rxShift+n],
		Class:  class,
	}

	if class != FrameGood {
		if !r.deliverErrors {
			r.armLocked(i)
			r.kickLocked()
			return res, true
		}
		res.frame.Sync = true
	} else if r.dmaOwned <= r.lowWater {
		res.frame.Sync = true
		res.pause = true
	}

	r.owner[i] = ownerHost
	r.hostOwned++
	res.deliver = true
	return res, true
}

// armLocked hands slot i back to the device.
func (r *rxRing) armLocked(i int) {
	status := uint16(rxBDE | rxBDL)
	if i == len(r.bufs)-1 {
		status |= rxBDW
	}
	r.bds.setAddr(i, r.bus[i])
	r.bds.set(i, 0, status)
	r.owner[i] = ownerDMA
	r.dmaOwned++
}

func (r *rxRing) kickLocked() {
	if r.started && r.regs.Read32(regRDAR) == 0 {
		r.regs.Write32(regRDAR, darActive)
	}
}

// replenishLocked re-arms every returned slot.
func (r *rxRing) replenishLocked() {
	if r.returned == 0 {
		return
	}
	for i, o := range r.owner {
		if o == ownerReturned {
			r.armLocked(i)
		}
	}
	r.returned = 0
	r.kickLocked()
}

// needReplenishLocked reports whether parked slots must go back now: the
// armed count reached the low water mark, or the device is parked on a
// slot it does not own.
func (r *rxRing) needReplenishLocked() bool {
	return r.dmaOwned <= r.lowWater || r.owner[r.pendingIdx] != ownerDMA
}

// replenish re-arms returned slots when needReplenishLocked says so.
func (r *rxRing) replenish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started && r.needReplenishLocked() {
		r.replenishLocked()
	}
}

// release takes back a slot the host was holding.
func (r *rxRing) release(handle int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if handle < 0 || handle >= len(r.owner) || r.owner[handle] != ownerHost {
		return errors.Wrapf(ErrInvalidHandle, "handle %d", handle)
	}
	r.hostOwned--
	r.owner[handle] = ownerReturned
	r.returned++

	if r.started && r.needReplenishLocked() {
		r.replenishLocked()
	}
	return nil
}

// rearm returns a synchronously delivered slot straight to the device.
func (r *rxRing) rearm(handle int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owner[handle] != ownerHost {
		return
	}
	r.hostOwned--
	if r.started {
		r.armLocked(handle)
		r.kickLocked()
		return
	}
	r.owner[handle] = ownerReturned
	r.returned++
}

// startLocked arms every slot the host is not holding.
func (r *rxRing) startLocked() {
	r.dmaOwned = 0
	r.returned = 0
	r.pendingIdx = 0
	for i, o := range r.owner {
		if o == ownerHost {
			status := uint16(0)
			if i == len(r.bufs)-1 {
				status = rxBDW
			}
			r.bds.setAddr(i, r.bus[i])
			r.bds.set(i, 0, status)
			continue
		}
		r.armLocked(i)
	}
	r.started = true
}

func (r *rxRing) stopLocked() {
	r.started = false
}

// held returns the number of slots the host has not returned yet.
func (r *rxRing) held() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostOwned
}

func (r *rxRing) armed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dmaOwned
}

func (r *rxRing) snapshot() RxStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
