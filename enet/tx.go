package enet

import (
	"sync"

	"github.com/pkg/errors"

	"enetCore/layers"
	"enetCore/pkg/mmio"
)

// TxStats counts transmit outcomes since the adapter was created.
type TxStats struct {
	Good      uint64
	Bad       uint64
	Underrun  uint64
	Collision uint64
	Aborted   uint64
	Cancelled uint64
}

type txSlot struct {
	buf []byte
	bus uint32
	pkt *Packet
}

type txDone struct {
	pkt *Packet
	err error
}

// txRing moves packets from the pending FIFO into descriptor slots in
// submission order and completes them in ring order. Each slot owns a
// fixed bounce buffer; a packet is copied in when it gets a slot.
type txRing struct {
	mu   sync.Mutex
	regs mmio.Registers
	bds  bdTable

	slots   []txSlot
	pending []*Packet
	// pool bounds pending plus in-flight packets
	pool int

	freeIdx    int
	pendingIdx int
	inFlight   int

	started    bool
	stopReason error
	hangChecks int

	stats TxStats
}

func newTxRing(regs mmio.Registers, bds bdTable, bufs [][]byte, bus []uint32, queueDepth int) *txRing {
	r := &txRing{
		regs:       regs,
		bds:        bds,
		slots:      make([]txSlot, len(bufs)),
		pool:       len(bufs) + queueDepth,
		stopReason: ErrPaused,
	}
	for i := range bufs {
		r.slots[i] = txSlot{buf: bufs[i], bus: bus[i]}
	}
	return r
}

// enqueue accepts p for transmission or reports why it cannot.
func (r *txRing) enqueue(p *Packet) error {
	if len(p.Data) == 0 || len(p.Data) > layers.MaxFrameLength {
		return errors.Wrapf(ErrFrameTooLong, "%d bytes", len(p.Data))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return errors.WithStack(r.stopReason)
	}
	if len(r.pending)+r.inFlight >= r.pool {
		return errors.WithStack(ErrBackpressure)
	}

	r.pending = append(r.pending, p)
	r.sendNextLocked()
	return nil
}

// sendNextLocked hands pending packets to free descriptors.
func (r *txRing) sendNextLocked() {
	queued := false
	for r.started && len(r.pending) > 0 && r.inFlight < len(r.slots) {
		p := r.pending[0]
		r.pending[0] = nil
		r.pending = r.pending[1:]

		i := r.freeIdx
		s := &r.slots[i]
		n := copy(s.buf, p.Data)
		for ; n < layers.MinFrameLength; n++ {
			s.buf[n] = 0
		}
		s.pkt = p

		status := uint16(txBDR | txBDL | txBDTC)
		if r.freeIdx++; r.freeIdx == len(r.slots) {
			status |= txBDW
			r.freeIdx = 0
		}
		r.bds.setAddr(i, s.bus)
		r.bds.set(i, uint16(n), status)
		r.inFlight++
		queued = true
	}

	if queued && r.regs.Read32(regTDAR) == 0 {
		r.regs.Write32(regTDAR, darActive)
	}
}

// completeOldest releases the oldest in-flight descriptor with status.
func (r *txRing) completeOldest(status error) txDone {
	i := r.pendingIdx
	s := &r.slots[i]
	d := txDone{pkt: s.pkt, err: status}
	s.pkt = nil

	if r.pendingIdx++; r.pendingIdx == len(r.slots) {
		r.pendingIdx = 0
	}
	r.inFlight--
	return d
}

// reap completes every descriptor the device has released. events is the
// interrupt cause image the completions are attributed to.
func (r *txRing) reap(events uint32) []txDone {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reapLocked(events)
}

func (r *txRing) reapLocked(events uint32) []txDone {
	var done []txDone

	var status error
	if events&intTxErr != 0 {
		status = ErrTransmitFailed
	}

	for r.inFlight > 0 {
		if r.bds.status(r.pendingIdx)&txBDR != 0 {
			if r.regs.Read32(regTDAR) != 0 {
				break
			}
			if r.started {
				// ERR006358: the DMA may stop with ready descriptors left
				r.regs.Write32(regTDAR, darActive)
				break
			}
			// engine stopped and DMA idle, the descriptor will not be sent
			r.bds.set(r.pendingIdx, 0, 0)
			r.stats.Aborted++
			done = append(done, r.completeOldest(r.abortReason()))
			continue
		}

		if status != nil {
			r.stats.Bad++
			if events&eirUN != 0 {
				r.stats.Underrun++
			}
			if events&eirLC != 0 {
				r.stats.Collision++
			}
			if events&eirRL != 0 {
				r.stats.Aborted++
			}
		} else {
			r.stats.Good++
		}
		r.hangChecks = 0
		done = append(done, r.completeOldest(status))
	}

	r.sendNextLocked()
	return done
}

func (r *txRing) abortReason() error {
	if r.stopReason != nil {
		return r.stopReason
	}
	return ErrAborted
}

// cancelAll fails every packet still waiting for a descriptor. It reports
// whether frames are still owned by the device.
func (r *txRing) cancelAll() ([]txDone, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelAllLocked(), r.inFlight > 0
}

func (r *txRing) cancelAllLocked() []txDone {
	if len(r.pending) == 0 {
		return nil
	}

	reason := r.abortReason()
	done := make([]txDone, 0, len(r.pending))
	for i, p := range r.pending {
		done = append(done, txDone{pkt: p, err: reason})
		r.pending[i] = nil
	}
	r.pending = r.pending[:0]
	r.stats.Cancelled += uint64(len(done))
	return done
}

// drain reaps finished frames and cancels the rest of the queue. busy is
// true while anything was cancelled or is still on the wire.
func (r *txRing) drain() (done []txDone, busy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	done = r.reapLocked(0)
	cancelled := r.cancelAllLocked()
	busy = len(cancelled) > 0 || r.inFlight > 0
	return append(done, cancelled...), busy
}

// cancelSend fails the pending packets carrying id. Frames already in a
// descriptor are left to complete.
func (r *txRing) cancelSend(id uint64) []txDone {
	r.mu.Lock()
	defer r.mu.Unlock()

	var done []txDone
	kept := r.pending[:0]
	for _, p := range r.pending {
		if p.CancelID == id {
			done = append(done, txDone{pkt: p, err: ErrCancelled})
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(r.pending); i++ {
		r.pending[i] = nil
	}
	r.pending = kept
	r.stats.Cancelled += uint64(len(done))
	return done
}

// startLocked resets the descriptor table for a fresh engine start. Frames
// left in descriptors from before are failed.
func (r *txRing) startLocked() []txDone {
	var done []txDone
	for r.inFlight > 0 {
		r.stats.Aborted++
		done = append(done, r.completeOldest(ErrAborted))
	}

	r.bds.reset()
	for i := range r.slots {
		r.bds.setAddr(i, r.slots[i].bus)
		r.slots[i].pkt = nil
	}
	r.bds.set(len(r.slots)-1, 0, txBDW)

	r.freeIdx = 0
	r.pendingIdx = 0
	r.hangChecks = 0
	r.started = true
	r.stopReason = nil
	return done
}

func (r *txRing) stopLocked(reason error) {
	r.started = false
	r.stopReason = reason
}

func (r *txRing) flush() {
	r.mu.Lock()
	r.sendNextLocked()
	r.mu.Unlock()
}

// checkForHang reports a stall when frames stay on the wire for more than
// two checks without a completion.
func (r *txRing) checkForHang() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight == 0 {
		return false
	}
	r.hangChecks++
	return r.hangChecks > 2
}

func (r *txRing) counts() (pending int, inFlight int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending), r.inFlight
}

func (r *txRing) snapshot() TxStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
