package enet

import "sync/atomic"

// Stats is a snapshot of the adapter counters.
type Stats struct {
	Tx TxStats
	Rx RxStats

	Interrupts uint64
	Spurious   uint64
	DPCs       uint64
	BusErrors  uint64

	TxPending  int
	TxInFlight int
	RxArmed    int
	RxHeld     int
}

type intStats struct {
	interrupts uint64
	spurious   uint64
	dpcs       uint64
	busErrors  uint64
}

// Stats collects the ring counters and occupancy. Each ring is sampled
// under its own lock, so the snapshot is not atomic across rings.
func (a *Adapter) Stats() Stats {
	s := Stats{
		Tx:         a.tx.snapshot(),
		Rx:         a.rx.snapshot(),
		Interrupts: atomic.LoadUint64(&a.ints.interrupts),
		Spurious:   atomic.LoadUint64(&a.ints.spurious),
		DPCs:       atomic.LoadUint64(&a.ints.dpcs),
		BusErrors:  atomic.LoadUint64(&a.ints.busErrors),
		RxArmed:    a.rx.armed(),
		RxHeld:     a.rx.held(),
	}
	s.TxPending, s.TxInFlight = a.tx.counts()
	return s
}
