// Package statsmap publishes adapter counters in a BPF array map so that
// tools like bpftool can read them without talking to the process.
package statsmap

import (
	"github.com/cilium/ebpf"
	"github.com/pkg/errors"

	"enetCore/enet"
)

// Names lists the counters in key order.
var Names = []string{
	"tx_good", "tx_bad", "tx_underrun", "tx_collision", "tx_aborted", "tx_cancelled",
	"rx_good", "rx_errors", "rx_truncated", "rx_overrun", "rx_alignment", "rx_crc", "rx_too_long",
	"interrupts", "spurious", "dpcs", "bus_errors",
	"tx_pending", "tx_in_flight", "rx_armed", "rx_held",
}

// Counters flattens s in the order of Names.
func Counters(s enet.Stats) []uint64 {
	return []uint64{
		s.Tx.Good, s.Tx.Bad, s.Tx.Underrun, s.Tx.Collision, s.Tx.Aborted, s.Tx.Cancelled,
		s.Rx.Good, s.Rx.Errors, s.Rx.Truncated, s.Rx.Overrun, s.Rx.Alignment, s.Rx.CRC, s.Rx.TooLong,
		s.Interrupts, s.Spurious, s.DPCs, s.BusErrors,
		uint64(s.TxPending), uint64(s.TxInFlight), uint64(s.RxArmed), uint64(s.RxHeld),
	}
}

type Map struct {
	m *ebpf.Map
}

// New creates the counter map and pins it at pin when pin is not empty.
func New(pin string) (*Map, error) {
	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "enet_stats",
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: uint32(len(Names)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "ebpf.NewMap failed")
	}

	if pin != "" {
		if err = m.Pin(pin); err != nil {
			m.Close()
			return nil, errors.Wrapf(err, "pin stats map at %s failed", pin)
		}
	}
	return &Map{m: m}, nil
}

// Update writes every counter of s.
func (m *Map) Update(s enet.Stats) error {
	for i, v := range Counters(s) {
		if err := m.m.Put(uint32(i), v); err != nil {
			return errors.Wrapf(err, "put %s failed", Names[i])
		}
	}
	return nil
}

// Lookup reads one counter by name.
func (m *Map) Lookup(name string) (uint64, error) {
	for i, n := range Names {
		if n != name {
			continue
		}
		var v uint64
		if err := m.m.Lookup(uint32(i), &v); err != nil {
			return 0, errors.Wrapf(err, "lookup %s failed", name)
		}
		return v, nil
	}
	return 0, errors.Errorf("unknown counter %q", name)
}

func (m *Map) FD() int {
	return m.m.FD()
}

func (m *Map) Close() error {
	if m.m.IsPinned() {
		if err := m.m.Unpin(); err != nil {
			return errors.Wrap(err, "unpin stats map failed")
		}
	}
	return m.m.Close()
}
