package enet

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"enetCore/pkg/mmio"
)

// macModel plays the DMA side of the controller on the adapter's own
// descriptor tables.
type macModel struct {
	file *mmio.File

	mu        sync.Mutex
	a         *Adapter
	rxIdx     int
	txIdx     int
	sent      [][]byte
	tdarKicks int
}

func newMACModel() *macModel {
	m := &macModel{file: mmio.NewFile()}
	m.file.SetWriteOneToClear(regEIR)

	m.file.OnWrite(regERDSR, func(uint32) {
		m.mu.Lock()
		m.rxIdx = 0
		m.mu.Unlock()
	})
	m.file.OnWrite(regETDSR, func(uint32) {
		m.mu.Lock()
		m.txIdx = 0
		m.mu.Unlock()
	})
	m.file.OnWrite(regTDAR, func(uint32) {
		m.mu.Lock()
		m.tdarKicks++
		m.mu.Unlock()
	})
	return m
}

func (m *macModel) kicks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tdarKicks
}

// receive writes frames into the next empty descriptors and latches RXF.
// It returns how many fitted.
func (m *macModel) receive(status uint16, frames ...[]byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.a.rx
	n := 0
	for _, data := range frames {
		i := m.rxIdx
		st := r.bds.status(i)
		if st&rxBDE == 0 {
			break
		}
		buf := r.bufs[i]
		buf[0], buf[1] = 0xee, 0xee
		copy(buf[rxShift:], data)
		copy(buf[rxShift+len(data):], []byte{0xc0, 0xc1, 0xc2, 0xc3})
		r.bds.set(i, uint16(len(data)+rxShift+4), (st&^rxBDE)|rxBDL|status)

		if m.rxIdx++; m.rxIdx == len(r.bufs) {
			m.rxIdx = 0
		}
		n++
	}
	if n > 0 {
		m.file.SetBits(regEIR, eirRXF)
	}
	return n
}

// transmit releases up to n ready transmit descriptors, latching TXF plus
// extra. TDAR drops to idle once nothing is left.
func (m *macModel) transmit(n int, extra uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.a.tx
	done := 0
	for ; done < n; done++ {
		i := m.txIdx
		st := t.bds.status(i)
		if st&txBDR == 0 {
			break
		}
		l := t.bds.length(i)
		m.sent = append(m.sent, append([]byte(nil), t.slots[i].buf[:l]...))
		t.bds.set(i, l, st&^txBDR)
		if m.txIdx++; m.txIdx == len(t.slots) {
			m.txIdx = 0
		}
	}
	if t.bds.status(m.txIdx)&txBDR == 0 {
		m.file.Set(regTDAR, 0)
	}
	if done > 0 {
		m.file.SetBits(regEIR, eirTXF|extra)
	}
	return done
}

type sendResult struct {
	pkt *Packet
	err error
}

type fakeHost struct {
	mu     sync.Mutex
	frames []Frame
	links  []LinkStatus
	sends  []sendResult
	pauses int
	resets int

	// returnAll gives every async buffer back from inside DeliverFrame
	returnAll bool
	a         *Adapter
}

func (h *fakeHost) DeliverFrame(f Frame) {
	f.Data = append([]byte(nil), f.Data...)
	h.mu.Lock()
	h.frames = append(h.frames, f)
	ret := h.returnAll && !f.Sync
	h.mu.Unlock()
	if ret {
		_ = h.a.ReturnBuffer(f.Handle)
	}
}

func (h *fakeHost) IndicateLinkState(s LinkStatus) {
	h.mu.Lock()
	h.links = append(h.links, s)
	h.mu.Unlock()
}

func (h *fakeHost) SendComplete(p *Packet, err error) {
	h.mu.Lock()
	h.sends = append(h.sends, sendResult{p, err})
	h.mu.Unlock()
}

func (h *fakeHost) PauseComplete() {
	h.mu.Lock()
	h.pauses++
	h.mu.Unlock()
}

func (h *fakeHost) ResetComplete() {
	h.mu.Lock()
	h.resets++
	h.mu.Unlock()
}

func (h *fakeHost) snapshot() fakeHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fakeHost{
		frames: append([]Frame(nil), h.frames...),
		links:  append([]LinkStatus(nil), h.links...),
		sends:  append([]sendResult(nil), h.sends...),
		pauses: h.pauses,
		resets: h.resets,
	}
}

type fakePHY struct {
	mu     sync.Mutex
	status LinkStatus
}

func (p *fakePHY) PollLink() LinkStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *fakePHY) set(s LinkStatus) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

var (
	linkUp1G     = LinkStatus{State: LinkStateConnected, SpeedMbps: 1000, Duplex: DuplexFull}
	linkUp10Half = LinkStatus{State: LinkStateConnected, SpeedMbps: 10, Duplex: DuplexHalf}
	linkDown     = LinkStatus{State: LinkStateDisconnected}
)

// manualSched only runs the dispatcher when the test fires it.
type manualSched struct {
	mu      sync.Mutex
	fn      func()
	armed   bool
	delay   time.Duration
	stopped bool
}

func (s *manualSched) Arm(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.armed = true
	s.delay = d
}

func (s *manualSched) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.armed
	s.armed = false
	s.stopped = true
	return was
}

func (s *manualSched) pending() (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed, s.delay
}

func (s *manualSched) fire() bool {
	s.mu.Lock()
	if !s.armed || s.stopped {
		s.mu.Unlock()
		return false
	}
	s.armed = false
	fn := s.fn
	s.mu.Unlock()

	fn()
	return true
}

type testEnv struct {
	a     *Adapter
	hw    *macModel
	host  *fakeHost
	phy   *fakePHY
	sched *manualSched
}

var testMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

func testConfig() Config {
	cfg := DefaultConfig
	cfg.RxBufferCount = 8
	cfg.TxBufferCount = 4
	cfg.TxQueueDepth = 4
	return cfg
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	e := &testEnv{
		hw:    newMACModel(),
		host:  &fakeHost{},
		phy:   &fakePHY{status: linkDown},
		sched: &manualSched{},
	}
	a, err := NewAdapter(cfg, Resources{
		Registers:        e.hw.file,
		PermanentAddress: testMAC,
		Poller:           e.phy,
		Host:             e.host,
		NewScheduler: func(fn func()) Scheduler {
			e.sched.fn = fn
			return e.sched
		},
		ArenaBusBase: 0x80000000,
		InlineDPC:    true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		a.arena.Close()
	})

	e.a = a
	e.hw.a = a
	e.host.a = a
	return e
}

// ticks fires the dispatcher n times regardless of the armed delay.
func (e *testEnv) ticks(t *testing.T, n int) {
	for i := 0; i < n; i++ {
		require.True(t, e.sched.fire(), "dispatcher not armed at tick %d", i)
	}
}

// up restarts the adapter with the link connected.
func (e *testEnv) up(t *testing.T, link LinkStatus) {
	e.phy.set(link)
	e.a.Restart()
	e.ticks(t, 1)
	require.Equal(t, StateRunning, e.a.State())
	require.True(t, e.a.Started())
}

func packet(n int, fill byte) *Packet {
	p := &Packet{Data: make([]byte, n)}
	for i := range p.Data {
		p.Data[i] = fill
	}
	return p
}

func waitFor(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
