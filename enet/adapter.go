package enet

import (
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"enetCore/layers"
	"enetCore/pkg/dma"
	"enetCore/pkg/mmio"
	"enetCore/pkg/timer"
)

const (
	bdAlign = 64

	bufferSize  = 2048
	bufferAlign = 64
)

// Adapter drives one ENET MAC. It owns both descriptor rings, the state
// machine and the DMA arena behind them.
type Adapter struct {
	id  xid.ID
	log *logrus.Entry
	cfg Config
	mac net.HardwareAddr

	regs   mmio.Registers
	poller LinkPoller
	host   Host
	arena  *dma.Arena

	rxTable dma.Region
	txTable dma.Region

	// devMu guards the fields below and the MAC control registers.
	devMu     sync.Mutex
	started   bool
	link      LinkStatus
	multicast []net.HardwareAddr

	tx *txRing
	rx *rxRing

	sm         stateMachine
	dispatchMu sync.Mutex
	sched      Scheduler
	haltCh     chan struct{}
	fatal      func(err error)

	inlineDPC   bool
	dpcMu       sync.Mutex
	dpcCh       chan struct{}
	dpcStop     chan struct{}
	dpcDone     chan struct{}
	stopOnce    sync.Once
	savedEvents uint32
	ints        intStats
}

// NewAdapter carves the DMA arena, programs the MAC and leaves the adapter
// PAUSED. Restart brings it up.
func NewAdapter(cfg Config, res Resources) (*Adapter, error) {
	if res.Registers == nil || res.Poller == nil || res.Host == nil {
		return nil, errors.WithStack(ErrNotReady)
	}
	cfg.Normalize()

	mac, err := cfg.StationAddress(res.PermanentAddress)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		id:        xid.New(),
		cfg:       cfg,
		mac:       mac,
		regs:      res.Registers,
		poller:    res.Poller,
		host:      res.Host,
		haltCh:    make(chan struct{}, 1),
		inlineDPC: res.InlineDPC,
		dpcCh:     make(chan struct{}, 1),
		dpcStop:   make(chan struct{}),
		dpcDone:   make(chan struct{}),
	}
	a.log = log.WithField("adapter", a.id.String())
	a.fatal = a.fatalTransition
	a.link = LinkStatus{State: LinkStateUnknown}

	if err := a.allocRings(res.ArenaBusBase); err != nil {
		return nil, err
	}

	if res.NewScheduler != nil {
		a.sched = res.NewScheduler(a.dispatch)
	} else {
		a.sched = timer.NewOneShot(a.dispatch)
	}

	a.initHardware()

	if !a.inlineDPC {
		go a.dpcLoop()
	}

	a.log.Infof("adapter initialized: %s, rx %d, tx %d, speed %s, %s",
		a.mac, cfg.RxBufferCount, cfg.TxBufferCount, cfg.SpeedSelect, cfg.PhyInterface)
	return a, nil
}

func arenaSize(rx, tx int) int {
	align := func(n int) int { return (n + bdAlign - 1) &^ (bdAlign - 1) }
	return align(rx*bdSize) + align(tx*bdSize) + (rx+tx)*bufferSize + bufferAlign
}

// allocRings binds every descriptor slot to its buffer once. The binding
// never changes while the adapter exists.
func (a *Adapter) allocRings(busBase uint32) error {
	rxN, txN := a.cfg.RxBufferCount, a.cfg.TxBufferCount

	arena, err := dma.NewArena(arenaSize(rxN, txN), busBase)
	if err != nil {
		return errors.Wrap(err, "dma.NewArena failed")
	}

	carve := func(n int) ([][]byte, []uint32, error) {
		bufs := make([][]byte, n)
		bus := make([]uint32, n)
		for i := 0; i < n; i++ {
			r, err := arena.Alloc(bufferSize, bufferAlign)
			if err != nil {
				return nil, nil, err
			}
			bufs[i] = arena.Bytes(r)
			bus[i] = arena.BusAddr(r)
		}
		return bufs, bus, nil
	}

	if a.rxTable, err = arena.Alloc(rxN*bdSize, bdAlign); err != nil {
		arena.Close()
		return err
	}
	if a.txTable, err = arena.Alloc(txN*bdSize, bdAlign); err != nil {
		arena.Close()
		return err
	}
	rxBufs, rxBus, err := carve(rxN)
	if err != nil {
		arena.Close()
		return err
	}
	txBufs, txBus, err := carve(txN)
	if err != nil {
		arena.Close()
		return err
	}

	a.arena = arena
	a.rx = newRxRing(a.regs, newBDTable(arena.Bytes(a.rxTable), rxN), rxBufs, rxBus, a.cfg.DeliverErrorFrames)
	a.tx = newTxRing(a.regs, newBDTable(arena.Bytes(a.txTable), txN), txBufs, txBus, a.cfg.TxQueueDepth)
	return nil
}

// initHardware programs the MAC for the configured interface and speed.
// The controller is left disabled.
func (a *Adapter) initHardware() {
	a.devMu.Lock()
	defer a.devMu.Unlock()

	a.regs.Write32(regEIMR, 0)
	// MII completions belong to the MDIO bus sharing this block
	a.regs.Write32(regEIR, 0xffffffff&^eirMII)
	a.regs.Write32(regECR, ecrDBSW)

	rcr := uint32(layers.MaxFrameLengthCRC)<<rcrMaxFLSh | rcrMIIMode | rcrFCE
	switch a.cfg.PhyInterface {
	case PhyRGMII:
		rcr |= rcrRGMIIEn
	case PhyRMII:
		rcr |= rcrRMIIMode
	}
	tcr := uint32(tcrFDEN)
	if a.cfg.SpeedSelect.Forced() {
		if a.cfg.SpeedSelect.HalfDuplex() {
			rcr |= rcrDRT
			tcr = 0
		}
		if a.cfg.SpeedSelect.SpeedMbps() == 10 {
			rcr |= rcrRMII10T
		}
	}
	a.regs.Write32(regRCR, rcr)
	a.regs.Write32(regTCR, tcr)

	a.regs.Write32(regMIBC, 0)
	a.regs.Write32(regRACC, raccShift16)

	a.regs.Write32(regRSFL, rsflValue)
	a.regs.Write32(regRSEM, rsemValue)
	a.regs.Write32(regRAEM, raemValue)
	a.regs.Write32(regRAFL, raflValue)
	a.regs.Write32(regOPD, opdValue)
	a.regs.Write32(regTFWR, tfwrValue)
	a.regs.Write32(regTAEM, taemValue)
	a.regs.Write32(regTAFL, taflValue)
	a.regs.Write32(regTSEM, tsemValue)

	m := a.mac
	a.regs.Write32(regPALR, uint32(m[0])<<24|uint32(m[1])<<16|uint32(m[2])<<8|uint32(m[3]))
	a.regs.Write32(regPAUR, uint32(m[4])<<24|uint32(m[5])<<16)

	upper, lower := hashFilter([]net.HardwareAddr{m})
	a.regs.Write32(regIAUR, upper)
	a.regs.Write32(regIALR, lower)
	a.regs.Write32(regGAUR, 0)
	a.regs.Write32(regGALR, 0)
}

// hashFilter builds the 64-bit ENET hash table matching addrs.
func hashFilter(addrs []net.HardwareAddr) (upper, lower uint32) {
	for _, addr := range addrs {
		h := layers.HashAddress(addr)
		if h > 31 {
			upper |= 1 << (h - 32)
		} else {
			lower |= 1 << h
		}
	}
	return upper, lower
}

// updateLink stores a fresh PHY sample and reports whether the link state
// changed.
func (a *Adapter) updateLink(s LinkStatus) bool {
	a.devMu.Lock()
	defer a.devMu.Unlock()

	changed := a.link.State != s.State
	a.link.State = s.State
	if s.State == LinkStateConnected {
		a.link.SpeedMbps = s.SpeedMbps
		a.link.Duplex = s.Duplex
	} else {
		a.link.SpeedMbps = 0
		a.link.Duplex = DuplexUnknown
	}
	return changed
}

// LinkStatus returns the cached link state.
func (a *Adapter) LinkStatus() LinkStatus {
	a.devMu.Lock()
	defer a.devMu.Unlock()
	return a.link
}

// applyLinkModeLocked matches the MAC to the negotiated speed and duplex.
func (a *Adapter) applyLinkModeLocked() {
	if a.link.State != LinkStateConnected {
		return
	}

	ecr := a.regs.Read32(regECR) &^ ecrSpeed
	rcr := a.regs.Read32(regRCR) &^ (rcrRMII10T | rcrDRT)
	tcr := a.regs.Read32(regTCR) &^ tcrFDEN

	switch a.link.SpeedMbps {
	case 1000:
		ecr |= ecrSpeed
	case 10:
		rcr |= rcrRMII10T
	}
	if a.link.Duplex == DuplexHalf {
		rcr |= rcrDRT
	} else {
		tcr |= tcrFDEN
	}

	a.regs.Write32(regECR, ecr)
	a.regs.Write32(regRCR, rcr)
	a.regs.Write32(regTCR, tcr)
}

// startEngine re-initialises both rings and enables the controller. It is
// a no-op when the engine already runs.
func (a *Adapter) startEngine() {
	a.devMu.Lock()
	a.rx.mu.Lock()
	a.tx.mu.Lock()

	if a.started {
		a.tx.mu.Unlock()
		a.rx.mu.Unlock()
		a.devMu.Unlock()
		return
	}

	leftover := a.tx.startLocked()
	a.rx.startLocked()
	a.started = true

	a.regs.Write32(regERDSR, a.arena.BusAddr(a.rxTable))
	a.regs.Write32(regETDSR, a.arena.BusAddr(a.txTable))
	a.regs.Write32(regEMRBR, emrbrValue)
	a.applyLinkModeLocked()

	a.regs.Write32(regEIR, intRxTx)
	a.regs.Write32(regEIMR, intRxTx)
	a.regs.Write32(regECR, a.regs.Read32(regECR)|ecrEtherEn)
	a.regs.Write32(regRDAR, darActive)

	a.tx.mu.Unlock()
	a.rx.mu.Unlock()
	a.devMu.Unlock()

	a.completeSends(leftover)
	a.tx.flush()
	a.log.Infof("engine started, link %s", a.LinkStatus())
}

// stopEngine disables the controller. Sends are failed with reason until
// the next start.
func (a *Adapter) stopEngine(reason error) {
	a.devMu.Lock()
	a.rx.mu.Lock()
	a.tx.mu.Lock()

	a.regs.Write32(regEIMR, 0)
	a.regs.Write32(regEIR, intRxTx)
	a.regs.Write32(regECR, a.regs.Read32(regECR)&^ecrEtherEn)

	wasStarted := a.started
	a.started = false
	a.tx.stopLocked(reason)
	a.rx.stopLocked()

	a.tx.mu.Unlock()
	a.rx.mu.Unlock()
	a.devMu.Unlock()

	if wasStarted {
		a.log.Infof("engine stopped: %v", reason)
	}
}

// Started reports whether the controller is enabled.
func (a *Adapter) Started() bool {
	a.devMu.Lock()
	defer a.devMu.Unlock()
	return a.started
}

func (a *Adapter) completeSends(done []txDone) {
	for _, d := range done {
		a.host.SendComplete(d.pkt, d.err)
	}
}

// Send queues p for transmission. Accepted packets are always completed
// through Host.SendComplete; a rejected packet is not.
func (a *Adapter) Send(p *Packet) error {
	return a.tx.enqueue(p)
}

// CancelSend fails every queued packet carrying id that has not reached a
// descriptor yet.
func (a *Adapter) CancelSend(id uint64) {
	a.completeSends(a.tx.cancelSend(id))
}

// ReturnBuffer gives a delivered receive buffer back to the adapter.
func (a *Adapter) ReturnBuffer(handle int) error {
	return a.rx.release(handle)
}

// SetMulticastList replaces the group address filter.
func (a *Adapter) SetMulticastList(addrs []net.HardwareAddr) error {
	list := make([]net.HardwareAddr, 0, len(addrs))
	for _, addr := range addrs {
		if len(addr) != layers.LengthAddress || !layers.IsMulticast(addr) {
			return errors.Wrapf(ErrInvalidAddress, "multicast address %s", addr)
		}
		list = append(list, append(net.HardwareAddr(nil), addr...))
	}
	upper, lower := hashFilter(list)

	a.devMu.Lock()
	defer a.devMu.Unlock()
	a.multicast = list
	a.regs.Write32(regGAUR, upper)
	a.regs.Write32(regGALR, lower)
	return nil
}

// MulticastList returns the addresses currently in the group filter.
func (a *Adapter) MulticastList() []net.HardwareAddr {
	a.devMu.Lock()
	defer a.devMu.Unlock()
	return append([]net.HardwareAddr(nil), a.multicast...)
}

func (a *Adapter) SetPromiscuous(on bool) {
	a.devMu.Lock()
	defer a.devMu.Unlock()

	rcr := a.regs.Read32(regRCR)
	if on {
		rcr |= rcrProm
	} else {
		rcr &^= rcrProm
	}
	a.regs.Write32(regRCR, rcr)
}

// CheckForHang reports a transmit stall.
func (a *Adapter) CheckForHang() bool {
	if a.tx.checkForHang() {
		a.log.Warn("transmit hang detected")
		return true
	}
	return false
}

// Shutdown quiesces the hardware without touching any lock or ring. It is
// meant for system shutdown paths where nothing else will run afterwards.
func (a *Adapter) Shutdown() {
	a.regs.Write32(regEIMR, 0)
	a.regs.Write32(regECR, a.regs.Read32(regECR)&^ecrEtherEn)
}

func (a *Adapter) ID() string {
	return a.id.String()
}

func (a *Adapter) MACAddress() net.HardwareAddr {
	return append(net.HardwareAddr(nil), a.mac...)
}

func (a *Adapter) Config() Config {
	return a.cfg
}
