package phy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enetCore/enet"
	"enetCore/mdio"
	"enetCore/pkg/mmio"
)

type access struct {
	op  mdio.Op
	reg uint8
	val uint16
}

// fakeDev executes queued commands synchronously unless hold is set.
type fakeDev struct {
	mu        sync.Mutex
	regs      map[uint8]uint16
	log       []access
	hold      bool
	held      []mdio.Command
	failReads int
	err       error
}

func newFakeDev(id ID) *fakeDev {
	return &fakeDev{regs: map[uint8]uint16{
		RegPHYIR1: uint16(id >> 16),
		RegPHYIR2: uint16(id),
	}}
}

func (d *fakeDev) Address() uint8 {
	return 1
}

func (d *fakeDev) Read(ctx context.Context, reg uint8) (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failReads > 0 {
		d.failReads--
		return 0, errors.WithStack(mdio.ErrTransferTimeout)
	}
	return d.regs[reg], nil
}

func (d *fakeDev) QueueCommand(cmds ...mdio.Command) error {
	d.mu.Lock()
	if d.err != nil {
		d.mu.Unlock()
		return d.err
	}
	if d.hold {
		d.held = append(d.held, cmds...)
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	d.run(cmds)
	return nil
}

func (d *fakeDev) run(cmds []mdio.Command) {
	for _, c := range cmds {
		d.mu.Lock()
		mmfr := c.Encode(1)
		if c.Op == mdio.OpWrite {
			d.regs[c.Reg] = c.Data
			d.log = append(d.log, access{mdio.OpWrite, c.Reg, c.Data})
		} else {
			mmfr = mmfr&^0xffff | uint32(d.regs[c.Reg])
			d.log = append(d.log, access{mdio.OpRead, c.Reg, d.regs[c.Reg]})
		}
		d.mu.Unlock()
		if c.Done != nil {
			c.Done(mmfr, nil)
		}
	}
}

func (d *fakeDev) release() {
	d.mu.Lock()
	cmds := d.held
	d.held = nil
	d.hold = false
	d.mu.Unlock()
	d.run(cmds)
}

func (d *fakeDev) set(reg uint8, v uint16) {
	d.mu.Lock()
	d.regs[reg] = v
	d.mu.Unlock()
}

func (d *fakeDev) writes() []access {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []access
	for _, a := range d.log {
		if a.op == mdio.OpWrite {
			out = append(out, a)
		}
	}
	return out
}

func (d *fakeDev) reads(reg uint8) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, a := range d.log {
		if a.op == mdio.OpRead && a.reg == reg {
			n++
		}
	}
	return n
}

func w(reg uint8, val uint16) access {
	return access{mdio.OpWrite, reg, val}
}

func probe(t *testing.T, d *fakeDev, speed enet.SpeedSelect) *PHY {
	p, err := Probe(context.Background(), d, Options{Speed: speed, ProbeWindow: 200 * time.Millisecond})
	require.NoError(t, err)
	return p
}

func TestLookup(t *testing.T) {
	for _, id := range []ID{IDAR8031, IDAR8035, IDRTL8211E, IDRTL8211F, IDKSZ8081, IDKSZ8091, IDKSZ9021, IDKSZ9031} {
		info, ok := Lookup(id)
		require.True(t, ok, "%s", id)
		assert.Equal(t, id, info.ID)
		assert.NotEmpty(t, info.query)
	}
	_, ok := Lookup(0x12345678)
	assert.False(t, ok)
}

func TestProbe(t *testing.T) {
	d := newFakeDev(IDAR8035)
	d.failReads = 3
	p := probe(t, d, enet.SpeedAuto)

	assert.Equal(t, IDAR8035, p.ID())
	assert.Equal(t, "AR8035", p.Name())
	assert.Equal(t, enet.LinkStateUnknown, p.PollLink().State)
}

func TestProbe_Generic(t *testing.T) {
	p := probe(t, newFakeDev(0x12345678), enet.SpeedAuto)
	assert.Equal(t, ID(0x12345678), p.ID())
	assert.Equal(t, "generic", p.Name())
}

func TestProbe_NoPhy(t *testing.T) {
	for _, id := range []ID{0, 0xffffffff} {
		start := time.Now()
		_, err := Probe(context.Background(), newFakeDev(id), Options{ProbeWindow: 30 * time.Millisecond})
		assert.Equal(t, ErrNoPhy, errors.Cause(err))
		assert.True(t, time.Since(start) >= 30*time.Millisecond)
	}
}

func TestConfigure_Auto(t *testing.T) {
	d := newFakeDev(IDAR8031)
	p := probe(t, d, enet.SpeedAuto)
	require.NoError(t, p.Configure())

	assert.Equal(t, []access{
		w(0x0d, 0x0007), w(0x0e, 0x8016), w(0x0d, 0x4007), w(0x0e, 0x0018),
		w(0x1d, 0x0005), w(0x1e, 0x0100), w(0x14, 0x000c), w(RegANAR, 0x1de1),
		w(RegCR, 0x1200),
	}, d.writes())
	assert.Equal(t, 1, d.reads(Reg1000BaseTC))
	assert.Equal(t, 1, d.reads(Reg1000BaseTS))
	assert.Equal(t, 1, d.reads(RegCR))
}

func TestConfigure_Forced(t *testing.T) {
	d := newFakeDev(IDKSZ8091)
	p := probe(t, d, enet.SpeedHalf100)
	require.NoError(t, p.Configure())

	assert.Equal(t, []access{
		w(RegCR, 0x3140), w(RegCR, 0x3340),
		w(Reg1000BaseTC, 0), w(RegANAR, 0x1c81), w(RegCR, 0x1300),
	}, d.writes())
}

func TestConfigure_GigabitCannotBeForced(t *testing.T) {
	d := newFakeDev(IDRTL8211F)
	p := probe(t, d, enet.SpeedFull1000)
	require.NoError(t, p.Configure())

	assert.Equal(t, []access{w(RegCR, 0x3140), w(RegCR, 0x3340), w(RegCR, 0x1200)}, d.writes())
}

func TestPollLink_Gigabit(t *testing.T) {
	d := newFakeDev(IDAR8031)
	d.set(Reg1000BaseTC, tc1000Full)
	p := probe(t, d, enet.SpeedAuto)
	require.NoError(t, p.Configure())

	assert.Equal(t, enet.LinkStateUnknown, p.PollLink().State)

	d.set(RegSR, srLinkStatus|srANComplete)
	d.set(RegANLPAR, anar100Full|anar10Full|anarPause)
	d.set(Reg1000BaseTS, ts1000Full)
	assert.Equal(t, enet.LinkStateDisconnected, p.PollLink().State)

	want := enet.LinkStatus{State: enet.LinkStateConnected, SpeedMbps: 1000, Duplex: enet.DuplexFull}
	assert.Equal(t, want, p.PollLink())

	// while connected only the status register is read
	before := d.reads(RegANLPAR)
	assert.Equal(t, want, p.PollLink())
	assert.Equal(t, before, d.reads(RegANLPAR))
}

func TestPollLink_KSZ9021Gigabit(t *testing.T) {
	info, ok := Lookup(IDKSZ9021)
	require.True(t, ok)
	assert.True(t, info.Gigabit)

	d := newFakeDev(IDKSZ9021)
	d.set(Reg1000BaseTC, tc1000Full|tc1000Half)
	p := probe(t, d, enet.SpeedAuto)
	require.NoError(t, p.Configure())
	assert.Equal(t, 1, d.reads(Reg1000BaseTC))

	d.set(RegSR, srLinkStatus|srANComplete)
	d.set(RegANLPAR, anar100Full)
	d.set(Reg1000BaseTS, ts1000Half)
	p.PollLink()

	want := enet.LinkStatus{State: enet.LinkStateConnected, SpeedMbps: 1000, Duplex: enet.DuplexHalf}
	assert.Equal(t, want, p.PollLink())
}

func TestPollLink_PartnerAbilities(t *testing.T) {
	cases := []struct {
		partner uint16
		mbps    int
		duplex  enet.Duplex
	}{
		{anar10Half, 10, enet.DuplexHalf},
		{anar10Half | anar10Full, 10, enet.DuplexFull},
		{anar10Full | anar100Half, 100, enet.DuplexHalf},
		{anar100Full | anar100Half | anar10Full, 100, enet.DuplexFull},
	}
	for _, c := range cases {
		d := newFakeDev(IDKSZ8081)
		d.set(RegSR, srLinkStatus|srANComplete)
		d.set(RegANLPAR, c.partner)
		p := probe(t, d, enet.SpeedAuto)
		require.NoError(t, p.Configure())

		p.PollLink()
		got := p.PollLink()
		assert.Equal(t, enet.LinkStateConnected, got.State, "%#04x", c.partner)
		assert.Equal(t, c.mbps, got.SpeedMbps, "%#04x", c.partner)
		assert.Equal(t, c.duplex, got.Duplex, "%#04x", c.partner)
	}
}

func TestPollLink_AdvertisementLimitsSpeed(t *testing.T) {
	d := newFakeDev(IDKSZ8091)
	d.set(RegANAR, anar10Full|anar10Half|0x0001)
	d.set(RegSR, srLinkStatus|srANComplete)
	d.set(RegANLPAR, anar100Full|anar10Full)
	p := probe(t, d, enet.SpeedAuto)
	require.NoError(t, p.Configure())

	p.PollLink()
	got := p.PollLink()
	assert.Equal(t, 10, got.SpeedMbps)
	assert.Equal(t, enet.DuplexFull, got.Duplex)
}

func TestPollLink_NegotiationIncomplete(t *testing.T) {
	d := newFakeDev(IDKSZ8091)
	d.set(RegSR, srLinkStatus)
	d.set(RegANLPAR, anar100Full)
	p := probe(t, d, enet.SpeedAuto)

	p.PollLink()
	assert.Equal(t, enet.LinkStateDisconnected, p.PollLink().State)
}

func TestPollLink_Forced(t *testing.T) {
	d := newFakeDev(IDKSZ8091)
	p := probe(t, d, enet.SpeedFull10)
	require.NoError(t, p.Configure())

	d.set(RegSR, srLinkStatus)
	p.PollLink()
	assert.Equal(t, enet.LinkStatus{State: enet.LinkStateConnected, SpeedMbps: 10, Duplex: enet.DuplexFull}, p.PollLink())

	d.set(RegSR, 0)
	p.PollLink()
	assert.Equal(t, enet.LinkStateDisconnected, p.PollLink().State)

	// forced modes keep their speed across link loss
	d.set(RegSR, srLinkStatus)
	p.PollLink()
	assert.Equal(t, 10, p.PollLink().SpeedMbps)
}

func TestPollLink_LinkLossRequeries(t *testing.T) {
	d := newFakeDev(IDKSZ8091)
	d.set(RegSR, srLinkStatus|srANComplete)
	d.set(RegANLPAR, anar100Full)
	p := probe(t, d, enet.SpeedAuto)

	p.PollLink()
	require.Equal(t, enet.LinkStateConnected, p.PollLink().State)

	d.set(RegSR, 0)
	p.PollLink()
	assert.Equal(t, enet.LinkStatus{State: enet.LinkStateDisconnected}, p.PollLink())

	before := d.reads(RegANLPAR)
	p.PollLink()
	assert.Equal(t, before+1, d.reads(RegANLPAR))
}

func TestPollLink_OneQueryInFlight(t *testing.T) {
	d := newFakeDev(IDKSZ8091)
	d.set(RegSR, srLinkStatus|srANComplete)
	d.set(RegANLPAR, anar100Full)
	p := probe(t, d, enet.SpeedAuto)

	d.mu.Lock()
	d.hold = true
	d.mu.Unlock()

	assert.Equal(t, enet.LinkStateUnknown, p.PollLink().State)
	assert.Equal(t, enet.LinkStateUnknown, p.PollLink().State)
	d.mu.Lock()
	assert.Len(t, d.held, len(queryFast)+1)
	d.mu.Unlock()

	d.release()
	assert.Equal(t, enet.LinkStateConnected, p.PollLink().State)
}

func TestPollLink_QueueFailure(t *testing.T) {
	d := newFakeDev(IDKSZ8091)
	d.set(RegSR, srLinkStatus|srANComplete)
	d.set(RegANLPAR, anar100Full)
	p := probe(t, d, enet.SpeedAuto)

	d.err = errors.WithStack(mdio.ErrNoFreeFrames)
	assert.Equal(t, enet.LinkStateUnknown, p.PollLink().State)
	assert.Equal(t, enet.LinkStateUnknown, p.PollLink().State)

	d.err = nil
	p.PollLink()
	assert.Equal(t, enet.LinkStateConnected, p.PollLink().State)
}

func TestCommandLists(t *testing.T) {
	d := newFakeDev(IDKSZ9031)
	p := probe(t, d, enet.SpeedAuto)

	require.NoError(t, p.Suspend())
	require.NoError(t, p.Resume())
	require.NoError(t, p.Reset())
	assert.Equal(t, []access{w(RegCR, 0x0800), w(RegCR, 0x1200), w(RegCR, 0x9000)}, d.writes())
}

// Register offsets of the MDIO block in the MAC.
const (
	testEIR    = 0x004
	testMMFR   = 0x040
	testMSCR   = 0x044
	testEIRMII = 0x00800000
)

// newBusModel answers management frames for one PHY at address 1.
func newBusModel(regs map[uint8]uint16) (*mmio.File, *sync.Mutex) {
	var mu sync.Mutex
	f := mmio.NewFile()
	f.SetWriteOneToClear(testEIR)
	f.OnWrite(testMSCR, func(v uint32) {
		if v == 0 {
			return
		}
		mmfr := f.Read32(testMMFR)
		op, addr, reg, data := mdio.Decode(mmfr)
		if addr != 1 {
			return
		}
		mu.Lock()
		if op == mdio.OpRead {
			f.Set(testMMFR, mmfr&^0xffff|uint32(regs[reg]))
		} else {
			regs[reg] = data
		}
		mu.Unlock()
		f.SetBits(testEIR, testEIRMII)
	})
	return f, &mu
}

func TestPHY_OverMDIOBus(t *testing.T) {
	regs := map[uint8]uint16{
		RegPHYIR1: uint16(IDKSZ8081 >> 16),
		RegPHYIR2: uint16(IDKSZ8081 & 0xffff),
		RegSR:     srLinkStatus | srANComplete,
		RegANLPAR: anar100Full | anar100Half,
	}
	f, mu := newBusModel(regs)

	cfg := mdio.DefaultDeviceConfig
	cfg.Address = 1
	drv := mdio.NewDriver()
	dev, err := drv.Attach(0x1000, f, mdio.BusOptions{
		PollInterval:    time.Millisecond,
		TransferTimeout: time.Second,
	}, cfg)
	require.NoError(t, err)
	defer drv.Detach(dev)

	p, err := Probe(context.Background(), dev, DefaultOptions)
	require.NoError(t, err)
	assert.Equal(t, "KSZ8081", p.Name())
	require.NoError(t, p.Configure())

	deadline := time.Now().Add(5 * time.Second)
	var got enet.LinkStatus
	for time.Now().Before(deadline) {
		if got = p.PollLink(); got.State == enet.LinkStateConnected {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, enet.LinkStatus{State: enet.LinkStateConnected, SpeedMbps: 100, Duplex: enet.DuplexFull}, got)

	mu.Lock()
	assert.Equal(t, uint16(0x8190), regs[0x1f])
	mu.Unlock()
}
