// Package phy drives the external MII PHY behind an MDIO device and turns
// its registers into link status for the adapter.
package phy

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"enetCore/enet"
	"enetCore/mdio"
)

var ErrNoPhy = errors.New("no phy answered")

// Device is the MDIO side of a PHY. *mdio.Device implements it.
type Device interface {
	Address() uint8
	Read(ctx context.Context, reg uint8) (uint16, error)
	QueueCommand(cmds ...mdio.Command) error
}

type Options struct {
	Speed enet.SpeedSelect
	// ProbeWindow bounds how long Probe waits for a valid identifier.
	ProbeWindow time.Duration
}

var DefaultOptions = Options{
	Speed:       enet.SpeedAuto,
	ProbeWindow: 500 * time.Millisecond,
}

// PHY tracks one external PHY. Register reads complete asynchronously on
// the MDIO bus worker; PollLink only ever returns the last finished sample.
type PHY struct {
	dev   Device
	info  *Info
	id    ID
	speed enet.SpeedSelect
	log   *logrus.Entry

	mu     sync.Mutex
	status enet.LinkStatus
	busy   bool
	sr     uint16
	anar   uint16
	tc1000 uint16
	pause  bool
	mbps   int
	duplex enet.Duplex
}

// Probe reads the PHY identifier, retrying until the window closes, and
// selects the matching command tables. Unknown identifiers get the generic
// table.
func Probe(ctx context.Context, dev Device, opts Options) (*PHY, error) {
	if opts.ProbeWindow <= 0 {
		opts.ProbeWindow = DefaultOptions.ProbeWindow
	}

	id, err := readID(ctx, dev, opts.ProbeWindow)
	if err != nil {
		return nil, err
	}

	log := logrus.WithField("module", "phy").WithField("address", dev.Address())
	info, ok := Lookup(id)
	if !ok {
		log.Warnf("phy %s not supported, using generic registers", id)
		g := generic
		g.ID = id
		info = &g
	}

	p := &PHY{
		dev:    dev,
		info:   info,
		id:     id,
		speed:  opts.Speed,
		log:    log.WithField("phy", info.Name),
		status: enet.LinkStatus{State: enet.LinkStateUnknown},
	}
	if _, ok := forcedStartup[opts.Speed]; !ok && opts.Speed != enet.SpeedAuto {
		p.log.Warnf("speed %s cannot be forced, negotiating", opts.Speed)
		p.speed = enet.SpeedAuto
	}
	if p.speed.Forced() {
		p.mbps = p.speed.SpeedMbps()
		p.duplex = enet.DuplexFull
		if p.speed.HalfDuplex() {
			p.duplex = enet.DuplexHalf
		}
	}
	p.log.Infof("found %s, id %s", info.Name, id)
	return p, nil
}

func readID(ctx context.Context, dev Device, window time.Duration) (ID, error) {
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	b := &backoff.Backoff{
		Min:    5 * time.Millisecond,
		Max:    50 * time.Millisecond,
		Factor: 2,
	}
	for {
		id, err := readIDOnce(ctx, dev)
		if err == nil {
			return id, nil
		}
		select {
		case <-ctx.Done():
			return 0, errors.Wrapf(ErrNoPhy, "address %d: %v", dev.Address(), err)
		case <-time.After(b.Duration()):
		}
	}
}

func readIDOnce(ctx context.Context, dev Device) (ID, error) {
	hi, err := dev.Read(ctx, RegPHYIR1)
	if err != nil {
		return 0, err
	}
	lo, err := dev.Read(ctx, RegPHYIR2)
	if err != nil {
		return 0, err
	}
	id := ID(uint32(hi)<<16 | uint32(lo))
	if id == 0 || id == 0xffffffff {
		return 0, errors.Errorf("invalid id %s", id)
	}
	return id, nil
}

func (p *PHY) ID() ID {
	return p.id
}

func (p *PHY) Name() string {
	return p.info.Name
}

// Configure queues the model specific setup, the startup sequence for the
// selected speed and a first status query.
func (p *PHY) Configure() error {
	startup := p.info.startup
	if p.speed.Forced() {
		startup = forcedStartup[p.speed]
	}
	cmds := p.commands(concat(p.info.config, startup, p.info.query, cmdControl))
	return errors.Wrapf(p.dev.QueueCommand(cmds...), "configure %s", p.info.Name)
}

func (p *PHY) Suspend() error {
	return p.dev.QueueCommand(p.commands(cmdSuspend)...)
}

func (p *PHY) Resume() error {
	return p.dev.QueueCommand(p.commands(cmdResume)...)
}

// Reset issues a software reset with auto-negotiation enabled. The cached
// link stays as is until the next poll completes.
func (p *PHY) Reset() error {
	return p.dev.QueueCommand(p.commands(cmdReset)...)
}

// PollLink returns the last completed link sample and starts the next one
// if the previous query has finished. While the link is down the partner
// abilities are read as well. It never blocks on the bus.
func (p *PHY) PollLink() enet.LinkStatus {
	p.mu.Lock()
	status := p.status
	if p.busy {
		p.mu.Unlock()
		return status
	}
	p.busy = true
	var steps []step
	if status.State != enet.LinkStateConnected {
		steps = p.info.query
	}
	p.mu.Unlock()

	cmds := append(p.commands(steps), mdio.ReadCmd(RegSR, p.finish))
	if err := p.dev.QueueCommand(cmds...); err != nil {
		p.log.WithError(err).Warn("link query not queued")
		p.mu.Lock()
		p.busy = false
		p.mu.Unlock()
	}
	return status
}

func (p *PHY) commands(steps []step) []mdio.Command {
	cmds := make([]mdio.Command, 0, len(steps))
	for _, s := range steps {
		if s.op == mdio.OpWrite {
			cmds = append(cmds, mdio.WriteCmd(s.reg, s.val, nil))
			continue
		}
		cmds = append(cmds, mdio.ReadCmd(s.reg, p.observe(s.reg)))
	}
	return cmds
}

func (p *PHY) observe(reg uint8) mdio.Callback {
	return func(mmfr uint32, err error) {
		if err != nil {
			p.log.WithError(err).Debugf("read of register %#x failed", reg)
			return
		}
		p.mu.Lock()
		p.parseLocked(reg, mdio.Data(mmfr))
		p.mu.Unlock()
	}
}

func (p *PHY) parseLocked(reg uint8, v uint16) {
	switch reg {
	case RegCR:
		p.log.Debugf("control %#04x, auto-negotiation %v, loopback %v",
			v, v&crANEnable != 0, v&crLoopback != 0)
	case RegSR:
		p.sr = v
	case RegANAR:
		p.anar = v
	case Reg1000BaseTC:
		p.tc1000 = v
	case RegANLPAR:
		if p.sr&srANComplete == 0 || p.speed.Forced() {
			return
		}
		p.pause = v&anarPause != 0
		// highest common ability wins, an unread advertisement accepts
		// whatever the partner offers
		adv := p.anar
		if adv&anarAbilities == 0 {
			adv = anarAbilities
		}
		common := v & adv
		switch {
		case common&anar100Full != 0:
			p.mbps, p.duplex = 100, enet.DuplexFull
		case common&anar100Half != 0:
			p.mbps, p.duplex = 100, enet.DuplexHalf
		case common&anar10Full != 0:
			p.mbps, p.duplex = 10, enet.DuplexFull
		case common&anar10Half != 0:
			p.mbps, p.duplex = 10, enet.DuplexHalf
		}
	case Reg1000BaseTS:
		if p.sr&srANComplete == 0 || p.speed.Forced() || !p.info.Gigabit {
			return
		}
		switch {
		case v&ts1000Full != 0 && p.tc1000&tc1000Full != 0:
			p.mbps, p.duplex = 1000, enet.DuplexFull
		case v&ts1000Half != 0 && p.tc1000&tc1000Half != 0:
			p.mbps, p.duplex = 1000, enet.DuplexHalf
		}
	}
}

// finish completes a link query with the final status register read.
func (p *PHY) finish(mmfr uint32, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = false
	if err != nil {
		p.log.WithError(err).Warn("link query failed")
		return
	}

	prev := p.status
	p.sr = mdio.Data(mmfr)
	up := p.sr&srLinkStatus != 0
	// a negotiated link counts once its speed is resolved
	if up && p.mbps == 0 {
		up = false
	}

	if up {
		p.status = enet.LinkStatus{State: enet.LinkStateConnected, SpeedMbps: p.mbps, Duplex: p.duplex}
	} else {
		p.status = enet.LinkStatus{State: enet.LinkStateDisconnected}
		if !p.speed.Forced() {
			p.mbps, p.duplex, p.pause = 0, enet.DuplexUnknown, false
		}
	}

	if prev.State != p.status.State {
		p.log.WithFields(logrus.Fields{
			"pause":        p.pause,
			"remote_fault": p.sr&srRemoteFault != 0,
		}).Infof("link %s", p.status)
	}
}
