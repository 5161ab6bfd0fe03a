package mdio

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"enetCore/pkg/mmio"
)

// BusOptions tunes the bus worker.
type BusOptions struct {
	// PollInterval is how often the worker checks EIR.MII while a frame is
	// on the wire.
	PollInterval time.Duration `yaml:"poll_interval"`
	// TransferTimeout abandons a frame that has not completed in time.
	TransferTimeout time.Duration `yaml:"transfer_timeout"`
	// FrameListSize bounds the pending frames of each device.
	FrameListSize int `yaml:"frame_list_size"`
}

var DefaultBusOptions = BusOptions{
	PollInterval:    3 * time.Millisecond,
	TransferTimeout: 15 * time.Millisecond,
	FrameListSize:   64,
}

func (o *BusOptions) normalize() {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultBusOptions.PollInterval
	}
	if o.TransferTimeout <= 0 {
		o.TransferTimeout = DefaultBusOptions.TransferTimeout
	}
	if o.FrameListSize <= 0 {
		o.FrameListSize = DefaultBusOptions.FrameListSize
	}
}

// Bus serializes management frames of every PHY sharing one MDIO
// controller. Only one frame is on the wire at a time; devices are served
// round-robin and each device's frames leave in queue order.
type Bus struct {
	base int64
	regs mmio.Registers
	opts BusOptions
	log  *logrus.Entry

	mu         sync.Mutex
	devices    []*Device
	active     *Device
	inProgress bool
	startedAt  time.Time
	refs       int

	startCh chan struct{}
	killCh  chan struct{}
	doneCh  chan struct{}
}

type completion struct {
	done Callback
	mmfr uint32
	err  error
}

func newBus(base int64, regs mmio.Registers, opts BusOptions) *Bus {
	opts.normalize()
	b := &Bus{
		base:    base,
		regs:    regs,
		opts:    opts,
		log:     logrus.WithField("module", "mdio").WithField("bus", fmt.Sprintf("%#x", base)),
		startCh: make(chan struct{}, 1),
		killCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) Base() int64 {
	return b.base
}

func (b *Bus) kick() {
	select {
	case b.startCh <- struct{}{}:
	default:
	}
}

func (b *Bus) run() {
	defer close(b.doneCh)

	t := time.NewTimer(time.Hour)
	t.Stop()
	for {
		select {
		case <-b.killCh:
			t.Stop()
			return
		case <-t.C:
		case <-b.startCh:
		}

		if b.service() {
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			t.Reset(b.opts.PollInterval)
		}
	}
}

// service finishes or abandons the frame on the wire and starts the next
// one. It reports whether a frame is in progress.
func (b *Bus) service() bool {
	var done []completion

	b.mu.Lock()
	if b.regs.Read32(regEIR)&eirMII != 0 {
		b.regs.Write32(regEIR, eirMII)
		if b.inProgress && b.active != nil {
			if f, ok := b.active.pop(); ok {
				done = append(done, completion{done: f.done, mmfr: b.regs.Read32(regMMFR)})
			}
			b.inProgress = false
			b.advance()
		} else {
			b.log.Warn("transfer done but no device is waiting for it")
		}
	} else if b.inProgress && b.active != nil && time.Since(b.startedAt) >= b.opts.TransferTimeout {
		if f, ok := b.active.pop(); ok {
			b.log.Warnf("frame %#08x to phy %d abandoned", f.mmfr, b.active.addr)
			done = append(done, completion{done: f.done, mmfr: f.mmfr, err: errors.WithStack(ErrTransferTimeout)})
		}
		b.inProgress = false
		b.advance()
	}

	if !b.inProgress {
		b.startNext()
	}
	busy := b.inProgress
	if !busy {
		b.regs.Write32(regMSCR, 0)
	}
	b.mu.Unlock()

	for _, c := range done {
		if c.done != nil {
			c.done(c.mmfr, c.err)
		}
	}
	return busy
}

// advance makes the device after the active one the first candidate.
func (b *Bus) advance() {
	if b.active == nil || len(b.devices) == 0 {
		b.active = nil
		return
	}
	for i, d := range b.devices {
		if d == b.active {
			b.active = b.devices[(i+1)%len(b.devices)]
			return
		}
	}
	b.active = nil
}

func (b *Bus) startNext() {
	n := len(b.devices)
	if n == 0 {
		return
	}

	first := 0
	for i, d := range b.devices {
		if d == b.active {
			first = i
			break
		}
	}

	for i := 0; i < n; i++ {
		d := b.devices[(first+i)%n]
		f, ok := d.head()
		if !ok {
			continue
		}

		// a frame abandoned earlier may still complete
		if b.regs.Read32(regEIR)&eirMII != 0 {
			b.regs.Write32(regEIR, eirMII)
		}
		b.regs.Write32(regMMFR, f.mmfr)
		b.regs.Write32(regMSCR, d.mscr)
		b.active = d
		b.inProgress = true
		b.startedAt = time.Now()
		return
	}
}

// AddDevice attaches a PHY to the bus.
func (b *Bus) AddDevice(cfg DeviceConfig) (*Device, error) {
	mscr, err := ComputeMSCR(cfg)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.killCh:
		return nil, errors.WithStack(ErrBusClosed)
	default:
	}

	for _, d := range b.devices {
		if d.addr == cfg.Address&0x1f {
			return nil, errors.Wrapf(ErrAddressConflict, "phy address %d", cfg.Address)
		}
	}

	d := &Device{
		bus:   b,
		addr:  cfg.Address & 0x1f,
		mscr:  mscr,
		limit: b.opts.FrameListSize,
	}
	b.devices = append(b.devices, d)
	b.log.Debugf("phy %d attached, mscr %#x", d.addr, mscr)
	return d, nil
}

// RemoveDevice detaches d. Frames still queued on d fail with ErrDetached.
func (b *Bus) RemoveDevice(d *Device) {
	b.mu.Lock()
	for i, x := range b.devices {
		if x == d {
			b.devices = append(b.devices[:i], b.devices[i+1:]...)
			break
		}
	}
	if b.active == d {
		b.active = nil
		b.inProgress = false
		b.kick()
	}
	dropped := d.detach()
	b.mu.Unlock()

	for _, f := range dropped {
		if f.done != nil {
			f.done(f.mmfr, errors.WithStack(ErrDetached))
		}
	}
}

// Devices returns the number of attached PHYs.
func (b *Bus) Devices() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.devices)
}

func (b *Bus) stop() {
	close(b.killCh)
	<-b.doneCh

	b.mu.Lock()
	devices := b.devices
	b.devices = nil
	b.active = nil
	b.inProgress = false
	b.regs.Write32(regMSCR, 0)
	b.mu.Unlock()

	for _, d := range devices {
		for _, f := range d.detach() {
			if f.done != nil {
				f.done(f.mmfr, errors.WithStack(ErrBusClosed))
			}
		}
	}
}
