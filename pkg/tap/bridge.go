package tap

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"enetCore/enet"
	"enetCore/layers"
)

// Port is the kernel side of a bridge. *Device implements it.
type Port interface {
	io.ReadWriter
	SetLinkState(up bool) error
}

// NIC is the adapter side of a bridge.
type NIC interface {
	Send(p *enet.Packet) error
	ReturnBuffer(handle int) error
}

type BridgeStats struct {
	RxFrames      uint64
	RxDropped     uint64
	RxWriteErrors uint64
	TxFrames      uint64
	TxDropped     uint64
	TxErrors      uint64
}

// Bridge is the adapter's host: received frames are written to the port
// and frames read from the port are sent on the adapter.
type Bridge struct {
	port Port
	log  *logrus.Entry

	mu  sync.RWMutex
	nic NIC

	packets  sync.Pool
	pausedCh chan struct{}
	resetCh  chan struct{}

	stats BridgeStats
}

func NewBridge(port Port) *Bridge {
	return &Bridge{
		port: port,
		log:  logrus.WithField("module", "tap"),
		packets: sync.Pool{New: func() interface{} {
			return &enet.Packet{Data: make([]byte, layers.MaxFrameLength)}
		}},
		pausedCh: make(chan struct{}, 1),
		resetCh:  make(chan struct{}, 1),
	}
}

// Attach sets the adapter frames are sent on and buffers returned to.
func (b *Bridge) Attach(nic NIC) {
	b.mu.Lock()
	b.nic = nic
	b.mu.Unlock()
}

func (b *Bridge) adapter() NIC {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nic
}

func (b *Bridge) DeliverFrame(f enet.Frame) {
	if f.Class != enet.FrameGood {
		atomic.AddUint64(&b.stats.RxDropped, 1)
	} else if _, err := b.port.Write(f.Data); err != nil {
		atomic.AddUint64(&b.stats.RxWriteErrors, 1)
		b.log.WithError(err).Debug("write to tap failed")
	} else {
		atomic.AddUint64(&b.stats.RxFrames, 1)
	}

	if f.Sync {
		return
	}
	if nic := b.adapter(); nic != nil {
		if err := nic.ReturnBuffer(f.Handle); err != nil {
			b.log.WithError(err).Warnf("return buffer %d failed", f.Handle)
		}
	}
}

func (b *Bridge) IndicateLinkState(s enet.LinkStatus) {
	b.log.Infof("link %s", s)
	if err := b.port.SetLinkState(s.State == enet.LinkStateConnected); err != nil {
		b.log.WithError(err).Warn("set tap link state failed")
	}
}

func (b *Bridge) SendComplete(p *enet.Packet, err error) {
	if err != nil {
		atomic.AddUint64(&b.stats.TxErrors, 1)
		b.log.WithError(err).Debug("send failed")
	} else {
		atomic.AddUint64(&b.stats.TxFrames, 1)
	}
	b.recycle(p)
}

func (b *Bridge) PauseComplete() {
	signal(b.pausedCh)
}

func (b *Bridge) ResetComplete() {
	signal(b.resetCh)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// WaitPaused blocks until the adapter reports a finished pause.
func (b *Bridge) WaitPaused(ctx context.Context) error {
	select {
	case <-b.pausedCh:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// WaitReset blocks until the adapter reports a finished reset.
func (b *Bridge) WaitReset(ctx context.Context) error {
	select {
	case <-b.resetCh:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

func (b *Bridge) recycle(p *enet.Packet) {
	p.Data = p.Data[:cap(p.Data)]
	p.CancelID = 0
	p.Context = nil
	b.packets.Put(p)
}

// Run reads frames from the port and sends them until the port fails.
// Close the port to stop it; the error is swallowed once ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		p := b.packets.Get().(*enet.Packet)
		n, err := b.port.Read(p.Data)
		if err != nil {
			b.recycle(p)
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read tap failed")
		}
		p.Data = p.Data[:n]

		nic := b.adapter()
		if nic == nil {
			b.recycle(p)
			atomic.AddUint64(&b.stats.TxDropped, 1)
			continue
		}
		if err := nic.Send(p); err != nil {
			b.recycle(p)
			atomic.AddUint64(&b.stats.TxDropped, 1)
			if errors.Cause(err) != enet.ErrBackpressure {
				b.log.WithError(err).Debugf("dropped %d byte frame", n)
			}
		}
	}
}

func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		RxFrames:      atomic.LoadUint64(&b.stats.RxFrames),
		RxDropped:     atomic.LoadUint64(&b.stats.RxDropped),
		RxWriteErrors: atomic.LoadUint64(&b.stats.RxWriteErrors),
		TxFrames:      atomic.LoadUint64(&b.stats.TxFrames),
		TxDropped:     atomic.LoadUint64(&b.stats.TxDropped),
		TxErrors:      atomic.LoadUint64(&b.stats.TxErrors),
	}
}
