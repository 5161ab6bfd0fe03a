package mdio

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Device is one PHY on a bus. Its frames are sent in the order they were
// queued.
type Device struct {
	addr  uint8
	mscr  uint32
	limit int

	mu      sync.Mutex
	bus     *Bus
	pending []frame
}

func (d *Device) Address() uint8 {
	return d.addr
}

func (d *Device) MSCR() uint32 {
	return d.mscr
}

// QueueCommand appends cmds to the device queue. Either every command is
// queued or none is.
func (d *Device) QueueCommand(cmds ...Command) error {
	if len(cmds) == 0 {
		return nil
	}

	d.mu.Lock()
	if d.bus == nil {
		d.mu.Unlock()
		return errors.WithStack(ErrDetached)
	}
	if len(d.pending)+len(cmds) > d.limit {
		n := len(d.pending)
		d.mu.Unlock()
		return errors.Wrapf(ErrNoFreeFrames, "%d queued, %d requested", n, len(cmds))
	}

	idle := len(d.pending) == 0
	for _, c := range cmds {
		d.pending = append(d.pending, frame{mmfr: c.Encode(d.addr), done: c.Done})
	}
	bus := d.bus
	d.mu.Unlock()

	if idle {
		bus.kick()
	}
	return nil
}

// Pending returns the number of queued frames, including the one on the wire.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Read queues a register read and waits for its result.
func (d *Device) Read(ctx context.Context, reg uint8) (uint16, error) {
	mmfr, err := d.exec(ctx, ReadCmd(reg, nil))
	return Data(mmfr), err
}

// Write queues a register write and waits until it left the bus.
func (d *Device) Write(ctx context.Context, reg uint8, val uint16) error {
	_, err := d.exec(ctx, WriteCmd(reg, val, nil))
	return err
}

type result struct {
	mmfr uint32
	err  error
}

func (d *Device) exec(ctx context.Context, c Command) (uint32, error) {
	ch := make(chan result, 1)
	c.Done = func(mmfr uint32, err error) {
		ch <- result{mmfr: mmfr, err: err}
	}
	if err := d.QueueCommand(c); err != nil {
		return 0, err
	}

	select {
	case r := <-ch:
		return r.mmfr, r.err
	case <-ctx.Done():
		return 0, errors.WithStack(ctx.Err())
	}
}

func (d *Device) head() (frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return frame{}, false
	}
	return d.pending[0], true
}

func (d *Device) pop() (frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return frame{}, false
	}
	f := d.pending[0]
	d.pending[0] = frame{}
	d.pending = d.pending[1:]
	return f, true
}

func (d *Device) detach() []frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bus = nil
	dropped := d.pending
	d.pending = nil
	return dropped
}
