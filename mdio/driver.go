package mdio

import (
	"sync"

	"github.com/pkg/errors"

	"enetCore/pkg/mmio"
)

// Driver owns the MDIO buses of a process, keyed by controller base
// address. Adapters whose PHYs hang off the same controller share a bus.
type Driver struct {
	mu    sync.Mutex
	buses map[int64]*Bus
}

func NewDriver() *Driver {
	return &Driver{buses: make(map[int64]*Bus)}
}

// Open returns the bus at base, starting it on first use.
func (drv *Driver) Open(base int64, regs mmio.Registers, opts BusOptions) *Bus {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	b, ok := drv.buses[base]
	if !ok {
		b = newBus(base, regs, opts)
		drv.buses[base] = b
		b.log.Info("mdio bus started")
	}
	b.refs++
	return b
}

// Close drops one reference to b and stops it with the last one.
func (drv *Driver) Close(b *Bus) {
	drv.mu.Lock()
	b.refs--
	last := b.refs <= 0
	if last {
		delete(drv.buses, b.base)
	}
	drv.mu.Unlock()

	if last {
		b.stop()
		b.log.Info("mdio bus stopped")
	}
}

// Buses returns the number of running buses.
func (drv *Driver) Buses() int {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	return len(drv.buses)
}

// Attach opens the bus at base and adds the PHY described by cfg.
func (drv *Driver) Attach(base int64, regs mmio.Registers, opts BusOptions, cfg DeviceConfig) (*Device, error) {
	b := drv.Open(base, regs, opts)
	d, err := b.AddDevice(cfg)
	if err != nil {
		drv.Close(b)
		return nil, errors.Wrap(err, "AddDevice failed")
	}
	return d, nil
}

// Detach removes d from its bus and releases the bus reference.
func (drv *Driver) Detach(d *Device) {
	d.mu.Lock()
	b := d.bus
	d.mu.Unlock()
	if b == nil {
		return
	}

	b.RemoveDevice(d)
	drv.Close(b)
}
