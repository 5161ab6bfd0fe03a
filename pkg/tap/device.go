// Package tap exposes the adapter to the local network stack through a
// TAP interface.
package tap

import (
	"net"
	"os"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Device is an open TAP interface.
type Device struct {
	file *os.File
	link netlink.Link
}

// Open creates or attaches to the TAP interface name.
func Open(name string) (*Device, error) {
	fd, err := unix.Open("/dev/net/tun", os.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open /dev/net/tun failed")
	}

	if err = tunSetIff(fd, name); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "attach tap %s failed", name)
	}

	// non-blocking fds go through the runtime poller, Close unblocks Read
	d := &Device{file: os.NewFile(uintptr(fd), name)}
	d.link, err = netlink.LinkByName(name)
	if err != nil {
		d.file.Close()
		return nil, errors.Wrapf(err, "netlink.LinkByName(%s) failed", name)
	}
	return d, nil
}

func (d *Device) Name() string {
	return d.link.Attrs().Name
}

func (d *Device) Read(b []byte) (int, error) {
	return d.file.Read(b)
}

func (d *Device) Write(b []byte) (int, error) {
	return d.file.Write(b)
}

// SetLinkState brings the interface up or down.
func (d *Device) SetLinkState(up bool) error {
	if up {
		return errors.Wrap(netlink.LinkSetUp(d.link), "netlink.LinkSetUp failed")
	}
	return errors.Wrap(netlink.LinkSetDown(d.link), "netlink.LinkSetDown failed")
}

// SetHardwareAddr gives the interface the adapter's station address.
func (d *Device) SetHardwareAddr(addr net.HardwareAddr) error {
	return errors.Wrap(netlink.LinkSetHardwareAddr(d.link, addr), "netlink.LinkSetHardwareAddr failed")
}

func (d *Device) SetMTU(mtu int) error {
	return errors.Wrap(netlink.LinkSetMTU(d.link, mtu), "netlink.LinkSetMTU failed")
}

func (d *Device) Close() error {
	return d.file.Close()
}
