package tap

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const ifreqSize = 40

// ifreqFlags is a struct ifreq carrying the ifr_flags member of its union.
type ifreqFlags struct {
	name  [unix.IFNAMSIZ]byte
	flags uint16
	_     [ifreqSize - unix.IFNAMSIZ - 2]byte
}

func newIfreqFlags(name string, flags uint16) (*ifreqFlags, error) {
	r := &ifreqFlags{flags: flags}
	// the kernel expects a NUL terminated name
	if name == "" || len(name) >= len(r.name) {
		return nil, errors.Errorf("bad interface name %q", name)
	}
	copy(r.name[:], name)
	return r, nil
}

// tunSetIff binds fd to the TAP interface name, creating it if needed.
func tunSetIff(fd int, name string) error {
	r, err := newIfreqFlags(name, unix.IFF_TAP|unix.IFF_NO_PI)
	if err != nil {
		return err
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.TUNSETIFF, uintptr(unsafe.Pointer(r)))
	if errno != 0 {
		return os.NewSyscallError("ioctl TUNSETIFF", errno)
	}
	return nil
}
