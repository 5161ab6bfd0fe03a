package mdio

import "github.com/pkg/errors"

var (
	ErrAddressConflict    = errors.New("phy address already used on this bus")
	ErrNoFreeFrames       = errors.New("no free mdio frames")
	ErrTransferTimeout    = errors.New("mdio transfer timed out")
	ErrClockOutOfRange    = errors.New("mdc clock out of range")
	ErrHoldTimeOutOfRange = errors.New("mdio hold time out of range")
	ErrDetached           = errors.New("mdio device is not attached to a bus")
	ErrBusClosed          = errors.New("mdio bus closed")
)
