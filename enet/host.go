package enet

import (
	"fmt"
	"net"
	"time"

	"enetCore/pkg/mmio"
)

type LinkState int

const (
	LinkStateUnknown LinkState = iota
	LinkStateConnected
	LinkStateDisconnected
)

func (s LinkState) String() string {
	switch s {
	case LinkStateConnected:
		return "connected"
	case LinkStateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type Duplex int

const (
	DuplexUnknown Duplex = iota
	DuplexHalf
	DuplexFull
)

func (d Duplex) String() string {
	switch d {
	case DuplexHalf:
		return "half"
	case DuplexFull:
		return "full"
	default:
		return "unknown"
	}
}

// LinkStatus is what the PHY reports. SpeedMbps is 0 when unknown.
type LinkStatus struct {
	State     LinkState
	SpeedMbps int
	Duplex    Duplex
}

func (s LinkStatus) String() string {
	if s.State != LinkStateConnected {
		return s.State.String()
	}
	return fmt.Sprintf("%d Mbps %s duplex", s.SpeedMbps, s.Duplex)
}

// LinkPoller reports the last known link status. It is called once per
// state machine tick and must not block.
type LinkPoller interface {
	PollLink() LinkStatus
}

// FrameClass classifies a received frame.
type FrameClass int

const (
	FrameGood FrameClass = iota
	FrameTruncated
	FrameOverrun
	FrameAlignment
	FrameCRC
	FrameTooLong
)

func (c FrameClass) String() string {
	switch c {
	case FrameGood:
		return "good"
	case FrameTruncated:
		return "truncated"
	case FrameOverrun:
		return "overrun"
	case FrameAlignment:
		return "alignment"
	case FrameCRC:
		return "crc"
	case FrameTooLong:
		return "too long"
	default:
		return "unknown"
	}
}

// Frame is a received frame handed to the host. Data aliases the receive
// buffer. Unless Sync is set the host owns the buffer until it calls
// Adapter.ReturnBuffer(Handle); a Sync frame is only valid during the
// DeliverFrame call and must not be returned.
type Frame struct {
	Handle int
	Data   []byte
	Class  FrameClass
	Sync   bool
}

// Packet is a frame to transmit. Data is copied into a descriptor buffer
// once the packet reaches the ring; the caller must leave it untouched
// until SendComplete.
type Packet struct {
	Data     []byte
	CancelID uint64
	Context  interface{}
}

// Host receives everything the adapter reports upwards. Calls are made
// without adapter locks held and may call back into the adapter.
type Host interface {
	DeliverFrame(f Frame)
	IndicateLinkState(s LinkStatus)
	SendComplete(p *Packet, err error)
	PauseComplete()
	ResetComplete()
}

// Scheduler runs the state machine dispatcher once after each Arm.
// Arming again replaces the previous schedule.
type Scheduler interface {
	Arm(d time.Duration)
	Stop() bool
}

// Resources is what the platform hands to a new adapter.
type Resources struct {
	Registers        mmio.Registers
	PermanentAddress net.HardwareAddr
	Poller           LinkPoller
	Host             Host

	// NewScheduler builds the dispatcher timer. Nil uses timer.OneShot.
	NewScheduler func(fn func()) Scheduler

	// ArenaBusBase is the device address of the DMA arena.
	ArenaBusBase uint32

	// InlineDPC runs the deferred interrupt work inside ISR instead of on
	// the adapter's DPC goroutine.
	InlineDPC bool
}
