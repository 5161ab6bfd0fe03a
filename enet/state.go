package enet

import (
	"time"

	"github.com/pkg/errors"
)

type State int

const (
	StatePaused State = iota
	StateRunning
	StatePausing
	StateReset
	StateHalted
	StateShutdown
	StateError
)

func (s State) String() string {
	switch s {
	case StatePaused:
		return "PAUSED"
	case StateRunning:
		return "RUNNING"
	case StatePausing:
		return "PAUSING"
	case StateReset:
		return "RESET"
	case StateHalted:
		return "HALTED"
	case StateShutdown:
		return "SHUTDOWN"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Requester tells who asked for a state change.
type Requester int

const (
	ByHost Requester = iota
	ByDispatcher
)

const (
	// Immediately runs the dispatcher as soon as possible.
	Immediately time.Duration = -1

	SampleDelay      = 100 * time.Millisecond
	NormalDelay      = 1000 * time.Millisecond
	CableCheckPeriod = 1000 * time.Millisecond
	HaltTimeout      = 2000 * time.Millisecond
)

type action uint16

const (
	actClearPause action = 1 << iota
	actClearReset
	actStopEngine
	actCancelTx
	actStartEngine
	actIndicateLink
	actResetComplete
	actPauseComplete
	actSignalHalt
)

func (a action) has(b action) bool {
	return a&b != 0
}

// facts is what the dispatcher observed before running a handler.
type facts struct {
	Previous State
	Entering State

	Link        LinkState
	LinkChanged bool

	// TxBusy: the last drain cancelled packets or frames are still on
	// the wire.
	TxBusy bool
	// RxHeld: the host still holds receive buffers.
	RxHeld bool

	// PausePending: the host asked for a pause that has not completed.
	PausePending bool
	ResetPending bool
	ResetFrom    State
}

// step is the outcome of one dispatch.
type step struct {
	Actions    action
	StopReason error

	Request bool
	Next    State
	Delay   time.Duration

	Fatal error
}

func (s *step) request(next State, delay time.Duration) {
	s.Request = true
	s.Next = next
	s.Delay = delay
}

func unexpected(f facts) error {
	return errors.Wrapf(ErrUnexpectedTransition, "%s: unexpected previous state %s", f.Entering, f.Previous)
}

// transition decides what entering f.Entering from f.Previous does.
func transition(f facts) step {
	var s step

	switch f.Entering {
	case StateRunning:
		switch f.Previous {
		case StatePaused:
			if f.Link == LinkStateConnected {
				s.Actions |= actStartEngine
				if f.LinkChanged {
					s.Actions |= actIndicateLink
				}
			}
		case StateRunning:
			if f.LinkChanged {
				if f.Link == LinkStateConnected {
					s.Actions |= actStartEngine | actIndicateLink
				} else {
					s.Actions |= actStopEngine | actCancelTx | actIndicateLink
					s.StopReason = ErrMediaDisconnected
				}
			}
		default:
			s.Fatal = unexpected(f)
			return s
		}

		if f.Link == LinkStateConnected {
			s.request(StateRunning, NormalDelay)
		} else {
			s.request(StateRunning, CableCheckPeriod)
		}

	case StatePausing:
		switch f.Previous {
		case StateRunning, StatePaused:
			s.Actions |= actStopEngine | actCancelTx
			s.StopReason = ErrPaused
			s.request(StatePausing, SampleDelay)
		case StateReset:
			s.Actions |= actStopEngine | actCancelTx
			s.StopReason = ErrAborted
			s.request(StatePausing, SampleDelay)
		case StatePausing:
			if f.TxBusy || f.RxHeld {
				s.request(StatePausing, SampleDelay)
			} else {
				s.request(StatePaused, Immediately)
			}
		default:
			s.Fatal = unexpected(f)
		}

	case StatePaused:
		if f.Previous != StatePausing {
			s.Fatal = unexpected(f)
			return s
		}
		if f.PausePending {
			s.Actions |= actClearPause
		}
		if !f.ResetPending {
			s.Actions |= actPauseComplete
			return s
		}

		s.Actions |= actClearReset | actResetComplete
		// a host pause overrides the state the reset would return to
		if f.PausePending {
			s.Actions |= actPauseComplete
			return s
		}
		if f.ResetFrom == StateRunning && f.Link == LinkStateConnected {
			s.Actions |= actStartEngine
		}
		// a reset taken while paused leaves the adapter paused
		if f.ResetFrom != StatePaused {
			s.request(f.ResetFrom, Immediately)
		}

	case StateReset:
		s.request(StatePausing, Immediately)

	case StateHalted:
		if f.Previous != StatePaused {
			s.Fatal = unexpected(f)
			return s
		}
		s.Actions |= actStopEngine | actSignalHalt
		s.StopReason = ErrAborted

	case StateShutdown, StateError:
		// no handler

	default:
		s.Fatal = unexpected(f)
	}

	return s
}
