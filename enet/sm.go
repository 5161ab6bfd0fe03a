package enet

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Status is the immediate answer to a lifecycle call.
type Status int

const (
	StatusSuccess Status = iota
	// StatusPending: completion is reported later through Host.
	StatusPending
)

func (s Status) String() string {
	if s == StatusPending {
		return "pending"
	}
	return "success"
}

type stateMachine struct {
	mu       sync.Mutex
	current  State
	next     State
	previous State

	pausePending bool
	resetPending bool
	// resetFrom is the state a pending reset returns to.
	resetFrom State
}

// requestState records next and re-arms the dispatcher. A dispatcher
// request loses against a host request it has not seen yet.
func (a *Adapter) requestState(next State, delay time.Duration, by Requester) error {
	a.sm.mu.Lock()
	defer a.sm.mu.Unlock()

	if by == ByDispatcher && a.sm.next != a.sm.current {
		return errors.Wrapf(ErrInvalidState, "%s requested while %s is pending", next, a.sm.next)
	}
	a.sm.next = next

	if delay == Immediately {
		delay = 0
	}
	a.sched.Arm(delay)
	return nil
}

// State returns the state the dispatcher last entered.
func (a *Adapter) State() State {
	a.sm.mu.Lock()
	defer a.sm.mu.Unlock()
	return a.sm.current
}

// dispatch runs once per scheduler expiry and enters the requested state.
func (a *Adapter) dispatch() {
	a.dispatchMu.Lock()
	defer a.dispatchMu.Unlock()

	a.sm.mu.Lock()
	prev, next := a.sm.current, a.sm.next
	if prev == StateHalted || prev == StateShutdown {
		a.sm.mu.Unlock()
		return
	}
	a.sm.previous = prev
	a.sm.current = next
	f := facts{
		Previous:     prev,
		Entering:     next,
		PausePending: a.sm.pausePending,
		ResetPending: a.sm.resetPending,
		ResetFrom:    a.sm.resetFrom,
	}
	a.sm.mu.Unlock()

	if prev != next {
		a.log.Debugf("state %s -> %s", prev, next)
	}

	if next != StateHalted {
		status := a.poller.PollLink()
		if next == StateRunning {
			f.LinkChanged = a.updateLink(status)
		}
	}
	f.Link = a.LinkStatus().State

	if prev == StatePausing && next == StatePausing {
		done, busy := a.tx.drain()
		a.completeSends(done)
		f.TxBusy = busy
	}
	f.RxHeld = a.rx.held() > 0

	if next != StateHalted {
		a.rx.replenish()
	}

	a.apply(f, transition(f))
}

// apply carries out a step in a fixed order: bookkeeping, engine, host
// notifications, then the follow-up request.
func (a *Adapter) apply(f facts, s step) {
	if s.Fatal != nil {
		a.fatal(s.Fatal)
		return
	}

	if s.Actions.has(actClearPause) {
		a.sm.mu.Lock()
		a.sm.pausePending = false
		a.sm.mu.Unlock()
	}
	if s.Actions.has(actClearReset) {
		a.sm.mu.Lock()
		a.sm.resetPending = false
		a.sm.resetFrom = StatePaused
		a.sm.mu.Unlock()
	}
	if s.Actions.has(actStopEngine) {
		a.stopEngine(s.StopReason)
	}
	if s.Actions.has(actCancelTx) {
		done, inFlight := a.tx.cancelAll()
		a.completeSends(done)
		if inFlight {
			a.log.Debug("waiting for in-flight transmits")
		}
	}
	if s.Actions.has(actStartEngine) {
		a.startEngine()
	}
	if s.Actions.has(actIndicateLink) {
		link := a.LinkStatus()
		a.log.Infof("link %s", link)
		a.host.IndicateLinkState(link)
	}
	if s.Actions.has(actResetComplete) {
		a.log.Info("reset complete")
		a.host.ResetComplete()
	}
	if s.Actions.has(actPauseComplete) {
		a.log.Debug("pause complete")
		a.host.PauseComplete()
	}
	if s.Actions.has(actSignalHalt) {
		select {
		case a.haltCh <- struct{}{}:
		default:
		}
	}

	if s.Request {
		if err := a.requestState(s.Next, s.Delay, ByDispatcher); err != nil {
			a.log.Debugf("dispatcher request dropped: %v", err)
		}
	}
}

func (a *Adapter) fatalTransition(err error) {
	a.log.WithError(err).Panic("state machine invariant violated")
}

// Pause stops the engine and cancels pending sends. Host.PauseComplete is
// called once every in-flight frame finished and every receive buffer came
// back.
func (a *Adapter) Pause() Status {
	a.log.Debug("pause requested")
	a.sm.mu.Lock()
	a.sm.pausePending = true
	a.sm.mu.Unlock()
	_ = a.requestState(StatePausing, Immediately, ByHost)
	return StatusPending
}

// Restart resumes from PAUSED. The engine starts on the first tick that
// sees the link up.
func (a *Adapter) Restart() Status {
	a.log.Debug("restart requested")
	a.sm.mu.Lock()
	a.sm.pausePending = false
	a.sm.mu.Unlock()
	_ = a.requestState(StateRunning, Immediately, ByHost)
	return StatusSuccess
}

// Reset cycles the adapter through a pause and back into the state it was
// in. Host.ResetComplete reports the end of the cycle. A Pause issued
// before the cycle ends keeps the adapter PAUSED and is completed too.
func (a *Adapter) Reset() (Status, error) {
	a.sm.mu.Lock()
	if a.sm.resetPending {
		a.sm.mu.Unlock()
		return StatusSuccess, errors.WithStack(ErrResetInProgress)
	}
	a.sm.resetPending = true
	// the latest request, host or dispatcher, is where the adapter was headed
	a.sm.resetFrom = a.sm.next
	a.sm.mu.Unlock()

	a.log.Info("reset requested")
	_ = a.requestState(StateReset, Immediately, ByHost)
	return StatusPending, nil
}

// Halt stops the hardware for good and releases the DMA arena. The adapter
// must be paused. If the dispatcher does not confirm within HaltTimeout
// the adapter is left allocated and ErrHaltTimeout is returned.
func (a *Adapter) Halt() error {
	a.sm.mu.Lock()
	if a.sm.current != StatePaused || a.sm.next != StatePaused {
		cur := a.sm.current
		a.sm.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "halt while %s", cur)
	}
	a.sm.mu.Unlock()

	_ = a.requestState(StateHalted, Immediately, ByHost)

	t := time.NewTimer(HaltTimeout)
	defer t.Stop()
	select {
	case <-a.haltCh:
	case <-t.C:
		a.log.Error("halt timed out, adapter memory is not released")
		return errors.WithStack(ErrHaltTimeout)
	}

	a.sm.mu.Lock()
	a.sm.current = StateShutdown
	a.sm.next = StateShutdown
	a.sm.mu.Unlock()

	a.sched.Stop()
	// wait out the dispatch that signalled us
	a.dispatchMu.Lock()
	a.dispatchMu.Unlock()
	a.stopDPC()

	if err := a.arena.Close(); err != nil {
		return errors.Wrap(err, "arena.Close failed")
	}
	a.log.Info("adapter halted")
	return nil
}
