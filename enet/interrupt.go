package enet

import "sync/atomic"

// ISR is called for every interrupt on the adapter's line. It reports
// false when the interrupt was not ours.
func (a *Adapter) ISR() bool {
	if a.regs.Read32(regEIMR) == 0 {
		atomic.AddUint64(&a.ints.spurious, 1)
		return false
	}
	a.regs.Write32(regEIMR, 0)
	atomic.AddUint64(&a.ints.interrupts, 1)
	a.queueDPC()
	return true
}

func (a *Adapter) queueDPC() {
	if a.inlineDPC {
		a.runDPC()
		return
	}
	select {
	case a.dpcCh <- struct{}{}:
	default:
	}
}

func (a *Adapter) runDPC() {
	a.dpcMu.Lock()
	defer a.dpcMu.Unlock()
	for a.dpc() {
	}
}

func (a *Adapter) dpcLoop() {
	defer close(a.dpcDone)
	for {
		select {
		case <-a.dpcStop:
			return
		case <-a.dpcCh:
			a.runDPC()
		}
	}
}

func (a *Adapter) stopDPC() {
	if a.inlineDPC {
		a.dpcMu.Lock()
		a.dpcMu.Unlock()
		return
	}
	a.stopOnce.Do(func() {
		close(a.dpcStop)
	})
	<-a.dpcDone
}

// dpc services the causes latched in EIR. It returns true when the receive
// budget ran out and another pass is needed before interrupts are
// unmasked.
func (a *Adapter) dpc() bool {
	events := a.regs.Read32(regEIR) & intDPC
	// EIR is write-one-to-clear: only the causes handled below are acked
	a.regs.Write32(regEIR, events)
	events |= a.savedEvents
	a.savedEvents = 0
	atomic.AddUint64(&a.ints.dpcs, 1)

	if events&eirEBERR != 0 {
		atomic.AddUint64(&a.ints.busErrors, 1)
		a.log.Errorf("ethernet bus error (EIR %#08x), interrupts stay masked", events)
		return false
	}

	if events&intTx != 0 {
		a.completeSends(a.tx.reap(events))
	}

	if events&eirGRA != 0 {
		a.regs.Write32(regTDAR, darActive)
	}

	if events&intRx != 0 && a.receive(a.cfg.MaxRxPerDPC) {
		a.savedEvents |= intRx
		return true
	}

	a.devMu.Lock()
	if a.started {
		a.regs.Write32(regEIMR, a.regs.Read32(regEIMR)|intRxTx)
	}
	a.devMu.Unlock()
	return false
}

// receive hands up to budget frames to the host. It reports true when the
// budget was used up.
func (a *Adapter) receive(budget int) bool {
	for n := 0; n < budget; n++ {
		res, ok := a.rx.next()
		if !ok {
			return false
		}
		if res.pause {
			a.sendPauseFrame()
		}
		if !res.deliver {
			continue
		}
		a.host.DeliverFrame(res.frame)
		if res.frame.Sync {
			a.rx.rearm(res.frame.Handle)
		}
	}
	return true
}

func (a *Adapter) sendPauseFrame() {
	a.devMu.Lock()
	defer a.devMu.Unlock()
	if a.started {
		a.regs.Write32(regTCR, a.regs.Read32(regTCR)|tcrTFCPause)
	}
}
