package protocol

import (
	"time"

	"github.com/robodone/reprap-engine/internal/sendqueue"
)

// extendDeadline pushes the communication deadline out by d and
// resets the consecutive-timeout counter, called on every send/receive
// cycle (spec.md §4.L).
func (e *Engine) extendDeadline(d time.Duration) {
	e.timeoutMu.Lock()
	e.timeoutDeadline = time.Now().Add(d)
	e.timeoutConsecutive = 0
	e.timeoutMu.Unlock()
}

// extendDeadlineBy extends the deadline without resetting the
// consecutive counter (used by dwell commands, spec.md §4.L).
func (e *Engine) extendDeadlineBy(d time.Duration) {
	e.timeoutMu.Lock()
	e.timeoutDeadline = e.timeoutDeadline.Add(d)
	e.timeoutMu.Unlock()
}

// rescheduleDeadline pushes the deadline out to d from now, like
// extendDeadline, but leaves the consecutive-timeout counter alone:
// it is how onCommTimeout reschedules after counting a timeout, so
// the ladder in spec.md §4.L can actually climb instead of being
// cleared back to zero on every tick.
func (e *Engine) rescheduleDeadline(d time.Duration) {
	e.timeoutMu.Lock()
	e.timeoutDeadline = time.Now().Add(d)
	e.timeoutMu.Unlock()
}

func (e *Engine) timeoutLoop() {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			e.timeoutMu.Lock()
			expired := !e.timeoutDeadline.IsZero() && time.Now().After(e.timeoutDeadline)
			e.timeoutMu.Unlock()
			if expired {
				e.onCommTimeout()
			}
		}
	}
}

// onCommTimeout implements the timeout ladder (spec.md §4.L).
func (e *Engine) onCommTimeout() {
	st := e.State()
	longRunning := e.longRunning.Load()

	var max uint32
	switch {
	case longRunning:
		max = 5
	case st == Processing || st == Pausing || st == Cancelling:
		max = 10
	default:
		max = 15
	}

	e.timeoutMu.Lock()
	e.timeoutConsecutive++
	consecutive := e.timeoutConsecutive
	e.timeoutMu.Unlock()

	if consecutive > max {
		log.WithField("consecutive", consecutive).WithField("max", max).Error("giving up after repeated communication timeouts")
		if e.metrics != nil {
			e.metrics.TimeoutGiveUp()
		}
		e.setState(DisconnectedWithError)
		e.teardown()
		return
	}

	switch {
	case e.resendOutstanding():
		e.pushNextResendEntry(true)
		if e.metrics != nil {
			e.metrics.TimeoutResend()
		}
	case e.heating.Load():
		e.finishHeatup()
		if e.metrics != nil {
			e.metrics.TimeoutHeatup()
		}
	case longRunning:
		if e.metrics != nil {
			e.metrics.TimeoutLongRunning()
		}
	case st == Processing:
		f := e.currentFlavor()
		if f.Emit.GetTemp != nil {
			e.enqueueSend(f.Emit.GetTemp(), "temperature", sendqueue.TrackSend)
		}
		if e.metrics != nil {
			e.metrics.TimeoutPrinting()
		}
	default:
		if e.credit.Blocked() {
			e.credit.Set()
		}
		if e.metrics != nil {
			e.metrics.TimeoutIdle()
		}
	}
	e.rescheduleDeadline(e.opts.CommunicationTimeout)
}

func (e *Engine) finishHeatup() {
	e.heating.Store(false)
	e.stateMu.Lock()
	if !e.heatingStart.IsZero() {
		e.lostSeconds += time.Since(e.heatingStart).Seconds()
	}
	e.heatingStart = time.Time{}
	e.stateMu.Unlock()
}
