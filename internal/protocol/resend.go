package protocol

import (
	"fmt"

	"github.com/robodone/reprap-engine/internal/command"
	"github.com/robodone/reprap-engine/internal/sendqueue"
)

// onResendRequested handles a firmware "Resend: N" line (spec.md
// §4.H "resend(N)").
func (e *Engine) onResendRequested(n uint64) {
	e.resendMu.Lock()
	active := e.resend.active
	requested := e.resend.requested
	lastErr := e.resend.lastError
	count := e.resend.count
	e.resendMu.Unlock()

	cur := e.CurrentLine()
	if n == cur && !active {
		// The previous line was already acked; this is a stale duplicate.
		return
	}
	if lastErr == "linenumber" && active && n == requested && cur > n+1 && count < cur-n-1 {
		e.resendMu.Lock()
		e.resend.count++
		e.resendMu.Unlock()
		return
	}
	if !e.history.Contains(n) {
		log.WithField("line", n).Error("resend requested for a line not in history")
		if e.State() == Processing {
			e.cancelWithError(fmt.Errorf("protocol: resend requested for unknown line %d", n))
		}
		return
	}

	e.resendMu.Lock()
	e.resend.requested = n
	e.resend.nextToResend = n
	e.resend.count = 0
	e.resend.active = true
	e.resendMu.Unlock()
	e.sendQ.SetResendActive(true)
	if e.metrics != nil {
		e.metrics.ResendHonored()
	}
	e.pushNextResendEntry(false)
}

// resendOutstanding reports whether a resend window is open.
func (e *Engine) resendOutstanding() bool {
	e.resendMu.Lock()
	defer e.resendMu.Unlock()
	return e.resend.active
}

// pushNextResendEntry implements next_from_resend (spec.md §4.K): it
// enqueues exactly one more resend entry and advances the cursor.
// again=true re-sends the most recently enqueued line, driven by a
// timeout mid-resend.
func (e *Engine) pushNextResendEntry(again bool) {
	e.resendMu.Lock()
	if !e.resend.active {
		e.resendMu.Unlock()
		return
	}
	if again {
		if e.resend.nextToResend == 0 {
			e.resend.nextToResend = e.CurrentLine()
		} else {
			e.resend.nextToResend--
		}
	}
	n := e.resend.nextToResend
	e.resendMu.Unlock()

	bytes, err := e.history.Get(n)
	if err != nil {
		log.WithError(err).WithField("line", n).Error("resend: line no longer in history, aborting")
		e.abortResend()
		return
	}
	e.sendQ.Put(&sendqueue.Entry{
		Command:    command.NewGeneric(bytes, "", nil),
		LineNumber: &n,
		Processed:  true,
	}, "", sendqueue.TrackResend)

	e.resendMu.Lock()
	e.resend.nextToResend++
	done := e.resend.nextToResend >= e.CurrentLine()
	if done {
		e.resend.active = false
	}
	e.resendMu.Unlock()
	if done {
		e.sendQ.SetResendActive(false)
	}
}

func (e *Engine) abortResend() {
	e.resendMu.Lock()
	e.resend.active = false
	e.resendMu.Unlock()
	e.sendQ.SetResendActive(false)
}

func (e *Engine) recordLastError(kind string) {
	e.resendMu.Lock()
	e.resend.lastError = kind
	e.resendMu.Unlock()
}

func (e *Engine) cancelWithError(err error) {
	log.WithError(err).Error("cancelling job after unrecoverable communication error")
	_ = e.Cancel()
}
