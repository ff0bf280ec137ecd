package protocol

import (
	"fmt"
	"time"

	"github.com/robodone/reprap-engine/gcode"
	"github.com/robodone/reprap-engine/internal/command"
	"github.com/robodone/reprap-engine/internal/job"
	"github.com/robodone/reprap-engine/internal/sendqueue"
)

func checksumLine(n uint64, line string) string {
	return fmt.Sprintf("%s\n", gcode.AddLineAndHash(n, line))
}

// writeChecksummedLocked appends line to history and writes it
// checksummed against lineNumber. Callers must hold lineMu.
func (e *Engine) writeChecksummedLocked(lineNumber uint64, line string) {
	e.history.Append(lineNumber, line)
	e.transport.Write([]byte(checksumLine(lineNumber, line)))
}

// writeResendLine re-emits bytes already in history, byte-identical,
// with no line-counter change and no history update (spec.md §4.I
// step 4).
func (e *Engine) writeResendLine(lineNumber uint64, line string) {
	e.transport.Write([]byte(checksumLine(lineNumber, line)))
}

func (e *Engine) enqueueSend(cmd *command.Command, itemType string, track sendqueue.Track) error {
	return e.sendQ.Put(&sendqueue.Entry{Command: cmd}, itemType, track)
}

// sendLoop is the dedicated cooperative sending task (spec.md §4.I).
func (e *Engine) sendLoop() {
	for {
		if !e.credit.Wait() {
			return
		}
		select {
		case <-e.closed:
			return
		default:
		}
		entry, ok := e.sendQ.Get()
		if !ok {
			return
		}
		e.processSendEntry(entry)
	}
}

func (e *Engine) processSendEntry(entry *sendqueue.Entry) {
	if entry.LineNumber != nil {
		bytes, err := e.history.Get(*entry.LineNumber)
		if err != nil {
			log.WithError(err).WithField("line", *entry.LineNumber).Error("resend: line not in history")
			return
		}
		e.writeResendLine(*entry.LineNumber, bytes)
		if e.metrics != nil {
			e.metrics.LineSent()
		}
		if entry.OnSent != nil {
			entry.OnSent()
		}
		return
	}

	cmd := entry.Command
	if !entry.Processed {
		cmd = e.phases.RunSending(cmd)
	}
	if cmd == nil {
		// Dropped by the sending phase: nothing goes out, so no ok will
		// ever arrive to repay the credit Wait() spent dequeuing this
		// entry. Refund it, the same as a non-ack-consuming send below.
		e.credit.Set()
		e.kickContinueSending()
		return
	}
	line := cmd.Raw()
	if line == "" {
		e.credit.Set()
		e.kickContinueSending()
		return
	}
	if cmd.Kind() == command.KindAtCommand {
		e.phases.RunSent(cmd)
		e.credit.Set()
		e.kickContinueSending()
		return
	}

	f := e.currentFlavor()
	requiresChecksum := cmd.Kind() == command.KindGcode && f.RequiresChecksum(cmd.GcodeName())
	allowsChecksum := cmd.Kind() == command.KindGcode || f.UnknownWithChecksum
	enabled := f.AlwaysSendChecksum || (e.State() == Processing && !f.NeverSendChecksum)
	sendWithChecksum := requiresChecksum || (allowsChecksum && enabled)
	if e.transport.MessageIntegrity() {
		sendWithChecksum = false
	}

	if sendWithChecksum {
		e.lineMu.Lock()
		n := e.currentLine
		e.writeChecksummedLocked(n, line)
		e.currentLine++
		e.lineMu.Unlock()
	} else {
		e.transport.Write([]byte(line + "\n"))
	}
	if e.metrics != nil {
		e.metrics.LineSent()
	}

	cmd = e.phases.RunSent(cmd)
	if entry.OnSent != nil {
		entry.OnSent()
	}
	e.extendDeadline(e.opts.CommunicationTimeout)

	consumesCredit := cmd.Kind() == command.KindGcode || f.UnknownRequiresAck
	if !consumesCredit {
		// This command will draw no "ok", so the credit Wait() consumed
		// to dequeue it was not really spent; refund it and carry on
		// instead of stalling on a reply that will never arrive.
		e.credit.Set()
		e.kickContinueSending()
	}
}

// kickContinueSending runs the "continue sending" routine
// asynchronously so receive-side callers (the ok handler, in
// particular) never block on it.
func (e *Engine) kickContinueSending() {
	go e.continueSending()
}

func (e *Engine) continueSending() {
	for {
		select {
		case <-e.closed:
			return
		default:
		}
		if e.State() != Processing {
			e.tryCommandQueueOnce()
			return
		}
		e.jobMu.Lock()
		j := e.job
		e.jobMu.Unlock()

		_, sdJob := j.(*job.SDFileJob)
		if j == nil || sdJob {
			e.tryCommandQueueOnce()
			return
		}
		if e.tryCommandQueueOnce() {
			return
		}
		if e.tryNextJobLine(j) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (e *Engine) tryCommandQueueOnce() bool {
	entry, ok := e.cmdQ.Pop()
	if !ok {
		return false
	}
	e.admit(entry.Command, entry.OnSent)
	return true
}

func (e *Engine) tryNextJobLine(j job.Job) bool {
	line, ok := j.GetNext()
	if !ok {
		e.finish()
		return true
	}
	cmd := command.ToCommand(line, "", []string{"source:job"})
	e.admit(cmd, nil)
	if e.listener != nil {
		e.listener.OnProtocolLog(fmt.Sprintf("job line %d/%d", j.ReadLines(), j.ActualLines()))
	}
	return true
}

// admit runs the queuing and queued phases and enqueues whatever
// survives onto the send track.
func (e *Engine) admit(cmd *command.Command, onSent func()) {
	for _, c := range e.phases.RunQueuing(cmd) {
		if c == nil {
			continue
		}
		c = e.phases.RunQueued(c)
		if c == nil {
			continue
		}
		e.sendQ.Put(&sendqueue.Entry{Command: c, OnSent: onSent}, c.Type(), sendqueue.TrackSend)
	}
}
