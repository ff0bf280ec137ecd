// Package phase implements the four-stage command pipeline
// (spec.md §4.G): queuing, queued, sending and sent. Handlers are
// registered explicitly per gcode name rather than discovered by
// reflection (spec.md §9 design note), with an optional catch-all
// that runs before the named handlers at every phase.
//
// Only the queuing phase may fan a single command out into several;
// the later phases operate on one command at a time and either pass
// it through unchanged, return a modified replacement, or drop it by
// returning nil (which skips the remaining hooks of that phase).
package phase

import (
	"fmt"

	"github.com/robodone/reprap-engine/internal/command"
	"github.com/robodone/reprap-engine/internal/logging"
)

var log = logging.For("phase")

// QueuingHook may expand one command into several (or zero, to drop
// it). It runs only at the queuing phase.
type QueuingHook func(cmd *command.Command) ([]*command.Command, error)

// Hook transforms a single command in place, used by the queued,
// sending and sent phases. Returning an error leaves the original
// command untouched; the failure is logged, not propagated.
type Hook func(cmd *command.Command) (*command.Command, error)

// key computes the dispatch key for a command: its gcode head
// (e.g. "G28") for gcode commands, its verb name otherwise.
func key(cmd *command.Command) string {
	if cmd.Kind() == command.KindGcode {
		return fmt.Sprintf("%c%d", cmd.Code(), cmd.Number())
	}
	return cmd.Name()
}

// Pipeline holds the registered hooks for all four phases.
type Pipeline struct {
	queuingNamed    map[string][]QueuingHook
	queuingCatchAll []QueuingHook

	queuedNamed    map[string][]Hook
	queuedCatchAll []Hook

	sendingNamed    map[string][]Hook
	sendingCatchAll []Hook

	sentNamed    map[string][]Hook
	sentCatchAll []Hook
}

// New creates an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{
		queuingNamed: make(map[string][]QueuingHook),
		queuedNamed:  make(map[string][]Hook),
		sendingNamed: make(map[string][]Hook),
		sentNamed:    make(map[string][]Hook),
	}
}

// RegisterQueuing adds a fan-out hook for the given gcode name (e.g. "G28").
func (p *Pipeline) RegisterQueuing(name string, hook QueuingHook) {
	p.queuingNamed[name] = append(p.queuingNamed[name], hook)
}

// RegisterQueuingCatchAll adds a fan-out hook that runs for every command.
func (p *Pipeline) RegisterQueuingCatchAll(hook QueuingHook) {
	p.queuingCatchAll = append(p.queuingCatchAll, hook)
}

// RegisterQueued adds a transform hook at the queued phase.
func (p *Pipeline) RegisterQueued(name string, hook Hook) {
	p.queuedNamed[name] = append(p.queuedNamed[name], hook)
}

// RegisterQueuedCatchAll adds a transform hook that runs for every command
// at the queued phase.
func (p *Pipeline) RegisterQueuedCatchAll(hook Hook) {
	p.queuedCatchAll = append(p.queuedCatchAll, hook)
}

// RegisterSending adds a transform hook at the sending phase.
func (p *Pipeline) RegisterSending(name string, hook Hook) {
	p.sendingNamed[name] = append(p.sendingNamed[name], hook)
}

// RegisterSendingCatchAll adds a transform hook that runs for every command
// at the sending phase.
func (p *Pipeline) RegisterSendingCatchAll(hook Hook) {
	p.sendingCatchAll = append(p.sendingCatchAll, hook)
}

// RegisterSent adds a transform hook at the sent phase.
func (p *Pipeline) RegisterSent(name string, hook Hook) {
	p.sentNamed[name] = append(p.sentNamed[name], hook)
}

// RegisterSentCatchAll adds a transform hook that runs for every command
// at the sent phase.
func (p *Pipeline) RegisterSentCatchAll(hook Hook) {
	p.sentCatchAll = append(p.sentCatchAll, hook)
}

// RunQueuing runs every registered queuing hook against cmd, catch-all
// first, allowing each to fan the command stream out. A hook that
// errors is logged and its input command passes through unexpanded.
func (p *Pipeline) RunQueuing(cmd *command.Command) []*command.Command {
	current := []*command.Command{cmd}
	run := func(hooks []QueuingHook) {
		for _, hook := range hooks {
			var next []*command.Command
			for _, c := range current {
				out, err := hook(c)
				if err != nil {
					log.WithError(err).WithField("command", c.Raw()).Warn("queuing hook failed, passing through")
					next = append(next, c)
					continue
				}
				next = append(next, out...)
			}
			current = next
		}
	}
	run(p.queuingCatchAll)
	run(p.queuingNamed[key(cmd)])
	return current
}

func runSingle(cmd *command.Command, catchAll, named []Hook, phaseName string) *command.Command {
	apply := func(hooks []Hook) {
		for _, hook := range hooks {
			if cmd == nil {
				return
			}
			out, err := hook(cmd)
			if err != nil {
				log.WithError(err).WithField("command", cmd.Raw()).Warnf("%s hook failed, passing through", phaseName)
				continue
			}
			cmd = out
		}
	}
	apply(catchAll)
	apply(named)
	return cmd
}

// RunQueued runs the queued-phase hooks and returns the (possibly
// replaced) command.
func (p *Pipeline) RunQueued(cmd *command.Command) *command.Command {
	return runSingle(cmd, p.queuedCatchAll, p.queuedNamed[key(cmd)], "queued")
}

// RunSending runs the sending-phase hooks and returns the (possibly
// replaced) command.
func (p *Pipeline) RunSending(cmd *command.Command) *command.Command {
	return runSingle(cmd, p.sendingCatchAll, p.sendingNamed[key(cmd)], "sending")
}

// RunSent runs the sent-phase hooks and returns the (possibly
// replaced) command.
func (p *Pipeline) RunSent(cmd *command.Command) *command.Command {
	return runSingle(cmd, p.sentCatchAll, p.sentNamed[key(cmd)], "sent")
}
