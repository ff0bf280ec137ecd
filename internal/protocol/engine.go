package protocol

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robodone/reprap-engine/internal/command"
	"github.com/robodone/reprap-engine/internal/credit"
	"github.com/robodone/reprap-engine/internal/flavor"
	"github.com/robodone/reprap-engine/internal/job"
	"github.com/robodone/reprap-engine/internal/linehistory"
	"github.com/robodone/reprap-engine/internal/logging"
	"github.com/robodone/reprap-engine/internal/metrics"
	"github.com/robodone/reprap-engine/internal/phase"
	"github.com/robodone/reprap-engine/internal/sendqueue"
	"github.com/robodone/reprap-engine/internal/transport"
)

var log = logging.For("protocol")

// Options configures a new Engine. Zero values fall back to the
// defaults named in spec.md §4.
type Options struct {
	ConnectionTimeout    time.Duration
	CommunicationTimeout time.Duration
	CreditMax            int
	HistoryCapacity      int
	Metrics              *metrics.Set
}

func (o Options) withDefaults() Options {
	if o.ConnectionTimeout <= 0 {
		o.ConnectionTimeout = 30 * time.Second
	}
	if o.CommunicationTimeout <= 0 {
		o.CommunicationTimeout = 10 * time.Second
	}
	if o.CreditMax <= 0 {
		o.CreditMax = credit.DefaultMax
	}
	if o.HistoryCapacity <= 0 {
		o.HistoryCapacity = linehistory.DefaultCapacity
	}
	return o
}

type resendContext struct {
	requested    uint64
	hasRequested bool
	nextToResend uint64
	count        uint64
	active       bool
	lastError    string
}

type firmwareState struct {
	identified   bool
	name         string
	info         map[string]string
	capabilities map[string]bool
}

type sdState struct {
	available     bool
	listingActive bool
	scratch       []SDEntry
	files         []SDEntry
	autoreport    bool
}

// Engine is the protocol state machine and send/receive
// reconciliation coordinator (spec.md §1 "the core").
type Engine struct {
	opts      Options
	transport transport.Transport
	registry  *flavor.Registry
	phases    *phase.Pipeline
	listener  Listener
	metrics   *metrics.Set

	mu    sync.Mutex
	state State

	flavorMu sync.Mutex
	active   *flavor.Flavor

	lineMu      sync.Mutex
	currentLine uint64
	history     *linehistory.History

	resendMu sync.Mutex
	resend   resendContext

	credit *credit.Credit
	sendQ  *sendqueue.SendQueue
	cmdQ   *sendqueue.CommandQueue

	// published core, per spec.md §9 "small published core"
	longRunning  atomic.Bool
	heating      atomic.Bool
	onlyFromJob  atomic.Bool
	triggerEvts  atomic.Bool

	stateMu      sync.Mutex
	temperatures map[string]Temperature
	currentTool  string
	formerTool   string
	hasFormerTool bool
	heatingStart time.Time
	lostSeconds  float64
	firmware     firmwareState
	sd           sdState
	ignoreOK     uint32

	timeoutMu          sync.Mutex
	timeoutDeadline    time.Time
	timeoutConsecutive uint32

	job      job.Job
	jobMu    sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds an Engine around t, ready to Connect. generic is the
// root flavor; other registered flavors are offered to firmware
// identification (spec.md §4.F).
func New(t transport.Transport, registry *flavor.Registry, listener Listener, opts Options) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		opts:         opts,
		transport:    t,
		registry:     registry,
		phases:       phase.New(),
		listener:     listener,
		metrics:      opts.Metrics,
		state:        Disconnected,
		active:       registry.Generic,
		history:      linehistory.New(opts.HistoryCapacity),
		currentLine:  1,
		credit:       credit.New(opts.CreditMax),
		sendQ:        sendqueue.New(),
		cmdQ:         sendqueue.NewCommandQueue(),
		temperatures: make(map[string]Temperature),
		closed:       make(chan struct{}),
	}
	registerBuiltinPhaseHandlers(e)
	if e.metrics != nil {
		e.credit.OnChange(func(n int) { e.metrics.SetCredit(n) })
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(new State) {
	e.mu.Lock()
	old := e.state
	e.state = new
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.SetState(old.String(), new.String())
	}
	if e.listener != nil {
		e.listener.OnProtocolState(old, new)
	}
	log.WithField("from", old).WithField("to", new).Info("state transition")
}

// StateView implementation, consumed by flavor matchers/parsers.

func (e *Engine) SDListingActive() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.sd.listingActive
}

func (e *Engine) ResendRequested() (uint64, bool) {
	e.resendMu.Lock()
	defer e.resendMu.Unlock()
	if e.resend.active {
		return e.resend.requested, true
	}
	return 0, false
}

func (e *Engine) CurrentLine() uint64 {
	e.lineMu.Lock()
	defer e.lineMu.Unlock()
	return e.currentLine
}

func (e *Engine) currentFlavor() *flavor.Flavor {
	e.flavorMu.Lock()
	defer e.flavorMu.Unlock()
	return e.active
}

// Connect opens the transport and drives DISCONNECTED → CONNECTING,
// sending hello (if the flavor provides one) and starting the
// sending and receiving tasks (spec.md §4.J).
func (e *Engine) Connect(ctx context.Context) error {
	e.transport.SetListener(e.onTransportLine)
	if err := e.transport.Connect(ctx); err != nil {
		e.setState(DisconnectedWithError)
		return fmt.Errorf("protocol: connect: %v", err)
	}
	e.setState(Connecting)
	e.extendDeadline(e.opts.ConnectionTimeout)

	if hello := e.currentFlavor().Emit.Hello; hello != nil {
		e.enqueueSend(hello(), "", sendqueue.TrackSend)
	}
	e.credit.Set()

	go e.sendLoop()
	go e.timeoutLoop()
	return nil
}

// teardown cancels the sending and timeout loops, unblocks every
// waiter and closes the transport, without touching state. Callers
// pick the final state: a plain Disconnect lands on DISCONNECTED, an
// error escalation (spec.md §4.L) needs DISCONNECTED_WITH_ERROR to
// stick instead of being overwritten back to DISCONNECTED.
func (e *Engine) teardown() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.credit.Close()
		e.sendQ.Close()
	})
	return e.transport.Disconnect()
}

// Disconnect tears the session down: cancels the sending loop,
// unblocks every waiter, and closes the transport.
func (e *Engine) Disconnect() error {
	err := e.teardown()
	e.setState(Disconnected)
	return err
}

// Process transitions CONNECTED → PROCESSING and begins draining job
// via the sending loop's continue-sending routine (spec.md §4.J).
func (e *Engine) Process(j job.Job) error {
	if e.State() != Connected {
		return fmt.Errorf("protocol: cannot process job from state %s", e.State())
	}
	e.jobMu.Lock()
	e.job = j
	e.jobMu.Unlock()

	_, isStream := j.(*job.LocalStreamJob)
	e.onlyFromJob.Store(isStream)
	e.triggerEvts.Store(!isStream)

	e.setState(Processing)
	e.kickContinueSending()
	return nil
}

// Pause transitions PROCESSING → PAUSING → PAUSED.
func (e *Engine) Pause() error {
	if e.State() != Processing {
		return fmt.Errorf("protocol: cannot pause from state %s", e.State())
	}
	e.setState(Pausing)
	e.setState(Paused)
	return nil
}

// Resume transitions PAUSED → RESUMING → PROCESSING.
func (e *Engine) Resume() error {
	if e.State() != Paused {
		return fmt.Errorf("protocol: cannot resume from state %s", e.State())
	}
	e.setState(Resuming)
	e.setState(Processing)
	e.kickContinueSending()
	return nil
}

// Cancel transitions PROCESSING/PAUSED → CANCELLING → CONNECTED.
func (e *Engine) Cancel() error {
	switch e.State() {
	case Processing, Paused, Pausing, Resuming:
	default:
		return fmt.Errorf("protocol: cannot cancel from state %s", e.State())
	}
	e.setState(Cancelling)
	e.jobMu.Lock()
	e.job = nil
	e.jobMu.Unlock()
	e.setState(Connected)
	if e.listener != nil {
		e.listener.OnProtocolFilePrintDone()
	}
	return nil
}

// finish transitions to FINISHING then back to CONNECTED, used when a
// job runs to completion.
func (e *Engine) finish() {
	e.setState(Finishing)
	e.jobMu.Lock()
	e.job = nil
	e.jobMu.Unlock()
	e.setState(Connected)
	if e.listener != nil {
		e.listener.OnProtocolFilePrintDone()
	}
}

// SendRaw enqueues a raw command line from a user or API caller, for
// admission through the phase pipeline (spec.md §4.D).
func (e *Engine) SendRaw(line string, tags ...string) error {
	cmd := command.ToCommand(line, "", tags)
	return e.cmdQ.Put(cmd, nil, "")
}

// Home emits the flavor's home command for the given axes (empty for
// all axes).
func (e *Engine) Home(axes string) error {
	f := e.currentFlavor()
	if f.Emit.Home == nil {
		return fmt.Errorf("protocol: flavor %s has no home command", f.Name)
	}
	return e.cmdQ.Put(f.Emit.Home(axes), nil, "")
}

// Move emits the flavor's move command for the given axis values.
func (e *Engine) Move(axes map[byte]float64, feedrate *float64) error {
	f := e.currentFlavor()
	if f.Emit.Move == nil {
		return fmt.Errorf("protocol: flavor %s has no move command", f.Name)
	}
	return e.cmdQ.Put(f.Emit.Move(axes, feedrate), nil, "move")
}

// GetTemp requests an immediate temperature report.
func (e *Engine) GetTemp() error {
	f := e.currentFlavor()
	if f.Emit.GetTemp == nil {
		return fmt.Errorf("protocol: flavor %s has no get-temp command", f.Name)
	}
	return e.cmdQ.Put(f.Emit.GetTemp(), nil, "temperature")
}

// EmergencyStop bypasses the queue entirely (spec.md §4.I "Emergency
// stop"): it writes the checksummed stop command twice, once at the
// current line (no increment) and once incremented, then tears the
// connection down.
func (e *Engine) EmergencyStop() error {
	f := e.currentFlavor()
	if f.Emit.EmergencyStop == nil {
		return fmt.Errorf("protocol: flavor %s has no emergency-stop command", f.Name)
	}
	cmd := f.Emit.EmergencyStop()

	e.lineMu.Lock()
	n := e.currentLine
	e.writeChecksummedLocked(n, cmd.Raw())
	e.currentLine++
	e.writeChecksummedLocked(e.currentLine, cmd.Raw())
	e.currentLine++
	e.lineMu.Unlock()

	if e.metrics != nil {
		e.metrics.LineSent()
		e.metrics.LineSent()
	}
	return e.Disconnect()
}

// Temperatures returns a snapshot of the last-known temperatures.
func (e *Engine) Temperatures() map[string]Temperature {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	out := make(map[string]Temperature, len(e.temperatures))
	for k, v := range e.temperatures {
		out[k] = v
	}
	return out
}
