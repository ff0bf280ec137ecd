// Package metrics wires the protocol engine's counters and gauges into
// a private prometheus.Registry, so tests and multiple engine
// instances in one process never collide on prometheus's default
// registerer.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set bundles one engine's collectors. Create with New and pass to
// protocol.New; nil is valid and disables instrumentation.
type Set struct {
	Registry *prometheus.Registry

	CreditAvailable prometheus.Gauge
	LinesSentTotal  prometheus.Counter
	ResendsTotal    prometheus.Counter
	TimeoutsTotal   *prometheus.CounterVec
	State           *prometheus.GaugeVec
}

// New creates a fresh Set registered against a new, private registry.
func New() *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		Registry: reg,
		CreditAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reprap_credit_available",
			Help: "Current clear-to-send credit count.",
		}),
		LinesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reprap_lines_sent_total",
			Help: "Non-resend lines written to the transport.",
		}),
		ResendsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reprap_resends_total",
			Help: "Resend requests honored by the resend controller.",
		}),
		TimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reprap_timeouts_total",
			Help: "Communication timeouts observed, labeled by how they were handled.",
		}, []string{"phase"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reprap_state",
			Help: "1 for the current protocol state, 0 for all others.",
		}, []string{"state"}),
	}
	reg.MustRegister(s.CreditAvailable, s.LinesSentTotal, s.ResendsTotal, s.TimeoutsTotal, s.State)
	return s
}

// SetState marks newState as active and clears oldState, no-op on a nil Set.
func (s *Set) SetState(oldState, newState string) {
	if s == nil {
		return
	}
	if oldState != "" {
		s.State.WithLabelValues(oldState).Set(0)
	}
	s.State.WithLabelValues(newState).Set(1)
}

func (s *Set) timeout(phase string) {
	if s == nil {
		return
	}
	s.TimeoutsTotal.WithLabelValues(phase).Inc()
}

// TimeoutResend records a timeout handled by re-emitting the active resend line.
func (s *Set) TimeoutResend() { s.timeout("resend") }

// TimeoutHeatup records a timeout handled by declaring heatup finished.
func (s *Set) TimeoutHeatup() { s.timeout("heatup") }

// TimeoutLongRunning records a timeout ignored because a long-running command is active.
func (s *Set) TimeoutLongRunning() { s.timeout("long_running") }

// TimeoutPrinting records a timeout handled by tickling the printer with M105.
func (s *Set) TimeoutPrinting() { s.timeout("printing") }

// TimeoutIdle records a timeout handled by granting a synthetic credit.
func (s *Set) TimeoutIdle() { s.timeout("idle") }

// TimeoutGiveUp records a timeout that exceeded the consecutive-timeout ladder.
func (s *Set) TimeoutGiveUp() { s.timeout("give_up") }

func (s *Set) incLinesSent() {
	if s == nil {
		return
	}
	s.LinesSentTotal.Inc()
}

// LineSent records one non-resend line written to the transport.
func (s *Set) LineSent() { s.incLinesSent() }

// ResendHonored records one resend entry emitted by the resend controller.
func (s *Set) ResendHonored() {
	if s == nil {
		return
	}
	s.ResendsTotal.Inc()
}

// SetCredit publishes the current clear-to-send count.
func (s *Set) SetCredit(n int) {
	if s == nil {
		return
	}
	s.CreditAvailable.Set(float64(n))
}
