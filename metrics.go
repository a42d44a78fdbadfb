package isotp

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the optional Prometheus counters a Session reports to
// when constructed with WithMetrics. Wiring is opt-in: a Session with no
// Metrics attached runs with zero instrumentation overhead beyond the
// Statistics snapshot it already keeps.
type Metrics struct {
	framesSentTotal          prometheus.Counter
	framesReceivedTotal      prometheus.Counter
	timeoutsTotal            *prometheus.CounterVec
	reassemblyFailuresTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers the isotp counters on reg. Passing the
// same reg to multiple call sites panics on duplicate registration, the
// same as any other prometheus.Registerer use — callers own a single
// Metrics instance per process, shared across Sessions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "isotp",
			Name:      "frames_sent_total",
			Help:      "Frames successfully handed to the link for transmission.",
		}),
		framesReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "isotp",
			Name:      "frames_received_total",
			Help:      "Frames accepted from the link for a session's rx_id.",
		}),
		timeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "isotp",
			Name:      "timeouts_total",
			Help:      "Protocol timer expirations, by timer name (A_s, P2*, C_r).",
		}, []string{"timer"}),
		reassemblyFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "isotp",
			Name:      "reassembly_failures_total",
			Help:      "Reassembler failures, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.framesSentTotal, m.framesReceivedTotal, m.timeoutsTotal, m.reassemblyFailuresTotal)
	return m
}
