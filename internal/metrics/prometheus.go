package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by Prometheus. Metrics are
// registered lazily on first use.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	submits        *prometheus.CounterVec
	pairAttempts   *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	sweeps         *prometheus.CounterVec
	sweepDuration  prometheus.Histogram
	sweepItems     *prometheus.CounterVec
	pendingGauge   prometheus.Gauge
	warningsIssued prometheus.Counter
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a Prometheus-backed collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: metrics namespace (defaults to "heartlink" if empty)
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "heartlink"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.submits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "matching",
			Name:      "submits_total",
			Help:      "Match request submissions by result (created,already_pending,error).",
		}, []string{"result"})

		p.pairAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "matching",
			Name:      "pair_attempts_total",
			Help:      "Pairing attempts by result (matched,none,race_lost,error).",
		}, []string{"result"})

		p.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "matching",
			Name:      "request_transitions_total",
			Help:      "Successful match request transitions by target status.",
		}, []string{"status"})

		p.pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "matching",
			Name:      "pending_requests",
			Help:      "Pending match requests observed by the last sweep.",
		})

		p.sweeps = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "maintenance",
			Name:      "sweeps_total",
			Help:      "Sweep invocations by whether the probabilistic gate let them run.",
		}, []string{"ran"})

		p.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "maintenance",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweeps that ran, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms .. ~2.5s
		})

		p.sweepItems = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "maintenance",
			Name:      "sweep_items_total",
			Help:      "Items handled by sweeps by kind (expired_requests,ended_rooms,expired_waiting_rooms,failures).",
		}, []string{"kind"})

		p.warningsIssued = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "notify",
			Name:      "expiry_warnings_total",
			Help:      "Expiry warnings produced for online requesters.",
		})

		p.reg.MustRegister(p.submits)
		p.reg.MustRegister(p.pairAttempts)
		p.reg.MustRegister(p.transitions)
		p.reg.MustRegister(p.pendingGauge)
		p.reg.MustRegister(p.sweeps)
		p.reg.MustRegister(p.sweepDuration)
		p.reg.MustRegister(p.sweepItems)
		p.reg.MustRegister(p.warningsIssued)
	})
}

// RecordSubmit increments the submit counter for result.
func (p *PrometheusCollector) RecordSubmit(result string) {
	p.ensureRegistered()
	p.submits.WithLabelValues(result).Inc()
}

// RecordPairAttempt increments the pairing counter for result.
func (p *PrometheusCollector) RecordPairAttempt(result string) {
	p.ensureRegistered()
	p.pairAttempts.WithLabelValues(result).Inc()
}

// RecordRequestTransition increments the transition counter for status.
func (p *PrometheusCollector) RecordRequestTransition(status string) {
	p.ensureRegistered()
	p.transitions.WithLabelValues(status).Inc()
}

// RecordSweep counts the sweep and observes its duration when it ran.
func (p *PrometheusCollector) RecordSweep(ran bool, seconds float64) {
	p.ensureRegistered()
	p.sweeps.WithLabelValues(strconv.FormatBool(ran)).Inc()
	if ran {
		p.sweepDuration.Observe(seconds)
	}
}

// AddSweepItems adds n to the item counter for kind.
func (p *PrometheusCollector) AddSweepItems(kind string, n int) {
	if n <= 0 {
		return
	}
	p.ensureRegistered()
	p.sweepItems.WithLabelValues(kind).Add(float64(n))
}

// SetPendingRequests sets the pending backlog gauge.
func (p *PrometheusCollector) SetPendingRequests(n int64) {
	p.ensureRegistered()
	p.pendingGauge.Set(float64(n))
}

// RecordWarnings adds n to the warnings counter.
func (p *PrometheusCollector) RecordWarnings(n int) {
	if n <= 0 {
		return
	}
	p.ensureRegistered()
	p.warningsIssued.Add(float64(n))
}
