package metrics

// NopMetrics discards everything.
type NopMetrics struct{}

var _ Collector = (*NopMetrics)(nil)

// NewNop creates a no-op collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

func (n *NopMetrics) RecordSubmit(_ string) {}

func (n *NopMetrics) RecordPairAttempt(_ string) {}

func (n *NopMetrics) RecordRequestTransition(_ string) {}

func (n *NopMetrics) RecordSweep(_ bool, _ float64) {}

func (n *NopMetrics) AddSweepItems(_ string, _ int) {}

func (n *NopMetrics) SetPendingRequests(_ int64) {}

func (n *NopMetrics) RecordWarnings(_ int) {}
