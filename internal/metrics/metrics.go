// Package metrics defines the counters emitted by matching, sweeping and
// expiry warnings, with a no-op and a Prometheus implementation.
package metrics

// Collector receives lifecycle events. Implementations must be safe for
// concurrent use.
type Collector interface {
	// RecordSubmit counts a submit outcome (created, already_pending, error).
	RecordSubmit(result string)
	// RecordPairAttempt counts a pairing attempt outcome (matched, none, race_lost, error).
	RecordPairAttempt(result string)
	// RecordRequestTransition counts a successful match request transition into status.
	RecordRequestTransition(status string)
	// RecordSweep records whether a sweep ran and how long it took.
	RecordSweep(ran bool, seconds float64)
	// AddSweepItems adds n items handled by a sweep under kind.
	AddSweepItems(kind string, n int)
	// SetPendingRequests sets the last observed pending backlog.
	SetPendingRequests(n int64)
	// RecordWarnings counts expiry warnings produced by one scan.
	RecordWarnings(n int)
}

// Result labels.
const (
	ResultCreated        = "created"
	ResultAlreadyPending = "already_pending"
	ResultMatched        = "matched"
	ResultNone           = "none"
	ResultRaceLost       = "race_lost"
	ResultError          = "error"
)

// Sweep item kinds.
const (
	SweepExpiredRequests     = "expired_requests"
	SweepEndedRooms          = "ended_rooms"
	SweepExpiredWaitingRooms = "expired_waiting_rooms"
	SweepFailures            = "failures"
)
