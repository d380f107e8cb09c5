package config

import "time"

const (
	// Matching
	PendingTTL       = 10 * time.Minute
	WarningThreshold = 8 * time.Minute
	MaxPairAttempts  = 5
	PairCandidates   = 32

	// Presence
	HeartbeatWindow = 5 * time.Minute

	// Rooms
	RoomGracePeriod    = 5 * time.Minute
	InactivityWindow   = 10 * time.Minute
	StaleRoomBatchSize = 500

	// Sweep backpressure
	HighBacklog        = 50
	MediumBacklog      = 20
	HighBacklogProb    = 0.5
	MediumBacklogProb  = 0.3
	LowBacklogProb     = 0.1
	ForcedProbability  = 1.0
	DefaultStorageWait = 3 * time.Second
)
