package models

import "time"

// MatchStatus is the lifecycle state of a MatchRequest.
type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchMatched   MatchStatus = "matched"
	MatchExpired   MatchStatus = "expired"
	MatchCancelled MatchStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s MatchStatus) Terminal() bool {
	return s != MatchPending
}

// Valid reports whether s is one of the known statuses.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchPending, MatchMatched, MatchExpired, MatchCancelled:
		return true
	}
	return false
}

// MatchRequest is a user's standing intent to be paired.
// Requests are never deleted; terminal rows are kept for statistics.
type MatchRequest struct {
	// ID is the request UUID.
	ID string `gorm:"primaryKey;type:uuid" json:"id"`
	// UserID is the requester. At most one pending request per user is allowed.
	UserID string `gorm:"type:text;not null;index:idx_match_user_status,priority:1;uniqueIndex:idx_match_one_pending,where:status = 'pending'" json:"user_id"`
	// Status is the lifecycle state.
	Status MatchStatus `gorm:"type:text;not null;index:idx_match_user_status,priority:2;index:idx_match_status_created,priority:1" json:"status"`
	// RoomID references the room created on pairing. Set iff Status is matched.
	RoomID *string `gorm:"type:uuid" json:"room_id,omitempty"`
	// MatchedWith is the partner's user id.
	MatchedWith *string `gorm:"type:text" json:"matched_with,omitempty"`
	// MatchedAt is the pairing time.
	MatchedAt *time.Time `json:"matched_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;index:idx_match_status_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Age returns how long the request has existed at now.
func (r *MatchRequest) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// MatchUpdate carries the columns written together with a status transition.
type MatchUpdate struct {
	RoomID      *string
	MatchedWith *string
	MatchedAt   *time.Time
	UpdatedAt   time.Time
}

// MatchStats summarizes requests by status.
type MatchStats struct {
	Total     int64   `json:"total"`
	Pending   int64   `json:"pending"`
	Matched   int64   `json:"matched"`
	Expired   int64   `json:"expired"`
	Cancelled int64   `json:"cancelled"`
	MatchRate float64 `json:"match_rate"`
}
