package models

import "time"

// PresenceRecord is a user's last observed activity.
type PresenceRecord struct {
	UserID     string    `json:"user_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// IsOnline reports whether the user was seen within window of now.
func (p PresenceRecord) IsOnline(now time.Time, window time.Duration) bool {
	return now.Sub(p.LastSeenAt) < window
}
