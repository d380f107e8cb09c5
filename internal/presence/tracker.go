// Package presence records when each user was last active and answers the
// advisory "is this user online" question used by matching and cleanup.
package presence

import (
	"context"
	"time"

	"heartlink/backend/internal/clock"
	"heartlink/backend/internal/storage"
)

// Tracker owns presence writes.
type Tracker struct {
	Store storage.PresenceStore
	Clock clock.Clock
}

// NewTracker creates a Tracker over store.
func NewTracker(store storage.PresenceStore, c clock.Clock) *Tracker {
	if c == nil {
		c = clock.Real{}
	}
	return &Tracker{Store: store, Clock: c}
}

// Heartbeat marks user as seen now. Storage errors are returned as is.
func (t *Tracker) Heartbeat(ctx context.Context, user string) error {
	return t.Store.TouchPresence(ctx, user, t.Clock.Now())
}

// LastSeen returns the user's last activity and whether any was recorded.
func (t *Tracker) LastSeen(ctx context.Context, user string) (time.Time, bool, error) {
	rec, err := t.Store.GetPresence(ctx, user)
	if err != nil || rec == nil {
		return time.Time{}, false, err
	}
	return rec.LastSeenAt, true, nil
}

// IsOnline reports whether user was seen within window. A user without a
// record is offline.
func (t *Tracker) IsOnline(ctx context.Context, user string, window time.Duration) (bool, error) {
	if user == "" {
		return false, nil
	}
	rec, err := t.Store.GetPresence(ctx, user)
	if err != nil || rec == nil {
		return false, err
	}
	return rec.IsOnline(t.Clock.Now(), window), nil
}

// OfflineLongerThan reports whether user has been silent for at least d.
// A vacant member slot ("") is always offline.
func (t *Tracker) OfflineLongerThan(ctx context.Context, user string, d time.Duration) (bool, error) {
	online, err := t.IsOnline(ctx, user, d)
	if err != nil {
		return false, err
	}
	return !online, nil
}
