// Package notify finds pending requests that are about to expire and warns
// their requesters while they are still online.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"heartlink/backend/internal/clock"
	"heartlink/backend/internal/config"
	"heartlink/backend/internal/localization"
	"heartlink/backend/internal/metrics"
	"heartlink/backend/internal/models"
	"heartlink/backend/internal/storage"
)

// PendingSource lists pending requests by creation time.
type PendingSource interface {
	ListPendingCreatedIn(ctx context.Context, after, until time.Time) ([]models.MatchRequest, error)
}

// PresenceChecker answers whether a user was seen within window.
type PresenceChecker interface {
	IsOnline(ctx context.Context, user string, window time.Duration) (bool, error)
}

// Notifier builds expiry warnings. It never changes request state.
type Notifier struct {
	Requests  PendingSource
	Presence  PresenceChecker
	Publisher storage.NoticePublisher
	Localizer *localization.Localizer
	Clock     clock.Clock
	Metrics   metrics.Collector
	Logger    *slog.Logger

	PendingTTL       time.Duration
	WarningThreshold time.Duration
	OnlineWindow     time.Duration
	Lang             string
}

// NewNotifier creates a Notifier using the policy's windows.
func NewNotifier(requests PendingSource, presence PresenceChecker, pub storage.NoticePublisher, c clock.Clock, p config.Policy) *Notifier {
	if c == nil {
		c = clock.Real{}
	}
	return &Notifier{
		Requests:         requests,
		Presence:         presence,
		Publisher:        pub,
		Localizer:        localization.Default(),
		Clock:            c,
		Metrics:          metrics.NewNop(),
		Logger:           slog.Default(),
		PendingTTL:       p.PendingTTL,
		WarningThreshold: p.WarningThreshold,
		OnlineWindow:     p.HeartbeatWindow,
		Lang:             localization.DefaultLang,
	}
}

// ScanWarnings returns one warning per pending request aged in
// [WarningThreshold, PendingTTL) whose requester is online. A presence
// lookup failure skips that request only.
func (n *Notifier) ScanWarnings(ctx context.Context) ([]models.Warning, error) {
	now := n.Clock.Now()
	reqs, err := n.Requests.ListPendingCreatedIn(ctx, now.Add(-n.PendingTTL), now.Add(-n.WarningThreshold))
	if err != nil {
		return nil, err
	}

	warnings := make([]models.Warning, 0, len(reqs))
	for i := range reqs {
		w, err := n.warn(ctx, &reqs[i], now)
		if err != nil {
			n.Logger.Warn("presence lookup failed", "user_id", reqs[i].UserID, "error", err)
			continue
		}
		if w != nil {
			warnings = append(warnings, *w)
		}
	}

	n.Metrics.RecordWarnings(len(warnings))
	return warnings, nil
}

// WarningFor returns the warning for a single request, or nil when none applies.
func (n *Notifier) WarningFor(ctx context.Context, req *models.MatchRequest) (*models.Warning, error) {
	now := n.Clock.Now()
	if req.Status != models.MatchPending {
		return nil, nil
	}
	age := req.Age(now)
	if age < n.WarningThreshold || age >= n.PendingTTL {
		return nil, nil
	}
	return n.warn(ctx, req, now)
}

func (n *Notifier) warn(ctx context.Context, req *models.MatchRequest, now time.Time) (*models.Warning, error) {
	online, err := n.Presence.IsOnline(ctx, req.UserID, n.OnlineWindow)
	if err != nil || !online {
		return nil, err
	}

	remaining := (n.PendingTTL - req.Age(now)).Minutes()
	return &models.Warning{
		RequestID:        req.ID,
		UserID:           req.UserID,
		MinutesRemaining: remaining,
		Message:          n.Localizer.Format(n.Lang, "expiry_warning", remaining),
	}, nil
}

// Publish hands each warning to the publisher and returns how many were
// accepted. Failures do not stop the remaining warnings.
func (n *Notifier) Publish(ctx context.Context, warnings []models.Warning) (int, error) {
	var (
		sent int
		errs []error
	)
	for i := range warnings {
		w := warnings[i]
		err := n.Publisher.PublishNotice(ctx, models.Notice{
			UserID:  w.UserID,
			Type:    models.NoticeExpiryWarning,
			Content: w.Message,
			Warning: &w,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// ScanAndPublish runs ScanWarnings followed by Publish.
func (n *Notifier) ScanAndPublish(ctx context.Context) (int, error) {
	warnings, err := n.ScanWarnings(ctx)
	if err != nil {
		return 0, err
	}
	return n.Publish(ctx, warnings)
}

// Run scans and publishes every interval until ctx is done.
func (n *Notifier) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, err := n.ScanAndPublish(ctx)
			if err != nil {
				n.Logger.Error("expiry warnings failed", "sent", sent, "error", err)
			}
		}
	}
}
