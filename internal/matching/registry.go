// Package matching keeps the pool of pending match requests and pairs them
// first-come first-served.
package matching

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

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("heartlink/matching")

// errRaceLost aborts a pairing transaction whose compare-and-swap lost.
var errRaceLost = errors.New("pairing race lost")

// RoomCreator opens the room for a new pair inside the pairing transaction.
type RoomCreator interface {
	CreateForMatchTx(ctx context.Context, tx storage.RoomStore, a, b string) (*models.ChatRoom, error)
}

// Pair is the outcome of a successful pairing.
type Pair struct {
	Room   *models.ChatRoom
	First  models.MatchRequest
	Second models.MatchRequest
}

// Registry owns every MatchRequest status change.
type Registry struct {
	Storage storage.Storage
	Rooms   RoomCreator
	Clock   clock.Clock
	Metrics metrics.Collector
	Logger  *slog.Logger
	// Notices, if set, receives a match-found notice for both users once a
	// pair is committed.
	Notices   storage.NoticePublisher
	Localizer *localization.Localizer

	PendingTTL  time.Duration
	MaxAttempts int
	Candidates  int
}

// NewRegistry creates a Registry with the policy's pending TTL.
func NewRegistry(s storage.Storage, rooms RoomCreator, c clock.Clock, p config.Policy) *Registry {
	if c == nil {
		c = clock.Real{}
	}
	return &Registry{
		Storage:     s,
		Rooms:       rooms,
		Clock:       c,
		Metrics:     metrics.NewNop(),
		Logger:      slog.Default(),
		Localizer:   localization.Default(),
		PendingTTL:  p.PendingTTL,
		MaxAttempts: config.MaxPairAttempts,
		Candidates:  config.PairCandidates,
	}
}

// Submit records a new pending request for user. A user with a request
// already pending gets *models.AlreadyPendingError carrying that request.
func (r *Registry) Submit(ctx context.Context, user string) (*models.MatchRequest, error) {
	if user == "" {
		return nil, &models.InvalidStateError{Entity: "match request", Current: "no user", Want: "user"}
	}

	existing, err := r.Storage.FindPendingByUser(ctx, user)
	if err != nil {
		r.Metrics.RecordSubmit(metrics.ResultError)
		return nil, err
	}
	if existing != nil {
		r.Metrics.RecordSubmit(metrics.ResultAlreadyPending)
		return nil, &models.AlreadyPendingError{Existing: existing}
	}

	now := r.Clock.Now()
	req := &models.MatchRequest{
		ID:        uuid.New().String(),
		UserID:    user,
		Status:    models.MatchPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.Storage.CreateMatchRequest(ctx, req); err != nil {
		// A concurrent submit may still win at the unique index.
		if errors.Is(err, models.ErrAlreadyPending) {
			r.Metrics.RecordSubmit(metrics.ResultAlreadyPending)
		} else {
			r.Metrics.RecordSubmit(metrics.ResultError)
		}
		return nil, err
	}

	r.Metrics.RecordSubmit(metrics.ResultCreated)
	r.Logger.Info("match request submitted", "request_id", req.ID, "user_id", user)
	return req, nil
}

// TryPair pairs the two oldest pending requests of different users. It
// returns nil, nil when nothing can be paired.
func (r *Registry) TryPair(ctx context.Context) (*Pair, error) {
	return r.pair(ctx, "")
}

// SubmitAndPair submits a request for user and immediately tries to pair it
// with the longest-waiting other user. The returned request is the stored
// one, matched or still pending. When the user already has a request
// pending, that request is returned together with the AlreadyPendingError.
func (r *Registry) SubmitAndPair(ctx context.Context, user string) (*models.MatchRequest, *Pair, error) {
	req, err := r.Submit(ctx, user)
	if err != nil {
		var pending *models.AlreadyPendingError
		if errors.As(err, &pending) {
			return pending.Existing, nil, err
		}
		return nil, nil, err
	}

	pair, err := r.pair(ctx, req.ID)
	if err != nil {
		// The request is stored; pairing can still happen later.
		r.Logger.Warn("pairing after submit failed", "request_id", req.ID, "error", err)
		return req, nil, nil
	}
	if pair == nil {
		return req, nil, nil
	}
	if pair.First.ID == req.ID {
		return &pair.First, pair, nil
	}
	return &pair.Second, pair, nil
}

// pair runs pairing attempts. With anchorID set, the anchor request is
// always one side of the pair.
func (r *Registry) pair(ctx context.Context, anchorID string) (*Pair, error) {
	ctx, span := tracer.Start(ctx, "matching.TryPair")
	defer span.End()

	blocked := make(map[string]bool)
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		var result *Pair
		err := r.Storage.Atomic(ctx, func(tx storage.Storage) error {
			a, b, err := r.choose(ctx, tx, anchorID, blocked)
			if err != nil || a == nil {
				return err
			}

			room, err := r.Rooms.CreateForMatchTx(ctx, tx, a.UserID, b.UserID)
			if errors.Is(err, models.ErrInvalidState) {
				// An active room for this pair appeared since choose looked.
				blocked[models.PairKey(a.UserID, b.UserID)] = true
				return errRaceLost
			}
			if err != nil {
				return err
			}

			now := r.Clock.Now()
			first, err := r.markMatched(ctx, tx, *a, *b, room.ID, now)
			if err != nil {
				return err
			}
			second, err := r.markMatched(ctx, tx, *b, *a, room.ID, now)
			if err != nil {
				return err
			}
			result = &Pair{Room: room, First: first, Second: second}
			return nil
		})

		switch {
		case errors.Is(err, errRaceLost):
			r.Metrics.RecordPairAttempt(metrics.ResultRaceLost)
			r.Logger.Debug("pairing attempt lost a race", "attempt", attempt)
			continue
		case err != nil:
			r.Metrics.RecordPairAttempt(metrics.ResultError)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		case result == nil:
			r.Metrics.RecordPairAttempt(metrics.ResultNone)
			span.SetAttributes(attribute.Bool("matched", false))
			return nil, nil
		}

		r.Metrics.RecordPairAttempt(metrics.ResultMatched)
		r.Metrics.RecordRequestTransition(string(models.MatchMatched))
		r.Metrics.RecordRequestTransition(string(models.MatchMatched))
		span.SetAttributes(
			attribute.Bool("matched", true),
			attribute.Int("attempt", attempt),
			attribute.String("room_id", result.Room.ID),
		)
		r.Logger.Info("users matched",
			"room_id", result.Room.ID,
			"user_a", result.First.UserID,
			"user_b", result.Second.UserID,
		)
		r.announce(ctx, result)
		return result, nil
	}

	span.SetAttributes(attribute.Bool("matched", false))
	return nil, nil
}

func (r *Registry) announce(ctx context.Context, p *Pair) {
	if r.Notices == nil {
		return
	}
	for _, req := range []models.MatchRequest{p.First, p.Second} {
		err := r.Notices.PublishNotice(ctx, models.Notice{
			UserID:  req.UserID,
			Type:    models.NoticeMatchFound,
			RoomID:  p.Room.ID,
			Content: r.Localizer.GetString(localization.DefaultLang, "match_found"),
		})
		if err != nil {
			r.Logger.Warn("match found notice failed", "user_id", req.UserID, "room_id", p.Room.ID, "error", err)
		}
	}
}

// choose returns the oldest pairable requests, or nil when there are none.
func (r *Registry) choose(ctx context.Context, tx storage.Storage, anchorID string, blocked map[string]bool) (*models.MatchRequest, *models.MatchRequest, error) {
	candidates, err := tx.ListPending(ctx, r.Candidates)
	if err != nil {
		return nil, nil, err
	}

	if anchorID != "" {
		anchor, err := tx.GetMatchRequest(ctx, anchorID)
		if err != nil {
			return nil, nil, err
		}
		if anchor.Status != models.MatchPending {
			return nil, nil, nil
		}
		for i := range candidates {
			ok, err := r.pairable(ctx, tx, anchor, &candidates[i], blocked)
			if err != nil {
				return nil, nil, err
			}
			if ok {
				return &candidates[i], anchor, nil
			}
		}
		return nil, nil, nil
	}

	for i := range candidates {
		for j := i + 1; j < len(candidates); j++ {
			ok, err := r.pairable(ctx, tx, &candidates[i], &candidates[j], blocked)
			if err != nil {
				return nil, nil, err
			}
			if ok {
				return &candidates[i], &candidates[j], nil
			}
		}
	}
	return nil, nil, nil
}

func (r *Registry) pairable(ctx context.Context, tx storage.RoomStore, a, b *models.MatchRequest, blocked map[string]bool) (bool, error) {
	if a.ID == b.ID || a.UserID == b.UserID {
		return false, nil
	}
	key := models.PairKey(a.UserID, b.UserID)
	if blocked[key] {
		return false, nil
	}
	room, err := tx.FindActiveRoomByPair(ctx, key)
	if err != nil {
		return false, err
	}
	if room != nil {
		blocked[key] = true
		return false, nil
	}
	return true, nil
}

func (r *Registry) markMatched(ctx context.Context, tx storage.MatchStore, req, partner models.MatchRequest, roomID string, now time.Time) (models.MatchRequest, error) {
	ok, err := tx.TransitionMatchRequest(ctx, req.ID, models.MatchPending, models.MatchMatched, models.MatchUpdate{
		RoomID:      &roomID,
		MatchedWith: &partner.UserID,
		MatchedAt:   &now,
		UpdatedAt:   now,
	})
	if err != nil {
		return req, err
	}
	if !ok {
		return req, errRaceLost
	}
	req.Status = models.MatchMatched
	req.RoomID = &roomID
	req.MatchedWith = &partner.UserID
	req.MatchedAt = &now
	req.UpdatedAt = now
	return req, nil
}

// Cancel withdraws user's pending request.
func (r *Registry) Cancel(ctx context.Context, id, user string) error {
	req, err := r.Storage.GetMatchRequest(ctx, id)
	if err != nil {
		return err
	}
	if req.UserID != user {
		return models.ErrNotOwner
	}
	if req.Status != models.MatchPending {
		return invalidRequest(req)
	}

	ok, err := r.Storage.TransitionMatchRequest(ctx, id, models.MatchPending, models.MatchCancelled, models.MatchUpdate{
		UpdatedAt: r.Clock.Now(),
	})
	if err != nil {
		return err
	}
	if !ok {
		current, err := r.Storage.GetMatchRequest(ctx, id)
		if err != nil {
			return err
		}
		return invalidRequest(current)
	}

	r.Metrics.RecordRequestTransition(string(models.MatchCancelled))
	r.Logger.Info("match request cancelled", "request_id", id, "user_id", user)
	return nil
}

// Expire moves a pending request older than the pending TTL to expired. It
// reports false without error when the request is not pending or not old
// enough.
func (r *Registry) Expire(ctx context.Context, id string) (bool, error) {
	req, err := r.Storage.GetMatchRequest(ctx, id)
	if err != nil {
		return false, err
	}
	now := r.Clock.Now()
	if req.Status != models.MatchPending || req.Age(now) <= r.PendingTTL {
		return false, nil
	}

	ok, err := r.Storage.TransitionMatchRequest(ctx, id, models.MatchPending, models.MatchExpired, models.MatchUpdate{
		UpdatedAt: now,
	})
	if err != nil || !ok {
		return false, err
	}

	r.Metrics.RecordRequestTransition(string(models.MatchExpired))
	r.Logger.Info("match request expired", "request_id", id, "user_id", req.UserID)
	return true, nil
}

// Get returns models.ErrNotFound for unknown ids.
func (r *Registry) Get(ctx context.Context, id string) (*models.MatchRequest, error) {
	return r.Storage.GetMatchRequest(ctx, id)
}

// PendingCount returns the size of the pending pool.
func (r *Registry) PendingCount(ctx context.Context) (int64, error) {
	return r.Storage.CountPending(ctx)
}

// ListPending returns the pending pool oldest first.
func (r *Registry) ListPending(ctx context.Context) ([]models.MatchRequest, error) {
	return r.Storage.ListPending(ctx, 0)
}

// ListExpirable returns pending requests older than the pending TTL.
func (r *Registry) ListExpirable(ctx context.Context) ([]models.MatchRequest, error) {
	return r.Storage.ListPendingCreatedBefore(ctx, r.Clock.Now().Add(-r.PendingTTL), 0)
}

// Stats counts requests by status. MatchRate is the matched share of all
// requests as a percentage.
func (r *Registry) Stats(ctx context.Context) (models.MatchStats, error) {
	counts, err := r.Storage.CountMatchRequests(ctx)
	if err != nil {
		return models.MatchStats{}, err
	}

	stats := models.MatchStats{
		Pending:   counts[models.MatchPending],
		Matched:   counts[models.MatchMatched],
		Expired:   counts[models.MatchExpired],
		Cancelled: counts[models.MatchCancelled],
	}
	for _, n := range counts {
		stats.Total += n
	}
	if stats.Total > 0 {
		stats.MatchRate = float64(stats.Matched) / float64(stats.Total) * 100
	}
	return stats, nil
}

func invalidRequest(req *models.MatchRequest) error {
	return &models.InvalidStateError{
		Entity:  "match request",
		ID:      req.ID,
		Current: string(req.Status),
		Want:    string(models.MatchPending),
	}
}
