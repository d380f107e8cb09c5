// Package maintenance runs the periodic sweep that expires stale match
// requests and ends abandoned rooms. Sweeps under light load are sampled
// with a probability that grows with the pending backlog.
package maintenance

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"heartlink/backend/internal/config"
	"heartlink/backend/internal/metrics"
	"heartlink/backend/internal/models"
	"heartlink/backend/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("heartlink/maintenance")

// RequestExpirer is the part of the match registry a sweep needs.
type RequestExpirer interface {
	PendingCount(ctx context.Context) (int64, error)
	ListExpirable(ctx context.Context) ([]models.MatchRequest, error)
	Expire(ctx context.Context, id string) (bool, error)
}

// RoomCloser is the part of the room manager a sweep needs.
type RoomCloser interface {
	ListActiveOlderThan(ctx context.Context, age time.Duration, after *models.RoomCursor, limit int) ([]models.ChatRoom, error)
	ListWaitingOlderThan(ctx context.Context, age time.Duration, after *models.RoomCursor, limit int) ([]models.ChatRoom, error)
	End(ctx context.Context, roomID string) (bool, error)
	ExpireWaiting(ctx context.Context, roomID string) (bool, error)
}

// PresenceChecker reports members that have been silent for at least d.
type PresenceChecker interface {
	OfflineLongerThan(ctx context.Context, user string, d time.Duration) (bool, error)
}

// Options controls a single sweep.
type Options struct {
	// Force bypasses the probabilistic gate.
	Force bool
	// DryRun counts candidates without changing anything.
	DryRun bool
}

// Result summarizes one sweep. Counts only include transitions this sweep
// actually performed (or, in a dry run, would attempt).
type Result struct {
	Ran                 bool    `json:"ran"`
	DryRun              bool    `json:"dry_run"`
	Probability         float64 `json:"probability"`
	PendingCount        int64   `json:"pending_count"`
	ExpiredRequests     int     `json:"expired_requests"`
	EndedRooms          int     `json:"ended_rooms"`
	ExpiredWaitingRooms int     `json:"expired_waiting_rooms"`
	Failures            int     `json:"failures"`
}

// Scheduler performs sweeps. Sweep itself never schedules anything; Run is
// an optional in-process trigger.
type Scheduler struct {
	Requests RequestExpirer
	Rooms    RoomCloser
	Presence PresenceChecker
	// Notices, if set, receives a room-ended notice for each member.
	Notices storage.NoticePublisher
	Metrics metrics.Collector
	Logger  *slog.Logger
	// Rand draws from [0, 1).
	Rand func() float64

	Policy config.Policy
	// BatchSize is the page size of room scans. Every page is visited.
	BatchSize int
}

// NewScheduler creates a Scheduler with a process-wide random source.
func NewScheduler(requests RequestExpirer, rooms RoomCloser, presence PresenceChecker, p config.Policy) *Scheduler {
	return &Scheduler{
		Requests:  requests,
		Rooms:     rooms,
		Presence:  presence,
		Metrics:   metrics.NewNop(),
		Logger:    slog.Default(),
		Rand:      rand.Float64,
		Policy:    p,
		BatchSize: config.StaleRoomBatchSize,
	}
}

// ExecutionProbability maps the pending backlog to the chance that an
// unforced sweep runs.
func ExecutionProbability(pending int64, force bool) float64 {
	switch {
	case force:
		return config.ForcedProbability
	case pending > config.HighBacklog:
		return config.HighBacklogProb
	case pending > config.MediumBacklog:
		return config.MediumBacklogProb
	default:
		return config.LowBacklogProb
	}
}

// Sweep expires stale requests, ends abandoned active rooms and expires
// waiting rooms nobody joined. Failures on individual items are logged and
// counted; only failing to read the backlog aborts the sweep.
func (s *Scheduler) Sweep(ctx context.Context, opts Options) (Result, error) {
	ctx, span := tracer.Start(ctx, "maintenance.Sweep", trace.WithAttributes(
		attribute.Bool("force", opts.Force),
		attribute.Bool("dry_run", opts.DryRun),
	))
	defer span.End()
	started := time.Now()

	pending, err := s.Requests.PendingCount(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	s.Metrics.SetPendingRequests(pending)

	res := Result{
		DryRun:       opts.DryRun,
		Probability:  ExecutionProbability(pending, opts.Force),
		PendingCount: pending,
	}
	span.SetAttributes(
		attribute.Int64("pending", pending),
		attribute.Float64("probability", res.Probability),
	)

	if !opts.Force && s.Rand() >= res.Probability {
		s.Metrics.RecordSweep(false, 0)
		span.SetAttributes(attribute.Bool("ran", false))
		return res, nil
	}
	res.Ran = true

	s.expireRequests(ctx, &res)
	s.endInactiveRooms(ctx, &res)
	s.expireWaitingRooms(ctx, &res)

	s.Metrics.RecordSweep(true, time.Since(started).Seconds())
	if !opts.DryRun {
		s.Metrics.AddSweepItems(metrics.SweepExpiredRequests, res.ExpiredRequests)
		s.Metrics.AddSweepItems(metrics.SweepEndedRooms, res.EndedRooms)
		s.Metrics.AddSweepItems(metrics.SweepExpiredWaitingRooms, res.ExpiredWaitingRooms)
	}
	s.Metrics.AddSweepItems(metrics.SweepFailures, res.Failures)

	span.SetAttributes(
		attribute.Bool("ran", true),
		attribute.Int("expired_requests", res.ExpiredRequests),
		attribute.Int("ended_rooms", res.EndedRooms),
		attribute.Int("expired_waiting_rooms", res.ExpiredWaitingRooms),
		attribute.Int("failures", res.Failures),
	)
	s.Logger.Info("sweep finished",
		"dry_run", opts.DryRun,
		"pending", pending,
		"expired_requests", res.ExpiredRequests,
		"ended_rooms", res.EndedRooms,
		"expired_waiting_rooms", res.ExpiredWaitingRooms,
		"failures", res.Failures,
	)
	return res, nil
}

func (s *Scheduler) expireRequests(ctx context.Context, res *Result) {
	reqs, err := s.Requests.ListExpirable(ctx)
	if err != nil {
		s.fail(res, "list expirable requests failed", err)
		return
	}

	for _, req := range reqs {
		if res.DryRun {
			res.ExpiredRequests++
			continue
		}
		ok, err := s.Requests.Expire(ctx, req.ID)
		if err != nil {
			s.fail(res, "expire request failed", err, "request_id", req.ID)
			continue
		}
		if ok {
			res.ExpiredRequests++
		}
	}
}

// roomPage lists one page of rooms after the cursor.
type roomPage func(ctx context.Context, age time.Duration, after *models.RoomCursor, limit int) ([]models.ChatRoom, error)

// eachRoom calls visit for every room list returns, page by page, until a
// short page comes back.
func (s *Scheduler) eachRoom(ctx context.Context, res *Result, what string, list roomPage, age time.Duration, visit func(room *models.ChatRoom)) {
	var after *models.RoomCursor
	for {
		if err := ctx.Err(); err != nil {
			s.fail(res, "list "+what+" rooms interrupted", err)
			return
		}
		page, err := list(ctx, age, after, s.BatchSize)
		if err != nil {
			s.fail(res, "list "+what+" rooms failed", err)
			return
		}
		for i := range page {
			visit(&page[i])
		}
		if s.BatchSize <= 0 || len(page) < s.BatchSize {
			return
		}
		after = page[len(page)-1].Cursor()
	}
}

func (s *Scheduler) endInactiveRooms(ctx context.Context, res *Result) {
	s.eachRoom(ctx, res, "active", s.Rooms.ListActiveOlderThan, s.Policy.RoomGracePeriod, func(room *models.ChatRoom) {
		abandoned, err := s.abandoned(ctx, room)
		if err != nil {
			s.fail(res, "presence lookup failed", err, "room_id", room.ID)
			return
		}
		if !abandoned {
			return
		}
		if res.DryRun {
			res.EndedRooms++
			return
		}

		ok, err := s.Rooms.End(ctx, room.ID)
		if err != nil {
			s.fail(res, "end room failed", err, "room_id", room.ID)
			return
		}
		if ok {
			res.EndedRooms++
			s.noticeEnded(ctx, room)
		}
	})
}

// abandoned reports whether every member has been offline longer than the
// inactivity window.
func (s *Scheduler) abandoned(ctx context.Context, room *models.ChatRoom) (bool, error) {
	for _, member := range room.Members() {
		offline, err := s.Presence.OfflineLongerThan(ctx, member, s.Policy.InactivityWindow)
		if err != nil || !offline {
			return false, err
		}
	}
	return true, nil
}

func (s *Scheduler) expireWaitingRooms(ctx context.Context, res *Result) {
	s.eachRoom(ctx, res, "waiting", s.Rooms.ListWaitingOlderThan, s.Policy.PendingTTL, func(room *models.ChatRoom) {
		if res.DryRun {
			res.ExpiredWaitingRooms++
			return
		}
		ok, err := s.Rooms.ExpireWaiting(ctx, room.ID)
		if err != nil {
			s.fail(res, "expire waiting room failed", err, "room_id", room.ID)
			return
		}
		if ok {
			res.ExpiredWaitingRooms++
		}
	})
}

func (s *Scheduler) noticeEnded(ctx context.Context, room *models.ChatRoom) {
	if s.Notices == nil {
		return
	}
	for _, member := range room.Members() {
		if member == "" {
			continue
		}
		err := s.Notices.PublishNotice(ctx, models.Notice{
			UserID: member,
			Type:   models.NoticeRoomEnded,
			RoomID: room.ID,
		})
		if err != nil {
			s.Logger.Warn("room ended notice failed", "room_id", room.ID, "user_id", member, "error", err)
		}
	}
}

func (s *Scheduler) fail(res *Result, msg string, err error, attrs ...any) {
	res.Failures++
	s.Logger.Error(msg, append(attrs, "error", err)...)
}

// Run sweeps every interval until ctx is done. Errors are logged.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, Options{}); err != nil {
				s.Logger.Error("sweep failed", "error", err)
			}
		}
	}
}
