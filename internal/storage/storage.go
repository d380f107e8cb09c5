package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"heartlink/backend/internal/config"
	"heartlink/backend/internal/models"

	"gorm.io/gorm"
)

// MatchStore persists match requests. Status changes go through
// TransitionMatchRequest, which only writes when the stored status still
// equals from.
type MatchStore interface {
	CreateMatchRequest(ctx context.Context, req *models.MatchRequest) error
	GetMatchRequest(ctx context.Context, id string) (*models.MatchRequest, error)
	FindPendingByUser(ctx context.Context, userID string) (*models.MatchRequest, error)
	ListPending(ctx context.Context, limit int) ([]models.MatchRequest, error)
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.MatchRequest, error)
	ListPendingCreatedIn(ctx context.Context, after, until time.Time) ([]models.MatchRequest, error)
	CountPending(ctx context.Context) (int64, error)
	CountMatchRequests(ctx context.Context) (map[models.MatchStatus]int64, error)
	TransitionMatchRequest(ctx context.Context, id string, from, to models.MatchStatus, upd models.MatchUpdate) (bool, error)
}

// RoomStore persists chat rooms with the same compare-and-swap rule.
type RoomStore interface {
	CreateRoom(ctx context.Context, room *models.ChatRoom) error
	GetRoom(ctx context.Context, id string) (*models.ChatRoom, error)
	FindActiveRoomByPair(ctx context.Context, pairKey string) (*models.ChatRoom, error)
	FindWaitingRoomByMember(ctx context.Context, userID string) (*models.ChatRoom, error)
	// ListRoomsCreatedBefore pages by (CreatedAt, ID); a nil after starts at the oldest room.
	ListRoomsCreatedBefore(ctx context.Context, status models.RoomStatus, cutoff time.Time, after *models.RoomCursor, limit int) ([]models.ChatRoom, error)
	CountRooms(ctx context.Context) (map[models.RoomStatus]int64, error)
	TransitionRoom(ctx context.Context, id string, from, to models.RoomStatus, upd models.RoomUpdate) (bool, error)
	TouchRoom(ctx context.Context, id string, at time.Time) (bool, error)
}

// Storage is the transactional store of record for requests and rooms.
type Storage interface {
	MatchStore
	RoomStore
	// Atomic runs fn inside one transaction. Any error returned by fn rolls back.
	Atomic(ctx context.Context, fn func(tx Storage) error) error
}

// PresenceStore keeps one last-seen timestamp per user. Writes never move a
// timestamp backwards.
type PresenceStore interface {
	TouchPresence(ctx context.Context, userID string, at time.Time) error
	GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error)
}

// NoticePublisher fans notices out to whichever instance holds the user's connection.
type NoticePublisher interface {
	PublishNotice(ctx context.Context, n models.Notice) error
}

// NoticeSubscriber delivers notices published by any instance.
type NoticeSubscriber interface {
	SubscribeNotices(ctx context.Context) (<-chan models.Notice, error)
}

// Service is the Postgres implementation of Storage.
type Service struct {
	DB      *gorm.DB
	Timeout time.Duration
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = config.DefaultStorageWait
	}
	return &Service{DB: db, Timeout: timeout}
}

// AutoMigrate creates the match and room tables with their partial unique indexes.
func (s *Service) AutoMigrate() error {
	return s.DB.AutoMigrate(&models.MatchRequest{}, &models.ChatRoom{})
}

// Atomic runs fn in a gorm transaction.
func (s *Service) Atomic(ctx context.Context, fn func(tx Storage) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Service{DB: tx, Timeout: s.Timeout})
	})
}

// with bounds a single statement by the storage timeout.
func (s *Service) with(ctx context.Context) (context.Context, *gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	return ctx, s.DB.WithContext(ctx), cancel
}

// wrapErr turns deadline overruns into StorageTimeoutError and annotates the rest.
func wrapErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &models.StorageTimeoutError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
