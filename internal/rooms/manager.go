// Package rooms owns chat room creation and the room state machine:
// waiting -> active -> archived -> deleted. Closing a room sets EndedAt and
// archives it in the same write, so rooms are not left in ended.
package rooms

import (
	"context"
	"log/slog"
	"time"

	"heartlink/backend/internal/clock"
	"heartlink/backend/internal/models"
	"heartlink/backend/internal/storage"

	"github.com/google/uuid"
)

// Manager is the only writer of ChatRoom records.
type Manager struct {
	Storage storage.Storage
	Clock   clock.Clock
	Logger  *slog.Logger
}

// NewManager creates a room Manager.
func NewManager(s storage.Storage, c clock.Clock) *Manager {
	if c == nil {
		c = clock.Real{}
	}
	return &Manager{Storage: s, Clock: c, Logger: slog.Default()}
}

// CreateForMatch opens an active room for a freshly matched pair.
func (m *Manager) CreateForMatch(ctx context.Context, a, b string) (*models.ChatRoom, error) {
	return m.CreateForMatchTx(ctx, m.Storage, a, b)
}

// CreateForMatchTx is CreateForMatch bound to the caller's transaction, so a
// pairing that loses its race also discards the room. A waiting room of
// either member becomes the pair's room.
func (m *Manager) CreateForMatchTx(ctx context.Context, tx storage.RoomStore, a, b string) (*models.ChatRoom, error) {
	key := models.PairKey(a, b)
	if a == "" || b == "" || a == b {
		return nil, &models.InvalidStateError{Entity: "room pair", ID: key, Current: "incomplete", Want: "two distinct members"}
	}

	existing, err := tx.FindActiveRoomByPair(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &models.InvalidStateError{Entity: "room pair", ID: key, Current: string(models.RoomActive), Want: "none"}
	}

	now := m.Clock.Now()
	adopted, err := m.adoptWaiting(ctx, tx, a, b, now)
	if err != nil || adopted != nil {
		return adopted, err
	}

	room := &models.ChatRoom{
		ID:             uuid.New().String(),
		MemberA:        a,
		MemberB:        b,
		PairKey:        key,
		Status:         models.RoomActive,
		CreatedAt:      now,
		LastActivityAt: now,
		UpdatedAt:      now,
	}
	if err := tx.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// adoptWaiting activates the first waiting room found for a then b with the
// other user as partner. A second waiting room is closed. It returns nil
// when neither user is waiting.
func (m *Manager) adoptWaiting(ctx context.Context, tx storage.RoomStore, a, b string, now time.Time) (*models.ChatRoom, error) {
	key := models.PairKey(a, b)
	var adopted string
	for _, p := range [][2]string{{a, b}, {b, a}} {
		owner, guest := p[0], p[1]
		waiting, err := tx.FindWaitingRoomByMember(ctx, owner)
		if err != nil {
			return nil, err
		}
		if waiting == nil {
			continue
		}

		if adopted == "" {
			ok, err := tx.TransitionRoom(ctx, waiting.ID, models.RoomWaiting, models.RoomActive, models.RoomUpdate{
				MemberB:        &guest,
				PairKey:        &key,
				LastActivityAt: &now,
				UpdatedAt:      now,
			})
			if err != nil {
				return nil, err
			}
			if ok {
				adopted = waiting.ID
				m.Logger.Info("waiting room joined by match", "room_id", waiting.ID, "owner", owner, "guest", guest)
			}
			continue
		}
		if _, err := m.closeTx(ctx, tx, waiting.ID, models.RoomWaiting, now); err != nil {
			return nil, err
		}
	}
	if adopted == "" {
		return nil, nil
	}
	return tx.GetRoom(ctx, adopted)
}

// OpenWaiting opens a single-member room that waits for a partner to Join.
// A user already waiting gets their existing room back.
func (m *Manager) OpenWaiting(ctx context.Context, a string) (*models.ChatRoom, error) {
	if a == "" {
		return nil, &models.InvalidStateError{Entity: "room", ID: "", Current: "no member", Want: "one member"}
	}
	existing, err := m.Storage.FindWaitingRoomByMember(ctx, a)
	if err != nil || existing != nil {
		return existing, err
	}
	now := m.Clock.Now()
	room := &models.ChatRoom{
		ID:             uuid.New().String(),
		MemberA:        a,
		PairKey:        models.PairKey(a, ""),
		Status:         models.RoomWaiting,
		CreatedAt:      now,
		LastActivityAt: now,
		UpdatedAt:      now,
	}
	if err := m.Storage.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// Join fills the second slot of a waiting room and activates it.
func (m *Manager) Join(ctx context.Context, roomID, user string) (*models.ChatRoom, error) {
	room, err := m.Storage.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomWaiting {
		return nil, invalidRoom(room, models.RoomWaiting)
	}
	if user == "" || user == room.MemberA {
		return nil, &models.InvalidStateError{Entity: "room", ID: roomID, Current: "same member", Want: "distinct member"}
	}

	key := models.PairKey(room.MemberA, user)
	existing, err := m.Storage.FindActiveRoomByPair(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &models.InvalidStateError{Entity: "room pair", ID: key, Current: string(models.RoomActive), Want: "none"}
	}

	now := m.Clock.Now()
	ok, err := m.Storage.TransitionRoom(ctx, roomID, models.RoomWaiting, models.RoomActive, models.RoomUpdate{
		MemberB:        &user,
		PairKey:        &key,
		LastActivityAt: &now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, m.reloadInvalid(ctx, roomID, models.RoomWaiting)
	}
	return m.Storage.GetRoom(ctx, roomID)
}

// RecordActivity moves the room's last activity forward. Only members of an
// active room may do so.
func (m *Manager) RecordActivity(ctx context.Context, roomID, user string) error {
	room, err := m.Storage.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasMember(user) {
		return models.ErrNotMember
	}
	if room.Status != models.RoomActive {
		return invalidRoom(room, models.RoomActive)
	}

	ok, err := m.Storage.TouchRoom(ctx, roomID, m.Clock.Now())
	if err != nil || ok {
		return err
	}
	// Not touched: either a newer timestamp is already stored or the room
	// left active in between.
	return m.reloadInvalidUnless(ctx, roomID, models.RoomActive)
}

// End closes an active room: EndedAt is set and the room goes straight to
// archived. It reports false when the room was no longer active, which
// callers treat as already handled. Match requests and presence are left as
// they are.
func (m *Manager) End(ctx context.Context, roomID string) (bool, error) {
	return m.closeTx(ctx, m.Storage, roomID, models.RoomActive, m.Clock.Now())
}

// ExpireWaiting closes a waiting room whose partner never arrived.
func (m *Manager) ExpireWaiting(ctx context.Context, roomID string) (bool, error) {
	return m.closeTx(ctx, m.Storage, roomID, models.RoomWaiting, m.Clock.Now())
}

func (m *Manager) closeTx(ctx context.Context, tx storage.RoomStore, roomID string, from models.RoomStatus, now time.Time) (bool, error) {
	ok, err := tx.TransitionRoom(ctx, roomID, from, models.RoomArchived, models.RoomUpdate{
		EndedAt:   &now,
		UpdatedAt: now,
	})
	if err != nil {
		return false, err
	}
	if ok {
		m.Logger.Info("room ended", "room_id", roomID, "from", from)
	}
	return ok, nil
}

// Archive moves a room left in ended to archived. Rooms closed by End are
// archived already.
func (m *Manager) Archive(ctx context.Context, roomID string) error {
	return m.advance(ctx, roomID, models.RoomEnded, models.RoomArchived)
}

// SoftDelete marks an archived room deleted. Rows are never removed here.
func (m *Manager) SoftDelete(ctx context.Context, roomID string) error {
	return m.advance(ctx, roomID, models.RoomArchived, models.RoomDeleted)
}

func (m *Manager) advance(ctx context.Context, roomID string, from, to models.RoomStatus) error {
	ok, err := m.Storage.TransitionRoom(ctx, roomID, from, to, models.RoomUpdate{UpdatedAt: m.Clock.Now()})
	if err != nil {
		return err
	}
	if !ok {
		return m.reloadInvalid(ctx, roomID, from)
	}
	return nil
}

// Get returns models.ErrNotFound for unknown rooms.
func (m *Manager) Get(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	return m.Storage.GetRoom(ctx, roomID)
}

// ListActiveOlderThan returns a page of active rooms created more than age
// ago, starting after the given cursor.
func (m *Manager) ListActiveOlderThan(ctx context.Context, age time.Duration, after *models.RoomCursor, limit int) ([]models.ChatRoom, error) {
	return m.Storage.ListRoomsCreatedBefore(ctx, models.RoomActive, m.Clock.Now().Add(-age), after, limit)
}

// ListWaitingOlderThan is ListActiveOlderThan for waiting rooms.
func (m *Manager) ListWaitingOlderThan(ctx context.Context, age time.Duration, after *models.RoomCursor, limit int) ([]models.ChatRoom, error) {
	return m.Storage.ListRoomsCreatedBefore(ctx, models.RoomWaiting, m.Clock.Now().Add(-age), after, limit)
}

// Stats counts rooms by status.
func (m *Manager) Stats(ctx context.Context) (models.RoomStats, error) {
	counts, err := m.Storage.CountRooms(ctx)
	if err != nil {
		return models.RoomStats{}, err
	}
	return models.RoomStats{
		Waiting:  counts[models.RoomWaiting],
		Active:   counts[models.RoomActive],
		Ended:    counts[models.RoomEnded],
		Archived: counts[models.RoomArchived],
		Deleted:  counts[models.RoomDeleted],
	}, nil
}

func (m *Manager) reloadInvalid(ctx context.Context, roomID string, want models.RoomStatus) error {
	room, err := m.Storage.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	return invalidRoom(room, want)
}

func (m *Manager) reloadInvalidUnless(ctx context.Context, roomID string, want models.RoomStatus) error {
	room, err := m.Storage.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status == want {
		return nil
	}
	return invalidRoom(room, want)
}

func invalidRoom(room *models.ChatRoom, want models.RoomStatus) error {
	return &models.InvalidStateError{Entity: "room", ID: room.ID, Current: string(room.Status), Want: string(want)}
}
