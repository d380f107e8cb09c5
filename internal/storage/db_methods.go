package storage

import (
	"context"
	"errors"
	"time"

	"heartlink/backend/internal/models"

	"gorm.io/gorm"
)

// CreateMatchRequest inserts req. The partial unique index on pending
// requests turns a concurrent second submit into AlreadyPendingError.
func (s *Service) CreateMatchRequest(ctx context.Context, req *models.MatchRequest) error {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	err := db.Create(req).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		existing, findErr := s.FindPendingByUser(ctx, req.UserID)
		if findErr != nil {
			return findErr
		}
		return &models.AlreadyPendingError{Existing: existing}
	}
	return wrapErr(ctx, "create match request", err)
}

// GetMatchRequest returns models.ErrNotFound for unknown ids.
func (s *Service) GetMatchRequest(ctx context.Context, id string) (*models.MatchRequest, error) {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	var req models.MatchRequest
	err := db.Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr(ctx, "get match request", err)
	}
	return &req, nil
}

// FindPendingByUser returns nil without error when the user has nothing pending.
func (s *Service) FindPendingByUser(ctx context.Context, userID string) (*models.MatchRequest, error) {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	var req models.MatchRequest
	err := db.Where("user_id = ? AND status = ?", userID, models.MatchPending).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(ctx, "find pending request", err)
	}
	return &req, nil
}

// ListPending returns pending requests oldest first.
func (s *Service) ListPending(ctx context.Context, limit int) ([]models.MatchRequest, error) {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	var reqs []models.MatchRequest
	q := db.Where("status = ?", models.MatchPending).Order("created_at asc, id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&reqs).Error; err != nil {
		return nil, wrapErr(ctx, "list pending requests", err)
	}
	return reqs, nil
}

// ListPendingCreatedBefore returns pending requests created strictly before cutoff.
func (s *Service) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.MatchRequest, error) {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	var reqs []models.MatchRequest
	q := db.Where("status = ? AND created_at < ?", models.MatchPending, cutoff).Order("created_at asc, id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&reqs).Error; err != nil {
		return nil, wrapErr(ctx, "list expirable requests", err)
	}
	return reqs, nil
}

// ListPendingCreatedIn returns pending requests with after < created_at <= until.
func (s *Service) ListPendingCreatedIn(ctx context.Context, after, until time.Time) ([]models.MatchRequest, error) {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	var reqs []models.MatchRequest
	err := db.Where("status = ? AND created_at > ? AND created_at <= ?", models.MatchPending, after, until).
		Order("created_at asc, id asc").
		Find(&reqs).Error
	if err != nil {
		return nil, wrapErr(ctx, "list requests in window", err)
	}
	return reqs, nil
}

func (s *Service) CountPending(ctx context.Context) (int64, error) {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	var n int64
	err := db.Model(&models.MatchRequest{}).Where("status = ?", models.MatchPending).Count(&n).Error
	return n, wrapErr(ctx, "count pending requests", err)
}

func (s *Service) CountMatchRequests(ctx context.Context) (map[models.MatchStatus]int64, error) {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	var rows []struct {
		Status models.MatchStatus
		N      int64
	}
	err := db.Model(&models.MatchRequest{}).Select("status, count(*) as n").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, wrapErr(ctx, "count match requests", err)
	}
	counts := make(map[models.MatchStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// TransitionMatchRequest writes to only if the row is still in from.
// It reports false when another writer got there first.
func (s *Service) TransitionMatchRequest(ctx context.Context, id string, from, to models.MatchStatus, upd models.MatchUpdate) (bool, error) {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	values := map[string]interface{}{
		"status":     to,
		"updated_at": upd.UpdatedAt,
	}
	if upd.RoomID != nil {
		values["room_id"] = *upd.RoomID
	}
	if upd.MatchedWith != nil {
		values["matched_with"] = *upd.MatchedWith
	}
	if upd.MatchedAt != nil {
		values["matched_at"] = *upd.MatchedAt
	}

	res := db.Model(&models.MatchRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, wrapErr(ctx, "transition match request", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CreateRoom inserts room. A second active room for the same pair is rejected.
func (s *Service) CreateRoom(ctx context.Context, room *models.ChatRoom) error {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	err := db.Create(room).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &models.InvalidStateError{Entity: "room pair", ID: room.PairKey, Current: string(models.RoomActive), Want: "none"}
	}
	return wrapErr(ctx, "create room", err)
}

func (s *Service) GetRoom(ctx context.Context, id string) (*models.ChatRoom, error) {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	var room models.ChatRoom
	err := db.Where("id = ?", id).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr(ctx, "get room", err)
	}
	return &room, nil
}

// FindActiveRoomByPair returns nil without error when the pair has no active room.
func (s *Service) FindActiveRoomByPair(ctx context.Context, pairKey string) (*models.ChatRoom, error) {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	var room models.ChatRoom
	err := db.Where("pair_key = ? AND status = ?", pairKey, models.RoomActive).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(ctx, "find active room", err)
	}
	return &room, nil
}

// FindWaitingRoomByMember returns the user's oldest waiting room, or nil.
func (s *Service) FindWaitingRoomByMember(ctx context.Context, userID string) (*models.ChatRoom, error) {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	var room models.ChatRoom
	err := db.Where("member_a = ? AND status = ?", userID, models.RoomWaiting).
		Order("created_at asc, id asc").
		First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(ctx, "find waiting room", err)
	}
	return &room, nil
}

func (s *Service) ListRoomsCreatedBefore(ctx context.Context, status models.RoomStatus, cutoff time.Time, after *models.RoomCursor, limit int) ([]models.ChatRoom, error) {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	var rooms []models.ChatRoom
	q := db.Where("status = ? AND created_at < ?", status, cutoff).Order("created_at asc, id asc")
	if after != nil {
		q = q.Where("(created_at, id) > (?, ?)", after.CreatedAt, after.ID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rooms).Error; err != nil {
		return nil, wrapErr(ctx, "list rooms", err)
	}
	return rooms, nil
}

func (s *Service) CountRooms(ctx context.Context) (map[models.RoomStatus]int64, error) {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	var rows []struct {
		Status models.RoomStatus
		N      int64
	}
	err := db.Model(&models.ChatRoom{}).Select("status, count(*) as n").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, wrapErr(ctx, "count rooms", err)
	}
	counts := make(map[models.RoomStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// TransitionRoom writes to only if the room is still in from.
func (s *Service) TransitionRoom(ctx context.Context, id string, from, to models.RoomStatus, upd models.RoomUpdate) (bool, error) {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	values := map[string]interface{}{
		"status":     to,
		"updated_at": upd.UpdatedAt,
	}
	if upd.MemberB != nil {
		values["member_b"] = *upd.MemberB
	}
	if upd.PairKey != nil {
		values["pair_key"] = *upd.PairKey
	}
	if upd.EndedAt != nil {
		values["ended_at"] = *upd.EndedAt
	}
	if upd.LastActivityAt != nil {
		values["last_activity_at"] = *upd.LastActivityAt
	}

	res := db.Model(&models.ChatRoom{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, &models.InvalidStateError{Entity: "room", ID: id, Current: string(from), Want: string(to)}
		}
		return false, wrapErr(ctx, "transition room", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// TouchRoom moves last_activity_at forward on an active room.
func (s *Service) TouchRoom(ctx context.Context, id string, at time.Time) (bool, error) {
	ctx, db, cancel := s.with(ctx)
	defer cancel()

	res := db.Model(&models.ChatRoom{}).
		Where("id = ? AND status = ? AND last_activity_at < ?", id, models.RoomActive, at).
		Updates(map[string]interface{}{"last_activity_at": at, "updated_at": at})
	if res.Error != nil {
		return false, wrapErr(ctx, "touch room", res.Error)
	}
	return res.RowsAffected == 1, nil
}
