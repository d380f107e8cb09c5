package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"heartlink/backend/internal/models"
)

// Memory is an in-process implementation of Storage, PresenceStore and the
// notice pub/sub. It backs tests and single-instance development runs.
type Memory struct {
	mu   *sync.Mutex
	st   *memState
	inTx bool
}

type memState struct {
	requests map[string]models.MatchRequest
	reqSeq   map[string]int64
	rooms    map[string]models.ChatRoom
	presence map[string]time.Time
	seq      int64
	subs     []chan models.Notice
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		mu: &sync.Mutex{},
		st: &memState{
			requests: make(map[string]models.MatchRequest),
			reqSeq:   make(map[string]int64),
			rooms:    make(map[string]models.ChatRoom),
			presence: make(map[string]time.Time),
		},
	}
}

// lock is a no-op inside Atomic, where the mutex is already held.
func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func checkCtx(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &models.StorageTimeoutError{Op: op, Err: err}
		}
		return err
	}
	return nil
}

// Atomic holds the store lock for the whole of fn and restores the previous
// state if fn fails.
func (m *Memory) Atomic(ctx context.Context, fn func(tx Storage) error) error {
	if m.inTx {
		return fn(m)
	}
	if err := checkCtx(ctx, "atomic"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&Memory{mu: m.mu, st: m.st, inTx: true}); err != nil {
		m.st.restore(snapshot)
		return err
	}
	return nil
}

func (s *memState) clone() *memState {
	c := &memState{
		requests: make(map[string]models.MatchRequest, len(s.requests)),
		reqSeq:   make(map[string]int64, len(s.reqSeq)),
		rooms:    make(map[string]models.ChatRoom, len(s.rooms)),
		seq:      s.seq,
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.reqSeq {
		c.reqSeq[k] = v
	}
	for k, v := range s.rooms {
		c.rooms[k] = v
	}
	return c
}

// restore rolls back requests and rooms. Presence and subscribers are not transactional.
func (s *memState) restore(c *memState) {
	s.requests = c.requests
	s.reqSeq = c.reqSeq
	s.rooms = c.rooms
	s.seq = c.seq
}

func (m *Memory) CreateMatchRequest(ctx context.Context, req *models.MatchRequest) error {
	if err := checkCtx(ctx, "create match request"); err != nil {
		return err
	}
	defer m.lock()()

	if _, ok := m.st.requests[req.ID]; ok {
		return &models.InvalidStateError{Entity: "match request", ID: req.ID, Current: "exists", Want: "new"}
	}
	if req.Status == models.MatchPending {
		for _, r := range m.st.requests {
			if r.UserID == req.UserID && r.Status == models.MatchPending {
				existing := r
				return &models.AlreadyPendingError{Existing: &existing}
			}
		}
	}
	m.st.seq++
	m.st.requests[req.ID] = *req
	m.st.reqSeq[req.ID] = m.st.seq
	return nil
}

func (m *Memory) GetMatchRequest(ctx context.Context, id string) (*models.MatchRequest, error) {
	if err := checkCtx(ctx, "get match request"); err != nil {
		return nil, err
	}
	defer m.lock()()

	r, ok := m.st.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &r, nil
}

func (m *Memory) FindPendingByUser(ctx context.Context, userID string) (*models.MatchRequest, error) {
	if err := checkCtx(ctx, "find pending request"); err != nil {
		return nil, err
	}
	defer m.lock()()

	for _, r := range m.st.requests {
		if r.UserID == userID && r.Status == models.MatchPending {
			return &r, nil
		}
	}
	return nil, nil
}

// pending returns the pending requests matching keep, oldest first.
func (m *Memory) pending(keep func(models.MatchRequest) bool, limit int) []models.MatchRequest {
	var out []models.MatchRequest
	for _, r := range m.st.requests {
		if r.Status == models.MatchPending && keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return m.st.reqSeq[out[i].ID] < m.st.reqSeq[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Memory) ListPending(ctx context.Context, limit int) ([]models.MatchRequest, error) {
	if err := checkCtx(ctx, "list pending requests"); err != nil {
		return nil, err
	}
	defer m.lock()()

	return m.pending(func(models.MatchRequest) bool { return true }, limit), nil
}

func (m *Memory) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.MatchRequest, error) {
	if err := checkCtx(ctx, "list expirable requests"); err != nil {
		return nil, err
	}
	defer m.lock()()

	return m.pending(func(r models.MatchRequest) bool { return r.CreatedAt.Before(cutoff) }, limit), nil
}

func (m *Memory) ListPendingCreatedIn(ctx context.Context, after, until time.Time) ([]models.MatchRequest, error) {
	if err := checkCtx(ctx, "list requests in window"); err != nil {
		return nil, err
	}
	defer m.lock()()

	return m.pending(func(r models.MatchRequest) bool {
		return r.CreatedAt.After(after) && !r.CreatedAt.After(until)
	}, 0), nil
}

func (m *Memory) CountPending(ctx context.Context) (int64, error) {
	if err := checkCtx(ctx, "count pending requests"); err != nil {
		return 0, err
	}
	defer m.lock()()

	var n int64
	for _, r := range m.st.requests {
		if r.Status == models.MatchPending {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountMatchRequests(ctx context.Context) (map[models.MatchStatus]int64, error) {
	if err := checkCtx(ctx, "count match requests"); err != nil {
		return nil, err
	}
	defer m.lock()()

	counts := make(map[models.MatchStatus]int64)
	for _, r := range m.st.requests {
		counts[r.Status]++
	}
	return counts, nil
}

func (m *Memory) TransitionMatchRequest(ctx context.Context, id string, from, to models.MatchStatus, upd models.MatchUpdate) (bool, error) {
	if err := checkCtx(ctx, "transition match request"); err != nil {
		return false, err
	}
	defer m.lock()()

	r, ok := m.st.requests[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = upd.UpdatedAt
	if upd.RoomID != nil {
		r.RoomID = upd.RoomID
	}
	if upd.MatchedWith != nil {
		r.MatchedWith = upd.MatchedWith
	}
	if upd.MatchedAt != nil {
		r.MatchedAt = upd.MatchedAt
	}
	m.st.requests[id] = r
	return true, nil
}

func (m *Memory) CreateRoom(ctx context.Context, room *models.ChatRoom) error {
	if err := checkCtx(ctx, "create room"); err != nil {
		return err
	}
	defer m.lock()()

	if _, ok := m.st.rooms[room.ID]; ok {
		return &models.InvalidStateError{Entity: "room", ID: room.ID, Current: "exists", Want: "new"}
	}
	if room.Status == models.RoomActive && m.activeByPair(room.PairKey) != nil {
		return &models.InvalidStateError{Entity: "room pair", ID: room.PairKey, Current: string(models.RoomActive), Want: "none"}
	}
	m.st.rooms[room.ID] = *room
	return nil
}

func (m *Memory) activeByPair(pairKey string) *models.ChatRoom {
	for _, r := range m.st.rooms {
		if r.PairKey == pairKey && r.Status == models.RoomActive {
			return &r
		}
	}
	return nil
}

func (m *Memory) GetRoom(ctx context.Context, id string) (*models.ChatRoom, error) {
	if err := checkCtx(ctx, "get room"); err != nil {
		return nil, err
	}
	defer m.lock()()

	r, ok := m.st.rooms[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &r, nil
}

func (m *Memory) FindActiveRoomByPair(ctx context.Context, pairKey string) (*models.ChatRoom, error) {
	if err := checkCtx(ctx, "find active room"); err != nil {
		return nil, err
	}
	defer m.lock()()

	return m.activeByPair(pairKey), nil
}

func (m *Memory) FindWaitingRoomByMember(ctx context.Context, userID string) (*models.ChatRoom, error) {
	if err := checkCtx(ctx, "find waiting room"); err != nil {
		return nil, err
	}
	defer m.lock()()

	out := m.rooms(func(r models.ChatRoom) bool {
		return r.Status == models.RoomWaiting && r.MemberA == userID
	})
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func (m *Memory) ListRoomsCreatedBefore(ctx context.Context, status models.RoomStatus, cutoff time.Time, after *models.RoomCursor, limit int) ([]models.ChatRoom, error) {
	if err := checkCtx(ctx, "list rooms"); err != nil {
		return nil, err
	}
	defer m.lock()()

	out := m.rooms(func(r models.ChatRoom) bool {
		return r.Status == status && r.CreatedAt.Before(cutoff) && (after == nil || afterCursor(r, after))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// rooms returns the rooms matching keep ordered by (CreatedAt, ID).
func (m *Memory) rooms(keep func(models.ChatRoom) bool) []models.ChatRoom {
	var out []models.ChatRoom
	for _, r := range m.st.rooms {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func afterCursor(r models.ChatRoom, c *models.RoomCursor) bool {
	if r.CreatedAt.Equal(c.CreatedAt) {
		return r.ID > c.ID
	}
	return r.CreatedAt.After(c.CreatedAt)
}

func (m *Memory) CountRooms(ctx context.Context) (map[models.RoomStatus]int64, error) {
	if err := checkCtx(ctx, "count rooms"); err != nil {
		return nil, err
	}
	defer m.lock()()

	counts := make(map[models.RoomStatus]int64)
	for _, r := range m.st.rooms {
		counts[r.Status]++
	}
	return counts, nil
}

func (m *Memory) TransitionRoom(ctx context.Context, id string, from, to models.RoomStatus, upd models.RoomUpdate) (bool, error) {
	if err := checkCtx(ctx, "transition room"); err != nil {
		return false, err
	}
	defer m.lock()()

	r, ok := m.st.rooms[id]
	if !ok || r.Status != from {
		return false, nil
	}
	pairKey := r.PairKey
	if upd.PairKey != nil {
		pairKey = *upd.PairKey
	}
	if to == models.RoomActive {
		if other := m.activeByPair(pairKey); other != nil && other.ID != id {
			return false, &models.InvalidStateError{Entity: "room", ID: id, Current: string(from), Want: string(to)}
		}
	}
	r.Status = to
	r.PairKey = pairKey
	r.UpdatedAt = upd.UpdatedAt
	if upd.MemberB != nil {
		r.MemberB = *upd.MemberB
	}
	if upd.EndedAt != nil {
		r.EndedAt = upd.EndedAt
	}
	if upd.LastActivityAt != nil {
		r.LastActivityAt = *upd.LastActivityAt
	}
	m.st.rooms[id] = r
	return true, nil
}

func (m *Memory) TouchRoom(ctx context.Context, id string, at time.Time) (bool, error) {
	if err := checkCtx(ctx, "touch room"); err != nil {
		return false, err
	}
	defer m.lock()()

	r, ok := m.st.rooms[id]
	if !ok || r.Status != models.RoomActive || !r.LastActivityAt.Before(at) {
		return false, nil
	}
	r.LastActivityAt = at
	r.UpdatedAt = at
	m.st.rooms[id] = r
	return true, nil
}

// TouchPresence keeps the later of the stored and the given timestamp.
func (m *Memory) TouchPresence(ctx context.Context, userID string, at time.Time) error {
	if err := checkCtx(ctx, "touch presence"); err != nil {
		return err
	}
	defer m.lock()()

	if prev, ok := m.st.presence[userID]; !ok || at.After(prev) {
		m.st.presence[userID] = at
	}
	return nil
}

func (m *Memory) GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error) {
	if err := checkCtx(ctx, "get presence"); err != nil {
		return nil, err
	}
	defer m.lock()()

	at, ok := m.st.presence[userID]
	if !ok {
		return nil, nil
	}
	return &models.PresenceRecord{UserID: userID, LastSeenAt: at}, nil
}

// PublishNotice drops the notice for subscribers whose buffer is full.
func (m *Memory) PublishNotice(ctx context.Context, n models.Notice) error {
	if err := checkCtx(ctx, "publish notice"); err != nil {
		return err
	}
	defer m.lock()()

	for _, ch := range m.st.subs {
		select {
		case ch <- n:
		default:
		}
	}
	return nil
}

func (m *Memory) SubscribeNotices(ctx context.Context) (<-chan models.Notice, error) {
	if err := checkCtx(ctx, "subscribe notices"); err != nil {
		return nil, err
	}
	ch := make(chan models.Notice, 64)

	unlock := m.lock()
	m.st.subs = append(m.st.subs, ch)
	unlock()

	go func() {
		<-ctx.Done()
		defer m.lock()()
		for i, c := range m.st.subs {
			if c == ch {
				m.st.subs = append(m.st.subs[:i], m.st.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}
