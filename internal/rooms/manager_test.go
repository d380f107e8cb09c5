package rooms_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"heartlink/backend/internal/clock"
	"heartlink/backend/internal/models"
	"heartlink/backend/internal/rooms"
	"heartlink/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newManager() (*rooms.Manager, *storage.Memory, *clock.Fake) {
	store := storage.NewMemory()
	clk := clock.NewFake(t0)
	return rooms.NewManager(store, clk), store, clk
}

func TestManager_CreateForMatch(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager()

	room, err := m.CreateForMatch(ctx, "user_A", "user_B")
	require.NoError(t, err)

	assert.Equal(t, models.RoomActive, room.Status)
	assert.True(t, room.HasMember("user_A"))
	assert.True(t, room.HasMember("user_B"))
	assert.Equal(t, t0, room.CreatedAt)
	assert.Equal(t, t0, room.LastActivityAt)
	assert.Nil(t, room.EndedAt)
}

func TestManager_CreateForMatchRejectsSecondActiveRoom(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager()

	_, err := m.CreateForMatch(ctx, "user_A", "user_B")
	require.NoError(t, err)

	_, err = m.CreateForMatch(ctx, "user_B", "user_A")
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestManager_CreateForMatchRejectsSelfPair(t *testing.T) {
	m, _, _ := newManager()

	_, err := m.CreateForMatch(context.Background(), "user_A", "user_A")

	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestManager_NewRoomAfterPreviousEnded(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager()

	first, err := m.CreateForMatch(ctx, "user_A", "user_B")
	require.NoError(t, err)
	ended, err := m.End(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, ended)

	second, err := m.CreateForMatch(ctx, "user_A", "user_B")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestManager_WaitingRoomJoin(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager()

	room, err := m.OpenWaiting(ctx, "user_A")
	require.NoError(t, err)
	assert.Equal(t, models.RoomWaiting, room.Status)
	assert.Empty(t, room.MemberB)

	clk.Advance(time.Minute)
	joined, err := m.Join(ctx, room.ID, "user_B")
	require.NoError(t, err)

	assert.Equal(t, models.RoomActive, joined.Status)
	assert.Equal(t, "user_B", joined.MemberB)
	assert.Equal(t, t0.Add(time.Minute), joined.LastActivityAt)

	_, err = m.Join(ctx, room.ID, "user_C")
	assert.ErrorIs(t, err, models.ErrInvalidState)

	// The joined pair now owns the one active room for that pair.
	_, err = m.CreateForMatch(ctx, "user_A", "user_B")
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestManager_JoinRejectsOwnRoom(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager()

	room, err := m.OpenWaiting(ctx, "user_A")
	require.NoError(t, err)

	_, err = m.Join(ctx, room.ID, "user_A")
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestManager_RecordActivity(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager()

	room, err := m.CreateForMatch(ctx, "user_A", "user_B")
	require.NoError(t, err)

	clk.Advance(3 * time.Minute)
	require.NoError(t, m.RecordActivity(ctx, room.ID, "user_B"))

	got, err := m.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(3*time.Minute), got.LastActivityAt)

	// Same instant again is accepted without moving anything.
	require.NoError(t, m.RecordActivity(ctx, room.ID, "user_A"))
}

func TestManager_RecordActivityRejectsOutsiders(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager()

	room, err := m.CreateForMatch(ctx, "user_A", "user_B")
	require.NoError(t, err)

	err = m.RecordActivity(ctx, room.ID, "user_C")
	assert.ErrorIs(t, err, models.ErrNotMember)
}

func TestManager_EndedRoomIsReadOnly(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager()

	room, err := m.CreateForMatch(ctx, "user_A", "user_B")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	ended, err := m.End(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, ended)

	got, err := m.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomArchived, got.Status, "ended rooms are archived in the same write")
	assert.True(t, got.Status.Closed())
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, t0.Add(time.Minute), *got.EndedAt)

	clk.Advance(24 * time.Hour)
	got, err = m.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomArchived, got.Status)

	err = m.RecordActivity(ctx, room.ID, "user_A")
	var invalid *models.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, string(models.RoomArchived), invalid.Current)

	again, err := m.End(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, again, "ending twice is a no-op")
}

func TestManager_ArchiveAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newManager()

	room, err := m.CreateForMatch(ctx, "user_A", "user_B")
	require.NoError(t, err)

	assert.ErrorIs(t, m.Archive(ctx, room.ID), models.ErrInvalidState, "active rooms cannot be archived")
	assert.ErrorIs(t, m.SoftDelete(ctx, room.ID), models.ErrInvalidState)

	// A row left in ended by an older writer.
	endedAt := t0
	ok, err := store.TransitionRoom(ctx, room.ID, models.RoomActive, models.RoomEnded, models.RoomUpdate{EndedAt: &endedAt, UpdatedAt: t0})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.Archive(ctx, room.ID))
	assert.ErrorIs(t, m.Archive(ctx, room.ID), models.ErrInvalidState)
	require.NoError(t, m.SoftDelete(ctx, room.ID))

	got, err := m.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomDeleted, got.Status)
	assert.NotNil(t, got.EndedAt, "ended_at survives later transitions")
}

func TestManager_ExpireWaiting(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager()

	room, err := m.OpenWaiting(ctx, "user_A")
	require.NoError(t, err)

	clk.Advance(11 * time.Minute)
	stale, err := m.ListWaitingOlderThan(ctx, 10*time.Minute, nil, 0)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	ok, err := m.ExpireWaiting(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStats{Archived: 1}, stats)
}

func TestManager_ListActiveOlderThanPages(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager()

	var want []string
	for i := 0; i < 5; i++ {
		room, err := m.CreateForMatch(ctx, fmt.Sprintf("user_%d", i), "partner")
		require.NoError(t, err)
		want = append(want, room.ID)
		if i%2 == 0 {
			clk.Advance(time.Second)
		}
	}
	clk.Advance(time.Hour)

	var got []string
	var after *models.RoomCursor
	for {
		page, err := m.ListActiveOlderThan(ctx, time.Minute, after, 2)
		require.NoError(t, err)
		for _, r := range page {
			got = append(got, r.ID)
		}
		if len(page) < 2 {
			break
		}
		after = page[len(page)-1].Cursor()
	}
	assert.ElementsMatch(t, want, got)
	assert.Len(t, got, 5, "no room is listed twice")
}

func TestManager_OpenWaitingReturnsExistingRoom(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager()

	first, err := m.OpenWaiting(ctx, "user_A")
	require.NoError(t, err)
	second, err := m.OpenWaiting(ctx, "user_A")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestManager_CreateForMatchAdoptsWaitingRoom(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager()

	waiting, err := m.OpenWaiting(ctx, "user_B")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	room, err := m.CreateForMatch(ctx, "user_A", "user_B")
	require.NoError(t, err)

	assert.Equal(t, waiting.ID, room.ID)
	assert.Equal(t, models.RoomActive, room.Status)
	assert.Equal(t, "user_B", room.MemberA)
	assert.Equal(t, "user_A", room.MemberB)
	assert.Equal(t, t0.Add(time.Minute), room.LastActivityAt)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStats{Active: 1}, stats)
}

func TestManager_CreateForMatchClosesSecondWaitingRoom(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager()

	roomA, err := m.OpenWaiting(ctx, "user_A")
	require.NoError(t, err)
	roomB, err := m.OpenWaiting(ctx, "user_B")
	require.NoError(t, err)

	room, err := m.CreateForMatch(ctx, "user_A", "user_B")
	require.NoError(t, err)
	assert.Equal(t, roomA.ID, room.ID)

	leftover, err := m.Get(ctx, roomB.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomArchived, leftover.Status)
	assert.NotNil(t, leftover.EndedAt)
}

func TestManager_ListActiveOlderThan(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager()

	old, err := m.CreateForMatch(ctx, "user_A", "user_B")
	require.NoError(t, err)
	clk.Advance(4 * time.Minute)
	_, err = m.CreateForMatch(ctx, "user_C", "user_D")
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)

	got, err := m.ListActiveOlderThan(ctx, 5*time.Minute, nil, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, old.ID, got[0].ID)
}

func TestManager_GetUnknownRoom(t *testing.T) {
	m, _, _ := newManager()

	_, err := m.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, m.RecordActivity(context.Background(), "missing", "user_A"), models.ErrNotFound)
}
