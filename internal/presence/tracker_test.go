package presence_test

import (
	"context"
	"testing"
	"time"

	"heartlink/backend/internal/clock"
	"heartlink/backend/internal/models"
	"heartlink/backend/internal/presence"
	"heartlink/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestTracker_HeartbeatMakesUserOnline(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	tracker := presence.NewTracker(storage.NewMemory(), clk)

	require.NoError(t, tracker.Heartbeat(ctx, "user_A"))

	online, err := tracker.IsOnline(ctx, "user_A", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, online)

	clk.Advance(5 * time.Minute)
	online, err = tracker.IsOnline(ctx, "user_A", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, online, "window boundary is exclusive")
}

func TestTracker_UnknownUserIsOffline(t *testing.T) {
	tracker := presence.NewTracker(storage.NewMemory(), clock.NewFake(t0))

	online, err := tracker.IsOnline(context.Background(), "ghost", time.Hour)

	assert.NoError(t, err)
	assert.False(t, online)

	_, seen, err := tracker.LastSeen(context.Background(), "ghost")
	assert.NoError(t, err)
	assert.False(t, seen)
}

func TestTracker_VacantSlotIsOffline(t *testing.T) {
	tracker := presence.NewTracker(storage.NewMemory(), clock.NewFake(t0))

	offline, err := tracker.OfflineLongerThan(context.Background(), "", time.Minute)

	assert.NoError(t, err)
	assert.True(t, offline)
}

func TestTracker_LastSeenNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	clk := clock.NewFake(t0)
	tracker := presence.NewTracker(store, clk)

	clk.Advance(2 * time.Minute)
	require.NoError(t, tracker.Heartbeat(ctx, "user_A"))

	// A delayed write carrying an older timestamp loses.
	require.NoError(t, store.TouchPresence(ctx, "user_A", t0))

	last, seen, err := tracker.LastSeen(ctx, "user_A")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, t0.Add(2*time.Minute), last)
}

type failingStore struct {
	mock.Mock
}

func (f *failingStore) TouchPresence(ctx context.Context, userID string, at time.Time) error {
	return f.Called(userID).Error(0)
}

func (f *failingStore) GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error) {
	args := f.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PresenceRecord), args.Error(1)
}

func TestTracker_PropagatesStorageErrors(t *testing.T) {
	store := new(failingStore)
	timeout := &models.StorageTimeoutError{Op: "touch presence", Err: context.DeadlineExceeded}
	store.On("TouchPresence", "user_A").Return(timeout)
	store.On("GetPresence", "user_A").Return(nil, timeout)

	tracker := presence.NewTracker(store, clock.NewFake(t0))

	err := tracker.Heartbeat(context.Background(), "user_A")
	assert.ErrorIs(t, err, models.ErrStorageTimeout)

	_, err = tracker.IsOnline(context.Background(), "user_A", time.Minute)
	assert.ErrorIs(t, err, models.ErrStorageTimeout)

	store.AssertExpectations(t)
}
