package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"heartlink/backend/internal/clock"
	"heartlink/backend/internal/config"
	"heartlink/backend/internal/models"
	"heartlink/backend/internal/notify"
	"heartlink/backend/internal/presence"
	"heartlink/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mem      *storage.Memory
	clk      *clock.Fake
	tracker  *presence.Tracker
	notifier *notify.Notifier
}

func newFixture() *fixture {
	mem := storage.NewMemory()
	clk := clock.NewFake(t0)
	tracker := presence.NewTracker(mem, clk)
	return &fixture{
		mem:      mem,
		clk:      clk,
		tracker:  tracker,
		notifier: notify.NewNotifier(mem, tracker, mem, clk, config.DefaultPolicy()),
	}
}

func (f *fixture) pending(t *testing.T, id, user string) *models.MatchRequest {
	t.Helper()
	now := f.clk.Now()
	req := &models.MatchRequest{ID: id, UserID: user, Status: models.MatchPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, f.mem.CreateMatchRequest(context.Background(), req))
	return req
}

func TestNotifier_WarnsOnlineRequesterNearExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.pending(t, "req-1", "user_A")

	f.clk.Set(t0.Add(7 * time.Minute))
	require.NoError(t, f.tracker.Heartbeat(ctx, "user_A"))
	warnings, err := f.notifier.ScanWarnings(ctx)
	require.NoError(t, err)
	assert.Empty(t, warnings, "too early at minute 7")

	f.clk.Set(t0.Add(8*time.Minute + 30*time.Second))
	require.NoError(t, f.tracker.Heartbeat(ctx, "user_A"))
	warnings, err = f.notifier.ScanWarnings(ctx)
	require.NoError(t, err)
	require.Len(t, warnings, 1)

	w := warnings[0]
	assert.Equal(t, "req-1", w.RequestID)
	assert.Equal(t, "user_A", w.UserID)
	assert.InDelta(t, 1.5, w.MinutesRemaining, 0.01)
	assert.Contains(t, w.Message, "1.5")
}

func TestNotifier_SkipsOfflineRequester(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.pending(t, "req-1", "user_A")
	require.NoError(t, f.tracker.Heartbeat(ctx, "user_A"))

	// Last heartbeat at minute 0 is outside the 5 minute window at 8.5.
	f.clk.Set(t0.Add(8*time.Minute + 30*time.Second))
	warnings, err := f.notifier.ScanWarnings(ctx)

	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestNotifier_WindowBounds(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	req := f.pending(t, "req-1", "user_A")

	cases := []struct {
		age  time.Duration
		want bool
	}{
		{age: 8*time.Minute - time.Second, want: false},
		{age: 8 * time.Minute, want: true},
		{age: 10*time.Minute - time.Second, want: true},
		{age: 10 * time.Minute, want: false},
	}
	for _, tc := range cases {
		f.clk.Set(t0.Add(tc.age))
		require.NoError(t, f.tracker.Heartbeat(ctx, "user_A"))

		warnings, err := f.notifier.ScanWarnings(ctx)
		require.NoError(t, err)
		assert.Equal(t, tc.want, len(warnings) == 1, "scan at age %s", tc.age)

		w, err := f.notifier.WarningFor(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, tc.want, w != nil, "single lookup at age %s", tc.age)
	}
}

func TestNotifier_WarningForIgnoresNonPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	req := f.pending(t, "req-1", "user_A")
	req.Status = models.MatchMatched

	f.clk.Set(t0.Add(9 * time.Minute))
	require.NoError(t, f.tracker.Heartbeat(ctx, "user_A"))

	w, err := f.notifier.WarningFor(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestNotifier_PublishDeliversNotices(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture()
	f.pending(t, "req-1", "user_A")

	notices, err := f.mem.SubscribeNotices(ctx)
	require.NoError(t, err)

	f.clk.Set(t0.Add(9 * time.Minute))
	require.NoError(t, f.tracker.Heartbeat(ctx, "user_A"))
	sent, err := f.notifier.ScanAndPublish(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	select {
	case n := <-notices:
		assert.Equal(t, models.NoticeExpiryWarning, n.Type)
		assert.Equal(t, "user_A", n.UserID)
		require.NotNil(t, n.Warning)
		assert.Equal(t, "req-1", n.Warning.RequestID)
	case <-time.After(time.Second):
		t.Fatal("notice was not delivered")
	}
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishNotice(ctx context.Context, n models.Notice) error {
	return m.Called(n.UserID).Error(0)
}

func TestNotifier_PublishContinuesAfterFailure(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("PublishNotice", "user_A").Return(errors.New("redis down"))
	pub.On("PublishNotice", "user_B").Return(nil)

	n := notify.NewNotifier(storage.NewMemory(), nil, pub, clock.NewFake(t0), config.DefaultPolicy())
	sent, err := n.Publish(context.Background(), []models.Warning{
		{RequestID: "r1", UserID: "user_A"},
		{RequestID: "r2", UserID: "user_B"},
	})

	assert.Equal(t, 1, sent)
	assert.ErrorContains(t, err, "redis down")
	pub.AssertExpectations(t)
}

func TestNotifier_RunPublishesOnTick(t *testing.T) {
	f := newFixture()
	f.pending(t, "req-1", "user_A")
	f.clk.Set(t0.Add(9 * time.Minute))
	require.NoError(t, f.tracker.Heartbeat(context.Background(), "user_A"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notices, err := f.mem.SubscribeNotices(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		f.notifier.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	select {
	case n := <-notices:
		assert.Equal(t, models.NoticeExpiryWarning, n.Type)
		assert.Equal(t, "user_A", n.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("no warning published")
	}

	cancel()
	<-done
}
