package storage

import (
	"context"
	"testing"
	"time"

	"heartlink/backend/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisPresence(t *testing.T) (*RedisPresence, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisPresence(rdb, time.Second), mr
}

func TestRedisPresence_UnknownUser(t *testing.T) {
	rp, _ := newRedisPresence(t)

	rec, err := rp.GetPresence(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRedisPresence_KeepsLatest(t *testing.T) {
	rp, _ := newRedisPresence(t)
	ctx := context.Background()

	require.NoError(t, rp.TouchPresence(ctx, "user_A", t0.Add(time.Minute)))
	require.NoError(t, rp.TouchPresence(ctx, "user_A", t0))

	rec, err := rp.GetPresence(ctx, "user_A")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "user_A", rec.UserID)
	assert.True(t, rec.LastSeenAt.Equal(t0.Add(time.Minute)))

	require.NoError(t, rp.TouchPresence(ctx, "user_A", t0.Add(2*time.Minute)))
	rec, err = rp.GetPresence(ctx, "user_A")
	require.NoError(t, err)
	assert.True(t, rec.LastSeenAt.Equal(t0.Add(2*time.Minute)))
}

func TestRedisPresence_ServerDownIsError(t *testing.T) {
	rp, mr := newRedisPresence(t)
	mr.Close()

	err := rp.TouchPresence(context.Background(), "user_A", t0)
	assert.Error(t, err)
}

func TestRedisPresence_NoticeRoundTrip(t *testing.T) {
	rp, _ := newRedisPresence(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := rp.SubscribeNotices(ctx)
	require.NoError(t, err)

	w := &models.Warning{RequestID: "r1", UserID: "user_A", MinutesRemaining: 1.5}
	require.NoError(t, rp.PublishNotice(ctx, models.Notice{UserID: "user_A", Type: models.NoticeExpiryWarning, Warning: w}))

	select {
	case n := <-ch:
		assert.Equal(t, "user_A", n.UserID)
		assert.Equal(t, models.NoticeExpiryWarning, n.Type)
		require.NotNil(t, n.Warning)
		assert.InDelta(t, 1.5, n.Warning.MinutesRemaining, 0.001)
	case <-time.After(2 * time.Second):
		t.Fatal("notice not delivered")
	}

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}
