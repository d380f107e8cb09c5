package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"heartlink/backend/internal/config"
	"heartlink/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKey   = "presence:last_seen"
	noticePrefix  = "notice:"
	noticePattern = noticePrefix + "*"
)

// RedisPresence keeps presence in a sorted set scored by last-seen unix
// milliseconds and fans notices out over Redis Pub/Sub.
type RedisPresence struct {
	Redis   *redis.Client
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewRedisPresence Constructor
func NewRedisPresence(rdb *redis.Client, timeout time.Duration) *RedisPresence {
	if timeout <= 0 {
		timeout = config.DefaultStorageWait
	}
	return &RedisPresence{Redis: rdb, Timeout: timeout, Logger: slog.Default()}
}

// TouchPresence records at for userID. ZADD GT keeps the newest score, so
// concurrent heartbeats commute.
func (r *RedisPresence) TouchPresence(ctx context.Context, userID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	err := r.Redis.ZAddArgs(ctx, presenceKey, redis.ZAddArgs{
		GT:      true,
		Members: []redis.Z{{Score: float64(at.UnixMilli()), Member: userID}},
	}).Err()
	return wrapErr(ctx, "touch presence", err)
}

// GetPresence returns nil without error for users never seen.
func (r *RedisPresence) GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	score, err := r.Redis.ZScore(ctx, presenceKey, userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(ctx, "get presence", err)
	}
	return &models.PresenceRecord{
		UserID:     userID,
		LastSeenAt: time.UnixMilli(int64(score)).UTC(),
	}, nil
}

// PublishNotice publishes n on the user's notice channel.
func (r *RedisPresence) PublishNotice(ctx context.Context, n models.Notice) error {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return wrapErr(ctx, "publish notice", r.Redis.Publish(ctx, noticePrefix+n.UserID, payload).Err())
}

// SubscribeNotices pattern-subscribes to every user's notice channel. The
// returned channel closes when ctx is done.
func (r *RedisPresence) SubscribeNotices(ctx context.Context) (<-chan models.Notice, error) {
	pubsub := r.Redis.PSubscribe(ctx, noticePattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, wrapErr(ctx, "subscribe notices", err)
	}

	out := make(chan models.Notice, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var n models.Notice
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					r.Logger.Error("failed to decode notice", "channel", msg.Channel, "err", err)
					continue
				}
				if n.UserID == "" {
					n.UserID = strings.TrimPrefix(msg.Channel, noticePrefix)
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
