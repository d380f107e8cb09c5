// Package app opens the stores selected by Settings and builds the
// lifecycle services on top of them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"heartlink/backend/internal/config"
	"heartlink/backend/internal/maintenance"
	"heartlink/backend/internal/matching"
	"heartlink/backend/internal/metrics"
	"heartlink/backend/internal/notify"
	"heartlink/backend/internal/presence"
	"heartlink/backend/internal/rooms"
	"heartlink/backend/internal/storage"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Stores groups the backends every service is built on.
type Stores struct {
	Storage  storage.Storage
	Presence storage.PresenceStore
	Notices  interface {
		storage.NoticePublisher
		storage.NoticeSubscriber
	}
	close func() error
}

// Close releases the database and Redis connections.
func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStores connects to Postgres and Redis, or returns a single in-memory
// store when Settings.Store is "memory".
func OpenStores(ctx context.Context, cfg config.Settings, logger *slog.Logger) (*Stores, error) {
	if cfg.Store == "memory" {
		logger.Warn("using in-memory store; state is lost on restart")
		mem := storage.NewMemory()
		return &Stores{Storage: mem, Presence: mem, Notices: mem}, nil
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	svc := storage.NewStorageService(db, cfg.StorageTimeout)
	if err := svc.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	rp := storage.NewRedisPresence(rdb, cfg.StorageTimeout)

	logger.Info("database and redis connections established, migrations complete")
	return &Stores{
		Storage:  svc,
		Presence: rp,
		Notices:  rp,
		close: func() error {
			rerr := rdb.Close()
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			if err := sqlDB.Close(); err != nil {
				return err
			}
			return rerr
		},
	}, nil
}

// Services are the lifecycle components sharing one set of stores.
type Services struct {
	Registry  *matching.Registry
	Rooms     *rooms.Manager
	Presence  *presence.Tracker
	Notifier  *notify.Notifier
	Scheduler *maintenance.Scheduler
}

// NewServices wires the components. Notices flow through st.Notices.
func NewServices(st *Stores, policy config.Policy, m metrics.Collector, logger *slog.Logger) *Services {
	rm := rooms.NewManager(st.Storage, nil)
	rm.Logger = logger

	tracker := presence.NewTracker(st.Presence, nil)

	reg := matching.NewRegistry(st.Storage, rm, nil, policy)
	reg.Metrics = m
	reg.Logger = logger
	reg.Notices = st.Notices

	n := notify.NewNotifier(st.Storage, tracker, st.Notices, nil, policy)
	n.Metrics = m
	n.Logger = logger

	sched := maintenance.NewScheduler(reg, rm, tracker, policy)
	sched.Metrics = m
	sched.Logger = logger
	sched.Notices = st.Notices

	return &Services{
		Registry:  reg,
		Rooms:     rm,
		Presence:  tracker,
		Notifier:  n,
		Scheduler: sched,
	}
}

// NewLogger builds the process logger: JSON outside dev, text in dev.
func NewLogger(cfg config.Settings) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Env, "dev") {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(h).With("service", cfg.ServiceName)
}
