package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings is the runtime configuration read from the environment.
type Settings struct {
	// Storage
	Store          string        `envconfig:"STORE" default:"postgres"` // postgres | memory
	DatabaseDSN    string        `envconfig:"DATABASE_DSN" default:"host=localhost user=user password=password dbname=heartlinkdb port=5432 sslmode=disable"`
	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"localhost:6380"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	StorageTimeout time.Duration `envconfig:"STORAGE_TIMEOUT" default:"3s"`

	// HTTP
	HTTPAddr   string        `envconfig:"HTTP_ADDR" default:":8080"`
	JWTSecret  string        `envconfig:"JWT_SECRET" default:"change-me"`
	JWTTTL     time.Duration `envconfig:"JWT_TTL" default:"72h"`
	RatePerMin int           `envconfig:"RATE_PER_MIN" default:"60"`
	RateBurst  int           `envconfig:"RATE_BURST" default:"10"`

	// Policy
	PendingTTL       time.Duration `envconfig:"PENDING_TTL" default:"10m"`
	WarningThreshold time.Duration `envconfig:"WARNING_THRESHOLD" default:"8m"`
	HeartbeatWindow  time.Duration `envconfig:"HEARTBEAT_WINDOW" default:"5m"`
	RoomGracePeriod  time.Duration `envconfig:"ROOM_GRACE_PERIOD" default:"5m"`
	InactivityWindow time.Duration `envconfig:"INACTIVITY_WINDOW" default:"10m"`

	// Maintenance
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	WarnInterval  time.Duration `envconfig:"WARN_INTERVAL" default:"30s"`

	// Observability
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"heartlink"`
	Env          string `envconfig:"ENV" default:"dev"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads Settings from the environment.
func Load() (Settings, error) {
	var s Settings
	err := envconfig.Process("", &s)
	return s, err
}

// Policy returns the lifecycle thresholds as a Policy.
func (s Settings) Policy() Policy {
	return Policy{
		PendingTTL:       s.PendingTTL,
		WarningThreshold: s.WarningThreshold,
		HeartbeatWindow:  s.HeartbeatWindow,
		RoomGracePeriod:  s.RoomGracePeriod,
		InactivityWindow: s.InactivityWindow,
	}
}

// Policy groups the time thresholds shared by the lifecycle services.
type Policy struct {
	PendingTTL       time.Duration
	WarningThreshold time.Duration
	HeartbeatWindow  time.Duration
	RoomGracePeriod  time.Duration
	InactivityWindow time.Duration
}

// DefaultPolicy returns the product defaults.
func DefaultPolicy() Policy {
	return Policy{
		PendingTTL:       PendingTTL,
		WarningThreshold: WarningThreshold,
		HeartbeatWindow:  HeartbeatWindow,
		RoomGracePeriod:  RoomGracePeriod,
		InactivityWindow: InactivityWindow,
	}
}
