package config_test

import (
	"testing"
	"time"

	"heartlink/backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, s.PendingTTL)
	assert.Equal(t, 8*time.Minute, s.WarningThreshold)
	assert.Equal(t, 5*time.Minute, s.RoomGracePeriod)
	assert.Equal(t, 10*time.Minute, s.InactivityWindow)
	assert.Equal(t, "postgres", s.Store)
	assert.Equal(t, config.DefaultPolicy(), s.Policy())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PENDING_TTL", "15m")
	t.Setenv("STORE", "memory")
	t.Setenv("SWEEP_INTERVAL", "0s")

	s, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, s.PendingTTL)
	assert.Equal(t, 15*time.Minute, s.Policy().PendingTTL)
	assert.Equal(t, "memory", s.Store)
	assert.Zero(t, s.SweepInterval)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("INACTIVITY_WINDOW", "ten minutes")

	_, err := config.Load()
	assert.Error(t, err)
}
