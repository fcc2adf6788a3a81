package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_DefaultsWhenEnvUnset(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "localhost", cfg.RedisHost)
	assert.True(t, cfg.AuthEnabled)
	assert.Equal(t, "token", cfg.AuthQueryParam)
	assert.Equal(t, 5*time.Minute, cfg.SnapshotStaleness)
	assert.Equal(t, 10, cfg.HTTPRateLimit)
	assert.Equal(t, 20, cfg.HTTPRateBurst)
}

func TestLoad_ReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("AUTH_ENABLED", "false")
	t.Setenv("THROTTLE_INTERVAL", "2s")
	t.Setenv("CATALYST_LIST_CAP", "50")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.False(t, cfg.AuthEnabled)
	assert.Equal(t, 2*time.Second, cfg.ThrottleInterval)
	assert.EqualValues(t, 50, cfg.CatalystListCap)
}

func TestGetEnvInt_FallsBackOnMalformedValue(t *testing.T) {
	t.Setenv("CATEGORY_ROW_LIMIT", "not-a-number")
	cfg := Load()
	assert.Equal(t, 100, cfg.CategoryRowLimit)
}

func TestGetEnvBool_FallsBackOnMalformedValue(t *testing.T) {
	t.Setenv("LOG_PRETTY", "not-a-bool")
	cfg := Load()
	assert.False(t, cfg.LogPretty)
}

func TestGetEnvDuration_FallsBackOnMalformedValue(t *testing.T) {
	t.Setenv("STATUS_INTERVAL", "not-a-duration")
	cfg := Load()
	assert.Equal(t, 10*time.Second, cfg.StatusInterval)
}
