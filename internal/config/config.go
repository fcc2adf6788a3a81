// Package config loads the gateway's configuration from environment
// variables, following the teacher's cmd/main.go getEnv/getEnvInt
// helpers rather than a config file or a flags/viper library.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable named or implied by the specification:
// bind address, Redis connection, JWKS auth, upstream connector, and
// the timing constants for each periodic component.
type Config struct {
	// HTTP/WS
	ListenAddr string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Authenticator (C2)
	AuthEnabled    bool
	JWKSURL        string
	AuthQueryParam string

	// Upstream connector (C11 / C8)
	ConnectorBaseURL string

	// Component timing
	SnapshotStaleness   time.Duration // §4.4: 5 minutes
	CategoryRowLimit    int           // §4.4: 100
	ThrottleInterval    time.Duration // §4.5: 1s
	SamplerFlushPeriod  time.Duration // §4.5: 500ms
	SamplerCapacity     int           // §4.5: 10,000 symbols
	StreamBlockTimeout  time.Duration // §4.6 / §5: 100ms
	StreamReadCount     int64         // §4.6: batch size per XREADGROUP
	PendingReclaimIdle  time.Duration // supplemented feature, §3
	PendingReclaimEvery time.Duration
	CatalystInterval    time.Duration // §4.9: 30s
	CatalystMaxAge      time.Duration // §4.9: 5s
	CatalystListCap     int64         // §4.9: 20 entries
	CatalystTTL         time.Duration // §4.9: 15 minutes
	StatusInterval      time.Duration // §4.10: 10s
	StatusInitialDelay  time.Duration // §4.10: 2s
	OutboundQueueSize   int           // §5 back-pressure bound

	HTTPRateLimit int // requests/sec per IP against /health and /clear_cache
	HTTPRateBurst int

	LogLevel  string
	LogPretty bool
}

// Load reads configuration from the process environment, applying the
// defaults named throughout spec.md §1/§4/§6.
func Load() Config {
	return Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AuthEnabled:    getEnvBool("AUTH_ENABLED", true),
		JWKSURL:        getEnv("JWKS_URL", ""),
		AuthQueryParam: getEnv("AUTH_QUERY_PARAM", "token"),

		ConnectorBaseURL: getEnv("CONNECTOR_BASE_URL", "http://localhost:9000"),

		SnapshotStaleness:   getEnvDuration("SNAPSHOT_STALENESS", 5*time.Minute),
		CategoryRowLimit:    getEnvInt("CATEGORY_ROW_LIMIT", 100),
		ThrottleInterval:    getEnvDuration("THROTTLE_INTERVAL", 1*time.Second),
		SamplerFlushPeriod:  getEnvDuration("SAMPLER_FLUSH_PERIOD", 500*time.Millisecond),
		SamplerCapacity:     getEnvInt("SAMPLER_CAPACITY", 10000),
		StreamBlockTimeout:  getEnvDuration("STREAM_BLOCK_TIMEOUT", 100*time.Millisecond),
		StreamReadCount:     int64(getEnvInt("STREAM_READ_COUNT", 100)),
		PendingReclaimIdle:  getEnvDuration("PENDING_RECLAIM_IDLE", 1*time.Minute),
		PendingReclaimEvery: getEnvDuration("PENDING_RECLAIM_EVERY", 30*time.Second),
		CatalystInterval:    getEnvDuration("CATALYST_INTERVAL", 30*time.Second),
		CatalystMaxAge:      getEnvDuration("CATALYST_MAX_AGE", 5*time.Second),
		CatalystListCap:     int64(getEnvInt("CATALYST_LIST_CAP", 20)),
		CatalystTTL:         getEnvDuration("CATALYST_TTL", 15*time.Minute),
		StatusInterval:      getEnvDuration("STATUS_INTERVAL", 10*time.Second),
		StatusInitialDelay:  getEnvDuration("STATUS_INITIAL_DELAY", 2*time.Second),
		OutboundQueueSize:   getEnvInt("OUTBOUND_QUEUE_SIZE", 256),

		HTTPRateLimit: getEnvInt("HTTP_RATE_LIMIT", 10),
		HTTPRateBurst: getEnvInt("HTTP_RATE_BURST", 20),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
