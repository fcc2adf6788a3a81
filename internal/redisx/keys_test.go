package redisx

import (
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestCategoryKey(t *testing.T) {
	assert.Equal(t, "scanner:category:gappers_up", CategoryKey("gappers_up"))
}

func TestSequenceKey(t *testing.T) {
	assert.Equal(t, "scanner:sequence:gappers_up", SequenceKey("gappers_up"))
}

func TestFilteredCompleteKey(t *testing.T) {
	assert.Equal(t, "scanner:filtered_complete:LAST", FilteredCompleteKey())
}

func TestScanOwnerKey(t *testing.T) {
	assert.Equal(t, "user_scan:owner:abc123", ScanOwnerKey("abc123"))
}

func TestMarketSessionKey(t *testing.T) {
	assert.Equal(t, "market:session:status", MarketSessionKey())
}

func TestCatalystSnapshotKey(t *testing.T) {
	assert.Equal(t, "catalyst:snapshot:AAPL", CatalystSnapshotKey("AAPL"))
}

func TestConfig_Addr(t *testing.T) {
	cfg := Config{Host: "localhost", Port: "6379"}
	assert.Equal(t, "localhost:6379", cfg.addr())
}

func TestIsNoGroup(t *testing.T) {
	assert.True(t, IsNoGroup(errors.New("NOGROUP No such key or consumer group")))
	assert.False(t, IsNoGroup(errors.New("some other error")))
	assert.False(t, IsNoGroup(nil))
}

func TestDecodeMessage_KeepsOnlyStringValues(t *testing.T) {
	m := redis.XMessage{ID: "1-0", Values: map[string]interface{}{
		"symbol": "AAPL",
		"count":  42, // not a string, dropped
	}}

	got := decodeMessage(m)
	assert.Equal(t, "1-0", got.ID)
	assert.Equal(t, "AAPL", got.Fields["symbol"])
	_, ok := got.Fields["count"]
	assert.False(t, ok)
}

func TestStreamMessage_StringMissingField(t *testing.T) {
	m := StreamMessage{Fields: map[string]string{"a": "1"}}
	assert.Equal(t, "", m.String("missing"))
	assert.Equal(t, "1", m.String("a"))
}
