package pubsub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeul/scanner-gateway/internal/redisx"
	"github.com/tradeul/scanner-gateway/internal/registry"
	"github.com/tradeul/scanner-gateway/internal/snapshot"
	"github.com/tradeul/scanner-gateway/internal/subindex"
)

func newTestListener() (*Listener, *subindex.Index, *registry.Registry, *OwnershipCache) {
	index := subindex.New()
	reg := registry.New(8, nil)
	ownership := NewOwnershipCache()
	engine := snapshot.New(nil, nil, index, reg, snapshot.Config{})
	return New(nil, nil, engine, index, reg, ownership), index, reg, ownership
}

func TestHandleUserScanChanged_Created_SetsOwner(t *testing.T) {
	l, _, _, ownership := newTestListener()

	l.handleUserScanChanged(`{"action":"created","scan_id":"s1","user_id":"u1"}`)

	owner, ok := ownership.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "u1", owner)
}

func TestHandleUserScanChanged_Updated_RefreshesOwner(t *testing.T) {
	l, _, _, ownership := newTestListener()
	ownership.Set("s1", "u1")

	l.handleUserScanChanged(`{"action":"updated","scan_id":"s1","user_id":"u2"}`)

	owner, _ := ownership.Get("s1")
	assert.Equal(t, "u2", owner)
}

func TestHandleUserScanChanged_Deleted_PurgesIndexAndOwnership(t *testing.T) {
	l, index, _, ownership := newTestListener()
	ownership.Set("s1", "u1")
	index.SubscribeList("uscan_s1", "connA")
	index.AddSymbolToList("AAPL", "uscan_s1")

	l.handleUserScanChanged(`{"action":"deleted","scan_id":"s1","user_id":"u1"}`)

	_, ok := ownership.Get("s1")
	assert.False(t, ok)
	assert.Empty(t, index.ListSubscribers("uscan_s1"))
	assert.False(t, index.SymbolInAnyList("AAPL"))
}

func TestHandleUserScanChanged_MissingScanID_NoOp(t *testing.T) {
	l, _, _, ownership := newTestListener()
	l.handleUserScanChanged(`{"action":"created","user_id":"u1"}`)
	_, ok := ownership.Get("")
	assert.False(t, ok)
}

func TestHandleUserScanChanged_MalformedPayload_DoesNotPanic(t *testing.T) {
	l, _, _, _ := newTestListener()
	assert.NotPanics(t, func() { l.handleUserScanChanged(`not json`) })
}

func TestDispatch_SessionChanged_BroadcastsWithoutPanicking(t *testing.T) {
	l, _, _, _ := newTestListener()
	payload, err := json.Marshal(sessionChangedPayload{TradingDate: "2026-07-31", CurrentSession: "regular"})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		l.dispatch(redisx.PubSubMessage{Channel: channelSessionChange, Payload: string(payload)})
	})
}

func TestDispatch_NewDay_ClearsCacheWithoutPanicking(t *testing.T) {
	l, _, _, _ := newTestListener()
	assert.NotPanics(t, func() {
		l.dispatch(redisx.PubSubMessage{Channel: channelNewDay})
	})
}
