package sampler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeul/scanner-gateway/internal/auth"
	"github.com/tradeul/scanner-gateway/internal/registry"
	"github.com/tradeul/scanner-gateway/internal/subindex"
)

var testUpgrader = websocket.Upgrader{}

// dialInto upgrades a single request against r and registers it under
// id, returning the client side so tests can read what the sampler
// sends over the wire.
func dialInto(t *testing.T, r *registry.Registry, id string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		wsConn, err := testUpgrader.Upgrade(w, req, nil)
		require.NoError(t, err)
		r.Register(wsConn, id, auth.Principal{Subject: id}, func(*registry.Connection, []byte) {})
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	return clientConn
}

func readJSONType(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestIngest_DispatchesToChartSubscribersImmediately(t *testing.T) {
	index := subindex.New()
	reg := registry.New(8, nil)
	client := dialInto(t, reg, "chart-conn")

	index.SubscribeChart("AAPL", "chart-conn")

	s := New(Config{ThrottleInterval: time.Hour, FlushPeriod: time.Hour, Capacity: 1000}, index, reg)
	s.Ingest("AAPL", map[string]float64{"price": 100.5})

	msg := readJSONType(t, client)
	assert.Contains(t, msg, `"type":"chart_aggregate"`)
	assert.Contains(t, msg, `"symbol":"AAPL"`)
}

func TestIngest_NoChartSubscribers_NoDispatch(t *testing.T) {
	index := subindex.New()
	reg := registry.New(8, nil)
	s := New(Config{ThrottleInterval: time.Hour, FlushPeriod: time.Hour, Capacity: 1000}, index, reg)

	assert.NotPanics(t, func() { s.Ingest("AAPL", map[string]float64{"price": 1}) })
}

func TestIngest_InvokesOnPriceObservedRegardlessOfThrottle(t *testing.T) {
	index := subindex.New()
	reg := registry.New(8, nil)
	s := New(Config{ThrottleInterval: time.Hour, FlushPeriod: time.Hour, Capacity: 1000}, index, reg)

	var observed []string
	s.OnPriceObserved(func(symbol string, payload interface{}) {
		observed = append(observed, symbol)
	})

	s.Ingest("AAPL", 1)
	s.Ingest("AAPL", 2)
	s.Ingest("TSLA", 3)

	assert.Equal(t, []string{"AAPL", "AAPL", "TSLA"}, observed)
}

func TestFlush_CoalescesWithinThrottleWindow(t *testing.T) {
	index := subindex.New()
	reg := registry.New(8, nil)
	client := dialInto(t, reg, "list-conn")

	index.SubscribeList("gappers_up", "list-conn")
	index.AddSymbolToList("AAPL", "gappers_up")

	s := New(Config{ThrottleInterval: time.Hour, FlushPeriod: time.Hour, Capacity: 1000}, index, reg)
	s.Ingest("AAPL", map[string]int{"v": 1})
	s.Ingest("AAPL", map[string]int{"v": 2}) // coalesced, only the latest survives

	s.flush()

	msg := readJSONType(t, client)
	assert.Contains(t, msg, `"v":2`)

	client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err := client.ReadMessage()
	assert.Error(t, err, "the coalesced values should be sent as one message")
}

func TestFlush_RespectsPerSymbolThrottleInterval(t *testing.T) {
	index := subindex.New()
	reg := registry.New(8, nil)
	client := dialInto(t, reg, "list-conn")

	index.SubscribeList("gappers_up", "list-conn")
	index.AddSymbolToList("AAPL", "gappers_up")

	s := New(Config{ThrottleInterval: 10 * time.Millisecond, FlushPeriod: time.Hour, Capacity: 1000}, index, reg)
	s.Ingest("AAPL", 1)
	s.flush() // first flush always allowed (fresh limiter)
	readJSONType(t, client)

	s.Ingest("AAPL", 2)
	s.flush() // too soon, throttle window not elapsed

	client.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	_, _, err := client.ReadMessage()
	assert.Error(t, err)

	time.Sleep(15 * time.Millisecond)
	s.flush()
	msg := readJSONType(t, client)
	assert.Contains(t, msg, `"type":"aggregate"`)
}

func TestRoute_DedupsAcrossOverlappingLists(t *testing.T) {
	index := subindex.New()
	reg := registry.New(8, nil)
	client := dialInto(t, reg, "multi-list-conn")

	index.SubscribeList("gappers_up", "multi-list-conn")
	index.SubscribeList("high_volume", "multi-list-conn")
	index.AddSymbolToList("AAPL", "gappers_up")
	index.AddSymbolToList("AAPL", "high_volume")

	s := New(Config{ThrottleInterval: time.Hour, FlushPeriod: time.Hour, Capacity: 1000}, index, reg)
	s.route("AAPL", map[string]int{"v": 1})

	readJSONType(t, client)

	client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err := client.ReadMessage()
	assert.Error(t, err, "a connection subscribed to two lists carrying the same symbol should receive exactly one copy")
}

func TestIngest_DropsWhenBufferAtCapacity(t *testing.T) {
	index := subindex.New()
	reg := registry.New(8, nil)

	s := New(Config{ThrottleInterval: time.Hour, FlushPeriod: time.Hour, Capacity: 1}, index, reg)
	s.Ingest("AAPL", 1) // fills the one slot
	s.Ingest("TSLA", 2) // over capacity, dropped

	stats := s.Stats()
	assert.EqualValues(t, 1, stats["sampler_dropped"])
}

func TestStats_CountsReceivedAndSent(t *testing.T) {
	index := subindex.New()
	reg := registry.New(8, nil)
	dialInto(t, reg, "list-conn")
	index.SubscribeList("gappers_up", "list-conn")
	index.AddSymbolToList("AAPL", "gappers_up")

	s := New(Config{ThrottleInterval: time.Hour, FlushPeriod: time.Hour, Capacity: 1000}, index, reg)
	s.Ingest("AAPL", 1)
	s.flush()

	stats := s.Stats()
	assert.EqualValues(t, 1, stats["sampler_received"])
	assert.EqualValues(t, 1, stats["sampler_sent"])
}
