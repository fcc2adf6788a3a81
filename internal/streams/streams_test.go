package streams

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
	"github.com/tradeul/scanner-gateway/internal/redisx"
	"github.com/tradeul/scanner-gateway/internal/registry"
	"github.com/tradeul/scanner-gateway/internal/subindex"
)

var testUpgrader = websocket.Upgrader{}

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

func TestDecodePayload_PrefersEmbeddedJSONField(t *testing.T) {
	m := redisx.StreamMessage{Fields: map[string]string{
		"payload": `{"price":101.5,"size":100}`,
		"symbol":  "AAPL",
	}}

	got := decodePayload(m)
	assert.Equal(t, 101.5, got["price"])
	assert.Equal(t, float64(100), got["size"])
	_, hasSymbol := got["symbol"]
	assert.False(t, hasSymbol, "embedded payload field should be used verbatim, not merged with the flat fields")
}

func TestDecodePayload_FallsBackToFlatFieldsWhenNoPayloadField(t *testing.T) {
	m := redisx.StreamMessage{Fields: map[string]string{"symbol": "AAPL", "price": "101.5"}}

	got := decodePayload(m)
	assert.Equal(t, "AAPL", got["symbol"])
	assert.Equal(t, "101.5", got["price"])
}

func TestDecodePayload_MalformedJSON_FallsBackToFlatFields(t *testing.T) {
	m := redisx.StreamMessage{Fields: map[string]string{"payload": `not json`}}

	got := decodePayload(m)
	assert.Equal(t, "not json", got["payload"])
}

func TestRelayCatalystAlert_DedupsChartAndListSubscribers(t *testing.T) {
	index := subindex.New()
	reg := registry.New(8, nil)
	client := dialInto(t, reg, "conn-1")

	index.SubscribeChart("AAPL", "conn-1")
	index.SubscribeList("gappers_up", "conn-1")
	index.AddSymbolToList("AAPL", "gappers_up")

	n := NewNewsConsumer(nil, Config{}, reg, index)
	n.relayCatalystAlert("AAPL", map[string]interface{}{"headline": "big move"})

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"catalyst_alert"`)

	client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err = client.ReadMessage()
	assert.Error(t, err, "a connection subscribed via both chart and list should get exactly one alert")
}

func TestRelayCatalystAlert_NoSubscribers_NoPanic(t *testing.T) {
	index := subindex.New()
	reg := registry.New(8, nil)
	n := NewNewsConsumer(nil, Config{}, reg, index)
	assert.NotPanics(t, func() { n.relayCatalystAlert("AAPL", map[string]interface{}{}) })
}
