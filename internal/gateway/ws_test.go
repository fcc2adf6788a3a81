package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeul/scanner-gateway/internal/apperr"
	"github.com/tradeul/scanner-gateway/internal/auth"
	"github.com/tradeul/scanner-gateway/internal/pubsub"
	"github.com/tradeul/scanner-gateway/internal/registry"
	"github.com/tradeul/scanner-gateway/internal/snapshot"
	"github.com/tradeul/scanner-gateway/internal/subindex"
	"github.com/tradeul/scanner-gateway/internal/upstream"
)

func newDispatchGateway(t *testing.T) (*Gateway, *websocket.Conn, *registry.Connection) {
	t.Helper()

	index := subindex.New()
	reg := registry.New(8, nil)
	g := &Gateway{
		auth:      auth.New(false, ""),
		reg:       reg,
		index:     index,
		engine:    snapshot.New(nil, nil, index, reg, snapshot.Config{}),
		ownership: pubsub.NewOwnershipCache(),
		upstream:  upstream.New(nil),
	}

	var serverConn *registry.Connection
	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		wsConn, err := upgrader.Upgrade(w, req, nil)
		require.NoError(t, err)
		serverConn = reg.Register(wsConn, "conn-1", auth.Principal{Subject: "user-1"}, g.dispatch)
		close(ready)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	<-ready
	return g, clientConn, serverConn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestDispatch_MalformedJSON_SendsError(t *testing.T) {
	_, client, _ := newDispatchGateway(t)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("not json")))

	msg := readMessage(t, client)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, apperr.ErrCodeMalformedMessage, msg["code"])
}

func TestDispatch_UnknownAction_SendsError(t *testing.T) {
	_, client, _ := newDispatchGateway(t)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"action":"do_a_barrel_roll"}`)))

	msg := readMessage(t, client)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, apperr.ErrCodeUnknownAction, msg["code"])
}

func TestDispatch_Ping_EchoesPong(t *testing.T) {
	_, client, _ := newDispatchGateway(t)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"action":"ping","timestamp":"2026-07-31T00:00:00Z"}`)))

	msg := readMessage(t, client)
	assert.Equal(t, "pong", msg["type"])
	assert.Equal(t, "2026-07-31T00:00:00Z", msg["timestamp"])
}

func TestDispatch_SubscribeSecFilings_SetsFlag(t *testing.T) {
	_, client, serverConn := newDispatchGateway(t)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe_sec_filings"}`)))

	require.Eventually(t, func() bool {
		serverConn.Mu.Lock()
		defer serverConn.Mu.Unlock()
		return serverConn.WantsFilings
	}, time.Second, 10*time.Millisecond)
}

func TestDispatch_UnsubscribeNews_ClearsFlag(t *testing.T) {
	_, client, serverConn := newDispatchGateway(t)
	serverConn.Mu.Lock()
	serverConn.WantsNews = true
	serverConn.Mu.Unlock()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"action":"unsubscribe_news"}`)))

	require.Eventually(t, func() bool {
		serverConn.Mu.Lock()
		defer serverConn.Mu.Unlock()
		return !serverConn.WantsNews
	}, time.Second, 10*time.Millisecond)
}

func TestAuthorizeList_NonScanListSkipsCheck(t *testing.T) {
	g, _, _ := newDispatchGateway(t)
	err := g.authorizeList(context.Background(), auth.Principal{Subject: "user-1"}, "gappers_up")
	assert.Nil(t, err)
}

func TestAuthorizeList_AnonymousPrincipalSkipsCheck(t *testing.T) {
	g, _, _ := newDispatchGateway(t)
	err := g.authorizeList(context.Background(), auth.Anonymous, "uscan_abc123")
	assert.Nil(t, err)
}

func TestAuthorizeList_CachedOwnerMatch(t *testing.T) {
	g, _, _ := newDispatchGateway(t)
	g.ownership.Set("abc123", "user-1")

	err := g.authorizeList(context.Background(), auth.Principal{Subject: "user-1"}, "uscan_abc123")
	assert.Nil(t, err)
}

func TestAuthorizeList_CachedOwnerMismatch(t *testing.T) {
	g, _, _ := newDispatchGateway(t)
	g.ownership.Set("abc123", "someone-else")

	err := g.authorizeList(context.Background(), auth.Principal{Subject: "user-1"}, "uscan_abc123")
	require.NotNil(t, err)
	assert.Equal(t, apperr.ErrCodeScanForbidden, err.Code)
}

func TestCleanupConnection_NoSubscriptions_NoPanic(t *testing.T) {
	g, _, serverConn := newDispatchGateway(t)
	assert.NotPanics(t, func() { g.cleanupConnection(serverConn) })
}

func TestCleanupConnection_UnwindsListState(t *testing.T) {
	g, _, serverConn := newDispatchGateway(t)

	serverConn.Mu.Lock()
	serverConn.Lists["gappers_up"] = struct{}{}
	serverConn.Mu.Unlock()
	g.index.SubscribeList("gappers_up", serverConn.ID)

	g.cleanupConnection(serverConn)

	assert.Empty(t, g.index.ListSubscribers("gappers_up"))
}
