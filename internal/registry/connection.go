// Package registry owns the per-connection state of every open
// WebSocket (spec.md §3 "Connection", §4.2 Connection Registry).
// Adapted from the teacher's internal/websocket/hub.go Hub/Client
// pattern: a per-connection outbound channel with a single writer
// goroutine replaces any shared-mutex access to the socket, and the
// same 30s ping / 60s read-deadline keepalive cadence is kept.
package registry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradeul/scanner-gateway/internal/auth"
	"github.com/tradeul/scanner-gateway/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Connection is one active WebSocket's state, per spec.md §3's
// "Connection" data model. Reads of the subscription sets from
// broadcasters may run concurrently with writes from the dispatch
// loop; Mu serializes the latter.
type Connection struct {
	ID        string
	Principal auth.Principal
	conn      *websocket.Conn
	send      chan []byte

	Mu sync.Mutex

	ListSeq      map[string]int64    // list -> last sequence delivered
	Lists        map[string]struct{} // subscribed list names
	QuoteSymbols map[string]struct{} // subscribed quote symbols
	ChartSymbols map[string]struct{} // subscribed chart symbols
	WantsFilings bool
	WantsNews    bool

	closed            bool
	closeCh           chan struct{}
	outboundQueueSize int
}

func newConnection(conn *websocket.Conn, id string, principal auth.Principal, queueSize int) *Connection {
	return &Connection{
		ID:                id,
		Principal:         principal,
		conn:              conn,
		send:              make(chan []byte, queueSize),
		ListSeq:           make(map[string]int64),
		Lists:             make(map[string]struct{}),
		QuoteSymbols:      make(map[string]struct{}),
		ChartSymbols:      make(map[string]struct{}),
		closeCh:           make(chan struct{}),
		outboundQueueSize: queueSize,
	}
}

// Send enqueues a message for delivery. If the outbound queue is full
// the connection is a slow consumer and is closed, per spec.md §5's
// back-pressure policy (close the socket, not drop-oldest — see
// DESIGN.md's Open Question resolution).
func (c *Connection) Send(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.WebSocket().Error().Err(err).Str("conn", c.ID).Msg("failed to marshal outbound message")
		return
	}

	select {
	case c.send <- data:
	default:
		logger.WebSocket().Warn().Str("conn", c.ID).Msg("outbound queue full, closing slow consumer")
		c.forceClose()
	}
}

func (c *Connection) forceClose() {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.closeCh)
}

// writePump is the connection's single writer goroutine.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeCh:
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump reads inbound frames and hands each to handle. It returns
// when the socket closes or fails a read deadline.
func (c *Connection) readPump(handle func(raw []byte)) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.WebSocket().Debug().Err(err).Str("conn", c.ID).Msg("read error")
			}
			return
		}
		handle(message)
	}
}

// CloseWithCode sends a close frame with the given policy code
// (spec.md §6: 4001 missing token, 4003 invalid token, 1000 normal,
// 1011 server error) and tears down the socket.
func (c *Connection) CloseWithCode(code int, reason string) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.conn.Close()
}
