package registry

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tradeul/scanner-gateway/internal/auth"
)

// CleanupFunc is invoked exactly once per connection on destruction so
// the subscription index and ref-counts can be unwound (spec.md §4.2:
// "idempotent... drop from every index, decrement every ref-count,
// trigger upstream unsubscribe where appropriate"). The registry
// itself holds no subindex/upstream dependency — this keeps C3 free of
// a cyclic import on C4/C8, which own that cleanup logic.
type CleanupFunc func(*Connection)

// Registry is the Connection Registry (C3): create, look up, iterate,
// and destroy connection records.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Connection
	cleanup CleanupFunc

	queueSize int
}

// New creates an empty Registry. cleanup is called on every Unregister,
// after the connection is removed from the map, and is guaranteed to
// run at most once per connection even under concurrent close paths.
// cleanup may be nil and set later via SetCleanup, since the function
// that unwinds the subscription index is typically built from the
// registry itself and so cannot exist before New returns.
func New(queueSize int, cleanup CleanupFunc) *Registry {
	return &Registry{
		conns:     make(map[string]*Connection),
		cleanup:   cleanup,
		queueSize: queueSize,
	}
}

// SetCleanup installs the cleanup function, for wiring that needs the
// Registry to exist before the cleanup closure can be constructed.
func (r *Registry) SetCleanup(cleanup CleanupFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanup = cleanup
}

// Register creates a Connection for conn, starts its read/write pumps,
// and adds it to the registry. handle processes each decoded inbound
// frame for the lifetime of the connection.
func (r *Registry) Register(conn *websocket.Conn, id string, principal auth.Principal, handle func(c *Connection, raw []byte)) *Connection {
	c := newConnection(conn, id, principal, r.queueSize)

	r.mu.Lock()
	r.conns[id] = c
	r.mu.Unlock()

	go c.writePump()
	go func() {
		c.readPump(func(raw []byte) { handle(c, raw) })
		r.Unregister(id)
	}()

	return c
}

// Unregister removes a connection and idempotently runs its cleanup.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	c.forceClose()
	if r.cleanup != nil {
		r.cleanup(c)
	}
}

// Get looks up a connection by ID.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Range calls fn for every currently-registered connection. fn must
// not block for long; broadcasts that need to fan out to many
// connections should copy the slice first if they intend to send
// without holding the registry lock.
func (r *Registry) Range(fn func(*Connection)) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		fn(c)
	}
}

// Count returns the number of currently-registered connections, used
// by the /health endpoint.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
