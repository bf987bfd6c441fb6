package ws

import (
	"sync"

	"github.com/gorilla/websocket"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/models"
)

// Registry owns the set of live connections. Operations on unknown
// connection ids are no-ops: events from already-disconnected clients are
// silently dropped, never fatal.
type Registry struct {
	hub *Hub

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates a registry bound to the hub used for room cleanup.
func NewRegistry(hub *Hub) *Registry {
	return &Registry{
		hub:     hub,
		clients: make(map[string]*Client),
	}
}

// Register allocates a connection record with an empty room set and no
// resolved identity, and adds it to the live set.
func (r *Registry) Register(conn *websocket.Conn, info ConnInfo) *Client {
	c := newClient(conn, info)
	r.mu.Lock()
	r.clients[c.ID()] = c
	r.mu.Unlock()
	return c
}

// ResolveIdentity attaches an authenticated principal to a connection.
// Idempotent; unknown ids are ignored.
func (r *Registry) ResolveIdentity(connID string, p auth.Principal) {
	r.mu.RLock()
	c, ok := r.clients[connID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	c.setPrincipal(p)
}

// Get returns the live connection for the id.
func (r *Registry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Count reports the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Deregister removes the connection, leaves every room it had joined and
// closes its outbound channel.
func (r *Registry) Deregister(connID string) {
	r.mu.Lock()
	c, ok := r.clients[connID]
	if ok {
		delete(r.clients, connID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	for _, roomKey := range c.joinedRooms() {
		r.hub.Leave(roomKey, connID)
	}
	c.closeSend()
}

// BroadcastAll delivers the event to every live connection regardless of
// room membership. Used for presence fan-out.
func (r *Registry) BroadcastAll(ev models.ServerEvent) {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(ev)
	}
}
