package ws

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
)

// Client is a single live websocket connection. It is owned by the Registry;
// the Hub holds only non-owning references through room member sets.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan models.ServerEvent
	info ConnInfo

	mu        sync.Mutex
	principal *auth.Principal
	rooms     map[string]struct{}
	closed    bool
}

func newClient(conn *websocket.Conn, info ConnInfo) *Client {
	return &Client{
		id:    uuid.NewString(),
		conn:  conn,
		send:  make(chan models.ServerEvent, sendBufferSize),
		info:  info,
		rooms: make(map[string]struct{}),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Principal returns the resolved identity, if any.
func (c *Client) Principal() (auth.Principal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.principal == nil {
		return auth.Principal{}, false
	}
	return *c.principal, true
}

func (c *Client) setPrincipal(p auth.Principal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.principal == nil {
		c.principal = &p
	}
}

func (c *Client) trackJoin(roomKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomKey] = struct{}{}
}

func (c *Client) trackLeave(roomKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomKey)
}

func (c *Client) joinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for key := range c.rooms {
		rooms = append(rooms, key)
	}
	return rooms
}

// enqueue hands an event to the connection's outbound channel without
// blocking. A full buffer drops the event for this client only.
func (c *Client) enqueue(ev models.ServerEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		observability.IncBroadcastDrop()
		return false
	}
}

// closeSend shuts the outbound channel. Safe against concurrent enqueue.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump drains the send channel onto the websocket and keeps the
// connection alive with pings. Runs as one goroutine per connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Printf("websocket write error: %v", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
