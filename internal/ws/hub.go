package ws

import (
	"sync"

	"chat-realtime/internal/models"
)

// Hub multiplexes room-scoped broadcasts. Rooms are derived, ephemeral index
// structures: created lazily on first join and reclaimed once their member
// set empties. Each room carries its own locks so unrelated rooms never
// serialize on each other.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// A room is retired, never reused: once reclaim unlinks it from the index it
// is marked gone, and a lookup that raced the reclaim starts over instead of
// touching the orphaned object.
type room struct {
	publish sync.Mutex // serializes persist-then-broadcast for the room

	mu      sync.RWMutex // guards members and gone
	members map[string]*Client
	gone    bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

func (h *Hub) getOrCreate(roomKey string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomKey]
	if !ok {
		r = &room{members: make(map[string]*Client)}
		h.rooms[roomKey] = r
	}
	return r
}

// Join adds the connection to the room's member set. Joining a room twice is
// idempotent. The insert re-checks under the room lock that the room is
// still linked into the index, so a join racing a reclaim always lands in a
// live room.
func (h *Hub) Join(roomKey string, c *Client) {
	for {
		r := h.getOrCreate(roomKey)
		r.mu.Lock()
		if r.gone {
			r.mu.Unlock()
			continue
		}
		r.members[c.ID()] = c
		r.mu.Unlock()
		c.trackJoin(roomKey)
		return
	}
}

// Leave removes the connection from the room; the room entry is dropped when
// the member set empties. Unknown rooms or members are a no-op.
func (h *Hub) Leave(roomKey string, connID string) {
	h.mu.RLock()
	r, ok := h.rooms[roomKey]
	h.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	c, present := r.members[connID]
	if present {
		delete(r.members, connID)
	}
	empty := len(r.members) == 0
	r.mu.Unlock()

	if present {
		c.trackLeave(roomKey)
	}
	if empty {
		h.reclaim(roomKey, r)
	}
}

// Members returns a snapshot of the room's member connection ids.
func (h *Hub) Members(roomKey string) []string {
	h.mu.RLock()
	r, ok := h.rooms[roomKey]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	return ids
}

// RoomCount reports the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Broadcast delivers the event to every current member of the room.
// Delivery is best-effort and non-blocking: a slow recipient drops the event
// without delaying the rest.
func (h *Hub) Broadcast(roomKey string, ev models.ServerEvent) {
	h.mu.RLock()
	r, ok := h.rooms[roomKey]
	h.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.RLock()
	members := make([]*Client, 0, len(r.members))
	for _, c := range r.members {
		members = append(members, c)
	}
	r.mu.RUnlock()

	for _, c := range members {
		c.enqueue(ev)
	}
}

// WithPublishLock runs fn while holding the room's publish lock, so that
// broadcast order within a room matches persistence completion order. The
// lock is per room: a stalled store call inside fn blocks only this room.
// Acquisition re-checks the room against the index, so two publishers for
// the same key can never end up serializing on different room objects.
func (h *Hub) WithPublishLock(roomKey string, fn func()) {
	for {
		r := h.getOrCreate(roomKey)
		r.publish.Lock()
		r.mu.RLock()
		gone := r.gone
		r.mu.RUnlock()
		if gone {
			r.publish.Unlock()
			continue
		}
		fn()
		r.publish.Unlock()
		h.reclaim(roomKey, r)
		return
	}
}

// reclaim unlinks the room once it has no members. The identity check skips
// entries already replaced by a newer room; the publish TryLock keeps an
// entry pinned while a publish is in flight, so broadcasts inside fn always
// resolve to the room whose lock the publisher holds. A skipped reclaim is
// retried by whoever releases the publish lock.
func (h *Hub) reclaim(roomKey string, r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.rooms[roomKey]; !ok || cur != r {
		return
	}
	if !r.publish.TryLock() {
		return
	}
	r.mu.Lock()
	if len(r.members) == 0 {
		r.gone = true
		delete(h.rooms, roomKey)
	}
	r.mu.Unlock()
	r.publish.Unlock()
}
