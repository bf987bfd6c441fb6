package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
)

// Dispatcher validates and routes inbound client events. Events from one
// connection are handled in read order; handlers for different connections
// run concurrently.
type Dispatcher struct {
	hub          *Hub
	registry     *Registry
	messages     repositories.MessageRepository
	statuses     repositories.StatusRepository
	audit        *telemetry.AuditEmitter
	historyLimit int
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(hub *Hub, registry *Registry, messages repositories.MessageRepository, statuses repositories.StatusRepository, audit *telemetry.AuditEmitter, historyLimit int) *Dispatcher {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Dispatcher{
		hub:          hub,
		registry:     registry,
		messages:     messages,
		statuses:     statuses,
		audit:        audit,
		historyLimit: historyLimit,
	}
}

// Handle processes one raw inbound frame from a connection. Malformed
// payloads are dropped; failures are reported back to the originating
// connection only and never affect other rooms or connections.
func (d *Dispatcher) Handle(ctx context.Context, c *Client, data []byte) {
	var ev models.ClientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		observability.IncWSEvent("malformed")
		log.Printf("ws: dropping malformed event from %s: %v", c.ID(), err)
		return
	}
	observability.IncWSEvent(string(ev.Type))

	switch ev.Type {
	case models.EventJoinRoom:
		d.handleJoin(ctx, c, ev)
	case models.EventSendMessage:
		d.handleSend(ctx, c, ev)
	case models.EventEditMessage:
		d.handleEdit(ctx, c, ev)
	case models.EventDeleteMessage:
		d.handleDelete(ctx, c, ev)
	case models.EventUpdateStatus:
		d.handleStatus(ctx, c, ev)
	default:
		d.fail(c, ev.Type, models.ReasonInvalidPayload)
	}
}

func (d *Dispatcher) fail(c *Client, event models.EventType, reason string) {
	c.enqueue(models.ServerEvent{Type: models.EventOperationFailed, Reason: reason, Event: event})
	observability.IncWSEvent("operation_failed")
}

// handleJoin adds the connection to the room and replies with history.
// Numeric room keys are backed by the message store; anything else joins an
// ephemeral room with no persisted history.
func (d *Dispatcher) handleJoin(ctx context.Context, c *Client, ev models.ClientEvent) {
	if ev.RoomKey == "" {
		d.fail(c, ev.Type, models.ReasonEmptyRoomKey)
		return
	}

	d.hub.Join(ev.RoomKey, c)

	history := []models.Message{}
	if chatID, err := strconv.Atoi(ev.RoomKey); err == nil {
		msgs, err := d.messages.ListRecentByChat(ctx, chatID, d.historyLimit)
		if err != nil {
			log.Printf("ws: history fetch failed for room %s: %v", ev.RoomKey, err)
			d.fail(c, ev.Type, models.ReasonStoreError)
			return
		}
		// store returns newest first; deliver chronologically
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
		history = msgs
	}

	c.enqueue(models.ServerEvent{Type: models.EventChatHistory, Messages: history})
}

func (d *Dispatcher) handleSend(ctx context.Context, c *Client, ev models.ClientEvent) {
	sender, ok := d.senderFor(c, ev.Sender)
	if !ok {
		d.fail(c, ev.Type, models.ReasonUnauthorized)
		return
	}
	if ev.RoomKey == "" {
		d.fail(c, ev.Type, models.ReasonEmptyRoomKey)
		return
	}

	kind := ev.Kind
	if kind == "" {
		kind = models.KindText
	}
	if !models.ValidKind(kind) {
		d.fail(c, ev.Type, models.ReasonInvalidKind)
		return
	}

	msg := models.Message{
		Sender:  sender,
		Content: ev.Content,
		Kind:    kind,
		Media:   ev.Media,
	}
	if chatID, err := strconv.Atoi(ev.RoomKey); err == nil {
		msg.ChatID = &chatID
	}

	d.hub.WithPublishLock(ev.RoomKey, func() {
		saved, err := d.messages.CreateMessage(ctx, msg)
		if err != nil {
			log.Printf("ws: message persist failed: %v", err)
			d.fail(c, ev.Type, models.ReasonStoreError)
			return
		}
		d.hub.Broadcast(ev.RoomKey, models.ServerEvent{Type: models.EventReceiveMessage, Message: &saved})
	})
}

func (d *Dispatcher) handleEdit(ctx context.Context, c *Client, ev models.ClientEvent) {
	sender, ok := d.senderFor(c, ev.Sender)
	if !ok {
		d.fail(c, ev.Type, models.ReasonUnauthorized)
		return
	}
	if ev.MessageID <= 0 {
		d.fail(c, ev.Type, models.ReasonInvalidPayload)
		return
	}

	msg, err := d.messages.GetMessage(ctx, ev.MessageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		d.fail(c, ev.Type, models.ReasonNotFound)
		return
	}
	if err != nil {
		d.fail(c, ev.Type, models.ReasonStoreError)
		return
	}
	if msg.Sender != sender {
		d.fail(c, ev.Type, models.ReasonNotOwner)
		return
	}
	if msg.Deleted {
		d.fail(c, ev.Type, models.ReasonAlreadyDeleted)
		return
	}

	roomKey := ""
	if msg.ChatID != nil {
		roomKey = strconv.Itoa(*msg.ChatID)
	}

	apply := func() {
		// The store re-checks ownership and the deleted flag atomically
		// with the update.
		updated, err := d.messages.UpdateIfSender(ctx, ev.MessageID, sender, ev.Content)
		if errors.Is(err, repositories.ErrMessageNotFound) {
			d.fail(c, ev.Type, models.ReasonNotFound)
			return
		}
		if err != nil {
			d.fail(c, ev.Type, models.ReasonStoreError)
			return
		}
		out := models.ServerEvent{Type: models.EventMessageEdited, Message: &updated}
		if roomKey != "" {
			d.hub.Broadcast(roomKey, out)
		} else {
			c.enqueue(out)
		}
	}

	if roomKey != "" {
		d.hub.WithPublishLock(roomKey, apply)
	} else {
		apply()
	}
}

func (d *Dispatcher) handleDelete(ctx context.Context, c *Client, ev models.ClientEvent) {
	sender, ok := d.senderFor(c, ev.Sender)
	if !ok {
		d.fail(c, ev.Type, models.ReasonUnauthorized)
		return
	}
	if ev.MessageID <= 0 {
		d.fail(c, ev.Type, models.ReasonInvalidPayload)
		return
	}

	msg, err := d.messages.GetMessage(ctx, ev.MessageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		d.fail(c, ev.Type, models.ReasonNotFound)
		return
	}
	if err != nil {
		d.fail(c, ev.Type, models.ReasonStoreError)
		return
	}
	if msg.Sender != sender {
		d.fail(c, ev.Type, models.ReasonNotOwner)
		return
	}
	if msg.Deleted {
		d.fail(c, ev.Type, models.ReasonAlreadyDeleted)
		return
	}

	roomKey := ""
	if msg.ChatID != nil {
		roomKey = strconv.Itoa(*msg.ChatID)
	}

	apply := func() {
		deleted, err := d.messages.SoftDeleteIfSender(ctx, ev.MessageID, sender)
		if errors.Is(err, repositories.ErrMessageNotFound) {
			d.fail(c, ev.Type, models.ReasonNotFound)
			return
		}
		if err != nil {
			d.fail(c, ev.Type, models.ReasonStoreError)
			return
		}
		out := models.ServerEvent{Type: models.EventMessageDeleted, MessageID: deleted.ID}
		if roomKey != "" {
			d.hub.Broadcast(roomKey, out)
		} else {
			c.enqueue(out)
		}
		d.audit.Emit(ctx, "INFO", fmt.Sprintf("message %d deleted by %s", deleted.ID, sender), c.info.RequestID, &sender)
	}

	if roomKey != "" {
		d.hub.WithPublishLock(roomKey, apply)
	} else {
		apply()
	}
}

// handleStatus upserts presence and fans the update out to every live
// connection; presence is deliberately not room-scoped.
func (d *Dispatcher) handleStatus(ctx context.Context, c *Client, ev models.ClientEvent) {
	principal := ev.Principal
	if p, ok := c.Principal(); ok {
		principal = p.Username
	}
	if principal == "" {
		d.fail(c, ev.Type, models.ReasonUnauthorized)
		return
	}
	if !models.ValidStatus(ev.Status) {
		d.fail(c, ev.Type, models.ReasonInvalidStatus)
		return
	}

	st, err := d.statuses.UpsertStatus(ctx, principal, ev.Status)
	if err != nil {
		log.Printf("ws: status upsert failed for %s: %v", principal, err)
		d.fail(c, ev.Type, models.ReasonStoreError)
		return
	}

	d.registry.BroadcastAll(models.ServerEvent{
		Type:      models.EventStatusUpdate,
		Principal: st.Principal,
		Status:    st.Status,
	})
}

// senderFor pins the sender to the connection's resolved identity when one
// exists; unauthenticated connections supply the sender in the payload.
func (d *Dispatcher) senderFor(c *Client, payloadSender string) (string, bool) {
	if p, ok := c.Principal(); ok {
		return p.Username, true
	}
	if payloadSender == "" {
		return "", false
	}
	return payloadSender, true
}
