package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/observability"
)

// Handler upgrades HTTP requests to websocket connections and runs the
// per-connection read loop.
type Handler struct {
	registry   *Registry
	dispatcher *Dispatcher
	identity   auth.IdentityProvider
}

// NewHandler constructs a Handler.
func NewHandler(registry *Registry, dispatcher *Dispatcher, identity auth.IdentityProvider) *Handler {
	return &Handler{registry: registry, dispatcher: dispatcher, identity: identity}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the client. A bearer token is
// optional: connections without one stay unauthenticated, but a presented
// token must verify.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-realtime/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	var principal *auth.Principal
	if token != "" {
		p, err := h.identity.Resolve(ctx, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		principal = &p
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	client := h.registry.Register(conn, info)
	if principal != nil {
		h.registry.ResolveIdentity(client.ID(), *principal)
	}

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	publishLifecycle(ctx, "ws_connect", client, "")

	go client.writePump()
	go h.readLoop(client, conn)
}

// readLoop consumes inbound frames until the connection dies. Dispatch uses
// a background context so a disconnect never cancels an in-flight store
// call: the message is still saved and broadcast to remaining members.
func (h *Handler) readLoop(client *Client, conn *websocket.Conn) {
	connCtx := context.Background()
	var closeReason string

	defer func() {
		h.registry.Deregister(client.ID())
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		publishLifecycle(connCtx, "ws_disconnect", client, closeReason)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				publishLifecycle(connCtx, "ws_error", client, closeReason)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.dispatcher.Handle(connCtx, client, data)
	}
}

func publishLifecycle(ctx context.Context, event string, client *Client, reason string) {
	principal := ""
	if p, ok := client.Principal(); ok {
		principal = p.Username
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     client.ID(),
			"duration_ms": time.Since(client.info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"principal": principal,
			"device_id": client.info.DeviceID,
			"ip":        client.info.IP,
		},
	}

	headers := observability.BuildHeaders(client.info.RequestID, client.info.TraceID)
	_ = observability.PublishEvent(ctx, "ws_events.realtime", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
