package ws

import (
	"testing"
	"time"

	"chat-realtime/internal/models"
)

func newTestClient() *Client {
	return newClient(nil, ConnInfo{ConnectedAt: time.Now()})
}

func recvEvent(t *testing.T, c *Client) models.ServerEvent {
	t.Helper()
	select {
	case ev := <-c.send:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return models.ServerEvent{}
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.send:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
