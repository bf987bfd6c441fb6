package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
)

func intPtr(v int) *int { return &v }

type dispatcherFixture struct {
	hub        *Hub
	registry   *Registry
	messages   *mocks.MessageRepositoryMock
	statuses   *mocks.StatusRepositoryMock
	dispatcher *Dispatcher
}

func newDispatcherFixture() *dispatcherFixture {
	hub := NewHub()
	registry := NewRegistry(hub)
	messages := new(mocks.MessageRepositoryMock)
	statuses := new(mocks.StatusRepositoryMock)
	return &dispatcherFixture{
		hub:        hub,
		registry:   registry,
		messages:   messages,
		statuses:   statuses,
		dispatcher: NewDispatcher(hub, registry, messages, statuses, nil, 50),
	}
}

func (f *dispatcherFixture) handle(t *testing.T, c *Client, ev models.ClientEvent) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	f.dispatcher.Handle(context.Background(), c, data)
}

func TestDispatcherMalformedPayloadDropped(t *testing.T) {
	f := newDispatcherFixture()
	c := f.registry.Register(nil, ConnInfo{})

	f.dispatcher.Handle(context.Background(), c, []byte("{not json"))

	assertNoEvent(t, c)
}

func TestDispatcherUnknownEventFails(t *testing.T) {
	f := newDispatcherFixture()
	c := f.registry.Register(nil, ConnInfo{})

	f.handle(t, c, models.ClientEvent{Type: "dance"})

	ev := recvEvent(t, c)
	assert.Equal(t, models.EventOperationFailed, ev.Type)
	assert.Equal(t, models.ReasonInvalidPayload, ev.Reason)
}

func TestJoinNumericRoomDeliversHistoryOldestFirst(t *testing.T) {
	f := newDispatcherFixture()
	c := f.registry.Register(nil, ConnInfo{})

	newestFirst := []models.Message{
		{ID: 3, ChatID: intPtr(42), Sender: "bob", Content: "third"},
		{ID: 2, ChatID: intPtr(42), Sender: "alice", Content: "second"},
		{ID: 1, ChatID: intPtr(42), Sender: "alice", Content: "first"},
	}
	f.messages.On("ListRecentByChat", mock.Anything, 42, 50).Return(newestFirst, nil).Once()

	f.handle(t, c, models.ClientEvent{Type: models.EventJoinRoom, RoomKey: "42"})

	ev := recvEvent(t, c)
	require.Equal(t, models.EventChatHistory, ev.Type)
	require.Len(t, ev.Messages, 3)
	assert.Equal(t, "first", ev.Messages[0].Content)
	assert.Equal(t, "third", ev.Messages[2].Content)
	assert.Equal(t, []string{c.ID()}, f.hub.Members("42"))
	f.messages.AssertExpectations(t)
}

func TestJoinEphemeralRoomSkipsStore(t *testing.T) {
	f := newDispatcherFixture()
	c := f.registry.Register(nil, ConnInfo{})

	f.handle(t, c, models.ClientEvent{Type: models.EventJoinRoom, RoomKey: "lobby"})

	ev := recvEvent(t, c)
	require.Equal(t, models.EventChatHistory, ev.Type)
	assert.Empty(t, ev.Messages)
	assert.Equal(t, []string{c.ID()}, f.hub.Members("lobby"))
	f.messages.AssertNotCalled(t, "ListRecentByChat")
}

func TestJoinEmptyRoomKeyFails(t *testing.T) {
	f := newDispatcherFixture()
	c := f.registry.Register(nil, ConnInfo{})

	f.handle(t, c, models.ClientEvent{Type: models.EventJoinRoom})

	ev := recvEvent(t, c)
	assert.Equal(t, models.EventOperationFailed, ev.Type)
	assert.Equal(t, models.ReasonEmptyRoomKey, ev.Reason)
}

func TestSendMessagePersistsAndBroadcastsToWholeRoom(t *testing.T) {
	f := newDispatcherFixture()
	a := f.registry.Register(nil, ConnInfo{})
	b := f.registry.Register(nil, ConnInfo{})
	f.hub.Join("42", a)
	f.hub.Join("42", b)

	saved := models.Message{ID: 7, ChatID: intPtr(42), Sender: "bob", Content: "hi", Kind: models.KindText, CreatedAt: time.Now()}
	f.messages.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.Sender == "bob" && m.Content == "hi" && m.Kind == models.KindText && m.ChatID != nil && *m.ChatID == 42
	})).Return(saved, nil).Once()

	f.handle(t, b, models.ClientEvent{Type: models.EventSendMessage, RoomKey: "42", Sender: "bob", Content: "hi"})

	// sender is not excluded from the fan-out
	for _, c := range []*Client{a, b} {
		ev := recvEvent(t, c)
		require.Equal(t, models.EventReceiveMessage, ev.Type)
		require.NotNil(t, ev.Message)
		assert.Equal(t, "hi", ev.Message.Content)
		assert.Equal(t, models.KindText, ev.Message.Kind)
		assert.False(t, ev.Message.Edited)
		assert.False(t, ev.Message.Deleted)
	}
	f.messages.AssertExpectations(t)
}

func TestSendMessageLateJoinerMissesIt(t *testing.T) {
	f := newDispatcherFixture()
	a := f.registry.Register(nil, ConnInfo{})
	f.hub.Join("42", a)

	saved := models.Message{ID: 8, ChatID: intPtr(42), Sender: "alice", Content: "early", Kind: models.KindText}
	f.messages.On("CreateMessage", mock.Anything, mock.Anything).Return(saved, nil).Once()

	f.handle(t, a, models.ClientEvent{Type: models.EventSendMessage, RoomKey: "42", Sender: "alice", Content: "early"})
	recvEvent(t, a)

	late := f.registry.Register(nil, ConnInfo{})
	f.hub.Join("42", late)
	assertNoEvent(t, late)
}

func TestSendMessageInvalidKindFails(t *testing.T) {
	f := newDispatcherFixture()
	c := f.registry.Register(nil, ConnInfo{})

	f.handle(t, c, models.ClientEvent{Type: models.EventSendMessage, RoomKey: "42", Sender: "bob", Kind: "hologram"})

	ev := recvEvent(t, c)
	assert.Equal(t, models.ReasonInvalidKind, ev.Reason)
	f.messages.AssertNotCalled(t, "CreateMessage")
}

func TestSendMessageAnonymousWithoutSenderFails(t *testing.T) {
	f := newDispatcherFixture()
	c := f.registry.Register(nil, ConnInfo{})

	f.handle(t, c, models.ClientEvent{Type: models.EventSendMessage, RoomKey: "42", Content: "hi"})

	ev := recvEvent(t, c)
	assert.Equal(t, models.ReasonUnauthorized, ev.Reason)
}

func TestSendMessageAuthenticatedPinsSender(t *testing.T) {
	f := newDispatcherFixture()
	c := f.registry.Register(nil, ConnInfo{})
	f.registry.ResolveIdentity(c.ID(), auth.Principal{UserID: 1, Username: "alice"})
	f.hub.Join("42", c)

	saved := models.Message{ID: 9, ChatID: intPtr(42), Sender: "alice", Content: "hi", Kind: models.KindText}
	f.messages.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.Sender == "alice"
	})).Return(saved, nil).Once()

	f.handle(t, c, models.ClientEvent{Type: models.EventSendMessage, RoomKey: "42", Sender: "mallory", Content: "hi"})

	ev := recvEvent(t, c)
	require.Equal(t, models.EventReceiveMessage, ev.Type)
	assert.Equal(t, "alice", ev.Message.Sender)
	f.messages.AssertExpectations(t)
}

func TestSendMessageEphemeralRoomPersistsWithoutChatID(t *testing.T) {
	f := newDispatcherFixture()
	c := f.registry.Register(nil, ConnInfo{})
	f.hub.Join("lobby", c)

	saved := models.Message{ID: 10, Sender: "bob", Content: "yo", Kind: models.KindText}
	f.messages.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.ChatID == nil
	})).Return(saved, nil).Once()

	f.handle(t, c, models.ClientEvent{Type: models.EventSendMessage, RoomKey: "lobby", Sender: "bob", Content: "yo"})

	ev := recvEvent(t, c)
	require.Equal(t, models.EventReceiveMessage, ev.Type)
	assert.Nil(t, ev.Message.ChatID)
	f.messages.AssertExpectations(t)
}

func TestSendMessageStoreFailureIsolatedToSender(t *testing.T) {
	f := newDispatcherFixture()
	a := f.registry.Register(nil, ConnInfo{})
	b := f.registry.Register(nil, ConnInfo{})
	f.hub.Join("42", a)
	f.hub.Join("42", b)

	f.messages.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{}, assert.AnError).Once()

	f.handle(t, a, models.ClientEvent{Type: models.EventSendMessage, RoomKey: "42", Sender: "alice", Content: "hi"})

	ev := recvEvent(t, a)
	assert.Equal(t, models.EventOperationFailed, ev.Type)
	assert.Equal(t, models.ReasonStoreError, ev.Reason)
	assertNoEvent(t, b)
}

func TestEditMessageByNonOwnerRejectedWithoutBroadcast(t *testing.T) {
	f := newDispatcherFixture()
	a := f.registry.Register(nil, ConnInfo{})
	b := f.registry.Register(nil, ConnInfo{})
	f.hub.Join("42", a)
	f.hub.Join("42", b)

	stored := models.Message{ID: 7, ChatID: intPtr(42), Sender: "bob", Content: "hi", Kind: models.KindText}
	f.messages.On("GetMessage", mock.Anything, 7).Return(stored, nil).Once()

	f.handle(t, a, models.ClientEvent{Type: models.EventEditMessage, MessageID: 7, Sender: "alice", Content: "hacked"})

	ev := recvEvent(t, a)
	assert.Equal(t, models.EventOperationFailed, ev.Type)
	assert.Equal(t, models.ReasonNotOwner, ev.Reason)
	assertNoEvent(t, b)
	f.messages.AssertNotCalled(t, "UpdateIfSender")
}

func TestEditMessageByOwnerBroadcastsUpdate(t *testing.T) {
	f := newDispatcherFixture()
	a := f.registry.Register(nil, ConnInfo{})
	b := f.registry.Register(nil, ConnInfo{})
	f.hub.Join("42", a)
	f.hub.Join("42", b)

	stored := models.Message{ID: 7, ChatID: intPtr(42), Sender: "bob", Content: "hi", Kind: models.KindText}
	updated := stored
	updated.Content = "hello"
	updated.Edited = true
	f.messages.On("GetMessage", mock.Anything, 7).Return(stored, nil).Once()
	f.messages.On("UpdateIfSender", mock.Anything, 7, "bob", "hello").Return(updated, nil).Once()

	f.handle(t, b, models.ClientEvent{Type: models.EventEditMessage, MessageID: 7, Sender: "bob", Content: "hello"})

	for _, c := range []*Client{a, b} {
		ev := recvEvent(t, c)
		require.Equal(t, models.EventMessageEdited, ev.Type)
		assert.Equal(t, "hello", ev.Message.Content)
		assert.True(t, ev.Message.Edited)
	}
	f.messages.AssertExpectations(t)
}

func TestEditMissingMessageFails(t *testing.T) {
	f := newDispatcherFixture()
	c := f.registry.Register(nil, ConnInfo{})

	f.messages.On("GetMessage", mock.Anything, 99).Return(models.Message{}, repositories.ErrMessageNotFound).Once()

	f.handle(t, c, models.ClientEvent{Type: models.EventEditMessage, MessageID: 99, Sender: "bob", Content: "x"})

	ev := recvEvent(t, c)
	assert.Equal(t, models.ReasonNotFound, ev.Reason)
}

func TestDeleteThenEditFailsAlreadyDeleted(t *testing.T) {
	f := newDispatcherFixture()
	a := f.registry.Register(nil, ConnInfo{})
	b := f.registry.Register(nil, ConnInfo{})
	f.hub.Join("42", a)
	f.hub.Join("42", b)

	stored := models.Message{ID: 7, ChatID: intPtr(42), Sender: "bob", Content: "hello", Kind: models.KindText, Edited: true}
	deleted := stored
	deleted.Deleted = true
	deleted.Content = ""
	f.messages.On("GetMessage", mock.Anything, 7).Return(stored, nil).Once()
	f.messages.On("SoftDeleteIfSender", mock.Anything, 7, "bob").Return(deleted, nil).Once()

	f.handle(t, b, models.ClientEvent{Type: models.EventDeleteMessage, MessageID: 7, Sender: "bob"})

	// deletion notice carries only the message id
	for _, c := range []*Client{a, b} {
		ev := recvEvent(t, c)
		require.Equal(t, models.EventMessageDeleted, ev.Type)
		assert.Equal(t, 7, ev.MessageID)
		assert.Nil(t, ev.Message)
	}

	f.messages.On("GetMessage", mock.Anything, 7).Return(deleted, nil).Once()
	f.handle(t, b, models.ClientEvent{Type: models.EventEditMessage, MessageID: 7, Sender: "bob", Content: "again"})

	ev := recvEvent(t, b)
	assert.Equal(t, models.EventOperationFailed, ev.Type)
	assert.Equal(t, models.ReasonAlreadyDeleted, ev.Reason)
	assertNoEvent(t, a)
	f.messages.AssertExpectations(t)
}

func TestDeleteEmitsAuditEvent(t *testing.T) {
	f := newDispatcherFixture()
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(ev any) bool {
		envelope, ok := ev.(telemetry.AuditEnvelope)
		return ok && envelope.EventType == "audit_log"
	})).Return(nil).Once()
	emitter := telemetry.NewAuditEmitter(publisher, "audit.chat", "chat-realtime", "test")
	f.dispatcher = NewDispatcher(f.hub, f.registry, f.messages, f.statuses, emitter, 50)

	c := f.registry.Register(nil, ConnInfo{})
	f.hub.Join("42", c)

	stored := models.Message{ID: 5, ChatID: intPtr(42), Sender: "bob", Content: "bye", Kind: models.KindText}
	deleted := stored
	deleted.Deleted = true
	deleted.Content = ""
	f.messages.On("GetMessage", mock.Anything, 5).Return(stored, nil).Once()
	f.messages.On("SoftDeleteIfSender", mock.Anything, 5, "bob").Return(deleted, nil).Once()

	f.handle(t, c, models.ClientEvent{Type: models.EventDeleteMessage, MessageID: 5, Sender: "bob"})

	ev := recvEvent(t, c)
	require.Equal(t, models.EventMessageDeleted, ev.Type)
	publisher.AssertExpectations(t)
}

func TestUpdateStatusFansOutGlobally(t *testing.T) {
	f := newDispatcherFixture()
	inRoom := f.registry.Register(nil, ConnInfo{})
	noRooms := f.registry.Register(nil, ConnInfo{})
	sender := f.registry.Register(nil, ConnInfo{})
	f.hub.Join("42", inRoom)

	f.statuses.On("UpsertStatus", mock.Anything, "alice", models.StatusOnline).
		Return(models.UserStatus{Principal: "alice", Status: models.StatusOnline, LastActive: time.Now()}, nil).Once()

	f.handle(t, sender, models.ClientEvent{Type: models.EventUpdateStatus, Principal: "alice", Status: models.StatusOnline})

	for _, c := range []*Client{inRoom, noRooms, sender} {
		ev := recvEvent(t, c)
		require.Equal(t, models.EventStatusUpdate, ev.Type)
		assert.Equal(t, "alice", ev.Principal)
		assert.Equal(t, models.StatusOnline, ev.Status)
	}
	f.statuses.AssertExpectations(t)
}

func TestUpdateStatusInvalidValueFails(t *testing.T) {
	f := newDispatcherFixture()
	c := f.registry.Register(nil, ConnInfo{})

	f.handle(t, c, models.ClientEvent{Type: models.EventUpdateStatus, Principal: "alice", Status: "NAPPING"})

	ev := recvEvent(t, c)
	assert.Equal(t, models.ReasonInvalidStatus, ev.Reason)
	f.statuses.AssertNotCalled(t, "UpsertStatus")
}
