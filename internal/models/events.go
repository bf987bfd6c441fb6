package models

// EventType names a realtime protocol event.
type EventType string

// Client-to-server events.
const (
	EventJoinRoom      EventType = "join_room"
	EventSendMessage   EventType = "send_message"
	EventEditMessage   EventType = "edit_message"
	EventDeleteMessage EventType = "delete_message"
	EventUpdateStatus  EventType = "update_status"
)

// Server-to-client events.
const (
	EventChatHistory     EventType = "chat_history"
	EventReceiveMessage  EventType = "receive_message"
	EventMessageEdited   EventType = "message_edited"
	EventMessageDeleted  EventType = "message_deleted"
	EventStatusUpdate    EventType = "status_update"
	EventOperationFailed EventType = "operation_failed"
)

// Failure reasons carried by operation_failed.
const (
	ReasonUnauthorized   = "unauthorized"
	ReasonNotOwner       = "not_owner"
	ReasonNotFound       = "not_found"
	ReasonAlreadyDeleted = "already_deleted"
	ReasonInvalidKind    = "invalid_kind"
	ReasonInvalidStatus  = "invalid_status"
	ReasonInvalidPayload = "invalid_payload"
	ReasonStoreError     = "store_error"
	ReasonEmptyRoomKey   = "empty_room_key"
)

// ClientEvent is the inbound envelope. Fields are optional per event type.
type ClientEvent struct {
	Type      EventType   `json:"type"`
	RoomKey   string      `json:"room_key,omitempty"`
	Sender    string      `json:"sender,omitempty"`
	Content   string      `json:"content,omitempty"`
	Kind      MessageKind `json:"kind,omitempty"`
	Media     *Media      `json:"media,omitempty"`
	MessageID int         `json:"message_id,omitempty"`
	Principal string      `json:"principal,omitempty"`
	Status    Status      `json:"status,omitempty"`
}

// ServerEvent is the outbound envelope pushed through client send channels.
type ServerEvent struct {
	Type      EventType `json:"type"`
	Message   *Message  `json:"message,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
	MessageID int       `json:"message_id,omitempty"`
	Principal string    `json:"principal,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Event     EventType `json:"event,omitempty"`
}
