package models

import "time"

// MessageKind enumerates supported message content kinds.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVideo MessageKind = "video"
	KindGif   MessageKind = "gif"
	KindEmoji MessageKind = "emoji"
	KindFile  MessageKind = "file"
)

// ValidKind reports whether k is one of the supported message kinds.
func ValidKind(k MessageKind) bool {
	switch k {
	case KindText, KindImage, KindVideo, KindGif, KindEmoji, KindFile:
		return true
	}
	return false
}

// Media carries an optional binary payload attached to a message.
type Media struct {
	Data []byte `json:"data,omitempty"`
	Mime string `json:"mime,omitempty"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Message represents a chat message. ChatID is nil for messages sent in
// ephemeral rooms, which have no persisted history.
type Message struct {
	ID        int         `db:"id" json:"id"`
	ChatID    *int        `db:"chat_id" json:"chat_id,omitempty"`
	Sender    string      `db:"sender" json:"sender"`
	Content   string      `db:"content" json:"content"`
	Kind      MessageKind `db:"kind" json:"kind"`
	Media     *Media      `json:"media,omitempty"`
	Edited    bool        `db:"edited" json:"edited"`
	Deleted   bool        `db:"deleted" json:"deleted"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}
