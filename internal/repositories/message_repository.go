package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, chat_id, sender, content, kind, media_data, media_mime, media_name, media_size, edited, deleted, created_at, updated_at`

// MessageRepository is the message store consumed by the realtime dispatcher.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	// ListRecentByChat returns at most limit messages for the chat,
	// newest first.
	ListRecentByChat(ctx context.Context, chatID int, limit int) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	// UpdateIfSender sets new content and the edited flag only when the
	// message exists, sender matches and the message is not deleted.
	UpdateIfSender(ctx context.Context, messageID int, sender string, content string) (models.Message, error)
	// SoftDeleteIfSender marks the message deleted and clears its content
	// under the same ownership precondition.
	SoftDeleteIfSender(ctx context.Context, messageID int, sender string) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message; the store assigns id and timestamps.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var mediaData []byte
	var mediaMime, mediaName sql.NullString
	var mediaSize sql.NullInt64
	if msg.Media != nil {
		mediaData = msg.Media.Data
		mediaMime = sql.NullString{String: msg.Media.Mime, Valid: true}
		mediaName = sql.NullString{String: msg.Media.Name, Valid: true}
		mediaSize = sql.NullInt64{Int64: msg.Media.Size, Valid: true}
	}

	row := r.db.QueryRowxContext(ctx, `INSERT INTO messages (chat_id, sender, content, kind, media_data, media_mime, media_name, media_size)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING `+messageColumns,
		msg.ChatID, msg.Sender, msg.Content, msg.Kind, mediaData, mediaMime, mediaName, mediaSize)
	return scanMessage(row)
}

// ListRecentByChat returns the newest messages of a chat, newest first.
func (r *MessageRepo) ListRecentByChat(ctx context.Context, chatID int, limit int) ([]models.Message, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT `+messageColumns+` FROM messages
        WHERE chat_id=$1
        ORDER BY created_at DESC, id DESC
        LIMIT $2`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// UpdateIfSender performs the conditional edit in a single statement so the
// ownership and not-deleted checks are atomic with the update.
func (r *MessageRepo) UpdateIfSender(ctx context.Context, messageID int, sender string, content string) (models.Message, error) {
	row := r.db.QueryRowxContext(ctx, `UPDATE messages
        SET content=$1, edited=TRUE, updated_at=NOW()
        WHERE id=$2 AND sender=$3 AND deleted=FALSE
        RETURNING `+messageColumns, content, messageID, sender)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// SoftDeleteIfSender marks the message deleted and permanently clears content.
func (r *MessageRepo) SoftDeleteIfSender(ctx context.Context, messageID int, sender string) (models.Message, error) {
	row := r.db.QueryRowxContext(ctx, `UPDATE messages
        SET deleted=TRUE, content='', updated_at=NOW()
        WHERE id=$1 AND sender=$2 AND deleted=FALSE
        RETURNING `+messageColumns, messageID, sender)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (models.Message, error) {
	var msg models.Message
	var chatID sql.NullInt64
	var mediaData []byte
	var mediaMime, mediaName sql.NullString
	var mediaSize sql.NullInt64

	err := row.Scan(&msg.ID, &chatID, &msg.Sender, &msg.Content, &msg.Kind,
		&mediaData, &mediaMime, &mediaName, &mediaSize,
		&msg.Edited, &msg.Deleted, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return models.Message{}, err
	}

	if chatID.Valid {
		id := int(chatID.Int64)
		msg.ChatID = &id
	}
	if mediaMime.Valid || len(mediaData) > 0 {
		msg.Media = &models.Media{
			Data: mediaData,
			Mime: mediaMime.String,
			Name: mediaName.String,
			Size: mediaSize.Int64,
		}
	}
	return msg, nil
}
