package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) ListRecentByChat(ctx context.Context, chatID int, limit int) ([]models.Message, error) {
	args := m.Called(ctx, chatID, limit)
	var out []models.Message
	if val := args.Get(0); val != nil {
		out = val.([]models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateIfSender(ctx context.Context, messageID int, sender string, content string) (models.Message, error) {
	args := m.Called(ctx, messageID, sender, content)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) SoftDeleteIfSender(ctx context.Context, messageID int, sender string) (models.Message, error) {
	args := m.Called(ctx, messageID, sender)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

type StatusRepositoryMock struct {
	mock.Mock
}

func (m *StatusRepositoryMock) UpsertStatus(ctx context.Context, principal string, status models.Status) (models.UserStatus, error) {
	args := m.Called(ctx, principal, status)
	var out models.UserStatus
	if val := args.Get(0); val != nil {
		out = val.(models.UserStatus)
	}
	return out, args.Error(1)
}

func (m *StatusRepositoryMock) GetStatus(ctx context.Context, principal string) (models.UserStatus, error) {
	args := m.Called(ctx, principal)
	var out models.UserStatus
	if val := args.Get(0); val != nil {
		out = val.(models.UserStatus)
	}
	return out, args.Error(1)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.StatusRepository = (*StatusRepositoryMock)(nil)
