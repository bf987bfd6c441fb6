package repositories

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-realtime/internal/models"
)

const statusKeyPrefix = "user_status:"

// StatusRepository stores per-principal presence.
type StatusRepository interface {
	// UpsertStatus writes the status and refreshes last_active.
	UpsertStatus(ctx context.Context, principal string, status models.Status) (models.UserStatus, error)
	// GetStatus returns the stored status, defaulting to OFFLINE for
	// unknown principals.
	GetStatus(ctx context.Context, principal string) (models.UserStatus, error)
}

// StatusRepo keeps presence in a Redis hash per principal.
type StatusRepo struct {
	client *redis.Client
}

// NewStatusRepo constructs StatusRepo.
func NewStatusRepo(client *redis.Client) *StatusRepo {
	return &StatusRepo{client: client}
}

func (r *StatusRepo) UpsertStatus(ctx context.Context, principal string, status models.Status) (models.UserStatus, error) {
	now := time.Now().UTC()
	err := r.client.HSet(ctx, statusKeyPrefix+principal,
		"status", string(status),
		"last_active", now.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return models.UserStatus{}, err
	}
	return models.UserStatus{Principal: principal, Status: status, LastActive: now}, nil
}

func (r *StatusRepo) GetStatus(ctx context.Context, principal string) (models.UserStatus, error) {
	fields, err := r.client.HGetAll(ctx, statusKeyPrefix+principal).Result()
	if err != nil {
		return models.UserStatus{}, err
	}

	st := models.UserStatus{Principal: principal, Status: models.StatusOffline}
	if raw, ok := fields["status"]; ok && models.ValidStatus(models.Status(raw)) {
		st.Status = models.Status(raw)
	}
	if raw, ok := fields["last_active"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			st.LastActive = ts
		}
	}
	return st, nil
}
