package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rollcall-app/rollcall-api/internal/models"
)

const tokenKeyPrefix = "currentToken:"

// TokenRepository stores the current session token per course in Redis.
// Each course owns an independent slot keyed currentToken:{courseCode};
// the Redis TTL matches the token's remaining validity, so expired
// tokens vanish without a sweeper.
type TokenRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewTokenRepository constructs the repository.
func NewTokenRepository(client *redis.Client, logger *zap.Logger) *TokenRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenRepository{client: client, logger: logger}
}

// Put stores the token as the current one for its course, replacing any
// prior token for that course (last-write-wins, no history).
func (r *TokenRepository) Put(ctx context.Context, token *models.SessionToken) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal session token: %w", err)
	}
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("token for %s is already expired", token.CourseCode)
	}
	if err := r.client.Set(ctx, tokenKeyPrefix+token.CourseCode, payload, ttl).Err(); err != nil {
		return fmt.Errorf("store session token: %w", err)
	}
	return nil
}

// Get returns the current token for the course, or nil when the slot is
// empty. A corrupt stored value is self-healed: the slot is cleared and
// reported absent rather than surfacing a fatal error.
func (r *TokenRepository) Get(ctx context.Context, courseCode string) (*models.SessionToken, error) {
	key := tokenKeyPrefix + courseCode
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load session token: %w", err)
	}

	var token models.SessionToken
	if err := json.Unmarshal(raw, &token); err != nil {
		r.logger.Warn("corrupt session token slot, resetting", zap.String("course", courseCode), zap.Error(err))
		if delErr := r.client.Del(ctx, key).Err(); delErr != nil {
			return nil, fmt.Errorf("reset corrupt token slot: %w", delErr)
		}
		return nil, nil
	}
	return &token, nil
}

// Clear drops the course's token slot.
func (r *TokenRepository) Clear(ctx context.Context, courseCode string) error {
	if err := r.client.Del(ctx, tokenKeyPrefix+courseCode).Err(); err != nil {
		return fmt.Errorf("clear session token: %w", err)
	}
	return nil
}
