package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dessources/PantherKolab-sub001/pkg/constants"
	"github.com/dessources/PantherKolab-sub001/pkg/logger"
	"github.com/dessources/PantherKolab-sub001/pkg/push"
)

// PushTokenRepository handles push notification token storage in Redis
type PushTokenRepository struct {
	client *redis.Client
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{
		client: client,
	}
}

func tokenKey(tokenStr string) string {
	return fmt.Sprintf("push:token:%s", tokenStr)
}

func userTokensKey(userID uuid.UUID) string {
	return fmt.Sprintf("push:user:%s:tokens", userID)
}

// Store stores a push notification token
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	now := time.Now().Unix()
	if token.CreatedAt == 0 {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := r.client.Set(ctx, tokenKey(token.Token), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	setKey := userTokensKey(token.UserID)
	if err := r.client.SAdd(ctx, setKey, token.Token).Err(); err != nil {
		return fmt.Errorf("failed to add token to user set: %w", err)
	}

	if err := r.client.Expire(ctx, setKey, constants.PushTokenExpiry).Err(); err != nil {
		logger.Warn("Failed to set expiration on user tokens set",
			zap.String("user_id", token.UserID.String()),
			zap.Error(err))
	}

	logger.Debug("Push token stored",
		zap.String("token_id", token.ID.String()),
		zap.String("user_id", token.UserID.String()),
		zap.String("token_type", string(token.Type)))

	return nil
}

// GetByUserID retrieves all tokens for a user
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	tokens, err := r.client.SMembers(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}

	var result []*push.Token
	for _, tokenStr := range tokens {
		token, err := r.getByToken(ctx, tokenStr)
		if err != nil {
			logger.Warn("Failed to get token",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		if token != nil {
			result = append(result, token)
		}
	}

	return result, nil
}

// Delete removes a token
func (r *PushTokenRepository) Delete(ctx context.Context, tokenID uuid.UUID) error {
	token, key, err := r.findByID(ctx, tokenID)
	if err != nil || token == nil {
		return err
	}

	r.client.SRem(ctx, userTokensKey(token.UserID), token.Token)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	logger.Debug("Push token deleted",
		zap.String("token_id", tokenID.String()),
		zap.String("user_id", token.UserID.String()))
	return nil
}

// MarkInactive marks a token as inactive
func (r *PushTokenRepository) MarkInactive(ctx context.Context, tokenID uuid.UUID) error {
	token, key, err := r.findByID(ctx, tokenID)
	if err != nil || token == nil {
		return err
	}

	token.Active = false
	token.UpdatedAt = time.Now().Unix()

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}

	logger.Debug("Push token marked as inactive",
		zap.String("token_id", tokenID.String()),
		zap.String("user_id", token.UserID.String()))
	return nil
}

func (r *PushTokenRepository) getByToken(ctx context.Context, tokenStr string) (*push.Token, error) {
	data, err := r.client.Get(ctx, tokenKey(tokenStr)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var token push.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	return &token, nil
}

// findByID scans the token keyspace for the token carrying tokenID. Tokens
// are keyed by value, so ID lookups walk the set.
func (r *PushTokenRepository) findByID(ctx context.Context, tokenID uuid.UUID) (*push.Token, string, error) {
	iter := r.client.Scan(ctx, 0, "push:token:*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}

		var token push.Token
		if err := json.Unmarshal(data, &token); err != nil {
			continue
		}
		if token.ID == tokenID {
			return &token, key, nil
		}
	}

	if err := iter.Err(); err != nil {
		return nil, "", fmt.Errorf("failed to scan tokens: %w", err)
	}
	return nil, "", nil
}
