package push

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dessources/PantherKolab-sub001/pkg/logger"
)

// Provider defines the interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// TokenType represents the push token platform
type TokenType string

const (
	TokenTypeFCM TokenType = "fcm"
	TokenTypeWeb TokenType = "web"
)

// Token represents a registered push token for a user's device
type Token struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Token    string    `json:"token"`
	Type     TokenType `json:"type"`
	DeviceID string    `json:"device_id,omitempty"`
	Active   bool      `json:"active"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// TokenRepository stores and retrieves push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	Delete(ctx context.Context, tokenID uuid.UUID) error
	MarkInactive(ctx context.Context, tokenID uuid.UUID) error
}

// Service sends push notifications to all of a user's active devices
type Service struct {
	provider Provider
	repo     TokenRepository
}

// NewService creates a push service
func NewService(provider Provider, repo TokenRepository) *Service {
	return &Service{provider: provider, repo: repo}
}

// SendToUser delivers notification to every active token of userID.
// Invalid tokens reported by the provider are marked inactive.
func (s *Service) SendToUser(ctx context.Context, userID uuid.UUID, notification *Notification) error {
	tokens, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}

	active := make([]string, 0, len(tokens))
	byValue := make(map[string]uuid.UUID, len(tokens))
	for _, t := range tokens {
		if t.Active {
			active = append(active, t.Token)
			byValue[t.Token] = t.ID
		}
	}
	if len(active) == 0 {
		return nil
	}

	result, err := s.provider.Send(ctx, notification, active)
	if err != nil {
		return err
	}

	for _, invalid := range result.InvalidTokens {
		if id, ok := byValue[invalid]; ok {
			if err := s.repo.MarkInactive(ctx, id); err != nil {
				logger.Warn("Failed to mark push token inactive",
					zap.String("user_id", userID.String()),
					zap.Error(err))
			}
		}
	}

	logger.Debug("Push notification sent",
		zap.String("user_id", userID.String()),
		zap.Int("success", result.SuccessCount),
		zap.Int("failure", result.FailureCount))

	return nil
}

// MockProvider logs sends without contacting any push network
type MockProvider struct{}

func (m *MockProvider) Send(_ context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	logger.Debug("Mock push send",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))
	return &SendResult{SuccessCount: len(tokens)}, nil
}
