package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
	"go.uber.org/zap"

	"github.com/dessources/PantherKolab-sub001/pkg/logger"
)

// FCMProvider implements Provider on Firebase Cloud Messaging.
// FCM bridges delivery to APNs and Web Push, so a single provider covers
// iOS, Android, and browsers.
type FCMProvider struct {
	app *firebase.App
}

// FCMConfig contains configuration for the FCM provider
type FCMConfig struct {
	CredentialsPath string // path to service account JSON file
	CredentialsJSON []byte // service account JSON content (alternative)
	ProjectID       string
}

// NewFCMProvider creates a new FCM provider
func NewFCMProvider(ctx context.Context, config *FCMConfig) (*FCMProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("FCM config is required")
	}

	var opts []option.ClientOption
	if len(config.CredentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(config.CredentialsJSON))
	} else if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		return nil, fmt.Errorf("either CredentialsPath or CredentialsJSON must be provided")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: config.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	logger.Info("FCM provider initialized",
		zap.String("project_id", config.ProjectID))

	return &FCMProvider{app: app}, nil
}

// Send implements Provider for FCM
func (f *FCMProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	if len(tokens) == 0 {
		return &SendResult{}, nil
	}

	client, err := f.app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	msg := &messaging.MulticastMessage{
		Notification: &messaging.Notification{
			Title: notification.Title,
			Body:  notification.Body,
		},
		Tokens: tokens,
		Data:   notification.Data,
	}

	if notification.Priority == "high" || notification.Sound != "" || notification.Category != "" {
		android := &messaging.AndroidConfig{Notification: &messaging.AndroidNotification{}}
		if notification.Priority == "high" {
			android.Priority = "high"
		}
		android.Notification.Sound = notification.Sound
		android.Notification.ChannelID = notification.Category
		msg.Android = android
	}

	response, err := client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to send FCM message: %w", err)
	}

	result := &SendResult{
		SuccessCount: response.SuccessCount,
		FailureCount: response.FailureCount,
	}
	for i, resp := range response.Responses {
		if resp.Error != nil && messaging.IsRegistrationTokenNotRegistered(resp.Error) {
			result.InvalidTokens = append(result.InvalidTokens, tokens[i])
		}
	}

	return result, nil
}
