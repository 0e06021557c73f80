package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dessources/PantherKolab-sub001/pkg/logger"
	"github.com/dessources/PantherKolab-sub001/pkg/metrics"
	"github.com/dessources/PantherKolab-sub001/pkg/push"
)

// LiveSender delivers a payload over a user's live connection if one exists
// in this process. Returns false when the user has no live connection.
type LiveSender interface {
	SendToUser(userID uuid.UUID, payload []byte) bool
}

// LiveSenderFunc adapts a function to the LiveSender interface. Useful when
// the live transport is constructed after the notifier.
type LiveSenderFunc func(userID uuid.UUID, payload []byte) bool

func (f LiveSenderFunc) SendToUser(userID uuid.UUID, payload []byte) bool {
	return f(userID, payload)
}

// UserChannel is the per-user Redis Pub/Sub channel carrying lifecycle events
func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s:events", userID)
}

// Notifier fans lifecycle events out to participants: live connection first,
// Redis Pub/Sub for everyone else, plus a best-effort push notification to
// ring devices with no connection at all.
type Notifier struct {
	live    LiveSender
	redis   *redis.Client
	pushSvc *push.Service // optional
}

// NewNotifier creates a notifier. pushSvc may be nil to disable push.
func NewNotifier(live LiveSender, redisClient *redis.Client, pushSvc *push.Service) *Notifier {
	return &Notifier{
		live:    live,
		redis:   redisClient,
		pushSvc: pushSvc,
	}
}

// Notify delivers one event to one user. A missing live connection is not an
// error: delivery silently falls back to the broadcast channel.
func (n *Notifier) Notify(ctx context.Context, userID uuid.UUID, event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal event",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return
	}

	if n.live != nil && n.live.SendToUser(userID, payload) {
		metrics.NotificationsDeliveredTotal.WithLabelValues(string(event.Type), "live").Inc()
		return
	}

	if err := n.redis.Publish(ctx, UserChannel(userID), payload).Err(); err != nil {
		logger.Warn("Failed to publish event to broadcast channel",
			zap.String("user_id", userID.String()),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		metrics.NotificationsDroppedTotal.WithLabelValues(string(event.Type)).Inc()
	} else {
		metrics.NotificationsDeliveredTotal.WithLabelValues(string(event.Type), "broadcast").Inc()
	}

	// Ring devices that are not connected anywhere
	if event.Type == EventIncomingCall && n.pushSvc != nil {
		n.sendIncomingCallPush(ctx, userID, event)
	}
}

// NotifyAll delivers one event to every listed user
func (n *Notifier) NotifyAll(ctx context.Context, userIDs []uuid.UUID, event *Event) {
	for _, id := range userIDs {
		n.Notify(ctx, id, event)
	}
}

func (n *Notifier) sendIncomingCallPush(ctx context.Context, userID uuid.UUID, event *Event) {
	data := map[string]string{
		"type":       string(event.Type),
		"session_id": event.SessionID.String(),
	}
	if callType, ok := event.Data["call_type"].(string); ok {
		data["call_type"] = callType
	}
	if initiator, ok := event.Data["initiated_by"].(string); ok {
		data["initiated_by"] = initiator
	}

	err := n.pushSvc.SendToUser(ctx, userID, &push.Notification{
		Title:    "Incoming call",
		Body:     "Someone is calling you",
		Data:     data,
		Priority: "high",
		Sound:    "ringtone",
		Category: "calls",
	})
	if err != nil {
		logger.Warn("Failed to send incoming-call push",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}
