package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dessources/PantherKolab-sub001/internal/domain"
	"github.com/dessources/PantherKolab-sub001/internal/middleware"
	"github.com/dessources/PantherKolab-sub001/internal/service/call"
	"github.com/dessources/PantherKolab-sub001/pkg/env"
	apperrors "github.com/dessources/PantherKolab-sub001/pkg/errors"
	"github.com/dessources/PantherKolab-sub001/pkg/jwt"
	"github.com/dessources/PantherKolab-sub001/pkg/logger"
	"github.com/dessources/PantherKolab-sub001/pkg/metrics"
)

// Client -> server signaling events and their server -> client counterparts
const (
	EventCallInitiate = "call:initiate"
	EventCallAccept   = "call:accept"
	EventCallDecline  = "call:decline"
	EventCallEnd      = "call:end"

	EventCallIncoming = "call:incoming"
	EventCallAccepted = "call:accepted"
	EventCallDeclined = "call:declined"
	EventCallEnded    = "call:ended"
)

// codeSessionNotFound is returned when an ephemeral session id is unknown
const codeSessionNotFound = "SESSION_NOT_FOUND"

// clientEvent is the envelope for client-originated signaling events
type clientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// serverEvent is the envelope for server-pushed signaling events
type serverEvent struct {
	Event     string                 `json:"event"`
	SessionID uuid.UUID              `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ack acknowledges one client event
type ack struct {
	Event     string                 `json:"event"`
	For       string                 `json:"for"`
	Success   bool                   `json:"success"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// InitiateValidator is the orchestrator's shared validation entry point.
// The gateway never re-implements call-type or participant rules.
type InitiateValidator interface {
	ValidateInitiate(ctx context.Context, input *call.InitiateCallInput) error
}

var gatewayUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		return middleware.AllowedOrigins()[origin]
	},
}

// Gateway authenticates bidirectional connections, dispatches client
// signaling events, and relays outcomes to connected participants
type Gateway struct {
	registry  PresenceRegistry
	sessions  *SessionStore
	validator InitiateValidator
	jwt       *jwt.JWTManager

	mu      sync.RWMutex
	clients map[string]*Client

	maxConnections int
	semaphore      chan struct{}
}

// Client is one live signaling connection
type Client struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte
	userID  uuid.UUID
	connID  string
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewGateway creates the connection gateway
func NewGateway(registry PresenceRegistry, sessions *SessionStore, validator InitiateValidator, jwtManager *jwt.JWTManager) *Gateway {
	maxConns := env.GetInt("WS_MAX_SIGNALING_CONNECTIONS", 1000)
	if maxConns <= 0 {
		maxConns = 1000
	}

	return &Gateway{
		registry:       registry,
		sessions:       sessions,
		validator:      validator,
		jwt:            jwtManager,
		clients:        make(map[string]*Client),
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
	}
}

// SendToUser delivers payload over the user's live connection if present in
// this process. Implements the notifier's live path.
func (g *Gateway) SendToUser(userID uuid.UUID, payload []byte) bool {
	connID, ok := g.registry.ConnectionFor(userID)
	if !ok {
		return false
	}
	return g.sendToConn(connID, payload)
}

func (g *Gateway) sendToConn(connID string, payload []byte) bool {
	g.mu.RLock()
	client, ok := g.clients[connID]
	g.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		// slow consumer, drop the connection
		client.cancel()
		return false
	}
}

// ServeWS authenticates and upgrades an inbound signaling connection
// GET /v1/calls/ws/signaling?token=<jwt>
func (g *Gateway) ServeWS(c *gin.Context) {
	select {
	case g.semaphore <- struct{}{}:
	default:
		logger.Warn("Signaling connection rejected: max connections reached",
			zap.Int("max_connections", g.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}
	release := func() { <-g.semaphore }

	token := c.Query("token")
	if token == "" {
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}
	if token == "" {
		release()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "credential required"})
		return
	}

	claims, err := g.jwt.ValidateToken(token)
	if err != nil {
		release()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
		return
	}

	conn, err := gatewayUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		release()
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", claims.UserID.String()),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		gateway: g,
		conn:    conn,
		send:    make(chan []byte, 256),
		userID:  claims.UserID,
		connID:  uuid.New().String(),
		ctx:     ctx,
		cancel:  cancel,
	}

	g.mu.Lock()
	g.clients[client.connID] = client
	g.mu.Unlock()
	g.registry.Register(client.userID, client.connID)
	metrics.SignalingConnections.Inc()

	logger.Debug("Signaling connection registered",
		zap.String("user_id", client.userID.String()),
		zap.String("conn_id", client.connID))

	client.sendAck(&ack{Event: "ack", For: "connect", Success: true, Timestamp: time.Now().UTC()})

	go client.writePump(release)
	go client.readPump()
}

// disconnect tears down a client: registry, client map, and any ephemeral
// sessions left without live participants
func (g *Gateway) disconnect(client *Client) {
	g.mu.Lock()
	_, present := g.clients[client.connID]
	delete(g.clients, client.connID)
	g.mu.Unlock()
	if !present {
		return
	}

	g.registry.Unregister(client.userID, client.connID)
	g.sessions.DropConnection(client.connID)
	client.cancel()
	metrics.SignalingConnections.Dec()

	logger.Debug("Signaling connection removed",
		zap.String("user_id", client.userID.String()),
		zap.String("conn_id", client.connID))
}

// dispatch routes one decoded client event
func (g *Gateway) dispatch(client *Client, raw []byte) {
	var event clientEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		client.sendError("", apperrors.ErrCodeValidation, "malformed event")
		return
	}

	switch event.Event {
	case EventCallInitiate:
		g.handleInitiate(client, event.Data)
	case EventCallAccept:
		g.handleSessionEvent(client, EventCallAccept, EventCallAccepted, event.Data)
	case EventCallDecline:
		g.handleSessionEvent(client, EventCallDecline, EventCallDeclined, event.Data)
	case EventCallEnd:
		g.handleSessionEvent(client, EventCallEnd, EventCallEnded, event.Data)
	default:
		client.sendError(event.Event, apperrors.ErrCodeValidation, "unknown event")
	}
}

// initiatePayload is the shape of call:initiate data
type initiatePayload struct {
	SessionID      *uuid.UUID  `json:"session_id,omitempty"`
	CallType       string      `json:"call_type"`
	ParticipantIDs []uuid.UUID `json:"participant_ids"`
	ConversationID *uuid.UUID  `json:"conversation_id,omitempty"`
}

// handleInitiate creates an ephemeral session and pushes call:incoming to
// every recipient with a live connection. The persistent record is created
// by the REST path; this is purely the low-latency ring.
func (g *Gateway) handleInitiate(client *Client, data json.RawMessage) {
	var payload initiatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		g.ackError(client, EventCallInitiate, apperrors.ErrCodeValidation, "malformed call:initiate payload")
		return
	}

	input := &call.InitiateCallInput{
		CallType:       domain.CallType(payload.CallType),
		InitiatedBy:    client.userID,
		ParticipantIDs: payload.ParticipantIDs,
		ConversationID: payload.ConversationID,
	}
	if err := g.validator.ValidateInitiate(client.ctx, input); err != nil {
		appErr := apperrors.GetAppError(err)
		g.ackError(client, EventCallInitiate, appErr.Code, appErr.Message)
		return
	}

	sessionID := uuid.New()
	if payload.SessionID != nil {
		sessionID = *payload.SessionID
	}

	if !g.sessions.Create(sessionID, client.userID, client.connID) {
		g.ackError(client, EventCallInitiate, apperrors.ErrCodeConflict, "session already exists")
		return
	}

	incoming := mustMarshal(&serverEvent{
		Event:     EventCallIncoming,
		SessionID: sessionID,
		Data: map[string]interface{}{
			"initiated_by": client.userID.String(),
			"call_type":    payload.CallType,
		},
		Timestamp: time.Now().UTC(),
	})
	for _, recipientID := range payload.ParticipantIDs {
		connID, online := g.registry.ConnectionFor(recipientID)
		if !online {
			continue
		}
		if g.sendToConn(connID, incoming) {
			g.sessions.Attach(sessionID, recipientID, connID)
		}
	}

	metrics.SignalingEventsTotal.WithLabelValues(EventCallInitiate, "ok").Inc()
	client.sendAck(&ack{
		Event:     "ack",
		For:       EventCallInitiate,
		Success:   true,
		Data:      map[string]interface{}{"session_id": sessionID.String()},
		Timestamp: time.Now().UTC(),
	})
}

// sessionPayload is the shape of accept/decline/end data
type sessionPayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

// handleSessionEvent relays accept/decline/end over an existing ephemeral
// session and discards the session after decline/end
func (g *Gateway) handleSessionEvent(client *Client, clientEventName, serverEventName string, data json.RawMessage) {
	var payload sessionPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == uuid.Nil {
		g.ackError(client, clientEventName, apperrors.ErrCodeValidation, "session_id is required")
		return
	}

	if !g.sessions.Attach(payload.SessionID, client.userID, client.connID) {
		metrics.SignalingEventsTotal.WithLabelValues(clientEventName, "error").Inc()
		client.sendAck(&ack{
			Event:     "ack",
			For:       clientEventName,
			Success:   false,
			Code:      codeSessionNotFound,
			Message:   "no ephemeral session for this id",
			Timestamp: time.Now().UTC(),
		})
		return
	}

	outbound := mustMarshal(&serverEvent{
		Event:     serverEventName,
		SessionID: payload.SessionID,
		Data:      map[string]interface{}{"user_id": client.userID.String()},
		Timestamp: time.Now().UTC(),
	})
	conns, _ := g.sessions.Connections(payload.SessionID)
	for _, connID := range conns {
		if connID != client.connID {
			g.sendToConn(connID, outbound)
		}
	}

	if clientEventName == EventCallDecline || clientEventName == EventCallEnd {
		g.sessions.Remove(payload.SessionID)
	}

	metrics.SignalingEventsTotal.WithLabelValues(clientEventName, "ok").Inc()
	client.sendAck(&ack{Event: "ack", For: clientEventName, Success: true, Timestamp: time.Now().UTC()})
}

func (g *Gateway) ackError(client *Client, forEvent string, code apperrors.ErrorCode, message string) {
	metrics.SignalingEventsTotal.WithLabelValues(forEvent, "error").Inc()
	client.sendAck(&ack{
		Event:     "ack",
		For:       forEvent,
		Success:   false,
		Code:      string(code),
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

func mustMarshal(v interface{}) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to marshal signaling event", zap.Error(err))
		return []byte("{}")
	}
	return payload
}
