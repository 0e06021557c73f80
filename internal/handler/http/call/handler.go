package call

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dessources/PantherKolab-sub001/internal/domain"
	callsvc "github.com/dessources/PantherKolab-sub001/internal/service/call"
	"github.com/dessources/PantherKolab-sub001/pkg/response"
)

// Handler handles call lifecycle HTTP requests
type Handler struct {
	callService *callsvc.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *callsvc.Service) *Handler {
	return &Handler{
		callService: callService,
	}
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	CallType       string   `json:"call_type" binding:"required,oneof=DIRECT GROUP"`
	ParticipantIDs []string `json:"participant_ids" binding:"required,min=1"`
	ConversationID string   `json:"conversation_id,omitempty"`
}

// LeaveCallRequest carries the optional ownership successor
type LeaveCallRequest struct {
	NewOwnerID string `json:"new_owner_id,omitempty"`
}

// InitiateCall starts a new call session
// POST /v1/calls
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	participantIDs := make([]uuid.UUID, len(req.ParticipantIDs))
	for i, idStr := range req.ParticipantIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			response.ValidationError(c, "Invalid participant ID: "+idStr)
			return
		}
		participantIDs[i] = id
	}

	var conversationID *uuid.UUID
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			response.ValidationError(c, "Invalid conversation ID")
			return
		}
		conversationID = &id
	}

	output, err := h.callService.InitiateCall(c.Request.Context(), &callsvc.InitiateCallInput{
		CallType:       domain.CallType(req.CallType),
		InitiatedBy:    userID,
		ParticipantIDs: participantIDs,
		ConversationID: conversationID,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, output)
}

// AcceptCall joins a ringing call and returns join credentials
// POST /v1/calls/:id/accept
func (h *Handler) AcceptCall(c *gin.Context) {
	sessionID, userID, ok := sessionAndUser(c)
	if !ok {
		return
	}

	output, err := h.callService.AcceptCall(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, output)
}

// RejectCall declines a ringing call
// POST /v1/calls/:id/reject
func (h *Handler) RejectCall(c *gin.Context) {
	sessionID, userID, ok := sessionAndUser(c)
	if !ok {
		return
	}

	if err := h.callService.RejectCall(c.Request.Context(), sessionID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":    "Call rejected",
		"session_id": sessionID,
	})
}

// CancelCall withdraws a still-ringing call, initiator only
// POST /v1/calls/:id/cancel
func (h *Handler) CancelCall(c *gin.Context) {
	sessionID, userID, ok := sessionAndUser(c)
	if !ok {
		return
	}

	if err := h.callService.CancelCall(c.Request.Context(), sessionID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":    "Call cancelled",
		"session_id": sessionID,
	})
}

// LeaveCall removes the caller from an active call. A group owner with
// remaining participants must name new_owner_id.
// POST /v1/calls/:id/leave
func (h *Handler) LeaveCall(c *gin.Context) {
	sessionID, userID, ok := sessionAndUser(c)
	if !ok {
		return
	}

	var req LeaveCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}

	var newOwnerID *uuid.UUID
	if req.NewOwnerID != "" {
		id, err := uuid.Parse(req.NewOwnerID)
		if err != nil {
			response.ValidationError(c, "Invalid new owner ID")
			return
		}
		newOwnerID = &id
	}

	output, err := h.callService.LeaveCall(c.Request.Context(), sessionID, userID, newOwnerID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, output)
}

// EndCall terminates a call for everyone, owner only
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	sessionID, userID, ok := sessionAndUser(c)
	if !ok {
		return
	}

	if err := h.callService.EndCall(c.Request.Context(), sessionID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":    "Call ended",
		"session_id": sessionID,
	})
}

// GetCall retrieves call state, participants only
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	sessionID, userID, ok := sessionAndUser(c)
	if !ok {
		return
	}

	call, err := h.callService.GetCall(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

// GetCallHistory lists the caller's recent calls
// GET /v1/calls?limit=20&offset=0
func (h *Handler) GetCallHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	calls, err := h.callService.GetUserCallHistory(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls":  calls,
		"limit":  limit,
		"offset": offset,
	})
}

// currentUserID pulls the authenticated user ID set by the auth middleware
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

// sessionAndUser parses the :id path param and the authenticated user
func sessionAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid session ID")
		return uuid.Nil, uuid.Nil, false
	}

	userID, ok := currentUserID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return sessionID, userID, true
}
