package rooms

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qbox-live/qbox/internal/auth"
	"github.com/qbox-live/qbox/internal/feed"
	"github.com/qbox-live/qbox/internal/middleware"
	"github.com/qbox-live/qbox/internal/models"
	"github.com/qbox-live/qbox/pkg/response"
)

// Publisher delivers an event to every member of a room.
type Publisher interface {
	Publish(roomCode, event string, payload any)
}

// JoinRequest is the body for POST /rooms/join.
type JoinRequest struct {
	RoomCode string `json:"roomCode" binding:"required"`
}

// OneTimeRequest is the body for POST /rooms/one-time.
type OneTimeRequest struct {
	LecturerName     string `json:"lecturerName" binding:"required"`
	QuestionsVisible *bool  `json:"questionsVisible"`
}

// Handler handles room HTTP endpoints.
type Handler struct {
	repo   *Repository
	jwt    *auth.JWTService
	hub    Publisher
	logger *zap.Logger
}

// NewHandler creates a rooms handler.
func NewHandler(repo *Repository, jwt *auth.JWTService, hub Publisher, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, jwt: jwt, hub: hub, logger: logger}
}

// Join handles POST /rooms/join (participant resolves a code).
func (h *Handler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	room, err := h.repo.GetByCode(c.Request.Context(), req.RoomCode)
	if err != nil {
		response.NotFound(c, "invalid room code")
		return
	}
	if room.Closed() {
		response.Conflict(c, ErrClosed.Error())
		return
	}
	response.OK(c, room.ToRecord())
}

// GetByID handles GET /rooms/:id.
func (h *Handler) GetByID(c *gin.Context) {
	room, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.OK(c, room.ToRecord())
}

// CreateOneTime handles POST /rooms/one-time: an ephemeral room run without
// an account, returned with its instructor token.
func (h *Handler) CreateOneTime(c *gin.Context) {
	var req OneTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	visible := req.QuestionsVisible == nil || *req.QuestionsVisible
	room, err := h.repo.Create(c.Request.Context(), fmt.Sprintf("%s's Q&A", req.LecturerName), req.LecturerName, models.VisibilityFromFlag(visible))
	if err != nil {
		response.Internal(c, "failed to create room")
		return
	}
	token, err := h.jwt.Generate(room.ID, req.LecturerName, string(models.RoleInstructor))
	if err != nil {
		h.logger.Error("sign room token", zap.String("room_id", room.ID), zap.Error(err))
		response.Internal(c, "failed to create room")
		return
	}
	h.logger.Info("room created", zap.String("room_id", room.ID), zap.String("code", room.Code))
	response.Created(c, gin.H{"room": room.ToRecord(), "token": token})
}

// ToggleVisibility handles PUT /rooms/:id/toggle-visibility (room instructor).
func (h *Handler) ToggleVisibility(c *gin.Context) {
	id := c.Param("id")
	if !middleware.RoomOwner(c, id) {
		response.Forbidden(c, "only the room's instructor can change visibility")
		return
	}
	room, err := h.repo.ToggleVisibility(c.Request.Context(), id)
	if !h.handleUpdateErr(c, err) {
		return
	}
	name, payload := feed.Encode(feed.Event{Kind: feed.KindVisibilityChanged, RoomCode: room.Code, Visibility: room.Visibility})
	h.hub.Publish(room.Code, name, payload)
	response.OKMessage(c, fmt.Sprintf("Questions are now %s", room.Visibility), room.ToRecord())
}

// Close handles PUT /rooms/:id/close (room instructor).
func (h *Handler) Close(c *gin.Context) {
	id := c.Param("id")
	if !middleware.RoomOwner(c, id) {
		response.Forbidden(c, "only the room's instructor can close it")
		return
	}
	room, err := h.repo.Close(c.Request.Context(), id)
	if !h.handleUpdateErr(c, err) {
		return
	}
	name, payload := feed.Encode(feed.Event{Kind: feed.KindRoomClosed, RoomCode: room.Code})
	h.hub.Publish(room.Code, name, payload)
	response.OKMessage(c, "Room closed", room.ToRecord())
}

func (h *Handler) handleUpdateErr(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrClosed):
		response.Conflict(c, err.Error())
	default:
		response.Internal(c, "failed to update room")
	}
	return false
}
