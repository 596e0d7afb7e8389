package questions

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qbox-live/qbox/internal/feed"
	"github.com/qbox-live/qbox/internal/middleware"
	"github.com/qbox-live/qbox/internal/models"
	"github.com/qbox-live/qbox/pkg/response"
)

// RoomFinder resolves the room a question belongs to.
type RoomFinder interface {
	GetByID(ctx context.Context, id string) (models.Room, error)
}

// Publisher delivers an event to every member of a room.
type Publisher interface {
	Publish(roomCode, event string, payload any)
}

// CreateRequest is the body for POST /questions.
type CreateRequest struct {
	Text       string `json:"questionText" binding:"required"`
	RoomID     string `json:"roomId" binding:"required"`
	StudentTag string `json:"studentTag" binding:"required"`
}

// TagRequest is the body for upvote and report.
type TagRequest struct {
	StudentTag string `json:"studentTag" binding:"required"`
	Reason     string `json:"reason"`
}

// AnswerRequest is the body for PUT /questions/:id/answer.
type AnswerRequest struct {
	Answer string `json:"answer"`
}

// Handler handles question HTTP endpoints and publishes every change to the
// question's room.
type Handler struct {
	repo   *Repository
	rooms  RoomFinder
	hub    Publisher
	logger *zap.Logger
}

// NewHandler creates a questions handler.
func NewHandler(repo *Repository, rooms RoomFinder, hub Publisher, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, rooms: rooms, hub: hub, logger: logger}
}

// ListByRoom handles GET /questions/room/:roomId. In a private room only the
// instructor sees every question; others get the ones matching studentTag.
func (h *Handler) ListByRoom(c *gin.Context) {
	ctx := c.Request.Context()
	room, err := h.rooms.GetByID(ctx, c.Param("roomId"))
	if err != nil {
		response.NotFound(c, "room not found")
		return
	}
	owner := middleware.RoomOwner(c, room.ID)
	includeRejected := c.Query("includeRejected") == "true"
	if includeRejected && !owner {
		response.Forbidden(c, "only the room's instructor can list deleted questions")
		return
	}
	list, err := h.repo.ListByRoom(ctx, room.ID, includeRejected)
	if err != nil {
		response.Internal(c, "failed to list questions")
		return
	}
	tag := c.Query("studentTag")
	out := make([]models.Record, 0, len(list))
	for _, q := range list {
		if room.Visibility == models.VisibilityPrivate && !owner && q.AuthorTag != tag {
			continue
		}
		out = append(out, q.ToRecord())
	}
	response.OK(c, out)
}

// Create handles POST /questions (participant asks).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	text, err := models.NormalizeText(req.Text)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	room, err := h.rooms.GetByID(ctx, req.RoomID)
	if err != nil {
		response.NotFound(c, "room not found")
		return
	}
	if room.Closed() {
		response.Conflict(c, "room is closed")
		return
	}

	q, err := h.repo.Create(ctx, room.ID, text, strings.TrimSpace(req.StudentTag))
	if err != nil {
		response.Internal(c, "failed to create question")
		return
	}
	h.publish(room, feed.Event{Kind: feed.KindCreated, QuestionID: q.ID, Question: &q})
	response.Created(c, q.ToRecord())
}

// Upvote handles PUT /questions/:id/upvote (one per tag).
func (h *Handler) Upvote(c *gin.Context) {
	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q, room, ok := h.load(c)
	if !ok {
		return
	}
	if room.Closed() {
		response.Conflict(c, "room is closed")
		return
	}
	votes, err := h.repo.Upvote(c.Request.Context(), q.ID, req.StudentTag)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.publish(room, feed.Event{Kind: feed.KindUpvoted, QuestionID: q.ID, Upvotes: votes})
	response.OK(c, gin.H{"upvotes": votes})
}

// Report handles PUT /questions/:id/report.
func (h *Handler) Report(c *gin.Context) {
	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q, room, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.repo.Report(c.Request.Context(), q.ID, req.StudentTag, req.Reason); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("question reported", zap.String("question_id", q.ID), zap.String("reason", req.Reason))
	h.publish(room, feed.Event{Kind: feed.KindReported, QuestionID: q.ID})
	response.OKMessage(c, "Question reported", gin.H{"isReported": true})
}

// Answer handles PUT /questions/:id/answer (room instructor).
func (h *Handler) Answer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q, room, ok := h.loadOwned(c)
	if !ok {
		return
	}
	updated, err := h.repo.MarkAnswered(c.Request.Context(), q.ID, strings.TrimSpace(req.Answer))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.publish(room, feed.Event{Kind: feed.KindAnswered, QuestionID: q.ID, AnswerText: updated.AnswerText})
	response.OK(c, updated.ToRecord())
}

// SoftDelete handles DELETE /questions/:id (room instructor).
func (h *Handler) SoftDelete(c *gin.Context) {
	h.setStatus(c, models.StatusRejected, feed.KindSoftDeleted)
}

// Restore handles PUT /questions/:id/restore (room instructor).
func (h *Handler) Restore(c *gin.Context) {
	h.setStatus(c, models.StatusPending, feed.KindRestored)
}

func (h *Handler) setStatus(c *gin.Context, to models.Status, kind feed.Kind) {
	q, room, ok := h.loadOwned(c)
	if !ok {
		return
	}
	updated, err := h.repo.SetStatus(c.Request.Context(), q.ID, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.publish(room, feed.Event{Kind: kind, QuestionID: q.ID})
	response.OK(c, updated.ToRecord())
}

// Purge handles DELETE /questions/:id/permanent (room instructor).
func (h *Handler) Purge(c *gin.Context) {
	q, room, ok := h.loadOwned(c)
	if !ok {
		return
	}
	if _, err := h.repo.Purge(c.Request.Context(), q.ID); err != nil {
		h.fail(c, err)
		return
	}
	h.publish(room, feed.Event{Kind: feed.KindPurged, QuestionID: q.ID})
	response.OKMessage(c, "Question permanently deleted", gin.H{"questionId": q.ID})
}

func (h *Handler) load(c *gin.Context) (models.Question, models.Room, bool) {
	ctx := c.Request.Context()
	q, err := h.repo.GetByID(ctx, c.Param("id"))
	if err != nil {
		response.NotFound(c, err.Error())
		return models.Question{}, models.Room{}, false
	}
	room, err := h.rooms.GetByID(ctx, q.RoomID)
	if err != nil {
		response.NotFound(c, "room not found")
		return models.Question{}, models.Room{}, false
	}
	return q, room, true
}

func (h *Handler) loadOwned(c *gin.Context) (models.Question, models.Room, bool) {
	q, room, ok := h.load(c)
	if !ok {
		return q, room, false
	}
	if !middleware.RoomOwner(c, room.ID) {
		response.Forbidden(c, "only the room's instructor can moderate questions")
		return q, room, false
	}
	return q, room, true
}

func (h *Handler) publish(room models.Room, ev feed.Event) {
	name, payload := feed.Encode(ev)
	h.hub.Publish(room.Code, name, payload)
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrAlreadyUpvoted), errors.Is(err, ErrAlreadyReported), errors.Is(err, ErrInvalidStatus):
		response.Conflict(c, err.Error())
	default:
		h.logger.Error("question update failed", zap.Error(err))
		response.Internal(c, "failed to update question")
	}
}
