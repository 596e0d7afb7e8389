package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/qbox-live/qbox/internal/models"
)

// ListQuestions fetches a room's questions. studentTag may be empty.
func (c *Client) ListQuestions(ctx context.Context, roomID, studentTag string, includeRejected bool) ([]models.Record, error) {
	q := url.Values{}
	if studentTag != "" {
		q.Set("studentTag", studentTag)
	}
	if includeRejected {
		q.Set("includeRejected", "true")
	}
	var out []models.Record
	if err := c.do(ctx, http.MethodGet, "/questions/room/"+url.PathEscape(roomID), q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type createQuestionRequest struct {
	Text       string `json:"questionText"`
	RoomID     string `json:"roomId"`
	StudentTag string `json:"studentTag"`
}

// CreateQuestion posts a new question and returns the stored record.
func (c *Client) CreateQuestion(ctx context.Context, text, roomID, studentTag string) (models.Record, error) {
	var out models.Record
	err := c.do(ctx, http.MethodPost, "/questions", nil,
		createQuestionRequest{Text: text, RoomID: roomID, StudentTag: studentTag}, &out)
	return out, err
}

type tagRequest struct {
	StudentTag string `json:"studentTag,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Upvote upvotes a question and returns the authoritative count.
func (c *Client) Upvote(ctx context.Context, questionID, studentTag string) (int, error) {
	var out struct {
		Upvotes int `json:"upvotes"`
	}
	err := c.do(ctx, http.MethodPut, questionPath(questionID, "upvote"), nil, tagRequest{StudentTag: studentTag}, &out)
	return out.Upvotes, err
}

// Report flags a question with a reason.
func (c *Client) Report(ctx context.Context, questionID, studentTag, reason string) error {
	return c.do(ctx, http.MethodPut, questionPath(questionID, "report"), nil,
		tagRequest{StudentTag: studentTag, Reason: reason}, nil)
}

// Answer marks a question answered, optionally with text.
func (c *Client) Answer(ctx context.Context, questionID, answer string) error {
	body := struct {
		Answer string `json:"answer,omitempty"`
	}{Answer: answer}
	return c.do(ctx, http.MethodPut, questionPath(questionID, "answer"), nil, body, nil)
}

// SoftDelete moves a question to the deleted bucket.
func (c *Client) SoftDelete(ctx context.Context, questionID string) error {
	return c.do(ctx, http.MethodDelete, questionPath(questionID, ""), nil, nil, nil)
}

// Restore moves a soft-deleted question back to pending.
func (c *Client) Restore(ctx context.Context, questionID string) error {
	return c.do(ctx, http.MethodPut, questionPath(questionID, "restore"), nil, nil, nil)
}

// Purge permanently deletes a question.
func (c *Client) Purge(ctx context.Context, questionID string) error {
	return c.do(ctx, http.MethodDelete, questionPath(questionID, "permanent"), nil, nil, nil)
}

func questionPath(id, action string) string {
	p := "/questions/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}
