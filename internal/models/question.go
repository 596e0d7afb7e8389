package models

import "time"

// Status is the moderation state of a question.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAnswered Status = "answered"
	StatusRejected Status = "rejected" // soft-deleted
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAnswered, StatusRejected:
		return true
	}
	return false
}

// MaxQuestionLength is the maximum question length in runes.
const MaxQuestionLength = 500

// Question is the local, normalized view of a question in a room.
type Question struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id,omitempty"`
	Text       string    `json:"text"`
	AuthorTag  string    `json:"author_tag"`
	Upvotes    int       `json:"upvotes"`
	Status     Status    `json:"status"`
	AnswerText string    `json:"answer_text,omitempty"`
	IsReported bool      `json:"is_reported"`
	IsMine     bool      `json:"is_mine"`
	CreatedAt  time.Time `json:"created_at"`
}

// CanTransition reports whether a local action may move a question from one
// status to another. Purge is not a status; it is only allowed from rejected
// and is checked by the caller.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusAnswered || to == StatusRejected
	case StatusRejected:
		return to == StatusPending
	}
	return false
}

// Record is a question as sent by the backend (REST and event payloads).
type Record struct {
	ID         string     `json:"_id"`
	RoomID     string     `json:"roomId,omitempty"`
	Text       string     `json:"questionText"`
	StudentTag string     `json:"studentTag"`
	Upvotes    int        `json:"upvotes"`
	Status     Status     `json:"status,omitempty"`
	IsReported bool       `json:"isReported"`
	Answer     *string    `json:"answer,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
}

// Normalize converts a backend record into a Question for the given viewer.
// Missing fields get their defaults; receivedAt stands in for a missing
// creation time.
func (r Record) Normalize(viewerTag string, receivedAt time.Time) Question {
	q := Question{
		ID:         r.ID,
		RoomID:     r.RoomID,
		Text:       r.Text,
		AuthorTag:  r.StudentTag,
		Upvotes:    r.Upvotes,
		Status:     r.Status,
		IsReported: r.IsReported,
		IsMine:     viewerTag != "" && r.StudentTag == viewerTag,
		CreatedAt:  receivedAt,
	}
	if !q.Status.Valid() {
		q.Status = StatusPending
	}
	if q.Upvotes < 0 {
		q.Upvotes = 0
	}
	if r.CreatedAt != nil && !r.CreatedAt.IsZero() {
		q.CreatedAt = *r.CreatedAt
	}
	if q.Status == StatusAnswered && r.Answer != nil {
		q.AnswerText = *r.Answer
	}
	return q
}

// ToRecord converts a Question back into its wire shape.
func (q Question) ToRecord() Record {
	created := q.CreatedAt
	r := Record{
		ID:         q.ID,
		RoomID:     q.RoomID,
		Text:       q.Text,
		StudentTag: q.AuthorTag,
		Upvotes:    q.Upvotes,
		Status:     q.Status,
		IsReported: q.IsReported,
		CreatedAt:  &created,
	}
	if q.Status == StatusAnswered {
		answer := q.AnswerText
		r.Answer = &answer
	}
	return r
}
