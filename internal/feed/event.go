package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/qbox-live/qbox/internal/models"
)

// Kind identifies an inbound change to a room's question set.
type Kind string

const (
	KindCreated           Kind = "question-created"
	KindUpvoted           Kind = "question-upvoted"
	KindAnswered          Kind = "question-answered"
	KindReported          Kind = "question-reported"
	KindSoftDeleted       Kind = "question-soft-deleted"
	KindRestored          Kind = "question-restored"
	KindPurged            Kind = "question-purged"
	KindVisibilityChanged Kind = "visibility-changed"
	KindRoomClosed        Kind = "room-closed"
)

// RoomLevel reports whether the kind concerns the room rather than a question.
func (k Kind) RoomLevel() bool {
	return k == KindVisibilityChanged || k == KindRoomClosed
}

// Event is a single change, either received from the channel or produced
// locally by a confirmed action.
type Event struct {
	Kind       Kind
	QuestionID string

	// Question is set for KindCreated.
	Question *models.Question
	// Upvotes is the authoritative count for KindUpvoted.
	Upvotes int
	// AnswerText is optional for KindAnswered.
	AnswerText string

	RoomCode   string
	Visibility models.Visibility
}

// Wire event names used by the backend.
const (
	WireNewQuestion      = "new-question"
	WireUpvoteUpdate     = "question-upvote-update"
	WireMarkedAnswered   = "question-marked-answered"
	WireReported         = "question-reported"
	WireRemoved          = "question-removed"
	WireRestored         = "question-restored"
	WirePermanentDeleted = "question-permanently-deleted"
	WireVisibility       = "visibility-toggled"
	WireRoomClosed       = "room-closed"
	WireJoinRoom         = "join-room"
)

var wireKinds = map[string]Kind{
	WireNewQuestion:      KindCreated,
	WireUpvoteUpdate:     KindUpvoted,
	WireMarkedAnswered:   KindAnswered,
	WireReported:         KindReported,
	WireRemoved:          KindSoftDeleted,
	WireRestored:         KindRestored,
	WirePermanentDeleted: KindPurged,
	WireVisibility:       KindVisibilityChanged,
	WireRoomClosed:       KindRoomClosed,
}

// WireEvents lists every inbound wire event name the feed understands.
func WireEvents() []string {
	names := make([]string, 0, len(wireKinds))
	for name := range wireKinds {
		names = append(names, name)
	}
	return names
}

// WireName returns the backend event name for a kind.
func WireName(k Kind) string {
	for name, kind := range wireKinds {
		if kind == k {
			return name
		}
	}
	return string(k)
}

type questionRef struct {
	QuestionID string  `json:"questionId"`
	Upvotes    int     `json:"upvotes"`
	Answer     *string `json:"answer,omitempty"`
}

type roomRef struct {
	RoomCode         string `json:"roomCode"`
	QuestionsVisible *bool  `json:"questionsVisible,omitempty"`
}

// Decode turns a wire event into an Event. viewerTag is used to derive
// IsMine on created questions; receivedAt stands in for a missing timestamp.
func Decode(name string, data json.RawMessage, viewerTag string, receivedAt time.Time) (Event, error) {
	kind, ok := wireKinds[name]
	if !ok {
		return Event{}, fmt.Errorf("unknown event %q", name)
	}
	ev := Event{Kind: kind}
	switch kind {
	case KindCreated:
		var rec models.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", name, err)
		}
		if rec.ID == "" {
			return Event{}, fmt.Errorf("decode %s: missing _id", name)
		}
		q := rec.Normalize(viewerTag, receivedAt)
		ev.QuestionID = q.ID
		ev.Question = &q
	case KindVisibilityChanged, KindRoomClosed:
		var ref roomRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", name, err)
		}
		ev.RoomCode = models.NormalizeRoomCode(ref.RoomCode)
		if kind == KindVisibilityChanged {
			if ref.QuestionsVisible == nil {
				return Event{}, fmt.Errorf("decode %s: missing questionsVisible", name)
			}
			ev.Visibility = models.VisibilityFromFlag(*ref.QuestionsVisible)
		}
	default:
		var ref questionRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", name, err)
		}
		if ref.QuestionID == "" {
			return Event{}, fmt.Errorf("decode %s: missing questionId", name)
		}
		ev.QuestionID = ref.QuestionID
		ev.Upvotes = ref.Upvotes
		if ref.Answer != nil {
			ev.AnswerText = *ref.Answer
		}
	}
	return ev, nil
}

// Encode turns an event into its wire name and payload.
func Encode(ev Event) (string, any) {
	name := WireName(ev.Kind)
	switch ev.Kind {
	case KindCreated:
		if ev.Question == nil {
			return name, models.Record{ID: ev.QuestionID}
		}
		return name, ev.Question.ToRecord()
	case KindVisibilityChanged:
		visible := ev.Visibility == models.VisibilityPublic
		return name, roomRef{RoomCode: ev.RoomCode, QuestionsVisible: &visible}
	case KindRoomClosed:
		return name, roomRef{RoomCode: ev.RoomCode}
	}
	ref := questionRef{QuestionID: ev.QuestionID, Upvotes: ev.Upvotes}
	if ev.Kind == KindAnswered && ev.AnswerText != "" {
		answer := ev.AnswerText
		ref.Answer = &answer
	}
	return name, ref
}
