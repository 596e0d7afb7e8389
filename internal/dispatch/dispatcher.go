// Package dispatch runs user actions against the backend in two phases: the
// request is issued first, and only a confirmed result is merged into the
// session. A failed action changes nothing locally.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qbox-live/qbox/internal/feed"
	"github.com/qbox-live/qbox/internal/models"
)

// Action names a user action.
type Action string

const (
	ActionAsk              Action = "ask"
	ActionUpvote           Action = "upvote"
	ActionReport           Action = "report"
	ActionAnswer           Action = "answer"
	ActionDelete           Action = "delete"
	ActionRestore          Action = "restore"
	ActionPurge            Action = "purge"
	ActionToggleVisibility Action = "toggle-visibility"
	ActionCloseRoom        Action = "close-room"
	ActionRegenerateTag    Action = "regenerate-tag"
	ActionLogout           Action = "logout"
)

// Reason is why a question is reported.
type Reason string

const (
	ReasonSpam          Reason = "Spam"
	ReasonInappropriate Reason = "Inappropriate"
	ReasonOffTopic      Reason = "Off-topic"
)

// Reasons lists the accepted report reasons.
func Reasons() []Reason { return []Reason{ReasonSpam, ReasonInappropriate, ReasonOffTopic} }

// ParseReason matches a reason case-insensitively.
func ParseReason(s string) (Reason, error) {
	for _, r := range Reasons() {
		if strings.EqualFold(string(r), strings.TrimSpace(s)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReason, s)
}

// Backend is the REST surface actions call.
type Backend interface {
	CreateQuestion(ctx context.Context, text, roomID, studentTag string) (models.Record, error)
	Upvote(ctx context.Context, questionID, studentTag string) (int, error)
	Report(ctx context.Context, questionID, studentTag, reason string) error
	Answer(ctx context.Context, questionID, answer string) error
	SoftDelete(ctx context.Context, questionID string) error
	Restore(ctx context.Context, questionID string) error
	Purge(ctx context.Context, questionID string) error
	ToggleVisibility(ctx context.Context, roomID string) (models.Room, error)
	CloseRoom(ctx context.Context, roomID string) error
}

// Feed is the session surface actions read and merge into.
type Feed interface {
	Lookup(id string) (models.Question, bool, error)
	Room() (models.Room, error)
	ViewerTag() (string, error)
	Apply(ev feed.Event) (feed.Outcome, error)
	SetRoom(room models.Room) error
	SetViewerTag(tag string) error
}

// Identity is the tag provider.
type Identity interface {
	RegenerateTag(ctx context.Context, confirmed bool) (string, error)
	Clear(ctx context.Context)
}

// Disposer releases the event channel on logout.
type Disposer interface {
	Dispose()
}

// Dispatcher runs actions for one session.
type Dispatcher struct {
	backend  Backend
	feed     Feed
	identity Identity
	channel  Disposer
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a dispatcher.
func New(backend Backend, f Feed, identity Identity, channel Disposer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{backend: backend, feed: f, identity: identity, channel: channel, logger: logger, now: time.Now}
}

// Ask posts a new question and inserts the stored record.
func (d *Dispatcher) Ask(ctx context.Context, text string) (models.Question, error) {
	text, err := models.NormalizeText(text)
	if err != nil {
		return models.Question{}, d.fail(ActionAsk, "", err)
	}
	room, err := d.openRoom()
	if err != nil {
		return models.Question{}, d.fail(ActionAsk, "", err)
	}
	tag, err := d.feed.ViewerTag()
	if err != nil {
		return models.Question{}, d.fail(ActionAsk, "", err)
	}
	rec, err := d.backend.CreateQuestion(ctx, text, room.ID, tag)
	if err != nil {
		return models.Question{}, d.fail(ActionAsk, "", err)
	}
	q := rec.Normalize(tag, d.now())
	if q.ID == "" {
		return models.Question{}, d.fail(ActionAsk, "", errors.New("backend returned a question without id"))
	}
	d.merge(ActionAsk, feed.Event{Kind: feed.KindCreated, QuestionID: q.ID, Question: &q})
	return q, nil
}

// Upvote upvotes a question and stores the returned count.
func (d *Dispatcher) Upvote(ctx context.Context, id string) (int, error) {
	if _, err := d.openRoom(); err != nil {
		return 0, d.fail(ActionUpvote, id, err)
	}
	if _, err := d.lookup(id); err != nil {
		return 0, d.fail(ActionUpvote, id, err)
	}
	tag, err := d.feed.ViewerTag()
	if err != nil {
		return 0, d.fail(ActionUpvote, id, err)
	}
	count, err := d.backend.Upvote(ctx, id, tag)
	if err != nil {
		return 0, d.fail(ActionUpvote, id, err)
	}
	d.merge(ActionUpvote, feed.Event{Kind: feed.KindUpvoted, QuestionID: id, Upvotes: count})
	return count, nil
}

// Report flags a question.
func (d *Dispatcher) Report(ctx context.Context, id string, reason Reason) error {
	if _, err := ParseReason(string(reason)); err != nil {
		return d.fail(ActionReport, id, err)
	}
	if _, err := d.lookup(id); err != nil {
		return d.fail(ActionReport, id, err)
	}
	tag, err := d.feed.ViewerTag()
	if err != nil {
		return d.fail(ActionReport, id, err)
	}
	if err := d.backend.Report(ctx, id, tag, string(reason)); err != nil {
		return d.fail(ActionReport, id, err)
	}
	d.merge(ActionReport, feed.Event{Kind: feed.KindReported, QuestionID: id})
	return nil
}

// Answer marks a pending question answered, optionally with text.
func (d *Dispatcher) Answer(ctx context.Context, id, answer string) error {
	answer = strings.TrimSpace(answer)
	if err := d.transition(id, models.StatusAnswered); err != nil {
		return d.fail(ActionAnswer, id, err)
	}
	if err := d.backend.Answer(ctx, id, answer); err != nil {
		return d.fail(ActionAnswer, id, err)
	}
	d.merge(ActionAnswer, feed.Event{Kind: feed.KindAnswered, QuestionID: id, AnswerText: answer})
	return nil
}

// Delete soft-deletes a pending question.
func (d *Dispatcher) Delete(ctx context.Context, id string, confirmed bool) error {
	if !confirmed {
		return d.fail(ActionDelete, id, ErrNotConfirmed)
	}
	if err := d.transition(id, models.StatusRejected); err != nil {
		return d.fail(ActionDelete, id, err)
	}
	if err := d.backend.SoftDelete(ctx, id); err != nil {
		return d.fail(ActionDelete, id, err)
	}
	d.merge(ActionDelete, feed.Event{Kind: feed.KindSoftDeleted, QuestionID: id})
	return nil
}

// Restore brings a soft-deleted question back to pending.
func (d *Dispatcher) Restore(ctx context.Context, id string) error {
	if err := d.transition(id, models.StatusPending); err != nil {
		return d.fail(ActionRestore, id, err)
	}
	if err := d.backend.Restore(ctx, id); err != nil {
		return d.fail(ActionRestore, id, err)
	}
	d.merge(ActionRestore, feed.Event{Kind: feed.KindRestored, QuestionID: id})
	return nil
}

// Purge permanently removes a soft-deleted question. The question leaves the
// feed when the backend's removal event arrives.
func (d *Dispatcher) Purge(ctx context.Context, id string, confirmed bool) error {
	if !confirmed {
		return d.fail(ActionPurge, id, ErrNotConfirmed)
	}
	q, err := d.lookup(id)
	if err != nil {
		return d.fail(ActionPurge, id, err)
	}
	if q.Status != models.StatusRejected {
		return d.fail(ActionPurge, id, fmt.Errorf("%w: %s", ErrInvalidTransition, q.Status))
	}
	if err := d.backend.Purge(ctx, id); err != nil {
		return d.fail(ActionPurge, id, err)
	}
	d.logger.Debug("purge requested", zap.String("question_id", id))
	return nil
}

// ToggleVisibility flips the room between public and private.
func (d *Dispatcher) ToggleVisibility(ctx context.Context) (models.Room, error) {
	room, err := d.feed.Room()
	if err != nil {
		return models.Room{}, d.fail(ActionToggleVisibility, "", err)
	}
	updated, err := d.backend.ToggleVisibility(ctx, room.ID)
	if err != nil {
		return models.Room{}, d.fail(ActionToggleVisibility, "", err)
	}
	next := room
	next.Visibility = updated.Visibility
	if updated.State != "" {
		next.State = updated.State
	}
	d.setRoom(ActionToggleVisibility, next)
	return next, nil
}

// CloseRoom closes the room.
func (d *Dispatcher) CloseRoom(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return d.fail(ActionCloseRoom, "", ErrNotConfirmed)
	}
	room, err := d.feed.Room()
	if err != nil {
		return d.fail(ActionCloseRoom, "", err)
	}
	if err := d.backend.CloseRoom(ctx, room.ID); err != nil {
		return d.fail(ActionCloseRoom, "", err)
	}
	room.State = models.RoomClosed
	d.setRoom(ActionCloseRoom, room)
	return nil
}

// RegenerateTag replaces the viewer's anonymous tag. Questions asked under
// the old tag stop being the viewer's own.
func (d *Dispatcher) RegenerateTag(ctx context.Context, confirmed bool) (string, error) {
	if !confirmed {
		return "", d.fail(ActionRegenerateTag, "", ErrNotConfirmed)
	}
	tag, err := d.identity.RegenerateTag(ctx, true)
	if err != nil {
		return "", d.fail(ActionRegenerateTag, "", err)
	}
	if err := d.feed.SetViewerTag(tag); err != nil {
		d.logger.Warn("viewer tag not applied", zap.Error(err))
	}
	d.logger.Info("tag regenerated", zap.String("tag", tag))
	return tag, nil
}

// Logout forgets the identity and releases the event channel.
func (d *Dispatcher) Logout(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return d.fail(ActionLogout, "", ErrNotConfirmed)
	}
	d.identity.Clear(ctx)
	if d.channel != nil {
		d.channel.Dispose()
	}
	return nil
}

func (d *Dispatcher) openRoom() (models.Room, error) {
	room, err := d.feed.Room()
	if err != nil {
		return models.Room{}, err
	}
	if room.Closed() {
		return models.Room{}, ErrRoomClosed
	}
	return room, nil
}

func (d *Dispatcher) lookup(id string) (models.Question, error) {
	q, ok, err := d.feed.Lookup(id)
	if err != nil {
		return models.Question{}, err
	}
	if !ok {
		return models.Question{}, ErrUnknownQuestion
	}
	return q, nil
}

func (d *Dispatcher) transition(id string, to models.Status) error {
	q, err := d.lookup(id)
	if err != nil {
		return err
	}
	if !models.CanTransition(q.Status, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, q.Status, to)
	}
	return nil
}

// merge applies a confirmed change. The backend already accepted it, so a
// stopped session is only logged.
func (d *Dispatcher) merge(action Action, ev feed.Event) {
	out, err := d.feed.Apply(ev)
	if err != nil {
		d.logger.Warn("confirmed change not merged", zap.String("action", string(action)), zap.Error(err))
		return
	}
	d.logger.Debug("action confirmed",
		zap.String("action", string(action)),
		zap.String("question_id", ev.QuestionID),
		zap.String("outcome", out.String()),
	)
}

func (d *Dispatcher) setRoom(action Action, room models.Room) {
	if err := d.feed.SetRoom(room); err != nil {
		d.logger.Warn("confirmed room change not merged", zap.String("action", string(action)), zap.Error(err))
	}
}

func (d *Dispatcher) fail(action Action, id string, err error) error {
	f := failure(action, id, err)
	d.logger.Info("action failed",
		zap.String("action", string(action)),
		zap.String("question_id", id),
		zap.Error(err),
	)
	return f
}
