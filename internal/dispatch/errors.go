package dispatch

import (
	"errors"
	"fmt"

	"github.com/qbox-live/qbox/internal/api"
	"github.com/qbox-live/qbox/internal/models"
)

var (
	ErrNotConfirmed      = errors.New("action not confirmed")
	ErrInvalidTransition = errors.New("action not allowed in the question's current status")
	ErrUnknownQuestion   = errors.New("question not found")
	ErrRoomClosed        = errors.New("room is closed")
	ErrInvalidText       = models.ErrInvalidText
	ErrInvalidReason     = errors.New("unknown report reason")
)

// ActionFailure is returned for every action that did not complete. The
// local feed is left unchanged.
type ActionFailure struct {
	Action     Action
	QuestionID string
	Message    string
	Err        error
}

func (e *ActionFailure) Error() string {
	if e.QuestionID != "" {
		return fmt.Sprintf("%s %s: %s", e.Action, e.QuestionID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

func (e *ActionFailure) Unwrap() error { return e.Err }

func failure(action Action, questionID string, err error) *ActionFailure {
	return &ActionFailure{Action: action, QuestionID: questionID, Message: message(err), Err: err}
}

func message(err error) string {
	var httpErr *api.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Message != "" {
			return httpErr.Message
		}
		return fmt.Sprintf("server answered %d", httpErr.Status)
	}
	return err.Error()
}
