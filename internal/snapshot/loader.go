// Package snapshot fetches the current question set of a room.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qbox-live/qbox/internal/api"
	"github.com/qbox-live/qbox/internal/models"
)

// LoadFailure is returned when a snapshot could not be fetched. The caller may
// retry; the loader never does.
type LoadFailure struct {
	RoomID string
	Cause  string
	Err    error
}

func (e *LoadFailure) Error() string {
	return fmt.Sprintf("load questions for room %s: %s", e.RoomID, e.Cause)
}

func (e *LoadFailure) Unwrap() error { return e.Err }

// Source lists a room's question records.
type Source interface {
	ListQuestions(ctx context.Context, roomID, studentTag string, includeRejected bool) ([]models.Record, error)
}

// Loader performs single snapshot fetches and normalizes the result.
type Loader struct {
	source Source
	logger *zap.Logger
	now    func() time.Time
}

// NewLoader creates a loader.
func NewLoader(source Source, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{source: source, logger: logger, now: time.Now}
}

// Load fetches the room's questions as seen by viewerTag, newest first.
// Soft-deleted questions are included only when includeRejected is set.
func (l *Loader) Load(ctx context.Context, roomID, viewerTag string, includeRejected bool) ([]models.Question, error) {
	records, err := l.source.ListQuestions(ctx, roomID, viewerTag, includeRejected)
	if err != nil {
		failure := &LoadFailure{RoomID: roomID, Cause: describe(err), Err: err}
		l.logger.Warn("snapshot load failed", zap.String("room_id", roomID), zap.Error(err))
		return nil, failure
	}
	receivedAt := l.now()
	out := make([]models.Question, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		q := rec.Normalize(viewerTag, receivedAt)
		if !includeRejected && q.Status == models.StatusRejected {
			continue
		}
		out = append(out, q)
	}
	l.logger.Debug("snapshot loaded", zap.String("room_id", roomID), zap.Int("questions", len(out)))
	return out, nil
}

func describe(err error) string {
	var httpErr *api.HTTPError
	switch {
	case errors.As(err, &httpErr) && httpErr.Message != "":
		return httpErr.Message
	case errors.As(err, &httpErr):
		return fmt.Sprintf("server answered %d", httpErr.Status)
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	}
	return "cannot reach server: " + err.Error()
}
