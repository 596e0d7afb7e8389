package questions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qbox-live/qbox/internal/models"
)

var (
	ErrNotFound        = errors.New("question not found")
	ErrAlreadyUpvoted  = errors.New("you have already upvoted this question")
	ErrAlreadyReported = errors.New("you have already reported this question")
	ErrInvalidStatus   = errors.New("question status does not allow this change")
)

type entry struct {
	q         models.Question
	voters    map[string]struct{}
	reporters map[string]string // tag -> reason
}

// Repository keeps questions in memory.
type Repository struct {
	mu   sync.RWMutex
	byID map[string]*entry
	now  func() time.Time
}

// NewRepository creates an empty questions repository.
func NewRepository() *Repository {
	return &Repository{byID: make(map[string]*entry), now: time.Now}
}

// Create stores a new pending question.
func (r *Repository) Create(_ context.Context, roomID, text, studentTag string) (models.Question, error) {
	q := models.Question{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Text:      text,
		AuthorTag: studentTag,
		Status:    models.StatusPending,
		CreatedAt: r.now().UTC(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[q.ID] = &entry{q: q, voters: make(map[string]struct{}), reporters: make(map[string]string)}
	return q, nil
}

// GetByID returns a question by ID.
func (r *Repository) GetByID(_ context.Context, id string) (models.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return models.Question{}, ErrNotFound
	}
	return e.q, nil
}

// ListByRoom returns a room's questions newest first. Soft-deleted questions
// are left out unless includeRejected is set.
func (r *Repository) ListByRoom(_ context.Context, roomID string, includeRejected bool) ([]models.Question, error) {
	r.mu.RLock()
	out := make([]models.Question, 0)
	for _, e := range r.byID {
		if e.q.RoomID != roomID {
			continue
		}
		if !includeRejected && e.q.Status == models.StatusRejected {
			continue
		}
		out = append(out, e.q)
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Upvote records one vote per tag and returns the new count.
func (r *Repository) Upvote(_ context.Context, id, studentTag string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	if _, voted := e.voters[studentTag]; voted {
		return e.q.Upvotes, ErrAlreadyUpvoted
	}
	e.voters[studentTag] = struct{}{}
	e.q.Upvotes = len(e.voters)
	return e.q.Upvotes, nil
}

// Report flags a question once per tag.
func (r *Repository) Report(_ context.Context, id, studentTag, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if _, reported := e.reporters[studentTag]; reported {
		return ErrAlreadyReported
	}
	e.reporters[studentTag] = reason
	e.q.IsReported = true
	return nil
}

// MarkAnswered moves a pending question to answered.
func (r *Repository) MarkAnswered(_ context.Context, id, answer string) (models.Question, error) {
	return r.update(id, func(q *models.Question) error {
		if !models.CanTransition(q.Status, models.StatusAnswered) {
			return ErrInvalidStatus
		}
		q.Status = models.StatusAnswered
		q.AnswerText = answer
		return nil
	})
}

// SetStatus soft-deletes or restores a question.
func (r *Repository) SetStatus(_ context.Context, id string, to models.Status) (models.Question, error) {
	return r.update(id, func(q *models.Question) error {
		if !models.CanTransition(q.Status, to) {
			return ErrInvalidStatus
		}
		q.Status = to
		return nil
	})
}

// Purge removes a soft-deleted question for good.
func (r *Repository) Purge(_ context.Context, id string) (models.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return models.Question{}, ErrNotFound
	}
	if e.q.Status != models.StatusRejected {
		return models.Question{}, ErrInvalidStatus
	}
	delete(r.byID, id)
	return e.q, nil
}

func (r *Repository) update(id string, fn func(q *models.Question) error) (models.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return models.Question{}, ErrNotFound
	}
	next := e.q
	if err := fn(&next); err != nil {
		return e.q, err
	}
	e.q = next
	return next, nil
}
