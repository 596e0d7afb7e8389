package rooms

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qbox-live/qbox/internal/models"
)

var (
	ErrNotFound = errors.New("room not found")
	ErrClosed   = errors.New("this room has been closed")
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Repository keeps rooms in memory.
type Repository struct {
	mu     sync.RWMutex
	byID   map[string]models.Room
	byCode map[string]string
	rng    *rand.Rand
}

// NewRepository creates an empty rooms repository.
func NewRepository() *Repository {
	return &Repository{
		byID:   make(map[string]models.Room),
		byCode: make(map[string]string),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Create stores an active room under a fresh unique code.
func (r *Repository) Create(_ context.Context, name, lecturerName string, visibility models.Visibility) (models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := models.Room{
		ID:           uuid.NewString(),
		Code:         r.newCodeLocked(),
		Name:         name,
		LecturerName: lecturerName,
		Visibility:   visibility,
		State:        models.RoomActive,
	}
	r.byID[room.ID] = room
	r.byCode[room.Code] = room.ID
	return room, nil
}

func (r *Repository) newCodeLocked() string {
	buf := make([]byte, models.RoomCodeLength)
	for {
		for i := range buf {
			buf[i] = codeAlphabet[r.rng.Intn(len(codeAlphabet))]
		}
		if _, taken := r.byCode[string(buf)]; !taken {
			return string(buf)
		}
	}
}

// GetByID returns a room by ID.
func (r *Repository) GetByID(_ context.Context, id string) (models.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.byID[id]
	if !ok {
		return models.Room{}, ErrNotFound
	}
	return room, nil
}

// GetByCode returns a room by its join code.
func (r *Repository) GetByCode(ctx context.Context, code string) (models.Room, error) {
	r.mu.RLock()
	id, ok := r.byCode[models.NormalizeRoomCode(code)]
	r.mu.RUnlock()
	if !ok {
		return models.Room{}, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// ToggleVisibility flips a room between public and private.
func (r *Repository) ToggleVisibility(_ context.Context, id string) (models.Room, error) {
	return r.update(id, func(room *models.Room) {
		if room.Visibility == models.VisibilityPrivate {
			room.Visibility = models.VisibilityPublic
		} else {
			room.Visibility = models.VisibilityPrivate
		}
	})
}

// Close marks a room closed.
func (r *Repository) Close(_ context.Context, id string) (models.Room, error) {
	return r.update(id, func(room *models.Room) { room.State = models.RoomClosed })
}

func (r *Repository) update(id string, fn func(room *models.Room)) (models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.byID[id]
	if !ok {
		return models.Room{}, ErrNotFound
	}
	if room.Closed() {
		return room, ErrClosed
	}
	fn(&room)
	r.byID[id] = room
	return room, nil
}
