// Package session binds the event channel, snapshot loads and confirmed
// actions for one room to a single task loop. Everything that reads or
// replaces the feed state runs on that loop, so the merge never races.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/qbox-live/qbox/internal/feed"
	"github.com/qbox-live/qbox/internal/models"
	"github.com/qbox-live/qbox/internal/realtime"
	"github.com/qbox-live/qbox/internal/visibility"
)

// ErrStopped is returned by calls made after the loop has exited.
var ErrStopped = errors.New("session stopped")

// Channel is the part of the event channel a session uses.
type Channel interface {
	JoinRoom(code string)
	Subscribe(event string, h realtime.Handler) (unsubscribe func())
	OnConnect(fn func()) (remove func())
	Dispose()
}

// Loader fetches a room snapshot.
type Loader interface {
	Load(ctx context.Context, roomID, viewerTag string, includeRejected bool) ([]models.Question, error)
}

// Options configures a session.
type Options struct {
	Room      models.Room
	Role      models.Role
	ViewerTag string
	// ResyncOnReconnect reloads the snapshot after every reconnect.
	ResyncOnReconnect bool
}

// Stats counts what happened to inbound and local events.
type Stats struct {
	Applied        int
	Duplicate      int
	Stale          int
	Tombstoned     int
	Ignored        int
	Malformed      int
	Reloads        int
	ReloadFailures int
}

// Session owns one room's feed.
type Session struct {
	channel Channel
	loader  Loader
	logger  *zap.Logger
	role    models.Role
	resync  bool
	now     func() time.Time

	tasks   chan func()
	stopped chan struct{}
	changed chan struct{}

	// loop-owned
	state      feed.State
	room       models.Room
	viewerTag  string
	stats      Stats
	generation int
	waiters    []chan<- error
	journaling bool
	journal    []feed.Event
	runCtx     context.Context
}

// New creates a session. Run must be running for any other method to return.
func New(opts Options, channel Channel, loader Loader, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	role := opts.Role
	if role == "" {
		role = models.RoleParticipant
	}
	return &Session{
		channel:   channel,
		loader:    loader,
		logger:    logger.With(zap.String("room", opts.Room.Code)),
		role:      role,
		resync:    opts.ResyncOnReconnect,
		now:       time.Now,
		tasks:     make(chan func(), 128),
		stopped:   make(chan struct{}),
		changed:   make(chan struct{}, 1),
		state:     feed.NewState(),
		room:      opts.Room,
		viewerTag: opts.ViewerTag,
	}
}

// Run joins the room and drains the task loop until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.stopped)
	s.runCtx = ctx

	unbind := s.bind()
	defer unbind()
	s.channel.JoinRoom(s.room.Code)

	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-s.tasks:
			task()
		}
	}
}

func (s *Session) bind() func() {
	var cancels []func()
	for _, name := range feed.WireEvents() {
		name := name
		cancels = append(cancels, s.channel.Subscribe(name, func(data json.RawMessage) {
			s.post(func() { s.receive(name, data) })
		}))
	}
	cancels = append(cancels, s.channel.OnConnect(func() {
		if s.resync {
			s.post(func() {
				s.logger.Info("reconnected, reloading snapshot")
				s.startReload(s.runCtx, nil)
			})
		}
	}))
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

// post queues a task without waiting for it.
func (s *Session) post(task func()) bool {
	select {
	case s.tasks <- task:
		return true
	case <-s.stopped:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	if !s.post(func() { fn(); close(done) }) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrStopped
	}
}

// Changes is signaled after the visible state changed. Signals coalesce.
func (s *Session) Changes() <-chan struct{} { return s.changed }

func (s *Session) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Reload fetches a fresh snapshot and rebases the feed on it, keeping the
// events applied while the request was in flight.
func (s *Session) Reload(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.do(func() { s.startReload(ctx, reply) }); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startReload supersedes any reload in flight. Callers waiting on an older
// generation are answered when the newest one finishes.
func (s *Session) startReload(ctx context.Context, reply chan<- error) {
	s.generation++
	gen := s.generation
	s.journaling = true
	s.journal = nil
	if reply != nil {
		s.waiters = append(s.waiters, reply)
	}

	roomID, tag := s.room.ID, s.viewerTag
	includeRejected := s.role == models.RoleInstructor
	go func() {
		qs, err := s.loader.Load(ctx, roomID, tag, includeRejected)
		s.post(func() { s.finishReload(gen, tag, qs, err) })
	}()
}

func (s *Session) finishReload(gen int, tag string, qs []models.Question, err error) {
	if gen != s.generation {
		s.logger.Debug("snapshot superseded by a newer reload")
		return
	}
	waiters := s.waiters
	s.waiters = nil
	defer func() {
		for _, reply := range waiters {
			reply <- err
		}
	}()

	s.journaling = false
	journal := s.journal
	s.journal = nil
	if err != nil {
		s.stats.ReloadFailures++
		return
	}

	s.state = feed.Rebase(s.state, qs, journal)
	if tag != s.viewerTag {
		s.state = feed.Reattribute(s.state, s.viewerTag)
	}
	s.stats.Reloads++
	s.logger.Debug("snapshot merged",
		zap.Int("questions", s.state.Len()),
		zap.Int("replayed", len(journal)),
	)
	s.notify()
}

func (s *Session) receive(name string, data json.RawMessage) {
	ev, err := feed.Decode(name, data, s.viewerTag, s.now())
	if err != nil {
		s.stats.Malformed++
		s.logger.Warn("malformed event", zap.String("event", name), zap.Error(err))
		return
	}
	s.apply(ev)
}

func (s *Session) apply(ev feed.Event) feed.Outcome {
	if ev.Kind.RoomLevel() {
		return s.applyRoom(ev)
	}
	if s.journaling {
		s.journal = append(s.journal, ev)
	}

	next, out := feed.Apply(s.state, ev)
	s.state = next
	switch out {
	case feed.OutcomeApplied:
		s.stats.Applied++
		s.notify()
	case feed.OutcomeDuplicate:
		s.stats.Duplicate++
	case feed.OutcomeStale:
		s.stats.Stale++
		s.logger.Debug("event dropped",
			zap.String("outcome", out.String()),
			zap.Error(&feed.StaleEventError{Kind: ev.Kind, QuestionID: ev.QuestionID}),
		)
		return out
	case feed.OutcomeTombstoned:
		s.stats.Tombstoned++
	case feed.OutcomeIgnored:
		s.stats.Ignored++
	}
	s.logger.Debug("event merged",
		zap.String("kind", string(ev.Kind)),
		zap.String("question_id", ev.QuestionID),
		zap.String("outcome", out.String()),
	)
	return out
}

func (s *Session) applyRoom(ev feed.Event) feed.Outcome {
	if ev.RoomCode != "" && ev.RoomCode != s.room.Code {
		s.stats.Ignored++
		return feed.OutcomeIgnored
	}
	next := s.room
	switch ev.Kind {
	case feed.KindVisibilityChanged:
		next.Visibility = ev.Visibility
	case feed.KindRoomClosed:
		next.State = models.RoomClosed
	}
	if next == s.room {
		s.stats.Duplicate++
		return feed.OutcomeDuplicate
	}
	s.room = next
	s.stats.Applied++
	s.logger.Info("room updated",
		zap.String("visibility", string(next.Visibility)),
		zap.String("state", string(next.State)),
	)
	s.notify()
	return feed.OutcomeApplied
}

// Apply merges a confirmed local change.
func (s *Session) Apply(ev feed.Event) (feed.Outcome, error) {
	var out feed.Outcome
	err := s.do(func() { out = s.apply(ev) })
	return out, err
}

// SetRoom replaces the room after a confirmed room action.
func (s *Session) SetRoom(room models.Room) error {
	return s.do(func() {
		if room != s.room {
			s.room = room
			s.notify()
		}
	})
}

// SetViewerTag switches the viewer identity and recomputes ownership.
func (s *Session) SetViewerTag(tag string) error {
	return s.do(func() {
		if tag == s.viewerTag {
			return
		}
		s.viewerTag = tag
		s.state = feed.Reattribute(s.state, tag)
		s.notify()
	})
}

// View returns the questions visible under filter, newest first.
func (s *Session) View(filter visibility.Filter) ([]models.Question, error) {
	var (
		qs  []models.Question
		err error
	)
	if doErr := s.do(func() {
		qs, err = visibility.Visible(s.state.Questions(), s.room, visibility.Viewer{Role: s.role}, filter)
	}); doErr != nil {
		return nil, doErr
	}
	return qs, err
}

// Counts returns per-tab badge counts.
func (s *Session) Counts() (map[visibility.Filter]int, error) {
	var counts map[visibility.Filter]int
	err := s.do(func() {
		counts = visibility.Counts(s.state.Questions(), s.room, visibility.Viewer{Role: s.role})
	})
	return counts, err
}

// Lookup returns one question of the local state.
func (s *Session) Lookup(id string) (models.Question, bool, error) {
	var (
		q  models.Question
		ok bool
	)
	err := s.do(func() { q, ok = s.state.Get(id) })
	return q, ok, err
}

// Room returns the current room.
func (s *Session) Room() (models.Room, error) {
	var room models.Room
	err := s.do(func() { room = s.room })
	return room, err
}

// ViewerTag returns the current viewer tag.
func (s *Session) ViewerTag() (string, error) {
	var tag string
	err := s.do(func() { tag = s.viewerTag })
	return tag, err
}

// Role returns the viewer role.
func (s *Session) Role() models.Role { return s.role }

// Stats returns the event counters.
func (s *Session) Stats() (Stats, error) {
	var st Stats
	err := s.do(func() { st = s.stats })
	return st, err
}
