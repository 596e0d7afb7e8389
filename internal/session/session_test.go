package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbox-live/qbox/internal/feed"
	"github.com/qbox-live/qbox/internal/models"
	"github.com/qbox-live/qbox/internal/realtime"
	"github.com/qbox-live/qbox/internal/visibility"
)

type fakeChannel struct {
	mu       sync.Mutex
	handlers map[string]realtime.Handler
	connect  []func()
	joined   []string
	disposed bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string]realtime.Handler)}
}

func (c *fakeChannel) JoinRoom(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, code)
}

func (c *fakeChannel) Subscribe(event string, h realtime.Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, event)
	}
}

func (c *fakeChannel) OnConnect(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connect = append(c.connect, fn)
	return func() {}
}

func (c *fakeChannel) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposed = true
}

func (c *fakeChannel) emit(event, data string) {
	c.mu.Lock()
	h := c.handlers[event]
	c.mu.Unlock()
	if h != nil {
		h(json.RawMessage(data))
	}
}

func (c *fakeChannel) reconnect() {
	c.mu.Lock()
	fns := append([]func(){}, c.connect...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type loadFunc func(ctx context.Context, roomID, viewerTag string, includeRejected bool) ([]models.Question, error)

type fakeLoader struct {
	mu    sync.Mutex
	calls int
	load  loadFunc
}

func (l *fakeLoader) Load(ctx context.Context, roomID, viewerTag string, includeRejected bool) ([]models.Question, error) {
	l.mu.Lock()
	l.calls++
	load := l.load
	l.mu.Unlock()
	return load(ctx, roomID, viewerTag, includeRejected)
}

func (l *fakeLoader) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func returns(qs ...models.Question) loadFunc {
	return func(context.Context, string, string, bool) ([]models.Question, error) { return qs, nil }
}

var room = models.Room{ID: "r1", Code: "ABC123", Visibility: models.VisibilityPublic, State: models.RoomActive}

func question(id string, minute int, status models.Status) models.Question {
	return models.Question{
		ID:        id,
		Text:      "question " + id,
		AuthorTag: "Fox#1234",
		Status:    status,
		CreatedAt: time.Date(2026, 3, 2, 9, minute, 0, 0, time.UTC),
	}
}

func start(t *testing.T, opts Options, ch *fakeChannel, loader *fakeLoader) *Session {
	t.Helper()
	if opts.Room.ID == "" {
		opts.Room = room
	}
	s := New(opts, ch, loader, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// The loop binds before it drains its first task.
	_, err := s.Stats()
	require.NoError(t, err)
	return s
}

func view(t *testing.T, s *Session, f visibility.Filter) []models.Question {
	t.Helper()
	qs, err := s.View(f)
	require.NoError(t, err)
	return qs
}

func TestScenarioA_UpvoteAfterSnapshot(t *testing.T) {
	ch := newFakeChannel()
	s := start(t, Options{}, ch, &fakeLoader{load: returns(question("1", 0, models.StatusPending))})
	require.NoError(t, s.Reload(context.Background()))

	ch.emit(feed.WireUpvoteUpdate, `{"questionId":"1","upvotes":1}`)
	ch.emit(feed.WireUpvoteUpdate, `{"questionId":"1","upvotes":1}`)

	qs := view(t, s, visibility.FilterAll)
	require.Len(t, qs, 1)
	assert.Equal(t, 1, qs[0].Upvotes)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Applied)
	assert.Equal(t, 1, st.Duplicate)
	assert.Equal(t, 1, st.Reloads)
}

func TestScenarioB_EventBeforeCreationIsDropped(t *testing.T) {
	ch := newFakeChannel()
	s := start(t, Options{}, ch, &fakeLoader{load: returns()})

	ch.emit(feed.WireMarkedAnswered, `{"questionId":"7"}`)

	assert.Empty(t, view(t, s, visibility.FilterAll))
	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Stale)
}

func TestRunJoinsRoom(t *testing.T) {
	ch := newFakeChannel()
	start(t, Options{}, ch, &fakeLoader{load: returns()})

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Equal(t, []string{"ABC123"}, ch.joined)
	assert.Len(t, ch.handlers, len(feed.WireEvents()))
}

func TestReloadKeepsEventsRacingTheFetch(t *testing.T) {
	ch := newFakeChannel()
	requested := make(chan struct{})
	release := make(chan struct{})
	loader := &fakeLoader{load: func(context.Context, string, string, bool) ([]models.Question, error) {
		close(requested)
		<-release
		// The snapshot was taken before q2 was created and q1 purged.
		q1 := question("1", 0, models.StatusRejected)
		return []models.Question{q1}, nil
	}}
	s := start(t, Options{}, ch, loader)

	errs := make(chan error, 1)
	go func() { errs <- s.Reload(context.Background()) }()
	<-requested

	ch.emit(feed.WireNewQuestion, `{"_id":"2","questionText":"late","studentTag":"Owl#5555","createdAt":"2026-03-02T09:05:00Z"}`)
	ch.emit(feed.WirePermanentDeleted, `{"questionId":"1"}`)
	close(release)
	require.NoError(t, <-errs)

	qs := view(t, s, visibility.FilterAll)
	require.Len(t, qs, 1)
	assert.Equal(t, "2", qs[0].ID)
	_, ok, err := s.Lookup("1")
	require.NoError(t, err)
	assert.False(t, ok)

	ch.emit(feed.WireNewQuestion, `{"_id":"1","questionText":"again"}`)
	_, ok, err = s.Lookup("1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReloadFailureLeavesState(t *testing.T) {
	ch := newFakeChannel()
	loader := &fakeLoader{load: returns(question("1", 0, models.StatusPending))}
	s := start(t, Options{}, ch, loader)
	require.NoError(t, s.Reload(context.Background()))

	boom := errors.New("connection refused")
	loader.mu.Lock()
	loader.load = func(context.Context, string, string, bool) ([]models.Question, error) { return nil, boom }
	loader.mu.Unlock()

	assert.ErrorIs(t, s.Reload(context.Background()), boom)
	assert.Len(t, view(t, s, visibility.FilterAll), 1)
	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.ReloadFailures)
}

func TestSupersededReloadWaitsForNewest(t *testing.T) {
	ch := newFakeChannel()
	requested := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	loads := 0
	loader := &fakeLoader{load: func(context.Context, string, string, bool) ([]models.Question, error) {
		mu.Lock()
		loads++
		n := loads
		mu.Unlock()
		if n == 1 {
			close(requested)
			<-release
			return []models.Question{question("1", 0, models.StatusPending)}, nil
		}
		return []models.Question{question("1", 0, models.StatusPending), question("2", 1, models.StatusPending)}, nil
	}}
	s := start(t, Options{ResyncOnReconnect: true}, ch, loader)
	defer close(release)

	errs := make(chan error, 1)
	go func() { errs <- s.Reload(context.Background()) }()
	<-requested
	ch.reconnect()

	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reload not answered by the newer snapshot")
	}
	assert.Len(t, view(t, s, visibility.FilterAll), 2)
	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Reloads)
}

func TestSupersededReloadReportsNewestFailure(t *testing.T) {
	ch := newFakeChannel()
	requested := make(chan struct{})
	release := make(chan struct{})
	boom := errors.New("connection refused")
	var mu sync.Mutex
	loads := 0
	loader := &fakeLoader{load: func(context.Context, string, string, bool) ([]models.Question, error) {
		mu.Lock()
		loads++
		n := loads
		mu.Unlock()
		if n == 1 {
			close(requested)
			<-release
			return []models.Question{question("1", 0, models.StatusPending)}, nil
		}
		return nil, boom
	}}
	s := start(t, Options{}, ch, loader)
	defer close(release)

	first := make(chan error, 1)
	go func() { first <- s.Reload(context.Background()) }()
	<-requested

	assert.ErrorIs(t, s.Reload(context.Background()), boom)
	assert.ErrorIs(t, <-first, boom)
	assert.Empty(t, view(t, s, visibility.FilterAll))
}

func TestResyncOnReconnect(t *testing.T) {
	ch := newFakeChannel()
	loader := &fakeLoader{load: returns(question("1", 0, models.StatusPending))}
	s := start(t, Options{ResyncOnReconnect: true}, ch, loader)

	ch.reconnect()

	require.Eventually(t, func() bool {
		qs, err := s.View(visibility.FilterAll)
		return err == nil && len(qs) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, loader.Calls())
}

func TestNoResyncWhenDisabled(t *testing.T) {
	ch := newFakeChannel()
	loader := &fakeLoader{load: returns(question("1", 0, models.StatusPending))}
	s := start(t, Options{}, ch, loader)

	ch.reconnect()

	assert.Empty(t, view(t, s, visibility.FilterAll))
	assert.Equal(t, 0, loader.Calls())
}

func TestRoomEvents(t *testing.T) {
	ch := newFakeChannel()
	s := start(t, Options{}, ch, &fakeLoader{load: returns()})

	ch.emit(feed.WireVisibility, `{"roomCode":"OTHER1","questionsVisible":false}`)
	got, err := s.Room()
	require.NoError(t, err)
	assert.Equal(t, models.VisibilityPublic, got.Visibility)

	ch.emit(feed.WireVisibility, `{"roomCode":"abc123","questionsVisible":false}`)
	ch.emit(feed.WireRoomClosed, `{"roomCode":"ABC123"}`)
	got, err = s.Room()
	require.NoError(t, err)
	assert.Equal(t, models.VisibilityPrivate, got.Visibility)
	assert.True(t, got.Closed())
}

func TestPrivateRoomShowsOwnQuestions(t *testing.T) {
	ch := newFakeChannel()
	mine := question("1", 0, models.StatusPending)
	theirs := question("2", 1, models.StatusPending)
	theirs.AuthorTag = "Owl#5555"
	private := room
	private.Visibility = models.VisibilityPrivate
	s := start(t, Options{Room: private, ViewerTag: "Fox#1234"}, ch, &fakeLoader{load: func(_ context.Context, _, tag string, _ bool) ([]models.Question, error) {
		qs := []models.Question{theirs, mine}
		for i := range qs {
			qs[i].IsMine = qs[i].AuthorTag == tag
		}
		return qs, nil
	}})
	require.NoError(t, s.Reload(context.Background()))

	for _, f := range []visibility.Filter{visibility.FilterAll, visibility.FilterPending, visibility.FilterMine} {
		qs := view(t, s, f)
		require.Len(t, qs, 1, f)
		assert.Equal(t, "1", qs[0].ID)
	}
	_, err := s.View(visibility.FilterRejected)
	assert.ErrorIs(t, err, visibility.ErrFilterUnavailable)
}

func TestSetViewerTagReattributes(t *testing.T) {
	ch := newFakeChannel()
	s := start(t, Options{ViewerTag: "Fox#1234"}, ch, &fakeLoader{load: returns()})
	ch.emit(feed.WireNewQuestion, `{"_id":"1","questionText":"q","studentTag":"Fox#1234"}`)
	assert.Len(t, view(t, s, visibility.FilterMine), 1)

	require.NoError(t, s.SetViewerTag("Owl#5555"))

	assert.Empty(t, view(t, s, visibility.FilterMine))
	tag, err := s.ViewerTag()
	require.NoError(t, err)
	assert.Equal(t, "Owl#5555", tag)
}

func TestMalformedEventsAreCounted(t *testing.T) {
	ch := newFakeChannel()
	s := start(t, Options{}, ch, &fakeLoader{load: returns()})

	ch.emit(feed.WireNewQuestion, `{"questionText":"no id"}`)
	ch.emit(feed.WireUpvoteUpdate, `not json`)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Malformed)
}

func TestChangesSignalled(t *testing.T) {
	ch := newFakeChannel()
	s := start(t, Options{}, ch, &fakeLoader{load: returns()})

	ch.emit(feed.WireNewQuestion, `{"_id":"1","questionText":"q"}`)
	select {
	case <-s.Changes():
	case <-time.After(time.Second):
		t.Fatal("no change signal")
	}
}

func TestStoppedSession(t *testing.T) {
	ch := newFakeChannel()
	s := New(Options{Room: room}, ch, &fakeLoader{load: returns()}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	_, err := s.View(visibility.FilterAll)
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, s.Reload(context.Background()), ErrStopped)
}
