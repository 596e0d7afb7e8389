package feed

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbox-live/qbox/internal/models"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func question(id string, minute int) models.Question {
	return models.Question{
		ID:        id,
		Text:      "question " + id,
		AuthorTag: "Fox#1234",
		Status:    models.StatusPending,
		CreatedAt: base.Add(time.Duration(minute) * time.Minute),
	}
}

func created(q models.Question) Event {
	return Event{Kind: KindCreated, QuestionID: q.ID, Question: &q}
}

func ids(s State) []string {
	var out []string
	for _, q := range s.Questions() {
		out = append(out, q.ID)
	}
	return out
}

func seeded(qs ...models.Question) State {
	s, _ := MergeSnapshot(NewState(), qs)
	return s
}

func TestApply_IdempotentForEveryKind(t *testing.T) {
	q1 := question("1", 1)
	rejected := question("2", 2)
	rejected.Status = models.StatusRejected
	start := seeded(q1, rejected)

	events := []Event{
		created(question("3", 3)),
		created(q1),
		{Kind: KindUpvoted, QuestionID: "1", Upvotes: 4},
		{Kind: KindAnswered, QuestionID: "1", AnswerText: "see chapter 2"},
		{Kind: KindAnswered, QuestionID: "1"},
		{Kind: KindReported, QuestionID: "1"},
		{Kind: KindSoftDeleted, QuestionID: "1"},
		{Kind: KindRestored, QuestionID: "2"},
		{Kind: KindPurged, QuestionID: "2"},
		{Kind: KindPurged, QuestionID: "unknown"},
		{Kind: KindUpvoted, QuestionID: "unknown", Upvotes: 1},
		{Kind: KindVisibilityChanged, RoomCode: "ABC123", Visibility: models.VisibilityPrivate},
		{Kind: KindRoomClosed, RoomCode: "ABC123"},
	}
	for _, ev := range events {
		t.Run(string(ev.Kind)+"/"+ev.QuestionID, func(t *testing.T) {
			once, _ := Apply(start, ev)
			twice, out := Apply(once, ev)
			assert.Equal(t, once, twice)
			assert.NotEqual(t, OutcomeApplied, out)
		})
	}
}

func TestApply_DoesNotModifyInput(t *testing.T) {
	start := seeded(question("1", 1))
	before := start.Questions()

	next, out := Apply(start, Event{Kind: KindUpvoted, QuestionID: "1", Upvotes: 9})
	require.Equal(t, OutcomeApplied, out)

	assert.Equal(t, before, start.Questions())
	got, _ := next.Get("1")
	assert.Equal(t, 9, got.Upvotes)
}

func TestApply_NoDuplicateInsertion(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	q := question("dup", 5)

	for round := 0; round < 200; round++ {
		n := rng.Intn(6)
		snapshotAt := rng.Intn(n + 1)
		s := NewState()
		for i := 0; i <= n; i++ {
			if i == snapshotAt {
				s, _ = MergeSnapshot(s, []models.Question{q, question("other", 1)})
			}
			if i < n {
				s, _ = Apply(s, created(q))
			}
		}
		count := 0
		for _, got := range s.Questions() {
			if got.ID == "dup" {
				count++
			}
		}
		require.Equal(t, 1, count, "round %d", round)
	}
}

func TestApply_FieldEventForUnknownIDIsDropped(t *testing.T) {
	for _, kind := range []Kind{KindUpvoted, KindAnswered, KindReported, KindSoftDeleted, KindRestored} {
		s, out := Apply(NewState(), Event{Kind: kind, QuestionID: "7", Upvotes: 3})
		assert.Equal(t, OutcomeStale, out, kind)
		assert.Zero(t, s.Len(), kind)
	}
}

func TestApply_PurgeIsFinal(t *testing.T) {
	q := question("9", 1)
	s := seeded(q)

	s, out := Apply(s, Event{Kind: KindPurged, QuestionID: "9"})
	require.Equal(t, OutcomeApplied, out)
	require.Zero(t, s.Len())

	later := []Event{
		created(q),
		{Kind: KindUpvoted, QuestionID: "9", Upvotes: 2},
		{Kind: KindAnswered, QuestionID: "9"},
		{Kind: KindRestored, QuestionID: "9"},
		{Kind: KindSoftDeleted, QuestionID: "9"},
	}
	for _, ev := range later {
		s, out = Apply(s, ev)
		assert.Equal(t, OutcomeTombstoned, out, ev.Kind)
	}
	s, _ = MergeSnapshot(s, []models.Question{q})
	assert.Zero(t, s.Len())
	assert.True(t, s.Purged("9"))

	_, out = Apply(s, Event{Kind: KindPurged, QuestionID: "9"})
	assert.Equal(t, OutcomeDuplicate, out)
}

func TestApply_PurgeBeforeCreation(t *testing.T) {
	s, _ := Apply(NewState(), Event{Kind: KindPurged, QuestionID: "4"})
	s, out := Apply(s, created(question("4", 1)))

	assert.Equal(t, OutcomeTombstoned, out)
	assert.Zero(t, s.Len())
}

func TestApply_NewestFirst(t *testing.T) {
	s := NewState()
	s, _ = Apply(s, created(question("b", 2)))
	s, _ = Apply(s, created(question("a", 1)))
	s, _ = Apply(s, created(question("c", 3)))
	s, _ = Apply(s, created(question("c2", 3)))

	assert.Equal(t, []string{"c2", "c", "b", "a"}, ids(s))
}

func TestMergeSnapshot_KeepsOrderAndCountsInserts(t *testing.T) {
	s, _ := Apply(NewState(), created(question("2", 2)))

	s, inserted := MergeSnapshot(s, []models.Question{question("3", 3), question("2", 2), question("1", 1)})

	assert.Equal(t, 2, inserted)
	assert.Equal(t, []string{"3", "2", "1"}, ids(s))
}

func TestApply_SoftDeleteAndRestorePreserveFields(t *testing.T) {
	q := question("3", 1)
	q.Upvotes = 5
	q.IsReported = true
	s := seeded(q)

	s, _ = Apply(s, Event{Kind: KindSoftDeleted, QuestionID: "3"})
	got, ok := s.Get("3")
	require.True(t, ok)
	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Equal(t, 5, got.Upvotes)
	assert.True(t, got.IsReported)

	s, _ = Apply(s, Event{Kind: KindRestored, QuestionID: "3"})
	got, _ = s.Get("3")
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, q.Text, got.Text)
}

func TestApply_AnswerTextOnlyWhileAnswered(t *testing.T) {
	s := seeded(question("1", 1))
	s, _ = Apply(s, Event{Kind: KindAnswered, QuestionID: "1", AnswerText: "42"})

	s, out := Apply(s, Event{Kind: KindSoftDeleted, QuestionID: "1"})
	require.Equal(t, OutcomeApplied, out)
	got, _ := s.Get("1")
	assert.Empty(t, got.AnswerText)

	s, _ = Apply(s, Event{Kind: KindRestored, QuestionID: "1"})
	got, _ = s.Get("1")
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Empty(t, got.AnswerText)
}

func TestApply_PurgedCreationKeyedOnQuestion(t *testing.T) {
	s, _ := Apply(NewState(), Event{Kind: KindPurged, QuestionID: "5"})
	q := question("5", 1)

	s, out := Apply(s, Event{Kind: KindCreated, Question: &q})

	assert.Equal(t, OutcomeTombstoned, out)
	assert.Zero(t, s.Len())
}

func TestApply_AnswerKeepsTextWhenEventHasNone(t *testing.T) {
	s := seeded(question("1", 1))
	s, _ = Apply(s, Event{Kind: KindAnswered, QuestionID: "1", AnswerText: "42"})
	s, out := Apply(s, Event{Kind: KindAnswered, QuestionID: "1"})

	assert.Equal(t, OutcomeDuplicate, out)
	got, _ := s.Get("1")
	assert.Equal(t, "42", got.AnswerText)
}

func TestScenarioA_UpvoteAfterSnapshot(t *testing.T) {
	s := seeded(question("1", 0))
	up := Event{Kind: KindUpvoted, QuestionID: "1", Upvotes: 1}

	s, _ = Apply(s, up)
	s, _ = Apply(s, up)

	got, ok := s.Get("1")
	require.True(t, ok)
	assert.Equal(t, 1, got.Upvotes)
}

func TestScenarioB_AnswerBeforeAnyCreation(t *testing.T) {
	s, out := Apply(NewState(), Event{Kind: KindAnswered, QuestionID: "7"})

	assert.Equal(t, OutcomeStale, out)
	assert.Zero(t, s.Len())
}

func TestRebase_KeepsRacingEventsAndTombstones(t *testing.T) {
	prev := seeded(question("1", 1), question("2", 2))
	prev, _ = Apply(prev, Event{Kind: KindPurged, QuestionID: "2"})

	// Snapshot taken before question 5 was asked and before 1 was upvoted,
	// still listing the purged question 2.
	snapshot := []models.Question{question("2", 2), question("1", 1)}
	journal := []Event{
		created(question("5", 5)),
		{Kind: KindUpvoted, QuestionID: "1", Upvotes: 3},
	}

	s := Rebase(prev, snapshot, journal)

	assert.Equal(t, []string{"5", "1"}, ids(s))
	got, _ := s.Get("1")
	assert.Equal(t, 3, got.Upvotes)
	assert.True(t, s.Purged("2"))
}

func TestRebase_DropsQuestionsMissingFromSnapshot(t *testing.T) {
	prev := seeded(question("1", 1), question("gone", 2))

	s := Rebase(prev, []models.Question{question("1", 1)}, nil)

	assert.Equal(t, []string{"1"}, ids(s))
}

func TestReattribute(t *testing.T) {
	mine := question("1", 1)
	mine.AuthorTag = "Owl#1000"
	mine.IsMine = true
	s := seeded(mine)

	s = Reattribute(s, "Wolf#2000")
	got, _ := s.Get("1")
	assert.False(t, got.IsMine)

	s = Reattribute(s, "Owl#1000")
	got, _ = s.Get("1")
	assert.True(t, got.IsMine)
}

func TestStaleEventError(t *testing.T) {
	var err error = &StaleEventError{Kind: KindAnswered, QuestionID: "7"}

	assert.ErrorIs(t, err, ErrStaleEvent)
	assert.Contains(t, err.Error(), "question-answered")
}
