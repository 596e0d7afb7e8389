package visibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbox-live/qbox/internal/feed"
	"github.com/qbox-live/qbox/internal/models"
)

var (
	participant = Viewer{Role: models.RoleParticipant}
	instructor  = Viewer{Role: models.RoleInstructor}
	publicRoom  = models.Room{Code: "ABC123", Visibility: models.VisibilityPublic}
	privateRoom = models.Room{Code: "ABC123", Visibility: models.VisibilityPrivate}
)

func sample() []models.Question {
	return []models.Question{
		{ID: "1", AuthorTag: "Owl#1000", IsMine: true, Status: models.StatusPending},
		{ID: "2", AuthorTag: "Fox#2000", Status: models.StatusAnswered},
		{ID: "3", AuthorTag: "Fox#2000", Status: models.StatusPending},
		{ID: "4", AuthorTag: "Fox#2000", Status: models.StatusRejected},
		{ID: "5", AuthorTag: "Owl#1000", IsMine: true, Status: models.StatusAnswered},
	}
}

func visibleIDs(t *testing.T, room models.Room, v Viewer, f Filter) []string {
	t.Helper()
	qs, err := Visible(sample(), room, v, f)
	require.NoError(t, err)
	out := []string{}
	for _, q := range qs {
		out = append(out, q.ID)
	}
	return out
}

func TestVisible_PublicParticipant(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3", "5"}, visibleIDs(t, publicRoom, participant, FilterAll))
	assert.Equal(t, []string{"1", "5"}, visibleIDs(t, publicRoom, participant, FilterMine))
	assert.Equal(t, []string{"1", "3"}, visibleIDs(t, publicRoom, participant, FilterPending))
	assert.Equal(t, []string{"2", "5"}, visibleIDs(t, publicRoom, participant, FilterAnswered))
}

func TestVisible_PrivateRoomOnlyShowsOwnQuestions(t *testing.T) {
	for _, f := range Filters(models.RoleParticipant) {
		qs, err := Visible(sample(), privateRoom, participant, f)
		require.NoError(t, err)
		for _, q := range qs {
			assert.True(t, q.IsMine, "filter %s leaked question %s", f, q.ID)
		}
	}
	assert.Equal(t, []string{"1"}, visibleIDs(t, privateRoom, participant, FilterPending))
}

func TestVisible_InstructorIsExemptFromPrivacy(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3", "5"}, visibleIDs(t, privateRoom, instructor, FilterAll))
	assert.Equal(t, []string{"4"}, visibleIDs(t, privateRoom, instructor, FilterRejected))
}

func TestVisible_ParticipantHasNoDeletedTab(t *testing.T) {
	_, err := Visible(sample(), publicRoom, participant, FilterRejected)
	assert.ErrorIs(t, err, ErrFilterUnavailable)

	_, err = Visible(sample(), publicRoom, instructor, FilterMine)
	assert.ErrorIs(t, err, ErrFilterUnavailable)
}

func TestCounts(t *testing.T) {
	assert.Equal(t, map[Filter]int{
		FilterAll: 4, FilterMine: 2, FilterPending: 2, FilterAnswered: 2,
	}, Counts(sample(), publicRoom, participant))

	assert.Equal(t, map[Filter]int{
		FilterAll: 2, FilterMine: 2, FilterPending: 1, FilterAnswered: 1,
	}, Counts(sample(), privateRoom, participant))

	assert.Equal(t, map[Filter]int{
		FilterAll: 4, FilterPending: 2, FilterAnswered: 2, FilterRejected: 1,
	}, Counts(sample(), privateRoom, instructor))
}

func TestScenarioC_SoftDeleteAndRestore(t *testing.T) {
	q := models.Question{ID: "3", Status: models.StatusPending}
	s, _ := feed.MergeSnapshot(feed.NewState(), []models.Question{q})

	pending := func() []models.Question {
		qs, err := Visible(s.Questions(), publicRoom, instructor, FilterPending)
		require.NoError(t, err)
		return qs
	}
	deleted := func() []models.Question {
		qs, err := Visible(s.Questions(), publicRoom, instructor, FilterRejected)
		require.NoError(t, err)
		return qs
	}

	s, _ = feed.Apply(s, feed.Event{Kind: feed.KindSoftDeleted, QuestionID: "3"})
	assert.Empty(t, pending())
	assert.Len(t, deleted(), 1)

	s, _ = feed.Apply(s, feed.Event{Kind: feed.KindRestored, QuestionID: "3"})
	assert.Len(t, pending(), 1)
	assert.Empty(t, deleted())
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter(models.RoleInstructor, "rejected")
	require.NoError(t, err)
	assert.Equal(t, FilterRejected, f)

	_, err = ParseFilter(models.RoleParticipant, "everything")
	assert.ErrorIs(t, err, ErrFilterUnavailable)
}
