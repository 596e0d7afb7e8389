// Package feed merges snapshot results and streamed events into one ordered,
// deduplicated view of a room's questions.
//
// State is immutable: Apply, MergeSnapshot, Rebase and Reattribute return a
// new State and never modify their input, so the merge can be exercised
// without a transport.
package feed

import (
	"sort"

	"github.com/qbox-live/qbox/internal/models"
)

// Outcome describes what applying an event did to the state.
type Outcome int

const (
	// OutcomeApplied means the state changed.
	OutcomeApplied Outcome = iota
	// OutcomeDuplicate means the event was already reflected in the state.
	OutcomeDuplicate
	// OutcomeStale means the event referenced a question not observed yet.
	OutcomeStale
	// OutcomeTombstoned means the event referenced a purged question.
	OutcomeTombstoned
	// OutcomeIgnored means the event is not a question change.
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeStale:
		return "stale"
	case OutcomeTombstoned:
		return "tombstoned"
	case OutcomeIgnored:
		return "ignored"
	}
	return "unknown"
}

// State is a room's local question set, newest first, plus the ids purged
// while it was observed.
type State struct {
	questions []models.Question
	purged    map[string]struct{}
}

// NewState returns an empty state.
func NewState() State { return State{} }

// Len returns the number of live questions.
func (s State) Len() int { return len(s.questions) }

// Questions returns a copy of the ordered question list.
func (s State) Questions() []models.Question {
	out := make([]models.Question, len(s.questions))
	copy(out, s.questions)
	return out
}

// Get returns the question with the given id.
func (s State) Get(id string) (models.Question, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.questions[i], true
	}
	return models.Question{}, false
}

// Purged reports whether id was purged and must never reappear.
func (s State) Purged(id string) bool {
	_, ok := s.purged[id]
	return ok
}

func (s State) indexOf(id string) int {
	for i := range s.questions {
		if s.questions[i].ID == id {
			return i
		}
	}
	return -1
}

// insertAt returns the position keeping newest-first order. Ties go before
// existing entries, so a later arrival sorts first.
func (s State) insertAt(q models.Question) int {
	return sort.Search(len(s.questions), func(i int) bool {
		return !s.questions[i].CreatedAt.After(q.CreatedAt)
	})
}

func (s State) withInserted(q models.Question) State {
	i := s.insertAt(q)
	qs := make([]models.Question, 0, len(s.questions)+1)
	qs = append(qs, s.questions[:i]...)
	qs = append(qs, q)
	qs = append(qs, s.questions[i:]...)
	return State{questions: qs, purged: s.purged}
}

func (s State) withReplaced(i int, q models.Question) State {
	qs := s.Questions()
	qs[i] = q
	return State{questions: qs, purged: s.purged}
}

func (s State) withPurged(id string) State {
	purged := make(map[string]struct{}, len(s.purged)+1)
	for k := range s.purged {
		purged[k] = struct{}{}
	}
	purged[id] = struct{}{}
	qs := make([]models.Question, 0, len(s.questions))
	for _, q := range s.questions {
		if q.ID != id {
			qs = append(qs, q)
		}
	}
	return State{questions: qs, purged: purged}
}

// Apply merges one event into the state. Every kind is idempotent: applying
// the same event twice leaves the state as applying it once.
func Apply(s State, ev Event) (State, Outcome) {
	if ev.Kind.RoomLevel() {
		return s, OutcomeIgnored
	}
	if ev.Kind == KindPurged {
		if s.Purged(ev.QuestionID) {
			return s, OutcomeDuplicate
		}
		return s.withPurged(ev.QuestionID), OutcomeApplied
	}
	if ev.Kind == KindCreated {
		if ev.Question == nil || ev.Question.ID == "" {
			return s, OutcomeIgnored
		}
		if s.Purged(ev.Question.ID) {
			return s, OutcomeTombstoned
		}
		if s.indexOf(ev.Question.ID) >= 0 {
			return s, OutcomeDuplicate
		}
		return s.withInserted(*ev.Question), OutcomeApplied
	}

	if s.Purged(ev.QuestionID) {
		return s, OutcomeTombstoned
	}
	i := s.indexOf(ev.QuestionID)
	if i < 0 {
		return s, OutcomeStale
	}
	cur := s.questions[i]
	next := cur
	switch ev.Kind {
	case KindUpvoted:
		next.Upvotes = max(ev.Upvotes, 0)
	case KindAnswered:
		next.Status = models.StatusAnswered
		if ev.AnswerText != "" {
			next.AnswerText = ev.AnswerText
		}
	case KindReported:
		next.IsReported = true
	case KindSoftDeleted:
		next.Status = models.StatusRejected
		next.AnswerText = ""
	case KindRestored:
		next.Status = models.StatusPending
		next.AnswerText = ""
	default:
		return s, OutcomeIgnored
	}
	if next == cur {
		return s, OutcomeDuplicate
	}
	return s.withReplaced(i, next), OutcomeApplied
}

// MergeSnapshot applies the creation rule to every question of a snapshot:
// absent ids are inserted, present or purged ids are left alone. It returns
// the number of inserted questions.
func MergeSnapshot(s State, snapshot []models.Question) (State, int) {
	inserted := 0
	// Walk oldest first so ties keep the snapshot's order.
	for i := len(snapshot) - 1; i >= 0; i-- {
		q := snapshot[i]
		var out Outcome
		s, out = Apply(s, Event{Kind: KindCreated, QuestionID: q.ID, Question: &q})
		if out == OutcomeApplied {
			inserted++
		}
	}
	return s, inserted
}

// Rebase rebuilds the state from an authoritative snapshot, keeping prev's
// tombstones, then replays the events applied since the snapshot was
// requested. Because every event is idempotent, replaying ones the snapshot
// already reflects is harmless.
func Rebase(prev State, snapshot []models.Question, journal []Event) State {
	s := State{purged: prev.purged}
	s, _ = MergeSnapshot(s, snapshot)
	for _, ev := range journal {
		s, _ = Apply(s, ev)
	}
	return s
}

// Reattribute recomputes IsMine for a new viewer tag.
func Reattribute(s State, viewerTag string) State {
	qs := s.Questions()
	for i := range qs {
		qs[i].IsMine = viewerTag != "" && qs[i].AuthorTag == viewerTag
	}
	return State{questions: qs, purged: s.purged}
}
