// Package visibility decides which questions a viewer sees in a room.
package visibility

import (
	"errors"
	"fmt"

	"github.com/qbox-live/qbox/internal/models"
)

// Filter is a tab a viewer can select.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterMine     Filter = "mine"
	FilterPending  Filter = "pending"
	FilterAnswered Filter = "answered"
	FilterRejected Filter = "rejected" // instructor-only "Deleted" tab
)

// ErrFilterUnavailable is returned when a role asks for a tab it does not have.
var ErrFilterUnavailable = errors.New("filter not available for role")

// Filters returns the tabs offered to a role, in display order.
func Filters(role models.Role) []Filter {
	if role == models.RoleInstructor {
		return []Filter{FilterAll, FilterPending, FilterAnswered, FilterRejected}
	}
	return []Filter{FilterAll, FilterMine, FilterPending, FilterAnswered}
}

// ParseFilter validates a filter name for a role.
func ParseFilter(role models.Role, name string) (Filter, error) {
	for _, f := range Filters(role) {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q for %s", ErrFilterUnavailable, name, role)
}

// Viewer identifies who is looking at the feed.
type Viewer struct {
	Role models.Role
}

// Visible returns the questions the viewer sees under the filter, keeping the
// input order.
func Visible(qs []models.Question, room models.Room, v Viewer, f Filter) ([]models.Question, error) {
	if _, err := ParseFilter(v.Role, string(f)); err != nil {
		return nil, err
	}
	out := make([]models.Question, 0, len(qs))
	for _, q := range scope(qs, room, v) {
		if match(q, f) {
			out = append(out, q)
		}
	}
	return out, nil
}

// Counts returns the badge count of every tab offered to the viewer.
func Counts(qs []models.Question, room models.Room, v Viewer) map[Filter]int {
	scoped := scope(qs, room, v)
	counts := make(map[Filter]int)
	for _, f := range Filters(v.Role) {
		counts[f] = 0
		for _, q := range scoped {
			if match(q, f) {
				counts[f]++
			}
		}
	}
	return counts
}

// scope applies the role and privacy rules before any tab filter.
func scope(qs []models.Question, room models.Room, v Viewer) []models.Question {
	if v.Role == models.RoleInstructor {
		return qs
	}
	out := make([]models.Question, 0, len(qs))
	for _, q := range qs {
		if q.Status == models.StatusRejected {
			continue
		}
		if room.Visibility == models.VisibilityPrivate && !q.IsMine {
			continue
		}
		out = append(out, q)
	}
	return out
}

func match(q models.Question, f Filter) bool {
	switch f {
	case FilterAll:
		return q.Status != models.StatusRejected
	case FilterMine:
		return q.IsMine
	case FilterPending:
		return q.Status == models.StatusPending
	case FilterAnswered:
		return q.Status == models.StatusAnswered
	case FilterRejected:
		return q.Status == models.StatusRejected
	}
	return false
}
