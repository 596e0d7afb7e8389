package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/qbox-live/qbox/internal/models"
	"github.com/qbox-live/qbox/internal/visibility"
)

// FeedView is one rendering of a room feed.
type FeedView struct {
	Room      models.Room               `json:"room"`
	Role      models.Role               `json:"role"`
	ViewerTag string                    `json:"viewer_tag"`
	Filter    visibility.Filter         `json:"filter"`
	Counts    map[visibility.Filter]int `json:"counts"`
	Questions []models.Question         `json:"questions"`
}

var tabLabels = map[visibility.Filter]string{
	visibility.FilterAll:      "All",
	visibility.FilterMine:     "Mine",
	visibility.FilterPending:  "Pending",
	visibility.FilterAnswered: "Answered",
	visibility.FilterRejected: "Deleted",
}

// Render writes v in the given format ("text" or "json").
func Render(w io.Writer, format string, v FeedView) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(v)
	}
	return renderText(w, v)
}

func renderText(w io.Writer, v FeedView) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Room %s  %s", v.Room.Code, v.Room.Name)
	if v.Room.Visibility == models.VisibilityPrivate {
		b.WriteString("  [private]")
	}
	if v.Room.Closed() {
		b.WriteString("  [closed]")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "You are %s (%s)\n", v.ViewerTag, v.Role)

	tabs := make([]string, 0, 5)
	for _, f := range visibility.Filters(v.Role) {
		tab := fmt.Sprintf("%s (%d)", tabLabels[f], v.Counts[f])
		if f == v.Filter {
			tab = "[" + tab + "]"
		}
		tabs = append(tabs, tab)
	}
	b.WriteString(strings.Join(tabs, "  "))
	b.WriteString("\n\n")

	if len(v.Questions) == 0 {
		b.WriteString("  No questions here yet.\n")
	}
	for _, q := range v.Questions {
		fmt.Fprintf(&b, "[%s] %s\n", q.Status, q.Text)

		author := q.AuthorTag
		if q.IsMine {
			author += " (you)"
		}
		votes := "upvotes"
		if q.Upvotes == 1 {
			votes = "upvote"
		}
		fmt.Fprintf(&b, "    id %s | by %s | %d %s", q.ID, author, q.Upvotes, votes)
		if q.IsReported && v.Role == models.RoleInstructor {
			b.WriteString(" | reported")
		}
		b.WriteString("\n")
		if q.Status == models.StatusAnswered && q.AnswerText != "" {
			fmt.Fprintf(&b, "    answer: %s\n", q.AnswerText)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
