package feed

import (
	"errors"
	"fmt"
)

// ErrStaleEvent marks an event that referenced a question this client has not
// observed yet. It is dropped, not a failure.
var ErrStaleEvent = errors.New("stale event")

// StaleEventError records a dropped event for logs and telemetry.
type StaleEventError struct {
	Kind       Kind
	QuestionID string
}

func (e *StaleEventError) Error() string {
	return fmt.Sprintf("%s for unknown question %s dropped", e.Kind, e.QuestionID)
}

// Is makes errors.Is(err, ErrStaleEvent) match.
func (e *StaleEventError) Is(target error) bool { return target == ErrStaleEvent }
