package appointment

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusNoShow     Status = "NO_SHOW"
)

// transitions is the only place legal status edges are defined.
var transitions = map[Status]map[Status]struct{}{
	StatusScheduled: {
		StatusConfirmed:  {},
		StatusCancelled:  {},
		StatusInProgress: {},
		StatusNoShow:     {},
	},
	StatusConfirmed: {
		StatusInProgress: {},
		StatusCancelled:  {},
		StatusNoShow:     {},
	},
	StatusInProgress: {
		StatusCompleted: {},
		StatusCancelled: {},
	},
	StatusCompleted: {},
	StatusCancelled: {},
	StatusNoShow:    {},
}

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusScheduled,
	StatusConfirmed,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
	StatusNoShow,
}

// OccupyingStatuses are the statuses that hold a slot on the doctor's calendar.
var OccupyingStatuses = []Status{StatusScheduled, StatusConfirmed, StatusInProgress}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition is legal from s.
func (s Status) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

func (s Status) OccupiesCalendar() bool {
	return s.Valid() && !s.IsTerminal()
}

// Transition validates a move from current to requested.
func Transition(current, requested Status) (Status, error) {
	if _, ok := transitions[current][requested]; !ok {
		return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, requested)
	}
	return requested, nil
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
	}
	return s, nil
}
