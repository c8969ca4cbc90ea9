package redemption

import (
	"strings"
	"time"
)

// Action is the gated action a window controls.
type Action string

const (
	ActionMeal         Action = "meal"
	ActionCheckIn      Action = "check_in"
	ActionSessionEntry Action = "session_entry"
)

// ParseAction validates and normalizes an action string.
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionMeal:
		return ActionMeal, true
	case ActionCheckIn:
		return ActionCheckIn, true
	case ActionSessionEntry:
		return ActionSessionEntry, true
	default:
		return "", false
	}
}

// Window is a named, time-boxed eligibility period for one gated action,
// e.g. "lunch-day-1" or "checkin".
type Window struct {
	ID               string
	Action           Action
	OpensAt          time.Time
	ClosesAt         time.Time
	MaxPerCredential int
}

// OpenAt reports window eligibility at the given instant.
// The interval is half-open: opensAt <= now < closesAt.
func (w Window) OpenAt(now time.Time) bool {
	return !now.Before(w.OpensAt) && now.Before(w.ClosesAt)
}
