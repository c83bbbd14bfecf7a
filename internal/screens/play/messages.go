package play

import (
	"time"

	"github.com/abhisek/cefrquest/internal/learner"
	"github.com/abhisek/cefrquest/internal/session"
)

// EventMsg carries a timer-driven engine event into the TUI.
type EventMsg struct {
	Event session.Event
}

// taskSubmittedMsg is sent when a task submission finishes scoring.
type taskSubmittedMsg struct {
	TaskID  string
	Attempt learner.Attempt
	Err     error
}

// stepSubmittedMsg is sent when the step has been aggregated and routed.
type stepSubmittedMsg struct {
	Outcome *session.Outcome
	Err     error
}

// tickMsg redraws the countdowns once a second.
type tickMsg time.Time
