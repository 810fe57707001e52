// Package stateengine implements the flap-dampened status transition
// function applied to one monitor's outcome on each scheduler tick. It is
// pure: no I/O, no clock reads, no store access.
package stateengine

import "github.com/lastwatch/uptime-core/pkg/probe"

// Status values a monitor state can hold. Paused and maintenance are never
// produced by Transition; paused rows are filtered out of the due-query
// before the engine ever sees them, and maintenance is a display-time
// overlay applied by pkg/status.
const (
	StatusUnknown = "unknown"
	StatusUp      = "up"
	StatusDown    = "down"
)

// OutageAction describes what the caller must do to the monitor's open
// outage row alongside persisting the new state.
type OutageAction string

const (
	OutageNone   OutageAction = "none"
	OutageOpen   OutageAction = "open"
	OutageClose  OutageAction = "update_close"
	OutageUpdate OutageAction = "update_error"
)

// Prev is the subset of MonitorState the engine needs to compute a
// transition; it is absent (nil) for a monitor probed for the first time.
type Prev struct {
	Status               string
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastChangedAt        *int64
	LastError            *string
}

// Thresholds come from the settings table.
type Thresholds struct {
	FailuresToDownFromUp  int
	SuccessesToUpFromDown int
}

// Result is the new state plus the action the caller must perform.
type Result struct {
	Status               string
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	Changed              bool
	LastChangedAt        *int64
	LastError            *string
	OutageAction         OutageAction
}

// Transition computes the next MonitorState from the previous one and the
// current probe outcome, per the counter and transition rules.
func Transition(prev *Prev, outcome probe.CheckOutcome, checkedAt int64, th Thresholds) Result {
	prevStatus := StatusUnknown
	var cf, cs int
	var lastChangedAt *int64
	var lastError *string
	if prev != nil {
		prevStatus = prev.Status
		cf = prev.ConsecutiveFailures
		cs = prev.ConsecutiveSuccesses
		lastError = prev.LastError
		lastChangedAt = prev.LastChangedAt
	}

	switch outcome.Status {
	case probe.StatusUp:
		cs++
		cf = 0
	case probe.StatusDown:
		cf++
		cs = 0
	default:
		// unknown outcome: neither counter moves, it is not evidence.
	}

	next := prevStatus
	switch prevStatus {
	case StatusUnknown:
		if outcome.Status == probe.StatusUp {
			next = StatusUp
		}
	case StatusUp:
		if cf >= th.FailuresToDownFromUp {
			next = StatusDown
		}
	case StatusDown:
		if cs >= th.SuccessesToUpFromDown {
			next = StatusUp
		}
	default:
		next = prevStatus
	}

	changed := next != prevStatus
	if changed {
		t := checkedAt
		lastChangedAt = &t
	}

	var nextErr *string
	switch next {
	case StatusUp:
		if outcome.Status == probe.StatusUp {
			nextErr = nil
		} else {
			nextErr = lastError
		}
	case StatusDown:
		if outcome.Status == probe.StatusDown && outcome.Error != "" {
			e := outcome.Error
			nextErr = &e
		} else {
			nextErr = lastError
		}
	default:
		nextErr = lastError
	}

	action := OutageNone
	switch {
	case prevStatus == StatusUp && next == StatusDown:
		action = OutageOpen
	case prevStatus == StatusDown && next == StatusUp:
		action = OutageClose
	case prevStatus == StatusDown && next == StatusDown && outcome.Status == probe.StatusDown:
		action = OutageUpdate
	}

	return Result{
		Status:               next,
		ConsecutiveFailures:  cf,
		ConsecutiveSuccesses: cs,
		Changed:              changed,
		LastChangedAt:        lastChangedAt,
		LastError:            nextErr,
		OutageAction:         action,
	}
}

// EmitsDownEvent reports whether this transition should enqueue a
// monitor.down webhook event, per the up|unknown -> down rule.
func EmitsDownEvent(prevStatus string, r Result) bool {
	return r.Changed && r.Status == StatusDown && (prevStatus == StatusUp || prevStatus == StatusUnknown)
}

// EmitsUpEvent reports whether this transition should enqueue a
// monitor.up webhook event, per the down -> up rule.
func EmitsUpEvent(prevStatus string, r Result) bool {
	return r.Changed && r.Status == StatusUp && prevStatus == StatusDown
}
