// Package window decides whether a session accepts check-ins at a given
// instant. It is re-evaluated server-side on every attempt; client timers
// are never consulted.
package window

import "time"

// LateAfter is how long after the session start a check-in still counts
// as on time.
const LateAfter = 10 * time.Minute

// Closed-window reasons surfaced to clients.
const (
	ReasonEnded        = "session has ended"
	ReasonExpired      = "session has expired"
	ReasonWindowClosed = "check-in window has closed"
)

// Schedule is the timing of one session.
type Schedule struct {
	Start    time.Time
	Window   time.Duration
	Duration time.Duration
	Active   bool
}

// WindowEnd is the last instant a check-in is accepted.
func (s Schedule) WindowEnd() time.Time { return s.Start.Add(s.Window) }

// SessionEnd is when the session is over regardless of its active flag.
func (s Schedule) SessionEnd() time.Time { return s.Start.Add(s.Duration) }

// LateThreshold is the instant after which accepted check-ins are late.
func (s Schedule) LateThreshold() time.Time { return s.Start.Add(LateAfter) }

// State is the outcome of Evaluate.
type State struct {
	Open   bool
	Late   bool
	Reason string // set when !Open
}

// Evaluate computes the session's temporal state at now.
func Evaluate(s Schedule, now time.Time) State {
	if !s.Active {
		return State{Reason: ReasonEnded}
	}
	// Expiry holds even when nothing has flipped the active flag yet.
	if now.After(s.SessionEnd()) {
		return State{Reason: ReasonExpired}
	}
	windowEnd := s.WindowEnd()
	if now.After(windowEnd) {
		return State{Reason: ReasonWindowClosed}
	}
	return State{
		Open: true,
		Late: now.After(s.LateThreshold()),
	}
}

// Expired reports whether the sweeper should close the session at now.
func Expired(s Schedule, now time.Time) bool {
	return !now.Before(s.SessionEnd())
}
