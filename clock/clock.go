package clock

import (
	"fmt"
	"time"
)

// Phase is the lifecycle phase of a hangout at a point in time.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseActive     Phase = "active"
	PhaseEndingSoon Phase = "ending_soon"
	PhaseExpired    Phase = "expired"

	DefaultEndingSoonWindow = 10 * time.Minute
)

// Open reports whether a hangout in this phase still accepts join requests and chat. Joining never waits for the
// start time.
func (p Phase) Open() bool {
	return p != PhaseExpired
}

// rank orders the phases along the time axis.
func (p Phase) rank() int {
	switch p {
	case PhaseNotStarted:
		return 0
	case PhaseActive:
		return 1
	case PhaseEndingSoon:
		return 2
	}
	return 3
}

// Classify returns the phase with the default ending-soon window.
func Classify(now, start, expires time.Time) Phase {
	return ClassifyWithin(now, start, expires, DefaultEndingSoonWindow)
}

// ClassifyWithin returns the phase of a hangout running from start to expires:
//   - expired if now >= expires
//   - ending_soon if expires - now is in (0, window]
//   - not_started if now < start
//   - active otherwise
func ClassifyWithin(now, start, expires time.Time, window time.Duration) Phase {
	left := expires.Sub(now)
	switch {
	case left <= 0:
		return PhaseExpired
	case left <= window:
		return PhaseEndingSoon
	case now.Before(start):
		return PhaseNotStarted
	}
	return PhaseActive
}

// Remaining is the time left until expiry, never negative.
func Remaining(now, expires time.Time) time.Duration {
	left := expires.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Label renders the phase for display, f.e. "Starts in 25m" or "Ends in 1h 5m".
func Label(now, start, expires time.Time, window time.Duration) string {
	switch ClassifyWithin(now, start, expires, window) {
	case PhaseExpired:
		return "Ended"
	case PhaseNotStarted:
		return "Starts in " + formatDuration(start.Sub(now))
	case PhaseEndingSoon:
		return "Ending soon · " + formatDuration(expires.Sub(now)) + " left"
	}
	return "Ends in " + formatDuration(expires.Sub(now))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	if d < time.Minute {
		return "<1m"
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	switch {
	case h >= 24:
		return fmt.Sprintf("%dd %dh", h/24, h%24)
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dm", m)
}
