package ledger

import "time"

// DefaultWindowHours is used when a caller passes a non-positive window.
const DefaultWindowHours = 24

// Window is a fixed quota window [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFor returns the window containing now. Windows are aligned to
// multiples of hours since the zero time in UTC, so a 24 hour window always
// starts at UTC midnight, for every tier and every store.
func WindowFor(now time.Time, hours int) Window {
	if hours <= 0 {
		hours = DefaultWindowHours
	}
	size := time.Duration(hours) * time.Hour
	start := now.UTC().Truncate(size)
	return Window{Start: start, End: start.Add(size)}
}
