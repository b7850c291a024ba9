// Package uptime holds the time-window and percentage arithmetic for daily
// uptime records. Everything here is pure so the fold can be tested without
// a broker or a database.
package uptime

import (
	"math"
	"time"
)

// DayStart returns midnight of t's calendar day, in t's location.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DateOf returns the canonical key for t's calendar day: midnight UTC of the
// local date. Uptime rows are keyed on this value so equality lookups work
// regardless of the session timezone.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Elapsed returns how much of the measurement window has passed at now:
// the time since the later of the day's midnight or the server's creation.
// Never negative.
func Elapsed(now, created time.Time) time.Duration {
	start := DayStart(now)
	if created.After(start) {
		start = created
	}
	e := now.Sub(start)
	if e < 0 {
		return 0
	}
	return e
}

// Percentage computes the uptime percentage for count alive ticks over the
// elapsed window, rounded to two decimals and clamped to [0, 100]. A window
// of less than one whole second clamps to 100 rather than dividing by zero.
func Percentage(count int64, elapsed time.Duration) float64 {
	secs := int64(elapsed / time.Second)
	if secs <= 0 {
		return 100
	}
	pct := float64(count) / float64(secs) * 100
	pct = math.Round(pct*100) / 100
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}
