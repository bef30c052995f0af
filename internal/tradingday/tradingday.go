// Package tradingday provides the UTC day-boundary math the ledger uses for
// daily P&L accounting. Crypto markets trade continuously, so the only
// session boundary that matters is UTC midnight.
package tradingday

import "time"

// DayStart returns UTC midnight of the day containing t.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	return DayStart(a).Equal(DayStart(b))
}

// NextRollover returns the next UTC midnight after t.
func NextRollover(t time.Time) time.Time {
	return DayStart(t).Add(24 * time.Hour)
}
