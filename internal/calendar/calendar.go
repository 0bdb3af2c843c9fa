// Package calendar normalizes timestamps to UTC calendar days.
package calendar

import "time"

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the current UTC calendar day according to nowFn.
func Today(nowFn func() time.Time) time.Time {
	if nowFn == nil {
		nowFn = time.Now
	}
	return Day(nowFn())
}

// AddDays returns day shifted by n calendar days.
func AddDays(day time.Time, n int) time.Time {
	return Day(day).AddDate(0, 0, n)
}

// Within reports whether day falls in the inclusive range [start, end].
func Within(day, start, end time.Time) bool {
	d := Day(day)
	return !d.Before(Day(start)) && !d.After(Day(end))
}

// ParseDay parses a YYYY-MM-DD string into a UTC day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}
