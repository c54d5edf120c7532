package reminder

import "time"

const day = 24 * time.Hour

// ElapsedFullDays returns the number of whole days in a-b, truncated toward
// zero. It is negative when a is before b. A UTC offset change in loc between
// the two instants (DST) is added back, so 02:00 to 02:00 across a transition
// is one day, not 23 or 25 hours.
func ElapsedFullDays(a, b time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.Local
	}
	_, ao := a.In(loc).Zone()
	_, bo := b.In(loc).Zone()
	return int((a.Sub(b) + time.Duration(ao-bo)*time.Second) / day)
}

// IsDue reports whether w must be notified at now. Items without an interval
// are never due; an elapsed count equal to the interval is due.
func IsDue(w WorkItem, now time.Time, loc *time.Location) bool {
	if w.ReminderIntervalDays == nil {
		return false
	}
	return ElapsedFullDays(now, w.Baseline(), loc) >= *w.ReminderIntervalDays
}

// DaysLeft is the signed number of whole days until the item ends.
func DaysLeft(w WorkItem, now time.Time, loc *time.Location) int {
	return ElapsedFullDays(w.EndDate, now, loc)
}

// StartOfDay truncates t to local midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	y, m, d := lt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
