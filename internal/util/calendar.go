package util

import "time"

// StartOfDay truncates t to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysEnding returns n consecutive calendar days, oldest first, the last of
// which is the day containing end.
func DaysEnding(end time.Time, n int) []time.Time {
	last := StartOfDay(end)
	days := make([]time.Time, n)
	for i := 0; i < n; i++ {
		days[i] = last.AddDate(0, 0, i-(n-1))
	}
	return days
}

// DaysFrom returns n consecutive calendar days starting with the day
// containing start.
func DaysFrom(start time.Time, n int) []time.Time {
	first := StartOfDay(start)
	days := make([]time.Time, n)
	for i := 0; i < n; i++ {
		days[i] = first.AddDate(0, 0, i)
	}
	return days
}

// DateLabel formats a day as YYYY-MM-DD.
func DateLabel(t time.Time) string {
	return t.Format("2006-01-02")
}
