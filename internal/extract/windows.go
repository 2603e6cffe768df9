package extract

import "time"

// Window is one half-open [Start, End) extraction interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// WeeklyWindows cuts [start, end) into consecutive 7-day windows. Imports
// run window by window so a failure mid-period loses at most one week of
// work.
func WeeklyWindows(start, end time.Time) []Window {
	return split(start, end, func(t time.Time) time.Time { return t.AddDate(0, 0, 7) })
}

// MonthlyWindows cuts [start, end) into consecutive one-month windows, used
// to bound the size of individual export files.
func MonthlyWindows(start, end time.Time) []Window {
	return split(start, end, func(t time.Time) time.Time { return t.AddDate(0, 1, 0) })
}

func split(start, end time.Time, advance func(time.Time) time.Time) []Window {
	var out []Window
	for cur := start; cur.Before(end); {
		next := advance(cur)
		if next.After(end) {
			next = end
		}
		out = append(out, Window{Start: cur, End: next})
		cur = next
	}
	return out
}
