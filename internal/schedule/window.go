package schedule

import "time"

const minutesPerDay = 24 * 60

// Window is a daily clock-time interval during which sends are permitted,
// expressed in minutes since midnight. StartMinute <= EndMinute is a same-day
// window; StartMinute > EndMinute crosses midnight (e.g. 22:00-06:00).
type Window struct {
	StartMinute int
	EndMinute   int
}

func NewWindow(startHour, startMinute, endHour, endMinute int) Window {
	return Window{
		StartMinute: startHour*60 + startMinute,
		EndMinute:   endHour*60 + endMinute,
	}
}

// Contains reports whether t falls inside the window. A zero-width window
// (start == end) is treated as a full-day window: always open.
func (w Window) Contains(t time.Time) bool {
	m := minuteOfDay(t)
	switch {
	case w.StartMinute == w.EndMinute:
		return true
	case w.StartMinute < w.EndMinute:
		return m >= w.StartMinute && m < w.EndMinute
	default:
		return m >= w.StartMinute || m < w.EndMinute
	}
}

// NextOpen returns the earliest instant at or after t at which the window is
// open. If t is already inside the window it is returned unchanged.
func (w Window) NextOpen(t time.Time) time.Time {
	if w.Contains(t) {
		return t
	}
	start := w.startOn(t)
	if !start.Before(t) {
		return start
	}
	return start.AddDate(0, 0, 1)
}

// NextClose returns the earliest instant after t at which the window closes.
// For a full-day window there is no boundary; the next midnight is returned
// so periodic re-evaluation still has an anchor.
func (w Window) NextClose(t time.Time) time.Time {
	end := time.Date(t.Year(), t.Month(), t.Day(), w.EndMinute/60, w.EndMinute%60, 0, 0, t.Location())
	if end.After(t) {
		return end
	}
	return end.AddDate(0, 0, 1)
}

func (w Window) startOn(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), w.StartMinute/60, w.StartMinute%60, 0, 0, t.Location())
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
