package schedule

import "time"

// Delay is a relative offset from a base instant, expressed in the units the
// campaign configuration exposes. All components must be non-negative.
type Delay struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

func (d Delay) Duration() time.Duration {
	return time.Duration(d.Days)*24*time.Hour +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second
}

func (d Delay) Negative() bool {
	return d.Days < 0 || d.Hours < 0 || d.Minutes < 0 || d.Seconds < 0
}

// SendAt computes the absolute send instant for a message scheduled delay
// after base, slid into the send window and bounded by a wait ceiling
// relative to now.
//
// The ceiling is applied before the window: a raw instant beyond now+maxWait
// is clamped to the ceiling and returned as-is, even if the ceiling falls
// outside business hours. Inside the ceiling, an instant outside the window
// slides to the window's next opening, re-clamped against the ceiling. A
// message is therefore never dropped for missing the window, and never waits
// longer than maxWait.
func SendAt(base time.Time, delay time.Duration, w Window, now time.Time, maxWait time.Duration) time.Time {
	raw := base.Add(delay)
	ceiling := now.Add(maxWait)
	if maxWait > 0 && raw.After(ceiling) {
		return ceiling
	}
	if w.Contains(raw) {
		return raw
	}
	next := w.NextOpen(raw)
	if maxWait > 0 && next.After(ceiling) {
		return ceiling
	}
	return next
}
