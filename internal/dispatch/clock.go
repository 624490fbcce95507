package dispatch

import "time"

// Clock supplies the current instant. Injected so window and pacing decisions
// are testable without real timers.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func SystemClock() Clock { return systemClock{} }
