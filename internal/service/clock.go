package service

import "time"

// Clock supplies the engine's notion of time and of update precedence.
// The default compares wall-clock timestamps; a logical-clock
// implementation can be substituted without touching the reconciler,
// which only ever calls Now and NewerThan.
type Clock interface {
	Now() time.Time
	// NewerThan reports whether a strictly supersedes b.
	NewerThan(a, b time.Time) bool
}

type systemClock struct{}

func (systemClock) Now() time.Time                { return time.Now().UTC() }
func (systemClock) NewerThan(a, b time.Time) bool { return a.After(b) }

// SystemClock returns the wall-clock Clock used in production.
func SystemClock() Clock {
	return systemClock{}
}
