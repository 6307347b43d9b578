// Package clock abstracts the time operations used by the dialogue runtime so
// that reveal delays, settle delays and hold waits can be driven
// deterministically in tests.
//
// Production code injects [Real]; tests inject [Fake] and move time forward
// explicitly with [FakeClock.Advance] or [FakeClock.AdvanceToNext].
package clock

import "time"

// Clock is the subset of the time package the dialogue runtime depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously during
	// Advance (fake) once d has elapsed. The returned Timer cancels the call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a cancellable scheduled call created by [Clock.AfterFunc].
type Timer struct {
	stop func() bool
}

// Stop prevents the Timer from firing. It returns true if the call stopped
// the timer and false if the timer already fired or was stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}

// Real returns a [Clock] backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}
