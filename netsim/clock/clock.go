// SPDX-License-Identifier: GPL-3.0-or-later

// Package clock provides an injectable clock so that simulations
// can run against either the wall clock or a test-controlled clock.
package clock

import "time"

// Timer is a cancelable scheduled callback.
type Timer interface {
	// Stop cancels the timer. It returns false if the timer
	// has already fired or been stopped.
	Stop() bool

	// Reset reschedules the timer to fire after d. It returns
	// true if the timer was still pending.
	Reset(d time.Duration) bool
}

// Clock tells the time and schedules callbacks.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc schedules f to run after d and returns
	// the corresponding cancelable [Timer].
	AfterFunc(d time.Duration, f func()) Timer
}

// System is a [Clock] implemented by the [time] package.
//
// The zero value is ready to use.
type System struct{}

var _ Clock = System{}

// Now implements [Clock].
func (System) Now() time.Time {
	return time.Now()
}

// AfterFunc implements [Clock].
func (System) AfterFunc(d time.Duration, f func()) Timer {
	return systemTimer{time.AfterFunc(d, f)}
}

// systemTimer adapts [*time.Timer] to the [Timer] interface.
type systemTimer struct {
	t *time.Timer
}

// Stop implements [Timer].
func (st systemTimer) Stop() bool {
	return st.t.Stop()
}

// Reset implements [Timer].
func (st systemTimer) Reset(d time.Duration) bool {
	return st.t.Reset(d)
}
