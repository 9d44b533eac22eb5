// SPDX-License-Identifier: GPL-3.0-or-later

//
// Manual clock for deterministic tests.
//

package clock

import (
	"sync"
	"time"
)

// Manual is a [Clock] that only moves when told to.
//
// The zero value is not ready to use; construct using [NewManual].
//
// A [*Manual] is safe for concurrent use by multiple goroutines.
type Manual struct {
	// mu protects now and timers.
	mu sync.Mutex

	// now is the current manual time.
	now time.Time

	// timers contains the pending timers.
	timers []*manualTimer
}

// NewManual creates a [*Manual] clock starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

var _ Clock = &Manual{}

// Now implements [Clock].
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc implements [Clock].
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt := &manualTimer{
		clock: m,
		f:     f,
		when:  m.now.Add(d),
	}
	m.timers = append(m.timers, mt)
	return mt
}

// Advance moves the clock forward by d, firing pending timers in
// deadline order. Callbacks run synchronously on the calling
// goroutine and may schedule further timers, which also fire if
// they fall within the advanced window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		mt := m.nextDueLocked(target)
		if mt == nil {
			break
		}
		if mt.when.After(m.now) {
			m.now = mt.when
		}
		m.removeLocked(mt)
		m.mu.Unlock()
		mt.f()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

// nextDueLocked returns the earliest timer due at or before target.
func (m *Manual) nextDueLocked(target time.Time) *manualTimer {
	var due *manualTimer
	for _, mt := range m.timers {
		if mt.when.After(target) {
			continue
		}
		if due == nil || mt.when.Before(due.when) {
			due = mt
		}
	}
	return due
}

// removeLocked removes the given timer, if present.
func (m *Manual) removeLocked(victim *manualTimer) bool {
	for idx, mt := range m.timers {
		if mt == victim {
			m.timers = append(m.timers[:idx], m.timers[idx+1:]...)
			return true
		}
	}
	return false
}

// manualTimer is a pending [*Manual] timer.
type manualTimer struct {
	clock *Manual
	f     func()
	when  time.Time
}

// Stop implements [Timer].
func (mt *manualTimer) Stop() bool {
	mt.clock.mu.Lock()
	defer mt.clock.mu.Unlock()
	return mt.clock.removeLocked(mt)
}

// Reset implements [Timer].
func (mt *manualTimer) Reset(d time.Duration) bool {
	mt.clock.mu.Lock()
	defer mt.clock.mu.Unlock()
	pending := mt.clock.removeLocked(mt)
	mt.when = mt.clock.now.Add(d)
	mt.clock.timers = append(mt.clock.timers, mt)
	return pending
}
