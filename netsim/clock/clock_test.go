// SPDX-License-Identifier: GPL-3.0-or-later

package clock_test

import (
	"testing"
	"time"

	"github.com/rbmk-project/netlab/netsim/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestManualNow(t *testing.T) {
	clk := clock.NewManual(t0)
	assert.Equal(t, t0, clk.Now())

	clk.Advance(90 * time.Second)
	assert.Equal(t, t0.Add(90*time.Second), clk.Now())
}

func TestManualFiresInDeadlineOrder(t *testing.T) {
	clk := clock.NewManual(t0)
	var fired []string

	// register out of order on purpose
	clk.AfterFunc(30*time.Second, func() { fired = append(fired, "c") })
	clk.AfterFunc(10*time.Second, func() { fired = append(fired, "a") })
	clk.AfterFunc(20*time.Second, func() { fired = append(fired, "b") })

	clk.Advance(time.Minute)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
}

func TestManualDoesNotFireEarly(t *testing.T) {
	clk := clock.NewManual(t0)
	var fired bool
	clk.AfterFunc(10*time.Second, func() { fired = true })

	clk.Advance(9 * time.Second)
	assert.False(t, fired)

	clk.Advance(time.Second)
	assert.True(t, fired)
}

func TestManualTimeDuringCallback(t *testing.T) {
	clk := clock.NewManual(t0)
	var seen time.Time
	clk.AfterFunc(10*time.Second, func() { seen = clk.Now() })

	// the callback must observe its own deadline, not the target
	clk.Advance(time.Minute)
	assert.Equal(t, t0.Add(10*time.Second), seen)
	assert.Equal(t, t0.Add(time.Minute), clk.Now())
}

func TestManualStop(t *testing.T) {
	clk := clock.NewManual(t0)
	var fired bool
	timer := clk.AfterFunc(10*time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop must report not pending")

	clk.Advance(time.Minute)
	assert.False(t, fired)
}

func TestManualReset(t *testing.T) {
	clk := clock.NewManual(t0)
	var count int
	timer := clk.AfterFunc(10*time.Second, func() { count++ })

	clk.Advance(30 * time.Second)
	require.Equal(t, 1, count)

	// resetting a fired timer re-registers it
	assert.False(t, timer.Reset(10*time.Second))
	clk.Advance(10 * time.Second)
	assert.Equal(t, 2, count)
}

func TestManualCallbackSchedulesTimer(t *testing.T) {
	clk := clock.NewManual(t0)
	var count int
	var rearm func()
	rearm = func() {
		count++
		clk.AfterFunc(10*time.Second, rearm)
	}
	clk.AfterFunc(10*time.Second, rearm)

	// self-rearming timers fire for every period in the window
	clk.Advance(35 * time.Second)
	assert.Equal(t, 3, count)
}

func TestSystemClock(t *testing.T) {
	clk := clock.System{}
	assert.WithinDuration(t, time.Now(), clk.Now(), time.Minute)

	done := make(chan struct{})
	timer := clk.AfterFunc(time.Nanosecond, func() { close(done) })
	defer timer.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
}
