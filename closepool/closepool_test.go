// SPDX-License-Identifier: GPL-3.0-or-later

package closepool_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/rbmk-project/netlab/closepool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// teardown records when it ran relative to its siblings, the way a
// cable or device registers its shutdown with a scenario.
type teardown struct {
	name string
	err  error
	log  *[]string
}

func (td *teardown) Close() error {
	*td.log = append(*td.log, td.name)
	return td.err
}

func TestPoolClosesEverything(t *testing.T) {
	pool := closepool.Pool{}
	var log []string

	pool.Add(&teardown{name: "router r1", log: &log})
	pool.Add(&teardown{name: "cable r1-r2", log: &log})

	require.NoError(t, pool.Close())
	assert.Len(t, log, 2)
}

func TestPoolClosesInReverseOrder(t *testing.T) {
	pool := closepool.Pool{}
	var log []string

	// registration order mirrors construction: devices first,
	// then the cables attached to them
	pool.Add(&teardown{name: "router r1", log: &log})
	pool.Add(&teardown{name: "ospf r1", log: &log})
	pool.Add(&teardown{name: "cable r1-r2", log: &log})

	require.NoError(t, pool.Close())

	// the cable must go down before the device timers stop
	assert.Equal(t, []string{"cable r1-r2", "ospf r1", "router r1"}, log)
}

func TestPoolJoinsErrors(t *testing.T) {
	pool := closepool.Pool{}
	var log []string
	errFirst := errors.New("nat reaper still running")
	errSecond := errors.New("cable already down")

	pool.Add(&teardown{name: "router r1", err: errFirst, log: &log})
	pool.Add(&teardown{name: "cable r1-r2", err: errSecond, log: &log})

	err := pool.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, errFirst)
	assert.ErrorIs(t, err, errSecond)

	// an error must not stop the remaining teardowns
	assert.Len(t, log, 2)
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	pool := closepool.Pool{}
	var log []string

	pool.Add(&teardown{name: "cable r1-r2", log: &log})
	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())

	// the second close finds an empty pool
	assert.Len(t, log, 1)
}

func TestPoolConcurrentAdd(t *testing.T) {
	pool := closepool.Pool{}
	var mu sync.Mutex
	var count int
	closer := closerFunc(func() error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				pool.Add(closer)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, pool.Close())
	assert.Equal(t, 800, count)
}

// closerFunc adapts a function to io.Closer.
type closerFunc func() error

func (fn closerFunc) Close() error {
	return fn()
}
