package pool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRun_Empty tests that a pool with no work returns immediately.
func TestRun_Empty(t *testing.T) {
	err := Run(false, 2, func(p *Pool) {})
	require.NoError(t, err)
}

// TestRun_AllJobsComplete tests that Run waits for every spawned job,
// including jobs spawned from other jobs.
func TestRun_AllJobsComplete(t *testing.T) {
	var count atomic.Int64
	err := Run(false, 4, func(p *Pool) {
		for i := 0; i < 10; i++ {
			p.Spawn(func() {
				count.Add(1)
				p.Spawn(func() {
					count.Add(1)
				})
			})
		}
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), count.Load())
}

// TestRun_ConcurrencyLimit tests that at most n jobs hold slots at once.
func TestRun_ConcurrencyLimit(t *testing.T) {
	var current, peak atomic.Int64
	err := Run(false, 2, func(p *Pool) {
		for i := 0; i < 8; i++ {
			p.Spawn(func() {
				now := current.Add(1)
				for {
					old := peak.Load()
					if now <= old || peak.CompareAndSwap(old, now) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				current.Add(-1)
			})
		}
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

// TestRun_DeterministicFIFO tests that deterministic mode runs jobs in
// submission order.
func TestRun_DeterministicFIFO(t *testing.T) {
	var mu sync.Mutex
	var order []int
	err := Run(true, 8, func(p *Pool) {
		for i := 0; i < 6; i++ {
			p.Spawn(func() {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			})
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
}

// TestSpawnPriority_RunsBeforeNormal tests priority dispatch order.
func TestSpawnPriority_RunsBeforeNormal(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	release := make(chan struct{})
	err := Run(false, 1, func(p *Pool) {
		p.Spawn(func() {
			<-release
			record("blocker")()
		})
		p.Spawn(record("normal"))
		p.SpawnPriority(record("priority"))
		close(release)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"blocker", "priority", "normal"}, order)
}

// TestExitReenter_FreesSlot tests that a job giving up its slot lets
// queued work run, and the job continues after Reenter.
func TestExitReenter_FreesSlot(t *testing.T) {
	var mu sync.Mutex
	var order []string
	otherDone := make(chan struct{})

	err := Run(false, 1, func(p *Pool) {
		p.Spawn(func() {
			mu.Lock()
			order = append(order, "first:start")
			mu.Unlock()

			p.Spawn(func() {
				mu.Lock()
				order = append(order, "second")
				mu.Unlock()
				close(otherDone)
			})

			p.Exit()
			<-otherDone
			p.Reenter(false)

			mu.Lock()
			order = append(order, "first:resume")
			mu.Unlock()
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first:start", "second", "first:resume"}, order)
}

// TestIncrease_TemporarilyRaisesLimit tests that an increased pool admits
// one extra concurrent job until released.
func TestIncrease_TemporarilyRaisesLimit(t *testing.T) {
	secondRan := make(chan struct{})
	err := Run(false, 1, func(p *Pool) {
		release := p.Increase()
		p.Spawn(func() {
			// Holds the original slot until the second job proves the
			// raised limit admitted it.
			<-secondRan
			release()
		})
		p.Spawn(func() {
			close(secondRan)
		})
	})
	require.NoError(t, err)
}

// TestTerminate_ReturnsFirstError tests error recording and drain.
func TestTerminate_ReturnsFirstError(t *testing.T) {
	errBoom := errors.New("boom")
	var ran atomic.Int64
	err := Run(false, 2, func(p *Pool) {
		p.Spawn(func() {
			p.Terminate(errBoom)
			p.Terminate(errors.New("later"))
		})
		p.Spawn(func() {
			ran.Add(1)
		})
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, int64(1), ran.Load(), "queued jobs still drain after Terminate")
}

// TestTerminated_Flag tests the advisory flag.
func TestTerminated_Flag(t *testing.T) {
	_ = Run(false, 1, func(p *Pool) {
		assert.False(t, p.Terminated())
		p.Terminate(errors.New("x"))
		assert.True(t, p.Terminated())
	})
}
