package timeutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func fired(tm Timer) bool {
	select {
	case <-tm.C():
		return true
	default:
		return false
	}
}

func TestRealClock(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	assert.False(t, clock.Now().Before(before))

	timer := clock.NewTimer(10 * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, timer.Reset(time.Hour), "fired timer is not armed")
	assert.True(t, timer.Stop())
}

func TestMockClock_Advance(t *testing.T) {
	clock := NewMockClock(epoch)
	assert.Equal(t, epoch, clock.Now())

	clock.Advance(time.Hour)
	assert.Equal(t, epoch.Add(time.Hour), clock.Now())
}

func TestMockClock_TimerFiresAtDeadline(t *testing.T) {
	clock := NewMockClock(epoch)
	timer := clock.NewTimer(100 * time.Millisecond)
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(99 * time.Millisecond)
	assert.False(t, fired(timer))

	clock.Advance(time.Millisecond)
	assert.True(t, fired(timer))
	assert.Zero(t, clock.Pending(), "fired timers are disarmed")
	assert.False(t, timer.Stop())
}

func TestMockClock_TimerStop(t *testing.T) {
	clock := NewMockClock(epoch)
	timer := clock.NewTimer(time.Second)

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	clock.Advance(time.Hour)
	assert.False(t, fired(timer))
}

func TestMockClock_TimerReset(t *testing.T) {
	clock := NewMockClock(epoch)
	timer := clock.NewTimer(time.Second)

	clock.Advance(500 * time.Millisecond)
	assert.True(t, timer.Reset(time.Second), "reset of an armed timer")

	clock.Advance(600 * time.Millisecond)
	assert.False(t, fired(timer), "deadline moved to 1.5s")
	clock.Advance(400 * time.Millisecond)
	assert.True(t, fired(timer))

	assert.False(t, timer.Reset(time.Second))
	assert.Equal(t, 1, clock.Pending())
}

func TestMockClock_BlockUntil(t *testing.T) {
	clock := NewMockClock(epoch)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-clock.NewTimer(time.Second).C()
		}()
	}

	clock.BlockUntil(3)
	clock.Advance(time.Second)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters were not released by Advance")
	}
	require.Zero(t, clock.Pending())
}
