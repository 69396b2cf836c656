package timeutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestRealClock_NowAndSince(t *testing.T) {
	t.Parallel()
	c := RealClock{}
	before := time.Now()
	now := c.Now()
	assert.False(t, now.Before(before))
	assert.GreaterOrEqual(t, c.Since(before.Add(-time.Second)), time.Second)
}

func TestRealClock_Timer(t *testing.T) {
	t.Parallel()
	timer := RealClock{}.NewTimer(5 * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestMockClock_SleepAdvances(t *testing.T) {
	t.Parallel()
	c := NewMockClock(epoch)
	c.Sleep(2 * time.Second)
	c.Sleep(0)
	c.Sleep(-time.Second)
	c.Sleep(500 * time.Millisecond)

	assert.Equal(t, []time.Duration{2 * time.Second, 500 * time.Millisecond}, c.Sleeps())
	assert.Equal(t, 2500*time.Millisecond, c.TotalSlept())
	assert.Equal(t, epoch.Add(2500*time.Millisecond), c.Now())
	assert.Equal(t, 2500*time.Millisecond, c.Since(epoch))
}

func TestMockClock_TimerFiresOnAdvance(t *testing.T) {
	t.Parallel()
	c := NewMockClock(epoch)
	timer := c.NewTimer(time.Minute)

	c.Advance(30 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("fired early")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case got := <-timer.C():
		assert.Equal(t, epoch.Add(time.Minute), got)
	default:
		t.Fatal("timer did not fire")
	}
	assert.False(t, timer.Stop())
}

func TestMockClock_StoppedTimerDoesNotFire(t *testing.T) {
	t.Parallel()
	c := NewMockClock(epoch)
	timer := c.NewTimer(time.Second)
	assert.True(t, timer.Stop())
	c.Advance(time.Hour)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestSleepContext(t *testing.T) {
	t.Parallel()

	t.Run("mock clock advances", func(t *testing.T) {
		t.Parallel()
		c := NewMockClock(epoch)
		require.NoError(t, SleepContext(context.Background(), c, 2*time.Second))
		assert.Equal(t, []time.Duration{2 * time.Second}, c.Sleeps())
	})

	t.Run("cancelled context returns early", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		start := time.Now()
		err := SleepContext(ctx, RealClock{}, time.Hour)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("real clock waits", func(t *testing.T) {
		t.Parallel()
		start := time.Now()
		require.NoError(t, SleepContext(context.Background(), RealClock{}, 10*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	})
}
