package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnderBudgetAdmitsImmediately(t *testing.T) {
	var l = New(10)
	for i := 0; i != 10; i++ {
		require.Zero(t, l.Request("embeddings"))
	}
}

func TestOverBudgetDelaysAtMinDelayPacing(t *testing.T) {
	var l = New(10)
	for i := 0; i != 10; i++ {
		require.Zero(t, l.Request("embeddings"))
	}

	// The 11th immediate request is paced out by minDelay (6.6s for 10 RPM)
	// plus bounded jitter.
	var delay = l.Request("chat")
	require.GreaterOrEqual(t, delay.Seconds(), 5.5)
	require.LessOrEqual(t, delay.Seconds(), 6.7)

	// Further requests queue behind the prior reservation.
	var next = l.Request("chat")
	require.Greater(t, next, delay)
}

func TestRollingWindowCap(t *testing.T) {
	var now = time.Unix(1000, 0)
	var l = New(5)
	l.now = func() time.Time { return now }

	// Admissions (delay == 0) within any rolling window never exceed maxRPM.
	var admitted []time.Time
	for i := 0; i != 40; i++ {
		if d := l.Request("svc"); d == 0 {
			admitted = append(admitted, now)
		}
		now = now.Add(3 * time.Second)
	}
	require.NotEmpty(t, admitted)

	for i := range admitted {
		var count = 0
		for j := i; j < len(admitted) && admitted[j].Sub(admitted[i]) < Window; j++ {
			count++
		}
		require.LessOrEqual(t, count, 5)
	}
}

func TestWindowExpiryFreesBudget(t *testing.T) {
	var now = time.Unix(2000, 0)
	var l = New(3)
	l.now = func() time.Time { return now }

	require.Zero(t, l.Request("a"))
	require.Zero(t, l.Request("a"))
	require.Zero(t, l.Request("a"))
	require.NotZero(t, l.Request("a"))

	// After the window passes, old entries are trimmed and budget returns.
	now = now.Add(2 * Window)
	require.Zero(t, l.Request("a"))
}

func TestStats(t *testing.T) {
	var l = New(10)
	require.Zero(t, l.Request("openai_embeddings"))
	require.Zero(t, l.Request("openai_embeddings"))
	require.Zero(t, l.Request("openai_chat"))

	var stats = l.Stats()
	require.Equal(t, 3, stats.Global.CurrentRPM)
	require.Equal(t, 10, stats.Global.MaxRPM)
	require.InDelta(t, 30.0, stats.Global.UtilizationPercent, 0.01)
	require.InDelta(t, 6.6, stats.Global.MinDelaySeconds, 0.01)
	require.Equal(t, 2, stats.Services["openai_embeddings"].CurrentRPM)
	require.Equal(t, 1, stats.Services["openai_chat"].CurrentRPM)
}

func TestStatsExcludesFutureReservations(t *testing.T) {
	var l = New(2)
	require.Zero(t, l.Request("a"))
	require.Zero(t, l.Request("a"))
	require.NotZero(t, l.Request("a")) // Reserved in the future.

	var stats = l.Stats()
	require.Equal(t, 2, stats.Global.CurrentRPM)
}

func TestConcurrentRequestAndStats(t *testing.T) {
	var l = New(1000)
	var wg sync.WaitGroup

	for i := 0; i != 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j != 100; j++ {
				l.Request("svc")
				l.Stats()
			}
		}()
	}
	wg.Wait()

	var stats = l.Stats()
	require.LessOrEqual(t, stats.Global.CurrentRPM, 1000)
}

func TestWaitHonoursContext(t *testing.T) {
	var l = New(1)
	require.NoError(t, l.Wait(context.Background(), "a"))

	var ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var err = l.Wait(ctx, "a") // Must sleep; context expires first.
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
