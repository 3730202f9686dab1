package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateRejectsDuplicate(t *testing.T) {
	var tr = NewTracker(0)
	require.NoError(t, tr.Create("u1"))
	require.ErrorIs(t, tr.Create("u1"), ErrExists)
}

func TestUpdateUnknownID(t *testing.T) {
	var tr = NewTracker(0)
	require.ErrorIs(t, tr.Update("ghost", Update{Status: StatusChunking}), ErrUnknown)
}

func TestSubscribeReplaysSnapshotThenStreams(t *testing.T) {
	var tr = NewTracker(0)
	require.NoError(t, tr.Create("u1"))
	require.NoError(t, tr.Update("u1", Update{Status: StatusChunking, Percent: 10, TotalChunks: 4}))

	var sub, err = tr.Subscribe("u1")
	require.NoError(t, err)
	defer sub.Close()

	var snap = <-sub.C
	require.Equal(t, StatusChunking, snap.Status)
	require.Equal(t, 10.0, snap.ProgressPercent)
	require.Equal(t, 4, snap.TotalChunks)

	require.NoError(t, tr.Update("u1", Update{Status: StatusEnriching, Percent: 30, CurrentChunk: 1}))
	var ev = <-sub.C
	require.Equal(t, StatusEnriching, ev.Status)
	require.Equal(t, 30.0, ev.ProgressPercent)
	require.Equal(t, 4, ev.TotalChunks) // Carried from the earlier update.
}

func TestTerminalEventClosesSubscribers(t *testing.T) {
	var tr = NewTracker(0)
	require.NoError(t, tr.Create("u1"))

	var sub, err = tr.Subscribe("u1")
	require.NoError(t, err)
	<-sub.C // Snapshot.

	require.NoError(t, tr.Finish("u1", StatusCompleted, map[string]any{"total_chunks": 7}, ""))

	var ev, ok = <-sub.C
	require.True(t, ok)
	require.Equal(t, StatusCompleted, ev.Status)
	require.Equal(t, 100.0, ev.ProgressPercent)

	_, ok = <-sub.C
	require.False(t, ok)
	require.Equal(t, ReasonDone, sub.Reason())
}

func TestSnapshotOrderedAheadOfConcurrentUpdates(t *testing.T) {
	// Race subscription against a stream of updates: the first event a
	// subscriber sees must be its snapshot, so percents never regress.
	for i := 0; i < 200; i++ {
		var tr = NewTracker(time.Hour)
		require.NoError(t, tr.Create("u1"))
		require.NoError(t, tr.Update("u1", Update{Status: StatusChunking, Percent: 10}))

		var done = make(chan struct{})
		go func() {
			defer close(done)
			for p := 11; p <= 20; p++ {
				_ = tr.Update("u1", Update{Status: StatusChunking, Percent: float64(p)})
			}
		}()

		var sub, err = tr.Subscribe("u1")
		require.NoError(t, err)
		<-done

		var last = -1.0
		sub.Close()
		for ev := range sub.C {
			require.GreaterOrEqual(t, ev.ProgressPercent, last)
			last = ev.ProgressPercent
		}
		require.GreaterOrEqual(t, last, 10.0)
	}
}

func TestNoEventsAfterTerminal(t *testing.T) {
	var tr = NewTracker(0)
	require.NoError(t, tr.Create("u1"))
	require.NoError(t, tr.Finish("u1", StatusFailed, nil, "boom"))
	require.ErrorIs(t, tr.Update("u1", Update{Status: StatusIndexing}), ErrDone)
}

func TestSubscribeAfterTerminalGetsFinalState(t *testing.T) {
	var tr = NewTracker(time.Hour)
	require.NoError(t, tr.Create("u1"))
	require.NoError(t, tr.Update("u1", Update{Status: StatusIndexing, Percent: 95}))
	require.NoError(t, tr.Finish("u1", StatusFailed, nil, "provider down"))

	var sub, err = tr.Subscribe("u1")
	require.NoError(t, err)

	var ev = <-sub.C
	require.Equal(t, StatusFailed, ev.Status)
	require.Equal(t, "provider down", ev.Error)
	require.Equal(t, 95.0, ev.ProgressPercent) // Failure keeps the last percent.

	var _, ok = <-sub.C
	require.False(t, ok)
}

func TestTTLEviction(t *testing.T) {
	var tr = NewTracker(20 * time.Millisecond)
	require.NoError(t, tr.Create("u1"))
	require.NoError(t, tr.Finish("u1", StatusCompleted, nil, ""))

	require.Eventually(t, func() bool {
		var _, err = tr.Get("u1")
		return err == ErrUnknown
	}, time.Second, 5*time.Millisecond)

	var _, err = tr.Subscribe("u1")
	require.ErrorIs(t, err, ErrUnknown)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	var tr = NewTracker(0)
	require.NoError(t, tr.Create("u1"))

	var sub, err = tr.Subscribe("u1")
	require.NoError(t, err)

	// Never read: the snapshot plus buffered updates fill the channel,
	// and the next update drops the subscriber.
	for i := 0; i != subscriberBuffer+2; i++ {
		require.NoError(t, tr.Update("u1", Update{
			Status:  StatusEnriching,
			Percent: float64(i),
		}))
	}

	var deadline = time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				require.Equal(t, ReasonSlow, sub.Reason())
				return
			}
		case <-deadline:
			t.Fatal("subscriber channel never closed")
		}
	}
}

func TestProgressNeverRegresses(t *testing.T) {
	var tr = NewTracker(0)
	require.NoError(t, tr.Create("u1"))
	require.NoError(t, tr.Update("u1", Update{Status: StatusEnriching, Percent: 60}))
	require.NoError(t, tr.Update("u1", Update{Status: StatusIndexing, Percent: 40}))

	var ev, err = tr.Get("u1")
	require.NoError(t, err)
	require.Equal(t, 60.0, ev.ProgressPercent)
}

func TestActiveCountsNonTerminal(t *testing.T) {
	var tr = NewTracker(time.Hour)
	require.NoError(t, tr.Create("a"))
	require.NoError(t, tr.Create("b"))
	require.NoError(t, tr.Finish("b", StatusCompleted, nil, ""))
	require.Equal(t, 1, tr.Active())
}
