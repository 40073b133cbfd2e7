package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cozmonaut/cozmonaut/internal/monitoring"
	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/testutil"
	"github.com/cozmonaut/cozmonaut/internal/vision"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func frame(seq uint64) robot.Frame {
	return robot.Frame{Seq: seq, Width: 1, Height: 1, Data: []byte{0, 0, 0}}
}

func track(seq uint64) vision.Track {
	return vision.Track{Number: int(seq), Kind: vision.KindMove, FrameSeq: seq}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func isWaiting(tr *Tracker) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.waiting
}

func TestTracker_DeliversInCompletionOrder(t *testing.T) {
	det := testutil.NewFakeDetector()
	tr := New(1, det, Options{MaxInFlight: 2})
	defer tr.Close()

	tr.PushFrame(frame(1)) // A
	tr.PushFrame(frame(2)) // B
	require.Equal(t, []uint64{1, 2}, det.Pending())

	require.True(t, det.Complete(2, track(2)))
	require.True(t, det.Complete(1, track(1)))

	ctx := waitCtx(t)
	first, err := tr.WaitForNewTrack(ctx)
	require.NoError(t, err)
	second, err := tr.WaitForNewTrack(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), first.FrameSeq, "B finished first so it is delivered first")
	assert.Equal(t, uint64(1), second.FrameSeq)
}

func TestTracker_WaiterWokenByCompletion(t *testing.T) {
	det := testutil.NewFakeDetector()
	tr := New(1, det, Options{})
	defer tr.Close()

	got := make(chan vision.Track, 1)
	go func() {
		tk, err := tr.WaitForNewTrack(context.Background())
		if err == nil {
			got <- tk
		}
	}()
	require.Eventually(t, func() bool { return isWaiting(tr) }, time.Second, time.Millisecond)

	tr.PushFrame(frame(7))
	det.Complete(7, track(7), track(7))

	select {
	case tk := <-got:
		assert.Equal(t, uint64(7), tk.FrameSeq)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken")
	}
	assert.Equal(t, 1, tr.Stats().Pending)
}

func TestTracker_LatestOnlyReplacesParkedFrame(t *testing.T) {
	det := testutil.NewFakeDetector()
	tr := New(1, det, Options{})
	defer tr.Close()

	tr.PushFrame(frame(1))
	tr.PushFrame(frame(2))
	tr.PushFrame(frame(3))
	assert.Equal(t, []uint64{1}, det.Pending(), "one detection in flight by default")

	det.Complete(1)
	assert.Equal(t, []uint64{3}, det.Pending(), "frame 2 was superseded by frame 3")

	det.Complete(3)
	s := tr.Stats()
	assert.Equal(t, uint64(3), s.FramesPushed)
	assert.Equal(t, uint64(2), s.FramesSubmitted)
	assert.Equal(t, uint64(1), s.FramesDropped)
	assert.Zero(t, s.InFlight)
}

func TestTracker_QueuePolicy(t *testing.T) {
	det := testutil.NewFakeDetector()
	tr := New(1, det, Options{Policy: Queue, MaxPendingFrames: 2})
	defer tr.Close()

	for seq := uint64(1); seq <= 4; seq++ {
		tr.PushFrame(frame(seq))
	}
	det.Complete(1)
	det.Complete(3)
	det.Complete(4)

	var seqs []uint64
	for _, f := range det.Submitted() {
		seqs = append(seqs, f.Seq)
	}
	assert.Equal(t, []uint64{1, 3, 4}, seqs)
	assert.Equal(t, uint64(1), tr.Stats().FramesDropped)
}

func TestTracker_CloseReleasesWaiter(t *testing.T) {
	tr := New(7, testutil.NewFakeDetector(), Options{})

	errc := make(chan error, 1)
	go func() {
		_, err := tr.WaitForNewTrack(context.Background())
		errc <- err
	}()
	require.Eventually(t, func() bool { return isWaiting(tr) }, time.Second, time.Millisecond)

	require.NoError(t, tr.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter still suspended after Close")
	}

	require.NoError(t, tr.Close())
	_, err := tr.WaitForNewTrack(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	select {
	case <-tr.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestTracker_LateCompletionDiscarded(t *testing.T) {
	det := testutil.NewFakeDetector()
	tr := New(1, det, Options{})

	tr.PushFrame(frame(1))
	require.NoError(t, tr.Close())
	require.True(t, det.Complete(1, track(1)))

	tr.PushFrame(frame(2))
	assert.Len(t, det.Submitted(), 1)
	assert.Zero(t, tr.Stats().Pending)
}

func TestTracker_ConcurrentWaitRejected(t *testing.T) {
	tr := New(1, testutil.NewFakeDetector(), Options{})
	defer tr.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := tr.WaitForNewTrack(context.Background())
		errc <- err
	}()
	require.Eventually(t, func() bool { return isWaiting(tr) }, time.Second, time.Millisecond)

	_, err := tr.WaitForNewTrack(context.Background())
	assert.ErrorIs(t, err, ErrConcurrentWait)

	tr.Close()
	assert.ErrorIs(t, <-errc, ErrClosed)
}

func TestTracker_ContextCancelled(t *testing.T) {
	tr := New(1, testutil.NewFakeDetector(), Options{})
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := tr.WaitForNewTrack(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, isWaiting(tr), "waiter slot must be freed")
}

func TestTracker_DetectionErrors(t *testing.T) {
	det := testutil.NewFakeDetector()
	tr := New(1, det, Options{})
	defer tr.Close()

	tr.PushFrame(frame(1))
	tr.PushFrame(frame(2))
	det.Fail(1, errors.New("lens cap on"))
	det.Complete(2, track(2))

	s := tr.Stats()
	assert.Equal(t, uint64(1), s.DetectionErrors)
	assert.Equal(t, 1, s.Pending)
}

func TestTracker_TrackQueueBounded(t *testing.T) {
	det := testutil.NewFakeDetector()
	tr := New(1, det, Options{MaxPendingTracks: 2})
	defer tr.Close()

	tr.PushFrame(frame(1))
	det.Complete(1, track(1), track(2), track(3))

	tk, err := tr.WaitForNewTrack(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tk.FrameSeq)
	assert.Equal(t, uint64(1), tr.Stats().TracksDropped)
}

func TestTracker_ConcurrentProducers(t *testing.T) {
	det := vision.NewAsync(func(ctx context.Context, f robot.Frame) ([]vision.Track, error) {
		return []vision.Track{track(f.Seq)}, nil
	}, 4)
	defer det.Close()
	tr := New(1, det, Options{Policy: Queue, MaxPendingFrames: 1000, MaxInFlight: 4})

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				tr.PushFrame(frame(uint64(p*1000 + i + 1)))
			}
		}(p)
	}
	wg.Wait()

	ctx := waitCtx(t)
	for i := 0; i < 200; i++ {
		_, err := tr.WaitForNewTrack(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, tr.Close())
	assert.Equal(t, uint64(200), tr.Stats().TracksDelivered)
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, "latest-only", LatestOnly.String())
	assert.Equal(t, "queue", Queue.String())
}
