package vision

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cozmonaut/cozmonaut/internal/robot"
)

// squareFrame draws a white side x side square at (x, y) on a dark frame.
// side 0 gives an empty frame.
func squareFrame(seq uint64, w, h, x, y, side int) robot.Frame {
	data := make([]byte, 3*w*h)
	for py := y; py < y+side && py < h; py++ {
		for px := x; px < x+side && px < w; px++ {
			i := 3 * (py*w + px)
			data[i], data[i+1], data[i+2] = 255, 255, 255
		}
	}
	return robot.Frame{Seq: seq, Width: w, Height: h, Data: data}
}

func TestBlobDetector_Lifecycle(t *testing.T) {
	d := NewBlobDetector(BlobOptions{IdentifyAfter: 3, FriendID: 42})
	ctx := context.Background()

	got, err := d.Detect(ctx, squareFrame(1, 16, 16, 0, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = d.Detect(ctx, squareFrame(2, 16, 16, 2, 3, 4))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, KindAcquire, got[0].Kind)
	assert.Equal(t, BBox{X: 2, Y: 3, W: 4, H: 4}, got[0].BBox)
	assert.Equal(t, 1, got[0].Number)
	assert.InDelta(t, 1.0, got[0].Confidence, 1e-9)
	assert.NotEqual(t, uuid.Nil, got[0].ID)
	first := got[0].ID

	got, err = d.Detect(ctx, squareFrame(3, 16, 16, 3, 3, 4))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, KindMove, got[0].Kind)
	assert.Equal(t, first, got[0].ID)

	got, err = d.Detect(ctx, squareFrame(4, 16, 16, 4, 3, 4))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, KindIdentity, got[1].Kind)
	assert.Equal(t, int64(42), got[1].Registration)

	got, err = d.Detect(ctx, squareFrame(5, 16, 16, 5, 3, 4))
	require.NoError(t, err)
	require.Len(t, got, 1, "identity is reported once per track")

	got, err = d.Detect(ctx, squareFrame(6, 16, 16, 0, 0, 0))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, KindLose, got[0].Kind)
	assert.Equal(t, uint64(6), got[0].FrameSeq)

	got, err = d.Detect(ctx, squareFrame(7, 16, 16, 1, 1, 4))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Number)
	assert.NotEqual(t, first, got[0].ID)
}

func TestBlobDetector_RejectsMalformedFrame(t *testing.T) {
	d := NewBlobDetector(BlobOptions{})
	_, err := d.Detect(context.Background(), robot.Frame{Seq: 1, Width: 4, Height: 4, Data: []byte{1, 2}})
	assert.Error(t, err)
}

func TestBlobDetector_LatencyHonoursContext(t *testing.T) {
	d := NewBlobDetector(BlobOptions{MaxLatency: time.Hour, Seed: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Detect(ctx, squareFrame(1, 8, 8, 0, 0, 2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAsync_ReportsEveryFrame(t *testing.T) {
	var running, peak atomic.Int32
	a := NewAsync(func(ctx context.Context, f robot.Frame) ([]Track, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return []Track{{FrameSeq: f.Seq}}, nil
	}, 2)

	var mu sync.Mutex
	seen := map[uint64]bool{}
	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		a.Submit(context.Background(), robot.Frame{Seq: uint64(i)}, func(r Result) {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			assert.NoError(t, r.Err)
			assert.Len(t, r.Tracks, 1)
			seen[r.FrameSeq] = true
		})
	}
	wg.Wait()
	require.NoError(t, a.Close())

	assert.Len(t, seen, 10)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestAsync_SubmitAfterClose(t *testing.T) {
	a := NewAsync(func(context.Context, robot.Frame) ([]Track, error) { return nil, nil }, 1)
	require.NoError(t, a.Close())

	var got Result
	a.Submit(context.Background(), robot.Frame{Seq: 3}, func(r Result) { got = r })
	assert.ErrorIs(t, got.Err, ErrDetectorClosed)
	assert.Equal(t, uint64(3), got.FrameSeq)
}

func TestAsync_CancelledWhileQueued(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	a := NewAsync(func(context.Context, robot.Frame) ([]Track, error) {
		close(started)
		<-release
		return nil, nil
	}, 1)

	done := make(chan Result, 2)
	a.Submit(context.Background(), robot.Frame{Seq: 1}, func(r Result) { done <- r })
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	a.Submit(ctx, robot.Frame{Seq: 2}, func(r Result) { done <- r })
	cancel()

	r := <-done
	assert.Equal(t, uint64(2), r.FrameSeq)
	assert.ErrorIs(t, r.Err, context.Canceled)

	close(release)
	r = <-done
	assert.Equal(t, uint64(1), r.FrameSeq)
	assert.NoError(t, r.Err)
	require.NoError(t, a.Close())
}
