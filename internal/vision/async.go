package vision

import (
	"context"
	"errors"
	"sync"

	"github.com/cozmonaut/cozmonaut/internal/robot"
)

// ErrDetectorClosed is reported for frames submitted after Close.
var ErrDetectorClosed = errors.New("vision: detector closed")

// Async turns a DetectFunc into a Detector that runs up to Workers detections
// at once. Frames waiting for a worker hold a goroutine each; callers bound
// that with their own in-flight limit.
type Async struct {
	detect DetectFunc
	sem    chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ Detector = (*Async)(nil)

// NewAsync returns an Async detector. workers below 1 means 1.
func NewAsync(detect DetectFunc, workers int) *Async {
	if workers < 1 {
		workers = 1
	}
	return &Async{detect: detect, sem: make(chan struct{}, workers)}
}

// Submit schedules frame for detection.
func (a *Async) Submit(ctx context.Context, frame robot.Frame, report func(Result)) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		report(Result{FrameSeq: frame.Seq, Err: ErrDetectorClosed})
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		select {
		case a.sem <- struct{}{}:
		case <-ctx.Done():
			report(Result{FrameSeq: frame.Seq, Err: ctx.Err()})
			return
		}
		defer func() { <-a.sem }()

		tracks, err := a.detect(ctx, frame)
		report(Result{FrameSeq: frame.Seq, Tracks: tracks, Err: err})
	}()
}

// Close rejects new frames and waits for running detections to report.
func (a *Async) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.wg.Wait()
	return nil
}
