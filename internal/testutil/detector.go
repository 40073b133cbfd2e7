package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/vision"
)

// FakeDetector is a vision.Detector whose detections finish only when the test
// says so, in whatever order the test chooses. If Auto is set, every frame
// completes immediately with Auto's tracks instead.
type FakeDetector struct {
	Auto func(robot.Frame) []vision.Track

	mu        sync.Mutex
	pending   map[uint64]func(vision.Result)
	submitted []robot.Frame
}

var _ vision.Detector = (*FakeDetector)(nil)

func NewFakeDetector() *FakeDetector {
	return &FakeDetector{pending: make(map[uint64]func(vision.Result))}
}

func (d *FakeDetector) Submit(ctx context.Context, frame robot.Frame, report func(vision.Result)) {
	d.mu.Lock()
	d.submitted = append(d.submitted, frame)
	auto := d.Auto
	if auto == nil {
		d.pending[frame.Seq] = report
	}
	d.mu.Unlock()

	if auto != nil {
		report(vision.Result{FrameSeq: frame.Seq, Tracks: auto(frame)})
	}
}

// Submitted returns the frames submitted so far, in submission order.
func (d *FakeDetector) Submitted() []robot.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]robot.Frame(nil), d.submitted...)
}

// Pending returns the sequence numbers of detections still running.
func (d *FakeDetector) Pending() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint64, 0, len(d.pending))
	for seq := range d.pending {
		out = append(out, seq)
	}
	slices.Sort(out)
	return out
}

// Complete finishes the detection of frame seq with tracks. It reports false
// if no such detection is running.
func (d *FakeDetector) Complete(seq uint64, tracks ...vision.Track) bool {
	return d.finish(vision.Result{FrameSeq: seq, Tracks: tracks})
}

// Fail finishes the detection of frame seq with err.
func (d *FakeDetector) Fail(seq uint64, err error) bool {
	return d.finish(vision.Result{FrameSeq: seq, Err: err})
}

func (d *FakeDetector) finish(r vision.Result) bool {
	d.mu.Lock()
	report, ok := d.pending[r.FrameSeq]
	delete(d.pending, r.FrameSeq)
	d.mu.Unlock()
	if ok {
		report(r)
	}
	return ok
}
