// Package tracker feeds camera frames to a vision detector and queues the
// resulting track events for a single consumer.
//
// Detections may finish in any order. Each completion appends its tracks to
// the queue when it finishes, so consumers see tracks in completion order,
// not frame order.
package tracker

import (
	"context"
	"errors"
	"sync"

	"github.com/cozmonaut/cozmonaut/internal/monitoring"
	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/vision"
)

var (
	// ErrClosed is returned by WaitForNewTrack once the tracker is closed.
	// It marks the robot as gone, not a failure.
	ErrClosed = errors.New("tracker: closed")

	// ErrConcurrentWait is returned to a second caller of WaitForNewTrack
	// while another call is still waiting.
	ErrConcurrentWait = errors.New("tracker: concurrent WaitForNewTrack")
)

// Policy decides what happens to frames pushed while the detector is busy.
type Policy int

const (
	// LatestOnly keeps one parked frame; a newer frame replaces it.
	LatestOnly Policy = iota
	// Queue parks up to MaxPendingFrames frames, dropping the oldest.
	Queue
)

func (p Policy) String() string {
	switch p {
	case LatestOnly:
		return "latest-only"
	case Queue:
		return "queue"
	}
	return "unknown"
}

const (
	DefaultMaxInFlight      = 1
	DefaultMaxPendingFrames = 8
	DefaultMaxPendingTracks = 256
)

// Options configures a Tracker. Zero values get defaults.
type Options struct {
	Policy           Policy
	MaxPendingFrames int
	MaxInFlight      int
	MaxPendingTracks int
}

func (o Options) withDefaults() Options {
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = DefaultMaxInFlight
	}
	if o.MaxPendingFrames <= 0 {
		o.MaxPendingFrames = DefaultMaxPendingFrames
	}
	if o.Policy == LatestOnly {
		o.MaxPendingFrames = 1
	}
	if o.MaxPendingTracks <= 0 {
		o.MaxPendingTracks = DefaultMaxPendingTracks
	}
	return o
}

// Stats counts what a Tracker has done so far.
type Stats struct {
	FramesPushed    uint64 `json:"frames_pushed"`
	FramesSubmitted uint64 `json:"frames_submitted"`
	FramesDropped   uint64 `json:"frames_dropped"`
	TracksQueued    uint64 `json:"tracks_queued"`
	TracksDelivered uint64 `json:"tracks_delivered"`
	TracksDropped   uint64 `json:"tracks_dropped"`
	DetectionErrors uint64 `json:"detection_errors"`
	InFlight        int    `json:"in_flight"`
	Pending         int    `json:"pending"`
}

// Tracker is the per-robot bridge between the camera and the detector.
type Tracker struct {
	id       robot.ID
	detector vision.Detector
	opts     Options
	logf     func(format string, v ...interface{})

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inFlight int
	parked   []robot.Frame
	tracks   []vision.Track
	waiting  bool
	closed   bool
	width    int
	height   int
	stats    Stats

	wake chan struct{}
	done chan struct{}
}

// New creates the Tracker for robot id on top of detector.
func New(id robot.ID, detector vision.Detector, opts Options) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		id:       id,
		detector: detector,
		opts:     opts.withDefaults(),
		logf:     monitoring.Prefixed(monitoring.RobotPrefix(int64(id))),
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// ID returns the robot this Tracker belongs to.
func (t *Tracker) ID() robot.ID { return t.id }

// PushFrame hands frame to the detector, or parks it if MaxInFlight
// detections are already running. It never blocks and is a no-op once the
// tracker is closed.
func (t *Tracker) PushFrame(frame robot.Frame) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.stats.FramesPushed++
	t.noteSizeLocked(frame)

	if t.inFlight < t.opts.MaxInFlight {
		t.inFlight++
		t.stats.FramesSubmitted++
		t.mu.Unlock()
		t.submit(frame)
		return
	}

	if len(t.parked) >= t.opts.MaxPendingFrames {
		t.parked = t.parked[1:]
		t.stats.FramesDropped++
	}
	t.parked = append(t.parked, frame)
	t.mu.Unlock()
}

func (t *Tracker) noteSizeLocked(frame robot.Frame) {
	if frame.Width == t.width && frame.Height == t.height {
		return
	}
	if t.width == 0 && t.height == 0 {
		t.logf("first frame is %dx%d", frame.Width, frame.Height)
	} else {
		t.logf("frame size changed from %dx%d to %dx%d", t.width, t.height, frame.Width, frame.Height)
	}
	t.width, t.height = frame.Width, frame.Height
}

func (t *Tracker) submit(frame robot.Frame) {
	t.detector.Submit(t.ctx, frame, t.complete)
}

// complete runs once per submitted frame, on whatever goroutine the detector
// reports from.
func (t *Tracker) complete(r vision.Result) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.inFlight--

	if r.Err != nil {
		t.stats.DetectionErrors++
		if !errors.Is(r.Err, context.Canceled) {
			t.logf("detection of frame %d failed: %v", r.FrameSeq, r.Err)
		}
	} else if len(r.Tracks) > 0 {
		t.tracks = append(t.tracks, r.Tracks...)
		t.stats.TracksQueued += uint64(len(r.Tracks))
		if over := len(t.tracks) - t.opts.MaxPendingTracks; over > 0 {
			t.tracks = t.tracks[over:]
			t.stats.TracksDropped += uint64(over)
			t.logf("track queue full, dropped %d oldest", over)
		}
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}

	var next []robot.Frame
	for len(t.parked) > 0 && t.inFlight < t.opts.MaxInFlight {
		next = append(next, t.parked[0])
		t.parked = t.parked[1:]
		t.inFlight++
		t.stats.FramesSubmitted++
	}
	t.mu.Unlock()

	for _, f := range next {
		t.submit(f)
	}
}

// WaitForNewTrack blocks until a track is queued and returns the oldest one.
// It returns ErrClosed when the tracker is closed, including while waiting,
// and ctx.Err() when ctx ends. Only one caller may wait at a time; a second
// concurrent caller gets ErrConcurrentWait.
func (t *Tracker) WaitForNewTrack(ctx context.Context) (vision.Track, error) {
	t.mu.Lock()
	if t.waiting {
		t.mu.Unlock()
		t.logf("BUG: second concurrent WaitForNewTrack rejected")
		return vision.Track{}, ErrConcurrentWait
	}
	t.waiting = true
	defer func() {
		t.mu.Lock()
		t.waiting = false
		t.mu.Unlock()
	}()

	for {
		if t.closed {
			t.mu.Unlock()
			return vision.Track{}, ErrClosed
		}
		if len(t.tracks) > 0 {
			tr := t.tracks[0]
			t.tracks = t.tracks[1:]
			t.stats.TracksDelivered++
			t.mu.Unlock()
			return tr, nil
		}
		t.mu.Unlock()

		select {
		case <-t.wake:
		case <-t.done:
		case <-ctx.Done():
			return vision.Track{}, ctx.Err()
		}
		t.mu.Lock()
	}
}

// Done is closed when the tracker is closed.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// Close releases any waiter with ErrClosed, drops parked frames and queued
// tracks, and cancels running detections. Later completions are discarded.
// Close is idempotent.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	dropped := len(t.tracks)
	t.parked = nil
	t.tracks = nil
	close(t.done)
	t.mu.Unlock()

	t.cancel()
	if dropped > 0 {
		t.logf("tracker closed with %d undelivered tracks", dropped)
	}
	return nil
}

// Stats returns a copy of the counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.InFlight = t.inFlight
	s.Pending = len(t.tracks)
	return s
}
