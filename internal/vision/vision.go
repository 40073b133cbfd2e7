// Package vision defines the detection capability consumed by the tracker and
// the track events it produces.
package vision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cozmonaut/cozmonaut/internal/robot"
)

// Kind is the kind of change a track event reports.
type Kind string

const (
	KindAcquire  Kind = "acquire"  // Face entered the frame
	KindMove     Kind = "move"     // Tracked face moved
	KindLose     Kind = "lose"     // Face left the frame
	KindIdentity Kind = "identity" // Face was recognised as a known friend
)

// BBox is a bounding box in frame pixel coordinates.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Track is one immutable detection event.
type Track struct {
	ID     uuid.UUID `json:"id"`
	Number int       `json:"number"`
	Kind   Kind      `json:"kind"`
	BBox   BBox      `json:"bbox"`

	// Registration is the friend ID for identity events, zero otherwise.
	Registration int64   `json:"registration,omitempty"`
	Confidence   float64 `json:"confidence"`

	FrameSeq   uint64    `json:"frame_seq"`
	DetectedAt time.Time `json:"detected_at"`
}

func (t Track) String() string {
	return fmt.Sprintf("track %d %s at (%d,%d %dx%d)", t.Number, t.Kind, t.BBox.X, t.BBox.Y, t.BBox.W, t.BBox.H)
}

// Result is the outcome of detecting one frame. Tracks may be empty.
type Result struct {
	FrameSeq uint64
	Tracks   []Track
	Err      error
}

// Detector runs detection asynchronously. Submit returns promptly; report is
// called exactly once per submitted frame, from any goroutine, and results
// for different frames may be reported in any order.
type Detector interface {
	Submit(ctx context.Context, frame robot.Frame, report func(Result))
}

// DetectFunc is a synchronous detector.
type DetectFunc func(ctx context.Context, frame robot.Frame) ([]Track, error)
