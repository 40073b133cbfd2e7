package vision

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cozmonaut/cozmonaut/internal/robot"
)

// BlobOptions configures BlobDetector.
type BlobOptions struct {
	Threshold     byte          // Minimum channel value for a pixel to count as bright (default 200)
	MinPixels     int           // Bright pixels needed to report a face (default 4)
	IdentifyAfter int           // Consecutive sightings before an identity event (default 5)
	FriendID      int64         // Registration reported on identity events; zero disables them
	MaxLatency    time.Duration // Upper bound of the random detection delay
	Seed          uint64
}

// BlobDetector is a stand-in face detector used in simulation. It treats the
// bounding box of bright pixels as a single face and follows it from frame to
// frame, producing the same acquire, move, lose and identity events a real
// detector would.
type BlobDetector struct {
	opts BlobOptions

	mu         sync.Mutex
	rng        *rand.Rand
	active     bool
	trackID    uuid.UUID
	number     int
	seen       int
	identified bool
}

// NewBlobDetector returns a BlobDetector with defaults applied.
func NewBlobDetector(opts BlobOptions) *BlobDetector {
	if opts.Threshold == 0 {
		opts.Threshold = 200
	}
	if opts.MinPixels <= 0 {
		opts.MinPixels = 4
	}
	if opts.IdentifyAfter <= 0 {
		opts.IdentifyAfter = 5
	}
	return &BlobDetector{
		opts: opts,
		rng:  rand.New(rand.NewPCG(opts.Seed, opts.Seed+1)),
	}
}

// Detect implements DetectFunc.
func (b *BlobDetector) Detect(ctx context.Context, frame robot.Frame) ([]Track, error) {
	if !frame.Valid() {
		return nil, fmt.Errorf("frame %d: %dx%d with %d bytes is not RGB8", frame.Seq, frame.Width, frame.Height, len(frame.Data))
	}
	if err := b.delay(ctx); err != nil {
		return nil, err
	}

	box, lit, found := b.brightBox(frame)
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	mk := func(kind Kind, conf float64) Track {
		return Track{
			ID:         b.trackID,
			Number:     b.number,
			Kind:       kind,
			BBox:       box,
			Confidence: conf,
			FrameSeq:   frame.Seq,
			DetectedAt: now,
		}
	}

	switch {
	case found && !b.active:
		b.active = true
		b.trackID = uuid.New()
		b.number++
		b.seen = 1
		b.identified = false
		return []Track{mk(KindAcquire, fill(box, lit))}, nil

	case found:
		b.seen++
		out := []Track{mk(KindMove, fill(box, lit))}
		if !b.identified && b.opts.FriendID != 0 && b.seen >= b.opts.IdentifyAfter {
			b.identified = true
			id := mk(KindIdentity, 0.9)
			id.Registration = b.opts.FriendID
			out = append(out, id)
		}
		return out, nil

	case b.active:
		b.active = false
		return []Track{mk(KindLose, 0)}, nil
	}
	return nil, nil
}

func (b *BlobDetector) delay(ctx context.Context) error {
	if b.opts.MaxLatency <= 0 {
		return ctx.Err()
	}
	b.mu.Lock()
	d := time.Duration(b.rng.Int64N(int64(b.opts.MaxLatency)))
	b.mu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *BlobDetector) brightBox(frame robot.Frame) (BBox, int, bool) {
	minX, minY := frame.Width, frame.Height
	maxX, maxY := -1, -1
	lit := 0
	for y := 0; y < frame.Height; y++ {
		row := frame.Data[3*y*frame.Width:]
		for x := 0; x < frame.Width; x++ {
			p := row[3*x : 3*x+3]
			if p[0] < b.opts.Threshold || p[1] < b.opts.Threshold || p[2] < b.opts.Threshold {
				continue
			}
			lit++
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if lit < b.opts.MinPixels {
		return BBox{}, lit, false
	}
	return BBox{X: minX, Y: minY, W: maxX - minX + 1, H: maxY - minY + 1}, lit, true
}

func fill(box BBox, lit int) float64 {
	area := box.W * box.H
	if area == 0 {
		return 0
	}
	return float64(lit) / float64(area)
}
