package supervisor

import (
	"sync"

	"github.com/cozmonaut/cozmonaut/internal/monitoring"
	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/vision"
)

// TrackSink receives every track a robot's consumer dequeues. Calls for one
// robot are sequential; calls for different robots may be concurrent.
type TrackSink interface {
	HandleTrack(id robot.ID, t vision.Track)
}

// TrackSinkFunc adapts a function to TrackSink.
type TrackSinkFunc func(id robot.ID, t vision.Track)

func (f TrackSinkFunc) HandleTrack(id robot.ID, t vision.Track) { f(id, t) }

// LogSink logs each track.
type LogSink struct{}

func (LogSink) HandleTrack(id robot.ID, t vision.Track) {
	monitoring.Logf("%s %v (confidence %.2f)", monitoring.RobotPrefix(int64(id)), t, t.Confidence)
}

// MultiSink fans a track out to several sinks in order.
func MultiSink(sinks ...TrackSink) TrackSink {
	return TrackSinkFunc(func(id robot.ID, t vision.Track) {
		for _, s := range sinks {
			s.HandleTrack(id, t)
		}
	})
}

// RecentTracks keeps the last N tracks per robot for the HTTP API.
type RecentTracks struct {
	size int

	mu     sync.Mutex
	tracks map[robot.ID][]vision.Track
}

// NewRecentTracks returns a RecentTracks holding up to size tracks per robot.
func NewRecentTracks(size int) *RecentTracks {
	if size <= 0 {
		size = 100
	}
	return &RecentTracks{size: size, tracks: make(map[robot.ID][]vision.Track)}
}

func (r *RecentTracks) HandleTrack(id robot.ID, t vision.Track) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := append(r.tracks[id], t)
	if len(buf) > r.size {
		buf = buf[len(buf)-r.size:]
	}
	r.tracks[id] = buf
}

// Recent returns up to limit of the newest tracks for id, oldest first. A
// limit of zero or less returns all of them.
func (r *RecentTracks) Recent(id robot.ID, limit int) []vision.Track {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := r.tracks[id]
	if limit > 0 && len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	return append([]vision.Track(nil), buf...)
}

// Forget drops the tracks kept for id.
func (r *RecentTracks) Forget(id robot.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tracks, id)
}
