// Package registry maps connected robots to their Monitor and Tracker.
package registry

import (
	"context"
	"slices"
	"sync"

	"github.com/cozmonaut/cozmonaut/internal/monitor"
	"github.com/cozmonaut/cozmonaut/internal/monitoring"
	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/tracker"
	"github.com/cozmonaut/cozmonaut/internal/vision"
)

// DetectorFactory builds the vision detector for a newly added robot.
type DetectorFactory func(id robot.ID) vision.Detector

// Options configures how Monitors and Trackers are built.
type Options struct {
	Monitor  monitor.Options
	Tracker  tracker.Options
	Detector DetectorFactory
}

type entry struct {
	monitor *monitor.Monitor
	tracker *tracker.Tracker
}

// Registry is the single authority on which robots are connected. An entry
// always holds both a Monitor and a Tracker.
type Registry struct {
	opts Options

	mu      sync.RWMutex
	entries map[robot.ID]*entry
}

// New returns an empty Registry.
func New(opts Options) *Registry {
	return &Registry{
		opts:    opts,
		entries: make(map[robot.ID]*entry),
	}
}

// AddRobot creates the Monitor and Tracker for id if it is not registered.
// It reports whether a new entry was created.
func (r *Registry) AddRobot(id robot.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return false
	}

	var det vision.Detector
	if r.opts.Detector != nil {
		det = r.opts.Detector(id)
	}
	if det == nil {
		det = noDetector{}
	}
	r.entries[id] = &entry{
		monitor: monitor.New(id, r.opts.Monitor),
		tracker: tracker.New(id, det, r.opts.Tracker),
	}
	monitoring.Logf("[registry] added %s", id)
	return true
}

// GetMonitor returns the Monitor for id.
func (r *Registry) GetMonitor(id robot.ID) (*monitor.Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.monitor, true
}

// GetTracker returns the Tracker for id.
func (r *Registry) GetTracker(id robot.ID) (*tracker.Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.tracker, true
}

// RemoveRobot drops id and closes its Tracker, which releases a pending
// WaitForNewTrack with tracker.ErrClosed. It reports whether id was present.
func (r *Registry) RemoveRobot(id robot.ID) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return false
	}

	e.tracker.Close()
	monitoring.Logf("[registry] removed %s", id)
	return true
}

// IDs returns the registered robots in ascending order.
func (r *Registry) IDs() []robot.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idsLocked()
}

func (r *Registry) idsLocked() []robot.ID {
	ids := make([]robot.ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered robots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// noDetector reports every frame with no tracks. It backs robots added
// without a detector factory.
type noDetector struct{}

func (noDetector) Submit(_ context.Context, f robot.Frame, report func(vision.Result)) {
	report(vision.Result{FrameSeq: f.Seq})
}
