// Package supervisor runs the per-robot goroutines: one polling loop per
// sensor channel, a frame feeder and a track consumer. Each robot's loops
// share one cancellable context and are isolated from every other robot's.
package supervisor

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/cozmonaut/cozmonaut/internal/monitoring"
	"github.com/cozmonaut/cozmonaut/internal/registry"
	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/timeutil"
)

// ErrAlreadyRunning is returned by StartForRobot when the robot's loops are
// still running.
var ErrAlreadyRunning = errors.New("supervisor: robot already running")

// Options configures a Supervisor.
type Options struct {
	Clock timeutil.Clock
	Sink  TrackSink
}

// Supervisor starts and stops robot sessions against a Registry.
type Supervisor struct {
	reg   *registry.Registry
	clock timeutil.Clock
	sink  TrackSink

	mu       sync.Mutex
	sessions map[robot.ID]*session
	wg       sync.WaitGroup
}

// New returns a Supervisor. A nil Sink logs tracks.
func New(reg *registry.Registry, opts Options) *Supervisor {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Sink == nil {
		opts.Sink = LogSink{}
	}
	return &Supervisor{
		reg:      reg,
		clock:    opts.Clock,
		sink:     opts.Sink,
		sessions: make(map[robot.ID]*session),
	}
}

// StartForRobot registers r and starts its loops. The loops run until ctx is
// cancelled, StopForRobot is called, or the robot is removed from the
// registry.
func (s *Supervisor) StartForRobot(ctx context.Context, r robot.Robot) error {
	id := r.ID()

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.sessions[id]; ok && !old.finished() {
		return ErrAlreadyRunning
	}

	s.reg.AddRobot(id)
	tr, ok := s.reg.GetTracker(id)
	if !ok {
		// Removed between the two calls; nothing to run against.
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	sess := newSession(id, cancel)
	s.sessions[id] = sess

	for _, ch := range channels {
		s.spawn(sess, ch.loop, func() { s.runChannel(ctx, sess, r, ch) })
	}
	s.spawn(sess, LoopFrameFeeder, func() { s.runFrameFeeder(ctx, sess, r) })
	s.spawn(sess, LoopTrackConsumer, func() { s.runTrackConsumer(ctx, sess) })

	// Removing the robot from the registry directly ends the session too.
	go func() {
		select {
		case <-tr.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	go func() {
		sess.wg.Wait()
		cancel()
		close(sess.done)
		sess.logf("all loops stopped")
	}()

	sess.logf("session started")
	return nil
}

func (s *Supervisor) spawn(sess *session, loop Loop, fn func()) {
	sess.set(loop, Starting)
	sess.wg.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sess.wg.Done()
		fn()
	}()
}

// StopForRobot removes the robot from the registry, which releases its track
// consumer, cancels its loops and waits for them to exit. It reports whether
// the robot was registered or running.
func (s *Supervisor) StopForRobot(id robot.ID) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	removed := s.reg.RemoveRobot(id)
	if !ok {
		return removed
	}
	sess.cancel()
	<-sess.done
	return true
}

// StopAll stops every session.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]robot.ID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.StopForRobot(id)
	}
}

// Running returns the robots with at least one live loop.
func (s *Supervisor) Running() []robot.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []robot.ID
	for id, sess := range s.sessions {
		if !sess.finished() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Done returns a channel closed when the robot's loops have all exited, or
// nil if the robot has no session.
func (s *Supervisor) Done(id robot.ID) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess.done
	}
	return nil
}

// States returns the state of each loop of the robot's current or last
// session.
func (s *Supervisor) States(id robot.ID) (map[Loop]State, bool) {
	st, ok := s.Status(id)
	if !ok {
		return nil, false
	}
	out := make(map[Loop]State, len(st))
	for loop, ls := range st {
		out[loop] = ls.State
	}
	return out, true
}

// Status is States with exit reasons and iteration counts.
func (s *Supervisor) Status(id robot.ID) (map[Loop]LoopStatus, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return sess.status(), true
}

// Wait blocks until every loop started by s has exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

type session struct {
	id     robot.ID
	cancel context.CancelFunc
	logf   func(format string, v ...interface{})
	wg     sync.WaitGroup
	done   chan struct{}

	mu    sync.Mutex
	loops map[Loop]*LoopStatus
}

func newSession(id robot.ID, cancel context.CancelFunc) *session {
	return &session{
		id:     id,
		cancel: cancel,
		logf:   monitoring.Prefixed(monitoring.RobotPrefix(int64(id))),
		done:   make(chan struct{}),
		loops:  make(map[Loop]*LoopStatus),
	}
}

func (s *session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) set(loop Loop, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.loops[loop]
	if !ok {
		ls = &LoopStatus{}
		s.loops[loop] = ls
	}
	ls.State = st
}

// exit records why a loop is leaving Polling. The state moves on to Stopped
// when the goroutine returns.
func (s *session) exit(loop Loop, st State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.loops[loop]
	ls.State = st
	ls.Exit = st
	if err != nil {
		ls.Err = err.Error()
	}
}

func (s *session) tick(loop Loop) {
	s.mu.Lock()
	s.loops[loop].Iterations++
	s.mu.Unlock()
}

func (s *session) status() map[Loop]LoopStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Loop]LoopStatus, len(s.loops))
	for loop, ls := range s.loops {
		out[loop] = *ls
	}
	return out
}
