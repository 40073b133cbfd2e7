package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/tracker"
)

// recoverLoop turns a panic into Failed and marks the loop Stopped. Every loop
// defers it.
func (s *Supervisor) recoverLoop(sess *session, loop Loop) {
	if p := recover(); p != nil {
		sess.exit(loop, Failed, fmt.Errorf("panic: %v", p))
		sess.logf("%s panicked: %v", loop, p)
	}
	sess.set(loop, Stopped)
}

// runFrameFeeder pushes every camera frame into the robot's Tracker. The
// subscription is revoked on exit.
func (s *Supervisor) runFrameFeeder(ctx context.Context, sess *session, r robot.Robot) {
	defer s.recoverLoop(sess, LoopFrameFeeder)

	tr, ok := s.reg.GetTracker(sess.id)
	if !ok {
		sess.logf("no tracker, frame feeder not started")
		return
	}
	removed := tr.Done()

	subID, frames := r.SubscribeFrames()
	defer r.UnsubscribeFrames(subID)
	sess.set(LoopFrameFeeder, Polling)

	for {
		select {
		case <-ctx.Done():
			sess.exit(LoopFrameFeeder, Cancelled, nil)
			return
		case <-removed:
			sess.exit(LoopFrameFeeder, Cancelled, nil)
			return
		case f, ok := <-frames:
			if !ok {
				sess.logf("camera stream closed")
				sess.exit(LoopFrameFeeder, Cancelled, nil)
				return
			}
			if !f.Valid() {
				sess.logf("dropping malformed frame %d", f.Seq)
				continue
			}
			tr, ok := s.reg.GetTracker(sess.id)
			if !ok {
				sess.exit(LoopFrameFeeder, Cancelled, nil)
				return
			}
			tr.PushFrame(f)
			sess.tick(LoopFrameFeeder)
		}
	}
}

// runTrackConsumer hands each track to the sink until the Tracker is closed.
func (s *Supervisor) runTrackConsumer(ctx context.Context, sess *session) {
	defer s.recoverLoop(sess, LoopTrackConsumer)

	tr, ok := s.reg.GetTracker(sess.id)
	if !ok {
		sess.logf("no tracker, track consumer not started")
		return
	}
	sess.set(LoopTrackConsumer, Polling)

	for {
		t, err := tr.WaitForNewTrack(ctx)
		switch {
		case errors.Is(err, tracker.ErrClosed), ctx.Err() != nil:
			sess.exit(LoopTrackConsumer, Cancelled, nil)
			return
		case err != nil:
			sess.exit(LoopTrackConsumer, Failed, err)
			sess.logf("track consumer failed: %v", err)
			return
		}
		s.sink.HandleTrack(sess.id, t)
		sess.tick(LoopTrackConsumer)
	}
}
