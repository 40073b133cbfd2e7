package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cozmonaut/cozmonaut/internal/monitor"
	"github.com/cozmonaut/cozmonaut/internal/robot"
)

// channel describes one sensor polling loop. read queries the robot and
// returns the push to apply to the Monitor; a nil push means there was
// nothing new to record.
type channel struct {
	loop  Loop
	delay func(*monitor.Monitor) time.Duration
	read  func(robot.Robot) (func(*monitor.Monitor), error)
}

var channels = []channel{
	{
		loop:  LoopBattery,
		delay: (*monitor.Monitor).DelayBattery,
		read: func(r robot.Robot) (func(*monitor.Monitor), error) {
			v, err := r.BatteryVoltage()
			if err != nil {
				return nil, err
			}
			return func(m *monitor.Monitor) { m.PushBattery(v) }, nil
		},
	},
	{
		loop:  LoopIMU,
		delay: (*monitor.Monitor).DelayIMU,
		read:  readIMU,
	},
	{
		loop:  LoopWheelSpeeds,
		delay: (*monitor.Monitor).DelayWheelSpeeds,
		read: func(r robot.Robot) (func(*monitor.Monitor), error) {
			left, right, err := r.WheelSpeeds()
			if err != nil {
				return nil, err
			}
			return func(m *monitor.Monitor) { m.PushWheelSpeeds(left, right) }, nil
		},
	},
}

// readIMU reads both halves of the IMU. Either half may still be missing; the
// other is pushed on its own.
func readIMU(r robot.Robot) (func(*monitor.Monitor), error) {
	accel, aerr := r.Accelerometer()
	if aerr != nil && !errors.Is(aerr, robot.ErrNoReading) {
		return nil, fmt.Errorf("accelerometer: %w", aerr)
	}
	gyro, gerr := r.Gyro()
	if gerr != nil && !errors.Is(gerr, robot.ErrNoReading) {
		return nil, fmt.Errorf("gyro: %w", gerr)
	}
	if aerr != nil && gerr != nil {
		return nil, robot.ErrNoReading
	}
	return func(m *monitor.Monitor) {
		if aerr == nil {
			m.PushAccelerometer(accel.X, accel.Y, accel.Z)
		}
		if gerr == nil {
			m.PushGyroscope(gyro.X, gyro.Y, gyro.Z)
		}
	}, nil
}

// runChannel polls one sensor channel until ctx ends, the robot leaves the
// registry, the robot hangs up, or the robot returns an error other than
// robot.ErrNoReading.
func (s *Supervisor) runChannel(ctx context.Context, sess *session, r robot.Robot, ch channel) {
	defer s.recoverLoop(sess, ch.loop)

	if _, ok := s.reg.GetMonitor(sess.id); !ok {
		sess.logf("no monitor, %s loop not started", ch.loop)
		return
	}
	sess.set(ch.loop, Polling)

	for {
		push, err := ch.read(r)
		if errors.Is(err, robot.ErrClosed) {
			sess.exit(ch.loop, Cancelled, nil)
			return
		}
		if err != nil && !errors.Is(err, robot.ErrNoReading) {
			sess.exit(ch.loop, Failed, err)
			sess.logf("%s loop failed: %v", ch.loop, err)
			return
		}
		if ctx.Err() != nil {
			sess.exit(ch.loop, Cancelled, nil)
			return
		}

		// Looked up every cycle so no reference outlives RemoveRobot.
		m, ok := s.reg.GetMonitor(sess.id)
		if !ok {
			sess.exit(ch.loop, Cancelled, nil)
			return
		}
		if push != nil {
			push(m)
		}
		sess.tick(ch.loop)

		timer := s.clock.NewTimer(ch.delay(m))
		select {
		case <-ctx.Done():
			timer.Stop()
			sess.exit(ch.loop, Cancelled, nil)
			return
		case <-timer.C():
		}
	}
}
