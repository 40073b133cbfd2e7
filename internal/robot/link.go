package robot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cozmonaut/cozmonaut/internal/monitoring"
	"github.com/cozmonaut/cozmonaut/internal/serialmux"
	"github.com/cozmonaut/cozmonaut/internal/timeutil"
)

// Link is a Robot reached through a line-oriented serial bridge. Sensor
// messages update a latest-value cache that the getters read; frame messages
// are fanned out to frame subscribers.
type Link struct {
	id    ID
	mux   serialmux.SerialMuxInterface
	clock timeutil.Clock
	logf  func(format string, v ...interface{})

	mu      sync.RWMutex
	battery *float64
	accel   *Vec3
	gyro    *Vec3
	wheels  *[2]float64
	closed  bool

	frames    *frameHub
	frameSeq  atomic.Uint64
	badLines  atomic.Uint64
	closeOnce sync.Once
}

var _ Robot = (*Link)(nil)

// NewLink wraps mux as robot id. Call Run to start pumping the link.
func NewLink(id ID, mux serialmux.SerialMuxInterface) *Link {
	return &Link{
		id:     id,
		mux:    mux,
		clock:  timeutil.RealClock{},
		logf:   monitoring.Prefixed(monitoring.RobotPrefix(int64(id))),
		frames: newFrameHub(),
	}
}

// ID returns the robot identifier.
func (l *Link) ID() ID { return l.id }

// Run reads the link until ctx is cancelled or the port reaches EOF. When it
// returns the link is closed: sensor reads fail with ErrClosed and frame
// subscriptions are closed.
func (l *Link) Run(ctx context.Context) error {
	subID, lines := l.mux.Subscribe()
	defer l.mux.Unsubscribe(subID)
	defer l.markClosed()

	monitorErr := make(chan error, 1)
	go func() {
		monitorErr <- l.mux.Monitor(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-monitorErr:
			if err != nil {
				return fmt.Errorf("%s link: %w", l.id, err)
			}
			l.logf("link reached EOF")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			l.handleLine(line)
		}
	}
}

// Close closes the underlying port and the link.
func (l *Link) Close() error {
	l.markClosed()
	return l.mux.Close()
}

// BadLines returns how many undecodable lines were skipped.
func (l *Link) BadLines() uint64 {
	return l.badLines.Load()
}

func (l *Link) markClosed() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		l.frames.close()
	})
}

func (l *Link) handleLine(line string) {
	msg, err := DecodeMessage(line)
	if err != nil {
		if n := l.badLines.Add(1); n == 1 || n%100 == 0 {
			l.logf("skipping bad line (%d so far): %v", n, err)
		}
		return
	}

	switch msg.Type {
	case MsgBattery:
		v := msg.Voltage
		l.mu.Lock()
		l.battery = &v
		l.mu.Unlock()
	case MsgIMU:
		l.mu.Lock()
		if msg.Accel != nil {
			a := *msg.Accel
			l.accel = &a
		}
		if msg.Gyro != nil {
			g := *msg.Gyro
			l.gyro = &g
		}
		l.mu.Unlock()
	case MsgWheels:
		l.mu.Lock()
		l.wheels = &[2]float64{msg.Left, msg.Right}
		l.mu.Unlock()
	case MsgFrame:
		seq := msg.Seq
		if seq == 0 {
			seq = l.frameSeq.Add(1)
		}
		l.frames.publish(Frame{
			Seq:        seq,
			Width:      msg.Width,
			Height:     msg.Height,
			Data:       msg.Data,
			CapturedAt: l.clock.Now(),
		})
	case MsgAck:
		l.logf("robot acknowledged %s", msg.Command)
	}
}

// BatteryVoltage returns the last reported battery voltage.
func (l *Link) BatteryVoltage() (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, ErrClosed
	}
	if l.battery == nil {
		return 0, ErrNoReading
	}
	return *l.battery, nil
}

// Accelerometer returns the last reported acceleration.
func (l *Link) Accelerometer() (Vec3, error) {
	return l.vec(func() *Vec3 { return l.accel })
}

// Gyro returns the last reported angular rate.
func (l *Link) Gyro() (Vec3, error) {
	return l.vec(func() *Vec3 { return l.gyro })
}

func (l *Link) vec(field func() *Vec3) (Vec3, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return Vec3{}, ErrClosed
	}
	v := field()
	if v == nil {
		return Vec3{}, ErrNoReading
	}
	return *v, nil
}

// WheelSpeeds returns the last reported wheel speeds in mm/s.
func (l *Link) WheelSpeeds() (float64, float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, 0, ErrClosed
	}
	if l.wheels == nil {
		return 0, 0, ErrNoReading
	}
	return l.wheels[0], l.wheels[1], nil
}

// SubscribeFrames registers a camera frame subscriber.
func (l *Link) SubscribeFrames() (string, <-chan Frame) {
	return l.frames.subscribe()
}

// UnsubscribeFrames revokes a camera frame subscription.
func (l *Link) UnsubscribeFrames(id string) {
	l.frames.unsubscribe(id)
}

// FrameSubscribers returns the number of live frame subscriptions.
func (l *Link) FrameSubscribers() int {
	return l.frames.len()
}

// EnableCamera turns on the image stream.
func (l *Link) EnableCamera(ctx context.Context, color bool) error {
	on := true
	return l.send(ctx, Command{Cmd: CmdCamera, Stream: &on, Color: &color})
}

// DriveOffChargerContacts backs the robot off its charger.
func (l *Link) DriveOffChargerContacts(ctx context.Context) error {
	return l.send(ctx, Command{Cmd: CmdDriveOffChargerContacts})
}

// DriveStraight drives distanceMM at speedMMPS. It returns once the command is
// written; completion is not awaited.
func (l *Link) DriveStraight(ctx context.Context, distanceMM, speedMMPS float64) error {
	if speedMMPS <= 0 {
		return fmt.Errorf("drive speed must be positive, got %v", speedMMPS)
	}
	return l.send(ctx, Command{Cmd: CmdDriveStraight, DistanceMM: distanceMM, SpeedMMPS: speedMMPS})
}

func (l *Link) send(ctx context.Context, c Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	line, err := encodeCommand(c)
	if err != nil {
		return err
	}
	if err := l.mux.SendCommand(line); err != nil {
		return fmt.Errorf("send %s to %s: %w", c.Cmd, l.id, err)
	}
	return nil
}
