package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cozmonaut/cozmonaut/internal/robot"
)

// FakeRobot is a scriptable robot.Robot. Readings default to ErrNoReading
// until set.
type FakeRobot struct {
	id robot.ID

	mu       sync.Mutex
	battery  func() (float64, error)
	accel    func() (robot.Vec3, error)
	gyro     func() (robot.Vec3, error)
	wheels   func() (float64, float64, error)
	calls    map[string]int
	subs     map[string]chan robot.Frame
	closed   bool
	commands []string
	driveErr error
}

var _ robot.Robot = (*FakeRobot)(nil)

// NewFakeRobot returns a FakeRobot with no readings.
func NewFakeRobot(id robot.ID) *FakeRobot {
	r := &FakeRobot{
		id:    id,
		calls: make(map[string]int),
		subs:  make(map[string]chan robot.Frame),
	}
	r.SetBattery(0, robot.ErrNoReading)
	r.SetAccel(robot.Vec3{}, robot.ErrNoReading)
	r.SetGyro(robot.Vec3{}, robot.ErrNoReading)
	r.SetWheels(0, 0, robot.ErrNoReading)
	return r
}

func (r *FakeRobot) ID() robot.ID { return r.id }

func (r *FakeRobot) SetBattery(v float64, err error) {
	r.OnBattery(func() (float64, error) { return v, err })
}

// OnBattery replaces the battery read with fn, which may panic.
func (r *FakeRobot) OnBattery(fn func() (float64, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.battery = fn
}

func (r *FakeRobot) SetAccel(v robot.Vec3, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accel = func() (robot.Vec3, error) { return v, err }
}

func (r *FakeRobot) SetGyro(v robot.Vec3, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gyro = func() (robot.Vec3, error) { return v, err }
}

func (r *FakeRobot) SetWheels(left, right float64, err error) {
	r.OnWheels(func() (float64, float64, error) { return left, right, err })
}

// OnWheels replaces the wheel speed read with fn, which may block or panic.
func (r *FakeRobot) OnWheels(fn func() (float64, float64, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wheels = fn
}

// SetDriveError makes drive commands fail with err.
func (r *FakeRobot) SetDriveError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.driveErr = err
}

// Calls returns how often the named method was called.
func (r *FakeRobot) Calls(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

func (r *FakeRobot) count(method string) {
	r.mu.Lock()
	r.calls[method]++
	r.mu.Unlock()
}

func (r *FakeRobot) BatteryVoltage() (float64, error) {
	r.count("BatteryVoltage")
	r.mu.Lock()
	fn := r.battery
	r.mu.Unlock()
	return fn()
}

func (r *FakeRobot) Accelerometer() (robot.Vec3, error) {
	r.count("Accelerometer")
	r.mu.Lock()
	fn := r.accel
	r.mu.Unlock()
	return fn()
}

func (r *FakeRobot) Gyro() (robot.Vec3, error) {
	r.count("Gyro")
	r.mu.Lock()
	fn := r.gyro
	r.mu.Unlock()
	return fn()
}

func (r *FakeRobot) WheelSpeeds() (float64, float64, error) {
	r.count("WheelSpeeds")
	r.mu.Lock()
	fn := r.wheels
	r.mu.Unlock()
	return fn()
}

func (r *FakeRobot) SubscribeFrames() (string, <-chan robot.Frame) {
	id := uuid.NewString()
	ch := make(chan robot.Frame, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return id, ch
	}
	r.subs[id] = ch
	return id, ch
}

func (r *FakeRobot) UnsubscribeFrames(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.subs[id]; ok {
		close(ch)
		delete(r.subs, id)
	}
}

// FrameSubscribers returns the number of live frame subscriptions.
func (r *FakeRobot) FrameSubscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// PublishFrame delivers f to every subscriber, replacing an unread frame.
func (r *FakeRobot) PublishFrame(f robot.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case <-ch:
		default:
		}
		ch <- f
	}
}

// CloseFrames closes every frame subscription, as a dropped link does.
func (r *FakeRobot) CloseFrames() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
}

// Commands returns the drive and camera commands received, in order.
func (r *FakeRobot) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func (r *FakeRobot) command(ctx context.Context, c string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.driveErr != nil {
		return r.driveErr
	}
	r.commands = append(r.commands, c)
	return nil
}

func (r *FakeRobot) EnableCamera(ctx context.Context, color bool) error {
	return r.command(ctx, fmt.Sprintf("camera color=%t", color))
}

func (r *FakeRobot) DriveOffChargerContacts(ctx context.Context) error {
	return r.command(ctx, "drive_off_charger_contacts")
}

func (r *FakeRobot) DriveStraight(ctx context.Context, distanceMM, speedMMPS float64) error {
	return r.command(ctx, fmt.Sprintf("drive_straight %g %g", distanceMM, speedMMPS))
}
