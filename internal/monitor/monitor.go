// Package monitor holds the latest sensor sample per channel for one robot,
// together with the interval at which each channel is polled.
package monitor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/timeutil"
)

// ErrInvalidDelay is returned when a polling interval is not positive.
var ErrInvalidDelay = errors.New("monitor: delay must be positive")

// Channel names one sample stream. The IMU poll feeds both Accelerometer and
// Gyroscope.
type Channel string

const (
	ChannelBattery       Channel = "battery"
	ChannelAccelerometer Channel = "accelerometer"
	ChannelGyroscope     Channel = "gyroscope"
	ChannelWheelSpeeds   Channel = "wheel_speeds"
)

// Sample is one pushed value, forwarded to the Recorder. Battery uses X;
// wheel speeds use X for left and Y for right.
type Sample struct {
	Robot   robot.ID
	Channel Channel
	X, Y, Z float64
	At      time.Time
}

// Recorder receives every pushed sample. RecordSample is called while the
// pusher waits, so it must not block.
type Recorder interface {
	RecordSample(Sample)
}

// Options configures a Monitor. Zero values get defaults.
type Options struct {
	Delays   Delays
	Clock    timeutil.Clock
	Recorder Recorder
}

// IMUReading is the latest accelerometer and gyroscope pair.
type IMUReading struct {
	Accel robot.Vec3 `json:"accel"`
	Gyro  robot.Vec3 `json:"gyro"`
}

// WheelSpeeds is the latest wheel speed pair in mm/s.
type WheelSpeeds struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// Counts is the number of pushes per channel.
type Counts struct {
	Battery       uint64 `json:"battery"`
	Accelerometer uint64 `json:"accelerometer"`
	Gyroscope     uint64 `json:"gyroscope"`
	WheelSpeeds   uint64 `json:"wheel_speeds"`
}

// Updated is the time of the last push per channel; zero if never pushed.
type Updated struct {
	Battery       time.Time `json:"battery"`
	Accelerometer time.Time `json:"accelerometer"`
	Gyroscope     time.Time `json:"gyroscope"`
	WheelSpeeds   time.Time `json:"wheel_speeds"`
}

// Snapshot is a consistent copy of a Monitor.
type Snapshot struct {
	Robot          robot.ID    `json:"robot"`
	BatteryVoltage float64     `json:"battery_voltage"`
	IMU            IMUReading  `json:"imu"`
	WheelSpeeds    WheelSpeeds `json:"wheel_speeds"`
	Counts         Counts      `json:"counts"`
	Updated        Updated     `json:"updated"`
	Delays         Delays      `json:"delays"`
}

// Monitor is the per-robot telemetry sink. It is safe for concurrent use: the
// three channel loops push into it while the API reads snapshots.
type Monitor struct {
	id       robot.ID
	clock    timeutil.Clock
	recorder Recorder

	mu      sync.RWMutex
	delays  Delays
	battery float64
	imu     IMUReading
	wheels  WheelSpeeds
	counts  Counts
	updated Updated
}

// New creates the Monitor for robot id.
func New(id robot.ID, opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Monitor{
		id:       id,
		clock:    opts.Clock,
		recorder: opts.Recorder,
		delays:   opts.Delays.withDefaults(),
	}
}

// ID returns the robot this Monitor belongs to.
func (m *Monitor) ID() robot.ID { return m.id }

// DelayBattery returns the battery polling interval.
func (m *Monitor) DelayBattery() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.delays.Battery
}

// DelayIMU returns the IMU polling interval.
func (m *Monitor) DelayIMU() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.delays.IMU
}

// DelayWheelSpeeds returns the wheel-speed polling interval.
func (m *Monitor) DelayWheelSpeeds() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.delays.WheelSpeeds
}

// Delays returns all three intervals.
func (m *Monitor) Delays() Delays {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.delays
}

// SetDelayBattery sets the battery interval; d must be positive.
func (m *Monitor) SetDelayBattery(d time.Duration) error {
	return m.setDelay(&m.delays.Battery, d)
}

// SetDelayIMU sets the IMU interval; d must be positive.
func (m *Monitor) SetDelayIMU(d time.Duration) error {
	return m.setDelay(&m.delays.IMU, d)
}

// SetDelayWheelSpeeds sets the wheel-speed interval; d must be positive.
func (m *Monitor) SetDelayWheelSpeeds(d time.Duration) error {
	return m.setDelay(&m.delays.WheelSpeeds, d)
}

func (m *Monitor) setDelay(field *time.Duration, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidDelay, d)
	}
	m.mu.Lock()
	*field = d
	m.mu.Unlock()
	return nil
}

// SetDelays replaces the non-zero intervals in d. Negative values are
// rejected and nothing is changed.
func (m *Monitor) SetDelays(d Delays) error {
	if err := d.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.Battery > 0 {
		m.delays.Battery = d.Battery
	}
	if d.IMU > 0 {
		m.delays.IMU = d.IMU
	}
	if d.WheelSpeeds > 0 {
		m.delays.WheelSpeeds = d.WheelSpeeds
	}
	return nil
}

// PushBattery records a battery voltage reading.
func (m *Monitor) PushBattery(voltage float64) {
	now := m.clock.Now()
	m.mu.Lock()
	m.battery = voltage
	m.counts.Battery++
	m.updated.Battery = now
	m.mu.Unlock()
	m.record(Sample{Channel: ChannelBattery, X: voltage, At: now})
}

// PushAccelerometer records an accelerometer reading.
func (m *Monitor) PushAccelerometer(x, y, z float64) {
	now := m.clock.Now()
	m.mu.Lock()
	m.imu.Accel = robot.Vec3{X: x, Y: y, Z: z}
	m.counts.Accelerometer++
	m.updated.Accelerometer = now
	m.mu.Unlock()
	m.record(Sample{Channel: ChannelAccelerometer, X: x, Y: y, Z: z, At: now})
}

// PushGyroscope records a gyroscope reading.
func (m *Monitor) PushGyroscope(x, y, z float64) {
	now := m.clock.Now()
	m.mu.Lock()
	m.imu.Gyro = robot.Vec3{X: x, Y: y, Z: z}
	m.counts.Gyroscope++
	m.updated.Gyroscope = now
	m.mu.Unlock()
	m.record(Sample{Channel: ChannelGyroscope, X: x, Y: y, Z: z, At: now})
}

// PushWheelSpeeds records the left and right wheel speeds.
func (m *Monitor) PushWheelSpeeds(left, right float64) {
	now := m.clock.Now()
	m.mu.Lock()
	m.wheels = WheelSpeeds{Left: left, Right: right}
	m.counts.WheelSpeeds++
	m.updated.WheelSpeeds = now
	m.mu.Unlock()
	m.record(Sample{Channel: ChannelWheelSpeeds, X: left, Y: right, At: now})
}

func (m *Monitor) record(s Sample) {
	if m.recorder == nil {
		return
	}
	s.Robot = m.id
	m.recorder.RecordSample(s)
}

// BatteryVoltage returns the latest battery voltage.
func (m *Monitor) BatteryVoltage() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.battery
}

// IMU returns the latest accelerometer and gyroscope readings.
func (m *Monitor) IMU() IMUReading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.imu
}

// WheelSpeeds returns the latest wheel speeds.
func (m *Monitor) WheelSpeeds() WheelSpeeds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wheels
}

// Snapshot returns a consistent copy of every field.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Robot:          m.id,
		BatteryVoltage: m.battery,
		IMU:            m.imu,
		WheelSpeeds:    m.wheels,
		Counts:         m.counts,
		Updated:        m.updated,
		Delays:         m.delays,
	}
}
