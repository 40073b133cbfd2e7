package monitor

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/timeutil"
)

type sampleLog struct {
	mu      sync.Mutex
	samples []Sample
}

func (l *sampleLog) RecordSample(s Sample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, s)
}

func TestNew_Defaults(t *testing.T) {
	m := New(1, Options{})
	assert.Equal(t, 2*time.Second, m.DelayBattery())
	assert.Equal(t, 100*time.Millisecond, m.DelayIMU())
	assert.Equal(t, 100*time.Millisecond, m.DelayWheelSpeeds())
	assert.Equal(t, robot.ID(1), m.ID())

	m = New(2, Options{Delays: Delays{IMU: 20 * time.Millisecond}})
	assert.Equal(t, DefaultDelayBattery, m.DelayBattery())
	assert.Equal(t, 20*time.Millisecond, m.DelayIMU())
}

func TestSetDelay(t *testing.T) {
	m := New(1, Options{})

	require.NoError(t, m.SetDelayBattery(5*time.Second))
	require.NoError(t, m.SetDelayIMU(10*time.Millisecond))
	require.NoError(t, m.SetDelayWheelSpeeds(30*time.Millisecond))
	assert.Equal(t, Delays{Battery: 5 * time.Second, IMU: 10 * time.Millisecond, WheelSpeeds: 30 * time.Millisecond}, m.Delays())

	for _, d := range []time.Duration{0, -time.Second} {
		assert.ErrorIs(t, m.SetDelayBattery(d), ErrInvalidDelay)
		assert.ErrorIs(t, m.SetDelayIMU(d), ErrInvalidDelay)
		assert.ErrorIs(t, m.SetDelayWheelSpeeds(d), ErrInvalidDelay)
	}
	assert.Equal(t, 5*time.Second, m.DelayBattery(), "rejected value must not be applied")
}

func TestSetDelays(t *testing.T) {
	m := New(1, Options{})

	require.NoError(t, m.SetDelays(Delays{WheelSpeeds: 50 * time.Millisecond}))
	assert.Equal(t, DefaultDelayBattery, m.DelayBattery())
	assert.Equal(t, 50*time.Millisecond, m.DelayWheelSpeeds())

	err := m.SetDelays(Delays{Battery: time.Second, IMU: -1})
	assert.ErrorIs(t, err, ErrInvalidDelay)
	assert.Equal(t, DefaultDelayBattery, m.DelayBattery())
}

func TestPush_OverwritesLatest(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	rec := &sampleLog{}
	m := New(5, Options{Clock: clock, Recorder: rec})

	m.PushBattery(3.9)
	clock.Advance(time.Second)
	m.PushBattery(3.7)
	m.PushAccelerometer(1, 2, 3)
	m.PushGyroscope(4, 5, 6)
	m.PushWheelSpeeds(10, 12)

	assert.Equal(t, 3.7, m.BatteryVoltage())
	assert.Equal(t, IMUReading{Accel: robot.Vec3{X: 1, Y: 2, Z: 3}, Gyro: robot.Vec3{X: 4, Y: 5, Z: 6}}, m.IMU())
	assert.Equal(t, WheelSpeeds{Left: 10, Right: 12}, m.WheelSpeeds())

	snap := m.Snapshot()
	want := Counts{Battery: 2, Accelerometer: 1, Gyroscope: 1, WheelSpeeds: 1}
	if diff := cmp.Diff(want, snap.Counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, start.Add(time.Second), snap.Updated.Battery)
	assert.Equal(t, robot.ID(5), snap.Robot)

	require.Len(t, rec.samples, 5)
	assert.Equal(t, Sample{Robot: 5, Channel: ChannelBattery, X: 3.9, At: start}, rec.samples[0])
	assert.Equal(t, Sample{Robot: 5, Channel: ChannelWheelSpeeds, X: 10, Y: 12, At: start.Add(time.Second)}, rec.samples[4])
}

func TestPush_MonitorsAreIndependent(t *testing.T) {
	m5 := New(5, Options{})
	m6 := New(6, Options{})
	require.NoError(t, m5.SetDelayBattery(2*time.Second))

	m5.PushBattery(3.7)

	assert.Equal(t, 3.7, m5.BatteryVoltage())
	assert.Zero(t, m6.BatteryVoltage())
	assert.Zero(t, m6.Snapshot().Counts.Battery)
}

func TestPush_Concurrent(t *testing.T) {
	m := New(1, Options{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.PushWheelSpeeds(float64(j), float64(j))
				_ = m.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(800), m.Snapshot().Counts.WheelSpeeds)
}

func TestDelays_JSON(t *testing.T) {
	b, err := json.Marshal(DefaultDelays())
	require.NoError(t, err)
	assert.JSONEq(t, `{"battery":"2s","imu":"100ms","wheel_speeds":"100ms"}`, string(b))

	var d Delays
	require.NoError(t, json.Unmarshal([]byte(`{"imu":"250ms"}`), &d))
	assert.Equal(t, Delays{IMU: 250 * time.Millisecond}, d)

	assert.Error(t, json.Unmarshal([]byte(`{"battery":"soon"}`), &d))
}
