package monitor

import (
	"encoding/json"
	"fmt"
	"time"
)

// Default polling intervals. Battery voltage changes slowly; motion sensors
// need a higher rate.
const (
	DefaultDelayBattery     = 2 * time.Second
	DefaultDelayIMU         = 100 * time.Millisecond
	DefaultDelayWheelSpeeds = 100 * time.Millisecond
)

// Delays holds the three per-channel polling intervals. In JSON they are
// duration strings such as "100ms".
type Delays struct {
	Battery     time.Duration
	IMU         time.Duration
	WheelSpeeds time.Duration
}

// DefaultDelays returns the default intervals.
func DefaultDelays() Delays {
	return Delays{
		Battery:     DefaultDelayBattery,
		IMU:         DefaultDelayIMU,
		WheelSpeeds: DefaultDelayWheelSpeeds,
	}
}

func (d Delays) withDefaults() Delays {
	def := DefaultDelays()
	if d.Battery <= 0 {
		d.Battery = def.Battery
	}
	if d.IMU <= 0 {
		d.IMU = def.IMU
	}
	if d.WheelSpeeds <= 0 {
		d.WheelSpeeds = def.WheelSpeeds
	}
	return d
}

func (d Delays) validate() error {
	for name, v := range map[string]time.Duration{
		"battery":      d.Battery,
		"imu":          d.IMU,
		"wheel_speeds": d.WheelSpeeds,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s is %v", ErrInvalidDelay, name, v)
		}
	}
	return nil
}

type delaysJSON struct {
	Battery     string `json:"battery,omitempty"`
	IMU         string `json:"imu,omitempty"`
	WheelSpeeds string `json:"wheel_speeds,omitempty"`
}

func (d Delays) MarshalJSON() ([]byte, error) {
	return json.Marshal(delaysJSON{
		Battery:     formatDelay(d.Battery),
		IMU:         formatDelay(d.IMU),
		WheelSpeeds: formatDelay(d.WheelSpeeds),
	})
}

// UnmarshalJSON accepts duration strings. Omitted fields stay zero.
func (d *Delays) UnmarshalJSON(b []byte) error {
	var raw delaysJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var out Delays
	var err error
	if out.Battery, err = parseDelay("battery", raw.Battery); err != nil {
		return err
	}
	if out.IMU, err = parseDelay("imu", raw.IMU); err != nil {
		return err
	}
	if out.WheelSpeeds, err = parseDelay("wheel_speeds", raw.WheelSpeeds); err != nil {
		return err
	}
	*d = out
	return nil
}

func formatDelay(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

func parseDelay(name, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s delay %q: %w", name, s, err)
	}
	return d, nil
}
