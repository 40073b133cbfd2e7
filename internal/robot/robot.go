// Package robot defines the capability a connected robot exposes to the rest
// of the system: sensor reads, a revocable camera-frame subscription and a
// handful of drive commands.
package robot

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ID identifies a connected robot. It is stable for the lifetime of the
// connection and unique within the process.
type ID int64

func (id ID) String() string {
	return fmt.Sprintf("robot-%d", int64(id))
}

var (
	// ErrNoReading is returned by a sensor read before the robot has reported
	// the value at least once. It is transient.
	ErrNoReading = errors.New("robot: no reading available yet")

	// ErrClosed is returned once the link to the robot is gone.
	ErrClosed = errors.New("robot: link closed")
)

// Vec3 is a three-axis sensor reading.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Frame is one camera image in interleaved RGB8: Width*Height pixels, three
// bytes each, rows top to bottom with no padding.
type Frame struct {
	Seq        uint64    `json:"seq"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Data       []byte    `json:"data"`
	CapturedAt time.Time `json:"captured_at"`
}

// Valid reports whether Data holds exactly one RGB8 image of the stated size.
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Data) == 3*f.Width*f.Height
}

// Robot is the capability consumed by the supervisor. Sensor reads return the
// latest value the robot reported and never block on the device.
type Robot interface {
	ID() ID

	BatteryVoltage() (float64, error)
	Accelerometer() (Vec3, error)
	Gyro() (Vec3, error)
	WheelSpeeds() (left, right float64, err error)

	// SubscribeFrames registers for camera frames. The channel keeps only
	// the newest undelivered frame and is closed by UnsubscribeFrames or when
	// the link goes away.
	SubscribeFrames() (string, <-chan Frame)
	// UnsubscribeFrames revokes a subscription. Unknown IDs are ignored.
	UnsubscribeFrames(id string)

	EnableCamera(ctx context.Context, color bool) error
	DriveOffChargerContacts(ctx context.Context) error
	DriveStraight(ctx context.Context, distanceMM, speedMMPS float64) error
}
