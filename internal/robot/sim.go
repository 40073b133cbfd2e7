package robot

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cozmonaut/cozmonaut/internal/serialmux"
)

// SimOptions shapes the synthetic bridge traffic produced by Simulate.
type SimOptions struct {
	TelemetryInterval time.Duration
	FrameInterval     time.Duration
	FrameWidth        int
	FrameHeight       int
	Seed              uint64
}

func (o SimOptions) withDefaults() SimOptions {
	if o.TelemetryInterval <= 0 {
		o.TelemetryInterval = 50 * time.Millisecond
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = 200 * time.Millisecond
	}
	if o.FrameWidth <= 0 {
		o.FrameWidth = 64
	}
	if o.FrameHeight <= 0 {
		o.FrameHeight = 48
	}
	return o
}

// NewSimulatedLink returns a Link whose bridge is a goroutine producing
// plausible telemetry and camera frames until ctx is done. Run the link as
// usual.
func NewSimulatedLink(ctx context.Context, id ID, opts SimOptions) *Link {
	mux, port := serialmux.NewPipeSerialMux()
	if opts.Seed == 0 {
		opts.Seed = uint64(id)
	}
	go Simulate(ctx, port, opts)
	return NewLink(id, mux)
}

// Simulate writes bridge lines to port until ctx is done or the host side
// closes. Battery voltage drains slowly, the robot rocks gently, and frames
// show a bright square drifting across a gradient.
func Simulate(ctx context.Context, port *serialmux.PipePort, opts SimOptions) error {
	opts = opts.withDefaults()
	defer port.Hangup()

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	telemetry := time.NewTicker(opts.TelemetryInterval)
	defer telemetry.Stop()
	frames := time.NewTicker(opts.FrameInterval)
	defer frames.Stop()

	voltage := 4.15
	var tick, seq uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-telemetry.C:
			tick++
			phase := float64(tick) / 20
			msgs := []Message{
				{
					Type:  MsgIMU,
					Accel: &Vec3{X: 0.2 * math.Sin(phase), Y: 0.1 * math.Cos(phase), Z: 9.81 + rng.NormFloat64()*0.02},
					Gyro:  &Vec3{X: rng.NormFloat64() * 0.01, Y: rng.NormFloat64() * 0.01, Z: 0.05 * math.Sin(phase)},
				},
				{Type: MsgWheels, Left: 50 + rng.NormFloat64(), Right: 50 + rng.NormFloat64()},
			}
			if tick%20 == 1 {
				voltage = math.Max(3.5, voltage-0.002)
				msgs = append(msgs, Message{Type: MsgBattery, Voltage: voltage})
			}
			for _, m := range msgs {
				if err := writeMessage(port, m); err != nil {
					return err
				}
			}

		case <-frames.C:
			seq++
			if err := writeMessage(port, syntheticFrame(seq, opts.FrameWidth, opts.FrameHeight)); err != nil {
				return err
			}
		}
	}
}

func writeMessage(port *serialmux.PipePort, m Message) error {
	line, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	return port.WriteLine(line)
}

func syntheticFrame(seq uint64, w, h int) Message {
	data := make([]byte, 3*w*h)
	side := h / 4
	x0 := int(seq*2) % max(1, w-side)
	y0 := h / 3
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := 3 * (y*w + x)
			v := byte(64 + 64*y/h)
			if x >= x0 && x < x0+side && y >= y0 && y < y0+side {
				v = 230
			}
			data[i], data[i+1], data[i+2] = v, v, v
		}
	}
	return Message{Type: MsgFrame, Seq: seq, Width: w, Height: h, Data: data}
}
