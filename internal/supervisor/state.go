package supervisor

// Loop names one of the goroutines run per robot.
type Loop string

const (
	LoopBattery       Loop = "battery"
	LoopIMU           Loop = "imu"
	LoopWheelSpeeds   Loop = "wheel_speeds"
	LoopFrameFeeder   Loop = "frame_feeder"
	LoopTrackConsumer Loop = "track_consumer"
)

// Loops lists every per-robot loop in start order.
var Loops = []Loop{LoopBattery, LoopIMU, LoopWheelSpeeds, LoopFrameFeeder, LoopTrackConsumer}

// State is a loop's position in Starting -> Polling -> (Cancelled | Failed)
// -> Stopped. A loop that finds no Monitor goes straight from Starting to
// Stopped.
type State string

const (
	Starting  State = "starting"
	Polling   State = "polling"
	Cancelled State = "cancelled"
	Failed    State = "failed"
	Stopped   State = "stopped"
)

// LoopStatus is the observable state of one loop.
type LoopStatus struct {
	State      State  `json:"state"`
	Exit       State  `json:"exit,omitempty"`
	Err        string `json:"error,omitempty"`
	Iterations uint64 `json:"iterations"`
}
