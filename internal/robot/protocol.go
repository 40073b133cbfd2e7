package robot

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message types sent by the robot bridge, one JSON object per line.
const (
	MsgBattery = "battery"
	MsgIMU     = "imu"
	MsgWheels  = "wheels"
	MsgFrame   = "frame"
	MsgAck     = "ack"
)

// Message is a single line from the robot bridge. Which fields are set
// depends on Type. Frame data is base64 in the JSON form.
type Message struct {
	Type    string  `json:"type"`
	Voltage float64 `json:"voltage,omitempty"`
	Accel   *Vec3   `json:"accel,omitempty"`
	Gyro    *Vec3   `json:"gyro,omitempty"`
	Left    float64 `json:"left,omitempty"`
	Right   float64 `json:"right,omitempty"`
	Seq     uint64  `json:"seq,omitempty"`
	Width   int     `json:"width,omitempty"`
	Height  int     `json:"height,omitempty"`
	Data    []byte  `json:"data,omitempty"`
	Command string  `json:"command,omitempty"`
}

// DecodeMessage parses one bridge line.
func DecodeMessage(line string) (Message, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return Message{}, fmt.Errorf("not a JSON object: %q", truncate(line, 40))
	}
	var m Message
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	switch m.Type {
	case MsgBattery, MsgWheels, MsgAck:
	case MsgIMU:
		if m.Accel == nil && m.Gyro == nil {
			return Message{}, fmt.Errorf("imu message without accel or gyro")
		}
	case MsgFrame:
		f := Frame{Width: m.Width, Height: m.Height, Data: m.Data}
		if !f.Valid() {
			return Message{}, fmt.Errorf("frame %dx%d carries %d bytes", m.Width, m.Height, len(m.Data))
		}
	default:
		return Message{}, fmt.Errorf("unknown message type %q", m.Type)
	}
	return m, nil
}

// EncodeMessage renders m as a bridge line without the trailing newline.
func EncodeMessage(m Message) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Command is a host-to-robot instruction.
type Command struct {
	Cmd        string  `json:"cmd"`
	DistanceMM float64 `json:"distance_mm,omitempty"`
	SpeedMMPS  float64 `json:"speed_mmps,omitempty"`
	Stream     *bool   `json:"stream,omitempty"`
	Color      *bool   `json:"color,omitempty"`
}

// Command names understood by the bridge.
const (
	CmdCamera                  = "camera"
	CmdDriveOffChargerContacts = "drive_off_charger_contacts"
	CmdDriveStraight           = "drive_straight"
)

func encodeCommand(c Command) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode %s command: %w", c.Cmd, err)
	}
	return string(b), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
