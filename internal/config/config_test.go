package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cozmonaut/cozmonaut/internal/monitor"
	"github.com/cozmonaut/cozmonaut/internal/tracker"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "cozmonaut.yaml", `
sql:
  addr: /var/lib/cozmonaut
  data: friends
listen: ":9090"
monitor:
  delay_battery: 5s
  delay_imu: 50ms
tracker:
  policy: queue
  max_pending_frames: 4
robots:
  - id: 1
    port: /dev/ttyUSB0
    serial:
      baud_rate: 115200
  - id: 2
    simulated: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/cozmonaut", cfg.SQL.Addr)
	assert.Equal(t, ":9090", cfg.GetListen())
	assert.Equal(t, monitor.Delays{
		Battery:     5 * time.Second,
		IMU:         50 * time.Millisecond,
		WheelSpeeds: monitor.DefaultDelayWheelSpeeds,
	}, cfg.GetDelays())

	opts := cfg.GetTrackerOptions()
	assert.Equal(t, tracker.Queue, opts.Policy)
	assert.Equal(t, 4, opts.MaxPendingFrames)
	assert.Equal(t, tracker.DefaultMaxInFlight, opts.MaxInFlight)

	require.Len(t, cfg.Robots, 2)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Robots[0].Port)
	require.NotNil(t, cfg.Robots[0].Serial)
	assert.Equal(t, 115200, cfg.Robots[0].Serial.BaudRate)
	assert.True(t, cfg.Robots[1].Simulated)
}

func TestLoad_JSONPartialKeepsDefaults(t *testing.T) {
	path := writeFile(t, "cozmonaut.json", `{"vision": {"workers": 3}, "robots": [{"id": 4, "simulated": true}]}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.GetVisionWorkers())
	assert.Equal(t, monitor.DefaultDelays(), cfg.GetDelays())
	assert.Equal(t, "localhost:8080", cfg.GetListen())
	assert.Equal(t, 100, cfg.GetRecentTracks())
	assert.Equal(t, time.Second, cfg.GetSampleFlushInterval())
	assert.Equal(t, tracker.LatestOnly, cfg.GetTrackerOptions().Policy)

	size, backups, age, compress := cfg.GetLogRotation()
	assert.Equal(t, 10, size)
	assert.Equal(t, 3, backups)
	assert.Equal(t, 28, age)
	assert.True(t, compress)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"extension", "cfg.toml", `x = 1`, "extension"},
		{"syntax", "cfg.json", `{"listen":`, "failed to parse"},
		{"bad duration", "cfg.json", `{"monitor":{"delay_imu":"fast"}}`, "monitor.delay_imu"},
		{"zero duration", "cfg.json", `{"monitor":{"delay_battery":"0s"}}`, "must be positive"},
		{"policy", "cfg.json", `{"tracker":{"policy":"newest"}}`, "tracker.policy"},
		{"zero in flight", "cfg.json", `{"tracker":{"max_in_flight":0}}`, "tracker.max_in_flight"},
		{"duplicate robot", "cfg.json", `{"robots":[{"id":1,"simulated":true},{"id":1,"simulated":true}]}`, "duplicate id 1"},
		{"robot without port", "cfg.json", `{"robots":[{"id":1}]}`, "set port or simulated"},
		{"port and simulated", "cfg.json", `{"robots":[{"id":1,"port":"/dev/x","simulated":true}]}`, "exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_TooLarge(t *testing.T) {
	body := `{"listen":"` + strings.Repeat("x", maxFileSize) + `"}`
	_, err := Load(writeFile(t, "big.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("COZMONAUT_SQL_ADDR", "/tmp/data")
	t.Setenv("COZMONAUT_SQL_DATA", "lab")
	t.Setenv("COZMONAUT_LISTEN", "0.0.0.0:7000")

	cfg := Default()
	cfg.SQL.User = "from-file"
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, "/tmp/data", cfg.SQL.Addr)
	assert.Equal(t, "lab", cfg.SQL.Data)
	assert.Equal(t, "from-file", cfg.SQL.User, "unset variables keep file values")
	assert.Equal(t, "0.0.0.0:7000", cfg.GetListen())
	assert.Empty(t, cfg.GetLogFile())
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Robots, 1)
	assert.True(t, cfg.Robots[0].Simulated)
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "cozmonaut.example.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Robots)
}
