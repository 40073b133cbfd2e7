// Package config loads the cozmonaut configuration from a JSON or YAML file
// with environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cozmonaut/cozmonaut/internal/monitor"
	"github.com/cozmonaut/cozmonaut/internal/serialmux"
	"github.com/cozmonaut/cozmonaut/internal/tracker"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration. Optional scalars are pointers so that an
// omitted field falls back to the default returned by its Get* method.
type Config struct {
	SQL     SQLConfig     `json:"sql" yaml:"sql"`
	Listen  *string       `json:"listen,omitempty" yaml:"listen,omitempty"`
	LogFile *string       `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Monitor MonitorConfig `json:"monitor" yaml:"monitor"`
	Tracker TrackerConfig `json:"tracker" yaml:"tracker"`
	Vision  VisionConfig  `json:"vision" yaml:"vision"`
	Samples SamplesConfig `json:"samples" yaml:"samples"`
	Robots  []RobotConfig `json:"robots" yaml:"robots"`

	// RecentTracks is how many tracks per robot the API keeps in memory.
	RecentTracks *int `json:"recent_tracks,omitempty" yaml:"recent_tracks,omitempty"`
}

// SQLConfig locates the friend and telemetry database. Addr is the directory
// holding it and Data the data set name. SQLite has no accounts, so User
// and Pass are accepted for compatibility and otherwise unused.
type SQLConfig struct {
	Addr string `json:"addr" yaml:"addr"`
	User string `json:"user" yaml:"user"`
	Pass string `json:"pass" yaml:"pass"`
	Data string `json:"data" yaml:"data"`
}

// LogConfig controls rotation of LogFile.
type LogConfig struct {
	MaxSizeMB  *int  `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups *int  `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays *int  `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
	Compress   *bool `json:"compress,omitempty" yaml:"compress,omitempty"`
}

// MonitorConfig holds the per-channel polling intervals as duration strings.
type MonitorConfig struct {
	DelayBattery     *string `json:"delay_battery,omitempty" yaml:"delay_battery,omitempty"`
	DelayIMU         *string `json:"delay_imu,omitempty" yaml:"delay_imu,omitempty"`
	DelayWheelSpeeds *string `json:"delay_wheel_speeds,omitempty" yaml:"delay_wheel_speeds,omitempty"`
}

// TrackerConfig mirrors tracker.Options.
type TrackerConfig struct {
	Policy           *string `json:"policy,omitempty" yaml:"policy,omitempty"` // "latest-only" or "queue"
	MaxPendingFrames *int    `json:"max_pending_frames,omitempty" yaml:"max_pending_frames,omitempty"`
	MaxInFlight      *int    `json:"max_in_flight,omitempty" yaml:"max_in_flight,omitempty"`
	MaxPendingTracks *int    `json:"max_pending_tracks,omitempty" yaml:"max_pending_tracks,omitempty"`
}

// VisionConfig configures the detector.
type VisionConfig struct {
	Workers    *int    `json:"workers,omitempty" yaml:"workers,omitempty"`
	MaxLatency *string `json:"max_latency,omitempty" yaml:"max_latency,omitempty"`
	FriendID   *int64  `json:"friend_id,omitempty" yaml:"friend_id,omitempty"`
}

// SamplesConfig configures the telemetry sample writer.
type SamplesConfig struct {
	Disabled      bool    `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Buffer        *int    `json:"buffer,omitempty" yaml:"buffer,omitempty"`
	BatchSize     *int    `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	FlushInterval *string `json:"flush_interval,omitempty" yaml:"flush_interval,omitempty"`
}

// RobotConfig describes one robot connection. Either Port or Simulated must
// be set.
type RobotConfig struct {
	ID        int64                  `json:"id" yaml:"id"`
	Port      string                 `json:"port,omitempty" yaml:"port,omitempty"`
	Simulated bool                   `json:"simulated,omitempty" yaml:"simulated,omitempty"`
	Serial    *serialmux.PortOptions `json:"serial,omitempty" yaml:"serial,omitempty"`
}

// Default returns a configuration with every optional field unset and a
// single simulated robot.
func Default() *Config {
	return &Config{Robots: []RobotConfig{{ID: 1, Simulated: true}}}
}

// Load reads a configuration from a .json, .yaml or .yml file. Fields
// omitted from the file keep their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	durations := map[string]*string{
		"monitor.delay_battery":      c.Monitor.DelayBattery,
		"monitor.delay_imu":          c.Monitor.DelayIMU,
		"monitor.delay_wheel_speeds": c.Monitor.DelayWheelSpeeds,
		"samples.flush_interval":     c.Samples.FlushInterval,
	}
	for name, s := range durations {
		if s == nil || *s == "" {
			continue
		}
		d, err := time.ParseDuration(*s)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *s, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *s)
		}
	}
	if s := c.Vision.MaxLatency; s != nil && *s != "" {
		if d, err := time.ParseDuration(*s); err != nil || d < 0 {
			return fmt.Errorf("invalid vision.max_latency '%s'", *s)
		}
	}

	if c.Tracker.Policy != nil {
		if _, err := parsePolicy(*c.Tracker.Policy); err != nil {
			return err
		}
	}
	for name, v := range map[string]*int{
		"tracker.max_pending_frames": c.Tracker.MaxPendingFrames,
		"tracker.max_in_flight":      c.Tracker.MaxInFlight,
		"tracker.max_pending_tracks": c.Tracker.MaxPendingTracks,
		"vision.workers":             c.Vision.Workers,
		"samples.buffer":             c.Samples.Buffer,
		"samples.batch_size":         c.Samples.BatchSize,
		"recent_tracks":              c.RecentTracks,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}

	seen := make(map[int64]bool, len(c.Robots))
	for i, r := range c.Robots {
		if seen[r.ID] {
			return fmt.Errorf("robots[%d]: duplicate id %d", i, r.ID)
		}
		seen[r.ID] = true
		if r.Port == "" && !r.Simulated {
			return fmt.Errorf("robots[%d]: set port or simulated", i)
		}
		if r.Port != "" && r.Simulated {
			return fmt.Errorf("robots[%d]: port and simulated are exclusive", i)
		}
		if r.Serial != nil {
			if _, err := r.Serial.Normalize(); err != nil {
				return fmt.Errorf("robots[%d]: %w", i, err)
			}
		}
	}
	return nil
}

func parsePolicy(s string) (tracker.Policy, error) {
	switch s {
	case "", "latest-only":
		return tracker.LatestOnly, nil
	case "queue":
		return tracker.Queue, nil
	}
	return 0, fmt.Errorf("tracker.policy must be latest-only or queue, got %q", s)
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetListen returns the HTTP listen address, default "localhost:8080".
func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return "localhost:8080"
	}
	return *c.Listen
}

// GetLogFile returns the rotated log file path; empty means stderr only.
func (c *Config) GetLogFile() string {
	if c.LogFile == nil {
		return ""
	}
	return *c.LogFile
}

// GetDelays returns the monitor polling intervals.
func (c *Config) GetDelays() monitor.Delays {
	return monitor.Delays{
		Battery:     durationOr(c.Monitor.DelayBattery, monitor.DefaultDelayBattery),
		IMU:         durationOr(c.Monitor.DelayIMU, monitor.DefaultDelayIMU),
		WheelSpeeds: durationOr(c.Monitor.DelayWheelSpeeds, monitor.DefaultDelayWheelSpeeds),
	}
}

// GetTrackerOptions returns the tracker options.
func (c *Config) GetTrackerOptions() tracker.Options {
	var policy tracker.Policy
	if c.Tracker.Policy != nil {
		policy, _ = parsePolicy(*c.Tracker.Policy)
	}
	return tracker.Options{
		Policy:           policy,
		MaxPendingFrames: intOr(c.Tracker.MaxPendingFrames, tracker.DefaultMaxPendingFrames),
		MaxInFlight:      intOr(c.Tracker.MaxInFlight, tracker.DefaultMaxInFlight),
		MaxPendingTracks: intOr(c.Tracker.MaxPendingTracks, tracker.DefaultMaxPendingTracks),
	}
}

func (c *Config) GetVisionWorkers() int { return intOr(c.Vision.Workers, 1) }

func (c *Config) GetVisionMaxLatency() time.Duration {
	return durationOr(c.Vision.MaxLatency, 0)
}

func (c *Config) GetVisionFriendID() int64 {
	if c.Vision.FriendID == nil {
		return 0
	}
	return *c.Vision.FriendID
}

func (c *Config) GetSampleBuffer() int    { return intOr(c.Samples.Buffer, 4096) }
func (c *Config) GetSampleBatchSize() int { return intOr(c.Samples.BatchSize, 256) }

func (c *Config) GetSampleFlushInterval() time.Duration {
	return durationOr(c.Samples.FlushInterval, time.Second)
}

func (c *Config) GetRecentTracks() int { return intOr(c.RecentTracks, 100) }

// GetLogRotation returns the rotation settings with defaults of 10MB, three
// backups, 28 days and compression on.
func (c *Config) GetLogRotation() (maxSizeMB, maxBackups, maxAgeDays int, compress bool) {
	compress = true
	if c.Log.Compress != nil {
		compress = *c.Log.Compress
	}
	return intOr(c.Log.MaxSizeMB, 10), intOr(c.Log.MaxBackups, 3), intOr(c.Log.MaxAgeDays, 28), compress
}
