// YAML config loader for swarm runs. CLI flags override file values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"darkages-swarm/movement"
)

// Server identifies the game server under test.
type Server struct {
	Host           string `yaml:"host"`
	Port           uint   `yaml:"port"`
	MonitoringPort uint   `yaml:"monitoring_port"`
}

// Swarm sizes and paces the run.
type Swarm struct {
	Bots                int     `yaml:"bots"`
	DurationSeconds     int     `yaml:"duration_seconds"`
	Pattern             string  `yaml:"pattern"`
	InputRateHz         int     `yaml:"input_rate_hz"`
	ConnectBatchSize    int     `yaml:"connect_batch_size"`
	ConnectBatchPauseMs int     `yaml:"connect_batch_pause_ms"`
	AcceptanceRate      float64 `yaml:"acceptance_rate"`
}

// ConnectBatchPause returns the batch pause as a duration.
func (s Swarm) ConnectBatchPause() time.Duration {
	return time.Duration(s.ConnectBatchPauseMs) * time.Millisecond
}

// Budget carries the thresholds the run is validated against.
type Budget struct {
	MaxUpstreamBytesPerSec   float64 `yaml:"max_upstream_bytes_per_sec"`
	MaxDownstreamBytesPerSec float64 `yaml:"max_downstream_bytes_per_sec"`
	ExpectedSnapshotRateHz   float64 `yaml:"expected_snapshot_rate_hz"`
	MinSnapshotFraction      float64 `yaml:"min_snapshot_fraction"`
}

// Metrics enables the live scrape endpoint when Port is non-zero.
type Metrics struct {
	Port uint `yaml:"port"`
}

// Trace enables compressed packet capture when File is non-empty.
type Trace struct {
	File string `yaml:"file"`
}

type Log struct {
	Level int    `yaml:"level"`
	Path  string `yaml:"path"`
}

// Config is the root run configuration.
type Config struct {
	Server  Server  `yaml:"server"`
	Swarm   Swarm   `yaml:"swarm"`
	Budget  Budget  `yaml:"budget"`
	Metrics Metrics `yaml:"metrics"`
	Trace   Trace   `yaml:"trace"`
	Log     Log     `yaml:"log"`
	Report  string  `yaml:"report"`
}

// Default returns the configuration matching the production server's
// declared constants.
func Default() *Config {
	return &Config{
		Server: Server{
			Host:           "127.0.0.1",
			Port:           7777,
			MonitoringPort: 8080,
		},
		Swarm: Swarm{
			Bots:                100,
			DurationSeconds:     30,
			Pattern:             "",
			InputRateHz:         60,
			ConnectBatchSize:    100,
			ConnectBatchPauseMs: 500,
			AcceptanceRate:      0.95,
		},
		Budget: Budget{
			MaxUpstreamBytesPerSec:   2048,
			MaxDownstreamBytesPerSec: 20480,
			ExpectedSnapshotRateHz:   20,
			MinSnapshotFraction:      0.8,
		},
		Log: Log{
			Path: "logs",
		},
		Report: "swarm_report.json",
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q failed: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q failed: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the orchestrator cannot run.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server host must not be empty")
	}
	if c.Server.Port == 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Swarm.Bots <= 0 {
		return fmt.Errorf("bot count must be positive, got %d", c.Swarm.Bots)
	}
	if c.Swarm.DurationSeconds <= 0 {
		return fmt.Errorf("duration must be positive, got %ds", c.Swarm.DurationSeconds)
	}
	if c.Swarm.InputRateHz <= 0 {
		return fmt.Errorf("input rate must be positive, got %d", c.Swarm.InputRateHz)
	}
	if c.Swarm.AcceptanceRate < 0 || c.Swarm.AcceptanceRate > 1 {
		return fmt.Errorf("acceptance rate %.2f outside [0, 1]", c.Swarm.AcceptanceRate)
	}
	if c.Swarm.Pattern != "" {
		if _, err := movement.ParsePattern(c.Swarm.Pattern); err != nil {
			return err
		}
	}
	if c.Budget.MaxUpstreamBytesPerSec <= 0 || c.Budget.MaxDownstreamBytesPerSec <= 0 {
		return fmt.Errorf("bandwidth budgets must be positive")
	}
	if c.Budget.ExpectedSnapshotRateHz <= 0 {
		return fmt.Errorf("expected snapshot rate must be positive")
	}
	if c.Budget.MinSnapshotFraction <= 0 || c.Budget.MinSnapshotFraction > 1 {
		return fmt.Errorf("snapshot fraction %.2f outside (0, 1]", c.Budget.MinSnapshotFraction)
	}
	return nil
}
