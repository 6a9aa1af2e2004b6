// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"firespread-sim/internal/fire"
)

// APIConfig describes how to reach the remote simulation service.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig tunes the orchestrator's reconnection and fallback behavior.
type SessionConfig struct {
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	FallbackTick         time.Duration `yaml:"fallback_tick"`
	ProbeSchedule        string        `yaml:"probe_schedule"`
}

// PointConfig is an ignition point declared in configuration.
type PointConfig struct {
	Lat float64 `yaml:"lat"`
	Lng float64 `yaml:"lng"`
}

// Defaults seeds the editor when no scenario is loaded.
type Defaults struct {
	Parameters     *fire.SimulationParameters `yaml:"parameters"`
	IgnitionPoints []PointConfig              `yaml:"ignition_points"`
}

// ServerConfig configures the reference simulation service.
type ServerConfig struct {
	Listen string        `yaml:"listen"`
	DBPath string        `yaml:"db_path"`
	Tick   time.Duration `yaml:"tick"`
}

// AdminConfig configures the admin HTTP surface.
type AdminConfig struct {
	Listen string `yaml:"listen"`
}

// GreptimeConfig configures frame recording into GreptimeDB.
type GreptimeConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Database      string `yaml:"database"`
	FireCellTable string `yaml:"fire_cell_table"`
	StatusTable   string `yaml:"status_table"`
}

// Config is the root configuration of the client and the reference service.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Session  SessionConfig  `yaml:"session"`
	Defaults Defaults       `yaml:"defaults"`
	Server   ServerConfig   `yaml:"server"`
	Admin    AdminConfig    `yaml:"admin"`
	Greptime GreptimeConfig `yaml:"greptime"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load loads YAML config and validates it against a CUE schema
func Load(configPath, cueSchemaPath string) (*Config, error) {
	if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with the built-in defaults.
func (c *Config) ApplyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:8000"
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = 5 * time.Second
	}
	if c.Session.MaxReconnectAttempts <= 0 {
		c.Session.MaxReconnectAttempts = 3
	}
	if c.Session.ReconnectDelay <= 0 {
		c.Session.ReconnectDelay = 2 * time.Second
	}
	if c.Session.FallbackTick <= 0 {
		c.Session.FallbackTick = time.Second
	}
	if c.Defaults.Parameters == nil {
		p := fire.DefaultParameters()
		c.Defaults.Parameters = &p
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8000"
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = "firespread.db"
	}
	if c.Server.Tick <= 0 {
		c.Server.Tick = time.Second
	}
	if c.Admin.Listen == "" {
		c.Admin.Listen = ":8080"
	}
	if c.Greptime.Database == "" {
		c.Greptime.Database = "public"
	}
	if c.Greptime.FireCellTable == "" {
		c.Greptime.FireCellTable = "fire_cells"
	}
	if c.Greptime.StatusTable == "" {
		c.Greptime.StatusTable = "connection_status"
	}
}

// ApplyEnv overrides values from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv("FIRESPREAD_API_URL")); v != "" {
		c.API.BaseURL = v
	}
	if v := getenv("FIRESPREAD_API_KEY"); v != "" {
		c.API.APIKey = v
	}
	if v := getenv("FIRESPREAD_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FIRESPREAD_TIMEOUT: %w", err)
		}
		c.API.Timeout = d
	}
	if v := getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		c.Greptime.Endpoint = v
	}
	if v := getenv("GREPTIMEDB_DATABASE"); v != "" {
		c.Greptime.Database = v
	}
	if v := getenv("FIRE_CELL_TABLE"); v != "" {
		c.Greptime.FireCellTable = v
	}
	if v := getenv("CONNECTION_STATUS_TABLE"); v != "" {
		c.Greptime.StatusTable = v
	}
	return nil
}

// Validate checks the semantic constraints the schema cannot express.
func (c *Config) Validate() error {
	if c.Defaults.Parameters != nil {
		if err := c.Defaults.Parameters.Validate(); err != nil {
			return fmt.Errorf("defaults: %w", err)
		}
	}
	for i, p := range c.Defaults.IgnitionPoints {
		if err := (fire.IgnitionPoint{Lat: p.Lat, Lng: p.Lng}).Validate(); err != nil {
			return fmt.Errorf("defaults: ignition point %d: %w", i, err)
		}
	}
	return nil
}

// Points converts the configured points into ignition points.
func (d Defaults) Points(now time.Time) ([]fire.IgnitionPoint, error) {
	points := make([]fire.IgnitionPoint, 0, len(d.IgnitionPoints))
	for _, p := range d.IgnitionPoints {
		ip, err := fire.NewIgnitionPoint(p.Lat, p.Lng, now)
		if err != nil {
			return nil, err
		}
		points = append(points, ip)
	}
	return points, nil
}
