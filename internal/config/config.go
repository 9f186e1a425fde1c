// Package config loads AgentSet configuration from a TOML file plus
// environment overrides, the same layered approach as the teacher's
// config.Config / config.AgentConfig nesting.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the full AgentSet process configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Services  ServicesConfig  `toml:"services"`
	Security  SecurityConfig  `toml:"security"`
	Tuning    TuningConfig    `toml:"tuning"`
	Database  DatabaseConfig  `toml:"database"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// TelemetryConfig controls distributed tracing export across step
// execution, delegation, conflict resolution and lifecycle checkpoints
// (internal/telemetry), mirroring the teacher's config.TelemetryConfig.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	Protocol string `toml:"protocol"` // otlp, noop
}

// DatabaseConfig holds the Postgres DSN backing internal/persistence, this
// AgentSet's local dev/test double of Librarian.
type DatabaseConfig struct {
	DSN string `toml:"dsn"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns "host:port" for http.Server.Addr.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// ServicesConfig holds the base URLs of out-of-scope collaborators this
// AgentSet talks to (spec §1, §6 env vars). URLs are host:port; callers add
// the scheme.
type ServicesConfig struct {
	PostOfficeURL          string `toml:"postoffice_url"`
	BrainURL               string `toml:"brain_url"`
	LibrarianURL           string `toml:"librarian_url"`
	TrafficManagerURL      string `toml:"traffic_manager_url"`
	MissionControlURL      string `toml:"missioncontrol_url"`
	SecurityManagerURL     string `toml:"securitymanager_url"`
	CapabilitiesManagerURL string `toml:"capabilitiesmanager_url"`
	RabbitMQURL            string `toml:"rabbitmq_url"`
}

// SecurityConfig holds the shared service-to-service bearer token.
type SecurityConfig struct {
	ClientSecret string `toml:"client_secret"`
}

// TuningConfig holds AgentSet-level knobs not named directly by spec §6 but
// needed to run the supervisor (max concurrent agents, checkpoint cadence,
// health-monitor cadence). Durations follow the teacher's convention of
// parseable strings (e.g. "30s") rather than raw TOML integers.
type TuningConfig struct {
	MaxAgents                  int    `toml:"max_agents"`
	CheckpointIntervalStr      string `toml:"checkpoint_interval"`
	HealthMonitorIntervalStr   string `toml:"health_monitor_interval"`
	DelegationTimeoutStr       string `toml:"delegation_timeout"`
	ConflictDefaultDeadlineStr string `toml:"conflict_default_deadline"`
}

// CheckpointInterval parses CheckpointIntervalStr, defaulting to 15m.
func (t TuningConfig) CheckpointInterval() time.Duration {
	return parseDurationOr(t.CheckpointIntervalStr, 15*time.Minute)
}

// HealthMonitorInterval parses HealthMonitorIntervalStr, defaulting to 60s.
func (t TuningConfig) HealthMonitorInterval() time.Duration {
	return parseDurationOr(t.HealthMonitorIntervalStr, 60*time.Second)
}

// DelegationTimeout parses DelegationTimeoutStr, defaulting to 60s (spec §4.4).
func (t TuningConfig) DelegationTimeout() time.Duration {
	return parseDurationOr(t.DelegationTimeoutStr, 60*time.Second)
}

// ConflictDefaultDeadline parses ConflictDefaultDeadlineStr, defaulting to 5m.
func (t TuningConfig) ConflictDefaultDeadline() time.Duration {
	return parseDurationOr(t.ConflictDefaultDeadlineStr, 5*time.Minute)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 9000,
		},
		Tuning: TuningConfig{
			MaxAgents:                  500,
			CheckpointIntervalStr:      "15m",
			HealthMonitorIntervalStr:   "60s",
			DelegationTimeoutStr:       "60s",
			ConflictDefaultDeadlineStr: "5m",
		},
		Database: DatabaseConfig{
			DSN: "postgres://localhost:5432/agentset?sslmode=disable",
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
	}
}

// LoadFile loads configuration from a TOML file, starting from defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault loads agentset.toml from the current directory if present,
// then loads a .env file (if present) and applies environment overrides.
// Missing files of either kind are not an error.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: getwd: %w", err)
	}

	cfg := New()
	tomlPath := filepath.Join(cwd, "agentset.toml")
	if _, statErr := os.Stat(tomlPath); statErr == nil {
		cfg, err = LoadFile(tomlPath)
		if err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load(filepath.Join(cwd, ".env"))
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overlays the spec §6 environment variables onto cfg, taking
// precedence over TOML values when set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("POSTOFFICE_URL"); v != "" {
		c.Services.PostOfficeURL = v
	}
	if v := os.Getenv("BRAIN_URL"); v != "" {
		c.Services.BrainURL = v
	}
	if v := os.Getenv("LIBRARIAN_URL"); v != "" {
		c.Services.LibrarianURL = v
	}
	if v := os.Getenv("TRAFFIC_MANAGER_URL"); v != "" {
		c.Services.TrafficManagerURL = v
	}
	if v := os.Getenv("MISSIONCONTROL_URL"); v != "" {
		c.Services.MissionControlURL = v
	}
	if v := os.Getenv("SECURITYMANAGER_URL"); v != "" {
		c.Services.SecurityManagerURL = v
	}
	if v := os.Getenv("CLIENT_SECRET"); v != "" {
		c.Security.ClientSecret = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		c.Services.RabbitMQURL = v
	}
	if v := os.Getenv("CAPABILITIESMANAGER_URL"); v != "" {
		c.Services.CapabilitiesManagerURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Protocol = "otlp"
		c.Telemetry.Enabled = true
	}
}
