package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION TYPES
// ============================================================================

// Config is the root configuration for both the agent and orchestrator
// binaries. Either section may be omitted when only one role runs.
type Config struct {
	Agent        AgentConfig        `yaml:"agent"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// AgentConfig describes a single wrapped agent.
type AgentConfig struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Version      string   `yaml:"version"`
	Capabilities []string `yaml:"capabilities"`
	Keywords     []string `yaml:"keywords"`

	// APIKey is the shared secret callers must present. Empty means
	// open mode: every request is accepted.
	APIKey string `yaml:"api_key"`

	Platform string `yaml:"platform"`
	Region   string `yaml:"region"`
	Service  string `yaml:"service"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Limits LimitsConfig `yaml:"limits"`
}

// LimitsConfig bounds what a single agent accepts.
type LimitsConfig struct {
	MaxTaskLength  int    `yaml:"max_task_length"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RateLimit      string `yaml:"rate_limit"` // "<n>/second|minute|hour", empty disables
	MaxInFlight    int    `yaml:"max_in_flight"`
}

// OrchestratorConfig describes the orchestrator role.
type OrchestratorConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AgentEndpoints are base URLs; the card is fetched from each
	// endpoint's /.well-known/agent.json.
	AgentEndpoints []string `yaml:"agent_endpoints"`

	APIKey                  string `yaml:"api_key"` // forwarded to agents
	RefreshIntervalSeconds  int    `yaml:"refresh_interval_seconds"`
	DiscoveryTimeoutSeconds int    `yaml:"discovery_timeout_seconds"`

	Queue  QueueConfig  `yaml:"queue"`
	Store  StoreConfig  `yaml:"store"`
	Worker WorkerConfig `yaml:"worker"`
}

// QueueConfig selects and tunes the async task queue backend.
type QueueConfig struct {
	Backend string `yaml:"backend"` // "memory" or "redis"
	Name    string `yaml:"name"`

	BufferSize int `yaml:"buffer_size"` // memory backend only

	RedisAddr         string `yaml:"redis_addr"`
	RedisPassword     string `yaml:"redis_password"`
	RedisDB           int    `yaml:"redis_db"`
	Group             string `yaml:"group"`
	BlockSeconds      int    `yaml:"block_seconds"`
	VisibilitySeconds int    `yaml:"visibility_seconds"`
}

// StoreConfig selects the async response store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory" or "sql"
	Dialect string `yaml:"dialect"` // "sqlite", "postgres", "mysql"
	DSN     string `yaml:"dsn"`
}

// WorkerConfig tunes the async worker pool.
type WorkerConfig struct {
	Count            int `yaml:"count"`
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`   // empty means stderr
}

// ============================================================================
// LOADING
// ============================================================================

// Load reads a YAML config file, expanding ${VAR} and ${VAR:-default}
// references before parsing, then applies defaults and validates.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(ExpandEnvVars(string(raw))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config usable without any file.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero values with working defaults.
func (c *Config) SetDefaults() {
	a := &c.Agent
	if a.Name == "" {
		a.Name = "generic-agent"
	}
	if a.Description == "" {
		a.Description = "A generic A2A-wrapped agent"
	}
	if a.Version == "" {
		a.Version = "1.0.0"
	}
	if len(a.Capabilities) == 0 {
		a.Capabilities = []string{"general", "nlp", "conversation"}
	}
	if len(a.Keywords) == 0 {
		a.Keywords = []string{"chat", "assistant", "help"}
	}
	if a.Platform == "" {
		a.Platform = "local"
	}
	if a.Host == "" {
		a.Host = "0.0.0.0"
	}
	if a.Port == 0 {
		a.Port = 8080
	}
	if a.Limits.MaxTaskLength == 0 {
		a.Limits.MaxTaskLength = 10000
	}
	if a.Limits.TimeoutSeconds == 0 {
		a.Limits.TimeoutSeconds = 30
	}
	if a.Limits.RateLimit == "" {
		a.Limits.RateLimit = "100/minute"
	}
	if a.Limits.MaxInFlight == 0 {
		a.Limits.MaxInFlight = 64
	}

	o := &c.Orchestrator
	if o.Host == "" {
		o.Host = "0.0.0.0"
	}
	if o.Port == 0 {
		o.Port = 8000
	}
	if o.RefreshIntervalSeconds == 0 {
		o.RefreshIntervalSeconds = 60
	}
	if o.DiscoveryTimeoutSeconds == 0 {
		o.DiscoveryTimeoutSeconds = 5
	}
	if o.Queue.Backend == "" {
		o.Queue.Backend = "memory"
	}
	if o.Queue.Name == "" {
		o.Queue.Name = "agent-tasks"
	}
	if o.Queue.BufferSize == 0 {
		o.Queue.BufferSize = 1024
	}
	if o.Queue.RedisAddr == "" {
		o.Queue.RedisAddr = "localhost:6379"
	}
	if o.Queue.Group == "" {
		o.Queue.Group = "agentwire-workers"
	}
	if o.Queue.BlockSeconds == 0 {
		o.Queue.BlockSeconds = 5
	}
	if o.Queue.VisibilitySeconds == 0 {
		o.Queue.VisibilitySeconds = 60
	}
	if o.Store.Backend == "" {
		o.Store.Backend = "memory"
	}
	if o.Store.Dialect == "" {
		o.Store.Dialect = "sqlite"
	}
	if o.Store.DSN == "" {
		o.Store.DSN = "agentwire.db"
	}
	if o.Worker.Count == 0 {
		o.Worker.Count = 4
	}
	if o.Worker.MaxAttempts == 0 {
		o.Worker.MaxAttempts = 3
	}
	if o.Worker.InitialBackoffMS == 0 {
		o.Worker.InitialBackoffMS = 200
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Agent.Port < 0 || c.Agent.Port > 65535 {
		return fmt.Errorf("invalid agent port: %d", c.Agent.Port)
	}
	if c.Orchestrator.Port < 0 || c.Orchestrator.Port > 65535 {
		return fmt.Errorf("invalid orchestrator port: %d", c.Orchestrator.Port)
	}
	switch c.Orchestrator.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown queue backend: %q", c.Orchestrator.Queue.Backend)
	}
	switch c.Orchestrator.Store.Backend {
	case "memory", "sql":
	default:
		return fmt.Errorf("unknown store backend: %q", c.Orchestrator.Store.Backend)
	}
	switch c.Orchestrator.Store.Dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unknown store dialect: %q", c.Orchestrator.Store.Dialect)
	}
	if c.Agent.Limits.RateLimit != "" {
		if _, _, err := ParseRateLimit(c.Agent.Limits.RateLimit); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// RATE LIMIT PARSING
// ============================================================================

// ParseRateLimit parses a "<count>/<window>" limit such as "100/minute"
// into events-per-second and a burst size equal to the count.
func ParseRateLimit(s string) (perSecond float64, burst int, err error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid rate limit %q: want <count>/<window>", s)
	}

	count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || count <= 0 {
		return 0, 0, fmt.Errorf("invalid rate limit count in %q", s)
	}

	var windowSeconds float64
	switch strings.TrimSpace(strings.ToLower(parts[1])) {
	case "second":
		windowSeconds = 1
	case "minute":
		windowSeconds = 60
	case "hour":
		windowSeconds = 3600
	default:
		return 0, 0, fmt.Errorf("invalid rate limit window in %q: want second, minute or hour", s)
	}

	return float64(count) / windowSeconds, count, nil
}
