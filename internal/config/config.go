package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LogConfig                 `yaml:"log"`
	Swarm     SwarmConfig               `yaml:"swarm"`
	Bus       BusConfig                 `yaml:"bus"`
	Agent     AgentConfig               `yaml:"agent"`
	NATS      NATSConfig                `yaml:"nats"`
	Store     StoreConfig               `yaml:"store"`
	Web       WebConfig                 `yaml:"web"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	Templates map[string]TemplateConfig `yaml:"templates"`
	Agents    []AgentSpec               `yaml:"agents"`
	Schedules map[string]ScheduleConfig `yaml:"schedules"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

type SwarmConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	TaskTimeout       time.Duration `yaml:"task_timeout"`
	HealthInterval    time.Duration `yaml:"health_interval"`
	LoadBalancing     bool          `yaml:"load_balancing"`
	MaxCollaborators  int           `yaml:"max_collaborators"`
	PollTimeout       time.Duration `yaml:"poll_timeout"`
	DependencyBackoff time.Duration `yaml:"dependency_backoff"`
	NoAgentBackoff    time.Duration `yaml:"no_agent_backoff"`
}

type BusConfig struct {
	HistoryLimit int  `yaml:"history_limit"`
	Archive      bool `yaml:"archive"`
}

type AgentConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MailboxSize       int           `yaml:"mailbox_size"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Port        int     `yaml:"port"`
	SubmitRate  float64 `yaml:"submit_rate"` // submissions per second, 0 disables limiting
	SubmitBurst int     `yaml:"submit_burst"`

	// AllowedOrigins restricts websocket upgrades; empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type CapabilityConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tools       []string `yaml:"tools"`
	Confidence  float64  `yaml:"confidence"`
}

// TemplateConfig is a named agent recipe. Type selects the registered
// agent body factory.
type TemplateConfig struct {
	Type         string             `yaml:"type"`
	Name         string             `yaml:"name"`
	Role         string             `yaml:"role"`
	Description  string             `yaml:"description"`
	Capabilities []CapabilityConfig `yaml:"capabilities"`
	Params       map[string]any     `yaml:"params"`
}

// AgentSpec describes agents spawned at gateway startup, either from a
// template or directly from a registered type.
type AgentSpec struct {
	Template     string             `yaml:"template"`
	Type         string             `yaml:"type"`
	Name         string             `yaml:"name"`
	Role         string             `yaml:"role"`
	Count        int                `yaml:"count"`
	Capabilities []CapabilityConfig `yaml:"capabilities"`
	Params       map[string]any     `yaml:"params"`
}

// ScheduleConfig is a recurring task submission. Schedule accepts a cron
// expression or the JSON schedule form understood by the schedule package.
type ScheduleConfig struct {
	Schedule     string         `yaml:"schedule"`
	Type         string         `yaml:"type"`
	Description  string         `yaml:"description"`
	Requirements []string       `yaml:"requirements"`
	Priority     int            `yaml:"priority"`
	Payload      map[string]any `yaml:"payload"`
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Swarm: SwarmConfig{
			MaxRetries:        3,
			TaskTimeout:       300 * time.Second,
			HealthInterval:    30 * time.Second,
			LoadBalancing:     true,
			MaxCollaborators:  3,
			PollTimeout:       time.Second,
			DependencyBackoff: time.Second,
			NoAgentBackoff:    5 * time.Second,
		},
		Bus: BusConfig{
			HistoryLimit: 1000,
		},
		Agent: AgentConfig{
			HeartbeatInterval: 30 * time.Second,
			MailboxSize:       100,
		},
		NATS: NATSConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/swarmbot.db",
		},
		Web: WebConfig{
			Enabled:     true,
			Port:        8080,
			SubmitRate:  20,
			SubmitBurst: 40,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

// Defaults returns the built-in configuration without reading any file or
// environment variable.
func Defaults() Config {
	return defaults()
}

func Load() (*Config, error) {
	path := os.Getenv("SWARMBOT_CONFIG")
	if path == "" {
		path = "config/swarmbot.yaml"
	}
	return LoadFile(path)
}

// LoadFile reads the config at path. A missing file yields defaults plus
// environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Swarm.MaxRetries < 0 {
		return fmt.Errorf("swarm.max_retries must not be negative")
	}
	if c.Swarm.MaxCollaborators < 1 {
		return fmt.Errorf("swarm.max_collaborators must be at least 1")
	}
	if c.Bus.HistoryLimit < 0 {
		return fmt.Errorf("bus.history_limit must not be negative")
	}
	for name, s := range c.Schedules {
		if s.Schedule == "" {
			return fmt.Errorf("schedule %q: missing schedule expression", name)
		}
		if s.Type == "" {
			return fmt.Errorf("schedule %q: missing task type", name)
		}
	}
	for i, a := range c.Agents {
		if a.Template == "" && a.Type == "" {
			return fmt.Errorf("agents[%d]: template or type is required", i)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SWARMBOT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SWARMBOT_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SWARMBOT_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Swarm.MaxRetries = n
		}
	}
	if v := os.Getenv("SWARMBOT_TASK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Swarm.TaskTimeout = d
		}
	}
	if v := os.Getenv("SWARMBOT_LOAD_BALANCING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Swarm.LoadBalancing = b
		}
	}
	if v := os.Getenv("SWARMBOT_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("SWARMBOT_NATS_HOST"); v != "" {
		cfg.NATS.Host = v
	}
	if v := os.Getenv("SWARMBOT_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("SWARMBOT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
}
