// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML "1s"/"500ms" strings.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string (e.g., \"2s\"): %w", err)
	}
	s = expandEnvDefault(s)
	if s == "" {
		d.Duration = 0
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dd
	return nil
}

// ServerConfig is signetd's configuration.
type ServerConfig struct {
	LogLevel string `yaml:"logLevel"` // info | debug | warn | error

	Server struct {
		Listen     string `yaml:"listen"`     // e.g., ":37687"
		StorageDir string `yaml:"storageDir"` // e.g., "storage"
		Workers    int    `yaml:"workers"`    // worker pool size
	} `yaml:"server"`

	Enqueue struct {
		Timeout Duration `yaml:"timeout"` // follow-up read timeout, e.g. "1s"
	} `yaml:"enqueue"`

	HTTP struct {
		Listen string `yaml:"listen"` // healthz/metrics/debug sidecar, e.g. ":9090"
	} `yaml:"http"`

	Metrics struct {
		Enable bool   `yaml:"enable"`
		Path   string `yaml:"path"` // e.g., "/metrics"
	} `yaml:"metrics"`

	Stats struct {
		Enable        bool     `yaml:"enable"`
		FlushInterval Duration `yaml:"flushInterval"`
	} `yaml:"stats"`

	Heartbeat struct {
		Enable   bool     `yaml:"enable"`
		Interval Duration `yaml:"interval"`
	} `yaml:"heartbeat"`
}

// LoadServer reads, environment-expands, parses YAML, applies defaults, and
// validates a server configuration. A missing file is not an error: the
// documented CLI defaults (§6 of SPEC_FULL.md) apply.
func LoadServer(path string) (*ServerConfig, error) {
	var cfg ServerConfig
	b, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyServerDefaults(&cfg)
			return &cfg, validateServer(&cfg)
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	cfg.LogLevel = expandEnvDefault(cfg.LogLevel)
	cfg.Server.Listen = expandEnvDefault(cfg.Server.Listen)
	cfg.Server.StorageDir = expandEnvDefault(cfg.Server.StorageDir)
	cfg.HTTP.Listen = expandEnvDefault(cfg.HTTP.Listen)
	cfg.Metrics.Path = expandEnvDefault(cfg.Metrics.Path)

	applyServerDefaults(&cfg)

	if err := validateServer(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyServerDefaults(c *ServerConfig) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":37687"
	}
	if c.Server.StorageDir == "" {
		c.Server.StorageDir = "storage"
	}
	if c.Server.Workers == 0 {
		c.Server.Workers = 8
	}
	if c.Enqueue.Timeout.Duration == 0 {
		c.Enqueue.Timeout = Duration{Duration: 1000 * time.Millisecond}
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Stats.FlushInterval.Duration == 0 {
		c.Stats.FlushInterval = Duration{Duration: 10 * time.Second}
	}
	if c.Heartbeat.Interval.Duration == 0 {
		c.Heartbeat.Interval = Duration{Duration: 10 * time.Second}
	}
}

func validateServer(c *ServerConfig) error {
	if c.Server.Workers <= 0 {
		return errors.New("server.workers must be positive")
	}
	if c.Enqueue.Timeout.Duration <= 0 {
		return errors.New("enqueue.timeout must be positive")
	}
	return nil
}

// ClientConfig is signetctl's configuration.
type ClientConfig struct {
	ServerAddr string `yaml:"serverAddr"` // e.g., "localhost:37687"
	DataDir    string `yaml:"dataDir"`    // local keypair/username store; "" -> signetctl uses "fver"
}

// LoadClient applies the same env-expansion/defaults discipline as
// LoadServer, for the much smaller client surface.
func LoadClient(path string) (*ClientConfig, error) {
	var cfg ClientConfig
	b, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyClientDefaults(&cfg)
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.ServerAddr = expandEnvDefault(cfg.ServerAddr)
	cfg.DataDir = expandEnvDefault(cfg.DataDir)
	applyClientDefaults(&cfg)
	return &cfg, nil
}

func applyClientDefaults(c *ClientConfig) {
	if c.ServerAddr == "" {
		c.ServerAddr = "localhost:37687"
	}
}

// --- env expansion with ${VAR} and ${VAR:default} ---

var envRe = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvDefault replaces ${VAR} with os.Getenv("VAR"),
// and ${VAR:default} with env value or "default" if unset.
func expandEnvDefault(s string) string {
	if s == "" {
		return s
	}
	return envRe.ReplaceAllStringFunc(s, func(m string) string {
		parts := envRe.FindStringSubmatch(m)
		if len(parts) != 3 {
			return m
		}
		name := parts[1]
		def := parts[2]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return def
	})
}
