// Package config defines the engine configuration: file format, defaults,
// validation, and hot reload.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/meshflow/meshflow/pkg/tools"
)

const (
	// DefaultListenAddr is used when neither config nor LISTEN_ADDR say
	// otherwise.
	DefaultListenAddr = "0.0.0.0:5099"

	defaultHost = "0.0.0.0"
	defaultPort = 5099
)

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = defaultHost
	}
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Port)
	}
	return nil
}

// EngineConfig tunes execution scheduling and retry behavior.
type EngineConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	AdmissionCap  int           `yaml:"admission_cap"`
	RecordCap     int           `yaml:"record_cap"`
	Retention     time.Duration `yaml:"retention"`
	MaxRetries    int           `yaml:"max_retries"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
}

func (c *EngineConfig) SetDefaults() {
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 64
	}
	if c.AdmissionCap == 0 {
		c.AdmissionCap = 1024
	}
	if c.RecordCap == 0 {
		c.RecordCap = 10_000
	}
	if c.Retention == 0 {
		c.Retention = time.Hour
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.ToolTimeout == 0 {
		c.ToolTimeout = 10 * time.Second
	}
}

func (c *EngineConfig) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("engine.max_concurrent must be positive")
	}
	if c.AdmissionCap < c.MaxConcurrent {
		return fmt.Errorf("engine.admission_cap %d below max_concurrent %d",
			c.AdmissionCap, c.MaxConcurrent)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must not be negative")
	}
	return nil
}

// PersistenceConfig enables the terminal-record file sink.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

func (c *PersistenceConfig) Validate() error {
	if c.Enabled && c.Dir == "" {
		return fmt.Errorf("persistence.dir is required when persistence is enabled")
	}
	return nil
}

// LoggingConfig mirrors the logger package options.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// TracingConfig controls span export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Pretty       bool    `yaml:"pretty"`
}

// Config is the root document.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Engine      EngineConfig      `yaml:"engine"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
	// Services are applied to the tool registry at startup.
	Services []tools.ServiceDescriptor `yaml:"services"`
}

func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Engine.SetDefaults()
	c.Logging.SetDefaults()
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Persistence.Validate(); err != nil {
		return err
	}
	return nil
}

// ListenAddr resolves the bind address. LISTEN_ADDR overrides the config
// file.
func (c *Config) ListenAddr() string {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		return addr
	}
	if c == nil {
		return DefaultListenAddr
	}
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Default returns a fully-defaulted in-memory configuration, used when no
// config file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}
