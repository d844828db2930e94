// Package config provides configuration parsing and validation for relaychat.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete relaychat configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Relay     RelayConfig     `yaml:"relay"`
	Peer      PeerConfig      `yaml:"peer"`
	Allocator AllocatorConfig `yaml:"allocator"`
	Health    HealthConfig    `yaml:"health"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// RelayConfig configures the server side.
type RelayConfig struct {
	Address        string `yaml:"address"` // bind address for both transports
	Port           int    `yaml:"port"`
	ReadBufferSize int    `yaml:"read_buffer_size"`

	// FrameRate limits inbound chat frames per second per session.
	// Zero disables the limit.
	FrameRate  float64 `yaml:"frame_rate"`
	FrameBurst int     `yaml:"frame_burst"`
}

// PeerConfig configures the client side.
type PeerConfig struct {
	RelayAddress   string `yaml:"relay_address"`
	Port           int    `yaml:"port"`
	Name           string `yaml:"name"`
	ReadBufferSize int    `yaml:"read_buffer_size"`
}

// AllocatorConfig configures the local address counter file.
type AllocatorConfig struct {
	CounterFile string `yaml:"counter_file"`
	Base        int    `yaml:"base"`
	Prefix      string `yaml:"prefix"`
}

// HealthConfig defines the health and metrics HTTP server.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Relay: RelayConfig{
			Address:        "127.0.0.1",
			Port:           5000,
			ReadBufferSize: 1024,
			FrameRate:      0,
			FrameBurst:     10,
		},
		Peer: PeerConfig{
			RelayAddress:   "127.0.0.1",
			Port:           5000,
			ReadBufferSize: 1024,
		},
		Allocator: AllocatorConfig{
			CounterFile: "client_counter.txt",
			Base:        2,
			Prefix:      "127.0.0.",
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      "127.0.0.1:9090",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// LoadOrDefault loads path, or returns defaults when the file does not
// exist or path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Parse parses configuration from YAML bytes on top of the defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes the default configuration to path.
// It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
// ${VAR:-default} falls back to default; unknown references are kept.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if varName, defaultVal, ok := strings.Cut(name, ":-"); ok {
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if net.ParseIP(c.Relay.Address) == nil {
		errs = append(errs, fmt.Sprintf("relay.address: invalid IP address: %q", c.Relay.Address))
	}
	if !isValidPort(c.Relay.Port) {
		errs = append(errs, "relay.port must be between 0 and 65535")
	}
	if c.Relay.ReadBufferSize < 64 {
		errs = append(errs, "relay.read_buffer_size must be at least 64")
	}
	if c.Relay.FrameRate < 0 {
		errs = append(errs, "relay.frame_rate must not be negative")
	}
	if c.Relay.FrameRate > 0 && c.Relay.FrameBurst < 1 {
		errs = append(errs, "relay.frame_burst must be positive when frame_rate is set")
	}

	if c.Peer.RelayAddress == "" {
		errs = append(errs, "peer.relay_address is required")
	}
	if !isValidPort(c.Peer.Port) {
		errs = append(errs, "peer.port must be between 0 and 65535")
	}
	if c.Peer.ReadBufferSize < 64 {
		errs = append(errs, "peer.read_buffer_size must be at least 64")
	}

	if c.Allocator.CounterFile == "" {
		errs = append(errs, "allocator.counter_file is required")
	}
	if c.Allocator.Base < 1 || c.Allocator.Base > 254 {
		errs = append(errs, "allocator.base must be between 1 and 254")
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

func isValidPort(port int) bool {
	return port >= 0 && port <= 65535
}

// RelayListenAddress returns host:port for the relay listeners.
func (c *Config) RelayListenAddress() string {
	return net.JoinHostPort(c.Relay.Address, fmt.Sprint(c.Relay.Port))
}

// String returns the YAML form of the config.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
