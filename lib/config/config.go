// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file consulted by Load.
const EnvironmentVariable = "BROWSERPIPE_CONFIG"

// Config is the complete configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

// ServerConfig configures the hub.
type ServerConfig struct {
	// Host is the listen host. Default: 127.0.0.1 (local-only).
	Host string `yaml:"host"`

	// Port is the listen port. 0 asks the OS for a free port.
	Port int `yaml:"port"`

	// FallbackPorts are tried in order when Port is already taken.
	// Keep them in step with client.candidate_ports so discovery
	// finds a hub that had to move.
	FallbackPorts []int `yaml:"fallback_ports"`

	// CollectPath receives POSTed telemetry batches.
	CollectPath string `yaml:"collect_path"`

	// HealthPath answers liveness probes from producers.
	HealthPath string `yaml:"health_path"`

	// ChannelPath upgrades to the WebSocket session channel.
	ChannelPath string `yaml:"channel_path"`

	// PingInterval is the liveness sweep period. A connection that
	// has not answered the previous ping when the next sweep runs is
	// terminated.
	PingInterval time.Duration `yaml:"ping_interval"`

	// IdleAfter is how long without an update before a session is
	// reported as idle. Informational only.
	IdleAfter time.Duration `yaml:"idle_after"`

	// TailBuffer is the per-subscriber event buffer of the live tail.
	TailBuffer int `yaml:"tail_buffer"`

	// AllowedOrigins are WebSocket origin patterns accepted by the
	// session channel. "*" accepts any page.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxBodyBytes bounds a decompressed collector request body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Addresses returns Address followed by one address per fallback
// port, skipping repeats.
func (s ServerConfig) Addresses() []string {
	addresses := []string{s.Address()}
	seen := map[int]bool{s.Port: true}
	for _, port := range s.FallbackPorts {
		if seen[port] {
			continue
		}
		seen[port] = true
		addresses = append(addresses, net.JoinHostPort(s.Host, strconv.Itoa(port)))
	}
	return addresses
}

// ClientConfig configures producers and the batching transport.
type ClientConfig struct {
	// Application identifies the producer (X-Application-Name).
	Application string `yaml:"application"`

	// Endpoint is the default collector base URL, used when discovery
	// finds nothing.
	Endpoint string `yaml:"endpoint"`

	// Host and CandidatePorts define the discovery probe order:
	// http://Host:port for each port.
	Host           string `yaml:"host"`
	CandidatePorts []int  `yaml:"candidate_ports"`

	CollectPath string `yaml:"collect_path"`
	HealthPath  string `yaml:"health_path"`
	ChannelPath string `yaml:"channel_path"`

	MaxBatchSize      int           `yaml:"max_batch_size"`
	BatchTimeout      time.Duration `yaml:"batch_timeout"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`

	MaxRetries      int           `yaml:"max_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	RetryMultiplier float64       `yaml:"retry_multiplier"`
	RetryInterval   time.Duration `yaml:"retry_interval"`

	// MaxQueueSize bounds the retry queue. 0 leaves it unbounded.
	MaxQueueSize int `yaml:"max_queue_size"`

	// Compression is the Content-Encoding used for large payloads:
	// gzip, zstd, lz4 or none.
	Compression          string `yaml:"compression"`
	CompressionThreshold int    `yaml:"compression_threshold"`

	HealthInterval time.Duration `yaml:"health_interval"`
	PollInterval   time.Duration `yaml:"poll_interval"`

	Features FeatureConfig `yaml:"features"`
}

// FeatureConfig toggles what producers capture.
type FeatureConfig struct {
	Console bool `yaml:"console"`
	Network bool `yaml:"network"`
	Storage bool `yaml:"storage"`
}

// Default returns the development defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8787,
			FallbackPorts:  []int{8788, 8789, 3001},
			CollectPath:    "/telemetry",
			HealthPath:     "/health",
			ChannelPath:    "/ws",
			PingInterval:   30 * time.Second,
			IdleAfter:      time.Minute,
			TailBuffer:     256,
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   8 << 20,
		},
		Client: ClientConfig{
			Application:          "browserpipe",
			Endpoint:             "http://127.0.0.1:8787",
			Host:                 "127.0.0.1",
			CandidatePorts:       []int{8787, 8788, 8789, 3001},
			CollectPath:          "/telemetry",
			HealthPath:           "/health",
			ChannelPath:          "/ws",
			MaxBatchSize:         50,
			BatchTimeout:         time.Second,
			ConnectionTimeout:    5 * time.Second,
			MaxRetries:           3,
			RetryBaseDelay:       time.Second,
			RetryMaxDelay:        30 * time.Second,
			RetryMultiplier:      2,
			RetryInterval:        5 * time.Second,
			Compression:          "gzip",
			CompressionThreshold: 1024,
			HealthInterval:       30 * time.Second,
			PollInterval:         time.Second,
			Features:             FeatureConfig{Console: true, Network: true, Storage: true},
		},
	}
}

// Load loads the file named by BROWSERPIPE_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads path over the defaults and expands variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.decode(filepath.Ext(path), data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

// decode merges data into c. JSON(C) is normalized to YAML first so
// both formats share the yaml tags and duration parsing ("5s").
func (c *Config) decode(extension string, data []byte) error {
	switch strings.ToLower(extension) {
	case ".json", ".jsonc":
		var document map[string]any
		if err := json.Unmarshal(jsonc.ToJSON(data), &document); err != nil {
			return fmt.Errorf("parsing JSON config: %w", err)
		}
		normalized, err := yaml.Marshal(document)
		if err != nil {
			return fmt.Errorf("normalizing JSON config: %w", err)
		}
		data = normalized
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

func (c *Config) expandVariables() {
	c.Server.Host = expandVars(c.Server.Host)
	c.Client.Application = expandVars(c.Client.Application)
	c.Client.Endpoint = expandVars(c.Client.Endpoint)
	c.Client.Host = expandVars(c.Client.Host)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default} with environment
// values.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	for _, port := range c.Server.FallbackPorts {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("server.fallback_ports: %d out of range", port))
		}
	}
	for name, path := range map[string]string{
		"server.collect_path": c.Server.CollectPath,
		"server.health_path":  c.Server.HealthPath,
		"server.channel_path": c.Server.ChannelPath,
		"client.collect_path": c.Client.CollectPath,
		"client.health_path":  c.Client.HealthPath,
		"client.channel_path": c.Client.ChannelPath,
	} {
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, fmt.Errorf("%s must start with /: %q", name, path))
		}
	}
	if c.Server.PingInterval <= 0 {
		errs = append(errs, fmt.Errorf("server.ping_interval must be positive"))
	}
	if c.Client.Endpoint == "" {
		errs = append(errs, fmt.Errorf("client.endpoint is required"))
	}
	if c.Client.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("client.max_batch_size must be positive"))
	}
	if c.Client.BatchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("client.batch_timeout must be positive"))
	}
	if c.Client.ConnectionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("client.connection_timeout must be positive"))
	}
	if c.Client.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("client.max_retries must not be negative"))
	}
	if c.Client.RetryMultiplier < 1 {
		errs = append(errs, fmt.Errorf("client.retry_multiplier must be >= 1"))
	}
	if c.Client.RetryMaxDelay < c.Client.RetryBaseDelay {
		errs = append(errs, fmt.Errorf("client.retry_max_delay must be >= client.retry_base_delay"))
	}
	if c.Client.MaxQueueSize < 0 {
		errs = append(errs, fmt.Errorf("client.max_queue_size must not be negative"))
	}
	compressions := []string{"gzip", "zstd", "lz4", "none", ""}
	if !contains(compressions, c.Client.Compression) {
		errs = append(errs, fmt.Errorf("client.compression must be one of: gzip, zstd, lz4, none"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
