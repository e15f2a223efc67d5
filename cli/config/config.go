package config

import (
	"fmt"
	"time"
)

// DefaultFile is the config file looked up when --config is not given.
const DefaultFile = "skinsync.yaml"

// Config represents a skinsync.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Adapter AdapterConfig `yaml:"adapter"`
	Client  ClientConfig  `yaml:"client"`
}

// ServerConfig holds session server defaults.
type ServerConfig struct {
	Listen          string   `yaml:"listen"`
	ChunkSize       int      `yaml:"chunk_size"`
	MaxDimension    int      `yaml:"max_dimension"`
	TransferTimeout Duration `yaml:"transfer_timeout"`
	JanitorInterval Duration `yaml:"janitor_interval"`
	JoinReplayDelay Duration `yaml:"join_replay_delay"`
	Parallel        int      `yaml:"parallel"`
	KeepOnLeave     bool     `yaml:"keep_on_leave"`
	// Advertise is the mDNS instance name; empty disables advertisement.
	Advertise string `yaml:"advertise"`
}

// StorageConfig holds record storage defaults.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds notification adapter defaults.
type AdapterConfig struct {
	Type      string            `yaml:"type"`
	URL       string            `yaml:"url"`
	Channel   string            `yaml:"channel,omitempty"`
	LatestKey string            `yaml:"latest_key,omitempty"`
	Secret    string            `yaml:"secret,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Timeout   Duration          `yaml:"timeout,omitempty"`
	Retries   *int              `yaml:"retries,omitempty"`
}

// ClientConfig holds participant defaults.
type ClientConfig struct {
	ServerURL    string `yaml:"server_url"`
	Name         string `yaml:"name"`
	Participant  string `yaml:"participant"`
	HistoryPath  string `yaml:"history_path"`
	MaxDimension int    `yaml:"max_dimension"`
	MaxBytes     int    `yaml:"max_bytes"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks enumerated fields and numeric ranges.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "", "memory", "fs", "s3", "lode-memory":
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "fs" || c.Storage.Backend == "s3" {
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for backend %q", c.Storage.Backend)
		}
	}

	switch c.Adapter.Type {
	case "", "redis", "webhook":
	default:
		return fmt.Errorf("adapter.type: unknown adapter %q", c.Adapter.Type)
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		return fmt.Errorf("adapter.url is required for adapter %q", c.Adapter.Type)
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries)
	}

	for name, v := range map[string]int{
		"server.chunk_size":    c.Server.ChunkSize,
		"server.max_dimension": c.Server.MaxDimension,
		"server.parallel":      c.Server.Parallel,
		"client.max_dimension": c.Client.MaxDimension,
		"client.max_bytes":     c.Client.MaxBytes,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be >= 0, got %d", name, v)
		}
	}
	return nil
}
