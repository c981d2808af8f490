// Package config loads the workspace settings from .stride/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/stride/pkg/storage"
)

// Defaults applied when a field is missing from the file.
const (
	DefaultTimeout           = 10 * time.Second
	DefaultUrgencyWindowDays = 3
	DefaultRetryAttempts     = 3
	DefaultRetryDelay        = 100 * time.Millisecond
	DefaultServerAddr        = "127.0.0.1:7420"
	DefaultSubjectPrefix     = "stride"
	DefaultWatchDebounce     = 300 * time.Millisecond
)

// Config stores workspace settings outside the tracked records.
type Config struct {
	// User is the acting user id sent with every remote call.
	User string `yaml:"user"`
	// Remote is the base URL of the remote service. Empty means the
	// workspace's own state file serves as the remote.
	Remote            string          `yaml:"remote,omitempty"`
	Timeout           time.Duration   `yaml:"timeout"`
	UrgencyWindowDays int             `yaml:"urgency_window_days"`
	Retry             RetryConfig     `yaml:"retry"`
	Server            ServerConfig    `yaml:"server"`
	NATS              NATSConfig      `yaml:"nats"`
	Watch             WatchConfig     `yaml:"watch"`
	Webhooks          []WebhookConfig `yaml:"webhooks,omitempty"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// NATSConfig enables publishing notifications to a NATS server when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// WebhookConfig describes one HTTP endpoint that receives notifications.
type WebhookConfig struct {
	Name        string        `yaml:"name"`
	URL         string        `yaml:"url"`
	Secret      string        `yaml:"secret,omitempty"`
	Events      []string      `yaml:"events,omitempty"`
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	RetryDelay  time.Duration `yaml:"retry_delay,omitempty"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UrgencyWindowDays == 0 {
		c.UrgencyWindowDays = DefaultUrgencyWindowDays
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultRetryAttempts
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = DefaultRetryDelay
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = DefaultWatchDebounce
	}
}

// UrgencyWindow is the deadline horizon that makes a task urgent.
func (c *Config) UrgencyWindow() time.Duration {
	return time.Duration(c.UrgencyWindowDays) * 24 * time.Hour
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if strings.ContainsAny(c.User, " \t\n") {
		errs = append(errs, fmt.Errorf("user %q must not contain whitespace", c.User))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.UrgencyWindowDays < 0 {
		errs = append(errs, fmt.Errorf("urgency_window_days must be positive, got %d", c.UrgencyWindowDays))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.initial_delay must be positive, got %s", c.Retry.InitialDelay))
	}
	if c.Remote != "" && !strings.HasPrefix(c.Remote, "http://") && !strings.HasPrefix(c.Remote, "https://") {
		errs = append(errs, fmt.Errorf("remote %q must be an http(s) URL", c.Remote))
	}
	if c.NATS.URL != "" && !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		errs = append(errs, fmt.Errorf("nats.url %q must use nats:// or tls://", c.NATS.URL))
	}
	seen := make(map[string]bool, len(c.Webhooks))
	for i, wh := range c.Webhooks {
		if wh.Name == "" {
			errs = append(errs, fmt.Errorf("webhooks[%d].name is required", i))
		} else if seen[wh.Name] {
			errs = append(errs, fmt.Errorf("webhooks[%d].name %q is duplicated", i, wh.Name))
		}
		seen[wh.Name] = true
		if !strings.HasPrefix(wh.URL, "http://") && !strings.HasPrefix(wh.URL, "https://") {
			errs = append(errs, fmt.Errorf("webhooks[%d].url %q must be an http(s) URL", i, wh.URL))
		}
		if wh.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("webhooks[%d].max_attempts must be positive, got %d", i, wh.MaxAttempts))
		}
	}
	return errors.Join(errs...)
}

// Load reads the workspace config. A missing file yields the defaults.
func Load(root string) (*Config, error) {
	repo := storage.NewFilesystemRepository(root)
	path, err := repo.ResolvePath(storage.ConfigFile)
	if err != nil {
		return nil, err
	}

	// #nosec G304 -- Path is resolved and validated via ResolvePath
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", storage.ConfigFile, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func Save(root string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	repo := storage.NewFilesystemRepository(root)
	path, err := repo.ResolvePath(storage.ConfigFile)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}
