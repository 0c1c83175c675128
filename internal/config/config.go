// Package config provides configuration management for balancewatch.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// Config represents the application configuration.
type Config struct {
	Version   int              `yaml:"version"`
	Home      string           `yaml:"home"`
	Refresh   RefreshConfig    `yaml:"refresh"`
	Warnings  WarningsConfig   `yaml:"warnings"`
	Storage   StorageConfig    `yaml:"storage"`
	HTTP      HTTPConfig       `yaml:"http"`
	Output    OutputConfig     `yaml:"output"`
	Logging   LoggingConfig    `yaml:"logging"`
	Providers []ProviderConfig `yaml:"providers"`
}

// RefreshConfig defines the balance refresh cadence.
type RefreshConfig struct {
	Interval       time.Duration `yaml:"interval"`
	ThrottleWindow time.Duration `yaml:"throttle_window"`
}

// WarningsConfig defines low-balance thresholds. Zero disables a threshold.
type WarningsConfig struct {
	AmountBelow  float64 `yaml:"amount_below"`
	TokensBelow  float64 `yaml:"tokens_below"`
	PercentBelow float64 `yaml:"percent_below"`
}

// StorageConfig defines where refresh state is persisted.
type StorageConfig struct {
	Driver     string   `yaml:"driver"`
	Path       string   `yaml:"path"`
	Key        string   `yaml:"key"`
	RedisAddrs []string `yaml:"redis_addrs,omitempty"`
	RedisDB    int      `yaml:"redis_db,omitempty"`
}

// HTTPConfig defines the watch API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// APIKeys enables bearer authentication when non-empty.
	APIKeys []string `yaml:"api_keys,omitempty"`
}

// OutputConfig defines output formatting settings.
type OutputConfig struct {
	DefaultFormat string `yaml:"default_format"`
	Color         string `yaml:"color"`
	Verbose       bool   `yaml:"verbose"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	Env   string `yaml:"env"`
}

// ProviderConfig is a configured API provider endpoint.
type ProviderConfig struct {
	Name    string         `yaml:"name" json:"name"`
	Type    string         `yaml:"type" json:"type"`
	BaseURL string         `yaml:"base_url" json:"baseUrl"`
	Auth    AuthConfig     `yaml:"auth" json:"auth"`
	Balance *BalanceConfig `yaml:"balance,omitempty" json:"balanceProvider,omitempty"`
}

// AuthConfig describes how a provider authenticates.
type AuthConfig struct {
	Method    string `yaml:"method" json:"method"`
	APIKey    string `yaml:"api_key,omitempty" json:"apiKey,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty" json:"apiKeyEnv,omitempty"`
}

// BalanceConfig selects the balance source for a provider.
type BalanceConfig struct {
	Method  string            `yaml:"method" json:"method"`
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// BalanceMethodNone disables balance tracking for a provider.
const BalanceMethodNone = "none"

// BalanceMethod returns the configured balance method, or "" when the
// provider has no balance source.
func (p ProviderConfig) BalanceMethod() string {
	if p.Balance == nil {
		return ""
	}
	method := strings.TrimSpace(p.Balance.Method)
	if method == BalanceMethodNone {
		return ""
	}
	return method
}

// HasBalance reports whether the provider has a configured balance source.
func (p ProviderConfig) HasBalance() bool {
	return p.BalanceMethod() != ""
}

// Clone returns a deep copy of the provider configuration.
func (p ProviderConfig) Clone() ProviderConfig {
	out := p
	out.Balance = p.Balance.Clone()
	return out
}

// Clone returns a deep copy, or nil for a nil config.
func (b *BalanceConfig) Clone() *BalanceConfig {
	if b == nil {
		return nil
	}
	out := *b
	out.Options = maps.Clone(b.Options)
	return &out
}

// Load reads configuration from the specified file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bwerr.Wrap(bwerr.ErrConfigNotFound, "%s", path)
		}
		return nil, err
	}

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		if key, ok := unknownKey(err); ok {
			return nil, bwerr.WithSuggestion(
				bwerr.WithDetails(bwerr.ErrUnknownConfigKey, map[string]string{"path": path, "key": key}),
				"check the spelling of "+key+" in "+path,
			)
		}
		return nil, bwerr.WithDetails(bwerr.Wrap(bwerr.ErrConfigInvalid, "parsing %s", path), map[string]string{
			"reason": err.Error(),
		})
	}

	return cfg, nil
}

// unknownKey extracts the first unrecognized field name from a strict
// decode error, e.g. "line 3: field throttle_windw not found in type config.RefreshConfig".
func unknownKey(err error) (string, bool) {
	var te *yaml.TypeError
	if !errors.As(err, &te) {
		return "", false
	}
	for _, msg := range te.Errors {
		_, rest, ok := strings.Cut(msg, "field ")
		if !ok {
			continue
		}
		if key, _, ok := strings.Cut(rest, " not found in type"); ok {
			return key, true
		}
	}
	return "", false
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks the configuration for errors that would prevent the
// coordinator from running.
func (c *Config) Validate() error {
	if c.Refresh.Interval <= 0 {
		return bwerr.WithDetails(bwerr.ErrConfigInvalid, map[string]string{"refresh.interval": c.Refresh.Interval.String()})
	}
	if c.Refresh.ThrottleWindow <= 0 {
		return bwerr.WithDetails(bwerr.ErrConfigInvalid, map[string]string{"refresh.throttle_window": c.Refresh.ThrottleWindow.String()})
	}

	switch c.Storage.Driver {
	case StorageMemory, StorageFile, StorageRedis:
	default:
		return bwerr.WithDetails(bwerr.ErrConfigInvalid, map[string]string{"storage.driver": c.Storage.Driver})
	}
	if c.Storage.Driver == StorageRedis && len(c.Storage.RedisAddrs) == 0 {
		return bwerr.WithDetails(bwerr.ErrConfigInvalid, map[string]string{"storage.redis_addrs": "required for redis driver"})
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return bwerr.WithDetails(bwerr.ErrConfigInvalid, map[string]string{"providers": fmt.Sprintf("entry %d has no name", i)})
		}
		if _, dup := seen[name]; dup {
			return bwerr.WithDetails(bwerr.ErrConfigInvalid, map[string]string{"providers": fmt.Sprintf("duplicate name %q", name)})
		}
		seen[name] = struct{}{}
	}

	return nil
}

// Provider returns the provider with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// GetHome returns the balancewatch home directory path.
func (c *Config) GetHome() string {
	return c.Home
}

// GetLoggingLevel returns the configured logging level.
func (c *Config) GetLoggingLevel() string {
	return c.Logging.Level
}

// GetLoggingFile returns the configured log file path.
func (c *Config) GetLoggingFile() string {
	return c.Logging.File
}

// GetOutputFormat returns the default output format.
func (c *Config) GetOutputFormat() string {
	return c.Output.DefaultFormat
}

// IsVerbose returns true if verbose output is enabled.
func (c *Config) IsVerbose() bool {
	return c.Output.Verbose
}

// DefaultHome returns the default balancewatch home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".balancewatch"
	}
	return filepath.Join(home, ".balancewatch")
}

// ExpandHome expands a leading "~/" to the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
