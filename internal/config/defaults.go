package config

import "time"

// Default refresh cadence.
const (
	DefaultRefreshInterval = 60 * time.Second
	DefaultThrottleWindow  = 10 * time.Second
)

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// DefaultStateKey is the ExtensionState key holding refresh state.
const DefaultStateKey = "balance.refreshState"

// DefaultHTTPAddr is the default watch API listen address.
const DefaultHTTPAddr = "127.0.0.1:8790"

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Home:    "~/.balancewatch",
		Refresh: RefreshConfig{
			Interval:       DefaultRefreshInterval,
			ThrottleWindow: DefaultThrottleWindow,
		},
		Warnings: WarningsConfig{
			AmountBelow:  1,
			PercentBelow: 10,
		},
		Storage: StorageConfig{
			Driver: StorageFile,
			Path:   "~/.balancewatch/state.json",
			Key:    DefaultStateKey,
		},
		HTTP: HTTPConfig{
			Addr:            DefaultHTTPAddr,
			ShutdownTimeout: 5 * time.Second,
		},
		Output: OutputConfig{
			DefaultFormat: "auto",
			Color:         "auto",
			Verbose:       false,
		},
		Logging: LoggingConfig{
			Level: "error",
			File:  "~/.balancewatch/balancewatch.log",
			Env:   "local",
		},
		Providers: []ProviderConfig{},
	}
}
