package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names.
const (
	EnvHome            = "BALANCEWATCH_HOME"
	EnvOutputFormat    = "BALANCEWATCH_OUTPUT_FORMAT"
	EnvVerbose         = "BALANCEWATCH_VERBOSE"
	EnvLogLevel        = "BALANCEWATCH_LOG_LEVEL"
	EnvRefreshInterval = "BALANCEWATCH_REFRESH_INTERVAL"
	EnvThrottleWindow  = "BALANCEWATCH_THROTTLE_WINDOW"
	EnvHTTPAddr        = "BALANCEWATCH_HTTP_ADDR"
	EnvStorageDriver   = "BALANCEWATCH_STORAGE_DRIVER"
	EnvNoColor         = "NO_COLOR"
)

// ApplyEnvironment applies environment variable overrides to the configuration.
//
//nolint:gocognit,gocyclo // Environment variable overrides require sequential checks
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv(EnvOutputFormat); v != "" {
		cfg.Output.DefaultFormat = strings.ToLower(v)
	}

	if v := os.Getenv(EnvVerbose); v != "" {
		cfg.Output.Verbose = parseBool(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	if v := os.Getenv(EnvRefreshInterval); v != "" {
		if d, ok := parseDuration(v); ok {
			cfg.Refresh.Interval = d
		}
	}

	if v := os.Getenv(EnvThrottleWindow); v != "" {
		if d, ok := parseDuration(v); ok {
			cfg.Refresh.ThrottleWindow = d
		}
	}

	if v := os.Getenv(EnvHTTPAddr); v != "" {
		cfg.HTTP.Addr = strings.TrimSpace(v)
	}

	if v := os.Getenv(EnvStorageDriver); v != "" {
		cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(v))
	}

	// NO_COLOR disables colored output
	if _, ok := os.LookupEnv(EnvNoColor); ok {
		cfg.Output.Color = "never"
	}
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}

// parseDuration accepts Go duration strings ("90s") or a bare number of
// milliseconds ("90000").
func parseDuration(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms <= 0 {
			return 0, false
		}
		return time.Duration(ms) * time.Millisecond, true
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
