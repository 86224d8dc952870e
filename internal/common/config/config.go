// internal/common/config/config.go
package config

import "time"

// Config is the main application configuration struct.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	API     APIConfig     `mapstructure:"api"`
	Journey JourneyConfig `mapstructure:"journey"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// --- Core App Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// APIConfig holds settings for the remote insurance API.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

// RequestTimeout returns the per-request timeout as a duration.
func (a APIConfig) RequestTimeout() time.Duration {
	return time.Duration(a.Timeout) * time.Millisecond
}

// JourneyConfig holds the polling knobs for the two asynchronous waits
// (underwriting decision and policy issuance).
type JourneyConfig struct {
	PollInterval    int `mapstructure:"poll_interval"` // milliseconds
	PollMaxAttempts int `mapstructure:"poll_max_attempts"`
	RunTTL          int `mapstructure:"run_ttl"` // seconds, snapshot expiry
}

// Interval returns the poll interval as a duration.
func (j JourneyConfig) Interval() time.Duration {
	return time.Duration(j.PollInterval) * time.Millisecond
}

// TTL returns the run snapshot expiry as a duration.
func (j JourneyConfig) TTL() time.Duration {
	return time.Duration(j.RunTTL) * time.Second
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// MetricsConfig holds settings for the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
