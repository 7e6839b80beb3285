// Package config loads the pipeline's single structured configuration
// object: caarlos0/env struct tags with an optional .env file via
// godotenv, validated before use.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/odinmarkets/dna-pipeline/internal/errs"
	"github.com/rs/zerolog"
)

// Config is the single structured configuration object. caarlos0/env only
// populates fields carrying a recognized env tag and otherwise ignores
// anything it doesn't know about; Validate closes that gap by scanning the
// process environment itself and rejecting any KEY inside this config's
// namespaces that isn't one of the tags below.
type Config struct {
	// Broker boundary
	BrokerEndpoint string `env:"BROKER_ENDPOINT" envDefault:"ws://localhost:7497/broker"`
	BrokerClientID string `env:"BROKER_CLIENT_ID" envDefault:"dna-pipeline"`

	// Rate Governor: per-kind requests-per-minute and attempt caps.
	HistoricalRatePerMin int `env:"RATE_HISTORICAL_PER_MIN" envDefault:"6"`
	MarketMaxConcurrent  int `env:"RATE_MARKET_MAX_CONCURRENT" envDefault:"100"`
	AccountRatePerMin    int `env:"RATE_ACCOUNT_PER_MIN" envDefault:"30"`
	OrderRatePerMin      int `env:"RATE_ORDER_PER_MIN" envDefault:"60"`
	MaxAttempts          int `env:"RATE_MAX_ATTEMPTS" envDefault:"5"`

	HistoricalTimeout time.Duration `env:"TIMEOUT_HISTORICAL" envDefault:"30s"`
	AccountTimeout    time.Duration `env:"TIMEOUT_ACCOUNT" envDefault:"10s"`

	// Validator
	AcceptanceThreshold  int     `env:"VALIDATOR_ACCEPTANCE_THRESHOLD" envDefault:"95"`
	MovementStdDevWindow int     `env:"VALIDATOR_MOVEMENT_WINDOW" envDefault:"50"`
	MovementStdDevN      float64 `env:"VALIDATOR_MOVEMENT_N" envDefault:"8"`
	VolumeOutlierMult    float64 `env:"VALIDATOR_VOLUME_OUTLIER_MULT" envDefault:"20"`

	// Simulation parameters
	StopPercent    float64        `env:"SIM_STOP_PERCENT" envDefault:"0.004"`
	StopAbsolute   float64        `env:"SIM_STOP_ABSOLUTE" envDefault:"2.80"`
	UseStopAbs     bool           `env:"SIM_USE_STOP_ABSOLUTE" envDefault:"false"`
	TakePercent    float64        `env:"SIM_TAKE_PERCENT" envDefault:"0.005"`
	TakeAbsolute   float64        `env:"SIM_TAKE_ABSOLUTE" envDefault:"3.20"`
	UseTakeAbs     bool           `env:"SIM_USE_TAKE_ABSOLUTE" envDefault:"false"`
	Shares         int            `env:"SIM_SHARES" envDefault:"50"`
	ForceCloseMins int            `env:"SIM_FORCE_CLOSE_MINUTES_BEFORE_CLOSE" envDefault:"30"`
	TieBreak       string         `env:"SIM_TIE_BREAK" envDefault:"STOP_LOSS"`

	// Worker budget
	MaxWorkers int `env:"MAX_WORKERS" envDefault:"0"` // 0 = auto-detect

	// Storage
	StorageDSN            string `env:"STORAGE_DSN" envDefault:"postgres://localhost:5432/dna?sslmode=disable"`
	SchemaVersionExpected uint   `env:"STORAGE_SCHEMA_VERSION" envDefault:"1"`

	// Event bus (run-lifecycle notifications)
	NATSUrl         string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	FeedBusBrokers  string `env:"FEEDBUS_BROKERS" envDefault:"localhost:19092"`

	// Metrics
	MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":9090"`
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load parses the process environment (after optionally loading a local
// .env file) into a validated Config.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && logger != nil {
		logger.Info().Msg("no .env file found, using environment variables only")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate performs the cross-field checks and the unknown-option scan that
// map to ConfigInvalid.
func (c *Config) Validate() error {
	if err := rejectUnknownOptions(); err != nil {
		return err
	}
	if c.BrokerEndpoint == "" {
		return errs.New(errs.ConfigInvalid, fmt.Errorf("BROKER_ENDPOINT is required"))
	}
	if c.HistoricalRatePerMin < 1 {
		return errs.New(errs.ConfigInvalid, fmt.Errorf("RATE_HISTORICAL_PER_MIN must be > 0"))
	}
	if c.AcceptanceThreshold < 0 || c.AcceptanceThreshold > 100 {
		return errs.New(errs.ConfigInvalid, fmt.Errorf("VALIDATOR_ACCEPTANCE_THRESHOLD must be 0-100"))
	}
	if c.Shares < 1 {
		return errs.New(errs.ConfigInvalid, fmt.Errorf("SIM_SHARES must be > 0"))
	}
	switch c.TieBreak {
	case "STOP_LOSS", "TAKE_PROFIT", "INDETERMINATE":
	default:
		return errs.New(errs.ConfigInvalid, fmt.Errorf("SIM_TIE_BREAK must be one of STOP_LOSS, TAKE_PROFIT, INDETERMINATE, got %q", c.TieBreak))
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return errs.New(errs.ConfigInvalid, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel))
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return errs.New(errs.ConfigInvalid, fmt.Errorf("LOG_FORMAT must be one of json, pretty, got %q", c.LogFormat))
	}
	return nil
}

// knownPrefixes are the environment-variable namespaces this config owns.
// A KEY outside all of them belongs to some other process concern (PATH,
// container runtime variables, etc.) and is left alone; a KEY inside one of
// them that isn't a recognized tag below is an unknown option.
var knownPrefixes = []string{
	"BROKER_", "RATE_", "TIMEOUT_", "VALIDATOR_", "SIM_", "MAX_WORKERS",
	"STORAGE_", "NATS_", "FEEDBUS_", "METRICS_", "LOG_", "ENVIRONMENT",
}

// recognizedEnvTags collects every `env:"..."` tag Config declares.
func recognizedEnvTags() map[string]bool {
	out := make(map[string]bool)
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		if tag, ok := t.Field(i).Tag.Lookup("env"); ok {
			name, _, _ := strings.Cut(tag, ",")
			out[name] = true
		}
	}
	return out
}

// rejectUnknownOptions scans the process environment for keys that fall
// within this config's namespaces but aren't one of Config's recognized env
// tags, so a typo like RATE_HISTORICAL_PER_MINS silently defaulting instead
// of erroring can't happen.
func rejectUnknownOptions() error {
	recognized := recognizedEnvTags()
	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || recognized[key] {
			continue
		}
		for _, prefix := range knownPrefixes {
			if strings.HasPrefix(key, prefix) {
				return errs.New(errs.ConfigInvalid, fmt.Errorf("unknown configuration option %q", key))
			}
		}
	}
	return nil
}

// LogConfig emits the loaded configuration as one structured log line.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("broker_endpoint", c.BrokerEndpoint).
		Int("historical_rate_per_min", c.HistoricalRatePerMin).
		Int("acceptance_threshold", c.AcceptanceThreshold).
		Int("shares", c.Shares).
		Str("tie_break", c.TieBreak).
		Int("max_workers", c.MaxWorkers).
		Str("storage_dsn_host", redactDSN(c.StorageDSN)).
		Msg("configuration loaded")
}

// redactDSN avoids logging credentials embedded in a DSN.
func redactDSN(dsn string) string {
	return "(redacted)"
}
