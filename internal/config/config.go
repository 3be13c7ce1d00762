// Package config provides configuration structures and defaults for sphyctre
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"sphyctre/internal/export"
	"sphyctre/internal/nutraw"
)

// EnvPrefix prefixes environment overrides, e.g. SPHYCTRE_SIMULATOR_TIMEOUT
const EnvPrefix = "SPHYCTRE"

// Config represents the complete application configuration
type Config struct {
	Simulator SimulatorConfig `mapstructure:"simulator" yaml:"simulator"` // Simulator invocation
	Raw       RawConfig       `mapstructure:"raw" yaml:"raw"`             // Raw file decoding
	Watch     WatchConfig     `mapstructure:"watch" yaml:"watch"`         // Live monitoring
	Batch     BatchConfig     `mapstructure:"batch" yaml:"batch"`         // Batch runs
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`       // Result export
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`     // Logging configuration
}

// SimulatorConfig describes how the simulator is found and run
type SimulatorConfig struct {
	Executable  string        `mapstructure:"executable" yaml:"executable"`     // Simulator name or path
	Args        []string      `mapstructure:"args" yaml:"args"`                 // Arguments; {deck}, {raw} and {workdir} are substituted
	SearchPath  []string      `mapstructure:"search_path" yaml:"search_path"`   // Directories searched before $PATH
	EnvVar      string        `mapstructure:"env_var" yaml:"env_var"`           // Environment variable naming the simulator
	Env         []string      `mapstructure:"env" yaml:"env"`                   // Extra KEY=VALUE environment entries
	RawFile     string        `mapstructure:"raw_file" yaml:"raw_file"`         // Raw output file, relative to the work directory
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`           // Wall-clock limit per run (0 disables)
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"` // Time between SIGTERM and SIGKILL
	OutputLimit int           `mapstructure:"output_limit" yaml:"output_limit"` // Bytes of stdout/stderr kept per run
	TempDir     string        `mapstructure:"temp_dir" yaml:"temp_dir"`         // Parent of scratch directories
	KeepWorkDir bool          `mapstructure:"keep_workdir" yaml:"keep_workdir"` // Keep scratch directories for debugging
}

// RawConfig contains raw file decoding parameters
type RawConfig struct {
	ByteOrder    string `mapstructure:"byte_order" yaml:"byte_order"`       // auto, little or big
	AllowPartial bool   `mapstructure:"allow_partial" yaml:"allow_partial"` // Keep truncated plots when reading files
}

// WatchConfig contains live monitoring parameters
type WatchConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"` // Polling period alongside notifications
	ChunkSize    int           `mapstructure:"chunk_size" yaml:"chunk_size"`       // Largest read per step in bytes
	NoNotify     bool          `mapstructure:"no_notify" yaml:"no_notify"`         // Poll only
}

// BatchConfig contains batch run parameters
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"` // Simulators running at once
}

// OutputConfig contains export parameters
type OutputConfig struct {
	Dir    string `mapstructure:"dir" yaml:"dir"`       // Output directory for exported results
	Format string `mapstructure:"format" yaml:"format"` // csv, json, yaml, raw or ascii
}

// LoggingConfig contains logging configuration parameters
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // Log level (debug, info, warn, error)
	Format string `mapstructure:"format" yaml:"format"` // text or json
	File   string `mapstructure:"file" yaml:"file"`     // Log file path (empty logs to stderr)
}

// DefaultConfig returns a configuration with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Simulator: SimulatorConfig{
			Executable:  "spectre",                                                // Spectre on $PATH
			Args:        []string{"-format", "nutbin", "-raw", "{raw}", "{deck}"}, // Binary raw output
			SearchPath:  []string{},                                               // Only $PATH
			EnvVar:      "SPHYCTRE_SIMULATOR",                                     // Overrides a relative executable
			Env:         []string{},                                               // Inherit the environment
			RawFile:     "output.raw",                                             // Inside the scratch directory
			Timeout:     10 * time.Minute,                                         // 10 minute wall-clock limit
			GracePeriod: 5 * time.Second,                                          // 5 seconds to exit after SIGTERM
			OutputLimit: 64 << 10,                                                 // 64 KiB per stream
			TempDir:     "",                                                       // System temp directory
			KeepWorkDir: false,                                                    // Clean up scratch directories
		},
		Raw: RawConfig{
			ByteOrder:    "auto", // Detect from the data
			AllowPartial: false,  // Truncated files are errors
		},
		Watch: WatchConfig{
			PollInterval: 250 * time.Millisecond, // 4 polls per second
			ChunkSize:    1 << 20,                // 1 MiB reads
			NoNotify:     false,                  // Use file notifications
		},
		Batch: BatchConfig{
			Concurrency: 4, // Four simulators at once
		},
		Output: OutputConfig{
			Dir:    "./results", // Current directory results folder
			Format: "csv",       // Spreadsheet friendly
		},
		Logging: LoggingConfig{
			Level:  "info", // Info level logging
			Format: "text", // Human readable
			File:   "",     // Log to stderr
		},
	}
}

// settings flattens c into viper keys
func (c *Config) settings() map[string]any {
	return map[string]any{
		"simulator.executable":   c.Simulator.Executable,
		"simulator.args":         c.Simulator.Args,
		"simulator.search_path":  c.Simulator.SearchPath,
		"simulator.env_var":      c.Simulator.EnvVar,
		"simulator.env":          c.Simulator.Env,
		"simulator.raw_file":     c.Simulator.RawFile,
		"simulator.timeout":      c.Simulator.Timeout.String(),
		"simulator.grace_period": c.Simulator.GracePeriod.String(),
		"simulator.output_limit": c.Simulator.OutputLimit,
		"simulator.temp_dir":     c.Simulator.TempDir,
		"simulator.keep_workdir": c.Simulator.KeepWorkDir,
		"raw.byte_order":         c.Raw.ByteOrder,
		"raw.allow_partial":      c.Raw.AllowPartial,
		"watch.poll_interval":    c.Watch.PollInterval.String(),
		"watch.chunk_size":       c.Watch.ChunkSize,
		"watch.no_notify":        c.Watch.NoNotify,
		"batch.concurrency":      c.Batch.Concurrency,
		"output.dir":             c.Output.Dir,
		"output.format":          c.Output.Format,
		"logging.level":          c.Logging.Level,
		"logging.format":         c.Logging.Format,
		"logging.file":           c.Logging.File,
	}
}

// SetDefaults registers every key with its default so that environment
// variables and flags can override any of them
func SetDefaults(v *viper.Viper) {
	for key, value := range DefaultConfig().settings() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// ReadInConfig points v at path, or at config.yaml in the current directory
// when path is empty, and reads it. A missing default file is not an error;
// a missing explicit file is. It returns the file used, if any.
func ReadInConfig(v *viper.Viper, path string) (string, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Load registers the defaults on v, decodes the configuration it holds and
// validates the result
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	// every key has a default, so decoding starts from zero values and
	// configured lists replace the default lists instead of merging
	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs error
	if c.Simulator.Executable == "" && c.Simulator.EnvVar == "" {
		errs = multierr.Append(errs, fmt.Errorf("simulator.executable or simulator.env_var must be set"))
	}
	if c.Simulator.Timeout < 0 {
		errs = multierr.Append(errs, fmt.Errorf("simulator.timeout must not be negative: %v", c.Simulator.Timeout))
	}
	if c.Simulator.GracePeriod <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("simulator.grace_period must be positive: %v", c.Simulator.GracePeriod))
	}
	if c.Simulator.OutputLimit < 0 {
		errs = multierr.Append(errs, fmt.Errorf("simulator.output_limit must not be negative: %d", c.Simulator.OutputLimit))
	}
	if _, err := nutraw.ParseEndian(c.Raw.ByteOrder); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("raw.byte_order: %w", err))
	}
	if c.Watch.PollInterval <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("watch.poll_interval must be positive: %v", c.Watch.PollInterval))
	}
	if c.Watch.ChunkSize <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("watch.chunk_size must be positive: %d", c.Watch.ChunkSize))
	}
	if c.Batch.Concurrency < 1 {
		errs = multierr.Append(errs, fmt.Errorf("batch.concurrency must be at least 1: %d", c.Batch.Concurrency))
	}
	if _, err := export.ParseFormat(c.Output.Format); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("output.format: %w", err))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid logging.level: %s (must be 'debug', 'info', 'warn' or 'error')", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid logging.format: %s (must be 'text' or 'json')", c.Logging.Format))
	}
	return errs
}

// YAML renders the configuration with durations as strings
func (c *Config) YAML() ([]byte, error) {
	nested := make(map[string]map[string]any)
	for key, value := range c.settings() {
		section, name, _ := strings.Cut(key, ".")
		if nested[section] == nil {
			nested[section] = make(map[string]any)
		}
		nested[section][name] = value
	}
	return yaml.Marshal(nested)
}
