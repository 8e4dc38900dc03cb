// Package config loads and validates the Task Orchestrator's runtime
// tunables, layering defaults, a TOML config file, environment variables,
// and CLI flags, grounded on the teacher's pkg/config (same viper-based
// precedence chain, narrowed from retry-CLI fields to orchestrator fields).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the Task Orchestrator's runtime tunables, per spec.md §4.6
// and §5.
type Config struct {
	MaxConcurrent           int           `mapstructure:"max_concurrent"`
	Model                   string        `mapstructure:"model"`
	FallbackModel           string        `mapstructure:"fallback_model"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	MaxRetries              int           `mapstructure:"max_retries"`
	BackoffType             string        `mapstructure:"backoff"`
	BaseRetryDelay          time.Duration `mapstructure:"base_retry_delay"`
	MaxRetryDelay           time.Duration `mapstructure:"max_retry_delay"`
	CircuitBreakerEnabled   bool          `mapstructure:"circuit_breaker_enabled"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	GracefulDegradation     bool          `mapstructure:"graceful_degradation"`
	BatchSize               int           `mapstructure:"batch_size"`
	CostLimit               float64       `mapstructure:"cost_limit"`
	Binary                  string        `mapstructure:"binary"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value '%v': %s", e.Field, e.Value, e.Message)
}

// ConfigSource represents where a configuration value came from.
type ConfigSource int

const (
	SourceDefault ConfigSource = iota
	SourceConfigFile
	SourceEnvironment
	SourceCLIFlag
)

func (s ConfigSource) String() string {
	switch s {
	case SourceDefault:
		return "default"
	case SourceConfigFile:
		return "config file"
	case SourceEnvironment:
		return "environment variable"
	case SourceCLIFlag:
		return "CLI flag"
	default:
		return "unknown"
	}
}

// ConfigDebugInfo holds debugging information about configuration
// resolution, surfaced by the CLI's --debug-config flag.
type ConfigDebugInfo struct {
	Sources map[string]ConfigSource
	Values  map[string]interface{}
}

var configKeys = []string{
	"max_concurrent", "model", "fallback_model", "timeout", "max_retries",
	"backoff", "base_retry_delay", "max_retry_delay", "circuit_breaker_enabled",
	"circuit_breaker_threshold", "graceful_degradation", "batch_size",
	"cost_limit", "binary",
}

var envMappings = map[string]string{
	"TESTGENCTL_MAX_CONCURRENT":            "max_concurrent",
	"TESTGENCTL_MODEL":                     "model",
	"TESTGENCTL_FALLBACK_MODEL":            "fallback_model",
	"TESTGENCTL_TIMEOUT":                   "timeout",
	"TESTGENCTL_MAX_RETRIES":               "max_retries",
	"TESTGENCTL_BACKOFF":                   "backoff",
	"TESTGENCTL_BASE_RETRY_DELAY":          "base_retry_delay",
	"TESTGENCTL_MAX_RETRY_DELAY":           "max_retry_delay",
	"TESTGENCTL_CIRCUIT_BREAKER_ENABLED":   "circuit_breaker_enabled",
	"TESTGENCTL_CIRCUIT_BREAKER_THRESHOLD": "circuit_breaker_threshold",
	"TESTGENCTL_GRACEFUL_DEGRADATION":      "graceful_degradation",
	"TESTGENCTL_BATCH_SIZE":                "batch_size",
	"TESTGENCTL_COST_LIMIT":                "cost_limit",
	"TESTGENCTL_BINARY":                    "binary",
}

// LoadFromFile loads configuration from a TOML file.
func LoadFromFile(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configFile)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// LoadWithEnvironment loads configuration from defaults plus TESTGENCTL_*
// environment variables.
func LoadWithEnvironment() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TESTGENCTL")
	v.AutomaticEnv()
	for envVar, key := range envMappings {
		v.BindEnv(key, envVar)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// LoadWithPrecedence loads configuration through the full precedence chain:
// defaults < config file < environment < CLI flags.
func LoadWithPrecedence(configFile string, flagConfig *Config, debug bool) (*Config, *ConfigDebugInfo, error) {
	var debugInfo *ConfigDebugInfo
	if debug {
		debugInfo = &ConfigDebugInfo{Sources: make(map[string]ConfigSource), Values: make(map[string]interface{})}
	}

	v := viper.New()
	setDefaults(v)
	if debug {
		recordDefaults(debugInfo)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, debugInfo, fmt.Errorf("failed to read config file: %w", err)
		}
		if debug {
			recordConfigFile(debugInfo, v)
		}
	}

	v.SetEnvPrefix("TESTGENCTL")
	v.AutomaticEnv()
	for envVar, key := range envMappings {
		v.BindEnv(key, envVar)
	}
	if debug {
		recordEnvironment(debugInfo)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, debugInfo, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if flagConfig != nil {
		config = *config.MergeWithFlags(flagConfig)
		if debug {
			recordFlags(debugInfo, flagConfig)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, debugInfo, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, debugInfo, nil
}

// LoadWithDefaults returns a configuration populated with default values
// only, used when no config file or CLI flags apply.
func LoadWithDefaults() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	v.Unmarshal(&config)
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_concurrent", 5)
	v.SetDefault("model", "sonnet")
	v.SetDefault("fallback_model", "")
	v.SetDefault("timeout", 15*time.Minute)
	v.SetDefault("max_retries", 2)
	v.SetDefault("backoff", "exponential")
	v.SetDefault("base_retry_delay", time.Second)
	v.SetDefault("max_retry_delay", 30*time.Second)
	v.SetDefault("circuit_breaker_enabled", true)
	v.SetDefault("circuit_breaker_threshold", 5)
	v.SetDefault("graceful_degradation", false)
	v.SetDefault("batch_size", 10)
	v.SetDefault("cost_limit", 0.0)
	v.SetDefault("binary", "claude")
}

// MergeWithFlags merges the base configuration with flag overrides. The
// caller must ensure flagConfig carries only explicitly-set, non-zero
// fields; zero/empty fields are treated as "not overridden."
func (c *Config) MergeWithFlags(flags *Config) *Config {
	result := *c

	if flags.MaxConcurrent != 0 {
		result.MaxConcurrent = flags.MaxConcurrent
	}
	if flags.Model != "" {
		result.Model = flags.Model
	}
	if flags.FallbackModel != "" {
		result.FallbackModel = flags.FallbackModel
	}
	if flags.Timeout != 0 {
		result.Timeout = flags.Timeout
	}
	if flags.MaxRetries != 0 {
		result.MaxRetries = flags.MaxRetries
	}
	if flags.BackoffType != "" {
		result.BackoffType = flags.BackoffType
	}
	if flags.BaseRetryDelay != 0 {
		result.BaseRetryDelay = flags.BaseRetryDelay
	}
	if flags.MaxRetryDelay != 0 {
		result.MaxRetryDelay = flags.MaxRetryDelay
	}
	if flags.CircuitBreakerThreshold != 0 {
		result.CircuitBreakerThreshold = flags.CircuitBreakerThreshold
	}
	if flags.GracefulDegradation {
		result.GracefulDegradation = true
	}
	if flags.BatchSize != 0 {
		result.BatchSize = flags.BatchSize
	}
	if flags.CostLimit != 0 {
		result.CostLimit = flags.CostLimit
	}
	if flags.Binary != "" {
		result.Binary = flags.Binary
	}

	return &result
}

// FindConfigFile searches dir for a recognized configuration file name.
func FindConfigFile(dir string) string {
	names := []string{".testgenctl.toml", "testgenctl.toml", ".testgenctl.yaml", "testgenctl.yaml"}
	for _, name := range names {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate validates the configuration and returns every violation at once,
// per spec.md §5's bounds on batch size, concurrency, and retries.
func (c *Config) Validate() error {
	var errs []ValidationError

	if c.MaxConcurrent <= 0 {
		errs = append(errs, ValidationError{"max_concurrent", c.MaxConcurrent, "must be greater than 0"})
	}
	if c.MaxConcurrent > 50 {
		errs = append(errs, ValidationError{"max_concurrent", c.MaxConcurrent, "must be 50 or less"})
	}
	if c.BatchSize <= 0 {
		errs = append(errs, ValidationError{"batch_size", c.BatchSize, "must be greater than 0"})
	}
	if c.BatchSize > 50 {
		errs = append(errs, ValidationError{"batch_size", c.BatchSize, "must be 50 or less"})
	}
	if c.MaxRetries < 0 {
		errs = append(errs, ValidationError{"max_retries", c.MaxRetries, "must be non-negative"})
	}
	if c.MaxRetries > 10 {
		errs = append(errs, ValidationError{"max_retries", c.MaxRetries, "must be 10 or less"})
	}
	if c.Timeout < 0 {
		errs = append(errs, ValidationError{"timeout", c.Timeout, "must be non-negative"})
	}
	if c.BackoffType != "" && c.BackoffType != "fixed" && c.BackoffType != "exponential" {
		errs = append(errs, ValidationError{"backoff", c.BackoffType, "must be 'fixed' or 'exponential'"})
	}
	if c.MaxRetryDelay > 0 && c.BaseRetryDelay > 0 && c.MaxRetryDelay < c.BaseRetryDelay {
		errs = append(errs, ValidationError{"max_retry_delay", c.MaxRetryDelay, "must be greater than or equal to base_retry_delay"})
	}
	if c.CircuitBreakerThreshold < 0 {
		errs = append(errs, ValidationError{"circuit_breaker_threshold", c.CircuitBreakerThreshold, "must be non-negative"})
	}
	if c.CostLimit < 0 {
		errs = append(errs, ValidationError{"cost_limit", c.CostLimit, "must be non-negative (0 means no limit)"})
	}
	if c.Model == "" {
		errs = append(errs, ValidationError{"model", c.Model, "must not be empty"})
	}
	if c.Binary == "" {
		errs = append(errs, ValidationError{"binary", c.Binary, "must not be empty"})
	}

	if len(errs) > 0 {
		var messages []string
		for _, e := range errs {
			messages = append(messages, e.Error())
		}
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(messages, "\n  - "))
	}
	return nil
}

func recordDefaults(debug *ConfigDebugInfo) {
	d := LoadWithDefaults()
	for _, key := range configKeys {
		debug.Sources[key] = SourceDefault
		debug.Values[key] = fieldByKey(d, key)
	}
}

func recordConfigFile(debug *ConfigDebugInfo, v *viper.Viper) {
	for _, key := range configKeys {
		if v.IsSet(key) {
			debug.Sources[key] = SourceConfigFile
			debug.Values[key] = v.Get(key)
		}
	}
}

func recordEnvironment(debug *ConfigDebugInfo) {
	for envVar, key := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			debug.Sources[key] = SourceEnvironment
			debug.Values[key] = value
		}
	}
}

func recordFlags(debug *ConfigDebugInfo, flags *Config) {
	merged := &Config{}
	merged = merged.MergeWithFlags(flags)
	for _, key := range configKeys {
		v := fieldByKey(merged, key)
		if !isZero(v) {
			debug.Sources[key] = SourceCLIFlag
			debug.Values[key] = v
		}
	}
}

func fieldByKey(c *Config, key string) interface{} {
	switch key {
	case "max_concurrent":
		return c.MaxConcurrent
	case "model":
		return c.Model
	case "fallback_model":
		return c.FallbackModel
	case "timeout":
		return c.Timeout
	case "max_retries":
		return c.MaxRetries
	case "backoff":
		return c.BackoffType
	case "base_retry_delay":
		return c.BaseRetryDelay
	case "max_retry_delay":
		return c.MaxRetryDelay
	case "circuit_breaker_enabled":
		return c.CircuitBreakerEnabled
	case "circuit_breaker_threshold":
		return c.CircuitBreakerThreshold
	case "graceful_degradation":
		return c.GracefulDegradation
	case "batch_size":
		return c.BatchSize
	case "cost_limit":
		return c.CostLimit
	case "binary":
		return c.Binary
	default:
		return nil
	}
}

func isZero(v interface{}) bool {
	switch t := v.(type) {
	case int:
		return t == 0
	case float64:
		return t == 0
	case string:
		return t == ""
	case time.Duration:
		return t == 0
	case bool:
		return false
	default:
		return v == nil
	}
}

// PrintDebugInfo prints configuration resolution debug information.
func (debug *ConfigDebugInfo) PrintDebugInfo() {
	fmt.Println("Configuration Resolution Debug Info:")
	fmt.Println("===================================")
	for _, key := range configKeys {
		fmt.Printf("%-25s: %-15v (from %s)\n", key, debug.Values[key], debug.Sources[key])
	}
}
