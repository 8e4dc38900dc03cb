package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_LoadFromFile(t *testing.T) {
	configContent := `
max_concurrent = 8
model = "opus"
fallback_model = "sonnet"
timeout = "20m"
max_retries = 4
backoff = "exponential"
base_retry_delay = "2s"
max_retry_delay = "1m"
circuit_breaker_enabled = true
circuit_breaker_threshold = 3
graceful_degradation = true
batch_size = 15
cost_limit = 5.5
binary = "claude"
`
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "testgenctl.toml")
	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))

	config, err := LoadFromFile(configFile)
	require.NoError(t, err)
	assert.Equal(t, 8, config.MaxConcurrent)
	assert.Equal(t, "opus", config.Model)
	assert.Equal(t, "sonnet", config.FallbackModel)
	assert.Equal(t, 20*time.Minute, config.Timeout)
	assert.Equal(t, 4, config.MaxRetries)
	assert.Equal(t, "exponential", config.BackoffType)
	assert.Equal(t, 2*time.Second, config.BaseRetryDelay)
	assert.Equal(t, time.Minute, config.MaxRetryDelay)
	assert.True(t, config.CircuitBreakerEnabled)
	assert.Equal(t, 3, config.CircuitBreakerThreshold)
	assert.True(t, config.GracefulDegradation)
	assert.Equal(t, 15, config.BatchSize)
	assert.Equal(t, 5.5, config.CostLimit)
}

func TestConfig_LoadFromFileWithDefaults(t *testing.T) {
	configContent := `
max_concurrent = 10
model = "haiku"
`
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "testgenctl.toml")
	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))

	config, err := LoadFromFile(configFile)
	require.NoError(t, err)
	assert.Equal(t, 10, config.MaxConcurrent)
	assert.Equal(t, "haiku", config.Model)
	assert.Equal(t, 2, config.MaxRetries)              // Default
	assert.Equal(t, "exponential", config.BackoffType) // Default
	assert.Equal(t, 10, config.BatchSize)               // Default
	assert.Equal(t, 0.0, config.CostLimit)               // Default
}

func TestConfig_LoadFromNonExistentFile(t *testing.T) {
	config, err := LoadFromFile("/non/existent/file.toml")
	require.Error(t, err)
	assert.Nil(t, config)
}

func TestConfig_LoadFromInvalidTOML(t *testing.T) {
	configContent := `
max_concurrent = 5
[invalid toml
`
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "testgenctl.toml")
	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))

	config, err := LoadFromFile(configFile)
	require.Error(t, err)
	assert.Nil(t, config)
}

func TestConfig_LoadWithDefaults(t *testing.T) {
	config := LoadWithDefaults()
	require.NotNil(t, config)
	assert.Equal(t, 5, config.MaxConcurrent)
	assert.Equal(t, "sonnet", config.Model)
	assert.Equal(t, 15*time.Minute, config.Timeout)
	assert.Equal(t, 2, config.MaxRetries)
	assert.Equal(t, "exponential", config.BackoffType)
	assert.True(t, config.CircuitBreakerEnabled)
	assert.Equal(t, 10, config.BatchSize)
	assert.Equal(t, "claude", config.Binary)
}

func TestConfig_MergeWithFlags(t *testing.T) {
	base := &Config{
		MaxConcurrent:  5,
		Model:          "sonnet",
		FallbackModel:  "haiku",
		MaxRetries:     2,
		BatchSize:      10,
		CostLimit:      1.0,
		Binary:         "claude",
		BaseRetryDelay: time.Second,
	}
	flags := &Config{
		MaxConcurrent:       10, // Override
		Model:               "",  // Don't override (empty)
		MaxRetries:          0,   // Don't override (zero)
		BatchSize:           20,  // Override
		GracefulDegradation: true, // Override
	}

	result := base.MergeWithFlags(flags)
	assert.Equal(t, 10, result.MaxConcurrent)      // Overridden
	assert.Equal(t, "sonnet", result.Model)        // Kept from base
	assert.Equal(t, "haiku", result.FallbackModel) // Kept from base
	assert.Equal(t, 2, result.MaxRetries)          // Kept from base
	assert.Equal(t, 20, result.BatchSize)          // Overridden
	assert.True(t, result.GracefulDegradation)     // Overridden
}

func TestConfig_Validate_RejectsOutOfRangeBatchSize(t *testing.T) {
	config := LoadWithDefaults()
	config.BatchSize = 51
	err := config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size")
}

func TestConfig_Validate_RejectsMaxRetryDelayBelowBase(t *testing.T) {
	config := LoadWithDefaults()
	config.BaseRetryDelay = 10 * time.Second
	config.MaxRetryDelay = 5 * time.Second
	err := config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_retry_delay")
}

func TestConfig_FindConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, ".testgenctl.toml")
	require.NoError(t, os.WriteFile(configFile, []byte("max_concurrent = 5"), 0644))

	found := FindConfigFile(tmpDir)
	assert.Equal(t, configFile, found)
}

func TestConfig_FindConfigFileNotFound(t *testing.T) {
	tmpDir := t.TempDir()
	found := FindConfigFile(tmpDir)
	assert.Equal(t, "", found)
}
