package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("HTTP_LISTEN_ADDR")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("POOL_MAX_UNITS_PER_USER")
	os.Unsetenv("POOL_MAX_TOTAL_UNITS")
	os.Unsetenv("POOL_IDLE_TIMEOUT")
	os.Unsetenv("SIMULATE_EXECUTION")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.HTTPListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.MaxUnitsPerUser)
	assert.Equal(t, 100, cfg.MaxTotalUnits)
	assert.Equal(t, 5*time.Minute, cfg.UnitIdleTimeout)
	assert.Equal(t, time.Minute, cfg.PoolSweepEvery)
	assert.Equal(t, 30*time.Second, cfg.ExecutionTimeout)
	assert.False(t, cfg.SimulateExecution)
}

func TestLoad_AllEnvVars(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/conduit")
	t.Setenv("HTTP_LISTEN_ADDR", ":7071")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ENCRYPTION_KEY", "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
	t.Setenv("POOL_MAX_UNITS_PER_USER", "3")
	t.Setenv("POOL_IDLE_TIMEOUT", "90s")
	t.Setenv("SIMULATE_EXECUTION", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost:5432/conduit", cfg.DatabaseURL)
	assert.Equal(t, ":7071", cfg.HTTPListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.MaxUnitsPerUser)
	assert.Equal(t, 90*time.Second, cfg.UnitIdleTimeout)
	assert.True(t, cfg.SimulateExecution)
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("POOL_MAX_TOTAL_UNITS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.MaxTotalUnits)
}

func TestValidate_MissingFields(t *testing.T) {
	cfg := &Config{HTTPListenAddr: ":8090"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "ENCRYPTION_KEY")
}

func TestValidate_AllPresent(t *testing.T) {
	cfg := &Config{
		DatabaseURL:      "postgres://localhost/conduit",
		EncryptionKeyHex: "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff",
		HTTPListenAddr:   ":8090",
	}
	assert.NoError(t, cfg.Validate())
}
