package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("TEMPORAL_ADDRESS")
	os.Unsetenv("HTTP_LISTEN_ADDR")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("REQUEST_TIMEOUT")
	os.Unsetenv("MAX_RETRIES")
	os.Unsetenv("BREAKER_FAILURE_THRESHOLD")
	os.Unsetenv("BREAKER_OPEN_TIMEOUT")
	os.Unsetenv("LOCATION_CACHE_TTL")
	os.Unsetenv("CONNECTION_CAP")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:7233", cfg.TemporalAddress)
	assert.Equal(t, ":8090", cfg.HTTPListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5, cfg.BreakerThreshold)
	assert.Equal(t, 60*time.Second, cfg.BreakerTimeout)
	assert.Equal(t, 300*time.Second, cfg.LocationCacheTTL)
	assert.Equal(t, 30*time.Second, cfg.HealthCacheTTL)
	assert.Equal(t, 3, cfg.ConnectionCap)
	assert.Equal(t, 5*time.Minute, cfg.DrainTimeout)
	assert.True(t, cfg.RetryEnabled)
	assert.True(t, cfg.BreakersEnabled)
	assert.True(t, cfg.ReplicaReadsEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REGISTRY_DATABASE_URL", "postgres://localhost:5432/registry")
	t.Setenv("REQUEST_TIMEOUT", "10s")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("BREAKER_OPEN_TIMEOUT", "90s")
	t.Setenv("REPLICA_READS_ENABLED", "false")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost:5432/registry", cfg.RegistryDatabaseURL)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 90*time.Second, cfg.BreakerTimeout)
	assert.False(t, cfg.ReplicaReadsEnabled)
	assert.Equal(t, "production", cfg.Environment)
}

func TestLoad_BadDurationFallsBack(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestValidate_FleetAPI_MissingFields(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate("fleet-api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REGISTRY_DATABASE_URL")
	assert.Contains(t, err.Error(), "TEMPORAL_ADDRESS")
	assert.Contains(t, err.Error(), "HTTP_LISTEN_ADDR")
}

func TestValidate_GraphAgent_MissingFields(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate("graph-agent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSTANCE_ID")
	assert.Contains(t, err.Error(), "FLEET_API_URL")
	assert.Contains(t, err.Error(), "ENGINE_ENDPOINT")
}

func TestValidate_TLS_MismatchedCertKey(t *testing.T) {
	cfg := &Config{
		RegistryDatabaseURL: "postgres://localhost/registry",
		TemporalAddress:     "localhost:7233",
		HTTPListenAddr:      ":8090",
		TemporalTLSCert:     "/path/to/cert.pem",
	}
	err := cfg.Validate("fleet-api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
}

func TestValidate_AllPresent(t *testing.T) {
	cfg := &Config{
		RegistryDatabaseURL: "postgres://localhost/registry",
		TemporalAddress:     "localhost:7233",
		HTTPListenAddr:      ":8090",
		InstanceID:          "i-001",
		FleetAPIURL:         "http://localhost:8090",
		EngineEndpoint:      "http://localhost:7475",
		TemporalTLSCert:     "/path/to/cert.pem",
		TemporalTLSKey:      "/path/to/key.pem",
	}

	assert.NoError(t, cfg.Validate("fleet-api"))
	assert.NoError(t, cfg.Validate("worker"))
	assert.NoError(t, cfg.Validate("graph-agent"))
}
