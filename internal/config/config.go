package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Identity / observability fields. ServiceName is set by each binary's
	// main before logging is initialized.
	ServiceName string
	Region      string
	Environment string // production, staging, dev
	LogLevel    string

	RegistryDatabaseURL string
	HTTPListenAddr      string
	MetricsAddr         string

	TemporalAddress       string
	TemporalTLSCert       string
	TemporalTLSKey        string
	TemporalTLSCACert     string
	TemporalTLSServerName string

	// Fleet API endpoint and key used by the graph-agent to reach the
	// control plane (self-registration, health reports, drain marking).
	FleetAPIURL string
	FleetAPIKey string

	// Routing / client behavior.
	RequestTimeout       time.Duration
	MaxRetries           int
	BreakerThreshold     int
	BreakerTimeout       time.Duration
	LocationCacheTTL     time.Duration
	HealthCacheTTL       time.Duration
	SharedMasterCacheTTL time.Duration
	RetryEnabled         bool
	BreakersEnabled      bool
	HealthChecksEnabled  bool
	ReplicaReadsEnabled  bool
	MasterReadFallback   bool
	// LocalGraphEndpoint short-circuits discovery in dev environments.
	LocalGraphEndpoint string
	// ReplicaLBEndpoint is the load-balancer address in front of the
	// shared-repository read replicas.
	ReplicaLBEndpoint string
	// SharedRepositories names the shared (non-tenant) repositories, e.g. "sec".
	SharedRepositories []string

	// Instance-side (graph-agent) settings.
	InstanceID      string
	NodeType        string // writer, shared_master, shared_replica
	Tier            string // standard, large, xlarge, shared
	ClusterGroup    string
	AgentListenAddr string
	AgentAPIKey     string
	EngineBackend   string // kuzu, neo4j
	EngineEndpoint  string
	EngineAPIKey    string
	DataDir         string
	MaxDatabases    int
	ConnectionCap   int
	QueueDepthLimit int
	HealthInterval  time.Duration
	DrainTimeout    time.Duration

	// Snapshot storage (S3-compatible).
	SnapshotBucket    string
	SnapshotEndpoint  string
	SnapshotRegion    string
	SnapshotAccessKey string
	SnapshotSecretKey string
}

func Load() (*Config, error) {
	cfg := &Config{
		Region:      getEnv("REGION", ""),
		Environment: getEnv("ENVIRONMENT", "dev"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		RegistryDatabaseURL: getEnv("REGISTRY_DATABASE_URL", ""),
		HTTPListenAddr:      getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsAddr:         getEnv("METRICS_ADDR", ""),

		TemporalAddress:       getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTLSCert:       getEnv("TEMPORAL_TLS_CERT", ""),
		TemporalTLSKey:        getEnv("TEMPORAL_TLS_KEY", ""),
		TemporalTLSCACert:     getEnv("TEMPORAL_TLS_CA_CERT", ""),
		TemporalTLSServerName: getEnv("TEMPORAL_TLS_SERVER_NAME", ""),

		FleetAPIURL: getEnv("FLEET_API_URL", "http://localhost:8090"),
		FleetAPIKey: getEnv("FLEET_API_KEY", ""),

		RequestTimeout:       getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		MaxRetries:           getEnvInt("MAX_RETRIES", 3),
		BreakerThreshold:     getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerTimeout:       getEnvDuration("BREAKER_OPEN_TIMEOUT", 60*time.Second),
		LocationCacheTTL:     getEnvDuration("LOCATION_CACHE_TTL", 300*time.Second),
		HealthCacheTTL:       getEnvDuration("HEALTH_CACHE_TTL", 30*time.Second),
		SharedMasterCacheTTL: getEnvDuration("SHARED_MASTER_CACHE_TTL", 300*time.Second),
		RetryEnabled:         getEnvBool("RETRY_ENABLED", true),
		BreakersEnabled:      getEnvBool("BREAKERS_ENABLED", true),
		HealthChecksEnabled:  getEnvBool("HEALTH_CHECKS_ENABLED", true),
		ReplicaReadsEnabled:  getEnvBool("REPLICA_READS_ENABLED", true),
		MasterReadFallback:   getEnvBool("MASTER_READ_FALLBACK", true),
		LocalGraphEndpoint:   getEnv("LOCAL_GRAPH_ENDPOINT", "localhost:7474"),
		ReplicaLBEndpoint:    getEnv("REPLICA_LB_ENDPOINT", ""),
		SharedRepositories:   splitList(getEnv("SHARED_REPOSITORIES", "sec")),

		InstanceID:      getEnv("INSTANCE_ID", ""),
		NodeType:        getEnv("NODE_TYPE", "writer"),
		Tier:            getEnv("TIER", "standard"),
		ClusterGroup:    getEnv("CLUSTER_GROUP", ""),
		AgentListenAddr: getEnv("AGENT_LISTEN_ADDR", ":7474"),
		AgentAPIKey:     getEnv("AGENT_API_KEY", ""),
		EngineBackend:   getEnv("ENGINE_BACKEND", "kuzu"),
		EngineEndpoint:  getEnv("ENGINE_ENDPOINT", "http://localhost:7475"),
		EngineAPIKey:    getEnv("ENGINE_API_KEY", ""),
		DataDir:         getEnv("DATA_DIR", "/var/lib/graphfleet"),
		MaxDatabases:    getEnvInt("MAX_DATABASES", 50),
		ConnectionCap:   getEnvInt("CONNECTION_CAP", 3),
		QueueDepthLimit: getEnvInt("QUEUE_DEPTH_LIMIT", 10),
		HealthInterval:  getEnvDuration("HEALTH_INTERVAL", 5*time.Minute),
		DrainTimeout:    getEnvDuration("DRAIN_TIMEOUT", 5*time.Minute),

		SnapshotBucket:    getEnv("SNAPSHOT_BUCKET", ""),
		SnapshotEndpoint:  getEnv("SNAPSHOT_ENDPOINT", ""),
		SnapshotRegion:    getEnv("SNAPSHOT_REGION", "us-east-1"),
		SnapshotAccessKey: getEnv("SNAPSHOT_ACCESS_KEY", ""),
		SnapshotSecretKey: getEnv("SNAPSHOT_SECRET_KEY", ""),
	}

	return cfg, nil
}

// Validate checks that the fields required by the given service are set.
func (c *Config) Validate(service string) error {
	var missing []string

	requireField := func(value, name string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	switch service {
	case "fleet-api":
		requireField(c.RegistryDatabaseURL, "REGISTRY_DATABASE_URL")
		requireField(c.TemporalAddress, "TEMPORAL_ADDRESS")
		requireField(c.HTTPListenAddr, "HTTP_LISTEN_ADDR")
	case "worker":
		requireField(c.RegistryDatabaseURL, "REGISTRY_DATABASE_URL")
		requireField(c.TemporalAddress, "TEMPORAL_ADDRESS")
	case "graph-agent":
		requireField(c.InstanceID, "INSTANCE_ID")
		requireField(c.FleetAPIURL, "FLEET_API_URL")
		requireField(c.EngineEndpoint, "ENGINE_ENDPOINT")
	}

	if (c.TemporalTLSCert == "") != (c.TemporalTLSKey == "") {
		return fmt.Errorf("TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set or both be empty")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration for %s: %s", service, strings.Join(missing, ", "))
	}
	return nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
