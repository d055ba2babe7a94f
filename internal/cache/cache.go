// Package cache provides the TTL-bound cache layer sitting in front of the
// registry. Entries are never authoritative: a miss or expiry always falls
// back to a registry read.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is a TTL key-value store. Implementations must be safe for
// concurrent use. A ttl of zero means the entry does not expire and must be
// deleted explicitly (used for ingestion-active markers).
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// Key builders. The key scheme is shared between the routing layer (reader)
// and the agents and ingestion pipeline (writers).

func LocationKey(graphID string) string {
	return "location:" + graphID
}

func HealthKey(instanceID string) string {
	return "health:" + instanceID
}

func IngestionActiveKey(instanceID string) string {
	return "ingestion:active:" + instanceID
}

func SharedMasterKey(repository string) string {
	return fmt.Sprintf("shared:master:%s", repository)
}
