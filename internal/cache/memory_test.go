package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemory_SetGet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.Set(ctx, LocationKey("kg_abc123"), "10.0.1.5:7474", 300*time.Second)

	v, ok := c.Get(ctx, LocationKey("kg_abc123"))
	assert.True(t, ok)
	assert.Equal(t, "10.0.1.5:7474", v)
}

func TestMemory_Miss(t *testing.T) {
	c := NewMemory()

	_, ok := c.Get(context.Background(), LocationKey("kg_missing"))
	assert.False(t, ok)
}

func TestMemory_TTLExpiry(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set(ctx, "health:i-001", "healthy", 30*time.Second)

	_, ok := c.Get(ctx, "health:i-001")
	assert.True(t, ok)

	// One second before expiry the entry is still served.
	now = now.Add(29 * time.Second)
	_, ok = c.Get(ctx, "health:i-001")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Get(ctx, "health:i-001")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemory_ZeroTTLNeverExpires(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set(ctx, IngestionActiveKey("i-001"), "1", 0)

	now = now.Add(24 * time.Hour)
	_, ok := c.Get(ctx, IngestionActiveKey("i-001"))
	assert.True(t, ok)

	c.Delete(ctx, IngestionActiveKey("i-001"))
	_, ok = c.Get(ctx, IngestionActiveKey("i-001"))
	assert.False(t, ok)
}

func TestMemory_LastWriteWins(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.Set(ctx, LocationKey("kg_a"), "10.0.1.5:7474", time.Minute)
	c.Set(ctx, LocationKey("kg_a"), "10.0.1.9:7474", time.Minute)

	v, _ := c.Get(ctx, LocationKey("kg_a"))
	assert.Equal(t, "10.0.1.9:7474", v)
}

func TestKeyScheme(t *testing.T) {
	assert.Equal(t, "location:kg_abc123", LocationKey("kg_abc123"))
	assert.Equal(t, "health:i-001", HealthKey("i-001"))
	assert.Equal(t, "ingestion:active:i-001", IngestionActiveKey("i-001"))
	assert.Equal(t, "shared:master:sec", SharedMasterKey("sec"))
}
