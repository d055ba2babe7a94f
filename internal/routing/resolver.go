package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/graphfleet/internal/cache"
	"github.com/edvin/graphfleet/internal/model"
)

// InstanceStore is the slice of the instance registry the resolver needs.
// Satisfied by *registry.InstanceRegistry.
type InstanceStore interface {
	GetByID(ctx context.Context, id string) (*model.Instance, error)
	FindSharedMaster(ctx context.Context, repository string) (*model.Instance, error)
}

// GraphStore is the slice of the graph registry the resolver needs.
// Satisfied by *registry.GraphRegistry.
type GraphStore interface {
	GetByGraphID(ctx context.Context, graphID string) (*model.GraphAssignment, error)
	TouchLastAccessed(ctx context.Context, graphID string) error
}

// cachedLocation is the cache payload for a resolved graph or shared master.
// It carries everything a routing decision needs, so a cache hit never has to
// go back to the registry.
type cachedLocation struct {
	InstanceID string `json:"instance_id"`
	NodeType   string `json:"node_type"`
	Tier       string `json:"tier"`
	Endpoint   string `json:"endpoint"`
}

// Resolver maps graph IDs to the healthy instance currently hosting them.
// Lookups go cache first, then the registry; only positive, healthy results
// are ever written back to the cache, so a miss or an unhealthy host is
// always re-checked on the next request. Within the TTL a cached location is
// served straight from the cache; the only guard on the hit path is the
// health snapshot, which lets a stale entry be evicted the moment an
// unhealthy report lands.
type Resolver struct {
	instances       InstanceStore
	graphs          GraphStore
	cache           cache.Cache
	locationTTL     time.Duration
	sharedMasterTTL time.Duration
	logger          zerolog.Logger
}

func NewResolver(
	instances InstanceStore,
	graphs GraphStore,
	c cache.Cache,
	locationTTL, sharedMasterTTL time.Duration,
	logger zerolog.Logger,
) *Resolver {
	return &Resolver{
		instances:       instances,
		graphs:          graphs,
		cache:           c,
		locationTTL:     locationTTL,
		sharedMasterTTL: sharedMasterTTL,
		logger:          logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve returns the healthy instance hosting graphID. It returns
// ErrNotFound when no assignment exists and ErrServiceUnavailable when the
// assigned instance is not currently healthy.
func (r *Resolver) Resolve(ctx context.Context, graphID string) (*model.Instance, error) {
	key := cache.LocationKey(graphID)

	if instance, ok := r.cachedInstance(ctx, key); ok {
		r.touch(ctx, graphID)
		return instance, nil
	}

	assignment, err := r.graphs.GetByGraphID(ctx, graphID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("resolve graph %s: %w", graphID, ErrNotFound)
		}
		return nil, fmt.Errorf("resolve graph %s: %w", graphID, err)
	}

	instance, err := r.healthyInstance(ctx, assignment.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("resolve graph %s: %w", graphID, err)
	}

	r.store(ctx, key, instance, r.locationTTL)
	r.touch(ctx, graphID)
	return instance, nil
}

// ResolveSharedMaster returns the healthy shared master for a repository.
func (r *Resolver) ResolveSharedMaster(ctx context.Context, repository string) (*model.Instance, error) {
	key := cache.SharedMasterKey(repository)

	if instance, ok := r.cachedInstance(ctx, key); ok {
		return instance, nil
	}

	instance, err := r.instances.FindSharedMaster(ctx, repository)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("resolve shared master for %s: %w", repository, ErrNotFound)
		}
		return nil, fmt.Errorf("resolve shared master for %s: %w", repository, err)
	}
	if instance.Status != model.InstanceHealthy {
		return nil, fmt.Errorf("resolve shared master for %s: instance %s is %s: %w",
			repository, instance.ID, instance.Status, ErrServiceUnavailable)
	}

	r.store(ctx, key, instance, r.sharedMasterTTL)
	return instance, nil
}

// Invalidate drops the cached location for a graph, forcing the next lookup
// to hit the registry. Used after migrations move a graph.
func (r *Resolver) Invalidate(ctx context.Context, graphID string) {
	r.cache.Delete(ctx, cache.LocationKey(graphID))
}

// InvalidateSharedMaster drops the cached shared master for a repository.
func (r *Resolver) InvalidateSharedMaster(ctx context.Context, repository string) {
	r.cache.Delete(ctx, cache.SharedMasterKey(repository))
}

// cachedInstance returns the instance for a cached location, or false when the
// entry is absent, malformed, or contradicted by a recent health snapshot.
// The hit path never touches the registry.
func (r *Resolver) cachedInstance(ctx context.Context, key string) (*model.Instance, bool) {
	raw, ok := r.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var loc cachedLocation
	if err := json.Unmarshal([]byte(raw), &loc); err != nil || loc.Endpoint == "" {
		r.cache.Delete(ctx, key)
		return nil, false
	}
	if status, ok := r.cache.Get(ctx, cache.HealthKey(loc.InstanceID)); ok && status != model.InstanceHealthy {
		r.cache.Delete(ctx, key)
		return nil, false
	}
	return &model.Instance{
		ID:       loc.InstanceID,
		NodeType: loc.NodeType,
		Tier:     loc.Tier,
		Endpoint: loc.Endpoint,
		Status:   model.InstanceHealthy,
	}, true
}

func (r *Resolver) store(ctx context.Context, key string, instance *model.Instance, ttl time.Duration) {
	payload, err := json.Marshal(cachedLocation{
		InstanceID: instance.ID,
		NodeType:   instance.NodeType,
		Tier:       instance.Tier,
		Endpoint:   instance.Endpoint,
	})
	if err != nil {
		return
	}
	r.cache.Set(ctx, key, string(payload), ttl)
}

func (r *Resolver) healthyInstance(ctx context.Context, instanceID string) (*model.Instance, error) {
	// A recent health snapshot saying anything but healthy short-circuits the
	// registry read; the registry may not have caught up yet.
	if status, ok := r.cache.Get(ctx, cache.HealthKey(instanceID)); ok && status != model.InstanceHealthy {
		return nil, fmt.Errorf("instance %s recently reported %s: %w", instanceID, status, ErrServiceUnavailable)
	}

	instance, err := r.instances.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
		}
		return nil, err
	}
	if instance.Status != model.InstanceHealthy {
		return nil, fmt.Errorf("instance %s is %s: %w", instanceID, instance.Status, ErrServiceUnavailable)
	}
	return instance, nil
}

func (r *Resolver) touch(ctx context.Context, graphID string) {
	if err := r.graphs.TouchLastAccessed(ctx, graphID); err != nil {
		r.logger.Debug().Err(err).Str("graph_id", graphID).Msg("failed to record graph access")
	}
}
