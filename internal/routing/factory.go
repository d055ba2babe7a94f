package routing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/graphfleet/internal/config"
)

// Operation is the request intent the factory routes on.
type Operation string

const (
	OperationRead  Operation = "read"
	OperationWrite Operation = "write"
)

// Factory combines routing policy with the resolver to hand back a client
// bound to the right endpoint. Shared repositories route writes to the
// current master and reads to the replica load balancer; tenant graphs always
// go through discovery. Errors here are never retried; retry lives inside
// the Client.
type Factory struct {
	cfg      *config.Config
	resolver *Resolver
	breakers *BreakerSet
	logger   zerolog.Logger
}

func NewFactory(cfg *config.Config, resolver *Resolver, breakers *BreakerSet, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:      cfg,
		resolver: resolver,
		breakers: breakers,
		logger:   logger.With().Str("component", "client-factory").Logger(),
	}
}

// ForGraph returns a client for one operation against one graph. The tier
// hint is advisory: lookups key on graph ID, but a resolved instance whose
// tier disagrees with the hint is logged for operators to chase.
func (f *Factory) ForGraph(ctx context.Context, graphID string, op Operation, tier string) (*Client, error) {
	if repo, ok := f.sharedRepository(graphID); ok {
		return f.forSharedRepository(ctx, repo, op)
	}

	instance, err := f.resolver.Resolve(ctx, graphID)
	if err != nil {
		return nil, err
	}
	if tier != "" && instance.Tier != tier {
		f.logger.Warn().Str("graph_id", graphID).Str("hint", tier).
			Str("instance_tier", instance.Tier).Msg("tier hint does not match resolved instance")
	}
	return f.ClientFor(instance.Endpoint), nil
}

func (f *Factory) forSharedRepository(ctx context.Context, repo string, op Operation) (*Client, error) {
	// Local development talks to a fixed endpoint without discovery.
	if f.cfg.Environment == "dev" || f.cfg.Environment == "local" {
		return f.ClientFor(f.cfg.LocalGraphEndpoint), nil
	}

	if op == OperationWrite {
		master, err := f.resolver.ResolveSharedMaster(ctx, repo)
		if err != nil {
			return nil, err
		}
		return f.ClientFor(master.Endpoint), nil
	}

	if f.replicaReadsAvailable() {
		return f.ClientFor(f.cfg.ReplicaLBEndpoint), nil
	}

	if !f.cfg.MasterReadFallback {
		return nil, fmt.Errorf("no replica endpoint for repository %s and master reads disabled: %w",
			repo, ErrServiceUnavailable)
	}
	master, err := f.resolver.ResolveSharedMaster(ctx, repo)
	if err != nil {
		return nil, err
	}
	f.logger.Debug().Str("repository", repo).Msg("replica unavailable, reading from shared master")
	return f.ClientFor(master.Endpoint), nil
}

// replicaReadsAvailable reports whether shared-repository reads may target
// the replica load balancer: the toggle is on, an endpoint is configured,
// and its breaker is not open.
func (f *Factory) replicaReadsAvailable() bool {
	if !f.cfg.ReplicaReadsEnabled || f.cfg.ReplicaLBEndpoint == "" {
		return false
	}
	if f.cfg.BreakersEnabled && f.breakers.For(f.cfg.ReplicaLBEndpoint).State() == StateOpen {
		return false
	}
	return true
}

func (f *Factory) sharedRepository(graphID string) (string, bool) {
	for _, repo := range f.cfg.SharedRepositories {
		if graphID == repo {
			return repo, true
		}
	}
	return "", false
}

// Invalidate drops the cached location for a graph. Callers use it when an
// instance reports it no longer hosts a graph, so the next request
// re-resolves instead of riding out the cache TTL.
func (f *Factory) Invalidate(ctx context.Context, graphID string) {
	if _, ok := f.sharedRepository(graphID); ok {
		return
	}
	f.resolver.Invalidate(ctx, graphID)
}

// ClientFor builds a client for a known endpoint, applying the configured
// retry and breaker policy. Used directly for administrative calls that
// bypass graph resolution.
func (f *Factory) ClientFor(endpoint string) *Client {
	var breaker *Breaker
	if f.cfg.BreakersEnabled {
		breaker = f.breakers.For(endpoint)
	}
	maxRetries := 0
	if f.cfg.RetryEnabled {
		maxRetries = f.cfg.MaxRetries
	}
	return NewClient(endpoint, ClientOptions{
		APIKey:     f.cfg.AgentAPIKey,
		Timeout:    f.cfg.RequestTimeout,
		MaxRetries: maxRetries,
		Breaker:    breaker,
		Logger:     f.logger,
	})
}

// Healthy reports whether any healthy instance currently hosts the graph,
// without building a client. Used by readiness probes.
func (f *Factory) Healthy(ctx context.Context, graphID string) bool {
	if _, ok := f.sharedRepository(graphID); ok {
		return true
	}
	_, err := f.resolver.Resolve(ctx, graphID)
	return err == nil
}
