package routing

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/graphfleet/internal/cache"
	"github.com/edvin/graphfleet/internal/config"
	"github.com/edvin/graphfleet/internal/model"
)

func factoryConfig() *config.Config {
	return &config.Config{
		Environment:         "production",
		RequestTimeout:      30 * time.Second,
		MaxRetries:          3,
		RetryEnabled:        true,
		BreakersEnabled:     true,
		BreakerThreshold:    5,
		BreakerTimeout:      time.Minute,
		ReplicaReadsEnabled: true,
		MasterReadFallback:  true,
		ReplicaLBEndpoint:   "replica-lb.internal:7700",
		LocalGraphEndpoint:  "localhost:7700",
		SharedRepositories:  []string{"sec"},
		AgentAPIKey:         "agent-key",
	}
}

func newTestFactory(cfg *config.Config, instances *mockInstanceStore, graphs *mockGraphStore) *Factory {
	resolver := NewResolver(instances, graphs, cache.NewMemory(), 5*time.Minute, 5*time.Minute, zerolog.Nop())
	breakers := NewBreakerSet(cfg.BreakerThreshold, cfg.BreakerTimeout)
	return NewFactory(cfg, resolver, breakers, zerolog.Nop())
}

func sharedMasterFixture() *model.Instance {
	master := healthyInstanceFixture("i-010")
	master.NodeType = model.NodeTypeSharedMaster
	return master
}

func TestFactorySharedWriteTargetsMaster(t *testing.T) {
	instances := new(mockInstanceStore)
	f := newTestFactory(factoryConfig(), instances, new(mockGraphStore))
	instances.On("FindSharedMaster", mock.Anything, "sec").Return(sharedMasterFixture(), nil)

	client, err := f.ForGraph(context.Background(), "sec", OperationWrite, "")

	require.NoError(t, err)
	assert.Equal(t, "i-010:7700", client.Endpoint())
}

func TestFactorySharedReadTargetsReplicaLB(t *testing.T) {
	instances := new(mockInstanceStore)
	f := newTestFactory(factoryConfig(), instances, new(mockGraphStore))

	client, err := f.ForGraph(context.Background(), "sec", OperationRead, "")

	require.NoError(t, err)
	assert.Equal(t, "replica-lb.internal:7700", client.Endpoint())
	instances.AssertNotCalled(t, "FindSharedMaster", mock.Anything, mock.Anything)
}

func TestFactorySharedReadFallsBackToMasterWhenReplicasDisabled(t *testing.T) {
	cfg := factoryConfig()
	cfg.ReplicaReadsEnabled = false
	instances := new(mockInstanceStore)
	f := newTestFactory(cfg, instances, new(mockGraphStore))
	instances.On("FindSharedMaster", mock.Anything, "sec").Return(sharedMasterFixture(), nil)

	client, err := f.ForGraph(context.Background(), "sec", OperationRead, "")

	require.NoError(t, err)
	assert.Equal(t, "i-010:7700", client.Endpoint())
}

func TestFactorySharedReadFailsWhenFallbackForbidden(t *testing.T) {
	cfg := factoryConfig()
	cfg.ReplicaReadsEnabled = false
	cfg.MasterReadFallback = false
	f := newTestFactory(cfg, new(mockInstanceStore), new(mockGraphStore))

	_, err := f.ForGraph(context.Background(), "sec", OperationRead, "")

	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestFactorySharedReadAvoidsOpenReplicaBreaker(t *testing.T) {
	cfg := factoryConfig()
	instances := new(mockInstanceStore)
	f := newTestFactory(cfg, instances, new(mockGraphStore))
	instances.On("FindSharedMaster", mock.Anything, "sec").Return(sharedMasterFixture(), nil)

	replicaBreaker := f.breakers.For(cfg.ReplicaLBEndpoint)
	for i := 0; i < cfg.BreakerThreshold; i++ {
		replicaBreaker.RecordFailure()
	}
	require.Equal(t, StateOpen, replicaBreaker.State())

	client, err := f.ForGraph(context.Background(), "sec", OperationRead, "")

	require.NoError(t, err)
	assert.Equal(t, "i-010:7700", client.Endpoint(),
		"reads route around a replica endpoint whose breaker is open")
}

func TestFactoryDevEnvironmentBypassesDiscovery(t *testing.T) {
	cfg := factoryConfig()
	cfg.Environment = "dev"
	instances := new(mockInstanceStore)
	f := newTestFactory(cfg, instances, new(mockGraphStore))

	client, err := f.ForGraph(context.Background(), "sec", OperationWrite, "")

	require.NoError(t, err)
	assert.Equal(t, "localhost:7700", client.Endpoint())
	instances.AssertNotCalled(t, "FindSharedMaster", mock.Anything, mock.Anything)
}

func TestFactoryTenantGraphAlwaysResolves(t *testing.T) {
	instances := new(mockInstanceStore)
	graphs := new(mockGraphStore)
	f := newTestFactory(factoryConfig(), instances, graphs)

	graphs.On("GetByGraphID", mock.Anything, "kg_abc").
		Return(&model.GraphAssignment{GraphID: "kg_abc", InstanceID: "i-001"}, nil)
	instances.On("GetByID", mock.Anything, "i-001").Return(healthyInstanceFixture("i-001"), nil)
	graphs.On("TouchLastAccessed", mock.Anything, "kg_abc").Return(nil)

	for _, op := range []Operation{OperationRead, OperationWrite} {
		client, err := f.ForGraph(context.Background(), "kg_abc", op, "standard")
		require.NoError(t, err)
		assert.Equal(t, "i-001:7700", client.Endpoint())
	}
}

func TestFactoryTogglesDisableRetryAndBreakers(t *testing.T) {
	cfg := factoryConfig()
	cfg.RetryEnabled = false
	cfg.BreakersEnabled = false
	f := newTestFactory(cfg, new(mockInstanceStore), new(mockGraphStore))

	client := f.ClientFor("i-001:7700")

	assert.Nil(t, client.breaker)
	assert.Zero(t, client.maxRetries)
}
