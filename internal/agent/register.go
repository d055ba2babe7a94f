package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/graphfleet/internal/config"
	"github.com/edvin/graphfleet/internal/model"
)

// Register announces this instance to the fleet at boot. Registration is an
// upsert: a restarted agent re-registers and refreshes its endpoint and
// metadata. The instance starts out initializing; the first successful
// health check promotes it to healthy.
func Register(ctx context.Context, logger zerolog.Logger, cfg *config.Config, client *APIClient) error {
	now := time.Now().UTC()
	inst := &model.Instance{
		ID:           cfg.InstanceID,
		NodeType:     cfg.NodeType,
		Tier:         cfg.Tier,
		Region:       cfg.Region,
		Endpoint:     cfg.AgentListenAddr,
		Status:       model.InstanceInitializing,
		MaxDatabases: cfg.MaxDatabases,
		ClusterGroup: cfg.ClusterGroup,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if cfg.NodeType == model.NodeTypeSharedMaster || cfg.NodeType == model.NodeTypeSharedReplica {
		if len(cfg.SharedRepositories) == 0 {
			return fmt.Errorf("register: %s node without a shared repository", cfg.NodeType)
		}
		repo := cfg.SharedRepositories[0]
		inst.Repository = &repo
	}

	if err := client.Register(ctx, inst); err != nil {
		return fmt.Errorf("register instance %s: %w", cfg.InstanceID, err)
	}
	logger.Info().
		Str("instance_id", cfg.InstanceID).
		Str("node_type", cfg.NodeType).
		Str("tier", cfg.Tier).
		Msg("instance registered")

	// Look up the volumes assigned to this instance so the agent knows where
	// its databases live before the engine starts serving.
	volumes, err := client.Volumes(ctx, cfg.InstanceID)
	if err != nil {
		return fmt.Errorf("look up volumes for %s: %w", cfg.InstanceID, err)
	}
	for _, v := range volumes {
		logger.Info().
			Str("volume_id", v.VolumeID).
			Str("database_id", v.DatabaseID).
			Int("size_gb", v.SizeGB).
			Str("status", v.Status).
			Msg("data volume assigned")
	}
	if len(volumes) == 0 {
		logger.Info().Str("instance_id", cfg.InstanceID).Msg("no volume assignments on record")
	}
	return nil
}
