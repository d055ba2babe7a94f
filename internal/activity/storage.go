package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/edvin/graphfleet/internal/config"
)

// StorageActivities reads the snapshot bucket directly. Migrations fall back
// to it when the source instance is gone and no live snapshot can be taken.
type StorageActivities struct {
	bucket string
	client *s3.Client
}

func NewStorageActivities(cfg *config.Config) *StorageActivities {
	opts := s3.Options{
		Region:      cfg.SnapshotRegion,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.SnapshotAccessKey, cfg.SnapshotSecretKey, ""),
	}
	if cfg.SnapshotEndpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.SnapshotEndpoint)
		opts.UsePathStyle = true
	}
	return &StorageActivities{bucket: cfg.SnapshotBucket, client: s3.New(opts)}
}

type FindLatestSnapshotParams struct {
	InstanceID string `json:"instance_id"`
	DatabaseID string `json:"database_id"`
}

// FindLatestSnapshot returns the key of the newest snapshot archive a
// decommissioned instance left behind for a database. Keys follow the
// agent's layout: snapshots/{instance}/{database}/{snap-id}.tar.gz.
func (a *StorageActivities) FindLatestSnapshot(ctx context.Context, params FindLatestSnapshotParams) (string, error) {
	prefix := fmt.Sprintf("snapshots/%s/%s/", params.InstanceID, params.DatabaseID)

	var (
		newestKey string
		newestAt  time.Time
		token     *string
	)
	for {
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return "", fmt.Errorf("list snapshots under %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.LastModified != nil && obj.LastModified.After(newestAt) {
				newestAt = *obj.LastModified
				newestKey = aws.ToString(obj.Key)
			}
		}
		if out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}

	if newestKey == "" {
		return "", fmt.Errorf("no snapshot found for database %s on instance %s", params.DatabaseID, params.InstanceID)
	}
	return newestKey, nil
}
