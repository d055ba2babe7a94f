package agent

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/edvin/graphfleet/internal/platform"
)

// Snapshotter archives logical database directories and uploads them to S3.
// Snapshots are the durable trace of a decommissioned instance: best effort,
// never blocking termination.
type Snapshotter struct {
	logger     zerolog.Logger
	instanceID string
	dataDir    string
	bucket     string
	endpoint   string
	region     string
	accessKey  string
	secretKey  string
}

func NewSnapshotter(logger zerolog.Logger, instanceID, dataDir, bucket, endpoint, region, accessKey, secretKey string) *Snapshotter {
	return &Snapshotter{
		logger:     logger.With().Str("component", "snapshotter").Logger(),
		instanceID: instanceID,
		dataDir:    dataDir,
		bucket:     bucket,
		endpoint:   endpoint,
		region:     region,
		accessKey:  accessKey,
		secretKey:  secretKey,
	}
}

func (s *Snapshotter) s3Client() *s3.Client {
	opts := s3.Options{
		Region:      s.region,
		Credentials: credentials.NewStaticCredentialsProvider(s.accessKey, s.secretKey, ""),
	}
	if s.endpoint != "" {
		opts.BaseEndpoint = aws.String(s.endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// SnapshotAll archives every database directory under the data dir. Failures
// are logged per database and the rest continue.
func (s *Snapshotter) SnapshotAll(ctx context.Context) error {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return fmt.Errorf("read data dir %s: %w", s.dataDir, err)
	}

	var failed int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := s.Snapshot(ctx, e.Name()); err != nil {
			failed++
			s.logger.Error().Err(err).Str("database", e.Name()).Msg("snapshot failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("snapshot failed for %d databases", failed)
	}
	return nil
}

// Snapshot archives one database directory and uploads it, returning the
// object key. The key carries the instance, database, and a snapshot ID so
// migrations and post-mortems can find the archive.
func (s *Snapshotter) Snapshot(ctx context.Context, database string) (string, error) {
	snapID := platform.NewName("snap-")
	key := fmt.Sprintf("snapshots/%s/%s/%s.tar.gz", s.instanceID, database, snapID)

	archive, err := os.CreateTemp("", "graphfleet-snapshot-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer os.Remove(archive.Name())
	defer archive.Close()

	if err := tarDirectory(filepath.Join(s.dataDir, database), archive); err != nil {
		return "", fmt.Errorf("archive database %s: %w", database, err)
	}
	if _, err := archive.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind snapshot archive: %w", err)
	}

	s.logger.Info().Str("database", database).Str("key", key).Msg("uploading snapshot")
	_, err = s.s3Client().PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   archive,
		Metadata: map[string]string{
			"instance-id": s.instanceID,
			"database":    database,
			"created-at":  time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload snapshot %s: %w", key, err)
	}
	return key, nil
}

// Restore downloads a snapshot archive and unpacks it into the database
// directory. Used by migrations to hydrate a graph on its target instance.
func (s *Snapshotter) Restore(ctx context.Context, database, key string) error {
	out, err := s.s3Client().GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download snapshot %s: %w", key, err)
	}
	defer out.Body.Close()

	dir := filepath.Join(s.dataDir, database)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create database dir %s: %w", dir, err)
	}
	if err := untarDirectory(out.Body, dir); err != nil {
		return fmt.Errorf("unpack snapshot %s: %w", key, err)
	}
	s.logger.Info().Str("database", database).Str("key", key).Msg("snapshot restored")
	return nil
}

func tarDirectory(dir string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = rel
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func untarDirectory(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		// Reject entries that would escape the target directory.
		target := filepath.Join(dir, filepath.Clean(header.Name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %s escapes target directory", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}
