package provider

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"shardvault/internal/digest"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config describes an S3-compatible bucket used as a provider.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
}

// S3 sends shards to an S3-compatible bucket.
type S3 struct {
	id     string
	cfg    S3Config
	client *minio.Client
}

// NewS3 creates an S3 provider named id. No request is made until the first
// send or probe.
func NewS3(id string, cfg S3Config) (*S3, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 provider %q needs an endpoint and a bucket", id)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.Secure,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	return &S3{id: id, cfg: cfg, client: client}, nil
}

func (s *S3) ID() string {
	return s.id
}

// ObjectName is the key a shard is stored under in the bucket.
func (s *S3) ObjectName(shard []byte) string {
	return s.cfg.Prefix + digest.Sum(shard).String()
}

func (s *S3) SendChunk(ctx context.Context, shard []byte) error {
	name := s.ObjectName(shard)
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, name, bytes.NewReader(shard), int64(len(shard)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("upload shard %q to bucket %q: %w", name, s.cfg.Bucket, err)
	}

	slog.Debug("Uploaded shard", "provider", s.id, "object", name, "size", len(shard))
	return nil
}

// EnsureBucket creates the provider's bucket if it does not exist.
func (s *S3) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", s.cfg.Bucket, err)
		}
	}
	return nil
}

func (s *S3) Probe(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: bucket %q does not exist", ErrUnavailable, s.cfg.Bucket)
	}
	return time.Since(start), nil
}
