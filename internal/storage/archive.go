package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pfrederiksen/city-events/internal/event"
	"github.com/pfrederiksen/city-events/internal/logger"
)

// ArchiveConfig locates an S3-compatible bucket for dataset copies
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether an archive endpoint is configured
func (c ArchiveConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// Validate checks that the archive settings are usable
func (c ArchiveConfig) Validate() error {
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("archive access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("archive secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("archive bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("archive endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// objectPutter is the part of *minio.Client the archive needs
type objectPutter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ArchiveStore copies every saved dataset as CSV to an object store.
// The wrapped store stays authoritative: archive failures are logged and
// never fail a save.
type ArchiveStore struct {
	Store
	client objectPutter
	bucket string
	log    *logger.Logger
}

// NewArchiveStore wraps store with an archive in the configured bucket
func NewArchiveStore(store Store, cfg ArchiveConfig, log *logger.Logger) (*ArchiveStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating archive client: %w", err)
	}
	return newArchiveStore(store, client, cfg.Bucket, log), nil
}

func newArchiveStore(store Store, client objectPutter, bucket string, log *logger.Logger) *ArchiveStore {
	if log == nil {
		log = logger.Default()
	}
	return &ArchiveStore{Store: store, client: client, bucket: bucket, log: log}
}

func (s *ArchiveStore) Name() string {
	return s.Store.Name() + "+archive"
}

// Save saves to the wrapped store, then archives the dataset
func (s *ArchiveStore) Save(ctx context.Context, target Target, dataset *event.Dataset) error {
	if err := s.Store.Save(ctx, target, dataset); err != nil {
		return err
	}

	key := ObjectKey(target)
	if err := s.archive(ctx, key, dataset); err != nil {
		s.log.Warn("Archiving dataset failed", logger.Fields{
			"bucket": s.bucket,
			"key":    key,
		}, err)
		return nil
	}

	s.log.Debug("Archived dataset", logger.Fields{
		"bucket": s.bucket,
		"key":    key,
		"events": dataset.Len(),
	})
	return nil
}

func (s *ArchiveStore) archive(ctx context.Context, key string, dataset *event.Dataset) error {
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, dataset); err != nil {
		return fmt.Errorf("encoding dataset: %w", err)
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

// ObjectKey returns the archive key for target, e.g. "mumbai/events_mumbai_20260203.csv"
func ObjectKey(target Target) string {
	return path.Join(target.City, target.Name()+".csv")
}
