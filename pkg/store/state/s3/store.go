// Package s3 implements an S3-backed state.Store.
//
// Target records are stored as JSON objects, one per target, which makes
// the bucket an off-site snapshot of the control plane's configuration.
// The store works against Amazon S3 or any compatible endpoint (MinIO,
// Localstack).
//
// Object layout:
//
//	<prefix>/targets/<name>.json -> TargetRecord (JSON)
package s3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/dittofab/pkg/store/state"
)

// S3StateStore implements state.Store on an S3 bucket.
type S3StateStore struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// S3StateStoreConfig contains configuration for the S3 state store.
type S3StateStoreConfig struct {
	// Client is a configured S3 client (required).
	Client *s3.Client

	// Bucket is the bucket records are stored in (required).
	Bucket string

	// KeyPrefix is prepended to every object key (optional).
	KeyPrefix string
}

// NewS3StateStore creates an S3 state store and verifies bucket access.
func NewS3StateStore(ctx context.Context, cfg S3StateStoreConfig) (*S3StateStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 state store: client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 state store: bucket is required")
	}

	store := &S3StateStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}

	_, err := store.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return store, nil
}

func (s *S3StateStore) targetKey(name string) string {
	return path.Join(s.keyPrefix, "targets", name+".json")
}

// SaveTarget uploads rec, replacing any previous record with the same
// name.
func (s *S3StateStore) SaveTarget(ctx context.Context, rec *state.TargetRecord) error {
	if rec == nil || rec.Name == "" {
		return fmt.Errorf("cannot save record without a target name")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize target record: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.targetKey(rec.Name)),
		Body:   strings.NewReader(string(data)),
	})
	if err != nil {
		return fmt.Errorf("failed to write target record to S3: %w", err)
	}
	return nil
}

// LoadTarget downloads the record for the named target.
func (s *S3StateStore) LoadTarget(ctx context.Context, name string) (*state.TargetRecord, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.targetKey(name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, state.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read target record from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read target record body: %w", err)
	}

	var rec state.TargetRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to deserialize target record %q: %w", name, err)
	}
	return &rec, nil
}

// DeleteTarget removes the named record.
func (s *S3StateStore) DeleteTarget(ctx context.Context, name string) error {
	// S3 deletes are idempotent and report success for missing keys, so
	// existence is checked explicitly to match the other backends.
	if _, err := s.LoadTarget(ctx, name); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.targetKey(name)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete target record from S3: %w", err)
	}
	return nil
}

// ListTargets lists the names of all stored records.
func (s *S3StateStore) ListTargets(ctx context.Context) ([]string, error) {
	prefix := path.Join(s.keyPrefix, "targets") + "/"

	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list target records in S3: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".json")
			if name != "" {
				names = append(names, name)
			}
		}
	}

	return names, nil
}

// Close is a no-op; the S3 client holds no local resources.
func (s *S3StateStore) Close() error {
	return nil
}
