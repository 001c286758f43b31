package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittofab/internal/logger"
	"github.com/marmos91/dittofab/pkg/store/state"
	stateBadger "github.com/marmos91/dittofab/pkg/store/state/badger"
	stateMemory "github.com/marmos91/dittofab/pkg/store/state/memory"
	stateS3 "github.com/marmos91/dittofab/pkg/store/state/s3"
)

// CreateStateStore creates a state store based on configuration.
//
// This factory function uses the Type field to determine which store
// implementation to create, then decodes the type-specific configuration
// from the corresponding map and passes it to the store's constructor.
//
// Supported types:
//   - "memory": Uses pkg/store/state/memory (in-memory, ephemeral)
//   - "badger": Uses pkg/store/state/badger (BadgerDB, persistent)
//   - "s3": Uses pkg/store/state/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: State store configuration
//
// Returns:
//   - state.Store: Initialized state store
//   - error: Configuration or initialization error
func CreateStateStore(ctx context.Context, cfg *StateConfig) (state.Store, error) {
	switch cfg.Type {
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return stateMemory.NewMemoryStateStore(), nil
	case "badger":
		return createBadgerStateStore(ctx, cfg.Badger)
	case "s3":
		return createS3StateStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown state store type: %q (supported: memory, badger, s3)", cfg.Type)
	}
}

// createBadgerStateStore creates a BadgerDB-based persistent state store.
func createBadgerStateStore(ctx context.Context, options map[string]any) (state.Store, error) {
	// Check context before creating store
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Decode store-specific options
	type BadgerStateStoreOptions struct {
		Path     string `mapstructure:"path"`
		InMemory bool   `mapstructure:"in_memory"`
	}

	var storeOpts BadgerStateStoreOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode badger state store options: %w", err)
	}

	// Validate required fields
	if storeOpts.Path == "" && !storeOpts.InMemory {
		return nil, fmt.Errorf("badger state store: path is required")
	}

	store, err := stateBadger.NewBadgerStateStore(stateBadger.Options{
		Path:     storeOpts.Path,
		InMemory: storeOpts.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger state store: %w", err)
	}

	return store, nil
}

// createS3StateStore creates an S3-based state store.
func createS3StateStore(ctx context.Context, options map[string]any) (state.Store, error) {
	// Define the configuration struct for the S3 state store
	type S3StateStoreOptions struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	// Decode the options into the config struct
	var storeOpts S3StateStoreOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode S3 state store config: %w", err)
	}

	// Validate required fields
	if storeOpts.Bucket == "" {
		return nil, fmt.Errorf("S3 state store: bucket is required")
	}

	if storeOpts.Region == "" {
		return nil, fmt.Errorf("S3 state store: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	var configOptions []func(*awsConfig.LoadOptions) error

	// Set region
	configOptions = append(configOptions, awsConfig.WithRegion(storeOpts.Region))

	// Set custom endpoint if provided (for MinIO, Localstack, etc.)
	if storeOpts.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               storeOpts.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Set credentials if provided, otherwise use default credential chain
	if storeOpts.AccessKeyID != "" && storeOpts.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeOpts.AccessKeyID,
			storeOpts.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	// Configure retries for better resilience against temporary S3 failures
	maxRetries := storeOpts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries // Retry for transient errors (502, 503, timeouts, etc.)
		})
	}))

	// Load AWS config
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Force path-style addressing for compatibility with MinIO/Localstack
		if storeOpts.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 State Store
	// ========================================================================

	store, err := stateS3.NewS3StateStore(ctx, stateS3.S3StateStoreConfig{
		Client:    client,
		Bucket:    storeOpts.Bucket,
		KeyPrefix: storeOpts.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 state store: %w", err)
	}

	logger.Info("S3 state store initialized: bucket=%s, region=%s, prefix=%s",
		storeOpts.Bucket, storeOpts.Region, storeOpts.KeyPrefix)

	return store, nil
}
