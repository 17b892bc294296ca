package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/nexusformat/nxtree/internal/logger"
	"github.com/nexusformat/nxtree/pkg/container"
	"github.com/nexusformat/nxtree/pkg/container/badgerstore"
	"github.com/nexusformat/nxtree/pkg/container/memory"
	"github.com/nexusformat/nxtree/pkg/container/native"
	containerS3 "github.com/nexusformat/nxtree/pkg/container/s3"
	"github.com/nexusformat/nxtree/pkg/lock"
	"github.com/nexusformat/nxtree/pkg/tree"
)

// CreateStore creates a container store based on configuration.
//
// This factory function uses the Type field to determine which backend
// to create, then decodes the type-specific options from the
// corresponding map and passes them to the backend's constructor.
//
// Supported types:
//   - "native": single-file container (pkg/container/native)
//   - "memory": in-memory store, ephemeral (pkg/container/memory)
//   - "badger": BadgerDB-backed store (pkg/container/badgerstore)
//   - "s3": S3 or S3-compatible object storage (pkg/container/s3)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Store configuration
//   - mode: Access mode for the opened store
//
// Returns:
//   - container.Store: Initialized store
//   - error: Configuration or initialization error
func CreateStore(ctx context.Context, cfg *StoreConfig, mode container.Mode) (container.Store, error) {
	switch cfg.Type {
	case "native":
		return createNativeStore(ctx, cfg.Native, mode)
	case "memory":
		return memory.New(mode), nil
	case "badger":
		return createBadgerStore(ctx, cfg.Badger, mode)
	case "s3":
		return createS3Store(ctx, cfg.S3, mode)
	default:
		return nil, fmt.Errorf("unknown store type: %q (supported: native, memory, badger, s3)", cfg.Type)
	}
}

// createNativeStore creates a single-file container store.
func createNativeStore(ctx context.Context, options map[string]any, mode container.Mode) (container.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type NativeStoreOptions struct {
		Path       string `mapstructure:"path"`
		ChunkBytes uint64 `mapstructure:"chunk_bytes"`
	}

	var storeOpts NativeStoreOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode native store options: %w", err)
	}

	if storeOpts.Path == "" {
		return nil, fmt.Errorf("native store: path is required")
	}

	if mode == container.Create {
		return native.Create(storeOpts.Path, native.Options{ChunkBytes: storeOpts.ChunkBytes})
	}
	return native.Open(storeOpts.Path, mode)
}

// createBadgerStore creates a BadgerDB-backed container store.
func createBadgerStore(ctx context.Context, options map[string]any, mode container.Mode) (container.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type BadgerStoreOptions struct {
		Dir        string `mapstructure:"dir"`
		ChunkBytes uint64 `mapstructure:"chunk_bytes"`
		InMemory   bool   `mapstructure:"in_memory"`
	}

	var storeOpts BadgerStoreOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode badger store options: %w", err)
	}

	if storeOpts.Dir == "" && !storeOpts.InMemory {
		return nil, fmt.Errorf("badger store: dir is required")
	}

	return badgerstore.Open(storeOpts.Dir, mode, badgerstore.Options{
		ChunkBytes: storeOpts.ChunkBytes,
		InMemory:   storeOpts.InMemory,
	})
}

// createS3Store creates an S3-backed container store.
func createS3Store(ctx context.Context, options map[string]any, mode container.Mode) (container.Store, error) {
	type S3StoreOptions struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		ChunkBytes      uint64 `mapstructure:"chunk_bytes"`
	}

	var storeOpts S3StoreOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode S3 store options: %w", err)
	}

	if storeOpts.Bucket == "" {
		return nil, fmt.Errorf("S3 store: bucket is required")
	}
	if storeOpts.Region == "" {
		return nil, fmt.Errorf("S3 store: region is required")
	}

	client, err := containerS3.NewClient(ctx, containerS3.ClientConfig{
		Region:          storeOpts.Region,
		Endpoint:        storeOpts.Endpoint,
		AccessKeyID:     storeOpts.AccessKeyID,
		SecretAccessKey: storeOpts.SecretAccessKey,
		// Path-style addressing for MinIO/Localstack compatibility.
		UsePathStyle: storeOpts.Endpoint != "",
	})
	if err != nil {
		return nil, err
	}

	store, err := containerS3.Open(ctx, mode, containerS3.Config{
		Client:     client,
		Bucket:     storeOpts.Bucket,
		KeyPrefix:  storeOpts.KeyPrefix,
		ChunkBytes: storeOpts.ChunkBytes,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("S3 store initialized: bucket=%s, region=%s, prefix=%s",
		storeOpts.Bucket, storeOpts.Region, storeOpts.KeyPrefix)

	return store, nil
}

// TreeOptions converts the lock and memory sections into tree options.
// lockPath is the container path guarded by the marker file; empty
// disables locking (memory-backed stores).
func TreeOptions(cfg *Config, lockPath string) tree.Options {
	return tree.Options{
		MemoryCeilingBytes: cfg.Memory.CeilingBytes,
		SlabBytes:          cfg.Memory.SlabBytes,
		LockPath:           lockPath,
		Lock: lock.Options{
			Timeout:      cfg.Lock.Timeout,
			PollInterval: cfg.Lock.PollInterval,
			Expiry:       cfg.Lock.Expiry,
		},
	}
}

// OpenTree builds the configured store and opens a tree over it. Native
// stores get a write lock scoped to the container file; other backends
// coordinate through their own mechanisms.
func OpenTree(ctx context.Context, cfg *Config, mode container.Mode) (*tree.Root, error) {
	store, err := CreateStore(ctx, &cfg.Store, mode)
	if err != nil {
		return nil, err
	}

	var lockPath string
	if cfg.Store.Type == "native" {
		if p, ok := cfg.Store.Native["path"].(string); ok {
			lockPath = p
		}
	}

	root, err := tree.Open(ctx, store, TreeOptions(cfg, lockPath))
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return root, nil
}
