package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusformat/nxtree/pkg/container"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, "native", cfg.Store.Type)
	assert.Equal(t, 10*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Lock.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.Lock.Expiry)
	assert.Equal(t, uint64(DefaultMemoryCeilingBytes), cfg.Memory.CeilingBytes)
	assert.Equal(t, uint64(DefaultSlabBytes), cfg.Memory.SlabBytes)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
store:
  type: badger
  badger:
    dir: /var/lib/nxtree
    chunk_bytes: 131072
lock:
  timeout: 5s
  poll_interval: 100ms
memory:
  ceiling_bytes: 1048576
  slab_bytes: 65536
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Level is normalized to uppercase.
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "badger", cfg.Store.Type)
	assert.Equal(t, "/var/lib/nxtree", cfg.Store.Badger["dir"])
	assert.Equal(t, 5*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Lock.PollInterval)
	assert.Equal(t, uint64(1048576), cfg.Memory.CeilingBytes)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "bad store type",
			content: `
store:
  type: cassandra
`,
		},
		{
			name: "bad log format",
			content: `
logging:
  format: xml
`,
		},
		{
			name: "slab exceeds ceiling",
			content: `
memory:
  ceiling_bytes: 1024
  slab_bytes: 4096
`,
		},
		{
			name: "poll slower than timeout",
			content: `
lock:
  timeout: 1s
  poll_interval: 5s
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestCreateStore_Memory(t *testing.T) {
	store, err := CreateStore(context.Background(), &StoreConfig{Type: "memory"}, container.Create)
	require.NoError(t, err)
	require.NoError(t, store.Close(context.Background()))
}

func TestCreateStore_Native(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.nxt")

	cfg := &StoreConfig{
		Type:   "native",
		Native: map[string]any{"path": path, "chunk_bytes": uint64(4096)},
	}

	store, err := CreateStore(ctx, cfg, container.Create)
	require.NoError(t, err)
	require.NoError(t, store.CreateGroup(ctx, "/entry"))
	require.NoError(t, store.Close(ctx))

	reopened, err := CreateStore(ctx, cfg, container.ReadOnly)
	require.NoError(t, err)
	_, err = reopened.GetEntry(ctx, "/entry")
	require.NoError(t, err)
	require.NoError(t, reopened.Close(ctx))
}

func TestCreateStore_NativeRequiresPath(t *testing.T) {
	_, err := CreateStore(context.Background(), &StoreConfig{Type: "native"}, container.Create)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestCreateStore_BadgerInMemory(t *testing.T) {
	ctx := context.Background()
	cfg := &StoreConfig{
		Type:   "badger",
		Badger: map[string]any{"in_memory": true},
	}

	store, err := CreateStore(ctx, cfg, container.Create)
	require.NoError(t, err)
	require.NoError(t, store.Close(ctx))
}

func TestCreateStore_S3RequiresBucket(t *testing.T) {
	cfg := &StoreConfig{
		Type: "s3",
		S3:   map[string]any{"region": "eu-west-1"},
	}
	_, err := CreateStore(context.Background(), cfg, container.Create)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")
}

func TestOpenTree(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tree.nxt")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	cfg.Store.Native["path"] = path

	root, err := OpenTree(ctx, cfg, container.Create)
	require.NoError(t, err)

	_, err = root.AddGroup("entry")
	require.NoError(t, err)
	require.NoError(t, root.Save(ctx))
	require.NoError(t, root.Close(ctx))

	reopened, err := OpenTree(ctx, cfg, container.ReadOnly)
	require.NoError(t, err)
	_, ok := reopened.Child("entry")
	assert.True(t, ok)
	require.NoError(t, reopened.Close(ctx))
}

func TestTreeOptions(t *testing.T) {
	cfg := &Config{
		Lock:   LockConfig{Timeout: time.Second, PollInterval: 50 * time.Millisecond, Expiry: time.Hour},
		Memory: MemoryConfig{CeilingBytes: 2048, SlabBytes: 512},
	}

	opts := TreeOptions(cfg, "/data/scan.nxt")
	assert.Equal(t, uint64(2048), opts.MemoryCeilingBytes)
	assert.Equal(t, uint64(512), opts.SlabBytes)
	assert.Equal(t, "/data/scan.nxt", opts.LockPath)
	assert.Equal(t, time.Second, opts.Lock.Timeout)
}
