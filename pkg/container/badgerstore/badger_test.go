package badgerstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nexusformat/nxtree/pkg/container"
	containertesting "github.com/nexusformat/nxtree/pkg/container/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBadgerStore runs the complete container.Store conformance suite
// against the badger backend, including close/reopen persistence.
func TestBadgerStore(t *testing.T) {
	dirs := map[container.Store]string{}

	suite := &containertesting.StoreTestSuite{
		NewStore: func(t *testing.T) container.Store {
			dir := filepath.Join(t.TempDir(), "db")
			store, err := Open(dir, container.Create, Options{})
			require.NoError(t, err)
			dirs[store] = dir
			t.Cleanup(func() { store.Close(context.Background()) })
			return store
		},
		Reopen: func(t *testing.T, s container.Store) container.Store {
			dir := dirs[s]
			require.NoError(t, s.Close(context.Background()))
			reopened, err := Open(dir, container.ReadWrite, Options{})
			require.NoError(t, err)
			dirs[reopened] = dir
			t.Cleanup(func() { reopened.Close(context.Background()) })
			return reopened
		},
	}
	suite.Run(t)
}

// TestBadgerStore_InMemory exercises the in-memory option used by tests
// that do not need persistence.
func TestBadgerStore_InMemory(t *testing.T) {
	suite := &containertesting.StoreTestSuite{
		NewStore: func(t *testing.T) container.Store {
			store, err := Open("", container.Create, Options{InMemory: true})
			require.NoError(t, err)
			t.Cleanup(func() { store.Close(context.Background()) })
			return store
		},
	}
	suite.Run(t)
}

func TestOpen_MissingDatabase(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "db"), container.ReadWrite, Options{})
	require.Error(t, err)
	assert.True(t, container.IsCode(err, container.ErrAccess))
}

func TestOpen_CreateTwice(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	store, err := Open(dir, container.Create, Options{})
	require.NoError(t, err)
	require.NoError(t, store.Close(context.Background()))

	_, err = Open(dir, container.Create, Options{})
	require.Error(t, err)
	assert.True(t, container.IsCode(err, container.ErrExists))
}

// The configured chunk size is persisted and survives reopen.
func TestBadgerStore_ChunkSizePersists(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")

	store, err := Open(dir, container.Create, Options{ChunkBytes: 32})
	require.NoError(t, err)

	shape := container.Shape{50}
	require.NoError(t, store.CreateField(ctx, "/data", container.DtypeInt64, shape, nil))

	payload := make([]byte, 400)
	for i := 0; i < 50; i++ {
		container.ByteOrder.PutUint64(payload[i*8:], uint64(i*7))
	}
	require.NoError(t, store.WriteValue(ctx, "/data", container.WholeSlab(shape), payload))
	require.NoError(t, store.Close(ctx))

	reopened, err := Open(dir, container.ReadWrite, Options{ChunkBytes: 9999})
	require.NoError(t, err)
	defer reopened.Close(ctx)
	assert.Equal(t, uint64(32), reopened.chunkBytes)

	got, err := reopened.ReadValue(ctx, "/data", container.WholeSlab(shape))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
