package memory

import (
	"context"
	"testing"

	"github.com/nexusformat/nxtree/pkg/container"
	containertesting "github.com/nexusformat/nxtree/pkg/container/testing"
	"github.com/stretchr/testify/require"
)

// TestMemoryStore runs the complete container.Store conformance suite
// against the in-memory implementation.
func TestMemoryStore(t *testing.T) {
	suite := &containertesting.StoreTestSuite{
		NewStore: func(t *testing.T) container.Store {
			return New(container.Create)
		},
	}
	suite.Run(t)
}

func TestMemoryStore_ReadOnly(t *testing.T) {
	ctx := context.Background()
	store := New(container.ReadOnly)

	err := store.CreateGroup(ctx, "/entry")
	require.Error(t, err)
	require.True(t, container.IsCode(err, container.ErrReadOnly))
}

func TestMemoryStore_ClosedOperations(t *testing.T) {
	ctx := context.Background()
	store := New(container.Create)
	require.NoError(t, store.CreateGroup(ctx, "/entry"))
	require.NoError(t, store.Close(ctx))

	_, err := store.GetEntry(ctx, "/entry")
	require.True(t, container.IsCode(err, container.ErrClosed))
	err = store.CreateGroup(ctx, "/other")
	require.True(t, container.IsCode(err, container.ErrClosed))

	// Close is idempotent.
	require.NoError(t, store.Close(ctx))
}
