package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusformat/nxtree/pkg/container"
	"github.com/nexusformat/nxtree/pkg/container/memory"
	"github.com/nexusformat/nxtree/pkg/tree"
)

func newRoot(t *testing.T) *tree.Root {
	t.Helper()
	root, err := tree.Open(context.Background(), memory.New(container.Create), tree.Options{})
	require.NoError(t, err)
	return root
}

func TestRegistry_RegisterGetRemove(t *testing.T) {
	reg := New(nil)
	root := newRoot(t)

	require.NoError(t, reg.Register("a.nxt", root))
	assert.True(t, reg.Contains("a.nxt"))
	assert.Equal(t, 1, reg.Len())

	got, err := reg.Get("a.nxt")
	require.NoError(t, err)
	assert.Same(t, root, got)

	err = reg.Register("a.nxt", newRoot(t))
	assert.True(t, container.IsCode(err, container.ErrExists))
	require.Error(t, reg.Register("", root))
	require.Error(t, reg.Register("x.nxt", nil))

	removed, err := reg.Remove("a.nxt")
	require.NoError(t, err)
	assert.Same(t, root, removed)
	assert.False(t, reg.Contains("a.nxt"))

	_, err = reg.Get("a.nxt")
	assert.True(t, container.IsCode(err, container.ErrNotFound))
	_, err = reg.Remove("a.nxt")
	assert.True(t, container.IsCode(err, container.ErrNotFound))

	require.NoError(t, removed.Close(context.Background()))
}

func TestRegistry_List(t *testing.T) {
	reg := New(nil)
	for _, name := range []string{"c.nxt", "a.nxt", "b.nxt"} {
		require.NoError(t, reg.Register(name, newRoot(t)))
	}
	assert.Equal(t, []string{"a.nxt", "b.nxt", "c.nxt"}, reg.List())
	require.NoError(t, reg.CloseAll(context.Background()))
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_CloseAllIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := New(nil)
	require.NoError(t, reg.Register("a.nxt", newRoot(t)))

	require.NoError(t, reg.CloseAll(ctx))
	require.NoError(t, reg.CloseAll(ctx))
}

// Registering a tree wires up cross-file link resolution.
func TestRegistry_ExternalLinkResolution(t *testing.T) {
	ctx := context.Background()
	reg := New(nil)

	remote := newRoot(t)
	entry, err := remote.AddGroup("entry")
	require.NoError(t, err)
	data, err := entry.AddField("data", container.DtypeInt64, container.Shape{4}, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Register("remote.nxt", remote))

	local := newRoot(t)
	require.NoError(t, reg.Register("local.nxt", local))
	link, err := local.AddLink("mirror", "remote.nxt#/entry/data")
	require.NoError(t, err)

	resolved, err := link.Resolve()
	require.NoError(t, err)
	assert.Same(t, tree.Node(data), resolved)

	require.NoError(t, reg.CloseAll(ctx))
}

func TestRegistry_OpenerOnDemand(t *testing.T) {
	ctx := context.Background()

	opened := 0
	reg := New(func(ctx context.Context, name string) (*tree.Root, error) {
		opened++
		root, err := tree.Open(ctx, memory.New(container.Create), tree.Options{})
		if err != nil {
			return nil, err
		}
		_, err = root.AddGroup("entry")
		return root, err
	})

	first, err := reg.ResolveRoot("lazy.nxt")
	require.NoError(t, err)
	assert.True(t, reg.Contains("lazy.nxt"))

	// Second resolution hits the registered copy.
	second, err := reg.ResolveRoot("lazy.nxt")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, opened)

	require.NoError(t, reg.CloseAll(ctx))
}

func TestRegistry_NoOpener(t *testing.T) {
	reg := New(nil)
	_, err := reg.ResolveRoot("missing.nxt")
	assert.True(t, container.IsCode(err, container.ErrNotFound))
}
