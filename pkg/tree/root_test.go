package tree

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusformat/nxtree/pkg/container"
	"github.com/nexusformat/nxtree/pkg/container/memory"
	"github.com/nexusformat/nxtree/pkg/container/native"
	"github.com/nexusformat/nxtree/pkg/lock"
)

// buildScanTree populates root with the demo scan: /entry/data holding
// 1..10 marked as default signal with /entry/x (0..9) as its axis.
func buildScanTree(t *testing.T, ctx context.Context, root *Root) {
	t.Helper()

	entry, err := root.AddGroup("entry")
	require.NoError(t, err)
	require.NoError(t, entry.SetClass("NXentry"))
	require.NoError(t, entry.SetAttr(container.StringAttr(AttrSignal, "data")))
	require.NoError(t, entry.SetAttr(container.StringAttr(AttrAxes, "x")))

	data, err := entry.AddField("data", container.DtypeInt64, container.Shape{10}, nil)
	require.NoError(t, err)
	require.NoError(t, data.SetValue(ctx, int64Payload(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)))

	x, err := entry.AddField("x", container.DtypeInt64, container.Shape{10}, nil)
	require.NoError(t, err)
	require.NoError(t, x.SetValue(ctx, int64Payload(0, 1, 2, 3, 4, 5, 6, 7, 8, 9)))
}

// The end-to-end scan scenario: build, save to a file, reopen, verify
// structure and the default-plottable resolution.
func TestRoot_SaveReopenScan(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "scan.nxt")

	store, err := native.Create(path, native.Options{})
	require.NoError(t, err)
	root, err := Open(ctx, store, Options{LockPath: path})
	require.NoError(t, err)

	buildScanTree(t, ctx, root)
	require.True(t, root.Dirty())
	require.NoError(t, root.Save(ctx))
	require.False(t, root.Dirty())
	assert.Equal(t, lock.Held, root.LockState())
	require.NoError(t, root.Close(ctx))

	// Closing released the lock marker.
	info, err := lock.Inspect(path)
	require.NoError(t, err)
	assert.Nil(t, info)

	reopened, err := native.Open(path, container.ReadOnly)
	require.NoError(t, err)
	root2, err := Open(ctx, reopened, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { root2.Close(ctx) })

	data, err := root2.Lookup("entry/data")
	require.NoError(t, err)
	field := data.(*Field)
	assert.Equal(t, container.Shape{10}, field.Shape())
	assert.Equal(t, container.DtypeInt64, field.Dtype())

	got, err := field.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64Payload(1, 2, 3, 4, 5, 6, 7, 8, 9, 10), got)

	plot, err := root2.DefaultPlottable()
	require.NoError(t, err)
	assert.Equal(t, "/entry/data", plot.Signal.Path())
	require.Len(t, plot.Axes, 1)
	assert.Equal(t, "/entry/x", plot.Axes[0].Path())
}

func TestRoot_SaveToBindsUnboundTree(t *testing.T) {
	ctx := context.Background()

	root := New(Options{})
	entry, err := root.AddGroup("entry")
	require.NoError(t, err)
	f, err := entry.AddField("data", container.DtypeInt64, container.Shape{3}, nil)
	require.NoError(t, err)
	require.NoError(t, f.SetValue(ctx, int64Payload(7, 8, 9)))

	err = root.Save(ctx)
	assert.True(t, container.IsCode(err, container.ErrInvalidArgument))

	store := memory.New(container.Create)
	require.NoError(t, root.SaveTo(ctx, store))
	t.Cleanup(func() { root.Close(ctx) })

	entryStore, err := store.GetEntry(ctx, "/entry/data")
	require.NoError(t, err)
	assert.Equal(t, container.Shape{3}, entryStore.Shape)

	err = root.SaveTo(ctx, memory.New(container.Create))
	assert.True(t, container.IsCode(err, container.ErrExists))
}

// Deferred structural ops land in the store only at Save, in issue order.
func TestRoot_DeferredStructuralOps(t *testing.T) {
	ctx := context.Background()
	store := memory.New(container.Create)
	root, err := Open(ctx, store, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { root.Close(ctx) })

	a, err := root.AddGroup("a")
	require.NoError(t, err)
	_, err = a.AddField("f", container.DtypeInt32, container.Shape{2}, nil)
	require.NoError(t, err)
	require.NoError(t, root.Save(ctx))

	// Rename, move under a brand-new group, then delete another node:
	// the store is untouched until Save.
	b, err := root.AddGroup("b")
	require.NoError(t, err)
	require.NoError(t, a.Move("f", b))
	require.NoError(t, root.Rename("a", "alpha"))

	_, err = store.GetEntry(ctx, "/b/f")
	assert.True(t, container.IsCode(err, container.ErrNotFound))
	_, err = store.GetEntry(ctx, "/a")
	require.NoError(t, err)

	require.NoError(t, root.Save(ctx))

	_, err = store.GetEntry(ctx, "/b/f")
	require.NoError(t, err)
	_, err = store.GetEntry(ctx, "/alpha")
	require.NoError(t, err)
	_, err = store.GetEntry(ctx, "/a")
	assert.True(t, container.IsCode(err, container.ErrNotFound))

	// Payload followed the move.
	names, err := store.Children(ctx, "/b")
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, names)
}

func TestRoot_DeleteReachesStoreOnSave(t *testing.T) {
	ctx := context.Background()
	store := memory.New(container.Create)
	root, err := Open(ctx, store, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { root.Close(ctx) })

	_, err = root.AddGroup("doomed")
	require.NoError(t, err)
	require.NoError(t, root.Save(ctx))

	require.NoError(t, root.Delete("doomed"))
	_, err = store.GetEntry(ctx, "/doomed")
	require.NoError(t, err)

	require.NoError(t, root.Save(ctx))
	_, err = store.GetEntry(ctx, "/doomed")
	assert.True(t, container.IsCode(err, container.ErrNotFound))
}

func TestRoot_AttrSyncOnSave(t *testing.T) {
	ctx := context.Background()
	store := memory.New(container.Create)
	root, err := Open(ctx, store, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { root.Close(ctx) })

	g, err := root.AddGroup("g")
	require.NoError(t, err)
	require.NoError(t, g.SetAttr(container.StringAttr("one", "1")))
	require.NoError(t, g.SetAttr(container.StringAttr("two", "2")))
	require.NoError(t, root.Save(ctx))

	require.NoError(t, g.RemoveAttr("one"))
	require.NoError(t, g.SetAttr(container.StringAttr("three", "3")))
	require.NoError(t, root.Save(ctx))

	attrs, err := store.ReadAttrs(ctx, "/g")
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "two", attrs[0].Name)
	assert.Equal(t, "three", attrs[1].Name)
}

// Direct writes to a stored field go through the store immediately and
// need the write lock; staged writes to new fields do not.
func TestRoot_DirectWriteNeedsLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "locked.nxt")

	store, err := native.Create(path, native.Options{})
	require.NoError(t, err)
	root, err := Open(ctx, store, Options{LockPath: path})
	require.NoError(t, err)

	f, err := root.AddField("data", container.DtypeInt64, container.Shape{2}, nil)
	require.NoError(t, err)
	// Staged write on a brand-new field: allowed without the lock.
	require.NoError(t, f.SetValue(ctx, int64Payload(1, 2)))

	require.NoError(t, root.Save(ctx))
	require.NoError(t, root.ReleaseLock())

	err = f.SetValue(ctx, int64Payload(3, 4))
	require.Error(t, err)
	assert.True(t, container.IsCode(err, container.ErrLocked))

	require.NoError(t, root.AcquireLock(ctx))
	require.NoError(t, f.SetValue(ctx, int64Payload(3, 4)))
	require.NoError(t, root.Close(ctx))
}

func TestRoot_SaveTimesOutAgainstForeignLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "contested.nxt")

	store, err := native.Create(path, native.Options{})
	require.NoError(t, err)

	// Another lock in this process plays the competing writer.
	foreign := lock.New(path, lock.Options{})
	require.NoError(t, foreign.Acquire(ctx))
	defer foreign.Release()

	root, err := Open(ctx, store, Options{
		LockPath: path,
		Lock:     lock.Options{Timeout: 100 * time.Millisecond, PollInterval: 20 * time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(func() { root.Close(ctx) })

	_, err = root.AddGroup("entry")
	require.NoError(t, err)
	err = root.Save(ctx)
	require.Error(t, err)
	assert.True(t, container.IsCode(err, container.ErrLockTimeout))
}

// A same-group rename keeps the child's position in insertion order,
// in memory and after the rename round-trips through the store.
func TestRoot_RenameKeepsOrderAcrossReload(t *testing.T) {
	ctx := context.Background()
	store := memory.New(container.Create)
	root, err := Open(ctx, store, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { root.Close(ctx) })

	for _, name := range []string{"a", "b", "c"} {
		_, err := root.AddGroup(name)
		require.NoError(t, err)
	}
	require.NoError(t, root.Save(ctx))

	require.NoError(t, root.Rename("a", "z"))
	assert.Equal(t, []string{"z", "b", "c"}, root.ChildNames())

	require.NoError(t, root.Save(ctx))
	require.NoError(t, root.Reload(ctx))
	assert.Equal(t, []string{"z", "b", "c"}, root.ChildNames())
}

func TestRoot_ReloadDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	store := memory.New(container.Create)
	root, err := Open(ctx, store, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { root.Close(ctx) })

	_, err = root.AddGroup("kept")
	require.NoError(t, err)
	require.NoError(t, root.Save(ctx))

	_, err = root.AddGroup("abandoned")
	require.NoError(t, err)
	require.True(t, root.Dirty())

	require.NoError(t, root.Reload(ctx))
	require.False(t, root.Dirty())
	_, ok := root.Child("kept")
	assert.True(t, ok)
	_, ok = root.Child("abandoned")
	assert.False(t, ok)
}

func TestRoot_CloseIdempotent(t *testing.T) {
	ctx := context.Background()
	root, err := Open(ctx, memory.New(container.Create), Options{})
	require.NoError(t, err)

	require.NoError(t, root.Close(ctx))
	require.NoError(t, root.Close(ctx))

	_, err = root.AddGroup("late")
	assert.True(t, container.IsCode(err, container.ErrClosed))
}

func TestRoot_GrowStoredFieldMaterializes(t *testing.T) {
	ctx := context.Background()
	store := memory.New(container.Create)
	root, err := Open(ctx, store, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { root.Close(ctx) })

	f, err := root.AddField("series", container.DtypeInt64,
		container.Shape{2}, container.Shape{container.Unlimited})
	require.NoError(t, err)
	require.NoError(t, f.SetValue(ctx, int64Payload(1, 2)))
	require.NoError(t, root.Save(ctx))

	require.NoError(t, f.Grow(ctx, 0, 5))

	entry, err := store.GetEntry(ctx, "/series")
	require.NoError(t, err)
	assert.Equal(t, container.Shape{5}, entry.Shape)

	got, err := f.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64Payload(1, 2, 0, 0, 0), got)
}
