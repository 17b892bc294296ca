package tree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusformat/nxtree/pkg/container"
	"github.com/nexusformat/nxtree/pkg/container/memory"
)

// newTestRoot returns a writable tree over a fresh in-memory store.
func newTestRoot(t *testing.T) *Root {
	t.Helper()
	root, err := Open(context.Background(), memory.New(container.Create), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { root.Close(context.Background()) })
	return root
}

func TestGroup_AddAndLookup(t *testing.T) {
	root := newTestRoot(t)

	entry, err := root.AddGroup("entry")
	require.NoError(t, err)
	require.NoError(t, entry.SetClass("NXentry"))

	data, err := entry.AddField("data", container.DtypeInt64, container.Shape{10}, nil)
	require.NoError(t, err)

	assert.Equal(t, "/entry", entry.Path())
	assert.Equal(t, "/entry/data", data.Path())
	assert.Equal(t, "NXentry", entry.Class())
	assert.Equal(t, container.KindField, data.Kind())

	// Explicit lookups replace attribute-style child access.
	got, ok := root.Child("entry")
	require.True(t, ok)
	assert.Same(t, entry, got)

	byPath, err := root.Lookup("entry/data")
	require.NoError(t, err)
	assert.Same(t, data, byPath)

	_, err = root.Lookup("entry/missing")
	assert.True(t, container.IsCode(err, container.ErrNotFound))

	_, err = entry.ChildGroup("data")
	assert.True(t, container.IsCode(err, container.ErrNotGroup))

	_, err = root.ChildField("entry")
	assert.True(t, container.IsCode(err, container.ErrNotField))
}

func TestGroup_NameUniqueness(t *testing.T) {
	root := newTestRoot(t)

	_, err := root.AddGroup("entry")
	require.NoError(t, err)

	_, err = root.AddGroup("entry")
	assert.True(t, container.IsCode(err, container.ErrExists))
	_, err = root.AddField("entry", container.DtypeInt32, nil, nil)
	assert.True(t, container.IsCode(err, container.ErrExists))

	_, err = root.AddGroup("bad/name")
	assert.True(t, container.IsCode(err, container.ErrInvalidArgument))
}

// Paths always equal the parent's path plus the child's name, through any
// sequence of renames and moves.
func TestGroup_RenameMovePaths(t *testing.T) {
	root := newTestRoot(t)

	a, err := root.AddGroup("a")
	require.NoError(t, err)
	b, err := root.AddGroup("b")
	require.NoError(t, err)
	f, err := a.AddField("f", container.DtypeFloat64, container.Shape{4}, nil)
	require.NoError(t, err)

	require.NoError(t, root.Rename("a", "alpha"))
	assert.Equal(t, "/alpha", a.Path())
	assert.Equal(t, "/alpha/f", f.Path())
	_, ok := root.Child("a")
	assert.False(t, ok)

	require.NoError(t, a.Move("f", b))
	assert.Equal(t, "/b/f", f.Path())
	assert.Same(t, b, f.Parent())
	assert.Equal(t, 0, a.Len())

	// Insertion order at the destination reflects arrival order.
	assert.Equal(t, []string{"f"}, b.ChildNames())

	err = root.Rename("alpha", "b")
	assert.True(t, container.IsCode(err, container.ErrExists))
	err = root.Rename("missing", "x")
	assert.True(t, container.IsCode(err, container.ErrNotFound))
}

func TestGroup_MoveCycleRejected(t *testing.T) {
	root := newTestRoot(t)

	outer, err := root.AddGroup("outer")
	require.NoError(t, err)
	inner, err := outer.AddGroup("inner")
	require.NoError(t, err)

	err = root.Move("outer", inner)
	assert.True(t, container.IsCode(err, container.ErrInvalidArgument))
}

func TestGroup_Delete(t *testing.T) {
	root := newTestRoot(t)

	entry, err := root.AddGroup("entry")
	require.NoError(t, err)
	_, err = entry.AddField("data", container.DtypeInt8, container.Shape{2}, nil)
	require.NoError(t, err)

	require.NoError(t, root.Delete("entry"))
	_, ok := root.Child("entry")
	assert.False(t, ok)

	err = root.Delete("entry")
	assert.True(t, container.IsCode(err, container.ErrNotFound))
}

func TestGroup_InsertionOrder(t *testing.T) {
	root := newTestRoot(t)

	for _, name := range []string{"zebra", "alpha", "mango"} {
		_, err := root.AddGroup(name)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"zebra", "alpha", "mango"}, root.ChildNames())
}

func TestNode_Attrs(t *testing.T) {
	root := newTestRoot(t)

	g, err := root.AddGroup("g")
	require.NoError(t, err)
	require.NoError(t, g.SetAttr(container.StringAttr("units", "counts")))
	require.NoError(t, g.SetAttr(container.IntAttr("run", 42)))
	require.NoError(t, g.SetAttr(container.StringAttr("units", "seconds")))

	attrs := g.Attrs()
	require.Len(t, attrs, 2)
	assert.Equal(t, "units", attrs[0].Name)
	assert.Equal(t, "seconds", attrs[0].AsString())

	run, ok := g.Attr("run")
	require.True(t, ok)
	v, err := run.AsInt()
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	require.NoError(t, g.RemoveAttr("units"))
	err = g.RemoveAttr("units")
	assert.True(t, container.IsCode(err, container.ErrNotFound))
}

func TestDirty_Propagation(t *testing.T) {
	root := newTestRoot(t)
	require.False(t, root.Dirty())

	outer, err := root.AddGroup("outer")
	require.NoError(t, err)
	inner, err := outer.AddGroup("inner")
	require.NoError(t, err)
	require.NoError(t, root.Save(context.Background()))
	require.False(t, root.Dirty())

	// Mutating a leaf dirties every ancestor up to the root.
	require.NoError(t, inner.SetAttr(container.IntAttr("n", 1)))
	assert.True(t, inner.Dirty())
	assert.True(t, outer.Dirty())
	assert.True(t, root.Dirty())
}

func TestLink_ResolveInternal(t *testing.T) {
	root := newTestRoot(t)

	entry, err := root.AddGroup("entry")
	require.NoError(t, err)
	data, err := entry.AddField("data", container.DtypeInt64, container.Shape{3}, nil)
	require.NoError(t, err)

	link, err := root.AddLink("shortcut", "/entry/data")
	require.NoError(t, err)
	assert.False(t, link.IsExternal())

	resolved, err := link.Resolve()
	require.NoError(t, err)
	assert.Same(t, Node(data), resolved)
}

func TestLink_ChainAndCycle(t *testing.T) {
	root := newTestRoot(t)

	_, err := root.AddField("end", container.DtypeInt32, nil, nil)
	require.NoError(t, err)
	_, err = root.AddLink("hop1", "/hop2")
	require.NoError(t, err)
	hop2, err := root.AddLink("hop2", "/end")
	require.NoError(t, err)

	first, _ := root.Child("hop1")
	resolved, err := first.(*Link).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/end", resolved.Path())
	_ = hop2

	// A two-link cycle exhausts the depth budget instead of spinning.
	cycleRoot := newTestRoot(t)
	_, err = cycleRoot.AddLink("a", "/b")
	require.NoError(t, err)
	_, err = cycleRoot.AddLink("b", "/a")
	require.NoError(t, err)
	a, _ := cycleRoot.Child("a")
	_, err = a.(*Link).Resolve()
	require.Error(t, err)
	assert.True(t, container.IsCode(err, container.ErrInvalidArgument))
}

func TestLink_ExternalNeedsResolver(t *testing.T) {
	root := newTestRoot(t)

	link, err := root.AddLink("ext", "other.nxt#/entry/data")
	require.NoError(t, err)
	assert.True(t, link.IsExternal())

	file, path, ok := link.SplitExternal()
	require.True(t, ok)
	assert.Equal(t, "other.nxt", file)
	assert.Equal(t, "/entry/data", path)

	_, err = link.Resolve()
	assert.True(t, container.IsCode(err, container.ErrAccess))
}

func TestReadOnly_MutationsRejected(t *testing.T) {
	ctx := context.Background()

	ro, err := Open(ctx, memory.New(container.ReadOnly), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { ro.Close(ctx) })

	_, err = ro.AddGroup("nope")
	assert.True(t, container.IsCode(err, container.ErrReadOnly))
	err = ro.SetAttr(container.IntAttr("n", 1))
	assert.True(t, container.IsCode(err, container.ErrReadOnly))
	err = ro.Save(ctx)
	assert.True(t, container.IsCode(err, container.ErrReadOnly))
}
