package testing

import (
	"testing"

	"github.com/nexusformat/nxtree/pkg/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunMutationTests executes rename and remove tests.
func (suite *StoreTestSuite) RunMutationTests(t *testing.T) {
	t.Run("RenameField", suite.testRenameField)
	t.Run("RenameKeepsSiblingOrder", suite.testRenameKeepsSiblingOrder)
	t.Run("MoveSubtree", suite.testMoveSubtree)
	t.Run("RenameErrors", suite.testRenameErrors)
	t.Run("RemoveRecursive", suite.testRemoveRecursive)
	t.Run("RemoveErrors", suite.testRemoveErrors)
}

func (suite *StoreTestSuite) testRenameField(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateGroup(t, store, "/entry")
	shape := container.Shape{5}
	mustCreateField(t, store, "/entry/old", container.DtypeInt64, shape)
	mustWrite(t, store, "/entry/old", shape, seqInt64(1, 5))
	require.NoError(t, store.WriteAttr(ctx, "/entry/old", container.StringAttr("units", "counts")))

	require.NoError(t, store.Rename(ctx, "/entry/old", "/entry/new"))

	_, err := store.GetEntry(ctx, "/entry/old")
	requireCode(t, err, container.ErrNotFound)

	// Payload and attributes follow the node.
	got, err := store.ReadValue(ctx, "/entry/new", container.WholeSlab(shape))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, decodeInt64(got))

	attrs, err := store.ReadAttrs(ctx, "/entry/new")
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "units", attrs[0].Name)
}

func (suite *StoreTestSuite) testRenameKeepsSiblingOrder(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateGroup(t, store, "/entry")
	for _, name := range []string{"a", "b", "c"} {
		mustCreateGroup(t, store, "/entry/"+name)
	}

	// A rename within one group keeps the child's position.
	require.NoError(t, store.Rename(ctx, "/entry/a", "/entry/z"))
	children, err := store.Children(ctx, "/entry")
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "b", "c"}, children)

	// A move to another group arrives last there.
	mustCreateGroup(t, store, "/other")
	mustCreateGroup(t, store, "/other/existing")
	require.NoError(t, store.Rename(ctx, "/entry/b", "/other/b"))
	children, err = store.Children(ctx, "/other")
	require.NoError(t, err)
	assert.Equal(t, []string{"existing", "b"}, children)
}

func (suite *StoreTestSuite) testMoveSubtree(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateGroup(t, store, "/raw")
	mustCreateGroup(t, store, "/raw/detector")
	mustCreateField(t, store, "/raw/detector/counts", container.DtypeInt64, container.Shape{3})
	mustWrite(t, store, "/raw/detector/counts", container.Shape{3}, seqInt64(7, 3))
	mustCreateGroup(t, store, "/processed")

	require.NoError(t, store.Rename(ctx, "/raw/detector", "/processed/detector"))

	// The whole subtree moved.
	got, err := store.ReadValue(ctx, "/processed/detector/counts",
		container.WholeSlab(container.Shape{3}))
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8, 9}, decodeInt64(got))

	_, err = store.GetEntry(ctx, "/raw/detector/counts")
	requireCode(t, err, container.ErrNotFound)

	children, err := store.Children(ctx, "/raw")
	require.NoError(t, err)
	assert.Empty(t, children)
}

func (suite *StoreTestSuite) testRenameErrors(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateGroup(t, store, "/a")
	mustCreateGroup(t, store, "/a/b")
	mustCreateGroup(t, store, "/c")

	// Into own subtree.
	requireCode(t, store.Rename(ctx, "/a", "/a/b/a"), container.ErrInvalidArgument)

	// Destination exists.
	requireCode(t, store.Rename(ctx, "/a", "/c"), container.ErrExists)

	// Source missing.
	requireCode(t, store.Rename(ctx, "/missing", "/d"), container.ErrNotFound)

	// Root cannot move.
	requireCode(t, store.Rename(ctx, "/", "/d"), container.ErrInvalidArgument)
}

func (suite *StoreTestSuite) testRemoveRecursive(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateGroup(t, store, "/entry")
	mustCreateGroup(t, store, "/entry/sub")
	mustCreateField(t, store, "/entry/sub/data", container.DtypeInt64, container.Shape{2})

	require.NoError(t, store.Remove(ctx, "/entry"))

	for _, path := range []string{"/entry", "/entry/sub", "/entry/sub/data"} {
		_, err := store.GetEntry(ctx, path)
		requireCode(t, err, container.ErrNotFound)
	}

	// The name is reusable afterwards.
	mustCreateGroup(t, store, "/entry")
}

func (suite *StoreTestSuite) testRemoveErrors(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	requireCode(t, store.Remove(ctx, "/missing"), container.ErrNotFound)
	requireCode(t, store.Remove(ctx, "/"), container.ErrInvalidArgument)
}

// RunPersistenceTests executes close/reopen durability tests for persistent
// backends.
func (suite *StoreTestSuite) RunPersistenceTests(t *testing.T) {
	t.Run("StructureSurvivesReopen", suite.testStructureSurvivesReopen)
	t.Run("RenameOrderSurvivesReopen", suite.testRenameOrderSurvivesReopen)
}

func (suite *StoreTestSuite) testRenameOrderSurvivesReopen(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateGroup(t, store, "/entry")
	for _, name := range []string{"a", "b", "c"} {
		mustCreateGroup(t, store, "/entry/"+name)
	}
	require.NoError(t, store.Rename(ctx, "/entry/a", "/entry/z"))

	store = suite.Reopen(t, store)

	children, err := store.Children(ctx, "/entry")
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "b", "c"}, children)
}

func (suite *StoreTestSuite) testStructureSurvivesReopen(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateGroup(t, store, "/entry")
	shape := container.Shape{10}
	mustCreateField(t, store, "/entry/data", container.DtypeInt64, shape)
	mustWrite(t, store, "/entry/data", shape, seqInt64(1, 10))
	mustCreateField(t, store, "/entry/x", container.DtypeInt64, shape)
	mustWrite(t, store, "/entry/x", shape, seqInt64(0, 10))
	require.NoError(t, store.WriteAttr(ctx, "/entry", container.StringAttr("NX_class", "NXentry")))
	require.NoError(t, store.WriteAttr(ctx, "/entry", container.StringAttr("signal", "data")))

	store = suite.Reopen(t, store)

	entry, err := store.GetEntry(ctx, "/entry/data")
	require.NoError(t, err)
	assert.Equal(t, container.Shape{10}, entry.Shape)
	assert.Equal(t, container.DtypeInt64, entry.Dtype)

	got, err := store.ReadValue(ctx, "/entry/data", container.WholeSlab(shape))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, decodeInt64(got))

	attrs, err := store.ReadAttrs(ctx, "/entry")
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "NX_class", attrs[0].Name)
	assert.Equal(t, "signal", attrs[1].Name)

	children, err := store.Children(ctx, "/entry")
	require.NoError(t, err)
	assert.Equal(t, []string{"data", "x"}, children)
}
