package testing

import (
	"testing"

	"github.com/nexusformat/nxtree/pkg/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStructureTests executes structural discovery and metadata tests.
func (suite *StoreTestSuite) RunStructureTests(t *testing.T) {
	t.Run("CreateAndGet", suite.testCreateAndGet)
	t.Run("ChildrenOrder", suite.testChildrenOrder)
	t.Run("WalkOrder", suite.testWalkOrder)
	t.Run("WalkRestartable", suite.testWalkRestartable)
	t.Run("Links", suite.testLinks)
	t.Run("CreateErrors", suite.testCreateErrors)
}

func (suite *StoreTestSuite) testCreateAndGet(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateGroup(t, store, "/entry")
	mustCreateField(t, store, "/entry/data", container.DtypeInt64, container.Shape{10})

	entry, err := store.GetEntry(ctx, "/entry")
	require.NoError(t, err)
	assert.Equal(t, container.KindGroup, entry.Kind)
	assert.Equal(t, "/entry", entry.Path)

	entry, err = store.GetEntry(ctx, "/entry/data")
	require.NoError(t, err)
	assert.Equal(t, container.KindField, entry.Kind)
	assert.Equal(t, container.DtypeInt64, entry.Dtype)
	assert.Equal(t, container.Shape{10}, entry.Shape)

	root, err := store.GetEntry(ctx, container.RootPath)
	require.NoError(t, err)
	assert.Equal(t, container.KindGroup, root.Kind)

	_, err = store.GetEntry(ctx, "/missing")
	requireCode(t, err, container.ErrNotFound)
}

func (suite *StoreTestSuite) testChildrenOrder(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateGroup(t, store, "/entry")
	// Deliberately not lexicographic: insertion order must win.
	names := []string{"zebra", "alpha", "middle", "beta"}
	for _, name := range names {
		mustCreateField(t, store, "/entry/"+name, container.DtypeInt32, container.Shape{2})
	}

	children, err := store.Children(ctx, "/entry")
	require.NoError(t, err)
	assert.Equal(t, names, children)

	_, err = store.Children(ctx, "/entry/zebra")
	requireCode(t, err, container.ErrNotGroup)
}

func (suite *StoreTestSuite) testWalkOrder(t *testing.T) {
	store := suite.NewStore(t)

	mustCreateGroup(t, store, "/entry")
	mustCreateGroup(t, store, "/entry/instrument")
	mustCreateField(t, store, "/entry/instrument/wavelength", container.DtypeFloat64, nil)
	mustCreateField(t, store, "/entry/data", container.DtypeInt64, container.Shape{4})
	mustCreateGroup(t, store, "/control")

	var paths []string
	err := store.Walk(testContext(), func(e container.Entry) error {
		paths = append(paths, e.Path)
		return nil
	})
	require.NoError(t, err)

	// Depth-first, parents before children, siblings in insertion order.
	assert.Equal(t, []string{
		"/entry",
		"/entry/instrument",
		"/entry/instrument/wavelength",
		"/entry/data",
		"/control",
	}, paths)
}

func (suite *StoreTestSuite) testWalkRestartable(t *testing.T) {
	store := suite.NewStore(t)

	mustCreateGroup(t, store, "/entry")
	mustCreateField(t, store, "/entry/data", container.DtypeInt64, container.Shape{4})

	count := func() int {
		n := 0
		err := store.Walk(testContext(), func(container.Entry) error {
			n++
			return nil
		})
		require.NoError(t, err)
		return n
	}

	first := count()
	second := count()
	assert.Equal(t, first, second, "walk must be restartable")
	assert.Equal(t, 2, first)
}

func (suite *StoreTestSuite) testLinks(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateGroup(t, store, "/entry")
	mustCreateField(t, store, "/entry/data", container.DtypeInt64, container.Shape{4})
	require.NoError(t, store.CreateLink(ctx, "/entry/alias", "/entry/data"))
	require.NoError(t, store.CreateLink(ctx, "/entry/remote", "other.nxt#/entry/data"))

	entry, err := store.GetEntry(ctx, "/entry/alias")
	require.NoError(t, err)
	assert.Equal(t, container.KindLink, entry.Kind)
	assert.Equal(t, "/entry/data", entry.Target)

	entry, err = store.GetEntry(ctx, "/entry/remote")
	require.NoError(t, err)
	assert.Equal(t, "other.nxt#/entry/data", entry.Target)
}

func (suite *StoreTestSuite) testCreateErrors(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateGroup(t, store, "/entry")

	// Duplicate name within a group.
	requireCode(t, store.CreateGroup(ctx, "/entry"), container.ErrExists)

	// Missing parent.
	requireCode(t, store.CreateGroup(ctx, "/nowhere/child"), container.ErrNotFound)

	// Parent is a field, not a group.
	mustCreateField(t, store, "/entry/data", container.DtypeInt64, container.Shape{4})
	requireCode(t, store.CreateGroup(ctx, "/entry/data/sub"), container.ErrNotGroup)

	// Malformed paths.
	requireCode(t, store.CreateGroup(ctx, "relative"), container.ErrInvalidArgument)
	requireCode(t, store.CreateGroup(ctx, "/trailing/"), container.ErrInvalidArgument)

	// Invalid field declarations.
	requireCode(t,
		store.CreateField(ctx, "/entry/bad", container.DtypeInt64, container.Shape{0}, nil),
		container.ErrInvalidArgument)
	requireCode(t,
		store.CreateField(ctx, "/entry/bad", container.DtypeInt64, container.Shape{2, 2},
			container.Shape{2, container.Unlimited}),
		container.ErrInvalidArgument)
}
