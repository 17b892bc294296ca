package testing

import (
	"testing"

	"github.com/nexusformat/nxtree/pkg/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunAttributeTests executes attribute storage tests.
func (suite *StoreTestSuite) RunAttributeTests(t *testing.T) {
	t.Run("WriteAndRead", suite.testAttrWriteAndRead)
	t.Run("ReplaceKeepsOrder", suite.testAttrReplaceKeepsOrder)
	t.Run("Remove", suite.testAttrRemove)
}

func (suite *StoreTestSuite) testAttrWriteAndRead(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateGroup(t, store, "/entry")
	require.NoError(t, store.WriteAttr(ctx, "/entry", container.StringAttr("NX_class", "NXentry")))
	require.NoError(t, store.WriteAttr(ctx, "/entry", container.IntAttr("run_number", 42)))
	require.NoError(t, store.WriteAttr(ctx, "/entry", container.FloatAttr("duration", 12.5)))

	attrs, err := store.ReadAttrs(ctx, "/entry")
	require.NoError(t, err)
	require.Len(t, attrs, 3)

	assert.Equal(t, "NX_class", attrs[0].Name)
	assert.Equal(t, "NXentry", attrs[0].AsString())

	n, err := attrs[1].AsInt()
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	f, err := attrs[2].AsFloat()
	require.NoError(t, err)
	assert.Equal(t, 12.5, f)

	_, err = store.ReadAttrs(ctx, "/missing")
	requireCode(t, err, container.ErrNotFound)
}

func (suite *StoreTestSuite) testAttrReplaceKeepsOrder(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateField(t, store, "/data", container.DtypeInt64, container.Shape{4})
	require.NoError(t, store.WriteAttr(ctx, "/data", container.StringAttr("units", "counts")))
	require.NoError(t, store.WriteAttr(ctx, "/data", container.StringAttr("long_name", "detector")))
	require.NoError(t, store.WriteAttr(ctx, "/data", container.StringAttr("units", "photons")))

	attrs, err := store.ReadAttrs(ctx, "/data")
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "units", attrs[0].Name)
	assert.Equal(t, "photons", attrs[0].AsString())
	assert.Equal(t, "long_name", attrs[1].Name)
}

func (suite *StoreTestSuite) testAttrRemove(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateGroup(t, store, "/entry")
	require.NoError(t, store.WriteAttr(ctx, "/entry", container.StringAttr("default", "data")))
	require.NoError(t, store.RemoveAttr(ctx, "/entry", "default"))

	attrs, err := store.ReadAttrs(ctx, "/entry")
	require.NoError(t, err)
	assert.Empty(t, attrs)

	requireCode(t, store.RemoveAttr(ctx, "/entry", "default"), container.ErrNotFound)
}
