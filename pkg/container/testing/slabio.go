package testing

import (
	"testing"

	"github.com/nexusformat/nxtree/pkg/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSlabTests executes slab read/write tests.
func (suite *StoreTestSuite) RunSlabTests(t *testing.T) {
	t.Run("RoundTrip1D", suite.testRoundTrip1D)
	t.Run("RoundTrip2DInterior", suite.testRoundTrip2DInterior)
	t.Run("UnwrittenReadsZero", suite.testUnwrittenReadsZero)
	t.Run("Scalar", suite.testScalar)
	t.Run("StringField", suite.testStringField)
	t.Run("OutOfBounds", suite.testOutOfBounds)
	t.Run("ShapeMismatch", suite.testShapeMismatch)
	t.Run("GrowUnlimited", suite.testGrowUnlimited)
	t.Run("GrowBounded", suite.testGrowBounded)
	t.Run("GrowNotDeclared", suite.testGrowNotDeclared)
	t.Run("SlabConcatenation", suite.testSlabConcatenation)
}

func (suite *StoreTestSuite) testRoundTrip1D(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	shape := container.Shape{10}
	mustCreateField(t, store, "/data", container.DtypeInt64, shape)
	payload := seqInt64(1, 10)
	mustWrite(t, store, "/data", shape, payload)

	// Whole-array round trip is byte-identical.
	got, err := store.ReadValue(ctx, "/data", container.WholeSlab(shape))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Interior selection returns exactly the requested sub-array.
	got, err = store.ReadValue(ctx, "/data",
		container.Slab{Start: container.Shape{3}, Count: container.Shape{4}})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5, 6, 7}, decodeInt64(got))
}

func (suite *StoreTestSuite) testRoundTrip2DInterior(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	shape := container.Shape{4, 5}
	mustCreateField(t, store, "/frame", container.DtypeInt64, shape)
	mustWrite(t, store, "/frame", shape, seqInt64(0, 20))

	// Rows 1..2, columns 2..4 of the 4x5 row-major grid.
	slab := container.Slab{Start: container.Shape{1, 2}, Count: container.Shape{2, 3}}
	got, err := store.ReadValue(ctx, "/frame", slab)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8, 9, 12, 13, 14}, decodeInt64(got))

	// Write back shifted values into the same selection and re-read.
	require.NoError(t, store.WriteValue(ctx, "/frame", slab, seqInt64(100, 6)))
	got, err = store.ReadValue(ctx, "/frame", slab)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 101, 102, 103, 104, 105}, decodeInt64(got))

	// Neighbouring elements are untouched.
	row1, err := store.ReadValue(ctx, "/frame",
		container.Slab{Start: container.Shape{1, 0}, Count: container.Shape{1, 5}})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6, 100, 101, 102}, decodeInt64(row1))
}

func (suite *StoreTestSuite) testUnwrittenReadsZero(t *testing.T) {
	store := suite.NewStore(t)

	shape := container.Shape{6}
	mustCreateField(t, store, "/sparse", container.DtypeInt64, shape)

	got, err := store.ReadValue(testContext(), "/sparse", container.WholeSlab(shape))
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 0, 0, 0, 0}, decodeInt64(got))
}

func (suite *StoreTestSuite) testScalar(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateField(t, store, "/temperature", container.DtypeFloat64, nil)
	payload := make([]byte, 8)
	container.ByteOrder.PutUint64(payload, 0x4045000000000000) // 42.0
	require.NoError(t, store.WriteValue(ctx, "/temperature", container.Slab{}, payload))

	got, err := store.ReadValue(ctx, "/temperature", container.Slab{})
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func (suite *StoreTestSuite) testStringField(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.CreateField(ctx, "/title", container.DtypeString, nil, nil))
	require.NoError(t, store.WriteString(ctx, "/title", "powder diffraction scan"))

	got, err := store.ReadValue(ctx, "/title", container.Slab{})
	require.NoError(t, err)
	assert.Equal(t, "powder diffraction scan", string(got))
}

func (suite *StoreTestSuite) testOutOfBounds(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateField(t, store, "/data", container.DtypeInt64, container.Shape{10})

	_, err := store.ReadValue(ctx, "/data",
		container.Slab{Start: container.Shape{8}, Count: container.Shape{4}})
	requireCode(t, err, container.ErrOutOfBounds)

	// Rank mismatch is an argument error, not out-of-bounds.
	_, err = store.ReadValue(ctx, "/data",
		container.Slab{Start: container.Shape{0, 0}, Count: container.Shape{2, 2}})
	requireCode(t, err, container.ErrInvalidArgument)
}

func (suite *StoreTestSuite) testShapeMismatch(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateField(t, store, "/data", container.DtypeInt64, container.Shape{10})

	// Payload shorter than the selection.
	err := store.WriteValue(ctx, "/data",
		container.Slab{Start: container.Shape{0}, Count: container.Shape{4}}, seqInt64(0, 3))
	requireCode(t, err, container.ErrShape)
}

func (suite *StoreTestSuite) testGrowUnlimited(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.CreateField(ctx, "/log", container.DtypeInt64,
		container.Shape{2}, container.Shape{container.Unlimited}))
	mustWrite(t, store, "/log", container.Shape{2}, seqInt64(0, 2))

	// Append past the current extent.
	require.NoError(t, store.WriteValue(ctx, "/log",
		container.Slab{Start: container.Shape{2}, Count: container.Shape{3}}, seqInt64(2, 3)))

	entry, err := store.GetEntry(ctx, "/log")
	require.NoError(t, err)
	assert.Equal(t, container.Shape{5}, entry.Shape)

	got, err := store.ReadValue(ctx, "/log", container.WholeSlab(entry.Shape))
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, decodeInt64(got))
}

func (suite *StoreTestSuite) testGrowBounded(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.CreateField(ctx, "/bounded", container.DtypeInt64,
		container.Shape{2}, container.Shape{4}))

	// Growth up to the bound succeeds.
	require.NoError(t, store.WriteValue(ctx, "/bounded",
		container.Slab{Start: container.Shape{2}, Count: container.Shape{2}}, seqInt64(2, 2)))

	// Growth past the bound fails with a shape error.
	err := store.WriteValue(ctx, "/bounded",
		container.Slab{Start: container.Shape{4}, Count: container.Shape{1}}, seqInt64(4, 1))
	requireCode(t, err, container.ErrShape)
}

func (suite *StoreTestSuite) testGrowNotDeclared(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	mustCreateField(t, store, "/fixed", container.DtypeInt64, container.Shape{4})

	err := store.WriteValue(ctx, "/fixed",
		container.Slab{Start: container.Shape{4}, Count: container.Shape{1}}, seqInt64(0, 1))
	requireCode(t, err, container.ErrShape)
}

func (suite *StoreTestSuite) testSlabConcatenation(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	shape := container.Shape{100}
	mustCreateField(t, store, "/big", container.DtypeInt64, shape)
	full := seqInt64(0, 100)
	mustWrite(t, store, "/big", shape, full)

	// Reading the array in bounded slabs and concatenating equals the
	// whole-array read.
	var concat []byte
	for start := uint64(0); start < 100; start += 32 {
		count := uint64(32)
		if start+count > 100 {
			count = 100 - start
		}
		part, err := store.ReadValue(ctx, "/big",
			container.Slab{Start: container.Shape{start}, Count: container.Shape{count}})
		require.NoError(t, err)
		concat = append(concat, part...)
	}
	assert.Equal(t, full, concat)
}
