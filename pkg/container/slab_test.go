package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlab_Validate(t *testing.T) {
	shape := Shape{4, 6}

	require.NoError(t, WholeSlab(shape).Validate(shape))
	require.NoError(t, Slab{Start: Shape{1, 2}, Count: Shape{2, 3}}.Validate(shape))

	err := Slab{Start: Shape{0}, Count: Shape{4}}.Validate(shape)
	assert.True(t, IsCode(err, ErrInvalidArgument), "rank mismatch")

	err = Slab{Start: Shape{0, 0}, Count: Shape{4, 0}}.Validate(shape)
	assert.True(t, IsCode(err, ErrInvalidArgument), "zero count")

	err = Slab{Start: Shape{3, 0}, Count: Shape{2, 6}}.Validate(shape)
	assert.True(t, IsCode(err, ErrOutOfBounds))
}

func TestSlab_NumElements(t *testing.T) {
	assert.Equal(t, uint64(1), Slab{}.NumElements())
	assert.Equal(t, uint64(6), Slab{Start: Shape{1, 2}, Count: Shape{2, 3}}.NumElements())
}

func TestSlab_RunsInterior(t *testing.T) {
	// Interior rectangle of a 4x6 array: one run per selected row.
	s := Slab{Start: Shape{1, 2}, Count: Shape{2, 3}}
	runs := s.Runs(Shape{4, 6}, 1)

	assert.Equal(t, []Run{
		{Offset: 8, Length: 3},
		{Offset: 14, Length: 3},
	}, runs)
}

func TestSlab_RunsCollapseTrailing(t *testing.T) {
	// Fully selected trailing axes collapse into one contiguous run.
	s := Slab{Start: Shape{1, 0}, Count: Shape{2, 6}}
	runs := s.Runs(Shape{4, 6}, 1)
	assert.Equal(t, []Run{{Offset: 6, Length: 12}}, runs)

	s = Slab{Start: Shape{1, 0, 0}, Count: Shape{2, 2, 4}}
	runs = s.Runs(Shape{3, 2, 4}, 2)
	assert.Equal(t, []Run{{Offset: 16, Length: 32}}, runs)
}

func TestSlab_RunsScalar(t *testing.T) {
	runs := Slab{}.Runs(nil, 8)
	assert.Equal(t, []Run{{Offset: 0, Length: 8}}, runs)
}

func TestCheckWriteExtent(t *testing.T) {
	entry := &Entry{
		Path:     "/series",
		Kind:     KindField,
		Dtype:    DtypeInt64,
		Shape:    Shape{4, 3},
		MaxShape: Shape{Unlimited, 3},
	}

	// Inside the current extent: shape unchanged.
	got, err := CheckWriteExtent(entry, Slab{Start: Shape{0, 0}, Count: Shape{2, 3}})
	require.NoError(t, err)
	assert.Equal(t, Shape{4, 3}, got)

	// Past the extent along the growable leading axis: shape grows.
	got, err = CheckWriteExtent(entry, Slab{Start: Shape{4, 0}, Count: Shape{2, 3}})
	require.NoError(t, err)
	assert.Equal(t, Shape{6, 3}, got)

	// Past the extent along a fixed axis fails.
	_, err = CheckWriteExtent(entry, Slab{Start: Shape{0, 2}, Count: Shape{1, 2}})
	assert.True(t, IsCode(err, ErrShape))

	// Bounded maximum shape is enforced.
	bounded := &Entry{
		Path: "/b", Kind: KindField, Dtype: DtypeInt64,
		Shape: Shape{2}, MaxShape: Shape{4},
	}
	got, err = CheckWriteExtent(bounded, Slab{Start: Shape{2}, Count: Shape{2}})
	require.NoError(t, err)
	assert.Equal(t, Shape{4}, got)
	_, err = CheckWriteExtent(bounded, Slab{Start: Shape{3}, Count: Shape{2}})
	assert.True(t, IsCode(err, ErrShape))

	// No declared maximum shape means no growth at all.
	fixed := &Entry{Path: "/f", Kind: KindField, Dtype: DtypeInt32, Shape: Shape{2}}
	_, err = CheckWriteExtent(fixed, Slab{Start: Shape{1}, Count: Shape{2}})
	assert.True(t, IsCode(err, ErrShape))
}

func TestValidateFieldDecl(t *testing.T) {
	require.NoError(t, ValidateFieldDecl("/a", DtypeFloat64, Shape{4, 3}, nil))
	require.NoError(t, ValidateFieldDecl("/a", DtypeInt64, Shape{4}, Shape{Unlimited}))
	require.NoError(t, ValidateFieldDecl("/a", DtypeInt64, Shape{4}, Shape{8}))
	require.NoError(t, ValidateFieldDecl("/s", DtypeString, nil, nil))

	tests := []struct {
		name     string
		dtype    Dtype
		shape    Shape
		maxShape Shape
	}{
		{"string with shape", DtypeString, Shape{3}, nil},
		{"zero extent", DtypeInt8, Shape{4, 0}, nil},
		{"max rank mismatch", DtypeInt8, Shape{4}, Shape{4, 4}},
		{"max below initial", DtypeInt8, Shape{4}, Shape{2}},
		{"growable trailing axis", DtypeInt8, Shape{4, 3}, Shape{4, Unlimited}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFieldDecl("/x", tt.dtype, tt.shape, tt.maxShape)
			assert.True(t, IsCode(err, ErrInvalidArgument))
		})
	}
}
