package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDtype_ParseRoundTrip(t *testing.T) {
	for d := DtypeInt8; d <= DtypeString; d++ {
		got, ok := ParseDtype(d.String())
		require.True(t, ok, d.String())
		assert.Equal(t, d, got)
	}

	_, ok := ParseDtype("quaternion")
	assert.False(t, ok)
}

func TestShape_Helpers(t *testing.T) {
	assert.True(t, Shape(nil).IsScalar())
	assert.Equal(t, uint64(1), Shape(nil).NumElements())
	assert.Equal(t, uint64(24), Shape{4, 6}.NumElements())

	s := Shape{4, 6}
	c := s.Clone()
	c[0] = 9
	assert.Equal(t, uint64(4), s[0])
	assert.True(t, s.Equal(Shape{4, 6}))
	assert.False(t, s.Equal(Shape{4}))
}

func TestPath_Helpers(t *testing.T) {
	assert.Equal(t, "/entry", JoinPath(RootPath, "entry"))
	assert.Equal(t, "/entry/data", JoinPath("/entry", "data"))

	parent, name := SplitPath("/entry/data")
	assert.Equal(t, "/entry", parent)
	assert.Equal(t, "data", name)
	parent, name = SplitPath("/entry")
	assert.Equal(t, RootPath, parent)
	assert.Equal(t, "entry", name)

	assert.True(t, ValidName("data"))
	assert.False(t, ValidName("bad/name"))
	assert.False(t, ValidName(""))

	assert.True(t, IsAncestor("/entry", "/entry/data"))
	assert.True(t, IsAncestor(RootPath, "/entry"))
	assert.False(t, IsAncestor("/entry", "/entryx"))
}

func TestEntry_Growable(t *testing.T) {
	fixed := Entry{Kind: KindField, Dtype: DtypeInt64, Shape: Shape{4}}
	assert.False(t, fixed.Growable(0))

	unlimited := Entry{Kind: KindField, Dtype: DtypeInt64, Shape: Shape{4}, MaxShape: Shape{Unlimited}}
	assert.True(t, unlimited.Growable(0))

	bounded := Entry{Kind: KindField, Dtype: DtypeInt64, Shape: Shape{4}, MaxShape: Shape{8}}
	assert.True(t, bounded.Growable(0))
	full := Entry{Kind: KindField, Dtype: DtypeInt64, Shape: Shape{8}, MaxShape: Shape{8}}
	assert.False(t, full.Growable(0))
}

func TestStoreError(t *testing.T) {
	err := NewError(ErrNotFound, "node does not exist", "/entry/data")
	assert.Equal(t, "node does not exist: /entry/data", err.Error())

	assert.True(t, IsCode(err, ErrNotFound))
	assert.False(t, IsCode(err, ErrExists))

	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrNotFound, code)

	_, ok = CodeOf(assert.AnError)
	assert.False(t, ok)
}

func TestAttr_Accessors(t *testing.T) {
	s := StringAttr("units", "counts")
	assert.Equal(t, "counts", s.AsString())

	i := IntAttr("run", 42)
	v, err := i.AsInt()
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	f := FloatAttr("wavelength", 1.54)
	fv, err := f.AsFloat()
	require.NoError(t, err)
	assert.InDelta(t, 1.54, fv, 1e-9)

	attrs := []Attr{s, i}
	got, ok := FindAttr(attrs, "run")
	require.True(t, ok)
	assert.Equal(t, "run", got.Name)
	_, ok = FindAttr(attrs, "missing")
	assert.False(t, ok)
}
