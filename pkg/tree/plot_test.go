package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusformat/nxtree/pkg/container"
)

func TestDefaultPlottable_DefaultAttrChain(t *testing.T) {
	root := newTestRoot(t)

	require.NoError(t, root.SetAttr(container.StringAttr(AttrDefault, "entry")))
	entry, err := root.AddGroup("entry")
	require.NoError(t, err)
	require.NoError(t, entry.SetAttr(container.StringAttr(AttrDefault, "plot")))

	plotGrp, err := entry.AddGroup("plot")
	require.NoError(t, err)
	require.NoError(t, plotGrp.SetClass("NXdata"))
	require.NoError(t, plotGrp.SetAttr(container.StringAttr(AttrSignal, "counts")))
	require.NoError(t, plotGrp.SetAttr(container.StringAttr(AttrAxes, "tof")))

	_, err = plotGrp.AddField("counts", container.DtypeInt64, container.Shape{8}, nil)
	require.NoError(t, err)
	_, err = plotGrp.AddField("tof", container.DtypeFloat64, container.Shape{8}, nil)
	require.NoError(t, err)

	p, err := root.DefaultPlottable()
	require.NoError(t, err)
	assert.Equal(t, "/entry/plot/counts", p.Signal.Path())
	require.Len(t, p.Axes, 1)
	assert.Equal(t, "/entry/plot/tof", p.Axes[0].Path())
}

// The classic convention puts signal=1 and the axes list on the field.
func TestDefaultPlottable_ClassicFieldMarking(t *testing.T) {
	root := newTestRoot(t)

	entry, err := root.AddGroup("entry")
	require.NoError(t, err)
	data, err := entry.AddField("data", container.DtypeInt64, container.Shape{4}, nil)
	require.NoError(t, err)
	require.NoError(t, data.SetAttr(container.IntAttr(AttrSignal, 1)))
	require.NoError(t, data.SetAttr(container.StringAttr(AttrAxes, "x:y")))

	_, err = entry.AddField("x", container.DtypeFloat64, container.Shape{4}, nil)
	require.NoError(t, err)
	_, err = entry.AddField("y", container.DtypeFloat64, container.Shape{4}, nil)
	require.NoError(t, err)

	p, err := root.DefaultPlottable()
	require.NoError(t, err)
	assert.Equal(t, "/entry/data", p.Signal.Path())
	require.Len(t, p.Axes, 2)
	assert.Equal(t, "x", p.Axes[0].Name())
	assert.Equal(t, "y", p.Axes[1].Name())
}

func TestDefaultPlottable_NotFound(t *testing.T) {
	root := newTestRoot(t)
	_, err := root.AddGroup("empty")
	require.NoError(t, err)

	_, err = root.DefaultPlottable()
	require.Error(t, err)
	assert.True(t, container.IsCode(err, container.ErrNotFound))
}
