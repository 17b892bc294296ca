package nxschema

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusformat/nxtree/pkg/container"
	"github.com/nexusformat/nxtree/pkg/container/memory"
	"github.com/nexusformat/nxtree/pkg/tree"
)

func newTestRoot(t *testing.T) *tree.Root {
	t.Helper()
	root, err := tree.Open(context.Background(), memory.New(container.Create), tree.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { root.Close(context.Background()) })
	return root
}

func messages(r *Report) string {
	var parts []string
	for _, i := range r.Issues {
		parts = append(parts, i.String())
	}
	return strings.Join(parts, "\n")
}

func TestDefault_ParsesBundle(t *testing.T) {
	s := Default()
	assert.Greater(t, s.Len(), 10)

	entry, ok := s.Class("NXentry")
	require.True(t, ok)
	assert.NotEmpty(t, entry.Fields)
	assert.NotEmpty(t, entry.Groups)
}

func TestValidate_CleanTree(t *testing.T) {
	root := newTestRoot(t)

	entry, err := root.AddGroup("entry")
	require.NoError(t, err)
	require.NoError(t, entry.SetClass("NXentry"))
	title, err := entry.AddField("title", container.DtypeString, nil, nil)
	require.NoError(t, err)
	require.NoError(t, title.SetString("scan 42"))

	data, err := entry.AddGroup("data")
	require.NoError(t, err)
	require.NoError(t, data.SetClass("NXdata"))
	_, err = data.AddField("counts", container.DtypeInt64, container.Shape{16}, nil)
	require.NoError(t, err)

	report := Default().Validate(&root.Group)
	assert.Empty(t, report.Issues, messages(report))
	assert.False(t, report.HasErrors())
}

func TestValidate_UnknownClassWarns(t *testing.T) {
	root := newTestRoot(t)

	g, err := root.AddGroup("custom")
	require.NoError(t, err)
	require.NoError(t, g.SetClass("NXfrobnicator"))

	report := Default().Validate(&root.Group)
	require.Len(t, report.Issues, 2, messages(report))
	assert.False(t, report.HasErrors())
	// NXroot does not list NXfrobnicator among its children, and the
	// class itself is unknown.
	assert.Equal(t, Warning, report.Issues[0].Severity)
	assert.Equal(t, Warning, report.Issues[1].Severity)
	assert.Contains(t, messages(report), "NXfrobnicator")
}

func TestValidate_RequiredFieldMissing(t *testing.T) {
	root := newTestRoot(t)

	entry, err := root.AddGroup("entry")
	require.NoError(t, err)
	require.NoError(t, entry.SetClass("NXentry"))
	inst, err := entry.AddGroup("instrument")
	require.NoError(t, err)
	require.NoError(t, inst.SetClass("NXinstrument"))
	src, err := inst.AddGroup("source")
	require.NoError(t, err)
	require.NoError(t, src.SetClass("NXsource"))

	report := Default().Validate(&root.Group)
	require.True(t, report.HasErrors(), messages(report))
	require.Len(t, report.Issues, 1)
	assert.Equal(t, Error, report.Issues[0].Severity)
	assert.Equal(t, "/entry/instrument/source", report.Issues[0].Path)
	assert.Contains(t, report.Issues[0].Message, `"name"`)
}

func TestValidate_DtypeMismatch(t *testing.T) {
	root := newTestRoot(t)

	entry, err := root.AddGroup("entry")
	require.NoError(t, err)
	require.NoError(t, entry.SetClass("NXentry"))
	// duration is declared float64.
	_, err = entry.AddField("duration", container.DtypeInt32, nil, nil)
	require.NoError(t, err)

	report := Default().Validate(&root.Group)
	require.True(t, report.HasErrors(), messages(report))
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "/entry/duration", report.Issues[0].Path)
	assert.Contains(t, report.Issues[0].Message, "float64")
}

func TestValidate_UntaggedGroupsSkippedButDescended(t *testing.T) {
	root := newTestRoot(t)

	// Untagged intermediate group: no issues of its own, but the tagged
	// group beneath it is still validated.
	plain, err := root.AddGroup("plain")
	require.NoError(t, err)
	log, err := plain.AddGroup("log")
	require.NoError(t, err)
	require.NoError(t, log.SetClass("NXlog"))

	report := Default().Validate(&root.Group)
	require.True(t, report.HasErrors(), messages(report))
	// NXlog requires time and value.
	require.Len(t, report.Issues, 2)
	for _, issue := range report.Issues {
		assert.Equal(t, "/plain/log", issue.Path)
	}
}

func TestParse_Custom(t *testing.T) {
	custom := []byte(`
classes:
  NXscan:
    fields:
      - name: points
        dtype: int64
        required: true
`)
	s, err := Parse(custom)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	root := newTestRoot(t)
	g, err := root.AddGroup("scan")
	require.NoError(t, err)
	require.NoError(t, g.SetClass("NXscan"))

	report := s.Validate(&root.Group)
	require.True(t, report.HasErrors())

	_, err = g.AddField("points", container.DtypeInt64, nil, nil)
	require.NoError(t, err)
	report = s.Validate(&root.Group)
	assert.Empty(t, report.Issues, messages(report))
}

func TestParse_RejectsBadDtype(t *testing.T) {
	_, err := Parse([]byte(`
classes:
  NXbad:
    fields:
      - name: x
        dtype: quaternion
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quaternion")
}
