package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtcforge/mtcagent/internal/schema"
	"github.com/mtcforge/mtcagent/internal/testutil"
)

func TestCompilePathByType(t *testing.T) {
	reg := testutil.TestRegistry()
	f, err := reg.CompilePath(`//DataItem[@type="LOAD"]`, nil)
	require.NoError(t, err)

	assert.True(t, f.Match("cload1"))
	assert.True(t, f.Match("cloadc1"))
	assert.False(t, f.Match("avail1"))
}

func TestCompilePathAcceptsSingleQuotes(t *testing.T) {
	reg := testutil.TestRegistry()
	f, err := reg.CompilePath(`//DataItem[@type='EXECUTION']`, nil)
	require.NoError(t, err)
	assert.True(t, f.Match("exec1"))
}

func TestCompilePathComponentQualified(t *testing.T) {
	reg := testutil.TestRegistry()
	f, err := reg.CompilePath(`//Rotary//DataItem`, nil)
	require.NoError(t, err)

	assert.True(t, f.Match("cload1"))
	assert.True(t, f.Match("cloadc1"))
	assert.False(t, f.Match("exec1"))
}

func TestCompilePathComponentOnlyIsUnsupported(t *testing.T) {
	reg := testutil.TestRegistry()
	// Matches the Axes component element but selects no DataItem nodes.
	_, err := reg.CompilePath(`//Axes`, nil)
	assert.ErrorIs(t, err, schema.ErrUnsupportedPath)
	assert.False(t, reg.PathValidation(`//Axes`, nil))
}

func TestCompilePathNoMatches(t *testing.T) {
	reg := testutil.TestRegistry()
	_, err := reg.CompilePath(`//DataItem[@type="ANGLE"]`, nil)
	assert.ErrorIs(t, err, schema.ErrUnsupportedPath)
}

func TestCompilePathMalformed(t *testing.T) {
	reg := testutil.TestRegistry()
	_, err := reg.CompilePath(`//DataItem[@type=`, nil)
	assert.ErrorIs(t, err, schema.ErrInvalidPath)
}

func TestCompilePathScopedToDevices(t *testing.T) {
	reg := testutil.TestRegistry()
	other := &schema.Device{
		ID: "dev2", UUID: "222", Name: "Lathe",
		DataItems: []schema.DataItem{
			{ID: "avail2", Name: "avail", Type: "AVAILABILITY", Category: schema.CategoryEvent},
		},
	}
	require.NoError(t, reg.Register(other))

	f, err := reg.CompilePath(`//DataItem[@type="AVAILABILITY"]`, []string{"222"})
	require.NoError(t, err)
	assert.True(t, f.Match("avail2"))
	assert.False(t, f.Match("avail1"))
}

func TestNilFilterMatchesEverything(t *testing.T) {
	var f *schema.PathFilter
	assert.True(t, f.Match("anything"))
}
