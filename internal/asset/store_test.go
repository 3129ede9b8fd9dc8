package asset

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2012, 2, 21, 23, 59, 33, 0, time.UTC)

const toolXML = `<CuttingTool serialNumber="ABC" toolId="KSSP300R4SD43L240">` +
	`<CuttingToolLifeCycle><ToolLife type="MINUTES">100</ToolLife></CuttingToolLifeCycle>` +
	`</CuttingTool>`

func TestAddAndGet(t *testing.T) {
	s := NewStore(10)
	_, err := s.Add("000", "EM233", "CuttingTool", toolXML, t0)
	require.NoError(t, err)

	a, ok := s.Get("EM233")
	require.True(t, ok)
	assert.Equal(t, "CuttingTool", a.AssetType)
	assert.Equal(t, "000", a.DeviceUUID)
	assert.False(t, a.Removed)
	assert.Equal(t, 1, s.Count())
	assert.Equal(t, 1, s.Revisions())
}

func TestAddRejectsBadXML(t *testing.T) {
	s := NewStore(10)
	_, err := s.Add("000", "EM233", "CuttingTool", "<CuttingTool><Broken</CuttingTool>", t0)
	assert.ErrorIs(t, err, ErrBadXML)
	assert.Zero(t, s.Count())
}

func TestReAddReplacesCurrent(t *testing.T) {
	s := NewStore(10)
	_, err := s.Add("000", "EM233", "CuttingTool", toolXML, t0)
	require.NoError(t, err)
	_, err = s.Add("000", "EM233", "CuttingTool",
		`<CuttingTool><CuttingToolLifeCycle><ToolLife>90</ToolLife></CuttingToolLifeCycle></CuttingTool>`,
		t0.Add(time.Second))
	require.NoError(t, err)

	a, _ := s.Get("EM233")
	life, ok := a.Element("ToolLife")
	require.True(t, ok)
	assert.Equal(t, "90", life)
	assert.Equal(t, 1, s.Count())
	assert.Equal(t, 2, s.Revisions())
}

func TestUpdatePatchesInnermost(t *testing.T) {
	s := NewStore(10)
	_, err := s.Add("000", "EM233", "CuttingTool", toolXML, t0)
	require.NoError(t, err)

	a, err := s.Update("EM233", []string{"ToolLife", "85"}, t0.Add(time.Second))
	require.NoError(t, err)

	life, ok := a.Element("ToolLife")
	require.True(t, ok)
	assert.Equal(t, "85", life)
	assert.True(t, a.Timestamp.Equal(t0.Add(time.Second)))
	assert.Equal(t, 2, s.Revisions())
}

func TestUpdateCreatesMissingElement(t *testing.T) {
	s := NewStore(10)
	_, err := s.Add("000", "EM233", "CuttingTool", "<CuttingTool/>", t0)
	require.NoError(t, err)

	a, err := s.Update("EM233", []string{"OverallToolLength", "323.85"}, t0.Add(time.Second))
	require.NoError(t, err)

	v, ok := a.Element("OverallToolLength")
	require.True(t, ok)
	assert.Equal(t, "323.85", v)
}

func TestUpdateUnknownAsset(t *testing.T) {
	s := NewStore(10)
	_, err := s.Update("NOPE", []string{"ToolLife", "85"}, t0)
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestUpdateDoesNotMutateOlderRevisions(t *testing.T) {
	s := NewStore(10)
	first, err := s.Add("000", "EM233", "CuttingTool", toolXML, t0)
	require.NoError(t, err)
	_, err = s.Update("EM233", []string{"ToolLife", "85"}, t0.Add(time.Second))
	require.NoError(t, err)

	life, _ := first.Element("ToolLife")
	assert.Equal(t, "100", life)
}

func TestRemoveTombstones(t *testing.T) {
	s := NewStore(10)
	_, err := s.Add("000", "EM233", "CuttingTool", toolXML, t0)
	require.NoError(t, err)

	a, err := s.Remove("EM233", t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, a.Removed)

	// Still retrievable by id, but excluded from listings and counts.
	got, ok := s.Get("EM233")
	require.True(t, ok)
	assert.True(t, got.Removed)
	assert.Zero(t, s.Count())
	assert.Empty(t, s.All("", 0))
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := NewStore(10)
	_, err := s.Add("000", "EM233", "CuttingTool", toolXML, t0)
	require.NoError(t, err)

	_, err = s.Remove("EM233", t0.Add(time.Second))
	require.NoError(t, err)
	before := s.Revisions()

	_, err = s.Remove("EM233", t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, before, s.Revisions())
}

func TestRemoveUnknownAsset(t *testing.T) {
	s := NewStore(10)
	_, err := s.Remove("NOPE", t0)
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestAllFiltersByTypeAndCount(t *testing.T) {
	s := NewStore(10)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("T%d", i)
		_, err := s.Add("000", id, "CuttingTool", "<CuttingTool/>", t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	_, err := s.Add("000", "F1", "Fixture", "<Fixture/>", t0.Add(time.Minute))
	require.NoError(t, err)

	tools := s.All("CuttingTool", 0)
	require.Len(t, tools, 3)
	// Newest first.
	assert.Equal(t, "T2", tools[0].AssetID)

	limited := s.All("", 2)
	require.Len(t, limited, 2)
	assert.Equal(t, "F1", limited[0].AssetID)
}

func TestBufferEviction(t *testing.T) {
	s := NewStore(2)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("T%d", i)
		_, err := s.Add("000", id, "CuttingTool", "<CuttingTool/>", t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, s.Revisions())
	// Current map is unaffected by revision eviction for live assets.
	assert.Equal(t, 4, s.Count())
}

func TestEvictionDropsStaleTombstone(t *testing.T) {
	s := NewStore(2)
	_, err := s.Add("000", "T0", "CuttingTool", "<CuttingTool/>", t0)
	require.NoError(t, err)
	_, err = s.Remove("T0", t0.Add(time.Second))
	require.NoError(t, err)

	// Two more revisions push both T0 entries out of the buffer; the
	// tombstone goes with the last of them.
	_, err = s.Add("000", "T1", "CuttingTool", "<CuttingTool/>", t0.Add(2*time.Second))
	require.NoError(t, err)
	_, ok := s.Get("T0")
	assert.True(t, ok)

	_, err = s.Add("000", "T2", "CuttingTool", "<CuttingTool/>", t0.Add(3*time.Second))
	require.NoError(t, err)
	_, ok = s.Get("T0")
	assert.False(t, ok)
}
