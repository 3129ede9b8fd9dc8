package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtcforge/mtcagent/internal/schema"
	"github.com/mtcforge/mtcagent/internal/testutil"
)

func TestRegisterRejectsDuplicateUUID(t *testing.T) {
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(testutil.TestDevice()))

	dup := testutil.TestDevice()
	dup.Name = "VMC-3Axis-Clone"
	err := reg.Register(dup)
	require.ErrorIs(t, err, schema.ErrDuplicateUUID)

	// The existing registration is untouched.
	d, ok := reg.Device(testutil.TestUUID)
	require.True(t, ok)
	assert.Equal(t, "VMC-3Axis", d.Name)
}

func TestRegisterRequiresUUID(t *testing.T) {
	reg := schema.NewRegistry()
	err := reg.Register(&schema.Device{ID: "dev1", Name: "nameless"})
	assert.Error(t, err)
}

func TestResolveByNameAndUUID(t *testing.T) {
	reg := testutil.TestRegistry()

	byUUID, ok := reg.Resolve(testutil.TestUUID)
	require.True(t, ok)
	byName, ok := reg.Resolve("VMC-3Axis")
	require.True(t, ok)
	assert.Same(t, byUUID, byName)

	_, ok = reg.Resolve("no-such-device")
	assert.False(t, ok)
}

func TestDataItemPrefersName(t *testing.T) {
	reg := testutil.TestRegistry()

	di, ok := reg.DataItem(testutil.TestUUID, "execution")
	require.True(t, ok)
	assert.Equal(t, "exec1", di.ID)

	// Falls back to id lookup when no name matches.
	di, ok = reg.DataItem(testutil.TestUUID, "exec1")
	require.True(t, ok)
	assert.Equal(t, "execution", di.Name)

	_, ok = reg.DataItem(testutil.TestUUID, "bogus")
	assert.False(t, ok)
}

func TestDevicesPreservesRegistrationOrder(t *testing.T) {
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(&schema.Device{ID: "b1", UUID: "bbb", Name: "B"}))
	require.NoError(t, reg.Register(&schema.Device{ID: "a1", UUID: "aaa", Name: "A"}))

	devices := reg.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "bbb", devices[0].UUID)
	assert.Equal(t, "aaa", devices[1].UUID)
}

func TestWalkGroupsDataItemsByComponent(t *testing.T) {
	d := testutil.TestDevice()
	groups := d.Walk()

	require.Len(t, groups, 3)
	assert.Equal(t, "Device", groups[0].ComponentType)
	assert.Equal(t, "avail1", groups[0].DataItems[0].ID)
	assert.Equal(t, "Controller", groups[1].ComponentType)
	assert.Equal(t, "Rotary", groups[2].ComponentType)
	assert.Equal(t, "C", groups[2].ComponentName)
}

func TestDeviceXMLIsACopy(t *testing.T) {
	reg := testutil.TestRegistry()
	el, ok := reg.DeviceXML(testutil.TestUUID)
	require.True(t, ok)
	assert.Equal(t, "Device", el.Tag)
	assert.Equal(t, testutil.TestUUID, el.SelectAttrValue("uuid", ""))

	// Mutating the returned tree must not leak into later reads.
	el.CreateAttr("uuid", "tampered")
	el2, _ := reg.DeviceXML(testutil.TestUUID)
	assert.Equal(t, testutil.TestUUID, el2.SelectAttrValue("uuid", ""))
}
