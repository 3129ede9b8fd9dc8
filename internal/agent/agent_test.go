package agent

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtcforge/mtcagent/internal/config"
	"github.com/mtcforge/mtcagent/internal/eventbus"
	"github.com/mtcforge/mtcagent/internal/store"
)

const agentDevicesXML = `<?xml version="1.0" encoding="UTF-8"?>
<MTConnectDevices xmlns="urn:mtconnect.org:MTConnectDevices:1.3">
  <Devices>
    <Device id="dev1" uuid="000" name="VMC-3Axis">
      <DataItems>
        <DataItem id="avail1" name="avail" type="AVAILABILITY" category="EVENT"/>
      </DataItems>
      <Components>
        <Controller id="cont1" name="controller">
          <DataItems>
            <DataItem id="exec1" name="execution" type="EXECUTION" category="EVENT"/>
            <DataItem id="htemp1" name="htemp" type="TEMPERATURE" category="CONDITION"/>
          </DataItems>
        </Controller>
      </Components>
    </Device>
  </Devices>
</MTConnectDevices>`

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.xml")
	require.NoError(t, os.WriteFile(path, []byte(agentDevicesXML), 0o644))

	a, err := New(&config.Config{
		DevicesFile:     path,
		BufferSize:      64,
		AssetBufferSize: 8,
		Version:         "1.3",
		Sender:          "testhost",
	}, nil)
	require.NoError(t, err)
	return a
}

// captureHandler records every event type it sees.
type captureHandler struct {
	mu     sync.Mutex
	events []*eventbus.Event
}

func (h *captureHandler) ID() string    { return "capture" }
func (h *captureHandler) Priority() int { return 1 }
func (h *captureHandler) Handles() []eventbus.EventType {
	return []eventbus.EventType{
		eventbus.EventObservationStored,
		eventbus.EventObservationDropped,
		eventbus.EventAssetChanged,
	}
}

func (h *captureHandler) Handle(_ context.Context, event *eventbus.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	copied := *event
	h.events = append(h.events, &copied)
	return nil
}

func (h *captureHandler) ofType(t eventbus.EventType) []*eventbus.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*eventbus.Event
	for _, e := range h.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func TestNewLoadsDevices(t *testing.T) {
	a := newTestAgent(t)
	d, ok := a.Registry.Resolve("VMC-3Axis")
	require.True(t, ok)
	assert.Equal(t, "000", d.UUID)
	assert.Equal(t, "1.3", a.Assembler.Version)
	assert.NotZero(t, a.InstanceID())
}

func TestNewRejectsDuplicateDeviceUUIDs(t *testing.T) {
	dup := `<Devices>
  <Device id="d1" uuid="000" name="A"><DataItems><DataItem id="x" type="AVAILABILITY" category="EVENT"/></DataItems></Device>
  <Device id="d2" uuid="000" name="B"><DataItems><DataItem id="y" type="AVAILABILITY" category="EVENT"/></DataItems></Device>
</Devices>`
	path := filepath.Join(t.TempDir(), "devices.xml")
	require.NoError(t, os.WriteFile(path, []byte(dup), 0o644))

	_, err := New(&config.Config{
		DevicesFile: path, BufferSize: 64, AssetBufferSize: 8,
	}, nil)
	assert.Error(t, err)
}

func TestHandleLineStoresObservations(t *testing.T) {
	a := newTestAgent(t)
	capture := &captureHandler{}
	a.Bus.Register(capture)

	a.HandleLine(context.Background(), "VMC-3Axis",
		"2014-08-11T08:32:54.028533Z|avail|AVAILABLE|execution|ACTIVE")

	snap := a.Data.Current()
	avail := snap.Current[store.DataItemKey{DeviceUUID: "000", DataItemID: "avail1"}]
	assert.Equal(t, "AVAILABLE", avail.Value)
	exec := snap.Current[store.DataItemKey{DeviceUUID: "000", DataItemID: "exec1"}]
	assert.Equal(t, "ACTIVE", exec.Value)

	stored := capture.ofType(eventbus.EventObservationStored)
	require.Len(t, stored, 2)
	assert.Equal(t, uint64(1), stored[0].Sequence)
	assert.Equal(t, "avail1", stored[0].DataItemID)
}

func TestHandleLineConditionLifecycle(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()
	k := store.DataItemKey{DeviceUUID: "000", DataItemID: "htemp1"}

	a.HandleLine(ctx, "VMC-3Axis",
		"2010-09-29T23:59:33Z|htemp|WARNING|HTEMP|1|HIGH|Oil Temperature High")
	snap := a.Data.Current()
	require.Len(t, snap.Conditions[k], 1)
	assert.Equal(t, "Oil Temperature High", snap.Conditions[k][0].Condition.Message)

	a.HandleLine(ctx, "VMC-3Axis", "2010-09-29T23:59:40Z|htemp|NORMAL||||")
	snap = a.Data.Current()
	list, observed := snap.ObservedConditions(k)
	assert.True(t, observed)
	assert.Empty(t, list)
}

func TestHandleLineDuplicateDropped(t *testing.T) {
	a := newTestAgent(t)
	capture := &captureHandler{}
	a.Bus.Register(capture)
	ctx := context.Background()

	a.HandleLine(ctx, "VMC-3Axis", "2014-08-11T08:32:54Z|avail|AVAILABLE")
	a.HandleLine(ctx, "VMC-3Axis", "2014-08-11T08:32:55Z|avail|AVAILABLE")

	_, last, _ := a.Data.Range()
	assert.Equal(t, uint64(1), last)

	dropped := capture.ofType(eventbus.EventObservationDropped)
	require.Len(t, dropped, 1)
	assert.Equal(t, "duplicate", dropped[0].Reason)
}

func TestHandleLineMalformedDropped(t *testing.T) {
	a := newTestAgent(t)
	capture := &captureHandler{}
	a.Bus.Register(capture)

	a.HandleLine(context.Background(), "VMC-3Axis", "not-a-timestamp|avail|AVAILABLE")

	_, last, _ := a.Data.Range()
	assert.Zero(t, last)
	require.Len(t, capture.ofType(eventbus.EventObservationDropped), 1)
}

func TestHandleLineUnknownDeviceIgnored(t *testing.T) {
	a := newTestAgent(t)
	a.HandleLine(context.Background(), "HMC-5Axis", "2014-08-11T08:32:54Z|avail|AVAILABLE")
	_, last, _ := a.Data.Range()
	assert.Zero(t, last)
}

func TestHandleLineProtocolTrafficIgnored(t *testing.T) {
	a := newTestAgent(t)
	a.HandleLine(context.Background(), "VMC-3Axis", "* PONG 10000")
	_, last, _ := a.Data.Range()
	assert.Zero(t, last)
}

func TestHandleLineAssetLifecycle(t *testing.T) {
	a := newTestAgent(t)
	capture := &captureHandler{}
	a.Bus.Register(capture)
	ctx := context.Background()

	a.HandleLine(ctx, "VMC-3Axis",
		`2012-02-21T23:59:33Z|@ASSET@|EM233|CuttingTool|<CuttingTool serialNumber="ABC"><ToolLife>100</ToolLife></CuttingTool>`)
	got, ok := a.Assets.Get("EM233")
	require.True(t, ok)
	assert.Equal(t, "000", got.DeviceUUID)

	a.HandleLine(ctx, "VMC-3Axis",
		"2012-02-21T23:59:34Z|@UPDATE_ASSET@|EM233|ToolLife|85")
	got, _ = a.Assets.Get("EM233")
	life, ok := got.Element("ToolLife")
	require.True(t, ok)
	assert.Equal(t, "85", life)

	a.HandleLine(ctx, "VMC-3Axis", "2012-02-21T23:59:35Z|@REMOVE_ASSET@|EM233")
	got, _ = a.Assets.Get("EM233")
	assert.True(t, got.Removed)

	assert.Len(t, capture.ofType(eventbus.EventAssetChanged), 3)
}

func TestHandleLineBadAssetCommandIgnored(t *testing.T) {
	a := newTestAgent(t)
	capture := &captureHandler{}
	a.Bus.Register(capture)

	a.HandleLine(context.Background(), "VMC-3Axis",
		"2012-02-21T23:59:34Z|@UPDATE_ASSET@|NOPE|ToolLife|85")
	assert.Empty(t, capture.ofType(eventbus.EventAssetChanged))
}
