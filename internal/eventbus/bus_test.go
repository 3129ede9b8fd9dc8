package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

// recordingHandler captures dispatch order in a shared log.
type recordingHandler struct {
	id       string
	types    []EventType
	priority int
	err      error
	calls    *[]string
}

func (h *recordingHandler) ID() string           { return h.id }
func (h *recordingHandler) Handles() []EventType { return h.types }
func (h *recordingHandler) Priority() int        { return h.priority }

func (h *recordingHandler) Handle(_ context.Context, event *Event) error {
	*h.calls = append(*h.calls, h.id)
	return h.err
}

func TestDispatchFiltersOnType(t *testing.T) {
	var calls []string
	b := New(nil)
	b.Register(&recordingHandler{id: "stored-only",
		types: []EventType{EventObservationStored}, calls: &calls})
	b.Register(&recordingHandler{id: "assets-only",
		types: []EventType{EventAssetChanged}, calls: &calls})

	err := b.Dispatch(context.Background(), &Event{Type: EventObservationStored})
	require.NoError(t, err)
	assert.Equal(t, []string{"stored-only"}, calls)
}

func TestDispatchHonorsPriority(t *testing.T) {
	var calls []string
	b := New(nil)
	// Registered high priority first; dispatch still runs lowest first.
	b.Register(&recordingHandler{id: "late", priority: 100,
		types: []EventType{EventObservationStored}, calls: &calls})
	b.Register(&recordingHandler{id: "early", priority: 1,
		types: []EventType{EventObservationStored}, calls: &calls})

	require.NoError(t, b.Dispatch(context.Background(), &Event{Type: EventObservationStored}))
	assert.Equal(t, []string{"early", "late"}, calls)
}

func TestDispatchContinuesPastHandlerErrors(t *testing.T) {
	var calls []string
	b := New(nil)
	b.Register(&recordingHandler{id: "broken", priority: 1, err: errors.New("boom"),
		types: []EventType{EventObservationStored}, calls: &calls})
	b.Register(&recordingHandler{id: "healthy", priority: 2,
		types: []EventType{EventObservationStored}, calls: &calls})

	err := b.Dispatch(context.Background(), &Event{Type: EventObservationStored})
	require.NoError(t, err)
	assert.Equal(t, []string{"broken", "healthy"}, calls)
}

func TestDispatchNilEvent(t *testing.T) {
	b := New(nil)
	assert.Error(t, b.Dispatch(context.Background(), nil))
}

func TestDispatchStopsOnCancelledContext(t *testing.T) {
	var calls []string
	b := New(nil)
	b.Register(&recordingHandler{id: "h",
		types: []EventType{EventObservationStored}, calls: &calls})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Dispatch(ctx, &Event{Type: EventObservationStored})
	assert.Error(t, err)
	assert.Empty(t, calls)
}

func TestMetricsHandlerCounts(t *testing.T) {
	h, err := NewMetricsHandler(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	assert.Equal(t, "metrics", h.ID())
	assert.Contains(t, h.Handles(), EventObservationStored)
	assert.Contains(t, h.Handles(), EventObservationDropped)

	// Counter adds are fire-and-forget; the handler must not error.
	assert.NoError(t, h.Handle(context.Background(),
		&Event{Type: EventObservationStored, DeviceUUID: "000"}))
	assert.NoError(t, h.Handle(context.Background(),
		&Event{Type: EventObservationDropped, DeviceUUID: "000", Reason: "duplicate"}))
}
