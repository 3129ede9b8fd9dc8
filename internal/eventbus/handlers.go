package eventbus

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// MetricsHandler counts stored and dropped observations per device.
type MetricsHandler struct {
	stored  metric.Int64Counter
	dropped metric.Int64Counter
}

// NewMetricsHandler builds a MetricsHandler on the given meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	stored, err := meter.Int64Counter("mtcagent.observations.stored",
		metric.WithDescription("Observations appended to the sample buffer"))
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("mtcagent.observations.dropped",
		metric.WithDescription("Observations dropped before storage"))
	if err != nil {
		return nil, err
	}
	return &MetricsHandler{stored: stored, dropped: dropped}, nil
}

func (h *MetricsHandler) ID() string { return "metrics" }

func (h *MetricsHandler) Handles() []EventType {
	return []EventType{EventObservationStored, EventObservationDropped}
}

func (h *MetricsHandler) Priority() int { return 10 }

func (h *MetricsHandler) Handle(ctx context.Context, event *Event) error {
	attrs := metric.WithAttributes(attribute.String("device", event.DeviceUUID))
	switch event.Type {
	case EventObservationStored:
		h.stored.Add(ctx, 1, attrs)
	case EventObservationDropped:
		h.dropped.Add(ctx, 1, attrs,
			metric.WithAttributes(attribute.String("reason", event.Reason)))
	}
	return nil
}

// DebugHandler logs every event at debug level. Registered only when
// verbose logging is on.
type DebugHandler struct {
	log *zap.Logger
}

// NewDebugHandler builds a DebugHandler.
func NewDebugHandler(log *zap.Logger) *DebugHandler {
	return &DebugHandler{log: log}
}

func (h *DebugHandler) ID() string { return "debug" }

func (h *DebugHandler) Handles() []EventType {
	return []EventType{EventObservationStored, EventObservationDropped, EventAssetChanged}
}

func (h *DebugHandler) Priority() int { return 100 }

func (h *DebugHandler) Handle(_ context.Context, event *Event) error {
	h.log.Debug("ingest event",
		zap.String("type", string(event.Type)),
		zap.String("device", event.DeviceUUID),
		zap.String("dataItem", event.DataItemID),
		zap.String("asset", event.AssetID),
		zap.Uint64("sequence", event.Sequence),
		zap.String("reason", event.Reason))
	return nil
}
