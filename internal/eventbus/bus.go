// Package eventbus dispatches ingest-side events (observations stored,
// lines dropped, assets changed) to registered handlers: telemetry
// counters, debug logging, and streaming wakeups. Handlers run on the
// ingest goroutine and must be cheap.
package eventbus

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// EventType discriminates bus events.
type EventType string

const (
	EventObservationStored  EventType = "observation.stored"
	EventObservationDropped EventType = "observation.dropped"
	EventAssetChanged       EventType = "asset.changed"
)

// Event is one ingest-side occurrence.
type Event struct {
	Type       EventType
	DeviceUUID string
	DataItemID string
	AssetID    string
	Sequence   uint64
	// Reason is set for dropped observations (unknown key, duplicate,
	// parse failure).
	Reason string
}

// Handler consumes events. Handlers are called sequentially in priority
// order (lowest first).
type Handler interface {
	ID() string
	Handles() []EventType
	Priority() int
	Handle(ctx context.Context, event *Event) error
}

// Bus dispatches events to registered handlers. Handler errors are
// logged but never stop the chain; ingest must not fail because a
// subscriber did.
type Bus struct {
	handlers []Handler
	log      *zap.Logger
	mu       sync.RWMutex
}

// New creates a bus.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log}
}

// Register adds a handler. Handlers are sorted by priority on each
// Dispatch call, so registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Dispatch sends an event to all handlers that handle its type.
func (b *Bus) Dispatch(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("eventbus: nil event")
	}

	b.mu.RLock()
	matching := b.matchingHandlers(event.Type)
	b.mu.RUnlock()

	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("eventbus: context cancelled: %w", err)
		}
		if err := h.Handle(ctx, event); err != nil {
			b.log.Warn("eventbus handler error",
				zap.String("handler", h.ID()),
				zap.String("event", string(event.Type)),
				zap.Error(err))
		}
	}
	return nil
}

// Handlers returns all registered handlers (for status reporting).
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

// matchingHandlers returns handlers for the event type, sorted by
// priority (lowest first). Caller holds at least a read lock.
func (b *Bus) matchingHandlers(eventType EventType) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		for _, t := range h.Handles() {
			if t == eventType {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
