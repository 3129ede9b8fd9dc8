// Package agent wires the registry, stores, and assembler together and
// owns the single serialized ingest entry point adapters feed.
package agent

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mtcforge/mtcagent/internal/asset"
	"github.com/mtcforge/mtcagent/internal/assemble"
	"github.com/mtcforge/mtcagent/internal/config"
	"github.com/mtcforge/mtcagent/internal/eventbus"
	"github.com/mtcforge/mtcagent/internal/schema"
	"github.com/mtcforge/mtcagent/internal/shdr"
	"github.com/mtcforge/mtcagent/internal/store"
)

// Agent owns the agent's state and the ingest path.
type Agent struct {
	Registry  *schema.Registry
	Data      *store.Store
	Assets    *asset.Store
	Assembler *assemble.Assembler
	Bus       *eventbus.Bus

	log        *zap.Logger
	instanceID int64
}

// New builds an agent from configuration: loads the device file,
// registers devices (duplicate uuids are fatal at startup), and sizes
// the stores.
func New(cfg *config.Config, log *zap.Logger) (*Agent, error) {
	if log == nil {
		log = zap.NewNop()
	}

	reg := schema.NewRegistry()
	version := cfg.Version
	if cfg.DevicesFile != "" {
		devices, fileVersion, err := schema.LoadDevicesFile(cfg.DevicesFile)
		if err != nil {
			return nil, err
		}
		if fileVersion != "" {
			version = fileVersion
		}
		for _, d := range devices {
			if err := reg.Register(d); err != nil {
				return nil, err
			}
			log.Info("registered device",
				zap.String("uuid", d.UUID),
				zap.String("name", d.Name))
		}
	}

	instanceID := time.Now().Unix()
	a := &Agent{
		Registry: reg,
		Data: store.New(cfg.BufferSize,
			store.WithMaxReplay(cfg.MaxReplay)),
		Assets:     asset.NewStore(cfg.AssetBufferSize),
		Bus:        eventbus.New(log),
		log:        log,
		instanceID: instanceID,
	}
	a.Assembler = assemble.New(reg, version, cfg.Sender, instanceID,
		cfg.BufferSize, cfg.AssetBufferSize)
	return a, nil
}

// InstanceID returns the header instanceId (agent start time).
func (a *Agent) InstanceID() int64 { return a.instanceID }

// HandleLine ingests one SHDR line for the device identified by
// nameOrUUID. Failures are logged and dropped; ingest never errors out
// to the adapter.
func (a *Agent) HandleLine(ctx context.Context, nameOrUUID, raw string) {
	if shdr.IsProtocolLine(raw) {
		return // adapter protocol traffic, handled at the transport
	}

	dev, ok := a.Registry.Resolve(nameOrUUID)
	if !ok {
		a.log.Warn("line for unregistered device", zap.String("device", nameOrUUID))
		return
	}

	line, err := shdr.Parse(raw, dev.UUID, a.Registry)
	if err != nil {
		a.log.Warn("discarded SHDR line",
			zap.String("device", dev.UUID),
			zap.Error(err))
		a.dispatch(ctx, &eventbus.Event{
			Type:       eventbus.EventObservationDropped,
			DeviceUUID: dev.UUID,
			Reason:     err.Error(),
		})
		return
	}
	for _, key := range line.SkippedKeys {
		a.log.Debug("unknown data item key",
			zap.String("device", dev.UUID),
			zap.String("key", key))
		a.dispatch(ctx, &eventbus.Event{
			Type:       eventbus.EventObservationDropped,
			DeviceUUID: dev.UUID,
			Reason:     "unknown key: " + key,
		})
	}

	for _, item := range line.Items {
		a.ingestItem(ctx, dev.UUID, line.Timestamp, item)
	}
	for _, cmd := range line.Commands {
		a.applyAssetCommand(ctx, dev.UUID, line.Timestamp, cmd)
	}
}

func (a *Agent) ingestItem(ctx context.Context, uuid string, ts time.Time, item shdr.Item) {
	di, ok := a.Registry.DataItem(uuid, item.Key)
	if !ok {
		return // parser already screened; registry is immutable
	}

	obs := store.Observation{
		DeviceUUID: uuid,
		DataItemID: di.ID,
		Category:   di.Category,
		Timestamp:  ts,
	}
	if di.Category == schema.CategoryCondition {
		level := strings.ToUpper(strings.TrimSpace(item.Values[0]))
		switch level {
		case store.LevelNormal, store.LevelWarning, store.LevelFault, store.LevelUnavailable:
		default:
			a.log.Warn("condition with unknown level",
				zap.String("device", uuid),
				zap.String("dataItem", di.ID),
				zap.String("level", item.Values[0]))
			return
		}
		obs.Condition = &store.Condition{
			Level:          level,
			NativeCode:     item.Values[1],
			NativeSeverity: item.Values[2],
			Qualifier:      item.Values[3],
			Message:        item.Values[4],
		}
	} else {
		obs.Value = item.Values[0]
	}

	seq, stored := a.Data.Ingest(obs)
	if !stored {
		a.dispatch(ctx, &eventbus.Event{
			Type:       eventbus.EventObservationDropped,
			DeviceUUID: uuid,
			DataItemID: di.ID,
			Reason:     "duplicate",
		})
		return
	}
	a.dispatch(ctx, &eventbus.Event{
		Type:       eventbus.EventObservationStored,
		DeviceUUID: uuid,
		DataItemID: di.ID,
		Sequence:   seq,
	})
}

func (a *Agent) applyAssetCommand(ctx context.Context, uuid string, ts time.Time, cmd shdr.AssetCommand) {
	var err error
	switch cmd.Kind {
	case shdr.AssetAdd:
		_, err = a.Assets.Add(uuid, cmd.AssetID, cmd.AssetType, cmd.XML, ts)
	case shdr.AssetUpdate:
		_, err = a.Assets.Update(cmd.AssetID, cmd.Patch, ts)
	case shdr.AssetRemove:
		_, err = a.Assets.Remove(cmd.AssetID, ts)
	}
	if err != nil {
		a.log.Warn("asset command discarded",
			zap.String("device", uuid),
			zap.String("asset", cmd.AssetID),
			zap.Error(err))
		return
	}
	a.dispatch(ctx, &eventbus.Event{
		Type:       eventbus.EventAssetChanged,
		DeviceUUID: uuid,
		AssetID:    cmd.AssetID,
	})
}

func (a *Agent) dispatch(ctx context.Context, event *eventbus.Event) {
	if err := a.Bus.Dispatch(ctx, event); err != nil {
		a.log.Debug("event dispatch aborted", zap.Error(err))
	}
}
