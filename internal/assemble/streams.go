package assemble

import (
	"strconv"

	"github.com/beevik/etree"

	"github.com/mtcforge/mtcagent/internal/schema"
	"github.com/mtcforge/mtcagent/internal/store"
)

// CurrentDoc builds MTConnectStreams from a snapshot: one element per
// observed data item (conditions render their whole active list, or a
// single Normal when cleared). Components with nothing to report are
// omitted.
func (a *Assembler) CurrentDoc(snap *store.Snapshot, devices []*schema.Device, filter *schema.PathFilter) *etree.Document {
	next := snap.LastSequence + 1
	doc, root := a.envelope("Streams")
	a.header(root, headerOpts{
		firstSequence: &snap.FirstSequence,
		lastSequence:  &snap.LastSequence,
		nextSequence:  &next,
	})
	streams := root.CreateElement("Streams")

	for _, d := range devices {
		devStream := newDeviceStream(streams, d)
		for _, group := range d.Walk() {
			cs := componentStreamBuilder{group: group}
			for i := range group.DataItems {
				di := &group.DataItems[i]
				if !filter.Match(di.ID) {
					continue
				}
				k := store.DataItemKey{DeviceUUID: d.UUID, DataItemID: di.ID}
				if di.Category == schema.CategoryCondition {
					a.appendCurrentCondition(&cs, snap, k, di)
					continue
				}
				if obs, ok := snap.Current[k]; ok {
					cs.add(di.Category, observationElement(di, obs))
				}
			}
			cs.attach(devStream)
		}
	}
	return doc
}

// SampleWindow is the slice of buffer a sample response covers, plus the
// sequence bookkeeping reported in its header.
type SampleWindow struct {
	Observations  []store.Observation
	FirstSequence uint64
	LastSequence  uint64
	NextSequence  uint64
}

// SampleDoc builds MTConnectStreams from a sample window, one element
// per observation in buffer order.
func (a *Assembler) SampleDoc(win SampleWindow, devices []*schema.Device, filter *schema.PathFilter) *etree.Document {
	doc, root := a.envelope("Streams")
	a.header(root, headerOpts{
		firstSequence: &win.FirstSequence,
		lastSequence:  &win.LastSequence,
		nextSequence:  &win.NextSequence,
	})
	streams := root.CreateElement("Streams")

	// Group the window by device and data item, preserving buffer order
	// within each data item.
	byItem := make(map[store.DataItemKey][]store.Observation)
	for _, obs := range win.Observations {
		k := store.DataItemKey{DeviceUUID: obs.DeviceUUID, DataItemID: obs.DataItemID}
		byItem[k] = append(byItem[k], obs)
	}

	for _, d := range devices {
		devStream := newDeviceStream(streams, d)
		for _, group := range d.Walk() {
			cs := componentStreamBuilder{group: group}
			for i := range group.DataItems {
				di := &group.DataItems[i]
				if !filter.Match(di.ID) {
					continue
				}
				k := store.DataItemKey{DeviceUUID: d.UUID, DataItemID: di.ID}
				for _, obs := range byItem[k] {
					if di.Category == schema.CategoryCondition {
						cs.add(di.Category, conditionElement(di, obs))
					} else {
						cs.add(di.Category, observationElement(di, obs))
					}
				}
			}
			cs.attach(devStream)
		}
	}
	return doc
}

func newDeviceStream(streams *etree.Element, d *schema.Device) *etree.Element {
	ds := streams.CreateElement("DeviceStream")
	ds.CreateAttr("name", d.Name)
	ds.CreateAttr("uuid", d.UUID)
	return ds
}

// componentStreamBuilder defers ComponentStream creation until the first
// element arrives, so empty components never appear in the document.
type componentStreamBuilder struct {
	group      schema.ComponentGroup
	samples    []*etree.Element
	events     []*etree.Element
	conditions []*etree.Element
}

func (b *componentStreamBuilder) add(cat schema.Category, el *etree.Element) {
	switch cat {
	case schema.CategorySample:
		b.samples = append(b.samples, el)
	case schema.CategoryCondition:
		b.conditions = append(b.conditions, el)
	default:
		b.events = append(b.events, el)
	}
}

func (b *componentStreamBuilder) attach(devStream *etree.Element) {
	if len(b.samples) == 0 && len(b.events) == 0 && len(b.conditions) == 0 {
		return
	}
	cs := devStream.CreateElement("ComponentStream")
	cs.CreateAttr("component", b.group.ComponentType)
	cs.CreateAttr("name", b.group.ComponentName)
	cs.CreateAttr("componentId", b.group.ComponentID)
	attachPartition(cs, "Samples", b.samples)
	attachPartition(cs, "Events", b.events)
	attachPartition(cs, "Condition", b.conditions)
}

func attachPartition(cs *etree.Element, name string, els []*etree.Element) {
	if len(els) == 0 {
		return
	}
	wrapper := cs.CreateElement(name)
	for _, el := range els {
		wrapper.AddChild(el)
	}
}

// appendCurrentCondition renders a condition data item for a current
// response: every active entry, or one Normal when the list was cleared.
// Items whose condition was never reported are omitted.
func (a *Assembler) appendCurrentCondition(cs *componentStreamBuilder, snap *store.Snapshot, k store.DataItemKey, di *schema.DataItem) {
	active, observed := snap.Conditions[k]
	if !observed {
		return
	}
	if len(active) == 0 {
		if last, ok := snap.LastCondition[k]; ok {
			normal := last
			normal.Condition = &store.Condition{Level: store.LevelNormal}
			cs.add(di.Category, conditionElement(di, normal))
		}
		return
	}
	for _, obs := range active {
		cs.add(di.Category, conditionElement(di, obs))
	}
}

// observationElement renders one EVENT/SAMPLE observation.
func observationElement(di *schema.DataItem, obs store.Observation) *etree.Element {
	el := etree.NewElement(elementName(di.Type))
	el.CreateAttr("dataItemId", di.ID)
	el.CreateAttr("timestamp", formatTime(obs.Timestamp))
	if di.Name != "" {
		el.CreateAttr("name", di.Name)
	}
	el.CreateAttr("sequence", strconv.FormatUint(obs.Sequence, 10))
	if di.SubType != "" {
		el.CreateAttr("subType", di.SubType)
	}
	el.SetText(obs.Value)
	return el
}

// conditionElement renders one condition observation as its level
// element (Fault, Warning, Normal, Unavailable).
func conditionElement(di *schema.DataItem, obs store.Observation) *etree.Element {
	cond := obs.Condition
	el := etree.NewElement(conditionElementName(cond.Level))
	el.CreateAttr("dataItemId", di.ID)
	el.CreateAttr("timestamp", formatTime(obs.Timestamp))
	if di.Name != "" {
		el.CreateAttr("name", di.Name)
	}
	el.CreateAttr("sequence", strconv.FormatUint(obs.Sequence, 10))
	el.CreateAttr("type", di.Type)
	if cond.NativeCode != "" {
		el.CreateAttr("nativeCode", cond.NativeCode)
	}
	if cond.NativeSeverity != "" {
		el.CreateAttr("nativeSeverity", cond.NativeSeverity)
	}
	if cond.Qualifier != "" {
		el.CreateAttr("qualifier", cond.Qualifier)
	}
	if cond.Message != "" {
		el.SetText(cond.Message)
	}
	return el
}
