package schema

import (
	"fmt"
	"sync"

	"github.com/beevik/etree"
)

// ErrDuplicateUUID is returned when a device registration collides with an
// existing uuid. The existing registration wins; there is no replacement.
var ErrDuplicateUUID = fmt.Errorf("device uuid already registered")

// entry pairs a registered device with its derived lookup structures.
type entry struct {
	device *Device
	byID   map[string]*DataItem
	byName map[string]*DataItem
	// doc is the device rendered as an XML element tree, kept for probe
	// responses and path-filter evaluation.
	doc *etree.Document
}

// Registry holds all registered devices. Registration happens during
// startup; reads dominate afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	byName  map[string]string // device name -> uuid
	order   []string          // uuids in registration order
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		byName:  make(map[string]string),
	}
}

// Register adds a device. A duplicate uuid is rejected with
// ErrDuplicateUUID and the existing registration is kept untouched.
func (r *Registry) Register(d *Device) error {
	if d.UUID == "" {
		return fmt.Errorf("device %q has no uuid", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[d.UUID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateUUID, d.UUID)
	}

	e := &entry{
		device: d,
		byID:   make(map[string]*DataItem),
		byName: make(map[string]*DataItem),
	}
	d.eachDataItem(func(di *DataItem) {
		e.byID[di.ID] = di
		if di.Name != "" {
			e.byName[di.Name] = di
		}
	})
	e.doc = renderDevice(d)

	r.entries[d.UUID] = e
	if d.Name != "" {
		r.byName[d.Name] = d.UUID
	}
	r.order = append(r.order, d.UUID)
	return nil
}

// DeviceUUID resolves a device name to its uuid.
func (r *Registry) DeviceUUID(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uuid, ok := r.byName[name]
	return uuid, ok
}

// Resolve accepts either a device name or a uuid and returns the device.
func (r *Registry) Resolve(nameOrUUID string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[nameOrUUID]; ok {
		return e.device, true
	}
	if uuid, ok := r.byName[nameOrUUID]; ok {
		return r.entries[uuid].device, true
	}
	return nil, false
}

// Device returns the device registered under uuid.
func (r *Registry) Device(uuid string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[uuid]
	if !ok {
		return nil, false
	}
	return e.device, true
}

// Devices returns all registered devices in registration order.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.order))
	for _, uuid := range r.order {
		out = append(out, r.entries[uuid].device)
	}
	return out
}

// DataItem resolves a SHDR key (data item name or id) for a device.
func (r *Registry) DataItem(uuid, key string) (*DataItem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[uuid]
	if !ok {
		return nil, false
	}
	if di, ok := e.byName[key]; ok {
		return di, true
	}
	if di, ok := e.byID[key]; ok {
		return di, true
	}
	return nil, false
}

// DataItemByID resolves a data item id for a device.
func (r *Registry) DataItemByID(uuid, id string) (*DataItem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[uuid]
	if !ok {
		return nil, false
	}
	di, ok := e.byID[id]
	return di, ok
}

// DeviceXML returns a copy of the device's rendered XML element, suitable
// for embedding in a probe response.
func (r *Registry) DeviceXML(uuid string) (*etree.Element, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[uuid]
	if !ok || e.doc.Root() == nil {
		return nil, false
	}
	return e.doc.Root().Copy(), true
}

// renderDevice builds the XML element tree for a device. The same tree
// serves probe responses and restricted-XPath evaluation.
func renderDevice(d *Device) *etree.Document {
	doc := etree.NewDocument()
	dev := doc.CreateElement("Device")
	dev.CreateAttr("id", d.ID)
	dev.CreateAttr("uuid", d.UUID)
	dev.CreateAttr("name", d.Name)
	if d.Description != "" {
		dev.CreateElement("Description").SetText(d.Description)
	}
	appendDataItems(dev, d.DataItems)
	appendComponents(dev, d.Components)
	return doc
}

func appendComponents(parent *etree.Element, comps []Component) {
	if len(comps) == 0 {
		return
	}
	wrapper := parent.CreateElement("Components")
	for i := range comps {
		c := &comps[i]
		el := wrapper.CreateElement(c.Type)
		el.CreateAttr("id", c.ID)
		if c.Name != "" {
			el.CreateAttr("name", c.Name)
		}
		appendDataItems(el, c.DataItems)
		appendComponents(el, c.Components)
	}
}

func appendDataItems(parent *etree.Element, items []DataItem) {
	if len(items) == 0 {
		return
	}
	wrapper := parent.CreateElement("DataItems")
	for i := range items {
		di := &items[i]
		el := wrapper.CreateElement("DataItem")
		el.CreateAttr("id", di.ID)
		el.CreateAttr("category", string(di.Category))
		el.CreateAttr("type", di.Type)
		if di.SubType != "" {
			el.CreateAttr("subType", di.SubType)
		}
		if di.Name != "" {
			el.CreateAttr("name", di.Name)
		}
		if di.Units != "" {
			el.CreateAttr("units", di.Units)
		}
		if di.NativeUnits != "" {
			el.CreateAttr("nativeUnits", di.NativeUnits)
		}
	}
}
