// Package schema holds the per-device data model the agent is configured
// with: the component tree, its data items, and the read-mostly lookup
// index the ingest and response paths resolve names against.
//
// Devices are registered once at startup. After registration the tree is
// immutable; all reads are lock-free copies or guarded by a read lock.
package schema

import "strings"

// Category classifies a data item per the MTConnect information model.
type Category string

const (
	CategoryEvent     Category = "EVENT"
	CategorySample    Category = "SAMPLE"
	CategoryCondition Category = "CONDITION"
)

// ParseCategory normalizes a category attribute value. Unknown values
// return false.
func ParseCategory(s string) (Category, bool) {
	switch Category(strings.ToUpper(strings.TrimSpace(s))) {
	case CategoryEvent:
		return CategoryEvent, true
	case CategorySample:
		return CategorySample, true
	case CategoryCondition:
		return CategoryCondition, true
	}
	return "", false
}

// DataItem describes one named signal on a machine. ID is unique within a
// device; Name is optional but unique within a device when present.
type DataItem struct {
	ID          string
	Name        string
	Type        string
	SubType     string
	Category    Category
	Units       string
	NativeUnits string
}

// Component is an internal node of the device tree (Axes, Controller,
// Systems, ...). A component owns data items and/or child components.
type Component struct {
	ID         string
	Name       string
	Type       string
	DataItems  []DataItem
	Components []Component
}

// Device is the root of one machine's schema tree.
type Device struct {
	ID          string
	UUID        string
	Name        string
	Description string
	DataItems   []DataItem
	Components  []Component
}

// ComponentGroup is one step of a device walk: a component together with
// the data items it owns directly. Device-level data items are reported
// under a group whose Type is "Device".
type ComponentGroup struct {
	ComponentType string
	ComponentName string
	ComponentID   string
	DataItems     []DataItem
}

// Walk flattens the device tree depth-first. Components without data
// items of their own are skipped; their descendants are still visited.
func (d *Device) Walk() []ComponentGroup {
	var groups []ComponentGroup
	if len(d.DataItems) > 0 {
		groups = append(groups, ComponentGroup{
			ComponentType: "Device",
			ComponentName: d.Name,
			ComponentID:   d.ID,
			DataItems:     d.DataItems,
		})
	}
	var visit func(c *Component)
	visit = func(c *Component) {
		if len(c.DataItems) > 0 {
			groups = append(groups, ComponentGroup{
				ComponentType: c.Type,
				ComponentName: c.Name,
				ComponentID:   c.ID,
				DataItems:     c.DataItems,
			})
		}
		for i := range c.Components {
			visit(&c.Components[i])
		}
	}
	for i := range d.Components {
		visit(&d.Components[i])
	}
	return groups
}

// eachDataItem invokes fn for every data item in the device tree.
func (d *Device) eachDataItem(fn func(di *DataItem)) {
	for i := range d.DataItems {
		fn(&d.DataItems[i])
	}
	var visit func(c *Component)
	visit = func(c *Component) {
		for i := range c.DataItems {
			fn(&c.DataItems[i])
		}
		for i := range c.Components {
			visit(&c.Components[i])
		}
	}
	for i := range d.Components {
		visit(&d.Components[i])
	}
}
