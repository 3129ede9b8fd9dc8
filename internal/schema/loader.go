package schema

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// LoadDevicesFile parses an MTConnect Devices document from disk into the
// schema model. It returns the devices in document order and the schema
// version carried by the document's namespace (empty if absent).
func LoadDevicesFile(path string) ([]*Device, string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, "", fmt.Errorf("read devices file %s: %w", path, err)
	}
	return parseDevicesDoc(doc)
}

// ParseDevices parses an MTConnect Devices document from a string.
func ParseDevices(xml string) ([]*Device, string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return nil, "", fmt.Errorf("parse devices document: %w", err)
	}
	return parseDevicesDoc(doc)
}

func parseDevicesDoc(doc *etree.Document) ([]*Device, string, error) {
	root := doc.Root()
	if root == nil {
		return nil, "", fmt.Errorf("devices document has no root element")
	}

	version := namespaceVersion(root.SelectAttrValue("xmlns", ""))

	// Accept either a full MTConnectDevices envelope or a bare Devices
	// element (common in test fixtures).
	devicesEl := root
	if root.Tag == "MTConnectDevices" {
		devicesEl = root.SelectElement("Devices")
		if devicesEl == nil {
			return nil, "", fmt.Errorf("devices document has no Devices element")
		}
	}

	var devices []*Device
	for _, el := range devicesEl.SelectElements("Device") {
		d, err := parseDevice(el)
		if err != nil {
			return nil, "", err
		}
		devices = append(devices, d)
	}
	if len(devices) == 0 {
		return nil, "", fmt.Errorf("devices document defines no devices")
	}
	return devices, version, nil
}

// namespaceVersion extracts "1.3" from
// "urn:mtconnect.org:MTConnectDevices:1.3".
func namespaceVersion(ns string) string {
	idx := strings.LastIndex(ns, ":")
	if idx < 0 || !strings.HasPrefix(ns, "urn:mtconnect.org:") {
		return ""
	}
	return ns[idx+1:]
}

func parseDevice(el *etree.Element) (*Device, error) {
	d := &Device{
		ID:   el.SelectAttrValue("id", ""),
		UUID: el.SelectAttrValue("uuid", ""),
		Name: el.SelectAttrValue("name", ""),
	}
	if d.UUID == "" {
		return nil, fmt.Errorf("device %q has no uuid attribute", d.Name)
	}
	if desc := el.SelectElement("Description"); desc != nil {
		d.Description = strings.TrimSpace(desc.Text())
	}
	var err error
	if d.DataItems, err = parseDataItems(el, d.Name); err != nil {
		return nil, err
	}
	if d.Components, err = parseComponents(el, d.Name); err != nil {
		return nil, err
	}
	return d, nil
}

func parseComponents(parent *etree.Element, deviceName string) ([]Component, error) {
	wrapper := parent.SelectElement("Components")
	if wrapper == nil {
		return nil, nil
	}
	var comps []Component
	for _, el := range wrapper.ChildElements() {
		c := Component{
			ID:   el.SelectAttrValue("id", ""),
			Name: el.SelectAttrValue("name", ""),
			Type: el.Tag,
		}
		var err error
		if c.DataItems, err = parseDataItems(el, deviceName); err != nil {
			return nil, err
		}
		if c.Components, err = parseComponents(el, deviceName); err != nil {
			return nil, err
		}
		comps = append(comps, c)
	}
	return comps, nil
}

func parseDataItems(parent *etree.Element, deviceName string) ([]DataItem, error) {
	wrapper := parent.SelectElement("DataItems")
	if wrapper == nil {
		return nil, nil
	}
	var items []DataItem
	for _, el := range wrapper.SelectElements("DataItem") {
		id := el.SelectAttrValue("id", "")
		if id == "" {
			return nil, fmt.Errorf("device %q: DataItem without id", deviceName)
		}
		cat, ok := ParseCategory(el.SelectAttrValue("category", ""))
		if !ok {
			return nil, fmt.Errorf("device %q: DataItem %s has invalid category %q",
				deviceName, id, el.SelectAttrValue("category", ""))
		}
		items = append(items, DataItem{
			ID:          id,
			Name:        el.SelectAttrValue("name", ""),
			Type:        el.SelectAttrValue("type", ""),
			SubType:     el.SelectAttrValue("subType", ""),
			Category:    cat,
			Units:       el.SelectAttrValue("units", ""),
			NativeUnits: el.SelectAttrValue("nativeUnits", ""),
		})
	}
	return items, nil
}
