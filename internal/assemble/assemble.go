// Package assemble projects the agent's stores into MTConnect document
// trees: MTConnectDevices for probe, MTConnectStreams for current and
// sample, MTConnectAssets for asset retrieval, and MTConnectError.
// Serialization to bytes happens at the transport.
package assemble

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/mtcforge/mtcagent/internal/asset"
	"github.com/mtcforge/mtcagent/internal/schema"
	"github.com/mtcforge/mtcagent/internal/store"
)

// Assembler builds MTConnect documents. It holds the agent identity
// fields every Header carries; it is stateless across requests.
type Assembler struct {
	Registry        *schema.Registry
	Version         string // MTConnect schema version, e.g. "1.3"
	Sender          string
	InstanceID      int64 // agent start time; changes when sequences reset
	BufferSize      int
	AssetBufferSize int

	// now is swappable for tests.
	now func() time.Time
}

// New creates an assembler.
func New(reg *schema.Registry, version, sender string, instanceID int64, bufferSize, assetBufferSize int) *Assembler {
	if version == "" {
		version = "1.3"
	}
	return &Assembler{
		Registry:        reg,
		Version:         version,
		Sender:          sender,
		InstanceID:      instanceID,
		BufferSize:      bufferSize,
		AssetBufferSize: assetBufferSize,
		now:             time.Now,
	}
}

// envelope starts a document with the MTConnect{kind} root element and
// namespace attributes, returning the root.
func (a *Assembler) envelope(kind string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("MTConnect" + kind)
	ns := fmt.Sprintf("urn:mtconnect.org:MTConnect%s:%s", kind, a.Version)
	root.CreateAttr("xmlns", ns)
	root.CreateAttr("xmlns:m", ns)
	root.CreateAttr("xmlns:xsi", "http://www.w3.org/2001/XMLSchema-instance")
	root.CreateAttr("xsi:schemaLocation",
		fmt.Sprintf("%s http://www.mtconnect.org/schemas/MTConnect%s_%s.xsd", ns, kind, a.Version))
	return doc, root
}

// headerOpts carries the per-kind Header extras.
type headerOpts struct {
	firstSequence *uint64
	lastSequence  *uint64
	nextSequence  *uint64
	assetCount    *int
}

func (a *Assembler) header(parent *etree.Element, opts headerOpts) {
	h := parent.CreateElement("Header")
	h.CreateAttr("creationTime", a.now().UTC().Format(time.RFC3339))
	h.CreateAttr("sender", a.Sender)
	h.CreateAttr("instanceId", strconv.FormatInt(a.InstanceID, 10))
	h.CreateAttr("bufferSize", strconv.Itoa(a.BufferSize))
	if opts.assetCount != nil {
		h.CreateAttr("assetBufferSize", strconv.Itoa(a.AssetBufferSize))
		h.CreateAttr("assetCount", strconv.Itoa(*opts.assetCount))
	}
	h.CreateAttr("version", a.Version)
	if opts.firstSequence != nil {
		h.CreateAttr("firstSequence", strconv.FormatUint(*opts.firstSequence, 10))
	}
	if opts.lastSequence != nil {
		h.CreateAttr("lastSequence", strconv.FormatUint(*opts.lastSequence, 10))
	}
	if opts.nextSequence != nil {
		h.CreateAttr("nextSequence", strconv.FormatUint(*opts.nextSequence, 10))
	}
}

// Probe builds MTConnectDevices for the given devices.
func (a *Assembler) Probe(devices []*schema.Device) *etree.Document {
	doc, root := a.envelope("Devices")
	a.header(root, headerOpts{})
	body := root.CreateElement("Devices")
	for _, d := range devices {
		if el, ok := a.Registry.DeviceXML(d.UUID); ok {
			body.AddChild(el)
		}
	}
	return doc
}

// ErrorDoc builds MTConnectError with one Error element per entry.
func (a *Assembler) ErrorDoc(errs ...*AgentError) *etree.Document {
	doc, root := a.envelope("Error")
	a.header(root, headerOpts{})
	body := root.CreateElement("Errors")
	for _, e := range errs {
		el := body.CreateElement("Error")
		el.CreateAttr("errorCode", string(e.Code))
		el.SetText(e.Message)
	}
	return doc
}

// AssetDoc builds MTConnectAssets. Assets of the same type concatenate
// under the shared Assets body.
func (a *Assembler) AssetDoc(assets []*asset.Asset, assetCount int) *etree.Document {
	doc, root := a.envelope("Assets")
	a.header(root, headerOpts{assetCount: &assetCount})
	body := root.CreateElement("Assets")
	for _, as := range assets {
		el := as.Root()
		if el == nil {
			continue
		}
		el.CreateAttr("assetId", as.AssetID)
		el.CreateAttr("deviceUuid", as.DeviceUUID)
		el.CreateAttr("timestamp", formatTime(as.Timestamp))
		if as.Removed {
			el.CreateAttr("removed", "true")
		}
		body.AddChild(el)
	}
	return doc
}

// formatTime renders observation timestamps the way adapters sent them:
// UTC with fractional seconds.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.999999Z07:00")
}

// elementName converts a data item type to its MTConnect element name:
// PATH_FEEDRATE -> PathFeedrate, AVAILABILITY -> Availability.
func elementName(diType string) string {
	parts := strings.Split(strings.ToLower(diType), "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	if b.Len() == 0 {
		return "Unknown"
	}
	return b.String()
}

// conditionElementName maps a condition level to its element name.
func conditionElementName(level string) string {
	switch level {
	case store.LevelFault:
		return "Fault"
	case store.LevelWarning:
		return "Warning"
	case store.LevelUnavailable:
		return "Unavailable"
	default:
		return "Normal"
	}
}
