// Package asset maintains the agent's asset state: a bounded FIFO buffer
// of asset revisions plus the current asset per id. Assets arrive inline
// in the SHDR stream as @ASSET@ / @UPDATE_ASSET@ / @REMOVE_ASSET@
// commands carrying XML bodies.
//
// Removal is a tombstone: the asset stays in the current map with
// Removed set until buffer eviction, so clients can observe the removal.
package asset

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/etree"
)

// DefaultBufferSize matches the MTConnect reference agent default.
const DefaultBufferSize = 1024

var (
	// ErrUnknownAsset is returned for updates/removals of ids the store
	// has never seen.
	ErrUnknownAsset = errors.New("unknown asset id")
	// ErrBadXML is returned when an @ASSET@ body does not parse.
	ErrBadXML = errors.New("asset XML does not parse")
)

// Asset is one revision of an asset.
type Asset struct {
	AssetID    string
	AssetType  string
	DeviceUUID string
	Timestamp  time.Time
	Removed    bool
	// root is the structured asset body. Each buffered revision owns its
	// own copy; mutating updates never alias older revisions.
	root *etree.Element
}

// XML renders the asset body.
func (a *Asset) XML() string {
	if a.root == nil {
		return ""
	}
	doc := etree.NewDocument()
	doc.SetRoot(a.root.Copy())
	out, err := doc.WriteToString()
	if err != nil {
		return ""
	}
	return out
}

// Root returns a copy of the asset's element tree.
func (a *Asset) Root() *etree.Element {
	if a.root == nil {
		return nil
	}
	return a.root.Copy()
}

// Element returns the text of the innermost element named name, for
// inspection in tests and update verification.
func (a *Asset) Element(name string) (string, bool) {
	el := innermost(a.root, name)
	if el == nil {
		return "", false
	}
	return el.Text(), true
}

func (a *Asset) clone() *Asset {
	cp := *a
	if a.root != nil {
		cp.root = a.root.Copy()
	}
	return &cp
}

// Store is the bounded asset store.
type Store struct {
	mu       sync.RWMutex
	buffer   []*Asset // FIFO, oldest first
	capacity int
	current  map[string]*Asset
}

// NewStore creates an asset store with the given buffer capacity.
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = DefaultBufferSize
	}
	return &Store{
		capacity: capacity,
		current:  make(map[string]*Asset),
	}
}

// BufferSize returns the fixed buffer capacity.
func (s *Store) BufferSize() int { return s.capacity }

// Add handles @ASSET@: parse the XML body, upsert the current asset, and
// append a revision to the buffer.
func (s *Store) Add(deviceUUID, assetID, assetType, xml string, ts time.Time) (*Asset, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil || doc.Root() == nil {
		return nil, fmt.Errorf("%w: asset %s", ErrBadXML, assetID)
	}

	a := &Asset{
		AssetID:    assetID,
		AssetType:  assetType,
		DeviceUUID: deviceUUID,
		Timestamp:  ts,
		root:       doc.Root(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[assetID] = a
	s.appendLocked(a.clone())
	return a, nil
}

// Update handles @UPDATE_ASSET@: patch the innermost element named by
// each key to the paired value, bump the timestamp, and append the
// mutated state as a new buffer revision. pairs is alternating key,
// value. A name with no matching element creates a new child under the
// asset root.
func (s *Store) Update(assetID string, pairs []string, ts time.Time) (*Asset, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("asset %s: odd patch list", assetID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.current[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		el := innermost(a.root, pairs[i])
		if el == nil {
			el = a.root.CreateElement(pairs[i])
		}
		el.SetText(pairs[i+1])
	}
	a.Timestamp = ts
	s.appendLocked(a.clone())
	return a, nil
}

// Remove handles @REMOVE_ASSET@: tombstone the current asset and append
// one removal revision. Removing an already-removed asset is idempotent
// and adds no further revisions.
func (s *Store) Remove(assetID string, ts time.Time) (*Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.current[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	if a.Removed {
		return a, nil
	}
	a.Removed = true
	a.Timestamp = ts
	s.appendLocked(a.clone())
	return a, nil
}

// appendLocked pushes a revision, evicting the oldest when full. When an
// evicted revision is the last trace of a removed asset, the tombstone
// leaves the current map with it.
func (s *Store) appendLocked(a *Asset) {
	if len(s.buffer) == s.capacity {
		evicted := s.buffer[0]
		s.buffer = s.buffer[1:]
		if cur, ok := s.current[evicted.AssetID]; ok && cur.Removed && !s.bufferedLocked(evicted.AssetID) {
			delete(s.current, evicted.AssetID)
		}
	}
	s.buffer = append(s.buffer, a)
}

func (s *Store) bufferedLocked(assetID string) bool {
	for _, a := range s.buffer {
		if a.AssetID == assetID {
			return true
		}
	}
	return false
}

// Get returns the current revision of an asset.
func (s *Store) Get(assetID string) (*Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.current[assetID]
	if !ok {
		return nil, false
	}
	return a.clone(), true
}

// All returns current assets, newest timestamp first, optionally
// filtered by asset type and truncated to count (count <= 0 means all).
// Removed assets are excluded.
func (s *Store) All(assetType string, count int) []*Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Asset, 0, len(s.current))
	for _, a := range s.current {
		if a.Removed {
			continue
		}
		if assetType != "" && a.AssetType != assetType {
			continue
		}
		out = append(out, a.clone())
	}
	sortByTimestampDesc(out)
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out
}

// Count returns the number of current, non-removed assets.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.current {
		if !a.Removed {
			n++
		}
	}
	return n
}

// Revisions returns the number of buffered revisions. Used by tests.
func (s *Store) Revisions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffer)
}

func sortByTimestampDesc(assets []*Asset) {
	for i := 1; i < len(assets); i++ {
		for j := i; j > 0 && assets[j].Timestamp.After(assets[j-1].Timestamp); j-- {
			assets[j], assets[j-1] = assets[j-1], assets[j]
		}
	}
}

// innermost finds the deepest element named name under root (root
// included). Depth-first, deepest match wins; ties resolve to the last
// in document order.
func innermost(root *etree.Element, name string) *etree.Element {
	if root == nil {
		return nil
	}
	var best *etree.Element
	bestDepth := -1
	var visit func(el *etree.Element, depth int)
	visit = func(el *etree.Element, depth int) {
		if el.Tag == name && depth >= bestDepth {
			best = el
			bestDepth = depth
		}
		for _, child := range el.ChildElements() {
			visit(child, depth+1)
		}
	}
	visit(root, 0)
	return best
}
