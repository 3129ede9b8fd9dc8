// Package store holds the agent's volatile observation state: a bounded
// circular sample buffer with a single monotonic sequence counter shared
// across all devices, plus the latest-value and prior-value maps the
// current/sample queries project from.
//
// All writes go through one writer lock; readers take consistent
// snapshots under a read lock. Public methods lock; *Locked helpers
// assume the lock is held.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mtcforge/mtcagent/internal/schema"
)

// Boundary violations for sample/currentAt queries. The server maps all
// of these to the OUT_OF_RANGE error code.
var (
	ErrFromTooLow   = errors.New("'from' is before the first available sequence")
	ErrFromTooHigh  = errors.New("'from' is past the last sequence")
	ErrCountTooLow  = errors.New("'count' must be greater than or equal to 1")
	ErrCountTooHigh = errors.New("'count' exceeds the buffer size")
	ErrAtOutOfRange = errors.New("'at' is outside the retained sequence range")
	ErrReplayCapped = errors.New("'at' replay exceeds the configured cap")
)

// Condition is the value of one CONDITION observation: the five SHDR
// condition tokens.
type Condition struct {
	Level          string // NORMAL | WARNING | FAULT | UNAVAILABLE
	NativeCode     string
	NativeSeverity string
	Qualifier      string
	Message        string
}

// Condition levels as they appear on the wire.
const (
	LevelNormal      = "NORMAL"
	LevelWarning     = "WARNING"
	LevelFault       = "FAULT"
	LevelUnavailable = "UNAVAILABLE"
)

// Observation is a single ingested value.
type Observation struct {
	Sequence   uint64
	DeviceUUID string
	DataItemID string
	Category   schema.Category
	Timestamp  time.Time
	Value      string // EVENT/SAMPLE scalar; empty for CONDITION
	Condition  *Condition
}

// key identifies a data item across devices.
type key struct {
	uuid string
	id   string
}

// Snapshot is a consistent copy of the latest state, tagged with the
// sequence range it reflects.
type Snapshot struct {
	FirstSequence uint64
	LastSequence  uint64
	// Current holds the latest non-CONDITION observation per data item.
	Current map[DataItemKey]Observation
	// Conditions holds the active condition list per CONDITION data
	// item, in arrival order. An empty (non-nil) list means the item has
	// been observed and is currently Normal.
	Conditions map[DataItemKey][]Observation
	// LastCondition is the most recent condition observation per item,
	// kept so a cleared list can still render a Normal element with the
	// clearing observation's timestamp and sequence.
	LastCondition map[DataItemKey]Observation
}

// DataItemKey is the exported form of the (device uuid, data item id)
// pair snapshots are keyed by.
type DataItemKey struct {
	DeviceUUID string
	DataItemID string
}

// Store is the bounded observation store.
type Store struct {
	mu sync.RWMutex

	// ring is the circular sample buffer. first is the sequence of
	// ring[head]; the newest entry is at (head+size-1)%capacity.
	ring     []Observation
	head     int
	size     int
	capacity int

	// next is the next sequence to allocate. Sequences start at 1 so a
	// zero value is always "never observed".
	next uint64

	current    map[key]Observation
	last       map[key]Observation
	conditions map[key][]Observation
	lastCond   map[key]Observation

	// maxReplay caps how many buffer entries a CurrentAt replay may
	// touch. 0 means the buffer capacity.
	maxReplay int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxReplay caps CurrentAt replay length.
func WithMaxReplay(n int) Option {
	return func(s *Store) { s.maxReplay = n }
}

// New creates a store with the given sample buffer capacity.
func New(capacity int, opts ...Option) *Store {
	if capacity < 1 {
		capacity = 1
	}
	s := &Store{
		ring:       make([]Observation, capacity),
		capacity:   capacity,
		next:       1,
		current:    make(map[key]Observation),
		last:       make(map[key]Observation),
		conditions: make(map[key][]Observation),
		lastCond:   make(map[key]Observation),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxReplay <= 0 {
		s.maxReplay = capacity
	}
	return s
}

// Capacity returns the fixed sample buffer capacity.
func (s *Store) Capacity() int { return s.capacity }

// Range returns (firstSequence, lastSequence, nextSequence) as one
// consistent read. lastSequence is 0 when nothing has been stored.
func (s *Store) Range() (first, last, next uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rangeLocked()
}

func (s *Store) rangeLocked() (first, last, next uint64) {
	next = s.next
	if s.size == 0 {
		return next, 0, next
	}
	last = next - 1
	first = last - uint64(s.size) + 1
	return first, last, next
}

// Ingest applies one observation. It returns the allocated sequence and
// whether the observation was stored; a suppressed duplicate returns
// (0, false) and consumes no sequence.
//
// Duplicate suppression applies to EVENT/SAMPLE only: an incoming value
// equal to the current value is dropped, and does not advance the
// prior-value map.
func (s *Store) Ingest(obs Observation) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{uuid: obs.DeviceUUID, id: obs.DataItemID}

	if obs.Category != schema.CategoryCondition {
		if cur, ok := s.current[k]; ok && cur.Value == obs.Value {
			return 0, false
		}
	}

	obs.Sequence = s.next
	s.next++
	s.appendLocked(obs)

	if obs.Category == schema.CategoryCondition {
		s.applyConditionLocked(k, obs)
	} else {
		if cur, ok := s.current[k]; ok {
			s.last[k] = cur
		}
		s.current[k] = obs
	}
	return obs.Sequence, true
}

// appendLocked adds one observation to the ring, evicting the oldest
// entry when full.
func (s *Store) appendLocked(obs Observation) {
	if s.size < s.capacity {
		s.ring[(s.head+s.size)%s.capacity] = obs
		s.size++
		return
	}
	s.ring[s.head] = obs
	s.head = (s.head + 1) % s.capacity
}

// applyConditionLocked implements the two-tier clear rule:
//   - NORMAL with empty nativeCode clears the whole active list;
//   - NORMAL with a code removes just that entry;
//   - WARNING/FAULT/UNAVAILABLE upsert by nativeCode.
func (s *Store) applyConditionLocked(k key, obs Observation) {
	cond := obs.Condition
	active := s.conditions[k]
	s.lastCond[k] = obs

	switch {
	case cond.Level == LevelNormal && cond.NativeCode == "":
		s.conditions[k] = []Observation{}
	case cond.Level == LevelNormal:
		s.conditions[k] = removeByCode(active, cond.NativeCode)
	default:
		s.conditions[k] = upsertByCode(active, obs)
	}
}

func removeByCode(list []Observation, code string) []Observation {
	out := make([]Observation, 0, len(list))
	for _, o := range list {
		if o.Condition.NativeCode != code {
			out = append(out, o)
		}
	}
	return out
}

func upsertByCode(list []Observation, obs Observation) []Observation {
	for i, o := range list {
		if o.Condition.NativeCode == obs.Condition.NativeCode {
			list[i] = obs
			return list
		}
	}
	return append(list, obs)
}

// Current returns a snapshot of the latest state.
func (s *Store) Current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	first, last, _ := s.rangeLocked()
	snap := &Snapshot{
		FirstSequence: first,
		LastSequence:  last,
		Current:       make(map[DataItemKey]Observation, len(s.current)),
		Conditions:    make(map[DataItemKey][]Observation, len(s.conditions)),
		LastCondition: make(map[DataItemKey]Observation, len(s.lastCond)),
	}
	for k, o := range s.current {
		snap.Current[DataItemKey{k.uuid, k.id}] = o
	}
	for k, list := range s.conditions {
		cp := make([]Observation, len(list))
		copy(cp, list)
		snap.Conditions[DataItemKey{k.uuid, k.id}] = cp
	}
	for k, o := range s.lastCond {
		snap.LastCondition[DataItemKey{k.uuid, k.id}] = o
	}
	return snap
}

// CurrentAt reconstructs the state as of sequence seq by replaying the
// buffer from its oldest retained entry. seq must lie inside
// [firstSequence, lastSequence], and the replay length is capped.
func (s *Store) CurrentAt(seq uint64) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	first, last, _ := s.rangeLocked()
	if s.size == 0 || seq < first || seq > last {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrAtOutOfRange, seq, first, last)
	}
	steps := seq - first + 1
	if steps > uint64(s.maxReplay) {
		return nil, fmt.Errorf("%w: %d entries (cap %d)", ErrReplayCapped, steps, s.maxReplay)
	}

	snap := &Snapshot{
		FirstSequence: first,
		LastSequence:  seq,
		Current:       make(map[DataItemKey]Observation),
		Conditions:    make(map[DataItemKey][]Observation),
		LastCondition: make(map[DataItemKey]Observation),
	}
	for i := uint64(0); i < steps; i++ {
		obs := s.ring[(s.head+int(i))%s.capacity]
		k := DataItemKey{obs.DeviceUUID, obs.DataItemID}
		if obs.Category == schema.CategoryCondition {
			snap.Conditions[k] = replayCondition(snap.Conditions[k], obs)
			snap.LastCondition[k] = obs
		} else {
			snap.Current[k] = obs
		}
	}
	return snap, nil
}

// replayCondition applies the condition rules on a snapshot list during
// replay. Same two-tier clear as the live path.
func replayCondition(list []Observation, obs Observation) []Observation {
	cond := obs.Condition
	switch {
	case cond.Level == LevelNormal && cond.NativeCode == "":
		return []Observation{}
	case cond.Level == LevelNormal:
		return removeByCode(list, cond.NativeCode)
	default:
		return upsertByCode(list, obs)
	}
}

// Sample returns up to count observations starting at sequence from, in
// buffer order, together with the nextSequence a follow-up request
// should use.
func (s *Store) Sample(from uint64, count int) ([]Observation, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	first, last, next := s.rangeLocked()
	if count < 1 {
		return nil, 0, fmt.Errorf("%w: got %d", ErrCountTooLow, count)
	}
	if count > s.capacity {
		return nil, 0, fmt.Errorf("%w: %d > %d", ErrCountTooHigh, count, s.capacity)
	}
	if from < first {
		return nil, 0, fmt.Errorf("%w: %d < %d", ErrFromTooLow, from, first)
	}
	if s.size == 0 || from > last {
		return nil, 0, fmt.Errorf("%w: %d > %d", ErrFromTooHigh, from, last)
	}

	end := from + uint64(count) - 1
	if end > last {
		end = last
	}
	out := make([]Observation, 0, end-from+1)
	for seq := from; seq <= end; seq++ {
		out = append(out, s.ring[(s.head+int(seq-first))%s.capacity])
	}

	resultNext := from + uint64(count)
	if resultNext > next {
		resultNext = next
	}
	return out, resultNext, nil
}

// ObservedConditions reports whether a data item currently has an empty
// but previously-observed condition list. Used by current responses to
// distinguish "Normal" from "never reported".
func (s *Snapshot) ObservedConditions(k DataItemKey) ([]Observation, bool) {
	list, ok := s.Conditions[k]
	return list, ok
}
