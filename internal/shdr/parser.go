// Package shdr parses the pipe-delimited SHDR line protocol that machine
// adapters speak: one timestamp followed by key/value pairs, where the
// number of value tokens a key consumes depends on the data item's
// category, plus @-prefixed asset commands.
package shdr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mtcforge/mtcagent/internal/schema"
)

// conditionArity is the token count a CONDITION key consumes:
// level, nativeCode, nativeSeverity, qualifier, message.
const conditionArity = 5

// Asset command keys embedded in the SHDR stream.
const (
	CmdAsset       = "@ASSET@"
	CmdUpdateAsset = "@UPDATE_ASSET@"
	CmdRemoveAsset = "@REMOVE_ASSET@"
)

// Line parse failures. These never cross the ingest boundary as panics;
// callers log and drop.
var (
	ErrBadTimestamp = errors.New("malformed timestamp")
	ErrTruncated    = errors.New("line truncated")
	ErrEmptyLine    = errors.New("empty line")
)

// Item is one parsed (key, values) tuple. Values has length 1 for
// EVENT/SAMPLE keys and 5 for CONDITION keys.
type Item struct {
	Key      string
	Category schema.Category
	Values   []string
}

// AssetCommandKind discriminates the asset commands.
type AssetCommandKind int

const (
	AssetAdd AssetCommandKind = iota
	AssetUpdate
	AssetRemove
)

// AssetCommand is one parsed @ASSET@ / @UPDATE_ASSET@ / @REMOVE_ASSET@.
type AssetCommand struct {
	Kind      AssetCommandKind
	AssetID   string
	AssetType string   // AssetAdd only
	XML       string   // AssetAdd only: raw remainder of the line
	Patch     []string // AssetUpdate only: alternating key, value
}

// Line is the parsed form of one SHDR line.
type Line struct {
	Timestamp time.Time
	Items     []Item
	Commands  []AssetCommand
	// SkippedKeys are keys the device schema does not know; they were
	// dropped (consuming one value token each) without failing the line.
	SkippedKeys []string
}

// timestampLayouts are the accepted SHDR timestamp shapes. Adapters in
// the field emit microsecond or millisecond fractions, with or without
// the trailing Z.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses an SHDR timestamp. Bare timestamps without a
// zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
}

// IsProtocolLine reports whether a raw line is an adapter protocol
// message ("* PONG 10000" and friends) rather than data.
func IsProtocolLine(raw string) bool {
	return strings.HasPrefix(raw, "* ")
}

// Resolver supplies data item categories for key arity decisions.
// *schema.Registry satisfies it.
type Resolver interface {
	DataItem(uuid, key string) (*schema.DataItem, bool)
}

// Parse parses one SHDR line for the device identified by uuid.
//
// Unknown keys are skipped (recorded in SkippedKeys); a malformed
// timestamp or a CONDITION key with fewer than 5 remaining tokens fails
// the whole line.
func Parse(raw, uuid string, resolver Resolver) (*Line, error) {
	raw = strings.TrimRight(raw, "\r\n")
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyLine
	}

	fields := strings.Split(raw, "|")
	ts, err := ParseTimestamp(strings.TrimSpace(fields[0]))
	if err != nil {
		return nil, err
	}

	line := &Line{Timestamp: ts}
	i := 1
	for i < len(fields) {
		key := strings.TrimSpace(fields[i])
		if key == "" && i == len(fields)-1 {
			break // trailing separator
		}

		switch key {
		case CmdAsset:
			// @ASSET@|id|type|<xml...> — the XML blob is the raw rest of
			// the line and may itself contain pipes.
			if len(fields) < i+4 {
				return nil, fmt.Errorf("%w: %s needs id, type, and body", ErrTruncated, CmdAsset)
			}
			line.Commands = append(line.Commands, AssetCommand{
				Kind:      AssetAdd,
				AssetID:   strings.TrimSpace(fields[i+1]),
				AssetType: strings.TrimSpace(fields[i+2]),
				XML:       strings.Join(fields[i+3:], "|"),
			})
			i = len(fields)
		case CmdUpdateAsset:
			if len(fields) < i+4 || (len(fields)-i-2)%2 != 0 {
				return nil, fmt.Errorf("%w: %s needs id and key/value pairs", ErrTruncated, CmdUpdateAsset)
			}
			line.Commands = append(line.Commands, AssetCommand{
				Kind:    AssetUpdate,
				AssetID: strings.TrimSpace(fields[i+1]),
				Patch:   fields[i+2:],
			})
			i = len(fields)
		case CmdRemoveAsset:
			if len(fields) < i+2 {
				return nil, fmt.Errorf("%w: %s needs an id", ErrTruncated, CmdRemoveAsset)
			}
			line.Commands = append(line.Commands, AssetCommand{
				Kind:    AssetRemove,
				AssetID: strings.TrimSpace(fields[i+1]),
			})
			i += 2
		default:
			consumed, err := parseItem(line, fields, i, key, uuid, resolver)
			if err != nil {
				return nil, err
			}
			i += consumed
		}
	}
	return line, nil
}

// parseItem consumes one key and its category-determined value tokens.
// Returns the number of fields consumed (key included).
func parseItem(line *Line, fields []string, i int, key, uuid string, resolver Resolver) (int, error) {
	di, known := resolver.DataItem(uuid, key)
	if !known {
		line.SkippedKeys = append(line.SkippedKeys, key)
		if i+1 < len(fields) {
			return 2, nil // skip key and its single value
		}
		return 1, nil
	}

	arity := 1
	if di.Category == schema.CategoryCondition {
		arity = conditionArity
	}
	if len(fields) < i+1+arity {
		return 0, fmt.Errorf("%w: key %q needs %d value tokens", ErrTruncated, key, arity)
	}

	values := make([]string, arity)
	copy(values, fields[i+1:i+1+arity])
	line.Items = append(line.Items, Item{
		Key:      key,
		Category: di.Category,
		Values:   values,
	})
	return 1 + arity, nil
}
