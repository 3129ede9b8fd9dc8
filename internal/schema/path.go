package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Path filter errors, surfaced by the response assembler as INVALID_XPATH
// and UNSUPPORTED respectively.
var (
	ErrInvalidPath     = errors.New("path does not parse")
	ErrUnsupportedPath = errors.New("path matches no data item")
)

// PathFilter is a compiled, evaluated path expression: the set of data
// item ids it selected across the devices it was compiled against.
type PathFilter struct {
	ids map[string]struct{}
}

// Match reports whether a data item id was selected by the filter. A nil
// filter matches everything.
func (f *PathFilter) Match(dataItemID string) bool {
	if f == nil {
		return true
	}
	_, ok := f.ids[dataItemID]
	return ok
}

// CompilePath evaluates a restricted XPath expression (predicates of form
// //DataItem[@attr="value"], optionally component-qualified) against the
// schema trees of the listed devices. uuids == nil means all devices.
//
// Only DataItem elements count as matches: a path that selects components
// but no data items is ErrUnsupportedPath.
func (r *Registry) CompilePath(expr string, uuids []string) (*PathFilter, error) {
	// etree predicates use single quotes; MTConnect clients send both.
	normalized := strings.ReplaceAll(expr, `"`, `'`)
	path, err := etree.CompilePath(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPath, expr)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if uuids == nil {
		uuids = r.order
	}

	filter := &PathFilter{ids: make(map[string]struct{})}
	for _, uuid := range uuids {
		e, ok := r.entries[uuid]
		if !ok {
			continue
		}
		for _, el := range e.doc.FindElementsPath(path) {
			matchDataItems(el, filter.ids)
		}
	}
	if len(filter.ids) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPath, expr)
	}
	return filter, nil
}

// PathValidation reports whether expr selects at least one data item in
// any of the listed devices.
func (r *Registry) PathValidation(expr string, uuids []string) bool {
	_, err := r.CompilePath(expr, uuids)
	return err == nil
}

// matchDataItems records the id of el when it is a DataItem. Matched
// components contribute nothing: a component path selects no data items
// unless the expression descends into them explicitly.
func matchDataItems(el *etree.Element, ids map[string]struct{}) {
	if el.Tag != "DataItem" {
		return
	}
	if id := el.SelectAttrValue("id", ""); id != "" {
		ids[id] = struct{}{}
	}
}
