// ABOUTME: Cross-file finding navigation over the findings store.
// ABOUTME: Stateless next/prev traversal with wrap-around and an optional rule filter.

package navigate

import (
	"sync"

	"github.com/malpack/malscan/internal/store"
	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

// Direction of a navigation step
type Direction string

const (
	Next Direction = "next"
	Prev Direction = "prev"
)

// Location is a navigation target: one finding in one file
type Location struct {
	File    string        `json:"file"`
	Finding types.Finding `json:"finding"`
}

// Navigator steps through a package's findings as one ordered sequence
// spanning file boundaries. Apart from the active package and rule filter it
// holds no state: each move is computed from the store snapshot and the
// caller's current position.
type Navigator struct {
	store  *store.FindingsStore
	logger *logrus.Logger

	mutex      sync.RWMutex
	pkg        string
	ruleFilter string
}

// NewNavigator creates a navigator reading from the given findings store
func NewNavigator(findings *store.FindingsStore, logger *logrus.Logger) *Navigator {
	return &Navigator{
		store:  findings,
		logger: logger,
	}
}

// SetPackage selects the package whose findings are traversed
func (n *Navigator) SetPackage(pkg string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.pkg = pkg
}

// ActivePackage returns the currently selected package
func (n *Navigator) ActivePackage() string {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return n.pkg
}

// SetRuleFilter restricts traversal to one rule id. An empty id clears the
// filter ("show all in code").
func (n *Navigator) SetRuleFilter(ruleID string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.ruleFilter = ruleID
}

// RuleFilter returns the active rule filter, empty if none
func (n *Navigator) RuleFilter() string {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return n.ruleFilter
}

// Advance moves one step from the caller's position and returns the target
// location. The flattened finding list is logically circular: stepping past
// either end wraps around. Returns false if the package has no findings
// under the active filter.
func (n *Navigator) Advance(direction Direction, currentFile string, currentLine int) (*Location, bool) {
	n.mutex.RLock()
	pkg, ruleFilter := n.pkg, n.ruleFilter
	n.mutex.RUnlock()

	flattened := n.flatten(pkg, ruleFilter)
	if len(flattened) == 0 {
		return nil, false
	}

	// Exact position: the cursor sits on a finding, step from its index
	for i, loc := range flattened {
		if loc.File == currentFile && loc.Finding.Line == currentLine {
			step := 1
			if direction == Prev {
				step = -1
			}
			target := flattened[(i+step+len(flattened))%len(flattened)]
			return &target, true
		}
	}

	// Free browsing: the cursor is between findings
	if direction == Next {
		for _, loc := range flattened {
			if loc.File > currentFile || (loc.File == currentFile && loc.Finding.Line > currentLine) {
				target := loc
				return &target, true
			}
		}
		target := flattened[0]
		return &target, true
	}

	for i := len(flattened) - 1; i >= 0; i-- {
		loc := flattened[i]
		if loc.File < currentFile || (loc.File == currentFile && loc.Finding.Line < currentLine) {
			target := loc
			return &target, true
		}
	}
	target := flattened[len(flattened)-1]
	return &target, true
}

// First returns the first location in traversal order, used by "open first
// finding" flows
func (n *Navigator) First() (*Location, bool) {
	n.mutex.RLock()
	pkg, ruleFilter := n.pkg, n.ruleFilter
	n.mutex.RUnlock()

	flattened := n.flatten(pkg, ruleFilter)
	if len(flattened) == 0 {
		return nil, false
	}
	return &flattened[0], true
}

// flatten builds the ordered (file, finding) list: files in lexicographic
// order, findings in (line, column) order within each file
func (n *Navigator) flatten(pkg, ruleFilter string) []Location {
	var flattened []Location
	for _, file := range n.store.Files(pkg) {
		for _, finding := range n.store.Findings(pkg, file, ruleFilter) {
			flattened = append(flattened, Location{File: file, Finding: finding})
		}
	}
	return flattened
}
