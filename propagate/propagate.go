// Package propagate expands classified declaration changes into the set of
// units that must be recompiled.
package propagate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/LegacyCodeHQ/mpptrack/classify"
	"github.com/LegacyCodeHQ/mpptrack/declindex"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// Reason records why a unit was dirtied.
type Reason string

const (
	// ReasonChanged: the unit owns a changed declaration.
	ReasonChanged Reason = "changed"
	// ReasonExpectChanged: an expected declaration the unit implements or
	// must implement changed.
	ReasonExpectChanged Reason = "expect-changed"
	// ReasonActualMismatch: an actual edit broke the link to this unit's
	// expected declaration.
	ReasonActualMismatch Reason = "actual-mismatch"
	// ReasonExpectAdded: a new expected declaration needs an actual here.
	ReasonExpectAdded Reason = "expect-added"
	// ReasonUpstream: a dependency's interface changed.
	ReasonUpstream Reason = "upstream"
	// ReasonRetry: the unit failed or was skipped and is attempted again.
	ReasonRetry Reason = "retry"
	// ReasonUnbuilt: the unit has never compiled successfully.
	ReasonUnbuilt Reason = "unbuilt"
)

// DirtyUnit is a unit selected for recompilation.
type DirtyUnit struct {
	Unit    unitgraph.UnitID
	Reasons []string
	// Keys are the signature keys that caused the unit to be dirtied.
	Keys []declindex.SignatureKey
}

// DirtySet is the ordered result of one propagation pass.
type DirtySet struct {
	Units []DirtyUnit
}

// IDs returns the dirty unit ids in order.
func (s *DirtySet) IDs() []unitgraph.UnitID {
	ids := make([]unitgraph.UnitID, 0, len(s.Units))
	for _, u := range s.Units {
		ids = append(ids, u.Unit)
	}
	return ids
}

// Contains reports whether unit is dirty.
func (s *DirtySet) Contains(unit unitgraph.UnitID) bool {
	for _, u := range s.Units {
		if u.Unit == unit {
			return true
		}
	}
	return false
}

// Len returns the number of dirty units.
func (s *DirtySet) Len() int {
	return len(s.Units)
}

// Input is everything one propagation pass reads.
type Input struct {
	Changes []classify.Change
	// Prior is the linkage of the committed snapshot.
	Prior declindex.LinkResult
	// Current is the linkage after the changes were recorded.
	Current declindex.LinkResult
	// Retry lists units dirtied without fan-out: earlier failures being
	// attempted again and units with syntax errors.
	Retry []unitgraph.UnitID
	// Unbuilt lists units without a committed fingerprint. They are dirtied
	// without fan-out.
	Unbuilt []unitgraph.UnitID
	// Reported holds the keys each unit's last failed attempt reported as
	// linkage problems. The owner of the expected declaration already
	// rebuilt against such a mismatch and is not dirtied for it again.
	Reported map[unitgraph.UnitID][]declindex.SignatureKey
}

func (in Input) reported(unit unitgraph.UnitID, key declindex.SignatureKey) bool {
	for _, k := range in.Reported[unit] {
		if k == key {
			return true
		}
	}
	return false
}

type collector struct {
	reasons map[unitgraph.UnitID]map[string]bool
	keys    map[unitgraph.UnitID]map[declindex.SignatureKey]bool
}

func (c *collector) add(unit unitgraph.UnitID, reason string, key *declindex.SignatureKey) {
	if c.reasons[unit] == nil {
		c.reasons[unit] = make(map[string]bool)
		c.keys[unit] = make(map[declindex.SignatureKey]bool)
	}
	c.reasons[unit][reason] = true
	if key != nil {
		c.keys[unit][*key] = true
	}
}

// Propagate computes the dirty set for in over the unit graph g.
//
// Owners of changes are always dirty. Expect/actual linkage pulls in the
// units that must revalidate the link, and every owner whose non-private
// interface changed fans out to all of its transitive dependents. Units
// added only for revalidation do not fan out. The result is in topological
// order and depends only on in, never on map iteration order.
func Propagate(g *unitgraph.Graph, in Input) *DirtySet {
	c := &collector{
		reasons: make(map[unitgraph.UnitID]map[string]bool),
		keys:    make(map[unitgraph.UnitID]map[declindex.SignatureKey]bool),
	}
	fanOut := make(map[unitgraph.UnitID]bool)

	for _, change := range in.Changes {
		key := change.Key
		c.add(change.Unit, string(ReasonChanged), &key)

		if change.Kind.ChangesInterface() && !change.Private {
			fanOut[change.Unit] = true
		}

		wasExpected := change.PriorMode == declindex.Expected && change.Kind != classify.Added
		isExpected := change.Mode == declindex.Expected
		wasActual := change.PriorMode == declindex.Actual && change.Kind != classify.Added

		switch change.Kind {
		case classify.SignatureChanged, classify.Removed:
			if wasExpected {
				expectChanged(c, in, change)
			}
			if wasActual {
				actualChanged(c, in, change)
			}
			if isExpected && !wasExpected {
				expectAdded(c, g, change)
			}
		case classify.Added:
			if isExpected {
				expectAdded(c, g, change)
			}
		case classify.BodyChanged:
			// Owner only.
		}
	}

	for _, unit := range in.Retry {
		c.add(unit, string(ReasonRetry), nil)
	}
	for _, unit := range in.Unbuilt {
		c.add(unit, string(ReasonUnbuilt), nil)
	}

	fanOutUnits := make([]unitgraph.UnitID, 0, len(fanOut))
	for unit := range fanOut {
		fanOutUnits = append(fanOutUnits, unit)
	}
	unitgraph.SortIDs(fanOutUnits)
	for _, unit := range fanOutUnits {
		for _, dependent := range g.DependentsOf(unit) {
			c.add(dependent, fmt.Sprintf("%s(%s)", ReasonUpstream, unit), nil)
		}
	}

	set := &DirtySet{}
	for _, unit := range g.TopologicalOrder() {
		reasons, ok := c.reasons[unit]
		if !ok {
			continue
		}
		dirty := DirtyUnit{Unit: unit}
		for reason := range reasons {
			dirty.Reasons = append(dirty.Reasons, reason)
		}
		sort.Strings(dirty.Reasons)
		for key := range c.keys[unit] {
			dirty.Keys = append(dirty.Keys, key)
		}
		declindex.SortKeys(dirty.Keys)
		set.Units = append(set.Units, dirty)
	}
	return set
}

// expectChanged dirties every unit that held or must hold an actual for the
// changed expected declaration, in the committed and the current linkage.
func expectChanged(c *collector, in Input, change classify.Change) {
	key := change.Key
	for _, links := range [][]declindex.Link{
		in.Prior.LinksForExpected(change.Unit, key),
		in.Current.LinksForExpected(change.Unit, key),
	} {
		for _, l := range links {
			c.add(l.Leaf, string(ReasonExpectChanged), &key)
			for _, candidate := range l.Candidates {
				c.add(candidate.Unit, string(ReasonExpectChanged), &key)
			}
		}
	}
}

// actualChanged dirties the expected declaration's unit only when the edit
// breaks a link that was compatible in the committed state and the break
// was not already reported by the unit's last attempt.
func actualChanged(c *collector, in Input, change classify.Change) {
	key := change.Key
	if in.reported(change.Unit, key) {
		return
	}
	for _, prior := range in.Prior.LinksForActual(change.Unit, key) {
		if !prior.Compatible {
			continue
		}
		current, ok := in.Current.Link(prior.Expected, prior.Leaf)
		if ok && current.Compatible {
			continue
		}
		c.add(prior.Expected.Unit, string(ReasonActualMismatch), &key)
	}
}

// expectAdded dirties every leaf platform unit refining the owner.
func expectAdded(c *collector, g *unitgraph.Graph, change classify.Change) {
	key := change.Key
	for _, leaf := range g.Leaves(change.Unit) {
		c.add(leaf, string(ReasonExpectAdded), &key)
	}
}

// Describe renders a dirty unit's reasons for logs and reports.
func (u DirtyUnit) Describe() string {
	return strings.Join(u.Reasons, ", ")
}
