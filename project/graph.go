package project

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// ResolveUnits resolves the configured units: ids are parsed and source roots made
// absolute.
func (c *Config) ResolveUnits() ([]unitgraph.Unit, error) {
	units := make([]unitgraph.Unit, 0, len(c.Units))
	for _, u := range c.Units {
		id, err := unitgraph.ParseUnitID(u.id())
		if err != nil {
			return nil, fmt.Errorf("invalid unit %q: %w", u.id(), err)
		}

		unit := unitgraph.Unit{ID: id, Platform: strings.TrimSpace(u.Platform)}
		for _, source := range u.Sources {
			unit.Sources = append(unit.Sources, c.resolve(source))
		}
		for _, dep := range u.Dependencies {
			depID, err := unitgraph.ParseUnitID(dep)
			if err != nil {
				return nil, fmt.Errorf("invalid dependency %q of unit %s: %w", dep, id, err)
			}
			unit.Dependencies = append(unit.Dependencies, depID)
		}
		units = append(units, unit)
	}
	return units, nil
}

// Graph builds the unit graph. Every dependency cycle is reported in one
// error wrapping unitgraph.ErrCyclicDependency.
func (c *Config) Graph() (*unitgraph.Graph, error) {
	units, err := c.ResolveUnits()
	if err != nil {
		return nil, err
	}
	if err := checkCycles(units); err != nil {
		return nil, err
	}

	g := unitgraph.New()
	for _, unit := range units {
		if err := g.AddUnit(unit); err != nil {
			return nil, fmt.Errorf("failed to add unit %s: %w", unit.ID, err)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkCycles finds the strongly connected components of the declared
// dependencies and reports every one with more than one member, plus every
// self-dependency.
func checkCycles(units []unitgraph.Unit) error {
	ids := make(map[unitgraph.UnitID]int64)
	byNode := make(map[int64]unitgraph.UnitID)
	node := func(id unitgraph.UnitID) int64 {
		n, ok := ids[id]
		if !ok {
			n = int64(len(ids))
			ids[id] = n
			byNode[n] = id
		}
		return n
	}

	g := simple.NewDirectedGraph()
	var cycles []string
	for _, unit := range units {
		from := node(unit.ID)
		if g.Node(from) == nil {
			g.AddNode(simple.Node(from))
		}
		for _, dep := range unit.Dependencies {
			if dep == unit.ID {
				cycles = append(cycles, unit.ID.String())
				continue
			}
			to := node(dep)
			if g.Node(to) == nil {
				g.AddNode(simple.Node(to))
			}
			g.SetEdge(g.NewEdge(simple.Node(from), simple.Node(to)))
		}
	}

	for _, scc := range topo.TarjanSCC(g) {
		if len(scc) < 2 {
			continue
		}
		members := make([]unitgraph.UnitID, 0, len(scc))
		for _, n := range scc {
			members = append(members, byNode[n.ID()])
		}
		unitgraph.SortIDs(members)
		names := make([]string, 0, len(members))
		for _, id := range members {
			names = append(names, id.String())
		}
		cycles = append(cycles, strings.Join(names, ", "))
	}
	if len(cycles) == 0 {
		return nil
	}
	sort.Strings(cycles)
	return fmt.Errorf("%w: %s", unitgraph.ErrCyclicDependency, strings.Join(cycles, "; "))
}
