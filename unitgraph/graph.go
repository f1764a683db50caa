package unitgraph

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	graphlib "github.com/dominikbraun/graph"
)

var (
	// ErrCyclicDependency is returned when a unit's dependency edges would close a cycle.
	ErrCyclicDependency = errors.New("cyclic dependency")
	// ErrDuplicateUnit is returned when a unit id is added twice.
	ErrDuplicateUnit = errors.New("duplicate unit")
	// ErrUnknownUnit is returned when a referenced unit was never added.
	ErrUnknownUnit = errors.New("unknown unit")
)

// Graph is the module-level dependency graph of compilation units.
//
// Edges point from a dependency to its dependent (producer to consumer), so a
// topological sort yields producers first. Dependencies may be referenced
// before they are added; Validate reports any that never were.
type Graph struct {
	g        graphlib.Graph[string, string]
	ids      map[string]UnitID
	declared map[UnitID]Unit
}

// New creates an empty unit graph.
func New() *Graph {
	return &Graph{
		g:        graphlib.New(graphlib.StringHash, graphlib.Directed(), graphlib.Acyclic(), graphlib.PreventCycles()),
		ids:      make(map[string]UnitID),
		declared: make(map[UnitID]Unit),
	}
}

// AddUnit adds a unit and its dependency edges.
//
// The edge set is checked for cycles before anything is inserted, so a
// rejected unit leaves the graph unchanged.
func (g *Graph) AddUnit(unit Unit) error {
	if unit.ID.Module == "" || unit.ID.Target == "" {
		return fmt.Errorf("unit id %q is incomplete", unit.ID)
	}
	if _, exists := g.declared[unit.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateUnit, unit.ID)
	}

	var added []string
	rollback := func() {
		for i := len(added) - 1; i >= 0; i-- {
			_ = g.g.RemoveVertex(added[i])
			delete(g.ids, added[i])
		}
	}

	for _, id := range append([]UnitID{unit.ID}, unit.Dependencies...) {
		created, err := g.ensureVertex(id)
		if err != nil {
			rollback()
			return err
		}
		if created {
			added = append(added, id.String())
		}
	}

	for _, dep := range unit.Dependencies {
		cycle, err := graphlib.CreatesCycle(g.g, dep.String(), unit.ID.String())
		if err != nil {
			rollback()
			return fmt.Errorf("failed to check dependency %s -> %s: %w", unit.ID, dep, err)
		}
		if cycle {
			rollback()
			return fmt.Errorf("%w: %s depends on %s", ErrCyclicDependency, unit.ID, dep)
		}
	}

	for _, dep := range unit.Dependencies {
		err := g.g.AddEdge(dep.String(), unit.ID.String())
		if errors.Is(err, graphlib.ErrEdgeAlreadyExists) {
			continue
		}
		if errors.Is(err, graphlib.ErrEdgeCreatesCycle) {
			return fmt.Errorf("%w: %s depends on %s", ErrCyclicDependency, unit.ID, dep)
		}
		if err != nil {
			return fmt.Errorf("failed to add dependency %s -> %s: %w", unit.ID, dep, err)
		}
	}

	unit.Sources = cleanRoots(unit.Sources)
	unit.Dependencies = append([]UnitID(nil), unit.Dependencies...)
	SortIDs(unit.Dependencies)
	g.declared[unit.ID] = unit
	return nil
}

func (g *Graph) ensureVertex(id UnitID) (bool, error) {
	hash := id.String()
	if _, ok := g.ids[hash]; ok {
		return false, nil
	}
	if err := g.g.AddVertex(hash); err != nil && !errors.Is(err, graphlib.ErrVertexAlreadyExists) {
		return false, fmt.Errorf("failed to add unit %s: %w", id, err)
	}
	g.ids[hash] = id
	return true, nil
}

// Validate reports dependencies that were referenced but never added.
func (g *Graph) Validate() error {
	var missing []string
	for hash, id := range g.ids {
		if _, ok := g.declared[id]; !ok {
			missing = append(missing, hash)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", ErrUnknownUnit, strings.Join(missing, ", "))
}

// Unit returns the declared unit with the given id.
func (g *Graph) Unit(id UnitID) (Unit, bool) {
	unit, ok := g.declared[id]
	return unit, ok
}

// Units returns every declared unit in topological order.
func (g *Graph) Units() []Unit {
	order := g.TopologicalOrder()
	units := make([]Unit, 0, len(order))
	for _, id := range order {
		units = append(units, g.declared[id])
	}
	return units
}

// Len returns the number of declared units.
func (g *Graph) Len() int {
	return len(g.declared)
}

// TopologicalOrder returns declared unit ids with producers before consumers,
// ordered by depth and then by unit id so the order is deterministic.
func (g *Graph) TopologicalOrder() []UnitID {
	depths := g.Depths()
	order := make([]UnitID, 0, len(depths))
	for id := range depths {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		if depths[order[i]] != depths[order[j]] {
			return depths[order[i]] < depths[order[j]]
		}
		return order[i].Less(order[j])
	})
	return order
}

// DependentsOf returns every unit that transitively depends on id, sorted by id.
func (g *Graph) DependentsOf(id UnitID) []UnitID {
	adjacency, err := g.g.AdjacencyMap()
	if err != nil {
		return nil
	}
	return g.reachable(adjacency, id)
}

// DependenciesOf returns every unit id transitively depends on, sorted by id.
func (g *Graph) DependenciesOf(id UnitID) []UnitID {
	predecessors, err := g.g.PredecessorMap()
	if err != nil {
		return nil
	}
	return g.reachable(predecessors, id)
}

func (g *Graph) reachable(edges map[string]map[string]graphlib.Edge[string], id UnitID) []UnitID {
	start := id.String()
	if _, ok := edges[start]; !ok {
		return nil
	}

	seen := map[string]bool{start: true}
	queue := []string{start}
	var result []UnitID
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for next := range edges[current] {
			if seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
			if _, ok := g.declared[g.ids[next]]; ok {
				result = append(result, g.ids[next])
			}
		}
	}

	SortIDs(result)
	return result
}

// DependsOn reports whether from transitively depends on to.
func (g *Graph) DependsOn(from, to UnitID) bool {
	for _, dep := range g.DependenciesOf(from) {
		if dep == to {
			return true
		}
	}
	return false
}

// Depths returns the length of the longest dependency chain below each unit.
// Units without dependencies have depth 0; units of equal depth never depend
// on one another.
func (g *Graph) Depths() map[UnitID]int {
	depths := make(map[UnitID]int, len(g.declared))
	var depthOf func(id UnitID) int
	depthOf = func(id UnitID) int {
		if d, ok := depths[id]; ok {
			return d
		}
		depth := 0
		for _, dep := range g.declared[id].Dependencies {
			if _, ok := g.declared[dep]; !ok {
				continue
			}
			if d := depthOf(dep) + 1; d > depth {
				depth = d
			}
		}
		depths[id] = depth
		return depth
	}
	for id := range g.declared {
		depthOf(id)
	}
	return depths
}

// Depth returns the length of the longest dependency chain below id.
func (g *Graph) Depth(id UnitID) int {
	return g.Depths()[id]
}

// Refiners returns the units of the same module that transitively depend on
// id. Actual declarations for id's expected declarations live in these units.
func (g *Graph) Refiners(id UnitID) []UnitID {
	var refiners []UnitID
	for _, dependent := range g.DependentsOf(id) {
		if dependent.Module == id.Module {
			refiners = append(refiners, dependent)
		}
	}
	return refiners
}

// Leaves returns the platform-specific refiners of id. Each must see exactly
// one actual declaration for every expected declaration of id.
func (g *Graph) Leaves(id UnitID) []UnitID {
	var leaves []UnitID
	for _, refiner := range g.Refiners(id) {
		if !g.declared[refiner].IsCommon() {
			leaves = append(leaves, refiner)
		}
	}
	return leaves
}

// UnitForFile returns the unit whose source root most specifically contains path.
func (g *Graph) UnitForFile(path string) (UnitID, bool) {
	path = filepath.Clean(path)

	var best UnitID
	bestLen := -1
	for id, unit := range g.declared {
		for _, root := range unit.Sources {
			if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
				continue
			}
			if len(root) > bestLen || (len(root) == bestLen && id.Less(best)) {
				best = id
				bestLen = len(root)
			}
		}
	}
	return best, bestLen >= 0
}

func cleanRoots(roots []string) []string {
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		cleaned = append(cleaned, filepath.Clean(root))
	}
	return cleaned
}
