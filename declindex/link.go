package declindex

import (
	"fmt"

	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// ProblemKind classifies an expect/actual linkage violation.
type ProblemKind string

const (
	// UnresolvedExpect: a leaf platform unit sees no actual for an expected
	// declaration, or the actual it sees does not match the expected contract.
	UnresolvedExpect ProblemKind = "UnresolvedExpect"
	// DuplicateActual: a leaf platform unit sees more than one actual.
	DuplicateActual ProblemKind = "DuplicateActual"
	// OrphanActual: an actual declaration has no expected counterpart.
	OrphanActual ProblemKind = "OrphanActual"
)

// DeclRef points at a declaration.
type DeclRef struct {
	Unit unitgraph.UnitID `json:"unit"`
	Key  SignatureKey     `json:"key"`
	File string           `json:"file,omitempty"`
	Line int              `json:"line,omitempty"`
}

func (r DeclRef) String() string {
	return fmt.Sprintf("%s %s", r.Unit, r.Key)
}

// Link is the resolution of one expected declaration for one leaf platform unit.
type Link struct {
	Expected DeclRef
	Leaf     unitgraph.UnitID
	// Actual is set when exactly one candidate was found.
	Actual *DeclRef
	// Candidates lists every actual visible from Leaf.
	Candidates []DeclRef
	// Compatible is true when Actual is set and matches the expected contract.
	Compatible bool
}

// Problem is a linkage violation attributed to Unit.
type Problem struct {
	Kind       ProblemKind      `json:"kind"`
	Unit       unitgraph.UnitID `json:"unit"`
	Key        SignatureKey     `json:"key"`
	Expected   *DeclRef         `json:"expected,omitempty"`
	Candidates []DeclRef        `json:"candidates,omitempty"`
	Detail     string           `json:"detail"`
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s in %s: %s", p.Kind, p.Key, p.Unit, p.Detail)
}

// LinkResult holds every link and problem of one resolution pass.
type LinkResult struct {
	Links    []Link
	Problems []Problem
}

// ProblemsFor returns the problems attributed to unit.
func (r LinkResult) ProblemsFor(unit unitgraph.UnitID) []Problem {
	var problems []Problem
	for _, p := range r.Problems {
		if p.Unit == unit {
			problems = append(problems, p)
		}
	}
	return problems
}

// LinksForExpected returns the links of the expected declaration key in unit.
func (r LinkResult) LinksForExpected(unit unitgraph.UnitID, key SignatureKey) []Link {
	var links []Link
	for _, l := range r.Links {
		if l.Expected.Unit == unit && l.Expected.Key == key {
			links = append(links, l)
		}
	}
	return links
}

// LinksForActual returns the links in which the actual declaration key of
// unit is a candidate.
func (r LinkResult) LinksForActual(unit unitgraph.UnitID, key SignatureKey) []Link {
	var links []Link
	for _, l := range r.Links {
		for _, c := range l.Candidates {
			if c.Unit == unit && c.Key == key {
				links = append(links, l)
				break
			}
		}
	}
	return links
}

// Link returns the resolution of expected for leaf.
func (r LinkResult) Link(expected DeclRef, leaf unitgraph.UnitID) (Link, bool) {
	for _, l := range r.Links {
		if l.Expected.Unit == expected.Unit && l.Expected.Key == expected.Key && l.Leaf == leaf {
			return l, true
		}
	}
	return Link{}, false
}

type declarationsFunc func(unitgraph.UnitID) map[SignatureKey]Declaration

// link resolves every expected declaration against the actuals visible from
// each leaf platform unit that refines its owner. A leaf P of unit C sees
// actuals in P itself and in every refiner of C that P depends on.
func link(g *unitgraph.Graph, declarations declarationsFunc) LinkResult {
	var result LinkResult

	order := g.TopologicalOrder()
	decls := make(map[unitgraph.UnitID]map[SignatureKey]Declaration, len(order))
	for _, unit := range order {
		decls[unit] = declarations(unit)
	}

	for _, owner := range order {
		for _, key := range sortedKeys(decls[owner]) {
			expected := decls[owner][key]
			if expected.Mode != Expected {
				continue
			}

			refiners := make(map[unitgraph.UnitID]bool)
			for _, r := range g.Refiners(owner) {
				refiners[r] = true
			}

			for _, leaf := range g.Leaves(owner) {
				search := []unitgraph.UnitID{leaf}
				for _, dep := range g.DependenciesOf(leaf) {
					if refiners[dep] {
						search = append(search, dep)
					}
				}
				unitgraph.SortIDs(search)

				l := Link{Expected: expected.Ref(), Leaf: leaf}
				var candidates []Declaration
				for _, unit := range search {
					decl, ok := decls[unit][key]
					if !ok {
						continue
					}
					for _, actual := range decl.actualMembers() {
						candidates = append(candidates, actual)
						l.Candidates = append(l.Candidates, actual.Ref())
					}
				}

				ref := expected.Ref()
				switch len(candidates) {
				case 0:
					result.Problems = append(result.Problems, Problem{
						Kind:     UnresolvedExpect,
						Unit:     leaf,
						Key:      key,
						Expected: &ref,
						Detail:   fmt.Sprintf("no actual declaration for expected %s", ref),
					})
				case 1:
					actual := candidates[0].Ref()
					l.Actual = &actual
					l.Compatible = candidates[0].ContractHash == expected.ContractHash
					if !l.Compatible {
						result.Problems = append(result.Problems, Problem{
							Kind:       UnresolvedExpect,
							Unit:       leaf,
							Key:        key,
							Expected:   &ref,
							Candidates: l.Candidates,
							Detail:     fmt.Sprintf("actual %s does not match expected %s", actual, ref),
						})
					}
				default:
					result.Problems = append(result.Problems, Problem{
						Kind:       DuplicateActual,
						Unit:       leaf,
						Key:        key,
						Expected:   &ref,
						Candidates: l.Candidates,
						Detail:     fmt.Sprintf("%d actual declarations for expected %s", len(candidates), ref),
					})
				}
				result.Links = append(result.Links, l)
			}
		}
	}

	for _, unit := range order {
		for _, key := range sortedKeys(decls[unit]) {
			if decls[unit][key].Mode != Actual {
				continue
			}
			if !hasExpected(g, decls, unit, key) {
				result.Problems = append(result.Problems, Problem{
					Kind:   OrphanActual,
					Unit:   unit,
					Key:    key,
					Detail: fmt.Sprintf("actual %s has no expected declaration in module %s", key, unit.Module),
				})
			}
		}
	}

	return result
}

func hasExpected(g *unitgraph.Graph, decls map[unitgraph.UnitID]map[SignatureKey]Declaration, unit unitgraph.UnitID, key SignatureKey) bool {
	for _, dep := range g.DependenciesOf(unit) {
		if dep.Module != unit.Module {
			continue
		}
		if decl, ok := decls[dep][key]; ok && decl.Mode == Expected {
			return true
		}
	}
	return false
}

func sortedKeys(decls map[SignatureKey]Declaration) []SignatureKey {
	keys := make([]SignatureKey, 0, len(decls))
	for key := range decls {
		keys = append(keys, key)
	}
	SortKeys(keys)
	return keys
}
