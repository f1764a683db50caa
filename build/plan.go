package build

import (
	"github.com/LegacyCodeHQ/mpptrack/declindex"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// PlannedUnit is a unit a cycle would compile.
type PlannedUnit struct {
	Unit    unitgraph.UnitID         `json:"unit"`
	Reasons []string                 `json:"reasons"`
	Keys    []declindex.SignatureKey `json:"keys,omitempty"`
	// Problems are the linkage problems the unit would fail with.
	Problems []declindex.Problem `json:"problems,omitempty"`
}

// Plan is the dry-run result of classification and propagation.
type Plan struct {
	Dirty   []PlannedUnit `json:"dirty"`
	Unowned []string      `json:"unowned,omitempty"`
}

// IDs returns the planned unit ids in build order.
func (p *Plan) IDs() []unitgraph.UnitID {
	ids := make([]unitgraph.UnitID, 0, len(p.Dirty))
	for _, u := range p.Dirty {
		ids = append(ids, u.Unit)
	}
	return ids
}
