package build

import (
	"errors"

	"github.com/LegacyCodeHQ/mpptrack/classify"
	"github.com/LegacyCodeHQ/mpptrack/declindex"
	"github.com/LegacyCodeHQ/mpptrack/frontend"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// UnitReport is the outcome of one unit in a build cycle.
type UnitReport struct {
	Unit  unitgraph.UnitID `json:"unit"`
	State UnitState        `json:"state"`
	Cause Cause            `json:"cause,omitempty"`
	// Keys are the offending signature keys of a linkage failure.
	Keys []declindex.SignatureKey `json:"keys,omitempty"`
	// Reasons explain why the unit was dirty. Empty for units that were not.
	Reasons     []string              `json:"reasons,omitempty"`
	Diagnostics []frontend.Diagnostic `json:"diagnostics,omitempty"`
	// BlockedBy lists the dependencies that caused a skip.
	BlockedBy   []unitgraph.UnitID `json:"blockedBy,omitempty"`
	Fingerprint string             `json:"fingerprint,omitempty"`
	// Stale marks a state carried over from an earlier cycle.
	Stale bool `json:"stale,omitempty"`
}

// Report is the result of one build cycle.
type Report struct {
	Session string `json:"session"`
	// Dirty lists the units selected for compilation, in build order.
	Dirty []unitgraph.UnitID `json:"dirty"`
	// Units holds every unit of the graph in topological order.
	Units     []UnitReport       `json:"units"`
	Compiled  []unitgraph.UnitID `json:"compiled"`
	Failed    []unitgraph.UnitID `json:"failed"`
	Skipped   []unitgraph.UnitID `json:"skipped"`
	Cancelled []unitgraph.UnitID `json:"cancelled,omitempty"`
	// Unowned lists changed files outside every unit.
	Unowned []string `json:"unowned,omitempty"`
	// Inputs are the file changes the cycle classified, pending retries
	// included, with the exact content that was read.
	Inputs []classify.FileChange `json:"-"`
}

// Unit returns the report of id.
func (r *Report) Unit(id unitgraph.UnitID) (UnitReport, bool) {
	for _, u := range r.Units {
		if u.Unit == id {
			return u, true
		}
	}
	return UnitReport{}, false
}

// Diagnostics returns every diagnostic of the cycle in unit order.
func (r *Report) Diagnostics() []frontend.Diagnostic {
	var diagnostics []frontend.Diagnostic
	for _, u := range r.Units {
		diagnostics = append(diagnostics, u.Diagnostics...)
	}
	return diagnostics
}

// Succeeded reports whether no unit is left failed, skipped or cancelled,
// including states carried over from earlier cycles.
func (r *Report) Succeeded() bool {
	for _, u := range r.Units {
		if u.State.Blocking() {
			return false
		}
	}
	return true
}

// Err joins a *UnitError for every unit that failed, was skipped or was
// cancelled in this cycle. It is nil when the cycle built everything it
// attempted.
func (r *Report) Err() error {
	var errs []error
	for _, u := range r.Units {
		if !u.State.Blocking() || u.Stale {
			continue
		}
		errs = append(errs, &UnitError{Unit: u.Unit, Cause: u.Cause, Keys: u.Keys, Err: causeError(u.Cause)})
	}
	return errors.Join(errs...)
}
