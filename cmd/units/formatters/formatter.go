// Package formatters renders the unit graph.
package formatters

import (
	"fmt"
	"strings"

	"github.com/LegacyCodeHQ/mpptrack/build"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// Supported output formats.
const (
	FormatText = "text"
	FormatDOT  = "dot"
)

// FormatOptions controls graph rendering.
type FormatOptions struct {
	// Root makes source roots relative when set.
	Root string
	// States colors units by their last build state.
	States map[unitgraph.UnitID]build.UnitState
}

// Formatter renders a unit graph.
type Formatter interface {
	Format(g *unitgraph.Graph, opts FormatOptions) (string, error)
}

// NewFormatter returns the formatter for format.
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case FormatText, "":
		return textFormatter{}, nil
	case FormatDOT:
		return dotFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown format: %s (valid options: %s, %s)", format, FormatText, FormatDOT)
	}
}

// StatesOf collects the unit states of a report.
func StatesOf(r *build.Report) map[unitgraph.UnitID]build.UnitState {
	states := make(map[unitgraph.UnitID]build.UnitState, len(r.Units))
	for _, u := range r.Units {
		states[u.Unit] = u.State
	}
	return states
}
