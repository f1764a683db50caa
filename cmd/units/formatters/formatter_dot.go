package formatters

import (
	"fmt"
	"strings"

	"github.com/LegacyCodeHQ/mpptrack/build"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

var stateColors = map[build.UnitState]string{
	build.StateSuccess:   "#c8e6c9",
	build.StateUpToDate:  "#e8f5e9",
	build.StateFailed:    "#ffcdd2",
	build.StateSkipped:   "#eeeeee",
	build.StateCancelled: "#fff9c4",
}

type dotFormatter struct{}

// Format renders the graph as Graphviz DOT with edges pointing from a unit
// to its dependencies. Common units are dashed.
func (dotFormatter) Format(g *unitgraph.Graph, opts FormatOptions) (string, error) {
	var sb strings.Builder
	sb.WriteString("digraph units {\n")
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box];\n")
	sb.WriteString("\n")

	order := g.TopologicalOrder()
	for _, id := range order {
		unit, _ := g.Unit(id)

		label := id.String()
		if unit.Platform != "" {
			label += `\n(` + unit.Platform + ")"
		}

		var styles []string
		if unit.IsCommon() {
			styles = append(styles, "dashed")
		}
		attrs := fmt.Sprintf(`label="%s"`, label)
		if color, ok := stateColors[opts.States[id]]; ok {
			styles = append(styles, "filled")
			attrs += fmt.Sprintf(`, fillcolor="%s"`, color)
		}
		if len(styles) > 0 {
			attrs += fmt.Sprintf(`, style="%s"`, strings.Join(styles, ","))
		}
		fmt.Fprintf(&sb, "  %q [%s];\n", id.String(), attrs)
	}

	sb.WriteString("\n")
	for _, id := range order {
		unit, _ := g.Unit(id)
		for _, dep := range unit.Dependencies {
			fmt.Fprintf(&sb, "  %q -> %q;\n", id.String(), dep.String())
		}
	}
	sb.WriteString("}\n")
	return sb.String(), nil
}
