package formatters

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

type textFormatter struct{}

// Format lists units in build order with their sources and dependencies.
func (textFormatter) Format(g *unitgraph.Graph, opts FormatOptions) (string, error) {
	var sb strings.Builder
	for _, id := range g.TopologicalOrder() {
		unit, _ := g.Unit(id)

		sb.WriteString(id.String())
		if unit.Platform != "" {
			fmt.Fprintf(&sb, " (%s)", unit.Platform)
		}
		if state, ok := opts.States[id]; ok {
			fmt.Fprintf(&sb, " %s", state)
		}
		sb.WriteString("\n")

		sources := make([]string, 0, len(unit.Sources))
		for _, source := range unit.Sources {
			sources = append(sources, relativeTo(opts.Root, source))
		}
		fmt.Fprintf(&sb, "  sources: %s\n", strings.Join(sources, ", "))

		if len(unit.Dependencies) > 0 {
			names := make([]string, 0, len(unit.Dependencies))
			for _, dep := range unit.Dependencies {
				names = append(names, dep.String())
			}
			fmt.Fprintf(&sb, "  depends on: %s\n", strings.Join(names, ", "))
		}
	}
	return sb.String(), nil
}

func relativeTo(root, path string) string {
	if root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
