// Package formatters renders build reports and plans.
package formatters

import (
	"fmt"
	"strings"

	"github.com/LegacyCodeHQ/mpptrack/build"
	"github.com/LegacyCodeHQ/mpptrack/declindex"
	"github.com/LegacyCodeHQ/mpptrack/frontend"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// Formatter renders the results of the build command.
type Formatter interface {
	FormatReport(r *build.Report) (string, error)
	FormatPlan(p *build.Plan) (string, error)
}

// Supported output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// NewFormatter returns the formatter for format.
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case FormatText, "":
		return textFormatter{}, nil
	case FormatJSON:
		return jsonFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown format: %s (valid options: %s, %s)", format, FormatText, FormatJSON)
	}
}

func joinIDs(ids []unitgraph.UnitID) string {
	if len(ids) == 0 {
		return "(none)"
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, id.String())
	}
	return strings.Join(names, ", ")
}

func joinKeys(keys []declindex.SignatureKey) string {
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key.String())
	}
	return strings.Join(parts, ", ")
}

func formatDiagnostic(d frontend.Diagnostic) string {
	if d.File == "" {
		return d.Message
	}
	if d.Column == 0 {
		return fmt.Sprintf("%s:%d: %s", d.File, d.Line, d.Message)
	}
	return d.String()
}
