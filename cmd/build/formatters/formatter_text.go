package formatters

import (
	"fmt"
	"strings"

	"github.com/LegacyCodeHQ/mpptrack/build"
)

type textFormatter struct{}

// FormatReport lists every unit with its state, followed by a summary line.
func (textFormatter) FormatReport(r *build.Report) (string, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Session %s\n", r.Session)
	fmt.Fprintf(&sb, "Dirty: %s\n\n", joinIDs(r.Dirty))

	for _, u := range r.Units {
		fmt.Fprintf(&sb, "  %-10s  %s", u.State, u.Unit)
		if u.Cause != build.CauseNone {
			fmt.Fprintf(&sb, "  %s", u.Cause)
		}
		if len(u.Keys) > 0 {
			fmt.Fprintf(&sb, " [%s]", joinKeys(u.Keys))
		}
		if len(u.BlockedBy) > 0 {
			fmt.Fprintf(&sb, "  blocked by %s", joinIDs(u.BlockedBy))
		}
		if u.Stale {
			sb.WriteString("  (stale)")
		}
		sb.WriteString("\n")

		if len(u.Reasons) > 0 {
			fmt.Fprintf(&sb, "      reasons: %s\n", strings.Join(u.Reasons, ", "))
		}
		for _, d := range u.Diagnostics {
			fmt.Fprintf(&sb, "      %s\n", formatDiagnostic(d))
		}
	}

	if len(r.Unowned) > 0 {
		fmt.Fprintf(&sb, "\nOutside every unit: %s\n", strings.Join(r.Unowned, ", "))
	}
	fmt.Fprintf(&sb, "\nCompiled %d, failed %d, skipped %d, cancelled %d\n",
		len(r.Compiled), len(r.Failed), len(r.Skipped), len(r.Cancelled))
	return sb.String(), nil
}

// FormatPlan lists the units a build would compile and why.
func (textFormatter) FormatPlan(p *build.Plan) (string, error) {
	var sb strings.Builder

	if len(p.Dirty) == 0 {
		sb.WriteString("Nothing to compile\n")
	} else {
		fmt.Fprintf(&sb, "Would compile %d unit(s):\n", len(p.Dirty))
	}
	for _, u := range p.Dirty {
		fmt.Fprintf(&sb, "  %s", u.Unit)
		if len(u.Keys) > 0 {
			fmt.Fprintf(&sb, " [%s]", joinKeys(u.Keys))
		}
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "      reasons: %s\n", strings.Join(u.Reasons, ", "))
		for _, problem := range u.Problems {
			fmt.Fprintf(&sb, "      problem: %s\n", problem)
		}
	}

	if len(p.Unowned) > 0 {
		fmt.Fprintf(&sb, "Outside every unit: %s\n", strings.Join(p.Unowned, ", "))
	}
	return sb.String(), nil
}
