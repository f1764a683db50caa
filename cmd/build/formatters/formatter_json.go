package formatters

import (
	"encoding/json"

	"github.com/LegacyCodeHQ/mpptrack/build"
)

type jsonFormatter struct{}

type jsonSummary struct {
	Succeeded bool `json:"succeeded"`
	*build.Report
}

// FormatReport renders the report with a top-level succeeded flag.
func (jsonFormatter) FormatReport(r *build.Report) (string, error) {
	return marshal(jsonSummary{Succeeded: r.Succeeded(), Report: r})
}

func (jsonFormatter) FormatPlan(p *build.Plan) (string, error) {
	return marshal(p)
}

func marshal(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}
