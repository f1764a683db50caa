package formatters

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LegacyCodeHQ/mpptrack/build"
	"github.com/LegacyCodeHQ/mpptrack/declindex"
	"github.com/LegacyCodeHQ/mpptrack/frontend"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

var (
	libCommon = unitgraph.UnitID{Module: "lib", Target: "common"}
	libJvm    = unitgraph.UnitID{Module: "lib", Target: "jvm"}
	libJs     = unitgraph.UnitID{Module: "lib", Target: "js"}
	appJvm    = unitgraph.UnitID{Module: "app", Target: "jvm"}
	keyF      = declindex.SignatureKey{Name: "f", Kind: frontend.KindFunction}
)

func sampleReport() *build.Report {
	return &build.Report{
		Session: "session-1",
		Dirty:   []unitgraph.UnitID{libCommon, libJvm, appJvm},
		Units: []build.UnitReport{
			{Unit: libCommon, State: build.StateSuccess, Reasons: []string{"changed"}, Fingerprint: "abc"},
			{
				Unit:    libJvm,
				State:   build.StateFailed,
				Cause:   build.CauseUnresolvedExpect,
				Keys:    []declindex.SignatureKey{keyF},
				Reasons: []string{"expect-changed"},
				Diagnostics: []frontend.Diagnostic{
					{File: "/p/lib/jvm/F.kt", Line: 3, Message: "no actual for expected fun f/0"},
				},
			},
			{Unit: libJs, State: build.StateFailed, Cause: build.CauseCompileFailure, Stale: true},
			{
				Unit:      appJvm,
				State:     build.StateSkipped,
				Cause:     build.CauseUpstreamFailure,
				Reasons:   []string{"upstream(lib:jvm)"},
				BlockedBy: []unitgraph.UnitID{libJvm},
			},
		},
		Compiled: []unitgraph.UnitID{libCommon},
		Failed:   []unitgraph.UnitID{libJvm},
		Skipped:  []unitgraph.UnitID{appJvm},
		Unowned:  []string{"/p/notes.txt"},
	}
}

func samplePlan() *build.Plan {
	return &build.Plan{
		Dirty: []build.PlannedUnit{{
			Unit:    libJvm,
			Reasons: []string{"actual-mismatch", "changed"},
			Keys:    []declindex.SignatureKey{keyF},
			Problems: []declindex.Problem{{
				Kind:   declindex.UnresolvedExpect,
				Unit:   libJvm,
				Key:    keyF,
				Detail: "actual does not match expected contract",
			}},
		}},
	}
}

func formatterGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t, goldie.WithNameSuffix(".gold.txt"))
}

func TestNewFormatter(t *testing.T) {
	f, err := NewFormatter("text")
	require.NoError(t, err)
	assert.IsType(t, textFormatter{}, f)

	f, err = NewFormatter("JSON")
	require.NoError(t, err)
	assert.IsType(t, jsonFormatter{}, f)

	_, err = NewFormatter("dot")
	assert.ErrorContains(t, err, "unknown format: dot")
}

func TestTextFormatter_Report(t *testing.T) {
	out, err := textFormatter{}.FormatReport(sampleReport())
	require.NoError(t, err)

	formatterGoldie(t).Assert(t, "report_text", []byte(out))
}

func TestTextFormatter_Plan(t *testing.T) {
	out, err := textFormatter{}.FormatPlan(samplePlan())
	require.NoError(t, err)

	formatterGoldie(t).Assert(t, "plan_text", []byte(out))
}

func TestTextFormatter_EmptyPlan(t *testing.T) {
	out, err := textFormatter{}.FormatPlan(&build.Plan{Unowned: []string{"/p/notes.txt"}})
	require.NoError(t, err)
	assert.Equal(t, "Nothing to compile\nOutside every unit: /p/notes.txt\n", out)
}

func TestJSONFormatter_Report(t *testing.T) {
	out, err := jsonFormatter{}.FormatReport(sampleReport())
	require.NoError(t, err)

	var decoded struct {
		Succeeded bool     `json:"succeeded"`
		Session   string   `json:"session"`
		Failed    []string `json:"failed"`
		Units     []struct {
			Unit      string   `json:"unit"`
			State     string   `json:"state"`
			Cause     string   `json:"cause"`
			BlockedBy []string `json:"blockedBy"`
			Stale     bool     `json:"stale"`
		} `json:"units"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))

	assert.False(t, decoded.Succeeded)
	assert.Equal(t, "session-1", decoded.Session)
	assert.Equal(t, []string{"lib:jvm"}, decoded.Failed)
	require.Len(t, decoded.Units, 4)
	assert.Equal(t, "UnresolvedExpect", decoded.Units[1].Cause)
	assert.True(t, decoded.Units[2].Stale)
	assert.Equal(t, []string{"lib:jvm"}, decoded.Units[3].BlockedBy)
}

func TestJSONFormatter_Plan(t *testing.T) {
	out, err := jsonFormatter{}.FormatPlan(samplePlan())
	require.NoError(t, err)

	assert.Contains(t, out, `"unit": "lib:jvm"`)
	assert.Contains(t, out, `"kind": "UnresolvedExpect"`)
}
