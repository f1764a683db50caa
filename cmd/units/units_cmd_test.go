package units

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LegacyCodeHQ/mpptrack/build"
	"github.com/LegacyCodeHQ/mpptrack/cmd/cmdutil"
	"github.com/LegacyCodeHQ/mpptrack/state"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

const projectConfig = `
[[units]]
module = "lib"
sources = ["lib/common"]

[[units]]
module = "lib"
target = "jvm"
platform = "jvm"
sources = ["lib/jvm"]
dependencies = ["lib"]
`

func execute(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "mpptrack", SilenceErrors: true, SilenceUsage: true}
	root.PersistentFlags().String(cmdutil.ConfigFlag, "", "")
	root.AddCommand(NewCommand())
	root.SetArgs(append([]string{"units", "--config", configPath}, args...))

	var stdout bytes.Buffer
	root.SetOut(&stdout)

	err := root.Execute()
	return stdout.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mpptrack.toml")
	require.NoError(t, os.WriteFile(path, []byte(projectConfig), 0o644))
	return path
}

func TestUnits_Text(t *testing.T) {
	output, err := execute(t, writeConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "lib:common\n  sources: lib/common\nlib:jvm (jvm)\n  sources: lib/jvm\n  depends on: lib:common\n", output)
}

func TestUnits_DOT(t *testing.T) {
	output, err := execute(t, writeConfig(t), "--format", "dot")
	require.NoError(t, err)

	assert.Contains(t, output, "digraph units {")
	assert.Contains(t, output, `"lib:jvm" -> "lib:common";`)
}

func TestUnits_StatesFromLastBuild(t *testing.T) {
	configPath := writeConfig(t)

	output, err := execute(t, configPath, "--states")
	require.NoError(t, err)
	assert.NotContains(t, output, "failed")

	g := unitgraph.New()
	common := unitgraph.UnitID{Module: "lib", Target: "common"}
	jvm := unitgraph.UnitID{Module: "lib", Target: "jvm"}
	dir := filepath.Dir(configPath)
	require.NoError(t, g.AddUnit(unitgraph.Unit{ID: common, Sources: []string{filepath.Join(dir, "lib/common")}}))
	require.NoError(t, g.AddUnit(unitgraph.Unit{ID: jvm, Platform: "jvm", Sources: []string{filepath.Join(dir, "lib/jvm")}, Dependencies: []unitgraph.UnitID{common}}))

	store, err := state.NewStore(filepath.Join(dir, ".mpptrack"))
	require.NoError(t, err)
	st := state.New(state.GraphSignature(g))
	st.Driver.Outcomes[common] = build.Outcome{State: build.StateSuccess}
	st.Driver.Outcomes[jvm] = build.Outcome{State: build.StateFailed, Cause: build.CauseUnresolvedExpect}
	require.NoError(t, store.Save(st))

	output, err = execute(t, configPath, "--states")
	require.NoError(t, err)
	assert.Contains(t, output, "lib:common success\n")
	assert.Contains(t, output, "lib:jvm (jvm) failed\n")
}

func TestUnits_RejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, writeConfig(t), "--format", "svg")
	assert.ErrorContains(t, err, "unknown format: svg")
}
