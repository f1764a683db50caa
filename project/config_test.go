package project

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

const sampleConfig = `
parallelism = 3

[compiler]
backend = "exec"
command = "kotlinc-wrapper"

[[units]]
module = "lib"
sources = ["lib/src/commonMain"]

[[units]]
module = "lib"
target = "jvm"
platform = "jvm"
sources = ["lib/src/jvmMain"]
dependencies = ["lib"]

[[units]]
module = "app"
target = "jvm"
platform = "jvm"
sources = ["/abs/app/src"]
dependencies = ["lib:jvm"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ReadsUnitsAndDefaults(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Dir(path), cfg.Root)
	assert.Equal(t, 3, cfg.Parallelism)
	assert.Equal(t, "info", cfg.Verbosity)
	assert.False(t, cfg.Log.JSON)
	assert.Equal(t, "exec", cfg.Compiler.Backend)
	assert.Equal(t, "kotlinc-wrapper", cfg.Compiler.Command)
	assert.Equal(t, filepath.Join(cfg.Root, ".mpptrack"), cfg.StateDir())
	require.Len(t, cfg.Units, 3)

	units, err := cfg.ResolveUnits()
	require.NoError(t, err)
	assert.Equal(t, unitgraph.UnitID{Module: "lib", Target: "common"}, units[0].ID)
	assert.Equal(t, []string{filepath.Join(cfg.Root, "lib/src/commonMain")}, units[0].Sources)
	assert.Equal(t, "jvm", units[1].Platform)
	assert.Equal(t, []unitgraph.UnitID{{Module: "lib", Target: "common"}}, units[1].Dependencies)
	assert.Equal(t, []string{"/abs/app/src"}, units[2].Sources)
}

func TestLoad_EnvAndFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv("MPPTRACK_COMPILER_BACKEND", "check")
	t.Setenv("MPPTRACK_STATE_DIR", "/tmp/mpptrack-state")
	t.Setenv("MPPTRACK_LOG_JSON", "true")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("parallelism", 0, "")
	flags.String("verbosity", "", "")
	require.NoError(t, flags.Parse([]string{"--parallelism", "8"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "check", cfg.Compiler.Backend)
	assert.Equal(t, "/tmp/mpptrack-state", cfg.StateDir())
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 8, cfg.Parallelism)
	assert.Equal(t, "info", cfg.Verbosity)
}

func TestLoad_ReadsDotEnvNextToConfig(t *testing.T) {
	require.NoError(t, os.Unsetenv("MPPTRACK_VERBOSITY"))
	t.Cleanup(func() { _ = os.Unsetenv("MPPTRACK_VERBOSITY") })

	path := writeConfig(t, sampleConfig)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), ".env"), []byte("MPPTRACK_VERBOSITY=debug\n"), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Verbosity)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "no units", content: "parallelism = 1\n", want: "declares no units"},
		{name: "missing module", content: "[[units]]\nsources = [\"src\"]\n", want: "unit #1 has no module"},
		{name: "missing sources", content: "[[units]]\nmodule = \"lib\"\n", want: "lib:common has no source roots"},
		{name: "negative parallelism", content: "parallelism = -1\n[[units]]\nmodule = \"lib\"\nsources = [\"src\"]\n", want: "must not be negative"},
		{name: "invalid toml", content: "[[units]\n", want: "failed to parse config"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"), nil)
	assert.ErrorContains(t, err, "failed to read config")
}

func TestGraph_BuildsUnitGraph(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig), nil)
	require.NoError(t, err)

	g, err := cfg.Graph()
	require.NoError(t, err)

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, []unitgraph.UnitID{
		{Module: "lib", Target: "common"},
		{Module: "lib", Target: "jvm"},
		{Module: "app", Target: "jvm"},
	}, g.TopologicalOrder())
}

func TestGraph_ReportsEveryCycle(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[[units]]
module = "a"
sources = ["a"]
dependencies = ["b"]

[[units]]
module = "b"
sources = ["b"]
dependencies = ["c"]

[[units]]
module = "c"
sources = ["c"]
dependencies = ["a"]

[[units]]
module = "d"
sources = ["d"]
dependencies = ["d"]
`), nil)
	require.NoError(t, err)

	_, err = cfg.Graph()
	require.Error(t, err)
	assert.True(t, errors.Is(err, unitgraph.ErrCyclicDependency))
	assert.Contains(t, err.Error(), "a:common, b:common, c:common")
	assert.Contains(t, err.Error(), "d:common")
}

func TestGraph_UnknownDependency(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[[units]]\nmodule = \"a\"\nsources = [\"a\"]\ndependencies = [\"missing:jvm\"]\n"), nil)
	require.NoError(t, err)

	_, err = cfg.Graph()
	require.Error(t, err)
	assert.True(t, errors.Is(err, unitgraph.ErrUnknownUnit))
}
