package compiler

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LegacyCodeHQ/mpptrack/declindex"
	"github.com/LegacyCodeHQ/mpptrack/frontend"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

var jvmUnit = unitgraph.Unit{ID: unitgraph.UnitID{Module: "lib", Target: "jvm"}, Platform: "jvm"}

func TestNew_SelectsBackend(t *testing.T) {
	checker, err := New("", "", frontend.NewTreeSitterParser())
	require.NoError(t, err)
	assert.IsType(t, &Checker{}, checker)

	execBackend, err := New(BackendExec, "true", nil)
	require.NoError(t, err)
	assert.IsType(t, &Exec{}, execBackend)

	_, err = New(BackendExec, "", nil)
	assert.Error(t, err)
	_, err = New("gradle", "", nil)
	assert.Error(t, err)
}

func TestChecker_SucceedsOnValidSources(t *testing.T) {
	c := NewChecker(frontend.NewTreeSitterParser())

	result, err := c.Compile(context.Background(), Request{
		Unit: jvmUnit,
		Sources: []SourceFile{
			{Path: "/src/F.kt", Content: []byte("actual fun f(): Int = 1\n")},
			{Path: "/src/README.md", Content: []byte("not parsed")},
		},
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Diagnostics)
}

func TestChecker_FailsOnSyntaxErrors(t *testing.T) {
	c := NewChecker(frontend.NewTreeSitterParser())

	result, err := c.Compile(context.Background(), Request{
		Unit:    jvmUnit,
		Sources: []SourceFile{{Path: "/src/F.kt", Content: []byte("fun broken( {\n")}},
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Diagnostics)
}

func TestChecker_FailsOnLinkProblems(t *testing.T) {
	c := NewChecker(frontend.NewTreeSitterParser())
	key := declindex.SignatureKey{Name: "f", Kind: frontend.KindFunction}

	result, err := c.Compile(context.Background(), Request{
		Unit: jvmUnit,
		Problems: []declindex.Problem{{
			Kind:     declindex.UnresolvedExpect,
			Unit:     jvmUnit.ID,
			Key:      key,
			Expected: &declindex.DeclRef{Unit: unitgraph.UnitID{Module: "lib", Target: "common"}, Key: key, File: "/common/F.kt", Line: 3},
			Detail:   "no actual declaration",
		}},
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, "/common/F.kt", result.Diagnostics[0].File)
	assert.Contains(t, result.Diagnostics[0].Message, "UnresolvedExpect")
}

func TestChecker_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewChecker(frontend.NewTreeSitterParser()).Compile(ctx, Request{
		Unit:    jvmUnit,
		Sources: []SourceFile{{Path: "/src/F.kt", Content: []byte("fun f() {}\n")}},
	})

	require.ErrorIs(t, err, context.Canceled)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExec_PassesUnitThroughEnvironment(t *testing.T) {
	requireShell(t)

	e := NewExec(`test "$MPPTRACK_UNIT" = "lib:jvm" && test "$MPPTRACK_PLATFORM" = "jvm" && test "$MPPTRACK_SOURCES" = "/src/A.kt"`)
	result, err := e.Compile(context.Background(), Request{
		Unit:    jvmUnit,
		Sources: []SourceFile{{Path: "/src/A.kt"}},
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestExec_ParsesDiagnosticsOnFailure(t *testing.T) {
	requireShell(t)

	e := NewExec(`echo "/src/A.kt:12:5: unresolved reference: g" >&2; exit 1`)
	result, err := e.Compile(context.Background(), Request{Unit: jvmUnit})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []frontend.Diagnostic{{File: "/src/A.kt", Line: 12, Column: 5, Message: "unresolved reference: g"}}, result.Diagnostics)
}

func TestExec_FailureWithoutOutputStillReportsDiagnostic(t *testing.T) {
	requireShell(t)

	result, err := NewExec("exit 3").Compile(context.Background(), Request{Unit: jvmUnit})

	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Diagnostics, 1)
	assert.Contains(t, result.Diagnostics[0].Message, "status 3")
}
