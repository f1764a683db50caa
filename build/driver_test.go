package build

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LegacyCodeHQ/mpptrack/classify"
	"github.com/LegacyCodeHQ/mpptrack/compiler"
	"github.com/LegacyCodeHQ/mpptrack/declindex"
	"github.com/LegacyCodeHQ/mpptrack/frontend"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
	"github.com/LegacyCodeHQ/mpptrack/vcs"
)

// lineParser reads one declaration per line: "[expect|actual] name signature [= body]".
// A line "!" produces a syntax diagnostic.
type lineParser struct{}

func (lineParser) Parse(_ context.Context, _ unitgraph.UnitID, path string, content []byte) (*frontend.ParseResult, error) {
	result := &frontend.ParseResult{Language: frontend.Kotlin}
	for i, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "!" {
			result.Diagnostics = append(result.Diagnostics, frontend.Diagnostic{File: path, Line: i + 1, Column: 1, Message: "syntax error"})
			continue
		}

		decl := frontend.Declaration{Kind: frontend.KindFunction, Line: i + 1}
		head, body, _ := strings.Cut(line, "=")
		fields := strings.Fields(head)
		switch fields[0] {
		case "expect":
			decl.Expect = true
			fields = fields[1:]
		case "actual":
			decl.Actual = true
			fields = fields[1:]
		}
		decl.Name = fields[0]
		decl.Signature = strings.Join(fields, " ")
		decl.Contract = decl.Signature
		decl.Body = strings.TrimSpace(body)
		result.Declarations = append(result.Declarations, decl)
	}
	return result, nil
}

type fixtureUnit struct {
	id       string
	platform string
	deps     []string
}

// projectFixture describes a project whose unit "m:t" has the single source
// root "/<name>/m/t".
type projectFixture struct {
	name  string
	units []fixtureUnit
	files map[string]string
}

type harness struct {
	graph  *unitgraph.Graph
	index  *declindex.Index
	files  map[string]string
	driver *Driver
}

func newHarness(t *testing.T, fx projectFixture, options ...func(*Config)) *harness {
	t.Helper()

	g := unitgraph.New()
	for _, u := range fx.units {
		id, err := unitgraph.ParseUnitID(u.id)
		require.NoError(t, err)
		unit := unitgraph.Unit{
			ID:       id,
			Platform: u.platform,
			Sources:  []string{"/" + fx.name + "/" + id.Module + "/" + id.Target},
		}
		for _, dep := range u.deps {
			depID, err := unitgraph.ParseUnitID(dep)
			require.NoError(t, err)
			unit.Dependencies = append(unit.Dependencies, depID)
		}
		require.NoError(t, g.AddUnit(unit))
	}
	require.NoError(t, g.Validate())

	files := make(map[string]string, len(fx.files))
	for path, content := range fx.files {
		files[path] = content
	}

	h := &harness{graph: g, index: declindex.New(), files: files}
	cfg := Config{
		Graph:       g,
		Index:       h.index,
		Parser:      lineParser{},
		Compiler:    compiler.NewChecker(lineParser{}),
		Reader:      vcs.MapContentReader(files),
		Parallelism: 2,
	}
	for _, option := range options {
		option(&cfg)
	}

	driver, err := NewDriver(cfg)
	require.NoError(t, err)
	h.driver = driver
	return h
}

// buildAll runs the initial cycle over every fixture file.
func (h *harness) buildAll(t *testing.T) *Report {
	t.Helper()
	paths := make([]string, 0, len(h.files))
	for path := range h.files {
		paths = append(paths, path)
	}
	return h.cycle(t, context.Background(), paths...)
}

// edit applies edits to the file map and runs a cycle for the edited paths.
// An empty content deletes the file.
func (h *harness) edit(t *testing.T, edits map[string]string) *Report {
	t.Helper()
	paths := make([]string, 0, len(edits))
	for path, content := range edits {
		if content == "" {
			delete(h.files, path)
		} else {
			h.files[path] = content
		}
		paths = append(paths, path)
	}
	return h.cycle(t, context.Background(), paths...)
}

func (h *harness) cycle(t *testing.T, ctx context.Context, paths ...string) *Report {
	t.Helper()
	changes := make([]classify.FileChange, 0, len(paths))
	for _, path := range paths {
		changes = append(changes, classify.FileChange{Path: path})
	}
	report, err := h.driver.OnFilesChanged(ctx, changes)
	require.NoError(t, err)
	require.NotNil(t, report)
	return report
}

func names(ids []unitgraph.UnitID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func staleUnits(report *Report) []string {
	var out []string
	for _, u := range report.Units {
		if u.Stale {
			out = append(out, u.Unit.String())
		}
	}
	return out
}

func unitReport(t *testing.T, report *Report, id string) UnitReport {
	t.Helper()
	unit, err := unitgraph.ParseUnitID(id)
	require.NoError(t, err)
	r, ok := report.Unit(unit)
	require.True(t, ok, "no report for %s", id)
	return r
}

func TestNewDriver_RequiresCollaborators(t *testing.T) {
	_, err := NewDriver(Config{})
	assert.Error(t, err)

	_, err = NewDriver(Config{Graph: unitgraph.New(), Index: declindex.New(), Parser: lineParser{}})
	assert.ErrorContains(t, err, "compiler")
}

func TestDriver_InitialBuildCompilesEveryUnit(t *testing.T) {
	h := newHarness(t, simpleFixture())

	report := h.buildAll(t)

	assert.Equal(t, []string{"c:common", "c:js", "c:jvm"}, names(report.Dirty))
	assert.Equal(t, []string{"c:common", "c:js", "c:jvm"}, names(report.Compiled))
	assert.Empty(t, report.Failed)
	assert.True(t, report.Succeeded())
	assert.NoError(t, report.Err())
	assert.NotEmpty(t, report.Session)
	assert.Contains(t, unitReport(t, report, "c:js").Reasons, "unbuilt")
	assert.NotEmpty(t, unitReport(t, report, "c:jvm").Fingerprint)
	assert.Equal(t, StageIdle, h.driver.Stage())
}

func TestDriver_RepeatedCycleIsIdempotent(t *testing.T) {
	h := newHarness(t, simpleFixture())
	h.buildAll(t)

	edit := map[string]string{"/simple/c/common/c.kt": "expect c Int\ncHelper Long = 1"}
	first := h.edit(t, edit)
	require.Equal(t, []string{"c:common", "c:js", "c:jvm"}, names(first.Dirty))

	second := h.edit(t, edit)

	assert.Empty(t, second.Dirty)
	assert.Empty(t, second.Compiled)
	for _, u := range second.Units {
		assert.Equal(t, StateUpToDate, u.State, u.Unit.String())
		assert.Equal(t, unitReport(t, first, u.Unit.String()).Fingerprint, u.Fingerprint)
	}
}

func TestDriver_CommentOnlyEditCommitsWithoutCompiling(t *testing.T) {
	h := newHarness(t, simpleFixture())
	h.buildAll(t)

	report := h.edit(t, map[string]string{"/simple/c/common/c.kt": "\n\nexpect c Int\ncHelper Int = 1\n"})

	assert.Empty(t, report.Dirty)
	decls := h.index.Declarations(unitgraph.UnitID{Module: "c", Target: "common"})
	assert.Equal(t, 3, decls[declindex.SignatureKey{Name: "c", Kind: frontend.KindFunction}].Line)
}

func TestDriver_ExpectChangeFailsUntilActualsFollow(t *testing.T) {
	parser := frontend.NewTreeSitterParser()
	h := newHarness(t, projectFixture{
		name: "k",
		units: []fixtureUnit{
			{id: "lib:common"},
			{id: "lib:jvm", platform: "jvm", deps: []string{"lib:common"}},
			{id: "lib:js", platform: "js", deps: []string{"lib:common"}},
		},
		files: map[string]string{
			"/k/lib/common/F.kt": "package lib\n\nexpect fun f(): Int\n",
			"/k/lib/jvm/F.kt":    "package lib\n\nactual fun f(): Int = 1\n",
			"/k/lib/js/F.kt":     "package lib\n\nactual fun f(): Int = 2\n",
		},
	}, func(cfg *Config) {
		cfg.Parser = parser
		cfg.Compiler = compiler.NewChecker(parser)
	})
	require.Equal(t, []string{"lib:common", "lib:js", "lib:jvm"}, names(h.buildAll(t).Compiled))

	report := h.edit(t, map[string]string{"/k/lib/common/F.kt": "package lib\n\nexpect fun f(): String\n"})

	assert.Equal(t, []string{"lib:common", "lib:js", "lib:jvm"}, names(report.Dirty))
	assert.Equal(t, []string{"lib:common"}, names(report.Compiled))
	assert.Equal(t, []string{"lib:js", "lib:jvm"}, names(report.Failed))
	jvm := unitReport(t, report, "lib:jvm")
	assert.Equal(t, CauseUnresolvedExpect, jvm.Cause)
	assert.Equal(t, []declindex.SignatureKey{{Name: "f", Kind: frontend.KindFunction}}, jvm.Keys)
	assert.NotEmpty(t, jvm.Diagnostics)

	err := report.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvedExpect))
	var unitErr *UnitError
	require.True(t, errors.As(err, &unitErr))
	assert.Equal(t, "lib", unitErr.Unit.Module)

	report = h.edit(t, map[string]string{"/k/lib/jvm/F.kt": "package lib\n\nactual fun f(): String = \"jvm\"\n"})

	assert.Equal(t, []string{"lib:jvm"}, names(report.Dirty))
	assert.Equal(t, []string{"lib:jvm"}, names(report.Compiled))
	assert.Equal(t, []string{"lib:js"}, staleUnits(report))
	assert.Equal(t, StateFailed, unitReport(t, report, "lib:js").State)
	assert.NoError(t, report.Err())
	assert.False(t, report.Succeeded())

	report = h.edit(t, map[string]string{"/k/lib/js/F.kt": "package lib\n\nactual fun f(): String = \"js\"\n"})

	assert.Equal(t, []string{"lib:js"}, names(report.Dirty))
	assert.True(t, report.Succeeded())
}

type cancellingCompiler struct {
	compiler.Compiler
	unit   unitgraph.UnitID
	cancel context.CancelFunc
}

func (c *cancellingCompiler) Compile(ctx context.Context, req compiler.Request) (compiler.Result, error) {
	if req.Unit.ID == c.unit && c.cancel != nil {
		c.cancel()
	}
	return c.Compiler.Compile(ctx, req)
}

func TestDriver_CancelledUnitsAreRetriedNextCycle(t *testing.T) {
	cc := &cancellingCompiler{Compiler: compiler.NewChecker(lineParser{})}
	h := newHarness(t, simpleFixture(), func(cfg *Config) {
		cfg.Compiler = cc
		cfg.Parallelism = 1
	})
	h.buildAll(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cc.unit = unitgraph.UnitID{Module: "c", Target: "common"}
	cc.cancel = cancel

	h.files["/simple/c/common/c.kt"] = "expect c Int\ncHelper Long = 1"
	report := h.cycle(t, ctx, "/simple/c/common/c.kt")

	assert.Equal(t, []string{"c:common", "c:js", "c:jvm"}, names(report.Cancelled))
	assert.Empty(t, report.Compiled)
	assert.True(t, errors.Is(report.Err(), ErrCancelled))
	assert.Equal(t, []string{"/simple/c/common/c.kt"}, h.driver.Checkpoint().Pending)

	cc.cancel = nil
	report = h.cycle(t, context.Background())

	assert.Equal(t, []string{"c:common", "c:js", "c:jvm"}, names(report.Compiled))
	assert.Empty(t, h.driver.Checkpoint().Pending)
}

func TestDriver_SyntaxErrorBlocksDependentsUntilFixed(t *testing.T) {
	h := newHarness(t, simpleFixture())
	h.buildAll(t)

	report := h.edit(t, map[string]string{"/simple/c/common/c.kt": "expect c Int\ncHelper Int = 1\n!"})

	assert.Equal(t, []string{"c:common"}, names(report.Dirty))
	assert.Equal(t, []string{"c:common"}, names(report.Failed))
	common := unitReport(t, report, "c:common")
	assert.Equal(t, CauseCompileFailure, common.Cause)
	require.Len(t, common.Diagnostics, 1)
	assert.Equal(t, 3, common.Diagnostics[0].Line)

	report = h.edit(t, map[string]string{"/simple/c/jvm/c.kt": "actual c Int = 1\npJvm Int = 20"})

	assert.Equal(t, []string{"c:common", "c:jvm"}, names(report.Dirty))
	assert.Equal(t, []string{"c:common"}, names(report.Failed))
	assert.Equal(t, []string{"c:jvm"}, names(report.Skipped))
	jvm := unitReport(t, report, "c:jvm")
	assert.Equal(t, CauseUpstreamFailure, jvm.Cause)
	assert.Equal(t, []string{"c:common"}, names(jvm.BlockedBy))
	assert.True(t, errors.Is(report.Err(), ErrUpstreamFailure))

	report = h.edit(t, map[string]string{"/simple/c/common/c.kt": "expect c Int\ncHelper Int = 1"})

	assert.Equal(t, []string{"c:common", "c:jvm"}, names(report.Dirty))
	assert.Equal(t, []string{"c:common", "c:jvm"}, names(report.Compiled))
	assert.True(t, report.Succeeded())
}

func TestDriver_DeletedFileLeavesUnitSources(t *testing.T) {
	var seen []string
	recorder := compilerFunc(func(_ context.Context, req compiler.Request) (compiler.Result, error) {
		if req.Unit.ID.Target == "jvm" {
			seen = seen[:0]
			for _, s := range req.Sources {
				seen = append(seen, s.Path)
			}
		}
		return compiler.Result{Success: true}, nil
	})
	h := newHarness(t, simpleFixture(), func(cfg *Config) {
		cfg.Compiler = recorder
		cfg.Parallelism = 1
	})
	h.buildAll(t)
	assert.Equal(t, []string{"/simple/c/jvm/J.java", "/simple/c/jvm/c.kt"}, seen)

	report := h.edit(t, map[string]string{"/simple/c/jvm/J.java": ""})

	assert.Equal(t, []string{"c:jvm"}, names(report.Dirty))
	assert.Equal(t, []string{"/simple/c/jvm/c.kt"}, seen)
	assert.Equal(t, []string{"/simple/c/jvm/c.kt"}, h.index.Files(unitgraph.UnitID{Module: "c", Target: "jvm"}))
}

type compilerFunc func(ctx context.Context, req compiler.Request) (compiler.Result, error)

func (f compilerFunc) Compile(ctx context.Context, req compiler.Request) (compiler.Result, error) {
	return f(ctx, req)
}

func TestDriver_StageIsCompilingWhileUnitsBuild(t *testing.T) {
	var h *harness
	var stages []Stage
	h = newHarness(t, simpleFixture(), func(cfg *Config) {
		cfg.Parallelism = 1
		cfg.Compiler = compilerFunc(func(context.Context, compiler.Request) (compiler.Result, error) {
			stages = append(stages, h.driver.Stage())
			return compiler.Result{Success: true}, nil
		})
	})

	h.buildAll(t)

	assert.Equal(t, []Stage{StageCompiling, StageCompiling, StageCompiling}, stages)
	assert.Equal(t, StageIdle, h.driver.Stage())
}

func TestDriver_CompilerErrorFailsUnit(t *testing.T) {
	h := newHarness(t, simpleFixture(), func(cfg *Config) {
		cfg.Compiler = compilerFunc(func(_ context.Context, req compiler.Request) (compiler.Result, error) {
			if req.Unit.ID.Target == "js" {
				return compiler.Result{}, errors.New("toolchain missing")
			}
			return compiler.Result{Success: true}, nil
		})
	})

	report := h.buildAll(t)

	assert.Equal(t, []string{"c:js"}, names(report.Failed))
	js := unitReport(t, report, "c:js")
	assert.Equal(t, CauseCompileFailure, js.Cause)
	require.Len(t, js.Diagnostics, 1)
	assert.Contains(t, js.Diagnostics[0].Message, "toolchain missing")
	assert.True(t, errors.Is(report.Err(), ErrCompileFailure))
}

func TestDriver_PlanDoesNotCommit(t *testing.T) {
	h := newHarness(t, simpleFixture())
	h.buildAll(t)
	h.files["/simple/c/common/c.kt"] = "expect c Long\ncHelper Int = 1"
	changes := []classify.FileChange{{Path: "/simple/c/common/c.kt"}, {Path: "/elsewhere/notes.txt"}}

	plan, err := h.driver.Plan(context.Background(), changes)
	require.NoError(t, err)

	assert.Equal(t, []string{"c:common", "c:js", "c:jvm"}, names(plan.IDs()))
	assert.Equal(t, []string{"/elsewhere/notes.txt"}, plan.Unowned)
	require.Len(t, plan.Dirty[1].Problems, 1)
	assert.Equal(t, declindex.UnresolvedExpect, plan.Dirty[1].Problems[0].Kind)

	report, err := h.driver.OnFilesChanged(context.Background(), changes)
	require.NoError(t, err)
	assert.Equal(t, plan.IDs(), report.Dirty)
	assert.Equal(t, []string{"/elsewhere/notes.txt"}, report.Unowned)
}

func TestDriver_CheckpointRestoresStaleStates(t *testing.T) {
	h := newHarness(t, simpleFixture())
	h.buildAll(t)
	h.edit(t, map[string]string{"/simple/c/jvm/c.kt": "actual c Long = 1\npJvm Int = 2"})
	cp := h.driver.Checkpoint()
	require.Equal(t, StateFailed, cp.Outcomes[unitgraph.UnitID{Module: "c", Target: "jvm"}].State)
	require.Equal(t, []string{"/simple/c/jvm/c.kt"}, cp.Pending)

	restored, err := NewDriver(Config{
		Graph:    h.graph,
		Index:    h.index,
		Parser:   lineParser{},
		Compiler: compiler.NewChecker(lineParser{}),
		Reader:   vcs.MapContentReader(h.files),
	})
	require.NoError(t, err)
	restored.Restore(cp)

	report, err := restored.OnFilesChanged(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"c:common", "c:jvm"}, names(report.Dirty))
	assert.Equal(t, []string{"c:jvm"}, names(report.Failed))
	assert.Equal(t, CauseUnresolvedExpect, unitReport(t, report, "c:jvm").Cause)
}

func TestDriver_SecondActualInSameUnitIsDuplicate(t *testing.T) {
	h := newHarness(t, simpleFixture())
	h.buildAll(t)

	report := h.edit(t, map[string]string{"/simple/c/jvm/b.kt": "actual c Int = 2"})

	assert.Equal(t, []string{"c:jvm"}, names(report.Failed))
	jvm := unitReport(t, report, "c:jvm")
	assert.Equal(t, CauseDuplicateActual, jvm.Cause)
	assert.Equal(t, []declindex.SignatureKey{{Name: "c", Kind: frontend.KindFunction}}, jvm.Keys)
	assert.True(t, errors.Is(report.Err(), ErrDuplicateActual))

	report = h.edit(t, map[string]string{"/simple/c/jvm/b.kt": ""})

	assert.Contains(t, names(report.Compiled), "c:jvm")
	assert.True(t, report.Succeeded())
}

func TestDriver_ConsumersStartAfterProducersFinish(t *testing.T) {
	var mu sync.Mutex
	var clock int
	started := make(map[unitgraph.UnitID]int)
	finished := make(map[unitgraph.UnitID]int)
	tick := func(into map[unitgraph.UnitID]int, id unitgraph.UnitID) {
		mu.Lock()
		defer mu.Unlock()
		clock++
		into[id] = clock
	}

	jsStarted := make(chan struct{})
	overlapped := false
	checker := compiler.NewChecker(lineParser{})
	h := newHarness(t, ultimateFixture(), func(cfg *Config) {
		cfg.Parallelism = 4
		cfg.Compiler = compilerFunc(func(ctx context.Context, req compiler.Request) (compiler.Result, error) {
			id := req.Unit.ID
			tick(started, id)
			defer tick(finished, id)

			// a:jvm and a:js share a level; a:jvm waits for a:js to start.
			switch id.String() {
			case "a:js":
				close(jsStarted)
			case "a:jvm":
				select {
				case <-jsStarted:
					overlapped = true
				case <-time.After(5 * time.Second):
				}
			}
			time.Sleep(5 * time.Millisecond)
			return checker.Compile(ctx, req)
		})
	})

	report := h.buildAll(t)

	require.Len(t, report.Compiled, 8)
	assert.Len(t, started, 8)
	assert.True(t, overlapped, "units of one level did not compile concurrently")
	for _, unit := range h.graph.Units() {
		for _, dep := range unit.Dependencies {
			assert.Greater(t, started[unit.ID], finished[dep], "%s started before %s finished", unit.ID, dep)
		}
	}
}
