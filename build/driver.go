// Package build runs incremental build cycles over a unit graph: it
// classifies file edits, propagates them into a dirty set, compiles the
// dirty units level by level and commits what built.
package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/LegacyCodeHQ/mpptrack/classify"
	"github.com/LegacyCodeHQ/mpptrack/compiler"
	"github.com/LegacyCodeHQ/mpptrack/declindex"
	"github.com/LegacyCodeHQ/mpptrack/frontend"
	"github.com/LegacyCodeHQ/mpptrack/propagate"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
	"github.com/LegacyCodeHQ/mpptrack/vcs"
)

// Config wires a Driver.
type Config struct {
	Graph    *unitgraph.Graph
	Index    *declindex.Index
	Parser   frontend.Parser
	Compiler compiler.Compiler
	// Reader reads source files that are not part of the changed batch.
	// Defaults to the filesystem.
	Reader vcs.ContentReader
	// Parallelism limits concurrent compilations per level. Defaults to
	// GOMAXPROCS.
	Parallelism int
	Logger      *slog.Logger
}

// Outcome is the last known terminal state of a unit.
type Outcome struct {
	State UnitState                `json:"state"`
	Cause Cause                    `json:"cause,omitempty"`
	Keys  []declindex.SignatureKey `json:"keys,omitempty"`
}

// Checkpoint is the driver state that survives between processes.
type Checkpoint struct {
	Outcomes map[unitgraph.UnitID]Outcome `json:"outcomes"`
	// Pending lists edited files of units that did not build. They are
	// classified again on every cycle until their unit succeeds.
	Pending []string `json:"pending,omitempty"`
}

// Driver runs build cycles. Cycles are serialized; units within a cycle
// compile concurrently.
type Driver struct {
	graph       *unitgraph.Graph
	index       *declindex.Index
	parser      frontend.Parser
	compiler    compiler.Compiler
	reader      vcs.ContentReader
	parallelism int
	logger      *slog.Logger

	cycle    sync.Mutex
	commitMu sync.Mutex
	stage    atomic.Int32

	mu       sync.Mutex
	outcomes map[unitgraph.UnitID]Outcome
	pending  map[string]bool
}

// NewDriver creates a driver over cfg.
func NewDriver(cfg Config) (*Driver, error) {
	switch {
	case cfg.Graph == nil:
		return nil, errors.New("build driver requires a unit graph")
	case cfg.Index == nil:
		return nil, errors.New("build driver requires a declaration index")
	case cfg.Parser == nil:
		return nil, errors.New("build driver requires a parser")
	case cfg.Compiler == nil:
		return nil, errors.New("build driver requires a compiler")
	}

	reader := cfg.Reader
	if reader == nil {
		reader = vcs.FilesystemContentReader()
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{
		graph:       cfg.Graph,
		index:       cfg.Index,
		parser:      cfg.Parser,
		compiler:    cfg.Compiler,
		reader:      reader,
		parallelism: parallelism,
		logger:      logger,
		outcomes:    make(map[unitgraph.UnitID]Outcome),
		pending:     make(map[string]bool),
	}, nil
}

// Stage returns the stage of the running cycle, or StageIdle.
func (d *Driver) Stage() Stage {
	return Stage(d.stage.Load())
}

func (d *Driver) setStage(logger *slog.Logger, stage Stage) {
	d.stage.Store(int32(stage))
	logger.Debug("Build stage", "stage", stage.String())
}

// Checkpoint returns a copy of the driver's cross-cycle state.
func (d *Driver) Checkpoint() Checkpoint {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := Checkpoint{Outcomes: make(map[unitgraph.UnitID]Outcome, len(d.outcomes))}
	for id, o := range d.outcomes {
		cp.Outcomes[id] = o
	}
	for path := range d.pending {
		cp.Pending = append(cp.Pending, path)
	}
	sort.Strings(cp.Pending)
	return cp
}

// Restore replaces the driver's cross-cycle state. Outcomes of units that
// are no longer in the graph are dropped.
func (d *Driver) Restore(cp Checkpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.outcomes = make(map[unitgraph.UnitID]Outcome, len(cp.Outcomes))
	for id, o := range cp.Outcomes {
		if _, ok := d.graph.Unit(id); ok {
			d.outcomes[id] = o
		}
	}
	d.pending = make(map[string]bool, len(cp.Pending))
	for _, path := range cp.Pending {
		d.pending[filepath.Clean(path)] = true
	}
}

func (d *Driver) outcome(id unitgraph.UnitID) (Outcome, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.outcomes[id]
	return o, ok
}

// cyclePlan is everything the compile stage needs from classification and
// propagation.
type cyclePlan struct {
	working    *declindex.Working
	classified *classify.Result
	current    declindex.LinkResult
	dirty      *propagate.DirtySet
	changes    []classify.FileChange
	overlay    map[string][]byte
}

// Plan classifies files and propagates the result without compiling or
// committing anything.
func (d *Driver) Plan(ctx context.Context, files []classify.FileChange) (*Plan, error) {
	d.cycle.Lock()
	defer d.cycle.Unlock()

	logger := d.logger.With("session", uuid.NewString())
	defer d.setStage(logger, StageIdle)

	p, err := d.plan(ctx, logger, files)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Unowned: p.classified.Unowned}
	for _, u := range p.dirty.Units {
		plan.Dirty = append(plan.Dirty, PlannedUnit{
			Unit:     u.Unit,
			Reasons:  u.Reasons,
			Keys:     u.Keys,
			Problems: p.current.ProblemsFor(u.Unit),
		})
	}
	return plan, nil
}

// OnFilesChanged runs one build cycle for the changed files. Files carrying
// neither content nor a deletion mark are read through the configured
// reader; unreadable files that no longer exist count as deleted.
//
// The returned error reports failures of the driver itself. Unit failures
// are reported through the Report.
func (d *Driver) OnFilesChanged(ctx context.Context, files []classify.FileChange) (*Report, error) {
	d.cycle.Lock()
	defer d.cycle.Unlock()

	session := uuid.NewString()
	logger := d.logger.With("session", session)
	defer d.setStage(logger, StageIdle)

	logger.Info("Build cycle started", "files", len(files))

	p, err := d.plan(ctx, logger, files)
	if err != nil {
		return nil, err
	}
	logger.Info("Dirty set computed", "units", p.dirty.Len())

	d.setStage(logger, StageCompiling)
	results := d.compileAll(ctx, logger, p)

	d.setStage(logger, StageCommitting)
	report := d.finish(logger, p, results)
	report.Session = session
	report.Inputs = p.changes

	logger.Info("Build cycle finished",
		"compiled", len(report.Compiled),
		"failed", len(report.Failed),
		"skipped", len(report.Skipped),
		"cancelled", len(report.Cancelled))
	return report, nil
}

func (d *Driver) plan(ctx context.Context, logger *slog.Logger, files []classify.FileChange) (*cyclePlan, error) {
	d.setStage(logger, StageClassifying)

	changes, overlay, err := d.collect(files)
	if err != nil {
		return nil, err
	}

	working := d.index.Begin(d.graph)
	prior := d.index.Links(d.graph)
	classified, err := classify.New(d.graph, d.parser, logger).Classify(ctx, working, changes)
	if err != nil {
		return nil, fmt.Errorf("failed to classify changes: %w", err)
	}
	for _, change := range classified.Changes {
		logger.Debug("Declaration changed", "unit", change.Unit.String(), "key", change.Key.String(), "kind", change.Kind.String())
	}

	d.setStage(logger, StagePropagating)
	current := working.LinkExpectActual()
	in := propagate.Input{
		Changes:  classified.Changes,
		Prior:    prior,
		Current:  current,
		Retry:    d.retryUnits(changes, classified),
		Unbuilt:  d.unbuilt(),
		Reported: d.reportedKeys(),
	}
	dirty := propagate.Propagate(d.graph, in)
	if unblocked := d.unblocked(dirty); len(unblocked) > 0 {
		in.Retry = append(in.Retry, unblocked...)
		dirty = propagate.Propagate(d.graph, in)
	}
	for _, u := range dirty.Units {
		logger.Debug("Unit dirty", "unit", u.Unit.String(), "reasons", u.Describe())
	}

	return &cyclePlan{
		working:    working,
		classified: classified,
		current:    current,
		dirty:      dirty,
		changes:    changes,
		overlay:    overlay,
	}, nil
}

// collect merges the batch with the pending files of earlier cycles and
// loads their content.
func (d *Driver) collect(files []classify.FileChange) ([]classify.FileChange, map[string][]byte, error) {
	d.mu.Lock()
	pending := make([]string, 0, len(d.pending))
	for path := range d.pending {
		pending = append(pending, path)
	}
	d.mu.Unlock()
	sort.Strings(pending)

	var changes []classify.FileChange
	overlay := make(map[string][]byte)
	seen := make(map[string]bool)

	add := func(change classify.FileChange) error {
		change.Path = filepath.Clean(change.Path)
		if seen[change.Path] {
			return nil
		}
		seen[change.Path] = true

		if !change.Deleted && change.Content == nil {
			content, err := d.reader(change.Path)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				change.Deleted = true
			case err != nil:
				return fmt.Errorf("failed to read %s: %w", change.Path, err)
			default:
				change.Content = content
			}
		}
		if !change.Deleted {
			overlay[change.Path] = change.Content
		}
		changes = append(changes, change)
		return nil
	}

	for _, file := range files {
		if err := add(file); err != nil {
			return nil, nil, err
		}
	}
	for _, path := range pending {
		if err := add(classify.FileChange{Path: path}); err != nil {
			return nil, nil, err
		}
	}
	return changes, overlay, nil
}

// retryUnits returns the units that must compile regardless of their
// declaration changes: owners of pending files and units with syntax errors.
func (d *Driver) retryUnits(changes []classify.FileChange, classified *classify.Result) []unitgraph.UnitID {
	d.mu.Lock()
	pending := make(map[string]bool, len(d.pending))
	for path := range d.pending {
		pending[path] = true
	}
	d.mu.Unlock()

	units := make(map[unitgraph.UnitID]bool)
	for _, change := range changes {
		if !pending[change.Path] {
			continue
		}
		if unit, ok := d.graph.UnitForFile(change.Path); ok {
			units[unit] = true
		}
	}
	for _, unit := range classified.Broken() {
		units[unit] = true
	}

	ids := make([]unitgraph.UnitID, 0, len(units))
	for unit := range units {
		ids = append(ids, unit)
	}
	unitgraph.SortIDs(ids)
	return ids
}

// reportedKeys returns the linkage keys of units whose last attempt failed.
func (d *Driver) reportedKeys() map[unitgraph.UnitID][]declindex.SignatureKey {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make(map[unitgraph.UnitID][]declindex.SignatureKey)
	for id, o := range d.outcomes {
		if o.State == StateFailed && len(o.Keys) > 0 {
			keys[id] = o.Keys
		}
	}
	return keys
}

// unbuilt returns the units without a committed fingerprint.
func (d *Driver) unbuilt() []unitgraph.UnitID {
	var ids []unitgraph.UnitID
	for _, id := range d.graph.TopologicalOrder() {
		if _, ok := d.index.UnitFingerprint(id); !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// unblocked returns the units left skipped or cancelled by an earlier cycle
// whose dependencies are no longer blocking: each one is either being
// rebuilt or last finished in a non-blocking state.
func (d *Driver) unblocked(dirty *propagate.DirtySet) []unitgraph.UnitID {
	building := make(map[unitgraph.UnitID]bool)
	for _, id := range dirty.IDs() {
		building[id] = true
	}

	var ids []unitgraph.UnitID
	for _, id := range d.graph.TopologicalOrder() {
		if building[id] {
			continue
		}
		last, ok := d.outcome(id)
		if !ok || (last.State != StateSkipped && last.State != StateCancelled) {
			continue
		}

		unit, _ := d.graph.Unit(id)
		blocked := false
		for _, dep := range unit.Dependencies {
			if building[dep] {
				continue
			}
			if o, ok := d.outcome(dep); ok && o.State.Blocking() {
				blocked = true
				break
			}
		}
		if !blocked {
			building[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// levels groups the dirty units by depth, keeping topological order within
// a level.
func (d *Driver) levels(dirty *propagate.DirtySet) [][]propagate.DirtyUnit {
	depths := d.graph.Depths()
	byDepth := make(map[int][]propagate.DirtyUnit)
	for _, u := range dirty.Units {
		depth := depths[u.Unit]
		byDepth[depth] = append(byDepth[depth], u)
	}

	keys := make([]int, 0, len(byDepth))
	for depth := range byDepth {
		keys = append(keys, depth)
	}
	sort.Ints(keys)

	levels := make([][]propagate.DirtyUnit, 0, len(keys))
	for _, depth := range keys {
		levels = append(levels, byDepth[depth])
	}
	return levels
}

func (d *Driver) compileAll(ctx context.Context, logger *slog.Logger, p *cyclePlan) map[unitgraph.UnitID]UnitReport {
	var mu sync.Mutex
	results := make(map[unitgraph.UnitID]UnitReport, p.dirty.Len())
	lookup := func(id unitgraph.UnitID) (UnitReport, bool) {
		mu.Lock()
		defer mu.Unlock()
		r, ok := results[id]
		return r, ok
	}

	for _, level := range d.levels(p.dirty) {
		var g errgroup.Group
		g.SetLimit(d.parallelism)
		for _, dirty := range level {
			g.Go(func() error {
				r := d.compileUnit(ctx, p, dirty, lookup)
				logUnit(logger, r)

				mu.Lock()
				results[dirty.Unit] = r
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}
	return results
}

func logUnit(logger *slog.Logger, r UnitReport) {
	switch r.State {
	case StateSuccess:
		logger.Info("Unit compiled", "unit", r.Unit.String())
	case StateFailed:
		logger.Warn("Unit failed", "unit", r.Unit.String(), "cause", string(r.Cause), "diagnostics", len(r.Diagnostics))
	default:
		logger.Info("Unit not compiled", "unit", r.Unit.String(), "state", string(r.State))
	}
}

func (d *Driver) compileUnit(ctx context.Context, p *cyclePlan, dirty propagate.DirtyUnit, lookup func(unitgraph.UnitID) (UnitReport, bool)) UnitReport {
	id := dirty.Unit
	report := UnitReport{Unit: id, Reasons: dirty.Reasons}
	unit, _ := d.graph.Unit(id)

	if ctx.Err() != nil {
		report.State, report.Cause = StateCancelled, CauseCancelled
		return report
	}
	if blockers := d.blockers(unit, lookup); len(blockers) > 0 {
		report.State, report.Cause = StateSkipped, CauseUpstreamFailure
		report.BlockedBy = blockers
		return report
	}

	sources, err := d.sources(p, id)
	if err != nil {
		return failed(report, CauseCompileFailure, err)
	}

	problems := p.current.ProblemsFor(id)
	result, err := d.compiler.Compile(ctx, compiler.Request{Unit: unit, Sources: sources, Problems: problems})
	if ctx.Err() != nil {
		report.State, report.Cause = StateCancelled, CauseCancelled
		return report
	}
	if err != nil {
		return failed(report, CauseCompileFailure, fmt.Errorf("failed to compile %s: %w", id, err))
	}
	report.Diagnostics = result.Diagnostics

	switch {
	case len(problems) > 0:
		report.State, report.Cause = StateFailed, causeOf(problems[0].Kind)
		report.Keys = problemKeys(problems)
	case !result.Success:
		report.State, report.Cause = StateFailed, CauseCompileFailure
	default:
		d.commitMu.Lock()
		report.Fingerprint = p.working.Commit(id)
		d.commitMu.Unlock()
		report.State = StateSuccess
	}
	return report
}

func failed(report UnitReport, cause Cause, err error) UnitReport {
	report.State, report.Cause = StateFailed, cause
	report.Diagnostics = append(report.Diagnostics, frontend.Diagnostic{Message: err.Error()})
	return report
}

func problemKeys(problems []declindex.Problem) []declindex.SignatureKey {
	seen := make(map[declindex.SignatureKey]bool)
	var keys []declindex.SignatureKey
	for _, p := range problems {
		if !seen[p.Key] {
			seen[p.Key] = true
			keys = append(keys, p.Key)
		}
	}
	declindex.SortKeys(keys)
	return keys
}

// blockers returns the dependencies of unit that did not build, in this
// cycle or, for dependencies not rebuilt, in the last one.
func (d *Driver) blockers(unit unitgraph.Unit, lookup func(unitgraph.UnitID) (UnitReport, bool)) []unitgraph.UnitID {
	var blockers []unitgraph.UnitID
	for _, dep := range unit.Dependencies {
		if r, ok := lookup(dep); ok {
			if r.State.Blocking() {
				blockers = append(blockers, dep)
			}
			continue
		}
		if o, ok := d.outcome(dep); ok && o.State.Blocking() {
			blockers = append(blockers, dep)
		}
	}
	return blockers
}

// sources loads every working file of unit, preferring this cycle's content.
func (d *Driver) sources(p *cyclePlan, unit unitgraph.UnitID) ([]compiler.SourceFile, error) {
	paths := p.working.Files(unit)
	sources := make([]compiler.SourceFile, 0, len(paths))
	for _, path := range paths {
		content, ok := p.overlay[path]
		if !ok {
			var err error
			content, err = d.reader(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
		}
		sources = append(sources, compiler.SourceFile{Path: path, Content: content})
	}
	return sources, nil
}

// finish commits edited units that needed no compilation, records outcomes
// and pending files, and assembles the report.
func (d *Driver) finish(logger *slog.Logger, p *cyclePlan, results map[unitgraph.UnitID]UnitReport) *Report {
	for _, id := range p.classified.Clean() {
		if p.dirty.Contains(id) {
			continue
		}
		d.commitMu.Lock()
		p.working.Commit(id)
		d.commitMu.Unlock()
		logger.Debug("Committed unit without compiling", "unit", id.String())
	}

	report := &Report{
		Dirty:   p.dirty.IDs(),
		Unowned: p.classified.Unowned,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	pending := make(map[string]bool)
	for _, id := range d.graph.TopologicalOrder() {
		r, ok := results[id]
		if !ok {
			r = d.carried(id)
			report.Units = append(report.Units, r)
			continue
		}

		report.Units = append(report.Units, r)
		d.outcomes[id] = Outcome{State: r.State, Cause: r.Cause, Keys: r.Keys}

		switch r.State {
		case StateSuccess:
			report.Compiled = append(report.Compiled, id)
		case StateFailed:
			report.Failed = append(report.Failed, id)
		case StateSkipped:
			report.Skipped = append(report.Skipped, id)
		case StateCancelled:
			report.Cancelled = append(report.Cancelled, id)
		}
		if r.State.Blocking() {
			for _, path := range p.classified.Files[id] {
				pending[path] = true
			}
		}
	}
	d.pending = pending
	return report
}

// carried reports a unit that was not dirty. The caller holds d.mu.
func (d *Driver) carried(id unitgraph.UnitID) UnitReport {
	if last, ok := d.outcomes[id]; ok && last.State.Blocking() {
		return UnitReport{Unit: id, State: last.State, Cause: last.Cause, Keys: last.Keys, Stale: true}
	}
	fp, _ := d.index.UnitFingerprint(id)
	return UnitReport{Unit: id, State: StateUpToDate, Fingerprint: fp}
}
