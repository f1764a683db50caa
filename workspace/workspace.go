// Package workspace ties a project configuration, its persisted build state
// and a build driver together for the command line hosts.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/pflag"

	"github.com/LegacyCodeHQ/mpptrack/build"
	"github.com/LegacyCodeHQ/mpptrack/classify"
	"github.com/LegacyCodeHQ/mpptrack/compiler"
	"github.com/LegacyCodeHQ/mpptrack/declindex"
	"github.com/LegacyCodeHQ/mpptrack/frontend"
	"github.com/LegacyCodeHQ/mpptrack/internal/logging"
	"github.com/LegacyCodeHQ/mpptrack/project"
	"github.com/LegacyCodeHQ/mpptrack/state"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
	"github.com/LegacyCodeHQ/mpptrack/vcs/git"
)

// Options configures Open.
type Options struct {
	// ConfigPath is the project file. Defaults to project.DefaultFile.
	ConfigPath string
	// Flags override configuration values by key.
	Flags *pflag.FlagSet
	// Logger is used as is when set. Otherwise a logger writing to LogWriter
	// at the configured verbosity is built, or slog.Default is used.
	Logger    *slog.Logger
	LogWriter io.Writer
	// Verbose forces debug logging.
	Verbose bool
	// Compiler replaces the configured backend.
	Compiler compiler.Compiler
}

// Workspace is an opened project.
type Workspace struct {
	Config *project.Config
	Graph  *unitgraph.Graph

	driver *build.Driver
	index  *declindex.Index
	store  *state.Store
	logger *slog.Logger

	mu     sync.Mutex
	hashes map[string]string
	sig    string
}

// Open loads the project configuration and the state saved by the last run.
// Saved state written for a different unit graph is discarded.
func Open(opts Options) (*Workspace, error) {
	cfg, err := project.Load(opts.ConfigPath, opts.Flags)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, opts)
	if err != nil {
		return nil, err
	}
	g, err := cfg.Graph()
	if err != nil {
		return nil, fmt.Errorf("failed to build unit graph: %w", err)
	}

	parser, err := frontend.NewCachedParser(frontend.NewTreeSitterParser(), frontend.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	backend := opts.Compiler
	if backend == nil {
		backend, err = compiler.New(cfg.Compiler.Backend, cfg.Compiler.Command, parser)
		if err != nil {
			return nil, err
		}
	}

	store, err := state.NewStore(cfg.StateDir())
	if err != nil {
		return nil, err
	}
	sig := state.GraphSignature(g)
	st, err := loadState(store, sig, logger)
	if err != nil {
		return nil, err
	}

	index := declindex.New()
	index.Restore(st.Index)

	driver, err := build.NewDriver(build.Config{
		Graph:       g,
		Index:       index,
		Parser:      parser,
		Compiler:    backend,
		Parallelism: cfg.Parallelism,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	driver.Restore(st.Driver)

	logger.Debug("Workspace opened", "config", cfg.Path, "units", g.Len(), "state", store.Path())
	return &Workspace{
		Config: cfg,
		Graph:  g,
		driver: driver,
		index:  index,
		store:  store,
		logger: logger,
		hashes: st.Files,
		sig:    sig,
	}, nil
}

func newLogger(cfg *project.Config, opts Options) (*slog.Logger, error) {
	switch {
	case opts.Logger != nil:
		return opts.Logger, nil
	case opts.LogWriter == nil:
		return slog.Default(), nil
	}
	level, err := logging.ParseLevel(cfg.Verbosity)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return logging.New(opts.LogWriter, logging.Options{Level: level, JSON: cfg.Log.JSON}), nil
}

func loadState(store *state.Store, sig string, logger *slog.Logger) (*state.State, error) {
	st, err := store.Load()
	switch {
	case errors.Is(err, state.ErrNoState):
		return state.New(sig), nil
	case errors.Is(err, state.ErrIncompatible):
		logger.Warn("Discarding saved build state", "reason", err.Error())
		return state.New(sig), nil
	case err != nil:
		return nil, err
	}
	if st.Graph != sig {
		logger.Info("Unit graph changed, rebuilding from scratch")
		return state.New(sig), nil
	}
	return st, nil
}

// Logger returns the logger the workspace was opened with.
func (w *Workspace) Logger() *slog.Logger {
	return w.logger
}

// Stage returns the stage of the running build cycle.
func (w *Workspace) Stage() build.Stage {
	return w.driver.Stage()
}

// DetectChanges compares every source file under the unit source roots with
// the content hashes recorded by the last build. Files that disappeared are
// reported as deleted.
func (w *Workspace) DetectChanges(ctx context.Context) ([]classify.FileChange, error) {
	files, err := scanSources(ctx, w.Graph)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var changes []classify.FileChange
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if w.hashes[path] != state.HashContent(content) {
			changes = append(changes, classify.FileChange{Path: path, Content: content})
		}
	}

	present := make(map[string]bool, len(files))
	for _, path := range files {
		present[path] = true
	}
	for path := range w.hashes {
		if !present[path] {
			changes = append(changes, classify.FileChange{Path: path, Deleted: true})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

// UncommittedChanges lists the source files git reports as staged,
// unstaged or untracked in the repository holding the project.
func (w *Workspace) UncommittedChanges(ctx context.Context) ([]classify.FileChange, error) {
	files, err := git.UncommittedFiles(ctx, w.Config.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to list uncommitted files: %w", err)
	}

	var changes []classify.FileChange
	for _, file := range files {
		if !frontend.IsSourceFile(file.Path) {
			continue
		}
		changes = append(changes, classify.FileChange{Path: file.Path, Deleted: file.Deleted})
	}
	return changes, nil
}

// Changes turns explicit paths into file changes. Content is read by the
// driver; paths that no longer exist count as deleted.
func (w *Workspace) Changes(paths []string) ([]classify.FileChange, error) {
	changes := make([]classify.FileChange, 0, len(paths))
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		changes = append(changes, classify.FileChange{Path: abs})
	}
	return changes, nil
}

// Build runs one build cycle and persists the resulting state.
func (w *Workspace) Build(ctx context.Context, changes []classify.FileChange) (*build.Report, error) {
	report, err := w.driver.OnFilesChanged(ctx, changes)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.record(report.Inputs)
	if err := w.save(); err != nil {
		return report, err
	}
	return report, nil
}

// Plan computes the dirty set for changes without compiling.
func (w *Workspace) Plan(ctx context.Context, changes []classify.FileChange) (*build.Plan, error) {
	return w.driver.Plan(ctx, changes)
}

// record stores the hashes of the content the cycle classified, so that an
// edit saved while units compiled is detected by the next scan. Must be
// called with mu held.
func (w *Workspace) record(inputs []classify.FileChange) {
	for _, change := range inputs {
		if _, ok := w.Graph.UnitForFile(change.Path); !ok || !frontend.IsSourceFile(change.Path) {
			continue
		}
		if change.Deleted {
			delete(w.hashes, change.Path)
			continue
		}
		w.hashes[change.Path] = state.HashContent(change.Content)
	}
}

func (w *Workspace) save() error {
	st := state.New(w.sig)
	st.Index = w.index.Snapshot()
	st.Driver = w.driver.Checkpoint()
	for path, hash := range w.hashes {
		st.Files[path] = hash
	}
	if err := w.store.Save(st); err != nil {
		return fmt.Errorf("failed to save build state: %w", err)
	}
	w.logger.Debug("Build state saved", "path", w.store.Path(), "files", len(st.Files))
	return nil
}
