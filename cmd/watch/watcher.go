package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/LegacyCodeHQ/mpptrack/build"
	"github.com/LegacyCodeHQ/mpptrack/classify"
	"github.com/LegacyCodeHQ/mpptrack/cmd/units/formatters"
	"github.com/LegacyCodeHQ/mpptrack/frontend"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
	"github.com/LegacyCodeHQ/mpptrack/vcs/git"
	"github.com/LegacyCodeHQ/mpptrack/workspace"
)

const debounceInterval = 300 * time.Millisecond
const gitStatePollInterval = 500 * time.Millisecond

// builder runs build cycles. *workspace.Workspace implements it.
type builder interface {
	Changes(paths []string) ([]classify.FileChange, error)
	DetectChanges(ctx context.Context) ([]classify.FileChange, error)
	Build(ctx context.Context, changes []classify.FileChange) (*build.Report, error)
}

// rebuilder batches changed paths and publishes the report of every cycle.
type rebuilder struct {
	ws       builder
	graph    *unitgraph.Graph
	broker   *broker
	timeline *timeline
	out      io.Writer
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]bool
}

func newRebuilder(ws builder, g *unitgraph.Graph, b *broker, tl *timeline, out io.Writer, logger *slog.Logger) *rebuilder {
	return &rebuilder{
		ws:       ws,
		graph:    g,
		broker:   b,
		timeline: tl,
		out:      out,
		logger:   logger,
		pending:  make(map[string]bool),
	}
}

func (r *rebuilder) queue(path string) {
	r.mu.Lock()
	r.pending[path] = true
	r.mu.Unlock()
}

// takePending returns and clears the queued paths, sorted.
func (r *rebuilder) takePending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.pending))
	for path := range r.pending {
		paths = append(paths, path)
	}
	r.pending = make(map[string]bool)
	sort.Strings(paths)
	return paths
}

// flush builds the queued paths.
func (r *rebuilder) flush(ctx context.Context) {
	paths := r.takePending()
	if len(paths) == 0 {
		return
	}
	changes, err := r.ws.Changes(paths)
	if err != nil {
		r.logger.Error("Failed to resolve changed files", "error", err)
		return
	}
	r.run(ctx, changes)
}

// rescan compares every source file with the last build.
func (r *rebuilder) rescan(ctx context.Context) {
	r.takePending()
	changes, err := r.ws.DetectChanges(ctx)
	if err != nil {
		r.logger.Error("Failed to detect changes", "error", err)
		return
	}
	r.run(ctx, changes)
}

func (r *rebuilder) run(ctx context.Context, changes []classify.FileChange) {
	report, err := r.ws.Build(ctx, changes)
	if err != nil {
		r.logger.Error("Build cycle failed", "error", err)
	}
	if report == nil {
		return
	}
	if err := r.publish(report); err != nil {
		r.logger.Error("Failed to publish report", "error", err)
	}
}

func (r *rebuilder) publish(report *build.Report) error {
	formatter, err := formatters.NewFormatter(formatters.FormatDOT)
	if err != nil {
		return err
	}
	dot, err := formatter.Format(r.graph, formatters.FormatOptions{States: formatters.StatesOf(report)})
	if err != nil {
		return err
	}

	payload, err := json.Marshal(r.timeline.add(report, dot, time.Now()))
	if err != nil {
		return err
	}
	r.broker.publish(string(payload))

	fmt.Fprintf(r.out, "Build %s: %d dirty, %d compiled, %d failed, %d skipped\n",
		report.Session, len(report.Dirty), len(report.Compiled), len(report.Failed), len(report.Skipped))
	return nil
}

func watchAndRebuild(ctx context.Context, r *rebuilder, roots []string, repoRoot string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	for _, root := range roots {
		if err := addWatchDirs(watcher, root); err != nil {
			return fmt.Errorf("failed to watch directories: %w", err)
		}
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	var gitStateTick <-chan time.Time
	var lastGitStateSig string
	if repoRoot != "" {
		lastGitStateSig, err = git.RepositoryStateSignature(ctx, repoRoot)
		if err != nil {
			r.logger.Warn("Failed to read git state", "error", err)
		}
		ticker := time.NewTicker(gitStatePollInterval)
		defer ticker.Stop()
		gitStateTick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				addIfDirectory(watcher, event.Name)
			}
			if !isRelevantChange(event) {
				continue
			}
			r.logger.Debug("File changed", "path", event.Name, "op", event.Op.String())
			r.queue(event.Name)

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceInterval, func() {
				r.flush(ctx)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("Watcher error", "error", err)

		case <-gitStateTick:
			stateSig, err := git.RepositoryStateSignature(ctx, repoRoot)
			if err != nil {
				r.logger.Warn("Failed to read git state", "error", err)
				continue
			}
			if stateSig == lastGitStateSig {
				continue
			}

			lastGitStateSig = stateSig
			r.logger.Debug("Git state changed, rescanning sources")
			r.rescan(ctx)
		}
	}
}

func isRelevantChange(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	return frontend.IsSourceFile(event.Name)
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return addWatchDirsWithAdder(root, watcher.Add)
}

// addWatchDirsWithAdder registers root and every directory below it that
// is not skipped. Paths that vanish while walking are ignored, and symlinks
// are never followed.
func addWatchDirsWithAdder(root string, add func(string) error) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && workspace.SkippedDirs[d.Name()] {
			return filepath.SkipDir
		}
		if err := add(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
}

func addIfDirectory(watcher *fsnotify.Watcher, path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		_ = addWatchDirs(watcher, path)
	}
}
