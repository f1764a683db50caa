// Package classify turns raw file edits into signature-keyed declaration
// changes by re-parsing the edited files and diffing them against the
// committed declaration snapshot of their units.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/LegacyCodeHQ/mpptrack/declindex"
	"github.com/LegacyCodeHQ/mpptrack/frontend"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// FileChange is a changed source file and its new content.
type FileChange struct {
	Path    string
	Content []byte
	Deleted bool
}

// Kind is the coarse kind of a declaration change.
type Kind int

const (
	Added Kind = iota
	Removed
	SignatureChanged
	BodyChanged
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case SignatureChanged:
		return "signature-changed"
	case BodyChanged:
		return "body-changed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ChangesInterface reports whether dependents can observe a change of this kind.
func (k Kind) ChangesInterface() bool {
	return k != BodyChanged
}

// Change is one changed declaration.
type Change struct {
	Unit unitgraph.UnitID
	Key  declindex.SignatureKey
	Kind Kind
	// Mode is the declaration's current mode, or its last mode when Removed.
	Mode declindex.Mode
	// PriorMode is the committed mode, or the current mode when Added.
	PriorMode declindex.Mode
	File      string
	Private   bool
}

func (c Change) String() string {
	return fmt.Sprintf("%s %s %s (%s)", c.Unit, c.Key, c.Kind, c.Mode)
}

// Result is the outcome of classifying one batch of file edits.
type Result struct {
	Changes []Change
	// Diagnostics holds syntax diagnostics per unit. A unit with diagnostics
	// cannot compile regardless of its declaration changes.
	Diagnostics map[unitgraph.UnitID][]frontend.Diagnostic
	// Files lists the edited files per owning unit.
	Files map[unitgraph.UnitID][]string
	// Unowned lists edited files outside every unit's source roots, and files
	// the front end cannot parse.
	Unowned []string
}

// Units returns the units owning at least one edited file, sorted.
func (r *Result) Units() []unitgraph.UnitID {
	units := make([]unitgraph.UnitID, 0, len(r.Files))
	for unit := range r.Files {
		units = append(units, unit)
	}
	unitgraph.SortIDs(units)
	return units
}

// Broken returns the units with syntax diagnostics, sorted.
func (r *Result) Broken() []unitgraph.UnitID {
	units := make([]unitgraph.UnitID, 0, len(r.Diagnostics))
	for unit := range r.Diagnostics {
		units = append(units, unit)
	}
	unitgraph.SortIDs(units)
	return units
}

// Clean returns the edited units that have neither declaration changes nor
// diagnostics, such as after a comment-only edit.
func (r *Result) Clean() []unitgraph.UnitID {
	changed := make(map[unitgraph.UnitID]bool)
	for _, c := range r.Changes {
		changed[c.Unit] = true
	}

	var clean []unitgraph.UnitID
	for _, unit := range r.Units() {
		if !changed[unit] && len(r.Diagnostics[unit]) == 0 {
			clean = append(clean, unit)
		}
	}
	return clean
}

// Classifier maps edits onto units and classifies their declaration changes.
type Classifier struct {
	graph  *unitgraph.Graph
	parser frontend.Parser
	logger *slog.Logger
}

// New creates a classifier over the unit graph g. A nil logger uses
// slog.Default.
func New(g *unitgraph.Graph, parser frontend.Parser, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{graph: g, parser: parser, logger: logger}
}

// Classify re-parses the edited files, records their declarations in
// working, and returns the resulting changes.
func (c *Classifier) Classify(ctx context.Context, working *declindex.Working, files []FileChange) (*Result, error) {
	result := &Result{
		Diagnostics: make(map[unitgraph.UnitID][]frontend.Diagnostic),
		Files:       make(map[unitgraph.UnitID][]string),
	}

	byUnit := make(map[unitgraph.UnitID][]FileChange)
	seen := make(map[string]bool)
	for _, file := range files {
		path := filepath.Clean(file.Path)
		if seen[path] {
			continue
		}
		seen[path] = true

		unit, ok := c.graph.UnitForFile(path)
		if !ok || !frontend.IsSourceFile(path) {
			c.logger.Debug("Ignoring file outside source units", "file", path)
			result.Unowned = append(result.Unowned, path)
			continue
		}
		file.Path = path
		byUnit[unit] = append(byUnit[unit], file)
	}
	sort.Strings(result.Unowned)

	units := make([]unitgraph.UnitID, 0, len(byUnit))
	for unit := range byUnit {
		units = append(units, unit)
	}
	unitgraph.SortIDs(units)

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var updates []declindex.FileUpdate
		for _, file := range byUnit[unit] {
			result.Files[unit] = append(result.Files[unit], file.Path)
			if file.Deleted {
				updates = append(updates, declindex.FileUpdate{File: file.Path, Deleted: true})
				continue
			}

			parsed, err := c.parser.Parse(ctx, unit, file.Path, file.Content)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", file.Path, err)
			}
			if len(parsed.Diagnostics) > 0 {
				result.Diagnostics[unit] = append(result.Diagnostics[unit], parsed.Diagnostics...)
			}

			decls := make([]declindex.Declaration, 0, len(parsed.Declarations))
			for _, d := range parsed.Declarations {
				decls = append(decls, declindex.FromParsed(unit, file.Path, d))
			}
			updates = append(updates, declindex.FileUpdate{File: file.Path, Declarations: decls})
		}
		sort.Strings(result.Files[unit])

		diff := working.RecordDeclarations(unit, updates...)
		result.Changes = append(result.Changes, changesOf(unit, diff)...)
	}

	SortChanges(result.Changes)
	return result, nil
}

func changesOf(unit unitgraph.UnitID, diff declindex.Diff) []Change {
	var changes []Change
	for _, d := range diff.Added {
		changes = append(changes, Change{
			Unit: unit, Key: d.Key, Kind: Added,
			Mode: d.Mode, PriorMode: d.Mode, File: d.File, Private: d.Private,
		})
	}
	for _, d := range diff.Removed {
		changes = append(changes, Change{
			Unit: unit, Key: d.Key, Kind: Removed,
			Mode: d.Mode, PriorMode: d.Mode, File: d.File, Private: d.Private,
		})
	}
	for _, m := range diff.Changed {
		kind := BodyChanged
		if m.Prior.SignatureHash != m.Current.SignatureHash || m.Prior.Mode != m.Current.Mode {
			kind = SignatureChanged
		}
		changes = append(changes, Change{
			Unit: unit, Key: m.Current.Key, Kind: kind,
			Mode: m.Current.Mode, PriorMode: m.Prior.Mode, File: m.Current.File,
			Private: m.Prior.Private && m.Current.Private,
		})
	}
	return changes
}

// SortChanges orders changes by unit, key, then kind.
func SortChanges(changes []Change) {
	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if a.Unit != b.Unit {
			return a.Unit.Less(b.Unit)
		}
		if a.Key != b.Key {
			return a.Key.Less(b.Key)
		}
		return a.Kind < b.Kind
	})
}
