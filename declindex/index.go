package declindex

import (
	"sort"
	"sync"

	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// fileSet maps a source file to the declarations it contributes. A file with
// no declarations is still tracked with an empty slice.
type fileSet map[string][]Declaration

func (fs fileSet) clone() fileSet {
	cloned := make(fileSet, len(fs))
	for file, decls := range fs {
		cloned[file] = append([]Declaration{}, decls...)
	}
	return cloned
}

func (fs fileSet) all() []Declaration {
	files := make([]string, 0, len(fs))
	for file := range fs {
		files = append(files, file)
	}
	sort.Strings(files)

	var decls []Declaration
	for _, file := range files {
		decls = append(decls, fs[file]...)
	}
	return decls
}

// Index holds the committed declaration snapshot of every unit: the state
// after each unit's last successful compile.
type Index struct {
	mu           sync.RWMutex
	units        map[unitgraph.UnitID]fileSet
	fingerprints map[unitgraph.UnitID]string
}

// New creates an empty index.
func New() *Index {
	return &Index{
		units:        make(map[unitgraph.UnitID]fileSet),
		fingerprints: make(map[unitgraph.UnitID]string),
	}
}

// Declarations returns the committed declarations of unit keyed by signature.
func (idx *Index) Declarations(unit unitgraph.UnitID) map[SignatureKey]Declaration {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return mergeDeclarations(idx.units[unit].all())
}

// Files returns the committed files of unit, sorted.
func (idx *Index) Files(unit unitgraph.UnitID) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return sortedFiles(idx.units[unit])
}

// UnitFingerprint returns the fingerprint committed for unit by its last
// successful compile.
func (idx *Index) UnitFingerprint(unit unitgraph.UnitID) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	fp, ok := idx.fingerprints[unit]
	return fp, ok
}

// Links resolves expect/actual linkage over the committed snapshot.
func (idx *Index) Links(g *unitgraph.Graph) LinkResult {
	return link(g, idx.Declarations)
}

// Begin starts a build session. The returned Working view reads through to
// the committed snapshot until a unit is recorded.
func (idx *Index) Begin(g *unitgraph.Graph) *Working {
	return &Working{
		base:    idx,
		graph:   g,
		changed: make(map[unitgraph.UnitID]fileSet),
	}
}

// Snapshot is the serializable form of an Index.
type Snapshot struct {
	Units        map[unitgraph.UnitID]map[string][]Declaration `json:"units"`
	Fingerprints map[unitgraph.UnitID]string                   `json:"fingerprints"`
}

// Snapshot returns a deep copy of the committed state.
func (idx *Index) Snapshot() Snapshot {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	snapshot := Snapshot{
		Units:        make(map[unitgraph.UnitID]map[string][]Declaration, len(idx.units)),
		Fingerprints: make(map[unitgraph.UnitID]string, len(idx.fingerprints)),
	}
	for unit, files := range idx.units {
		snapshot.Units[unit] = files.clone()
	}
	for unit, fp := range idx.fingerprints {
		snapshot.Fingerprints[unit] = fp
	}
	return snapshot
}

// Restore replaces the committed state with snapshot.
func (idx *Index) Restore(snapshot Snapshot) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.units = make(map[unitgraph.UnitID]fileSet, len(snapshot.Units))
	idx.fingerprints = make(map[unitgraph.UnitID]string, len(snapshot.Fingerprints))
	for unit, files := range snapshot.Units {
		idx.units[unit] = fileSet(files).clone()
	}
	for unit, fp := range snapshot.Fingerprints {
		idx.fingerprints[unit] = fp
	}
}

// FileUpdate replaces the declarations one file contributes to a unit.
type FileUpdate struct {
	File         string
	Declarations []Declaration
	Deleted      bool
}

// Diff describes how a unit's working declarations differ from its
// committed snapshot.
type Diff struct {
	Added   []Declaration
	Removed []Declaration
	Changed []Modification
}

// Modification is a declaration whose fingerprint changed.
type Modification struct {
	Prior   Declaration
	Current Declaration
}

// Empty reports whether the diff has no entries.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Working is a session's copy-on-write view over the committed index.
type Working struct {
	base  *Index
	graph *unitgraph.Graph

	mu      sync.RWMutex
	changed map[unitgraph.UnitID]fileSet
}

// RecordDeclarations applies file updates to unit and returns the diff of
// the unit's resulting declarations against its committed snapshot.
func (w *Working) RecordDeclarations(unit unitgraph.UnitID, updates ...FileUpdate) Diff {
	w.mu.Lock()
	files, ok := w.changed[unit]
	if !ok {
		w.base.mu.RLock()
		files = w.base.units[unit].clone()
		w.base.mu.RUnlock()
		w.changed[unit] = files
	}
	for _, update := range updates {
		if update.Deleted {
			delete(files, update.File)
			continue
		}
		decls := make([]Declaration, 0, len(update.Declarations))
		for _, decl := range update.Declarations {
			decl.Unit = unit
			decl.File = update.File
			decls = append(decls, decl)
		}
		files[update.File] = decls
	}
	current := mergeDeclarations(files.all())
	w.mu.Unlock()

	return diff(w.base.Declarations(unit), current)
}

// Declarations returns the working declarations of unit keyed by signature.
func (w *Working) Declarations(unit unitgraph.UnitID) map[SignatureKey]Declaration {
	w.mu.RLock()
	files, ok := w.changed[unit]
	if ok {
		defer w.mu.RUnlock()
		return mergeDeclarations(files.all())
	}
	w.mu.RUnlock()
	return w.base.Declarations(unit)
}

// Files returns the working files of unit, sorted.
func (w *Working) Files(unit unitgraph.UnitID) []string {
	w.mu.RLock()
	files, ok := w.changed[unit]
	if ok {
		defer w.mu.RUnlock()
		return sortedFiles(files)
	}
	w.mu.RUnlock()
	return w.base.Files(unit)
}

// Recorded reports whether unit has working changes in this session.
func (w *Working) Recorded(unit unitgraph.UnitID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.changed[unit]
	return ok
}

// LinkExpectActual resolves expect/actual linkage over the working view.
func (w *Working) LinkExpectActual() LinkResult {
	return link(w.graph, w.Declarations)
}

// Commit copies unit's working declarations into the committed index and
// records its fingerprint. Units without working changes keep their
// committed declarations and get their fingerprint refreshed.
func (w *Working) Commit(unit unitgraph.UnitID) string {
	w.mu.RLock()
	files, ok := w.changed[unit]
	if ok {
		files = files.clone()
	}
	w.mu.RUnlock()

	w.base.mu.Lock()
	defer w.base.mu.Unlock()
	if ok {
		w.base.units[unit] = files
	}
	fp := unitFingerprint(mergeDeclarations(w.base.units[unit].all()))
	w.base.fingerprints[unit] = fp
	return fp
}

// Fingerprint returns the fingerprint unit would commit with.
func (w *Working) Fingerprint(unit unitgraph.UnitID) string {
	return unitFingerprint(w.Declarations(unit))
}

func diff(prior, current map[SignatureKey]Declaration) Diff {
	var d Diff
	for key, cur := range current {
		old, ok := prior[key]
		switch {
		case !ok:
			d.Added = append(d.Added, cur)
		case old.Fingerprint != cur.Fingerprint:
			d.Changed = append(d.Changed, Modification{Prior: old, Current: cur})
		}
	}
	for key, old := range prior {
		if _, ok := current[key]; !ok {
			d.Removed = append(d.Removed, old)
		}
	}

	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].Key.Less(d.Added[j].Key) })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].Key.Less(d.Removed[j].Key) })
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].Current.Key.Less(d.Changed[j].Current.Key) })
	return d
}

func sortedFiles(files fileSet) []string {
	result := make([]string, 0, len(files))
	for file := range files {
		result = append(result, file)
	}
	sort.Strings(result)
	return result
}
