// Package state persists the committed build state between runs.
package state

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/LegacyCodeHQ/mpptrack/build"
	"github.com/LegacyCodeHQ/mpptrack/declindex"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// FileName is the state file inside the state directory.
const FileName = "state.json"

const currentVersion = 1

var (
	// ErrNoState is returned by Load when nothing was saved yet.
	ErrNoState = errors.New("no saved build state")
	// ErrIncompatible is returned by Load when the saved state was written by
	// another format version.
	ErrIncompatible = errors.New("incompatible build state")
)

// State is everything a run needs to continue incrementally.
type State struct {
	Version int `json:"version"`
	// Graph is the signature of the unit graph the state was built for.
	Graph  string             `json:"graph"`
	Index  declindex.Snapshot `json:"index"`
	Driver build.Checkpoint   `json:"driver"`
	// Files maps every source file seen by the last run to its content hash.
	Files map[string]string `json:"files"`
}

// New returns an empty state for the unit graph with the given signature.
func New(graph string) *State {
	return &State{
		Version: currentVersion,
		Graph:   graph,
		Index: declindex.Snapshot{
			Units:        map[unitgraph.UnitID]map[string][]declindex.Declaration{},
			Fingerprints: map[unitgraph.UnitID]string{},
		},
		Driver: build.Checkpoint{Outcomes: map[unitgraph.UnitID]build.Outcome{}},
		Files:  map[string]string{},
	}
}

// Store reads and writes the state file. Writes are atomic: the file is
// written to a temporary sibling, synced and renamed into place.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state dir is required")
	}
	return &Store{dir: dir}, nil
}

// Path returns the state file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Load reads the saved state.
func (s *Store) Load() (*State, error) {
	var st State
	if err := readJSONStrict(s.Path(), &st); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("failed to read state %s: %w", s.Path(), err)
	}
	if st.Version != currentVersion {
		return nil, fmt.Errorf("%w: version %d, expected %d", ErrIncompatible, st.Version, currentVersion)
	}
	if st.Files == nil {
		st.Files = map[string]string{}
	}
	if st.Driver.Outcomes == nil {
		st.Driver.Outcomes = map[unitgraph.UnitID]build.Outcome{}
	}
	return &st, nil
}

// Save writes st atomically.
func (s *Store) Save(st *State) error {
	data, err := jsonMarshalStable(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := writeFileAtomic(s.Path(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// HashContent returns the content hash recorded for a file.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// GraphSignature hashes the unit declarations of g. Saved state is only
// reused for a graph with the same signature.
func GraphSignature(g *unitgraph.Graph) string {
	var lines []string
	for _, unit := range g.Units() {
		deps := make([]string, 0, len(unit.Dependencies))
		for _, dep := range unit.Dependencies {
			deps = append(deps, dep.String())
		}
		sort.Strings(deps)
		lines = append(lines, fmt.Sprintf("%s|%s|%s|%s",
			unit.ID, unit.Platform, strings.Join(unit.Sources, ","), strings.Join(deps, ",")))
	}
	sort.Strings(lines)
	return HashContent([]byte(strings.Join(lines, "\n")))
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
