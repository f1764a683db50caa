// Package declindex keeps the per-unit declaration snapshots that incremental
// builds diff against, and resolves expect/actual linkage across units.
package declindex

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/LegacyCodeHQ/mpptrack/frontend"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// Mode is the platform role of a declaration.
type Mode int

const (
	Ordinary Mode = iota
	Expected
	Actual
)

var modeNames = map[Mode]string{
	Ordinary: "ordinary",
	Expected: "expected",
	Actual:   "actual",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	for mode, name := range modeNames {
		if name == string(text) {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("unknown declaration mode %q", text)
}

// SignatureKey identifies a declaration within its unit independently of its
// position in the source.
type SignatureKey struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Arity int    `json:"arity"`
}

func (k SignatureKey) String() string {
	return fmt.Sprintf("%s %s/%d", k.Kind, k.Name, k.Arity)
}

// Less orders keys by name, kind, then arity.
func (k SignatureKey) Less(other SignatureKey) bool {
	if k.Name != other.Name {
		return k.Name < other.Name
	}
	if k.Kind != other.Kind {
		return k.Kind < other.Kind
	}
	return k.Arity < other.Arity
}

// SortKeys sorts keys in place.
func SortKeys(keys []SignatureKey) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Less(keys[j])
	})
}

// Declaration is the indexed form of a top-level declaration.
type Declaration struct {
	Unit    unitgraph.UnitID `json:"unit"`
	Key     SignatureKey     `json:"key"`
	Mode    Mode             `json:"mode"`
	File    string           `json:"file"`
	Line    int              `json:"line"`
	Private bool             `json:"private,omitempty"`

	SignatureHash string `json:"signatureHash"`
	ContractHash  string `json:"contractHash"`
	BodyHash      string `json:"bodyHash"`
	Fingerprint   string `json:"fingerprint"`

	// actuals holds every actual member of a merged key group.
	actuals []Declaration
}

// Ref returns a reference to d.
func (d Declaration) Ref() DeclRef {
	return DeclRef{Unit: d.Unit, Key: d.Key, File: d.File, Line: d.Line}
}

// actualMembers returns the actual declarations folded into d.
func (d Declaration) actualMembers() []Declaration {
	if d.actuals != nil {
		return d.actuals
	}
	if d.Mode == Actual {
		return []Declaration{d}
	}
	return nil
}

// FromParsed converts a parsed declaration of file in unit into its indexed form.
func FromParsed(unit unitgraph.UnitID, file string, parsed frontend.Declaration) Declaration {
	mode := Ordinary
	switch {
	case parsed.Expect:
		mode = Expected
	case parsed.Actual:
		mode = Actual
	}

	decl := Declaration{
		Unit:          unit,
		Key:           SignatureKey{Name: parsed.Name, Kind: parsed.Kind, Arity: parsed.Arity},
		Mode:          mode,
		File:          file,
		Line:          parsed.Line,
		Private:       parsed.Private,
		SignatureHash: hashOf(parsed.Signature),
		ContractHash:  hashOf(parsed.Contract),
		BodyHash:      hashOf(parsed.Body),
	}
	decl.Fingerprint = fingerprint(decl)
	return decl
}

func fingerprint(d Declaration) string {
	return hashOf(d.Mode.String(), d.SignatureHash, d.BodyHash)
}

func hashOf(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// mergeDeclarations folds declarations of a unit into one entry per key.
// Overloads that share a key are combined so that any member's change is
// visible in the merged hashes. Actual members stay individually reachable
// for linking.
func mergeDeclarations(decls []Declaration) map[SignatureKey]Declaration {
	grouped := make(map[SignatureKey][]Declaration)
	for _, decl := range decls {
		grouped[decl.Key] = append(grouped[decl.Key], decl)
	}

	merged := make(map[SignatureKey]Declaration, len(grouped))
	for key, group := range grouped {
		if len(group) == 1 {
			merged[key] = group[0]
			continue
		}

		sort.Slice(group, func(i, j int) bool {
			if group[i].File != group[j].File {
				return group[i].File < group[j].File
			}
			return group[i].Line < group[j].Line
		})

		combined := group[0]
		combined.actuals = []Declaration{}
		var signatures, contracts, bodies []string
		for _, decl := range group {
			if decl.Mode == Actual {
				combined.actuals = append(combined.actuals, decl)
			}
			signatures = append(signatures, decl.SignatureHash)
			contracts = append(contracts, decl.ContractHash)
			bodies = append(bodies, decl.BodyHash)
			combined.Private = combined.Private && decl.Private
		}
		sort.Strings(signatures)
		sort.Strings(contracts)
		sort.Strings(bodies)
		combined.SignatureHash = hashOf(strings.Join(signatures, ","))
		combined.ContractHash = hashOf(strings.Join(contracts, ","))
		combined.BodyHash = hashOf(strings.Join(bodies, ","))
		combined.Fingerprint = fingerprint(combined)
		merged[key] = combined
	}
	return merged
}

// unitFingerprint hashes the sorted declaration fingerprints of a unit.
func unitFingerprint(decls map[SignatureKey]Declaration) string {
	keys := make([]SignatureKey, 0, len(decls))
	for key := range decls {
		keys = append(keys, key)
	}
	SortKeys(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key.String()+"|"+decls[key].Fingerprint)
	}
	return hashOf(strings.Join(lines, "\n"))
}
