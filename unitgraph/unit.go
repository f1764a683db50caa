package unitgraph

import (
	"fmt"
	"sort"
	"strings"
)

// CommonTarget is the conventional target name of a module's platform-independent unit.
const CommonTarget = "common"

// UnitID identifies a compilation unit by module name and target tag.
type UnitID struct {
	Module string
	Target string
}

// String renders the id as module:target.
func (id UnitID) String() string {
	return id.Module + ":" + id.Target
}

// Less orders unit ids by module, then target.
func (id UnitID) Less(other UnitID) bool {
	if id.Module != other.Module {
		return id.Module < other.Module
	}
	return id.Target < other.Target
}

// MarshalText implements encoding.TextMarshaler so ids can key JSON maps.
func (id UnitID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *UnitID) UnmarshalText(text []byte) error {
	parsed, err := ParseUnitID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseUnitID parses a module:target string. A bare module name refers to its common unit.
func ParseUnitID(s string) (UnitID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return UnitID{}, fmt.Errorf("unit id is empty")
	}

	module, target, found := strings.Cut(s, ":")
	if !found {
		return UnitID{Module: s, Target: CommonTarget}, nil
	}
	if module == "" || target == "" || strings.Contains(target, ":") {
		return UnitID{}, fmt.Errorf("invalid unit id %q (expected module:target)", s)
	}
	return UnitID{Module: module, Target: target}, nil
}

// Unit describes one compilation unit as loaded from project configuration.
type Unit struct {
	ID UnitID
	// Platform is the concrete platform tag (jvm, js, ...). Empty for
	// platform-independent units, which may host expected declarations.
	Platform string
	// Sources lists absolute source roots in declaration order.
	Sources []string
	// Dependencies are the units this unit's declarations may reference.
	Dependencies []UnitID
}

// IsCommon reports whether the unit is platform-independent.
func (u Unit) IsCommon() bool {
	return u.Platform == ""
}

// SortIDs sorts ids in place by module, then target.
func SortIDs(ids []UnitID) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Less(ids[j])
	})
}
