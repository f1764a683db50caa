package build

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LegacyCodeHQ/mpptrack/declindex"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

var (
	ErrCompileFailure   = errors.New("compile failure")
	ErrUnresolvedExpect = errors.New("unresolved expected declaration")
	ErrDuplicateActual  = errors.New("duplicate actual declaration")
	ErrOrphanActual     = errors.New("actual declaration without expected counterpart")
	ErrUpstreamFailure  = errors.New("dependency did not build")
	ErrCancelled        = errors.New("build cancelled")
)

// UnitError is the error of one unit that did not build.
type UnitError struct {
	Unit  unitgraph.UnitID
	Cause Cause
	Keys  []declindex.SignatureKey
	Err   error
}

func (e *UnitError) Error() string {
	if len(e.Keys) == 0 {
		return fmt.Sprintf("%s: %v", e.Unit, e.Err)
	}
	keys := make([]string, 0, len(e.Keys))
	for _, k := range e.Keys {
		keys = append(keys, k.String())
	}
	return fmt.Sprintf("%s: %v (%s)", e.Unit, e.Err, strings.Join(keys, ", "))
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

func causeError(cause Cause) error {
	switch cause {
	case CauseUnresolvedExpect:
		return ErrUnresolvedExpect
	case CauseDuplicateActual:
		return ErrDuplicateActual
	case CauseOrphanActual:
		return ErrOrphanActual
	case CauseUpstreamFailure:
		return ErrUpstreamFailure
	case CauseCancelled:
		return ErrCancelled
	default:
		return ErrCompileFailure
	}
}

func causeOf(kind declindex.ProblemKind) Cause {
	switch kind {
	case declindex.UnresolvedExpect:
		return CauseUnresolvedExpect
	case declindex.DuplicateActual:
		return CauseDuplicateActual
	case declindex.OrphanActual:
		return CauseOrphanActual
	default:
		return CauseCompileFailure
	}
}
