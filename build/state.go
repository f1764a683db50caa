package build

import (
	"fmt"
)

// UnitState is the terminal state of a unit after a build cycle.
type UnitState string

const (
	StateSuccess   UnitState = "success"
	StateFailed    UnitState = "failed"
	StateSkipped   UnitState = "skipped"
	StateCancelled UnitState = "cancelled"
	StateUpToDate  UnitState = "up-to-date"
)

// Blocking reports whether dependents of a unit in this state must be skipped.
func (s UnitState) Blocking() bool {
	return s == StateFailed || s == StateSkipped || s == StateCancelled
}

// Cause explains a Failed, Skipped or Cancelled state.
type Cause string

const (
	CauseNone             Cause = ""
	CauseCompileFailure   Cause = "CompileFailure"
	CauseUnresolvedExpect Cause = "UnresolvedExpect"
	CauseDuplicateActual  Cause = "DuplicateActual"
	CauseOrphanActual     Cause = "OrphanActual"
	CauseUpstreamFailure  Cause = "UpstreamFailure"
	CauseCancelled        Cause = "Cancelled"
)

// Stage is the driver's position in the build cycle.
type Stage int32

const (
	StageIdle Stage = iota
	StageClassifying
	StagePropagating
	StageCompiling
	StageCommitting
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageClassifying:
		return "classifying"
	case StagePropagating:
		return "propagating"
	case StageCompiling:
		return "compiling"
	case StageCommitting:
		return "committing"
	default:
		return fmt.Sprintf("Stage(%d)", int32(s))
	}
}
