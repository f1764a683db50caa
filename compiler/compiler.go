// Package compiler defines the per-unit compile contract and its backends.
package compiler

import (
	"context"
	"fmt"

	"github.com/LegacyCodeHQ/mpptrack/declindex"
	"github.com/LegacyCodeHQ/mpptrack/frontend"
	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// SourceFile is one source file of a unit.
type SourceFile struct {
	Path    string
	Content []byte
}

// Request asks a backend to compile one unit from all of its sources.
type Request struct {
	Unit     unitgraph.Unit
	Sources  []SourceFile
	Problems []declindex.Problem
}

// Result is the outcome of compiling one unit. Compile errors are reported
// through Success and Diagnostics, not as a Go error.
type Result struct {
	Success     bool
	Diagnostics []frontend.Diagnostic
}

// Compiler compiles one unit. Implementations must honour ctx cancellation
// and be idempotent for identical requests. A returned error means the
// backend itself could not run.
type Compiler interface {
	Compile(ctx context.Context, req Request) (Result, error)
}

// Backend names.
const (
	BackendCheck = "check"
	BackendExec  = "exec"
)

// New returns the backend named by name. command is only used by the exec backend.
func New(name string, command string, parser frontend.Parser) (Compiler, error) {
	switch name {
	case "", BackendCheck:
		return NewChecker(parser), nil
	case BackendExec:
		if command == "" {
			return nil, fmt.Errorf("compiler backend %q requires a command", name)
		}
		return NewExec(command), nil
	default:
		return nil, fmt.Errorf("unknown compiler backend %q (supported: %s, %s)", name, BackendCheck, BackendExec)
	}
}
