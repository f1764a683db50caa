package compiler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/LegacyCodeHQ/mpptrack/frontend"
)

// Exec runs an external command once per unit through `sh -c`. The unit is
// described in MPPTRACK_* environment variables; a non-zero exit status
// fails the unit and `file:line:col: message` output lines become
// diagnostics.
type Exec struct {
	command string
}

// NewExec creates an exec backend for command.
func NewExec(command string) *Exec {
	return &Exec{command: command}
}

var diagnosticLine = regexp.MustCompile(`^(.+?):(\d+):(?:(\d+):)?\s*(.*)$`)

func (e *Exec) Compile(ctx context.Context, req Request) (Result, error) {
	if len(req.Problems) > 0 {
		// Linkage problems fail the unit before any tool runs.
		result := Result{}
		for _, problem := range req.Problems {
			result.Diagnostics = append(result.Diagnostics, frontend.Diagnostic{Message: problem.String()})
		}
		return result, nil
	}

	paths := make([]string, 0, len(req.Sources))
	for _, source := range req.Sources {
		paths = append(paths, source.Path)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", e.command)
	cmd.Env = append(os.Environ(),
		"MPPTRACK_UNIT="+req.Unit.ID.String(),
		"MPPTRACK_MODULE="+req.Unit.ID.Module,
		"MPPTRACK_TARGET="+req.Unit.ID.Target,
		"MPPTRACK_PLATFORM="+req.Unit.Platform,
		"MPPTRACK_SOURCES="+strings.Join(paths, string(os.PathListSeparator)),
	)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	result := Result{Diagnostics: parseDiagnostics(output.Bytes())}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Success = true
	case errors.As(err, &exitErr):
		if len(result.Diagnostics) == 0 {
			result.Diagnostics = append(result.Diagnostics, frontend.Diagnostic{
				Message: fmt.Sprintf("compiler exited with status %d", exitErr.ExitCode()),
			})
		}
	default:
		return Result{}, fmt.Errorf("failed to run compiler for %s: %w", req.Unit.ID, err)
	}
	return result, nil
}

func parseDiagnostics(output []byte) []frontend.Diagnostic {
	var diagnostics []frontend.Diagnostic
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		match := diagnosticLine.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if match == nil {
			continue
		}
		line, _ := strconv.Atoi(match[2])
		column, _ := strconv.Atoi(match[3])
		diagnostics = append(diagnostics, frontend.Diagnostic{
			File:    match[1],
			Line:    line,
			Column:  column,
			Message: match[4],
		})
	}
	return diagnostics
}
