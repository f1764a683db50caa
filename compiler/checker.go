package compiler

import (
	"context"
	"fmt"

	"github.com/LegacyCodeHQ/mpptrack/frontend"
)

// Checker is an in-process backend that parses every source of the unit and
// fails on syntax diagnostics or linkage problems. It produces no artifacts.
type Checker struct {
	parser frontend.Parser
}

// NewChecker creates a checking backend.
func NewChecker(parser frontend.Parser) *Checker {
	return &Checker{parser: parser}
}

func (c *Checker) Compile(ctx context.Context, req Request) (Result, error) {
	var result Result
	for _, source := range req.Sources {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if !frontend.IsSourceFile(source.Path) {
			continue
		}
		parsed, err := c.parser.Parse(ctx, req.Unit.ID, source.Path, source.Content)
		if err != nil {
			return Result{}, fmt.Errorf("failed to parse %s: %w", source.Path, err)
		}
		result.Diagnostics = append(result.Diagnostics, parsed.Diagnostics...)
	}

	for _, problem := range req.Problems {
		diagnostic := frontend.Diagnostic{Message: problem.String()}
		if problem.Expected != nil {
			diagnostic.File = problem.Expected.File
			diagnostic.Line = problem.Expected.Line
		}
		result.Diagnostics = append(result.Diagnostics, diagnostic)
	}

	result.Success = len(result.Diagnostics) == 0
	return result, nil
}
