// Package frontend extracts top-level declarations and syntax diagnostics
// from Kotlin and Java sources.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// ErrUnsupportedFile is returned for files whose extension has no grammar.
var ErrUnsupportedFile = errors.New("unsupported source file")

// Language names a supported source language.
type Language string

const (
	Kotlin Language = "kotlin"
	Java   Language = "java"
)

// Declaration kinds used in signature keys.
const (
	KindFunction = "fun"
	KindProperty = "property"
	KindType     = "type"
)

// Declaration is one top-level declaration found in a source file.
type Declaration struct {
	Name  string
	Kind  string
	Arity int

	Expect  bool
	Actual  bool
	Private bool

	// Signature is the normalized token text that dependents can observe.
	Signature string
	// Contract is the signature with platform modifiers and annotations
	// removed. Matching expect and actual declarations share a contract.
	Contract string
	// Body is the normalized token text that only the owning unit observes.
	Body string

	Line int
}

// Diagnostic is a syntax problem reported by the parser.
type Diagnostic struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, d.Message)
}

// ParseResult is the outcome of parsing one file.
type ParseResult struct {
	Language     Language
	Declarations []Declaration
	Diagnostics  []Diagnostic
}

// Parser parses one source file of a unit.
type Parser interface {
	Parse(ctx context.Context, unit unitgraph.UnitID, path string, content []byte) (*ParseResult, error)
}

// LanguageFor returns the language of a source path.
func LanguageFor(path string) (Language, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".kt", ".kts":
		return Kotlin, true
	case ".java":
		return Java, true
	default:
		return "", false
	}
}

// IsSourceFile reports whether path has a supported extension.
func IsSourceFile(path string) bool {
	_, ok := LanguageFor(path)
	return ok
}
