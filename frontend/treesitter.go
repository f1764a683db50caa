package frontend

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	tsjava "github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/kotlin"

	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// TreeSitterParser parses Kotlin and Java sources with tree-sitter grammars.
// A fresh sitter.Parser is created per call, so it is safe for concurrent use.
type TreeSitterParser struct{}

// NewTreeSitterParser returns the default parser.
func NewTreeSitterParser() *TreeSitterParser {
	return &TreeSitterParser{}
}

func (p *TreeSitterParser) Parse(ctx context.Context, _ unitgraph.UnitID, path string, content []byte) (*ParseResult, error) {
	language, ok := LanguageFor(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}

	parser := sitter.NewParser()
	defer parser.Close()

	switch language {
	case Kotlin:
		parser.SetLanguage(kotlin.GetLanguage())
	case Java:
		parser.SetLanguage(tsjava.GetLanguage())
	}

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	result := &ParseResult{Language: language}
	switch language {
	case Kotlin:
		result.Declarations = kotlinDeclarations(root, content)
	case Java:
		result.Declarations = javaDeclarations(root, content)
	}
	result.Diagnostics = syntaxDiagnostics(path, root, content)
	return result, nil
}

// bodyRule reports whether child of parent belongs to an implementation body.
// afterAssign is true once parent has emitted an "=" token.
type bodyRule func(parent, child *sitter.Node, afterAssign bool) bool

// splitTokens walks a declaration and partitions its leaf tokens into
// signature and body text. Comments are dropped and whitespace collapses to
// single spaces, so formatting-only edits leave both parts unchanged.
type splitTokens struct {
	src    []byte
	isBody bodyRule
	// skipContract names top-level child types left out of the contract.
	skipContract map[string]bool

	signature []string
	contract  []string
	body      []string
}

func (s *splitTokens) run(decl *sitter.Node) {
	afterAssign := false
	for i := 0; i < int(decl.ChildCount()); i++ {
		child := decl.Child(i)
		if isComment(child) {
			continue
		}
		inBody := s.isBody(decl, child, afterAssign)
		inContract := !s.skipContract[child.Type()]
		s.walk(child, inBody, inContract)
		if child.Type() == "=" {
			afterAssign = true
		}
	}
}

func (s *splitTokens) walk(node *sitter.Node, inBody, inContract bool) {
	if node.ChildCount() == 0 {
		token := strings.TrimSpace(node.Content(s.src))
		if token == "" {
			return
		}
		if inBody {
			s.body = append(s.body, token)
			return
		}
		s.signature = append(s.signature, token)
		if inContract && token != "expect" && token != "actual" {
			s.contract = append(s.contract, token)
		}
		return
	}

	afterAssign := false
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if isComment(child) {
			continue
		}
		s.walk(child, inBody || s.isBody(node, child, afterAssign), inContract)
		if child.Type() == "=" {
			afterAssign = true
		}
	}
}

func (s *splitTokens) apply(decl *Declaration) {
	decl.Signature = strings.Join(s.signature, " ")
	decl.Contract = strings.Join(s.contract, " ")
	decl.Body = strings.Join(s.body, " ")

	if decl.Expect {
		// Expected declarations have no implementation; every token is
		// visible to the units that must match it.
		if decl.Body != "" {
			decl.Signature = strings.TrimSpace(decl.Signature + " " + decl.Body)
			decl.Body = ""
		}
	}
	if decl.Kind == KindType {
		decl.Contract = fmt.Sprintf("%s %s/%d", KindType, decl.Name, decl.Arity)
	}
}

func isComment(node *sitter.Node) bool {
	return strings.Contains(node.Type(), "comment")
}

func syntaxDiagnostics(path string, root *sitter.Node, src []byte) []Diagnostic {
	if !root.HasError() {
		return nil
	}

	var diagnostics []Diagnostic
	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		if node.IsMissing() {
			diagnostics = append(diagnostics, newDiagnostic(path, node, fmt.Sprintf("missing %s", node.Type())))
			return
		}
		if node.IsError() {
			snippet := strings.Join(strings.Fields(node.Content(src)), " ")
			if len(snippet) > 40 {
				snippet = snippet[:40] + "..."
			}
			diagnostics = append(diagnostics, newDiagnostic(path, node, fmt.Sprintf("syntax error near %q", snippet)))
			return
		}
		if !node.HasError() {
			return
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(root)
	return diagnostics
}

func newDiagnostic(path string, node *sitter.Node, message string) Diagnostic {
	point := node.StartPoint()
	return Diagnostic{
		File:    path,
		Line:    int(point.Row) + 1,
		Column:  int(point.Column) + 1,
		Message: message,
	}
}

func lineOf(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

func firstChildOfType(node *sitter.Node, types ...string) *sitter.Node {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		for _, t := range types {
			if child.Type() == t {
				return child
			}
		}
	}
	return nil
}

func countChildrenOfType(node *sitter.Node, nodeType string) int {
	if node == nil {
		return 0
	}
	count := 0
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if node.NamedChild(i).Type() == nodeType {
			count++
		}
	}
	return count
}
