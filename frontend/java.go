package frontend

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

var javaTypeDeclarations = map[string]bool{
	"class_declaration":           true,
	"interface_declaration":       true,
	"enum_declaration":            true,
	"record_declaration":          true,
	"annotation_type_declaration": true,
}

var javaContractSkips = map[string]bool{"modifiers": true}

// javaDeclarations returns the top-level types of a Java file. Java has no
// expect/actual modifiers, so every declaration is ordinary.
func javaDeclarations(root *sitter.Node, src []byte) []Declaration {
	var decls []Declaration
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		if !javaTypeDeclarations[node.Type()] {
			continue
		}

		name := node.ChildByFieldName("name")
		if name == nil {
			name = firstChildOfType(node, "identifier")
		}
		if name == nil {
			continue
		}

		decl := Declaration{
			Name:  strings.TrimSpace(name.Content(src)),
			Kind:  KindType,
			Arity: countChildrenOfType(firstChildOfType(node, "type_parameters"), "type_parameter"),
			Line:  lineOf(node),
		}
		split := &splitTokens{src: src, isBody: javaBodyRule, skipContract: javaContractSkips}
		split.run(node)
		split.apply(&decl)
		decls = append(decls, decl)
	}
	return decls
}

func javaBodyRule(parent, child *sitter.Node, afterAssign bool) bool {
	switch child.Type() {
	case "constructor_body", "static_initializer":
		return true
	case "block":
		switch parent.Type() {
		case "method_declaration", "class_body", "enum_body_declarations":
			return true
		}
	}
	if parent.Type() == "variable_declarator" && afterAssign {
		return true
	}
	return false
}
