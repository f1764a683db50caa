package frontend

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

var kotlinContractSkips = map[string]bool{"modifiers": true}

func kotlinDeclarations(root *sitter.Node, src []byte) []Declaration {
	var decls []Declaration
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		if decl, ok := kotlinDeclaration(node, src); ok {
			decls = append(decls, decl)
		}
	}
	return decls
}

func kotlinDeclaration(node *sitter.Node, src []byte) (Declaration, bool) {
	decl := Declaration{Line: lineOf(node)}

	switch node.Type() {
	case "function_declaration":
		decl.Kind = KindFunction
		decl.Name = kotlinCallableName(node, src, "fun", "simple_identifier")
		decl.Arity = countChildrenOfType(firstChildOfType(node, "function_value_parameters"), "parameter")
	case "property_declaration":
		decl.Kind = KindProperty
		decl.Name = kotlinPropertyName(node, src)
	case "class_declaration", "object_declaration", "type_alias":
		decl.Kind = KindType
		if name := firstChildOfType(node, "type_identifier", "simple_identifier"); name != nil {
			decl.Name = strings.TrimSpace(name.Content(src))
		}
		decl.Arity = countChildrenOfType(firstChildOfType(node, "type_parameters"), "type_parameter")
	default:
		return Declaration{}, false
	}
	if decl.Name == "" {
		return Declaration{}, false
	}

	if modifiers := firstChildOfType(node, "modifiers"); modifiers != nil {
		for _, token := range modifierTokens(modifiers, src) {
			switch token {
			case "expect":
				decl.Expect = true
			case "actual":
				decl.Actual = true
			case "private":
				decl.Private = true
			}
		}
	}

	split := &splitTokens{src: src, isBody: kotlinBodyRule, skipContract: kotlinContractSkips}
	split.run(node)
	split.apply(&decl)
	return decl, true
}

// kotlinCallableName returns the declared name including any receiver type,
// e.g. "String.shout" for `fun String.shout()`.
func kotlinCallableName(node *sitter.Node, src []byte, keyword, nameType string) string {
	var parts []string
	started := false
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch {
		case !started:
			started = child.Type() == keyword
		case child.Type() == "type_parameters":
		case child.Type() == nameType:
			parts = append(parts, child.Content(src))
			return strings.Join(strings.Fields(strings.Join(parts, "")), "")
		default:
			parts = append(parts, child.Content(src))
		}
	}
	return ""
}

func kotlinPropertyName(node *sitter.Node, src []byte) string {
	keyword := "val"
	if firstChildOfType(node, "var") != nil {
		keyword = "var"
	}

	var receiver []string
	started := false
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch {
		case !started:
			started = child.Type() == keyword
		case child.Type() == "type_parameters":
		case child.Type() == "variable_declaration":
			name := firstChildOfType(child, "simple_identifier")
			if name == nil {
				return ""
			}
			return strings.Join(append(receiver, name.Content(src)), "")
		case child.Type() == "multi_variable_declaration":
			var names []string
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if name := firstChildOfType(child.NamedChild(j), "simple_identifier"); name != nil {
					names = append(names, name.Content(src))
				}
			}
			return "(" + strings.Join(names, ",") + ")"
		default:
			receiver = append(receiver, strings.Join(strings.Fields(child.Content(src)), ""))
		}
	}
	return ""
}

func modifierTokens(modifiers *sitter.Node, src []byte) []string {
	var tokens []string
	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		if node.Type() == "annotation" {
			return
		}
		if node.ChildCount() == 0 {
			tokens = append(tokens, strings.TrimSpace(node.Content(src)))
			return
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(modifiers)
	return tokens
}

func kotlinBodyRule(parent, child *sitter.Node, afterAssign bool) bool {
	switch child.Type() {
	case "function_body":
		// `fun f() = expr` without a return type exposes its inferred type.
		if child.ChildCount() > 0 && child.Child(0).Type() == "=" {
			return firstChildOfType(parent, ":") != nil
		}
		return true
	case "anonymous_initializer", "property_delegate":
		return true
	}

	if parent.Type() == "property_declaration" && afterAssign {
		declaration := firstChildOfType(parent, "variable_declaration")
		return declaration != nil && firstChildOfType(declaration, ":") != nil
	}
	return false
}
