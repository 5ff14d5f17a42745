// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// Tree-sitter node type names for the JavaScript grammar.
const (
	jsNodeProgram               = "program"
	jsNodeExportStatement       = "export_statement"
	jsNodeFunctionDeclaration   = "function_declaration"
	jsNodeGeneratorFunctionDecl = "generator_function_declaration"
	jsNodeFunctionExpression    = "function_expression"
	jsNodeGeneratorFunction     = "generator_function"
	jsNodeArrowFunction         = "arrow_function"
	jsNodeClassDeclaration      = "class_declaration"
	jsNodeClass                 = "class"
	jsNodeClassBody             = "class_body"
	jsNodeMethodDefinition      = "method_definition"
	jsNodeFieldDefinition       = "field_definition"
	jsNodeLexicalDeclaration    = "lexical_declaration"
	jsNodeVariableDeclaration   = "variable_declaration"
	jsNodeVariableDeclarator    = "variable_declarator"
	jsNodeFormalParameters      = "formal_parameters"
	jsNodeAssignmentPattern     = "assignment_pattern"
	jsNodeRestPattern           = "rest_pattern"
	jsNodeIdentifier            = "identifier"
	jsNodePropertyIdentifier    = "property_identifier"
	jsNodeShorthandProperty     = "shorthand_property_identifier"
	jsNodeShorthandPropertyPat  = "shorthand_property_identifier_pattern"
	jsNodeString                = "string"
	jsNodeNumber                = "number"
	jsNodeTemplateString        = "template_string"
	jsNodeRegex                 = "regex"
)

// ScopeParser extracts the lexical scope tree from JavaScript source code.
//
// Description:
//
//	ScopeParser uses tree-sitter to parse a JavaScript module and build a
//	ScopeTree: nested function/class/method scopes, the declarations each
//	scope introduces in source order, and every identifier occurrence with
//	its byte span. It deliberately records structure and positions rather
//	than semantics; the mapping store and applier interpret the result.
//
// Thread Safety:
//
//	ScopeParser is safe for concurrent use. Each Parse call creates its own
//	tree-sitter parser instance.
//
// Example:
//
//	parser := NewScopeParser()
//	tree, err := parser.Parse(ctx, content, "chunk.js")
//	if err != nil {
//	    return fmt.Errorf("parse: %w", err)
//	}
type ScopeParser struct {
	options ScopeParserOptions
}

// ScopeParserOptions configures ScopeParser behavior.
type ScopeParserOptions struct {
	// MaxFileSize is the maximum file size in bytes to parse.
	// Files larger than this return ErrFileTooLarge.
	// Default: 10MB
	MaxFileSize int
}

// DefaultScopeParserOptions returns the default options.
func DefaultScopeParserOptions() ScopeParserOptions {
	return ScopeParserOptions{
		MaxFileSize: 10 * 1024 * 1024, // 10MB
	}
}

// ScopeParserOption is a functional option for configuring ScopeParser.
type ScopeParserOption func(*ScopeParserOptions)

// WithMaxFileSize sets the maximum file size for parsing.
func WithMaxFileSize(size int) ScopeParserOption {
	return func(o *ScopeParserOptions) {
		o.MaxFileSize = size
	}
}

// NewScopeParser creates a new ScopeParser with the given options.
func NewScopeParser(opts ...ScopeParserOption) *ScopeParser {
	options := DefaultScopeParserOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &ScopeParser{options: options}
}

// Parse builds the scope tree for one JavaScript module.
//
// Description:
//
//	Parses the content with tree-sitter and walks the syntax tree once,
//	opening a scope for every function, class, and method, recording each
//	declaration in the scope that introduces it, and collecting every
//	identifier occurrence for later rewriting. Anonymous function scopes
//	get stable ordinal names ("fn0", "fn1", ...) so two structurally equal
//	files produce identical scope paths.
//
// Inputs:
//
//	ctx      - Context for cancellation. Checked before and after parsing.
//	content  - Raw JavaScript source bytes. Must be valid UTF-8.
//	filePath - Path the content belongs to, recorded on the result.
//
// Outputs:
//
//	*ScopeTree - The extracted scope structure. Never nil on success.
//	error      - Non-nil for complete failures (too large, invalid UTF-8,
//	             tree-sitter failure, canceled context).
//
// Thread Safety:
//
//	This method is safe for concurrent use.
func (p *ScopeParser) Parse(ctx context.Context, content []byte, filePath string) (*ScopeTree, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scope parse canceled before start: %w", err)
	}

	if len(content) > p.options.MaxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.options.MaxFileSize)
	}
	if !utf8.Valid(content) {
		return nil, ErrInvalidContent
	}

	hash := sha256.Sum256(content)

	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scope parse canceled after tree-sitter: %w", err)
	}

	b := &scopeBuilder{
		content: content,
		tree: &ScopeTree{
			FilePath:      filePath,
			Hash:          hex.EncodeToString(hash[:]),
			ParsedAtMilli: time.Now().UnixMilli(),
			Scopes: []ScopeNode{{
				Name:   "",
				Kind:   ScopeKindModule,
				Parent: -1,
			}},
		},
	}

	b.walk(tree.RootNode(), 0, false)

	// The walk visits children in source order, but splice positions must be
	// strictly ascending for the applier.
	sort.Slice(b.tree.Refs, func(i, j int) bool {
		return b.tree.Refs[i].Start < b.tree.Refs[j].Start
	})

	return b.tree, nil
}

// scopeBuilder carries walk state for a single Parse call.
type scopeBuilder struct {
	content []byte
	tree    *ScopeTree
}

// text returns the source text of a node.
func (b *scopeBuilder) text(node *sitter.Node) string {
	return string(b.content[node.StartByte():node.EndByte()])
}

// newScope appends a scope node to the arena and links it to its parent.
func (b *scopeBuilder) newScope(name string, kind ScopeKind, parent int) int {
	idx := len(b.tree.Scopes)
	b.tree.Scopes = append(b.tree.Scopes, ScopeNode{
		Name:   name,
		Kind:   kind,
		Parent: parent,
	})
	b.tree.Scopes[parent].Children = append(b.tree.Scopes[parent].Children, idx)
	return idx
}

// anonName produces a stable ordinal name for an anonymous function scope.
func (b *scopeBuilder) anonName(parent int) string {
	return "fn" + strconv.Itoa(len(b.tree.Scopes[parent].Children))
}

// addDecl records a declaration identifier in a scope and as a reference.
func (b *scopeBuilder) addDecl(nameNode *sitter.Node, kind DeclKind, scope int, exported bool) {
	name := b.text(nameNode)
	b.tree.Scopes[scope].Decls = append(b.tree.Scopes[scope].Decls, Declaration{
		Name:      name,
		Kind:      kind,
		Exported:  exported,
		Line:      int(nameNode.StartPoint().Row) + 1,
		NameStart: nameNode.StartByte(),
		NameEnd:   nameNode.EndByte(),
	})
	b.addRef(nameNode, scope)
}

// addRef records one identifier occurrence.
func (b *scopeBuilder) addRef(node *sitter.Node, scope int) {
	b.tree.Refs = append(b.tree.Refs, IdentRef{
		Name:  b.text(node),
		Start: node.StartByte(),
		End:   node.EndByte(),
		Scope: scope,
	})
}

// walk recursively extracts scopes, declarations, and references.
func (b *scopeBuilder) walk(node *sitter.Node, scope int, exported bool) {
	if node == nil {
		return
	}

	switch node.Type() {
	case jsNodeProgram:
		for i := 0; i < int(node.ChildCount()); i++ {
			b.walk(node.Child(i), scope, false)
		}

	case jsNodeExportStatement:
		for i := 0; i < int(node.ChildCount()); i++ {
			b.walk(node.Child(i), scope, true)
		}

	case jsNodeFunctionDeclaration, jsNodeGeneratorFunctionDecl:
		b.extractFunction(node, scope, exported)

	case jsNodeClassDeclaration:
		b.extractClass(node, scope, exported)

	case jsNodeClass:
		// Class expressions share the "class" type with the bare keyword
		// token; only the expression node is named.
		if node.IsNamed() {
			b.extractClass(node, scope, exported)
		}

	case jsNodeLexicalDeclaration, jsNodeVariableDeclaration:
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child.Type() == jsNodeVariableDeclarator {
				b.extractDeclarator(child, scope, exported)
			}
		}

	case jsNodeMethodDefinition:
		// Object-literal methods outside a class body land here.
		b.extractMethod(node, scope)

	case jsNodeFunctionExpression, jsNodeGeneratorFunction, jsNodeArrowFunction:
		b.extractAnonymousFunction(node, scope)

	case jsNodeIdentifier, jsNodePropertyIdentifier, jsNodeShorthandProperty, jsNodeShorthandPropertyPat:
		b.addRef(node, scope)

	case jsNodeString, jsNodeNumber, jsNodeRegex:
		b.tree.Literals++

	case jsNodeTemplateString:
		b.tree.Literals++
		// Template substitutions contain identifiers.
		for i := 0; i < int(node.ChildCount()); i++ {
			b.walk(node.Child(i), scope, false)
		}

	default:
		for i := 0; i < int(node.ChildCount()); i++ {
			b.walk(node.Child(i), scope, exported)
		}
	}
}

// extractFunction handles a named function or generator declaration.
func (b *scopeBuilder) extractFunction(node *sitter.Node, scope int, exported bool) {
	name := ""
	var nameNode *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == jsNodeIdentifier {
			nameNode = child
			name = b.text(child)
			break
		}
	}

	if nameNode != nil {
		b.addDecl(nameNode, DeclKindFunction, scope, exported)
	} else {
		name = b.anonName(scope)
	}

	fnScope := b.newScope(name, ScopeKindFunction, scope)
	b.extractFunctionParts(node, fnScope, nameNode)
}

// extractAnonymousFunction handles function expressions and arrow functions.
// A named function expression keeps its own name; otherwise the scope gets
// a positional ordinal name.
func (b *scopeBuilder) extractAnonymousFunction(node *sitter.Node, scope int) {
	name := ""
	var nameNode *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == jsNodeIdentifier {
			nameNode = child
			name = b.text(child)
			break
		}
	}
	if name == "" {
		name = b.anonName(scope)
	}

	fnScope := b.newScope(name, ScopeKindFunction, scope)
	if nameNode != nil {
		// The expression's own name is scoped to its body.
		b.addDecl(nameNode, DeclKindFunction, fnScope, false)
	}
	b.extractFunctionParts(node, fnScope, nameNode)
}

// extractFunctionParts walks parameters and body of any function-like node
// into the given scope. skipName is the already-processed name node, if any.
func (b *scopeBuilder) extractFunctionParts(node *sitter.Node, fnScope int, skipName *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if skipName != nil && child.StartByte() == skipName.StartByte() {
			continue
		}
		switch child.Type() {
		case jsNodeFormalParameters:
			b.extractParameters(child, fnScope)
		case jsNodeIdentifier:
			// Single-parameter arrow function without parentheses.
			if node.Type() == jsNodeArrowFunction {
				b.addDecl(child, DeclKindParameter, fnScope, false)
			} else {
				b.addRef(child, fnScope)
			}
		default:
			b.walk(child, fnScope, false)
		}
	}
}

// extractParameters records formal parameters as declarations in the
// function scope. Destructuring and default-value patterns are walked for
// the identifiers they bind.
func (b *scopeBuilder) extractParameters(node *sitter.Node, fnScope int) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case jsNodeIdentifier:
			b.addDecl(child, DeclKindParameter, fnScope, false)
		case jsNodeAssignmentPattern, jsNodeRestPattern:
			// First identifier is the bound name, the rest is the default
			// expression which may reference outer names.
			bound := false
			for j := 0; j < int(child.ChildCount()); j++ {
				gc := child.Child(j)
				if gc.Type() == jsNodeIdentifier && !bound {
					b.addDecl(gc, DeclKindParameter, fnScope, false)
					bound = true
					continue
				}
				b.walk(gc, fnScope, false)
			}
		default:
			// Object/array patterns: every bound identifier becomes a parameter.
			b.extractPatternIdentifiers(child, fnScope)
		}
	}
}

// extractPatternIdentifiers records identifiers bound by a destructuring pattern.
func (b *scopeBuilder) extractPatternIdentifiers(node *sitter.Node, fnScope int) {
	switch node.Type() {
	case jsNodeIdentifier, jsNodeShorthandPropertyPat:
		b.addDecl(node, DeclKindParameter, fnScope, false)
	default:
		for i := 0; i < int(node.ChildCount()); i++ {
			b.extractPatternIdentifiers(node.Child(i), fnScope)
		}
	}
}

// extractDeclarator handles one "name = value" declarator. When the value is
// a function, arrow function, or class, the new scope is named after the
// variable so the scope path survives the assignment style.
func (b *scopeBuilder) extractDeclarator(node *sitter.Node, scope int, exported bool) {
	var nameNode *sitter.Node
	var valueNode *sitter.Node

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case jsNodeIdentifier:
			if nameNode == nil {
				nameNode = child
			} else {
				valueNode = child
			}
		case "=", ";", ",":
			// punctuation
		default:
			valueNode = child
		}
	}

	if nameNode == nil {
		// Destructuring declarator: record bound names, walk the value.
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if i == 0 {
				b.extractPatternIdentifiers(child, scope)
			} else {
				b.walk(child, scope, false)
			}
		}
		return
	}

	if valueNode == nil {
		b.addDecl(nameNode, DeclKindVariable, scope, exported)
		return
	}

	switch valueNode.Type() {
	case jsNodeFunctionExpression, jsNodeGeneratorFunction, jsNodeArrowFunction:
		b.addDecl(nameNode, DeclKindFunction, scope, exported)
		fnScope := b.newScope(b.text(nameNode), ScopeKindFunction, scope)
		b.extractFunctionParts(valueNode, fnScope, nil)
	case jsNodeClass, jsNodeClassDeclaration:
		b.addDecl(nameNode, DeclKindClass, scope, exported)
		classScope := b.newScope(b.text(nameNode), ScopeKindClass, scope)
		b.extractClassBody(valueNode, classScope, nil)
	default:
		b.addDecl(nameNode, DeclKindVariable, scope, exported)
		b.walk(valueNode, scope, false)
	}
}

// extractClass handles a class declaration or class expression.
func (b *scopeBuilder) extractClass(node *sitter.Node, scope int, exported bool) {
	name := ""
	var nameNode *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == jsNodeIdentifier {
			nameNode = child
			name = b.text(child)
			break
		}
	}

	if nameNode != nil {
		b.addDecl(nameNode, DeclKindClass, scope, exported)
	} else {
		name = b.anonName(scope)
	}

	classScope := b.newScope(name, ScopeKindClass, scope)
	b.extractClassBody(node, classScope, nameNode)
}

// extractClassBody walks a class body, recording methods and fields.
// skipName is the class's own name node, already recorded by the caller.
func (b *scopeBuilder) extractClassBody(node *sitter.Node, classScope int, skipName *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if skipName != nil && child.StartByte() == skipName.StartByte() {
			continue
		}
		if child.Type() != jsNodeClassBody {
			// Heritage clause and decorators; references resolve through
			// the class scope's ancestors.
			b.walk(child, classScope, false)
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			member := child.Child(j)
			switch member.Type() {
			case jsNodeMethodDefinition:
				b.extractMethod(member, classScope)
			case jsNodeFieldDefinition:
				b.extractField(member, classScope)
			default:
				b.walk(member, classScope, false)
			}
		}
	}
}

// extractMethod handles a method definition inside a class or object literal.
func (b *scopeBuilder) extractMethod(node *sitter.Node, classScope int) {
	name := ""
	var nameNode *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == jsNodePropertyIdentifier || child.Type() == "private_property_identifier" {
			nameNode = child
			name = b.text(child)
			break
		}
	}

	if nameNode != nil {
		b.addDecl(nameNode, DeclKindMethod, classScope, false)
	} else {
		name = b.anonName(classScope)
	}

	methodScope := b.newScope(name, ScopeKindMethod, classScope)
	b.extractFunctionParts(node, methodScope, nameNode)
}

// extractField handles a class field definition.
func (b *scopeBuilder) extractField(node *sitter.Node, classScope int) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case jsNodePropertyIdentifier, "private_property_identifier":
			b.addDecl(child, DeclKindField, classScope, false)
		default:
			b.walk(child, classScope, false)
		}
	}
}
