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
	"errors"
	"testing"
)

// parseSource parses JavaScript source with default options.
func parseSource(t *testing.T, src string) *ScopeTree {
	t.Helper()
	tree, err := NewScopeParser().Parse(context.Background(), []byte(src), "test.js")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return tree
}

// declNames returns the names of a scope's declarations in order.
func declNames(scope *ScopeNode) []string {
	names := make([]string, len(scope.Decls))
	for i, d := range scope.Decls {
		names[i] = d.Name
	}
	return names
}

// findScope returns the arena index of the scope with the given path.
func findScope(t *testing.T, tree *ScopeTree, path string) int {
	t.Helper()
	for i := range tree.Scopes {
		if tree.Path(i) == path {
			return i
		}
	}
	t.Fatalf("no scope with path %q", path)
	return -1
}

func TestParse_FunctionDeclaration(t *testing.T) {
	tree := parseSource(t, `function alpha(a, b) {
  const total = a + b;
  return total;
}
`)

	root := tree.Root()
	if root.Kind != ScopeKindModule {
		t.Errorf("root kind = %q, want %q", root.Kind, ScopeKindModule)
	}
	if got := declNames(root); len(got) != 1 || got[0] != "alpha" {
		t.Errorf("root decls = %v, want [alpha]", got)
	}
	if root.Decls[0].Kind != DeclKindFunction {
		t.Errorf("alpha kind = %q, want function", root.Decls[0].Kind)
	}

	fnIdx := findScope(t, tree, "alpha")
	fn := &tree.Scopes[fnIdx]
	if fn.Kind != ScopeKindFunction {
		t.Errorf("alpha scope kind = %q, want function", fn.Kind)
	}
	if got := declNames(fn); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "total" {
		t.Errorf("alpha decls = %v, want [a b total]", got)
	}
	if fn.Decls[0].Kind != DeclKindParameter {
		t.Errorf("a kind = %q, want parameter", fn.Decls[0].Kind)
	}
	if fn.Decls[2].Kind != DeclKindVariable {
		t.Errorf("total kind = %q, want variable", fn.Decls[2].Kind)
	}
}

func TestParse_ExportedDeclarations(t *testing.T) {
	tree := parseSource(t, `export function run() {}
const helper = 1;
`)

	root := tree.Root()
	if len(root.Decls) != 2 {
		t.Fatalf("root decls = %v, want 2", declNames(root))
	}
	if !root.Decls[0].Exported {
		t.Error("run should be exported")
	}
	if root.Decls[1].Exported {
		t.Error("helper should not be exported")
	}
}

func TestParse_ClassWithMethods(t *testing.T) {
	tree := parseSource(t, `class Engine {
  start(speed) {
    return speed;
  }
  stop() {}
}
`)

	root := tree.Root()
	if got := declNames(root); len(got) != 1 || got[0] != "Engine" {
		t.Fatalf("root decls = %v, want [Engine]", got)
	}
	if root.Decls[0].Kind != DeclKindClass {
		t.Errorf("Engine kind = %q, want class", root.Decls[0].Kind)
	}

	classIdx := findScope(t, tree, "Engine")
	class := &tree.Scopes[classIdx]
	if class.Kind != ScopeKindClass {
		t.Errorf("Engine scope kind = %q, want class", class.Kind)
	}
	if got := declNames(class); len(got) != 2 || got[0] != "start" || got[1] != "stop" {
		t.Errorf("Engine decls = %v, want [start stop]", got)
	}
	if class.Decls[0].Kind != DeclKindMethod {
		t.Errorf("start kind = %q, want method", class.Decls[0].Kind)
	}

	methodIdx := findScope(t, tree, "Engine.start")
	method := &tree.Scopes[methodIdx]
	if method.Kind != ScopeKindMethod {
		t.Errorf("start scope kind = %q, want method", method.Kind)
	}
	if got := declNames(method); len(got) != 1 || got[0] != "speed" {
		t.Errorf("start decls = %v, want [speed]", got)
	}
}

func TestParse_FunctionValuedVariables(t *testing.T) {
	tree := parseSource(t, `const handler = function (evt) {
  return evt;
};
const mul = (a, b) => a * b;
`)

	root := tree.Root()
	if got := declNames(root); len(got) != 2 || got[0] != "handler" || got[1] != "mul" {
		t.Fatalf("root decls = %v, want [handler mul]", got)
	}
	for _, d := range root.Decls {
		if d.Kind != DeclKindFunction {
			t.Errorf("%s kind = %q, want function", d.Name, d.Kind)
		}
	}

	// The scope is named after the variable, not the anonymous value.
	handlerIdx := findScope(t, tree, "handler")
	if got := declNames(&tree.Scopes[handlerIdx]); len(got) != 1 || got[0] != "evt" {
		t.Errorf("handler decls = %v, want [evt]", got)
	}
	mulIdx := findScope(t, tree, "mul")
	if got := declNames(&tree.Scopes[mulIdx]); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("mul decls = %v, want [a b]", got)
	}
}

func TestParse_AnonymousScopeOrdinals(t *testing.T) {
	tree := parseSource(t, `setTimeout(() => {
  const a = 1;
}, 10);
setTimeout(() => {
  const b = 2;
}, 10);
`)

	root := tree.Root()
	if len(root.Children) != 2 {
		t.Fatalf("root children = %d, want 2", len(root.Children))
	}
	first := tree.Path(root.Children[0])
	second := tree.Path(root.Children[1])
	if first != "fn0" || second != "fn1" {
		t.Errorf("anonymous scope paths = %q, %q, want fn0, fn1", first, second)
	}
}

func TestParse_AnonymousOrdinalsAreStructural(t *testing.T) {
	// Two renditions of the same structure must yield identical scope paths,
	// or cross-release scope resolution breaks.
	a := parseSource(t, `register(() => { const x = 1; });`)
	b := parseSource(t, `register(() => { const y = 1; });`)

	if len(a.Scopes) != len(b.Scopes) {
		t.Fatalf("scope counts differ: %d vs %d", len(a.Scopes), len(b.Scopes))
	}
	for i := range a.Scopes {
		if a.Path(i) != b.Path(i) {
			t.Errorf("scope %d path %q vs %q", i, a.Path(i), b.Path(i))
		}
	}
}

func TestParse_RefsAscendingAndLiterals(t *testing.T) {
	tree := parseSource(t, `const msg = "hello";
const n = 42;
function greet(who) {
  return msg + who;
}
`)

	if tree.Literals != 2 {
		t.Errorf("literals = %d, want 2", tree.Literals)
	}
	for i := 1; i < len(tree.Refs); i++ {
		if tree.Refs[i].Start < tree.Refs[i-1].Start {
			t.Fatalf("refs not in ascending byte order at %d", i)
		}
	}

	// Declaration identifiers are recorded exactly once.
	seen := map[uint32]int{}
	for _, r := range tree.Refs {
		seen[r.Start]++
	}
	for start, n := range seen {
		if n > 1 {
			t.Errorf("ref at byte %d recorded %d times", start, n)
		}
	}
}

func TestParse_DeterministicHash(t *testing.T) {
	src := `function f(x) { return x; }`
	a := parseSource(t, src)
	b := parseSource(t, src)
	if a.Hash == "" || a.Hash != b.Hash {
		t.Errorf("hash mismatch: %q vs %q", a.Hash, b.Hash)
	}
}

func TestParse_FileTooLarge(t *testing.T) {
	parser := NewScopeParser(WithMaxFileSize(8))
	_, err := parser.Parse(context.Background(), []byte("const a = 1;"), "big.js")
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("err = %v, want ErrFileTooLarge", err)
	}
}

func TestParse_InvalidUTF8(t *testing.T) {
	_, err := NewScopeParser().Parse(context.Background(), []byte{0xff, 0xfe, 0xfd}, "bad.js")
	if !errors.Is(err, ErrInvalidContent) {
		t.Errorf("err = %v, want ErrInvalidContent", err)
	}
}

func TestParse_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewScopeParser().Parse(ctx, []byte("const a = 1;"), "x.js")
	if err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestScopeTree_QualifiedPath(t *testing.T) {
	tree := parseSource(t, `function outer() {
  function inner() {}
}
`)

	if got := tree.QualifiedPath("mod", 0); got != "mod" {
		t.Errorf("QualifiedPath(mod, 0) = %q, want mod", got)
	}
	innerIdx := findScope(t, tree, "outer.inner")
	if got := tree.QualifiedPath("mod", innerIdx); got != "mod.outer.inner" {
		t.Errorf("QualifiedPath = %q, want mod.outer.inner", got)
	}
	if got := tree.QualifiedPath("", innerIdx); got != "outer.inner" {
		t.Errorf("QualifiedPath with empty module = %q, want outer.inner", got)
	}
}

func TestScopeTree_DeclCountAndMaxDepth(t *testing.T) {
	tree := parseSource(t, `function outer(a) {
  function inner(b) {
    return a + b;
  }
  return inner;
}
`)

	// outer, a, inner, b
	if got := tree.DeclCount(); got != 4 {
		t.Errorf("DeclCount = %d, want 4", got)
	}
	if got := tree.MaxDepth(); got != 2 {
		t.Errorf("MaxDepth = %d, want 2", got)
	}
}
