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
	"errors"
	"strings"
)

// Sentinel errors returned by ScopeParser.
var (
	// ErrFileTooLarge is returned when content exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent is returned when content is not valid UTF-8.
	ErrInvalidContent = errors.New("content is not valid UTF-8")
)

// ScopePathSeparator joins scope segments in a scope path string.
const ScopePathSeparator = "."

// DeclKind identifies what kind of declaration introduced a name.
type DeclKind string

// Declaration kinds extracted from JavaScript source.
const (
	DeclKindFunction  DeclKind = "function"
	DeclKindClass     DeclKind = "class"
	DeclKindMethod    DeclKind = "method"
	DeclKindVariable  DeclKind = "variable"
	DeclKindParameter DeclKind = "parameter"
	DeclKindField     DeclKind = "field"
)

// ScopeKind identifies the syntactic construct that opened a scope.
type ScopeKind string

// Scope kinds in the extracted tree.
const (
	ScopeKindModule   ScopeKind = "module"
	ScopeKindFunction ScopeKind = "function"
	ScopeKindClass    ScopeKind = "class"
	ScopeKindMethod   ScopeKind = "method"
)

// Declaration is a single name introduced inside a scope, in source order.
type Declaration struct {
	// Name is the declared identifier as written in the source.
	Name string `json:"name"`

	// Kind is the declaration kind (function, class, method, variable, parameter, field).
	Kind DeclKind `json:"kind"`

	// Exported is true for module-level declarations behind an export statement.
	Exported bool `json:"exported"`

	// Line is the 1-based source line of the identifier.
	Line int `json:"line"`

	// NameStart and NameEnd are the byte span of the identifier in the source.
	NameStart uint32 `json:"name_start"`
	NameEnd   uint32 `json:"name_end"`
}

// ScopeNode is one node in the scope arena.
//
// Description:
//
//	Scopes form a tree mirroring lexical nesting (module -> class/function ->
//	nested function). Nodes live in a flat arena on ScopeTree and refer to each
//	other by index, so ancestor walks are index hops rather than string
//	operations on joined paths.
type ScopeNode struct {
	// Name is the scope's own segment in a scope path. Empty for the module root.
	// Anonymous function scopes get a stable ordinal name such as "fn0".
	Name string `json:"name"`

	// Kind is the construct that opened the scope.
	Kind ScopeKind `json:"kind"`

	// Parent is the arena index of the enclosing scope, or -1 for the root.
	Parent int `json:"parent"`

	// Children are arena indices of directly nested scopes, in source order.
	Children []int `json:"children"`

	// Decls are the names introduced directly in this scope, in source order.
	Decls []Declaration `json:"decls"`
}

// IdentRef is one identifier occurrence in the source, with the scope it
// appears in. The applier rewrites files by splicing these byte spans.
type IdentRef struct {
	Name  string
	Start uint32
	End   uint32

	// Scope is the arena index of the innermost enclosing scope.
	Scope int
}

// ScopeTree is the parsed scope structure of one module (file).
//
// Thread Safety:
//
//	ScopeTree is immutable after Parse returns and safe for concurrent reads.
type ScopeTree struct {
	// FilePath is the path the content was parsed as.
	FilePath string `json:"file_path"`

	// Hash is the hex-encoded SHA256 of the source content.
	Hash string `json:"hash"`

	// ParsedAtMilli is when the parse completed (Unix milliseconds).
	ParsedAtMilli int64 `json:"parsed_at_milli"`

	// Scopes is the scope arena. Index 0 is always the module root.
	Scopes []ScopeNode `json:"scopes"`

	// Refs are all identifier occurrences in ascending byte order.
	Refs []IdentRef `json:"-"`

	// Literals counts string/number/template/regex literals in the module,
	// used by the structural fingerprint.
	Literals int `json:"literals"`
}

// Root returns the module root scope.
func (t *ScopeTree) Root() *ScopeNode {
	return &t.Scopes[0]
}

// Path returns the scope path for an arena index, segments joined by ".".
// The module root contributes no segment, so Path(0) is "".
func (t *ScopeTree) Path(idx int) string {
	var segs []string
	for i := idx; i > 0; i = t.Scopes[i].Parent {
		segs = append(segs, t.Scopes[i].Name)
	}
	// Reverse into root-first order.
	for l, r := 0, len(segs)-1; l < r; l, r = l+1, r-1 {
		segs[l], segs[r] = segs[r], segs[l]
	}
	return strings.Join(segs, ScopePathSeparator)
}

// QualifiedPath returns Path(idx) prefixed with a module identity segment.
func (t *ScopeTree) QualifiedPath(module string, idx int) string {
	p := t.Path(idx)
	if p == "" {
		return module
	}
	if module == "" {
		return p
	}
	return module + ScopePathSeparator + p
}

// DeclCount returns the total number of declarations across all scopes.
func (t *ScopeTree) DeclCount() int {
	n := 0
	for i := range t.Scopes {
		n += len(t.Scopes[i].Decls)
	}
	return n
}

// MaxDepth returns the deepest nesting level, where the root is depth 0.
func (t *ScopeTree) MaxDepth() int {
	max := 0
	for i := range t.Scopes {
		d := 0
		for p := i; p > 0; p = t.Scopes[p].Parent {
			d++
		}
		if d > max {
			max = d
		}
	}
	return max
}
