// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package learn infers identifier renames from a paired obfuscated/manual
// file by walking both scope trees in lockstep.
package learn

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/holo-q/hoho-sub001/services/decomp/ast"
	"github.com/holo-q/hoho-sub001/services/decomp/mapping"
)

// UnresolvedSubtree records a scope where alignment was abandoned because
// the original and manual trees disagree in shape.
type UnresolvedSubtree struct {
	// ScopePath is the qualified path of the scope in the original file.
	ScopePath string `json:"scope_path"`

	// Reason describes the shape disagreement.
	Reason string `json:"reason"`
}

// FileReport summarizes one learned file pair.
type FileReport struct {
	// ModulePath is the obfuscated file's path (relative to the release root).
	ModulePath string `json:"module_path"`

	// CanonicalPath is the manual counterpart's path, which carries the
	// human-chosen module name.
	CanonicalPath string `json:"canonical_path"`

	// Learned is the number of mappings recorded from this pair.
	Learned int `json:"learned"`

	// Unresolved lists subtrees where alignment was abandoned.
	Unresolved []UnresolvedSubtree `json:"unresolved,omitempty"`
}

// Learner aligns an obfuscated file with its manually rewritten counterpart
// and records the inferred renames into a mapping store.
//
// Description:
//
//	The manual file is asserted to be a faithful, structure-preserving
//	rewrite: same declaration order and nesting, only names changed. The
//	learner walks both scope trees in lockstep by structural position; the
//	Nth declaration in the Mth nested scope on one side corresponds to the
//	Nth declaration in the Mth nested scope on the other. Where the trees
//	disagree in shape, alignment for that subtree is abandoned and
//	reported rather than guessed.
//
// Thread Safety:
//
//	Safe for concurrent use; per-file learning carries no shared state
//	beyond the destination store, which locks internally.
type Learner struct {
	parser *ast.ScopeParser
	logger *slog.Logger
}

// NewLearner creates a Learner. A nil parser gets default options; a nil
// logger falls back to slog.Default().
func NewLearner(parser *ast.ScopeParser, logger *slog.Logger) *Learner {
	if parser == nil {
		parser = ast.NewScopeParser()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{parser: parser, logger: logger}
}

// ModuleName derives the module identity segment from a file path: the base
// name without its extension.
func ModuleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Learn infers mappings from one original/manual pair and records them
// into store.
//
// Description:
//
//	Parses both files, aligns the scope trees, and emits one mapping per
//	renamed declaration, keyed by the obfuscated file's scope path
//	qualified with the module's canonical identity. Module-level exported
//	declarations always map globally; everything else follows the
//	uniqueness heuristic. The module rename itself is recorded as a
//	global fact under the "module:" key prefix.
//
// Inputs:
//
//	ctx           - Context for cancellation.
//	original      - Obfuscated source bytes.
//	manual        - Manually rewritten source bytes.
//	modulePath    - The obfuscated file's release-relative path.
//	canonicalPath - The manual file's release-relative path.
//	store         - Destination store. Must not be nil.
//
// Outputs:
//
//	*FileReport - Counts and unresolved subtrees for this pair.
//	error       - Non-nil only for parse failures or a nil store.
func (l *Learner) Learn(ctx context.Context, original, manual []byte, modulePath, canonicalPath string, store *mapping.Store) (*FileReport, error) {
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}

	origTree, err := l.parser.Parse(ctx, original, modulePath)
	if err != nil {
		return nil, fmt.Errorf("parsing original %s: %w", modulePath, err)
	}
	manualTree, err := l.parser.Parse(ctx, manual, canonicalPath)
	if err != nil {
		return nil, fmt.Errorf("parsing manual %s: %w", canonicalPath, err)
	}

	report := &FileReport{
		ModulePath:    modulePath,
		CanonicalPath: canonicalPath,
	}

	// The module rename is itself a learned fact, keyed by module identity.
	store.AddGlobalMapping(mapping.ModuleKeyPrefix+modulePath, canonicalPath)

	module := ModuleName(canonicalPath)
	l.alignScopes(origTree, manualTree, 0, 0, module, store, report)

	if len(report.Unresolved) > 0 {
		l.logger.Warn("alignment abandoned for some subtrees",
			slog.String("module", modulePath),
			slog.Int("unresolved", len(report.Unresolved)),
		)
	}

	return report, nil
}

// alignScopes pairs one scope from each tree and recurses over children.
// A shape disagreement abandons this subtree only; siblings continue.
func (l *Learner) alignScopes(orig, manual *ast.ScopeTree, oIdx, mIdx int, module string, store *mapping.Store, report *FileReport) {
	oScope := &orig.Scopes[oIdx]
	mScope := &manual.Scopes[mIdx]

	if len(oScope.Decls) != len(mScope.Decls) {
		report.Unresolved = append(report.Unresolved, UnresolvedSubtree{
			ScopePath: orig.QualifiedPath(module, oIdx),
			Reason:    fmt.Sprintf("declaration count mismatch: %d vs %d", len(oScope.Decls), len(mScope.Decls)),
		})
		return
	}
	if len(oScope.Children) != len(mScope.Children) {
		report.Unresolved = append(report.Unresolved, UnresolvedSubtree{
			ScopePath: orig.QualifiedPath(module, oIdx),
			Reason:    fmt.Sprintf("nested scope count mismatch: %d vs %d", len(oScope.Children), len(mScope.Children)),
		})
		return
	}

	scopePath := orig.QualifiedPath(module, oIdx)
	for i := range oScope.Decls {
		od := &oScope.Decls[i]
		md := &mScope.Decls[i]

		if od.Kind != md.Kind {
			report.Unresolved = append(report.Unresolved, UnresolvedSubtree{
				ScopePath: scopePath,
				Reason:    fmt.Sprintf("declaration kind mismatch at position %d: %s vs %s", i, od.Kind, md.Kind),
			})
			return
		}
		if od.Name == md.Name {
			continue
		}

		if l.mapsGlobally(od, oIdx) {
			store.AddGlobalMapping(od.Name, md.Name)
		} else {
			store.AddMapping(od.Name, md.Name, scopePath)
		}
		report.Learned++
	}

	for i := range oScope.Children {
		l.alignScopes(orig, manual, oScope.Children[i], mScope.Children[i], module, store, report)
	}
}

// mapsGlobally decides global-vs-scoped for one declaration. A module-level
// exported name is always global; otherwise the uniqueness heuristic applies.
func (l *Learner) mapsGlobally(d *ast.Declaration, scopeIdx int) bool {
	if scopeIdx == 0 && d.Exported {
		return true
	}
	return mapping.ClassifyName(d.Name) == mapping.LikelyGlobal
}
