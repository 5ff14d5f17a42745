// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apply substitutes accumulated identifier knowledge into a new
// release's obfuscated code, producing a best-effort rendition plus an
// unresolved-symbol report.
package apply

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/holo-q/hoho-sub001/services/decomp/ast"
	"github.com/holo-q/hoho-sub001/services/decomp/learn"
	"github.com/holo-q/hoho-sub001/services/decomp/mapping"
	"github.com/holo-q/hoho-sub001/services/decomp/match"
)

// UnknownModulePrefix flags a module whose canonical name could not be
// resolved. The obfuscated name is kept behind the prefix rather than
// inventing anything.
const UnknownModulePrefix = "Unknown_"

// UnresolvedSymbol is one identifier for which no mapping was found.
// Occurrences are aggregated per (name, scope path).
type UnresolvedSymbol struct {
	Name      string `json:"name"`
	ScopePath string `json:"scope_path"`

	// Line is the first line the symbol was seen on.
	Line int `json:"line"`

	// Count is the number of occurrences.
	Count int `json:"count"`
}

// FileResult is the outcome of applying the store to one module.
type FileResult struct {
	// ModulePath is the target module's release-relative path.
	ModulePath string `json:"module_path"`

	// CanonicalName is the resolved module identity, or the obfuscated
	// name behind UnknownModulePrefix when no history matched.
	CanonicalName string `json:"canonical_name"`

	// ModuleMapped is true when the canonical name came from learned
	// history rather than the Unknown_ fallback.
	ModuleMapped bool `json:"module_mapped"`

	// Output is the substituted source.
	Output []byte `json:"-"`

	// Mapped and Total count identifier occurrences resolved vs seen.
	Mapped int `json:"mapped"`
	Total  int `json:"total"`

	// Unresolved lists symbols left untouched, for human triage.
	Unresolved []UnresolvedSymbol `json:"unresolved,omitempty"`
}

// Applier rewrites obfuscated modules using a frozen store snapshot.
//
// Description:
//
//	For each module, the canonical name is resolved through the
//	correlation table and the store's module-rename facts. Every
//	identifier occurrence is then looked up with its scope path qualified
//	by the module's resolved identity, walking ancestor scopes toward the
//	global table. Hits are spliced into the output by byte span; misses
//	keep the original name and are surfaced in the unresolved report.
//	Beyond the Unknown_ module prefix, no name is ever invented.
//
// Thread Safety:
//
//	Safe for concurrent use. Appliers read an immutable Snapshot, so
//	learning running concurrently for other releases cannot produce a
//	half-merged view.
type Applier struct {
	parser *ast.ScopeParser
	logger *slog.Logger
}

// NewApplier creates an Applier. A nil parser gets default options; a nil
// logger falls back to slog.Default().
func NewApplier(parser *ast.ScopeParser, logger *slog.Logger) *Applier {
	if parser == nil {
		parser = ast.NewScopeParser()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{parser: parser, logger: logger}
}

// Apply substitutes known identifiers into one module.
//
// Inputs:
//
//	ctx          - Context for cancellation.
//	src          - Obfuscated source bytes.
//	modulePath   - The module's release-relative path.
//	snap         - Frozen store snapshot. Must not be nil.
//	correlations - Optional table from module matching against a prior
//	               release. May be nil when applying within one release.
//
// Outputs:
//
//	*FileResult - Substituted output, counts, and unresolved symbols.
//	error       - Non-nil only for parse failures or a nil snapshot.
func (a *Applier) Apply(ctx context.Context, src []byte, modulePath string, snap *mapping.Snapshot, correlations match.CorrelationTable) (*FileResult, error) {
	if snap == nil {
		return nil, fmt.Errorf("snapshot must not be nil")
	}

	tree, err := a.parser.Parse(ctx, src, modulePath)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", modulePath, err)
	}

	selfName := learn.ModuleName(modulePath)
	canonical, moduleMapped := a.resolveCanonical(modulePath, selfName, snap, correlations)
	moduleName := learn.ModuleName(canonical)

	result := &FileResult{
		ModulePath:    modulePath,
		CanonicalName: canonical,
		ModuleMapped:  moduleMapped,
	}

	var out bytes.Buffer
	out.Grow(len(src))
	last := uint32(0)
	unresolved := make(map[string]*UnresolvedSymbol)

	for _, ref := range tree.Refs {
		if ref.Start < last {
			// Overlapping spans cannot be spliced twice.
			continue
		}
		result.Total++

		scopePath := tree.QualifiedPath(moduleName, ref.Scope)
		newName, ok := snap.GetMapping(ref.Name, scopePath)
		if !ok && moduleMapped && ref.Name == selfName {
			// The module's self-named symbol inherits the canonical
			// identity resolved through correlation.
			newName, ok = moduleName, true
		}

		if !ok {
			key := scopePath + "\x00" + ref.Name
			if u, seen := unresolved[key]; seen {
				u.Count++
			} else {
				unresolved[key] = &UnresolvedSymbol{
					Name:      ref.Name,
					ScopePath: scopePath,
					Line:      lineOf(src, ref.Start),
					Count:     1,
				}
			}
			continue
		}

		result.Mapped++
		if newName != ref.Name {
			out.Write(src[last:ref.Start])
			out.WriteString(newName)
			last = ref.End
		}
	}
	out.Write(src[last:])
	result.Output = out.Bytes()

	result.Unresolved = make([]UnresolvedSymbol, 0, len(unresolved))
	for _, u := range unresolved {
		result.Unresolved = append(result.Unresolved, *u)
	}
	sort.Slice(result.Unresolved, func(i, j int) bool {
		if result.Unresolved[i].ScopePath != result.Unresolved[j].ScopePath {
			return result.Unresolved[i].ScopePath < result.Unresolved[j].ScopePath
		}
		return result.Unresolved[i].Name < result.Unresolved[j].Name
	})

	a.logger.Debug("module applied",
		slog.String("module", modulePath),
		slog.String("canonical", canonical),
		slog.Int("mapped", result.Mapped),
		slog.Int("total", result.Total),
		slog.Int("unresolved", len(result.Unresolved)),
	)

	return result, nil
}

// resolveCanonical finds the module's canonical identity: the correlation
// table redirects to the prior release's path, whose module-rename fact
// carries the human-chosen name. Without history the obfuscated name is
// kept behind the Unknown_ prefix to flag it for triage.
func (a *Applier) resolveCanonical(modulePath, selfName string, snap *mapping.Snapshot, correlations match.CorrelationTable) (string, bool) {
	sourcePath := modulePath
	if correlations != nil {
		if sp, ok := correlations[modulePath]; ok {
			sourcePath = sp
		}
	}
	if canonical, ok := snap.GetMapping(mapping.ModuleKeyPrefix+sourcePath, ""); ok {
		return canonical, true
	}
	return UnknownModulePrefix + selfName, false
}

// lineOf returns the 1-based line number of a byte offset.
func lineOf(src []byte, offset uint32) int {
	line := 1
	end := int(offset)
	if end > len(src) {
		end = len(src)
	}
	for _, b := range src[:end] {
		if b == '\n' {
			line++
		}
	}
	return line
}
