// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package match correlates modules between two releases by structural
// fingerprint. Obfuscated module names are reassigned per build, so
// correlation is content-based and never looks at identifier names.
package match

import (
	"sort"

	"github.com/holo-q/hoho-sub001/services/decomp/ast"
)

// DefaultSimilarityThreshold is the minimum fingerprint similarity for a
// committed module pairing. Below it, modules report as new/removed rather
// than force a low-confidence match.
const DefaultSimilarityThreshold = 0.60

// Module is one source unit presented for correlation.
type Module struct {
	// Path is the module's release-relative path in its own release.
	Path string `json:"path"`

	// Fingerprint is the name-independent structural summary.
	Fingerprint ast.Fingerprint `json:"fingerprint"`
}

// Correlation is one committed pairing between releases.
type Correlation struct {
	// TargetPath is the module's path in the newer (target) release.
	TargetPath string `json:"target_path"`

	// SourcePath is the correlated module's path in the older release.
	SourcePath string `json:"source_path"`

	// Similarity is the fingerprint similarity of the pair, in [0, 1].
	Similarity float64 `json:"similarity"`
}

// CorrelationTable maps target-release module paths to their correlated
// source-release module paths.
type CorrelationTable map[string]string

// Result is the full outcome of a matching run.
type Result struct {
	// Matches are the committed pairings, sorted by target path.
	Matches []Correlation `json:"matches"`

	// NewModules are target modules with no correlate (no prior history).
	NewModules []string `json:"new_modules"`

	// RemovedModules are source modules with no correlate in the target.
	RemovedModules []string `json:"removed_modules"`
}

// Table returns the correlation table for the Applier.
func (r *Result) Table() CorrelationTable {
	t := make(CorrelationTable, len(r.Matches))
	for _, m := range r.Matches {
		t[m.TargetPath] = m.SourcePath
	}
	return t
}

// Matcher correlates module sets across releases.
//
// Description:
//
//	Computes pairwise fingerprint similarity between every source and
//	target module, then commits pairs greedily by descending similarity
//	until no pair above the threshold remains. Modules rarely split or
//	merge between adjacent releases, so the greedy maximum-similarity
//	heuristic is adequate without full bipartite optimality.
//
//	Matching is deterministic for fixed inputs: ties break on
//	(targetPath, sourcePath) lexicographically. Raising the threshold
//	never increases the number of matches.
//
// Thread Safety: Matcher is stateless after construction.
type Matcher struct {
	threshold float64
}

// MatcherOption is a functional option for configuring Matcher.
type MatcherOption func(*Matcher)

// WithThreshold overrides the similarity threshold. Values outside (0, 1]
// are ignored.
func WithThreshold(t float64) MatcherOption {
	return func(m *Matcher) {
		if t > 0 && t <= 1 {
			m.threshold = t
		}
	}
}

// NewMatcher creates a Matcher with the default threshold.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{threshold: DefaultSimilarityThreshold}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Threshold returns the configured similarity threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// candidate is one scored source/target pair above the threshold.
type candidate struct {
	sourceIdx  int
	targetIdx  int
	similarity float64
}

// Match correlates target modules against source modules.
//
// Inputs:
//
//	source - Modules of the older release.
//	target - Modules of the newer release.
//
// Outputs:
//
//	*Result - Committed pairings plus new/removed module lists. Never nil.
func (m *Matcher) Match(source, target []Module) *Result {
	candidates := make([]candidate, 0)
	for ti := range target {
		for si := range source {
			sim := target[ti].Fingerprint.Similarity(source[si].Fingerprint)
			if sim >= m.threshold {
				candidates = append(candidates, candidate{sourceIdx: si, targetIdx: ti, similarity: sim})
			}
		}
	}

	// Highest similarity first; deterministic tie-break on paths.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].similarity != candidates[j].similarity {
			return candidates[i].similarity > candidates[j].similarity
		}
		ti, tj := target[candidates[i].targetIdx].Path, target[candidates[j].targetIdx].Path
		if ti != tj {
			return ti < tj
		}
		return source[candidates[i].sourceIdx].Path < source[candidates[j].sourceIdx].Path
	})

	result := &Result{
		Matches:        []Correlation{},
		NewModules:     []string{},
		RemovedModules: []string{},
	}

	sourceUsed := make([]bool, len(source))
	targetUsed := make([]bool, len(target))
	for _, c := range candidates {
		if sourceUsed[c.sourceIdx] || targetUsed[c.targetIdx] {
			continue
		}
		sourceUsed[c.sourceIdx] = true
		targetUsed[c.targetIdx] = true
		result.Matches = append(result.Matches, Correlation{
			TargetPath: target[c.targetIdx].Path,
			SourcePath: source[c.sourceIdx].Path,
			Similarity: c.similarity,
		})
	}

	for ti := range target {
		if !targetUsed[ti] {
			result.NewModules = append(result.NewModules, target[ti].Path)
		}
	}
	for si := range source {
		if !sourceUsed[si] {
			result.RemovedModules = append(result.RemovedModules, source[si].Path)
		}
	}

	sort.Slice(result.Matches, func(i, j int) bool {
		return result.Matches[i].TargetPath < result.Matches[j].TargetPath
	})
	sort.Strings(result.NewModules)
	sort.Strings(result.RemovedModules)

	return result
}
