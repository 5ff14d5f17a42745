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
	"fmt"
	"hash/fnv"
	"strconv"
)

// maxFingerprintEvents bounds the event sequence length so pairwise LCS
// comparison stays affordable on very large bundles.
const maxFingerprintEvents = 512

// FeatureEvent is one entry in the order-sensitive structural summary of a
// module: a scope or declaration kind paired with its nesting depth.
// Identifier names are deliberately excluded so the summary survives
// obfuscator renaming.
type FeatureEvent struct {
	Kind  string `json:"kind"`
	Depth int    `json:"depth"`
}

// Fingerprint is the name-independent structural summary of a module.
//
// Description:
//
//	The event sequence captures the order and nesting of scopes and
//	declarations; the scalar fields capture overall shape (counts, depth,
//	literal density). Two releases of the same logical module produce very
//	similar fingerprints even though every identifier differs.
type Fingerprint struct {
	// Events is the depth-first sequence of structural events, capped at
	// maxFingerprintEvents entries.
	Events []FeatureEvent `json:"events"`

	// Decls is the total declaration count across all scopes.
	Decls int `json:"decls"`

	// Scopes is the total scope count, including the module root.
	Scopes int `json:"scopes"`

	// MaxDepth is the deepest scope nesting level.
	MaxDepth int `json:"max_depth"`

	// Literals is the number of literal constants in the module.
	Literals int `json:"literals"`

	// Hash is the FNV-64a hash of the full (uncapped) event stream,
	// usable as a cheap exact-structure identity.
	Hash string `json:"hash"`
}

// FingerprintTree computes the structural fingerprint of a scope tree.
//
// Description:
//
//	Walks the scope arena depth-first from the module root, emitting one
//	event per scope entry and one per declaration, in source order. The
//	walk order is fully determined by the tree structure, so the same file
//	always yields the same fingerprint.
func FingerprintTree(t *ScopeTree) Fingerprint {
	h := fnv.New64a()
	fp := Fingerprint{
		Decls:    t.DeclCount(),
		Scopes:   len(t.Scopes),
		MaxDepth: t.MaxDepth(),
		Literals: t.Literals,
	}

	var emit func(idx, depth int)
	emit = func(idx, depth int) {
		scope := &t.Scopes[idx]
		ev := FeatureEvent{Kind: "scope:" + string(scope.Kind), Depth: depth}
		h.Write([]byte(ev.Kind + "@" + strconv.Itoa(depth)))
		if len(fp.Events) < maxFingerprintEvents {
			fp.Events = append(fp.Events, ev)
		}
		for _, d := range scope.Decls {
			dev := FeatureEvent{Kind: "decl:" + string(d.Kind), Depth: depth}
			h.Write([]byte(dev.Kind + "@" + strconv.Itoa(depth)))
			if len(fp.Events) < maxFingerprintEvents {
				fp.Events = append(fp.Events, dev)
			}
		}
		for _, child := range scope.Children {
			emit(child, depth+1)
		}
	}
	emit(0, 0)

	fp.Hash = fmt.Sprintf("%016x", h.Sum64())
	return fp
}

// Similarity scores two fingerprints in [0, 1].
//
// Description:
//
//	Blends a normalized longest-common-subsequence over the event
//	sequences (weight 0.7) with a scalar-profile closeness over the count
//	fields (weight 0.3). Two identical structures score 1.0; structures
//	sharing nothing score near 0.
func (f Fingerprint) Similarity(other Fingerprint) float64 {
	if f.Hash == other.Hash && f.Hash != "" {
		return 1.0
	}

	seq := sequenceSimilarity(f.Events, other.Events)
	scalar := scalarSimilarity(f, other)
	return 0.7*seq + 0.3*scalar
}

// sequenceSimilarity is LCS(a, b) / max(len(a), len(b)).
func sequenceSimilarity(a, b []FeatureEvent) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	// Single-row LCS table.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}

	lcs := prev[len(b)]
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	return float64(lcs) / float64(denom)
}

// scalarSimilarity averages per-field closeness ratios.
func scalarSimilarity(a, b Fingerprint) float64 {
	pairs := [][2]int{
		{a.Decls, b.Decls},
		{a.Scopes, b.Scopes},
		{a.MaxDepth, b.MaxDepth},
		{a.Literals, b.Literals},
	}

	sum := 0.0
	for _, p := range pairs {
		lo, hi := p[0], p[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		if hi == 0 {
			sum += 1.0
			continue
		}
		sum += float64(lo) / float64(hi)
	}
	return sum / float64(len(pairs))
}
