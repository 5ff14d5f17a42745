// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
	"sort"

	"github.com/holo-q/hoho-sub001/services/decomp/mapping"
)

// StoreDiff describes how mapping knowledge changed between two release
// snapshots.
type StoreDiff struct {
	// BaseRelease and TargetRelease label the compared snapshots.
	BaseRelease   string `json:"base_release"`
	TargetRelease string `json:"target_release"`

	// GlobalAdded are global originals mapped in target but not in base.
	GlobalAdded []string `json:"global_added"`

	// GlobalRemoved are global originals mapped in base but not in target.
	GlobalRemoved []string `json:"global_removed"`

	// GlobalChanged are global originals mapped to a different name.
	GlobalChanged []MappingChange `json:"global_changed"`

	// ScopesAdded and ScopesRemoved count scope paths present on only
	// one side.
	ScopesAdded   int `json:"scopes_added"`
	ScopesRemoved int `json:"scopes_removed"`

	// Summary contains aggregate statistics about the diff.
	Summary DiffSummary `json:"summary"`
}

// MappingChange records one re-mapped original name.
type MappingChange struct {
	Original string `json:"original"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// DiffSummary contains aggregate statistics about a store diff.
type DiffSummary struct {
	// BaseCount and TargetCount are total mapping counts per side.
	BaseCount   int `json:"base_count"`
	TargetCount int `json:"target_count"`

	// TotalChanges is added + removed + changed globals plus scope churn.
	TotalChanges int `json:"total_changes"`

	// ChangeRatio is the fraction of the larger side that changed.
	ChangeRatio float64 `json:"change_ratio"`
}

// DiffStores compares two mapping stores, typically loaded from the
// release archive, and reports how accumulated knowledge moved between
// releases.
//
// Outputs:
//
//	*StoreDiff - The computed differences.
//	error      - Non-nil if either store is nil.
func DiffStores(base, target *mapping.Store, baseRelease, targetRelease string) (*StoreDiff, error) {
	if base == nil {
		return nil, fmt.Errorf("base store must not be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target store must not be nil")
	}

	bs := base.ToSerializable()
	ts := target.ToSerializable()

	diff := &StoreDiff{
		BaseRelease:   baseRelease,
		TargetRelease: targetRelease,
		GlobalAdded:   []string{},
		GlobalRemoved: []string{},
		GlobalChanged: []MappingChange{},
	}

	for original, current := range ts.GlobalMappings {
		previous, ok := bs.GlobalMappings[original]
		if !ok {
			diff.GlobalAdded = append(diff.GlobalAdded, original)
			continue
		}
		if previous != current {
			diff.GlobalChanged = append(diff.GlobalChanged, MappingChange{
				Original: original,
				Previous: previous,
				Current:  current,
			})
		}
	}
	for original := range bs.GlobalMappings {
		if _, ok := ts.GlobalMappings[original]; !ok {
			diff.GlobalRemoved = append(diff.GlobalRemoved, original)
		}
	}

	for path := range ts.ScopedMappings {
		if _, ok := bs.ScopedMappings[path]; !ok {
			diff.ScopesAdded++
		}
	}
	for path := range bs.ScopedMappings {
		if _, ok := ts.ScopedMappings[path]; !ok {
			diff.ScopesRemoved++
		}
	}

	sort.Strings(diff.GlobalAdded)
	sort.Strings(diff.GlobalRemoved)
	sort.Slice(diff.GlobalChanged, func(i, j int) bool {
		return diff.GlobalChanged[i].Original < diff.GlobalChanged[j].Original
	})

	baseCount := base.Count()
	targetCount := target.Count()
	larger := baseCount
	if targetCount > larger {
		larger = targetCount
	}

	total := len(diff.GlobalAdded) + len(diff.GlobalRemoved) + len(diff.GlobalChanged) + diff.ScopesAdded + diff.ScopesRemoved
	ratio := 0.0
	if larger > 0 {
		ratio = float64(total) / float64(larger)
	}

	diff.Summary = DiffSummary{
		BaseCount:    baseCount,
		TargetCount:  targetCount,
		TotalChanges: total,
		ChangeRatio:  ratio,
	}

	return diff, nil
}
