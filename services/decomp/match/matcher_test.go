// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package match

import (
	"context"
	"reflect"
	"testing"

	"github.com/holo-q/hoho-sub001/services/decomp/ast"
)

// moduleFromSource parses JavaScript source into a fingerprinted Module.
func moduleFromSource(t *testing.T, path, src string) Module {
	t.Helper()
	tree, err := ast.NewScopeParser().Parse(context.Background(), []byte(src), path)
	if err != nil {
		t.Fatalf("Parse %s: %v", path, err)
	}
	return Module{Path: path, Fingerprint: ast.FingerprintTree(tree)}
}

// Two structurally distinct module shapes, each in two obfuscation
// renditions. Only names differ within a shape.
const (
	mathV1 = `export function Ab3(qx, wz) {
  const fb = qx + wz;
  return fb;
}
const Zk9 = 5;
`
	mathV2 = `export function Jd8(hh, kk) {
  const mm = hh + kk;
  return mm;
}
const Pt4 = 5;
`
	engineV1 = `class Wu1 {
  start(qa) { return qa; }
  stop() {}
}
`
	engineV2 = `class Zx9 {
  start(bb) { return bb; }
  stop() {}
}
`
)

func TestMatch_CorrelatesRenamedModules(t *testing.T) {
	source := []Module{
		moduleFromSource(t, "chunk1.js", mathV1),
		moduleFromSource(t, "chunk2.js", engineV1),
	}
	target := []Module{
		moduleFromSource(t, "x9.js", engineV2),
		moduleFromSource(t, "y4.js", mathV2),
	}

	result := NewMatcher().Match(source, target)
	if len(result.Matches) != 2 {
		t.Fatalf("matches = %d, want 2: %+v", len(result.Matches), result.Matches)
	}

	table := result.Table()
	if table["x9.js"] != "chunk2.js" {
		t.Errorf("x9.js matched %q, want chunk2.js", table["x9.js"])
	}
	if table["y4.js"] != "chunk1.js" {
		t.Errorf("y4.js matched %q, want chunk1.js", table["y4.js"])
	}
	for _, m := range result.Matches {
		if m.Similarity != 1.0 {
			t.Errorf("pure rename pair %s similarity = %f, want 1.0", m.TargetPath, m.Similarity)
		}
	}
	if len(result.NewModules) != 0 || len(result.RemovedModules) != 0 {
		t.Errorf("new = %v, removed = %v, want none", result.NewModules, result.RemovedModules)
	}
}

func TestMatch_ReportsNewAndRemoved(t *testing.T) {
	source := []Module{
		moduleFromSource(t, "chunk1.js", mathV1),
		moduleFromSource(t, "gone.js", engineV1),
	}
	target := []Module{
		moduleFromSource(t, "y4.js", mathV2),
		moduleFromSource(t, "fresh.js", `const a = 1;`),
	}

	result := NewMatcher().Match(source, target)
	if len(result.Matches) != 1 || result.Matches[0].TargetPath != "y4.js" {
		t.Fatalf("matches = %+v, want only y4.js", result.Matches)
	}
	if !reflect.DeepEqual(result.NewModules, []string{"fresh.js"}) {
		t.Errorf("new = %v, want [fresh.js]", result.NewModules)
	}
	if !reflect.DeepEqual(result.RemovedModules, []string{"gone.js"}) {
		t.Errorf("removed = %v, want [gone.js]", result.RemovedModules)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	source := []Module{
		moduleFromSource(t, "chunk1.js", mathV1),
		moduleFromSource(t, "chunk2.js", engineV1),
	}
	target := []Module{
		moduleFromSource(t, "a.js", mathV2),
		moduleFromSource(t, "b.js", engineV2),
	}

	m := NewMatcher()
	first := m.Match(source, target)
	second := m.Match(source, target)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ across runs:\n%+v\n%+v", first, second)
	}
}

func TestMatch_RaisingThresholdNeverAddsMatches(t *testing.T) {
	source := []Module{
		moduleFromSource(t, "chunk1.js", mathV1),
		moduleFromSource(t, "chunk2.js", engineV1),
	}
	target := []Module{
		moduleFromSource(t, "a.js", mathV2),
		moduleFromSource(t, "b.js", `function lone(x) { return x; }`),
	}

	loose := NewMatcher(WithThreshold(0.3)).Match(source, target)
	strict := NewMatcher(WithThreshold(0.95)).Match(source, target)
	if len(strict.Matches) > len(loose.Matches) {
		t.Errorf("strict matches %d > loose matches %d", len(strict.Matches), len(loose.Matches))
	}
}

func TestMatch_OneToOneAssignment(t *testing.T) {
	// Two identical targets compete for one source; only one may win.
	source := []Module{moduleFromSource(t, "chunk1.js", mathV1)}
	target := []Module{
		moduleFromSource(t, "a.js", mathV2),
		moduleFromSource(t, "b.js", mathV2),
	}

	result := NewMatcher().Match(source, target)
	if len(result.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(result.Matches))
	}
	if len(result.NewModules) != 1 {
		t.Errorf("new = %v, want exactly one leftover target", result.NewModules)
	}
}

func TestMatch_EmptyInputs(t *testing.T) {
	result := NewMatcher().Match(nil, nil)
	if len(result.Matches) != 0 || len(result.NewModules) != 0 || len(result.RemovedModules) != 0 {
		t.Errorf("empty match result = %+v", result)
	}
}

func TestWithThreshold_IgnoresOutOfRange(t *testing.T) {
	if got := NewMatcher(WithThreshold(1.5)).Threshold(); got != DefaultSimilarityThreshold {
		t.Errorf("threshold = %f, want default", got)
	}
	if got := NewMatcher(WithThreshold(0)).Threshold(); got != DefaultSimilarityThreshold {
		t.Errorf("threshold = %f, want default", got)
	}
	if got := NewMatcher(WithThreshold(0.8)).Threshold(); got != 0.8 {
		t.Errorf("threshold = %f, want 0.8", got)
	}
}
