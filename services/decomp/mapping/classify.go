// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mapping

import (
	"unicode"
	"unicode/utf8"
)

// longNameThreshold is the length at which any identifier is assumed to be
// a descriptive, globally unique name regardless of capitalization.
const longNameThreshold = 8

// Uniqueness is the advisory classification of an obfuscated name: whether
// it likely denotes one global concept or a locally scoped throwaway.
type Uniqueness int

const (
	// LikelyScoped names (length <= 2, typically parameters and loop
	// variables) are reused aggressively across unrelated scopes.
	LikelyScoped Uniqueness = iota

	// LikelyGlobal names (module-level constants and classes, 3+ chars
	// starting uppercase, or long descriptive names) are expected to
	// denote a single concept program-wide.
	LikelyGlobal
)

// String returns a human-readable label.
func (u Uniqueness) String() string {
	if u == LikelyGlobal {
		return "likely-global"
	}
	return "likely-scoped"
}

// ClassifyName applies the uniqueness heuristic to an identifier.
//
// Description:
//
//	Guides the learner's default choice of global-vs-scoped mapping when
//	no stronger evidence exists. The classification is advisory: an
//	explicit scope-qualified mapping always wins over a global one during
//	resolution.
func ClassifyName(name string) Uniqueness {
	n := utf8.RuneCountInString(name)
	if n <= 2 {
		return LikelyScoped
	}
	if n >= longNameThreshold {
		return LikelyGlobal
	}
	first, _ := utf8.DecodeRuneInString(name)
	if unicode.IsUpper(first) {
		return LikelyGlobal
	}
	return LikelyScoped
}
