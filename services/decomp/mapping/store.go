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
	"sort"
	"strings"
	"sync"
	"time"
)

// ScopePathSeparator joins scope segments in a persisted scope path.
const ScopePathSeparator = "."

// ModuleKeyPrefix marks global-table entries that record module (file)
// renames rather than identifier renames. The key is the prefix plus the
// obfuscated module path; the value is the human-chosen name.
const ModuleKeyPrefix = "module:"

// Conflict records a mapping overwrite: the same (original, scope) key was
// learned with a different value. Last write wins; the conflict is kept for
// human review.
type Conflict struct {
	Original        string `json:"original"`
	ScopePath       string `json:"scope_path"`
	Previous        string `json:"previous"`
	Replacement     string `json:"replacement"`
	ObservedAtMilli int64  `json:"observed_at_milli"`
}

// scopeEntry is one node in the store's scope arena.
type scopeEntry struct {
	name     string
	parent   int
	children map[string]int
	table    map[string]string
}

// Store is the scope-aware knowledge base of identifier renames.
//
// Description:
//
//	Mappings are facts of the form (originalName, scopePath) -> newName.
//	Scopes form an arena-backed tree mirroring lexical nesting; the root
//	(index 0, empty path) holds the global table. Lookup resolves from the
//	most specific scope toward the root, so a single-letter name can mean
//	different things in different functions while module-level names stay
//	globally unique.
//
//	Re-learning an identical fact increments its occurrence count.
//	Learning a different value for an existing key overwrites it and
//	appends a Conflict. Facts are never deleted.
//
// Thread Safety:
//
//	Safe for concurrent use. Writers serialize on an internal mutex;
//	readers that must not observe concurrent merges should take a
//	Snapshot first.
type Store struct {
	mu          sync.RWMutex
	scopes      []scopeEntry
	index       map[string]int
	occurrences map[string]int
	conflicts   []Conflict
}

// NewStore creates an empty Store with just the root (global) scope.
func NewStore() *Store {
	return &Store{
		scopes: []scopeEntry{{
			name:     "",
			parent:   -1,
			children: make(map[string]int),
			table:    make(map[string]string),
		}},
		index:       map[string]int{"": 0},
		occurrences: make(map[string]int),
	}
}

// AddMapping inserts or overwrites the mapping for (original, scopePath).
// An empty scopePath targets the global table. Overwriting with a different
// value records a Conflict; re-adding the same value strengthens the fact's
// occurrence count.
func (s *Store) AddMapping(original, newName, scopePath string) {
	if original == "" || newName == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.ensureScope(scopePath)
	table := s.scopes[idx].table
	key := scopePath + "\x00" + original

	if prev, ok := table[original]; ok {
		if prev == newName {
			s.occurrences[key]++
			return
		}
		s.conflicts = append(s.conflicts, Conflict{
			Original:        original,
			ScopePath:       scopePath,
			Previous:        prev,
			Replacement:     newName,
			ObservedAtMilli: time.Now().UnixMilli(),
		})
	}
	table[original] = newName
	s.occurrences[key] = 1
}

// AddGlobalMapping is AddMapping with the root scope.
func (s *Store) AddGlobalMapping(original, newName string) {
	s.AddMapping(original, newName, "")
}

// GetMapping resolves original within scopePath.
//
// Description:
//
//	Resolution order: (1) the exact scope, (2) each ancestor scope from
//	nearest to furthest, (3) the global table. Scope segments that were
//	never registered hold no facts, so the walk starts at the deepest
//	registered prefix of the requested path.
//
// Outputs:
//
//	string - The mapped name, if found.
//	bool   - Whether any scope in the chain defines the name.
func (s *Store) GetMapping(original, scopePath string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolve(original, scopePath)
}

// resolve is GetMapping without locking, shared with Snapshot.
func (s *Store) resolve(original, scopePath string) (string, bool) {
	idx := 0
	if scopePath != "" {
		for _, seg := range strings.Split(scopePath, ScopePathSeparator) {
			child, ok := s.scopes[idx].children[seg]
			if !ok {
				break
			}
			idx = child
		}
	}
	for i := idx; i >= 0; i = s.scopes[i].parent {
		if name, ok := s.scopes[i].table[original]; ok {
			return name, true
		}
	}
	return "", false
}

// HasMapping reports whether any scope, including the global table,
// defines original. Used for coverage reporting.
func (s *Store) HasMapping(original string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.scopes {
		if _, ok := s.scopes[i].table[original]; ok {
			return true
		}
	}
	return false
}

// Count returns the total number of distinct scoped and global mappings.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for i := range s.scopes {
		n += len(s.scopes[i].table)
	}
	return n
}

// Occurrences returns how many times the fact for (original, scopePath)
// has been observed with its current value. Zero if absent.
func (s *Store) Occurrences(original, scopePath string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.occurrences[scopePath+"\x00"+original]
}

// Conflicts returns a copy of the accumulated conflict log.
func (s *Store) Conflicts() []Conflict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conflict, len(s.conflicts))
	copy(out, s.conflicts)
	return out
}

// Merge folds every fact of other into s, applying the usual overwrite and
// conflict semantics, and returns the conflicts this merge produced.
// Merging is the single exclusive step when releases are learned in
// parallel; each release's facts are collected independently first.
func (s *Store) Merge(other *Store) []Conflict {
	other.mu.RLock()
	type fact struct {
		original, newName, scopePath string
		count                        int
	}
	var facts []fact
	for i := range other.scopes {
		path := other.pathLocked(i)
		for original, newName := range other.scopes[i].table {
			facts = append(facts, fact{
				original:  original,
				newName:   newName,
				scopePath: path,
				count:     other.occurrences[path+"\x00"+original],
			})
		}
	}
	other.mu.RUnlock()

	// Deterministic merge order.
	sort.Slice(facts, func(i, j int) bool {
		if facts[i].scopePath != facts[j].scopePath {
			return facts[i].scopePath < facts[j].scopePath
		}
		return facts[i].original < facts[j].original
	})

	s.mu.Lock()
	before := len(s.conflicts)
	for _, f := range facts {
		s.addLocked(f.original, f.newName, f.scopePath, f.count)
	}
	produced := make([]Conflict, len(s.conflicts)-before)
	copy(produced, s.conflicts[before:])
	s.mu.Unlock()

	return produced
}

// addLocked is AddMapping body without locking, with an explicit occurrence
// weight for merges.
func (s *Store) addLocked(original, newName, scopePath string, weight int) {
	if original == "" || newName == "" {
		return
	}
	if weight < 1 {
		weight = 1
	}

	idx := s.ensureScope(scopePath)
	table := s.scopes[idx].table
	key := scopePath + "\x00" + original

	if prev, ok := table[original]; ok {
		if prev == newName {
			s.occurrences[key] += weight
			return
		}
		s.conflicts = append(s.conflicts, Conflict{
			Original:        original,
			ScopePath:       scopePath,
			Previous:        prev,
			Replacement:     newName,
			ObservedAtMilli: time.Now().UnixMilli(),
		})
	}
	table[original] = newName
	s.occurrences[key] = weight
}

// ensureScope returns the arena index for scopePath, creating intermediate
// scopes as needed. Caller must hold the write lock.
func (s *Store) ensureScope(scopePath string) int {
	if scopePath == "" {
		return 0
	}
	if idx, ok := s.index[scopePath]; ok {
		return idx
	}

	idx := 0
	built := ""
	for _, seg := range strings.Split(scopePath, ScopePathSeparator) {
		if built == "" {
			built = seg
		} else {
			built += ScopePathSeparator + seg
		}
		child, ok := s.scopes[idx].children[seg]
		if !ok {
			child = len(s.scopes)
			s.scopes = append(s.scopes, scopeEntry{
				name:     seg,
				parent:   idx,
				children: make(map[string]int),
				table:    make(map[string]string),
			})
			s.scopes[idx].children[seg] = child
			s.index[built] = child
		}
		idx = child
	}
	return idx
}

// pathLocked joins the segment names from the root to arena index idx.
// Caller must hold at least a read lock.
func (s *Store) pathLocked(idx int) string {
	if idx == 0 {
		return ""
	}
	var segs []string
	for i := idx; i > 0; i = s.scopes[i].parent {
		segs = append(segs, s.scopes[i].name)
	}
	for l, r := 0, len(segs)-1; l < r; l, r = l+1, r-1 {
		segs[l], segs[r] = segs[r], segs[l]
	}
	return strings.Join(segs, ScopePathSeparator)
}

// Snapshot returns an immutable copy of the store for readers. Appliers
// resolve against a snapshot taken at the start of a run, so merges
// happening concurrently for other releases cannot produce a half-merged
// view.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &Store{
		scopes:      make([]scopeEntry, len(s.scopes)),
		index:       make(map[string]int, len(s.index)),
		occurrences: make(map[string]int, len(s.occurrences)),
	}
	for i, sc := range s.scopes {
		entry := scopeEntry{
			name:     sc.name,
			parent:   sc.parent,
			children: make(map[string]int, len(sc.children)),
			table:    make(map[string]string, len(sc.table)),
		}
		for k, v := range sc.children {
			entry.children[k] = v
		}
		for k, v := range sc.table {
			entry.table[k] = v
		}
		clone.scopes[i] = entry
	}
	for k, v := range s.index {
		clone.index[k] = v
	}
	for k, v := range s.occurrences {
		clone.occurrences[k] = v
	}

	return &Snapshot{store: clone}
}

// Snapshot is a read-only view of a Store frozen at a point in time.
//
// Thread Safety: safe for concurrent use; the underlying copy is never
// mutated after construction.
type Snapshot struct {
	store *Store
}

// GetMapping resolves original within scopePath. See Store.GetMapping.
func (v *Snapshot) GetMapping(original, scopePath string) (string, bool) {
	return v.store.resolve(original, scopePath)
}

// HasMapping reports whether any scope defines original.
func (v *Snapshot) HasMapping(original string) bool {
	for i := range v.store.scopes {
		if _, ok := v.store.scopes[i].table[original]; ok {
			return true
		}
	}
	return false
}

// Count returns the total number of mappings in the snapshot.
func (v *Snapshot) Count() int {
	n := 0
	for i := range v.store.scopes {
		n += len(v.store.scopes[i].table)
	}
	return n
}
