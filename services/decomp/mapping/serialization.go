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
	"errors"
	"fmt"
)

// StoreSchemaVersion is the version of the persisted store schema.
// Increment when the persisted format changes in a breaking way.
const StoreSchemaVersion = "1.0"

// ErrUnsupportedSchema is returned when a persisted store declares a schema
// version this build does not understand.
var ErrUnsupportedSchema = errors.New("unsupported store schema version")

// SerializableStore is the JSON-serializable representation of a Store.
//
// Description:
//
//	The on-disk mapping document. Module-rename facts are ordinary
//	GlobalMappings entries under the "module:" key prefix rather than a
//	separate structure. Go's JSON encoder emits map keys sorted, so the
//	document is deterministic for a given store and diffs cleanly.
type SerializableStore struct {
	// SchemaVersion identifies the persisted format version. Documents
	// written before versioning are treated as "1.0".
	SchemaVersion string `json:"schema_version,omitempty"`

	// GlobalMappings is the root-scope table: originalName -> newName.
	GlobalMappings map[string]string `json:"GlobalMappings"`

	// ScopedMappings holds each scope's local table keyed by scope path.
	ScopedMappings map[string]map[string]string `json:"ScopedMappings"`
}

// ToSerializable converts the store to its persisted representation.
func (s *Store) ToSerializable() *SerializableStore {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := &SerializableStore{
		SchemaVersion:  StoreSchemaVersion,
		GlobalMappings: make(map[string]string, len(s.scopes[0].table)),
		ScopedMappings: make(map[string]map[string]string),
	}
	for k, v := range s.scopes[0].table {
		out.GlobalMappings[k] = v
	}
	for i := 1; i < len(s.scopes); i++ {
		if len(s.scopes[i].table) == 0 {
			continue
		}
		path := s.pathLocked(i)
		table := make(map[string]string, len(s.scopes[i].table))
		for k, v := range s.scopes[i].table {
			table[k] = v
		}
		out.ScopedMappings[path] = table
	}
	return out
}

// FromSerializable reconstructs a Store from its persisted representation.
//
// Description:
//
//	Validates the schema version and replays every fact through the normal
//	AddMapping path so the scope arena and indexes are rebuilt exactly as
//	live learning would have built them. The round-trip is lossless: the
//	reconstructed store has identical global and scoped tables.
//
// Outputs:
//
//	*Store - The reconstructed store.
//	error  - ErrUnsupportedSchema (wrapped) for unknown versions, or an
//	         error for a nil input.
func FromSerializable(ss *SerializableStore) (*Store, error) {
	if ss == nil {
		return nil, fmt.Errorf("serializable store must not be nil")
	}
	if ss.SchemaVersion != "" && ss.SchemaVersion != StoreSchemaVersion {
		return nil, fmt.Errorf("%w: %q (expected %q)", ErrUnsupportedSchema, ss.SchemaVersion, StoreSchemaVersion)
	}

	s := NewStore()
	for original, newName := range ss.GlobalMappings {
		s.AddGlobalMapping(original, newName)
	}
	for scopePath, table := range ss.ScopedMappings {
		for original, newName := range table {
			s.AddMapping(original, newName, scopePath)
		}
	}
	return s, nil
}
