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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorruptStore is returned when a persisted store file exists but cannot
// be parsed. Callers should fail that specific load and continue with other
// releases.
var ErrCorruptStore = errors.New("corrupt mapping store file")

// SaveStore writes the store to path atomically.
//
// Description:
//
//	Marshals the store's persisted representation, writes it to a
//	temporary file in the destination directory, syncs it, and renames it
//	over the destination. A crash mid-write leaves the previous file
//	intact; the rename is the commit point.
func SaveStore(store *Store, path string) error {
	if store == nil {
		return fmt.Errorf("store must not be nil")
	}

	data, err := json.MarshalIndent(store.ToSerializable(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling store: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating store directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp store file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp store file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("setting store file mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("committing store file %s: %w", path, err)
	}
	return nil
}

// LoadStore reads a persisted store from path.
//
// Outputs:
//
//	*Store - The reconstructed store.
//	error  - Wraps os errors for missing files, ErrCorruptStore for
//	         malformed JSON, ErrUnsupportedSchema for unknown versions.
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading store file %s: %w", path, err)
	}

	var ss SerializableStore
	if err := json.Unmarshal(data, &ss); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptStore, path, err)
	}

	store, err := FromSerializable(&ss)
	if err != nil {
		return nil, fmt.Errorf("reconstructing store from %s: %w", path, err)
	}
	return store, nil
}

// AppendConflicts appends conflicts to a log file, one JSON object per
// line. The log sits next to the global store for human review.
func AppendConflicts(path string, conflicts []Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening conflict log %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, c := range conflicts {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("writing conflict log entry: %w", err)
		}
	}
	return nil
}
