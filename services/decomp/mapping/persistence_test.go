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
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadStore_RoundTrip(t *testing.T) {
	s := buildTestStore(t)
	path := filepath.Join(t.TempDir(), "mappings.json")

	if err := SaveStore(s, path); err != nil {
		t.Fatalf("SaveStore: %v", err)
	}

	loaded, err := LoadStore(path)
	if err != nil {
		t.Fatalf("LoadStore: %v", err)
	}
	if loaded.Count() != s.Count() {
		t.Errorf("loaded count = %d, want %d", loaded.Count(), s.Count())
	}
	if got, _ := loaded.GetMapping("a", "math_utils.fn0"); got != "index" {
		t.Errorf("loaded scoped lookup = %q, want index", got)
	}
}

func TestSaveStore_CreatesDirectoryAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "mappings.json")

	if err := SaveStore(NewStore(), path); err != nil {
		t.Fatalf("SaveStore: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("store file missing: %v", err)
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, "nested", ".store-*.tmp"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestSaveStore_OverwriteReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.json")

	first := NewStore()
	first.AddGlobalMapping("Wu1", "ReactModule")
	if err := SaveStore(first, path); err != nil {
		t.Fatalf("SaveStore first: %v", err)
	}

	second := NewStore()
	second.AddGlobalMapping("Ht7", "Scheduler")
	if err := SaveStore(second, path); err != nil {
		t.Fatalf("SaveStore second: %v", err)
	}

	loaded, err := LoadStore(path)
	if err != nil {
		t.Fatalf("LoadStore: %v", err)
	}
	if loaded.HasMapping("Wu1") {
		t.Error("overwritten store still visible")
	}
	if got, _ := loaded.GetMapping("Ht7", ""); got != "Scheduler" {
		t.Errorf("lookup = %q, want Scheduler", got)
	}
}

func TestSaveStore_NilStore(t *testing.T) {
	if err := SaveStore(nil, filepath.Join(t.TempDir(), "x.json")); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestLoadStore_MissingFile(t *testing.T) {
	_, err := LoadStore(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want wrapped os.ErrNotExist", err)
	}
}

func TestLoadStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := LoadStore(path)
	if !errors.Is(err, ErrCorruptStore) {
		t.Errorf("err = %v, want ErrCorruptStore", err)
	}
}

func TestLoadStore_UnsupportedSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.json")
	doc := `{"schema_version": "9.9", "GlobalMappings": {}, "ScopedMappings": {}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := LoadStore(path)
	if !errors.Is(err, ErrUnsupportedSchema) {
		t.Errorf("err = %v, want ErrUnsupportedSchema", err)
	}
}

func TestAppendConflicts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conflicts.log")

	batch1 := []Conflict{
		{Original: "Zk9", Previous: "MAX_RETRIES", Replacement: "RETRY_LIMIT"},
	}
	batch2 := []Conflict{
		{Original: "a", ScopePath: "mod.fn", Previous: "index", Replacement: "count"},
		{Original: "qx", ScopePath: "mod.fn", Previous: "first", Replacement: "lhs"},
	}
	if err := AppendConflicts(path, batch1); err != nil {
		t.Fatalf("AppendConflicts: %v", err)
	}
	if err := AppendConflicts(path, batch2); err != nil {
		t.Fatalf("AppendConflicts: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var lines []Conflict
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var c Conflict
		if err := json.Unmarshal(scanner.Bytes(), &c); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		lines = append(lines, c)
	}
	if len(lines) != 3 {
		t.Fatalf("log lines = %d, want 3", len(lines))
	}
	if lines[0].Original != "Zk9" || lines[2].Original != "qx" {
		t.Errorf("log order wrong: %+v", lines)
	}
}

func TestAppendConflicts_EmptyIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conflicts.log")
	if err := AppendConflicts(path, nil); err != nil {
		t.Fatalf("AppendConflicts: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("empty append should not create the log file")
	}
}
