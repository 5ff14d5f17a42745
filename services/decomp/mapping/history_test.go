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
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/dgraph-io/badger/v4"
)

// newTestDB creates an in-memory BadgerDB for testing.
func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("failed to open in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestHistory creates a History with an in-memory DB.
func newTestHistory(t *testing.T) *History {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	h, err := NewHistory(newTestDB(t), logger)
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}
	return h
}

func TestNewHistory_NilDB(t *testing.T) {
	if _, err := NewHistory(nil, slog.Default()); err == nil {
		t.Error("expected error for nil DB")
	}
}

func TestNewHistory_NilLogger(t *testing.T) {
	if _, err := NewHistory(newTestDB(t), nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestHistory_SaveAndLoad(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	store := buildTestStore(t)

	meta, err := h.Save(ctx, "claude-code", "v1.0.0", store)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if meta.ReleaseID == "" {
		t.Error("release ID should not be empty")
	}
	if meta.Target != "claude-code" || meta.Release != "v1.0.0" {
		t.Errorf("meta identity = %q/%q", meta.Target, meta.Release)
	}
	if meta.MappingCount != store.Count() {
		t.Errorf("mapping count = %d, want %d", meta.MappingCount, store.Count())
	}
	if meta.GlobalCount != 2 || meta.ScopedCount != 3 {
		t.Errorf("global/scoped = %d/%d, want 2/3", meta.GlobalCount, meta.ScopedCount)
	}
	if meta.CompressedSize <= 0 {
		t.Error("compressed size should be > 0")
	}
	if meta.ContentHash == "" {
		t.Error("content hash should not be empty")
	}
	if meta.SchemaVersion != StoreSchemaVersion {
		t.Errorf("schema version = %q, want %q", meta.SchemaVersion, StoreSchemaVersion)
	}

	loaded, loadedMeta, err := h.Load(ctx, meta.ReleaseID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loadedMeta.ReleaseID != meta.ReleaseID {
		t.Errorf("loaded release ID = %q, want %q", loadedMeta.ReleaseID, meta.ReleaseID)
	}
	if loaded.Count() != store.Count() {
		t.Errorf("loaded count = %d, want %d", loaded.Count(), store.Count())
	}
	if got, _ := loaded.GetMapping("qx", "math_utils.addNumbers"); got != "first" {
		t.Errorf("loaded scoped lookup = %q, want first", got)
	}
}

func TestHistory_LoadRelease(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	if _, err := h.Save(ctx, "claude-code", "v1.0.0", buildTestStore(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, meta, err := h.LoadRelease(ctx, "claude-code", "v1.0.0")
	if err != nil {
		t.Fatalf("LoadRelease: %v", err)
	}
	if meta.Release != "v1.0.0" {
		t.Errorf("release = %q, want v1.0.0", meta.Release)
	}
	if got, _ := loaded.GetMapping("Wu1", ""); got != "ReactModule" {
		t.Errorf("lookup = %q, want ReactModule", got)
	}

	if _, _, err := h.LoadRelease(ctx, "claude-code", "v9.9.9"); err == nil {
		t.Error("expected error for unknown release")
	}
}

func TestHistory_LoadLatest(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	first := NewStore()
	first.AddGlobalMapping("Wu1", "ReactModule")
	if _, err := h.Save(ctx, "claude-code", "v1.0.0", first); err != nil {
		t.Fatalf("Save v1: %v", err)
	}

	second := NewStore()
	second.AddGlobalMapping("Wu1", "ReactModule")
	second.AddGlobalMapping("Ht7", "Scheduler")
	if _, err := h.Save(ctx, "claude-code", "v1.1.0", second); err != nil {
		t.Fatalf("Save v1.1: %v", err)
	}

	loaded, meta, err := h.LoadLatest(ctx, "claude-code")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if meta.Release != "v1.1.0" {
		t.Errorf("latest release = %q, want v1.1.0", meta.Release)
	}
	if loaded.Count() != 2 {
		t.Errorf("latest count = %d, want 2", loaded.Count())
	}
}

func TestHistory_SaveIsIdempotentPerRelease(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	if _, err := h.Save(ctx, "claude-code", "v1.0.0", buildTestStore(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Re-archiving the same release overwrites in place.
	if _, err := h.Save(ctx, "claude-code", "v1.0.0", buildTestStore(t)); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	releases, err := h.List(ctx, "claude-code", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(releases) != 1 {
		t.Errorf("releases = %d, want 1", len(releases))
	}
}

func TestHistory_List(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	for _, rel := range []string{"v1.0.0", "v1.1.0"} {
		if _, err := h.Save(ctx, "claude-code", rel, buildTestStore(t)); err != nil {
			t.Fatalf("Save %s: %v", rel, err)
		}
	}
	if _, err := h.Save(ctx, "other-tool", "v2.0.0", buildTestStore(t)); err != nil {
		t.Fatalf("Save other: %v", err)
	}

	mine, err := h.List(ctx, "claude-code", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("target-filtered releases = %d, want 2", len(mine))
	}
	for _, m := range mine {
		if m.Target != "claude-code" {
			t.Errorf("unexpected target %q in filtered list", m.Target)
		}
	}

	all, err := h.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all releases = %d, want 3", len(all))
	}

	limited, err := h.List(ctx, "", 1)
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited releases = %d, want 1", len(limited))
	}
}

func TestHistory_SaveValidation(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	if _, err := h.Save(ctx, "", "v1.0.0", NewStore()); err == nil {
		t.Error("expected error for empty target")
	}
	if _, err := h.Save(ctx, "claude-code", "", NewStore()); err == nil {
		t.Error("expected error for empty release")
	}
	if _, err := h.Save(ctx, "claude-code", "v1.0.0", nil); err == nil {
		t.Error("expected error for nil store")
	}
}
