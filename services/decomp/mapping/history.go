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
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB key prefixes for archived release stores.
const (
	keyPrefixRelease      = "decomp:rel:"
	keyPrefixReleaseIndex = "decomp:rel:index:"
	keySuffixData         = ":data"
	keySuffixMeta         = ":meta"
	keySuffixLatest       = ":latest"
)

// ReleaseMetadata describes one archived release mapping store.
type ReleaseMetadata struct {
	// ReleaseID uniquely identifies the archived release.
	// Derived from SHA256(Target + ":" + Release)[:16].
	ReleaseID string `json:"release_id"`

	// Target is the obfuscated distribution the release belongs to.
	Target string `json:"target"`

	// TargetHash is SHA256(Target)[:16] for key grouping.
	TargetHash string `json:"target_hash"`

	// Release is the human-facing release label (version or directory name).
	Release string `json:"release"`

	// CreatedAtMilli is when the archive entry was written (Unix ms UTC).
	CreatedAtMilli int64 `json:"created_at_milli"`

	// MappingCount is the total number of facts in the store.
	MappingCount int `json:"mapping_count"`

	// GlobalCount is the number of global (root-scope) facts.
	GlobalCount int `json:"global_count"`

	// ScopedCount is the number of scope-qualified facts.
	ScopedCount int `json:"scoped_count"`

	// SchemaVersion is the store serialization schema version.
	SchemaVersion string `json:"schema_version"`

	// CompressedSize is the size of the gzip-compressed JSON payload.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the SHA256 hash of the compressed payload.
	ContentHash string `json:"content_hash"`
}

// History archives per-release mapping stores in BadgerDB.
//
// Description:
//
//	Release snapshots are immutable once written; History keeps every one
//	so later runs can compare knowledge between any two recorded releases
//	without re-learning. Stores are kept as gzip-compressed JSON with a
//	content hash verified on load, plus a "latest" pointer per target.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type History struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewHistory creates a History backed by the given BadgerDB instance.
// The DB should be opened by the caller and closed when no longer needed.
func NewHistory(db *badger.DB, logger *slog.Logger) (*History, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &History{db: db, logger: logger}, nil
}

// Save archives a release's mapping store.
//
// Key Schema:
//
//	decomp:rel:{targetHash}:{releaseID}:data → gzip(JSON(SerializableStore))
//	decomp:rel:{targetHash}:{releaseID}:meta → JSON(ReleaseMetadata)
//	decomp:rel:{targetHash}:latest           → releaseID
//	decomp:rel:index:{releaseID}             → targetHash
func (h *History) Save(ctx context.Context, target, release string, store *Store) (*ReleaseMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if target == "" || release == "" {
		return nil, fmt.Errorf("target and release must not be empty")
	}
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}

	ss := store.ToSerializable()
	jsonData, err := json.Marshal(ss)
	if err != nil {
		return nil, fmt.Errorf("marshaling store: %w", err)
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing store: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	compressedData := compressed.Bytes()

	targetHash := hashString(target)[:16]
	releaseID := hashString(target + ":" + release)[:16]

	scoped := 0
	for _, table := range ss.ScopedMappings {
		scoped += len(table)
	}

	meta := &ReleaseMetadata{
		ReleaseID:      releaseID,
		Target:         target,
		TargetHash:     targetHash,
		Release:        release,
		CreatedAtMilli: time.Now().UnixMilli(),
		MappingCount:   len(ss.GlobalMappings) + scoped,
		GlobalCount:    len(ss.GlobalMappings),
		ScopedCount:    scoped,
		SchemaVersion:  StoreSchemaVersion,
		CompressedSize: int64(len(compressedData)),
		ContentHash:    hashBytes(compressedData),
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling release metadata: %w", err)
	}

	dataKey := keyPrefixRelease + targetHash + ":" + releaseID + keySuffixData
	metaKey := keyPrefixRelease + targetHash + ":" + releaseID + keySuffixMeta
	latestKey := keyPrefixRelease + targetHash + keySuffixLatest
	indexKey := keyPrefixReleaseIndex + releaseID

	err = h.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataKey), compressedData); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set([]byte(metaKey), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set([]byte(latestKey), []byte(releaseID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		if err := txn.Set([]byte(indexKey), []byte(targetHash)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing release archive to badger: %w", err)
	}

	h.logger.Info("release store archived",
		slog.String("release_id", releaseID),
		slog.String("target", target),
		slog.String("release", release),
		slog.Int("mapping_count", meta.MappingCount),
		slog.Int64("compressed_size", meta.CompressedSize),
	)

	return meta, nil
}

// Load retrieves an archived release store by its ID.
func (h *History) Load(ctx context.Context, releaseID string) (*Store, *ReleaseMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if releaseID == "" {
		return nil, nil, fmt.Errorf("release ID must not be empty")
	}

	targetHash, err := h.getTargetHash(releaseID)
	if err != nil {
		return nil, nil, fmt.Errorf("looking up release %s: %w", releaseID, err)
	}
	return h.loadByKeys(targetHash, releaseID)
}

// LoadRelease retrieves an archived store by target and release label.
func (h *History) LoadRelease(ctx context.Context, target, release string) (*Store, *ReleaseMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if target == "" || release == "" {
		return nil, nil, fmt.Errorf("target and release must not be empty")
	}
	return h.loadByKeys(hashString(target)[:16], hashString(target + ":" + release)[:16])
}

// LoadLatest loads the most recently archived release for a target.
func (h *History) LoadLatest(ctx context.Context, target string) (*Store, *ReleaseMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if target == "" {
		return nil, nil, fmt.Errorf("target must not be empty")
	}

	targetHash := hashString(target)[:16]
	latestKey := keyPrefixRelease + targetHash + keySuffixLatest
	var releaseID string
	err := h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(latestKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			releaseID = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reading latest pointer for %s: %w", target, err)
	}

	return h.loadByKeys(targetHash, releaseID)
}

// List returns metadata for archived releases, newest first. If target is
// non-empty, only that target's releases are returned.
func (h *History) List(ctx context.Context, target string, limit int) ([]*ReleaseMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if limit <= 0 {
		limit = 100
	}

	prefix := keyPrefixRelease
	if target != "" {
		prefix = keyPrefixRelease + hashString(target)[:16] + ":"
	}

	var results []*ReleaseMetadata
	err := h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !isMetaKey(key) {
				continue
			}

			var meta ReleaseMetadata
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				h.logger.Warn("skipping corrupt release metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing archived releases: %w", err)
	}

	sortReleasesByDate(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// loadByKeys loads a store using known targetHash and releaseID.
func (h *History) loadByKeys(targetHash, releaseID string) (*Store, *ReleaseMetadata, error) {
	dataKey := keyPrefixRelease + targetHash + ":" + releaseID + keySuffixData
	metaKey := keyPrefixRelease + targetHash + ":" + releaseID + keySuffixMeta

	var compressedData, metaJSON []byte
	err := h.db.View(func(txn *badger.Txn) error {
		dataItem, err := txn.Get([]byte(dataKey))
		if err != nil {
			return fmt.Errorf("reading data for %s: %w", releaseID, err)
		}
		compressedData, err = dataItem.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copying data for %s: %w", releaseID, err)
		}

		metaItem, err := txn.Get([]byte(metaKey))
		if err != nil {
			return fmt.Errorf("reading metadata for %s: %w", releaseID, err)
		}
		metaJSON, err = metaItem.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copying metadata for %s: %w", releaseID, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var meta ReleaseMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling metadata for %s: %w", releaseID, err)
	}
	if meta.ContentHash != "" && meta.ContentHash != hashBytes(compressedData) {
		return nil, nil, fmt.Errorf("integrity check failed for %s: expected hash %s", releaseID, meta.ContentHash)
	}

	gr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing release %s: %w", releaseID, err)
	}
	defer gr.Close()

	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, fmt.Errorf("reading decompressed data for %s: %w", releaseID, err)
	}

	var ss SerializableStore
	if err := json.Unmarshal(jsonData, &ss); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling store for %s: %w", releaseID, err)
	}

	store, err := FromSerializable(&ss)
	if err != nil {
		return nil, nil, fmt.Errorf("reconstructing store for %s: %w", releaseID, err)
	}
	return store, &meta, nil
}

// getTargetHash retrieves the target hash for a release ID from the
// reverse index.
func (h *History) getTargetHash(releaseID string) (string, error) {
	indexKey := keyPrefixReleaseIndex + releaseID
	var targetHash string
	err := h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			targetHash = string(val)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return targetHash, nil
}

// hashString returns the hex-encoded SHA256 hash of a string.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// hashBytes returns the hex-encoded SHA256 hash of a byte slice.
func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// isMetaKey returns true if the key ends with the metadata suffix.
func isMetaKey(key string) bool {
	return len(key) > len(keySuffixMeta) && key[len(key)-len(keySuffixMeta):] == keySuffixMeta
}

// sortReleasesByDate sorts metadata by CreatedAtMilli descending.
func sortReleasesByDate(releases []*ReleaseMetadata) {
	for i := 1; i < len(releases); i++ {
		for j := i; j > 0 && releases[j].CreatedAtMilli > releases[j-1].CreatedAtMilli; j-- {
			releases[j], releases[j-1] = releases[j-1], releases[j]
		}
	}
}
