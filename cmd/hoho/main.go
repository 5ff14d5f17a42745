// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command hoho is the thin CLI over the deobfuscation mapping core:
// learn from a manually rewritten release, correlate modules across
// releases, and apply accumulated knowledge to new releases.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"

	"github.com/holo-q/hoho-sub001/services/decomp/mapping"
	"github.com/holo-q/hoho-sub001/services/decomp/pipeline"
)

// Root flag values.
var (
	workRoot string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "hoho",
	Short: "Propagate human deobfuscation knowledge across obfuscated releases",
	Long: `hoho maintains a scope-aware knowledge base mapping obfuscated
identifiers and module names to the human-meaningful names assigned once
during manual deobfuscation, and re-applies it as new releases arrive.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&workRoot, "work-root", ".", "workspace root (config, stores, archive)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger honoring --verbose.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newPipeline loads config from the work root and builds a pipeline.
func newPipeline(logger *slog.Logger) (*pipeline.Pipeline, error) {
	cfg, err := pipeline.LoadConfig(workRoot)
	if err != nil {
		return nil, err
	}
	return pipeline.New(cfg, logger), nil
}

// openHistory opens the release archive under the work root.
func openHistory(logger *slog.Logger) (*mapping.History, func() error, error) {
	dbPath := filepath.Join(workRoot, ".hoho", "archive")
	opts := badger.DefaultOptions(dbPath).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("opening release archive at %s: %w", dbPath, err)
	}
	h, err := mapping.NewHistory(db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return h, db.Close, nil
}
