// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/holo-q/hoho-sub001/services/decomp/mapping"
)

// learn command flag values.
var (
	learnTarget    string
	learnGlobal    string
	learnSnapshot  string
	learnNoArchive bool
)

var learnCmd = &cobra.Command{
	Use:   "learn ORIGINAL_DIR MANUAL_DIR",
	Short: "Infer identifier renames from a manually rewritten release",
	Args:  cobra.ExactArgs(2),
	RunE:  runLearn,
}

func init() {
	learnCmd.Flags().StringVar(&learnTarget, "target", "", "target name for the release archive (e.g. claude-code)")
	learnCmd.Flags().StringVar(&learnGlobal, "global", "", "global store file (default <work-root>/mappings.json)")
	learnCmd.Flags().StringVar(&learnSnapshot, "snapshot", "", "per-release snapshot file (default <work-root>/<release>.mappings.json)")
	learnCmd.Flags().BoolVar(&learnNoArchive, "no-archive", false, "skip archiving the release store")
	rootCmd.AddCommand(learnCmd)
}

func runLearn(cmd *cobra.Command, args []string) error {
	originalDir, manualDir := args[0], args[1]
	logger := newLogger()

	p, err := newPipeline(logger)
	if err != nil {
		return err
	}

	snapshot, err := p.LearnRelease(cmd.Context(), originalDir, manualDir)
	if err != nil {
		return err
	}

	// Per-release snapshot file: immutable once written.
	snapshotPath := learnSnapshot
	if snapshotPath == "" {
		snapshotPath = filepath.Join(workRoot, snapshot.Release+".mappings.json")
	}
	if err := mapping.SaveStore(snapshot.Store, snapshotPath); err != nil {
		return err
	}

	// Merge into the accumulated global store.
	globalPath := learnGlobal
	if globalPath == "" {
		globalPath = filepath.Join(workRoot, "mappings.json")
	}
	global, err := mapping.LoadStore(globalPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		global = mapping.NewStore()
	}
	conflicts := global.Merge(snapshot.Store)
	if err := mapping.SaveStore(global, globalPath); err != nil {
		return err
	}
	if err := mapping.AppendConflicts(filepath.Join(workRoot, "conflicts.log"), conflicts); err != nil {
		return err
	}

	if !learnNoArchive && learnTarget != "" {
		history, closeDB, err := openHistory(logger)
		if err != nil {
			return err
		}
		defer closeDB()
		if _, err := history.Save(cmd.Context(), learnTarget, snapshot.Release, snapshot.Store); err != nil {
			return err
		}
	}

	fmt.Printf("Learned %d mappings from %d modules (%d renamed, %d skipped, %d conflicts)\n",
		snapshot.Store.Count(), len(snapshot.Files), len(snapshot.Renames), len(snapshot.Skipped), len(conflicts))
	for _, f := range snapshot.Files {
		fmt.Printf("  %-40s %4d learned", f.ModulePath, f.Learned)
		if len(f.Unresolved) > 0 {
			fmt.Printf("  (%d unresolved subtrees)", len(f.Unresolved))
		}
		fmt.Println()
	}
	fmt.Printf("Global store now holds %d mappings (%s)\n", global.Count(), globalPath)
	return nil
}
