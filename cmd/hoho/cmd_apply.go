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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/holo-q/hoho-sub001/services/decomp/mapping"
	"github.com/holo-q/hoho-sub001/services/decomp/match"
)

// apply command flag values.
var (
	applyStore     string
	applySourceDir string
	applyOut       string
	applyReport    string
)

var applyCmd = &cobra.Command{
	Use:   "apply TARGET_DIR",
	Short: "Apply accumulated mappings to a new release",
	Args:  cobra.ExactArgs(1),
	RunE:  runApply,
}

// match command flag values.
var matchJSON bool

var matchCmd = &cobra.Command{
	Use:   "match SOURCE_DIR TARGET_DIR",
	Short: "Correlate modules between two releases by structural fingerprint",
	Args:  cobra.ExactArgs(2),
	RunE:  runMatch,
}

func init() {
	applyCmd.Flags().StringVar(&applyStore, "store", "", "store file to apply (default <work-root>/mappings.json)")
	applyCmd.Flags().StringVar(&applySourceDir, "source-dir", "", "prior release directory for module correlation")
	applyCmd.Flags().StringVar(&applyOut, "out", "", "output directory for the automated rendition")
	applyCmd.Flags().StringVar(&applyReport, "report", "", "write the unresolved-symbol report to this file")
	rootCmd.AddCommand(applyCmd)

	matchCmd.Flags().BoolVar(&matchJSON, "json", false, "print the full result as JSON")
	rootCmd.AddCommand(matchCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	targetDir := args[0]
	logger := newLogger()

	p, err := newPipeline(logger)
	if err != nil {
		return err
	}

	storePath := applyStore
	if storePath == "" {
		storePath = filepath.Join(workRoot, "mappings.json")
	}
	store, err := mapping.LoadStore(storePath)
	if err != nil {
		return err
	}

	var correlations match.CorrelationTable
	if applySourceDir != "" {
		result, err := p.MatchReleases(cmd.Context(), applySourceDir, targetDir)
		if err != nil {
			return err
		}
		correlations = result.Table()
	}

	outDir := applyOut
	if outDir == "" {
		outDir = filepath.Join(workRoot, "automated", filepath.Base(targetDir))
	}

	report, err := p.ApplyRelease(cmd.Context(), targetDir, store.Snapshot(), correlations, outDir)
	if err != nil {
		return err
	}

	if applyReport != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling apply report: %w", err)
		}
		if err := os.WriteFile(applyReport, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("writing apply report: %w", err)
		}
	}

	fmt.Printf("Applied %d/%d identifier occurrences across %d modules\n",
		report.Mapped, report.Total, len(report.Files))
	for _, f := range report.Files {
		fmt.Printf("  %-40s %5d/%-5d -> %s\n", f.ModulePath, f.Mapped, f.Total, f.CanonicalName)
	}
	if len(report.UnknownModules) > 0 {
		fmt.Printf("Unknown modules (%d): %v\n", len(report.UnknownModules), report.UnknownModules)
	}
	return nil
}

func runMatch(cmd *cobra.Command, args []string) error {
	sourceDir, targetDir := args[0], args[1]
	logger := newLogger()

	p, err := newPipeline(logger)
	if err != nil {
		return err
	}

	result, err := p.MatchReleases(cmd.Context(), sourceDir, targetDir)
	if err != nil {
		return err
	}

	if matchJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling match result: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	for _, m := range result.Matches {
		fmt.Printf("  %-40s <- %-40s %.3f\n", m.TargetPath, m.SourcePath, m.Similarity)
	}
	fmt.Printf("%d matched, %d new, %d removed\n",
		len(result.Matches), len(result.NewModules), len(result.RemovedModules))
	return nil
}
