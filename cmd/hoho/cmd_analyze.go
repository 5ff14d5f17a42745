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
	"time"

	"github.com/spf13/cobra"

	"github.com/holo-q/hoho-sub001/services/decomp/pipeline"
)

// analyze command flag values.
var analyzeTarget string

var analyzeCmd = &cobra.Command{
	Use:   "analyze BASE_RELEASE TARGET_RELEASE",
	Short: "Compare mapping knowledge between two archived releases",
	Args:  cobra.ExactArgs(2),
	RunE:  runAnalyze,
}

// status command flag values.
var statusTarget string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show archived releases and knowledge growth",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeTarget, "target", "", "target name in the release archive")
	analyzeCmd.MarkFlagRequired("target")
	rootCmd.AddCommand(analyzeCmd)

	statusCmd.Flags().StringVar(&statusTarget, "target", "", "filter by target name")
	rootCmd.AddCommand(statusCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	baseRelease, targetRelease := args[0], args[1]
	logger := newLogger()

	history, closeDB, err := openHistory(logger)
	if err != nil {
		return err
	}
	defer closeDB()

	base, _, err := history.LoadRelease(cmd.Context(), analyzeTarget, baseRelease)
	if err != nil {
		return err
	}
	target, _, err := history.LoadRelease(cmd.Context(), analyzeTarget, targetRelease)
	if err != nil {
		return err
	}

	diff, err := pipeline.DiffStores(base, target, baseRelease, targetRelease)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(diff, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling store diff: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := newLogger()

	history, closeDB, err := openHistory(logger)
	if err != nil {
		return err
	}
	defer closeDB()

	releases, err := history.List(cmd.Context(), statusTarget, 0)
	if err != nil {
		return err
	}
	if len(releases) == 0 {
		fmt.Println("No archived releases. Run 'hoho learn --target <name>' first.")
		return nil
	}

	for _, r := range releases {
		fmt.Printf("  %-16s %-12s %6d mappings (%d global, %d scoped)  %s\n",
			r.Target, r.Release, r.MappingCount, r.GlobalCount, r.ScopedCount,
			time.UnixMilli(r.CreatedAtMilli).Format(time.RFC3339))
	}
	return nil
}
