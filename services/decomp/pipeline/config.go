// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/holo-q/hoho-sub001/services/decomp/match"
)

// ConfigFileName is the optional per-workspace config file.
const ConfigFileName = "hoho.config.yaml"

// Config holds user-provided overrides for pipeline behavior.
//
// Description:
//
//	Loaded from <workRoot>/hoho.config.yaml. All fields are optional.
//	A missing config file is not an error (zero-config works out of the
//	box).
//
// Thread Safety: Safe for concurrent reads after construction.
type Config struct {
	// MatchThreshold is the minimum fingerprint similarity for a module
	// pairing. Zero means the default.
	MatchThreshold float64 `yaml:"match_threshold"`

	// Workers bounds the per-module fan-out. Zero means GOMAXPROCS.
	Workers int `yaml:"workers"`

	// MaxFileSizeBytes caps the size of a single parsed module. Zero
	// means the parser default (10MB).
	MaxFileSizeBytes int `yaml:"max_file_size_bytes"`

	// Exclude lists release-relative path prefixes to skip entirely.
	// Example: ["vendor/", "node_modules/"]
	Exclude []string `yaml:"exclude"`
}

// DefaultConfig returns the zero-config defaults.
func DefaultConfig() Config {
	return Config{
		MatchThreshold: match.DefaultSimilarityThreshold,
		Workers:        runtime.GOMAXPROCS(0),
	}
}

// LoadConfig reads hoho.config.yaml from the work root.
//
// Description:
//
//	Reads and parses the config file, filling unset fields with defaults.
//	If workRoot is empty or the file does not exist, returns defaults
//	with no error. Only returns an error if the file exists but cannot
//	be parsed.
func LoadConfig(workRoot string) (Config, error) {
	cfg := DefaultConfig()
	if workRoot == "" {
		return cfg, nil
	}

	configPath := filepath.Join(workRoot, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading %s: %w", ConfigFileName, err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", ConfigFileName, err)
	}

	if loaded.MatchThreshold > 0 {
		cfg.MatchThreshold = loaded.MatchThreshold
	}
	if loaded.Workers > 0 {
		cfg.Workers = loaded.Workers
	}
	if loaded.MaxFileSizeBytes > 0 {
		cfg.MaxFileSizeBytes = loaded.MaxFileSizeBytes
	}
	cfg.Exclude = loaded.Exclude

	return cfg, nil
}
