// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline orchestrates learning, matching, and application over
// release directories. Per-module work fans out to parallel workers; the
// only shared mutable resource is the release store, which is merged in a
// single sequential pass after collection.
package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/holo-q/hoho-sub001/services/decomp/apply"
	"github.com/holo-q/hoho-sub001/services/decomp/ast"
	"github.com/holo-q/hoho-sub001/services/decomp/learn"
	"github.com/holo-q/hoho-sub001/services/decomp/mapping"
	"github.com/holo-q/hoho-sub001/services/decomp/match"
)

// moduleExtensions are the file extensions treated as JavaScript modules.
var moduleExtensions = map[string]bool{
	".js":  true,
	".mjs": true,
	".cjs": true,
	".jsx": true,
}

// Pipeline wires the parser, learner, matcher, and applier over release
// directories.
//
// Thread Safety:
//
//	Safe for concurrent use; each run carries its own state.
type Pipeline struct {
	cfg     Config
	parser  *ast.ScopeParser
	learner *learn.Learner
	applier *apply.Applier
	matcher *match.Matcher
	logger  *slog.Logger
}

// New creates a Pipeline from config. A nil logger falls back to
// slog.Default().
func New(cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	var parserOpts []ast.ScopeParserOption
	if cfg.MaxFileSizeBytes > 0 {
		parserOpts = append(parserOpts, ast.WithMaxFileSize(cfg.MaxFileSizeBytes))
	}
	parser := ast.NewScopeParser(parserOpts...)

	return &Pipeline{
		cfg:     cfg,
		parser:  parser,
		learner: learn.NewLearner(parser, logger),
		applier: apply.NewApplier(parser, logger),
		matcher: match.NewMatcher(match.WithThreshold(cfg.MatchThreshold)),
		logger:  logger,
	}
}

// workers returns the bounded fan-out width.
func (p *Pipeline) workers() int {
	if p.cfg.Workers > 0 {
		return p.cfg.Workers
	}
	return 1
}

// moduleFile is one discovered module in a release directory.
type moduleFile struct {
	RelPath string
	AbsPath string
}

// discoverModules walks a release directory for JavaScript modules,
// honoring the configured exclude prefixes.
func (p *Pipeline) discoverModules(dir string) ([]moduleFile, error) {
	var files []moduleFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !moduleExtensions[filepath.Ext(path)] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, prefix := range p.cfg.Exclude {
			if strings.HasPrefix(rel, prefix) {
				return nil
			}
		}
		files = append(files, moduleFile{RelPath: rel, AbsPath: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking release directory %s: %w", dir, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// fingerprintFiles parses and fingerprints modules on parallel workers.
func (p *Pipeline) fingerprintFiles(ctx context.Context, files []moduleFile) ([]match.Module, error) {
	modules := make([]match.Module, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())

	for i, f := range files {
		g.Go(func() error {
			content, err := os.ReadFile(f.AbsPath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", f.RelPath, err)
			}
			tree, err := p.parser.Parse(gctx, content, f.RelPath)
			if err != nil {
				return fmt.Errorf("fingerprinting %s: %w", f.RelPath, err)
			}
			modules[i] = match.Module{Path: f.RelPath, Fingerprint: ast.FingerprintTree(tree)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return modules, nil
}

// FingerprintRelease fingerprints every module in a release directory.
func (p *Pipeline) FingerprintRelease(ctx context.Context, dir string) ([]match.Module, error) {
	files, err := p.discoverModules(dir)
	if err != nil {
		return nil, err
	}
	return p.fingerprintFiles(ctx, files)
}

// ReleaseSnapshot is the outcome of learning one release: the set of
// mappings and module-rename facts learned from its original/manual pair.
// Immutable once written.
type ReleaseSnapshot struct {
	// RunID identifies this learning run.
	RunID string `json:"run_id"`

	// Release is the release label, taken from the original directory name.
	Release string `json:"release"`

	// Store holds the learned facts.
	Store *mapping.Store `json:"-"`

	// Files are per-file learning reports in original-path order.
	Files []*learn.FileReport `json:"files"`

	// Renames maps obfuscated module paths to their human-chosen paths.
	Renames map[string]string `json:"renames,omitempty"`

	// Skipped lists originals with no manual counterpart.
	Skipped []string `json:"skipped,omitempty"`
}

// Learned returns the total mapping count across the snapshot.
func (rs *ReleaseSnapshot) Learned() int {
	n := 0
	for _, f := range rs.Files {
		n += f.Learned
	}
	return n
}

// filePair is one original/manual module pairing queued for learning.
type filePair struct {
	original moduleFile
	manual   moduleFile
}

// LearnRelease learns mappings from a release's original and manual
// directories.
//
// Description:
//
//	Originals pair with manuals first by identical relative path. Files
//	the human renamed during manual deobfuscation no longer share a path,
//	so the leftovers on both sides are paired by structural fingerprint
//	using the module matcher; those pairings become module-rename facts.
//	Originals still unpaired are skipped with a warning, per-module
//	learning fans out on parallel workers into private stores, and the
//	results merge into the release store in one deterministic sequential
//	pass.
//
// Outputs:
//
//	*ReleaseSnapshot - The learned facts plus per-file reports.
//	error            - Non-nil for directory walk failures or parse
//	                   failures of the pair set.
func (p *Pipeline) LearnRelease(ctx context.Context, originalDir, manualDir string) (*ReleaseSnapshot, error) {
	ctx, span := startSpan(ctx, "pipeline.learn_release",
		attribute.String("original_dir", originalDir),
		attribute.String("manual_dir", manualDir),
	)
	var retErr error
	defer func() { endSpan(span, retErr) }()

	originals, err := p.discoverModules(originalDir)
	if err != nil {
		retErr = err
		return nil, err
	}
	manuals, err := p.discoverModules(manualDir)
	if err != nil {
		retErr = err
		return nil, err
	}

	snapshot := &ReleaseSnapshot{
		RunID:   uuid.NewString(),
		Release: filepath.Base(originalDir),
		Store:   mapping.NewStore(),
		Renames: make(map[string]string),
	}

	pairs, skipped, err := p.pairModules(ctx, originals, manuals)
	if err != nil {
		retErr = err
		return nil, err
	}
	snapshot.Skipped = skipped
	for _, s := range skipped {
		p.logger.Warn("no manual counterpart; skipping", slog.String("module", s))
	}
	for _, pr := range pairs {
		if pr.original.RelPath != pr.manual.RelPath {
			snapshot.Renames[pr.original.RelPath] = pr.manual.RelPath
		}
	}

	// Per-module learning into private stores; merge is sequential below.
	type learned struct {
		report *learn.FileReport
		store  *mapping.Store
	}
	results := make([]learned, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i, pr := range pairs {
		g.Go(func() error {
			original, err := os.ReadFile(pr.original.AbsPath)
			if err != nil {
				return fmt.Errorf("reading original %s: %w", pr.original.RelPath, err)
			}
			manual, err := os.ReadFile(pr.manual.AbsPath)
			if err != nil {
				return fmt.Errorf("reading manual %s: %w", pr.manual.RelPath, err)
			}

			fileStore := mapping.NewStore()
			report, err := p.learner.Learn(gctx, original, manual, pr.original.RelPath, pr.manual.RelPath, fileStore)
			if err != nil {
				return err
			}
			results[i] = learned{report: report, store: fileStore}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		retErr = err
		return nil, err
	}

	// Single-writer merge pass, in original-path order.
	for _, r := range results {
		snapshot.Store.Merge(r.store)
		snapshot.Files = append(snapshot.Files, r.report)
	}

	span.SetAttributes(
		attribute.Int("modules", len(pairs)),
		attribute.Int("mappings", snapshot.Store.Count()),
		attribute.Int("skipped", len(snapshot.Skipped)),
	)
	p.logger.Info("release learned",
		slog.String("run_id", snapshot.RunID),
		slog.String("release", snapshot.Release),
		slog.Int("modules", len(pairs)),
		slog.Int("mappings", snapshot.Store.Count()),
		slog.Int("renamed_modules", len(snapshot.Renames)),
		slog.Int("skipped", len(snapshot.Skipped)),
	)

	return snapshot, nil
}

// pairModules pairs originals with manuals: identical relative paths first,
// then fingerprint matching over the leftovers to recover human-renamed
// files. Returns the pairs plus the originals left unpaired.
func (p *Pipeline) pairModules(ctx context.Context, originals, manuals []moduleFile) ([]filePair, []string, error) {
	manualByPath := make(map[string]moduleFile, len(manuals))
	for _, m := range manuals {
		manualByPath[m.RelPath] = m
	}

	var pairs []filePair
	var leftOrig []moduleFile
	usedManual := make(map[string]bool)

	for _, o := range originals {
		if m, ok := manualByPath[o.RelPath]; ok {
			pairs = append(pairs, filePair{original: o, manual: m})
			usedManual[o.RelPath] = true
			continue
		}
		leftOrig = append(leftOrig, o)
	}

	var leftManual []moduleFile
	for _, m := range manuals {
		if !usedManual[m.RelPath] {
			leftManual = append(leftManual, m)
		}
	}

	if len(leftOrig) > 0 && len(leftManual) > 0 {
		origModules, err := p.fingerprintFiles(ctx, leftOrig)
		if err != nil {
			return nil, nil, err
		}
		manualModules, err := p.fingerprintFiles(ctx, leftManual)
		if err != nil {
			return nil, nil, err
		}

		origByPath := make(map[string]moduleFile, len(leftOrig))
		for _, o := range leftOrig {
			origByPath[o.RelPath] = o
		}
		manualByPath = make(map[string]moduleFile, len(leftManual))
		for _, m := range leftManual {
			manualByPath[m.RelPath] = m
		}

		result := p.matcher.Match(origModules, manualModules)
		matchedOrig := make(map[string]bool)
		for _, c := range result.Matches {
			pairs = append(pairs, filePair{
				original: origByPath[c.SourcePath],
				manual:   manualByPath[c.TargetPath],
			})
			matchedOrig[c.SourcePath] = true
		}

		var stillLeft []moduleFile
		for _, o := range leftOrig {
			if !matchedOrig[o.RelPath] {
				stillLeft = append(stillLeft, o)
			}
		}
		leftOrig = stillLeft
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].original.RelPath < pairs[j].original.RelPath })

	skipped := make([]string, 0, len(leftOrig))
	for _, o := range leftOrig {
		skipped = append(skipped, o.RelPath)
	}
	return pairs, skipped, nil
}

// MatchReleases correlates the modules of two release directories.
func (p *Pipeline) MatchReleases(ctx context.Context, sourceDir, targetDir string) (*match.Result, error) {
	ctx, span := startSpan(ctx, "pipeline.match_releases",
		attribute.String("source_dir", sourceDir),
		attribute.String("target_dir", targetDir),
	)
	var retErr error
	defer func() { endSpan(span, retErr) }()

	source, err := p.FingerprintRelease(ctx, sourceDir)
	if err != nil {
		retErr = err
		return nil, err
	}
	target, err := p.FingerprintRelease(ctx, targetDir)
	if err != nil {
		retErr = err
		return nil, err
	}

	result := p.matcher.Match(source, target)
	span.SetAttributes(
		attribute.Int("matches", len(result.Matches)),
		attribute.Int("new_modules", len(result.NewModules)),
		attribute.Int("removed_modules", len(result.RemovedModules)),
	)
	return result, nil
}

// ApplyReport aggregates an apply run over a release.
type ApplyReport struct {
	// RunID identifies this apply run.
	RunID string `json:"run_id"`

	// Release is the target release label.
	Release string `json:"release"`

	// Files are per-module results in module-path order.
	Files []*apply.FileResult `json:"files"`

	// Mapped and Total count identifier occurrences across all files.
	Mapped int `json:"mapped"`
	Total  int `json:"total"`

	// UnknownModules lists modules whose canonical name could not be
	// resolved, for human triage.
	UnknownModules []string `json:"unknown_modules,omitempty"`
}

// ApplyRelease applies a frozen store snapshot to every module of a target
// release directory, writing the automated rendition under outDir.
//
// Description:
//
//	Per-module application fans out on parallel workers against the
//	immutable snapshot. Each output file is written under its canonical
//	path when the module resolved, else under its original path, so
//	unmapped modules stay visually flagged by their Unknown_ name in the
//	report while keeping their location.
func (p *Pipeline) ApplyRelease(ctx context.Context, targetDir string, snap *mapping.Snapshot, correlations match.CorrelationTable, outDir string) (*ApplyReport, error) {
	ctx, span := startSpan(ctx, "pipeline.apply_release",
		attribute.String("target_dir", targetDir),
		attribute.String("out_dir", outDir),
	)
	var retErr error
	defer func() { endSpan(span, retErr) }()

	files, err := p.discoverModules(targetDir)
	if err != nil {
		retErr = err
		return nil, err
	}

	report := &ApplyReport{
		RunID:   uuid.NewString(),
		Release: filepath.Base(targetDir),
		Files:   make([]*apply.FileResult, len(files)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())

	for i, f := range files {
		g.Go(func() error {
			content, err := os.ReadFile(f.AbsPath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", f.RelPath, err)
			}

			result, err := p.applier.Apply(gctx, content, f.RelPath, snap, correlations)
			if err != nil {
				return err
			}

			if outDir != "" {
				outRel := f.RelPath
				if result.ModuleMapped {
					outRel = result.CanonicalName
				}
				outPath := filepath.Join(outDir, filepath.FromSlash(outRel))
				if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
					return fmt.Errorf("creating output directory for %s: %w", outRel, err)
				}
				if err := os.WriteFile(outPath, result.Output, 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", outPath, err)
				}
			}

			mu.Lock()
			report.Files[i] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		retErr = err
		return nil, err
	}

	for _, r := range report.Files {
		report.Mapped += r.Mapped
		report.Total += r.Total
		if !r.ModuleMapped {
			report.UnknownModules = append(report.UnknownModules, r.ModulePath)
		}
	}
	sort.Strings(report.UnknownModules)

	span.SetAttributes(
		attribute.Int("modules", len(files)),
		attribute.Int("mapped", report.Mapped),
		attribute.Int("total", report.Total),
	)
	p.logger.Info("release applied",
		slog.String("run_id", report.RunID),
		slog.String("release", report.Release),
		slog.Int("modules", len(files)),
		slog.Int("mapped", report.Mapped),
		slog.Int("total", report.Total),
		slog.Int("unknown_modules", len(report.UnknownModules)),
	)

	return report, nil
}
