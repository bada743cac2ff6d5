// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package incremental

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"go.chromium.org/infra/build/ccdeps/digest"
	"go.chromium.org/infra/build/ccdeps/hashfs"
	"go.chromium.org/infra/build/ccdeps/scandeps"
)

// mark is a visiting state of a file in a walk.
type mark int

const (
	notVisited mark = iota
	visiting
	resolved
)

// Processor computes an incremental compilation for a task.
type Processor struct {
	resolver *scandeps.Resolver
	files    *scandeps.Files
	hfs      *hashfs.HashFS
	previous *CompilationState
	cfg      Config

	configHash digest.Digest
	defines    *scandeps.IncludeDirectives
}

// NewProcessor creates a processor.
// previous is the state of the last successful pass; it is never modified.
func NewProcessor(resolver *scandeps.Resolver, files *scandeps.Files, hfs *hashfs.HashFS, previous *CompilationState, cfg Config) *Processor {
	if previous == nil {
		previous = EmptyState()
	}
	return &Processor{
		resolver:   resolver,
		files:      files,
		hfs:        hfs,
		previous:   previous,
		cfg:        cfg,
		configHash: cfg.Hash(),
		defines:    scandeps.DefinesDirectives(cfg.Defines),
	}
}

// Process processes sources and returns the incremental compilation.
// It returns an error on I/O failures.
func (p *Processor) Process(ctx context.Context, sources []string) (*IncrementalCompilation, error) {
	started := time.Now()
	sources = slices.Clone(sources)
	for i, s := range sources {
		sources[i] = filepath.Clean(s)
	}
	slices.Sort(sources)
	sources = slices.Compact(sources)

	err := p.hfs.Prefetch(ctx, sources)
	if err != nil {
		return nil, fmt.Errorf("prefetch sources: %w", err)
	}
	if p.previous.ConfigHash != p.configHash && p.previous.Len() > 0 {
		log.Infof("config changed %s -> %s: recompile all", p.previous.ConfigHash, p.configHash)
	}

	builder := NewBuildableCompilationState(p.configHash)
	headers := make(map[string]bool)
	checker := &stateChecker{
		hfs:  p.hfs,
		same: make(map[string]bool),
	}
	comp := &IncrementalCompilation{}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		unchanged, err := p.unchanged(ctx, checker, src)
		if err != nil {
			return nil, err
		}
		if unchanged {
			prev := p.previous.State(src)
			builder.AddSource(src, prev)
			p.carryHeaders(builder, src, prev, headers)
			continue
		}
		comp.Recompile = append(comp.Recompile, src)
		st, err := p.resolveSource(ctx, builder, src, headers)
		if err != nil {
			return nil, fmt.Errorf("process %s: %w", src, err)
		}
		if st.HasUnresolved {
			comp.Unresolved = append(comp.Unresolved, src)
		}
	}
	for _, src := range p.previous.Sources() {
		if _, found := slices.BinarySearch(sources, src); !found {
			comp.Removed = append(comp.Removed, src)
		}
	}
	comp.FinalState = builder.Snapshot()
	for _, h := range slices.Sorted(maps.Keys(headers)) {
		if comp.FinalState.IsSource(h) {
			continue
		}
		comp.ExistingHeaders = append(comp.ExistingHeaders, h)
	}
	log.Infof("processed %d sources in %s: recompile=%d removed=%d unresolved=%d headers=%d", len(sources), time.Since(started), len(comp.Recompile), len(comp.Removed), len(comp.Unresolved), len(comp.ExistingHeaders))
	return comp, nil
}

// stateChecker compares recorded hashes with the current ones.
type stateChecker struct {
	hfs *hashfs.HashFS
	// file -> whether current digest is the recorded one.
	same map[string]bool
}

func (c *stateChecker) unchanged(ctx context.Context, fname string, recorded digest.Digest) (bool, error) {
	if same, ok := c.same[fname]; ok {
		return same, nil
	}
	fi, err := c.hfs.Stat(ctx, fname)
	if err != nil {
		return false, err
	}
	same := fi.IsRegular() && fi.Digest == recorded
	c.same[fname] = same
	return same, nil
}

// unchanged reports whether src and all files of its translation unit
// are the same as in the previous state.
func (p *Processor) unchanged(ctx context.Context, c *stateChecker, src string) (bool, error) {
	if p.previous.ConfigHash != p.configHash || !p.previous.IsSource(src) {
		return false, nil
	}
	prev := p.previous.State(src)
	if prev.HasUnresolved {
		log.Debugf("%s: has unresolved includes", src)
		return false, nil
	}
	fi, err := p.hfs.Stat(ctx, src)
	if err != nil {
		return false, err
	}
	if !fi.IsRegular() {
		return false, fmt.Errorf("source %s is not a regular file", src)
	}
	if fi.Digest != prev.Hash {
		log.Debugf("%s: changed %s -> %s", src, prev.Hash, fi.Digest)
		return false, nil
	}
	byFile := make(map[string][]IncludeFileEdge)
	for _, e := range prev.Edges {
		byFile[e.IncludedBy] = append(byFile[e.IncludedBy], e)
	}
	marks := make(map[string]mark)
	ok := make(map[string]bool)
	var check func(fname string) (bool, error)
	check = func(fname string) (bool, error) {
		marks[fname] = visiting
		result := true
		defer func() {
			marks[fname] = resolved
			ok[fname] = result
		}()
		for _, e := range byFile[fname] {
			same, err := c.unchanged(ctx, e.File, e.Hash)
			if err != nil {
				return false, err
			}
			if !same {
				log.Debugf("%s: %s changed", src, e.File)
				result = false
				return false, nil
			}
			switch marks[e.File] {
			case visiting:
				// cycle.
				continue
			case resolved:
				if !ok[e.File] {
					result = false
					return false, nil
				}
				continue
			}
			r, err := check(e.File)
			if err != nil {
				return false, err
			}
			if !r {
				result = false
				return false, nil
			}
		}
		return true, nil
	}
	return check(src)
}

// carryHeaders records header states of src's translation unit from
// its previous edges.
func (p *Processor) carryHeaders(builder *BuildableCompilationState, src string, prev *SourceFileState, headers map[string]bool) {
	hashes := make(map[string]digest.Digest)
	direct := make(map[string][]IncludeFileEdge)
	for _, e := range prev.Edges {
		hashes[e.File] = e.Hash
		if e.IncludedBy != src {
			direct[e.IncludedBy] = append(direct[e.IncludedBy], e)
		}
	}
	for fname, h := range hashes {
		st := &SourceFileState{
			Hash:  h,
			Edges: direct[fname],
		}
		if pst := p.previous.State(fname); pst != nil {
			st.HasUnresolved = pst.HasUnresolved
		}
		builder.Set(fname, st)
		headers[fname] = true
	}
}

func (p *Processor) parse(ctx context.Context, fname string) (*scandeps.IncludeDirectives, digest.Digest, error) {
	dirs, d, err := p.files.Parse(ctx, p.hfs, fname)
	if err != nil {
		return nil, digest.Digest{}, err
	}
	if !p.cfg.ImportAware {
		dirs = dirs.DiscardImports()
	}
	return dirs, d, nil
}

// resolveSource parses src and resolves includes of its translation unit.
func (p *Processor) resolveSource(ctx context.Context, builder *BuildableCompilationState, src string, headers map[string]bool) (*SourceFileState, error) {
	dirs, d, err := p.parse(ctx, src)
	if err != nil {
		return nil, err
	}
	w := &walker{
		p:          p,
		lookup:     scandeps.NewCollectingMacroLookup(p.defines),
		marks:      make(map[string]mark),
		processed:  make(map[string]int),
		dirs:       make(map[string]*scandeps.IncludeDirectives),
		hashes:     make(map[string]digest.Digest),
		direct:     make(map[string][]IncludeFileEdge),
		unresolved: make(map[string]bool),
	}
	w.lookup.Append(src, dirs)
	w.marks[src] = visiting
	for _, fi := range p.cfg.ForcedIncludes {
		err := w.resolve(ctx, src, scandeps.ParseInclude(`"`+fi+`"`))
		if err != nil {
			return nil, err
		}
	}
	err = w.visit(ctx, src, dirs, false)
	if err != nil {
		return nil, err
	}
	st := &SourceFileState{
		Hash:          d,
		HasUnresolved: w.hasUnresolved,
		Edges:         w.edges,
	}
	builder.AddSource(src, st)
	for fname, h := range w.hashes {
		builder.Set(fname, &SourceFileState{
			Hash:          h,
			HasUnresolved: w.unresolved[fname],
			Edges:         w.direct[fname],
		})
		headers[fname] = true
	}
	return st, nil
}

// walker walks a translation unit depth first.
type walker struct {
	p      *Processor
	lookup *scandeps.CollectingMacroLookup

	marks map[string]mark
	// lookup.Len() when the file was last processed.
	processed map[string]int
	dirs      map[string]*scandeps.IncludeDirectives

	edges         []IncludeFileEdge
	hashes        map[string]digest.Digest
	direct        map[string][]IncludeFileEdge
	unresolved    map[string]bool
	hasUnresolved bool
}

// visit resolves includes of fname. If macroOnly, only includes that
// need macro expansion are resolved.
func (w *walker) visit(ctx context.Context, fname string, dirs *scandeps.IncludeDirectives, macroOnly bool) error {
	w.marks[fname] = visiting
	w.processed[fname] = w.lookup.Len()
	for _, inc := range dirs.Includes() {
		if macroOnly && !inc.IsMacro() {
			continue
		}
		err := w.resolve(ctx, fname, inc)
		if err != nil {
			return err
		}
	}
	w.marks[fname] = resolved
	return nil
}

func (w *walker) resolve(ctx context.Context, fname string, inc scandeps.Include) error {
	res, err := w.p.resolver.ResolveInclude(ctx, fname, inc, w.lookup)
	if err != nil {
		return err
	}
	if !res.Complete {
		log.Debugf("%s: unresolved %s", fname, inc)
		w.unresolved[fname] = true
		w.hasUnresolved = true
	}
	for _, f := range res.Files {
		e := IncludeFileEdge{
			IncludedBy:  fname,
			IncludePath: inc.Value,
			File:        f.Path,
			Hash:        f.Digest,
		}
		w.edges = append(w.edges, e)
		w.direct[fname] = append(w.direct[fname], e)
		w.hashes[f.Path] = f.Digest

		switch w.marks[f.Path] {
		case visiting:
			// include cycle, or include guarded header included
			// while processing itself.
			continue
		case resolved:
			dirs := w.dirs[f.Path]
			if dirs == nil || !dirs.HasMacroIncludes() || w.lookup.Len() <= w.processed[f.Path] {
				continue
			}
			// more macros are visible now.
			err := w.visit(ctx, f.Path, dirs, true)
			if err != nil {
				return err
			}
			continue
		}
		dirs, _, err := w.p.parse(ctx, f.Path)
		if err != nil {
			return err
		}
		w.dirs[f.Path] = dirs
		w.lookup.Append(f.Path, dirs)
		err = w.visit(ctx, f.Path, dirs, false)
		if err != nil {
			return err
		}
	}
	return nil
}
