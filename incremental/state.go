// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package incremental

import (
	"cmp"
	"maps"
	"slices"

	"github.com/google/uuid"

	"go.chromium.org/infra/build/ccdeps/digest"
)

// IncludeFileEdge is a resolved include.
type IncludeFileEdge struct {
	// IncludedBy is the file that has the include directive.
	IncludedBy string
	// IncludePath is the include operand as written, e.g. `"foo.h"` or `FOO_H`.
	IncludePath string
	// File is the resolved file.
	File string
	// Hash is the digest of File when resolved.
	Hash digest.Digest
}

func compareEdges(a, b IncludeFileEdge) int {
	if c := cmp.Compare(a.IncludedBy, b.IncludedBy); c != 0 {
		return c
	}
	if c := cmp.Compare(a.IncludePath, b.IncludePath); c != 0 {
		return c
	}
	if c := cmp.Compare(a.File, b.File); c != 0 {
		return c
	}
	return cmp.Compare(a.Hash.String(), b.Hash.String())
}

// sortEdges sorts edges and removes duplicates.
func sortEdges(edges []IncludeFileEdge) []IncludeFileEdge {
	slices.SortFunc(edges, compareEdges)
	return slices.Compact(edges)
}

// SourceFileState is a state of a source or header file.
//
// For a source, Edges are all edges of its translation unit and
// HasUnresolved is set if any include in the translation unit was not
// resolved. For a header, Edges are its own includes.
type SourceFileState struct {
	Hash          digest.Digest
	HasUnresolved bool
	Edges         []IncludeFileEdge
}

func (s *SourceFileState) equal(o *SourceFileState) bool {
	return s.Hash == o.Hash && s.HasUnresolved == o.HasUnresolved && slices.Equal(s.Edges, o.Edges)
}

// CompilationState is a snapshot of tracked files of a compile task.
// It is immutable.
type CompilationState struct {
	// BuildID identifies the pass that created the state.
	BuildID string
	// ConfigHash is the fingerprint of the configuration used in the pass.
	ConfigHash digest.Digest

	sources []string
	files   map[string]*SourceFileState
}

// EmptyState returns an empty state.
func EmptyState() *CompilationState {
	return &CompilationState{files: make(map[string]*SourceFileState)}
}

// Sources returns sorted source files.
func (s *CompilationState) Sources() []string {
	return s.sources
}

// IsSource reports whether fname is a source.
func (s *CompilationState) IsSource(fname string) bool {
	_, ok := slices.BinarySearch(s.sources, fname)
	return ok
}

// State returns the state of fname, or nil.
func (s *CompilationState) State(fname string) *SourceFileState {
	return s.files[fname]
}

// Files returns sorted files that have state.
func (s *CompilationState) Files() []string {
	return slices.Sorted(maps.Keys(s.files))
}

// Len returns the number of files that have state.
func (s *CompilationState) Len() int {
	return len(s.files)
}

// Equal reports whether s and o track the same files with the same
// states. BuildID is ignored.
func (s *CompilationState) Equal(o *CompilationState) bool {
	if s.ConfigHash != o.ConfigHash || !slices.Equal(s.sources, o.sources) || len(s.files) != len(o.files) {
		return false
	}
	for fname, st := range s.files {
		ost, ok := o.files[fname]
		if !ok || !st.equal(ost) {
			return false
		}
	}
	return true
}

// BuildableCompilationState builds a CompilationState.
// It is not safe for concurrent use.
type BuildableCompilationState struct {
	configHash digest.Digest
	sources    map[string]*SourceFileState
	headers    map[string]*SourceFileState
}

// NewBuildableCompilationState creates a builder for configHash.
func NewBuildableCompilationState(configHash digest.Digest) *BuildableCompilationState {
	return &BuildableCompilationState{
		configHash: configHash,
		sources:    make(map[string]*SourceFileState),
		headers:    make(map[string]*SourceFileState),
	}
}

// AddSource sets the state of source file fname.
func (b *BuildableCompilationState) AddSource(fname string, st *SourceFileState) {
	b.sources[fname] = st
}

// Set merges state of header fname.
// Edges are unioned and HasUnresolved is or-ed with the existing state.
func (b *BuildableCompilationState) Set(fname string, st *SourceFileState) {
	cur, ok := b.headers[fname]
	if !ok {
		b.headers[fname] = &SourceFileState{
			Hash:          st.Hash,
			HasUnresolved: st.HasUnresolved,
			Edges:         slices.Clone(st.Edges),
		}
		return
	}
	cur.Hash = st.Hash
	cur.HasUnresolved = cur.HasUnresolved || st.HasUnresolved
	cur.Edges = append(cur.Edges, st.Edges...)
}

// Snapshot returns the built state with a new BuildID.
// A file added as both source and header keeps its source state.
func (b *BuildableCompilationState) Snapshot() *CompilationState {
	s := &CompilationState{
		BuildID:    uuid.New().String(),
		ConfigHash: b.configHash,
		sources:    slices.Sorted(maps.Keys(b.sources)),
		files:      make(map[string]*SourceFileState, len(b.sources)+len(b.headers)),
	}
	for fname, st := range b.headers {
		s.files[fname] = &SourceFileState{
			Hash:          st.Hash,
			HasUnresolved: st.HasUnresolved,
			Edges:         sortEdges(slices.Clone(st.Edges)),
		}
	}
	for fname, st := range b.sources {
		s.files[fname] = &SourceFileState{
			Hash:          st.Hash,
			HasUnresolved: st.HasUnresolved,
			Edges:         sortEdges(slices.Clone(st.Edges)),
		}
	}
	return s
}
