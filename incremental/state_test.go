// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package incremental

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/infra/build/ccdeps/digest"
)

func TestBuildableCompilationState(t *testing.T) {
	h := digest.FromBytes([]byte("h"))
	x := digest.FromBytes([]byte("x"))
	y := digest.FromBytes([]byte("y"))
	b := NewBuildableCompilationState(digest.Digest{})
	b.AddSource("/b.c", &SourceFileState{Hash: h})
	b.AddSource("/a.c", &SourceFileState{Hash: h})
	// same header from two translation units.
	b.Set("/h.h", &SourceFileState{
		Hash:  h,
		Edges: []IncludeFileEdge{{IncludedBy: "/h.h", IncludePath: "X", File: "/x.h", Hash: x}},
	})
	b.Set("/h.h", &SourceFileState{
		Hash:          h,
		HasUnresolved: true,
		Edges: []IncludeFileEdge{
			{IncludedBy: "/h.h", IncludePath: "X", File: "/y.h", Hash: y},
			{IncludedBy: "/h.h", IncludePath: "X", File: "/x.h", Hash: x},
		},
	})
	// source included as header keeps source state.
	b.Set("/a.c", &SourceFileState{Hash: x})

	s := b.Snapshot()
	if diff := cmp.Diff([]string{"/a.c", "/b.c"}, s.Sources()); diff != "" {
		t.Errorf("Sources() diff -want +got:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/a.c", "/b.c", "/h.h"}, s.Files()); diff != "" {
		t.Errorf("Files() diff -want +got:\n%s", diff)
	}
	want := &SourceFileState{
		Hash:          h,
		HasUnresolved: true,
		Edges: []IncludeFileEdge{
			{IncludedBy: "/h.h", IncludePath: "X", File: "/x.h", Hash: x},
			{IncludedBy: "/h.h", IncludePath: "X", File: "/y.h", Hash: y},
		},
	}
	if diff := cmp.Diff(want, s.State("/h.h")); diff != "" {
		t.Errorf("State(/h.h) diff -want +got:\n%s", diff)
	}
	if got := s.State("/a.c").Hash; got != h {
		t.Errorf("State(/a.c).Hash=%v; want %v", got, h)
	}
	if !s.IsSource("/a.c") || s.IsSource("/h.h") {
		t.Errorf("IsSource(/a.c), IsSource(/h.h)=%t, %t; want true, false", s.IsSource("/a.c"), s.IsSource("/h.h"))
	}
	if s.State("/missing.h") != nil {
		t.Errorf("State(/missing.h)=%v; want nil", s.State("/missing.h"))
	}

	s2 := b.Snapshot()
	if s.BuildID == s2.BuildID {
		t.Errorf("BuildID should differ for snapshots")
	}
	if !s.Equal(s2) {
		t.Errorf("Equal()=false for the same builder")
	}
	b.Set("/z.h", &SourceFileState{Hash: h})
	if s.Equal(b.Snapshot()) {
		t.Errorf("Equal()=true after adding a header")
	}
}

func TestConfigHash(t *testing.T) {
	base := Config{
		IncludeRoots: []string{"/a", "/b"},
		Defines:      map[string]string{"X": "1", "Y": "2"},
	}
	same := Config{
		IncludeRoots: []string{"/a", "/b"},
		Defines:      map[string]string{"Y": "2", "X": "1"},
	}
	if base.Hash() != same.Hash() {
		t.Errorf("Hash() differs for the same config")
	}
	for _, c := range []Config{
		{IncludeRoots: []string{"/b", "/a"}, Defines: base.Defines},
		{IncludeRoots: base.IncludeRoots, Defines: map[string]string{"X": "1"}},
		{IncludeRoots: base.IncludeRoots, Defines: base.Defines, ImportAware: true},
		{IncludeRoots: base.IncludeRoots, Defines: base.Defines, ForcedIncludes: []string{"/p.h"}},
	} {
		if c.Hash() == base.Hash() {
			t.Errorf("Hash(%v)=Hash(%v); want different", c, base)
		}
	}
}
