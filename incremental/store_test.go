// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package incremental

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"

	"go.chromium.org/infra/build/ccdeps/digest"
)

func testState() *CompilationState {
	b := NewBuildableCompilationState(Config{IncludeRoots: []string{"/inc"}}.Hash())
	h1 := digest.FromBytes([]byte("foo.c"))
	h2 := digest.FromBytes([]byte("bar.h"))
	h3 := digest.FromBytes([]byte("baz.h"))
	empty := digest.FromBytes(nil)
	b.AddSource("/src/foo.c", &SourceFileState{
		Hash: h1,
		Edges: []IncludeFileEdge{
			{IncludedBy: "/src/foo.c", IncludePath: "<bar.h>", File: "/inc/bar.h", Hash: h2},
			{IncludedBy: "/inc/bar.h", IncludePath: "BAZ_H", File: "/inc/baz.h", Hash: h3},
			{IncludedBy: "/src/foo.c", IncludePath: `"empty.h"`, File: "/src/empty.h", Hash: empty},
		},
	})
	b.AddSource("/src/unresolved.c", &SourceFileState{
		Hash:          h1,
		HasUnresolved: true,
	})
	b.Set("/inc/bar.h", &SourceFileState{
		Hash: h2,
		Edges: []IncludeFileEdge{
			{IncludedBy: "/inc/bar.h", IncludePath: "BAZ_H", File: "/inc/baz.h", Hash: h3},
		},
	})
	b.Set("/inc/baz.h", &SourceFileState{Hash: h3, HasUnresolved: true})
	b.Set("/src/empty.h", &SourceFileState{Hash: empty})
	return b.Snapshot()
}

func TestRegistrySaveLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := NewRegistry(dir)

	slot, err := r.Acquire("out/Default:foo")
	if err != nil {
		t.Fatal(err)
	}
	st, err := slot.Load(ctx)
	if err != nil || st.Len() != 0 {
		t.Errorf("Load()=%d files, %v; want empty state", st.Len(), err)
	}
	want := testState()
	err = slot.Save(ctx, want)
	if err != nil {
		t.Fatalf("Save()=%v; want nil err", err)
	}
	got, err := slot.Load(ctx)
	if err != nil {
		t.Fatalf("Load()=%v; want nil err", err)
	}
	if !got.Equal(want) || got.BuildID != want.BuildID {
		t.Errorf("Load()=%v; want %v", got, want)
	}
	for _, fname := range want.Files() {
		if diff := cmp.Diff(want.State(fname), got.State(fname)); diff != "" {
			t.Errorf("state of %s diff -want +got:\n%s", fname, diff)
		}
	}
	slot.Release()

	fname := r.StateFile("out/Default:foo")
	if !strings.HasSuffix(fname, stateFileSuffix) || filepath.Dir(fname) != dir {
		t.Errorf("StateFile()=%q; want in %q with %q suffix", fname, dir, stateFileSuffix)
	}
	if fname == r.StateFile("out/Default:bar") {
		t.Errorf("StateFile() is the same for different tasks")
	}

	// save again keeps the old one in *.0
	slot, err = r.Acquire("out/Default:foo")
	if err != nil {
		t.Fatal(err)
	}
	defer slot.Release()
	err = slot.Save(ctx, EmptyState())
	if err != nil {
		t.Fatal(err)
	}
	old, err := LoadFile(ctx, fname+".0")
	if err != nil {
		t.Fatalf("LoadFile(%q)=%v; want nil err", fname+".0", err)
	}
	if !old.Equal(want) {
		t.Errorf("LoadFile(%q) is not the previous state", fname+".0")
	}
	if _, err := os.Stat(fname + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("tmp file remains: %v", err)
	}
}

func TestRegistryCorrupted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := NewRegistry(dir)
	fname := r.StateFile("t")

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	badProto := enc.EncodeAll([]byte{0xff}, nil)
	enc.Close()

	for _, tc := range []struct {
		name string
		data []byte
	}{
		{name: "not-zstd", data: []byte("garbage")},
		{name: "bad-proto", data: badProto},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := os.WriteFile(fname, tc.data, 0644)
			if err != nil {
				t.Fatal(err)
			}
			slot, err := r.Acquire("t")
			if err != nil {
				t.Fatal(err)
			}
			defer slot.Release()
			st, err := slot.Load(ctx)
			if err != nil || st.Len() != 0 {
				t.Errorf("Load()=%v, %v; want empty state", st, err)
			}
			_, err = LoadFile(ctx, fname)
			if err == nil {
				t.Errorf("LoadFile(%q)=nil err; want error", fname)
			}
		})
	}
}

func TestUnmarshalStateError(t *testing.T) {
	st := testState()
	b, err := marshalState(st)
	if err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		name string
		data []byte
	}{
		{name: "truncated", data: b[:len(b)-3]},
		{name: "bad-tag", data: []byte{0xff}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := unmarshalState(tc.data)
			if !errors.Is(err, errMalformedState) {
				t.Errorf("unmarshalState(%q)=%v; want %v", tc.name, err, errMalformedState)
			}
		})
	}
}

func TestRegistrySlotBusy(t *testing.T) {
	r := NewRegistry("")
	slot, err := r.Acquire("t")
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Acquire("t")
	if !errors.Is(err, ErrSlotBusy) {
		t.Errorf("Acquire(t) again=%v; want %v", err, ErrSlotBusy)
	}
	other, err := r.Acquire("other")
	if err != nil {
		t.Errorf("Acquire(other)=%v; want nil err", err)
	} else {
		other.Release()
	}
	slot.Release()
	// Release is idempotent.
	slot.Release()
	slot, err = r.Acquire("t")
	if err != nil {
		t.Errorf("Acquire(t) after release=%v; want nil err", err)
	} else {
		slot.Release()
	}
}

func TestRegistryConcurrentAcquire(t *testing.T) {
	r := NewRegistry("")
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := r.Acquire("t")
			if err != nil {
				return
			}
			mu.Lock()
			acquired++
			mu.Unlock()
			_ = slot
		}()
	}
	wg.Wait()
	if acquired != 1 {
		t.Errorf("acquired=%d; want 1", acquired)
	}
}

func TestRegistryInMemory(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry("")
	if got := r.StateFile("t"); got != "" {
		t.Errorf("StateFile(t)=%q; want empty", got)
	}
	slot, err := r.Acquire("t")
	if err != nil {
		t.Fatal(err)
	}
	want := testState()
	err = slot.Save(ctx, want)
	if err != nil {
		t.Fatal(err)
	}
	slot.Release()

	slot, err = r.Acquire("t")
	if err != nil {
		t.Fatal(err)
	}
	defer slot.Release()
	got, err := slot.Load(ctx)
	if err != nil || got != want {
		t.Errorf("Load()=%v, %v; want saved state", got, err)
	}
}
