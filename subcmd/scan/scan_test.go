// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"go.chromium.org/infra/build/ccdeps/incremental"
)

func setupFiles(t *testing.T, files map[string]string) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		fname := filepath.Join(dir, name)
		err := os.MkdirAll(filepath.Dir(fname), 0755)
		if err != nil {
			t.Fatal(err)
		}
		err = os.WriteFile(fname, []byte(content), 0644)
		if err != nil {
			t.Fatal(err)
		}
	}
	t.Chdir(dir)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	setupFiles(t, map[string]string{
		"a.cc":    "#include \"a.h\"\n#include <b.h>\n",
		"a.h":     "#define A_H\n",
		"inc/b.h": "#include \"c.h\"\n",
		"inc/c.h": "",
	})
	c := &run{
		task: "out/Default",
		opt: incremental.Option{
			StateDir:       ".ccdeps",
			ParseCacheSize: 16,
		},
	}
	args := []string{"clang++", "-Iinc", "-c", "a.cc", "-o", "a.o"}

	var buf bytes.Buffer
	err := c.run(ctx, args, &buf)
	if err != nil {
		t.Fatalf("run(ctx, %q)=%v; want nil error", args, err)
	}
	want := `recompile: a.cc
header: a.h
header: inc/b.h
header: inc/c.h
`
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("first run: diff -want +got:\n%s", diff)
	}

	buf.Reset()
	err = c.run(ctx, args, &buf)
	if err != nil {
		t.Fatalf("run(ctx, %q)=%v; want nil error", args, err)
	}
	want = `header: a.h
header: inc/b.h
header: inc/c.h
`
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("second run: diff -want +got:\n%s", diff)
	}
}

func TestRunJSON(t *testing.T) {
	ctx := context.Background()
	setupFiles(t, map[string]string{
		"a.cc": "#include FOO_H\n",
	})
	c := &run{
		task:       "t",
		reqString:  `{"sources":["a.cc"],"defines":{"FOO_H":"\"missing.h\""}}`,
		jsonOutput: true,
		opt: incremental.Option{
			ParseCacheSize: 16,
		},
	}
	var buf bytes.Buffer
	err := c.run(ctx, nil, &buf)
	if err != nil {
		t.Fatalf("run(ctx, nil)=%v; want nil error", err)
	}
	var got incremental.Result
	err = json.Unmarshal(buf.Bytes(), &got)
	if err != nil {
		t.Fatalf("json.Unmarshal(%q)=%v", buf.Bytes(), err)
	}
	want := incremental.Result{
		Compilation: &incremental.IncrementalCompilation{
			Recompile:  []string{"a.cc"},
			Unresolved: []string{"a.cc"},
		},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("run(ctx, nil) diff -want +got:\n%s", diff)
	}
}

func TestRequest(t *testing.T) {
	for _, tc := range []struct {
		name      string
		c         *run
		args      []string
		want      incremental.Request
		wantUsage bool
	}{
		{
			name: "args",
			c:    &run{task: "t"},
			args: []string{"clang", "-x", "objective-c", "-Ia", "-DX=<x.h>", "-include", "pre.h", "-c", "foo.c"},
			want: incremental.Request{
				Task:    "t",
				Sources: []string{"foo.c"},
				Config: incremental.Config{
					IncludeRoots:   []string{"a"},
					Defines:        map[string]string{"X": "<x.h>"},
					ForcedIncludes: []string{"pre.h"},
					ImportAware:    true,
				},
			},
		},
		{
			name: "req-and-args",
			c: &run{
				task:      "override",
				reqString: `{"task":"t","sources":["a.cc"],"include_roots":["r"],"defines":{"A":"1"}}`,
			},
			args: []string{"clang", "-Ib", "-DB", "-c", "b.cc"},
			want: incremental.Request{
				Task:    "override",
				Sources: []string{"a.cc", "b.cc"},
				Config: incremental.Config{
					IncludeRoots: []string{"r", "b"},
					Defines:      map[string]string{"A": "1", "B": "1"},
				},
			},
		},
		{
			name:      "no-task",
			c:         &run{},
			args:      []string{"clang", "-c", "a.cc"},
			wantUsage: true,
		},
		{
			name:      "no-sources",
			c:         &run{task: "t"},
			args:      []string{"clang", "-c"},
			wantUsage: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.c.request(tc.args)
			if tc.wantUsage {
				if !errors.Is(err, flag.ErrHelp) {
					t.Errorf("request(%q)=%v; want flag.ErrHelp", tc.args, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("request(%q)=%v; want nil error", tc.args, err)
			}
			if diff := cmp.Diff(tc.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("request(%q) diff -want +got:\n%s", tc.args, diff)
			}
		})
	}
}

func TestRequestBadJSON(t *testing.T) {
	c := &run{task: "t", reqString: "{"}
	_, err := c.request(nil)
	if err == nil || errors.Is(err, flag.ErrHelp) {
		t.Errorf("request(nil)=%v; want json error", err)
	}
}
