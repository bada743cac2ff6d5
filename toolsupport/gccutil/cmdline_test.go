// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package gccutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestParseCommandLine(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
		want *CommandLine
	}{
		{
			name: "clang++",
			args: []string{
				"../../third_party/llvm-build/Release+Asserts/bin/clang++",
				"-MMD",
				"-MF",
				"obj/base/base/base64.o.d",
				"-DDCHECK_ALWAYS_ON=1",
				`-DCR_CLANG_REVISION="llvmorg-17-init-10134-g3da83fba-1"`,
				"-DNDEBUG",
				"-I../..",
				"-Igen",
				"-D__DATE_=",
				"-isystem",
				"../../buildtools/third_party/libc++/trunk/include",
				"-isystem../../buildtools/third_party/libc++abi/trunk/include",
				"--sysroot=../../build/linux/debian_bullseye_amd64-sysroot",
				"-c",
				"../../base/base64.cc",
				"-o",
				"obj/base/base/base64.o",
			},
			want: &CommandLine{
				Sources: []string{"../../base/base64.cc"},
				Dirs:    []string{"../..", "gen"},
				SystemDirs: []string{
					"../../buildtools/third_party/libc++/trunk/include",
					"../../buildtools/third_party/libc++abi/trunk/include",
				},
				Sysroot: "../../build/linux/debian_bullseye_amd64-sysroot",
				Defines: map[string]string{
					"DCHECK_ALWAYS_ON":  "1",
					"CR_CLANG_REVISION": `"llvmorg-17-init-10134-g3da83fba-1"`,
					"NDEBUG":            "1",
					"__DATE_":           "",
				},
				DepFile: "obj/base/base/base64.o.d",
			},
		},
		{
			name: "include-paths",
			args: []string{
				"gcc",
				"-iquote", "q1",
				"-iquoteq2",
				"--include-directory=i1",
				"--include-directory", "i2",
				"-idirafter", "after",
				"-isystem", "=/usr/include",
				"-isysroot", "/sdk",
				"-c", "a.c",
			},
			want: &CommandLine{
				Sources:    []string{"a.c"},
				QuoteDirs:  []string{"q1", "q2"},
				Dirs:       []string{"i1", "i2"},
				SystemDirs: []string{"/sdk/usr/include"},
				AfterDirs:  []string{"after"},
				Sysroot:    "/sdk",
			},
		},
		{
			name: "defines-and-forced-includes",
			args: []string{
				"clang",
				"-D", "FOO=<foo.h>",
				"-DBAR",
				"-DINC(x)=<x.h>",
				"-UBAR",
				"-U", "NOT_DEFINED",
				"-include", "config.h",
				"-includeprefix.h",
				"-imacros", "macros.h",
				"-include-pch", "pch.h.pch",
				"-c", "b.cc",
			},
			want: &CommandLine{
				Sources: []string{"b.cc"},
				Defines: map[string]string{
					"FOO":    "<foo.h>",
					"INC(x)": "<x.h>",
				},
				ForcedIncludes: []string{"config.h", "prefix.h", "macros.h"},
			},
		},
		{
			name: "objc",
			args: []string{
				"clang",
				"-x", "objective-c++",
				"-c", "foo.cc",
			},
			want: &CommandLine{
				Sources: []string{"foo.cc"},
				ObjC:    true,
			},
		},
		{
			name: "objc-source",
			args: []string{"clang", "-c", "foo.mm", "-o", "foo.o"},
			want: &CommandLine{
				Sources: []string{"foo.mm"},
				ObjC:    true,
			},
		},
		{
			name: "no-compiler",
			args: []string{"-c", "x.c", "y.cpp", "-Xclang", "-load", "z.S"},
			want: &CommandLine{
				Sources: []string{"x.c", "y.cpp", "z.S"},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseCommandLine(tc.args)
			if err != nil {
				t.Fatalf("ParseCommandLine(%q)=%v; want nil error", tc.args, err)
			}
			if diff := cmp.Diff(tc.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("ParseCommandLine(%q): diff -want +got:\n%s", tc.args, diff)
			}
		})
	}
}

func TestParseCommandLineError(t *testing.T) {
	for _, args := range [][]string{
		{"clang", "-c", "a.c", "-I"},
		{"clang", "-c", "a.c", "-include"},
		{"clang", "-c", "a.c", "-D"},
		{"clang", "-c", "a.c", "-x"},
	} {
		_, err := ParseCommandLine(args)
		if err == nil {
			t.Errorf("ParseCommandLine(%q)=nil; want error", args)
		}
	}
}

func TestIncludeRoots(t *testing.T) {
	c := &CommandLine{
		QuoteDirs:  []string{"q"},
		Dirs:       []string{"i", "q"},
		SystemDirs: []string{"s"},
		AfterDirs:  []string{"a", "i"},
	}
	want := []string{"q", "i", "s", "a"}
	if diff := cmp.Diff(want, c.IncludeRoots()); diff != "" {
		t.Errorf("IncludeRoots() diff -want +got:\n%s", diff)
	}
}
