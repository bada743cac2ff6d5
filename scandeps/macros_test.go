// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package scandeps

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustScan(t *testing.T, fname, src string) *IncludeDirectives {
	t.Helper()
	d, err := CPPScan(context.Background(), fname, []byte(src))
	if err != nil {
		t.Fatalf("CPPScan(ctx, %q, buf)=%v; want nil err", fname, err)
	}
	return d
}

func macroValues(ms []Macro) []string {
	var vs []string
	for _, m := range ms {
		vs = append(vs, m.Expr.String())
	}
	return vs
}

func TestCollectingMacroLookup(t *testing.T) {
	defines := DefinesDirectives(map[string]string{"CONFIG_H": `"cmdline.h"`})
	a := mustScan(t, "a.h", "#define FOO_H \"a_foo.h\"\n#define BAR_H \"a_bar.h\"\n")
	b := mustScan(t, "b.h", "#define FOO_H \"b_foo.h\"\n#define FOO_H \"b_foo2.h\"\n#define BAZ_H \"b_baz.h\"\n#define FN(x) x\n")
	c := mustScan(t, "c.h", "#define BAR(x) x\n#define BAR \"c_bar.h\"\n")

	l := NewCollectingMacroLookup(defines)
	if !l.Append("b.h", b) {
		t.Errorf("Append(b.h)=false; want true")
	}
	if !l.Append("a.h", a) {
		t.Errorf("Append(a.h)=false; want true")
	}
	if l.Append("b.h", a) {
		t.Errorf("Append(b.h) again=true; want false")
	}
	if got, want := l.Len(), 2; got != want {
		t.Errorf("Len()=%d; want %d", got, want)
	}

	for _, tc := range []struct {
		name string
		want []string
	}{
		{name: "CONFIG_H", want: []string{`"cmdline.h"`}},
		{name: "FOO_H", want: []string{`"b_foo.h"`, `"b_foo2.h"`}},
		{name: "BAR_H", want: []string{`"a_bar.h"`}},
		{name: "UNDEFINED"},
		{name: "FN"},
	} {
		got := macroValues(LookupMacros(l, tc.name))
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("LookupMacros(l, %q) diff -want +got:\n%s", tc.name, diff)
		}
	}
	if got := LookupMacroFunctions(l, "FN"); len(got) != 1 {
		t.Errorf("LookupMacroFunctions(l, FN)=%v; want 1 definition", got)
	}

	other := NewCollectingMacroLookup(nil)
	other.Append("c.h", c)
	other.Append("a.h", a)
	l.AppendTo(other)
	var got []*IncludeDirectives
	for d := range other.All() {
		got = append(got, d)
	}
	want := []*IncludeDirectives{EmptyDirectives, c, a, b}
	if len(got) != len(want) {
		t.Fatalf("AppendTo: got %d directives; want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AppendTo: directives[%d] mismatch", i)
		}
	}
	if !other.Contains("b.h") {
		t.Errorf("Contains(b.h)=false; want true")
	}
	// both object-like and function-like BAR in c.h.
	if got := macroValues(LookupMacros(other, "BAR")); !cmp.Equal(got, []string{`"c_bar.h"`}) {
		t.Errorf("LookupMacros(other, BAR)=%q", got)
	}
	if got := LookupMacroFunctions(other, "BAR"); len(got) != 1 {
		t.Errorf("LookupMacroFunctions(other, BAR)=%v; want 1 definition", got)
	}
}

func TestCollectingMacroLookupShadowing(t *testing.T) {
	// function-like definition in an earlier file hides object-like one later.
	first := mustScan(t, "first.h", "#define FOO(x) x\n")
	second := mustScan(t, "second.h", "#define FOO \"foo.h\"\n")
	l := NewCollectingMacroLookup(nil)
	l.Append("first.h", first)
	l.Append("second.h", second)
	if got := LookupMacros(l, "FOO"); len(got) != 0 {
		t.Errorf("LookupMacros(l, FOO)=%v; want none", got)
	}
}
