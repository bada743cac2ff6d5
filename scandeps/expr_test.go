// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package scandeps

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseExpression(t *testing.T) {
	for _, tc := range []struct {
		input string
		want  Expression
	}{
		{
			input: `"foo.h"`,
			want:  Expression{Kind: ExprQuoted, Value: "foo.h"},
		},
		{
			input: `<foo/bar.h> extra`,
			want:  Expression{Kind: ExprSystem, Value: "foo/bar.h"},
		},
		{
			input: "FOO_H",
			want:  Expression{Kind: ExprIdentifier, Value: "FOO_H"},
		},
		{
			input: `INC (foo, "bar.h", G(x, y))`,
			want: Expression{Kind: ExprCall, Value: "INC", Args: []Expression{
				{Kind: ExprIdentifier, Value: "foo"},
				{Kind: ExprQuoted, Value: "bar.h"},
				{Kind: ExprCall, Value: "G", Args: []Expression{
					{Kind: ExprIdentifier, Value: "x"},
					{Kind: ExprIdentifier, Value: "y"},
				}},
			}},
		},
		{
			input: `F(",)", a)`,
			want: Expression{Kind: ExprCall, Value: "F", Args: []Expression{
				{Kind: ExprQuoted, Value: ",)"},
				{Kind: ExprIdentifier, Value: "a"},
			}},
		},
		{
			input: "F()",
			want:  Expression{Kind: ExprCall, Value: "F"},
		},
		{
			input: "a ## b ## c",
			want: Expression{Kind: ExprPaste, Args: []Expression{
				{Kind: ExprIdentifier, Value: "a"},
				{Kind: ExprIdentifier, Value: "b"},
				{Kind: ExprIdentifier, Value: "c"},
			}},
		},
		{
			input: "# x",
			want: Expression{Kind: ExprStringize, Args: []Expression{
				{Kind: ExprIdentifier, Value: "x"},
			}},
		},
		{
			input: "F(a",
			want:  Expression{Kind: ExprOther, Value: "F(a"},
		},
		{
			input: "42",
			want:  Expression{Kind: ExprOther, Value: "42"},
		},
		{
			input: "",
			want:  Expression{Kind: ExprOther},
		},
	} {
		got := ParseExpression(tc.input)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ParseExpression(%q) diff -want +got:\n%s", tc.input, diff)
		}
	}
}

func TestParseMacroBody(t *testing.T) {
	for _, tc := range []struct {
		input string
		want  Expression
	}{
		{
			input: ` "foo.h" `,
			want:  Expression{Kind: ExprQuoted, Value: "foo.h"},
		},
		{
			input: "foo.h",
			want:  Expression{Kind: ExprOther, Value: "foo.h"},
		},
		{
			input: "a + b",
			want:  Expression{Kind: ExprOther, Value: "a + b"},
		},
	} {
		got := ParseMacroBody(tc.input)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ParseMacroBody(%q) diff -want +got:\n%s", tc.input, diff)
		}
	}
}

func TestExpressionString(t *testing.T) {
	for _, input := range []string{
		`"foo.h"`,
		"<foo.h>",
		"FOO",
		`F(a, "b.h", G(c))`,
		"a ## b",
		"#x",
	} {
		got := ParseExpression(input).String()
		if got != input {
			t.Errorf("ParseExpression(%q).String()=%q; want %q", input, got, input)
		}
	}
}

func TestReplaceIdentifiers(t *testing.T) {
	repl := map[string]string{"x": "base", "h": "hh"}
	for _, tc := range []struct {
		input, want string
	}{
		{input: "x.h", want: "base.hh"},
		{input: "platform/x_impl.h", want: "platform/x_impl.hh"},
		{input: `"x.h" x`, want: `"x.h" base`},
		{input: "1x + x", want: "1x + base"},
	} {
		got := replaceIdentifiers(tc.input, repl)
		if got != tc.want {
			t.Errorf("replaceIdentifiers(%q)=%q; want %q", tc.input, got, tc.want)
		}
	}
}
