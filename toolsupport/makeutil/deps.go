// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package makeutil provides utilities for make.
package makeutil

import (
	"bytes"
	"context"
	"iter"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// ParseDepsFile parses *.d file in fname.
func ParseDepsFile(ctx context.Context, fname string) ([]string, error) {
	if fname == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(fname)
	if err != nil {
		return nil, err
	}
	deps := ParseDeps(b)
	log.Debugf("deps %s => %q", fname, deps)
	return deps, nil
}

// ParseDeps parses deps and returns inputs of all rules, without
// duplicates. Targets are not included.
//
//	<output>: <input> ...
//	<input>:
//
// The second form is a phony rule, e.g. generated by -MP.
// Inputs are separated by spaces. '\'+newline is a space, '\'+space is
// an escaped space (not separator), and "$$" is '$'.
func ParseDeps(b []byte) []string {
	// skip until ':'
	i := bytes.IndexByte(b, ':')
	if i < 0 {
		return nil
	}
	var inputs []string
	seen := make(map[string]bool)
	for token := range tokens(b[i+1:]) {
		switch {
		case token == ":":
		case strings.HasSuffix(token, ":"):
			// target of other rule.
		case seen[token]:
		default:
			seen[token] = true
			inputs = append(inputs, token)
		}
	}
	return inputs
}

// tokens yields space separated tokens in s.
func tokens(s []byte) iter.Seq[string] {
	return func(yield func(string) bool) {
		var sb strings.Builder
		flush := func() bool {
			if sb.Len() == 0 {
				return true
			}
			token := sb.String()
			sb.Reset()
			return yield(token)
		}
		for i := 0; i < len(s); i++ {
			c := s[i]
			switch {
			case c == '\\' && i+1 < len(s) && s[i+1] == ' ':
				sb.WriteByte(' ')
				i++
			case c == '\\' && i+1 < len(s) && (s[i+1] == '\n' || s[i+1] == '\r'):
				// continuation line.
				i++
				if s[i] == '\r' && i+1 < len(s) && s[i+1] == '\n' {
					i++
				}
				if !flush() {
					return
				}
			case c == '$' && i+1 < len(s) && s[i+1] == '$':
				sb.WriteByte('$')
				i++
			case c == ' ', c == '\t', c == '\r', c == '\n':
				if !flush() {
					return
				}
			default:
				sb.WriteByte(c)
			}
		}
		flush()
	}
}
