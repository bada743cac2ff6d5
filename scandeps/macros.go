// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package scandeps

import "iter"

// MacroLookup is an ordered view of macro definitions visible at a point
// of include resolution. Earlier directives shadow later ones.
type MacroLookup interface {
	All() iter.Seq[*IncludeDirectives]
}

// CollectingMacroLookup collects directives of files in resolution order.
// It never contains the same file's directives twice.
// It is not safe for concurrent use.
type CollectingMacroLookup struct {
	initial *IncludeDirectives
	files   []string
	dirs    []*IncludeDirectives
	seen    map[string]bool
}

// NewCollectingMacroLookup creates a lookup with initial directives,
// typically defined on the command line.
func NewCollectingMacroLookup(initial *IncludeDirectives) *CollectingMacroLookup {
	if initial == nil {
		initial = EmptyDirectives
	}
	return &CollectingMacroLookup{
		initial: initial,
		seen:    make(map[string]bool),
	}
}

// Append appends directives of file. It reports false if file was
// already collected.
func (l *CollectingMacroLookup) Append(file string, d *IncludeDirectives) bool {
	if l.seen[file] {
		return false
	}
	l.seen[file] = true
	if d == nil {
		d = EmptyDirectives
	}
	l.files = append(l.files, file)
	l.dirs = append(l.dirs, d)
	return true
}

// AppendTo appends l's file directives to other, keeping order and
// skipping files other already has.
func (l *CollectingMacroLookup) AppendTo(other *CollectingMacroLookup) {
	for i, f := range l.files {
		other.Append(f, l.dirs[i])
	}
}

// Contains reports whether file's directives were collected.
func (l *CollectingMacroLookup) Contains(file string) bool {
	return l.seen[file]
}

// Len returns number of files collected.
func (l *CollectingMacroLookup) Len() int {
	return len(l.files)
}

// All iterates initial directives then collected ones.
func (l *CollectingMacroLookup) All() iter.Seq[*IncludeDirectives] {
	return func(yield func(*IncludeDirectives) bool) {
		if !yield(l.initial) {
			return
		}
		for _, d := range l.dirs {
			if !yield(d) {
				return
			}
		}
	}
}

// LookupMacros returns object-like definitions of name in the first
// directives of l that define name, either object-like or function-like.
// All definitions there are returned, since all branches of
// conditionals are scanned.
func LookupMacros(l MacroLookup, name string) []Macro {
	for d := range l.All() {
		if d.defines(name) {
			return d.MacrosNamed(name)
		}
	}
	return nil
}

// LookupMacroFunctions is like LookupMacros for function-like definitions.
func LookupMacroFunctions(l MacroLookup, name string) []MacroFunction {
	for d := range l.All() {
		if d.defines(name) {
			return d.MacroFunctionsNamed(name)
		}
	}
	return nil
}
