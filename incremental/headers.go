// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package incremental

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"slices"
)

// HeaderDependencies are inputs of a compile task in addition to its
// sources.
type HeaderDependencies struct {
	// Files are existing header files.
	Files []string `json:"files,omitempty"`
	// Dirs are directories to watch, set when some include was not
	// resolved, since a new file there may resolve it.
	Dirs []string `json:"dirs,omitempty"`
}

// CollectHeaderDependencies collects header files reachable from
// sources of comp.
func CollectHeaderDependencies(ctx context.Context, comp *IncrementalCompilation, includeRoots []string) (HeaderDependencies, error) {
	state := comp.FinalState
	seen := make(map[string]bool)
	var deps HeaderDependencies
	unresolved := false
	for _, src := range state.Sources() {
		if err := ctx.Err(); err != nil {
			return HeaderDependencies{}, err
		}
		st := state.State(src)
		if st.HasUnresolved {
			unresolved = true
		}
		for _, e := range st.Edges {
			if seen[e.File] || state.IsSource(e.File) {
				continue
			}
			seen[e.File] = true
			fi, err := os.Stat(e.File)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return HeaderDependencies{}, err
			}
			if !fi.Mode().IsRegular() {
				continue
			}
			deps.Files = append(deps.Files, e.File)
		}
	}
	slices.Sort(deps.Files)
	if unresolved {
		deps.Dirs = slices.Clone(includeRoots)
	}
	return deps, nil
}
