// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package incremental

import (
	"encoding/json"
	"maps"
	"slices"

	"go.chromium.org/infra/build/ccdeps/digest"
)

// Config is a configuration of a compile task that affects include
// resolution.
type Config struct {
	IncludeRoots []string `json:"include_roots,omitempty"`
	// Defines are macros defined on the command line.
	// name may be function-like, e.g. "FOO(x)".
	Defines map[string]string `json:"defines,omitempty"`
	// ForcedIncludes are files included before the source, e.g. -include.
	ForcedIncludes []string `json:"forced_includes,omitempty"`
	ImportAware    bool     `json:"import_aware,omitempty"`
}

// Hash returns the fingerprint of the config.
func (c Config) Hash() digest.Digest {
	type defineEntry struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	v := struct {
		IncludeRoots   []string      `json:"include_roots"`
		Defines        []defineEntry `json:"defines"`
		ForcedIncludes []string      `json:"forced_includes"`
		ImportAware    bool          `json:"import_aware"`
	}{
		IncludeRoots:   c.IncludeRoots,
		ForcedIncludes: c.ForcedIncludes,
		ImportAware:    c.ImportAware,
	}
	for _, name := range slices.Sorted(maps.Keys(c.Defines)) {
		v.Defines = append(v.Defines, defineEntry{Name: name, Value: c.Defines[name]})
	}
	// json.Marshal never fails for the value.
	b, _ := json.Marshal(v)
	return digest.FromBytes(b)
}

// IncrementalCompilation is a result of an incremental pass.
type IncrementalCompilation struct {
	// FinalState is the new state to persist.
	FinalState *CompilationState `json:"-"`
	// Recompile are sources that need to be recompiled.
	Recompile []string `json:"recompile,omitempty"`
	// Removed are sources no longer in the task. Their outputs should
	// be deleted.
	Removed []string `json:"removed,omitempty"`
	// ExistingHeaders are header files seen in the pass.
	ExistingHeaders []string `json:"existing_headers,omitempty"`
	// Unresolved are sources that have unresolved includes.
	Unresolved []string `json:"unresolved,omitempty"`
}
