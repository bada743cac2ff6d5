// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package incremental

import "flag"

// Option is an option of Engine.
type Option struct {
	// StateDir is a directory to persist states. Empty keeps states in memory.
	StateDir string
	// ParseCacheSize is the number of parsed files to cache.
	ParseCacheSize int
}

// RegisterFlags registers flags for the option.
func (o *Option) RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.StringVar(&o.StateDir, "state_dir", ".ccdeps", "directory to store states of compile tasks. empty to keep them in memory")
	flagSet.IntVar(&o.ParseCacheSize, "parse_cache_size", 4096, "number of parsed files to cache")
}
