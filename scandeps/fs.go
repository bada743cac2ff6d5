// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package scandeps

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"go.chromium.org/infra/build/ccdeps/digest"
	"go.chromium.org/infra/build/ccdeps/hashfs"
)

// Files parses files and caches parsed directives by content digest.
// Directives are a pure function of content, so the cache is never
// invalidated and can be shared for all tasks.
// It is safe for concurrent use.
type Files struct {
	cache *lru.Cache[digest.Digest, *IncludeDirectives]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewFiles creates Files that caches up to size parsed files.
func NewFiles(size int) (*Files, error) {
	cache, err := lru.New[digest.Digest, *IncludeDirectives](size)
	if err != nil {
		return nil, fmt.Errorf("parse cache: %w", err)
	}
	return &Files{cache: cache}, nil
}

// Parse reads fname via hfs and returns its directives and digest.
func (f *Files) Parse(ctx context.Context, hfs *hashfs.HashFS, fname string) (*IncludeDirectives, digest.Digest, error) {
	d, err := hfs.Digest(ctx, fname)
	if err != nil {
		return nil, digest.Digest{}, err
	}
	if dirs, ok := f.cache.Get(d); ok {
		f.hits.Add(1)
		return dirs, d, nil
	}
	f.misses.Add(1)
	buf, d, err := hfs.ReadFile(ctx, fname)
	if err != nil {
		return nil, digest.Digest{}, err
	}
	dirs, err := CPPScan(ctx, fname, buf)
	if err != nil {
		return nil, digest.Digest{}, err
	}
	f.cache.Add(d, dirs)
	return dirs, d, nil
}

// Stats returns cache hits and misses.
func (f *Files) Stats() (hits, misses int64) {
	return f.hits.Load(), f.misses.Load()
}
