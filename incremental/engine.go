// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package incremental decides which sources of a C/C++ compile task
// need to be recompiled, by comparing the current files with the state
// recorded by the previous pass.
package incremental

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"go.chromium.org/infra/build/ccdeps/hashfs"
	"go.chromium.org/infra/build/ccdeps/scandeps"
)

// Request is a request of an incremental pass.
type Request struct {
	// Task identifies the compile task, e.g. its output directory.
	Task    string   `json:"task"`
	Sources []string `json:"sources"`
	Config
}

// Result is a result of an incremental pass.
type Result struct {
	Compilation *IncrementalCompilation `json:"compilation"`
	Headers     HeaderDependencies      `json:"headers"`
}

// Engine runs incremental passes.
// Tasks may run concurrently; the same task can't.
type Engine struct {
	Registry *Registry
	Files    *scandeps.Files
}

// New creates an engine.
func New(opt Option) (*Engine, error) {
	files, err := scandeps.NewFiles(opt.ParseCacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		Registry: NewRegistry(opt.StateDir),
		Files:    files,
	}, nil
}

// Run runs an incremental pass for req.
// The new state is persisted only when the pass succeeds.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	slot, err := e.Registry.Acquire(req.Task)
	if err != nil {
		return nil, err
	}
	defer slot.Release()

	previous, err := slot.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state for %q: %w", req.Task, err)
	}
	hfs := hashfs.New()
	resolver, err := scandeps.NewResolver(ctx, hfs, scandeps.Option{
		IncludeRoots: req.IncludeRoots,
		ImportAware:  req.ImportAware,
	})
	if err != nil {
		return nil, err
	}
	p := NewProcessor(resolver, e.Files, hfs, previous, req.Config)
	comp, err := p.Process(ctx, req.Sources)
	if err != nil {
		return nil, err
	}
	headers, err := CollectHeaderDependencies(ctx, comp, req.IncludeRoots)
	if err != nil {
		return nil, err
	}
	err = slot.Save(ctx, comp.FinalState)
	if err != nil {
		return nil, fmt.Errorf("save state for %q: %w", req.Task, err)
	}
	if log.GetLevel() <= log.DebugLevel {
		hits, misses := e.Files.Stats()
		sema := hashfs.DigestSemaphore
		log.Debugf("task %q: %d files hashed, parse cache hits=%d misses=%d, %s serv=%d wait=%d reqs=%d", req.Task, hfs.Len(), hits, misses, sema.Name(), sema.NumServs(), sema.NumWaits(), sema.NumRequests())
	}
	return &Result{
		Compilation: comp,
		Headers:     headers,
	}, nil
}
