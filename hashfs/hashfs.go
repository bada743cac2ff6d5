// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package hashfs provides a view of the local filesystem with content
// digests.
//
// A HashFS is created per incremental pass: each file is stat'ed and hashed
// at most once, so every comparison within the pass sees the same digest
// for a file even if it is referenced from many translation units.
package hashfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"go.chromium.org/infra/build/ccdeps/digest"
	"go.chromium.org/infra/build/ccdeps/sync/semaphore"
)

// DigestSemaphore is a semaphore to control concurrent digest calculation.
var DigestSemaphore = semaphore.New("file-digest", runtime.NumCPU())

// FileInfo is a snapshot of a file in the HashFS.
type FileInfo struct {
	// Name is the cleaned path, absolute if the queried path was.
	Name string
	// Digest is the content digest. zero for non-regular files.
	Digest digest.Digest
	// Exists is true if something exists at Name.
	Exists bool
	// IsDir is true if Name is a directory.
	IsDir bool
}

// IsRegular returns true if the file exists and is not a directory.
func (fi FileInfo) IsRegular() bool {
	return fi.Exists && !fi.IsDir
}

type entry struct {
	once sync.Once
	fi   FileInfo
	err  error
}

// HashFS is a memoized view of files and their digests.
type HashFS struct {
	mu    sync.Mutex
	files map[string]*entry
}

// New creates a HashFS.
func New() *HashFS {
	return &HashFS{
		files: make(map[string]*entry),
	}
}

func (hfs *HashFS) entry(fname string) *entry {
	hfs.mu.Lock()
	defer hfs.mu.Unlock()
	e, ok := hfs.files[fname]
	if !ok {
		e = &entry{}
		hfs.files[fname] = e
	}
	return e
}

// Stat returns FileInfo of fname.
// Missing files are not errors; they are reported with Exists=false.
// Other I/O errors are returned, and memoized for the HashFS.
func (hfs *HashFS) Stat(ctx context.Context, fname string) (FileInfo, error) {
	fname = filepath.Clean(fname)
	e := hfs.entry(fname)
	e.once.Do(func() {
		e.fi, e.err = compute(ctx, fname)
	})
	return e.fi, e.err
}

// Digest returns the digest of fname.
// It returns an error wrapping fs.ErrNotExist if fname is not a regular file.
func (hfs *HashFS) Digest(ctx context.Context, fname string) (digest.Digest, error) {
	fi, err := hfs.Stat(ctx, fname)
	if err != nil {
		return digest.Digest{}, err
	}
	if !fi.IsRegular() {
		return digest.Digest{}, fmt.Errorf("digest %s: %w", fname, fs.ErrNotExist)
	}
	return fi.Digest, nil
}

// ReadFile reads content of fname and returns it with its digest.
// The digest is the one memoized in the HashFS, so the content is
// consistent with digests used elsewhere in the pass unless the file is
// modified concurrently, which is logged.
func (hfs *HashFS) ReadFile(ctx context.Context, fname string) ([]byte, digest.Digest, error) {
	d, err := hfs.Digest(ctx, fname)
	if err != nil {
		return nil, digest.Digest{}, err
	}
	buf, err := os.ReadFile(fname)
	if err != nil {
		return nil, digest.Digest{}, err
	}
	if cd := digest.FromBytes(buf); cd != d {
		log.Warnf("%s modified during the pass: %s -> %s", fname, d, cd)
		return buf, cd, nil
	}
	return buf, d, nil
}

// Prefetch computes digests of fnames in parallel.
// It returns the first I/O error, if any.
func (hfs *HashFS) Prefetch(ctx context.Context, fnames []string) error {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(DigestSemaphore.Capacity())
	for _, fname := range fnames {
		eg.Go(func() error {
			return DigestSemaphore.Do(gctx, func(ctx context.Context) error {
				_, err := hfs.Stat(ctx, fname)
				return err
			})
		})
	}
	return eg.Wait()
}

// Len returns number of files known to the HashFS.
func (hfs *HashFS) Len() int {
	hfs.mu.Lock()
	defer hfs.mu.Unlock()
	return len(hfs.files)
}

func compute(ctx context.Context, fname string) (FileInfo, error) {
	fi := FileInfo{Name: fname}
	st, err := os.Stat(fname)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debugf("not exist %s", fname)
		return fi, nil
	}
	if err != nil {
		return fi, fmt.Errorf("stat %s: %w", fname, err)
	}
	fi.Exists = true
	if st.IsDir() {
		fi.IsDir = true
		return fi, nil
	}
	if err := context.Cause(ctx); err != nil {
		return fi, err
	}
	d, err := digest.FromLocalFile(fname)
	if errors.Is(err, fs.ErrNotExist) {
		// removed after stat.
		return FileInfo{Name: fname}, nil
	}
	if err != nil {
		return fi, fmt.Errorf("digest %s: %w", fname, err)
	}
	fi.Digest = d
	return fi, nil
}
