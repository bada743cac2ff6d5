// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package incremental

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
)

// ErrSlotBusy is returned when a task's slot is already acquired.
var ErrSlotBusy = errors.New("state slot is busy")

const stateFileSuffix = ".ccdeps_state"

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Registry holds persisted CompilationStates keyed by task.
// It is safe for concurrent use.
type Registry struct {
	dir string

	mu   sync.Mutex
	busy map[string]bool
	// in-memory states when dir is empty.
	mem map[string]*CompilationState
}

// NewRegistry creates a registry storing states in dir.
// If dir is empty, states are kept in memory.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:  dir,
		busy: make(map[string]bool),
		mem:  make(map[string]*CompilationState),
	}
}

// StateFile returns the file name for task's state.
// It returns empty for in-memory registry.
func (r *Registry) StateFile(task string) string {
	if r.dir == "" {
		return ""
	}
	return filepath.Join(r.dir, strconv.FormatUint(xxh3.HashString(task), 16)+stateFileSuffix)
}

// Acquire acquires task's slot. It must be released by Release.
func (r *Registry) Acquire(task string) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy[task] {
		return nil, fmt.Errorf("acquire %q: %w", task, ErrSlotBusy)
	}
	r.busy[task] = true
	return &Slot{
		r:     r,
		task:  task,
		fname: r.StateFile(task),
	}, nil
}

// Slot is an exclusive handle of a task's persisted state.
type Slot struct {
	r     *Registry
	task  string
	fname string

	once sync.Once
}

// Task returns the task name of the slot.
func (s *Slot) Task() string { return s.task }

// Load loads the previous state.
// It returns an empty state if there is no state or it is corrupted.
func (s *Slot) Load(ctx context.Context) (*CompilationState, error) {
	if s.fname == "" {
		s.r.mu.Lock()
		defer s.r.mu.Unlock()
		if st, ok := s.r.mem[s.task]; ok {
			return st, nil
		}
		return EmptyState(), nil
	}
	st, err := LoadFile(ctx, s.fname)
	if errors.Is(err, fs.ErrNotExist) {
		log.Infof("no state for %q", s.task)
		return EmptyState(), nil
	}
	if errors.Is(err, errMalformedState) {
		log.Warnf("ignore corrupted state for %q: %v", s.task, err)
		return EmptyState(), nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Save persists state.
// The old state file is kept as *.0.
func (s *Slot) Save(ctx context.Context, state *CompilationState) error {
	if s.fname == "" {
		s.r.mu.Lock()
		defer s.r.mu.Unlock()
		s.r.mem[s.task] = state
		return nil
	}
	b, err := marshalState(state)
	if err != nil {
		return fmt.Errorf("marshal state for %q: %w", s.task, err)
	}
	w, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	data := w.EncodeAll(b, nil)
	err = w.Close()
	if err != nil {
		return err
	}
	return saveFile(ctx, s.fname, data)
}

// Release releases the slot.
func (s *Slot) Release() {
	s.once.Do(func() {
		s.r.mu.Lock()
		defer s.r.mu.Unlock()
		delete(s.r.busy, s.task)
	})
}

func saveFile(ctx context.Context, fname string, data []byte) error {
	err := os.MkdirAll(filepath.Dir(fname), 0755)
	if err != nil {
		return err
	}
	tmpname := fname + ".tmp"
	err = os.WriteFile(tmpname, data, 0644)
	if err != nil {
		return err
	}
	// save old state in *.0
	ofname := fname + ".0"
	if err := os.Remove(ofname); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(fname, ofname); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(tmpname, fname)
}

// LoadFile loads a state saved in fname.
// It returns an error wrapping fs.ErrNotExist if fname doesn't exist.
func LoadFile(ctx context.Context, fname string) (*CompilationState, error) {
	b, err := os.ReadFile(fname)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(b, zstdMagic) {
		return nil, fmt.Errorf("%s: %w: not zstd", fname, errMalformedState)
	}
	r, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	b, err = r.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", fname, errMalformedState, err)
	}
	st, err := unmarshalState(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fname, err)
	}
	return st, nil
}
