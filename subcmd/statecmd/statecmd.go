// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package statecmd provides state subcommand.
package statecmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"

	"go.chromium.org/infra/build/ccdeps/digest"
	"go.chromium.org/infra/build/ccdeps/incremental"
)

// Cmd returns the Command for the `state` subcommand provided by this package.
func Cmd() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "state -task <name>",
		ShortDesc: "dump persisted state of a compile task",
		LongDesc:  "dump persisted state of a compile task to stdout.",
		Advanced:  true,
		CommandRun: func() subcommands.CommandRun {
			c := &run{}
			c.init()
			return c
		},
	}
}

type run struct {
	subcommands.CommandRunBase

	dir       string
	stateDir  string
	task      string
	format    string
	digestStr string
}

func (c *run) init() {
	c.Flags.StringVar(&c.dir, "C", ".", "directory the task ran in")
	c.Flags.StringVar(&c.stateDir, "state_dir", ".ccdeps", "directory of states")
	c.Flags.StringVar(&c.task, "task", "", "name of the compile task")
	c.Flags.StringVar(&c.format, "format", "json", "output format. json or text")
	c.Flags.StringVar(&c.digestStr, "digest", "", "only dump files or edges that have the digest")
}

func (c *run) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	err := os.Chdir(c.dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to chdir %s: %v\n", c.dir, err)
		return 1
	}
	err = c.run(ctx, os.Stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 2
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type edgeEntry struct {
	IncludedBy  string        `json:"included_by"`
	IncludePath string        `json:"include_path"`
	File        string        `json:"file"`
	Hash        digest.Digest `json:"hash"`
}

type fileEntry struct {
	Name          string        `json:"name"`
	Source        bool          `json:"source,omitempty"`
	Hash          digest.Digest `json:"hash"`
	HasUnresolved bool          `json:"has_unresolved,omitempty"`
	Edges         []edgeEntry   `json:"edges,omitempty"`
}

type stateEntry struct {
	BuildID    string        `json:"build_id"`
	ConfigHash digest.Digest `json:"config_hash"`
	Files      []fileEntry   `json:"files"`
}

func (c *run) run(ctx context.Context, w io.Writer) error {
	if c.task == "" {
		return fmt.Errorf("missing -task: %w", flag.ErrHelp)
	}
	var filter digest.Digest
	if c.digestStr != "" {
		var err error
		filter, err = digest.Parse(c.digestStr)
		if err != nil {
			return err
		}
	}
	if c.stateDir == "" {
		return fmt.Errorf("empty -state_dir: %w", flag.ErrHelp)
	}
	fname := incremental.NewRegistry(c.stateDir).StateFile(c.task)
	st, err := incremental.LoadFile(ctx, fname)
	if err != nil {
		return fmt.Errorf("failed to load %s for %q: %w", fname, c.task, err)
	}
	entry := toEntry(st, filter)
	switch c.format {
	case "json":
		buf, err := json.MarshalIndent(entry, "", " ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", buf)
		return err
	case "text":
		return printText(w, entry)
	default:
		return fmt.Errorf("unknown format %q: %w", c.format, flag.ErrHelp)
	}
}

func toEntry(st *incremental.CompilationState, filter digest.Digest) stateEntry {
	entry := stateEntry{
		BuildID:    st.BuildID,
		ConfigHash: st.ConfigHash,
	}
	for _, fname := range st.Files() {
		fst := st.State(fname)
		fe := fileEntry{
			Name:          fname,
			Source:        st.IsSource(fname),
			Hash:          fst.Hash,
			HasUnresolved: fst.HasUnresolved,
		}
		for _, e := range fst.Edges {
			if !filter.IsZero() && e.Hash != filter {
				continue
			}
			fe.Edges = append(fe.Edges, edgeEntry{
				IncludedBy:  e.IncludedBy,
				IncludePath: e.IncludePath,
				File:        e.File,
				Hash:        e.Hash,
			})
		}
		if !filter.IsZero() && fst.Hash != filter && len(fe.Edges) == 0 {
			continue
		}
		entry.Files = append(entry.Files, fe)
	}
	return entry
}

func printText(w io.Writer, entry stateEntry) error {
	_, err := fmt.Fprintf(w, "build_id: %s\nconfig_hash: %s\n", entry.BuildID, entry.ConfigHash)
	if err != nil {
		return err
	}
	for _, fe := range entry.Files {
		kind := "header"
		if fe.Source {
			kind = "source"
		}
		unresolved := ""
		if fe.HasUnresolved {
			unresolved = " unresolved"
		}
		_, err = fmt.Fprintf(w, "%s %s %s%s\n", kind, fe.Name, fe.Hash, unresolved)
		if err != nil {
			return err
		}
		for _, e := range fe.Edges {
			_, err = fmt.Fprintf(w, "  %s: %s -> %s %s\n", e.IncludedBy, e.IncludePath, e.File, e.Hash)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
