// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package checkdeps is checkdeps subcommand to check tracked header
// graph against compiler's depfile.
package checkdeps

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"

	"go.chromium.org/infra/build/ccdeps/incremental"
	"go.chromium.org/infra/build/ccdeps/toolsupport/makeutil"
)

const usage = `check tracked header graph against depfile

 $ ccdeps checkdeps -C <dir> -task <name> -depfile <x.o.d> [-source <x.cc>]

It prints headers in the depfile that are missing in the
header graph tracked for the task, and exits with 1 if any.
`

var errMissingDeps = errors.New("missing deps")

// Cmd returns the Command for the `checkdeps` subcommand provided by this package.
func Cmd() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "checkdeps -task <name> -depfile <depfile>",
		ShortDesc: "check tracked header graph against depfile",
		LongDesc:  usage,
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

	dir        string
	stateDir   string
	task       string
	depfile    string
	source     string
	includeAbs bool
}

func (c *run) init() {
	c.Flags.StringVar(&c.dir, "C", ".", "directory the task ran in")
	c.Flags.StringVar(&c.stateDir, "state_dir", ".ccdeps", "directory of states")
	c.Flags.StringVar(&c.task, "task", "", "name of the compile task")
	c.Flags.StringVar(&c.depfile, "depfile", "", "depfile generated by compiler, e.g. by -MD")
	c.Flags.StringVar(&c.source, "source", "", "source of the depfile. all sources of the task if empty")
	c.Flags.BoolVar(&c.includeAbs, "include_abs", false, "check absolute paths in depfile too, e.g. system headers")
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
		switch {
		case errors.Is(err, flag.ErrHelp):
			fmt.Fprintf(os.Stderr, "%v\n%s\n", err, usage)
			return 2
		default:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func (c *run) run(ctx context.Context, w io.Writer) error {
	if c.task == "" || c.depfile == "" || c.stateDir == "" {
		return fmt.Errorf("-state_dir, -task and -depfile are required: %w", flag.ErrHelp)
	}
	fname := incremental.NewRegistry(c.stateDir).StateFile(c.task)
	st, err := incremental.LoadFile(ctx, fname)
	if err != nil {
		return fmt.Errorf("failed to load %s for %q: %w", fname, c.task, err)
	}
	deps, err := makeutil.ParseDepsFile(ctx, c.depfile)
	if err != nil {
		return err
	}
	sources := st.Sources()
	if c.source != "" {
		src := filepath.Clean(c.source)
		if !st.IsSource(src) {
			return fmt.Errorf("%s is not a source of %q", c.source, c.task)
		}
		sources = []string{src}
	}
	tracked := make(map[string]bool)
	for _, src := range sources {
		tracked[src] = true
		for _, e := range st.State(src).Edges {
			tracked[e.File] = true
		}
	}
	log.Debugf("%d files tracked for %q, %d deps in %s", len(tracked), c.task, len(deps), c.depfile)
	missing := 0
	for _, dep := range deps {
		dep = filepath.Clean(dep)
		if filepath.IsAbs(dep) && !c.includeAbs {
			continue
		}
		if tracked[dep] || st.IsSource(dep) {
			continue
		}
		missing++
		_, err := fmt.Fprintf(w, "missing: %s\n", dep)
		if err != nil {
			return err
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d headers in %s: %w", missing, c.depfile, errMissingDeps)
	}
	return nil
}
