// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package scan is scan subcommand to run an incremental pass.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"

	"go.chromium.org/infra/build/ccdeps/incremental"
	"go.chromium.org/infra/build/ccdeps/toolsupport/gccutil"
)

const usage = `run an incremental pass of a compile task

 $ ccdeps scan -C <dir> -task <name> -- <compiler args>...
 $ ccdeps scan -C <dir> -task <name> -req '<json request>'

It prints sources to recompile, sources removed since the
previous pass, and header files and dirs the task depends on.
<json request> is json string of
go.chromium.org/infra/build/ccdeps/incremental.Request.
Compiler args are merged into the request.
`

// Cmd returns the Command for the `scan` subcommand provided by this package.
func Cmd() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "scan [-C <dir>] -task <name> [-- <compiler args>...]",
		ShortDesc: "run an incremental pass",
		LongDesc:  usage,
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
	task       string
	reqString  string
	jsonOutput bool
	opt        incremental.Option
}

func (c *run) init() {
	c.Flags.StringVar(&c.dir, "C", ".", "directory to run in. paths are relative to it")
	c.Flags.StringVar(&c.task, "task", "", "name of the compile task")
	c.Flags.StringVar(&c.reqString, "req", "", "json format of request")
	c.Flags.BoolVar(&c.jsonOutput, "json", false, "print result in json")
	c.opt.RegisterFlags(&c.Flags)
}

func (c *run) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	err := os.Chdir(c.dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to chdir %s: %v\n", c.dir, err)
		return 1
	}
	err = c.run(ctx, args, os.Stdout)
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

func (c *run) run(ctx context.Context, args []string, w io.Writer) error {
	req, err := c.request(args)
	if err != nil {
		return err
	}
	log.Debugf("request=%#v", req)
	engine, err := incremental.New(c.opt)
	if err != nil {
		return err
	}
	result, err := engine.Run(ctx, req)
	if err != nil {
		return err
	}
	if c.jsonOutput {
		buf, err := json.MarshalIndent(result, "", " ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", buf)
		return err
	}
	return printResult(w, result)
}

// request builds a request from -req and compiler args.
func (c *run) request(args []string) (incremental.Request, error) {
	var req incremental.Request
	if c.reqString != "" {
		err := json.Unmarshal([]byte(c.reqString), &req)
		if err != nil {
			return req, fmt.Errorf("bad -req: %w", err)
		}
	}
	if c.task != "" {
		req.Task = c.task
	}
	if req.Task == "" {
		return req, fmt.Errorf("missing -task: %w", flag.ErrHelp)
	}
	if len(args) > 0 {
		cmdline, err := gccutil.ParseCommandLine(args)
		if err != nil {
			return req, fmt.Errorf("bad compiler args: %w", err)
		}
		req.Sources = append(req.Sources, cmdline.Sources...)
		req.IncludeRoots = append(req.IncludeRoots, cmdline.IncludeRoots()...)
		if len(cmdline.Defines) > 0 && req.Defines == nil {
			req.Defines = make(map[string]string)
		}
		for name, value := range cmdline.Defines {
			req.Defines[name] = value
		}
		req.ForcedIncludes = append(req.ForcedIncludes, cmdline.ForcedIncludes...)
		req.ImportAware = req.ImportAware || cmdline.ObjC
	}
	if len(req.Sources) == 0 {
		return req, fmt.Errorf("no sources: %w", flag.ErrHelp)
	}
	return req, nil
}

func printResult(w io.Writer, result *incremental.Result) error {
	for _, section := range []struct {
		name  string
		files []string
	}{
		{"recompile", result.Compilation.Recompile},
		{"removed", result.Compilation.Removed},
		{"unresolved", result.Compilation.Unresolved},
		{"header", result.Headers.Files},
		{"dir", result.Headers.Dirs},
	} {
		for _, f := range section.files {
			_, err := fmt.Fprintf(w, "%s: %s\n", section.name, f)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
