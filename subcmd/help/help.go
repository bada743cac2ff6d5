// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package help provides help subcommand.
package help

import (
	"flag"
	"fmt"
	"io"

	"github.com/maruel/subcommands"
)

const longDesc = `Prints commands and global flags, or help about a specific command.
Use -advanced to display all commands, including ones to inspect
persisted states.`

// Cmd returns the Command for the `help` subcommand provided by this package.
func Cmd() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "help [<command>|-advanced]",
		ShortDesc: "prints help about a command",
		LongDesc:  longDesc,
		CommandRun: func() subcommands.CommandRun {
			c := &run{}
			c.Flags.BoolVar(&c.advanced, "advanced", false, "show advanced commands")
			return c
		},
	}
}

type run struct {
	subcommands.CommandRunBase
	advanced bool
}

func (c *run) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if len(args) > 0 {
		// help of the command.
		return subcommands.CmdHelp.CommandRun().Run(a, args, env)
	}
	w := a.GetOut()
	subcommands.Usage(w, a, c.advanced)
	printGlobalFlags(w, flag.CommandLine)
	return 0
}

// printGlobalFlags prints flags given before the command, e.g. -v.
func printGlobalFlags(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Global flags, given before the command:")
	fs.VisitAll(func(f *flag.Flag) {
		fmt.Fprintf(w, "  -%s\n    \t%s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" {
			fmt.Fprintf(w, " (default %q)", f.DefValue)
		}
		fmt.Fprintln(w)
	})
}
