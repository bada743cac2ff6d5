// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package gccutil provides utilities for gcc/clang command lines.
package gccutil

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// CommandLine is the part of a gcc/clang command line that affects
// include dependencies.
type CommandLine struct {
	// Sources are C/C++/Objective-C sources in the command line.
	Sources []string

	// QuoteDirs are dirs given by -iquote.
	QuoteDirs []string
	// Dirs are dirs given by -I or --include-directory.
	Dirs []string
	// SystemDirs are dirs given by -isystem.
	SystemDirs []string
	// AfterDirs are dirs given by -idirafter.
	AfterDirs []string

	// Sysroot is given by --sysroot or -isysroot.
	Sysroot string

	// Defines are macros given by -D, minus ones undefined by -U.
	// Value of `-DFOO` is "1".
	Defines map[string]string

	// ForcedIncludes are files given by -include or -imacros.
	ForcedIncludes []string

	// ObjC is true if sources are compiled as Objective-C/C++.
	ObjC bool

	// DepFile is given by -MF.
	DepFile string
}

// IncludeRoots returns include dirs in search order.
// -iquote dirs are searched for angle includes too, which may find more
// headers than the compiler does.
func (c *CommandLine) IncludeRoots() []string {
	var roots []string
	for _, dirs := range [][]string{c.QuoteDirs, c.Dirs, c.SystemDirs, c.AfterDirs} {
		for _, dir := range dirs {
			if !slices.Contains(roots, dir) {
				roots = append(roots, dir)
			}
		}
	}
	return roots
}

// flags that take the next arg as value, and are not relevant here.
var skipValueFlags = map[string]bool{
	"-o":              true,
	"-MT":             true,
	"-MQ":             true,
	"-arch":           true,
	"-target":         true,
	"-Xclang":         true,
	"-include-pch":    true,
	"-main-file-name": true,
}

// ParseCommandLine parses args and returns include dependency
// parameters. args[0] is the compiler.
// It only parses major command line flags.
// full set of command line flags for include dirs can be found in
// https://clang.llvm.org/docs/ClangCommandLineReference.html#include-path-management
func ParseCommandLine(args []string) (*CommandLine, error) {
	c := &CommandLine{
		Defines: make(map[string]string),
	}
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") && !isSource(args[0]) {
		args = args[1:]
	}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		value := func(flag string) (string, error) {
			if v, ok := strings.CutPrefix(arg, flag); ok && v != "" {
				if strings.HasPrefix(flag, "--") {
					// --flag=value
					v = strings.TrimPrefix(v, "=")
				}
				return v, nil
			}
			i++
			if i >= len(args) {
				return "", fmt.Errorf("missing argument for %s", flag)
			}
			return args[i], nil
		}
		if skipValueFlags[arg] {
			i++
			continue
		}
		var err error
		var v string
		switch {
		case arg == "-x":
			v, err = value("-x")
			if strings.HasPrefix(v, "objective-c") {
				c.ObjC = true
			}
		case arg == "-ObjC", arg == "-ObjC++":
			c.ObjC = true
		case strings.HasPrefix(arg, "-MF"):
			c.DepFile, err = value("-MF")
		case strings.HasPrefix(arg, "--include-directory"):
			v, err = value("--include-directory")
			c.Dirs = append(c.Dirs, v)
		case strings.HasPrefix(arg, "-I"):
			v, err = value("-I")
			c.Dirs = append(c.Dirs, v)
		case strings.HasPrefix(arg, "-iquote"):
			v, err = value("-iquote")
			c.QuoteDirs = append(c.QuoteDirs, v)
		case strings.HasPrefix(arg, "-isystem"):
			v, err = value("-isystem")
			c.SystemDirs = append(c.SystemDirs, v)
		case strings.HasPrefix(arg, "-idirafter"):
			v, err = value("-idirafter")
			c.AfterDirs = append(c.AfterDirs, v)
		case strings.HasPrefix(arg, "--sysroot"):
			c.Sysroot, err = value("--sysroot")
		case strings.HasPrefix(arg, "-isysroot"):
			c.Sysroot, err = value("-isysroot")
		case strings.HasPrefix(arg, "-include-pch"):
			// skip.
		case strings.HasPrefix(arg, "-include"):
			v, err = value("-include")
			c.ForcedIncludes = append(c.ForcedIncludes, v)
		case strings.HasPrefix(arg, "-imacros"):
			v, err = value("-imacros")
			c.ForcedIncludes = append(c.ForcedIncludes, v)
		case strings.HasPrefix(arg, "-D"):
			v, err = value("-D")
			defineMacro(c.Defines, v)
		case strings.HasPrefix(arg, "-U"):
			v, err = value("-U")
			delete(c.Defines, v)
		case !strings.HasPrefix(arg, "-"):
			if isSource(arg) {
				c.Sources = append(c.Sources, arg)
				switch filepath.Ext(arg) {
				case ".m", ".mm":
					c.ObjC = true
				}
			}
		}
		if err != nil {
			return nil, err
		}
	}
	if c.Sysroot != "" {
		for _, dirs := range [][]string{c.QuoteDirs, c.Dirs, c.SystemDirs, c.AfterDirs} {
			for i, dir := range dirs {
				// "=dir" is relative to sysroot.
				if rest, ok := strings.CutPrefix(dir, "="); ok {
					dirs[i] = filepath.ToSlash(filepath.Join(c.Sysroot, rest))
				}
			}
		}
	}
	return c, nil
}

func isSource(arg string) bool {
	switch filepath.Ext(arg) {
	case ".c", ".cc", ".cxx", ".cpp", ".c++", ".m", ".mm", ".S":
		return true
	}
	return false
}

func defineMacro(defines map[string]string, arg string) {
	// arg: macro=value
	macro, value, ok := strings.Cut(arg, "=")
	if !ok {
		// just `-D MACRO`
		defines[macro] = "1"
		return
	}
	defines[macro] = value
}
