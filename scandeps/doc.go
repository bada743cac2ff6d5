// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package scandeps provides forged C/C++ dependency scanner.
// Compared with a real C preprocessor, it only supports the forms of
// directives needed to find included files.
//
// It checks the following forms of #include
//
//	#include "foo.h"
//	#include <foo.h>
//	#include FOO_H
//	#include FOO(bar)
//	#include_next <foo.h>
//	#import "foo.h"
//
// to support the macro cases, it also collects object-like and
// function-like #define.
//
//	#define FOO_H "foo.h"
//	#define FOO_H <foo.h>
//	#define FOO_H OTHER_FOO_H
//	#define FOO(x) <x.h>
//	#define STR(x) #x
//	#define CAT(a, b) a ## b
//
// Since it doesn't process `#if` or `#ifdef`, it expands all possible
// values of macros for `#include FOO_H`.  Using extra inputs is
// not problem; an include that can't be expanded or found is reported
// as incomplete, and callers treat it conservatively.
//
// Comments and continuation lines are handled before directives
// are recognized.
package scandeps
