// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package scandeps

import (
	"fmt"
	"slices"
	"strings"
)

// IncludeType is a form of include operand.
type IncludeType int

const (
	// OtherInclude is an include that can't be resolved, e.g. malformed operand.
	OtherInclude IncludeType = iota
	// QuotedInclude is `#include "path"`.
	QuotedInclude
	// SystemInclude is `#include <path>`.
	SystemInclude
	// MacroInclude is `#include MACRO`.
	MacroInclude
	// MacroFunctionInclude is `#include MACRO(args)`.
	MacroFunctionInclude
)

func (t IncludeType) String() string {
	switch t {
	case QuotedInclude:
		return "quoted"
	case SystemInclude:
		return "system"
	case MacroInclude:
		return "macro"
	case MacroFunctionInclude:
		return "macro-function"
	}
	return "other"
}

// Include is an include directive.
type Include struct {
	// Value is the include operand as written, e.g. `"foo.h"`, `<foo.h>`, `FOO_H`.
	Value string
	Type  IncludeType
	// Import is true for `#import`.
	Import bool
	// Next is true for `#include_next`.
	Next bool
	// Expr is the parsed operand.
	Expr Expression
}

// IsMacro returns true if the include needs macro expansion.
func (inc Include) IsMacro() bool {
	return inc.Type == MacroInclude || inc.Type == MacroFunctionInclude
}

func (inc Include) String() string {
	directive := "#include"
	switch {
	case inc.Import:
		directive = "#import"
	case inc.Next:
		directive = "#include_next"
	}
	return fmt.Sprintf("%s %s", directive, inc.Value)
}

// ParseInclude parses an include operand, e.g. `"foo.h"` or `FOO(bar)`.
func ParseInclude(operand string) Include {
	operand = strings.TrimSpace(operand)
	expr := ParseExpression(operand)
	inc := Include{
		Value: expr.String(),
		Expr:  expr,
	}
	switch expr.Kind {
	case ExprQuoted:
		inc.Type = QuotedInclude
	case ExprSystem:
		inc.Type = SystemInclude
	case ExprIdentifier, ExprPaste:
		inc.Type = MacroInclude
	case ExprCall:
		inc.Type = MacroFunctionInclude
	default:
		inc.Type = OtherInclude
		inc.Value = operand
	}
	return inc
}

// Macro is an object-like macro definition.
type Macro struct {
	Name string
	Expr Expression
}

func (m Macro) String() string {
	return fmt.Sprintf("#define %s %s", m.Name, m.Expr)
}

// MacroFunction is a function-like macro definition.
type MacroFunction struct {
	Name   string
	Params []string
	Body   Expression
}

func (m MacroFunction) String() string {
	return fmt.Sprintf("#define %s(%s) %s", m.Name, strings.Join(m.Params, ", "), m.Body)
}

// variadic returns the name of the variadic parameter binding, if any.
func (m MacroFunction) variadic() (string, bool) {
	if len(m.Params) == 0 {
		return "", false
	}
	last := m.Params[len(m.Params)-1]
	switch {
	case last == "...":
		return "__VA_ARGS__", true
	case strings.HasSuffix(last, "..."):
		return strings.TrimSuffix(last, "..."), true
	}
	return "", false
}

// IncludeDirectives is include and macro directives of a file.
// It is immutable once created and may be shared between goroutines.
type IncludeDirectives struct {
	includes       []Include
	macros         []Macro
	macroFunctions []MacroFunction

	macroIndex    map[string][]int
	functionIndex map[string][]int

	hasMacroIncludes bool
	hasImports       bool
}

// EmptyDirectives has no directives.
var EmptyDirectives = NewIncludeDirectives(nil, nil, nil)

// NewIncludeDirectives creates IncludeDirectives.
func NewIncludeDirectives(includes []Include, macros []Macro, macroFunctions []MacroFunction) *IncludeDirectives {
	d := &IncludeDirectives{
		includes:       includes,
		macros:         macros,
		macroFunctions: macroFunctions,
		macroIndex:     make(map[string][]int),
		functionIndex:  make(map[string][]int),
	}
	for i, m := range macros {
		d.macroIndex[m.Name] = append(d.macroIndex[m.Name], i)
	}
	for i, m := range macroFunctions {
		d.functionIndex[m.Name] = append(d.functionIndex[m.Name], i)
	}
	for _, inc := range includes {
		if inc.IsMacro() {
			d.hasMacroIncludes = true
		}
		if inc.Import {
			d.hasImports = true
		}
	}
	return d
}

// Includes returns include directives in the order of appearance.
func (d *IncludeDirectives) Includes() []Include { return d.includes }

// Macros returns object-like macro definitions in the order of appearance.
func (d *IncludeDirectives) Macros() []Macro { return d.macros }

// MacroFunctions returns function-like macro definitions in the order of appearance.
func (d *IncludeDirectives) MacroFunctions() []MacroFunction { return d.macroFunctions }

// MacrosNamed returns object-like macro definitions of name.
func (d *IncludeDirectives) MacrosNamed(name string) []Macro {
	idx := d.macroIndex[name]
	if len(idx) == 0 {
		return nil
	}
	ms := make([]Macro, 0, len(idx))
	for _, i := range idx {
		ms = append(ms, d.macros[i])
	}
	return ms
}

// MacroFunctionsNamed returns function-like macro definitions of name.
func (d *IncludeDirectives) MacroFunctionsNamed(name string) []MacroFunction {
	idx := d.functionIndex[name]
	if len(idx) == 0 {
		return nil
	}
	ms := make([]MacroFunction, 0, len(idx))
	for _, i := range idx {
		ms = append(ms, d.macroFunctions[i])
	}
	return ms
}

// HasMacros returns true if it has object-like macro definitions.
func (d *IncludeDirectives) HasMacros() bool { return len(d.macros) > 0 }

// HasMacroFunctions returns true if it has function-like macro definitions.
func (d *IncludeDirectives) HasMacroFunctions() bool { return len(d.macroFunctions) > 0 }

// HasMacroIncludes returns true if any include needs macro expansion.
func (d *IncludeDirectives) HasMacroIncludes() bool { return d.hasMacroIncludes }

// defines reports whether d has any definition of name.
func (d *IncludeDirectives) defines(name string) bool {
	return len(d.macroIndex[name]) > 0 || len(d.functionIndex[name]) > 0
}

// DiscardImports returns directives without `#import`.
func (d *IncludeDirectives) DiscardImports() *IncludeDirectives {
	if !d.hasImports {
		return d
	}
	includes := make([]Include, 0, len(d.includes))
	for _, inc := range d.includes {
		if inc.Import {
			continue
		}
		includes = append(includes, inc)
	}
	return NewIncludeDirectives(includes, d.macros, d.macroFunctions)
}

// DefinesDirectives returns directives for command line defines,
// e.g. {"FOO_H": `"foo.h"`} for `-DFOO_H="foo.h"`.
// A define with empty value is defined with no usable value.
func DefinesDirectives(defines map[string]string) *IncludeDirectives {
	if len(defines) == 0 {
		return EmptyDirectives
	}
	names := make([]string, 0, len(defines))
	for name := range defines {
		names = append(names, name)
	}
	slices.Sort(names)
	var macros []Macro
	var funcs []MacroFunction
	for _, name := range names {
		value := defines[name]
		if fname, params, ok := parseFunctionHead(name); ok {
			funcs = append(funcs, MacroFunction{Name: fname, Params: params, Body: ParseMacroBody(value)})
			continue
		}
		macros = append(macros, Macro{Name: name, Expr: ParseMacroBody(value)})
	}
	return NewIncludeDirectives(nil, macros, funcs)
}
