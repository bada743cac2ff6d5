// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package scandeps

import (
	"strings"
)

// ExprKind is a kind of Expression.
type ExprKind int

const (
	// ExprOther is an expression that can't be used as include path,
	// e.g. arithmetic or multiple tokens. Value holds the raw text.
	ExprOther ExprKind = iota
	// ExprQuoted is a `"path"` literal. Value holds the path.
	ExprQuoted
	// ExprSystem is a `<path>` literal. Value holds the path.
	ExprSystem
	// ExprIdentifier is a reference to a macro or a macro parameter.
	ExprIdentifier
	// ExprCall is a function-like macro invocation. Value holds the
	// macro name and Args holds the arguments.
	ExprCall
	// ExprPaste is token concatenation `a ## b`. Args holds the operands.
	ExprPaste
	// ExprStringize is `#a` in a function-like macro body. Args[0] is the operand.
	ExprStringize
)

func (k ExprKind) String() string {
	switch k {
	case ExprQuoted:
		return "quoted"
	case ExprSystem:
		return "system"
	case ExprIdentifier:
		return "identifier"
	case ExprCall:
		return "call"
	case ExprPaste:
		return "paste"
	case ExprStringize:
		return "stringize"
	}
	return "other"
}

// Expression is a macro value or include operand.
// It only models what is needed to compute include paths.
type Expression struct {
	Kind  ExprKind
	Value string
	Args  []Expression
}

// IsLiteral returns true if the expression is a `"path"` or `<path>`.
func (e Expression) IsLiteral() bool {
	return e.Kind == ExprQuoted || e.Kind == ExprSystem
}

// String returns the expression as source text.
func (e Expression) String() string {
	switch e.Kind {
	case ExprQuoted:
		return `"` + e.Value + `"`
	case ExprSystem:
		return "<" + e.Value + ">"
	case ExprIdentifier:
		return e.Value
	case ExprCall:
		args := make([]string, 0, len(e.Args))
		for _, a := range e.Args {
			args = append(args, a.String())
		}
		return e.Value + "(" + strings.Join(args, ", ") + ")"
	case ExprPaste:
		ops := make([]string, 0, len(e.Args))
		for _, a := range e.Args {
			ops = append(ops, a.String())
		}
		return strings.Join(ops, " ## ")
	case ExprStringize:
		if len(e.Args) == 0 {
			return "#"
		}
		return "#" + e.Args[0].String()
	}
	return e.Value
}

// ParseExpression parses the first expression in s.
// Tokens after the expression are ignored, as a compiler would warn
// about extra tokens after an include operand.
func ParseExpression(s string) Expression {
	p := &exprParser{s: s}
	return p.parse()
}

// ParseMacroBody parses s as a macro body.
// The body must be a single expression; otherwise it is ExprOther.
func ParseMacroBody(s string) Expression {
	s = strings.TrimSpace(s)
	p := &exprParser{s: s}
	e := p.parse()
	p.skipSpaces()
	if !p.eof() {
		return Expression{Kind: ExprOther, Value: s}
	}
	return e
}

type exprParser struct {
	s   string
	pos int
}

func (p *exprParser) eof() bool {
	return p.pos >= len(p.s)
}

func (p *exprParser) skipSpaces() {
	for !p.eof() && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) rest() Expression {
	v := strings.TrimSpace(p.s[p.pos:])
	p.pos = len(p.s)
	return Expression{Kind: ExprOther, Value: v}
}

func (p *exprParser) parse() Expression {
	e := p.primary()
	for {
		save := p.pos
		p.skipSpaces()
		if !strings.HasPrefix(p.s[p.pos:], "##") {
			p.pos = save
			return e
		}
		p.pos += 2
		p.skipSpaces()
		rhs := p.primary()
		if e.Kind == ExprPaste {
			e.Args = append(e.Args, rhs)
			continue
		}
		e = Expression{Kind: ExprPaste, Args: []Expression{e, rhs}}
	}
}

func (p *exprParser) primary() Expression {
	p.skipSpaces()
	if p.eof() {
		return Expression{Kind: ExprOther}
	}
	switch c := p.s[p.pos]; {
	case c == '"':
		end := quoteEnd(p.s, p.pos, '"')
		if end < 0 {
			return p.rest()
		}
		v := p.s[p.pos+1 : end]
		p.pos = end + 1
		return Expression{Kind: ExprQuoted, Value: v}
	case c == '<':
		end := strings.IndexByte(p.s[p.pos+1:], '>')
		if end < 0 {
			return p.rest()
		}
		v := p.s[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
		return Expression{Kind: ExprSystem, Value: v}
	case c == '#' && !strings.HasPrefix(p.s[p.pos:], "##"):
		p.pos++
		p.skipSpaces()
		name := p.identifier()
		if name == "" {
			return p.rest()
		}
		return Expression{Kind: ExprStringize, Args: []Expression{{Kind: ExprIdentifier, Value: name}}}
	case isIdentStart(c):
		start := p.pos
		name := p.identifier()
		save := p.pos
		p.skipSpaces()
		if p.eof() || p.s[p.pos] != '(' {
			p.pos = save
			return Expression{Kind: ExprIdentifier, Value: name}
		}
		args, ok := p.args()
		if !ok {
			p.pos = start
			return p.rest()
		}
		return Expression{Kind: ExprCall, Value: name, Args: args}
	}
	return p.rest()
}

func (p *exprParser) identifier() string {
	start := p.pos
	if p.eof() || !isIdentStart(p.s[p.pos]) {
		return ""
	}
	for !p.eof() && isIdentChar(p.s[p.pos]) {
		p.pos++
	}
	return p.s[start:p.pos]
}

// args parses `(a, b, ...)` at p.pos.
func (p *exprParser) args() ([]Expression, bool) {
	// p.s[p.pos] == '('
	depth := 0
	start := p.pos + 1
	var args []Expression
	for i := p.pos; i < len(p.s); i++ {
		switch c := p.s[i]; c {
		case '"', '\'':
			end := quoteEnd(p.s, i, c)
			if end < 0 {
				return nil, false
			}
			i = end
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				arg := strings.TrimSpace(p.s[start:i])
				if arg != "" || len(args) > 0 {
					args = append(args, ParseMacroBody(arg))
				}
				p.pos = i + 1
				return args, true
			}
		case ',':
			if depth == 1 {
				args = append(args, ParseMacroBody(p.s[start:i]))
				start = i + 1
			}
		}
	}
	return nil, false
}

// quoteEnd returns index of closing quote q for the literal starting at s[i],
// or -1 if it is not closed.
func quoteEnd(s string, i int, q byte) int {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j
		}
	}
	return -1
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// replaceIdentifiers replaces identifier tokens in s found in repl.
// string and char literals are kept as is.
func replaceIdentifiers(s string, repl map[string]string) string {
	var sb strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '"' || c == '\'':
			end := quoteEnd(s, i, c)
			if end < 0 {
				sb.WriteString(s[i:])
				return sb.String()
			}
			sb.WriteString(s[i : end+1])
			i = end + 1
		case isIdentStart(c):
			j := i
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			if v, ok := repl[s[i:j]]; ok {
				sb.WriteString(v)
			} else {
				sb.WriteString(s[i:j])
			}
			i = j
		case c >= '0' && c <= '9':
			// pp-number such as 1st or 0x1f is not an identifier.
			j := i
			for j < len(s) && (isIdentChar(s[j]) || s[j] == '.') {
				j++
			}
			sb.WriteString(s[i:j])
			i = j
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}
