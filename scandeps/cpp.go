// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package scandeps

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// CPPScan scans C preprocessor directives for #include/#import/#define in buf.
// Malformed directives never make it fail; it returns an error only when
// ctx is canceled.
func CPPScan(ctx context.Context, fname string, buf []byte) (*IncludeDirectives, error) {
	started := time.Now()

	var includes []Include
	var macros []Macro
	var funcs []MacroFunction
	verbose := log.GetLevel() <= log.DebugLevel
	n := 0
	for line := range logicalLines(buf) {
		n++
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			continue
		}
		// "# include" is valid.
		line = strings.TrimLeft(line[1:], " \t")
		name := line
		i := 0
		for i < len(name) && isIdentChar(name[i]) {
			i++
		}
		name, line = name[:i], line[i:]
		switch name {
		case "include", "include_next", "import":
			if line != "" && line[0] != ' ' && line[0] != '\t' && line[0] != '"' && line[0] != '<' {
				// e.g. "#includex"
				if verbose {
					log.Debugf("skip %s: %q", fname, name+line)
				}
				continue
			}
			inc := ParseInclude(line)
			inc.Next = name == "include_next"
			inc.Import = name == "import"
			if inc.Type == OtherInclude && verbose {
				log.Debugf("unresolvable include in %s: %q", fname, line)
			}
			includes = append(includes, inc)

		case "define":
			if line == "" || (line[0] != ' ' && line[0] != '\t') {
				if verbose {
					log.Debugf("skip %s: %q", fname, name+line)
				}
				continue
			}
			m, f, ok := parseDefine(strings.TrimSpace(line))
			if !ok {
				if verbose {
					log.Debugf("malformed define in %s: %q", fname, line)
				}
				continue
			}
			if f != nil {
				funcs = append(funcs, *f)
				continue
			}
			macros = append(macros, m)

		default:
			// #if, #ifdef, #undef, #pragma etc.
		}
	}
	dur := time.Since(started)
	if dur > time.Second {
		log.Infof("slow cppScan %s %s", fname, dur)
	}
	return NewIncludeDirectives(includes, macros, funcs), nil
}

// parseDefine parses `NAME body` or `NAME(params) body`.
func parseDefine(line string) (Macro, *MacroFunction, bool) {
	if line == "" || !isIdentStart(line[0]) {
		return Macro{}, nil, false
	}
	i := 0
	for i < len(line) && isIdentChar(line[i]) {
		i++
	}
	name := line[:i]
	line = line[i:]
	if strings.HasPrefix(line, "(") {
		j := strings.IndexByte(line, ')')
		if j < 0 {
			return Macro{}, nil, false
		}
		_, params, ok := parseFunctionHead(name + line[:j+1])
		if !ok {
			return Macro{}, nil, false
		}
		return Macro{}, &MacroFunction{
			Name:   name,
			Params: params,
			Body:   ParseMacroBody(line[j+1:]),
		}, true
	}
	if line != "" && line[0] != ' ' && line[0] != '\t' {
		// e.g. `#define FOO"foo.h"`
		line = " " + line
	}
	return Macro{Name: name, Expr: ParseMacroBody(line)}, nil, true
}

// parseFunctionHead parses `NAME(a, b, ...)`.
func parseFunctionHead(s string) (string, []string, bool) {
	i := strings.IndexByte(s, '(')
	if i <= 0 || !strings.HasSuffix(s, ")") {
		return "", nil, false
	}
	name := s[:i]
	for j := range len(name) {
		if !isIdentChar(name[j]) {
			return "", nil, false
		}
	}
	inner := strings.TrimSpace(s[i+1 : len(s)-1])
	if inner == "" {
		return name, nil, true
	}
	var params []string
	for p := range strings.SplitSeq(inner, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			return "", nil, false
		}
		if p != "..." {
			q := strings.TrimSuffix(p, "...")
			for j := range len(q) {
				if !isIdentChar(q[j]) {
					return "", nil, false
				}
			}
		}
		params = append(params, p)
	}
	for _, p := range params[:len(params)-1] {
		if strings.HasSuffix(p, "...") {
			// variadic must be last.
			return "", nil, false
		}
	}
	return name, params, true
}

// logicalLines yields lines of buf with continuation lines joined and
// comments replaced by a space.
func logicalLines(buf []byte) func(yield func(string) bool) {
	return func(yield func(string) bool) {
		var sb strings.Builder
		inBlock := false
		for i := 0; i < len(buf); i++ {
			c := buf[i]
			// line splicing happens before comments are recognized.
			if c == '\\' {
				if n := newlineAt(buf, i+1); n > 0 {
					i += n
					continue
				}
			}
			if inBlock {
				if c == '*' && i+1 < len(buf) && buf[i+1] == '/' {
					inBlock = false
					sb.WriteByte(' ')
					i++
				}
				continue
			}
			switch c {
			case '\n':
				if !yield(sb.String()) {
					return
				}
				sb.Reset()
				continue
			case '/':
				if i+1 < len(buf) {
					switch buf[i+1] {
					case '*':
						inBlock = true
						i++
						continue
					case '/':
						i = lineCommentEnd(buf, i+2) - 1
						continue
					}
				}
			case '"':
				i = literalEnd(buf, i, c, &sb) - 1
				continue
			case '\'':
				// digit separator, e.g. 1'000.
				if sb.Len() > 0 {
					s := sb.String()
					if p := s[len(s)-1]; p >= '0' && p <= '9' {
						break
					}
				}
				i = literalEnd(buf, i, c, &sb) - 1
				continue
			}
			sb.WriteByte(c)
		}
		if sb.Len() > 0 {
			yield(sb.String())
		}
	}
}

// newlineAt returns the length of newline at buf[i:], or 0.
func newlineAt(buf []byte, i int) int {
	switch {
	case i < len(buf) && buf[i] == '\n':
		return 1
	case i+1 < len(buf) && buf[i] == '\r' && buf[i+1] == '\n':
		return 2
	}
	return 0
}

// lineCommentEnd returns the position of the newline that ends the
// line comment starting at i.
func lineCommentEnd(buf []byte, i int) int {
	for ; i < len(buf); i++ {
		switch buf[i] {
		case '\\':
			if n := newlineAt(buf, i+1); n > 0 {
				i += n
			}
		case '\n':
			return i
		}
	}
	return i
}

// literalEnd copies the string or char literal starting at buf[i] to sb,
// and returns the position after it. An unterminated literal ends at the
// end of line.
func literalEnd(buf []byte, i int, q byte, sb *strings.Builder) int {
	sb.WriteByte(buf[i])
	for i++; i < len(buf); i++ {
		c := buf[i]
		switch c {
		case '\\':
			if n := newlineAt(buf, i+1); n > 0 {
				i += n
				continue
			}
			sb.WriteByte(c)
			if i+1 < len(buf) && buf[i+1] != '\n' {
				i++
				sb.WriteByte(buf[i])
			}
			continue
		case '\n':
			return i
		case q:
			sb.WriteByte(c)
			return i + 1
		}
		sb.WriteByte(c)
	}
	return i
}
