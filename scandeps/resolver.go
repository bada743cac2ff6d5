// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package scandeps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"go.chromium.org/infra/build/ccdeps/digest"
	"go.chromium.org/infra/build/ccdeps/hashfs"
)

// ErrInvalidIncludeRoot is returned when an include root is neither a
// directory nor a header map.
var ErrInvalidIncludeRoot = errors.New("invalid include root")

// maxExpansionDepth bounds nested macro expansion.
const maxExpansionDepth = 64

// Option is an option of Resolver.
type Option struct {
	// IncludeRoots are include directories or *.hmap files in search order.
	IncludeRoots []string

	// ImportAware is true if #import should be followed.
	ImportAware bool
}

// IncludeFile is a file an include resolved to.
type IncludeFile struct {
	// Quoted is true if it was found by quoted include.
	Quoted bool
	// Include is the include path, e.g. "base/foo.h".
	Include string
	// Path is the file path.
	Path   string
	Digest digest.Digest
}

// IncludeResolutionResult is a result of include resolution.
type IncludeResolutionResult struct {
	// Complete is false if some candidate could not be resolved.
	Complete bool
	// Files are resolved files, without duplicates.
	Files []IncludeFile
}

type includeRoot struct {
	path string
	hmap HeaderMap
}

// Resolver resolves includes on include roots.
// It is safe for concurrent use.
type Resolver struct {
	hfs   *hashfs.HashFS
	roots []includeRoot
	opt   Option
}

// NewResolver creates a resolver for include roots in opt.
// Each root must be an existing directory or a *.hmap file.
func NewResolver(ctx context.Context, hfs *hashfs.HashFS, opt Option) (*Resolver, error) {
	r := &Resolver{
		hfs: hfs,
		opt: opt,
	}
	for _, root := range opt.IncludeRoots {
		root = filepath.Clean(root)
		fi, err := hfs.Stat(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("include root %s: %w", root, err)
		}
		switch {
		case !fi.Exists:
			return nil, fmt.Errorf("include root %s not found: %w", root, ErrInvalidIncludeRoot)
		case fi.IsDir:
			r.roots = append(r.roots, includeRoot{path: root})
		case strings.HasSuffix(root, ".hmap"):
			buf, _, err := hfs.ReadFile(ctx, root)
			if err != nil {
				return nil, fmt.Errorf("include root %s: %w", root, err)
			}
			hmap, err := ParseHeaderMap(ctx, buf)
			if err != nil {
				return nil, fmt.Errorf("include root %s: %v: %w", root, err, ErrInvalidIncludeRoot)
			}
			r.roots = append(r.roots, includeRoot{path: root, hmap: hmap})
		default:
			return nil, fmt.Errorf("include root %s is not a directory: %w", root, ErrInvalidIncludeRoot)
		}
	}
	return r, nil
}

// ImportAware reports whether #import is followed.
func (r *Resolver) ImportAware() bool {
	return r.opt.ImportAware
}

// ResolveIncludePath resolves literal include path for sourceFile.
// It returns nil if not found.
func (r *Resolver) ResolveIncludePath(ctx context.Context, sourceFile, path string, quoted bool) (*IncludeFile, error) {
	return r.resolvePath(ctx, sourceFile, path, quoted, false)
}

// ResolveInclude resolves include in sourceFile.
// Macros in include are expanded with lookup, and every candidate found
// is returned. Only I/O errors are returned as error.
func (r *Resolver) ResolveInclude(ctx context.Context, sourceFile string, include Include, lookup MacroLookup) (IncludeResolutionResult, error) {
	var cands []Expression
	complete := true
	switch include.Type {
	case QuotedInclude, SystemInclude:
		cands = []Expression{include.Expr}
	case MacroInclude, MacroFunctionInclude:
		x := &expander{lookup: lookup, visiting: make(map[string]bool)}
		cands, complete = x.expand(include.Expr, 0)
		if log.GetLevel() <= log.DebugLevel {
			log.Debugf("expand %s in %s -> %q complete=%t", include.Value, sourceFile, cands, complete)
		}
	default:
		return IncludeResolutionResult{}, nil
	}
	result := IncludeResolutionResult{Complete: complete}
	seen := make(map[string]bool)
	for _, c := range cands {
		if !c.IsLiteral() {
			result.Complete = false
			continue
		}
		f, err := r.resolvePath(ctx, sourceFile, c.Value, c.Kind == ExprQuoted, include.Next)
		if err != nil {
			return IncludeResolutionResult{}, err
		}
		if f == nil {
			log.Debugf("%s: %s not found", sourceFile, c)
			result.Complete = false
			continue
		}
		if seen[f.Path] {
			continue
		}
		seen[f.Path] = true
		result.Files = append(result.Files, *f)
	}
	return result, nil
}

func (r *Resolver) resolvePath(ctx context.Context, sourceFile, path string, quoted, next bool) (*IncludeFile, error) {
	if path == "" {
		return nil, nil
	}
	if filepath.IsAbs(path) {
		return r.check(ctx, path, path, quoted)
	}
	roots := r.roots
	if next {
		roots = r.rootsAfter(sourceFile)
	} else if quoted {
		f, err := r.check(ctx, filepath.Join(filepath.Dir(sourceFile), path), path, true)
		if f != nil || err != nil {
			return f, err
		}
	}
	for _, root := range roots {
		fname := filepath.Join(root.path, path)
		if root.hmap != nil {
			v, ok := root.hmap.Lookup(path)
			if !ok {
				continue
			}
			fname = v
			if !filepath.IsAbs(fname) {
				fname = filepath.Join(filepath.Dir(root.path), fname)
			}
		}
		f, err := r.check(ctx, fname, path, quoted)
		if f != nil || err != nil {
			return f, err
		}
	}
	return nil, nil
}

// rootsAfter returns roots after the one sourceFile is found in.
// If sourceFile is not under any root, all roots are returned.
func (r *Resolver) rootsAfter(sourceFile string) []includeRoot {
	dir := filepath.Dir(filepath.Clean(sourceFile))
	found := -1
	longest := -1
	for i, root := range r.roots {
		if root.hmap != nil {
			continue
		}
		if dir != root.path && !strings.HasPrefix(dir, root.path+string(os.PathSeparator)) {
			continue
		}
		if len(root.path) > longest {
			found, longest = i, len(root.path)
		}
	}
	return r.roots[found+1:]
}

func (r *Resolver) check(ctx context.Context, fname, path string, quoted bool) (*IncludeFile, error) {
	fi, err := r.hfs.Stat(ctx, fname)
	if err != nil {
		return nil, err
	}
	if !fi.IsRegular() {
		return nil, nil
	}
	return &IncludeFile{
		Quoted:  quoted,
		Include: path,
		Path:    fi.Name,
		Digest:  fi.Digest,
	}, nil
}

// maxArgCombinations bounds the number of expanded argument lists
// a function-like macro is applied to.
const maxArgCombinations = 64

// expander expands macro expressions to include path candidates.
type expander struct {
	lookup   MacroLookup
	visiting map[string]bool
}

// expand returns all fully replaced forms of e.
// A form that is not a literal could not be expanded to an include path.
// complete is false if some branch was cut off.
func (x *expander) expand(e Expression, depth int) (cands []Expression, complete bool) {
	if depth > maxExpansionDepth {
		return []Expression{e}, false
	}
	switch e.Kind {
	case ExprIdentifier:
		if x.visiting[e.Value] {
			log.Debugf("macro cycle at %s", e.Value)
			return []Expression{e}, true
		}
		macros := LookupMacros(x.lookup, e.Value)
		if len(macros) == 0 {
			return []Expression{e}, true
		}
		x.visiting[e.Value] = true
		defer delete(x.visiting, e.Value)
		complete = true
		for _, m := range macros {
			c, ok := x.expand(m.Expr, depth+1)
			cands = append(cands, c...)
			complete = complete && ok
		}
		return cands, complete

	case ExprCall:
		if x.visiting[e.Value] {
			log.Debugf("macro cycle at %s", e.Value)
			return []Expression{e}, true
		}
		funcs := LookupMacroFunctions(x.lookup, e.Value)
		if len(funcs) == 0 {
			return []Expression{e}, true
		}
		// Arguments are expanded before the macro is disabled.
		var argLists [][]Expression
		argLists, complete = x.expandArgs(e.Args, depth+1)
		x.visiting[e.Value] = true
		defer delete(x.visiting, e.Value)
		applied := false
		for _, f := range funcs {
			raw, ok := bindArgs(f, e.Args)
			if !ok {
				continue
			}
			applied = true
			for _, args := range argLists {
				expanded, _ := bindArgs(f, args)
				c, ok := x.expand(substitute(f.Body, raw, expanded), depth+1)
				cands = append(cands, c...)
				complete = complete && ok
			}
		}
		if !applied {
			return []Expression{e}, complete
		}
		return cands, complete

	case ExprPaste:
		pasted := paste(e.Args, nil)
		if pasted.Kind == ExprOther {
			return []Expression{e}, true
		}
		return x.expand(pasted, depth+1)
	}
	return []Expression{e}, true
}

// expandArgs expands each argument and returns every combination of
// their expanded forms.
func (x *expander) expandArgs(args []Expression, depth int) ([][]Expression, bool) {
	lists := [][]Expression{nil}
	complete := true
	for _, a := range args {
		forms, ok := x.expand(a, depth)
		complete = complete && ok
		forms = uniqueForms(forms)
		if len(lists)*len(forms) > maxArgCombinations {
			log.Debugf("too many argument expansions at %s", a)
			forms = forms[:max(1, maxArgCombinations/len(lists))]
			complete = false
		}
		next := make([][]Expression, 0, len(lists)*len(forms))
		for _, l := range lists {
			for _, f := range forms {
				next = append(next, append(slices.Clip(l), f))
			}
		}
		lists = next
	}
	return lists, complete
}

func uniqueForms(forms []Expression) []Expression {
	seen := make(map[string]bool, len(forms))
	var out []Expression
	for _, f := range forms {
		k := f.String()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}

// bindArgs binds args to parameters of f.
func bindArgs(f MacroFunction, args []Expression) (map[string]Expression, bool) {
	params := f.Params
	va, variadic := f.variadic()
	if variadic {
		params = params[:len(params)-1]
	}
	if len(params) == 1 && len(args) == 0 && !variadic {
		// F() passes one empty argument.
		args = []Expression{{Kind: ExprOther}}
	}
	switch {
	case variadic && len(args) < len(params):
		return nil, false
	case !variadic && len(args) != len(params):
		return nil, false
	}
	binds := make(map[string]Expression, len(f.Params))
	for i, p := range params {
		binds[p] = args[i]
	}
	if variadic {
		rest := args[len(params):]
		switch len(rest) {
		case 0:
			binds[va] = Expression{Kind: ExprOther}
		case 1:
			binds[va] = rest[0]
		default:
			vs := make([]string, 0, len(rest))
			for _, a := range rest {
				vs = append(vs, a.String())
			}
			binds[va] = Expression{Kind: ExprOther, Value: strings.Join(vs, ", ")}
		}
	}
	return binds, true
}

// substitute replaces parameters in body.
// Operands of # and ## take raw arguments, others take expanded ones.
func substitute(body Expression, raw, expanded map[string]Expression) Expression {
	if len(raw) == 0 {
		return body
	}
	switch body.Kind {
	case ExprIdentifier:
		if v, ok := expanded[body.Value]; ok {
			return v
		}
		return body
	case ExprSystem:
		// <x.h> in a macro body is not a header-name token, so x is replaced.
		return Expression{Kind: ExprSystem, Value: replaceIdentifiers(body.Value, bindTexts(expanded))}
	case ExprCall:
		e := Expression{Kind: ExprCall, Value: body.Value}
		if v, ok := expanded[body.Value]; ok && v.Kind == ExprIdentifier {
			e.Value = v.Value
		}
		for _, a := range body.Args {
			e.Args = append(e.Args, substitute(a, raw, expanded))
		}
		return e
	case ExprStringize:
		if len(body.Args) == 0 {
			return Expression{Kind: ExprOther}
		}
		if v, ok := raw[body.Args[0].Value]; ok {
			return Expression{Kind: ExprQuoted, Value: v.String()}
		}
		return Expression{Kind: ExprOther, Value: body.String()}
	case ExprPaste:
		return paste(body.Args, raw)
	case ExprOther:
		if body.Value == "" {
			return body
		}
		return ParseMacroBody(replaceIdentifiers(body.Value, bindTexts(expanded)))
	}
	return body
}

// paste concatenates operands. Parameters are replaced by their
// arguments without expansion.
func paste(ops []Expression, binds map[string]Expression) Expression {
	var sb strings.Builder
	for _, op := range ops {
		if op.Kind == ExprIdentifier {
			if v, ok := binds[op.Value]; ok {
				sb.WriteString(v.String())
				continue
			}
		}
		sb.WriteString(op.String())
	}
	return ParseMacroBody(sb.String())
}

func bindTexts(binds map[string]Expression) map[string]string {
	m := make(map[string]string, len(binds))
	for k, v := range binds {
		m[k] = v.String()
	}
	return m
}
