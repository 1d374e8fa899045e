package inject

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/printer"
	"go/token"
	"maps"
	"slices"
	"strconv"
	"strings"

	"typeinject/typeassert"
)

// Unit is the isolated translation unit a spliced declaration is compiled
// in: package main, the imports the declaration refers to and nothing else.
type Unit struct {
	Name    string
	Fset    *token.FileSet
	Decl    *ast.FuncDecl
	Imports map[string]string // local name -> path
	Origin  string            // declaring file, used for //line attribution
	Line    int
}

var printConfig = &printer.Config{Mode: printer.UseSpaces | printer.TabIndent, Tabwidth: 8}

// NewUnit gathers what the spliced declaration of t needs to compile on its
// own. Package-level identifiers of the declaring file are deliberately not
// carried over.
func NewUnit(t *Target, sp *Splicing) (*Unit, error) {
	name := funcKey(t.Decl)
	if t.Decl.Recv != nil {
		return nil, stageErr(Compiled, name, ErrSourceUnavailable, "methods cannot be rebound")
	}
	fileImports := importsOf(t.File)
	imports := map[string]string{}
	for q := range qualifiers(t.Decl) {
		if path, ok := fileImports[q]; ok {
			imports[q] = path
		}
	}
	for local, path := range sp.Imports {
		if path == "" {
			path = fileImports[local]
		}
		if path == "" {
			return nil, stageErr(Compiled, name, ErrInternal, "package %q is not imported by %s", local, t.Filename)
		}
		imports[local] = path
	}
	if len(sp.Assertions) > 0 {
		imports[sp.Qualifier] = typeassert.ImportPath
	}
	return &Unit{
		Name:    t.Decl.Name.Name,
		Fset:    t.Fset,
		Decl:    t.Decl,
		Imports: imports,
		Origin:  t.Filename,
		Line:    t.Fset.Position(t.Decl.Pos()).Line,
	}, nil
}

// Source prints the unit. The declaration is preceded by a //line directive
// naming the original file; lines after the inserted block drift.
func (u *Unit) Source() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("package main\n")
	if len(u.Imports) > 0 {
		buf.WriteString("\nimport (\n")
		locals := slices.Sorted(maps.Keys(u.Imports))
		for _, local := range locals {
			path := u.Imports[local]
			if local == defaultName(path) {
				fmt.Fprintf(&buf, "\t%q\n", path)
			} else {
				fmt.Fprintf(&buf, "\t%s %q\n", local, path)
			}
		}
		buf.WriteString(")\n")
	}
	fmt.Fprintf(&buf, "\n//line %s:%d\n", u.Origin, u.Line)
	decl := *u.Decl
	decl.Doc = nil
	if err := printConfig.Fprint(&buf, u.Fset, &decl); err != nil {
		return nil, stageErr(Compiled, u.Name, ErrInternal, "print: %v", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// importsOf maps local package names to paths for the named and implicitly
// named imports of f. Blank and dot imports are skipped.
func importsOf(f *ast.File) map[string]string {
	out := map[string]string{}
	for _, spec := range f.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		local := defaultName(path)
		if spec.Name != nil {
			local = spec.Name.Name
		}
		if local == "_" || local == "." {
			continue
		}
		out[local] = path
	}
	return out
}

// defaultName guesses the package name of an import path from its last
// element, skipping a major version suffix ("/v2") and a ".vN" suffix.
func defaultName(path string) string {
	elems := strings.Split(path, "/")
	last := elems[len(elems)-1]
	if len(elems) > 1 && isMajorVersion(last) {
		last = elems[len(elems)-2]
	}
	if i := strings.IndexByte(last, '.'); i > 0 {
		last = last[:i]
	}
	last = strings.TrimPrefix(last, "go-")
	return strings.ReplaceAll(last, "-", "_")
}

func isMajorVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	_, err := strconv.Atoi(s[1:])
	return err == nil
}

// qualifiers returns the identifiers used on the left of a selector inside
// decl; the ones that name imports of the file are the packages it needs.
func qualifiers(decl *ast.FuncDecl) map[string]bool {
	out := map[string]bool{}
	ast.Inspect(decl, func(n ast.Node) bool {
		if sel, ok := n.(*ast.SelectorExpr); ok {
			if id, ok := sel.X.(*ast.Ident); ok {
				out[id.Name] = true
			}
		}
		return true
	})
	return out
}
