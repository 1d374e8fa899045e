package inject

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/tools/go/ast/astutil"

	"typeinject/typeassert"
)

// Request asks RewriteFile to check a declaration that carries no marker.
type Request struct {
	Func  string // "Name" or "Recv.Method"
	Types []typeassert.Descriptor
}

// FileOptions configures RewriteFile.
type FileOptions struct {
	Marker   string
	Requests []Request
	// Observer, when set, sees the parse of the file (Parsed) and the splice
	// of each rewritten declaration (Spliced).
	Observer Observer
}

// FuncRewrite reports one rewritten declaration.
type FuncRewrite struct {
	Func       string
	Line       int
	Assertions []Assertion
}

// FileRewrite is the result of rewriting one file. Source is nil when no
// declaration was touched.
type FileRewrite struct {
	Filename  string
	Functions []FuncRewrite
	Source    []byte
}

func (r *FileRewrite) Changed() bool { return len(r.Functions) > 0 }

// RewriteFile splices assertion blocks into every declaration of src that
// carries the marker directive, and into the declarations named by
// opts.Requests. Markers are consumed, so rewriting the output again is a
// no-op. The printed file starts with a //line directive naming filename.
func RewriteFile(filename string, src []byte, opts FileOptions) (*FileRewrite, error) {
	marker := opts.Marker
	if marker == "" {
		marker = DefaultMarker
	}
	observe := func(stage State, start time.Time, err error) {
		if opts.Observer != nil {
			opts.Observer.ObserveStage(stage, time.Since(start), err)
		}
	}

	start := time.Now()
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, src, parseMode)
	if err != nil {
		err = stageErr(Parsed, "", ErrParse, "%v", err)
		observe(Parsed, start, err)
		return nil, err
	}
	observe(Parsed, start, nil)

	requested := map[string][]typeassert.Descriptor{}
	for _, r := range opts.Requests {
		requested[r.Func] = r.Types
	}

	fileImports := importsOf(f)
	out := &FileRewrite{Filename: filename}
	qualifiers := map[string]bool{}
	imports := map[string]string{}
	for _, d := range f.Decls {
		fd, ok := d.(*ast.FuncDecl)
		if !ok || fd.Body == nil {
			continue
		}
		key := funcKey(fd)
		dir, err := FindDirective(fd, marker)
		if err != nil {
			return nil, stageErr(Parsed, key, ErrParse, "%v", err)
		}
		descs, wanted := requested[key]
		delete(requested, key)
		if dir != nil {
			descs = dir.Types
			StripMarker(f, fd, marker)
		} else if !wanted {
			continue
		}
		start := time.Now()
		sp, err := splice(fd, descs, anchor(fset, f, fd.Body))
		observe(Spliced, start, err)
		if err != nil {
			return nil, err
		}
		out.Functions = append(out.Functions, FuncRewrite{
			Func:       key,
			Line:       fset.Position(fd.Pos()).Line,
			Assertions: sp.Assertions,
		})
		if len(sp.Assertions) > 0 {
			qualifiers[sp.Qualifier] = true
		}
		for local, path := range sp.Imports {
			if path == "" {
				if _, ok := fileImports[local]; !ok {
					return nil, stageErr(Spliced, key, ErrParse, "package %q is not imported by %s", local, filename)
				}
				continue
			}
			imports[local] = path
		}
	}
	if len(requested) > 0 {
		missing := slices.Sorted(maps.Keys(requested))
		return nil, stageErr(Parsed, strings.Join(missing, ", "), ErrParse, "no declaration in %s", filename)
	}
	if !out.Changed() {
		return out, nil
	}

	for q := range qualifiers {
		addImport(fset, f, q, typeassert.ImportPath)
	}
	for local, path := range imports {
		addImport(fset, f, local, path)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "//line %s:1\n", filename)
	if err := printConfig.Fprint(&buf, fset, f); err != nil {
		return nil, stageErr(Spliced, "", ErrInternal, "print %s: %v", filename, err)
	}
	out.Source = buf.Bytes()
	return out, nil
}

func addImport(fset *token.FileSet, f *ast.File, local, path string) {
	if local == defaultName(path) {
		astutil.AddImport(fset, f, path)
		return
	}
	astutil.AddNamedImport(fset, f, local, path)
}
