package inject

import (
	"go/ast"
	"go/parser"
	"go/token"
)

// Target is a parsed file together with the function declaration being
// rewritten. Splicing mutates Decl in place.
type Target struct {
	Fset     *token.FileSet
	File     *ast.File
	Decl     *ast.FuncDecl
	Filename string
}

const parseMode = parser.ParseComments | parser.SkipObjectResolution

// ParseTarget parses src and locates the declaration of name, which is either
// a plain function name or "Recv.Method".
func ParseTarget(fset *token.FileSet, filename string, src []byte, name string) (*Target, error) {
	f, err := parser.ParseFile(fset, filename, src, parseMode)
	if err != nil {
		return nil, stageErr(Parsed, name, ErrParse, "%v", err)
	}
	decl := findFunc(f, name)
	if decl == nil {
		return nil, stageErr(Parsed, name, ErrParse, "no declaration in %s", filename)
	}
	if decl.Body == nil {
		return nil, stageErr(Parsed, name, ErrParse, "declaration has no body")
	}
	return &Target{Fset: fset, File: f, Decl: decl, Filename: filename}, nil
}

// Spans reports whether line falls inside the declaration.
func (t *Target) Spans(line int) bool {
	from := t.Fset.Position(t.Decl.Pos()).Line
	to := t.Fset.Position(t.Decl.End()).Line
	return line >= from && line <= to
}

func findFunc(f *ast.File, name string) *ast.FuncDecl {
	for _, d := range f.Decls {
		if fd, ok := d.(*ast.FuncDecl); ok && funcKey(fd) == name {
			return fd
		}
	}
	return nil
}

// funcKey is "Name" for functions and "Recv.Name" for methods.
func funcKey(fd *ast.FuncDecl) string {
	if fd.Recv == nil || len(fd.Recv.List) == 0 {
		return fd.Name.Name
	}
	return recvName(fd.Recv.List[0].Type) + "." + fd.Name.Name
}

func recvName(x ast.Expr) string {
	switch t := x.(type) {
	case *ast.StarExpr:
		return recvName(t.X)
	case *ast.ParenExpr:
		return recvName(t.X)
	case *ast.IndexExpr:
		return recvName(t.X)
	case *ast.IndexListExpr:
		return recvName(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}
