package inject

import (
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"testing"

	"typeinject/typeassert"
)

// typeassertStub declares the part of typeassert that rewritten code calls.
const typeassertStub = `package typeassert

type MismatchError struct{ Arg, Expected, Received string }

func (e *MismatchError) Error() string { return e.Arg }

func Mismatch(arg, expected string, got any) *MismatchError { return nil }
`

type stubImporter struct {
	fset *token.FileSet
	std  types.Importer
	stub *types.Package
}

func (s *stubImporter) Import(path string) (*types.Package, error) {
	if path != typeassert.ImportPath {
		return s.std.Import(path)
	}
	if s.stub == nil {
		f, err := parser.ParseFile(s.fset, "typeassert.go", typeassertStub, 0)
		if err != nil {
			return nil, err
		}
		pkg, err := (&types.Config{}).Check(typeassert.ImportPath, s.fset, []*ast.File{f}, nil)
		if err != nil {
			return nil, err
		}
		s.stub = pkg
	}
	return s.stub, nil
}

// typeCheck parses and type-checks rewritten output the way the compiler
// would see it, with typeassert replaced by a stub and the standard library
// read from source.
func typeCheck(t *testing.T, filename string, src []byte) {
	t.Helper()
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, src, 0)
	if err != nil {
		t.Fatalf("rewritten source does not parse: %v\n%s", err, src)
	}
	conf := types.Config{Importer: &stubImporter{fset: fset, std: importer.ForCompiler(fset, "source", nil)}}
	if _, err := conf.Check(f.Name.Name, fset, []*ast.File{f}, nil); err != nil {
		t.Fatalf("rewritten source does not type-check: %v\n%s", err, src)
	}
}
