package inject

import (
	"bytes"
	"errors"
	"go/ast"
	"go/token"
	"testing"

	"typeinject/typeassert"
)

const spliceSrc = `package p

import "fmt"

// Div divides.
//typeinject:check int, int
func Div(a, b any) any {
	// first original statement
	fmt.Println("in div")
	return a.(int) / b.(int)
}

func Clash(ok, typeassert any) {}

func Mixed(a any, _ int, rest ...any) {}

func Unnamed(int, string) {}
`

func parseTarget(t *testing.T, name string) *Target {
	t.Helper()
	tg, err := ParseTarget(token.NewFileSet(), "p.go", []byte(spliceSrc), name)
	if err != nil {
		t.Fatalf("ParseTarget(%s): %v", name, err)
	}
	return tg
}

func TestPair_PositionalAndUncheckedTail(t *testing.T) {
	tg := parseTarget(t, "Div")

	got := Pair(tg.Decl, []typeassert.Descriptor{typeassert.Int})
	if len(got) != 1 || got[0].Param != "a" {
		t.Fatalf("short descriptor list: got %+v", got)
	}
	got = Pair(tg.Decl, []typeassert.Descriptor{typeassert.String, typeassert.Int, typeassert.Bool})
	if len(got) != 2 || got[0].Descriptor.Name() != "string" || got[1].Descriptor.Name() != "int" {
		t.Fatalf("extra descriptors should be ignored: got %+v", got)
	}
	if got := Pair(tg.Decl, nil); len(got) != 0 {
		t.Fatalf("no descriptors: got %+v", got)
	}
}

func TestPair_SkipsBlankVariadicAndUnnamed(t *testing.T) {
	all := []typeassert.Descriptor{typeassert.Int, typeassert.Int, typeassert.Int}
	got := Pair(parseTarget(t, "Mixed").Decl, all)
	if len(got) != 1 || got[0].Param != "a" {
		t.Fatalf("Mixed: got %+v", got)
	}
	if got := Pair(parseTarget(t, "Unnamed").Decl, all); len(got) != 0 {
		t.Fatalf("Unnamed: got %+v", got)
	}
}

func TestSplice_InsertsContiguousBlockFirst(t *testing.T) {
	tg := parseTarget(t, "Div")
	original := append([]ast.Stmt(nil), tg.Decl.Body.List...)

	sp, err := Splice(tg.Decl, []typeassert.Descriptor{typeassert.Int, typeassert.Int})
	if err != nil {
		t.Fatalf("Splice: %v", err)
	}
	if len(sp.Assertions) != 2 || sp.Qualifier != "typeassert" {
		t.Fatalf("unexpected splicing: %+v", sp)
	}
	body := tg.Decl.Body.List
	if len(body) != len(original)+2 {
		t.Fatalf("want %d statements, got %d", len(original)+2, len(body))
	}
	for i, want := range []string{"a", "b"} {
		is, ok := body[i].(*ast.IfStmt)
		if !ok {
			t.Fatalf("statement %d is %T, want *ast.IfStmt", i, body[i])
		}
		assign := is.Init.(*ast.AssignStmt)
		x := assign.Rhs[0].(*ast.TypeAssertExpr).X.(*ast.CallExpr).Args[0].(*ast.Ident)
		if x.Name != want {
			t.Fatalf("assertion %d checks %s, want %s", i, x.Name, want)
		}
	}
	for i, s := range original {
		if body[i+2] != s {
			t.Fatalf("original statement %d moved", i)
		}
	}

	for _, s := range body[:2] {
		ast.Inspect(s, func(n ast.Node) bool {
			if n != nil && !n.Pos().IsValid() {
				t.Fatalf("%T has no position", n)
			}
			return true
		})
	}
}

func TestSplice_OutputTypeChecks(t *testing.T) {
	tg := parseTarget(t, "Div")
	if _, err := Splice(tg.Decl, []typeassert.Descriptor{typeassert.Int, typeassert.MustParse("map[string]int")}); err != nil {
		t.Fatalf("Splice: %v", err)
	}
	var buf bytes.Buffer
	if err := printConfig.Fprint(&buf, tg.Fset, tg.File); err != nil {
		t.Fatalf("print: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`if _, ok := interface{}(a).(int); !ok {`,
		`panic(typeassert.Mismatch("b", "map[string]int", b))`,
		`// first original statement`,
	} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Fatalf("output lacks %q:\n%s", want, out)
		}
	}
	// Div has no typeassert import of its own; add it as RewriteFile would.
	addImport(tg.Fset, tg.File, "typeassert", typeassert.ImportPath)
	buf.Reset()
	if err := printConfig.Fprint(&buf, tg.Fset, tg.File); err != nil {
		t.Fatalf("print: %v", err)
	}
	typeCheck(t, "out.go", buf.Bytes())
}

func TestSplice_SynthesizedCallsAreNotVariadic(t *testing.T) {
	tg := parseTarget(t, "Div")
	if _, err := Splice(tg.Decl, []typeassert.Descriptor{typeassert.Int, typeassert.MustParse("func(...int)")}); err != nil {
		t.Fatalf("Splice: %v", err)
	}
	for _, s := range tg.Decl.Body.List[:2] {
		ast.Inspect(s, func(n ast.Node) bool {
			if call, ok := n.(*ast.CallExpr); ok && call.Ellipsis.IsValid() {
				t.Fatalf("call to %T has a spread argument", call.Fun)
			}
			if e, ok := n.(*ast.Ellipsis); ok && !e.Pos().IsValid() {
				t.Fatal("variadic parameter in a descriptor lost its position")
			}
			return true
		})
	}
}

func TestTarget_SpliceAfterBraceComment(t *testing.T) {
	src := "package p\n\nfunc G(a any) { // note\n\t// lead\n\t_ = a\n}\n"
	tg, err := ParseTarget(token.NewFileSet(), "p.go", []byte(src), "G")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tg.Splice([]typeassert.Descriptor{typeassert.Int}); err != nil {
		t.Fatalf("Splice: %v", err)
	}
	note, lead := tg.File.Comments[0], tg.File.Comments[1]
	at := tg.Decl.Body.List[0].Pos()
	if at <= note.Pos() || at >= lead.Pos() {
		t.Fatalf("block at %d, want between %d and %d", at, note.Pos(), lead.Pos())
	}
}

func TestSplice_RenamesCollidingIdentifiers(t *testing.T) {
	tg := parseTarget(t, "Clash")
	sp, err := Splice(tg.Decl, []typeassert.Descriptor{typeassert.Int, typeassert.Int})
	if err != nil {
		t.Fatalf("Splice: %v", err)
	}
	if sp.Qualifier != "typeassert1" {
		t.Fatalf("want qualifier typeassert1, got %s", sp.Qualifier)
	}
	okIdent := tg.Decl.Body.List[0].(*ast.IfStmt).Init.(*ast.AssignStmt).Lhs[1].(*ast.Ident)
	if okIdent.Name != "ok1" {
		t.Fatalf("want ok1, got %s", okIdent.Name)
	}
}

func TestSplice_RefusesSecondBlock(t *testing.T) {
	tg := parseTarget(t, "Div")
	descs := []typeassert.Descriptor{typeassert.Int, typeassert.Int}
	if _, err := Splice(tg.Decl, descs); err != nil {
		t.Fatalf("first Splice: %v", err)
	}
	n := len(tg.Decl.Body.List)
	_, err := Splice(tg.Decl, descs)
	if !errors.Is(err, ErrAlreadyTransformed) {
		t.Fatalf("want ErrAlreadyTransformed, got %v", err)
	}
	if len(tg.Decl.Body.List) != n {
		t.Fatal("second Splice changed the body")
	}
}

func TestSplice_NoDescriptorsLeavesBody(t *testing.T) {
	tg := parseTarget(t, "Div")
	n := len(tg.Decl.Body.List)
	sp, err := Splice(tg.Decl, nil)
	if err != nil {
		t.Fatalf("Splice: %v", err)
	}
	if len(sp.Assertions) != 0 || len(tg.Decl.Body.List) != n {
		t.Fatal("empty descriptor list should not change the body")
	}
}

func TestParseTarget_Errors(t *testing.T) {
	fset := token.NewFileSet()
	if _, err := ParseTarget(fset, "bad.go", []byte("package p\nfunc ("), "F"); !errors.Is(err, ErrParse) {
		t.Fatalf("malformed source: want ErrParse, got %v", err)
	}
	if _, err := ParseTarget(fset, "p.go", []byte(spliceSrc), "Missing"); !errors.Is(err, ErrParse) {
		t.Fatalf("missing decl: want ErrParse, got %v", err)
	}
	if _, err := ParseTarget(fset, "p.go", []byte("package p\nfunc F()\n"), "F"); !errors.Is(err, ErrParse) {
		t.Fatalf("bodyless decl: want ErrParse, got %v", err)
	}
}
