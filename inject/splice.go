package inject

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"

	"typeinject/typeassert"
)

// Assertion pairs one declared parameter with the descriptor it is checked
// against.
type Assertion struct {
	Param      string
	Descriptor typeassert.Descriptor
}

// Splicing describes the block inserted into one declaration.
type Splicing struct {
	Assertions []Assertion
	// Qualifier is the identifier the block uses for the typeassert package.
	Qualifier string
	// Imports holds descriptor packages by local name; empty paths must be
	// satisfied by the declaring file.
	Imports map[string]string
}

// Pair matches parameters with descriptors by position. Parameters past the
// end of descs stay unchecked, extra descriptors are ignored. Blank, unnamed
// and variadic parameters use up a position without being checked, as does a
// parameter paired with the empty interface.
func Pair(decl *ast.FuncDecl, descs []typeassert.Descriptor) []Assertion {
	var (
		out []Assertion
		pos int
	)
	for _, field := range decl.Type.Params.List {
		_, variadic := field.Type.(*ast.Ellipsis)
		names := field.Names
		if len(names) == 0 {
			pos++
			continue
		}
		for _, n := range names {
			if pos >= len(descs) {
				return out
			}
			d := descs[pos]
			pos++
			if variadic || n.Name == "_" || d.IsZero() || d.MatchesAll() {
				continue
			}
			out = append(out, Assertion{Param: n.Name, Descriptor: d})
		}
	}
	return out
}

// Splice inserts one assertion per paired parameter as a contiguous block
// ahead of the original statements of decl, then gives every inserted node
// the position of the body's opening brace.
func Splice(decl *ast.FuncDecl, descs []typeassert.Descriptor) (*Splicing, error) {
	if decl.Body == nil {
		return nil, stageErr(Spliced, funcKey(decl), ErrParse, "declaration has no body")
	}
	return splice(decl, descs, decl.Body.Lbrace)
}

// Splice is the package-level Splice, except that the block is placed after
// a comment trailing the opening brace, so the comment stays on that line.
func (t *Target) Splice(descs []typeassert.Descriptor) (*Splicing, error) {
	return splice(t.Decl, descs, anchor(t.Fset, t.File, t.Decl.Body))
}

func splice(decl *ast.FuncDecl, descs []typeassert.Descriptor, at token.Pos) (*Splicing, error) {
	name := funcKey(decl)
	if decl.Body == nil {
		return nil, stageErr(Spliced, name, ErrParse, "declaration has no body")
	}
	if hasAssertionBlock(decl.Body) {
		return nil, stageErr(Spliced, name, ErrAlreadyTransformed, "body starts with an assertion block")
	}

	taken := declaredNames(decl)
	sp := &Splicing{
		Assertions: Pair(decl, descs),
		Qualifier:  fresh("typeassert", taken),
		Imports:    map[string]string{},
	}
	if len(sp.Assertions) == 0 {
		return sp, nil
	}
	if taken["panic"] {
		return nil, stageErr(Spliced, name, ErrParse, "a parameter named panic shadows the builtin the assertions call")
	}
	ok := fresh("ok", taken)

	block := make([]ast.Stmt, 0, len(sp.Assertions))
	for _, a := range sp.Assertions {
		typ, err := parser.ParseExpr(a.Descriptor.Expr())
		if err != nil {
			return nil, stageErr(Spliced, name, ErrInternal, "descriptor %q: %v", a.Descriptor.Expr(), err)
		}
		for ref := range typeRefs(typ) {
			if taken[ref] {
				return nil, stageErr(Spliced, name, ErrParse, "type %s refers to %q, which a parameter shadows", a.Descriptor.Expr(), ref)
			}
		}
		for local, path := range a.Descriptor.Imports() {
			if sp.Imports[local] == "" {
				sp.Imports[local] = path
			}
		}
		block = append(block, assertionStmt(a, typ, ok, sp.Qualifier))
	}
	for _, s := range block {
		repairPositions(s, at)
	}
	decl.Body.List = append(block, decl.Body.List...)
	return sp, nil
}

// anchor is the position the block is printed at: the end of a comment that
// trails the opening brace on its line, else the brace itself.
func anchor(fset *token.FileSet, f *ast.File, body *ast.BlockStmt) token.Pos {
	if f == nil || fset == nil {
		return body.Lbrace
	}
	line := fset.Position(body.Lbrace).Line
	limit := body.Rbrace
	if len(body.List) > 0 {
		limit = body.List[0].Pos()
	}
	for _, cg := range f.Comments {
		if cg.Pos() <= body.Lbrace {
			continue
		}
		if cg.Pos() >= limit || fset.Position(cg.Pos()).Line != line {
			break
		}
		return cg.End()
	}
	return body.Lbrace
}

// typeRefs returns the unqualified identifiers and package qualifiers a type
// expression resolves in the enclosing scope. Field and method names are not
// references.
func typeRefs(x ast.Expr) map[string]bool {
	refs := map[string]bool{}
	var walk func(ast.Node) bool
	walk = func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.SelectorExpr:
			if id, ok := n.X.(*ast.Ident); ok {
				refs[id.Name] = true
			}
			return false
		case *ast.Field:
			if n.Type != nil {
				ast.Inspect(n.Type, walk)
			}
			return false
		case *ast.Ident:
			refs[n.Name] = true
		}
		return true
	}
	ast.Inspect(x, walk)
	return refs
}

// assertionStmt builds
//
//	if _, ok := interface{}(param).(T); !ok {
//		panic(typeassert.Mismatch("param", "T", param))
//	}
func assertionStmt(a Assertion, typ ast.Expr, ok, qualifier string) ast.Stmt {
	return &ast.IfStmt{
		Init: &ast.AssignStmt{
			Lhs: []ast.Expr{ast.NewIdent("_"), ast.NewIdent(ok)},
			Tok: token.DEFINE,
			Rhs: []ast.Expr{&ast.TypeAssertExpr{
				X: &ast.CallExpr{
					Fun:  &ast.InterfaceType{Methods: &ast.FieldList{}},
					Args: []ast.Expr{ast.NewIdent(a.Param)},
				},
				Type: typ,
			}},
		},
		Cond: &ast.UnaryExpr{Op: token.NOT, X: ast.NewIdent(ok)},
		Body: &ast.BlockStmt{List: []ast.Stmt{
			&ast.ExprStmt{X: &ast.CallExpr{
				Fun: ast.NewIdent("panic"),
				Args: []ast.Expr{&ast.CallExpr{
					Fun: &ast.SelectorExpr{X: ast.NewIdent(qualifier), Sel: ast.NewIdent("Mismatch")},
					Args: []ast.Expr{
						&ast.BasicLit{Kind: token.STRING, Value: strconv.Quote(a.Param)},
						&ast.BasicLit{Kind: token.STRING, Value: strconv.Quote(a.Descriptor.Name())},
						ast.NewIdent(a.Param),
					},
				}},
			}},
		}},
	}
}

// hasAssertionBlock reports whether body already opens with a statement
// shaped like assertionStmt.
func hasAssertionBlock(body *ast.BlockStmt) bool {
	if len(body.List) == 0 {
		return false
	}
	is, ok := body.List[0].(*ast.IfStmt)
	if !ok || is.Init == nil || len(is.Body.List) != 1 {
		return false
	}
	es, ok := is.Body.List[0].(*ast.ExprStmt)
	if !ok {
		return false
	}
	call, ok := es.X.(*ast.CallExpr)
	if !ok || len(call.Args) != 1 {
		return false
	}
	if id, ok := call.Fun.(*ast.Ident); !ok || id.Name != "panic" {
		return false
	}
	inner, ok := call.Args[0].(*ast.CallExpr)
	if !ok {
		return false
	}
	sel, ok := inner.Fun.(*ast.SelectorExpr)
	return ok && sel.Sel.Name == "Mismatch"
}

// declaredNames collects the receiver, type parameter, parameter and result
// names of decl, which the inserted block must not shadow.
func declaredNames(decl *ast.FuncDecl) map[string]bool {
	taken := map[string]bool{}
	lists := []*ast.FieldList{decl.Recv, decl.Type.TypeParams, decl.Type.Params, decl.Type.Results}
	for _, fl := range lists {
		if fl == nil {
			continue
		}
		for _, f := range fl.List {
			for _, n := range f.Names {
				taken[n.Name] = true
			}
		}
	}
	return taken
}

func fresh(base string, taken map[string]bool) string {
	name := base
	for i := 1; taken[name]; i++ {
		name = fmt.Sprintf("%s%d", base, i)
	}
	return name
}
