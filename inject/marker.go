package inject

import (
	"fmt"
	"go/ast"
	"slices"
	"strings"

	"typeinject/typeassert"
)

// DefaultMarker is the directive that decorates a function for checking:
//
//	//typeinject:check int, int
//	func IntDivision(a, b any) any { ... }
const DefaultMarker = "typeinject:check"

// Directive is a decoration marker found in a declaration's doc comment.
type Directive struct {
	Comment *ast.Comment
	Types   []typeassert.Descriptor
}

// FindDirective returns the first marker in decl's doc comment, or nil.
func FindDirective(decl *ast.FuncDecl, marker string) (*Directive, error) {
	if decl.Doc == nil {
		return nil, nil
	}
	for _, c := range decl.Doc.List {
		args, ok := directiveArgs(c.Text, marker)
		if !ok {
			continue
		}
		var types []typeassert.Descriptor
		for _, expr := range splitTypes(args) {
			d, err := typeassert.Parse(expr)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", funcKey(decl), err)
			}
			types = append(types, d)
		}
		return &Directive{Comment: c, Types: types}, nil
	}
	return nil, nil
}

// StripMarker removes exactly one marker line from decl's doc comment. The
// comment group is dropped from the file once it is empty.
func StripMarker(f *ast.File, decl *ast.FuncDecl, marker string) bool {
	if decl.Doc == nil {
		return false
	}
	i := slices.IndexFunc(decl.Doc.List, func(c *ast.Comment) bool {
		_, ok := directiveArgs(c.Text, marker)
		return ok
	})
	if i < 0 {
		return false
	}
	decl.Doc.List = slices.Delete(decl.Doc.List, i, i+1)
	if len(decl.Doc.List) == 0 {
		if f != nil {
			f.Comments = slices.DeleteFunc(f.Comments, func(g *ast.CommentGroup) bool { return g == decl.Doc })
		}
		decl.Doc = nil
	}
	return true
}

func directiveArgs(text, marker string) (string, bool) {
	rest, ok := strings.CutPrefix(text, "//"+marker)
	if !ok {
		return "", false
	}
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// splitTypes splits a directive argument list on top-level commas, so that
// "func(int, int) bool, string" yields two types.
func splitTypes(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				out = appendType(out, s[start:i])
				start = i + 1
			}
		}
	}
	return appendType(out, s[start:])
}

func appendType(out []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		out = append(out, s)
	}
	return out
}
