package typeassert

import (
	"fmt"
	"go/ast"
	"go/parser"
	"maps"
	"reflect"
	"strings"
)

// Descriptor names the Go type a parameter is asserted against.
// The zero Descriptor is invalid.
type Descriptor struct {
	name string
	expr string
	// local package name -> import path; an empty path means the name must
	// already be imported by the file that declares the checked function.
	imports map[string]string
	// all is set for the empty interface, which every value satisfies,
	// including nil.
	all bool
}

var (
	Int     = Of[int]()
	Int64   = Of[int64]()
	Float64 = Of[float64]()
	String  = Of[string]()
	Bool    = Of[bool]()
	Bytes   = Of[[]byte]()
	Any     = Of[any]()
	Error   = Of[error]()
)

// Name is the human readable form used in diagnostics.
func (d Descriptor) Name() string { return d.name }

// Expr is the type expression written into the assertion.
func (d Descriptor) Expr() string { return d.expr }

// Imports returns the packages Expr refers to, keyed by local name.
func (d Descriptor) Imports() map[string]string { return maps.Clone(d.imports) }

func (d Descriptor) IsZero() bool { return d.expr == "" }

// MatchesAll reports whether d is the empty interface. No assertion is
// generated for it, so nil passes. Non-empty interfaces still reject nil.
func (d Descriptor) MatchesAll() bool { return d.all }

// Named returns d with a different diagnostic name.
func (d Descriptor) Named(name string) Descriptor {
	if name != "" {
		d.name = name
	}
	return d
}

// Resolve binds the package qualifiers d uses to the paths in imports.
// Qualifiers d does not use are ignored.
func (d Descriptor) Resolve(imports map[string]string) Descriptor {
	if len(imports) == 0 {
		return d
	}
	d.imports = maps.Clone(d.imports)
	for local, path := range imports {
		if _, used := d.imports[local]; used && path != "" {
			d.imports[local] = path
		}
	}
	return d
}

func (d Descriptor) String() string { return d.name }

// Of describes T.
func Of[T any]() Descriptor { return TypeOf(reflect.TypeFor[T]()) }

// TypeOf describes t. Named types from other packages carry their import path.
func TypeOf(t reflect.Type) Descriptor {
	imports := map[string]string{}
	expr := typeExpr(t, imports)
	all := t.Kind() == reflect.Interface && t.NumMethod() == 0
	return Descriptor{name: t.String(), expr: expr, imports: imports, all: all}
}

func typeExpr(t reflect.Type, imports map[string]string) string {
	if t.Name() != "" {
		if t.PkgPath() == "" {
			return t.Name()
		}
		s := t.String()
		if i := strings.IndexByte(s, '.'); i > 0 {
			imports[s[:i]] = t.PkgPath()
		}
		return s
	}
	switch t.Kind() {
	case reflect.Pointer:
		return "*" + typeExpr(t.Elem(), imports)
	case reflect.Slice:
		return "[]" + typeExpr(t.Elem(), imports)
	case reflect.Array:
		return fmt.Sprintf("[%d]%s", t.Len(), typeExpr(t.Elem(), imports))
	case reflect.Map:
		return "map[" + typeExpr(t.Key(), imports) + "]" + typeExpr(t.Elem(), imports)
	case reflect.Chan:
		switch t.ChanDir() {
		case reflect.RecvDir:
			return "<-chan " + typeExpr(t.Elem(), imports)
		case reflect.SendDir:
			return "chan<- " + typeExpr(t.Elem(), imports)
		}
		return "chan " + typeExpr(t.Elem(), imports)
	}
	return t.String()
}

// Parse builds a Descriptor from a Go type expression such as "int",
// "map[string]int" or "time.Duration". Package qualifiers are resolved
// against the imports of the file being rewritten.
func Parse(expr string) (Descriptor, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Descriptor{}, fmt.Errorf("typeassert: empty type expression")
	}
	x, err := parser.ParseExpr(expr)
	if err != nil {
		return Descriptor{}, fmt.Errorf("typeassert: parse %q: %w", expr, err)
	}
	if !isTypeExpr(x) {
		return Descriptor{}, fmt.Errorf("typeassert: %q is not a type", expr)
	}
	imports := map[string]string{}
	ast.Inspect(x, func(n ast.Node) bool {
		if sel, ok := n.(*ast.SelectorExpr); ok {
			if id, ok := sel.X.(*ast.Ident); ok {
				imports[id.Name] = ""
			}
			return false
		}
		return true
	})
	return Descriptor{name: expr, expr: expr, imports: imports, all: isEmptyInterface(x)}, nil
}

func isEmptyInterface(x ast.Expr) bool {
	switch t := x.(type) {
	case *ast.Ident:
		return t.Name == "any"
	case *ast.ParenExpr:
		return isEmptyInterface(t.X)
	case *ast.InterfaceType:
		return t.Methods == nil || len(t.Methods.List) == 0
	}
	return false
}

// MustParse is Parse that panics on error.
func MustParse(expr string) Descriptor {
	d, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return d
}

func isTypeExpr(x ast.Expr) bool {
	switch t := x.(type) {
	case *ast.Ident, *ast.ArrayType, *ast.MapType, *ast.ChanType,
		*ast.FuncType, *ast.InterfaceType, *ast.StructType:
		return true
	case *ast.SelectorExpr:
		_, ok := t.X.(*ast.Ident)
		return ok
	case *ast.StarExpr:
		return isTypeExpr(t.X)
	case *ast.ParenExpr:
		return isTypeExpr(t.X)
	case *ast.IndexExpr:
		return isTypeExpr(t.X) && isTypeExpr(t.Index)
	case *ast.IndexListExpr:
		if !isTypeExpr(t.X) {
			return false
		}
		for _, i := range t.Indices {
			if !isTypeExpr(i) {
				return false
			}
		}
		return true
	}
	return false
}
