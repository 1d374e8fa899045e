package inject

import (
	"go/ast"
	"go/token"
	"reflect"
)

var (
	posType      = reflect.TypeFor[token.Pos]()
	callExprType = reflect.TypeFor[ast.CallExpr]()
)

// repairPositions sets every token.Pos field in the tree under root to pos.
// Synthesized nodes start out with no positions, and type expressions parsed
// on their own carry offsets of an unrelated file set.
//
// CallExpr.Ellipsis is the one field whose validity changes meaning (a valid
// position marks a variadic spread), so it is only moved when already set.
func repairPositions(root ast.Node, pos token.Pos) {
	ast.Inspect(root, func(n ast.Node) bool {
		if n == nil {
			return false
		}
		v := reflect.ValueOf(n)
		if v.Kind() != reflect.Pointer || v.IsNil() {
			return true
		}
		v = v.Elem()
		if v.Kind() != reflect.Struct {
			return true
		}
		for i := range v.NumField() {
			f := v.Field(i)
			if f.Type() != posType || !f.CanSet() {
				continue
			}
			if v.Type() == callExprType && v.Type().Field(i).Name == "Ellipsis" && f.Int() == int64(token.NoPos) {
				continue
			}
			f.SetInt(int64(pos))
		}
		return true
	})
}
