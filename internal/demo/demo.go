// Package demo holds the checked integer division used by the examples.
package demo

import (
	"fmt"

	"typeinject/inject"
	"typeinject/typeassert"
)

// IntDivision divides a by b. Called directly it trusts its arguments.
//
//typeinject:check int, int
func IntDivision(a, b any) any {
	fmt.Println("in int_division")
	return a.(int) / b.(int)
}

// Divide is IntDivision with both parameters checked before the body runs.
var Divide = inject.Must(inject.Func(IntDivision, typeassert.Int, typeassert.Int))
