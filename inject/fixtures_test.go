package inject

import (
	"fmt"
	"strings"
)

//typeinject:check int, int
func intDivision(a, b any) any {
	fmt.Println("in int_division")
	return a.(int) / b.(int)
}

func describe(a, b any) string {
	return fmt.Sprintf("%v/%v", a, b)
}

func shout(s any, times int) string {
	return strings.Repeat(strings.ToUpper(s.(string)), times)
}

var scale = 10

func scaled(a any) any {
	return a.(int) * scale
}

//typeinject:check 1 + 2
func badlyMarked(a any) any { return a }

func passThrough(a any) any { return a }
