package inject

import (
	"io"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"typeinject/typeassert"
)

// symbols exposes the typeassert runtime to interpreted units.
var symbols = interp.Exports{
	typeassert.ImportPath + "/typeassert": {
		"Mismatch":        reflect.ValueOf(typeassert.Mismatch),
		"MismatchError":   reflect.ValueOf((*typeassert.MismatchError)(nil)),
		"ErrTypeMismatch": reflect.ValueOf(&typeassert.ErrTypeMismatch).Elem(),
	},
}

// compileUnit evaluates u in a new interpreter that knows only the standard
// library and typeassert, then looks the function up by its declared name.
// Every call gets its own interpreter, so units never see each other or the
// caller's package scope.
func compileUnit(u *Unit, stdout, stderr io.Writer) (reflect.Value, error) {
	src, err := u.Source()
	if err != nil {
		return reflect.Value{}, err
	}
	i := interp.New(interp.Options{Stdout: stdout, Stderr: stderr})
	if err := i.Use(stdlib.Symbols); err != nil {
		return reflect.Value{}, stageErr(Compiled, u.Name, ErrInternal, "load stdlib: %v", err)
	}
	if err := i.Use(symbols); err != nil {
		return reflect.Value{}, stageErr(Compiled, u.Name, ErrInternal, "load typeassert: %v", err)
	}
	if _, err := i.Eval(string(src)); err != nil {
		return reflect.Value{}, stageErr(Compiled, u.Name, ErrInternal, "%v\n%s", err, src)
	}
	v, err := i.Eval(u.Name)
	if err != nil {
		return reflect.Value{}, stageErr(Compiled, u.Name, ErrInternal, "lookup: %v", err)
	}
	if v.Kind() != reflect.Func {
		return reflect.Value{}, stageErr(Compiled, u.Name, ErrInternal, "%s evaluated to %s", u.Name, v.Kind())
	}
	return v, nil
}

// bind converts the interpreted function to the type of the original.
func bind(v reflect.Value, want reflect.Type, name string) (any, error) {
	if v.Type() == want {
		return v.Interface(), nil
	}
	if v.Type().ConvertibleTo(want) {
		return v.Convert(want).Interface(), nil
	}
	return nil, stageErr(Bound, name, ErrInternal, "replacement has type %s, want %s", v.Type(), want)
}
