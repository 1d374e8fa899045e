package inject

import (
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
)

// Source is the declaration of a function as recorded in the running binary.
type Source struct {
	Func string // runtime symbol, e.g. "typeinject/internal/demo.IntDivision"
	Name string // declared name
	File string
	Line int
	Text []byte // contents of File
}

// Capture locates the source of fn through the runtime's PC table and reads
// the file that declares it. Only top-level functions qualify: closures,
// method values, generic instantiations and functions without a readable Go
// file fail with ErrSourceUnavailable.
func Capture(fn any) (*Source, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, stageErr(Parsed, "", ErrSourceUnavailable, "%T is not a function", fn)
	}
	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return nil, stageErr(Parsed, "", ErrSourceUnavailable, "no symbol for %T", fn)
	}
	sym := rf.Name()
	name, ok := declName(sym)
	if !ok {
		return nil, stageErr(Parsed, sym, ErrSourceUnavailable, "not a top-level function")
	}
	file, line := rf.FileLine(rf.Entry())
	if !filepath.IsAbs(file) || filepath.Ext(file) != ".go" {
		return nil, stageErr(Parsed, sym, ErrSourceUnavailable, "no Go source recorded (file %q)", file)
	}
	text, err := os.ReadFile(file)
	if err != nil {
		return nil, stageErr(Parsed, sym, ErrSourceUnavailable, "%v", err)
	}
	return &Source{Func: sym, Name: name, File: file, Line: line, Text: text}, nil
}

// declName extracts the declared name from a runtime symbol such as
// "example.com/m/pkg.Name". Symbols of closures ("pkg.F.func1"), methods
// ("pkg.(*T).M", "pkg.T.M-fm") and instantiations ("pkg.F[...]") are rejected.
func declName(sym string) (string, bool) {
	rest := sym
	if i := strings.LastIndexByte(rest, '/'); i >= 0 {
		rest = rest[i+1:]
	}
	_, name, ok := strings.Cut(rest, ".")
	if !ok || name == "" || strings.ContainsAny(name, ".()-[]") {
		return "", false
	}
	return name, true
}
