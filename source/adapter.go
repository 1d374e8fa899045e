package source

import (
	"context"
	"fmt"
	"strings"
)

// File is one Go source file offered to the rewriter.
type File struct {
	Path string // absolute; becomes the overlay key
	Src  []byte
}

type EmitFunc func(File) error

type Config struct {
	Root     string
	Revision string
}

// Adapter produces the files of a tree. Run calls emit once per file and
// stops at the first error emit returns.
type Adapter interface {
	Configure(Config) error
	Run(ctx context.Context, emit EmitFunc) error
	Close() error
}

// Factory builds an Adapter (walk, git, …).
type Factory func() Adapter

var registry = map[string]Factory{}

// Register is called from each driver's init().
func Register(name string, f Factory) {
	registry[name] = f
}

func NewAdapter(name string) (Adapter, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("source: unsupported kind %q", name)
}

// SkipDir reports whether a directory is never scanned: hidden directories
// (the cache among them), vendor and testdata.
func SkipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "vendor" || name == "testdata"
}

// Candidate reports whether a file name is a non-test Go file.
func Candidate(name string) bool {
	return strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go")
}
