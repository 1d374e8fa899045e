// Package walk reads Go files from a directory tree on disk.
package walk

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"typeinject/source"
)

type Driver struct {
	root string
}

func (d *Driver) Configure(c source.Config) error {
	if c.Root == "" {
		return errors.New("walk: root is required")
	}
	abs, err := filepath.Abs(c.Root)
	if err != nil {
		return err
	}
	d.root = abs
	return nil
}

func (d *Driver) Run(ctx context.Context, emit source.EmitFunc) error {
	return filepath.WalkDir(d.root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if e.IsDir() {
			if path != d.root && source.SkipDir(e.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !source.Candidate(e.Name()) {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return emit(source.File{Path: path, Src: src})
	})
}

func (d *Driver) Close() error { return nil }

func init() {
	source.Register("walk", func() source.Adapter { return &Driver{} })
}
