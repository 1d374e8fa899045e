// Package git reads Go files as they are recorded at a git revision, so a
// build can be rewritten from a tag or commit without checking it out.
package git

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"typeinject/source"
)

type Driver struct {
	root string
	rev  string
	repo *gogit.Repository
	// prefix is root relative to the worktree, slash separated; "" at the top.
	prefix string
	top    string
}

func (d *Driver) Configure(c source.Config) error {
	if c.Root == "" {
		return errors.New("git: root is required")
	}
	abs, err := filepath.Abs(c.Root)
	if err != nil {
		return err
	}
	repo, err := gogit.PlainOpenWithOptions(abs, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return fmt.Errorf("git: open %s: %w", abs, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git: worktree: %w", err)
	}
	top := wt.Filesystem.Root()
	rel, err := filepath.Rel(top, abs)
	if err != nil {
		return err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		rel = ""
	}
	d.root, d.repo, d.top, d.prefix = abs, repo, top, rel
	d.rev = c.Revision
	if d.rev == "" {
		d.rev = "HEAD"
	}
	return nil
}

func (d *Driver) Run(ctx context.Context, emit source.EmitFunc) error {
	if d.repo == nil {
		return errors.New("git: not configured")
	}
	hash, err := d.repo.ResolveRevision(plumbing.Revision(d.rev))
	if err != nil {
		return fmt.Errorf("git: resolve revision %s: %w", d.rev, err)
	}
	commit, err := d.repo.CommitObject(*hash)
	if err != nil {
		return fmt.Errorf("git: commit %s: %w", hash, err)
	}
	files, err := commit.Files()
	if err != nil {
		return err
	}
	return files.ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, ok := d.within(f.Name)
		if !ok || skipped(rel) {
			return nil
		}
		text, err := f.Contents()
		if err != nil {
			return fmt.Errorf("git: read %s: %w", f.Name, err)
		}
		return emit(source.File{
			Path: filepath.Join(d.top, filepath.FromSlash(f.Name)),
			Src:  []byte(text),
		})
	})
}

// within returns name relative to the configured root.
func (d *Driver) within(name string) (string, bool) {
	if d.prefix == "" {
		return name, true
	}
	return strings.CutPrefix(name, d.prefix+"/")
}

func skipped(rel string) bool {
	dir, file := path.Split(rel)
	if !source.Candidate(file) {
		return true
	}
	for _, elem := range strings.Split(strings.TrimSuffix(dir, "/"), "/") {
		if elem != "" && source.SkipDir(elem) {
			return true
		}
	}
	return false
}

func (d *Driver) Close() error { return nil }

func init() {
	source.Register("git", func() source.Adapter { return &Driver{} })
}
