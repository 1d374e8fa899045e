// Package overlay writes rewritten files to a cache directory and maps them
// over their originals in an overlay.json for `go build -overlay`.
package overlay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"typeinject/inject"
	"typeinject/sink"
)

const FileName = "overlay.json"

type Config struct {
	CacheDir string
}

// Overlay is the go build -overlay JSON format.
type Overlay struct {
	Replace map[string]string `json:"Replace"`
}

type driver struct {
	cfg Config
	ack sink.EmitFn

	mu      sync.Mutex
	overlay Overlay
	closed  bool
}

func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("overlay-sink: expected Config, got %T", raw)
	}
	if c.CacheDir == "" {
		return errors.New("overlay-sink: cache_dir is required")
	}
	d.cfg = c
	d.overlay = Overlay{Replace: map[string]string{}}
	return nil
}

// Push writes <base>_<hash12>.go into the cache dir. The name depends on the
// content only, so unchanged rewrites land on the same file.
func (d *driver) Push(res *inject.FileRewrite) error {
	if !filepath.IsAbs(res.Filename) {
		return fmt.Errorf("overlay-sink: %s is not absolute", res.Filename)
	}
	if err := os.MkdirAll(d.cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("overlay-sink: create cache dir: %w", err)
	}
	hash := contentHash(res.Source)
	base := strings.TrimSuffix(filepath.Base(res.Filename), ".go")
	shadow := filepath.Join(d.cfg.CacheDir, fmt.Sprintf("%s_%s.go", base, hash[:12]))
	if err := os.WriteFile(shadow, res.Source, 0o644); err != nil {
		return fmt.Errorf("overlay-sink: write shadow %s: %w", shadow, err)
	}

	d.mu.Lock()
	d.overlay.Replace[res.Filename] = shadow
	d.mu.Unlock()
	if d.ack != nil {
		d.ack(res.Filename)
	}
	return nil
}

// Close writes overlay.json once. Nothing is written when no file changed.
func (d *driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(d.overlay.Replace) == 0 {
		d.closed = true
		return nil
	}
	d.closed = true
	data, err := json.MarshalIndent(d.overlay, "", "  ")
	if err != nil {
		return fmt.Errorf("overlay-sink: marshal overlay: %w", err)
	}
	path := filepath.Join(d.cfg.CacheDir, FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("overlay-sink: write %s: %w", FileName, err)
	}
	return nil
}

func (d *driver) BindAck(fn sink.EmitFn) { d.ack = fn }

func contentHash(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func init() {
	sink.Register("overlay", func() sink.Adapter { return &driver{} })
}
