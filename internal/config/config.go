package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"typeinject/inject"
)

const (
	SupportedSchema = "v1"
	EnvPrefix       = "TYPEINJECT__"
	DefaultCacheDir = ".typeinject_cache"
)

type SourceConfig struct {
	Kind     string `koanf:"kind"`     // walk|git
	Revision string `koanf:"revision"` // git only, default HEAD
}

// RewriterConfig selects where files are rewritten: in this process or by a
// remote typeinject server.
type RewriterConfig struct {
	Kind     string        `koanf:"kind"` // inproc|grpc
	Address  string        `koanf:"address"`
	Timeout  time.Duration `koanf:"timeout"`
	Attempts int           `koanf:"attempts"`
	Backoff  time.Duration `koanf:"backoff"`
}

type OverlayConfig struct {
	CacheDir string `koanf:"cache_dir"`
}

type StdoutConfig struct {
	PrintSource bool `koanf:"print_source"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type MetricsConfig struct {
	Port     int    `koanf:"port"`     // serve only
	Textfile string `koanf:"textfile"` // gen only; empty disables
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type Config struct {
	SchemaVersion string `koanf:"schema_version"`

	Root     string `koanf:"root"`
	Marker   string `koanf:"marker"`
	Workers  int    `koanf:"workers"`
	Manifest string `koanf:"manifest"`

	Source   SourceConfig   `koanf:"source"`
	Rewriter RewriterConfig `koanf:"rewriter"`
	Sinks    []string       `koanf:"sinks"`
	Overlay  OverlayConfig  `koanf:"overlay"`
	Stdout   StdoutConfig   `koanf:"stdout"`

	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
	Server  ServerConfig  `koanf:"server"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadConfig merges YAML (if present) with env-vars
// (prefix `TYPEINJECT__`, delimiter `__`, e.g. TYPEINJECT__OVERLAY__CACHE_DIR).
// Relative paths in the file are resolved against the file's directory.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return Config{}, fmt.Errorf("config schema_version %q not supported (want %s)", sv, SupportedSchema)
	}

	if err := k.Load(env.Provider(EnvPrefix, "__", envKey), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	base := "."
	if path != "" {
		base = filepath.Dir(path)
	}
	applyDefaults(&cfg, base)
	return cfg, cfg.Validate()
}

func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Config, base string) {
	if c.SchemaVersion == "" {
		c.SchemaVersion = SupportedSchema
	}
	if c.Root == "" {
		c.Root = "."
	}
	c.Root = resolve(base, c.Root)
	if c.Marker == "" {
		c.Marker = inject.DefaultMarker
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Manifest != "" {
		c.Manifest = resolve(base, c.Manifest)
	}
	if c.Source.Kind == "" {
		c.Source.Kind = "walk"
	}
	if c.Source.Kind == "git" && c.Source.Revision == "" {
		c.Source.Revision = "HEAD"
	}
	if c.Rewriter.Kind == "" {
		c.Rewriter.Kind = "inproc"
	}
	if c.Rewriter.Timeout == 0 {
		c.Rewriter.Timeout = 10 * time.Second
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []string{"overlay"}
	}
	if c.Overlay.CacheDir == "" {
		c.Overlay.CacheDir = filepath.Join(c.Root, DefaultCacheDir)
	} else {
		c.Overlay.CacheDir = resolve(base, c.Overlay.CacheDir)
	}
	if c.Metrics.Textfile != "" {
		c.Metrics.Textfile = resolve(base, c.Metrics.Textfile)
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9100
	}
	if c.Server.Port == 0 {
		c.Server.Port = 7070
	}
}

func resolve(base, p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func (c Config) Validate() error {
	switch c.Source.Kind {
	case "walk", "git":
	default:
		return fmt.Errorf("unsupported source %q", c.Source.Kind)
	}
	switch c.Rewriter.Kind {
	case "inproc":
	case "grpc":
		if c.Rewriter.Address == "" {
			return errors.New("rewriter.address is required for kind grpc")
		}
	default:
		return fmt.Errorf("unsupported rewriter %q", c.Rewriter.Kind)
	}
	if c.Rewriter.Attempts < 0 {
		return fmt.Errorf("rewriter.attempts must not be negative, got %d", c.Rewriter.Attempts)
	}
	return nil
}
