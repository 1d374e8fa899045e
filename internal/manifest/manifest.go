// Package manifest describes functions to check without editing their
// source: a YAML list of (file, function, types) targets.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"typeinject/inject"
	"typeinject/typeassert"
)

const SupportedSchema = "v1"

type Target struct {
	File  string   `yaml:"file"`
	Func  string   `yaml:"func"` // "Name" or "Recv.Method"
	Types []string `yaml:"types"`
}

type File struct {
	SchemaVersion string   `yaml:"schema_version"`
	Targets       []Target `yaml:"targets"`
}

// Load parses a manifest, validates schema_version and makes every target
// file absolute relative to the manifest's directory.
func Load(path string) (File, error) {
	var m File
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("manifest %s: %w", path, err)
	}
	if m.SchemaVersion == "" {
		m.SchemaVersion = SupportedSchema
	}
	if m.SchemaVersion != SupportedSchema {
		return m, fmt.Errorf("manifest schema_version %q not supported (want %q)", m.SchemaVersion, SupportedSchema)
	}
	for i, t := range m.Targets {
		if t.File == "" || t.Func == "" {
			return m, fmt.Errorf("manifest %s: target %d needs file and func", path, i)
		}
		if !filepath.IsAbs(t.File) {
			m.Targets[i].File = filepath.Join(filepath.Dir(path), t.File)
		}
		m.Targets[i].File = filepath.Clean(m.Targets[i].File)
	}
	return m, nil
}

// Requests groups the targets by file and parses their type expressions.
func (m File) Requests() (map[string][]inject.Request, error) {
	out := map[string][]inject.Request{}
	for _, t := range m.Targets {
		descs := make([]typeassert.Descriptor, 0, len(t.Types))
		for _, expr := range t.Types {
			d, err := typeassert.Parse(expr)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", t.File, t.Func, err)
			}
			descs = append(descs, d)
		}
		out[t.File] = append(out[t.File], inject.Request{Func: t.Func, Types: descs})
	}
	return out, nil
}
