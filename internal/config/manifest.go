package config

import (
	"typeinject/inject"
	"typeinject/internal/manifest"
)

// LoadManifest delegates to the manifest loader while centralizing loader
// entrypoints under internal/config. An empty path yields no requests.
func LoadManifest(path string) (map[string][]inject.Request, error) {
	if path == "" {
		return nil, nil
	}
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	return m.Requests()
}
