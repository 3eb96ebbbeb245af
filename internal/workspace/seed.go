package workspace

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultSeed is written under the reserved namespace at startup when no seed
// manifest is configured.
var DefaultSeed = []SeedFile{
	{
		Path:    "admin/welcome.txt",
		Content: "Welcome to the Admin Dashboard!\n// System operational.",
	},
}

// SeedFile is one entry of a seed manifest.
type SeedFile struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`
}

type seedManifest struct {
	Files []SeedFile `yaml:"files"`
}

// LoadSeedManifest parses a YAML seed manifest from disk.
func LoadSeedManifest(path string) ([]SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workspace: read seed manifest: %w", err)
	}
	var manifest seedManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("workspace: parse seed manifest: %w", err)
	}
	return manifest.Files, nil
}

// Seed writes the given files into the store. Entries with escaping paths are
// skipped and logged; other write failures abort the seed.
func (s *Store) Seed(files []SeedFile) error {
	for _, f := range files {
		if err := s.Write(f.Path, f.Content); err != nil {
			if errors.Is(err, ErrPathEscapes) {
				s.logger.Warn("seed.skipped", "path", f.Path)
				continue
			}
			return fmt.Errorf("workspace: seed %s: %w", f.Path, err)
		}
		s.logger.Info("seed.written", "path", f.Path, "bytes", len(f.Content))
	}
	return nil
}
