package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/conclave/config"
)

// ProfileNotFoundError is returned when a referenced profile name has no
// loaded definition.
type ProfileNotFoundError struct {
	Name string
}

func (e *ProfileNotFoundError) Error() string {
	return fmt.Sprintf("profile: %q not found", e.Name)
}

// LoadAll reads every *.yaml/*.yml file in dir into a raw table keyed by
// profile name. Environment variables in file contents are expanded before
// parsing, matching the engine's configuration convention (${VAR},
// ${VAR:-default}, $VAR).
func LoadAll(dir string) (map[string]Raw, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("profile: reading directory %q: %w", dir, err)
	}

	table := make(map[string]Raw)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		if raw.Name == "" {
			return nil, fmt.Errorf("profile: %s: missing required field 'name'", path)
		}
		table[raw.Name] = raw
	}
	return table, nil
}

func loadFile(path string) (Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Raw{}, fmt.Errorf("profile: reading %q: %w", path, err)
	}
	expanded := config.ExpandEnvVars(string(data))

	var raw Raw
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return Raw{}, fmt.Errorf("profile: parsing %q: %w", path, err)
	}
	return raw, nil
}
