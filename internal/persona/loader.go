package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// FilePattern selects persona files below a directory.
const FilePattern = "**/*.{yaml,yml,json}"

// collection is the multi-persona file layout, keyed by id.
type collection struct {
	Personas map[string]Persona `json:"personas" yaml:"personas"`
}

// LoadFile reads one persona file (JSON or YAML). A file either describes a
// single persona or holds a "personas" map keyed by id. A single persona
// without an id takes the file's base name.
func LoadFile(path string) ([]Persona, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}

	var coll collection
	var single Persona
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &coll); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON persona: %w", err)
		}
		if len(coll.Personas) == 0 {
			if err := json.Unmarshal(data, &single); err != nil {
				return nil, fmt.Errorf("failed to unmarshal JSON persona: %w", err)
			}
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &coll); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML persona: %w", err)
		}
		if len(coll.Personas) == 0 {
			if err := yaml.Unmarshal(data, &single); err != nil {
				return nil, fmt.Errorf("failed to unmarshal YAML persona: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported persona format: %s (use .json or .yaml)", ext)
	}

	var out []Persona
	if len(coll.Personas) > 0 {
		for id, p := range coll.Personas {
			if p.ID == "" {
				p.ID = id
			}
			out = append(out, p)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	} else {
		if single.ID == "" {
			single.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		out = append(out, single)
	}

	for _, p := range out {
		if err := Validate(p); err != nil {
			return nil, fmt.Errorf("%s: persona %q: %w", path, p.ID, err)
		}
	}
	return out, nil
}

// LoadDir loads every persona file below dir in lexical order; later files
// override earlier ones with the same id. A missing dir yields no personas.
func LoadDir(dir string) ([]Persona, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(dir), FilePattern)
	if err != nil {
		return nil, fmt.Errorf("failed to scan persona dir: %w", err)
	}
	sort.Strings(matches)

	byID := make(map[string]Persona)
	var order []string
	for _, m := range matches {
		loaded, err := LoadFile(filepath.Join(dir, filepath.FromSlash(m)))
		if err != nil {
			return nil, err
		}
		for _, p := range loaded {
			if _, seen := byID[p.ID]; !seen {
				order = append(order, p.ID)
			}
			byID[p.ID] = p
		}
	}

	out := make([]Persona, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// isPersonaFile reports whether rel, relative to the watched dir, matches
// FilePattern.
func isPersonaFile(rel string) bool {
	ok, err := doublestar.Match(FilePattern, filepath.ToSlash(rel))
	return err == nil && ok
}
