package campaign

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefinitionCache loads campaign definitions from a directory of YAML files.
// The file name without extension is the campaign id unless the file sets one.
type DefinitionCache struct {
	dir   string
	cache map[string]*Definition
	mu    sync.RWMutex
}

func NewDefinitionCache(dir string) *DefinitionCache {
	return &DefinitionCache{
		dir:   dir,
		cache: make(map[string]*Definition),
	}
}

func (dc *DefinitionCache) Run() error {
	if _, err := os.Stat(dc.dir); os.IsNotExist(err) {
		return nil
	}

	var files []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(dc.dir, pattern))
		if err != nil {
			return fmt.Errorf("failed to find YAML files: %w", err)
		}
		files = append(files, matches...)
	}

	for _, file := range files {
		def, err := dc.loadFile(file)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Campaign definition loaded", "campaign", def.ID, "source", def.Source.Type, "schedule", def.Schedule.Type)
	}

	return nil
}

func (dc *DefinitionCache) loadFile(file string) (*Definition, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if def.ID == "" {
		base := filepath.Base(file)
		def.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if _, err := def.Spec(); err != nil {
		return nil, err
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()
	if _, exists := dc.cache[def.ID]; exists {
		return nil, fmt.Errorf("duplicate campaign id %q", def.ID)
	}
	dc.cache[def.ID] = &def

	return &def, nil
}

// GetDefinitions returns the loaded definitions ordered by id.
func (dc *DefinitionCache) GetDefinitions() []*Definition {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	ids := make([]string, 0, len(dc.cache))
	for id := range dc.cache {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	defs := make([]*Definition, 0, len(ids))
	for _, id := range ids {
		defs = append(defs, dc.cache[id])
	}
	return defs
}

func (dc *DefinitionCache) GetDefinitionCount() int {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return len(dc.cache)
}

// Seed creates every definition that the repository does not know yet.
// Existing campaigns keep their stored state.
func Seed(repo Repository, defs []*Definition) (int, error) {
	created := 0
	for _, def := range defs {
		existing, err := repo.Get(def.ID)
		if err != nil {
			return created, fmt.Errorf("failed to look up campaign %s: %w", def.ID, err)
		}
		if existing != nil {
			continue
		}

		spec, err := def.Spec()
		if err != nil {
			return created, fmt.Errorf("invalid campaign %s: %w", def.ID, err)
		}

		c, err := repo.Create(spec)
		if err != nil {
			return created, fmt.Errorf("failed to create campaign %s: %w", def.ID, err)
		}

		slog.Info("Campaign registered", "campaign", c.ID, "name", c.Name, "status", c.Status, "site", c.TargetSiteID)
		created++
	}
	return created, nil
}
