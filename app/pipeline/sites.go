package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const SiteStateConnected = "connected"

// SiteStatus is the publishing target as seen by the scheduler. Only
// connected sites receive posts.
type SiteStatus struct {
	ID     string `yaml:"id" json:"id" validate:"required"`
	Name   string `yaml:"name" json:"name"`
	URL    string `yaml:"url" json:"url" validate:"omitempty,url"`
	Status string `yaml:"status" json:"status" validate:"required"`
}

func (s *SiteStatus) Connected() bool {
	return s != nil && s.Status == SiteStateConnected
}

type SiteRegistry interface {
	// FetchSiteStatus returns (nil, nil) for unknown sites.
	FetchSiteStatus(ctx context.Context, siteID string) (*SiteStatus, error)
}

type sitesFile struct {
	Sites []SiteStatus `yaml:"sites" validate:"dive"`
}

// YAMLSiteRegistry serves site status from a YAML file. Load may be called
// again at any time to pick up edits.
type YAMLSiteRegistry struct {
	path     string
	sites    map[string]SiteStatus
	mu       sync.RWMutex
	validate *validator.Validate
}

func NewYAMLSiteRegistry(path string) *YAMLSiteRegistry {
	return &YAMLSiteRegistry{
		path:     path,
		sites:    make(map[string]SiteStatus),
		validate: validator.New(),
	}
}

func (r *YAMLSiteRegistry) Load() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Sites file not found, no site is connected", "path", r.path)
		r.replace(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read sites file: %w", err)
	}

	var file sitesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse sites file: %w", err)
	}
	if err := r.validate.Struct(file); err != nil {
		return fmt.Errorf("failed to validate sites file: %w", err)
	}

	seen := make(map[string]bool, len(file.Sites))
	for _, site := range file.Sites {
		if seen[site.ID] {
			return fmt.Errorf("duplicate site id %q", site.ID)
		}
		seen[site.ID] = true
	}

	r.replace(file.Sites)

	slog.Info("Sites loaded", "path", r.path, "count", len(file.Sites))

	return nil
}

func (r *YAMLSiteRegistry) replace(sites []SiteStatus) {
	next := make(map[string]SiteStatus, len(sites))
	for _, site := range sites {
		site.Status = strings.ToLower(strings.TrimSpace(site.Status))
		next[site.ID] = site
	}

	r.mu.Lock()
	r.sites = next
	r.mu.Unlock()
}

func (r *YAMLSiteRegistry) FetchSiteStatus(ctx context.Context, siteID string) (*SiteStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	site, ok := r.sites[siteID]
	if !ok {
		return nil, nil
	}
	return &site, nil
}

// List returns all sites ordered by id.
func (r *YAMLSiteRegistry) List() []SiteStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sites := make([]SiteStatus, 0, len(r.sites))
	for _, site := range r.sites {
		sites = append(sites, site)
	}
	slices.SortFunc(sites, func(a, b SiteStatus) int {
		return strings.Compare(a.ID, b.ID)
	})

	return sites
}
