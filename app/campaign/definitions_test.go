package campaign

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeDefinition(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDefinitionCacheLoadKeywordsCampaign(t *testing.T) {
	tempDir := t.TempDir()

	writeDefinition(t, tempDir, "golang-tips.yml", `
name: "Go tips"
status: active
target_site_id: "blog"
source:
  type: keywords
  keywords: ["channels", "generics"]
schedule:
  type: interval
  interval_hours: 12
  max_posts_per_run: 2
  pause_on_error: true
`)

	cache := NewDefinitionCache(tempDir)
	if err := cache.Run(); err != nil {
		t.Fatal(err)
	}

	if cache.GetDefinitionCount() != 1 {
		t.Fatalf("Expected 1 definition, got %d", cache.GetDefinitionCount())
	}

	def := cache.GetDefinitions()[0]
	if def.ID != "golang-tips" {
		t.Errorf("Expected id 'golang-tips', got '%s'", def.ID)
	}

	spec, err := def.Spec()
	if err != nil {
		t.Fatal(err)
	}

	src, ok := spec.Source.(KeywordsSource)
	if !ok {
		t.Fatalf("Expected KeywordsSource, got %T", spec.Source)
	}
	if len(src.Keywords) != 2 {
		t.Errorf("Expected 2 keywords, got %d", len(src.Keywords))
	}

	timing, ok := spec.Schedule.Timing.(IntervalTiming)
	if !ok {
		t.Fatalf("Expected IntervalTiming, got %T", spec.Schedule.Timing)
	}
	if timing.Hours != 12 {
		t.Errorf("Expected interval 12h, got %d", timing.Hours)
	}
	if spec.Schedule.MaxPostsPerRun != 2 {
		t.Errorf("Expected max posts 2, got %d", spec.Schedule.MaxPostsPerRun)
	}
	if !spec.Schedule.PauseOnError {
		t.Error("Expected pause on error to be enabled")
	}
}

func TestDefinitionCacheAppliesDefaults(t *testing.T) {
	tempDir := t.TempDir()

	writeDefinition(t, tempDir, "trending.yaml", `
name: "Trending"
target_site_id: "news"
source:
  type: trends
schedule:
  type: interval
`)

	cache := NewDefinitionCache(tempDir)
	if err := cache.Run(); err != nil {
		t.Fatal(err)
	}

	spec, err := cache.GetDefinitions()[0].Spec()
	if err != nil {
		t.Fatal(err)
	}

	src := spec.Source.(TrendsSource)
	if src.Region != DefaultTrendsRegion {
		t.Errorf("Expected default region %s, got %s", DefaultTrendsRegion, src.Region)
	}
	if src.TopN != DefaultTrendsTopN {
		t.Errorf("Expected default top_n %d, got %d", DefaultTrendsTopN, src.TopN)
	}
	if spec.Schedule.MaxPostsPerRun != DefaultMaxPostsPerRun {
		t.Errorf("Expected default max posts %d, got %d", DefaultMaxPostsPerRun, spec.Schedule.MaxPostsPerRun)
	}
	if spec.Schedule.Timing.(IntervalTiming).Hours != DefaultIntervalHours {
		t.Errorf("Expected default interval %d", DefaultIntervalHours)
	}
	if spec.Status != "" {
		t.Errorf("Expected empty status to be passed through, got %s", spec.Status)
	}
}

func TestDefinitionCacheInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing site", `
name: "No site"
source: {type: keywords, keywords: [a]}
schedule: {type: manual}
`},
		{"unknown source", `
name: "Bad source"
target_site_id: blog
source: {type: podcasts}
schedule: {type: manual}
`},
		{"rss without feeds", `
name: "Empty rss"
target_site_id: blog
source: {type: rss}
schedule: {type: manual}
`},
		{"bad feed url", `
name: "Bad url"
target_site_id: blog
source: {type: rss, feeds: ["not a url"]}
schedule: {type: manual}
`},
		{"bad filter field", `
name: "Bad filter"
target_site_id: blog
source:
  type: rss
  feeds: ["https://example.com/feed.xml"]
  filters:
    - field: body
      includes: [go]
schedule: {type: manual}
`},
		{"negative max posts", `
name: "Negative"
target_site_id: blog
source: {type: keywords, keywords: [a]}
schedule: {type: manual, max_posts_per_run: -1}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			writeDefinition(t, tempDir, "invalid.yml", tt.content)

			err := NewDefinitionCache(tempDir).Run()
			if err == nil {
				t.Fatal("Expected error for invalid definition")
			}
			if !errors.Is(err, ErrInvalidSpec) {
				t.Errorf("Expected ErrInvalidSpec, got %v", err)
			}
		})
	}
}

func TestDefinitionCacheMissingDirectory(t *testing.T) {
	cache := NewDefinitionCache(filepath.Join(t.TempDir(), "missing"))
	if err := cache.Run(); err != nil {
		t.Fatal(err)
	}
	if cache.GetDefinitionCount() != 0 {
		t.Errorf("Expected 0 definitions, got %d", cache.GetDefinitionCount())
	}
}

func TestDefinitionCacheOrderedByID(t *testing.T) {
	tempDir := t.TempDir()
	for _, name := range []string{"c.yml", "a.yml", "b.yml"} {
		writeDefinition(t, tempDir, name, `
name: "x"
target_site_id: blog
source: {type: keywords, keywords: [a]}
schedule: {type: manual}
`)
	}

	cache := NewDefinitionCache(tempDir)
	if err := cache.Run(); err != nil {
		t.Fatal(err)
	}

	defs := cache.GetDefinitions()
	for i, want := range []string{"a", "b", "c"} {
		if defs[i].ID != want {
			t.Errorf("Expected definition %d to be %s, got %s", i, want, defs[i].ID)
		}
	}
}

func TestDefinitionRoundTrip(t *testing.T) {
	c := &Campaign{
		ID:           "rss-1",
		Name:         "Feeds",
		Status:       StatusActive,
		TargetSiteID: "blog",
		Source: RSSSource{
			Feeds:   []string{"https://example.com/feed.xml"},
			Filters: []Filter{{Field: "title", Excludes: []string{"sponsored"}}},
		},
		Schedule: Schedule{Timing: ManualTiming{}, MaxPostsPerRun: 3},
	}

	def := DefinitionOf(c)
	spec, err := def.Spec()
	if err != nil {
		t.Fatal(err)
	}

	src := spec.Source.(RSSSource)
	if len(src.Filters) != 1 || src.Filters[0].Excludes[0] != "sponsored" {
		t.Errorf("Expected filters to survive conversion, got %+v", src.Filters)
	}
	if spec.Schedule.Timing.Type() != TimingManual {
		t.Errorf("Expected manual timing, got %s", spec.Schedule.Timing.Type())
	}
}
