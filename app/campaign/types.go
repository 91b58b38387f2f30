package campaign

import (
	"slices"
	"time"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusPaused, StatusArchived:
		return true
	}
	return false
}

type SourceType string

const (
	SourceTypeKeywords SourceType = "keywords"
	SourceTypeRSS      SourceType = "rss"
	SourceTypeTrends   SourceType = "trends"
)

// Source is one of KeywordsSource, RSSSource or TrendsSource.
type Source interface {
	Type() SourceType
	isSource()
}

type KeywordsSource struct {
	Keywords     []string
	CurrentIndex int // keywords before this index were consumed by earlier runs
}

type RSSSource struct {
	Feeds          []string
	ExtractContent bool
	Filters        []Filter
}

type TrendsSource struct {
	Region   string
	Category string
	TopN     int
}

func (KeywordsSource) Type() SourceType { return SourceTypeKeywords }
func (RSSSource) Type() SourceType      { return SourceTypeRSS }
func (TrendsSource) Type() SourceType   { return SourceTypeTrends }

func (KeywordsSource) isSource() {}
func (RSSSource) isSource()      {}
func (TrendsSource) isSource()   {}

// Filter drops RSS entries whose field does not match the include list or
// matches the exclude list. Matching is a case-insensitive substring test.
type Filter struct {
	Field    string   `yaml:"field" json:"field" validate:"oneof=title description content authors link categories"`
	Includes []string `yaml:"includes" json:"includes,omitempty"`
	Excludes []string `yaml:"excludes" json:"excludes,omitempty"`
}

type TimingType string

const (
	TimingManual   TimingType = "manual"
	TimingInterval TimingType = "interval"
)

// Timing is either ManualTiming or IntervalTiming.
type Timing interface {
	Type() TimingType
	isTiming()
}

type ManualTiming struct{}

type IntervalTiming struct {
	Hours     int
	NextRunAt *time.Time
}

func (ManualTiming) Type() TimingType   { return TimingManual }
func (IntervalTiming) Type() TimingType { return TimingInterval }

func (ManualTiming) isTiming()   {}
func (IntervalTiming) isTiming() {}

func (t IntervalTiming) Interval() time.Duration {
	return time.Duration(t.Hours) * time.Hour
}

type Schedule struct {
	Timing         Timing
	MaxPostsPerRun int
	PauseOnError   bool
}

type Stats struct {
	TotalGenerated int64 `json:"total_generated"`
	TotalPublished int64 `json:"total_published"`
	TotalFailed    int64 `json:"total_failed"`
}

type Campaign struct {
	ID           string
	Name         string
	Description  string
	Status       Status
	TargetSiteID string
	Source       Source
	Schedule     Schedule
	Stats        Stats
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsDue reports whether the campaign should be picked up by a sweep at now.
func (c *Campaign) IsDue(now time.Time) bool {
	if c.Status != StatusActive {
		return false
	}
	interval, ok := c.Schedule.Timing.(IntervalTiming)
	if !ok || interval.NextRunAt == nil {
		return false
	}
	return !interval.NextRunAt.After(now)
}

// Clone returns a deep copy so callers never share slices with a store.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	out := *c
	out.Source = cloneSource(c.Source)
	out.Schedule.Timing = cloneTiming(c.Schedule.Timing)
	return &out
}

func cloneSource(src Source) Source {
	switch s := src.(type) {
	case KeywordsSource:
		s.Keywords = slices.Clone(s.Keywords)
		return s
	case RSSSource:
		s.Feeds = slices.Clone(s.Feeds)
		filters := make([]Filter, len(s.Filters))
		for i, f := range s.Filters {
			filters[i] = Filter{Field: f.Field, Includes: slices.Clone(f.Includes), Excludes: slices.Clone(f.Excludes)}
		}
		s.Filters = filters
		return s
	default:
		return src
	}
}

func cloneTiming(timing Timing) Timing {
	if t, ok := timing.(IntervalTiming); ok && t.NextRunAt != nil {
		next := *t.NextRunAt
		t.NextRunAt = &next
		return t
	}
	return timing
}

// WorkItem is a single unit of content work produced by a source resolution.
// It is never persisted.
type WorkItem struct {
	ID         string     `json:"id"`
	Topic      string     `json:"topic"`
	SourceType SourceType `json:"source_type"`
	Link       string     `json:"link,omitempty"`
	Context    string     `json:"context,omitempty"`
}
