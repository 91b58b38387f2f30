package campaign

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultMaxPostsPerRun = 1
	DefaultIntervalHours  = 24
	DefaultTrendsRegion   = "US"
	DefaultTrendsTopN     = 10
)

var validate = validator.New()

// Definition is the YAML/JSON representation of a campaign, used by the
// definitions directory and the HTTP API.
type Definition struct {
	ID           string             `yaml:"id" json:"id,omitempty"`
	Name         string             `yaml:"name" json:"name" validate:"required"`
	Description  string             `yaml:"description" json:"description,omitempty"`
	Status       string             `yaml:"status" json:"status,omitempty" validate:"omitempty,oneof=draft active paused archived"`
	TargetSiteID string             `yaml:"target_site_id" json:"target_site_id" validate:"required"`
	Source       SourceDefinition   `yaml:"source" json:"source"`
	Schedule     ScheduleDefinition `yaml:"schedule" json:"schedule"`
}

type SourceDefinition struct {
	Type string `yaml:"type" json:"type" validate:"required,oneof=keywords rss trends"`

	Keywords     []string `yaml:"keywords" json:"keywords,omitempty" validate:"required_if=Type keywords"`
	CurrentIndex int      `yaml:"current_index" json:"current_index" validate:"min=0"`

	Feeds          []string `yaml:"feeds" json:"feeds,omitempty" validate:"required_if=Type rss,dive,url"`
	ExtractContent bool     `yaml:"extract_content" json:"extract_content,omitempty"`
	Filters        []Filter `yaml:"filters" json:"filters,omitempty" validate:"dive"`

	Region   string `yaml:"region" json:"region,omitempty"`
	Category string `yaml:"category" json:"category,omitempty"`
	TopN     int    `yaml:"top_n" json:"top_n,omitempty" validate:"min=0"`
}

type ScheduleDefinition struct {
	Type           string     `yaml:"type" json:"type" validate:"required,oneof=manual interval"`
	IntervalHours  int        `yaml:"interval_hours" json:"interval_hours,omitempty" validate:"min=0"`
	NextRunAt      *time.Time `yaml:"next_run_at" json:"next_run_at,omitempty"`
	MaxPostsPerRun int        `yaml:"max_posts_per_run" json:"max_posts_per_run" validate:"min=0"`
	PauseOnError   bool       `yaml:"pause_on_error" json:"pause_on_error"`
}

func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return nil
}

// Spec validates the definition, applies defaults and converts it into a
// repository spec.
func (d *Definition) Spec() (Spec, error) {
	if err := d.Validate(); err != nil {
		return Spec{}, err
	}

	source, err := d.Source.Source()
	if err != nil {
		return Spec{}, err
	}

	schedule, err := d.Schedule.Schedule()
	if err != nil {
		return Spec{}, err
	}

	spec := Spec{
		ID:           d.ID,
		Name:         d.Name,
		Description:  d.Description,
		Status:       Status(d.Status),
		TargetSiteID: d.TargetSiteID,
		Source:       source,
		Schedule:     schedule,
	}

	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}

	return spec, nil
}

func (d SourceDefinition) Source() (Source, error) {
	switch SourceType(d.Type) {
	case SourceTypeKeywords:
		return KeywordsSource{Keywords: d.Keywords, CurrentIndex: d.CurrentIndex}, nil
	case SourceTypeRSS:
		return RSSSource{Feeds: d.Feeds, ExtractContent: d.ExtractContent, Filters: d.Filters}, nil
	case SourceTypeTrends:
		src := TrendsSource{Region: d.Region, Category: d.Category, TopN: d.TopN}
		if src.Region == "" {
			src.Region = DefaultTrendsRegion
		}
		if src.TopN == 0 {
			src.TopN = DefaultTrendsTopN
		}
		return src, nil
	default:
		return nil, fmt.Errorf("%w: unknown source type %q", ErrInvalidSpec, d.Type)
	}
}

func (d ScheduleDefinition) Schedule() (Schedule, error) {
	schedule := Schedule{
		MaxPostsPerRun: d.MaxPostsPerRun,
		PauseOnError:   d.PauseOnError,
	}
	if schedule.MaxPostsPerRun == 0 {
		schedule.MaxPostsPerRun = DefaultMaxPostsPerRun
	}

	switch TimingType(d.Type) {
	case TimingManual:
		schedule.Timing = ManualTiming{}
	case TimingInterval:
		hours := d.IntervalHours
		if hours == 0 {
			hours = DefaultIntervalHours
		}
		schedule.Timing = IntervalTiming{Hours: hours, NextRunAt: d.NextRunAt}
	default:
		return Schedule{}, fmt.Errorf("%w: unknown schedule type %q", ErrInvalidSpec, d.Type)
	}

	return schedule, nil
}

// SourceDefinitionOf is the inverse of SourceDefinition.Source.
func SourceDefinitionOf(src Source) SourceDefinition {
	switch s := src.(type) {
	case KeywordsSource:
		return SourceDefinition{Type: string(SourceTypeKeywords), Keywords: s.Keywords, CurrentIndex: s.CurrentIndex}
	case RSSSource:
		return SourceDefinition{Type: string(SourceTypeRSS), Feeds: s.Feeds, ExtractContent: s.ExtractContent, Filters: s.Filters}
	case TrendsSource:
		return SourceDefinition{Type: string(SourceTypeTrends), Region: s.Region, Category: s.Category, TopN: s.TopN}
	default:
		return SourceDefinition{}
	}
}

func ScheduleDefinitionOf(schedule Schedule) ScheduleDefinition {
	def := ScheduleDefinition{
		MaxPostsPerRun: schedule.MaxPostsPerRun,
		PauseOnError:   schedule.PauseOnError,
	}

	switch t := schedule.Timing.(type) {
	case ManualTiming:
		def.Type = string(TimingManual)
	case IntervalTiming:
		def.Type = string(TimingInterval)
		def.IntervalHours = t.Hours
		def.NextRunAt = t.NextRunAt
	}

	return def
}

func DefinitionOf(c *Campaign) Definition {
	return Definition{
		ID:           c.ID,
		Name:         c.Name,
		Description:  c.Description,
		Status:       string(c.Status),
		TargetSiteID: c.TargetSiteID,
		Source:       SourceDefinitionOf(c.Source),
		Schedule:     ScheduleDefinitionOf(c.Schedule),
	}
}
