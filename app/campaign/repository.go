package campaign

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidSpec    = errors.New("invalid campaign spec")
	ErrCampaignExists = errors.New("campaign already exists")
)

// Repository stores campaigns and their run history.
//
// Lookups return (nil, nil) when the entity does not exist. Mutators called
// with an unknown campaign or run id are no-ops and return nil; errors are
// reserved for storage failures.
type Repository interface {
	Create(spec Spec) (*Campaign, error)
	Get(id string) (*Campaign, error)
	List() ([]Campaign, error)
	ListBySite(siteID string) ([]Campaign, error)
	GetDueCampaigns(now time.Time) ([]Campaign, error)

	Pause(id string) error
	Resume(id string) error

	IncrementGenerated(id string) error
	IncrementPublished(id string) error
	IncrementFailed(id string) error
	AdvanceKeywordIndex(id string, n int) error
	UpdateNextRun(id string, now time.Time) error

	AddRunToHistory(run Run) error
	AddStageToRun(runID, stage string) error
	AddErrorToRun(runID, stage, message string) error
	CompleteRun(runID string, status RunStatus, at time.Time) error
	GetRun(runID string) (*Run, error)
	GetRunHistory(campaignID string) ([]Run, error)
}

// Spec is the input to Repository.Create.
type Spec struct {
	ID           string
	Name         string
	Description  string
	Status       Status
	TargetSiteID string
	Source       Source
	Schedule     Schedule
}

func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	if s.TargetSiteID == "" {
		return fmt.Errorf("%w: target site is required", ErrInvalidSpec)
	}
	if s.Status != "" && !s.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSpec, s.Status)
	}
	if s.Schedule.MaxPostsPerRun < 1 {
		return fmt.Errorf("%w: max posts per run must be at least 1", ErrInvalidSpec)
	}

	switch src := s.Source.(type) {
	case KeywordsSource:
		if len(src.Keywords) == 0 {
			return fmt.Errorf("%w: keywords source needs at least one keyword", ErrInvalidSpec)
		}
		if src.CurrentIndex < 0 {
			return fmt.Errorf("%w: keyword index must be non-negative", ErrInvalidSpec)
		}
		for i, kw := range src.Keywords {
			if strings.TrimSpace(kw) == "" {
				return fmt.Errorf("%w: keyword %d is blank", ErrInvalidSpec, i)
			}
		}
	case RSSSource:
		if len(src.Feeds) == 0 {
			return fmt.Errorf("%w: rss source needs at least one feed", ErrInvalidSpec)
		}
	case TrendsSource:
		if src.TopN < 0 {
			return fmt.Errorf("%w: trends top_n must be non-negative", ErrInvalidSpec)
		}
	case nil:
		return fmt.Errorf("%w: source is required", ErrInvalidSpec)
	default:
		return fmt.Errorf("%w: unsupported source %T", ErrInvalidSpec, src)
	}

	switch t := s.Schedule.Timing.(type) {
	case ManualTiming:
	case IntervalTiming:
		if t.Hours < 1 {
			return fmt.Errorf("%w: interval must be at least one hour", ErrInvalidSpec)
		}
	case nil:
		return fmt.Errorf("%w: schedule is required", ErrInvalidSpec)
	default:
		return fmt.Errorf("%w: unsupported schedule %T", ErrInvalidSpec, t)
	}

	return nil
}

// NewCampaign builds the initial entity for a validated spec. Interval
// campaigns without a next run time become due immediately.
func NewCampaign(id string, spec Spec, now time.Time) *Campaign {
	status := spec.Status
	if status == "" {
		status = StatusDraft
	}

	c := &Campaign{
		ID:           id,
		Name:         spec.Name,
		Description:  spec.Description,
		Status:       status,
		TargetSiteID: spec.TargetSiteID,
		Source:       spec.Source,
		Schedule:     spec.Schedule,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if interval, ok := c.Schedule.Timing.(IntervalTiming); ok && interval.NextRunAt == nil {
		next := now
		interval.NextRunAt = &next
		c.Schedule.Timing = interval
	}

	return c.Clone()
}
