package campaign

import (
	"slices"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

const (
	// StageGenerate is the stage recorded for publish pipeline failures.
	StageGenerate = "generate"
	// StagePublish is recorded when the pipeline succeeds without naming
	// its stages.
	StagePublish = "publish"
)

type RunError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

type Run struct {
	ID          string     `json:"id"`
	CampaignID  string     `json:"campaign_id"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Stages      []string   `json:"stages"`
	Errors      []RunError `json:"errors"`
}

func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.Stages = slices.Clone(r.Stages)
	out.Errors = slices.Clone(r.Errors)
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		out.CompletedAt = &completed
	}
	return &out
}
