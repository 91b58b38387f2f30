package api

import (
	"context"
	"time"

	"github.com/lysyi3m/post-comb/app/campaign"
	"github.com/lysyi3m/post-comb/app/pipeline"
	"github.com/lysyi3m/post-comb/app/tasks"
)

type SiteLister interface {
	List() []pipeline.SiteStatus
}

var _ SiteLister = (*pipeline.YAMLSiteRegistry)(nil)

// DefaultWaitTimeout bounds how long trigger and sweep requests wait for
// their task before answering 202.
const DefaultWaitTimeout = 2 * time.Minute

type Handler struct {
	repo        campaign.Repository
	scheduler   tasks.TaskSchedulerInterface
	sites       SiteLister
	startedAt   time.Time
	version     string
	waitTimeout time.Duration
}

type HandlerOption func(*Handler)

func WithWaitTimeout(timeout time.Duration) HandlerOption {
	return func(h *Handler) {
		if timeout > 0 {
			h.waitTimeout = timeout
		}
	}
}

type waitable interface {
	Wait(ctx context.Context) error
	GetID() string
	GetCampaignID() string
}

// CampaignResponse is a campaign rendered in its definition shape plus the
// fields only the engine writes.
type CampaignResponse struct {
	campaign.Definition
	Stats     campaign.Stats `json:"stats"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func newCampaignResponse(c *campaign.Campaign) CampaignResponse {
	return CampaignResponse{
		Definition: campaign.DefinitionOf(c),
		Stats:      c.Stats,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func newCampaignResponses(campaigns []campaign.Campaign) []CampaignResponse {
	out := make([]CampaignResponse, 0, len(campaigns))
	for i := range campaigns {
		out = append(out, newCampaignResponse(&campaigns[i]))
	}
	return out
}
