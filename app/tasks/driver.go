package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/post-comb/app/campaign"
	"github.com/lysyi3m/post-comb/app/pipeline"
	"github.com/lysyi3m/post-comb/app/runner"
)

var ErrMissingCampaignID = errors.New("campaign id is required")

type Resolver interface {
	Resolve(ctx context.Context, c *campaign.Campaign, limit int) []campaign.WorkItem
}

type Executor interface {
	Execute(ctx context.Context, c *campaign.Campaign, items []campaign.WorkItem, site pipeline.SiteStatus) (*runner.Result, error)
}

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

type CampaignOutcome struct {
	CampaignID string        `json:"campaign_id"`
	Status     OutcomeStatus `json:"status"`
	Items      int           `json:"items,omitempty"`
	RunID      string        `json:"run_id,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

type TriggerResult struct {
	CampaignID string               `json:"campaign_id"`
	Success    bool                 `json:"success"`
	RunID      string               `json:"run_id,omitempty"`
	Items      []runner.ItemOutcome `json:"items"`
	Paused     bool                 `json:"paused"`
	Error      string               `json:"error,omitempty"`
}

// Driver runs due campaigns and manual triggers. Work for one campaign is
// serialised by a per-campaign lock held from source resolution until the
// run is recorded, so keyword rotation never hands out the same keyword
// twice.
type Driver struct {
	repo     campaign.Repository
	sites    pipeline.SiteRegistry
	resolver Resolver
	executor Executor
	locks    *keyedMutex
	now      func() time.Time
}

type DriverOption func(*Driver)

func WithDriverClock(now func() time.Time) DriverOption {
	return func(d *Driver) {
		d.now = now
	}
}

func NewDriver(repo campaign.Repository, sites pipeline.SiteRegistry, resolver Resolver, executor Executor, opts ...DriverOption) *Driver {
	d := &Driver{
		repo:     repo,
		sites:    sites,
		resolver: resolver,
		executor: executor,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Sweep processes every due campaign in turn. A campaign whose site is
// unavailable, or whose source yields nothing, is skipped without creating
// a run. When ctx is cancelled the campaigns not yet reached are reported
// as skipped. The error return is reserved for failing to list due
// campaigns.
func (d *Driver) Sweep(ctx context.Context) ([]CampaignOutcome, error) {
	now := d.now()

	due, err := d.repo.GetDueCampaigns(now)
	if err != nil {
		return nil, fmt.Errorf("failed to get due campaigns: %w", err)
	}

	slog.Debug("Sweep started", "due", len(due))

	outcomes := make([]CampaignOutcome, 0, len(due))
	for i, c := range due {
		if err := ctx.Err(); err != nil {
			slog.Warn("Sweep interrupted", "processed", i, "due", len(due), "error", err)
			for _, rest := range due[i:] {
				outcomes = append(outcomes, CampaignOutcome{
					CampaignID: rest.ID,
					Status:     OutcomeSkipped,
					Reason:     fmt.Sprintf("sweep interrupted: %v", err),
				})
			}
			break
		}

		outcome := d.sweepCampaign(ctx, c.ID, now)
		outcomes = append(outcomes, outcome)

		slog.Info("Campaign processed",
			"campaign_id", c.ID,
			"status", outcome.Status,
			"items", outcome.Items,
			"reason", outcome.Reason)
	}

	return outcomes, nil
}

func (d *Driver) sweepCampaign(ctx context.Context, id string, now time.Time) CampaignOutcome {
	unlock := d.locks.Lock(id)
	defer unlock()

	outcome := CampaignOutcome{CampaignID: id, Status: OutcomeSkipped}

	// Re-read under the lock: a manual trigger may have run or paused it.
	c, err := d.repo.Get(id)
	if err != nil {
		outcome.Reason = fmt.Sprintf("failed to load campaign: %v", err)
		return outcome
	}
	if c == nil || !c.IsDue(now) {
		outcome.Reason = "campaign no longer due"
		return outcome
	}

	site, reason := d.connectedSite(ctx, c)
	if site == nil {
		outcome.Reason = reason
		return outcome
	}

	items := d.resolver.Resolve(ctx, c, c.Schedule.MaxPostsPerRun)
	if len(items) == 0 {
		outcome.Reason = "no work items resolved"
		return outcome
	}

	result, err := d.executor.Execute(ctx, c, items, *site)
	if err != nil {
		outcome.Status = OutcomeFailed
		outcome.Reason = err.Error()
		return outcome
	}

	outcome.RunID = result.RunID
	outcome.Items = len(result.Items)
	if result.Status == campaign.RunStatusCompleted {
		outcome.Status = OutcomeSuccess
	} else {
		outcome.Status = OutcomeFailed
		outcome.Reason = "no item published"
	}

	return outcome
}

// Trigger runs one campaign now regardless of its schedule. Only a missing
// id is returned as an error; every other problem is reported in the
// result.
func (d *Driver) Trigger(ctx context.Context, id string) (*TriggerResult, error) {
	if id == "" {
		return nil, ErrMissingCampaignID
	}

	unlock := d.locks.Lock(id)
	defer unlock()

	result := &TriggerResult{CampaignID: id, Items: []runner.ItemOutcome{}}

	c, err := d.repo.Get(id)
	if err != nil {
		result.Error = fmt.Sprintf("failed to load campaign: %v", err)
		return result, nil
	}
	if c == nil {
		result.Error = "campaign not found"
		return result, nil
	}
	if c.Status != campaign.StatusActive {
		result.Error = fmt.Sprintf("campaign is not active (status: %s)", c.Status)
		return result, nil
	}

	site, reason := d.connectedSite(ctx, c)
	if site == nil {
		result.Error = reason
		return result, nil
	}

	items := d.resolver.Resolve(ctx, c, c.Schedule.MaxPostsPerRun)

	run, err := d.executor.Execute(ctx, c, items, *site)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	result.RunID = run.RunID
	result.Items = run.Items
	result.Paused = run.Paused
	result.Success = run.Published > 0
	if !result.Success {
		if len(items) == 0 {
			result.Error = "no work items resolved"
		} else {
			result.Error = "no item published"
		}
	}

	slog.Info("Campaign triggered",
		"campaign_id", id,
		"run_id", run.RunID,
		"success", result.Success,
		"published", run.Published,
		"failed", run.Failed)

	return result, nil
}

// connectedSite returns the campaign's target site, or nil and the reason
// it cannot receive posts.
func (d *Driver) connectedSite(ctx context.Context, c *campaign.Campaign) (*pipeline.SiteStatus, string) {
	site, err := d.sites.FetchSiteStatus(ctx, c.TargetSiteID)
	if err != nil {
		slog.Warn("Failed to fetch site status", "campaign_id", c.ID, "site_id", c.TargetSiteID, "error", err)
		return nil, fmt.Sprintf("failed to fetch site %s: %v", c.TargetSiteID, err)
	}
	if site == nil {
		return nil, fmt.Sprintf("site %s not found", c.TargetSiteID)
	}
	if !site.Connected() {
		return nil, fmt.Sprintf("site %s is not connected (status: %s)", c.TargetSiteID, site.Status)
	}
	return site, ""
}
