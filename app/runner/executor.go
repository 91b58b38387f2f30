package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/post-comb/app/campaign"
	"github.com/lysyi3m/post-comb/app/pipeline"
)

const DefaultItemTimeout = 5 * time.Minute

type ItemOutcome struct {
	ItemID  string `json:"item_id"`
	Topic   string `json:"topic"`
	Success bool   `json:"success"`
	PostURL string `json:"post_url,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Result struct {
	RunID     string             `json:"run_id"`
	Status    campaign.RunStatus `json:"status"`
	Items     []ItemOutcome      `json:"items"`
	Published int                `json:"published"`
	Failed    int                `json:"failed"`
	Paused    bool               `json:"paused"`
}

// Executor drives a batch of work items through the publish pipeline one at
// a time and records the run.
type Executor struct {
	repo        campaign.Repository
	publisher   pipeline.Publisher
	itemTimeout time.Duration
	now         func() time.Time
}

type Option func(*Executor)

func WithItemTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		if timeout > 0 {
			e.itemTimeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

func NewExecutor(repo campaign.Repository, publisher pipeline.Publisher, opts ...Option) *Executor {
	e := &Executor{
		repo:        repo,
		publisher:   publisher,
		itemTimeout: DefaultItemTimeout,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute processes at most Schedule.MaxPostsPerRun items in order. The run
// is completed when at least one item was published and failed otherwise,
// including when there was nothing to process. Pipeline failures never
// surface as errors; the error return is reserved for failures to record
// the run itself.
func (e *Executor) Execute(ctx context.Context, c *campaign.Campaign, items []campaign.WorkItem, site pipeline.SiteStatus) (*Result, error) {
	run := campaign.Run{
		ID:         uuid.NewString(),
		CampaignID: c.ID,
		Status:     campaign.RunStatusRunning,
		StartedAt:  e.now(),
	}
	if err := e.repo.AddRunToHistory(run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	slog.Info("Run started", "campaign_id", c.ID, "run_id", run.ID, "items", len(items))

	result := &Result{RunID: run.ID, Items: []ItemOutcome{}}

	limit := min(len(items), max(c.Schedule.MaxPostsPerRun, 0))
	_, rotates := c.Source.(campaign.KeywordsSource)
	recorded := make(map[string]bool)

	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			slog.Warn("Run interrupted", "campaign_id", c.ID, "run_id", run.ID, "processed", i, "error", ctx.Err())
			break
		}

		outcome, stages := e.processItem(ctx, c, run.ID, items[i], site)
		result.Items = append(result.Items, outcome)

		for _, stage := range stages {
			if recorded[stage] {
				continue
			}
			recorded[stage] = true
			e.logStoreError(e.repo.AddStageToRun(run.ID, stage), "record run stage", c.ID)
		}

		if rotates {
			e.logStoreError(e.repo.AdvanceKeywordIndex(c.ID, 1), "advance keyword index", c.ID)
		}

		if outcome.Success {
			result.Published++
			continue
		}
		result.Failed++

		if ctx.Err() != nil {
			continue
		}

		if c.Schedule.PauseOnError {
			e.logStoreError(e.repo.Pause(c.ID), "pause campaign", c.ID)
			result.Paused = true
			slog.Warn("Campaign paused after failure", "campaign_id", c.ID, "run_id", run.ID, "item", outcome.Topic)
			break
		}
	}

	result.Status = campaign.RunStatusFailed
	if result.Published > 0 {
		result.Status = campaign.RunStatusCompleted
	}

	finishedAt := e.now()
	if err := e.repo.CompleteRun(run.ID, result.Status, finishedAt); err != nil {
		return result, fmt.Errorf("failed to complete run: %w", err)
	}

	if _, ok := c.Schedule.Timing.(campaign.IntervalTiming); ok {
		e.logStoreError(e.repo.UpdateNextRun(c.ID, finishedAt), "update next run", c.ID)
	}

	slog.Info("Run finished",
		"campaign_id", c.ID,
		"run_id", run.ID,
		"status", result.Status,
		"published", result.Published,
		"failed", result.Failed,
		"paused", result.Paused)

	return result, nil
}

// processItem publishes one item and updates the campaign stats. It returns
// the pipeline stages the item went through.
func (e *Executor) processItem(ctx context.Context, c *campaign.Campaign, runID string, item campaign.WorkItem, site pipeline.SiteStatus) (ItemOutcome, []string) {
	outcome := ItemOutcome{ItemID: item.ID, Topic: item.Topic}

	itemCtx, cancel := context.WithTimeout(ctx, e.itemTimeout)
	defer cancel()

	publication, err := e.publisher.Publish(itemCtx, pipeline.NewRequest(c, item, site))
	if err == nil && publication == nil {
		err = errors.New("pipeline returned no result")
	}
	if err != nil {
		if errors.Is(itemCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("pipeline timed out after %s: %w", e.itemTimeout, err)
		}

		outcome.Error = err.Error()
		e.logStoreError(e.repo.IncrementFailed(c.ID), "increment failed", c.ID)
		e.logStoreError(e.repo.AddErrorToRun(runID, campaign.StageGenerate, outcome.Error), "record run error", c.ID)

		slog.Warn("Item failed", "campaign_id", c.ID, "run_id", runID, "topic", item.Topic, "error", err)
		return outcome, nil
	}

	outcome.Success = true
	outcome.PostURL = publication.PostURL

	if publication.Generated {
		e.logStoreError(e.repo.IncrementGenerated(c.ID), "increment generated", c.ID)
	}
	e.logStoreError(e.repo.IncrementPublished(c.ID), "increment published", c.ID)

	slog.Debug("Item published", "campaign_id", c.ID, "run_id", runID, "topic", item.Topic, "post_url", publication.PostURL)

	if len(publication.Stages) == 0 {
		return outcome, []string{campaign.StagePublish}
	}
	return outcome, publication.Stages
}

func (e *Executor) logStoreError(err error, action, campaignID string) {
	if err != nil {
		slog.Error("Failed to "+action, "campaign_id", campaignID, "error", err)
	}
}
