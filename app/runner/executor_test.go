package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/post-comb/app/campaign"
	"github.com/lysyi3m/post-comb/app/pipeline"
	"github.com/lysyi3m/post-comb/app/store"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakePublisher struct {
	mu        sync.Mutex
	calls     []string
	failures  map[string]error
	generated bool
	stages    []string
	onPublish func(ctx context.Context, req pipeline.Request) error
}

func (p *fakePublisher) Publish(ctx context.Context, req pipeline.Request) (*pipeline.Publication, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req.Item.Topic)
	p.mu.Unlock()

	if p.onPublish != nil {
		if err := p.onPublish(ctx, req); err != nil {
			return nil, err
		}
	}
	if err := p.failures[req.Item.Topic]; err != nil {
		return nil, err
	}
	return &pipeline.Publication{
		PostURL:   "https://blog.example.com/" + req.Item.Topic,
		Generated: p.generated,
		Stages:    p.stages,
	}, nil
}

func (p *fakePublisher) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

var site = pipeline.SiteStatus{ID: "blog", Status: pipeline.SiteStateConnected}

func workItems(topics ...string) []campaign.WorkItem {
	items := make([]campaign.WorkItem, len(topics))
	for i, topic := range topics {
		items[i] = campaign.WorkItem{ID: "item-" + topic, Topic: topic, SourceType: campaign.SourceTypeKeywords}
	}
	return items
}

func createCampaign(t *testing.T, repo campaign.Repository, keywords []string, maxPosts int, pauseOnError bool, timing campaign.Timing) *campaign.Campaign {
	t.Helper()
	c, err := repo.Create(campaign.Spec{
		Name:         "test",
		Status:       campaign.StatusActive,
		TargetSiteID: "blog",
		Source:       campaign.KeywordsSource{Keywords: keywords},
		Schedule:     campaign.Schedule{Timing: timing, MaxPostsPerRun: maxPosts, PauseOnError: pauseOnError},
	})
	require.NoError(t, err)
	return c
}

func newExecutor(repo campaign.Repository, publisher pipeline.Publisher, opts ...Option) *Executor {
	return NewExecutor(repo, publisher, append([]Option{WithClock(func() time.Time { return baseTime })}, opts...)...)
}

func reload(t *testing.T, repo campaign.Repository, id string) *campaign.Campaign {
	t.Helper()
	c, err := repo.Get(id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func TestExecute_RespectsMaxPostsPerRun(t *testing.T) {
	repo := store.NewMemory()
	c := createCampaign(t, repo, []string{"a", "b", "c"}, 2, false, campaign.ManualTiming{})
	publisher := &fakePublisher{}

	result, err := newExecutor(repo, publisher).Execute(context.Background(), c, workItems("a", "b", "c"), site)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, publisher.Calls())
	assert.Equal(t, 2, result.Published)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, campaign.RunStatusCompleted, result.Status)
	assert.Equal(t, int64(2), reload(t, repo, c.ID).Stats.TotalPublished)
}

func TestExecute_PauseOnErrorStopsProcessing(t *testing.T) {
	repo := store.NewMemory()
	c := createCampaign(t, repo, []string{"a", "b", "c", "d"}, 10, true, campaign.ManualTiming{})
	publisher := &fakePublisher{failures: map[string]error{"c": errors.New("generation failed")}}

	result, err := newExecutor(repo, publisher).Execute(context.Background(), c, workItems("a", "b", "c", "d"), site)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, publisher.Calls())
	assert.True(t, result.Paused)
	assert.Equal(t, 2, result.Published)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, campaign.RunStatusCompleted, result.Status)

	stored := reload(t, repo, c.ID)
	assert.Equal(t, campaign.StatusPaused, stored.Status)
	assert.Equal(t, int64(2), stored.Stats.TotalPublished)
	assert.Equal(t, int64(1), stored.Stats.TotalFailed)

	run, err := repo.GetRun(result.RunID)
	require.NoError(t, err)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, campaign.StageGenerate, run.Errors[0].Stage)
	assert.Equal(t, "generation failed", run.Errors[0].Message)
}

func TestExecute_ContinuesAfterFailureWithoutPause(t *testing.T) {
	repo := store.NewMemory()
	c := createCampaign(t, repo, []string{"a", "b", "c"}, 10, false, campaign.ManualTiming{})
	publisher := &fakePublisher{failures: map[string]error{"a": errors.New("boom")}}

	result, err := newExecutor(repo, publisher).Execute(context.Background(), c, workItems("a", "b", "c"), site)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, publisher.Calls())
	assert.False(t, result.Paused)
	assert.Equal(t, campaign.RunStatusCompleted, result.Status)
	assert.False(t, result.Items[0].Success)
	assert.Equal(t, "boom", result.Items[0].Error)
	assert.True(t, result.Items[1].Success)
	assert.Equal(t, "https://blog.example.com/b", result.Items[1].PostURL)
	assert.Equal(t, campaign.StatusActive, reload(t, repo, c.ID).Status)
}

func TestExecute_AllFailedIsFailedRun(t *testing.T) {
	repo := store.NewMemory()
	c := createCampaign(t, repo, []string{"a", "b"}, 10, false, campaign.ManualTiming{})
	publisher := &fakePublisher{failures: map[string]error{"a": errors.New("x"), "b": errors.New("y")}}

	result, err := newExecutor(repo, publisher).Execute(context.Background(), c, workItems("a", "b"), site)
	require.NoError(t, err)

	assert.Equal(t, campaign.RunStatusFailed, result.Status)
	run, err := repo.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, campaign.RunStatusFailed, run.Status)
	assert.Len(t, run.Errors, 2)
	require.NotNil(t, run.CompletedAt)
}

func TestExecute_ZeroItemsIsFailedRun(t *testing.T) {
	repo := store.NewMemory()
	c := createCampaign(t, repo, []string{"a"}, 1, true, campaign.ManualTiming{})
	publisher := &fakePublisher{}

	result, err := newExecutor(repo, publisher).Execute(context.Background(), c, nil, site)
	require.NoError(t, err)

	assert.Equal(t, campaign.RunStatusFailed, result.Status)
	assert.Empty(t, result.Items)
	assert.Empty(t, publisher.Calls())

	stored := reload(t, repo, c.ID)
	assert.Equal(t, campaign.Stats{}, stored.Stats)
	assert.Equal(t, campaign.StatusActive, stored.Status)

	history, err := repo.GetRunHistory(c.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, campaign.RunStatusFailed, history[0].Status)
}

func TestExecute_KeywordScenario(t *testing.T) {
	t.Run("first keyword fails and pauses", func(t *testing.T) {
		repo := store.NewMemory()
		c := createCampaign(t, repo, []string{"a", "b"}, 1, true, campaign.ManualTiming{})
		publisher := &fakePublisher{failures: map[string]error{"a": errors.New("failed")}}

		result, err := newExecutor(repo, publisher).Execute(context.Background(), c, workItems("a", "b"), site)
		require.NoError(t, err)

		assert.Equal(t, []string{"a"}, publisher.Calls())
		assert.True(t, result.Paused)
		assert.Equal(t, campaign.StatusPaused, reload(t, repo, c.ID).Status)
	})

	t.Run("first keyword succeeds", func(t *testing.T) {
		repo := store.NewMemory()
		c := createCampaign(t, repo, []string{"a", "b"}, 1, true, campaign.ManualTiming{})
		publisher := &fakePublisher{}

		result, err := newExecutor(repo, publisher).Execute(context.Background(), c, workItems("a", "b"), site)
		require.NoError(t, err)

		assert.Equal(t, []string{"a"}, publisher.Calls())
		assert.False(t, result.Paused)

		stored := reload(t, repo, c.ID)
		assert.Equal(t, campaign.StatusActive, stored.Status)
		assert.Equal(t, int64(1), stored.Stats.TotalPublished)
		assert.Equal(t, int64(0), stored.Stats.TotalGenerated)
	})
}

func TestExecute_GeneratedAndStages(t *testing.T) {
	repo := store.NewMemory()
	c := createCampaign(t, repo, []string{"a", "b"}, 2, false, campaign.ManualTiming{})
	publisher := &fakePublisher{generated: true, stages: []string{"generate", "image", "publish"}}

	result, err := newExecutor(repo, publisher).Execute(context.Background(), c, workItems("a", "b"), site)
	require.NoError(t, err)

	stored := reload(t, repo, c.ID)
	assert.Equal(t, int64(2), stored.Stats.TotalGenerated)
	assert.Equal(t, int64(2), stored.Stats.TotalPublished)

	run, err := repo.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, []string{"generate", "image", "publish"}, run.Stages)
}

func TestExecute_DefaultStage(t *testing.T) {
	repo := store.NewMemory()
	c := createCampaign(t, repo, []string{"a"}, 1, false, campaign.ManualTiming{})

	result, err := newExecutor(repo, &fakePublisher{}).Execute(context.Background(), c, workItems("a"), site)
	require.NoError(t, err)

	run, err := repo.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, []string{campaign.StagePublish}, run.Stages)
}

func TestExecute_RunRecordedBeforeFirstItem(t *testing.T) {
	repo := store.NewMemory()
	c := createCampaign(t, repo, []string{"a"}, 1, false, campaign.ManualTiming{})

	var seen []campaign.Run
	publisher := &fakePublisher{onPublish: func(ctx context.Context, req pipeline.Request) error {
		history, err := repo.GetRunHistory(req.Campaign.ID)
		require.NoError(t, err)
		seen = history
		return nil
	}}

	_, err := newExecutor(repo, publisher).Execute(context.Background(), c, workItems("a"), site)
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, campaign.RunStatusRunning, seen[0].Status)
}

func TestExecute_AdvancesKeywordIndexPerAttempt(t *testing.T) {
	repo := store.NewMemory()
	c := createCampaign(t, repo, []string{"a", "b", "c", "d"}, 3, false, campaign.ManualTiming{})
	publisher := &fakePublisher{failures: map[string]error{"b": errors.New("x")}}

	_, err := newExecutor(repo, publisher).Execute(context.Background(), c, workItems("a", "b", "c", "d"), site)
	require.NoError(t, err)

	src, ok := reload(t, repo, c.ID).Source.(campaign.KeywordsSource)
	require.True(t, ok)
	assert.Equal(t, 3, src.CurrentIndex)
}

func TestExecute_NonKeywordSourceKeepsIndex(t *testing.T) {
	repo := store.NewMemory()
	c, err := repo.Create(campaign.Spec{
		Name:         "rss",
		Status:       campaign.StatusActive,
		TargetSiteID: "blog",
		Source:       campaign.RSSSource{Feeds: []string{"https://example.com/feed"}},
		Schedule:     campaign.Schedule{Timing: campaign.ManualTiming{}, MaxPostsPerRun: 1},
	})
	require.NoError(t, err)

	result, err := newExecutor(repo, &fakePublisher{}).Execute(context.Background(), c, workItems("x"), site)
	require.NoError(t, err)
	assert.Equal(t, campaign.RunStatusCompleted, result.Status)
	assert.Equal(t, c.Source, reload(t, repo, c.ID).Source)
}

func TestExecute_IntervalScheduleAdvancesNextRun(t *testing.T) {
	for name, failing := range map[string]bool{"success": false, "failure": true} {
		t.Run(name, func(t *testing.T) {
			repo := store.NewMemory()
			due := baseTime.Add(-time.Hour)
			c := createCampaign(t, repo, []string{"a"}, 1, false, campaign.IntervalTiming{Hours: 6, NextRunAt: &due})

			publisher := &fakePublisher{}
			if failing {
				publisher.failures = map[string]error{"a": errors.New("x")}
			}

			_, err := newExecutor(repo, publisher).Execute(context.Background(), c, workItems("a"), site)
			require.NoError(t, err)

			timing, ok := reload(t, repo, c.ID).Schedule.Timing.(campaign.IntervalTiming)
			require.True(t, ok)
			require.NotNil(t, timing.NextRunAt)
			assert.True(t, timing.NextRunAt.Equal(baseTime.Add(6*time.Hour)), "next run at %s", timing.NextRunAt)
		})
	}
}

func TestExecute_ItemTimeoutIsFailure(t *testing.T) {
	repo := store.NewMemory()
	c := createCampaign(t, repo, []string{"slow", "fast"}, 2, false, campaign.ManualTiming{})
	publisher := &fakePublisher{onPublish: func(ctx context.Context, req pipeline.Request) error {
		if req.Item.Topic != "slow" {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	}}

	result, err := newExecutor(repo, publisher, WithItemTimeout(20*time.Millisecond)).
		Execute(context.Background(), c, workItems("slow", "fast"), site)
	require.NoError(t, err)

	require.Len(t, result.Items, 2)
	assert.False(t, result.Items[0].Success)
	assert.Contains(t, result.Items[0].Error, "timed out")
	assert.True(t, result.Items[1].Success)
	assert.Equal(t, int64(1), reload(t, repo, c.ID).Stats.TotalFailed)
}

func TestExecute_CancellationStopsBeforeNextItem(t *testing.T) {
	repo := store.NewMemory()
	c := createCampaign(t, repo, []string{"a", "b", "c"}, 3, true, campaign.ManualTiming{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := &fakePublisher{onPublish: func(_ context.Context, req pipeline.Request) error {
		if req.Item.Topic == "a" {
			cancel()
		}
		return nil
	}}

	result, err := newExecutor(repo, publisher).Execute(ctx, c, workItems("a", "b", "c"), site)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, publisher.Calls())
	assert.Equal(t, campaign.RunStatusCompleted, result.Status)
	assert.False(t, result.Paused)

	run, err := repo.GetRun(result.RunID)
	require.NoError(t, err)
	assert.True(t, run.Status.Terminal())
}

func TestExecute_CancelledInFlightDoesNotPause(t *testing.T) {
	repo := store.NewMemory()
	c := createCampaign(t, repo, []string{"a", "b"}, 2, true, campaign.ManualTiming{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := &fakePublisher{onPublish: func(ctx context.Context, req pipeline.Request) error {
		cancel()
		return ctx.Err()
	}}

	result, err := newExecutor(repo, publisher).Execute(ctx, c, workItems("a", "b"), site)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, publisher.Calls())
	assert.False(t, result.Paused)
	assert.Equal(t, campaign.RunStatusFailed, result.Status)
	assert.Equal(t, campaign.StatusActive, reload(t, repo, c.ID).Status)
}

func TestExecute_OkFailOkSequence(t *testing.T) {
	for name, pause := range map[string]bool{"pause on error": true, "no pause": false} {
		t.Run(name, func(t *testing.T) {
			repo := store.NewMemory()
			c := createCampaign(t, repo, []string{"ok1", "fail", "ok2"}, 3, pause, campaign.ManualTiming{})
			publisher := &fakePublisher{failures: map[string]error{"fail": errors.New("x")}}

			result, err := newExecutor(repo, publisher).Execute(context.Background(), c, workItems("ok1", "fail", "ok2"), site)
			require.NoError(t, err)

			stored := reload(t, repo, c.ID)
			assert.Equal(t, int64(1), stored.Stats.TotalFailed)
			assert.Equal(t, campaign.RunStatusCompleted, result.Status)

			if pause {
				assert.Equal(t, []string{"ok1", "fail"}, publisher.Calls())
				assert.Equal(t, campaign.StatusPaused, stored.Status)
				assert.Equal(t, int64(1), stored.Stats.TotalPublished)
			} else {
				assert.Equal(t, []string{"ok1", "fail", "ok2"}, publisher.Calls())
				assert.Equal(t, campaign.StatusActive, stored.Status)
				assert.Equal(t, int64(2), stored.Stats.TotalPublished)
			}
		})
	}
}
