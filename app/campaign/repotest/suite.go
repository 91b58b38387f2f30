// Package repotest holds behaviour tests shared by every campaign.Repository
// implementation.
package repotest

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/post-comb/app/campaign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// KeywordSpec returns a valid spec for an active interval keywords campaign.
func KeywordSpec(name, siteID string, nextRunAt *time.Time) campaign.Spec {
	return campaign.Spec{
		Name:         name,
		Status:       campaign.StatusActive,
		TargetSiteID: siteID,
		Source:       campaign.KeywordsSource{Keywords: []string{"alpha", "beta", "gamma"}},
		Schedule: campaign.Schedule{
			Timing:         campaign.IntervalTiming{Hours: 6, NextRunAt: nextRunAt},
			MaxPostsPerRun: 2,
		},
	}
}

// ManualSpec returns a valid spec for an active manual campaign.
func ManualSpec(name, siteID string) campaign.Spec {
	return campaign.Spec{
		Name:         name,
		Status:       campaign.StatusActive,
		TargetSiteID: siteID,
		Source:       campaign.RSSSource{Feeds: []string{"https://example.com/feed.xml"}},
		Schedule:     campaign.Schedule{Timing: campaign.ManualTiming{}, MaxPostsPerRun: 1},
	}
}

func timePtr(t time.Time) *time.Time { return &t }

// Run executes the shared suite against repositories built by newRepo.
func Run(t *testing.T, newRepo func(t *testing.T) campaign.Repository) {
	t.Run("CreateAndGet", func(t *testing.T) {
		repo := newRepo(t)

		created, err := repo.Create(KeywordSpec("first", "site-a", timePtr(baseTime)))
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		assert.Equal(t, campaign.Stats{}, created.Stats)

		got, err := repo.Get(created.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "first", got.Name)
		assert.Equal(t, campaign.StatusActive, got.Status)
		assert.Equal(t, []string{"alpha", "beta", "gamma"}, got.Source.(campaign.KeywordsSource).Keywords)
		assert.True(t, got.Schedule.Timing.(campaign.IntervalTiming).NextRunAt.Equal(baseTime))

		missing, err := repo.Get("does-not-exist")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("CreateKeepsExplicitID", func(t *testing.T) {
		repo := newRepo(t)

		spec := ManualSpec("named", "site-a")
		spec.ID = "weekly-digest"
		created, err := repo.Create(spec)
		require.NoError(t, err)
		assert.Equal(t, "weekly-digest", created.ID)

		_, err = repo.Create(spec)
		assert.ErrorIs(t, err, campaign.ErrCampaignExists)
	})

	t.Run("ConcurrentCreateSameID", func(t *testing.T) {
		repo := newRepo(t)

		spec := ManualSpec("raced", "site-a")
		spec.ID = "raced"

		const workers = 8
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = repo.Create(spec)
			}()
		}
		wg.Wait()

		created := 0
		for _, err := range errs {
			switch {
			case err == nil:
				created++
			case errors.Is(err, campaign.ErrCampaignExists):
			default:
				t.Errorf("Expected ErrCampaignExists, got %v", err)
			}
		}
		assert.Equal(t, 1, created)

		all, err := repo.List()
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("CreateRejectsMalformedSpec", func(t *testing.T) {
		repo := newRepo(t)

		spec := ManualSpec("", "site-a")
		_, err := repo.Create(spec)
		assert.ErrorIs(t, err, campaign.ErrInvalidSpec)

		all, err := repo.List()
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("ListBySiteInCreationOrder", func(t *testing.T) {
		repo := newRepo(t)

		var want []string
		for _, name := range []string{"one", "two", "three"} {
			c, err := repo.Create(ManualSpec(name, "site-a"))
			require.NoError(t, err)
			want = append(want, c.ID)
			_, err = repo.Create(ManualSpec(name+"-other", "site-b"))
			require.NoError(t, err)
		}

		list, err := repo.ListBySite("site-a")
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i, c := range list {
			assert.Equal(t, want[i], c.ID)
		}

		empty, err := repo.ListBySite("site-z")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("GetDueCampaignsFilter", func(t *testing.T) {
		repo := newRepo(t)
		now := baseTime

		due, err := repo.Create(KeywordSpec("due", "s", timePtr(now.Add(-time.Hour))))
		require.NoError(t, err)
		dueExactly, err := repo.Create(KeywordSpec("due-exactly", "s", timePtr(now)))
		require.NoError(t, err)
		_, err = repo.Create(KeywordSpec("future", "s", timePtr(now.Add(time.Hour))))
		require.NoError(t, err)
		_, err = repo.Create(ManualSpec("manual", "s"))
		require.NoError(t, err)

		paused, err := repo.Create(KeywordSpec("paused", "s", timePtr(now.Add(-time.Hour))))
		require.NoError(t, err)
		require.NoError(t, repo.Pause(paused.ID))

		draftSpec := KeywordSpec("draft", "s", timePtr(now.Add(-time.Hour)))
		draftSpec.Status = campaign.StatusDraft
		_, err = repo.Create(draftSpec)
		require.NoError(t, err)

		list, err := repo.GetDueCampaigns(now)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, due.ID, list[0].ID)
		assert.Equal(t, dueExactly.ID, list[1].ID)

		farFuture, err := repo.GetDueCampaigns(now.Add(1000 * time.Hour))
		require.NoError(t, err)
		for _, c := range farFuture {
			assert.NotEqual(t, "manual", c.Name, "manual campaigns are never due")
			assert.NotEqual(t, "paused", c.Name, "paused campaigns are never due")
		}
		assert.Len(t, farFuture, 3)
	})

	t.Run("PauseResume", func(t *testing.T) {
		repo := newRepo(t)

		c, err := repo.Create(ManualSpec("x", "s"))
		require.NoError(t, err)

		require.NoError(t, repo.Pause(c.ID))
		got, _ := repo.Get(c.ID)
		assert.Equal(t, campaign.StatusPaused, got.Status)

		require.NoError(t, repo.Resume(c.ID))
		got, _ = repo.Get(c.ID)
		assert.Equal(t, campaign.StatusActive, got.Status)

		assert.NoError(t, repo.Pause("unknown"))
		assert.NoError(t, repo.Resume("unknown"))
	})

	t.Run("IncrementsAreIsolated", func(t *testing.T) {
		repo := newRepo(t)

		a, err := repo.Create(ManualSpec("a", "s"))
		require.NoError(t, err)
		b, err := repo.Create(ManualSpec("b", "s"))
		require.NoError(t, err)

		require.NoError(t, repo.IncrementGenerated(a.ID))
		require.NoError(t, repo.IncrementPublished(a.ID))
		require.NoError(t, repo.IncrementPublished(a.ID))
		require.NoError(t, repo.IncrementFailed(a.ID))

		before, _ := repo.Get(b.ID)
		beforeA, _ := repo.Get(a.ID)

		assert.NoError(t, repo.IncrementGenerated("unknown"))
		assert.NoError(t, repo.IncrementPublished("unknown"))
		assert.NoError(t, repo.IncrementFailed("unknown"))

		afterA, _ := repo.Get(a.ID)
		afterB, _ := repo.Get(b.ID)
		assert.Equal(t, campaign.Stats{TotalGenerated: 1, TotalPublished: 2, TotalFailed: 1}, afterA.Stats)
		assert.Equal(t, beforeA.Stats, afterA.Stats)
		assert.Equal(t, before.Stats, afterB.Stats)
		assert.Equal(t, campaign.Stats{}, afterB.Stats)
	})

	t.Run("AdvanceKeywordIndex", func(t *testing.T) {
		repo := newRepo(t)

		kw, err := repo.Create(KeywordSpec("kw", "s", timePtr(baseTime)))
		require.NoError(t, err)
		rss, err := repo.Create(ManualSpec("rss", "s"))
		require.NoError(t, err)

		require.NoError(t, repo.AdvanceKeywordIndex(kw.ID, 1))
		require.NoError(t, repo.AdvanceKeywordIndex(kw.ID, 2))
		require.NoError(t, repo.AdvanceKeywordIndex(rss.ID, 1))
		require.NoError(t, repo.AdvanceKeywordIndex("unknown", 1))

		got, _ := repo.Get(kw.ID)
		assert.Equal(t, 3, got.Source.(campaign.KeywordsSource).CurrentIndex)
		gotRSS, _ := repo.Get(rss.ID)
		assert.IsType(t, campaign.RSSSource{}, gotRSS.Source)
	})

	t.Run("UpdateNextRun", func(t *testing.T) {
		repo := newRepo(t)

		interval, err := repo.Create(KeywordSpec("interval", "s", timePtr(baseTime)))
		require.NoError(t, err)
		manual, err := repo.Create(ManualSpec("manual", "s"))
		require.NoError(t, err)

		now := baseTime.Add(30 * time.Minute)
		require.NoError(t, repo.UpdateNextRun(interval.ID, now))
		require.NoError(t, repo.UpdateNextRun(manual.ID, now))
		require.NoError(t, repo.UpdateNextRun("unknown", now))

		got, _ := repo.Get(interval.ID)
		next := got.Schedule.Timing.(campaign.IntervalTiming).NextRunAt
		require.NotNil(t, next)
		assert.True(t, next.Equal(now.Add(6*time.Hour)), "next run %v", next)

		gotManual, _ := repo.Get(manual.ID)
		assert.Equal(t, campaign.TimingManual, gotManual.Schedule.Timing.Type())
	})

	t.Run("RunHistoryKeepsCallOrder", func(t *testing.T) {
		repo := newRepo(t)

		c, err := repo.Create(ManualSpec("x", "s"))
		require.NoError(t, err)

		starts := []int64{1000, 2000, 3000}
		statuses := []campaign.RunStatus{campaign.RunStatusFailed, campaign.RunStatusCompleted, ""}
		for i, start := range starts {
			run := campaign.Run{
				ID:         c.ID + "-run-" + string(rune('a'+i)),
				CampaignID: c.ID,
				Status:     campaign.RunStatusRunning,
				StartedAt:  time.UnixMilli(start).UTC(),
			}
			require.NoError(t, repo.AddRunToHistory(run))
			if statuses[i] != "" {
				require.NoError(t, repo.CompleteRun(run.ID, statuses[i], baseTime))
			}
		}
		require.NoError(t, repo.AddRunToHistory(campaign.Run{
			ID: "other", CampaignID: "someone-else", Status: campaign.RunStatusRunning, StartedAt: baseTime,
		}))

		history, err := repo.GetRunHistory(c.ID)
		require.NoError(t, err)
		require.Len(t, history, 3)
		for i, run := range history {
			assert.Equal(t, starts[i], run.StartedAt.UnixMilli())
		}
		assert.Equal(t, campaign.RunStatusFailed, history[0].Status)
		assert.Equal(t, campaign.RunStatusCompleted, history[1].Status)
		assert.Equal(t, campaign.RunStatusRunning, history[2].Status)
		assert.Nil(t, history[2].CompletedAt)
	})

	t.Run("RunErrorsAndStages", func(t *testing.T) {
		repo := newRepo(t)

		run := campaign.Run{ID: "run-1", CampaignID: "c", Status: campaign.RunStatusRunning, StartedAt: baseTime}
		require.NoError(t, repo.AddRunToHistory(run))

		require.NoError(t, repo.AddStageToRun("run-1", "generate"))
		require.NoError(t, repo.AddStageToRun("run-1", "publish"))
		require.NoError(t, repo.AddErrorToRun("run-1", campaign.StageGenerate, "first"))
		require.NoError(t, repo.AddErrorToRun("run-1", campaign.StageGenerate, "second"))
		assert.NoError(t, repo.AddErrorToRun("unknown", campaign.StageGenerate, "ignored"))

		got, err := repo.GetRun("run-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, []string{"generate", "publish"}, got.Stages)
		assert.Equal(t, []campaign.RunError{
			{Stage: campaign.StageGenerate, Message: "first"},
			{Stage: campaign.StageGenerate, Message: "second"},
		}, got.Errors)

		missing, err := repo.GetRun("unknown")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("CompleteRunSetsCompletedAtOnce", func(t *testing.T) {
		repo := newRepo(t)

		run := campaign.Run{ID: "run-1", CampaignID: "c", Status: campaign.RunStatusRunning, StartedAt: baseTime}
		require.NoError(t, repo.AddRunToHistory(run))

		first := baseTime.Add(time.Minute)
		require.NoError(t, repo.CompleteRun("run-1", campaign.RunStatusCompleted, first))
		require.NoError(t, repo.CompleteRun("run-1", campaign.RunStatusFailed, first.Add(time.Hour)))
		require.NoError(t, repo.AddErrorToRun("run-1", campaign.StageGenerate, "late"))
		require.NoError(t, repo.CompleteRun("unknown", campaign.RunStatusFailed, first))

		got, _ := repo.GetRun("run-1")
		assert.Equal(t, campaign.RunStatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(first))
		assert.Empty(t, got.Errors, "terminal runs are immutable")
	})
}
