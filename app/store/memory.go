// Package store holds the in-memory campaign repository.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lysyi3m/post-comb/app/campaign"
)

var _ campaign.Repository = (*Memory)(nil)

// Memory is a campaign.Repository kept entirely in process memory. Every
// method takes the store lock, so each mutation is atomic per campaign.
type Memory struct {
	mu        sync.RWMutex
	campaigns map[string]*campaign.Campaign
	order     []string
	runs      map[string]*campaign.Run
	runOrder  []string
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		campaigns: make(map[string]*campaign.Campaign),
		runs:      make(map[string]*campaign.Run),
		now:       time.Now,
	}
}

// WithClock replaces the clock used for creation and update timestamps.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Create(spec campaign.Spec) (*campaign.Campaign, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := m.campaigns[id]; exists {
		return nil, fmt.Errorf("%w: %s", campaign.ErrCampaignExists, id)
	}

	c := campaign.NewCampaign(id, spec, m.now().UTC())
	m.campaigns[id] = c
	m.order = append(m.order, id)

	return c.Clone(), nil
}

func (m *Memory) Get(id string) (*campaign.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.campaigns[id]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

func (m *Memory) List() ([]campaign.Campaign, error) {
	return m.filter(func(*campaign.Campaign) bool { return true }), nil
}

func (m *Memory) ListBySite(siteID string) ([]campaign.Campaign, error) {
	return m.filter(func(c *campaign.Campaign) bool { return c.TargetSiteID == siteID }), nil
}

func (m *Memory) GetDueCampaigns(now time.Time) ([]campaign.Campaign, error) {
	return m.filter(func(c *campaign.Campaign) bool { return c.IsDue(now) }), nil
}

func (m *Memory) filter(keep func(*campaign.Campaign) bool) []campaign.Campaign {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]campaign.Campaign, 0)
	for _, id := range m.order {
		c := m.campaigns[id]
		if keep(c) {
			result = append(result, *c.Clone())
		}
	}
	return result
}

func (m *Memory) Pause(id string) error {
	m.update(id, func(c *campaign.Campaign) { c.Status = campaign.StatusPaused })
	return nil
}

func (m *Memory) Resume(id string) error {
	m.update(id, func(c *campaign.Campaign) { c.Status = campaign.StatusActive })
	return nil
}

func (m *Memory) IncrementGenerated(id string) error {
	m.update(id, func(c *campaign.Campaign) { c.Stats.TotalGenerated++ })
	return nil
}

func (m *Memory) IncrementPublished(id string) error {
	m.update(id, func(c *campaign.Campaign) { c.Stats.TotalPublished++ })
	return nil
}

func (m *Memory) IncrementFailed(id string) error {
	m.update(id, func(c *campaign.Campaign) { c.Stats.TotalFailed++ })
	return nil
}

func (m *Memory) AdvanceKeywordIndex(id string, n int) error {
	m.update(id, func(c *campaign.Campaign) {
		if src, ok := c.Source.(campaign.KeywordsSource); ok {
			src.CurrentIndex += n
			c.Source = src
		}
	})
	return nil
}

func (m *Memory) UpdateNextRun(id string, now time.Time) error {
	m.update(id, func(c *campaign.Campaign) {
		if interval, ok := c.Schedule.Timing.(campaign.IntervalTiming); ok {
			next := now.Add(interval.Interval())
			interval.NextRunAt = &next
			c.Schedule.Timing = interval
		}
	})
	return nil
}

func (m *Memory) update(id string, mutate func(*campaign.Campaign)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[id]
	if !ok {
		return
	}
	mutate(c)
	c.UpdatedAt = m.now().UTC()
}

func (m *Memory) AddRunToHistory(run campaign.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	m.runs[run.ID] = run.Clone()
	m.runOrder = append(m.runOrder, run.ID)
	return nil
}

func (m *Memory) AddStageToRun(runID, stage string) error {
	m.updateRun(runID, func(r *campaign.Run) { r.Stages = append(r.Stages, stage) })
	return nil
}

func (m *Memory) AddErrorToRun(runID, stage, message string) error {
	m.updateRun(runID, func(r *campaign.Run) {
		r.Errors = append(r.Errors, campaign.RunError{Stage: stage, Message: message})
	})
	return nil
}

func (m *Memory) CompleteRun(runID string, status campaign.RunStatus, at time.Time) error {
	m.updateRun(runID, func(r *campaign.Run) {
		completed := at
		r.Status = status
		r.CompletedAt = &completed
	})
	return nil
}

// updateRun ignores unknown runs and runs that already reached a terminal
// status.
func (m *Memory) updateRun(runID string, mutate func(*campaign.Run)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.runs[runID]; ok && !r.Status.Terminal() {
		mutate(r)
	}
}

func (m *Memory) GetRun(runID string) (*campaign.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (m *Memory) GetRunHistory(campaignID string) ([]campaign.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := make([]campaign.Run, 0)
	for _, id := range m.runOrder {
		if r := m.runs[id]; r.CampaignID == campaignID {
			history = append(history, *r.Clone())
		}
	}
	return history, nil
}
