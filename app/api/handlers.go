package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/post-comb/app/campaign"
	"github.com/lysyi3m/post-comb/app/tasks"
)

func NewHandler(repo campaign.Repository, scheduler tasks.TaskSchedulerInterface, sites SiteLister, version string, opts ...HandlerOption) *Handler {
	h := &Handler{
		repo:        repo,
		scheduler:   scheduler,
		sites:       sites,
		startedAt:   time.Now(),
		version:     version,
		waitTimeout: DefaultWaitTimeout,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
	}

	if campaigns, err := h.repo.List(); err == nil {
		active := 0
		for _, cmp := range campaigns {
			if cmp.Status == campaign.StatusActive {
				active++
			}
		}
		health["campaigns"] = len(campaigns)
		health["active_campaigns"] = active
	} else {
		slog.Error("Database error", "operation", "list_campaigns", "error", err)
		health["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	health["status"] = "ok"
	c.JSON(http.StatusOK, health)
}

func (h *Handler) APIListCampaigns(c *gin.Context) {
	campaigns, err := h.repo.List()
	if err != nil {
		slog.Error("Database error", "operation", "list_campaigns", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if status := c.Query("status"); status != "" {
		filtered := campaigns[:0]
		for _, cmp := range campaigns {
			if string(cmp.Status) == status {
				filtered = append(filtered, cmp)
			}
		}
		campaigns = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"campaigns": newCampaignResponses(campaigns),
		"count":     len(campaigns),
	})
}

func (h *Handler) APICreateCampaign(c *gin.Context) {
	var def campaign.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "message": err.Error()})
		return
	}

	spec, err := def.Spec()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid campaign", "message": err.Error()})
		return
	}

	created, err := h.repo.Create(spec)
	if err != nil {
		switch {
		case errors.Is(err, campaign.ErrCampaignExists):
			c.JSON(http.StatusConflict, gin.H{"error": "Campaign already exists", "message": err.Error()})
		case errors.Is(err, campaign.ErrInvalidSpec):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid campaign", "message": err.Error()})
		default:
			slog.Error("Database error", "operation", "create_campaign", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		}
		return
	}

	slog.Info("Campaign created", "campaign_id", created.ID, "name", created.Name)

	c.JSON(http.StatusCreated, newCampaignResponse(created))
}

func (h *Handler) APIGetCampaign(c *gin.Context) {
	cmp, ok := h.loadCampaign(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, newCampaignResponse(cmp))
}

func (h *Handler) APIPauseCampaign(c *gin.Context) {
	h.setStatus(c, h.repo.Pause, "pause_campaign")
}

func (h *Handler) APIResumeCampaign(c *gin.Context) {
	h.setStatus(c, h.repo.Resume, "resume_campaign")
}

func (h *Handler) setStatus(c *gin.Context, apply func(id string) error, operation string) {
	cmp, ok := h.loadCampaign(c)
	if !ok {
		return
	}

	if err := apply(cmp.ID); err != nil {
		slog.Error("Database error", "operation", operation, "campaign_id", cmp.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	updated, ok := h.loadCampaign(c)
	if !ok {
		return
	}

	slog.Info("Campaign status changed", "campaign_id", updated.ID, "status", updated.Status)

	c.JSON(http.StatusOK, newCampaignResponse(updated))
}

// APITriggerCampaign queues a manual run and waits for its result. Problems
// with the campaign itself are reported in the body with success=false. A
// run still going after the wait timeout is answered with 202 and keeps
// running; its outcome shows up in the run history.
func (h *Handler) APITriggerCampaign(c *gin.Context) {
	cmp, ok := h.loadCampaign(c)
	if !ok {
		return
	}

	task, err := h.scheduler.Trigger(cmp.ID)
	if err != nil {
		h.enqueueFailed(c, err, cmp.ID)
		return
	}

	if !h.waitTask(c, task) {
		return
	}

	c.JSON(http.StatusOK, task.Result)
}

func (h *Handler) APISweep(c *gin.Context) {
	task, err := h.scheduler.Sweep()
	if err != nil {
		h.enqueueFailed(c, err, "")
		return
	}

	if !h.waitTask(c, task) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":   task.GetID(),
		"campaigns": task.Outcomes,
		"count":     len(task.Outcomes),
	})
}

func (h *Handler) APIGetRunHistory(c *gin.Context) {
	cmp, ok := h.loadCampaign(c)
	if !ok {
		return
	}

	runs, err := h.repo.GetRunHistory(cmp.ID)
	if err != nil {
		slog.Error("Database error", "operation", "get_run_history", "campaign_id", cmp.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"campaign_id": cmp.ID,
		"runs":        runs,
		"count":       len(runs),
	})
}

func (h *Handler) APIGetRun(c *gin.Context) {
	id := c.Param("id")

	run, err := h.repo.GetRun(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_run", "run_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	c.JSON(http.StatusOK, run)
}

func (h *Handler) APIListSiteCampaigns(c *gin.Context) {
	siteID := c.Param("id")

	campaigns, err := h.repo.ListBySite(siteID)
	if err != nil {
		slog.Error("Database error", "operation", "list_site_campaigns", "site_id", siteID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"site_id":   siteID,
		"campaigns": newCampaignResponses(campaigns),
		"count":     len(campaigns),
	})
}

func (h *Handler) APIListSites(c *gin.Context) {
	if h.sites == nil {
		c.JSON(http.StatusOK, gin.H{"sites": []any{}, "count": 0})
		return
	}

	sites := h.sites.List()
	c.JSON(http.StatusOK, gin.H{"sites": sites, "count": len(sites)})
}

// loadCampaign writes the error response itself and reports false when the
// handler should stop.
func (h *Handler) loadCampaign(c *gin.Context) (*campaign.Campaign, bool) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing campaign id parameter"})
		return nil, false
	}

	cmp, err := h.repo.Get(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_campaign", "campaign_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}
	if cmp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
		return nil, false
	}

	return cmp, true
}

func (h *Handler) enqueueFailed(c *gin.Context, err error, campaignID string) {
	slog.Warn("Failed to enqueue task", "campaign_id", campaignID, "error", err)

	if errors.Is(err, tasks.ErrMissingCampaignID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler unavailable", "message": err.Error()})
}

// waitTask blocks until task is done, the client goes away or the wait
// timeout passes. It writes the response itself and reports false unless
// the task finished successfully.
func (h *Handler) waitTask(c *gin.Context, task waitable) bool {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.waitTimeout)
	defer cancel()

	err := task.Wait(ctx)
	if err == nil {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) && c.Request.Context().Err() == nil {
		slog.Info("Task still running, answering early", "task_id", task.GetID(), "wait", h.waitTimeout)
		c.JSON(http.StatusAccepted, gin.H{
			"task_id":     task.GetID(),
			"campaign_id": task.GetCampaignID(),
			"status":      "running",
		})
		return false
	}

	h.taskFailed(c, err, task.GetID())
	return false
}

func (h *Handler) taskFailed(c *gin.Context, err error, taskID string) {
	if c.Request.Context().Err() != nil {
		slog.Warn("Client went away before task finished", "task_id", taskID)
		return
	}

	slog.Error("Task failed", "task_id", taskID, "error", err)

	if errors.Is(err, tasks.ErrSchedulerStopped) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler stopped", "task_id": taskID})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Task failed", "message": err.Error(), "task_id": taskID})
}
