package tasks

import (
	"context"
	"log/slog"
)

type SweepTask struct {
	Task
	driver *Driver

	// Outcomes is set once the task is done.
	Outcomes []CampaignOutcome
}

func NewSweepTask(driver *Driver) *SweepTask {
	return &SweepTask{
		Task:   NewTask(TaskTypeSweep, ""),
		driver: driver,
	}
}

func (t *SweepTask) Execute(ctx context.Context) error {
	outcomes, err := t.driver.Sweep(ctx)
	if err != nil {
		return err
	}
	t.Outcomes = outcomes

	var success, failed, skipped int
	for _, outcome := range outcomes {
		switch outcome.Status {
		case OutcomeSuccess:
			success++
		case OutcomeFailed:
			failed++
		case OutcomeSkipped:
			skipped++
		}
	}

	slog.Info("Sweep completed",
		"campaigns", len(outcomes),
		"success", success,
		"failed", failed,
		"skipped", skipped,
		"duration", t.GetDuration())

	return nil
}
