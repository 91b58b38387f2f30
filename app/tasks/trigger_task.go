package tasks

import (
	"context"
)

type TriggerTask struct {
	Task
	driver *Driver

	// Result is set once the task is done, unless the trigger was rejected.
	Result *TriggerResult
}

func NewTriggerTask(driver *Driver, campaignID string) *TriggerTask {
	return &TriggerTask{
		Task:   NewTask(TaskTypeTrigger, campaignID),
		driver: driver,
	}
}

func (t *TriggerTask) Execute(ctx context.Context) error {
	result, err := t.driver.Trigger(ctx, t.CampaignID)
	if err != nil {
		return err
	}
	t.Result = result
	return nil
}
