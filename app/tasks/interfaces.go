package tasks

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application and the HTTP API to queue work for the single
// scheduler worker.
// Example usage:
//
//	scheduler, err := NewScheduler(driver, "@every 1m")
//	scheduler.Start()
//	defer scheduler.Stop()
//	task, err := scheduler.Trigger(campaignID)
//	<-task.Done()
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	Sweep() (*SweepTask, error)
	Trigger(campaignID string) (*TriggerTask, error)
}
