package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypeSweep   TaskType = "sweep"
	TaskTypeTrigger TaskType = "trigger"
)

type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetCampaignID() string
	Start()
	GetDuration() time.Duration
	Done() <-chan struct{}
	Err() error
	complete(err error)
}

// Task carries the bookkeeping shared by all queued tasks. Done is closed
// exactly once, after the task ran or was dropped by a stopping scheduler.
type Task struct {
	ID         string
	Type       TaskType
	CampaignID string
	StartedAt  *time.Time

	done chan struct{}
	once sync.Once
	err  error
}

func (t *Task) GetID() string {
	return t.ID
}

func (t *Task) GetType() TaskType {
	return t.Type
}

func (t *Task) GetCampaignID() string {
	return t.CampaignID
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err is the task's execution error. Only valid after Done is closed.
func (t *Task) Err() error {
	return t.err
}

func (t *Task) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Wait blocks until the task finished or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func NewTask(taskType TaskType, campaignID string) Task {
	return Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		CampaignID: campaignID,
		done:       make(chan struct{}),
	}
}
