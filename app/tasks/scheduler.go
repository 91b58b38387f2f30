package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

var ErrSchedulerStopped = errors.New("scheduler stopped")

const (
	DefaultSweepSchedule = "@every 1m"
	DefaultQueueSize     = 100
)

// Scheduler feeds a single worker from a task queue. A cron entry enqueues
// sweeps; manual triggers are enqueued by callers. Tasks are never retried.
type Scheduler struct {
	driver       *Driver
	cron         *cron.Cron
	schedule     string
	queueSize    int
	sweepOnStart bool
	location     *time.Location

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	taskQueue chan TaskInterface

	mu           sync.Mutex
	stopped      bool
	sweepPending atomic.Bool
}

type SchedulerOption func(*Scheduler)

func WithQueueSize(size int) SchedulerOption {
	return func(s *Scheduler) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

func WithLocation(location *time.Location) SchedulerOption {
	return func(s *Scheduler) {
		if location != nil {
			s.location = location
		}
	}
}

// WithSweepOnStart controls whether Start queues an immediate sweep.
func WithSweepOnStart(enabled bool) SchedulerOption {
	return func(s *Scheduler) {
		s.sweepOnStart = enabled
	}
}

func NewScheduler(driver *Driver, schedule string, opts ...SchedulerOption) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	s := &Scheduler{
		driver:       driver,
		schedule:     schedule,
		queueSize:    DefaultQueueSize,
		sweepOnStart: true,
		location:     time.Local,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.taskQueue = make(chan TaskInterface, s.queueSize)
	s.cron = cron.New(cron.WithLocation(s.location))

	if _, err := s.cron.AddFunc(schedule, s.enqueueSweep); err != nil {
		return nil, fmt.Errorf("failed to parse sweep schedule %q: %w", schedule, err)
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.worker()

	s.cron.Start()

	slog.Info("Scheduler started", "schedule", s.schedule, "location", s.location.String())

	if s.sweepOnStart {
		s.enqueueSweep()
	}
}

// Stop halts the cron, cancels the running task and completes every queued
// task with ErrSchedulerStopped.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	for {
		select {
		case task := <-s.taskQueue:
			task.complete(ErrSchedulerStopped)
		default:
			slog.Info("Scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	select {
	case s.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) Sweep() (*SweepTask, error) {
	task := NewSweepTask(s.driver)
	if err := s.EnqueueTask(task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *Scheduler) Trigger(campaignID string) (*TriggerTask, error) {
	if campaignID == "" {
		return nil, ErrMissingCampaignID
	}

	task := NewTriggerTask(s.driver, campaignID)
	if err := s.EnqueueTask(task); err != nil {
		return nil, err
	}
	return task, nil
}

// enqueueSweep is the cron callback. It keeps at most one scheduled sweep
// waiting in the queue.
func (s *Scheduler) enqueueSweep() {
	if !s.sweepPending.CompareAndSwap(false, true) {
		slog.Debug("Sweep already pending, skipping tick")
		return
	}

	if err := s.EnqueueTask(&scheduledSweep{SweepTask: NewSweepTask(s.driver), pending: &s.sweepPending}); err != nil {
		s.sweepPending.Store(false)
		slog.Warn("Failed to enqueue sweep", "error", err)
	}
}

// scheduledSweep releases the pending flag when the worker picks it up.
type scheduledSweep struct {
	*SweepTask
	pending *atomic.Bool
}

func (t *scheduledSweep) Execute(ctx context.Context) error {
	t.pending.Store(false)
	return t.SweepTask.Execute(ctx)
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(task TaskInterface) {
	if s.ctx.Err() != nil {
		task.complete(ErrSchedulerStopped)
		return
	}

	task.Start()

	// Tasks only stop early on shutdown. Each pipeline call is bounded by
	// the executor's item timeout.
	err := task.Execute(s.ctx)
	task.complete(err)

	if err != nil {
		slog.Error("Task execution failed", "type", string(task.GetType()), "id", task.GetID(), "campaign_id", task.GetCampaignID(), "error", err)
		return
	}

	slog.Debug("Task finished", "type", string(task.GetType()), "id", task.GetID(), "duration", task.GetDuration())
}
