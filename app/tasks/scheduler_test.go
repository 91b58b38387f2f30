package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lysyi3m/post-comb/app/campaign"
)

func waitDone(t *testing.T, task interface{ Done() <-chan struct{} }) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	_, err := NewScheduler(newFixture().driver, "every now and then")
	assert.Error(t, err)
}

func TestScheduler_TriggerCompletes(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()
	c := f.create(t, "blog", []string{"a"}, campaign.ManualTiming{}, campaign.StatusActive)

	s, err := NewScheduler(f.driver, "@every 1h", WithSweepOnStart(false))
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	task, err := s.Trigger(c.ID)
	require.NoError(t, err)
	waitDone(t, task)

	require.NoError(t, task.Err())
	require.NotNil(t, task.Result)
	assert.True(t, task.Result.Success)
	assert.Equal(t, TaskTypeTrigger, task.GetType())
	assert.Equal(t, c.ID, task.GetCampaignID())
	assert.NotNil(t, task.StartedAt)
}

func TestScheduler_TriggerMissingID(t *testing.T) {
	s, err := NewScheduler(newFixture().driver, "")
	require.NoError(t, err)

	_, err = s.Trigger("")
	assert.ErrorIs(t, err, ErrMissingCampaignID)
}

func TestScheduler_SweepOnStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()
	f.create(t, "blog", []string{"a"}, dueTiming(), campaign.StatusActive)

	s, err := NewScheduler(f.driver, "@every 1h")
	require.NoError(t, err)
	s.Start()

	task, err := s.Sweep()
	require.NoError(t, err)
	waitDone(t, task)
	s.Stop()

	assert.Equal(t, []string{"a"}, f.publisher.Calls())
}

func TestScheduler_ManualSweepReturnsOutcomes(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()
	c := f.create(t, "broken", []string{"a"}, dueTiming(), campaign.StatusActive)

	s, err := NewScheduler(f.driver, "@every 1h", WithSweepOnStart(false))
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	task, err := s.Sweep()
	require.NoError(t, err)
	require.NoError(t, task.Wait(context.Background()))

	require.Len(t, task.Outcomes, 1)
	assert.Equal(t, c.ID, task.Outcomes[0].CampaignID)
	assert.Equal(t, OutcomeSkipped, task.Outcomes[0].Status)
}

func TestScheduler_ExecutesSequentially(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()
	f.publisher.block = make(chan struct{})
	first := f.create(t, "blog", []string{"one"}, campaign.ManualTiming{}, campaign.StatusActive)
	second := f.create(t, "blog", []string{"two"}, campaign.ManualTiming{}, campaign.StatusActive)

	s, err := NewScheduler(f.driver, "@every 1h", WithSweepOnStart(false))
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	t1, err := s.Trigger(first.ID)
	require.NoError(t, err)
	t2, err := s.Trigger(second.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.publisher.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"one"}, f.publisher.Calls())

	close(f.publisher.block)
	waitDone(t, t1)
	waitDone(t, t2)

	assert.Equal(t, []string{"one", "two"}, f.publisher.Calls())
}

func TestScheduler_StopCancelsAndDrains(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()
	f.publisher.block = make(chan struct{})
	running := f.create(t, "blog", []string{"one"}, campaign.ManualTiming{}, campaign.StatusActive)
	queued := f.create(t, "blog", []string{"two"}, campaign.ManualTiming{}, campaign.StatusActive)

	s, err := NewScheduler(f.driver, "@every 1h", WithSweepOnStart(false))
	require.NoError(t, err)
	s.Start()

	t1, err := s.Trigger(running.ID)
	require.NoError(t, err)
	t2, err := s.Trigger(queued.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.publisher.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()

	waitDone(t, t1)
	require.NotNil(t, t1.Result)
	assert.False(t, t1.Result.Success)

	waitDone(t, t2)
	assert.ErrorIs(t, t2.Err(), ErrSchedulerStopped)
	assert.Nil(t, t2.Result)

	_, err = s.Trigger(queued.ID)
	assert.ErrorIs(t, err, ErrSchedulerStopped)
}

func TestScheduler_SlowCampaignsDoNotCutSweepShort(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()
	f.publisher.delay = 80 * time.Millisecond
	ids := []string{
		f.create(t, "blog", []string{"a"}, dueTiming(), campaign.StatusActive).ID,
		f.create(t, "blog", []string{"b"}, dueTiming(), campaign.StatusActive).ID,
		f.create(t, "blog", []string{"c"}, dueTiming(), campaign.StatusActive).ID,
	}

	s, err := NewScheduler(f.driver, "@every 1h", WithSweepOnStart(false))
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	task, err := s.Sweep()
	require.NoError(t, err)
	require.NoError(t, task.Wait(context.Background()))

	require.Len(t, task.Outcomes, 3)
	for i, id := range ids {
		assert.Equal(t, id, task.Outcomes[i].CampaignID)
		assert.Equal(t, OutcomeSuccess, task.Outcomes[i].Status)

		stats := f.get(t, id).Stats
		assert.Equal(t, int64(1), stats.TotalPublished)
		assert.Equal(t, int64(0), stats.TotalFailed)
	}
}

func TestScheduler_QueueFull(t *testing.T) {
	f := newFixture()
	s, err := NewScheduler(f.driver, "@every 1h", WithQueueSize(1))
	require.NoError(t, err)

	_, err = s.Trigger("a")
	require.NoError(t, err)
	_, err = s.Trigger("b")
	assert.EqualError(t, err, "task queue is full")

	s.Stop()
}

func TestScheduler_SingleScheduledSweepPending(t *testing.T) {
	f := newFixture()
	s, err := NewScheduler(f.driver, "@every 1h")
	require.NoError(t, err)

	s.enqueueSweep()
	s.enqueueSweep()
	assert.Len(t, s.taskQueue, 1)

	s.Stop()
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	unlockB := k.Lock("b")

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
	unlockB()

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}
