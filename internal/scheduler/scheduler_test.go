package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow/internal/metrics"
)

func counting(n *int32, err error) Routine {
	return func(ctx context.Context) error {
		atomic.AddInt32(n, 1)
		return err
	}
}

func TestScheduleIsIdempotent(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	s := NewScheduler(m)
	defer func() {
		s.CancelAll()
		s.Wait()
	}()

	var first, second int32
	assert.True(t, s.Schedule("global_email_cron", counting(&first, nil), time.Hour))
	assert.False(t, s.Schedule("global_email_cron", counting(&second, nil), time.Hour))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&first) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.True(t, s.IsRunning("global_email_cron"))
	assert.Len(t, s.Jobs(), 1)
	assert.Equal(t, int32(0), atomic.LoadInt32(&second))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ScheduledJobs))
}

func TestCancel(t *testing.T) {
	s := NewScheduler(nil)
	var n int32
	require.True(t, s.Schedule("job", counting(&n, nil), time.Hour))

	assert.True(t, s.Cancel("job"))
	assert.False(t, s.IsRunning("job"))
	assert.False(t, s.Cancel("job"))

	_, err := s.Job("job")
	assert.ErrorIs(t, err, ErrJobNotFound)

	s.Wait()

	// a cancelled name can be registered again
	assert.True(t, s.Schedule("job", counting(&n, nil), time.Hour))
	assert.True(t, s.IsRunning("job"))
	s.CancelAll()
	s.Wait()
}

func TestRescheduleWaitsForCancelledRun(t *testing.T) {
	s := NewScheduler(nil)
	defer func() {
		s.CancelAll()
		s.Wait()
	}()

	started := make(chan struct{}, 1)
	finish := make(chan struct{})
	require.True(t, s.Schedule("global_email_cron", func(ctx context.Context) error {
		started <- struct{}{}
		<-finish
		return nil
	}, time.Hour))
	<-started
	require.True(t, s.Cancel("global_email_cron"))

	var n int32
	require.True(t, s.Schedule("global_email_cron", counting(&n, nil), time.Hour))
	assert.True(t, s.IsRunning("global_email_cron"))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&n))

	close(finish)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&n) == 1 }, time.Second, 5*time.Millisecond)
}

func TestCancelAll(t *testing.T) {
	s := NewScheduler(nil)
	var n int32
	names := []string{"global_email_cron", "cleanup", "report"}
	for _, name := range names {
		require.True(t, s.Schedule(name, counting(&n, nil), time.Hour))
	}

	assert.Equal(t, 3, s.CancelAll())
	for _, name := range names {
		assert.False(t, s.IsRunning(name), name)
	}
	assert.Empty(t, s.Jobs())
	s.Wait()
}

func TestFailingRoutineKeepsLooping(t *testing.T) {
	s := NewScheduler(nil)
	defer func() {
		s.CancelAll()
		s.Wait()
	}()

	var n int32
	require.True(t, s.Schedule("flaky", counting(&n, errors.New("provider unavailable")), 5*time.Millisecond))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&n) >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.IsRunning("flaky"))

	st, err := s.Job("flaky")
	require.NoError(t, err)
	assert.Equal(t, "provider unavailable", st.LastError)
	assert.True(t, st.Running)
}

func TestPanickingRoutineIsRecovered(t *testing.T) {
	s := NewScheduler(nil)
	defer func() {
		s.CancelAll()
		s.Wait()
	}()

	var n int32
	require.True(t, s.Schedule("panics", func(ctx context.Context) error {
		atomic.AddInt32(&n, 1)
		panic("boom")
	}, 5*time.Millisecond))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&n) >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.IsRunning("panics"))

	st, err := s.Job("panics")
	require.NoError(t, err)
	assert.Equal(t, errRoutinePanicked.Error(), st.LastError)
}

func TestCancelInterruptsSleep(t *testing.T) {
	s := NewScheduler(nil)
	started := make(chan struct{}, 1)
	require.True(t, s.Schedule("slow", func(ctx context.Context) error {
		started <- struct{}{}
		return nil
	}, time.Hour))

	<-started
	s.Cancel("slow")

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job loop did not stop after cancel")
	}
}

func TestScheduleCron(t *testing.T) {
	s := NewScheduler(nil)
	defer func() {
		s.CancelAll()
		s.Wait()
	}()

	var n int32
	ok, err := s.ScheduleCron("nightly", "0 3 * * *", counting(&n, nil))
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := s.Job("nightly")
	require.NoError(t, err)
	assert.Equal(t, "0 3 * * *", st.Schedule)

	_, err = s.ScheduleCron("broken", "not a cron", counting(&n, nil))
	assert.Error(t, err)
	assert.False(t, s.IsRunning("broken"))
}

func TestScheduleSpecPrefersCron(t *testing.T) {
	s := NewScheduler(nil)
	defer func() {
		s.CancelAll()
		s.Wait()
	}()

	var n int32
	ok, err := s.ScheduleSpec(JobSpec{Name: "global_email_cron", Interval: time.Minute, Cron: "*/5 * * * *"}, counting(&n, nil))
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := s.Job("global_email_cron")
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", st.Schedule)

	ok, err = s.ScheduleSpec(JobSpec{Name: "global_email_cron", Interval: time.Minute}, counting(&n, nil))
	require.NoError(t, err)
	assert.False(t, ok)
}
