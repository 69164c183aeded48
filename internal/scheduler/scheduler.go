package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"mailflow/internal/metrics"
)

// ErrJobNotFound is returned when no live job has the requested name
var ErrJobNotFound = errors.New("job not found")

var errRoutinePanicked = errors.New("routine panicked")

// Routine is the work a job runs on every iteration. The context is
// cancelled when the job is cancelled.
type Routine func(ctx context.Context) error

// every is a fixed-delay cron.Schedule: the next run is d after the
// previous run finished.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// JobStatus is a snapshot of one registered job
type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type job struct {
	name     string
	spec     string
	schedule cron.Schedule
	routine  Routine
	cancel   context.CancelFunc
	done     chan struct{}
	// prev is closed once a cancelled job of the same name has stopped
	prev <-chan struct{}

	mu      sync.Mutex
	runs    int
	lastRun time.Time
	nextRun time.Time
	lastErr error
}

func (j *job) status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := JobStatus{
		Name:     j.name,
		Schedule: j.spec,
		Running:  !j.finished(),
		Runs:     j.runs,
		LastRun:  j.lastRun,
		NextRun:  j.nextRun,
	}
	if j.lastErr != nil {
		st.LastError = j.lastErr.Error()
	}
	return st
}

func (j *job) finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Scheduler owns a registry of named recurring jobs. Each job runs in its
// own goroutine; a failing or panicking iteration is recorded and the loop
// carries on until the job is cancelled.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*job
	stopping map[string]*job
	metrics *metrics.Metrics
	wrap    cron.JobWrapper
	wg      sync.WaitGroup
}

// NewScheduler creates an empty scheduler. m may be nil.
func NewScheduler(m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		jobs:     make(map[string]*job),
		stopping: make(map[string]*job),
		metrics:  m,
		wrap:    cron.Recover(cron.PrintfLogger(logrus.StandardLogger())),
	}
}

// Schedule starts routine under name, waiting interval after each run. It
// reports false without doing anything if name already has a live job.
func (s *Scheduler) Schedule(name string, routine Routine, interval time.Duration) bool {
	if interval <= 0 {
		interval = time.Minute
	}
	return s.start(name, "@every "+interval.String(), every(interval), routine)
}

// ScheduleCron is like Schedule but times runs with a standard five-field
// cron expression.
func (s *Scheduler) ScheduleCron(name, spec string, routine Routine) (bool, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return false, fmt.Errorf("failed to parse cron spec %q: %w", spec, err)
	}
	return s.start(name, spec, schedule, routine), nil
}

// JobSpec names a job and how it is timed. Cron, when set, wins over
// Interval.
type JobSpec struct {
	Name     string
	Interval time.Duration
	Cron     string
}

// ScheduleSpec registers routine according to spec
func (s *Scheduler) ScheduleSpec(spec JobSpec, routine Routine) (bool, error) {
	if spec.Cron != "" {
		return s.ScheduleCron(spec.Name, spec.Cron, routine)
	}
	return s.Schedule(spec.Name, routine, spec.Interval), nil
}

func (s *Scheduler) start(name, spec string, schedule cron.Schedule, routine Routine) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[name]; ok && !existing.finished() {
		logrus.WithField("job", name).Debug("Job already running, ignoring registration")
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		name:     name,
		spec:     spec,
		schedule: schedule,
		routine:  routine,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if old, ok := s.stopping[name]; ok {
		j.prev = old.done
	}
	s.jobs[name] = j
	s.updateGauge()

	s.wg.Add(1)
	go s.loop(ctx, j)

	logrus.WithFields(logrus.Fields{"job": name, "schedule": spec}).Info("Job scheduled")
	return true
}

// Cancel stops the named job. It reports whether a job was cancelled. A run in
// flight sees its context cancelled and finishes on its own; scheduling the
// name again holds the new loop until that run has returned.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
		s.stopping[name] = j
		s.updateGauge()
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	j.cancel()
	logrus.WithField("job", name).Info("Job cancelled")
	return true
}

// CancelAll stops every job and returns how many were cancelled
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	jobs := s.jobs
	s.jobs = make(map[string]*job)
	for name, j := range jobs {
		s.stopping[name] = j
	}
	s.updateGauge()
	s.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
	}
	if len(jobs) > 0 {
		logrus.Infof("Cancelled %d jobs", len(jobs))
	}
	return len(jobs)
}

// IsRunning reports whether name has a live, uncancelled job
func (s *Scheduler) IsRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	return ok && !j.finished()
}

// Job returns the status of one job
func (s *Scheduler) Job(name string) (JobStatus, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()

	if !ok {
		return JobStatus{}, ErrJobNotFound
	}
	return j.status(), nil
}

// Jobs returns the status of every registered job, sorted by name
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.status())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Wait blocks until every job loop has returned
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if s.stopping[j.name] == j {
			delete(s.stopping, j.name)
		}
		s.mu.Unlock()
		close(j.done)
	}()

	// a rescheduled name never overlaps the run it replaced
	if j.prev != nil {
		<-j.prev
	}

	for {
		if ctx.Err() != nil {
			return
		}
		s.runOnce(ctx, j)

		next := j.schedule.Next(time.Now())
		j.mu.Lock()
		j.nextRun = next
		j.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runOnce invokes the routine once; errors and panics are recorded on the
// job and never stop the loop.
func (s *Scheduler) runOnce(ctx context.Context, j *job) {
	var err error
	completed := false

	s.wrap(cron.FuncJob(func() {
		err = j.routine(ctx)
		completed = true
	})).Run()

	if !completed {
		err = errRoutinePanicked
	}

	j.mu.Lock()
	j.runs++
	j.lastRun = time.Now()
	j.lastErr = err
	j.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		logrus.WithField("job", j.name).Errorf("Job run failed: %v", err)
	}
}

func (s *Scheduler) updateGauge() {
	if s.metrics != nil {
		s.metrics.ScheduledJobs.Set(float64(len(s.jobs)))
	}
}
