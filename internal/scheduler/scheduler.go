// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"perfusion-service/internal/model"
)

const defaultTick = 100 * time.Millisecond

// Task is the unit of work a job runs on each fire. It must honor ctx
// cancellation; a run that ignores it only delays its own job, never
// the scheduler or sibling jobs.
type Task func(ctx context.Context) error

// Config holds scheduler tuning
type Config struct {
	Tick           time.Duration
	DefaultTimeout time.Duration
}

// JobSpec describes a job to register
type JobSpec struct {
	Name    string
	Cadence model.Cadence
	Timeout time.Duration
	Task    Task
}

// Snapshot is a point-in-time copy of a job's bookkeeping, safe to
// hand out without exposing scheduler internals
type Snapshot struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	State     model.JobState `json:"state"`
	Cadence   model.Cadence  `json:"cadence"`
	NextRun   time.Time      `json:"next_run"`
	LastRun   time.Time      `json:"last_run"`
	LastError string         `json:"last_error,omitempty"`
	Fired     int            `json:"fired"`
	Missed    int            `json:"missed"`
}

type job struct {
	id      uuid.UUID
	name    string
	cadence model.Cadence
	sched   cron.Schedule
	task    Task
	timeout time.Duration

	state   model.JobState
	nextRun time.Time
	lastRun time.Time
	lastErr string
	fired   int
	missed  int
}

// Scheduler fires registered jobs on their cadence from a single
// timing loop. Each due job is dispatched on its own goroutine; the
// loop never waits on a task.
type Scheduler struct {
	mu     sync.Mutex
	cfg    Config
	jobs   map[uuid.UUID]*job
	logger *zap.Logger
	parser cron.Parser
	notify Notifier

	running  bool
	stopCh   chan struct{}
	loopDone chan struct{}
	wg       sync.WaitGroup
}

// New creates a stopped scheduler
func New(cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	return &Scheduler{
		cfg:    cfg,
		jobs:   make(map[uuid.UUID]*job),
		logger: logger.With(zap.String("component", "scheduler")),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// SetNotifier installs the lifecycle event sink. Call before Start.
func (s *Scheduler) SetNotifier(fn Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

// Start launches the timing loop. ctx cancellation stops the loop the
// same way Stop does.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})

	go s.loop(ctx)
	s.logger.Info("Scheduler started", zap.Duration("tick", s.cfg.Tick))
	return nil
}

// Stop halts the timing loop and waits for in-flight job runs to
// finish. Safe to call once after Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.loopDone
	s.mu.Unlock()

	<-done
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Register adds a job and computes its first fire time. Jobs may be
// registered before or after Start.
func (s *Scheduler) Register(spec JobSpec) (uuid.UUID, error) {
	if spec.Task == nil {
		return uuid.Nil, fmt.Errorf("job task is required")
	}
	if err := spec.Cadence.Validate(); err != nil {
		return uuid.Nil, err
	}

	j := &job{
		id:      uuid.New(),
		name:    spec.Name,
		cadence: spec.Cadence,
		task:    spec.Task,
		timeout: spec.Timeout,
		state:   model.JobStateScheduled,
	}
	if j.name == "" {
		j.name = j.id.String()
	}
	if j.timeout <= 0 {
		j.timeout = s.cfg.DefaultTimeout
	}

	now := time.Now()
	switch spec.Cadence.Kind {
	case model.CadenceCron:
		sched, err := s.parser.Parse(spec.Cadence.Spec)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid cron spec %q: %w", spec.Cadence.Spec, err)
		}
		j.sched = sched
		j.nextRun = sched.Next(now)
	case model.CadenceInterval:
		switch {
		case !spec.Cadence.StartAt.IsZero():
			j.nextRun = spec.Cadence.StartAt
			for !j.nextRun.After(now) {
				j.nextRun = j.nextRun.Add(spec.Cadence.Every)
			}
		case spec.Cadence.Delay > 0:
			j.nextRun = now.Add(spec.Cadence.Delay)
		default:
			j.nextRun = now.Add(spec.Cadence.Every)
		}
	case model.CadenceOneShot:
		if !spec.Cadence.At.IsZero() {
			j.nextRun = spec.Cadence.At
		} else {
			j.nextRun = now.Add(spec.Cadence.Delay)
		}
	}

	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()

	s.logger.Info("Job registered",
		zap.String("job_id", j.id.String()),
		zap.String("name", j.name),
		zap.String("cadence", j.cadence.String()),
		zap.Time("next_run", j.nextRun),
	)
	return j.id, nil
}

// Cancel marks a job cancelled. A run already in flight finishes its
// current invocation; the job never fires again. Cancelling a job that
// already reached a terminal state is a no-op.
func (s *Scheduler) Cancel(id uuid.UUID) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	if j.state.IsTerminal() {
		s.mu.Unlock()
		return nil
	}
	j.state = model.JobStateCancelled
	j.nextRun = time.Time{}
	ev := Event{Type: EventJobCancelled, JobID: j.id, JobName: j.name}
	notify := s.notify
	s.mu.Unlock()

	s.logger.Info("Job cancelled", zap.String("job_id", id.String()))
	if notify != nil {
		notify(ev)
	}
	return nil
}

// Unregister cancels a job if needed and removes it from the registry
func (s *Scheduler) Unregister(id uuid.UUID) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	if !j.state.IsTerminal() {
		j.state = model.JobStateCancelled
	}
	delete(s.jobs, id)
	s.mu.Unlock()

	s.logger.Info("Job unregistered", zap.String("job_id", id.String()))
	return nil
}

// Get returns a snapshot of one job
func (s *Scheduler) Get(id uuid.UUID) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("job %s not found", id)
	}
	return j.snapshot(), nil
}

// List returns snapshots of all jobs, ordered by ID for a stable view
func (s *Scheduler) List() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Snapshot, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].ID.String() < out[b].ID.String()
	})
	return out
}

func (j *job) snapshot() Snapshot {
	return Snapshot{
		ID:        j.id,
		Name:      j.name,
		State:     j.state,
		Cadence:   j.cadence,
		NextRun:   j.nextRun,
		LastRun:   j.lastRun,
		LastError: j.lastErr,
		Fired:     j.fired,
		Missed:    j.missed,
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.dispatchDue(ctx, time.Now())
		}
	}
}

// dispatchDue fires every job whose next-run time has arrived. Jobs
// tied on the same tick dispatch in ID order so concurrent device
// access is reproducible run to run.
func (s *Scheduler) dispatchDue(ctx context.Context, now time.Time) {
	s.mu.Lock()

	var due []*job
	var events []Event
	for _, j := range s.jobs {
		if j.nextRun.IsZero() || j.nextRun.After(now) {
			continue
		}
		switch j.state {
		case model.JobStateScheduled:
			due = append(due, j)
		case model.JobStateRunning:
			// previous run still in flight: skip this fire entirely
			missed := j.nextRun
			j.missed++
			j.nextRun = s.advance(j, j.nextRun, now)
			events = append(events, Event{
				Type:        EventJobOverrun,
				JobID:       j.id,
				JobName:     j.name,
				ScheduledAt: missed,
			})
		}
	}

	sort.Slice(due, func(a, b int) bool {
		return due[a].id.String() < due[b].id.String()
	})

	for _, j := range due {
		fire := j.nextRun
		j.state = model.JobStateRunning
		j.lastRun = fire
		j.nextRun = s.advance(j, fire, now)
		s.wg.Add(1)
		go s.execute(ctx, j, fire)
	}

	notify := s.notify
	s.mu.Unlock()

	for _, ev := range events {
		s.logger.Warn("Job overran its cadence, skipping fire",
			zap.String("job_id", ev.JobID.String()),
			zap.Time("missed", ev.ScheduledAt),
		)
		if notify != nil {
			notify(ev)
		}
	}
}

// advance computes the fire after 'from', skipping past 'now' so a
// backlog of missed fires collapses into one future fire rather than a
// burst of catch-up runs
func (s *Scheduler) advance(j *job, from, now time.Time) time.Time {
	switch j.cadence.Kind {
	case model.CadenceOneShot:
		return time.Time{}
	case model.CadenceCron:
		return j.sched.Next(now)
	default:
		next := from.Add(j.cadence.Every)
		for !next.After(now) {
			next = next.Add(j.cadence.Every)
		}
		return next
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job, fire time.Time) {
	defer s.wg.Done()

	s.mu.Lock()
	notify := s.notify
	s.mu.Unlock()

	started := time.Now()
	if notify != nil {
		notify(Event{
			Type:        EventJobStarted,
			JobID:       j.id,
			JobName:     j.name,
			ScheduledAt: fire,
			StartedAt:   started,
		})
	}

	runCtx := ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	err := j.task(runCtx)
	duration := time.Since(started)

	s.mu.Lock()
	j.fired++
	evType := EventJobCompleted
	switch {
	case j.state == model.JobStateCancelled:
		// cancelled mid-run; the terminal state stands
	case err != nil:
		j.state = model.JobStateFailed
		j.lastErr = err.Error()
		j.nextRun = time.Time{}
		evType = EventJobFailed
	case j.nextRun.IsZero():
		j.state = model.JobStateIdle
	default:
		j.state = model.JobStateScheduled
	}
	ev := Event{
		Type:        evType,
		JobID:       j.id,
		JobName:     j.name,
		ScheduledAt: fire,
		StartedAt:   started,
		Duration:    duration,
	}
	if err != nil {
		ev.Err = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Job run failed",
			zap.String("job_id", j.id.String()),
			zap.String("name", j.name),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	} else {
		s.logger.Debug("Job run completed",
			zap.String("job_id", j.id.String()),
			zap.Duration("duration", duration),
		)
	}
	if notify != nil {
		notify(ev)
	}
}
