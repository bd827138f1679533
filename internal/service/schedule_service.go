// internal/service/schedule_service.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perfusion-service/internal/config"
	"perfusion-service/internal/eventbus"
	"perfusion-service/internal/model"
	"perfusion-service/internal/repository"
	"perfusion-service/internal/scheduler"
)

// runRecordBuffer bounds the queue between the scheduler's notifier and
// the database writer. The notifier runs on scheduler goroutines and
// must never block on the database.
const runRecordBuffer = 256

// ScheduleService binds scheduled jobs to device operations: each job
// fires one operation against one registered device on its cadence.
// Job lifecycle events flow to the event bus, and when the run-history
// database is enabled, every completed or failed run is recorded.
type ScheduleService struct {
	scheduler *scheduler.Scheduler
	devices   *DeviceService
	events    *eventbus.Bus
	runs      repository.RunRepository
	cfg       *config.Config
	logger    *zap.Logger

	mu   sync.RWMutex
	meta map[uuid.UUID]*jobMeta

	records chan *model.JobRun
	done    chan struct{}
	wg      sync.WaitGroup
}

// jobMeta keeps what the scheduler doesn't know about a job: which
// device it drives and what it does to it
type jobMeta struct {
	DeviceID  uuid.UUID       `json:"device_id"`
	Operation model.Operation `json:"operation"`
}

// JobView joins the scheduler's bookkeeping with the job's target
type JobView struct {
	scheduler.Snapshot
	DeviceID  uuid.UUID       `json:"device_id"`
	Operation model.Operation `json:"operation"`
}

// ScheduleJobRequest carries a job creation
type ScheduleJobRequest struct {
	Name      string          `json:"name"`
	DeviceID  uuid.UUID       `json:"device_id" binding:"required"`
	Operation model.Operation `json:"operation" binding:"required"`
	Cadence   model.Cadence   `json:"cadence" binding:"required"`
	Timeout   time.Duration   `json:"timeout"`
}

// NewScheduleService creates the schedule service. runs may be nil
// when the database is disabled.
func NewScheduleService(
	sched *scheduler.Scheduler,
	devices *DeviceService,
	events *eventbus.Bus,
	runs repository.RunRepository,
	cfg *config.Config,
	logger *zap.Logger,
) *ScheduleService {
	return &ScheduleService{
		scheduler: sched,
		devices:   devices,
		events:    events,
		runs:      runs,
		cfg:       cfg,
		logger:    logger.With(zap.String("service", "schedule")),
		meta:      make(map[uuid.UUID]*jobMeta),
		records:   make(chan *model.JobRun, runRecordBuffer),
		done:      make(chan struct{}),
	}
}

// Start installs the scheduler notifier, starts the timing loop and,
// with the database enabled, the run writer and retention sweeper
func (ss *ScheduleService) Start(ctx context.Context) error {
	ss.scheduler.SetNotifier(ss.onSchedulerEvent)
	if err := ss.scheduler.Start(ctx); err != nil {
		return err
	}

	if ss.runs != nil {
		ss.wg.Add(1)
		go ss.runWriter(ctx)
		if ss.cfg.Database.RunRetention > 0 {
			ss.wg.Add(1)
			go ss.retentionLoop(ctx)
		}
	}
	return nil
}

// Stop halts the scheduler and drains the run writer
func (ss *ScheduleService) Stop() {
	ss.scheduler.Stop()
	close(ss.done)
	ss.wg.Wait()
}

// CreateJob registers a job that executes one operation against one
// device on the given cadence. The device must exist but need not be
// connected yet; a fire against a disconnected device fails that run.
func (ss *ScheduleService) CreateJob(ctx context.Context, req *ScheduleJobRequest) (*JobView, error) {
	if _, err := ss.devices.GetDevice(ctx, req.DeviceID); err != nil {
		return nil, err
	}

	deviceID := req.DeviceID
	op := req.Operation
	id, err := ss.scheduler.Register(scheduler.JobSpec{
		Name:    req.Name,
		Cadence: req.Cadence,
		Timeout: req.Timeout,
		Task: func(taskCtx context.Context) error {
			_, err := ss.devices.ExecuteOperation(taskCtx, deviceID, &op)
			return err
		},
	})
	if err != nil {
		return nil, err
	}

	ss.mu.Lock()
	ss.meta[id] = &jobMeta{DeviceID: deviceID, Operation: op}
	ss.mu.Unlock()

	ss.logger.Info("Job created",
		zap.String("job_id", id.String()),
		zap.String("device_id", deviceID.String()),
		zap.String("operation", string(op.Type)),
	)
	return ss.GetJob(ctx, id)
}

// GetJob returns one job with its target device and operation
func (ss *ScheduleService) GetJob(ctx context.Context, id uuid.UUID) (*JobView, error) {
	snap, err := ss.scheduler.Get(id)
	if err != nil {
		return nil, err
	}
	return ss.view(snap), nil
}

// ListJobs returns all jobs, ordered by ID
func (ss *ScheduleService) ListJobs(ctx context.Context) []*JobView {
	snaps := ss.scheduler.List()
	out := make([]*JobView, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, ss.view(snap))
	}
	return out
}

// CancelJob stops a job from firing again. An in-flight run finishes.
func (ss *ScheduleService) CancelJob(ctx context.Context, id uuid.UUID) error {
	return ss.scheduler.Cancel(id)
}

// DeleteJob cancels a job and removes it entirely
func (ss *ScheduleService) DeleteJob(ctx context.Context, id uuid.UUID) error {
	if err := ss.scheduler.Unregister(id); err != nil {
		return err
	}
	ss.mu.Lock()
	delete(ss.meta, id)
	ss.mu.Unlock()
	return nil
}

// ListRuns returns recent run history for one job. Requires the
// database.
func (ss *ScheduleService) ListRuns(ctx context.Context, jobID uuid.UUID, limit int) ([]*model.JobRun, error) {
	if ss.runs == nil {
		return nil, fmt.Errorf("run history requires the database to be enabled")
	}
	return ss.runs.ListByJob(ctx, jobID, limit)
}

// ListRecentRuns returns the latest runs across all jobs. Requires the
// database.
func (ss *ScheduleService) ListRecentRuns(ctx context.Context, limit int) ([]*model.JobRun, error) {
	if ss.runs == nil {
		return nil, fmt.Errorf("run history requires the database to be enabled")
	}
	return ss.runs.ListRecent(ctx, limit)
}

func (ss *ScheduleService) view(snap scheduler.Snapshot) *JobView {
	v := &JobView{Snapshot: snap}
	ss.mu.RLock()
	if m, ok := ss.meta[snap.ID]; ok {
		v.DeviceID = m.DeviceID
		v.Operation = m.Operation
	}
	ss.mu.RUnlock()
	return v
}

// onSchedulerEvent fans job lifecycle events out to the event bus and
// queues finished runs for persistence. It runs on scheduler
// goroutines and must not block.
func (ss *ScheduleService) onSchedulerEvent(ev scheduler.Event) {
	data := map[string]interface{}{
		"job_id":   ev.JobID.String(),
		"job_name": ev.JobName,
	}
	if !ev.ScheduledAt.IsZero() {
		data["scheduled_at"] = ev.ScheduledAt
	}
	if ev.Duration > 0 {
		data["duration_ms"] = ev.Duration.Milliseconds()
	}
	if ev.Err != "" {
		data["error"] = ev.Err
	}
	ss.events.Publish(eventbus.Event{
		Type:   string(ev.Type),
		Source: "scheduler",
		Data:   data,
	})

	if ss.runs == nil {
		return
	}
	if ev.Type != scheduler.EventJobCompleted && ev.Type != scheduler.EventJobFailed {
		return
	}

	completed := ev.StartedAt.Add(ev.Duration)
	durationMs := int(ev.Duration.Milliseconds())
	run := &model.JobRun{
		JobID:       ev.JobID,
		JobName:     ev.JobName,
		ScheduledAt: ev.ScheduledAt,
		StartedAt:   ev.StartedAt,
		CompletedAt: &completed,
		DurationMs:  &durationMs,
		Success:     ev.Type == scheduler.EventJobCompleted,
	}
	if ev.Err != "" {
		msg := ev.Err
		run.ErrorMessage = &msg
	}

	select {
	case ss.records <- run:
	default:
		ss.logger.Warn("Run record buffer full, dropping record",
			zap.String("job_id", ev.JobID.String()),
		)
	}
}

func (ss *ScheduleService) runWriter(ctx context.Context) {
	defer ss.wg.Done()

	for {
		select {
		case run := <-ss.records:
			writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := ss.runs.Create(writeCtx, run); err != nil {
				ss.logger.Error("Failed to persist job run",
					zap.String("job_id", run.JobID.String()),
					zap.Error(err),
				)
			}
			cancel()
		case <-ss.done:
			// drain what the scheduler already handed over
			for {
				select {
				case run := <-ss.records:
					writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					if err := ss.runs.Create(writeCtx, run); err != nil {
						ss.logger.Error("Failed to persist job run",
							zap.String("job_id", run.JobID.String()),
							zap.Error(err),
						)
					}
					cancel()
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// retentionLoop prunes run history older than the configured retention
// once an hour
func (ss *ScheduleService) retentionLoop(ctx context.Context) {
	defer ss.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-ss.cfg.Database.RunRetention)
			pruneCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := ss.runs.DeleteOldRuns(pruneCtx, cutoff); err != nil {
				ss.logger.Error("Run retention sweep failed", zap.Error(err))
			}
			cancel()
		case <-ss.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
