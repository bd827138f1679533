package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perfusion-service/internal/eventbus"
	"perfusion-service/internal/model"
	"perfusion-service/internal/repository"
	"perfusion-service/internal/scheduler"
)

type fakeRunRepo struct {
	mu   sync.Mutex
	runs []*model.JobRun
}

func (f *fakeRunRepo) Create(ctx context.Context, run *model.JobRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRunRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.JobRun, error) {
	return nil, nil
}

func (f *fakeRunRepo) ListByJob(ctx context.Context, jobID uuid.UUID, limit int) ([]*model.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.JobRun
	for _, r := range f.runs {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRunRepo) ListRecent(ctx context.Context, limit int) ([]*model.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.JobRun(nil), f.runs...), nil
}

func (f *fakeRunRepo) CountFailures(ctx context.Context, jobID uuid.UUID, since time.Time) (int, error) {
	return 0, nil
}

func (f *fakeRunRepo) DeleteOldRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeRunRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func newTestScheduleService(t *testing.T, runs repository.RunRepository) (*ScheduleService, *DeviceService) {
	t.Helper()
	logger := zap.NewNop()
	devices := newTestDeviceService(t)
	sched := scheduler.New(scheduler.Config{
		Tick:           5 * time.Millisecond,
		DefaultTimeout: time.Second,
	}, logger)
	bus := eventbus.New(logger)
	go bus.Start()
	t.Cleanup(bus.Stop)

	cfg := testConfig()
	ss := NewScheduleService(sched, devices, bus, runs, cfg, logger)
	return ss, devices
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestCreateJobRequiresKnownDevice(t *testing.T) {
	ss, _ := newTestScheduleService(t, nil)

	_, err := ss.CreateJob(context.Background(), &ScheduleJobRequest{
		Name:      "phantom",
		DeviceID:  uuid.New(),
		Operation: model.Operation{Type: model.OperationTypePing},
		Cadence:   model.Cadence{Kind: model.CadenceInterval, Every: 10 * time.Millisecond},
	})
	if err == nil {
		t.Fatal("expected error for unknown device")
	}
}

func TestJobCarriesDeviceAndOperation(t *testing.T) {
	ss, devices := newTestScheduleService(t, nil)

	dev, err := devices.RegisterDevice(context.Background(), &RegisterDeviceRequest{
		Name: "pump",
		Kind: model.DeviceKindRegloDigital,
		Port: "/dev/ttyUSB0",
	})
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	job, err := ss.CreateJob(context.Background(), &ScheduleJobRequest{
		Name:      "hourly flush",
		DeviceID:  dev.ID,
		Operation: model.Operation{Type: model.OperationTypeStartPump},
		Cadence:   model.Cadence{Kind: model.CadenceInterval, Every: time.Hour},
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if job.DeviceID != dev.ID {
		t.Fatalf("job device = %s, want %s", job.DeviceID, dev.ID)
	}
	if job.Operation.Type != model.OperationTypeStartPump {
		t.Fatalf("job operation = %s", job.Operation.Type)
	}

	listed := ss.ListJobs(context.Background())
	if len(listed) != 1 || listed[0].ID != job.ID {
		t.Fatalf("ListJobs = %v", listed)
	}
}

func TestJobAgainstDisconnectedDeviceFails(t *testing.T) {
	ss, devices := newTestScheduleService(t, nil)

	dev, err := devices.RegisterDevice(context.Background(), &RegisterDeviceRequest{
		Name: "pump",
		Kind: model.DeviceKindRegloDigital,
		Port: "/dev/ttyUSB0",
	})
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	if err := ss.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ss.Stop()

	job, err := ss.CreateJob(context.Background(), &ScheduleJobRequest{
		Name:      "doomed",
		DeviceID:  dev.ID,
		Operation: model.Operation{Type: model.OperationTypePing},
		Cadence:   model.Cadence{Kind: model.CadenceOneShot, Delay: 10 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	waitUntil(t, time.Second, func() bool {
		view, err := ss.GetJob(context.Background(), job.ID)
		return err == nil && view.State == model.JobStateFailed
	})

	view, _ := ss.GetJob(context.Background(), job.ID)
	if view.LastError == "" {
		t.Fatal("failed job has no last error")
	}
}

func TestFinishedRunsArePersisted(t *testing.T) {
	repo := &fakeRunRepo{}
	ss, devices := newTestScheduleService(t, repo)

	dev, err := devices.RegisterDevice(context.Background(), &RegisterDeviceRequest{
		Name: "pump",
		Kind: model.DeviceKindRegloDigital,
		Port: "/dev/ttyUSB0",
	})
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	if err := ss.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job, err := ss.CreateJob(context.Background(), &ScheduleJobRequest{
		Name:      "audited",
		DeviceID:  dev.ID,
		Operation: model.Operation{Type: model.OperationTypePing},
		Cadence:   model.Cadence{Kind: model.CadenceOneShot, Delay: 10 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return repo.count() >= 1 })
	ss.Stop()

	runs, err := repo.ListByJob(context.Background(), job.ID, 10)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Success {
		t.Fatal("run against disconnected device recorded as success")
	}
	if runs[0].ErrorMessage == nil || *runs[0].ErrorMessage == "" {
		t.Fatal("failed run has no error message")
	}
}

func TestRunHistoryUnavailableWithoutDatabase(t *testing.T) {
	ss, _ := newTestScheduleService(t, nil)

	if _, err := ss.ListRuns(context.Background(), uuid.New(), 10); err == nil {
		t.Fatal("ListRuns: expected error without database")
	}
	if _, err := ss.ListRecentRuns(context.Background(), 10); err == nil {
		t.Fatal("ListRecentRuns: expected error without database")
	}
}

func TestDeleteJobRemovesIt(t *testing.T) {
	ss, devices := newTestScheduleService(t, nil)

	dev, err := devices.RegisterDevice(context.Background(), &RegisterDeviceRequest{
		Name: "pump",
		Kind: model.DeviceKindRegloICC,
		Port: "/dev/ttyUSB0",
	})
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	job, err := ss.CreateJob(context.Background(), &ScheduleJobRequest{
		DeviceID:  dev.ID,
		Operation: model.Operation{Type: model.OperationTypePing},
		Cadence:   model.Cadence{Kind: model.CadenceInterval, Every: time.Hour},
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := ss.DeleteJob(context.Background(), job.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := ss.GetJob(context.Background(), job.ID); err == nil {
		t.Fatal("job still present after delete")
	}
}
