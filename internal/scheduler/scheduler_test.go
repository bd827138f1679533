package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perfusion-service/internal/model"
)

func newTestScheduler() *Scheduler {
	return New(Config{Tick: 5 * time.Millisecond}, zap.NewNop())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestIntervalJobFiresOnCadence(t *testing.T) {
	s := newTestScheduler()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	var fires int64
	id, err := s.Register(JobSpec{
		Name:    "media-exchange",
		Cadence: model.Cadence{Kind: model.CadenceInterval, Every: 30 * time.Millisecond},
		Task: func(ctx context.Context) error {
			atomic.AddInt64(&fires, 1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	waitFor(t, time.Second, func() bool { return atomic.LoadInt64(&fires) >= 4 })

	snap, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Fired < 4 {
		t.Fatalf("Fired = %d, want >= 4", snap.Fired)
	}
	if snap.NextRun.IsZero() {
		t.Fatal("recurring job lost its next-run time")
	}
}

func TestSlowRunSkipsFiresNeverOverlaps(t *testing.T) {
	s := newTestScheduler()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	var inFlight, maxInFlight, fires int64
	id, err := s.Register(JobSpec{
		Name:    "slow-sampler",
		Cadence: model.Cadence{Kind: model.CadenceInterval, Every: 20 * time.Millisecond},
		Task: func(ctx context.Context) error {
			n := atomic.AddInt64(&inFlight, 1)
			if n > atomic.LoadInt64(&maxInFlight) {
				atomic.StoreInt64(&maxInFlight, n)
			}
			time.Sleep(70 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			atomic.AddInt64(&fires, 1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt64(&fires) >= 3 })

	if got := atomic.LoadInt64(&maxInFlight); got != 1 {
		t.Fatalf("max concurrent runs = %d, want 1 (a job must never overlap itself)", got)
	}

	snap, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Missed == 0 {
		t.Fatal("expected skipped fires for a run three times longer than its cadence")
	}
}

func TestCancelStopsFiring(t *testing.T) {
	s := newTestScheduler()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	var fires int64
	id, err := s.Register(JobSpec{
		Name:    "cancel-me",
		Cadence: model.Cadence{Kind: model.CadenceInterval, Every: 15 * time.Millisecond},
		Task: func(ctx context.Context) error {
			atomic.AddInt64(&fires, 1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	waitFor(t, time.Second, func() bool { return atomic.LoadInt64(&fires) >= 1 })
	if err := s.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	frozen := atomic.LoadInt64(&fires)
	time.Sleep(80 * time.Millisecond)
	if got := atomic.LoadInt64(&fires); got != frozen {
		t.Fatalf("fires = %d after cancel, want %d", got, frozen)
	}

	snap, _ := s.Get(id)
	if snap.State != model.JobStateCancelled {
		t.Fatalf("state = %s, want %s", snap.State, model.JobStateCancelled)
	}
	if !snap.NextRun.IsZero() {
		t.Fatal("cancelled job still has a next-run time")
	}

	// cancelling an already-terminal job is a no-op
	if err := s.Cancel(id); err != nil {
		t.Fatalf("repeat Cancel: %v", err)
	}
}

func TestFailedJobDoesNotDisturbSiblings(t *testing.T) {
	s := newTestScheduler()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	taskErr := errors.New("pump not responding")
	badID, err := s.Register(JobSpec{
		Name:    "bad",
		Cadence: model.Cadence{Kind: model.CadenceInterval, Every: 15 * time.Millisecond},
		Task: func(ctx context.Context) error {
			return taskErr
		},
	})
	if err != nil {
		t.Fatalf("Register bad: %v", err)
	}

	var goodFires int64
	goodID, err := s.Register(JobSpec{
		Name:    "good",
		Cadence: model.Cadence{Kind: model.CadenceInterval, Every: 15 * time.Millisecond},
		Task: func(ctx context.Context) error {
			atomic.AddInt64(&goodFires, 1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Register good: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		snap, err := s.Get(badID)
		return err == nil && snap.State == model.JobStateFailed
	})
	waitFor(t, time.Second, func() bool { return atomic.LoadInt64(&goodFires) >= 3 })

	bad, _ := s.Get(badID)
	if bad.Fired != 1 {
		t.Fatalf("failed job fired %d times, want 1", bad.Fired)
	}
	if bad.LastError != taskErr.Error() {
		t.Fatalf("LastError = %q, want %q", bad.LastError, taskErr.Error())
	}

	good, _ := s.Get(goodID)
	if good.State != model.JobStateScheduled && good.State != model.JobStateRunning {
		t.Fatalf("sibling state = %s after neighbor failure", good.State)
	}
}

func TestOneShotRunsOnceThenIdle(t *testing.T) {
	s := newTestScheduler()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	var fires int64
	id, err := s.Register(JobSpec{
		Name:    "prime-line",
		Cadence: model.Cadence{Kind: model.CadenceOneShot, Delay: 20 * time.Millisecond},
		Task: func(ctx context.Context) error {
			atomic.AddInt64(&fires, 1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		snap, err := s.Get(id)
		return err == nil && snap.State == model.JobStateIdle
	})

	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt64(&fires); got != 1 {
		t.Fatalf("one-shot fired %d times, want 1", got)
	}
	snap, _ := s.Get(id)
	if !snap.NextRun.IsZero() {
		t.Fatal("one-shot job still has a next-run time")
	}
}

func TestTaskTimeoutFailsJob(t *testing.T) {
	s := New(Config{Tick: 5 * time.Millisecond, DefaultTimeout: 25 * time.Millisecond}, zap.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	id, err := s.Register(JobSpec{
		Name:    "stuck",
		Cadence: model.Cadence{Kind: model.CadenceInterval, Every: 15 * time.Millisecond},
		Task: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		snap, err := s.Get(id)
		return err == nil && snap.State == model.JobStateFailed
	})
}

func TestCancelDuringRunIsTerminal(t *testing.T) {
	s := newTestScheduler()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	id, err := s.Register(JobSpec{
		Name:    "long-flush",
		Cadence: model.Cadence{Kind: model.CadenceInterval, Every: 10 * time.Millisecond},
		Task: func(ctx context.Context) error {
			once.Do(func() { close(entered) })
			<-release
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	<-entered
	if err := s.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)

	waitFor(t, time.Second, func() bool {
		snap, err := s.Get(id)
		return err == nil && snap.State == model.JobStateCancelled
	})

	time.Sleep(50 * time.Millisecond)
	snap, _ := s.Get(id)
	if snap.State != model.JobStateCancelled {
		t.Fatalf("state = %s, want %s", snap.State, model.JobStateCancelled)
	}
}

func TestNotifierSeesLifecycle(t *testing.T) {
	s := newTestScheduler()

	var mu sync.Mutex
	seen := make(map[EventType]int)
	s.SetNotifier(func(ev Event) {
		mu.Lock()
		seen[ev.Type]++
		mu.Unlock()
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if _, err := s.Register(JobSpec{
		Name:    "observed",
		Cadence: model.Cadence{Kind: model.CadenceOneShot, Delay: 10 * time.Millisecond},
		Task:    func(ctx context.Context) error { return nil },
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[EventJobStarted] >= 1 && seen[EventJobCompleted] >= 1
	})
}

func TestListOrderedByID(t *testing.T) {
	s := newTestScheduler()

	for i := 0; i < 6; i++ {
		if _, err := s.Register(JobSpec{
			Cadence: model.Cadence{Kind: model.CadenceInterval, Every: time.Hour},
			Task:    func(ctx context.Context) error { return nil },
		}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	jobs := s.List()
	if len(jobs) != 6 {
		t.Fatalf("len = %d, want 6", len(jobs))
	}
	for i := 1; i < len(jobs); i++ {
		if jobs[i-1].ID.String() >= jobs[i].ID.String() {
			t.Fatal("snapshots not ordered by ID")
		}
	}
}

func TestRegisterRejectsInvalidSpecs(t *testing.T) {
	s := newTestScheduler()

	tests := []struct {
		name string
		spec JobSpec
	}{
		{"nil task", JobSpec{Cadence: model.Cadence{Kind: model.CadenceInterval, Every: time.Second}}},
		{"zero interval", JobSpec{Cadence: model.Cadence{Kind: model.CadenceInterval}, Task: func(ctx context.Context) error { return nil }}},
		{"bad cron", JobSpec{Cadence: model.Cadence{Kind: model.CadenceCron, Spec: "not a cron"}, Task: func(ctx context.Context) error { return nil }}},
		{"unknown kind", JobSpec{Cadence: model.Cadence{Kind: "SOMETIMES"}, Task: func(ctx context.Context) error { return nil }}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Register(tt.spec); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if err := s.Cancel(uuid.New()); err == nil {
		t.Fatal("expected error cancelling unknown job")
	}
}
