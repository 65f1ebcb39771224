package daemon

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	schedule, err := ParseCron("@every 10m")
	if err != nil {
		t.Fatalf("failed to parse cron expression: %v", err)
	}

	now := time.Now()
	next1 := schedule.Next(now)
	next2 := schedule.Next(next1)
	if !next2.After(next1) {
		t.Fatalf("expected next2 to be after next1, got next1=%v next2=%v", next1, next2)
	}

	for _, expr := range []string{"0 10 * * 0", "30 0 10 * * 1-5", "@daily"} {
		if _, err := ParseCron(expr); err != nil {
			t.Fatalf("ParseCron(%q) returned error: %v", expr, err)
		}
	}

	if _, err := ParseCron("every tuesday"); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}

func TestSchedulerScheduleStatus(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil, nil)

	if err := s.Schedule("@every 1m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	next, running := s.Status()
	if running {
		t.Fatalf("scheduler should not be running")
	}
	if next.IsZero() {
		t.Fatalf("next run should be set after scheduling")
	}

	runs := s.NextRuns(3)
	if len(runs) != 3 {
		t.Fatalf("expected 3 next runs, got %d", len(runs))
	}
	if !runs[0].Equal(next) || runs[2].Sub(runs[1]) != time.Minute {
		t.Fatalf("unexpected next runs: %v", runs)
	}

	s.Clear()
	if next, _ := s.Status(); !next.IsZero() {
		t.Fatalf("expected no next run after Clear, got %v", next)
	}
	if runs := s.NextRuns(3); runs != nil {
		t.Fatalf("expected no next runs after Clear, got %v", runs)
	}
	if err := s.Skip(); !errors.Is(err, ErrNoSchedule) {
		t.Fatalf("expected ErrNoSchedule, got %v", err)
	}
}

func TestSchedulerSkip(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil, nil)
	if err := s.Schedule("@every 10m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	orig, _ := s.Status()
	if orig.IsZero() {
		t.Fatalf("expected next run after scheduling")
	}

	s.Start()
	defer s.Stop()

	if err := s.Skip(); err != nil {
		t.Fatalf("Skip returned error: %v", err)
	}
	skipped, _ := s.Status()
	if !skipped.After(orig) {
		t.Fatalf("expected skip to move schedule forward, got %v <= %v", skipped, orig)
	}
}

func TestSchedulerPostpone(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil, nil)
	if err := s.Postpone(time.Minute); !errors.Is(err, ErrNoSchedule) {
		t.Fatalf("expected ErrNoSchedule, got %v", err)
	}

	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	s.Start()
	defer s.Stop()

	orig, _ := s.Status()

	if err := s.Postpone(-time.Minute); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule for negative duration, got %v", err)
	}
	if err := s.Postpone(2 * time.Hour); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule for postponing past the following run, got %v", err)
	}
	if err := s.Postpone(10 * time.Minute); err != nil {
		t.Fatalf("Postpone returned error: %v", err)
	}

	next, _ := s.Status()
	if want := orig.Add(10 * time.Minute).Truncate(time.Second); !next.Equal(want) {
		t.Fatalf("expected next run %v, got %v", want, next)
	}
}

func TestSchedulerRunCycle(t *testing.T) {
	notifyCh := make(chan time.Time, 1)
	taskCh := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	var preChecks int32

	task := func() error {
		taskCh <- struct{}{}
		return nil
	}

	preCheck := func() error {
		atomic.AddInt32(&preChecks, 1)
		return nil
	}

	beforeRun := func(at time.Time) {
		notifyCh <- at
	}

	onError := func(err error) {
		errCh <- err
	}

	s := NewScheduler(task, preCheck, beforeRun, onError)
	if err := s.Schedule("@every 1s"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	forcedNext := time.Now().Add(50 * time.Millisecond)
	s.mu.Lock()
	s.nextRun = forcedNext
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case at := <-notifyCh:
		if !at.Equal(forcedNext) {
			t.Fatalf("expected notification for %v, got %v", forcedNext, at)
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive before-run notification in time")
	}

	select {
	case <-taskCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not execute in time")
	}

	if atomic.LoadInt32(&preChecks) == 0 {
		t.Fatalf("precheck should have been executed")
	}

	select {
	case err := <-errCh:
		t.Fatalf("unexpected error callback: %v", err)
	default:
	}
}

func TestSchedulerPreCheckFailure(t *testing.T) {
	taskCh := make(chan struct{}, 1)
	errCh := make(chan error, 2)

	task := func() error {
		taskCh <- struct{}{}
		return nil
	}

	preCheck := func() error {
		return errors.New("experiment running")
	}

	onError := func(err error) {
		errCh <- err
	}

	s := NewScheduler(task, preCheck, nil, onError)
	if err := s.Schedule("@every 1s"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	s.mu.Lock()
	s.nextRun = time.Now().Add(50 * time.Millisecond)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatalf("expected error callback from failed precheck")
	}

	select {
	case <-taskCh:
		t.Fatalf("task should not execute when precheck fails")
	default:
	}
}
