package gather

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSchedulerInvalidSpec(t *testing.T) {
	_, err := NewScheduler(context.Background(), "not a cron spec", func(context.Context) error { return nil }, nil)
	if err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestSchedulerNext(t *testing.T) {
	s, err := NewScheduler(context.Background(), DefaultSchedule, func(context.Context) error { return nil }, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	et, _ := time.LoadLocation("America/New_York")

	// Friday evening after the run: next pass is Monday.
	got := s.Next(time.Date(2024, 1, 5, 21, 0, 0, 0, et))
	want := time.Date(2024, 1, 8, 20, 10, 0, 0, et)
	if !got.Equal(want) {
		t.Errorf("Next(Fri 21:00) = %v, want %v", got, want)
	}

	// Same day, before the run.
	got = s.Next(time.Date(2024, 1, 3, 12, 0, 0, 0, et))
	want = time.Date(2024, 1, 3, 20, 10, 0, 0, et)
	if !got.Equal(want) {
		t.Errorf("Next(Wed 12:00) = %v, want %v", got, want)
	}
}

func TestSchedulerRunNow(t *testing.T) {
	calls := 0
	s, err := NewScheduler(context.Background(), "@daily", func(context.Context) error {
		calls++
		return errors.New("fetch failed")
	}, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.RunNow()
	s.RunNow()
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestSchedulerSkipsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	s, err := NewScheduler(ctx, "@daily", func(context.Context) error {
		calls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	cancel()
	s.RunNow()
	if calls != 0 {
		t.Errorf("calls = %d, want 0 after cancel", calls)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s, err := NewScheduler(context.Background(), "@daily", func(context.Context) error { return nil }, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}
