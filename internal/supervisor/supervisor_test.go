package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunCancelsPeersOnFatalError(t *testing.T) {
	boom := errors.New("boom")
	var secondSawCancel bool

	s := New(
		Task{Name: "first", Run: func(ctx context.Context) error {
			return boom
		}},
		Task{Name: "second", Run: func(ctx context.Context) error {
			<-ctx.Done()
			secondSawCancel = true
			return ctx.Err()
		}},
	)

	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("expected error from first task")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if !secondSawCancel {
		t.Fatal("second task should have observed cancellation")
	}
}

func TestRunReturnsNilOnCleanExit(t *testing.T) {
	s := New(
		Task{Name: "a", Run: func(ctx context.Context) error { return nil }},
		Task{Name: "b", Run: func(ctx context.Context) error { return nil }},
	)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestRunStopsOnExternalCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(
		Task{Name: "a", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("expected nil on cancellation, got %v", err)
	}
}
