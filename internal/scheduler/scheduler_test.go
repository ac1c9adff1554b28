package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSchedulerTicksRegisteredTask(t *testing.T) {
	s := New(zap.NewNop(), DefaultPoolConfig("test"))
	var calls int64

	if err := s.Register(RegisteredTask{
		ID:         "sample",
		IntervalMs: 20,
		Fn: func(ctx context.Context) error {
			atomic.AddInt64(&calls, 1)
			return nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s.Start()
	time.Sleep(110 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if atomic.LoadInt64(&calls) < 2 {
		t.Fatalf("expected at least 2 ticks, got %d", calls)
	}
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	s := New(zap.NewNop(), DefaultPoolConfig("test"))
	var concurrent, maxConcurrent int64

	if err := s.Register(RegisteredTask{
		ID:         "slow",
		IntervalMs: 10,
		Fn: func(ctx context.Context) error {
			n := atomic.AddInt64(&concurrent, 1)
			if n > atomic.LoadInt64(&maxConcurrent) {
				atomic.StoreInt64(&maxConcurrent, n)
			}
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt64(&concurrent, -1)
			return nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s.Start()
	time.Sleep(150 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if atomic.LoadInt64(&maxConcurrent) > 1 {
		t.Fatalf("expected at most 1 concurrent run, saw %d", maxConcurrent)
	}
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	s := New(zap.NewNop(), DefaultPoolConfig("test"))
	task := RegisteredTask{ID: "dup", IntervalMs: 100, Fn: func(ctx context.Context) error { return nil }}
	if err := s.Register(task); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(task); err == nil {
		t.Fatal("expected error registering duplicate task ID")
	}
}

func TestRegisterRejectsNonPositiveInterval(t *testing.T) {
	s := New(zap.NewNop(), DefaultPoolConfig("test"))
	err := s.Register(RegisteredTask{ID: "bad", IntervalMs: 0, Fn: func(ctx context.Context) error { return nil }})
	if err == nil {
		t.Fatal("expected error for non-positive interval")
	}
}
