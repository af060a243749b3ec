package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartAndWait_AllJobsFinish(t *testing.T) {
	m := NewManager()
	var ran atomic.Int32
	m.AddRun("a", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})
	m.AddRun("b", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})

	if err := m.StartAndWait(context.Background()); err != nil {
		t.Fatalf("StartAndWait failed: %v", err)
	}
	if ran.Load() != 2 {
		t.Fatalf("expected both jobs to run, got %d", ran.Load())
	}
}

func TestStartAndWait_JobFailureCancelsPeers(t *testing.T) {
	m := NewManager()
	boom := errors.New("boom")
	peerCancelled := make(chan struct{})

	m.AddRun("failing", func(ctx context.Context) error {
		return boom
	})
	m.AddRun("peer", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			close(peerCancelled)
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return errors.New("peer never cancelled")
		}
	})

	err := m.StartAndWait(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected job error surfaced, got %v", err)
	}
	select {
	case <-peerCancelled:
	default:
		t.Fatal("expected peer job cancelled on failure")
	}
}

func TestStartAndWait_ParentCancelStopsJobs(t *testing.T) {
	m := NewManager()
	m.AddRun("blocker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := m.StartAndWait(ctx); err != nil {
		t.Fatalf("cancellation must not surface as an error, got %v", err)
	}
}

func TestStartAndWait_ShutdownJobsRunInOrderAfterRuns(t *testing.T) {
	m := NewManager()
	var order []string
	m.AddRun("run", func(ctx context.Context) error {
		return nil
	})
	m.AddShutdown("first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	})
	m.AddShutdown("second", func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	})

	if err := m.StartAndWait(context.Background()); err != nil {
		t.Fatalf("StartAndWait failed: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("unexpected shutdown order: %v", order)
	}
}

func TestStartAndWait_ShutdownErrorsJoined(t *testing.T) {
	m := NewManager()
	runErr := errors.New("run failed")
	downErr := errors.New("shutdown failed")
	m.AddRun("run", func(ctx context.Context) error { return runErr })
	m.AddShutdown("down", func(ctx context.Context) error { return downErr })

	err := m.StartAndWait(context.Background())
	if !errors.Is(err, runErr) || !errors.Is(err, downErr) {
		t.Fatalf("expected both errors joined, got %v", err)
	}
}
