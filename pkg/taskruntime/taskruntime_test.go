package taskruntime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsTaskToCompletion(t *testing.T) {
	rt := New(2)
	defer rt.Stop(true)

	h := rt.Submit(func(ctx context.Context, emit func(Event)) error {
		emit(Event{Kind: "status", Payload: "starting"})
		emit(Event{Kind: "turn-complete", Payload: "done"})
		return nil
	})

	var kinds []string
	for e := range h.Events() {
		kinds = append(kinds, e.Kind)
	}
	if err := h.Await(); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != "status" || kinds[1] != "turn-complete" {
		t.Errorf("unexpected event sequence: %v", kinds)
	}
}

func TestAwaitReturnsTaskError(t *testing.T) {
	rt := New(2)
	defer rt.Stop(true)

	wantErr := errors.New("boom")
	h := rt.Submit(func(ctx context.Context, emit func(Event)) error {
		return wantErr
	})
	if err := h.Await(); !errors.Is(err, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
}

func TestCancelStopsTaskPromptly(t *testing.T) {
	rt := New(2)
	defer rt.Stop(true)

	started := make(chan struct{})
	h := rt.Submit(func(ctx context.Context, emit func(Event)) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	h.Cancel()
	h.Cancel() // idempotent

	select {
	case <-time.After(time.Second):
		t.Fatal("expected task to observe cancellation within one second")
	case <-h.events:
		// events channel closes once finish() runs; draining is fine
	}
	if err := h.Await(); err == nil {
		t.Error("expected context-cancelled error from Await")
	}
}

func TestBoundedPoolLimitsConcurrency(t *testing.T) {
	rt := New(2)
	defer rt.Stop(true)

	var running int32
	var maxRunning int32
	var mu sync.Mutex
	release := make(chan struct{})

	var handles []*Handle
	for i := 0; i < 5; i++ {
		h := rt.Submit(func(ctx context.Context, emit func(Event)) error {
			n := atomic.AddInt32(&running, 1)
			mu.Lock()
			if n > maxRunning {
				maxRunning = n
			}
			mu.Unlock()
			<-release
			atomic.AddInt32(&running, -1)
			return nil
		})
		handles = append(handles, h)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	for _, h := range handles {
		_ = h.Await()
	}

	mu.Lock()
	defer mu.Unlock()
	if maxRunning > 2 {
		t.Errorf("expected at most 2 concurrent tasks, saw %d", maxRunning)
	}
}

func TestStopWithoutWaitCancelsInFlightTasks(t *testing.T) {
	rt := New(2)

	started := make(chan struct{})
	h := rt.Submit(func(ctx context.Context, emit func(Event)) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	rt.Stop(false)

	select {
	case <-time.After(time.Second):
		t.Fatal("expected Stop(false) to cancel the in-flight task")
	default:
	}
	if err := h.Await(); err == nil {
		t.Error("expected in-flight task to observe cancellation")
	}
}

func TestStopWithWaitDrainsRunningTasks(t *testing.T) {
	rt := New(2)

	finished := make(chan struct{})
	rt.Submit(func(ctx context.Context, emit func(Event)) error {
		time.Sleep(30 * time.Millisecond)
		close(finished)
		return nil
	})

	rt.Stop(true)
	select {
	case <-finished:
	default:
		t.Error("expected Stop(true) to have drained the running task")
	}
}
