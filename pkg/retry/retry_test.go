package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/NoneadChina/dialoguecore/pkg/llm/errkind"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errkind.New(errkind.TransientNetwork, "boom", nil)
		}
		return nil
	}, cfg, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	cfg := Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	wantErr := errkind.New(errkind.RateLimited, "still limited", nil)
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	}, cfg, nil)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDoDoesNotRetryFatalErrors(t *testing.T) {
	cfg := DefaultConfig()
	calls := 0
	wantErr := errkind.New(errkind.BadRequest, "nope", nil)
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	}, cfg, nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected fatal error to propagate unchanged, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call for a fatal error, got %d", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	cfg := Config{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, func(ctx context.Context) error {
		calls++
		return errkind.New(errkind.TransientNetwork, "boom", nil)
	}, cfg, nil)
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
	if calls == 0 {
		t.Error("expected at least one attempt before cancellation")
	}
}

func TestDoCustomClassifierOverridesDefault(t *testing.T) {
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	alwaysRetry := func(err error) bool { return true }
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errkind.New(errkind.BadRequest, "would normally be fatal", nil)
		}
		return nil
	}, cfg, alwaysRetry)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls with custom classifier, got %d", calls)
	}
}

func TestJitterBackOffNeverExceedsMaxDelay(t *testing.T) {
	cfg := Config{MaxAttempts: 20, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	b := &jitterBackOff{cfg: cfg}
	for i := 0; i < 10; i++ {
		d := b.NextBackOff()
		if d == backoff.Stop {
			break
		}
		if d > cfg.MaxDelay {
			t.Errorf("attempt %d: delay %v exceeds max %v", i, d, cfg.MaxDelay)
		}
	}
}

func TestJitterBackOffIsAlwaysIncreasing(t *testing.T) {
	cfg := Config{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Hour}
	b := &jitterBackOff{cfg: cfg}
	prev := time.Duration(0)
	for i := 0; i < 4; i++ {
		d := b.NextBackOff()
		if d <= prev {
			t.Errorf("attempt %d: delay %v did not increase from %v", i, d, prev)
		}
		prev = d
	}
}
