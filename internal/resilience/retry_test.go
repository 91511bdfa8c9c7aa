package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
		Multiplier: 2,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	out := Do(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	}, fastConfig())

	if !out.Success() {
		t.Fatalf("unexpected failure: %v", out.Err)
	}
	if calls != 1 || out.Attempts != 1 {
		t.Errorf("calls = %d, attempts = %d, want 1, 1", calls, out.Attempts)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	out := Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("connection reset by peer")
	}, fastConfig())

	if out.Success() {
		t.Fatal("expected failure")
	}
	// maxRetries=3 means exactly 4 attempts total.
	if calls != 4 || out.Attempts != 4 {
		t.Errorf("calls = %d, attempts = %d, want 4, 4", calls, out.Attempts)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	out := Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("row violates check constraint")
	}, fastConfig())

	if out.Success() {
		t.Fatal("expected failure")
	}
	if calls != 1 || out.Attempts != 1 {
		t.Errorf("calls = %d, attempts = %d, want 1, 1", calls, out.Attempts)
	}
}

func TestDoRecoversMidway(t *testing.T) {
	calls := 0
	out := Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("timeout waiting for response")
		}
		return nil
	}, fastConfig())

	if !out.Success() {
		t.Fatalf("unexpected failure: %v", out.Err)
	}
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", out.Attempts)
	}
}

func TestDoRetryableMatchIsCaseInsensitive(t *testing.T) {
	calls := 0
	cfg := fastConfig()
	cfg.RetryableErrors = []string{"RATE LIMIT"}
	Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("Rate Limit exceeded")
	}, cfg)

	if calls != 4 {
		t.Errorf("calls = %d, want 4 (keyword should match case-insensitively)", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := fastConfig()
	cfg.BaseDelay = time.Hour // would hang without cancellation

	done := make(chan Outcome, 1)
	go func() {
		done <- Do(ctx, "op", func(context.Context) error {
			calls++
			return errors.New("timeout")
		}, cfg)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case out := <-done:
		if !errors.Is(out.Err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", out.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestRetryableWrapper(t *testing.T) {
	calls := 0
	wrapped := Retryable("op", func(context.Context) error {
		calls++
		return errors.New("network unreachable")
	}, fastConfig())

	err := wrapped(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreakers()

	for i := 0; i < 4; i++ {
		b.RecordFailure("push", DefaultThreshold)
	}
	if st := b.Check("push", DefaultThreshold, DefaultResetAfter); st.Open {
		t.Fatal("breaker open below threshold")
	}

	b.RecordFailure("push", DefaultThreshold)
	st := b.Check("push", DefaultThreshold, DefaultResetAfter)
	if !st.Open || st.CanRetry {
		t.Errorf("status = %+v, want open and not retryable", st)
	}
}

func TestBreakerHalfOpenAfterCoolDown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreakersWithClock(func() time.Time { return now })

	for i := 0; i < DefaultThreshold; i++ {
		b.RecordFailure("push", DefaultThreshold)
	}

	now = now.Add(29 * time.Second)
	if st := b.Check("push", DefaultThreshold, 30*time.Second); st.CanRetry {
		t.Error("probe allowed before cool-down elapsed")
	}

	now = now.Add(2 * time.Second)
	st := b.Check("push", DefaultThreshold, 30*time.Second)
	if !st.Open || !st.CanRetry {
		t.Errorf("status = %+v, want half-open (open, retryable)", st)
	}
}

func TestBreakerSuccessClearsState(t *testing.T) {
	b := NewBreakers()
	for i := 0; i < DefaultThreshold; i++ {
		b.RecordFailure("push", DefaultThreshold)
	}
	b.RecordSuccess("push")

	st := b.Check("push", DefaultThreshold, DefaultResetAfter)
	if st.Open || !st.CanRetry {
		t.Errorf("status = %+v, want closed after success", st)
	}
}

func TestBreakersAreIndependentByName(t *testing.T) {
	b := NewBreakers()
	for i := 0; i < DefaultThreshold; i++ {
		b.RecordFailure("insert", DefaultThreshold)
	}
	if st := b.Check("upload", DefaultThreshold, DefaultResetAfter); st.Open {
		t.Error("failures on one operation opened another operation's breaker")
	}
}
