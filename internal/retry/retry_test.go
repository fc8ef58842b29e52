package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestDo_Success(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), DefaultPolicy(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1 and 1", attempts, calls)
	}
}

func TestDo_RetryThenSuccess(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary error")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDo_MaxAttempts(t *testing.T) {
	sentinel := errors.New("still failing")
	attempts, err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDo_Permanent(t *testing.T) {
	sentinel := errors.New("bad request")
	attempts, err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		return Permanent(sentinel)
	})
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
	if err != sentinel {
		t.Errorf("err = %v, want the unwrapped cause", err)
	}
}

func TestDo_RetryableClassifier(t *testing.T) {
	transient := errors.New("503")
	p := fastPolicy(4)
	p.Retryable = func(err error) bool { return errors.Is(err, transient) }

	calls := 0
	_, _ = Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls == 1 {
			return transient
		}
		return errors.New("400")
	})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	attempts, err := Do(ctx, fastPolicy(3), func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if attempts != 0 || calls != 0 {
		t.Errorf("attempts = %d, calls = %d, want 0", attempts, calls)
	}
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Errorf("DoValue() = %q, %v", v, err)
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 50 * time.Millisecond},
		{10, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
